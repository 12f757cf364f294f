package aggregate

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// cell is the reconstructed state of one (origin, interval) combination.
type cell struct {
	z, w float64 // entry and exit counts carried through for output
	p    float64 // population at risk at the exact left edge
	o    float64 // total person-time at risk within the interval
	i    float64 // subjects surviving the right boundary in the same state
}

// reconstruct runs the closed-form recursion that recovers population-at-risk
// and exposure from the summary tables alone, never revisiting episodes.
// Interval order is a strict sequential dependency within one origin state;
// parallelism is only across origin states.
func reconstruct(ctx context.Context, a *arena) ([]cell, error) {
	cells := make([]cell, len(a.origins)*a.j)
	g, _ := errgroup.WithContext(ctx)
	for f := range a.origins {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			// Ordered fold: R_1 = 0, R_{j+1} = R_j + Z_j - W_j.
			r := 0.0
			for j := 1; j <= a.j; j++ {
				c := a.at(f, j)
				z, z0, lz := a.z[c], a.z0[c], a.lz[c]
				w, lw, zw := a.w[c], a.lw[c], a.zw[c]
				n := a.breaks.Width(j)

				q := r - w + zw // present through the whole interval
				u := z - zw     // entrants that do not also exit within it
				cells[c] = cell{
					z: z,
					w: w,
					p: r + z0,
					o: q*n + (z+w-zw)*n - lz - lw,
					i: q + u,
				}
				r += z - w
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return cells, nil
}
