package aggregate

import (
	"context"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/statkit/oetab/pkg/episode"
	"github.com/statkit/oetab/pkg/interval"
)

// arena holds the three summary tables built by the single tabulation pass,
// pre-sized over the full origin x interval (x destination) cross-product so
// absent combinations are explicit zeros and downstream code never branches
// on sparsity. Cells are addressed by (originIndex, intervalIndex-1) rather
// than sparse maps.
type arena struct {
	breaks     interval.Breaks
	closedLeft bool
	tol        float64

	origins []string
	dests   []string
	origIdx map[string]int
	destIdx map[string]int
	j       int // interval count

	// Entry table: count, count exactly at interval start, total lateness.
	z, z0, lz []float64
	// Exit table: count, total earliness.
	w, lw []float64
	// Same-interval entry/exit co-occurrences.
	zw []float64
	// Destination-specific exit counts, (origin, dest, interval).
	wk []float64
}

func newArena(breaks interval.Breaks, origins, dests []string, opts Options) *arena {
	a := &arena{
		breaks:     breaks,
		closedLeft: opts.ClosedLeft,
		tol:        opts.BoundaryTol,
		origins:    origins,
		dests:      dests,
		origIdx:    make(map[string]int, len(origins)),
		destIdx:    make(map[string]int, len(dests)),
		j:          breaks.Count(),
	}
	for i, s := range origins {
		a.origIdx[s] = i
	}
	for i, s := range dests {
		a.destIdx[s] = i
	}
	n := len(origins) * a.j
	a.z = make([]float64, n)
	a.z0 = make([]float64, n)
	a.lz = make([]float64, n)
	a.w = make([]float64, n)
	a.lw = make([]float64, n)
	a.zw = make([]float64, n)
	a.wk = make([]float64, n*len(dests))
	return a
}

func (a *arena) at(orig, j int) int { return orig*a.j + j - 1 }

func (a *arena) destAt(orig, dest, j int) int {
	return (orig*len(a.dests)+dest)*a.j + j - 1
}

// tabulate scans episodes once, accumulating all summary tables. Timestamps
// outside the break range contribute to none of the tables for that field;
// the co-occurrence count additionally requires both fields in range.
func (a *arena) tabulate(eps []episode.Episode) {
	for _, e := range eps {
		f, ok := a.origIdx[e.From]
		if !ok {
			continue // undeclared origin under an explicit StateSet
		}
		jIn, inOK := a.breaks.Index(e.Entry, a.closedLeft)
		jOut, outOK := a.breaks.Index(e.Exit, a.closedLeft)

		if inOK {
			c := a.at(f, jIn)
			a.z[c]++
			start := a.breaks.Start(jIn)
			// Exact boundary equality when tol is zero.
			if math.Abs(e.Entry-start) <= a.tol {
				a.z0[c]++
			}
			a.lz[c] += e.Entry - start
		}
		if outOK {
			c := a.at(f, jOut)
			a.w[c]++
			a.lw[c] += a.breaks.End(jOut) - e.Exit
			if d, ok := a.destIdx[e.To]; ok {
				a.wk[a.destAt(f, d, jOut)]++
			}
		}
		if inOK && outOK && jIn == jOut {
			a.zw[a.at(f, jIn)]++
		}
	}
}

// merge sums another arena's tables into this one. All quantities are
// additive, which is what makes the sharded pass correct.
func (a *arena) merge(b *arena) {
	addInto(a.z, b.z)
	addInto(a.z0, b.z0)
	addInto(a.lz, b.lz)
	addInto(a.w, b.w)
	addInto(a.lw, b.lw)
	addInto(a.zw, b.zw)
	addInto(a.wk, b.wk)
}

func addInto(dst, src []float64) {
	for i, v := range src {
		dst[i] += v
	}
}

// tabulateSharded splits the episode set into shard disjoint chunks,
// tabulates each concurrently, and merges the partial arenas.
func tabulateSharded(ctx context.Context, a *arena, eps []episode.Episode, shards int, opts Options) error {
	if shards > len(eps) {
		shards = len(eps)
	}
	if shards < 2 {
		a.tabulate(eps)
		return nil
	}
	parts := make([]*arena, shards)
	g, _ := errgroup.WithContext(ctx)
	chunk := (len(eps) + shards - 1) / shards
	for s := 0; s < shards; s++ {
		lo := s * chunk
		hi := min(lo+chunk, len(eps))
		part := newArena(a.breaks, a.origins, a.dests, opts)
		parts[s] = part
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			part.tabulate(eps[lo:hi])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, p := range parts {
		a.merge(p)
	}
	return nil
}
