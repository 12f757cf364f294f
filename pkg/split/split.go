// Package split is the episode-split reference aggregation: every episode is
// expanded into one contribution per time interval visited before tabulating.
// It produces the same occurrence-exposure table as package aggregate for
// episodes inside the break range, at O(episodes x intervals) cost instead of
// a single linear pass. It exists as the benchmark baseline and as a
// cross-validation oracle for the recursion.
package split

import (
	"fmt"
	"math"
	"sort"

	"github.com/statkit/oetab/pkg/aggregate"
	"github.com/statkit/oetab/pkg/episode"
	"github.com/statkit/oetab/pkg/interval"
)

// Build expands and tabulates, honoring the same options as aggregate.Build.
// Exposure is counted geometrically, so episodes reaching outside the break
// range contribute their in-range person-time here even though the nosplit
// recursion excludes records with out-of-range timestamps entirely; the two
// paths agree whenever all timestamps fall inside the breaks.
func Build(eps []episode.Episode, opts aggregate.Options) (*aggregate.Table, error) {
	breaks, err := interval.New(opts.Breaks)
	if err != nil {
		return nil, fmt.Errorf("split: %w", err)
	}
	if err := episode.Validate(eps); err != nil {
		return nil, fmt.Errorf("split: %w", err)
	}

	origins, dests := opts.Origins, opts.Dests
	if origins == nil || dests == nil {
		do, dd := episode.States(eps)
		if origins == nil {
			origins = do
		}
		if dests == nil {
			dests = dd
		}
	}
	// Same sorted-order normalization as the nosplit builder.
	origins = append([]string(nil), origins...)
	sort.Strings(origins)
	dests = append([]string(nil), dests...)
	sort.Strings(dests)
	origIdx := make(map[string]int, len(origins))
	for i, s := range origins {
		origIdx[s] = i
	}
	destIdx := make(map[string]int, len(dests))
	for i, s := range dests {
		destIdx[s] = i
	}

	jn := breaks.Count()
	type bucket struct {
		z, w, p, o, intra float64
		wk                []float64
	}
	cells := make([]bucket, len(origins)*jn)
	for i := range cells {
		cells[i].wk = make([]float64, len(dests))
	}
	at := func(f, j int) *bucket { return &cells[f*jn+j-1] }

	edges := breaks.Edges()
	for _, e := range eps {
		f, ok := origIdx[e.From]
		if !ok {
			continue
		}
		jIn, inOK := breaks.Index(e.Entry, opts.ClosedLeft)
		jOut, outOK := breaks.Index(e.Exit, opts.ClosedLeft)

		startJ := jIn
		if !inOK {
			if e.Entry >= edges[0] {
				continue // entered above the partition, nothing to visit
			}
			startJ = 1
		}
		endJ := jOut
		if !outOK {
			if e.Exit < edges[0] {
				continue // exited below the partition
			}
			endJ = jn
		}

		// One pass per interval visited: the expansion this package exists
		// to demonstrate.
		for j := startJ; j <= endJ; j++ {
			b := at(f, j)
			lo := math.Max(e.Entry, breaks.Start(j))
			hi := math.Min(e.Exit, breaks.End(j))
			if hi > lo {
				b.o += hi - lo
			}
			if inOK && j == jIn {
				b.z++
			}
			if outOK && j == jOut {
				b.w++
				if d, ok := destIdx[e.To]; ok {
					b.wk[d]++
				}
			}
			if e.Entry < breaks.Start(j) || math.Abs(e.Entry-breaks.Start(j)) <= opts.BoundaryTol {
				b.p++
			}
			survives := j < endJ || (!outOK && e.Exit >= breaks.End(jn))
			if survives {
				b.intra++
			}
		}
	}

	t := &aggregate.Table{Dests: append([]string(nil), dests...)}
	for f, from := range origins {
		for j := 1; j <= jn; j++ {
			b := at(f, j)
			if opts.Drop0Exp && b.o == 0 {
				continue
			}
			for d, to := range dests {
				wk := b.wk[d]
				if to == from {
					wk = b.intra
				}
				t.Rows = append(t.Rows, aggregate.Row{
					From: from, To: to, J: j,
					X: breaks.Start(j), N: breaks.Width(j),
					Z: b.z, W: b.w, P: b.p, O: b.o, Wk: wk,
				})
			}
		}
	}
	return t, nil
}
