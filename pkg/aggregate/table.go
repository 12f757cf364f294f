// Package aggregate turns unexpanded multistate episodes into
// occurrence-exposure tables: population at risk, person-time, and transition
// counts per origin state and time interval. It does so without episode
// splitting: a single tabulation pass builds three small additive summary
// tables, and a closed-form recursion over interval index reconstructs the
// risk set and exposure from them. Peak additional memory is proportional to
// states x intervals, independent of the number of input episodes.
package aggregate

import (
	"context"
	"fmt"
	"sort"

	"github.com/statkit/oetab/pkg/episode"
	"github.com/statkit/oetab/pkg/interval"
)

// Row is one long-form output row: origin, destination, interval, and the
// reconstructed quantities. Wk in the (From, To=From) row is the intrastate
// count, subjects surviving the interval boundary without changing state; all
// other rows carry the tabulated transition count.
type Row struct {
	From string
	To   string
	J    int     // interval index, from 1
	X    float64 // interval start
	N    float64 // interval width
	Z    float64 // entries in the interval
	W    float64 // exits in the interval
	P    float64 // population at risk at the interval's left edge
	O    float64 // person-time at risk within the interval
	Wk   float64 // transitions to To
}

// Table is the long-form occurrence-exposure table. Rows are ordered by
// (From, J, To); Dests lists the destination columns in their stable sorted
// order for the wide pivot.
type Table struct {
	Dests []string
	Rows  []Row
}

// WideRow carries one (origin, interval) with per-destination counts keyed by
// state label. The to_<state> column naming belongs to the serialization
// boundary, not this type.
type WideRow struct {
	From string
	J    int
	X    float64
	N    float64
	Z    float64
	W    float64
	P    float64
	O    float64
	To   map[string]float64
}

// WideTable is the pivoted layout, one row per (origin, interval).
type WideTable struct {
	Dests []string
	Rows  []WideRow
}

// Build runs the full pipeline: validate, tabulate, reconstruct, and shape
// the long-form table. Configuration and data-invariant errors abort with no
// partial output. Cancellation of ctx abandons the computation.
func Build(ctx context.Context, eps []episode.Episode, opts Options) (*Table, error) {
	breaks, err := interval.New(opts.Breaks)
	if err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}
	if err := episode.Validate(eps); err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
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
	// Declared state sets are normalized to sorted order so row ordering,
	// wide column order, and Find's binary search share one convention.
	origins = sortedSet(origins)
	dests = sortedSet(dests)

	a := newArena(breaks, origins, dests, opts)
	if err := tabulateSharded(ctx, a, eps, opts.Shards, opts); err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}
	cells, err := reconstruct(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}

	t := &Table{Dests: append([]string(nil), dests...)}
	for f, from := range origins {
		for j := 1; j <= a.j; j++ {
			c := cells[a.at(f, j)]
			if opts.Drop0Exp && c.o == 0 {
				continue
			}
			for d, to := range dests {
				wk := a.wk[a.destAt(f, d, j)]
				if to == from {
					// Intrastate substitution: survivors across the
					// boundary, not an independently counted transition.
					wk = c.i
				}
				t.Rows = append(t.Rows, Row{
					From: from, To: to, J: j,
					X: breaks.Start(j), N: breaks.Width(j),
					Z: c.z, W: c.w, P: c.p, O: c.o, Wk: wk,
				})
			}
		}
	}
	return t, nil
}

// BuildWide is Build followed by the wide pivot.
func BuildWide(ctx context.Context, eps []episode.Episode, opts Options) (*WideTable, error) {
	t, err := Build(ctx, eps, opts)
	if err != nil {
		return nil, err
	}
	return t.Pivot(), nil
}

// Pivot folds the destination rows of each (origin, interval) into a single
// wide row. The destination cross-product is complete by construction, so
// the pivot is total and the column set identical for every row.
func (t *Table) Pivot() *WideTable {
	w := &WideTable{Dests: append([]string(nil), t.Dests...)}
	var cur *WideRow
	for _, r := range t.Rows {
		if cur == nil || cur.From != r.From || cur.J != r.J {
			w.Rows = append(w.Rows, WideRow{
				From: r.From, J: r.J, X: r.X, N: r.N,
				Z: r.Z, W: r.W, P: r.P, O: r.O,
				To: make(map[string]float64, len(t.Dests)),
			})
			cur = &w.Rows[len(w.Rows)-1]
		}
		cur.To[r.To] = r.Wk
	}
	return w
}

// Unpivot restores the long form, preserving (From, J, To) order. Pivot and
// Unpivot are exact inverses on tables built by this package.
func (w *WideTable) Unpivot() *Table {
	t := &Table{Dests: append([]string(nil), w.Dests...)}
	for _, r := range w.Rows {
		for _, to := range w.Dests {
			t.Rows = append(t.Rows, Row{
				From: r.From, To: to, J: r.J, X: r.X, N: r.N,
				Z: r.Z, W: r.W, P: r.P, O: r.O, Wk: r.To[to],
			})
		}
	}
	return t
}

// Columns returns the serialization column names for a wide table:
// the fixed fields followed by one to_<state> column per destination.
func (w *WideTable) Columns() []string {
	cols := []string{"from", "j", "x", "n", "Z", "W", "P", "O"}
	for _, d := range w.Dests {
		cols = append(cols, "to_"+d)
	}
	return cols
}

func sortedSet(states []string) []string {
	out := append([]string(nil), states...)
	sort.Strings(out)
	return out
}

// Row lookup helpers used by tests and the Lexis extension.

// Find returns the wide row for (from, j), or nil.
func (w *WideTable) Find(from string, j int) *WideRow {
	i := sort.Search(len(w.Rows), func(i int) bool {
		r := w.Rows[i]
		if r.From != from {
			return r.From > from
		}
		return r.J >= j
	})
	if i < len(w.Rows) && w.Rows[i].From == from && w.Rows[i].J == j {
		return &w.Rows[i]
	}
	return nil
}
