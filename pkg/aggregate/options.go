package aggregate

// Options configures one aggregation run.
type Options struct {
	// Breaks is the strictly increasing boundary sequence partitioning the
	// time axis into intervals numbered from 1.
	Breaks []float64

	// ClosedLeft selects interval membership: true means [b_j, b_j+1),
	// false means (b_j, b_j+1] with the first interval closed at its left end.
	ClosedLeft bool

	// Drop0Exp removes output rows whose exposure is exactly zero.
	Drop0Exp bool

	// Wide records the caller's preferred layout, one to_<state> column per
	// destination state. Build always returns the long form and never reads
	// this field; rendering and persistence boundaries honor it, or callers
	// pick the layout directly via BuildWide and Table.Pivot.
	Wide bool

	// BoundaryTol widens the entry-at-interval-start test (Z0) from exact
	// float equality to |entry - start| <= BoundaryTol. Zero keeps the exact
	// comparison.
	BoundaryTol float64

	// Shards splits the tabulation pass into this many concurrently computed
	// partial tables merged by summation. Values below 2 keep the single
	// sequential pass.
	Shards int

	// Origins and Dests declare the state sets used to complete the
	// aggregates with explicit zero cells. When nil they are derived from the
	// data. Declaring them keeps output shape stable across calls on
	// different subsets of a register. Order is not significant; the builder
	// sorts both sets.
	Origins []string
	Dests   []string
}

// DefaultOptions returns the documented defaults for a break sequence:
// left-closed intervals and zero-exposure rows dropped.
func DefaultOptions(breaks []float64) Options {
	return Options{
		Breaks:     breaks,
		ClosedLeft: true,
		Drop0Exp:   true,
		Wide:       true,
	}
}
