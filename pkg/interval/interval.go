// Package interval maps time values onto a discrete partition of the time
// axis. A Breaks value holds the ordered boundary sequence; Index assigns a
// value to one of the J = len(edges)-1 intervals, numbered from 1, or reports
// that the value falls outside the partition entirely.
package interval

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrInvalidBreaks is returned when a break sequence is too short or not
// strictly increasing.
var ErrInvalidBreaks = errors.New("breaks must be strictly increasing with at least two values")

// Breaks is a strictly increasing boundary sequence defining J intervals.
type Breaks struct {
	edges []float64
}

// New validates and wraps a boundary sequence. The slice is copied so later
// mutation of the argument cannot corrupt the partition.
func New(edges []float64) (Breaks, error) {
	if len(edges) < 2 {
		return Breaks{}, fmt.Errorf("interval: %d boundaries: %w", len(edges), ErrInvalidBreaks)
	}
	for i := 1; i < len(edges); i++ {
		if edges[i] <= edges[i-1] {
			return Breaks{}, fmt.Errorf("interval: boundary %d (%g) not above %g: %w",
				i, edges[i], edges[i-1], ErrInvalidBreaks)
		}
	}
	cp := make([]float64, len(edges))
	copy(cp, edges)
	return Breaks{edges: cp}, nil
}

// Count returns J, the number of intervals.
func (b Breaks) Count() int { return len(b.edges) - 1 }

// Start returns the left boundary of interval j (1-based).
func (b Breaks) Start(j int) float64 { return b.edges[j-1] }

// End returns the right boundary of interval j (1-based).
func (b Breaks) End(j int) float64 { return b.edges[j] }

// Width returns End(j) - Start(j).
func (b Breaks) Width(j int) float64 { return b.edges[j] - b.edges[j-1] }

// Edges returns the boundary sequence. Callers must not mutate it.
func (b Breaks) Edges() []float64 { return b.edges }

// Index assigns v to an interval in [1..J] via binary search over the
// boundaries. closedLeft=true means interval j is [edges[j-1], edges[j]);
// closedLeft=false means (edges[j-1], edges[j]], with the first interval
// additionally closed at its left end, so edges[0] is assignable under both
// conventions. Values outside the partition return (0, false) and are
// silently excluded by callers; boundary equality matters, so v == edges[J]
// is out of range under closedLeft but in range otherwise.
func (b Breaks) Index(v float64, closedLeft bool) (int, bool) {
	if math.IsNaN(v) {
		return 0, false
	}
	last := len(b.edges) - 1
	if closedLeft {
		if v < b.edges[0] || v >= b.edges[last] {
			return 0, false
		}
		// First boundary strictly above v; its predecessor owns v.
		i := sort.Search(len(b.edges), func(i int) bool { return b.edges[i] > v })
		return i, true
	}
	if v < b.edges[0] || v > b.edges[last] {
		return 0, false
	}
	if v == b.edges[0] {
		return 1, true
	}
	// First boundary at or above v closes the owning interval.
	i := sort.SearchFloat64s(b.edges, v)
	return i, true
}
