// Package lexis recovers per-Lexis-triangle occurrence-exposure values from
// two one-dimensional aggregations. Per birth-cohort bucket the core pipeline
// runs twice, once on the age scale and once on the period scale; the two
// resulting tables interleave into a cumulative sequence whose first
// differences are the individual triangles. Triangles are never counted
// directly.
package lexis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/statkit/oetab/pkg/aggregate"
	"github.com/statkit/oetab/pkg/episode"
)

// ErrInvalidWidth is returned for a non-positive grid width.
var ErrInvalidWidth = errors.New("grid width must be positive")

// clampTol zeroes floating-point noise left behind by the differencing step.
// Values below it, including negative ones, become exactly zero.
const clampTol = 1e-12

// Triangle is one region of the Lexis surface: the lower or upper half of an
// age-cohort cell. TriangleID alternates lower/upper within each cell,
// increasing with age; odd ids are lower triangles.
type Triangle struct {
	From       string
	Cohort     float64
	Period     float64
	Age        float64
	TriangleID int
	O          float64
	To         map[string]float64
}

// Surface is the complete synthetic Lexis surface: every (cohort, triangle)
// pair of the grids appears for every origin state, zero-filled where no
// exposure occurred. Rows are ordered by (From, Cohort, TriangleID).
type Surface struct {
	Dests     []string
	Triangles []Triangle
}

// Aggregate buckets episodes by birth cohort quantized down to a multiple of
// width, aggregates each bucket on the age and period scales, and recovers
// triangle values by first-differencing the merged cumulative sequences.
func Aggregate(ctx context.Context, eps []episode.LexisEpisode, width float64) (*Surface, error) {
	if width <= 0 {
		return nil, fmt.Errorf("lexis: width %g: %w", width, ErrInvalidWidth)
	}
	if err := episode.ValidateLexis(eps); err != nil {
		return nil, fmt.Errorf("lexis: %w", err)
	}
	if len(eps) == 0 {
		return &Surface{}, nil
	}

	grid := newGrid(eps, width)
	origins, dests := states(eps)

	// Per-cohort pipelines are independent; only the differencing needs the
	// merged, ordered result, and it stays within one cohort.
	perCohort := make([][]Triangle, len(grid.cohorts))
	g, _ := errgroup.WithContext(ctx)
	for ci := range grid.cohorts {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			tris, err := grid.cohortTriangles(ctx, ci, eps, origins, dests)
			if err != nil {
				return err
			}
			perCohort[ci] = tris
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("lexis: %w", err)
	}

	s := &Surface{Dests: dests}
	for _, tris := range perCohort {
		s.Triangles = append(s.Triangles, tris...)
	}
	sort.SliceStable(s.Triangles, func(i, k int) bool {
		a, b := s.Triangles[i], s.Triangles[k]
		if a.From != b.From {
			return a.From < b.From
		}
		if a.Cohort != b.Cohort {
			return a.Cohort < b.Cohort
		}
		return a.TriangleID < b.TriangleID
	})
	return s, nil
}

// grid holds the aligned cohort and age break grids. The period grid for a
// cohort bucket is the age grid shifted by the bucket's cohort value, which
// keeps the two cumulative tables aligned triangle for triangle.
type grid struct {
	width     float64
	cohorts   []float64 // quantized bucket values, ascending, no gaps
	ageBreaks []float64
	j         int // age intervals per cohort, 2j triangles
}

func newGrid(eps []episode.LexisEpisode, w float64) *grid {
	cMin, cMax := math.Inf(1), math.Inf(-1)
	aMin, aMax := math.Inf(1), math.Inf(-1)
	for _, e := range eps {
		cMin = math.Min(cMin, e.Cohort)
		cMax = math.Max(cMax, e.Cohort)
		aMin = math.Min(aMin, e.AgeIn)
		aMax = math.Max(aMax, e.AgeOut)
	}
	quantize := func(v float64) float64 { return math.Floor(v/w) * w }

	g := &grid{width: w}
	// Boundaries are computed as base + i*w rather than accumulated, so
	// repeated addition cannot drift the grids out of alignment.
	cLo := quantize(cMin)
	for i := 0; i <= int(math.Round((quantize(cMax)-cLo)/w)); i++ {
		g.cohorts = append(g.cohorts, cLo+float64(i)*w)
	}
	// The top boundary sits strictly above the largest exit so the exit
	// stays in range under the left-closed convention.
	aLo, aHi := quantize(aMin), quantize(aMax)+w
	for i := 0; i <= int(math.Round((aHi-aLo)/w)); i++ {
		g.ageBreaks = append(g.ageBreaks, aLo+float64(i)*w)
	}
	g.j = len(g.ageBreaks) - 1
	return g
}

// bucket returns the cohort bucket index for a cohort value. The value is
// quantized exactly the way the grid entries were, then located by rounded
// division against the first entry, so construction and lookup cannot
// disagree by an ulp for fractional widths.
func (g *grid) bucket(cohort float64) int {
	return int(math.Round((math.Floor(cohort/g.width)*g.width - g.cohorts[0]) / g.width))
}

// cohortTriangles runs the core pipeline twice for one cohort bucket and
// differences the interleaved results.
func (g *grid) cohortTriangles(ctx context.Context, ci int, all []episode.LexisEpisode, origins, dests []string) ([]Triangle, error) {
	c := g.cohorts[ci]
	var ageEps, periodEps []episode.Episode
	for _, e := range all {
		if g.bucket(e.Cohort) != ci {
			continue
		}
		ageEps = append(ageEps, episode.Episode{Entry: e.AgeIn, From: e.From, Exit: e.AgeOut, To: e.To})
		// Period times use the episode's own cohort; only the grid is
		// quantized. Periods below the bucket cannot occur.
		periodEps = append(periodEps, episode.Episode{Entry: e.Cohort + e.AgeIn, From: e.From, Exit: e.Cohort + e.AgeOut, To: e.To})
	}

	opts := aggregate.Options{
		Breaks:     g.ageBreaks,
		ClosedLeft: true,
		Drop0Exp:   false, // complete grids keep the sequences aligned
		Origins:    origins,
		Dests:      dests,
	}
	ageTab, err := aggregate.BuildWide(ctx, ageEps, opts)
	if err != nil {
		return nil, err
	}

	periodBreaks := make([]float64, len(g.ageBreaks))
	for i, a := range g.ageBreaks {
		periodBreaks[i] = c + a
	}
	opts.Breaks = periodBreaks
	periodTab, err := aggregate.BuildWide(ctx, periodEps, opts)
	if err != nil {
		return nil, err
	}

	var out []Triangle
	for _, from := range origins {
		prevO := 0.0
		prev := make(map[string]float64, len(dests))
		for t := 1; t <= 2*g.j; t++ {
			// Odd positions come from the period table, even from the age
			// table; both cover two adjacent triangles, so differencing
			// against the previous recovered value telescopes.
			var row *aggregate.WideRow
			if t%2 == 1 {
				row = periodTab.Find(from, (t+1)/2)
			} else {
				row = ageTab.Find(from, t/2)
			}
			tri := Triangle{
				From:       from,
				Cohort:     c,
				Period:     c + g.ageBreaks[t/2],
				Age:        g.ageBreaks[(t+1)/2-1],
				TriangleID: t,
				To:         make(map[string]float64, len(dests)),
			}
			tri.O = clamp(row.O - prevO)
			prevO = tri.O
			for _, d := range dests {
				v := clamp(row.To[d] - prev[d])
				tri.To[d] = v
				prev[d] = v
			}
			out = append(out, tri)
		}
	}
	return out, nil
}

func clamp(v float64) float64 {
	if v < clampTol {
		return 0
	}
	return v
}

func states(eps []episode.LexisEpisode) (origins, dests []string) {
	conv := episode.Collect(eps, func(e episode.LexisEpisode) episode.Episode {
		return episode.Episode{Entry: e.AgeIn, From: e.From, Exit: e.AgeOut, To: e.To}
	})
	return episode.States(conv)
}
