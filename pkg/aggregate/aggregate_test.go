package aggregate_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statkit/oetab/pkg/aggregate"
	"github.com/statkit/oetab/pkg/episode"
	"github.com/statkit/oetab/pkg/interval"
	"github.com/statkit/oetab/pkg/simulate"
)

// The worked scenario: three subjects in "alive", two destinations, two
// ten-year intervals.
func scenarioEpisodes() []episode.Episode {
	return []episode.Episode{
		{Entry: 0, From: "alive", Exit: 5, To: "dead"},
		{Entry: 0, From: "alive", Exit: 15, To: "censored"},
		{Entry: 5, From: "alive", Exit: 12, To: "dead"},
	}
}

func TestScenarioWide(t *testing.T) {
	w, err := aggregate.BuildWide(context.Background(), scenarioEpisodes(),
		aggregate.DefaultOptions([]float64{0, 10, 20}))
	require.NoError(t, err)
	require.Len(t, w.Rows, 2)

	r1 := w.Find("alive", 1)
	require.NotNil(t, r1)
	assert.Equal(t, 3.0, r1.Z)
	assert.Equal(t, 1.0, r1.W)
	assert.Equal(t, 2.0, r1.P)
	assert.InDelta(t, 20.0, r1.O, 1e-12)
	assert.Equal(t, 1.0, r1.To["dead"])
	assert.Equal(t, 0.0, r1.To["censored"])
	// Intrastate column: both survivors cross the boundary still alive.
	assert.Equal(t, 2.0, r1.To["alive"])

	r2 := w.Find("alive", 2)
	require.NotNil(t, r2)
	assert.Equal(t, 0.0, r2.Z)
	assert.Equal(t, 2.0, r2.W)
	assert.Equal(t, 2.0, r2.P)
	assert.InDelta(t, 7.0, r2.O, 1e-12)
	assert.Equal(t, 1.0, r2.To["dead"])
	assert.Equal(t, 1.0, r2.To["censored"])
	assert.Equal(t, 0.0, r2.To["alive"])
}

func TestScenarioColumns(t *testing.T) {
	w, err := aggregate.BuildWide(context.Background(), scenarioEpisodes(),
		aggregate.DefaultOptions([]float64{0, 10, 20}))
	require.NoError(t, err)
	assert.Equal(t,
		[]string{"from", "j", "x", "n", "Z", "W", "P", "O", "to_alive", "to_censored", "to_dead"},
		w.Columns())
}

func TestConfigurationErrors(t *testing.T) {
	_, err := aggregate.Build(context.Background(), scenarioEpisodes(),
		aggregate.DefaultOptions([]float64{10, 10}))
	assert.ErrorIs(t, err, interval.ErrInvalidBreaks)

	_, err = aggregate.Build(context.Background(), scenarioEpisodes(),
		aggregate.DefaultOptions(nil))
	assert.ErrorIs(t, err, interval.ErrInvalidBreaks)
}

func TestReversedEpisodeFailsFast(t *testing.T) {
	eps := []episode.Episode{{Entry: 5, From: "a", Exit: 3, To: "b"}}
	table, err := aggregate.Build(context.Background(), eps,
		aggregate.DefaultOptions([]float64{0, 10}))
	assert.ErrorIs(t, err, episode.ErrReversedEpisode)
	assert.Nil(t, table, "no partial output on a data invariant violation")
}

func TestOutOfRangeExclusion(t *testing.T) {
	opts := aggregate.DefaultOptions([]float64{0, 10})
	opts.Drop0Exp = false

	// Entry below the partition: no Z anywhere, exit still tabulated.
	w, err := aggregate.BuildWide(context.Background(),
		[]episode.Episode{{Entry: -5, From: "a", Exit: 5, To: "done"}}, opts)
	require.NoError(t, err)
	r := w.Find("a", 1)
	require.NotNil(t, r)
	assert.Equal(t, 0.0, r.Z)
	assert.Equal(t, 1.0, r.W)

	// Exit above the partition: entry tabulated, no W anywhere.
	w, err = aggregate.BuildWide(context.Background(),
		[]episode.Episode{{Entry: 0, From: "a", Exit: 15, To: "done"}}, opts)
	require.NoError(t, err)
	r = w.Find("a", 1)
	require.NotNil(t, r)
	assert.Equal(t, 1.0, r.Z)
	assert.Equal(t, 0.0, r.W)
	assert.Equal(t, 0.0, r.To["done"])
	// Survives the whole interval, so it shows up in the intrastate cell
	// and contributes full exposure.
	assert.Equal(t, 1.0, r.To["a"])
	assert.InDelta(t, 10.0, r.O, 1e-12)
}

func TestClosedRightConvention(t *testing.T) {
	opts := aggregate.DefaultOptions([]float64{0, 10, 20})
	opts.ClosedLeft = false
	opts.Drop0Exp = false

	// Entry at the shared boundary belongs to the left interval; exit at the
	// terminal boundary is in range.
	eps := []episode.Episode{{Entry: 10, From: "a", Exit: 20, To: "done"}}
	w, err := aggregate.BuildWide(context.Background(), eps, opts)
	require.NoError(t, err)

	assert.Equal(t, 1.0, w.Find("a", 1).Z)
	assert.Equal(t, 0.0, w.Find("a", 2).Z)
	assert.Equal(t, 1.0, w.Find("a", 2).W)
	assert.Equal(t, 1.0, w.Find("a", 2).To["done"])
}

func TestBoundaryToleranceForZ0(t *testing.T) {
	// Entry a hair above the boundary: P counts it only under a tolerance.
	eps := []episode.Episode{{Entry: 1e-9, From: "a", Exit: 5, To: "done"}}

	exact := aggregate.DefaultOptions([]float64{0, 10})
	w, err := aggregate.BuildWide(context.Background(), eps, exact)
	require.NoError(t, err)
	assert.Equal(t, 0.0, w.Find("a", 1).P)

	loose := exact
	loose.BoundaryTol = 1e-6
	w, err = aggregate.BuildWide(context.Background(), eps, loose)
	require.NoError(t, err)
	assert.Equal(t, 1.0, w.Find("a", 1).P)
}

func simulated(t *testing.T) []episode.Episode {
	t.Helper()
	recs, err := simulate.Register(simulate.Config{
		Subjects: 400,
		Seed:     7,
		Horizon:  20,
		States:   []string{"healthy", "ill"},
		Rates: map[string]map[string]float64{
			"healthy": {"ill": 0.2, "dead": 0.05},
			"ill":     {"healthy": 0.1, "dead": 0.2},
		},
	})
	require.NoError(t, err)
	return simulate.Episodes(recs)
}

func fullOptions() aggregate.Options {
	opts := aggregate.DefaultOptions([]float64{0, 2, 5, 9, 14, 20})
	opts.Drop0Exp = false
	return opts
}

func TestRecursionConservation(t *testing.T) {
	w, err := aggregate.BuildWide(context.Background(), simulated(t), fullOptions())
	require.NoError(t, err)

	// R_1 = 0 and R_{j+1} = R_j + Z_j - W_j; P differs from R only by the
	// entries landing exactly on the boundary.
	byState := map[string][]*aggregate.WideRow{}
	for i := range w.Rows {
		r := &w.Rows[i]
		byState[r.From] = append(byState[r.From], r)
	}
	for from, rows := range byState {
		r := 0.0
		for _, row := range rows {
			z0 := row.P - r
			assert.GreaterOrEqual(t, z0, 0.0, "%s j=%d", from, row.J)
			assert.LessOrEqual(t, z0, row.Z, "%s j=%d", from, row.J)
			r += row.Z - row.W
		}
		assert.GreaterOrEqual(t, r, 0.0, "terminal risk set for %s", from)
	}
}

func TestDestinationSumIdentity(t *testing.T) {
	w, err := aggregate.BuildWide(context.Background(), simulated(t), fullOptions())
	require.NoError(t, err)
	require.NotEmpty(t, w.Rows)

	for _, row := range w.Rows {
		sum := 0.0
		for _, d := range w.Dests {
			if d != row.From {
				sum += row.To[d]
			}
		}
		assert.InDelta(t, row.W, sum, 1e-9, "%s j=%d", row.From, row.J)
		assert.GreaterOrEqual(t, row.O, 0.0)
	}
}

func TestDrop0ExpMonotone(t *testing.T) {
	ctx := context.Background()
	eps := []episode.Episode{
		{Entry: 0, From: "a", Exit: 3, To: "done"},
		// Nothing ever enters interval 3 of the breaks below.
	}
	all := aggregate.DefaultOptions([]float64{0, 5, 10, 15})
	all.Drop0Exp = false
	kept := all
	kept.Drop0Exp = true

	full, err := aggregate.Build(ctx, eps, all)
	require.NoError(t, err)
	filtered, err := aggregate.Build(ctx, eps, kept)
	require.NoError(t, err)

	assert.Less(t, len(filtered.Rows), len(full.Rows))
	index := map[aggregate.Row]bool{}
	for _, r := range full.Rows {
		index[r] = true
	}
	for _, r := range filtered.Rows {
		assert.True(t, index[r], "filtered row %+v missing from unfiltered table", r)
	}
}

func TestPivotRoundTrip(t *testing.T) {
	long, err := aggregate.Build(context.Background(), simulated(t), fullOptions())
	require.NoError(t, err)
	assert.Equal(t, long, long.Pivot().Unpivot())
}

func TestShardedTabulationMatchesSequential(t *testing.T) {
	eps := simulated(t)
	seq := fullOptions()
	par := fullOptions()
	par.Shards = 8

	a, err := aggregate.Build(context.Background(), eps, seq)
	require.NoError(t, err)
	b, err := aggregate.Build(context.Background(), eps, par)
	require.NoError(t, err)

	// Counts are integer-valued and merge exactly; exposure sums may differ
	// by float rounding since the merge reorders additions.
	require.Len(t, b.Rows, len(a.Rows))
	for i, ra := range a.Rows {
		rb := b.Rows[i]
		assert.Equal(t, ra.From, rb.From)
		assert.Equal(t, ra.To, rb.To)
		assert.Equal(t, ra.J, rb.J)
		assert.Equal(t, ra.Z, rb.Z)
		assert.Equal(t, ra.W, rb.W)
		assert.Equal(t, ra.P, rb.P)
		assert.Equal(t, ra.Wk, rb.Wk)
		assert.InDelta(t, ra.O, rb.O, 1e-9)
	}
}

func TestDeclaredStatesCompleteTheTable(t *testing.T) {
	opts := fullOptions()
	opts.Origins = []string{"healthy", "ill", "retired"}
	opts.Dests = []string{"dead", "healthy", "ill", "retired"}

	w, err := aggregate.BuildWide(context.Background(), simulated(t), opts)
	require.NoError(t, err)

	// Every declared origin appears in every interval, zero-filled where the
	// data is silent.
	perOrigin := map[string]int{}
	for _, r := range w.Rows {
		perOrigin[r.From]++
		assert.Contains(t, r.To, "retired")
	}
	assert.Equal(t, 5, perOrigin["retired"])
}

// Declared state order must not leak into the output: rows stay sorted by
// (from, interval) so the binary-search lookup keeps working.
func TestUnsortedDeclaredStatesNormalized(t *testing.T) {
	opts := fullOptions()
	opts.Origins = []string{"ill", "healthy"}
	opts.Dests = []string{"ill", "healthy", "dead", "cens"}

	w, err := aggregate.BuildWide(context.Background(), simulated(t), opts)
	require.NoError(t, err)

	assert.Equal(t, []string{"cens", "dead", "healthy", "ill"}, w.Dests)
	for i := 1; i < len(w.Rows); i++ {
		a, b := w.Rows[i-1], w.Rows[i]
		assert.True(t, a.From < b.From || (a.From == b.From && a.J < b.J),
			"rows out of order at %d", i)
	}
	require.NotNil(t, w.Find("ill", 1))
	assert.Equal(t, "ill", w.Find("ill", 1).From)
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	opts := fullOptions()
	opts.Shards = 4
	_, err := aggregate.Build(ctx, simulated(t), opts)
	assert.ErrorIs(t, err, context.Canceled)
}
