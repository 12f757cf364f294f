// Command oetab drives the aggregation pipeline against a SQLite register:
// seed a synthetic register, aggregate it into an occurrence-exposure table,
// or produce Lexis triangles. It is a collaborator around the core packages,
// which only exchange in-memory tables.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"

	"github.com/statkit/oetab/internal/store"
	"github.com/statkit/oetab/pkg/aggregate"
	"github.com/statkit/oetab/pkg/episode"
	"github.com/statkit/oetab/pkg/lexis"
	"github.com/statkit/oetab/pkg/simulate"
)

type config struct {
	DB       string `env:"OETAB_DB" envDefault:"oetab.db"`
	LogLevel string `env:"OETAB_LOG_LEVEL" envDefault:"info"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "oetab:", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	setupLogging(cfg.LogLevel)

	var (
		breaks     []float64
		wide       bool
		drop0      bool
		closedLeft bool
		runID      string
	)

	root := &cobra.Command{
		Use:           "oetab",
		Short:         "Aggregate multistate episodes into occurrence-exposure tables",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Simulate a synthetic register into the database",
	}
	var (
		subjects int
		seed     uint64
		horizon  float64
	)
	seedCmd.Flags().IntVar(&subjects, "subjects", 1000, "number of subjects to simulate")
	seedCmd.Flags().Uint64Var(&seed, "seed", 1, "PRNG seed")
	seedCmd.Flags().Float64Var(&horizon, "horizon", 20, "censoring horizon")
	seedCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return seedRegister(cfg.DB, subjects, seed, horizon)
	}

	aggCmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Aggregate the register into an occurrence-exposure table",
	}
	aggCmd.Flags().Float64SliceVar(&breaks, "breaks", []float64{0, 5, 10, 15, 20}, "interval boundaries")
	aggCmd.Flags().BoolVar(&wide, "wide", true, "pivot destinations into to_<state> columns")
	aggCmd.Flags().BoolVar(&drop0, "drop0exp", true, "drop rows with zero exposure")
	aggCmd.Flags().BoolVar(&closedLeft, "closed-left", true, "left-closed interval convention")
	aggCmd.Flags().StringVar(&runID, "run", "", "persist results under this run id instead of printing")
	aggCmd.RunE = func(cmd *cobra.Command, args []string) error {
		opts := aggregate.Options{
			Breaks: breaks, Wide: wide, Drop0Exp: drop0, ClosedLeft: closedLeft,
		}
		return aggregateRegister(cmd.Context(), cfg.DB, opts, runID)
	}

	lexisCmd := &cobra.Command{
		Use:   "lexis",
		Short: "Aggregate the register into Lexis triangles",
	}
	var width float64
	lexisCmd.Flags().Float64Var(&width, "width", 1, "age/period/cohort grid width")
	lexisCmd.Flags().StringVar(&runID, "run", "", "persist results under this run id instead of printing")
	lexisCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return lexisRegister(cmd.Context(), cfg.DB, width, runID)
	}

	root.AddCommand(seedCmd, aggCmd, lexisCmd)
	return root.Execute()
}

func setupLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func seedRegister(db string, subjects int, seed uint64, horizon float64) error {
	recs, err := simulate.Register(simulate.Config{
		Subjects: subjects,
		Seed:     seed,
		Horizon:  horizon,
		States:   []string{"healthy", "ill"},
		Rates: map[string]map[string]float64{
			"healthy": {"ill": 0.10, "dead": 0.02},
			"ill":     {"healthy": 0.05, "dead": 0.10},
		},
		CohortLow:  1950,
		CohortHigh: 1970,
	})
	if err != nil {
		return err
	}

	s, err := store.Open(db)
	if err != nil {
		return err
	}
	defer s.Close()

	rows := make([]store.EpisodeRow, len(recs))
	for i, r := range recs {
		rows[i] = store.EpisodeRow{Subject: r.Subject, Cohort: r.Cohort,
			Entry: r.Entry, From: r.From, Exit: r.Exit, To: r.To}
	}
	if err := s.InsertEpisodes(rows); err != nil {
		return err
	}
	slog.Info("register seeded", "db", db, "subjects", subjects, "episodes", len(rows))
	return nil
}

func loadEpisodes(db string) (*store.Store, []store.EpisodeRow, error) {
	s, err := store.Open(db)
	if err != nil {
		return nil, nil, err
	}
	rows, err := s.LoadEpisodes()
	if err != nil {
		s.Close()
		return nil, nil, err
	}
	return s, rows, nil
}

func aggregateRegister(ctx context.Context, db string, opts aggregate.Options, runID string) error {
	s, rows, err := loadEpisodes(db)
	if err != nil {
		return err
	}
	defer s.Close()

	eps := episode.Collect(rows, func(r store.EpisodeRow) episode.Episode {
		return episode.Episode{Entry: r.Entry, From: r.From, Exit: r.Exit, To: r.To}
	})
	table, err := aggregate.Build(ctx, eps, opts)
	if err != nil {
		return err
	}
	slog.Info("aggregated", "episodes", len(eps), "rows", len(table.Rows))

	if runID != "" {
		return s.SaveTable(runID, table)
	}
	if opts.Wide {
		printWide(table.Pivot())
	} else {
		printLong(table)
	}
	return nil
}

func lexisRegister(ctx context.Context, db string, width float64, runID string) error {
	s, rows, err := loadEpisodes(db)
	if err != nil {
		return err
	}
	defer s.Close()

	eps := episode.CollectLexis(rows, func(r store.EpisodeRow) episode.LexisEpisode {
		return episode.LexisEpisode{Cohort: r.Cohort, AgeIn: r.Entry, From: r.From, AgeOut: r.Exit, To: r.To}
	})
	surf, err := lexis.Aggregate(ctx, eps, width)
	if err != nil {
		return err
	}
	slog.Info("lexis aggregated", "episodes", len(eps), "triangles", len(surf.Triangles))

	if runID != "" {
		return s.SaveTriangles(runID, surf)
	}
	for _, tri := range surf.Triangles {
		fmt.Printf("%-10s cohort=%g period=%g age=%g tri=%d O=%.4f", tri.From, tri.Cohort, tri.Period, tri.Age, tri.TriangleID, tri.O)
		for _, d := range surf.Dests {
			fmt.Printf(" to_%s=%.2f", d, tri.To[d])
		}
		fmt.Println()
	}
	return nil
}

func printWide(w *aggregate.WideTable) {
	fmt.Println(strings.Join(w.Columns(), "\t"))
	for _, r := range w.Rows {
		fmt.Printf("%s\t%d\t%g\t%g\t%.0f\t%.0f\t%.0f\t%.4f", r.From, r.J, r.X, r.N, r.Z, r.W, r.P, r.O)
		for _, d := range w.Dests {
			fmt.Printf("\t%.2f", r.To[d])
		}
		fmt.Println()
	}
}

func printLong(t *aggregate.Table) {
	fmt.Println("from\tto\tj\tx\tn\tZ\tW\tP\tO\tWk")
	for _, r := range t.Rows {
		fmt.Printf("%s\t%s\t%d\t%g\t%g\t%.0f\t%.0f\t%.0f\t%.4f\t%.2f\n",
			r.From, r.To, r.J, r.X, r.N, r.Z, r.W, r.P, r.O, r.Wk)
	}
}
