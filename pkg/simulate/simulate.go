// Package simulate generates synthetic multistate registers for validating
// and benchmarking the aggregation pipeline. Trajectories follow a
// continuous-time Markov chain with constant transition intensities, censored
// at a fixed horizon.
package simulate

import (
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/google/uuid"

	"github.com/statkit/oetab/pkg/episode"
)

// Config describes the register to generate.
type Config struct {
	Subjects int
	Seed     uint64

	// Transient states; subjects start in the first one.
	States []string
	// Rates[from][to] is the constant transition intensity. Destinations
	// absent from States are absorbing.
	Rates map[string]map[string]float64

	// Horizon censors any trajectory still in a transient state.
	Horizon float64
	// Censored is the exit label applied at the horizon. Defaults to "cens".
	Censored string

	// CohortLow/CohortHigh bound the uniformly drawn birth cohort attached
	// to each subject, for Lexis aggregation. Equal values pin the cohort.
	CohortLow  float64
	CohortHigh float64
}

// Record is one register row: a subject identifier, the subject's cohort,
// and the episode fields. Field selectors (episode.Collect) adapt records to
// the aggregation input types.
type Record struct {
	Subject string
	Cohort  float64
	Entry   float64
	From    string
	Exit    float64
	To      string
}

// Register simulates cfg.Subjects independent trajectories and returns their
// episodes in subject order. The PRNG is fully determined by cfg.Seed.
func Register(cfg Config) ([]Record, error) {
	if cfg.Subjects < 0 {
		return nil, fmt.Errorf("simulate: %d subjects", cfg.Subjects)
	}
	if len(cfg.States) == 0 {
		return nil, fmt.Errorf("simulate: no transient states")
	}
	if cfg.Horizon <= 0 {
		return nil, fmt.Errorf("simulate: horizon %g not positive", cfg.Horizon)
	}
	censored := cfg.Censored
	if censored == "" {
		censored = "cens"
	}
	transient := make(map[string]bool, len(cfg.States))
	for _, s := range cfg.States {
		transient[s] = true
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	var out []Record
	for i := 0; i < cfg.Subjects; i++ {
		id := uuid.Must(uuid.NewRandomFromReader(pcgReader{rng})).String()
		cohort := cfg.CohortLow
		if cfg.CohortHigh > cfg.CohortLow {
			cohort += rng.Float64() * (cfg.CohortHigh - cfg.CohortLow)
		}

		t := 0.0
		state := cfg.States[0]
		for {
			to, wait := nextTransition(rng, cfg.Rates[state])
			if to == "" || t+wait >= cfg.Horizon {
				out = append(out, Record{Subject: id, Cohort: cohort,
					Entry: t, From: state, Exit: cfg.Horizon, To: censored})
				break
			}
			out = append(out, Record{Subject: id, Cohort: cohort,
				Entry: t, From: state, Exit: t + wait, To: to})
			if !transient[to] {
				break
			}
			t += wait
			state = to
		}
	}
	return out, nil
}

// Episodes adapts records to the core input type.
func Episodes(recs []Record) []episode.Episode {
	return episode.Collect(recs, func(r Record) episode.Episode {
		return episode.Episode{Entry: r.Entry, From: r.From, Exit: r.Exit, To: r.To}
	})
}

// LexisEpisodes adapts records to the two-scale input type, treating entry
// and exit times as ages.
func LexisEpisodes(recs []Record) []episode.LexisEpisode {
	return episode.CollectLexis(recs, func(r Record) episode.LexisEpisode {
		return episode.LexisEpisode{Cohort: r.Cohort, AgeIn: r.Entry, From: r.From, AgeOut: r.Exit, To: r.To}
	})
}

// nextTransition draws a competing-risks winner and its exponential waiting
// time. An empty destination means no exit is possible from the state.
func nextTransition(rng *rand.Rand, rates map[string]float64) (string, float64) {
	total := 0.0
	for _, r := range rates {
		if r > 0 {
			total += r
		}
	}
	if total == 0 {
		return "", 0
	}
	wait := rng.ExpFloat64() / total
	u := rng.Float64() * total
	acc := 0.0
	winner := ""
	// Map iteration order is random; accumulate in sorted order instead.
	for _, to := range sortedStates(rates) {
		if rates[to] <= 0 {
			continue
		}
		winner = to
		acc += rates[to]
		if u < acc {
			break
		}
	}
	return winner, wait
}

func sortedStates(rates map[string]float64) []string {
	out := make([]string, 0, len(rates))
	for s := range rates {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// pcgReader feeds the seeded PCG into uuid generation so identifiers are
// reproducible for a fixed seed.
type pcgReader struct{ rng *rand.Rand }

func (r pcgReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = byte(r.rng.Uint64())
	}
	return len(p), nil
}
