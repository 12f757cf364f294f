// Package episode defines the input record type for multistate event-history
// aggregation: one time interval during which a subject occupied an origin
// state before transitioning to a destination state.
package episode

import (
	"errors"
	"fmt"
	"sort"
)

// ErrReversedEpisode is returned when a record's exit time precedes its
// entry time. Left-truncated records must be filtered by the caller; the
// aggregation fails fast instead of silently discarding them.
var ErrReversedEpisode = errors.New("exit time precedes entry time")

// Episode is one origin-to-destination transition record.
type Episode struct {
	Entry float64 // time the origin state was entered
	From  string  // origin state label
	Exit  float64 // time the origin state was left
	To    string  // destination state label
}

// LexisEpisode is an episode on the age scale together with the subject's
// birth cohort, for two-dimensional (Lexis triangle) aggregation.
type LexisEpisode struct {
	Cohort float64
	AgeIn  float64
	From   string
	AgeOut float64
	To     string
}

// Validate checks the exit >= entry invariant over the whole set. The error
// names the first offending record.
func Validate(eps []Episode) error {
	for i, e := range eps {
		if e.Exit < e.Entry {
			return fmt.Errorf("episode: record %d (%s->%s, %g>%g): %w",
				i, e.From, e.To, e.Entry, e.Exit, ErrReversedEpisode)
		}
	}
	return nil
}

// ValidateLexis checks the age-out >= age-in invariant.
func ValidateLexis(eps []LexisEpisode) error {
	for i, e := range eps {
		if e.AgeOut < e.AgeIn {
			return fmt.Errorf("episode: record %d (%s->%s, %g>%g): %w",
				i, e.From, e.To, e.AgeIn, e.AgeOut, ErrReversedEpisode)
		}
	}
	return nil
}

// Collect adapts an arbitrary record collection to episodes via a field
// selector, so callers keep their own row types.
func Collect[T any](rows []T, fn func(T) Episode) []Episode {
	out := make([]Episode, len(rows))
	for i, r := range rows {
		out[i] = fn(r)
	}
	return out
}

// CollectLexis is Collect for cohort-bearing records.
func CollectLexis[T any](rows []T, fn func(T) LexisEpisode) []LexisEpisode {
	out := make([]LexisEpisode, len(rows))
	for i, r := range rows {
		out[i] = fn(r)
	}
	return out
}

// States returns the sorted distinct origin states and the sorted distinct
// destination states observed in the data. Destinations include every origin
// so that the intrastate cell exists for each origin state.
func States(eps []Episode) (origins, dests []string) {
	fromSet := make(map[string]bool)
	toSet := make(map[string]bool)
	for _, e := range eps {
		fromSet[e.From] = true
		toSet[e.From] = true
		toSet[e.To] = true
	}
	return sortedKeys(fromSet), sortedKeys(toSet)
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
