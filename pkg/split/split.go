// Package split divides a list of tests into balanced groups using
// historical test durations.
package split

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ethpandaops/durationoor/pkg/durations"
)

// Strategy selects how tests are assigned to groups.
type Strategy string

const (
	// StrategyDuration balances groups by expected total duration.
	StrategyDuration Strategy = "duration"

	// StrategyAlpha assigns contiguous ranges of lexicographically sorted tests.
	StrategyAlpha Strategy = "alpha"
)

// DefaultDuration is the expected duration of a test when nothing is known
// about any test.
const DefaultDuration = 1.0

// ErrInvalidSplit is returned for impossible split requests.
var ErrInvalidSplit = errors.New("invalid split")

// Shard represents the tests included/excluded in one group.
type Shard struct {
	// Group is the 0-based index of the shard.
	Group int `json:"group"`

	// Included is the sorted list of tests in the shard.
	Included []string `json:"included"`

	// Excluded is the sorted list of tests belonging to other shards.
	Excluded []string `json:"excluded"`

	// Duration is the expected total duration of the included tests in
	// seconds.
	Duration float64 `json:"duration"`
}

// ParseStrategy returns the strategy named s. An empty name selects
// StrategyDuration.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "", StrategyDuration:
		return StrategyDuration, nil
	case StrategyAlpha:
		return StrategyAlpha, nil
	default:
		return "", fmt.Errorf("%w: unknown strategy %q", ErrInvalidSplit, s)
	}
}

// Compute returns the shard for group out of splits groups. Duplicate test
// ids are collapsed. The result only depends on the set of tests, not their
// order.
func Compute(
	tests []string,
	known durations.Record,
	splits, group int,
	strategy Strategy,
) (*Shard, error) {
	if splits < 1 {
		return nil, fmt.Errorf("%w: splits must be at least 1, got %d", ErrInvalidSplit, splits)
	}

	if group < 0 || group >= splits {
		return nil, fmt.Errorf("%w: group %d outside [0, %d)", ErrInvalidSplit, group, splits)
	}

	sorted := unique(tests)
	expected := Expected(sorted, known)

	var assignment map[string]int

	switch strategy {
	case "", StrategyDuration:
		assignment = assignByDuration(sorted, expected, splits)
	case StrategyAlpha:
		assignment = assignAlpha(sorted, splits)
	default:
		return nil, fmt.Errorf("%w: unknown strategy %q", ErrInvalidSplit, strategy)
	}

	shard := &Shard{
		Group:    group,
		Included: make([]string, 0, len(sorted)/splits+1),
		Excluded: make([]string, 0, len(sorted)),
	}

	for _, t := range sorted {
		if assignment[t] == group {
			shard.Included = append(shard.Included, t)
			shard.Duration += expected[t]
		} else {
			shard.Excluded = append(shard.Excluded, t)
		}
	}

	return shard, nil
}

// Expected returns the expected duration of every test. Tests without
// history get the mean of the known durations of the given tests, or of
// all known tests when none of them has history.
func Expected(tests []string, known durations.Record) durations.Record {
	out := make(durations.Record, len(tests))

	var (
		sum   float64
		count int
	)

	for _, t := range tests {
		if d, ok := known[t]; ok {
			sum += d
			count++
		}
	}

	if count == 0 {
		for _, d := range known {
			sum += d
			count++
		}
	}

	fallback := DefaultDuration
	if count > 0 {
		fallback = sum / float64(count)
	}

	for _, t := range tests {
		if d, ok := known[t]; ok {
			out[t] = d
		} else {
			out[t] = fallback
		}
	}

	return out
}

// assignByDuration places the longest tests first, each into the group with
// the smallest running total. Ties go to the lowest group index.
func assignByDuration(sorted []string, expected durations.Record, splits int) map[string]int {
	order := make([]string, len(sorted))
	copy(order, sorted)

	sort.SliceStable(order, func(i, j int) bool {
		return expected[order[i]] > expected[order[j]]
	})

	totals := make([]float64, splits)
	assignment := make(map[string]int, len(order))

	for _, t := range order {
		best := 0
		for g := 1; g < splits; g++ {
			if totals[g] < totals[best] {
				best = g
			}
		}

		totals[best] += expected[t]
		assignment[t] = best
	}

	return assignment
}

// assignAlpha splits the sorted tests into contiguous ranges. The first
// len%splits groups receive one additional test, so 9 tests in 4 groups
// become 3+2+2+2 rather than 3+3+3+0.
func assignAlpha(sorted []string, splits int) map[string]int {
	span := len(sorted) / splits
	remaining := len(sorted) % splits
	assignment := make(map[string]int, len(sorted))

	for g := 0; g < splits; g++ {
		start := g*span + min(g, remaining)

		end := start + span
		if g < remaining {
			end++
		}

		for _, t := range sorted[start:end] {
			assignment[t] = g
		}
	}

	return assignment
}

func unique(tests []string) []string {
	seen := make(map[string]struct{}, len(tests))
	out := make([]string, 0, len(tests))

	for _, t := range tests {
		if _, ok := seen[t]; ok {
			continue
		}

		seen[t] = struct{}{}
		out = append(out, t)
	}

	sort.Strings(out)

	return out
}
