package split

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/durationoor/pkg/durations"
)

func allShards(t *testing.T, tests []string, known durations.Record, splits int, s Strategy) []*Shard {
	t.Helper()

	shards := make([]*Shard, splits)

	for g := 0; g < splits; g++ {
		shard, err := Compute(tests, known, splits, g, s)
		require.NoError(t, err)

		shards[g] = shard
	}

	return shards
}

func TestCompute_Duration(t *testing.T) {
	known := durations.Record{
		"t1": 10,
		"t2": 7,
		"t3": 5,
		"t4": 3,
		"t5": 2,
	}
	tests := []string{"t5", "t3", "t1", "t4", "t2"}

	shards := allShards(t, tests, known, 2, StrategyDuration)

	// t1(10)->0, t2(7)->1, t3(5)->1, t4(3)->0, t5(2)->1 = 13 vs 14.
	assert.Equal(t, []string{"t1", "t4"}, shards[0].Included)
	assert.Equal(t, []string{"t2", "t3", "t5"}, shards[1].Included)
	assert.InDelta(t, 13.0, shards[0].Duration, 1e-9)
	assert.InDelta(t, 14.0, shards[1].Duration, 1e-9)
	assert.Equal(t, []string{"t2", "t3", "t5"}, shards[0].Excluded)
}

func TestCompute_PartitionsAllTests(t *testing.T) {
	known := durations.Record{}
	tests := make([]string, 0, 37)

	for i := 0; i < 37; i++ {
		name := fmt.Sprintf("tests/test_%02d.py::test", i)
		tests = append(tests, name)

		if i%3 != 0 {
			known[name] = float64(i%7) + 0.5
		}
	}

	for _, strategy := range []Strategy{StrategyDuration, StrategyAlpha} {
		t.Run(string(strategy), func(t *testing.T) {
			shards := allShards(t, tests, known, 5, strategy)

			seen := map[string]int{}

			for _, s := range shards {
				assert.Len(t, s.Excluded, len(tests)-len(s.Included))

				for _, name := range s.Included {
					seen[name]++
				}
			}

			require.Len(t, seen, len(tests))

			for name, n := range seen {
				assert.Equal(t, 1, n, "test %s assigned %d times", name, n)
			}
		})
	}
}

func TestCompute_OrderIndependent(t *testing.T) {
	known := durations.Record{"a": 4, "b": 4, "c": 1, "d": 2, "e": 3}

	first, err := Compute([]string{"a", "b", "c", "d", "e"}, known, 3, 1, StrategyDuration)
	require.NoError(t, err)

	second, err := Compute([]string{"e", "d", "c", "b", "a", "a"}, known, 3, 1, StrategyDuration)
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("shard depends on input order (-first +second):\n%s", diff)
	}
}

func TestCompute_Alpha(t *testing.T) {
	tests := []string{"A", "B", "C", "D", "E", "F", "G", "H", "I"}

	shards := allShards(t, tests, nil, 4, StrategyAlpha)

	assert.Equal(t, []string{"A", "B", "C"}, shards[0].Included)
	assert.Equal(t, []string{"D", "E"}, shards[1].Included)
	assert.Equal(t, []string{"F", "G"}, shards[2].Included)
	assert.Equal(t, []string{"H", "I"}, shards[3].Included)
}

func TestCompute_MoreGroupsThanTests(t *testing.T) {
	shards := allShards(t, []string{"a", "b"}, nil, 4, StrategyDuration)

	assert.Len(t, shards[0].Included, 1)
	assert.Len(t, shards[1].Included, 1)
	assert.Empty(t, shards[2].Included)
	assert.Empty(t, shards[3].Included)
}

func TestCompute_Errors(t *testing.T) {
	tests := []struct {
		name     string
		splits   int
		group    int
		strategy Strategy
	}{
		{name: "zero splits", splits: 0, group: 0},
		{name: "negative group", splits: 2, group: -1},
		{name: "group too large", splits: 2, group: 2},
		{name: "unknown strategy", splits: 2, group: 0, strategy: "random"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compute([]string{"a"}, nil, tt.splits, tt.group, tt.strategy)
			require.ErrorIs(t, err, ErrInvalidSplit)
		})
	}
}

func TestExpected(t *testing.T) {
	t.Run("unknown tests use mean of known tests", func(t *testing.T) {
		got := Expected([]string{"a", "b", "new"}, durations.Record{"a": 2, "b": 4, "other": 100})
		assert.Equal(t, durations.Record{"a": 2, "b": 4, "new": 3}, got)
	})

	t.Run("falls back to all known durations", func(t *testing.T) {
		got := Expected([]string{"new"}, durations.Record{"x": 1, "y": 5})
		assert.Equal(t, durations.Record{"new": 3}, got)
	})

	t.Run("nothing known", func(t *testing.T) {
		got := Expected([]string{"new"}, nil)
		assert.Equal(t, durations.Record{"new": DefaultDuration}, got)
	})
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, StrategyDuration, s)

	s, err = ParseStrategy("alpha")
	require.NoError(t, err)
	assert.Equal(t, StrategyAlpha, s)

	_, err = ParseStrategy("hash")
	require.ErrorIs(t, err, ErrInvalidSplit)
}
