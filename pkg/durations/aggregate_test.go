package durations_test

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"

	"github.com/ethpandaops/durationoor/pkg/durations"
)

func TestMerge(t *testing.T) {
	tests := []struct {
		name    string
		records []durations.Record
		want    durations.Record
	}{
		{
			name: "no records",
			want: durations.Record{},
		},
		{
			name:    "single record",
			records: []durations.Record{{"a": 1.5}},
			want:    durations.Record{"a": 1.5},
		},
		{
			name: "missing keys do not contribute",
			records: []durations.Record{
				{"a": 1, "b": 2},
				{"a": 3},
				{"c": 5},
			},
			want: durations.Record{"a": 2, "b": 2, "c": 5},
		},
		{
			name: "nil and empty records are neutral",
			records: []durations.Record{
				nil,
				{},
				{"a": 4},
			},
			want: durations.Record{"a": 4},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, durations.Merge(tt.records...))
		})
	}
}

func TestAggregator_Counts(t *testing.T) {
	agg := durations.NewAggregator()
	agg.Add(durations.Record{"a": 1, "b": 1})
	agg.Add(durations.Record{"a": 1})

	assert.Equal(t, map[string]int{"a": 2, "b": 1}, agg.Counts())
}

func TestMerge_OrderIndependent(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	records := make([]durations.Record, 12)
	for i := range records {
		r := durations.Record{}

		for j := 0; j < 20; j++ {
			if rng.Intn(2) == 0 {
				r[string(rune('a'+j))] = rng.Float64() * 30
			}
		}

		records[i] = r
	}

	want := durations.Merge(records...)

	// Expected mean computed independently.
	sums := map[string]float64{}
	counts := map[string]int{}

	for _, r := range records {
		for k, v := range r {
			sums[k] += v
			counts[k]++
		}
	}

	expected := durations.Record{}
	for k, s := range sums {
		expected[k] = s / float64(counts[k])
	}

	approx := cmpopts.EquateApprox(0, 1e-9)

	if diff := cmp.Diff(expected, want, approx); diff != "" {
		t.Fatalf("Merge mismatch (-want +got):\n%s", diff)
	}

	for i := 0; i < 5; i++ {
		shuffled := append([]durations.Record(nil), records...)
		rng.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})

		if diff := cmp.Diff(want, durations.Merge(shuffled...), approx); diff != "" {
			t.Fatalf("Merge depends on order (-want +got):\n%s", diff)
		}
	}
}

func TestRecord_Clone(t *testing.T) {
	var nilRecord durations.Record

	clone := nilRecord.Clone()
	assert.NotNil(t, clone)
	assert.Empty(t, clone)

	orig := durations.Record{"a": 1}
	c := orig.Clone()
	c["a"] = 2

	assert.Equal(t, 1.0, orig["a"])
}
