package durations

// Aggregator accumulates a running sum and count per test id across any
// number of records. Adding records is commutative, so the result does not
// depend on the order records are added in.
type Aggregator struct {
	sums   map[string]float64
	counts map[string]int
}

// NewAggregator creates an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		sums:   make(map[string]float64, 64),
		counts: make(map[string]int, 64),
	}
}

// Add folds one record into the aggregate.
func (a *Aggregator) Add(r Record) {
	for test, d := range r {
		a.sums[test] += d
		a.counts[test]++
	}
}

// Result returns the mean duration per test id.
func (a *Aggregator) Result() Record {
	out := make(Record, len(a.sums))

	for test, sum := range a.sums {
		out[test] = sum / float64(max(a.counts[test], 1))
	}

	return out
}

// Counts returns how many records contributed to each test id.
func (a *Aggregator) Counts() map[string]int {
	out := make(map[string]int, len(a.counts))
	for k, v := range a.counts {
		out[k] = v
	}

	return out
}

// Merge averages the given records.
func Merge(records ...Record) Record {
	agg := NewAggregator()
	for _, r := range records {
		agg.Add(r)
	}

	return agg.Result()
}
