// Package report converts test runner output into duration records.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/ethpandaops/durationoor/pkg/durations"
)

// UnknownTestID is used for report entries without a node id.
const UnknownTestID = "unknown"

// ErrNoReport is returned when the report file is missing or empty.
var ErrNoReport = errors.New("no test report found")

// pytestReport is the subset of a pytest-json-report document we read.
type pytestReport struct {
	Tests []pytestTest `json:"tests"`
}

type pytestTest struct {
	NodeID   *string      `json:"nodeid"`
	Duration *float64     `json:"duration"`
	Setup    *pytestPhase `json:"setup"`
	Call     *pytestPhase `json:"call"`
	Teardown *pytestPhase `json:"teardown"`
}

type pytestPhase struct {
	Duration *float64 `json:"duration"`
}

// duration returns the test duration, preferring the top-level value and
// falling back to the sum of the recorded phases.
func (t *pytestTest) duration() (float64, bool) {
	if t.Duration != nil {
		return *t.Duration, true
	}

	var (
		total float64
		found bool
	)

	for _, p := range []*pytestPhase{t.Setup, t.Call, t.Teardown} {
		if p == nil || p.Duration == nil {
			continue
		}

		total += *p.Duration
		found = true
	}

	return total, found
}

// ParsePytestJSON reads a pytest-json-report document.
// Entries without any duration, or with a negative or non-finite one, are
// dropped. A repeated node id keeps the last entry.
func ParsePytestJSON(r io.Reader) (durations.Record, error) {
	var rep pytestReport
	if err := json.NewDecoder(r).Decode(&rep); err != nil {
		return nil, fmt.Errorf("decoding pytest report: %w", err)
	}

	out := make(durations.Record, len(rep.Tests))

	for i := range rep.Tests {
		t := &rep.Tests[i]

		d, ok := t.duration()
		if !ok || d < 0 || math.IsNaN(d) || math.IsInf(d, 0) {
			continue
		}

		id := UnknownTestID
		if t.NodeID != nil {
			id = *t.NodeID
		}

		out[id] = d
	}

	return out, nil
}

// LoadPytestJSON reads a pytest-json-report file. A missing or empty file
// returns an empty record and ErrNoReport.
func LoadPytestJSON(path string) (durations.Record, error) {
	f, err := os.Open(path) //nolint:gosec // user supplied report path
	if err != nil {
		if os.IsNotExist(err) {
			return durations.Record{}, fmt.Errorf("%w at %s", ErrNoReport, path)
		}

		return nil, fmt.Errorf("opening report: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat report: %w", err)
	}

	if info.Size() == 0 {
		return durations.Record{}, fmt.Errorf("%w at %s", ErrNoReport, path)
	}

	return ParsePytestJSON(f)
}

// LoadRecord reads a plain duration record (test id to seconds), the same
// shape as node and compiled files.
func LoadRecord(path string) (durations.Record, error) {
	data, err := os.ReadFile(path) //nolint:gosec // user supplied path
	if err != nil {
		return nil, fmt.Errorf("reading durations file: %w", err)
	}

	var r durations.Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decoding durations file: %w", err)
	}

	if r == nil {
		r = durations.Record{}
	}

	for id, d := range r {
		if d < 0 {
			return nil, fmt.Errorf("negative duration %v for %q", d, id)
		}
	}

	return r, nil
}
