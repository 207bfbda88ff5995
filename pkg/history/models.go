package history

import (
	"time"

	"github.com/ethpandaops/durationoor/pkg/durations"
	"github.com/google/uuid"
)

// Compilation is one recorded compile of the node duration files.
type Compilation struct {
	ID           uint   `gorm:"primaryKey" json:"-"`
	CompileID    string `gorm:"not null;uniqueIndex" json:"compile_id"`
	NodeID       string `json:"node_id"`
	NodeFiles    int    `json:"node_files"`
	SkippedFiles int    `json:"skipped_files"`
	Tests        int    `json:"tests"`
	CompiledAt   int64  `gorm:"index" json:"compiled_at"`
}

// TestDuration is the compiled duration of one test in one compilation.
type TestDuration struct {
	ID         uint    `gorm:"primaryKey" json:"-"`
	CompileID  string  `gorm:"not null;uniqueIndex:idx_td_compile_test" json:"compile_id"`
	TestName   string  `gorm:"not null;uniqueIndex:idx_td_compile_test;index:idx_td_test" json:"test"`
	Seconds    float64 `json:"seconds"`
	Nodes      int     `json:"nodes"`
	CompiledAt int64   `json:"compiled_at"`
}

// NewEntries converts a compile result into history rows under a fresh
// compile id.
func NewEntries(
	nodeID string,
	c *durations.Compilation,
	at time.Time,
) (*Compilation, []*TestDuration) {
	compileID := uuid.NewString()
	ts := at.Unix()

	comp := &Compilation{
		CompileID:    compileID,
		NodeID:       nodeID,
		NodeFiles:    len(c.NodeFiles),
		SkippedFiles: len(c.Skipped),
		Tests:        len(c.Durations),
		CompiledAt:   ts,
	}

	tests := make([]*TestDuration, 0, len(c.Durations))

	for name, secs := range c.Durations {
		tests = append(tests, &TestDuration{
			CompileID:  compileID,
			TestName:   name,
			Seconds:    secs,
			Nodes:      c.Counts[name],
			CompiledAt: ts,
		})
	}

	return comp, tests
}
