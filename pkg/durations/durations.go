// Package durations persists per-node test durations and compiles them into
// a single averaged record shared by every node of a distributed CI run.
//
// Each node owns exactly one file in the base directory and only ever writes
// that file. Compiling reads every node file and fully regenerates the
// compiled file, so it can be re-run by any node at any time.
package durations

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// DefaultBaseDir is the default directory holding duration files.
	DefaultBaseDir = "/images/codehub/test_durations"

	// LocalNodeID identifies the node when not running under CI.
	LocalNodeID = "local"

	// DefaultNodeIndexEnv is the environment variable carrying the CI node index.
	DefaultNodeIndexEnv = "CI_NODE_INDEX"

	// DefaultNodeTotalEnv is the environment variable carrying the CI node count.
	DefaultNodeTotalEnv = "CI_NODE_TOTAL"

	// CompiledFileName is the name of the compiled duration file.
	CompiledFileName = "compiled_test_durations.json"

	nodeFilePrefix = "node_"
	nodeFileSuffix = "_durations.json"
)

// ErrInvalidNodeID is returned for node ids that cannot be used in a file name.
var ErrInvalidNodeID = errors.New("invalid node id")

// Record maps a test identifier to its duration in seconds.
type Record map[string]float64

// Clone returns a copy of the record. A nil record clones to an empty one.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}

	return out
}

// NodeIDFromEnv derives the node id from the environment variable key using
// lookup (usually os.LookupEnv). It falls back to LocalNodeID when the
// variable is unset or empty.
func NodeIDFromEnv(lookup func(string) (string, bool), key string) string {
	if key == "" {
		key = DefaultNodeIndexEnv
	}

	if v, ok := lookup(key); ok {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}

	return LocalNodeID
}

// ValidateNodeID checks that id is usable as part of a node file name.
func ValidateNodeID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: empty", ErrInvalidNodeID)
	case strings.ContainsAny(id, `/\`):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidNodeID, id)
	case strings.Contains(id, ".."):
		return fmt.Errorf("%w: %q contains \"..\"", ErrInvalidNodeID, id)
	}

	return nil
}

// NodeFileName returns the file name of the node file for id.
func NodeFileName(id string) string {
	return nodeFilePrefix + id + nodeFileSuffix
}

// ParseNodeFileName returns the node id encoded in a node file name.
func ParseNodeFileName(name string) (string, bool) {
	if !strings.HasPrefix(name, nodeFilePrefix) || !strings.HasSuffix(name, nodeFileSuffix) {
		return "", false
	}

	if len(name) <= len(nodeFilePrefix)+len(nodeFileSuffix) {
		return "", false
	}

	return name[len(nodeFilePrefix) : len(name)-len(nodeFileSuffix)], true
}
