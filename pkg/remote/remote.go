// Package remote shares duration files between CI machines through
// S3-compatible object storage.
package remote

import (
	"context"
	"strings"

	"github.com/ethpandaops/durationoor/pkg/config"
	"github.com/ethpandaops/durationoor/pkg/durations"
)

const (
	nodesDir = "nodes"
)

// Syncer moves duration files between the local base directory and remote
// storage.
type Syncer interface {
	// Preflight verifies that the remote storage is reachable and writable.
	Preflight(ctx context.Context) error

	// PushNodeFile uploads a node duration file.
	PushNodeFile(ctx context.Context, path string) error

	// PushCompiled uploads the compiled duration file.
	PushCompiled(ctx context.Context, path string) error

	// PullNodeFiles downloads every remote node file into dir and returns
	// the number of files written. Files named in skip are left untouched.
	PullNodeFiles(ctx context.Context, dir string, skip ...string) (int, error)

	// PullCompiled downloads the compiled file into dir. It reports false
	// when no compiled file exists remotely.
	PullCompiled(ctx context.Context, dir string) (bool, error)
}

// keys builds object keys under a prefix.
type keys struct {
	prefix string
}

func newKeys(prefix string) keys {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = config.DefaultS3Prefix
	}

	return keys{prefix: prefix}
}

func (k keys) nodesPrefix() string {
	return k.prefix + "/" + nodesDir + "/"
}

func (k keys) node(fileName string) string {
	return k.nodesPrefix() + fileName
}

func (k keys) compiled() string {
	return k.prefix + "/" + durations.CompiledFileName
}

// nodeFileFromKey returns the file name of a node key, or false if the key
// is not a node duration file directly under the nodes prefix.
func (k keys) nodeFileFromKey(key string) (string, bool) {
	name, ok := strings.CutPrefix(key, k.nodesPrefix())
	if !ok || strings.Contains(name, "/") {
		return "", false
	}

	if _, ok := durations.ParseNodeFileName(name); !ok {
		return "", false
	}

	return name, true
}
