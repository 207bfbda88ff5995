// Package tracker ties the local duration store to remote sharing, the
// compilation history and metrics.
package tracker

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ethpandaops/durationoor/pkg/durations"
	"github.com/ethpandaops/durationoor/pkg/fsutil"
	"github.com/ethpandaops/durationoor/pkg/history"
	"github.com/ethpandaops/durationoor/pkg/metrics"
	"github.com/ethpandaops/durationoor/pkg/remote"
	"github.com/sirupsen/logrus"
)

// Options configures the optional collaborators of a Tracker.
type Options struct {
	// Syncer shares files with other machines. Nil disables remote sharing.
	Syncer remote.Syncer

	// History records every compilation. Nil disables history.
	History history.Store

	// Keep is the number of compilations kept in history; 0 keeps all.
	Keep int

	// Owner is applied to node files saved on behalf of other nodes.
	Owner *fsutil.OwnerConfig
}

// Tracker saves and compiles test durations for one node.
type Tracker struct {
	log     logrus.FieldLogger
	store   durations.Store
	syncer  remote.Syncer
	history history.Store
	keep    int
	owner   *fsutil.OwnerConfig
	now     func() time.Time
}

// New creates a Tracker around store.
func New(log logrus.FieldLogger, store durations.Store, opts Options) *Tracker {
	return &Tracker{
		log:     log.WithField("component", "tracker"),
		store:   store,
		syncer:  opts.Syncer,
		history: opts.History,
		keep:    opts.Keep,
		owner:   opts.Owner,
		now:     time.Now,
	}
}

// Store returns the underlying duration store.
func (t *Tracker) Store() durations.Store {
	return t.store
}

// History returns the history store, or nil when history is disabled.
func (t *Tracker) History() history.Store {
	return t.history
}

// SaveNode saves this node's durations and pushes the node file when a
// remote is configured.
func (t *Tracker) SaveNode(ctx context.Context, r durations.Record) error {
	return t.save(ctx, t.store, r)
}

// SaveNodeAs saves durations on behalf of another node sharing the same base
// directory.
func (t *Tracker) SaveNodeAs(
	ctx context.Context, nodeID string, r durations.Record,
) error {
	if nodeID == t.store.NodeID() {
		return t.SaveNode(ctx, r)
	}

	s, err := durations.NewStore(t.log, durations.Options{
		BaseDir: t.store.BaseDir(),
		NodeID:  nodeID,
		Owner:   t.owner,
	})
	if err != nil {
		metrics.RecordNodeSave(err)

		return err
	}

	return t.save(ctx, s, r)
}

func (t *Tracker) save(
	ctx context.Context, s durations.Store, r durations.Record,
) error {
	err := s.SaveNodeDurations(r)
	metrics.RecordNodeSave(err)

	if err != nil {
		return err
	}

	if t.syncer == nil {
		return nil
	}

	if err := t.syncer.PushNodeFile(ctx, s.NodeFilePath()); err != nil {
		metrics.RecordRemoteError("push_node")

		return fmt.Errorf("pushing node file: %w", err)
	}

	return nil
}

// Compile pulls remote node files, compiles them and publishes the result.
// Remote and history failures are logged; only a failed local compile is
// returned as an error.
func (t *Tracker) Compile(ctx context.Context) (*durations.Compilation, error) {
	if t.syncer != nil {
		own := filepath.Base(t.store.NodeFilePath())

		if _, err := t.syncer.PullNodeFiles(ctx, t.store.BaseDir(), own); err != nil {
			metrics.RecordRemoteError("pull_nodes")
			t.log.WithError(err).Warn("Failed to pull remote node files, compiling local files only")
		}
	}

	c, err := t.store.Compile()
	if err != nil {
		metrics.RecordCompilation(err, 0, 0, 0)

		return nil, err
	}

	metrics.RecordCompilation(nil, len(c.Durations), len(c.NodeFiles), len(c.Skipped))

	if t.syncer != nil {
		if err := t.syncer.PushCompiled(ctx, t.store.CompiledFilePath()); err != nil {
			metrics.RecordRemoteError("push_compiled")
			t.log.WithError(err).Warn("Failed to push compiled durations")
		}
	}

	if t.history != nil {
		t.recordHistory(ctx, c)
	}

	return c, nil
}

func (t *Tracker) recordHistory(ctx context.Context, c *durations.Compilation) {
	comp, tests := history.NewEntries(t.store.NodeID(), c, t.now())

	if err := t.history.RecordCompilation(ctx, comp, tests); err != nil {
		t.log.WithError(err).Warn("Failed to record compilation history")

		return
	}

	if t.keep <= 0 {
		return
	}

	if _, err := t.history.PruneCompilations(ctx, t.keep); err != nil {
		t.log.WithError(err).Warn("Failed to prune compilation history")
	}
}

// Compiled returns the compiled durations, refreshing them from the remote
// first when one is configured.
func (t *Tracker) Compiled(ctx context.Context) durations.Record {
	if t.syncer != nil {
		if _, err := t.syncer.PullCompiled(ctx, t.store.BaseDir()); err != nil {
			metrics.RecordRemoteError("pull_compiled")
			t.log.WithError(err).Warn("Failed to pull compiled durations, using local copy")
		}
	}

	return t.store.GetCompiledDurations()
}

// Nodes returns the sorted ids of every node with a duration file.
func (t *Tracker) Nodes() ([]string, error) {
	files, err := t.store.ListNodeFiles()
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(files))

	for _, f := range files {
		if id, ok := durations.ParseNodeFileName(filepath.Base(f)); ok {
			ids = append(ids, id)
		}
	}

	sort.Strings(ids)

	return ids, nil
}

// IsLastNode reports whether index names the last node of a parallel CI
// job. CI node indexes are 1-based, so the last node has index == total.
func IsLastNode(index, total string) bool {
	index = strings.TrimSpace(index)
	total = strings.TrimSpace(total)

	return index != "" && index == total
}
