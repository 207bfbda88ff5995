package main

import (
	"context"
	"fmt"
	"os"

	"github.com/ethpandaops/durationoor/pkg/config"
	"github.com/ethpandaops/durationoor/pkg/durations"
	"github.com/ethpandaops/durationoor/pkg/fsutil"
	"github.com/ethpandaops/durationoor/pkg/history"
	"github.com/ethpandaops/durationoor/pkg/remote"
	"github.com/ethpandaops/durationoor/pkg/tracker"
	"github.com/sirupsen/logrus"
)

// components holds everything built from the config for one command.
type components struct {
	tracker *tracker.Tracker
	history history.Store
}

// Close releases the history database, if one was opened.
func (c *components) Close() {
	if c.history == nil {
		return
	}

	if err := c.history.Stop(); err != nil {
		log.WithError(err).Warn("Failed to close history database")
	}
}

// setup builds the duration store and its optional collaborators from cfg.
// The history database is only opened when withHistory is set.
func setup(
	ctx context.Context,
	log logrus.FieldLogger,
	cfg *config.Config,
	withHistory bool,
) (*components, error) {
	owner, err := fsutil.ParseOwner(cfg.Store.Owner)
	if err != nil {
		return nil, fmt.Errorf("parsing store.owner: %w", err)
	}

	nodeID := cfg.ResolveNodeID(os.LookupEnv)

	store, err := durations.NewStore(log, durations.Options{
		BaseDir: cfg.Store.BaseDir,
		NodeID:  nodeID,
		Owner:   owner,
	})
	if err != nil {
		return nil, fmt.Errorf("creating duration store: %w", err)
	}

	opts := tracker.Options{
		Keep:  cfg.History.Keep,
		Owner: owner,
	}

	if cfg.Remote.S3.Enabled {
		syncer, err := remote.NewS3Syncer(log, &cfg.Remote.S3, owner)
		if err != nil {
			return nil, fmt.Errorf("creating s3 syncer: %w", err)
		}

		opts.Syncer = syncer
	}

	c := &components{}

	if withHistory && cfg.History.Enabled {
		h := history.NewStore(log, &cfg.History.Database)
		if err := h.Start(ctx); err != nil {
			return nil, fmt.Errorf("starting history store: %w", err)
		}

		c.history = h
		opts.History = h
	}

	c.tracker = tracker.New(log, store, opts)

	log.WithFields(logrus.Fields{
		"node":     nodeID,
		"base_dir": store.BaseDir(),
		"remote":   opts.Syncer != nil,
		"history":  opts.History != nil,
	}).Debug("Duration tracker ready")

	return c, nil
}
