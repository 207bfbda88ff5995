// Package history keeps a database log of every duration compilation so the
// evolution of a test's duration can be inspected.
package history

import (
	"context"
	"fmt"

	"github.com/ethpandaops/durationoor/pkg/config"
	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store provides persistence for compilation history.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	RecordCompilation(
		ctx context.Context, c *Compilation, tests []*TestDuration,
	) error
	ListCompilations(ctx context.Context, limit int) ([]Compilation, error)
	ListTestHistory(
		ctx context.Context, testName string, limit int,
	) ([]TestDuration, error)
	PruneCompilations(ctx context.Context, keep int) (int, error)
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new history Store backed by the configured database driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
) Store {
	return &store{
		log: log.WithField("component", "history"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening history database: %w", err)
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(
		&Compilation{},
		&TestDuration{},
	); err != nil {
		return fmt.Errorf("running history migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).
		Info("History database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// RecordCompilation stores a compilation and its test durations in a single
// transaction.
func (s *store) RecordCompilation(
	ctx context.Context, c *Compilation, tests []*TestDuration,
) error {
	const batchSize = 100

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(c).Error; err != nil {
			return fmt.Errorf("inserting compilation: %w", err)
		}

		if len(tests) == 0 {
			return nil
		}

		if err := tx.CreateInBatches(tests, batchSize).Error; err != nil {
			return fmt.Errorf("inserting test durations: %w", err)
		}

		return nil
	})
}

// ListCompilations returns the most recent compilations, newest first.
// A limit of 0 or less returns all of them.
func (s *store) ListCompilations(
	ctx context.Context, limit int,
) ([]Compilation, error) {
	var out []Compilation

	q := s.db.WithContext(ctx).Order("compiled_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("listing compilations: %w", err)
	}

	return out, nil
}

// ListTestHistory returns the compiled durations of one test, newest first.
func (s *store) ListTestHistory(
	ctx context.Context, testName string, limit int,
) ([]TestDuration, error) {
	var out []TestDuration

	q := s.db.WithContext(ctx).
		Where("test_name = ?", testName).
		Order("compiled_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("listing test history: %w", err)
	}

	return out, nil
}

// PruneCompilations deletes all but the newest keep compilations together
// with their test durations and returns the number of compilations removed.
func (s *store) PruneCompilations(ctx context.Context, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}

	var removed int

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var all []string
		if err := tx.Model(&Compilation{}).
			Order("compiled_at DESC, id DESC").
			Pluck("compile_id", &all).Error; err != nil {
			return fmt.Errorf("finding stale compilations: %w", err)
		}

		if len(all) <= keep {
			return nil
		}

		ids := all[keep:]

		if err := tx.Where("compile_id IN ?", ids).
			Delete(&TestDuration{}).Error; err != nil {
			return fmt.Errorf("deleting stale test durations: %w", err)
		}

		if err := tx.Where("compile_id IN ?", ids).
			Delete(&Compilation{}).Error; err != nil {
			return fmt.Errorf("deleting stale compilations: %w", err)
		}

		removed = len(ids)

		return nil
	})
	if err != nil {
		return 0, err
	}

	if removed > 0 {
		s.log.WithField("removed", removed).Info("Pruned compilation history")
	}

	return removed, nil
}
