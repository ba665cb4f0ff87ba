// Package purge permanently removes files that have stayed marked for
// deletion longer than the retention period.
package purge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/DanSmirnov48/file-drive/pkg/filedrive/models"
	"github.com/DanSmirnov48/file-drive/pkg/filedrive/storage"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	defaultBatchSize   = 100
	defaultConcurrency = 4
)

// Notifier is told when files disappear from a scope
type Notifier interface {
	Publish(scopeID string)
}

// Config controls the purge schedule
type Config struct {
	// Interval between runs
	Interval time.Duration
	// After is how long a file stays marked before it is purged
	After time.Duration
	// BatchSize caps the files handled per run
	BatchSize int
	// Concurrency caps parallel purges within a run
	Concurrency int
}

// Worker purges expired files on a schedule
type Worker struct {
	db       *gorm.DB
	storage  storage.Storage
	notifier Notifier
	cfg      Config
	now      func() time.Time
}

// NewWorker creates a purge worker. notifier may be nil.
func NewWorker(db *gorm.DB, store storage.Storage, notifier Notifier, cfg Config) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	return &Worker{
		db:       db,
		storage:  store,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Run purges once immediately and then every Interval until ctx is done
func (w *Worker) Run(ctx context.Context) {
	slog.Info("purge worker started", "interval", w.cfg.Interval, "after", w.cfg.After)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		if n, err := w.RunOnce(ctx); err != nil {
			slog.Error("purge run failed", "error", err, "purged", n)
		} else if n > 0 {
			slog.Info("purged files", "count", n)
		}

		select {
		case <-ctx.Done():
			slog.Info("purge worker stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce purges one batch of expired files and returns how many were removed
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	cutoff := w.now().UTC().Add(-w.cfg.After)

	var candidates []models.File
	err := w.db.WithContext(ctx).
		Where("should_delete = ? AND marked_at <= ?", true, cutoff).
		Order("marked_at").
		Limit(w.cfg.BatchSize).
		Find(&candidates).Error
	if err != nil {
		return 0, fmt.Errorf("failed to find expired files: %w", err)
	}

	var purged atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Concurrency)

	for _, file := range candidates {
		file := file
		g.Go(func() error {
			ok, err := w.purge(ctx, file, cutoff)
			if err != nil {
				return fmt.Errorf("purge %s: %w", file.ID, err)
			}
			if ok {
				purged.Add(1)
			}
			return nil
		})
	}

	err = g.Wait()
	return int(purged.Load()), err
}

// purge removes the file's rows and then its object. Files restored since
// they were selected are left alone.
func (w *Worker) purge(ctx context.Context, file models.File, cutoff time.Time) (bool, error) {
	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND should_delete = ? AND marked_at <= ?", file.ID, true, cutoff).
			Delete(&models.File{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errRestored
		}
		if err := tx.Where("file_id = ?", file.ID).Delete(&models.Favorite{}).Error; err != nil {
			return err
		}
		return tx.Where("file_id = ?", file.ID).Delete(&models.ToggleReceipt{}).Error
	})
	if errors.Is(err, errRestored) {
		slog.Debug("skipping restored file", "file_id", file.ID)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := w.storage.Delete(ctx, file.StorageRef); err != nil {
		slog.Warn("failed to delete purged object", "error", err, "file_id", file.ID, "key", file.StorageRef)
	}

	slog.Info("file purged", "file_id", file.ID, "scope_id", file.ScopeID)
	if w.notifier != nil {
		w.notifier.Publish(file.ScopeID)
	}
	return true, nil
}

var errRestored = errors.New("file restored")
