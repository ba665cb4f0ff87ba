// Package storage keeps file contents in an object store and hands out
// time-limited URLs for fetching whole objects.
package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/DanSmirnov48/file-drive/pkg/filedrive/config"
)

// Storage defines the interface for object storage operations
type Storage interface {
	// Save stores the object read from r under key
	Save(ctx context.Context, key string, r io.Reader, contentType string) error

	// Delete removes the object under key. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error

	// URL returns a time-limited URL for fetching the object under key
	URL(ctx context.Context, key string) (string, error)
}

// New creates the storage backend selected by cfg.StorageDriver
func New(cfg *config.Config) (Storage, error) {
	switch cfg.StorageDriver {
	case "s3":
		slog.Info("initializing S3 storage",
			"bucket", cfg.S3Bucket,
			"region", cfg.S3Region,
			"endpoint", cfg.S3Endpoint,
		)
		return NewS3Storage(S3Config{
			Region:        cfg.S3Region,
			Bucket:        cfg.S3Bucket,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			Endpoint:      cfg.S3Endpoint,
			PresignExpiry: cfg.URLExpiry,
		})
	case "local":
		slog.Info("initializing local storage", "dir", cfg.StorageDir)
		return NewLocalStorage(LocalConfig{
			Dir:     cfg.StorageDir,
			BaseURL: cfg.BaseURL,
			HMACKey: cfg.StorageHMACKey,
			Expiry:  cfg.URLExpiry,
		})
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}
