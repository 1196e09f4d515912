// Package storage persists project snapshots.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/zot/uigen/internal/config"
	"github.com/zot/uigen/internal/vfs"
)

// ErrNotFound is returned by Load and Delete for an unknown project.
var ErrNotFound = errors.New("project not found")

// Backend defines the interface for snapshot storage backends.
type Backend interface {
	// Save stores the snapshot of a project, replacing any previous one.
	Save(ctx context.Context, id string, snap vfs.Snapshot) error

	// Load retrieves the snapshot of a project.
	Load(ctx context.Context, id string) (vfs.Snapshot, error)

	// Delete removes a project.
	Delete(ctx context.Context, id string) error

	// List returns the ids of every stored project, sorted.
	List(ctx context.Context) ([]string, error)

	// Name identifies the backend in logs and metrics.
	Name() string

	// Close closes the storage backend.
	Close() error
}

// Open creates the backend selected by cfg.Type. "none" and "" return a
// nil backend.
func Open(ctx context.Context, cfg config.StorageConfig) (Backend, error) {
	var (
		b   Backend
		err error
	)
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "memory":
		return NewMemoryStorage(), nil
	case "sqlite":
		b, err = NewSQLiteStorage(cfg.Path)
	case "postgresql", "postgres":
		b, err = NewPostgresStorage(cfg.URL)
	case "s3":
		b, err = NewS3Storage(ctx, S3Config{
			Endpoint:  cfg.Endpoint,
			Bucket:    cfg.Bucket,
			Prefix:    cfg.Prefix,
			Region:    cfg.Region,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
		})
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}
