package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/zot/uigen/internal/metrics"
	"github.com/zot/uigen/internal/vfs"
)

// SQLiteStorage is a SQLite storage backend. Each project is one row
// holding its snapshot as a msgpack blob.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates a new SQLite storage backend.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// a single connection serializes writers
	db.SetMaxOpenConns(1)

	s := &SQLiteStorage{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// init creates the necessary tables.
func (s *SQLiteStorage) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			snapshot BLOB NOT NULL,
			files INTEGER DEFAULT 0,
			updated_at INTEGER NOT NULL
		);
	`)
	return err
}

func (s *SQLiteStorage) Name() string { return "sqlite" }

// Save persists a snapshot to SQLite.
func (s *SQLiteStorage) Save(ctx context.Context, id string, snap vfs.Snapshot) (err error) {
	defer func() { metrics.RecordSnapshotSave(s.Name(), err) }()

	blob, err := msgpack.Marshal(map[string]string(snap))
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", id, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO projects (id, snapshot, files, updated_at)
		VALUES (?, ?, ?, ?)
	`, id, blob, len(snap), time.Now().Unix())
	return err
}

// Load retrieves a snapshot from SQLite.
func (s *SQLiteStorage) Load(ctx context.Context, id string) (vfs.Snapshot, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT snapshot FROM projects WHERE id = ?`, id).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	var files map[string]string
	if err := msgpack.Unmarshal(blob, &files); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", id, err)
	}
	if files == nil {
		files = make(map[string]string)
	}
	return vfs.Snapshot(files), nil
}

// Delete removes a project from SQLite.
func (s *SQLiteStorage) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM projects WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete %s: %w", id, ErrNotFound)
	}
	return nil
}

// List returns all project ids.
func (s *SQLiteStorage) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM projects ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the storage backend.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
