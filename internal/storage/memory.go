package storage

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"

	"github.com/zot/uigen/internal/metrics"
	"github.com/zot/uigen/internal/vfs"
)

// MemoryStorage is an in-memory storage backend. Snapshots survive
// sessions but not the process.
type MemoryStorage struct {
	projects map[string]vfs.Snapshot
	mu       sync.RWMutex
}

// NewMemoryStorage creates a new in-memory storage backend.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{projects: make(map[string]vfs.Snapshot)}
}

func (m *MemoryStorage) Name() string { return "memory" }

// Save stores a copy of snap.
func (m *MemoryStorage) Save(_ context.Context, id string, snap vfs.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects[id] = maps.Clone(snap)
	metrics.RecordSnapshotSave(m.Name(), nil)
	return nil
}

// Load returns a copy of the stored snapshot.
func (m *MemoryStorage) Load(_ context.Context, id string) (vfs.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.projects[id]
	if !ok {
		return nil, fmt.Errorf("load %s: %w", id, ErrNotFound)
	}
	return maps.Clone(snap), nil
}

// Delete removes a project.
func (m *MemoryStorage) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[id]; !ok {
		return fmt.Errorf("delete %s: %w", id, ErrNotFound)
	}
	delete(m.projects, id)
	return nil
}

// List returns the stored project ids.
func (m *MemoryStorage) List(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.projects))
	for id := range m.projects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close does nothing for memory storage.
func (m *MemoryStorage) Close() error {
	return nil
}
