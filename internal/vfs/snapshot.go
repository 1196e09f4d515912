package vfs

import (
	"sort"
)

// Snapshot is the flat persistence form of a store: file path to content.
// Directories are implied by path prefixes.
type Snapshot map[string]string

// Paths returns the snapshot's keys in sorted order.
func (snap Snapshot) Paths() []string {
	paths := make([]string, 0, len(snap))
	for p := range snap {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Equal reports whether two snapshots hold the same files and contents.
func (snap Snapshot) Equal(other Snapshot) bool {
	if len(snap) != len(other) {
		return false
	}
	for p, content := range snap {
		if c, ok := other[p]; !ok || c != content {
			return false
		}
	}
	return true
}

// Snapshot returns every file path and its content.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := make(Snapshot)
	for p, n := range s.nodes {
		if n.kind == KindFile {
			snap[string(p)] = n.content
		}
	}
	return snap
}

// Restore replaces the store's contents from a snapshot. The snapshot is
// validated completely before anything changes; on error the store is
// left as it was.
func (s *Store) Restore(snap Snapshot) error {
	staged := NewStore()
	staged.now = s.now
	seen := make(map[Path]string, len(snap))
	for _, raw := range snap.Paths() {
		p, err := normalize("restore", raw)
		if err != nil {
			return err
		}
		if prev, dup := seen[p]; dup {
			return &ConflictError{Op: "restore", Path: p, Reason: "also named by " + prev}
		}
		seen[p] = raw
		if err := staged.Write(raw, snap[raw]); err != nil {
			if ce, ok := err.(*ConflictError); ok {
				ce.Op = "restore"
			}
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.revision++
	for _, n := range staged.nodes {
		n.revision = s.revision
	}
	s.nodes = staged.nodes
	return nil
}
