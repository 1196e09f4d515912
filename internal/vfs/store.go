// Package vfs implements the in-memory project file store.
// Nodes are keyed by normalized path rather than linked by pointers, so a
// rename is a bulk rewrite of path prefixes.
package vfs

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Kind distinguishes file nodes from directory nodes.
type Kind int

const (
	KindFile Kind = iota
	KindDirectory
)

func (k Kind) String() string {
	if k == KindDirectory {
		return "directory"
	}
	return "file"
}

// node is the stored form; callers only ever see Info copies.
type node struct {
	kind     Kind
	path     Path
	content  string
	revision uint64
	modTime  time.Time
	children map[string]struct{}
}

// Info describes a node without exposing it.
type Info struct {
	Path     Path
	Kind     Kind
	Size     int
	Revision uint64 // store revision at which the node last changed
	ModTime  time.Time
}

// IsDir reports whether the node is a directory.
func (i Info) IsDir() bool {
	return i.Kind == KindDirectory
}

// Store is an in-memory tree of files and directories. It always contains
// the root directory. All path arguments are normalized first and a
// malformed path fails with *PathError before anything changes.
type Store struct {
	nodes    map[Path]*node
	revision uint64
	now      func() time.Time
	mu       sync.RWMutex
}

// NewStore creates a store holding only the root directory.
func NewStore() *Store {
	s := &Store{now: time.Now}
	s.nodes = map[Path]*node{Root: s.newDir(Root)}
	return s
}

// FromSnapshot creates a store hydrated from a snapshot.
func FromSnapshot(snap Snapshot) (*Store, error) {
	s := NewStore()
	if err := s.Restore(snap); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) newDir(p Path) *node {
	return &node{kind: KindDirectory, path: p, revision: s.revision, modTime: s.now(), children: make(map[string]struct{})}
}

// Revision returns a counter that increases with every successful mutation.
func (s *Store) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision
}

// Write creates or overwrites a file, creating missing ancestor directories.
func (s *Store) Write(raw, content string) error {
	p, err := normalize("write", raw)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if n, ok := s.nodes[p]; ok {
		if n.kind == KindDirectory {
			return &ConflictError{Op: "write", Path: p, Reason: "path is a directory"}
		}
		s.revision++
		n.content = content
		n.revision = s.revision
		n.modTime = s.now()
		return nil
	}
	if err := s.checkAncestors("write", p); err != nil {
		return err
	}

	s.revision++
	s.ensureAncestors(p)
	s.nodes[p] = &node{kind: KindFile, path: p, content: content, revision: s.revision, modTime: s.now()}
	s.nodes[p.Parent()].children[p.Base()] = struct{}{}
	return nil
}

// Mkdir creates a directory and any missing ancestors. Creating an
// existing directory is not an error.
func (s *Store) Mkdir(raw string) error {
	p, err := normalize("mkdir", raw)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if n, ok := s.nodes[p]; ok {
		if n.kind == KindFile {
			return &ConflictError{Op: "mkdir", Path: p, Reason: "path is a file"}
		}
		return nil
	}
	if err := s.checkAncestors("mkdir", p); err != nil {
		return err
	}

	s.revision++
	s.ensureAncestors(p)
	s.nodes[p] = s.newDir(p)
	s.nodes[p.Parent()].children[p.Base()] = struct{}{}
	return nil
}

// Read returns a file's content.
func (s *Store) Read(raw string) (string, error) {
	p, err := normalize("read", raw)
	if err != nil {
		return "", err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[p]
	if !ok {
		return "", &NotFoundError{Op: "read", Path: p}
	}
	if n.kind == KindDirectory {
		return "", &NotFoundError{Op: "read", Path: p, Reason: "is a directory"}
	}
	return n.content, nil
}

// Stat describes the node at a path.
func (s *Store) Stat(raw string) (Info, error) {
	p, err := normalize("stat", raw)
	if err != nil {
		return Info{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[p]
	if !ok {
		return Info{}, &NotFoundError{Op: "stat", Path: p}
	}
	return n.info(), nil
}

func (n *node) info() Info {
	return Info{Path: n.path, Kind: n.kind, Size: len(n.content), Revision: n.revision, ModTime: n.modTime}
}

// Exists reports whether a valid path names a node.
func (s *Store) Exists(raw string) bool {
	_, err := s.Stat(raw)
	return err == nil
}

// IsFile reports whether a valid path names a file.
func (s *Store) IsFile(raw string) bool {
	info, err := s.Stat(raw)
	return err == nil && info.Kind == KindFile
}

// Remove deletes a file, or a directory and everything beneath it.
// The root cannot be removed.
func (s *Store) Remove(raw string) error {
	p, err := normalize("remove", raw)
	if err != nil {
		return err
	}
	if p.IsRoot() {
		return &ConflictError{Op: "remove", Path: p, Reason: "cannot remove the root directory"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[p]; !ok {
		return &NotFoundError{Op: "remove", Path: p}
	}

	s.revision++
	for _, q := range s.subtree(p) {
		delete(s.nodes, q)
	}
	parent := s.nodes[p.Parent()]
	delete(parent.children, p.Base())
	parent.revision = s.revision
	return nil
}

// Move relocates a file or a whole directory subtree, creating missing
// ancestors of the destination. The destination must not exist and must
// not lie inside the source. Moving a path onto itself does nothing.
func (s *Store) Move(rawOld, rawNew string) error {
	from, err := normalize("move", rawOld)
	if err != nil {
		return err
	}
	to, err := normalize("move", rawNew)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if from.IsRoot() {
		return &ConflictError{Op: "move", Path: from, Reason: "cannot move the root directory"}
	}
	if _, ok := s.nodes[from]; !ok {
		return &NotFoundError{Op: "move", Path: from}
	}
	if from == to {
		return nil
	}
	if from.Contains(to) {
		return &ConflictError{Op: "move", Path: to, Reason: "destination is inside the source"}
	}
	if existing, ok := s.nodes[to]; ok {
		return &ConflictError{Op: "move", Path: to, Reason: "destination exists as a " + existing.kind.String()}
	}
	if err := s.checkAncestors("move", to); err != nil {
		return err
	}

	s.revision++
	s.ensureAncestors(to)

	moved := s.subtree(from)
	relocated := make([]*node, 0, len(moved))
	for _, q := range moved {
		n := s.nodes[q]
		delete(s.nodes, q)
		n.path = q.Rebase(from, to)
		relocated = append(relocated, n)
	}
	for _, n := range relocated {
		s.nodes[n.path] = n
	}

	oldParent := s.nodes[from.Parent()]
	delete(oldParent.children, from.Base())
	oldParent.revision = s.revision
	newParent := s.nodes[to.Parent()]
	newParent.children[to.Base()] = struct{}{}
	newParent.revision = s.revision
	return nil
}

// List returns the sorted child names of a directory.
func (s *Store) List(raw string) ([]string, error) {
	p, err := normalize("list", raw)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[p]
	if !ok {
		return nil, &NotFoundError{Op: "list", Path: p}
	}
	if n.kind != KindDirectory {
		return nil, &NotFoundError{Op: "list", Path: p, Reason: "not a directory"}
	}
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Files returns every file path in sorted order.
func (s *Store) Files() []Path {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var files []Path
	for p, n := range s.nodes {
		if n.kind == KindFile {
			files = append(files, p)
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i] < files[j] })
	return files
}

// Walk calls fn for every node in path order until fn returns an error.
func (s *Store) Walk(fn func(Info) error) error {
	s.mu.RLock()
	infos := make([]Info, 0, len(s.nodes))
	for _, n := range s.nodes {
		infos = append(infos, n.info())
	}
	s.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })
	for _, info := range infos {
		if err := fn(info); err != nil {
			return err
		}
	}
	return nil
}

// Check verifies the store's structural invariants. A failure means an
// earlier operation corrupted the store.
func (s *Store) Check() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	root, ok := s.nodes[Root]
	if !ok || root.kind != KindDirectory {
		return fmt.Errorf("vfs: root directory missing")
	}
	for p, n := range s.nodes {
		if n.path != p {
			return fmt.Errorf("vfs: node keyed %s records path %s", p, n.path)
		}
		if n.kind == KindDirectory {
			for name := range n.children {
				if _, ok := s.nodes[p.Join(name)]; !ok {
					return fmt.Errorf("vfs: %s lists missing child %q", p, name)
				}
			}
		}
		if p.IsRoot() {
			continue
		}
		parent, ok := s.nodes[p.Parent()]
		if !ok || parent.kind != KindDirectory {
			return fmt.Errorf("vfs: %s has no parent directory", p)
		}
		if _, ok := parent.children[p.Base()]; !ok {
			return fmt.Errorf("vfs: %s is not listed by its parent", p)
		}
	}
	return nil
}

// checkAncestors fails if any ancestor of p is a file.
func (s *Store) checkAncestors(op string, p Path) error {
	for _, a := range p.Ancestors() {
		if n, ok := s.nodes[a]; ok && n.kind == KindFile {
			return &ConflictError{Op: op, Path: p, Reason: fmt.Sprintf("ancestor %s is a file", a)}
		}
	}
	return nil
}

// ensureAncestors creates missing ancestor directories of p. Callers must
// have run checkAncestors.
func (s *Store) ensureAncestors(p Path) {
	for _, a := range p.Ancestors() {
		if _, ok := s.nodes[a]; ok {
			continue
		}
		s.nodes[a] = s.newDir(a)
		s.nodes[a.Parent()].children[a.Base()] = struct{}{}
	}
}

// subtree returns p and every path beneath it.
func (s *Store) subtree(p Path) []Path {
	result := []Path{p}
	prefix := string(p) + "/"
	for q := range s.nodes {
		if strings.HasPrefix(string(q), prefix) {
			result = append(result, q)
		}
	}
	return result
}
