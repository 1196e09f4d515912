// Package hotload mirrors a directory on disk into a live project. Every
// debounced burst of file system changes is applied as one batch, so the
// preview regenerates once per save rather than once per file.
package hotload

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zot/uigen/internal/bundle"
	"github.com/zot/uigen/internal/config"
	"github.com/zot/uigen/internal/project"
	"github.com/zot/uigen/internal/vfs"
)

// HotLoader watches a directory tree and applies its changes to a project.
type HotLoader struct {
	config  *config.Config
	dir     string
	realDir string
	project *project.Project
	watcher *fsnotify.Watcher

	watchedDirs map[string]bool
	mu          sync.Mutex

	// Debouncing
	pending       map[string]time.Time
	debounceMu    sync.Mutex
	debounceDelay time.Duration

	applied func(n int) // called after each applied batch, for tests
	done    chan struct{}
}

// NewHotLoader creates a hot loader mirroring dir into p.
func NewHotLoader(cfg *config.Config, dir string, p *project.Project) (*HotLoader, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	realDir, err := filepath.EvalSymlinks(absDir)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &HotLoader{
		config:        cfg,
		dir:           absDir,
		realDir:       realDir,
		project:       p,
		watcher:       watcher,
		watchedDirs:   make(map[string]bool),
		pending:       make(map[string]time.Time),
		debounceDelay: 100 * time.Millisecond,
		done:          make(chan struct{}),
	}, nil
}

// Load replaces the project contents with the directory contents.
func (h *HotLoader) Load() (int, error) {
	snap, err := bundle.ReadDir(h.dir)
	if err != nil {
		return 0, err
	}
	if err := h.project.Restore(snap); err != nil {
		return 0, err
	}
	h.config.Log(1, "HotLoader: loaded %d files from %s", len(snap), h.dir)
	return len(snap), nil
}

// Start begins watching for file changes.
func (h *HotLoader) Start() error {
	if err := h.watchTree(h.dir, false); err != nil {
		return err
	}
	go h.eventLoop()
	go h.debounceLoop()
	h.config.Log(1, "HotLoader: watching %s for changes", h.dir)
	return nil
}

// Stop stops the hot loader.
func (h *HotLoader) Stop() error {
	close(h.done)
	return h.watcher.Close()
}

// watchTree watches root and every directory under it that snapshots
// include. With queueFiles, files already present are queued too: they may
// have been written before the watch existed.
func (h *HotLoader) watchTree(root string, queueFiles bool) error {
	return filepath.WalkDir(root, func(filePath string, d fs.DirEntry, err error) error {
		if err != nil {
			if filePath == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			if queueFiles {
				h.queue(filePath)
			}
			return nil
		}
		if filePath != root && bundle.SkipDir(d.Name()) {
			return filepath.SkipDir
		}
		return h.addWatch(filePath)
	})
}

func (h *HotLoader) addWatch(dir string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.watchedDirs[dir] {
		return nil
	}
	if err := h.watcher.Add(dir); err != nil {
		return err
	}
	h.watchedDirs[dir] = true
	h.config.Log(2, "HotLoader: added watch for %s", dir)
	return nil
}

// forgetTree drops the watches of a removed or renamed directory.
func (h *HotLoader) forgetTree(root string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for dir := range h.watchedDirs {
		if dir == root || strings.HasPrefix(dir, root+string(filepath.Separator)) {
			h.watcher.Remove(dir)
			delete(h.watchedDirs, dir)
			h.config.Log(2, "HotLoader: removed watch for %s", dir)
		}
	}
}

// eventLoop processes file system events.
func (h *HotLoader) eventLoop() {
	for {
		select {
		case <-h.done:
			return
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			h.handleEvent(event)
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.config.Log(1, "HotLoader: watcher error: %v", err)
		}
	}
}

// ignored reports whether filePath is outside what snapshots include.
func (h *HotLoader) ignored(filePath string) bool {
	rel, err := filepath.Rel(h.dir, filePath)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return true
	}
	if bundle.IGNORE_FILES.MatchString(filepath.ToSlash(rel)) {
		return true
	}
	parts := strings.Split(rel, string(filepath.Separator))
	for _, dir := range parts[:len(parts)-1] {
		if bundle.SkipDir(dir) {
			return true
		}
	}
	return false
}

// handleEvent processes a single file system event.
func (h *HotLoader) handleEvent(event fsnotify.Event) {
	if h.ignored(event.Name) {
		return
	}
	h.config.Log(3, "HotLoader: event %s on %s", event.Op, event.Name)

	switch {
	case event.Has(fsnotify.Create):
		if info, err := os.Lstat(event.Name); err == nil && info.IsDir() {
			if bundle.SkipDir(filepath.Base(event.Name)) {
				return
			}
			if err := h.watchTree(event.Name, true); err != nil {
				h.config.Log(1, "HotLoader: cannot watch %s: %v", event.Name, err)
			}
			return
		}
		h.queue(event.Name)
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		h.forgetTree(event.Name)
		h.queue(event.Name)
	case event.Has(fsnotify.Write):
		h.queue(event.Name)
	}
}

// queue queues a path for syncing with debouncing.
func (h *HotLoader) queue(filePath string) {
	h.debounceMu.Lock()
	h.pending[filePath] = time.Now()
	h.debounceMu.Unlock()
}

// debounceLoop processes pending paths after the debounce delay.
func (h *HotLoader) debounceLoop() {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.processPending()
		}
	}
}

// processPending syncs every path that has been quiet for debounceDelay.
// A path still being written holds back the whole burst.
func (h *HotLoader) processPending() {
	h.debounceMu.Lock()
	now := time.Now()
	var ready []string
	for path, queuedAt := range h.pending {
		if now.Sub(queuedAt) < h.debounceDelay {
			h.debounceMu.Unlock()
			return
		}
		ready = append(ready, path)
	}
	for _, path := range ready {
		delete(h.pending, path)
	}
	h.debounceMu.Unlock()

	if len(ready) == 0 {
		return
	}
	sort.Strings(ready)
	h.apply(ready)
}

// apply copies the current disk state of paths into the project in one batch.
func (h *HotLoader) apply(paths []string) {
	changed := 0
	err := h.project.Batch(func(s *vfs.Store) error {
		for _, filePath := range paths {
			p, err := bundle.ProjectPath(h.dir, filePath)
			if err != nil {
				h.config.Log(2, "HotLoader: skipping %s: %v", filePath, err)
				continue
			}
			content, ok := h.read(filePath)
			if !ok {
				// Directories arrive file by file.
				if info, err := os.Stat(filePath); err == nil && info.IsDir() {
					if s.IsFile(string(p)) {
						changed += h.removeNode(s, p)
					}
					continue
				}
				if s.Exists(string(p)) {
					changed += h.removeNode(s, p)
				}
				continue
			}
			if old, err := s.Read(string(p)); err == nil && old == content {
				continue
			}
			// a file that became a directory on disk, or the reverse
			for _, dir := range p.Ancestors() {
				if s.IsFile(string(dir)) {
					changed += h.removeNode(s, dir)
				}
			}
			if s.Exists(string(p)) && !s.IsFile(string(p)) {
				changed += h.removeNode(s, p)
			}
			if err := s.Write(string(p), content); err != nil {
				h.config.Log(1, "HotLoader: cannot write %s: %v", p, err)
				continue
			}
			h.config.Log(2, "HotLoader: wrote %s", p)
			changed++
		}
		return nil
	})
	if err != nil {
		h.config.Log(0, "HotLoader: batch failed: %v", err)
		return
	}
	if changed > 0 {
		h.config.Log(1, "HotLoader: applied %d change(s)", changed)
	}
	if h.applied != nil {
		h.applied(changed)
	}
}

// removeNode removes a node and reports how many changes that made.
func (h *HotLoader) removeNode(s *vfs.Store, p vfs.Path) int {
	if err := s.Remove(string(p)); err != nil {
		h.config.Log(1, "HotLoader: cannot remove %s: %v", p, err)
		return 0
	}
	h.config.Log(2, "HotLoader: removed %s", p)
	return 1
}

// read returns the content of a regular text file that belongs in the
// project. Symlinks must resolve inside the mirrored directory.
func (h *HotLoader) read(filePath string) (string, bool) {
	info, err := os.Lstat(filePath)
	if err != nil {
		return "", false
	}
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := filepath.EvalSymlinks(filePath)
		if err != nil || !strings.HasPrefix(target, h.realDir+string(filepath.Separator)) {
			return "", false
		}
		if info, err = os.Stat(target); err != nil {
			return "", false
		}
	}
	if !info.Mode().IsRegular() {
		return "", false
	}
	content, ok, err := bundle.ReadTextFile(filePath)
	if err != nil || !ok {
		return "", false
	}
	return content, true
}
