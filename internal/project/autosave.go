package project

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zot/uigen/internal/vfs"
)

const saveTimeout = 30 * time.Second

// autosaver writes the latest scheduled snapshot on its own goroutine.
// Snapshots scheduled while a save is running coalesce into one.
type autosaver struct {
	id    string
	saver Saver
	log   *zap.Logger

	mu      sync.Mutex
	pending vfs.Snapshot
	busy    bool
	idle    *sync.Cond
}

func newAutosaver(id string, saver Saver, log *zap.Logger) *autosaver {
	a := &autosaver{id: id, saver: saver, log: log}
	a.idle = sync.NewCond(&a.mu)
	return a
}

func (a *autosaver) schedule(snap vfs.Snapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending = snap
	if !a.busy {
		a.busy = true
		go a.loop()
	}
}

func (a *autosaver) loop() {
	for {
		a.mu.Lock()
		snap := a.pending
		a.pending = nil
		if snap == nil {
			a.busy = false
			a.idle.Broadcast()
			a.mu.Unlock()
			return
		}
		a.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		if err := a.saver.Save(ctx, a.id, snap); err != nil {
			a.log.Warn("autosave failed", zap.Error(err))
		}
		cancel()
	}
}

// flush waits until no save is pending or running.
func (a *autosaver) flush() {
	a.mu.Lock()
	for a.busy {
		a.idle.Wait()
	}
	a.mu.Unlock()
}

func (a *autosaver) close() {
	a.flush()
}
