// Package project owns one virtual store and keeps its preview current.
//
// All mutations run as batches on a per-project serial executor, so the
// store has a single writer. After a batch that changed the store, the
// project snapshots it, triggers the pipeline and schedules an autosave.
package project

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/zot/uigen/internal/handles"
	"github.com/zot/uigen/internal/logging"
	"github.com/zot/uigen/internal/pipeline"
	"github.com/zot/uigen/internal/vfs"
)

// Saver persists snapshots; storage backends implement it.
type Saver interface {
	Save(ctx context.Context, id string, snap vfs.Snapshot) error
}

// Options configures a project.
type Options struct {
	ID        string
	Pipeline  pipeline.Options
	Handles   *handles.Manager
	Publisher pipeline.Publisher
	Saver     Saver // nil disables autosave
}

// ErrClosed is returned for batches submitted after Close.
var ErrClosed = errors.New("project closed")

// Project is a store, its executor and its pipeline.
type Project struct {
	ID       string
	store    *vfs.Store
	svc      ChanSvc
	pipeline *pipeline.Pipeline
	saver    *autosaver
	log      *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// New creates a project with an empty store. Call Restore to seed it.
func New(opts Options) *Project {
	h := opts.Handles
	if h == nil {
		h = handles.NewManager(handles.ModeServed, "", nil)
	}
	p := &Project{
		ID:       opts.ID,
		store:    vfs.NewStore(),
		svc:      make(ChanSvc, 64),
		pipeline: pipeline.New(opts.Pipeline, h, opts.Publisher),
		log:      logging.Named("project").With(zap.String("project", opts.ID)),
	}
	if opts.Saver != nil {
		p.saver = newAutosaver(opts.ID, opts.Saver, p.log)
	}
	RunSvc(p.svc)
	return p
}

// Pipeline returns the project's pipeline.
func (p *Project) Pipeline() *pipeline.Pipeline {
	return p.pipeline
}

// Batch runs fn on the executor with exclusive access to the store. If
// the store changed, a generation is triggered once fn returns, whether
// or not fn failed: every operation that succeeded is kept.
func (p *Project) Batch(fn func(s *vfs.Store) error) error {
	return p.batch(fn, false)
}

// Atomic is Batch, except that an error restores the store to its state
// before fn ran.
func (p *Project) Atomic(fn func(s *vfs.Store) error) error {
	return p.batch(fn, true)
}

func (p *Project) batch(fn func(s *vfs.Store) error, atomic bool) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	_, err := SvcSync(p.svc, func() (struct{}, error) {
		before := p.store.Revision()
		var saved vfs.Snapshot
		if atomic {
			saved = p.store.Snapshot()
		}
		err := run(fn, p.store)
		if err != nil && atomic {
			if rerr := p.store.Restore(saved); rerr != nil {
				// a snapshot of this store always restores
				p.log.Error("rollback failed", zap.Error(rerr))
			}
			return struct{}{}, err
		}
		if p.store.Revision() != before {
			p.changed()
		}
		return struct{}{}, err
	})
	return err
}

// run calls fn, turning a panic into an error so the executor survives.
func run(fn func(s *vfs.Store) error, s *vfs.Store) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("batch panicked: %v", r)
		}
	}()
	return fn(s)
}

// changed runs on the executor after a batch modified the store.
func (p *Project) changed() {
	snap := p.store.Snapshot()
	seq := p.pipeline.Trigger(snap)
	p.log.Debug("store changed", zap.Uint64("revision", p.store.Revision()), zap.Uint64("generation", seq))
	if p.saver != nil {
		p.saver.schedule(snap)
	}
}

// View runs fn on the executor without triggering a generation. fn must
// not modify the store.
func (p *Project) View(fn func(s *vfs.Store) error) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	_, err := SvcSync(p.svc, func() (struct{}, error) {
		return struct{}{}, run(fn, p.store)
	})
	return err
}

// Snapshot returns the current store contents.
func (p *Project) Snapshot() (vfs.Snapshot, error) {
	var snap vfs.Snapshot
	err := p.View(func(s *vfs.Store) error {
		snap = s.Snapshot()
		return nil
	})
	return snap, err
}

// Restore replaces the store contents with snap.
func (p *Project) Restore(snap vfs.Snapshot) error {
	return p.Batch(func(s *vfs.Store) error {
		return s.Restore(snap)
	})
}

// Regenerate triggers a generation for the current contents even if
// nothing changed.
func (p *Project) Regenerate() error {
	return p.View(func(s *vfs.Store) error {
		p.pipeline.Trigger(s.Snapshot())
		return nil
	})
}

// Flush waits for pending generations and autosaves.
func (p *Project) Flush() {
	p.pipeline.Wait()
	if p.saver != nil {
		p.saver.flush()
	}
}

// Close stops the executor and pipeline after saving pending changes.
func (p *Project) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.svc)
	p.mu.Unlock()

	p.pipeline.Close()
	if p.saver != nil {
		p.saver.close()
	}
}
