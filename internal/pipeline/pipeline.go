// Package pipeline turns store snapshots into preview documents.
//
// Every Trigger starts a generation and cancels the one in flight. A
// generation that finishes after a newer one was triggered is discarded,
// so the publisher only ever sees the latest store state. The previously
// published generation is retired after its successor is published.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zot/uigen/internal/handles"
	"github.com/zot/uigen/internal/logging"
	"github.com/zot/uigen/internal/metrics"
	"github.com/zot/uigen/internal/preview"
	"github.com/zot/uigen/internal/resolve"
	"github.com/zot/uigen/internal/transform"
	"github.com/zot/uigen/internal/vfs"
)

// Result is one finished generation.
type Result struct {
	Seq          uint64
	Document     *preview.Document
	Generation   *handles.Generation
	Map          *resolve.Map
	Diagnostics  []*transform.Diagnostic
	Placeholders []*resolve.TargetPlaceholder
	Duration     time.Duration
}

// Publisher receives each generation that becomes the active preview.
type Publisher interface {
	Publish(r *Result)
}

// PublishFunc adapts a function to Publisher.
type PublishFunc func(r *Result)

func (f PublishFunc) Publish(r *Result) { f(r) }

// Options configures a pipeline.
type Options struct {
	Transform   transform.Options
	Resolve     resolve.Options
	Title       string
	HeadScripts []string
	Workers     int // parallel compiles, GOMAXPROCS when 0
}

// Pipeline regenerates the preview of one project.
type Pipeline struct {
	opts      Options
	compiler  *transform.Compiler
	handles   *handles.Manager
	publisher Publisher
	log       *zap.Logger

	cacheMu  sync.Mutex
	cache    map[string]*transform.Module
	compiles atomic.Uint64

	mu        sync.Mutex
	seq       uint64
	cancel    context.CancelFunc
	latest    *Result
	published uint64
	finished  uint64     // highest sequence whose run has ended
	done      *sync.Cond // signalled on p.mu when a run ends or on Close
	closed    bool
	wg        sync.WaitGroup // runs in flight, waited for by Close only

	pubMu sync.Mutex
	hook  func(seq uint64) // test hook, runs before publishing
}

// New creates a pipeline publishing to pub.
func New(opts Options, h *handles.Manager, pub Publisher) *Pipeline {
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	p := &Pipeline{
		opts:      opts,
		compiler:  transform.NewCompiler(opts.Transform),
		handles:   h,
		publisher: pub,
		log:       logging.Named("pipeline"),
		cache:     make(map[string]*transform.Module),
	}
	p.done = sync.NewCond(&p.mu)
	return p
}

// ErrSuperseded is returned for a generation overtaken by a newer one.
var ErrSuperseded = errors.New("generation superseded")

// Trigger starts a generation for snap, superseding any in flight, and
// returns its sequence number. It does not wait for the generation.
func (p *Pipeline) Trigger(snap vfs.Snapshot) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return p.seq
	}
	if p.cancel != nil {
		p.cancel()
	}
	p.seq++
	seq := p.seq
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.finish(seq)
		defer cancel()
		p.run(ctx, seq, snap)
	}()
	return seq
}

// finish records that the run of seq has ended. Runs end out of order; a
// later sequence ending implies every earlier one is settled, since those
// can no longer publish.
func (p *Pipeline) finish(seq uint64) {
	p.mu.Lock()
	if seq > p.finished {
		p.finished = seq
	}
	p.mu.Unlock()
	p.done.Broadcast()
}

func (p *Pipeline) current(seq uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return seq == p.seq && !p.closed
}

func (p *Pipeline) run(ctx context.Context, seq uint64, snap vfs.Snapshot) {
	start := time.Now()
	res, err := p.Generate(ctx, seq, snap)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			p.log.Debug("generation cancelled", zap.Uint64("seq", seq))
			metrics.RecordGeneration("superseded", time.Since(start))
			return
		}
		p.log.Error("generation failed", zap.Uint64("seq", seq), zap.Error(err))
		metrics.RecordGeneration("error", time.Since(start))
		return
	}
	if err := p.publish(res); err != nil {
		p.log.Debug("generation discarded", zap.Uint64("seq", seq), zap.Error(err))
		metrics.RecordGeneration("superseded", res.Duration)
		return
	}
	outcome := string(res.Document.Kind)
	metrics.RecordGeneration(outcome, res.Duration)
	p.log.Debug("generation published",
		zap.Uint64("seq", seq),
		zap.String("kind", outcome),
		zap.Int("handles", res.Generation.Len()),
		zap.Duration("duration", res.Duration))
}

// publish hands res to the publisher unless a newer generation exists,
// then retires the generation it replaced.
func (p *Pipeline) publish(res *Result) error {
	p.pubMu.Lock()
	if p.hook != nil {
		p.hook(res.Seq)
	}
	if !p.current(res.Seq) || res.Seq <= p.published {
		p.pubMu.Unlock()
		p.handles.Retire(res.Generation)
		return ErrSuperseded
	}
	prev := p.handles.Commit(res.Generation)
	p.published = res.Seq
	p.mu.Lock()
	p.latest = res
	p.mu.Unlock()
	if p.publisher != nil {
		p.publisher.Publish(res)
	}
	p.pubMu.Unlock()
	p.handles.Retire(prev)
	return nil
}

// Generate builds one generation from snap without publishing it. The
// caller owns the returned generation's handles.
func (p *Pipeline) Generate(ctx context.Context, seq uint64, snap vfs.Snapshot) (*Result, error) {
	start := time.Now()
	store, err := vfs.FromSnapshot(snap)
	if err != nil {
		return nil, fmt.Errorf("generation %d: %w", seq, err)
	}
	modules, err := p.compileAll(ctx, store)
	if err != nil {
		return nil, err
	}

	res := &Result{Seq: seq, Map: resolve.Resolve(store, modules, p.opts.Resolve)}
	for _, mod := range modules {
		if !mod.OK() {
			res.Diagnostics = append(res.Diagnostics, mod.Diagnostic)
		}
	}
	res.Placeholders = res.Map.Placeholders()
	metrics.RecordPlaceholders(len(res.Placeholders))

	in := preview.Input{
		Title:       p.opts.Title,
		Styles:      res.Map.Styles,
		Entry:       res.Map.Entry,
		EntryPath:   p.opts.Resolve.Entry,
		Diagnostics: res.Diagnostics,
		HeadScripts: p.opts.HeadScripts,
	}
	if len(res.Diagnostics) > 0 {
		res.Generation = &handles.Generation{Seq: seq}
	} else {
		gen, err := p.handles.Materialize(ctx, seq, modules, res.Map)
		if err != nil {
			return nil, err
		}
		res.Generation = gen
		in.Imports = gen.Imports
	}
	res.Document = preview.Build(in)
	res.Duration = time.Since(start)
	return res, nil
}

// compileAll compiles every source file of store in parallel, reusing
// modules whose path and content are unchanged.
func (p *Pipeline) compileAll(ctx context.Context, store *vfs.Store) ([]*transform.Module, error) {
	var paths []vfs.Path
	for _, path := range store.Files() {
		if p.compiler.Handles(path) {
			paths = append(paths, path)
		}
	}
	modules := make([]*transform.Module, len(paths))
	keys := make([]string, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			content, err := store.Read(string(path))
			if err != nil {
				return err
			}
			keys[i] = cacheKey(path, content)
			if mod, ok := p.cached(keys[i]); ok {
				metrics.RecordCompileCache(true)
				modules[i] = mod
				return nil
			}
			metrics.RecordCompileCache(false)
			start := time.Now()
			mod := p.compiler.Compile(path, content)
			p.compiles.Add(1)
			metrics.RecordCompile(time.Since(start), !mod.OK())
			modules[i] = mod
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.keep(keys, modules)
	return modules, nil
}

func cacheKey(path vfs.Path, content string) string {
	h := sha256.New()
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))
}

func (p *Pipeline) cached(key string) (*transform.Module, bool) {
	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()
	mod, ok := p.cache[key]
	return mod, ok
}

// keep replaces the cache with the modules of the latest compile.
func (p *Pipeline) keep(keys []string, modules []*transform.Module) {
	next := make(map[string]*transform.Module, len(keys))
	for i, key := range keys {
		next[key] = modules[i]
	}
	p.cacheMu.Lock()
	p.cache = next
	p.cacheMu.Unlock()
}

// Compiles returns how many files have been compiled, cache hits excluded.
func (p *Pipeline) Compiles() uint64 {
	return p.compiles.Load()
}

// Latest returns the most recently published generation, or nil.
func (p *Pipeline) Latest() *Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latest
}

// Diagnostics returns the diagnostics of the latest published generation
// sorted by file.
func (p *Pipeline) Diagnostics() []*transform.Diagnostic {
	latest := p.Latest()
	if latest == nil {
		return nil
	}
	diags := append([]*transform.Diagnostic(nil), latest.Diagnostics...)
	sort.Slice(diags, func(i, j int) bool { return diags[i].File < diags[j].File })
	return diags
}

// Wait blocks until the generation of the latest Trigger before the call
// has finished, or the pipeline is closed. It is safe to call while other
// goroutines keep triggering.
func (p *Pipeline) Wait() {
	p.mu.Lock()
	defer p.mu.Unlock()
	target := p.seq
	for p.finished < target && !p.closed {
		p.done.Wait()
	}
}

// Close cancels the generation in flight, waits for it and retires the
// active handles.
func (p *Pipeline) Close() {
	p.mu.Lock()
	p.closed = true
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()
	p.done.Broadcast()
	p.wg.Wait()
	p.handles.Close()
}
