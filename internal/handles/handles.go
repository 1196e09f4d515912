// Package handles exposes compiled modules to the browser as transient
// URLs and releases them when their generation is superseded.
//
// At most one generation is active. The previous one is retired only
// after the document of its successor has been published.
package handles

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zot/uigen/internal/metrics"
	"github.com/zot/uigen/internal/resolve"
	"github.com/zot/uigen/internal/transform"
	"github.com/zot/uigen/internal/vfs"
)

// Mode selects how handle URLs are formed.
type Mode string

const (
	ModeServed Mode = "served" // URLs into a Registry served over HTTP
	ModeInline Mode = "inline" // data: URLs, for self-contained documents
)

// Generation is the set of handles created by one regeneration.
type Generation struct {
	Seq     uint64
	Imports map[string]string // import map: key -> URL

	names   []string // registry entries, served mode
	count   int
	retired bool
}

// Len returns the number of handles the generation created.
func (g *Generation) Len() int {
	return g.count
}

// Manager creates and retires handles for one project.
type Manager struct {
	mode        Mode
	base        string
	registry    *Registry
	retireDelay time.Duration
	active      *Generation
	live        int
	mu          sync.Mutex
}

// NewManager creates a manager. In served mode URLs are
// <base>/modules/<seq>/<uuid>.js and content lives in registry.
func NewManager(mode Mode, base string, registry *Registry) *Manager {
	if mode == "" {
		mode = ModeServed
	}
	if mode == ModeServed && registry == nil {
		registry = NewRegistry()
	}
	return &Manager{mode: mode, base: base, registry: registry}
}

// SetRetireDelay keeps superseded handles loadable for d after retirement
// is requested.
func (m *Manager) SetRetireDelay(d time.Duration) {
	m.mu.Lock()
	m.retireDelay = d
	m.mu.Unlock()
}

// Registry returns the registry serving this manager's handles.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Materialize creates one handle per compiled module and placeholder of a
// generation. Modules are served with their specifiers rewritten to import
// map keys. On cancellation everything created so far is released.
func (m *Manager) Materialize(ctx context.Context, seq uint64, modules []*transform.Module, res *resolve.Map) (*Generation, error) {
	gen := &Generation{Seq: seq, Imports: make(map[string]string, len(res.Entries))}
	byPath := make(map[vfs.Path]string, len(modules))

	for _, mod := range modules {
		if err := ctx.Err(); err != nil {
			m.release(gen)
			return nil, err
		}
		if !mod.OK() {
			continue
		}
		byPath[mod.Path] = m.create(gen, res.Rewrite(mod))
	}

	for _, key := range res.Keys() {
		switch target := res.Entries[key].(type) {
		case resolve.TargetLocal:
			if url, ok := byPath[target.Path]; ok {
				gen.Imports[key] = url
			}
		case resolve.TargetNetwork:
			gen.Imports[key] = target.URL
		case *resolve.TargetPlaceholder:
			gen.Imports[key] = m.create(gen, target.Code())
		}
	}

	m.mu.Lock()
	m.live += gen.count
	m.mu.Unlock()
	metrics.AddLiveHandles(gen.count)
	return gen, nil
}

func (m *Manager) create(gen *Generation, code string) string {
	gen.count++
	if m.mode == ModeInline {
		return "data:text/javascript;base64," + base64.StdEncoding.EncodeToString([]byte(code))
	}
	name := strconv.FormatUint(gen.Seq, 10) + "/" + uuid.NewString() + ".js"
	m.registry.put(name, code)
	gen.names = append(gen.names, name)
	return fmt.Sprintf("%s/modules/%s", m.base, name)
}

// release drops a generation that was never counted as live.
func (m *Manager) release(gen *Generation) {
	if m.registry != nil {
		m.registry.release(gen.names)
	}
	gen.names = nil
	gen.retired = true
}

// Commit makes gen the active generation and returns the one it replaces,
// which the caller retires once gen's document has been published.
func (m *Manager) Commit(gen *Generation) *Generation {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.active
	m.active = gen
	return prev
}

// Active returns the active generation, or nil.
func (m *Manager) Active() *Generation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Retire releases every handle of gen. Retiring nil or an already retired
// generation does nothing.
func (m *Manager) Retire(gen *Generation) {
	if gen == nil {
		return
	}
	m.mu.Lock()
	if gen.retired {
		m.mu.Unlock()
		return
	}
	gen.retired = true
	if m.active == gen {
		m.active = nil
	}
	names := gen.names
	gen.names = nil
	m.live -= gen.count
	delay := m.retireDelay
	m.mu.Unlock()

	metrics.AddLiveHandles(-gen.count)
	metrics.RecordRetired(gen.count)
	if m.registry == nil || len(names) == 0 {
		return
	}
	if delay > 0 {
		time.AfterFunc(delay, func() { m.registry.release(names) })
		return
	}
	m.registry.release(names)
}

// Live returns the number of handles created and not yet retired.
func (m *Manager) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live
}

// Close retires the active generation.
func (m *Manager) Close() {
	m.Retire(m.Commit(nil))
}

// Keys returns the generation's import map keys in sorted order.
func (g *Generation) Keys() []string {
	keys := make([]string, 0, len(g.Imports))
	for k := range g.Imports {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
