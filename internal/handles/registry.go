package handles

import (
	"net/http"
	"strings"
	"sync"
)

// Registry holds the content behind served handles. One registry backs
// every project in a process; handle ids are UUIDs so projects never
// collide.
type Registry struct {
	content map[string]string // "<generation>/<uuid>.js" -> code
	mu      sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{content: make(map[string]string)}
}

func (r *Registry) put(name, code string) {
	r.mu.Lock()
	r.content[name] = code
	r.mu.Unlock()
}

func (r *Registry) release(names []string) {
	r.mu.Lock()
	for _, name := range names {
		delete(r.content, name)
	}
	r.mu.Unlock()
}

// Get returns the code of a handle.
func (r *Registry) Get(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	code, ok := r.content[name]
	return code, ok
}

// Len returns the number of handles being served.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.content)
}

// ServeHTTP serves /modules/<generation>/<uuid>.js. Previews run in a
// sandboxed frame with an opaque origin, so any origin may load modules.
func (r *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if req.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := strings.TrimPrefix(req.URL.Path, "/modules/")
	code, ok := r.Get(name)
	if !ok {
		http.NotFound(w, req)
		return
	}
	w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if req.Method == http.MethodHead {
		return
	}
	w.Write([]byte(code))
}
