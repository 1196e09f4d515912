// Package session binds browser and agent clients to projects.
package session

import (
	"sort"
	"sync"
	"time"

	"github.com/zot/uigen/internal/pipeline"
	"github.com/zot/uigen/internal/project"
)

// Listener receives each generation published for a session.
type Listener func(r *pipeline.Result)

// Session is one project and the connections watching its preview.
type Session struct {
	ID           string
	project      *project.Project
	listeners    map[string]Listener // connection ID -> listener
	latest       *pipeline.Result
	createdAt    time.Time
	lastActivity time.Time
	mu           sync.RWMutex
}

// NewSession creates a session without a project; the manager attaches
// one.
func NewSession(id string) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		listeners:    make(map[string]Listener),
		createdAt:    now,
		lastActivity: now,
	}
}

// Project returns the session's project.
func (s *Session) Project() *project.Project {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.project
}

func (s *Session) setProject(p *project.Project) {
	s.mu.Lock()
	s.project = p
	s.mu.Unlock()
}

// Publish records r as the session's document and hands it to every
// listener. Listeners must not block.
func (s *Session) Publish(r *pipeline.Result) {
	s.mu.Lock()
	s.latest = r
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(r)
	}
}

// Latest returns the last published generation, or nil.
func (s *Session) Latest() *pipeline.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// AddConnection registers a connection. A listener, if given, gets the
// current document right away and every later one.
func (s *Session) AddConnection(connectionID string, l Listener) {
	s.mu.Lock()
	s.listeners[connectionID] = l
	s.lastActivity = time.Now()
	latest := s.latest
	s.mu.Unlock()

	if l != nil && latest != nil {
		l(latest)
	}
}

// RemoveConnection unregisters a connection.
// Returns true if this was the last connection.
func (s *Session) RemoveConnection(connectionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.listeners, connectionID)
	s.lastActivity = time.Now()
	return len(s.listeners) == 0
}

// IsActive checks if the session has any connections.
func (s *Session) IsActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.listeners) > 0
}

// GetConnectionCount returns the number of active connections.
func (s *Session) GetConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.listeners)
}

// Touch updates the lastActivity timestamp.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()
}

// GetCreatedAt returns the session creation time.
func (s *Session) GetCreatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.createdAt
}

// GetLastActivity returns the last activity time.
func (s *Session) GetLastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// GetConnections returns the connection IDs, sorted.
func (s *Session) GetConnections() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conns := make([]string, 0, len(s.listeners))
	for id := range s.listeners {
		conns = append(conns, id)
	}
	sort.Strings(conns)
	return conns
}
