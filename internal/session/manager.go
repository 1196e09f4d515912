package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zot/uigen/internal/handles"
	"github.com/zot/uigen/internal/logging"
	"github.com/zot/uigen/internal/metrics"
	"github.com/zot/uigen/internal/pipeline"
	"github.com/zot/uigen/internal/project"
	"github.com/zot/uigen/internal/storage"
	"github.com/zot/uigen/internal/vfs"
)

// SessionCreatedCallback is called when a new session is created.
type SessionCreatedCallback func(session *Session) error

// SessionDestroyedCallback is called when a session is destroyed.
type SessionDestroyedCallback func(session *Session)

// Options configures the projects a manager creates.
type Options struct {
	Timeout     time.Duration // idle sessions are removed after this; 0 keeps them
	Pipeline    pipeline.Options
	HandleMode  handles.Mode
	BaseURL     string            // origin prefixed to served handle URLs
	Registry    *handles.Registry // shared by every session's handles
	RetireDelay time.Duration
	Storage     storage.Backend // nil disables persistence
	Autosave    bool
	Seed        vfs.Snapshot // contents of projects that have nothing stored
}

// ErrInvalidID is returned for session ids unusable in URLs or storage keys.
var ErrInvalidID = errors.New("invalid session id")

var validID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Manager manages all sessions.
type Manager struct {
	opts               Options
	sessions           map[string]*Session
	onSessionCreated   SessionCreatedCallback
	onSessionDestroyed SessionDestroyedCallback
	log                *zap.Logger
	mu                 sync.RWMutex
	opening            sync.Mutex
}

// NewManager creates a new session manager.
func NewManager(opts Options) *Manager {
	if opts.Registry == nil && opts.HandleMode != handles.ModeInline {
		opts.Registry = handles.NewRegistry()
	}
	return &Manager{
		opts:     opts,
		sessions: make(map[string]*Session),
		log:      logging.Named("session"),
	}
}

// Registry returns the registry serving every session's module handles.
func (m *Manager) Registry() *handles.Registry {
	return m.opts.Registry
}

// SetOnSessionCreated sets a callback called when a session is created.
func (m *Manager) SetOnSessionCreated(callback SessionCreatedCallback) {
	m.onSessionCreated = callback
}

// SetOnSessionDestroyed sets a callback called when a session is destroyed.
func (m *Manager) SetOnSessionDestroyed(callback SessionDestroyedCallback) {
	m.onSessionDestroyed = callback
}

// CreateSession starts a session on a new, seeded project.
func (m *Manager) CreateSession(ctx context.Context) (*Session, error) {
	return m.OpenSession(ctx, GenerateSessionID())
}

// OpenSession returns the session for id, creating it when needed. A new
// session restores the stored snapshot for id, or the seed when there is
// none.
func (m *Manager) OpenSession(ctx context.Context, id string) (*Session, error) {
	if !validID.MatchString(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	// one opener at a time, so two clients of a new id share one project
	m.opening.Lock()
	defer m.opening.Unlock()

	if sess, ok := m.GetSession(id); ok {
		sess.Touch()
		return sess, nil
	}

	snap, err := m.initialSnapshot(ctx, id)
	if err != nil {
		return nil, err
	}

	sess := NewSession(id)
	h := handles.NewManager(m.opts.HandleMode, m.opts.BaseURL, m.opts.Registry)
	h.SetRetireDelay(m.opts.RetireDelay)
	opts := project.Options{
		ID:        id,
		Pipeline:  m.opts.Pipeline,
		Handles:   h,
		Publisher: sess,
	}
	if m.opts.Autosave && m.opts.Storage != nil {
		opts.Saver = m.opts.Storage
	}
	p := project.New(opts)
	sess.setProject(p)

	if m.onSessionCreated != nil {
		if err := m.onSessionCreated(sess); err != nil {
			p.Close()
			return nil, err
		}
	}

	m.mu.Lock()
	m.sessions[id] = sess
	count := len(m.sessions)
	m.mu.Unlock()
	metrics.SetSessionsActive(count)

	if len(snap) > 0 {
		if err := p.Restore(snap); err != nil {
			m.log.Warn("restore failed", zap.String("session", id), zap.Error(err))
		}
	} else {
		p.Regenerate()
	}
	m.log.Info("session opened", zap.String("session", id), zap.Int("files", len(snap)))
	return sess, nil
}

func (m *Manager) initialSnapshot(ctx context.Context, id string) (vfs.Snapshot, error) {
	if m.opts.Storage != nil {
		snap, err := m.opts.Storage.Load(ctx, id)
		if err == nil {
			return snap, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("load project %s: %w", id, err)
		}
	}
	return m.opts.Seed, nil
}

// GetSession retrieves a session by ID.
func (m *Manager) GetSession(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[id]
	return session, ok
}

// Get retrieves a session by ID. Returns nil if not found.
func (m *Manager) Get(id string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

// DestroySession closes a session's project after its pending saves.
func (m *Manager) DestroySession(id string) error {
	m.mu.Lock()
	session, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.sessions, id)
	count := len(m.sessions)
	m.mu.Unlock()
	metrics.SetSessionsActive(count)

	if m.onSessionDestroyed != nil {
		m.onSessionDestroyed(session)
	}
	if p := session.Project(); p != nil {
		p.Close()
	}
	m.log.Info("session destroyed", zap.String("session", id))
	return nil
}

// SessionExists checks if a session ID is valid.
func (m *Manager) SessionExists(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[id]
	return ok
}

// GetAllSessions returns all sessions.
func (m *Manager) GetAllSessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// CleanupInactiveSessions removes sessions without connections whose last
// activity is older than the timeout.
func (m *Manager) CleanupInactiveSessions() int {
	if m.opts.Timeout == 0 {
		return 0 // Never cleanup
	}

	m.mu.RLock()
	cutoff := time.Now().Add(-m.opts.Timeout)
	var toRemove []string

	for id, session := range m.sessions {
		if !session.IsActive() && session.GetLastActivity().Before(cutoff) {
			toRemove = append(toRemove, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range toRemove {
		m.DestroySession(id)
	}

	return len(toRemove)
}

// Count returns the number of sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close destroys every session.
func (m *Manager) Close() {
	for _, s := range m.GetAllSessions() {
		m.DestroySession(s.ID)
	}
}

// GenerateSessionID creates a unique session identifier.
func GenerateSessionID() string {
	return uuid.NewString()
}
