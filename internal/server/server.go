package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/zot/uigen/internal/config"
	"github.com/zot/uigen/internal/handles"
	"github.com/zot/uigen/internal/logging"
	"github.com/zot/uigen/internal/pipeline"
	"github.com/zot/uigen/internal/protocol"
	"github.com/zot/uigen/internal/session"
	"github.com/zot/uigen/internal/storage"
	"github.com/zot/uigen/internal/vfs"
)

// Server is the preview server.
type Server struct {
	config       *config.Config
	sessions     *session.Manager
	handler      *protocol.Handler
	httpServer   *http.Server
	httpEndpoint *HTTPEndpoint
	wsEndpoint   *WebSocketEndpoint
	storage      storage.Backend
	stopCleanup  chan struct{}
}

// New creates a new server with the given configuration. store may be nil
// to disable persistence; seed is copied into every project that has
// nothing stored.
func New(cfg *config.Config, store storage.Backend, seed vfs.Snapshot) *Server {
	mode := handles.Mode(cfg.Preview.Handles)
	base := ""
	if cfg.Server.BaseURL != "" {
		base = cfg.PublicURL()
	}
	sessions := session.NewManager(session.Options{
		Timeout:     cfg.Session.Timeout.Duration(),
		Pipeline:    pipeline.FromConfig(cfg.Preview),
		HandleMode:  mode,
		BaseURL:     base,
		RetireDelay: cfg.Preview.RetireDelay.Duration(),
		Storage:     store,
		Autosave:    cfg.Storage.Autosave,
		Seed:        seed,
	})

	s := &Server{
		config:      cfg,
		sessions:    sessions,
		handler:     protocol.NewHandler(),
		storage:     store,
		stopCleanup: make(chan struct{}),
	}
	s.wsEndpoint = NewWebSocketEndpoint(cfg, sessions, s.handler)
	s.httpEndpoint = NewHTTPEndpoint(sessions, s.handler, s.wsEndpoint)
	return s
}

// Handler returns the server's HTTP handler, wrapped with request logging.
func (s *Server) Handler() http.Handler {
	return logging.Middleware(s.httpEndpoint)
}

// Start starts the HTTP server on the configured port.
func (s *Server) Start() error {
	_, err := s.StartHTTP(s.config.Server.Port)
	return err
}

// StartHTTP starts the HTTP server on the specified port.
// It returns the full base URL.
func (s *Server) StartHTTP(port int) (string, error) {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// We need to capture the actual port if 0 was passed
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	// Update port in config if it was 0
	if port == 0 {
		addr = listener.Addr().String()
		_, portStr, _ := net.SplitHostPort(addr)
		s.config.Server.Port, _ = strconv.Atoi(portStr)
	}

	go func() {
		s.config.Log(0, "HTTP server listening on %s", addr)
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.config.Log(0, "HTTP server error: %v", err)
		}
	}()

	return s.config.PublicURL(), nil
}

// Shutdown stops accepting requests, then closes every project, saving
// pending snapshots, and the storage backend.
func (s *Server) Shutdown(ctx context.Context) error {
	select {
	case <-s.stopCleanup:
	default:
		close(s.stopCleanup)
	}

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	s.sessions.Close()
	if s.storage != nil {
		if cerr := s.storage.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// GetSessions returns the session manager.
func (s *Server) GetSessions() *session.Manager {
	return s.sessions
}

// GetHandler returns the protocol handler.
func (s *Server) GetHandler() *protocol.Handler {
	return s.handler
}

// StartCleanupWorker starts a background worker to clean up inactive sessions.
func (s *Server) StartCleanupWorker(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				count := s.sessions.CleanupInactiveSessions()
				if count > 0 {
					s.config.Log(0, "Cleaned up %d inactive sessions", count)
				}
			case <-s.stopCleanup:
				return
			}
		}
	}()
}
