// Package mcp exposes one session's project to agents over the Model
// Context Protocol: editor tools, scripted batches, diagnostics, and the
// project snapshot and preview document as resources.
package mcp

import (
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/zot/uigen/internal/logging"
	"github.com/zot/uigen/internal/session"
)

const instructions = `You are editing a React project held in memory. Use str_replace_editor and
file_manager to change files; every change regenerates the live preview. The entry module is
compiled from JSX, imports of the form "@/path" refer to project files, and bare imports load
from the package registry. Call get_diagnostics after edits to check for compile errors.`

// Server implements an MCP server for one session.
type Server struct {
	mcp     *server.MCPServer
	session *session.Session
	baseURL string
	log     *zap.Logger
}

// NewServer creates a new MCP server editing sess. baseURL is the origin
// the preview is served from.
func NewServer(sess *session.Session, baseURL, version string) *Server {
	s := &Server{
		session: sess,
		baseURL: baseURL,
		log:     logging.Named("mcp").With(zap.String("session", sess.ID)),
	}
	s.mcp = server.NewMCPServer("uigen", version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithInstructions(instructions),
		server.WithRecovery(),
	)
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// PreviewURL is the shell page of the session.
func (s *Server) PreviewURL() string {
	return s.baseURL + "/" + s.session.ID
}

// ServeStdio serves MCP on stdin/stdout until EOF or a termination signal.
func (s *Server) ServeStdio() error {
	s.log.Info("serving MCP on stdio", zap.String("preview", s.PreviewURL()))
	return server.ServeStdio(s.mcp)
}
