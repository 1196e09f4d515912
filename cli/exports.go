// This file re-exports internal types for wrapper projects.
package cli

import (
	"github.com/zot/uigen/internal/config"
	"github.com/zot/uigen/internal/server"
	"github.com/zot/uigen/internal/session"
)

// Re-export config types for public API
type (
	Config        = config.Config
	ServerConfig  = config.ServerConfig
	PreviewConfig = config.PreviewConfig
	StorageConfig = config.StorageConfig
	SessionConfig = config.SessionConfig
	LoggingConfig = config.LoggingConfig
	MCPConfig     = config.MCPConfig
	Duration      = config.Duration
)

// Re-export server types
type (
	Server  = server.Server
	Session = session.Session
)

// Re-export config functions for public API
var (
	DefaultConfig = config.DefaultConfig
	Load          = config.Load
)
