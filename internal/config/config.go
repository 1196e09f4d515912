// Package config handles configuration loading from CLI flags, environment variables, and TOML files.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/zot/uigen/internal/logging"
)

// Config holds all configuration settings for the preview server.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Preview PreviewConfig `toml:"preview"`
	Storage StorageConfig `toml:"storage"`
	Session SessionConfig `toml:"session"`
	Logging LoggingConfig `toml:"logging"`
	MCP     MCPConfig     `toml:"mcp"`

	// Args holds positional arguments left after flag parsing (CLI only).
	Args []string `toml:"-"`
}

// ServerConfig holds server-related settings.
type ServerConfig struct {
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
	BaseURL string `toml:"base_url"` // Public origin for handle URLs; derived from host/port when empty
}

// PreviewConfig controls how projects are compiled, resolved, and rendered.
type PreviewConfig struct {
	Entry           string            `toml:"entry"`            // Entry module path, e.g. /App.jsx
	Alias           string            `toml:"alias"`            // Project-root alias prefix, e.g. @/
	Registry        string            `toml:"registry"`         // Base URL for bare package specifiers
	Extensions      []string          `toml:"extensions"`       // Module extension search order
	StyleExtensions []string          `toml:"style_extensions"` // Stylesheet suffixes
	Pins            map[string]string `toml:"pins"`             // package -> version
	Shared          []string          `toml:"shared"`           // packages every registry module must share
	Handles         string            `toml:"handles"`          // "served" or "inline"
	RetireDelay     Duration          `toml:"retire_delay"`     // grace period before releasing superseded handles
	HeadScripts     []string          `toml:"head_scripts"`     // classic scripts injected into every document
	Title           string            `toml:"title"`
	JSXImportSource string            `toml:"jsx_import_source"`
	SourceMaps      bool              `toml:"source_maps"`
}

// StorageConfig holds snapshot persistence settings.
type StorageConfig struct {
	Type      string `toml:"type"`     // "memory", "sqlite", "postgresql", "s3", "none"
	Path      string `toml:"path"`     // SQLite file path
	URL       string `toml:"url"`      // PostgreSQL connection URL
	Bucket    string `toml:"bucket"`   // S3 bucket
	Prefix    string `toml:"prefix"`   // S3 key prefix
	Endpoint  string `toml:"endpoint"` // S3-compatible endpoint (MinIO etc.)
	Region    string `toml:"region"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Autosave  bool   `toml:"autosave"` // Save the project snapshot after every batch
}

// SessionConfig holds session-related settings.
type SessionConfig struct {
	Timeout Duration `toml:"timeout"` // Session expiration (0 = never)
	Seed    string   `toml:"seed"`    // Directory copied into every new session's project
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level     string `toml:"level"`     // "debug", "info", "warn", "error"
	Format    string `toml:"format"`    // "json" or "console"
	Output    string `toml:"output"`    // stdout, stderr, or a file path
	Verbosity int    `toml:"verbosity"` // 0=none, 1=connections, 2=messages, 3=pipeline, 4=contents
}

// MCPConfig holds agent tool server settings.
type MCPConfig struct {
	Enabled bool   `toml:"enabled"`
	Project string `toml:"project"` // Persisted project id restored at startup
}

// verbosityCounter implements flag.Value for counting -v flags.
type verbosityCounter int

func (v *verbosityCounter) String() string {
	return fmt.Sprintf("%d", *v)
}

func (v *verbosityCounter) Set(string) error {
	*v++
	return nil
}

func (v *verbosityCounter) IsBoolFlag() bool {
	return true
}

// expandVerbosityFlags preprocesses args to expand -vvv into -v -v -v.
func expandVerbosityFlags(args []string) []string {
	result := make([]string, 0, len(args))
	for _, arg := range args {
		if len(arg) > 2 && arg[0] == '-' && arg[1] == 'v' && strings.Trim(arg[1:], "v") == "" {
			for range arg[1:] {
				result = append(result, "-v")
			}
			continue
		}
		result = append(result, arg)
	}
	return result
}

// Duration is a time.Duration that can be unmarshaled from TOML strings.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for Duration.
func (d *Duration) UnmarshalText(text []byte) error {
	duration, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// DefaultConfig returns a Config with all default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Preview: PreviewConfig{
			Entry:           "/App.jsx",
			Alias:           "@/",
			Registry:        "https://esm.sh",
			Extensions:      []string{".jsx", ".tsx", ".js", ".ts", ".json"},
			StyleExtensions: []string{".css"},
			Pins:            map[string]string{"react": "19", "react-dom": "19"},
			Shared:          []string{"react", "react-dom"},
			Handles:         "served",
			HeadScripts:     []string{"https://cdn.tailwindcss.com"},
			Title:           "Preview",
			JSXImportSource: "react",
		},
		Storage: StorageConfig{
			Type:   "memory",
			Path:   "uigen.db",
			Region: "us-east-1",
			Prefix: "projects/",
		},
		Session: SessionConfig{
			Timeout: Duration(24 * time.Hour),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from CLI flags, environment variables, and TOML file.
// Priority: CLI flags > env vars > TOML file > defaults
func Load(args []string) (*Config, error) {
	cfg := DefaultConfig()

	args = expandVerbosityFlags(args)

	fs := flag.NewFlagSet("uigen", flag.ContinueOnError)
	configPath := fs.String("config", "config/config.toml", "TOML configuration file")

	// Server flags
	host := fs.String("host", "", "Browser listen address")
	port := fs.Int("port", 0, "Browser listen port")
	baseURL := fs.String("base-url", "", "Public origin used in module handle URLs")

	// Preview flags
	entry := fs.String("entry", "", "Entry module path")
	alias := fs.String("alias", "", "Project-root import alias")
	registry := fs.String("registry", "", "Package registry base URL")
	handles := fs.String("handles", "", "Module handle mode: served, inline")

	// Storage flags
	storage := fs.String("storage", "", "Storage type: memory, sqlite, postgresql, s3, none")
	storagePath := fs.String("storage-path", "", "SQLite database path")
	storageURL := fs.String("storage-url", "", "PostgreSQL connection URL")
	bucket := fs.String("bucket", "", "S3 bucket for snapshots")
	autosave := fs.Bool("autosave", false, "Save snapshots after every batch")

	// Session flags
	sessionTimeout := fs.Duration("session-timeout", 0, "Session expiration (0=never)")
	seed := fs.String("seed", "", "Directory copied into every new project")

	// MCP flags
	project := fs.String("project", "", "Project id to restore for the MCP session")

	// Logging flags
	logLevel := fs.String("log-level", "", "Log level: debug, info, warn, error")
	logFormat := fs.String("log-format", "", "Log format: json, console")
	var verbosity verbosityCounter
	fs.Var(&verbosity, "v", "Verbosity level (use -v, -vv, or -vvv)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.loadTOML(*configPath); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	cfg.applyEnv()

	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *baseURL != "" {
		cfg.Server.BaseURL = *baseURL
	}
	if *entry != "" {
		cfg.Preview.Entry = *entry
	}
	if *alias != "" {
		cfg.Preview.Alias = *alias
	}
	if *registry != "" {
		cfg.Preview.Registry = *registry
	}
	if *handles != "" {
		cfg.Preview.Handles = *handles
	}
	if *storage != "" {
		cfg.Storage.Type = *storage
	}
	if *storagePath != "" {
		cfg.Storage.Path = *storagePath
	}
	if *storageURL != "" {
		cfg.Storage.URL = *storageURL
	}
	if *bucket != "" {
		cfg.Storage.Bucket = *bucket
	}
	if *autosave {
		cfg.Storage.Autosave = true
	}
	if *sessionTimeout != 0 {
		cfg.Session.Timeout = Duration(*sessionTimeout)
	}
	if *seed != "" {
		cfg.Session.Seed = *seed
	}
	if *project != "" {
		cfg.MCP.Project = *project
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}
	if verbosity > 0 {
		cfg.Logging.Verbosity = int(verbosity)
	}

	cfg.Args = fs.Args()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadTOML loads configuration from a TOML file.
func (c *Config) loadTOML(path string) error {
	_, err := toml.DecodeFile(path, c)
	return err
}

// applyEnv applies environment variable overrides.
func (c *Config) applyEnv() {
	if v := os.Getenv("UIGEN_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("UIGEN_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("UIGEN_BASE_URL"); v != "" {
		c.Server.BaseURL = v
	}
	if v := os.Getenv("UIGEN_ENTRY"); v != "" {
		c.Preview.Entry = v
	}
	if v := os.Getenv("UIGEN_REGISTRY"); v != "" {
		c.Preview.Registry = v
	}
	if v := os.Getenv("UIGEN_HANDLES"); v != "" {
		c.Preview.Handles = v
	}
	if v := os.Getenv("UIGEN_STORAGE"); v != "" {
		c.Storage.Type = v
	}
	if v := os.Getenv("UIGEN_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("UIGEN_STORAGE_URL"); v != "" {
		c.Storage.URL = v
	}
	if v := os.Getenv("UIGEN_S3_BUCKET"); v != "" {
		c.Storage.Bucket = v
	}
	if v := os.Getenv("UIGEN_S3_ENDPOINT"); v != "" {
		c.Storage.Endpoint = v
	}
	if v := os.Getenv("UIGEN_S3_ACCESS_KEY"); v != "" {
		c.Storage.AccessKey = v
	}
	if v := os.Getenv("UIGEN_S3_SECRET_KEY"); v != "" {
		c.Storage.SecretKey = v
	}
	if v := os.Getenv("UIGEN_SESSION_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Session.Timeout = Duration(d)
		}
	}
	if v := os.Getenv("UIGEN_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("UIGEN_VERBOSITY"); v != "" {
		if verbosity, err := strconv.Atoi(v); err == nil {
			c.Logging.Verbosity = verbosity
		}
	}
}

// Validate checks settings that other components rely on.
func (c *Config) Validate() error {
	alias := c.Preview.Alias
	if alias == "" || !strings.HasSuffix(alias, "/") || strings.HasPrefix(alias, "/") || strings.HasPrefix(alias, ".") {
		return fmt.Errorf("invalid preview alias %q: must be a non-relative prefix ending in /", alias)
	}
	if !strings.HasPrefix(c.Preview.Entry, "/") {
		return fmt.Errorf("invalid preview entry %q: must be an absolute project path", c.Preview.Entry)
	}
	switch c.Preview.Handles {
	case "served", "inline":
	default:
		return fmt.Errorf("invalid handle mode %q", c.Preview.Handles)
	}
	switch c.Storage.Type {
	case "memory", "sqlite", "postgresql", "s3", "none":
	default:
		return fmt.Errorf("unknown storage type %q", c.Storage.Type)
	}
	return nil
}

// Verbosity returns the configured verbosity level.
func (c *Config) Verbosity() int {
	return c.Logging.Verbosity
}

// Log writes a message when level is at or below the configured verbosity.
func (c *Config) Log(level int, format string, args ...interface{}) {
	if level > c.Logging.Verbosity {
		return
	}
	logging.S().Infof(format, args...)
}

// LoggingSettings converts logging config for the logging package.
func (c *Config) LoggingSettings() logging.Config {
	return logging.Config{
		Level:      c.Logging.Level,
		Format:     c.Logging.Format,
		OutputPath: c.Logging.Output,
	}
}

// PublicURL returns the origin browsers use to reach this server.
func (c *Config) PublicURL() string {
	if c.Server.BaseURL != "" {
		return strings.TrimSuffix(c.Server.BaseURL, "/")
	}
	host := c.Server.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, c.Server.Port)
}
