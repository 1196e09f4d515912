package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zot/uigen/internal/bundle"
	"github.com/zot/uigen/internal/config"
	"github.com/zot/uigen/internal/handles"
	"github.com/zot/uigen/internal/hotload"
	"github.com/zot/uigen/internal/logging"
	"github.com/zot/uigen/internal/mcp"
	"github.com/zot/uigen/internal/pipeline"
	"github.com/zot/uigen/internal/preview"
	"github.com/zot/uigen/internal/project"
	"github.com/zot/uigen/internal/server"
	"github.com/zot/uigen/internal/session"
	"github.com/zot/uigen/internal/storage"
	"github.com/zot/uigen/internal/vfs"
)

const shutdownTimeout = 10 * time.Second

// loadConfig loads configuration and initializes logging.
func loadConfig(args []string) (*config.Config, bool) {
	cfg, err := config.Load(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return nil, false
	}
	if err := logging.Init(cfg.LoggingSettings()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize logging: %v\n", err)
		return nil, false
	}
	project.SetTrace(cfg.Verbosity() >= 4)
	return cfg, true
}

// newServer opens storage and the seed directory and creates the server.
func newServer(ctx context.Context, cfg *config.Config) (*server.Server, error) {
	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	var seed vfs.Snapshot
	if cfg.Session.Seed != "" {
		if seed, err = bundle.ReadDir(cfg.Session.Seed); err != nil {
			if store != nil {
				store.Close()
			}
			return nil, fmt.Errorf("seed %s: %w", cfg.Session.Seed, err)
		}
	}
	return server.New(cfg, store, seed), nil
}

func waitForSignal() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	signal.Stop(sigChan)
}

func shutdown(srv *server.Server) int {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logging.S().Errorf("shutdown: %v", err)
		return 1
	}
	logging.Sync()
	return 0
}

func cleanupInterval(cfg *config.Config) time.Duration {
	if timeout := cfg.Session.Timeout.Duration(); timeout > 0 && timeout/4 < time.Hour {
		return max(timeout/4, time.Second)
	}
	return time.Hour
}

func runServe(args []string) int {
	cfg, ok := loadConfig(args)
	if !ok {
		return 1
	}
	srv, err := newServer(context.Background(), cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if cfg.Session.Timeout > 0 {
		srv.StartCleanupWorker(cleanupInterval(cfg))
	}
	url, err := srv.StartHTTP(cfg.Server.Port)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		srv.Shutdown(context.Background())
		return 1
	}
	fmt.Fprintf(os.Stderr, "Preview server at %s\n", url)

	waitForSignal()
	cfg.Log(0, "Shutting down...")
	return shutdown(srv)
}

// runMCP serves agent tools for one session on stdio. Logs stay on stderr
// because stdout carries the protocol.
func runMCP(args []string) int {
	cfg, ok := loadConfig(args)
	if !ok {
		return 1
	}
	ctx := context.Background()
	srv, err := newServer(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	url, err := srv.StartHTTP(cfg.Server.Port)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		srv.Shutdown(ctx)
		return 1
	}

	id := cfg.MCP.Project
	if id == "" {
		id = session.GenerateSessionID()
	}
	sess, err := srv.GetSessions().OpenSession(ctx, id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: project %q: %v\n", id, err)
		srv.Shutdown(ctx)
		return 1
	}

	code := 0
	if err := mcp.NewServer(sess, url, Version).ServeStdio(); err != nil {
		logging.S().Errorf("mcp: %v", err)
		code = 1
	}
	if shutdown(srv) != 0 {
		code = 1
	}
	return code
}

// runDev mirrors a directory into the project of a session named "dev".
func runDev(args []string) int {
	if len(args) < 1 || !positional(args[0]) {
		fmt.Fprintln(os.Stderr, "Usage: uigen dev <dir> [options]")
		return 1
	}
	dir := args[0]
	cfg, ok := loadConfig(args[1:])
	if !ok {
		return 1
	}
	ctx := context.Background()
	// The directory is the source of truth, so nothing is persisted.
	srv := server.New(cfg, nil, nil)
	sess, err := srv.GetSessions().OpenSession(ctx, "dev")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	loader, err := hotload.NewHotLoader(cfg, dir, sess.Project())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		srv.Shutdown(ctx)
		return 1
	}
	n, err := loader.Load()
	if err == nil {
		err = loader.Start()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", dir, err)
		srv.Shutdown(ctx)
		return 1
	}

	url, err := srv.StartHTTP(cfg.Server.Port)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		loader.Stop()
		srv.Shutdown(ctx)
		return 1
	}
	fmt.Fprintf(os.Stderr, "Mirroring %d files from %s at %s/%s\n", n, dir, url, sess.ID)

	waitForSignal()
	loader.Stop()
	return shutdown(srv)
}

func positional(arg string) bool {
	return arg != "" && arg[0] != '-'
}

// outputFlag removes "-o <file>" from args and returns the file.
func outputFlag(args []string) (string, []string, error) {
	var output string
	var rest []string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-o", "--output", "-output":
			if i+1 >= len(args) {
				return "", nil, fmt.Errorf("%s requires a value", args[i])
			}
			i++
			output = args[i]
		default:
			rest = append(rest, args[i])
		}
	}
	return output, rest, nil
}

func openOutput(path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopCloser{os.Stdout}, nil
	}
	return os.Create(path)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// runBuild writes the preview document of a directory with inline module
// handles, so the file opens without a server.
func runBuild(args []string) int {
	output, args, err := outputFlag(args)
	if err != nil || len(args) < 1 || !positional(args[0]) {
		fmt.Fprintln(os.Stderr, "Usage: uigen build <dir> [-o file.html] [options]")
		return 1
	}
	dir := args[0]
	cfg, ok := loadConfig(args[1:])
	if !ok {
		return 1
	}

	doc, err := build(context.Background(), cfg, dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	w, err := openOutput(output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	_, err = io.WriteString(w, doc.HTML)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	for _, d := range doc.Diagnostics {
		fmt.Fprintln(os.Stderr, d.String())
	}
	if output != "" && output != "-" {
		fmt.Fprintf(os.Stderr, "Wrote %s (%s)\n", output, doc.Kind)
	}
	if len(doc.Diagnostics) > 0 {
		return 1
	}
	return 0
}

func build(ctx context.Context, cfg *config.Config, dir string) (*preview.Document, error) {
	snap, err := bundle.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	p := pipeline.New(pipeline.FromConfig(cfg.Preview), handles.NewManager(handles.ModeInline, "", nil), nil)
	defer p.Close()
	res, err := p.Generate(ctx, 1, snap)
	if err != nil {
		return nil, err
	}
	return res.Document, nil
}

// runExport writes a stored project as a zip archive.
func runExport(args []string) int {
	output, args, err := outputFlag(args)
	if err != nil || len(args) < 1 || !positional(args[0]) {
		fmt.Fprintln(os.Stderr, "Usage: uigen export <id> [-o file.zip] [options]")
		return 1
	}
	id := args[0]
	cfg, ok := loadConfig(args[1:])
	if !ok {
		return 1
	}
	ctx := context.Background()
	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil || store == nil {
		fmt.Fprintf(os.Stderr, "Error: no storage: %v\n", err)
		return 1
	}
	defer store.Close()

	snap, err := store.Load(ctx, id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", id, err)
		return 1
	}
	w, err := openOutput(output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	err = bundle.Export(w, snap)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// runImport stores a zip archive as a project, replacing what was stored.
func runImport(args []string) int {
	if len(args) < 2 || !positional(args[0]) {
		fmt.Fprintln(os.Stderr, "Usage: uigen import <id> <file.zip> [options]")
		return 1
	}
	id, file := args[0], args[1]
	cfg, ok := loadConfig(args[2:])
	if !ok {
		return 1
	}
	data, err := os.ReadFile(file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	snap, err := bundle.Import(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", file, err)
		return 1
	}

	ctx := context.Background()
	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil || store == nil {
		fmt.Fprintf(os.Stderr, "Error: no storage: %v\n", err)
		return 1
	}
	defer store.Close()
	if err := store.Save(ctx, id, snap); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(os.Stderr, "Imported %d files into %s\n", len(snap), id)
	return 0
}
