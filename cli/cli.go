// Package cli provides the command-line interface for uigen.
// It exports Run() and RunWithHooks() to allow extension by wrapper projects.
package cli

import (
	"fmt"
	"os"
)

// Version is reported by the version command and to MCP clients.
var Version = "v0.1.0"

// Hooks allows extending the CLI with additional commands.
type Hooks struct {
	// BeforeDispatch is called before command dispatch.
	// Return (handled=true, exitCode) to skip normal dispatch.
	BeforeDispatch func(command string, args []string) (handled bool, exitCode int)

	// CustomHelp returns additional help text to append.
	CustomHelp func() string

	// CustomVersion returns version info to append (optional).
	CustomVersion func() string
}

// Run executes the CLI with the given arguments.
// Returns exit code (0 = success, non-zero = error).
func Run(args []string) int {
	return RunWithHooks(args, nil)
}

// RunWithHooks executes CLI with extension hooks.
func RunWithHooks(args []string, hooks *Hooks) int {
	if len(args) < 1 {
		return runServe(args)
	}

	command := args[0]
	cmdArgs := args[1:]

	if hooks != nil && hooks.BeforeDispatch != nil {
		if handled, code := hooks.BeforeDispatch(command, cmdArgs); handled {
			return code
		}
	}

	switch command {
	case "serve":
		return runServe(cmdArgs)
	case "mcp":
		return runMCP(cmdArgs)
	case "dev":
		return runDev(cmdArgs)
	case "build":
		return runBuild(cmdArgs)
	case "export":
		return runExport(cmdArgs)
	case "import":
		return runImport(cmdArgs)
	case "help", "-h", "--help":
		printHelp(hooks)
		return 0
	case "version", "--version":
		printVersion(hooks)
		return 0
	default:
		// Flags without a command run the server
		if len(command) > 0 && command[0] == '-' {
			return runServe(args)
		}
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printHelp(hooks)
		return 1
	}
}

func printHelp(hooks *Hooks) {
	fmt.Println(`uigen - live preview server for generated React projects

Usage: uigen [command] [options]

Commands:
  serve                    Start the preview server (default)
  mcp                      Serve agent tools on stdio, with the preview over HTTP
  dev <dir>                Mirror a directory into one live preview
  build <dir> [-o file]    Write a self-contained preview document
  export <id> [-o file]    Write a stored project as a zip archive
  import <id> <file>       Store a zip archive as a project
  help                     Show this help
  version                  Show the version

Options:
  --config            TOML configuration file (default: config/config.toml)
  --host              Listen address (default: 0.0.0.0)
  --port              Listen port (default: 8080)
  --base-url          Public origin used in module URLs
  --entry             Entry module (default: /App.jsx)
  --alias             Project import alias (default: @/)
  --registry          Package registry (default: https://esm.sh)
  --handles           Module handles: served, inline
  --storage           Storage: memory, sqlite, postgresql, s3, none
  --storage-path      SQLite database path
  --storage-url       PostgreSQL connection URL
  --bucket            S3 bucket
  --autosave          Save snapshots after every change
  --session-timeout   Session expiration (default: 24h, 0=never)
  --seed              Directory copied into every new project
  --project           Project id the mcp command edits
  --log-level         Log level: debug, info, warn, error
  --log-format        Log format: console, json
  -v, -vv, -vvv       Verbosity

Examples:
  uigen serve --port 3000 --storage sqlite
  uigen dev ./my-app
  uigen build ./my-app -o preview.html
  uigen mcp --project demo --storage sqlite`)

	if hooks != nil && hooks.CustomHelp != nil {
		fmt.Println(hooks.CustomHelp())
	}
}

func printVersion(hooks *Hooks) {
	fmt.Println("uigen " + Version)
	if hooks != nil && hooks.CustomVersion != nil {
		fmt.Println(hooks.CustomVersion())
	}
}
