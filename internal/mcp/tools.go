package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/zot/uigen/internal/protocol"
	"github.com/zot/uigen/internal/script"
)

func (s *Server) registerTools() {
	s.mcp.AddTool(editorTool(), s.handleEditor)
	s.mcp.AddTool(fileManagerTool(), s.handleFileManager)
	s.mcp.AddTool(scriptTool(), s.handleScript)
	s.mcp.AddTool(diagnosticsTool(), s.handleDiagnostics)
}

func editorTool() mcp.Tool {
	return mcp.NewTool("str_replace_editor",
		mcp.WithDescription("View, create and edit project files. Paths are absolute, e.g. /App.jsx. "+
			"view shows a file with line numbers or lists a directory; create writes a whole file; "+
			"str_replace replaces every occurrence of old_str; insert adds new_str after insert_line (0 inserts at the top)."),
		mcp.WithString("command", mcp.Required(),
			mcp.Enum("view", "create", "str_replace", "insert"),
			mcp.Description("The command to run")),
		mcp.WithString("path", mcp.Required(), mcp.Description("Absolute project path")),
		mcp.WithString("file_text", mcp.Description("Content of the file to create")),
		mcp.WithString("old_str", mcp.Description("Text to replace")),
		mcp.WithString("new_str", mcp.Description("Replacement or inserted text")),
		mcp.WithNumber("insert_line", mcp.Description("Line after which to insert")),
	)
}

func fileManagerTool() mcp.Tool {
	return mcp.NewTool("file_manager",
		mcp.WithDescription("Rename or delete files and directories. Renaming creates missing parent directories; "+
			"deleting a directory deletes everything under it."),
		mcp.WithString("command", mcp.Required(),
			mcp.Enum("rename", "delete"),
			mcp.Description("The command to run")),
		mcp.WithString("path", mcp.Required(), mcp.Description("Absolute project path")),
		mcp.WithString("new_path", mcp.Description("Destination path for rename")),
	)
}

func scriptTool() mcp.Tool {
	return mcp.NewTool("run_script",
		mcp.WithDescription("Run a Lua chunk as one all-or-nothing batch. The global project table has "+
			"read(path), write(path, content), remove(path), rename(from, to), list(dir), exists(path), mkdir(path), "+
			"replace(path, old, new), insert(path, line, text) and files(). Any error undoes every change the chunk made."),
		mcp.WithString("script", mcp.Required(), mcp.Description("Lua source")),
	)
}

func diagnosticsTool() mcp.Tool {
	return mcp.NewTool("get_diagnostics",
		mcp.WithDescription("Wait for the preview to catch up with the latest edits and report compile errors "+
			"and unresolved project imports."),
	)
}

// toolError reports err to the agent, prefixed with its kind.
func toolError(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", protocol.Code(err), err))
}

func (s *Server) handleEditor(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	command, err := req.RequireString("command")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	s.session.Touch()
	editor := s.session.Project().Editor()
	s.log.Debug("tool", zap.String("command", command), zap.String("path", path))

	switch command {
	case "view":
		content, err := editor.View(path)
		if err != nil {
			return toolError(err), nil
		}
		return mcp.NewToolResultText(content), nil

	case "create":
		if err := editor.Create(path, req.GetString("file_text", "")); err != nil {
			return toolError(err), nil
		}
		return mcp.NewToolResultText("Created " + path), nil

	case "str_replace":
		oldStr, err := req.RequireString("old_str")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		count, err := editor.StrReplace(path, oldStr, req.GetString("new_str", ""))
		if err != nil {
			return toolError(err), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Replaced %d occurrence(s) in %s", count, path)), nil

	case "insert":
		line := req.GetInt("insert_line", 0)
		if err := editor.Insert(path, line, req.GetString("new_str", "")); err != nil {
			return toolError(err), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Inserted text after line %d of %s", line, path)), nil
	}
	return mcp.NewToolResultError("unknown command: " + command), nil
}

func (s *Server) handleFileManager(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	command, err := req.RequireString("command")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	s.session.Touch()
	editor := s.session.Project().Editor()

	switch command {
	case "rename":
		newPath, err := req.RequireString("new_path")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := editor.Rename(path, newPath); err != nil {
			return toolError(err), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Renamed %s to %s", path, newPath)), nil

	case "delete":
		if err := editor.Delete(path); err != nil {
			return toolError(err), nil
		}
		return mcp.NewToolResultText("Deleted " + path), nil
	}
	return mcp.NewToolResultError("unknown command: " + command), nil
}

func (s *Server) handleScript(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source, err := req.RequireString("script")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	s.session.Touch()

	res, err := script.Run(ctx, s.session.Project(), source)
	if err != nil {
		return toolError(err), nil
	}
	var b strings.Builder
	for _, line := range res.Output {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if res.Value != nil {
		data, err := json.Marshal(res.Value)
		if err != nil {
			return toolError(err), nil
		}
		b.Write(data)
		b.WriteByte('\n')
	}
	if b.Len() == 0 {
		b.WriteString("OK")
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) handleDiagnostics(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p := s.session.Project()
	p.Pipeline().Wait()
	latest := s.session.Latest()
	if latest == nil {
		return mcp.NewToolResultText("No preview generated yet."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Generation %d (%s), preview at %s\n", latest.Seq, latest.Document.Kind, s.PreviewURL())
	diags := protocol.Diagnostics(latest)
	if len(diags) == 0 {
		b.WriteString("No compile errors.\n")
	}
	for _, d := range diags {
		fmt.Fprintf(&b, "\n%s:%d:%d: %s\n", d.File, d.Line, d.Column, d.Message)
		if d.Excerpt != "" {
			b.WriteString(d.Excerpt)
			b.WriteByte('\n')
		}
	}
	for _, ph := range latest.Placeholders {
		refs := make([]string, len(ph.Referrers))
		for i, r := range ph.Referrers {
			refs[i] = string(r)
		}
		fmt.Fprintf(&b, "\nUnresolved import %s from %s (renders a placeholder)\n", ph.Target, strings.Join(refs, ", "))
	}
	return mcp.NewToolResultText(b.String()), nil
}
