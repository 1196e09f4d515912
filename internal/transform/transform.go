// Package transform compiles project source files into browser-loadable
// ES modules and extracts their import specifiers.
package transform

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/zot/uigen/internal/vfs"
)

// Options configures a Compiler.
type Options struct {
	JSXImportSource string   // automatic runtime package, e.g. "react"
	StyleExtensions []string // specifier suffixes that denote stylesheets
	SourceMaps      bool     // append inline source maps
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{JSXImportSource: "react", StyleExtensions: []string{".css"}}
}

// Compiler turns one source file into a Module. It is safe for
// concurrent use.
type Compiler struct {
	opts Options
}

// NewCompiler creates a compiler.
func NewCompiler(opts Options) *Compiler {
	if opts.JSXImportSource == "" {
		opts.JSXImportSource = "react"
	}
	if len(opts.StyleExtensions) == 0 {
		opts.StyleExtensions = []string{".css"}
	}
	return &Compiler{opts: opts}
}

var loaders = map[string]api.Loader{
	".js":   api.LoaderJSX,
	".mjs":  api.LoaderJSX,
	".jsx":  api.LoaderJSX,
	".ts":   api.LoaderTS,
	".mts":  api.LoaderTS,
	".tsx":  api.LoaderTSX,
	".json": api.LoaderJSON,
}

// Handles reports whether a file is compiled into a module.
func (c *Compiler) Handles(p vfs.Path) bool {
	_, ok := loaders[strings.ToLower(p.Ext())]
	return ok
}

// IsStylesheet reports whether a specifier names a stylesheet.
func (c *Compiler) IsStylesheet(specifier string) bool {
	return IsStylesheet(specifier, c.opts.StyleExtensions)
}

// IsStylesheet reports whether specifier, ignoring any query or fragment,
// ends in one of exts.
func IsStylesheet(specifier string, exts []string) bool {
	if i := strings.IndexAny(specifier, "?#"); i >= 0 {
		specifier = specifier[:i]
	}
	lower := strings.ToLower(specifier)
	for _, ext := range exts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// Compile compiles source. It never panics and never fails: problems are
// reported through Module.Diagnostic.
func (c *Compiler) Compile(p vfs.Path, source string) (m *Module) {
	defer func() {
		if r := recover(); r != nil {
			m = &Module{Path: p, Diagnostic: &Diagnostic{
				File: string(p), Line: 1, Column: 1,
				Message: fmt.Sprintf("internal compiler error: %v", r),
			}}
		}
	}()

	if strings.ToLower(p.Ext()) == ".json" {
		return compileJSON(p, source)
	}

	loader, ok := loaders[strings.ToLower(p.Ext())]
	if !ok {
		loader = api.LoaderJSX
	}
	opts := api.TransformOptions{
		Loader:          loader,
		Format:          api.FormatESModule,
		Target:          api.ES2020,
		JSX:             api.JSXAutomatic,
		JSXImportSource: c.opts.JSXImportSource,
		Sourcefile:      string(p),
		LogLevel:        api.LogLevelSilent,
	}
	if c.opts.SourceMaps {
		opts.Sourcemap = api.SourceMapInline
		opts.SourcesContent = api.SourcesContentInclude
	}

	result := api.Transform(source, opts)
	if len(result.Errors) > 0 {
		return &Module{Path: p, Diagnostic: diagnosticFrom(p, result.Errors)}
	}
	return c.split(p, result.Code)
}

// split scans compiled code and removes stylesheet imports from it.
func (c *Compiler) split(p vfs.Path, code []byte) *Module {
	m := &Module{Path: p}
	found := ScanImports(code)

	var b strings.Builder
	b.Grow(len(code))
	last := 0
	shift := 0
	for _, imp := range found {
		if !c.IsStylesheet(imp.Specifier) {
			imp.Start -= shift
			imp.End -= shift
			imp.StmtStart -= shift
			imp.StmtEnd -= shift
			m.Imports = append(m.Imports, imp)
			continue
		}
		replacement := stylesheetStub(imp)
		if imp.StmtEnd <= imp.StmtStart {
			// import("x.css", opts) has no known end, so only `import("x.css"`
			// is replaced and the call keeps its remaining arguments
			imp.StmtEnd = imp.End
			replacement = "(() => Promise.resolve({ default: {} }))(0"
		}
		b.Write(code[last:imp.StmtStart])
		b.WriteString(replacement)
		shift += (imp.StmtEnd - imp.StmtStart) - len(replacement)
		last = imp.StmtEnd
		m.Styles = append(m.Styles, imp)
	}
	b.Write(code[last:])
	m.Code = b.String()
	return m
}

// stylesheetStub replaces a stylesheet import so bindings it introduced
// still exist.
func stylesheetStub(imp Import) string {
	if imp.Kind == ImportDynamic {
		return "Promise.resolve({ default: {} })"
	}
	if imp.Kind != ImportStatic || len(imp.Locals) == 0 {
		return ""
	}
	decls := make([]string, len(imp.Locals))
	for i, local := range imp.Locals {
		decls[i] = local + " = {}"
	}
	return "const " + strings.Join(decls, ", ") + ";"
}

func diagnosticFrom(p vfs.Path, msgs []api.Message) *Diagnostic {
	msg := msgs[0]
	d := &Diagnostic{File: string(p), Line: 1, Column: 1, Message: msg.Text}
	if loc := msg.Location; loc != nil {
		d.Line = loc.Line
		d.LineText = loc.LineText
		col := loc.Column
		if col > len(loc.LineText) {
			col = len(loc.LineText)
		}
		// esbuild columns are 0-based byte offsets
		d.Column = utf8.RuneCountInString(loc.LineText[:col]) + 1
	}
	if len(msgs) > 1 {
		d.Message = fmt.Sprintf("%s (and %d more errors)", d.Message, len(msgs)-1)
	}
	return d
}

// compileJSON exposes a JSON file as a module with a default export.
func compileJSON(p vfs.Path, source string) *Module {
	var v any
	if err := json.Unmarshal([]byte(source), &v); err != nil {
		d := &Diagnostic{File: string(p), Line: 1, Column: 1, Message: err.Error()}
		if se, ok := err.(*json.SyntaxError); ok {
			d.Line, d.Column, d.LineText = position(source, int(se.Offset))
		}
		return &Module{Path: p, Diagnostic: d}
	}
	return &Module{Path: p, Code: "export default " + strings.TrimSpace(source) + ";\n"}
}

// position converts a byte offset to a 1-based line and column.
func position(source string, offset int) (line, col int, text string) {
	if offset > len(source) {
		offset = len(source)
	}
	if offset > 0 {
		offset-- // SyntaxError.Offset points past the offending byte
	}
	line = 1 + strings.Count(source[:offset], "\n")
	start := strings.LastIndexByte(source[:offset], '\n') + 1
	end := strings.IndexByte(source[start:], '\n')
	if end < 0 {
		text = source[start:]
	} else {
		text = source[start : start+end]
	}
	return line, utf8.RuneCountInString(source[start:offset]) + 1, text
}
