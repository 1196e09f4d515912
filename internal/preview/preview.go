// Package preview renders the HTML document a sandboxed frame loads to
// show one generation.
package preview

import (
	"encoding/json"
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/zot/uigen/internal/resolve"
	"github.com/zot/uigen/internal/transform"
	"github.com/zot/uigen/internal/vfs"
)

// Input is everything one document is built from.
type Input struct {
	Title       string
	Imports     map[string]string // import map key -> URL
	Styles      []resolve.Stylesheet
	Entry       string   // import map key of the entry, "" when it does not exist
	EntryPath   vfs.Path // shown in the empty state
	Diagnostics []*transform.Diagnostic
	HeadScripts []string // classic scripts loaded first, e.g. a CSS framework
}

// Document is a built preview.
type Document struct {
	HTML        string
	Kind        Kind
	Diagnostics []*transform.Diagnostic
}

// Kind tells which of the three document shapes was built.
type Kind string

const (
	KindApp         Kind = "app"
	KindDiagnostics Kind = "diagnostics"
	KindEmpty       Kind = "empty"
)

// Build renders in. Diagnostics take precedence over everything else: a
// generation with a broken file never executes.
func Build(in Input) *Document {
	switch {
	case len(in.Diagnostics) > 0:
		return &Document{HTML: diagnostics(in), Kind: KindDiagnostics, Diagnostics: in.Diagnostics}
	case in.Entry == "":
		return &Document{HTML: empty(in), Kind: KindEmpty}
	}
	return &Document{HTML: app(in), Kind: KindApp}
}

func head(b *strings.Builder, title string) {
	if title == "" {
		title = "Preview"
	}
	b.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n<meta charset=\"utf-8\">\n")
	b.WriteString("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">\n")
	fmt.Fprintf(b, "<title>%s</title>\n", html.EscapeString(title))
}

func app(in Input) string {
	var b strings.Builder
	head(&b, in.Title)

	// json.Marshal escapes <, > and & so no key or URL can end the script
	imports, _ := json.MarshalIndent(map[string]map[string]string{"imports": in.Imports}, "", "  ")
	fmt.Fprintf(&b, "<script type=\"importmap\">\n%s\n</script>\n", imports)

	for _, src := range in.HeadScripts {
		fmt.Fprintf(&b, "<script src=\"%s\"></script>\n", html.EscapeString(src))
	}
	for _, sheet := range in.Styles {
		switch {
		case sheet.URL != "":
			fmt.Fprintf(&b, "<link rel=\"stylesheet\" href=\"%s\">\n", html.EscapeString(sheet.URL))
		case !sheet.Missing:
			fmt.Fprintf(&b, "<style data-path=\"%s\">\n%s\n</style>\n", html.EscapeString(string(sheet.Path)), styleText(sheet.Content))
		}
	}
	fmt.Fprintf(&b, "<script>\n%s</script>\n", overlayScript)
	b.WriteString("</head>\n<body>\n<div id=\"root\"></div>\n")

	entry, _ := json.Marshal(in.Entry)
	fmt.Fprintf(&b, "<script type=\"module\">\n%s</script>\n", strings.ReplaceAll(bootstrapScript, "__ENTRY__", string(entry)))
	for _, sheet := range in.Styles {
		if sheet.Missing {
			fmt.Fprintf(&b, "<script>console.warn(%s);</script>\n", jsString("stylesheet not found: "+sheet.Specifier+" (from "+string(sheet.Referrer)+")"))
		}
	}
	b.WriteString("</body>\n</html>\n")
	return b.String()
}

// styleEnd matches an end tag in any letter case, as HTML parsers do.
var styleEnd = regexp.MustCompile(`(?i)</(style)`)

// styleText keeps CSS from closing its style element early.
func styleText(css string) string {
	return styleEnd.ReplaceAllString(css, `<\/$1`)
}

// jsString quotes s for a classic script.
func jsString(s string) string {
	q, _ := json.Marshal(s)
	return string(q)
}

const pageStyle = `<style>
body { margin: 0; font: 14px/1.5 system-ui, -apple-system, sans-serif; color: #333; background: #fafafa; }
.panel { max-width: 960px; margin: 32px auto; padding: 0 24px; }
h1 { font-size: 1.2em; font-weight: 600; }
.diag { background: #fff; border: 1px solid #f0c0c0; border-left: 4px solid #cc0000; border-radius: 6px; padding: 12px 16px; margin: 12px 0; }
.loc { font-family: ui-monospace, Menlo, monospace; color: #cc0000; font-weight: 600; }
.msg { margin: 4px 0 8px; }
pre { margin: 0; padding: 8px; background: #f5f5f5; border-radius: 4px; overflow-x: auto; font: 13px/1.4 ui-monospace, Menlo, monospace; }
.empty { color: #888; text-align: center; margin-top: 20vh; }
code { font-family: ui-monospace, Menlo, monospace; }
</style>
`

func diagnostics(in Input) string {
	var b strings.Builder
	head(&b, in.Title)
	b.WriteString(pageStyle)
	b.WriteString("</head>\n<body>\n<div class=\"panel\" role=\"alert\">\n")
	noun := "error"
	if len(in.Diagnostics) > 1 {
		noun = "errors"
	}
	fmt.Fprintf(&b, "<h1>%d compile %s</h1>\n", len(in.Diagnostics), noun)
	for _, d := range in.Diagnostics {
		b.WriteString("<div class=\"diag\">\n")
		fmt.Fprintf(&b, "<div class=\"loc\">%s:%d:%d</div>\n", html.EscapeString(d.File), d.Line, d.Column)
		fmt.Fprintf(&b, "<div class=\"msg\">%s</div>\n", html.EscapeString(d.Message))
		if d.LineText != "" {
			fmt.Fprintf(&b, "<pre>%s</pre>\n", html.EscapeString(Excerpt(d)))
		}
		b.WriteString("</div>\n")
	}
	b.WriteString("</div>\n</body>\n</html>\n")
	return b.String()
}

// Excerpt renders the diagnostic's source line under its line number with
// a caret under the column.
func Excerpt(d *transform.Diagnostic) string {
	prefix := strconv.Itoa(d.Line) + " | "
	col := d.Column
	if n := utf8.RuneCountInString(d.LineText) + 1; col > n {
		col = n
	}
	if col < 1 {
		col = 1
	}
	var caret strings.Builder
	caret.WriteString(strings.Repeat(" ", len(prefix)))
	for i, r := range []rune(d.LineText) {
		if i >= col-1 {
			break
		}
		if r == '\t' {
			caret.WriteByte('\t')
		} else {
			caret.WriteByte(' ')
		}
	}
	caret.WriteByte('^')
	return prefix + d.LineText + "\n" + caret.String()
}

func empty(in Input) string {
	var b strings.Builder
	head(&b, in.Title)
	b.WriteString(pageStyle)
	b.WriteString("</head>\n<body>\n<div class=\"panel empty\">\n")
	entry := string(in.EntryPath)
	if entry == "" {
		entry = "/App.jsx"
	}
	fmt.Fprintf(&b, "<h1>Nothing to preview yet</h1>\n<p>Create <code>%s</code> with a default export to see it here.</p>\n", html.EscapeString(entry))
	b.WriteString("</div>\n</body>\n</html>\n")
	return b.String()
}
