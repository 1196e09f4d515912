package preview

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/zot/uigen/internal/resolve"
	"github.com/zot/uigen/internal/transform"
)

func between(t *testing.T, doc, start, end string) string {
	t.Helper()
	i := strings.Index(doc, start)
	if i < 0 {
		t.Fatalf("%q not found in:\n%s", start, doc)
	}
	rest := doc[i+len(start):]
	j := strings.Index(rest, end)
	if j < 0 {
		t.Fatalf("%q not found after %q", end, start)
	}
	return rest[:j]
}

func TestBuildApp(t *testing.T) {
	doc := Build(Input{
		Title: "Demo",
		Imports: map[string]string{
			"@/App.jsx": "/modules/1/a.js",
			"react":     "https://esm.sh/react@19",
		},
		Styles: []resolve.Stylesheet{
			{Specifier: "./app.css", Path: "/app.css", Content: "body { margin: 0 }"},
			{Specifier: "katex/dist/katex.css", URL: "https://esm.sh/katex/dist/katex.css"},
			{Specifier: "./gone.css", Path: "/gone.css", Missing: true, Referrer: "/App.jsx"},
		},
		Entry:       "@/App.jsx",
		HeadScripts: []string{"https://cdn.tailwindcss.com"},
	})
	if doc.Kind != KindApp {
		t.Fatalf("kind = %s", doc.Kind)
	}
	page := doc.HTML

	var m struct {
		Imports map[string]string `json:"imports"`
	}
	if err := json.Unmarshal([]byte(between(t, page, `<script type="importmap">`, "</script>")), &m); err != nil {
		t.Fatalf("import map is not JSON: %v", err)
	}
	if m.Imports["@/App.jsx"] != "/modules/1/a.js" || len(m.Imports) != 2 {
		t.Errorf("imports = %v", m.Imports)
	}

	for _, want := range []string{
		`<style data-path="/app.css">`,
		`<link rel="stylesheet" href="https://esm.sh/katex/dist/katex.css">`,
		`<script src="https://cdn.tailwindcss.com"></script>`,
		`addEventListener("unhandledrejection"`,
		`await import("@/App.jsx")`,
		`<div id="root"></div>`,
		`stylesheet not found: ./gone.css (from /App.jsx)`,
	} {
		if !strings.Contains(page, want) {
			t.Errorf("document missing %q", want)
		}
	}
	if strings.Index(page, `type="importmap"`) > strings.Index(page, `type="module"`) {
		t.Error("import map must precede module scripts")
	}
	if strings.Contains(page, "/gone.css\"") {
		t.Error("missing stylesheet injected")
	}
}

// TestBuildEscaping verifies content from project files cannot break out of
// the element that embeds it.
func TestBuildEscaping(t *testing.T) {
	doc := Build(Input{
		Title:   "<b>x</b>",
		Imports: map[string]string{"@/</script><script>alert(1)</script>.jsx": "/m.js"},
		Styles:  []resolve.Stylesheet{{Path: "/a.css", Content: "a::after { content: '</style><script>alert(2)</script>' }"}},
		Entry:   "@/</script>.jsx",
	}).HTML
	if strings.Contains(doc, "<script>alert(1)") {
		t.Errorf("markup escaped its container:\n%s", doc)
	}
	if strings.Count(doc, "</style>") != 1 {
		t.Errorf("style element closed early:\n%s", doc)
	}
	if !strings.Contains(doc, "<title>&lt;b&gt;x&lt;/b&gt;</title>") {
		t.Error("title not escaped")
	}
}

func TestStyleTextMixedCase(t *testing.T) {
	tests := []struct {
		css, want string
	}{
		{"a{}", "a{}"},
		{"</style>", `<\/style>`},
		{"</STYLE>", `<\/STYLE>`},
		{"</Style><script>x()</script>", `<\/Style><script>x()</script>`},
		{"x</sTyLe y</stYLE", `x<\/sTyLe y<\/stYLE`},
	}
	for _, tt := range tests {
		if got := styleText(tt.css); got != tt.want {
			t.Errorf("styleText(%q) = %q, want %q", tt.css, got, tt.want)
		}
	}

	plain := Build(Input{Styles: []resolve.Stylesheet{{Path: "/a.css", Content: "a {}"}}, Entry: "@/App.jsx"}).HTML
	doc := Build(Input{Styles: []resolve.Stylesheet{{Path: "/a.css", Content: "a::after { content: '</Style><script>alert(3)</script>' }"}}, Entry: "@/App.jsx"}).HTML
	if got, want := strings.Count(strings.ToLower(doc), "</style"), strings.Count(strings.ToLower(plain), "</style"); got != want {
		t.Errorf("found %d style end tags, want %d:\n%s", got, want, doc)
	}
}

func TestBuildDiagnostics(t *testing.T) {
	d := &transform.Diagnostic{
		File: "/Broken.jsx", Line: 2, Column: 11,
		Message: `Unexpected ";"`, LineText: "const b = ;",
	}
	doc := Build(Input{
		Imports:     map[string]string{"@/App.jsx": "/m.js"},
		Entry:       "@/App.jsx",
		Diagnostics: []*transform.Diagnostic{d},
	})
	if doc.Kind != KindDiagnostics {
		t.Fatalf("kind = %s", doc.Kind)
	}
	for _, want := range []string{"/Broken.jsx:2:11", "Unexpected &#34;;&#34;", "const b = ;", "1 compile error"} {
		if !strings.Contains(doc.HTML, want) {
			t.Errorf("diagnostics document missing %q:\n%s", want, doc.HTML)
		}
	}
	if strings.Contains(doc.HTML, `type="module"`) || strings.Contains(doc.HTML, "importmap") {
		t.Error("diagnostics document must not execute the generation")
	}
}

func TestExcerpt(t *testing.T) {
	got := Excerpt(&transform.Diagnostic{Line: 2, Column: 11, LineText: "const b = ;"})
	want := "2 | const b = ;\n              ^"
	if got != want {
		t.Errorf("Excerpt =\n%s\nwant\n%s", got, want)
	}
	tabbed := Excerpt(&transform.Diagnostic{Line: 7, Column: 3, LineText: "\tx?"})
	if tabbed != "7 | \tx?\n    \t ^" {
		t.Errorf("tabbed excerpt = %q", tabbed)
	}
}

func TestBuildEmpty(t *testing.T) {
	doc := Build(Input{EntryPath: "/App.jsx", Imports: map[string]string{"@/lib.js": "/m.js"}})
	if doc.Kind != KindEmpty {
		t.Fatalf("kind = %s", doc.Kind)
	}
	if !strings.Contains(doc.HTML, "<code>/App.jsx</code>") || strings.Contains(doc.HTML, "<script") {
		t.Errorf("empty document:\n%s", doc.HTML)
	}
}
