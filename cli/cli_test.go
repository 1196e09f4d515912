package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zot/uigen/internal/bundle"
	"github.com/zot/uigen/internal/config"
	"github.com/zot/uigen/internal/preview"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestOutputFlag(t *testing.T) {
	output, rest, err := outputFlag([]string{"site", "-o", "out.html", "--port", "0"})
	if err != nil {
		t.Fatal(err)
	}
	if output != "out.html" || strings.Join(rest, " ") != "site --port 0" {
		t.Errorf("output = %q, rest = %q", output, rest)
	}
	if _, _, err := outputFlag([]string{"site", "-o"}); err == nil {
		t.Error("missing -o value accepted")
	}
}

func TestBuild(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "App.jsx"), "import Card from '@/components/Card';\nexport default () => <Card />;\n")
	writeFile(t, filepath.Join(dir, "components", "Card.jsx"), "export default () => <div>card</div>;\n")

	doc, err := build(context.Background(), config.DefaultConfig(), dir)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Kind != preview.KindApp {
		t.Fatalf("kind = %s: %v", doc.Kind, doc.Diagnostics)
	}
	if !strings.Contains(doc.HTML, "data:text/javascript;base64,") || strings.Contains(doc.HTML, "/modules/") {
		t.Errorf("document does not inline its modules:\n%s", doc.HTML)
	}
}

func TestRunBuild(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "App.jsx"), "export default () => <p>hi</p>;\n")
	out := filepath.Join(t.TempDir(), "preview.html")

	if code := Run([]string{"build", dir, "-o", out, "--config", "none.toml"}); code != 0 {
		t.Fatalf("exit code %d", code)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "importmap") {
		t.Errorf("preview.html = %s", data)
	}

	writeFile(t, filepath.Join(dir, "App.jsx"), "export default () => <p>;\n")
	if code := Run([]string{"build", dir, "-o", out, "--config", "none.toml"}); code != 1 {
		t.Errorf("build with a syntax error exited %d", code)
	}
}

func TestExportImport(t *testing.T) {
	tmp := t.TempDir()
	writeFile(t, filepath.Join(tmp, "src", "App.jsx"), "app")
	writeFile(t, filepath.Join(tmp, "src", "styles", "main.css"), "body {}")
	db := filepath.Join(tmp, "projects.db")
	flags := []string{"--config", "none.toml", "--storage", "sqlite", "--storage-path", db}

	zipPath := filepath.Join(tmp, "in.zip")
	f, err := os.Create(zipPath)
	if err != nil {
		t.Fatal(err)
	}
	snap, err := bundle.ReadDir(filepath.Join(tmp, "src"))
	if err != nil {
		t.Fatal(err)
	}
	if err := bundle.Export(f, snap); err != nil {
		t.Fatal(err)
	}
	f.Close()

	if code := Run(append([]string{"import", "demo", zipPath}, flags...)); code != 0 {
		t.Fatalf("import exited %d", code)
	}
	outPath := filepath.Join(tmp, "out.zip")
	if code := Run(append([]string{"export", "demo", "-o", outPath}, flags...)); code != 0 {
		t.Fatalf("export exited %d", code)
	}
	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	got, err := bundle.Import(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(snap) {
		t.Errorf("exported %v, imported %v", got, snap)
	}

	if code := Run(append([]string{"export", "missing"}, flags...)); code != 1 {
		t.Errorf("export of a missing project exited %d", code)
	}
}

func TestDispatch(t *testing.T) {
	var seen string
	hooks := &Hooks{BeforeDispatch: func(command string, args []string) (bool, int) {
		seen = command
		return command == "custom", 7
	}}
	if code := RunWithHooks([]string{"custom"}, hooks); code != 7 || seen != "custom" {
		t.Errorf("hook: code %d, seen %q", code, seen)
	}
	if code := RunWithHooks([]string{"explode"}, hooks); code != 1 {
		t.Errorf("unknown command exited %d", code)
	}
	for _, args := range [][]string{{"dev"}, {"build"}, {"export"}, {"import", "id"}} {
		if code := Run(args); code != 1 {
			t.Errorf("%v exited %d", args, code)
		}
	}
}
