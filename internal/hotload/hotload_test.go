package hotload

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zot/uigen/internal/config"
	"github.com/zot/uigen/internal/pipeline"
	"github.com/zot/uigen/internal/project"
	"github.com/zot/uigen/internal/resolve"
	"github.com/zot/uigen/internal/transform"
	"github.com/zot/uigen/internal/vfs"
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

func newLoader(t *testing.T, dir string) (*HotLoader, *project.Project) {
	t.Helper()
	p := project.New(project.Options{
		ID: "dev",
		Pipeline: pipeline.Options{
			Transform: transform.DefaultOptions(),
			Resolve:   resolve.DefaultOptions(),
		},
	})
	t.Cleanup(p.Close)
	h, err := NewHotLoader(config.DefaultConfig(), dir, p)
	if err != nil {
		t.Fatal(err)
	}
	h.debounceDelay = 20 * time.Millisecond
	return h, p
}

// waitFor polls the project until want matches or the deadline passes.
func waitFor(t *testing.T, p *project.Project, want vfs.Snapshot) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var snap vfs.Snapshot
	for time.Now().Before(deadline) {
		snap, _ = p.Snapshot()
		if snap.Equal(want) {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("project = %v, want %v", snap, want)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "App.jsx"), "export default () => null;\n")
	writeFile(t, filepath.Join(dir, "components", "Card.jsx"), "card")
	writeFile(t, filepath.Join(dir, "node_modules", "react", "index.js"), "skip")
	writeFile(t, filepath.Join(dir, "App.jsx~"), "backup")

	h, p := newLoader(t, dir)
	n, err := h.Load()
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("loaded %d files, want 2", n)
	}
	snap, _ := p.Snapshot()
	want := vfs.Snapshot{"/App.jsx": "export default () => null;\n", "/components/Card.jsx": "card"}
	if !snap.Equal(want) {
		t.Errorf("snapshot = %v", snap)
	}
}

func TestMirrorChanges(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "App.jsx"), "v1")
	h, p := newLoader(t, dir)
	if _, err := h.Load(); err != nil {
		t.Fatal(err)
	}
	if err := h.Start(); err != nil {
		t.Fatal(err)
	}
	defer h.Stop()

	writeFile(t, filepath.Join(dir, "App.jsx"), "v2")
	waitFor(t, p, vfs.Snapshot{"/App.jsx": "v2"})

	writeFile(t, filepath.Join(dir, "ui", "deep", "Button.jsx"), "button")
	waitFor(t, p, vfs.Snapshot{"/App.jsx": "v2", "/ui/deep/Button.jsx": "button"})

	writeFile(t, filepath.Join(dir, "#App.jsx#"), "autosave")
	writeFile(t, filepath.Join(dir, ".git", "HEAD"), "ref")
	if err := os.Rename(filepath.Join(dir, "ui"), filepath.Join(dir, "lib")); err != nil {
		t.Fatal(err)
	}
	waitFor(t, p, vfs.Snapshot{"/App.jsx": "v2", "/lib/deep/Button.jsx": "button"})

	if err := os.RemoveAll(filepath.Join(dir, "lib")); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(dir, "App.jsx")); err != nil {
		t.Fatal(err)
	}
	waitFor(t, p, vfs.Snapshot{})
}

func TestMirrorKindChanges(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "ui"), "plain")
	writeFile(t, filepath.Join(dir, "lib", "x.js"), "x")
	h, p := newLoader(t, dir)
	if _, err := h.Load(); err != nil {
		t.Fatal(err)
	}
	if err := h.Start(); err != nil {
		t.Fatal(err)
	}
	defer h.Stop()

	if err := os.Remove(filepath.Join(dir, "ui")); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(dir, "ui", "a.js"), "a")
	waitFor(t, p, vfs.Snapshot{"/ui/a.js": "a", "/lib/x.js": "x"})

	if err := os.RemoveAll(filepath.Join(dir, "lib")); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(dir, "lib"), "now a file")
	waitFor(t, p, vfs.Snapshot{"/ui/a.js": "a", "/lib": "now a file"})
}

// TestApplyReplacesKindDirectly runs a batch in which the directory event
// was missed, so only the child path arrives.
func TestApplyReplacesKindDirectly(t *testing.T) {
	dir := t.TempDir()
	h, p := newLoader(t, dir)
	if err := p.Batch(func(s *vfs.Store) error { return s.Write("/ui", "plain") }); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(dir, "ui", "deep", "a.js"), "a")

	var changes int
	h.applied = func(n int) { changes = n }
	h.apply([]string{filepath.Join(dir, "ui", "deep", "a.js")})
	waitFor(t, p, vfs.Snapshot{"/ui/deep/a.js": "a"})
	if changes != 2 {
		t.Errorf("applied %d changes, want 2", changes)
	}
}

func TestAppliedBatches(t *testing.T) {
	dir := t.TempDir()
	h, p := newLoader(t, dir)
	batches := make(chan int, 16)
	h.applied = func(n int) { batches <- n }
	if err := h.Start(); err != nil {
		t.Fatal(err)
	}
	defer h.Stop()

	for _, name := range []string{"a.js", "b.js", "c.js"} {
		writeFile(t, filepath.Join(dir, name), name)
	}
	waitFor(t, p, vfs.Snapshot{"/a.js": "a.js", "/b.js": "b.js", "/c.js": "c.js"})

	total := 0
	for total < 3 {
		select {
		case n := <-batches:
			total += n
		case <-time.After(5 * time.Second):
			t.Fatalf("applied %d changes", total)
		}
	}
}

func TestIgnored(t *testing.T) {
	dir := t.TempDir()
	h, _ := newLoader(t, dir)
	tests := []struct {
		path string
		want bool
	}{
		{"App.jsx", false},
		{"src/App.jsx", false},
		{"App.jsx~", true},
		{".#App.jsx", true},
		{"node_modules/x.js", true},
		{".cache/x.js", true},
		{"", true},
	}
	for _, tt := range tests {
		if got := h.ignored(filepath.Join(dir, tt.path)); got != tt.want {
			t.Errorf("ignored(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
	if !h.ignored(filepath.Join(filepath.Dir(dir), "elsewhere.js")) {
		t.Error("path outside the directory was not ignored")
	}
}
