package bundle

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/zot/uigen/internal/vfs"
)

func TestExportImportRoundTrip(t *testing.T) {
	snap := vfs.Snapshot{
		"/App.jsx":               "export default () => <h1>hi</h1>;",
		"/components/Button.jsx": "export default function Button() {}",
		"/styles/app.css":        "body { margin: 0 }",
	}

	var buf bytes.Buffer
	if err := Export(&buf, snap); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	zipReader, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("failed to read ZIP: %v", err)
	}
	if zipReader.File[0].Name != "App.jsx" {
		t.Errorf("expected App.jsx first, got %s", zipReader.File[0].Name)
	}

	got, err := Import(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if !got.Equal(snap) {
		t.Errorf("round trip = %v", got)
	}
}

func writeZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zipWriter := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zipWriter.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		w.Write([]byte(content))
	}
	zipWriter.Close()
	return buf.Bytes()
}

func TestImportSkipsIgnoredFiles(t *testing.T) {
	data := writeZip(t, map[string]string{
		"App.jsx":       "x",
		"dir/":          "",
		"App.jsx~":      "backup",
		"lib/.#lock.js": "lock",
		"/abs/ok.js":    "leading slash",
	})
	got, err := Import(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	want := vfs.Snapshot{"/App.jsx": "x", "/abs/ok.js": "leading slash"}
	if !got.Equal(want) {
		t.Errorf("Import = %v, want %v", got, want)
	}
}

func TestImportRejectsEscapingEntry(t *testing.T) {
	data := writeZip(t, map[string]string{"../evil.js": "x"})
	if _, err := Import(bytes.NewReader(data), int64(len(data))); err == nil {
		t.Fatal("expected error for entry outside the project")
	}
}

func TestReadDir(t *testing.T) {
	tmpDir := t.TempDir()
	files := map[string]string{
		"App.jsx":                     "app",
		"components/Card.jsx":         "card",
		"App.jsx~":                    "backup",
		".git/HEAD":                   "ref",
		"node_modules/react/index.js": "react",
	}
	for name, content := range files {
		path := filepath.Join(tmpDir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	os.WriteFile(filepath.Join(tmpDir, "logo.png"), []byte{0x89, 'P', 'N', 'G', 0xff, 0xfe}, 0644)

	got, err := ReadDir(tmpDir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	want := vfs.Snapshot{"/App.jsx": "app", "/components/Card.jsx": "card"}
	if !got.Equal(want) {
		t.Errorf("ReadDir = %v, want %v", got, want)
	}
}

func TestReadDirSymlinks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks require special permissions on Windows")
	}

	tmpDir := t.TempDir()
	outside := t.TempDir()
	projectDir := filepath.Join(tmpDir, "project")
	os.MkdirAll(projectDir, 0755)
	os.WriteFile(filepath.Join(projectDir, "shared.js"), []byte("shared"), 0644)
	os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("secret"), 0644)

	if err := os.Symlink("shared.js", filepath.Join(projectDir, "link.js")); err != nil {
		t.Skipf("cannot create symlink: %v", err)
	}
	os.Symlink(filepath.Join(outside, "secret.txt"), filepath.Join(projectDir, "escape.txt"))

	got, err := ReadDir(projectDir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if got["/link.js"] != "shared" {
		t.Errorf("internal symlink not followed: %v", got)
	}
	if _, ok := got["/escape.txt"]; ok {
		t.Error("symlink leaving the directory was read")
	}
}

func TestWriteDir(t *testing.T) {
	tmpDir := t.TempDir()
	snap := vfs.Snapshot{"/App.jsx": "app", "/ui/Card.jsx": "card"}
	if err := WriteDir(tmpDir, snap); err != nil {
		t.Fatalf("WriteDir failed: %v", err)
	}
	content, err := os.ReadFile(filepath.Join(tmpDir, "ui", "Card.jsx"))
	if err != nil || string(content) != "card" {
		t.Errorf("ui/Card.jsx = %q, %v", content, err)
	}

	back, err := ReadDir(tmpDir)
	if err != nil || !back.Equal(snap) {
		t.Errorf("ReadDir after WriteDir = %v, %v", back, err)
	}
}

func TestIsWithinDir(t *testing.T) {
	tests := []struct {
		path, dir string
		want      bool
	}{
		{"/a/b/c", "/a/b", true},
		{"/a/b", "/a/b", true},
		{"/a/c", "/a/b", false},
		{"/a/..b", "/a", true},
	}
	for _, tt := range tests {
		if got := isWithinDir(tt.path, tt.dir); got != tt.want {
			t.Errorf("isWithinDir(%q, %q) = %v, want %v", tt.path, tt.dir, got, tt.want)
		}
	}
}
