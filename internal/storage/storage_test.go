package storage

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/zot/uigen/internal/config"
	"github.com/zot/uigen/internal/vfs"
)

// exercise runs the same round trip against any backend.
func exercise(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()

	if _, err := b.Load(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load unknown: err = %v, want ErrNotFound", err)
	}

	app := vfs.Snapshot{
		"/App.jsx":               "export default () => <h1>hi</h1>;",
		"/components/Button.jsx": "export default function Button() {}",
	}
	if err := b.Save(ctx, "p1", app); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := b.Save(ctx, "p0", vfs.Snapshot{}); err != nil {
		t.Fatalf("Save empty: %v", err)
	}

	got, err := b.Load(ctx, "p1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !got.Equal(app) {
		t.Errorf("Load = %v, want %v", got, app)
	}
	empty, err := b.Load(ctx, "p0")
	if err != nil || len(empty) != 0 || empty == nil {
		t.Errorf("Load empty = %#v, %v", empty, err)
	}

	// overwrite replaces the whole snapshot
	if err := b.Save(ctx, "p1", vfs.Snapshot{"/App.jsx": "x"}); err != nil {
		t.Fatal(err)
	}
	got, _ = b.Load(ctx, "p1")
	if len(got) != 1 {
		t.Errorf("after overwrite: %v", got)
	}

	ids, err := b.List(ctx)
	if err != nil || !reflect.DeepEqual(ids, []string{"p0", "p1"}) {
		t.Errorf("List = %v, %v", ids, err)
	}

	if err := b.Delete(ctx, "p1"); err != nil {
		t.Errorf("Delete: %v", err)
	}
	if err := b.Delete(ctx, "p1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete: err = %v", err)
	}
}

func TestMemoryStorage(t *testing.T) {
	b := NewMemoryStorage()
	defer b.Close()
	exercise(t, b)
}

func TestMemoryStorageCopies(t *testing.T) {
	b := NewMemoryStorage()
	snap := vfs.Snapshot{"/a": "1"}
	b.Save(context.Background(), "p", snap)
	snap["/a"] = "changed"
	got, _ := b.Load(context.Background(), "p")
	if got["/a"] != "1" {
		t.Errorf("stored snapshot aliased caller map: %v", got)
	}
}

func TestSQLiteStorage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "projects.db")
	b, err := NewSQLiteStorage(path)
	if err != nil {
		t.Fatalf("NewSQLiteStorage: %v", err)
	}
	exercise(t, b)
	b.Close()

	// data survives reopening
	b, err = NewSQLiteStorage(path)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	ids, _ := b.List(context.Background())
	if !reflect.DeepEqual(ids, []string{"p0"}) {
		t.Errorf("after reopen List = %v", ids)
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	b, err := Open(ctx, config.StorageConfig{Type: "none"})
	if b != nil || err != nil {
		t.Errorf("Open(none) = %v, %v", b, err)
	}
	b, err = Open(ctx, config.StorageConfig{Type: "memory"})
	if err != nil || b.Name() != "memory" {
		t.Errorf("Open(memory) = %v, %v", b, err)
	}
	if _, err := Open(ctx, config.StorageConfig{Type: "floppy"}); err == nil {
		t.Error("Open(floppy) should fail")
	}
}
