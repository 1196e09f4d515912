package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zot/uigen/internal/handles"
	"github.com/zot/uigen/internal/pipeline"
	"github.com/zot/uigen/internal/preview"
	"github.com/zot/uigen/internal/resolve"
	"github.com/zot/uigen/internal/storage"
	"github.com/zot/uigen/internal/transform"
	"github.com/zot/uigen/internal/vfs"
)

func testOptions() Options {
	return Options{
		Timeout: time.Hour,
		Pipeline: pipeline.Options{
			Transform: transform.DefaultOptions(),
			Resolve:   resolve.DefaultOptions(),
		},
		HandleMode: handles.ModeServed,
		BaseURL:    "http://preview.test",
	}
}

func testManager(t *testing.T, opts Options) *Manager {
	t.Helper()
	m := NewManager(opts)
	t.Cleanup(m.Close)
	return m
}

// TestCreateNewSession verifies basic session creation
func TestCreateNewSession(t *testing.T) {
	manager := testManager(t, testOptions())

	session, err := manager.CreateSession(context.Background())
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if session.ID == "" {
		t.Error("Expected non-empty session ID")
	}
	if session.Project() == nil {
		t.Fatal("Expected session to own a project")
	}

	retrieved, ok := manager.GetSession(session.ID)
	if !ok || retrieved != session {
		t.Error("Expected to find the same session by ID")
	}
	if manager.Count() != 1 {
		t.Errorf("Expected 1 session, got %d", manager.Count())
	}

	// a new empty project still publishes a document
	session.Project().Flush()
	if latest := session.Latest(); latest == nil || latest.Document.Kind != preview.KindEmpty {
		t.Errorf("Latest = %+v, want an empty document", latest)
	}
}

// TestSessionIDUniqueness verifies unique session IDs
func TestSessionIDUniqueness(t *testing.T) {
	manager := testManager(t, testOptions())
	ids := make(map[string]bool)

	for i := 0; i < 20; i++ {
		session, err := manager.CreateSession(context.Background())
		if err != nil {
			t.Fatalf("CreateSession %d failed: %v", i, err)
		}
		if ids[session.ID] {
			t.Errorf("Duplicate session ID: %s", session.ID)
		}
		ids[session.ID] = true
	}
	if manager.Count() != 20 {
		t.Errorf("Expected 20 sessions, got %d", manager.Count())
	}
}

func TestOpenSessionReusesProject(t *testing.T) {
	manager := testManager(t, testOptions())
	ctx := context.Background()

	a, err := manager.OpenSession(ctx, "demo")
	if err != nil {
		t.Fatal(err)
	}
	b, err := manager.OpenSession(ctx, "demo")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Error("OpenSession created a second session for the same id")
	}

	for _, bad := range []string{"", "../etc", "has space", "a/b"} {
		if _, err := manager.OpenSession(ctx, bad); !errors.Is(err, ErrInvalidID) {
			t.Errorf("OpenSession(%q) err = %v, want ErrInvalidID", bad, err)
		}
	}
}

func TestOpenSessionSeedAndStorage(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	store.Save(ctx, "saved", vfs.Snapshot{"/App.jsx": "export default () => null;"})

	opts := testOptions()
	opts.Storage = store
	opts.Autosave = true
	opts.Seed = vfs.Snapshot{"/README.md": "seed"}
	manager := testManager(t, opts)

	saved, err := manager.OpenSession(ctx, "saved")
	if err != nil {
		t.Fatal(err)
	}
	snap, _ := saved.Project().Snapshot()
	if _, ok := snap["/App.jsx"]; !ok {
		t.Errorf("stored project not restored: %v", snap)
	}

	fresh, err := manager.OpenSession(ctx, "fresh")
	if err != nil {
		t.Fatal(err)
	}
	snap, _ = fresh.Project().Snapshot()
	if !snap.Equal(opts.Seed) {
		t.Errorf("new project = %v, want seed", snap)
	}

	// edits are autosaved and survive the session
	fresh.Project().Editor().Create("/App.jsx", "export default () => null;")
	manager.DestroySession("fresh")
	stored, err := store.Load(ctx, "fresh")
	if err != nil || len(stored) != 2 {
		t.Errorf("stored after destroy = %v, %v", stored, err)
	}
}

func TestPublishReachesConnections(t *testing.T) {
	manager := testManager(t, testOptions())
	sess, err := manager.CreateSession(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	sess.Project().Flush()

	var mu sync.Mutex
	var seen []uint64
	sess.AddConnection("conn-1", func(r *pipeline.Result) {
		mu.Lock()
		seen = append(seen, r.Seq)
		mu.Unlock()
	})

	sess.Project().Editor().Create("/App.jsx", "export default () => <p>hi</p>;")
	sess.Project().Flush()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Fatalf("listener saw %v, want the current document then the new one", seen)
	}
	if seen[1] <= seen[0] {
		t.Errorf("sequence went backwards: %v", seen)
	}
	if !sess.IsActive() || sess.GetConnectionCount() != 1 {
		t.Error("expected one active connection")
	}
	if last := sess.RemoveConnection("conn-1"); !last {
		t.Error("RemoveConnection should report the last connection")
	}
}

func TestCleanupInactiveSessions(t *testing.T) {
	opts := testOptions()
	opts.Timeout = time.Millisecond
	manager := testManager(t, opts)
	ctx := context.Background()

	idle, _ := manager.OpenSession(ctx, "idle")
	busy, _ := manager.OpenSession(ctx, "busy")
	busy.AddConnection("conn", nil)

	var destroyed []string
	manager.SetOnSessionDestroyed(func(s *Session) { destroyed = append(destroyed, s.ID) })

	time.Sleep(5 * time.Millisecond)
	if n := manager.CleanupInactiveSessions(); n != 1 {
		t.Errorf("cleaned up %d sessions, want 1", n)
	}
	if manager.SessionExists(idle.ID) || !manager.SessionExists(busy.ID) {
		t.Error("wrong session removed")
	}
	if len(destroyed) != 1 || destroyed[0] != "idle" {
		t.Errorf("destroyed callback got %v", destroyed)
	}
}

func TestCreatedCallbackFailure(t *testing.T) {
	manager := testManager(t, testOptions())
	manager.SetOnSessionCreated(func(*Session) error { return errors.New("refused") })
	if _, err := manager.CreateSession(context.Background()); err == nil {
		t.Fatal("expected callback error")
	}
	if manager.Count() != 0 {
		t.Errorf("failed session kept: %d", manager.Count())
	}
}

func TestNeverCleanupWithoutTimeout(t *testing.T) {
	opts := testOptions()
	opts.Timeout = 0
	manager := testManager(t, opts)
	manager.CreateSession(context.Background())
	if n := manager.CleanupInactiveSessions(); n != 0 {
		t.Errorf("cleaned up %d sessions with no timeout", n)
	}
}
