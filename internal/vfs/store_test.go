package vfs

import (
	"reflect"
	"testing"
)

func mustWrite(t *testing.T, s *Store, path, content string) {
	t.Helper()
	if err := s.Write(path, content); err != nil {
		t.Fatalf("Write(%s): %v", path, err)
	}
}

func checkStore(t *testing.T, s *Store) {
	t.Helper()
	if err := s.Check(); err != nil {
		t.Fatalf("store invariant broken: %v", err)
	}
}

// TestWriteRead verifies write(p, c) then read(p) == c
func TestWriteRead(t *testing.T) {
	s := NewStore()
	mustWrite(t, s, "/App.jsx", "export default 1")

	got, err := s.Read("App.jsx")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got != "export default 1" {
		t.Errorf("Read = %q", got)
	}

	mustWrite(t, s, "/App.jsx", "overwritten")
	if got, _ := s.Read("/App.jsx"); got != "overwritten" {
		t.Errorf("overwrite not visible: %q", got)
	}
	checkStore(t, s)
}

// TestWriteCreatesAncestors verifies auto-created parent directories
func TestWriteCreatesAncestors(t *testing.T) {
	s := NewStore()
	mustWrite(t, s, "/a/b/c.txt", "x")

	names, err := s.List("/a")
	if err != nil {
		t.Fatalf("List(/a): %v", err)
	}
	if !reflect.DeepEqual(names, []string{"b"}) {
		t.Errorf("List(/a) = %v", names)
	}
	names, err = s.List("/a/b")
	if err != nil {
		t.Fatalf("List(/a/b): %v", err)
	}
	if !reflect.DeepEqual(names, []string{"c.txt"}) {
		t.Errorf("List(/a/b) = %v", names)
	}
	info, err := s.Stat("/a/b")
	if err != nil || !info.IsDir() {
		t.Errorf("/a/b should be a directory, got %+v %v", info, err)
	}
	checkStore(t, s)
}

func TestWriteConflicts(t *testing.T) {
	s := NewStore()
	mustWrite(t, s, "/a", "file")

	if err := s.Write("/a/b.txt", "x"); !IsConflict(err) {
		t.Errorf("writing beneath a file: want ConflictError, got %v", err)
	}
	if s.Exists("/a/b.txt") {
		t.Error("failed write must not create the file")
	}

	mustWrite(t, s, "/dir/x", "1")
	if err := s.Write("/dir", "x"); !IsConflict(err) {
		t.Errorf("writing over a directory: want ConflictError, got %v", err)
	}
	if err := s.Write("/", "x"); !IsConflict(err) {
		t.Errorf("writing root: want ConflictError, got %v", err)
	}
	checkStore(t, s)
}

func TestMalformedPathLeavesStoreUnchanged(t *testing.T) {
	s := NewStore()
	mustWrite(t, s, "/keep.txt", "k")
	before := s.Revision()

	ops := map[string]error{
		"write":  s.Write("/x/../y", "bad"),
		"remove": s.Remove(""),
		"move":   s.Move("/keep.txt", "/../out"),
		"mkdir":  s.Mkdir("/a/./b"),
	}
	for op, err := range ops {
		if !IsPathError(err) {
			t.Errorf("%s: want PathError, got %v", op, err)
		}
	}
	if _, err := s.Read("/.."); !IsPathError(err) {
		t.Errorf("read: want PathError, got %v", err)
	}
	if _, err := s.List("a/../../b"); !IsPathError(err) {
		t.Errorf("list: want PathError, got %v", err)
	}
	if s.Revision() != before {
		t.Error("malformed operations must not change the store")
	}
}

func TestReadErrors(t *testing.T) {
	s := NewStore()
	mustWrite(t, s, "/dir/file.txt", "x")

	if _, err := s.Read("/missing"); !IsNotFound(err) {
		t.Errorf("missing file: want NotFoundError, got %v", err)
	}
	if _, err := s.Read("/dir"); !IsNotFound(err) {
		t.Errorf("directory: want NotFoundError, got %v", err)
	}
	if _, err := s.List("/dir/file.txt"); !IsNotFound(err) {
		t.Errorf("list of file: want NotFoundError, got %v", err)
	}
	if _, err := s.List("/nope"); !IsNotFound(err) {
		t.Errorf("list of missing: want NotFoundError, got %v", err)
	}
}

// TestRemoveRecursive verifies remove("/a") removes everything beneath it
func TestRemoveRecursive(t *testing.T) {
	s := NewStore()
	mustWrite(t, s, "/a/b/c.txt", "x")
	mustWrite(t, s, "/a/d.txt", "y")
	mustWrite(t, s, "/ab.txt", "z")

	if err := s.Remove("/a"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := s.Read("/a/b/c.txt"); !IsNotFound(err) {
		t.Errorf("want NotFoundError after remove, got %v", err)
	}
	if s.Exists("/a/b") || s.Exists("/a") {
		t.Error("directory nodes should be gone")
	}
	if !s.Exists("/ab.txt") {
		t.Error("sibling with shared name prefix must survive")
	}
	names, _ := s.List("/")
	if !reflect.DeepEqual(names, []string{"ab.txt"}) {
		t.Errorf("root children = %v", names)
	}
	checkStore(t, s)
}

func TestRemoveErrors(t *testing.T) {
	s := NewStore()
	if err := s.Remove("/missing"); !IsNotFound(err) {
		t.Errorf("want NotFoundError, got %v", err)
	}
	if err := s.Remove("/"); !IsConflict(err) {
		t.Errorf("removing root: want ConflictError, got %v", err)
	}
}

// TestMoveSubtree verifies every descendant path is rewritten
func TestMoveSubtree(t *testing.T) {
	s := NewStore()
	mustWrite(t, s, "/a/b/one.txt", "1")
	mustWrite(t, s, "/a/b/deep/two.txt", "2")
	mustWrite(t, s, "/a/keep.txt", "k")

	if err := s.Move("/a/b", "/x/y"); err != nil {
		t.Fatalf("Move: %v", err)
	}

	for _, old := range []string{"/a/b", "/a/b/one.txt", "/a/b/deep/two.txt"} {
		if s.Exists(old) {
			t.Errorf("%s should be unreachable after move", old)
		}
	}
	want := map[string]string{"/x/y/one.txt": "1", "/x/y/deep/two.txt": "2", "/a/keep.txt": "k"}
	for p, content := range want {
		got, err := s.Read(p)
		if err != nil {
			t.Errorf("Read(%s): %v", p, err)
			continue
		}
		if got != content {
			t.Errorf("Read(%s) = %q, want %q", p, got, content)
		}
	}
	names, _ := s.List("/a")
	if !reflect.DeepEqual(names, []string{"keep.txt"}) {
		t.Errorf("List(/a) = %v", names)
	}
	checkStore(t, s)
}

func TestMoveFile(t *testing.T) {
	s := NewStore()
	mustWrite(t, s, "/Button.jsx", "b")

	if err := s.Move("/Button.jsx", "/components/Button.jsx"); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if got, _ := s.Read("/components/Button.jsx"); got != "b" {
		t.Errorf("moved content = %q", got)
	}
	if err := s.Move("/components/Button.jsx", "/components/Button.jsx"); err != nil {
		t.Errorf("self move should be a no-op, got %v", err)
	}
	checkStore(t, s)
}

func TestMoveErrors(t *testing.T) {
	s := NewStore()
	mustWrite(t, s, "/a/b.txt", "1")
	mustWrite(t, s, "/c.txt", "2")
	mustWrite(t, s, "/file", "3")

	tests := []struct {
		from, to string
		check    func(error) bool
		kind     string
	}{
		{"/missing", "/x", IsNotFound, "NotFoundError"},
		{"/a/b.txt", "/c.txt", IsConflict, "ConflictError"},
		{"/c.txt", "/a", IsConflict, "ConflictError"},
		{"/a", "/a/inner", IsConflict, "ConflictError"},
		{"/c.txt", "/file/c.txt", IsConflict, "ConflictError"},
		{"/", "/elsewhere", IsConflict, "ConflictError"},
	}
	for _, tt := range tests {
		if err := s.Move(tt.from, tt.to); !tt.check(err) {
			t.Errorf("Move(%s, %s): want %s, got %v", tt.from, tt.to, tt.kind, err)
		}
	}
	if got, _ := s.Read("/c.txt"); got != "2" {
		t.Error("failed moves must not disturb the source")
	}
	checkStore(t, s)
}

func TestMkdir(t *testing.T) {
	s := NewStore()
	if err := s.Mkdir("/empty/nested"); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := s.Mkdir("/empty/nested"); err != nil {
		t.Errorf("Mkdir on existing directory: %v", err)
	}
	mustWrite(t, s, "/f", "x")
	if err := s.Mkdir("/f"); !IsConflict(err) {
		t.Errorf("Mkdir over file: want ConflictError, got %v", err)
	}
	names, _ := s.List("/empty")
	if !reflect.DeepEqual(names, []string{"nested"}) {
		t.Errorf("List(/empty) = %v", names)
	}
	checkStore(t, s)
}

func TestFilesAndWalk(t *testing.T) {
	s := NewStore()
	mustWrite(t, s, "/b.js", "")
	mustWrite(t, s, "/a/z.js", "")
	mustWrite(t, s, "/a/y.js", "")

	files := s.Files()
	want := []Path{"/a/y.js", "/a/z.js", "/b.js"}
	if !reflect.DeepEqual(files, want) {
		t.Errorf("Files = %v, want %v", files, want)
	}

	var walked []Path
	s.Walk(func(info Info) error {
		walked = append(walked, info.Path)
		return nil
	})
	if !reflect.DeepEqual(walked, []Path{"/", "/a", "/a/y.js", "/a/z.js", "/b.js"}) {
		t.Errorf("Walk order = %v", walked)
	}
}

func TestRevisionAdvances(t *testing.T) {
	s := NewStore()
	r0 := s.Revision()
	mustWrite(t, s, "/a.txt", "1")
	r1 := s.Revision()
	if r1 <= r0 {
		t.Error("write should advance revision")
	}
	info, _ := s.Stat("/a.txt")
	if info.Revision != r1 {
		t.Errorf("node revision = %d, want %d", info.Revision, r1)
	}
	s.Remove("/missing")
	if s.Revision() != r1 {
		t.Error("failed operation should not advance revision")
	}
}
