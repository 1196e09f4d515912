package vfs

import (
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		raw  string
		want Path
	}{
		{"/", Root},
		{"//", Root},
		{"App.jsx", "/App.jsx"},
		{"/App.jsx", "/App.jsx"},
		{"components//Button.jsx", "/components/Button.jsx"},
		{"/components/", "/components"},
		{"///a///b///", "/a/b"},
		{"/a..b/c", "/a..b/c"},
		{"/.env", "/.env"},
	}
	for _, tt := range tests {
		got, err := Normalize(tt.raw)
		if err != nil {
			t.Errorf("Normalize(%q) error: %v", tt.raw, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestNormalizeRejects(t *testing.T) {
	for _, raw := range []string{"", "..", "/a/../b", "../x", "/a/..", "/a/./b", "a\x00b"} {
		_, err := Normalize(raw)
		if err == nil {
			t.Errorf("Normalize(%q) should fail", raw)
			continue
		}
		if !IsPathError(err) {
			t.Errorf("Normalize(%q) error %v is not a PathError", raw, err)
		}
	}
}

// TestNormalizeIdempotent verifies normalize(normalize(p)) == normalize(p)
func TestNormalizeIdempotent(t *testing.T) {
	for _, raw := range []string{"/", "a", "a/b/", "//x//y", "/components/ui/Button.tsx", "deep/er/than/that/"} {
		once, err := Normalize(raw)
		if err != nil {
			t.Fatalf("Normalize(%q): %v", raw, err)
		}
		twice, err := Normalize(string(once))
		if err != nil {
			t.Fatalf("Normalize(%q): %v", once, err)
		}
		if once != twice {
			t.Errorf("not idempotent: %q -> %q -> %q", raw, once, twice)
		}
	}
}

func TestPathHelpers(t *testing.T) {
	p := MustNormalize("/components/ui/Button.tsx")

	if p.Parent() != "/components/ui" {
		t.Errorf("Parent = %q", p.Parent())
	}
	if p.Base() != "Button.tsx" {
		t.Errorf("Base = %q", p.Base())
	}
	if p.Ext() != ".tsx" {
		t.Errorf("Ext = %q", p.Ext())
	}
	if MustNormalize("/a").Parent() != Root || Root.Parent() != Root {
		t.Error("parent of a top-level path and of root should be root")
	}
	if Root.Join("x") != "/x" || MustNormalize("/a").Join("x") != "/a/x" {
		t.Error("Join produced wrong path")
	}

	ancestors := p.Ancestors()
	want := []Path{"/", "/components", "/components/ui"}
	if len(ancestors) != len(want) {
		t.Fatalf("Ancestors = %v, want %v", ancestors, want)
	}
	for i := range want {
		if ancestors[i] != want[i] {
			t.Errorf("Ancestors[%d] = %q, want %q", i, ancestors[i], want[i])
		}
	}

	if !MustNormalize("/a").Contains("/a/b") || MustNormalize("/a").Contains("/ab") {
		t.Error("Contains must respect segment boundaries")
	}
	if got := MustNormalize("/a/b/c").Rebase("/a/b", "/x"); got != "/x/c" {
		t.Errorf("Rebase = %q", got)
	}
	if MustNormalize("/.gitignore").Ext() != "" {
		t.Error("dotfile should have no extension")
	}
}
