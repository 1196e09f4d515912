package vfs

import (
	"strings"
)

// Path is a normalized absolute project path: it starts with "/", has no
// empty, "." or ".." segments, and no trailing "/" unless it is Root.
type Path string

// Root is the path of the project's root directory.
const Root Path = "/"

// Normalize validates and canonicalizes a raw path.
func Normalize(raw string) (Path, error) {
	return normalize("normalize", raw)
}

func normalize(op, raw string) (Path, error) {
	if raw == "" {
		return "", &PathError{Op: op, Path: raw, Reason: "empty path"}
	}
	if strings.IndexByte(raw, 0) >= 0 {
		return "", &PathError{Op: op, Path: raw, Reason: "contains NUL byte"}
	}

	var b strings.Builder
	b.Grow(len(raw) + 1)
	for _, seg := range strings.Split(raw, "/") {
		switch seg {
		case "":
			continue
		case "..":
			return "", &PathError{Op: op, Path: raw, Reason: "parent traversal is not allowed"}
		case ".":
			return "", &PathError{Op: op, Path: raw, Reason: "'.' segments are not allowed"}
		}
		b.WriteByte('/')
		b.WriteString(seg)
	}
	if b.Len() == 0 {
		return Root, nil
	}
	return Path(b.String()), nil
}

// MustNormalize is Normalize for literals known to be valid.
func MustNormalize(raw string) Path {
	p, err := Normalize(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the path as a string.
func (p Path) String() string {
	return string(p)
}

// IsRoot reports whether p is the root directory.
func (p Path) IsRoot() bool {
	return p == Root
}

// Parent returns the containing directory; the parent of Root is Root.
func (p Path) Parent() Path {
	i := strings.LastIndexByte(string(p), '/')
	if i <= 0 {
		return Root
	}
	return p[:i]
}

// Base returns the last segment, or "" for Root.
func (p Path) Base() string {
	if p.IsRoot() {
		return ""
	}
	return string(p[strings.LastIndexByte(string(p), '/')+1:])
}

// Ext returns the extension of the last segment including the dot.
func (p Path) Ext() string {
	base := p.Base()
	if i := strings.LastIndexByte(base, '.'); i > 0 {
		return base[i:]
	}
	return ""
}

// Join appends a single child name.
func (p Path) Join(name string) Path {
	if p.IsRoot() {
		return Path("/" + name)
	}
	return Path(string(p) + "/" + name)
}

// Segments returns the names along the path, excluding Root.
func (p Path) Segments() []string {
	if p.IsRoot() {
		return nil
	}
	return strings.Split(string(p[1:]), "/")
}

// Ancestors returns every proper ancestor, Root first.
func (p Path) Ancestors() []Path {
	if p.IsRoot() {
		return nil
	}
	result := []Path{Root}
	for i := 1; i < len(p); i++ {
		if p[i] == '/' {
			result = append(result, p[:i])
		}
	}
	return result
}

// Contains reports whether other is p or lies beneath it.
func (p Path) Contains(other Path) bool {
	if p.IsRoot() || p == other {
		return true
	}
	return strings.HasPrefix(string(other), string(p)+"/")
}

// Rebase moves p from under oldPrefix to under newPrefix.
func (p Path) Rebase(oldPrefix, newPrefix Path) Path {
	if p == oldPrefix {
		return newPrefix
	}
	rest := strings.TrimPrefix(string(p), string(oldPrefix))
	if newPrefix.IsRoot() {
		return Path(rest)
	}
	return Path(string(newPrefix) + rest)
}
