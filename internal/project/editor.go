package project

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/zot/uigen/internal/metrics"
	"github.com/zot/uigen/internal/vfs"
)

// TextNotFoundError is returned by StrReplace when the text to replace
// does not occur in the file. It unwraps to a *vfs.NotFoundError.
type TextNotFoundError struct {
	Path vfs.Path
	Text string
}

func (e *TextNotFoundError) Error() string {
	return fmt.Sprintf("str_replace %s: text not found: %q", e.Path, e.Text)
}

func (e *TextNotFoundError) Unwrap() error {
	return &vfs.NotFoundError{Op: "str_replace", Path: e.Path, Reason: "text not found"}
}

// LineRangeError is returned by Insert for a line past the end of file.
type LineRangeError struct {
	Path  vfs.Path
	Line  int
	Lines int
}

func (e *LineRangeError) Error() string {
	return fmt.Sprintf("insert %s: line %d out of range [0, %d]", e.Path, e.Line, e.Lines)
}

// Editor is the command set agents and the HTTP API edit a project with.
// Each command is one batch and returns store errors unchanged.
type Editor struct {
	p *Project
}

// Editor returns the project's command set.
func (p *Project) Editor() *Editor {
	return &Editor{p: p}
}

func record(op string, err error) error {
	metrics.RecordStoreOp(op, err)
	return err
}

// View returns a file's content with 1-based line numbers, one
// "N\tline" per line, or a directory's children, directories suffixed
// with "/".
func (e *Editor) View(path string) (string, error) {
	var out string
	err := e.p.View(func(s *vfs.Store) (err error) {
		out, err = ViewPath(s, path)
		return err
	})
	return out, record("view", err)
}

// ViewPath is View on a store the caller already holds.
func ViewPath(s *vfs.Store, path string) (string, error) {
	info, err := s.Stat(path)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		content, err := s.Read(path)
		if err != nil {
			return "", err
		}
		return numbered(content), nil
	}
	names, err := s.List(path)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		if child, err := s.Stat(string(info.Path.Join(name))); err == nil && child.IsDir() {
			b.WriteByte('/')
		}
		b.WriteByte('\n')
	}
	return b.String(), nil
}

func numbered(content string) string {
	if content == "" {
		return ""
	}
	lines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	var b strings.Builder
	for i, line := range lines {
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteByte('\t')
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// Create writes a file, creating missing parent directories. An existing
// file is overwritten.
func (e *Editor) Create(path, content string) error {
	err := e.p.Batch(func(s *vfs.Store) error {
		return s.Write(path, content)
	})
	return record("create", err)
}

// StrReplace replaces every occurrence of oldText in a file and returns
// how many there were.
func (e *Editor) StrReplace(path, oldText, newText string) (int, error) {
	var count int
	err := e.p.Batch(func(s *vfs.Store) (err error) {
		count, err = ReplaceText(s, path, oldText, newText)
		return err
	})
	return count, record("str_replace", err)
}

// ReplaceText is StrReplace on a store the caller already holds.
func ReplaceText(s *vfs.Store, path, oldText, newText string) (int, error) {
	content, err := s.Read(path)
	if err != nil {
		return 0, err
	}
	count := 0
	if oldText != "" {
		count = strings.Count(content, oldText)
	}
	if count == 0 {
		p, _ := vfs.Normalize(path)
		return 0, &TextNotFoundError{Path: p, Text: oldText}
	}
	if err := s.Write(path, strings.ReplaceAll(content, oldText, newText)); err != nil {
		return 0, err
	}
	return count, nil
}

// Insert adds text after line (0 inserts at the top). The inserted text
// always occupies whole lines.
func (e *Editor) Insert(path string, line int, text string) error {
	err := e.p.Batch(func(s *vfs.Store) error {
		return InsertLines(s, path, line, text)
	})
	return record("insert", err)
}

// InsertLines is Insert on a store the caller already holds.
func InsertLines(s *vfs.Store, path string, line int, text string) error {
	content, err := s.Read(path)
	if err != nil {
		return err
	}
	var lines []string
	if content != "" {
		lines = strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	}
	if line < 0 || line > len(lines) {
		p, _ := vfs.Normalize(path)
		return &LineRangeError{Path: p, Line: line, Lines: len(lines)}
	}
	inserted := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	result := make([]string, 0, len(lines)+len(inserted))
	result = append(result, lines[:line]...)
	result = append(result, inserted...)
	result = append(result, lines[line:]...)
	updated := strings.Join(result, "\n")
	if content == "" || strings.HasSuffix(content, "\n") {
		updated += "\n"
	}
	return s.Write(path, updated)
}

// Rename moves a file or directory, creating missing parents of the
// destination.
func (e *Editor) Rename(oldPath, newPath string) error {
	err := e.p.Batch(func(s *vfs.Store) error {
		return s.Move(oldPath, newPath)
	})
	return record("rename", err)
}

// Delete removes a file or a directory and everything under it.
func (e *Editor) Delete(path string) error {
	err := e.p.Batch(func(s *vfs.Store) error {
		return s.Remove(path)
	})
	return record("delete", err)
}
