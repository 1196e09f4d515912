// Package bundle moves project snapshots in and out of zip archives and
// directories on disk.
package bundle

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/zot/uigen/internal/vfs"
)

// MaxFileSize bounds a single imported file.
const MaxFileSize = 8 << 20

// IGNORE_FILES matches editor backup and lock files.
var IGNORE_FILES = regexp.MustCompile(`^(|.*/)((#|\.#)[^/]*|[^/]*~)$`)

// skipDirs are never read from disk.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"dist":         true,
}

// Export writes snap as a zip archive with one entry per file, named by
// its path without the leading slash.
func Export(w io.Writer, snap vfs.Snapshot) error {
	zipWriter := zip.NewWriter(w)
	for _, p := range snap.Paths() {
		header := &zip.FileHeader{
			Name:   strings.TrimPrefix(p, "/"),
			Method: zip.Deflate,
		}
		header.SetMode(0644)
		writer, err := zipWriter.CreateHeader(header)
		if err != nil {
			return err
		}
		if _, err := io.WriteString(writer, snap[p]); err != nil {
			return err
		}
	}
	return zipWriter.Close()
}

// Import reads a zip archive into a snapshot. Directory entries, symlinks
// and ignored files are skipped; an entry whose name is not a valid
// project path fails the import.
func Import(r io.ReaderAt, size int64) (vfs.Snapshot, error) {
	// entry names are validated below, so an insecure-path warning still
	// comes with a usable reader
	zipReader, err := zip.NewReader(r, size)
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return nil, fmt.Errorf("read archive: %w", err)
	}
	snap := vfs.Snapshot{}
	for _, f := range zipReader.File {
		if f.FileInfo().IsDir() || f.Mode()&os.ModeSymlink != 0 || IGNORE_FILES.MatchString(f.Name) {
			continue
		}
		p, err := vfs.Normalize("/" + strings.TrimPrefix(f.Name, "/"))
		if err != nil {
			return nil, fmt.Errorf("archive entry %s: %w", f.Name, err)
		}
		content, err := readZipFile(f)
		if err != nil {
			return nil, fmt.Errorf("archive entry %s: %w", f.Name, err)
		}
		snap[string(p)] = content
	}
	return snap, nil
}

func readZipFile(f *zip.File) (string, error) {
	if f.UncompressedSize64 > MaxFileSize {
		return "", fmt.Errorf("file larger than %d bytes", MaxFileSize)
	}
	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, MaxFileSize+1))
	if err != nil {
		return "", err
	}
	if len(data) > MaxFileSize {
		return "", fmt.Errorf("file larger than %d bytes", MaxFileSize)
	}
	return string(data), nil
}

// ReadDir loads the text files under dir into a snapshot. Hidden and
// dependency directories, ignored files, binary files, and symlinks that
// leave dir are skipped.
func ReadDir(dir string) (vfs.Snapshot, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path of source: %w", err)
	}
	realDir, err := filepath.EvalSymlinks(absDir)
	if err != nil {
		return nil, err
	}

	snap := vfs.Snapshot{}
	err = filepath.WalkDir(absDir, func(filePath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if filePath != absDir && SkipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if IGNORE_FILES.MatchString(filePath) {
			return nil
		}
		p, ok, err := readDiskFile(absDir, realDir, filePath, d)
		if err != nil || !ok {
			return err
		}
		content, ok, err := ReadTextFile(filePath)
		if err != nil || !ok {
			return err
		}
		snap[string(p)] = content
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// SkipDir reports whether a directory named name is left out of snapshots.
func SkipDir(name string) bool {
	return skipDirs[name] || strings.HasPrefix(name, ".")
}

// ReadTextFile reads a file that can be a project file. ok is false for
// binary and oversize files.
func ReadTextFile(filePath string) (content string, ok bool, err error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", false, err
	}
	if len(data) > MaxFileSize || !utf8.Valid(data) {
		return "", false, nil
	}
	return string(data), true, nil
}

// ProjectPath maps a file under dir to its project path.
func ProjectPath(dir, filePath string) (vfs.Path, error) {
	rel, err := filepath.Rel(dir, filePath)
	if err != nil {
		return "", err
	}
	return vfs.Normalize("/" + filepath.ToSlash(rel))
}

// readDiskFile reports whether filePath belongs in a snapshot of absDir
// and under which path. realDir is absDir with symlinks resolved.
func readDiskFile(absDir, realDir, filePath string, d fs.DirEntry) (vfs.Path, bool, error) {
	if d.Type()&fs.ModeSymlink != 0 {
		target, err := filepath.EvalSymlinks(filePath)
		if err != nil || !isWithinDir(target, realDir) {
			return "", false, nil
		}
		if info, err := os.Stat(target); err != nil || !info.Mode().IsRegular() {
			return "", false, nil
		}
	} else if !d.Type().IsRegular() {
		return "", false, nil
	}
	p, err := ProjectPath(absDir, filePath)
	if err != nil {
		return "", false, nil
	}
	return p, true, nil
}

// WriteDir writes every file of snap under dir, creating directories as
// needed. Existing files are overwritten; others are left alone.
func WriteDir(dir string, snap vfs.Snapshot) error {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	for _, p := range snap.Paths() {
		targetPath := filepath.Join(absDir, filepath.FromSlash(strings.TrimPrefix(p, "/")))
		if !isWithinDir(targetPath, absDir) {
			return fmt.Errorf("path escapes target directory: %s", p)
		}
		if err := os.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(targetPath, []byte(snap[p]), 0644); err != nil {
			return err
		}
	}
	return nil
}

// isWithinDir checks if absPath is within absDir
func isWithinDir(absPath, absDir string) bool {
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
