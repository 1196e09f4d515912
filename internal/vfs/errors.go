package vfs

import (
	"errors"
	"fmt"
)

// PathError reports malformed path input. The store is never mutated
// when one is returned.
type PathError struct {
	Op     string
	Path   string
	Reason string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s %q: invalid path: %s", e.Op, e.Path, e.Reason)
}

// NotFoundError reports an operation on a path that is absent, or that
// has the wrong kind for the operation.
type NotFoundError struct {
	Op     string
	Path   Path
	Reason string
}

func (e *NotFoundError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Path, e.Reason)
	}
	return fmt.Sprintf("%s %s: no such file or directory", e.Op, e.Path)
}

// ConflictError reports an operation that would collide with an
// existing incompatible node.
type ConflictError struct {
	Op     string
	Path   Path
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s: conflict: %s", e.Op, e.Path, e.Reason)
}

// IsPathError reports whether err wraps a PathError.
func IsPathError(err error) bool {
	var pe *PathError
	return errors.As(err, &pe)
}

// IsNotFound reports whether err wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsConflict reports whether err wraps a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// ErrorKind names the error kind of err, or "" for errors outside the taxonomy.
func ErrorKind(err error) string {
	switch {
	case IsPathError(err):
		return "PathError"
	case IsNotFound(err):
		return "NotFoundError"
	case IsConflict(err):
		return "ConflictError"
	}
	return ""
}
