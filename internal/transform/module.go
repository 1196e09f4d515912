package transform

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/zot/uigen/internal/vfs"
)

// ImportKind is the statement form a specifier appeared in.
type ImportKind int

const (
	ImportStatic     ImportKind = iota // import x from "s"
	ImportSideEffect                   // import "s"
	ImportReexport                     // export ... from "s"
	ImportDynamic                      // import("s")
)

func (k ImportKind) String() string {
	switch k {
	case ImportSideEffect:
		return "side-effect"
	case ImportReexport:
		return "re-export"
	case ImportDynamic:
		return "dynamic"
	}
	return "static"
}

// Import is one module specifier found in compiled text.
type Import struct {
	Specifier string
	Kind      ImportKind
	Names     []string // imported export names; "default" for default bindings
	Locals    []string // local binding names, parallel to Names plus a namespace binding
	Namespace bool     // import * as ns, export * as ns
	Star      bool     // export * from

	// Byte offsets into Module.Code. [Start,End) covers the quoted literal,
	// [StmtStart,StmtEnd) the whole statement or import() call.
	Start, End         int
	StmtStart, StmtEnd int
}

// Diagnostic describes why a file failed to compile. Line and Column are
// 1-based.
type Diagnostic struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
	Message  string `json:"message"`
	LineText string `json:"lineText,omitempty"`
}

func (d *Diagnostic) String() string {
	return fmt.Sprintf("%s:%d:%d: %s", d.File, d.Line, d.Column, d.Message)
}

// Module is the compiled form of one source file. A module whose
// Diagnostic is set has no usable Code.
type Module struct {
	Path       vfs.Path
	Code       string
	Imports    []Import // value imports in source order
	Styles     []Import // stylesheet imports in source order
	Diagnostic *Diagnostic
}

// OK reports whether the module compiled.
func (m *Module) OK() bool {
	return m.Diagnostic == nil
}

// RewriteSpecifiers returns Code with each value import's specifier
// replaced by rename(imp). Returning the original specifier keeps it.
func (m *Module) RewriteSpecifiers(rename func(Import) string) string {
	if len(m.Imports) == 0 {
		return m.Code
	}
	var b strings.Builder
	b.Grow(len(m.Code) + 32*len(m.Imports))
	last := 0
	for _, imp := range m.Imports {
		target := rename(imp)
		if target == imp.Specifier {
			continue
		}
		b.WriteString(m.Code[last:imp.Start])
		b.WriteString(strconv.Quote(target))
		last = imp.End
	}
	b.WriteString(m.Code[last:])
	return b.String()
}
