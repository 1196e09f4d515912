package transform

import (
	"strconv"
	"strings"
)

type tokenKind int

const (
	tokNone  tokenKind = iota
	tokPunct           // operator or opening punctuation: a following '/' starts a regex
	tokValue           // literal, identifier or closing bracket: a following '/' divides
	tokWord            // keyword or identifier, decided by prevWord
)

// keywords after which an expression (and so a regex literal) may start.
var exprKeywords = map[string]bool{
	"return": true, "typeof": true, "instanceof": true, "in": true, "of": true,
	"new": true, "delete": true, "void": true, "throw": true, "case": true,
	"do": true, "else": true, "yield": true, "await": true,
}

// scanner finds module specifiers in JavaScript text. It understands
// enough of the lexical grammar to never mistake the inside of a string,
// template, comment or regex literal for an import.
type scanner struct {
	cursor
	imports   []Import
	prev      tokenKind
	prevWord  string
	prevPunct byte
}

// ScanImports returns every import, re-export and literal dynamic import
// in code, in source order.
func ScanImports(code []byte) []Import {
	s := &scanner{cursor: cursor{src: code}}
	s.scanCode(false)
	return s.imports
}

// scanCode scans tokens until the end of input or, when nested, until the
// '}' closing a template substitution (left unconsumed).
func (s *scanner) scanCode(nested bool) {
	depth := 0
	for !s.eof() {
		b := s.peek()
		switch {
		case isSpace(b):
			s.bump()
		case b == '/' && s.peekAt(1) == '/':
			s.skipLineComment()
		case b == '/' && s.peekAt(1) == '*':
			s.skipBlockComment()
		case b == '/':
			if s.regexAllowed() {
				s.skipRegex()
				s.prev = tokValue
			} else {
				s.punct(s.bump())
			}
		case b == '"' || b == '\'':
			s.readString()
			s.prev = tokValue
		case b == '`':
			s.skipTemplate()
			s.prev = tokValue
		case b == '{':
			depth++
			s.punct(s.bump())
		case b == '}':
			if nested && depth == 0 {
				return
			}
			depth--
			s.punct(s.bump())
		case b == ')' || b == ']':
			s.bump()
			s.prev = tokValue
		case isDigit(b):
			s.skipNumber()
			s.prev = tokValue
		case isIdentStart(b):
			s.word()
		default:
			s.punct(s.bump())
		}
	}
}

func (s *scanner) punct(b byte) {
	s.prev = tokPunct
	s.prevPunct = b
}

func (s *scanner) regexAllowed() bool {
	switch s.prev {
	case tokNone, tokPunct:
		return true
	case tokWord:
		return exprKeywords[s.prevWord]
	}
	return false
}

// word handles an identifier, dispatching import and export statements.
func (s *scanner) word() {
	start := s.off
	w := s.readIdent()
	propertyAccess := s.prev == tokPunct && s.prevPunct == '.'
	if !propertyAccess {
		switch w {
		case "import":
			if s.scanImport(start) {
				return
			}
		case "export":
			if s.scanExport(start) {
				return
			}
		}
	}
	s.prev = tokWord
	s.prevWord = w
}

func (s *scanner) readIdent() string {
	start := s.off
	for !s.eof() && isIdentPart(s.peek()) {
		s.bump()
	}
	return string(s.src[start:s.off])
}

// peekWord reads an identifier without consuming it.
func (s *scanner) peekWord() string {
	mark := s.off
	w := s.readIdent()
	s.off = mark
	return w
}

// skipTrivia skips whitespace and comments.
func (s *scanner) skipTrivia() {
	for !s.eof() {
		switch b := s.peek(); {
		case isSpace(b):
			s.bump()
		case b == '/' && s.peekAt(1) == '/':
			s.skipLineComment()
		case b == '/' && s.peekAt(1) == '*':
			s.skipBlockComment()
		default:
			return
		}
	}
}

func (s *scanner) skipLineComment() {
	for !s.eof() && s.peek() != '\n' {
		s.bump()
	}
}

func (s *scanner) skipBlockComment() {
	s.off += 2
	for !s.eof() {
		if s.peek() == '*' && s.peekAt(1) == '/' {
			s.off += 2
			return
		}
		s.bump()
	}
}

func (s *scanner) skipNumber() {
	for !s.eof() {
		b := s.peek()
		if isIdentPart(b) || b == '.' {
			s.bump()
			continue
		}
		// exponent sign: 1e-5
		if (b == '+' || b == '-') && (s.src[s.off-1] == 'e' || s.src[s.off-1] == 'E') {
			s.bump()
			continue
		}
		return
	}
}

func (s *scanner) skipRegex() {
	s.bump()
	inClass := false
	for !s.eof() {
		switch s.bump() {
		case '\\':
			s.bump()
		case '[':
			inClass = true
		case ']':
			inClass = false
		case '\n':
			return
		case '/':
			if !inClass {
				for !s.eof() && isIdentPart(s.peek()) {
					s.bump()
				}
				return
			}
		}
	}
}

// skipTemplate skips a template literal including nested substitutions.
func (s *scanner) skipTemplate() {
	s.bump()
	for !s.eof() {
		switch s.bump() {
		case '\\':
			s.bump()
		case '`':
			return
		case '$':
			if s.eat('{') {
				saved := s.prev
				s.prev = tokNone
				s.scanCode(true)
				s.eat('}')
				s.prev = saved
			}
		}
	}
}

// readString consumes a quoted string and returns its decoded value.
// ok is false for an unterminated literal.
func (s *scanner) readString() (value string, ok bool) {
	quote := s.bump()
	start := s.off
	escaped := false
	for !s.eof() {
		b := s.bump()
		switch {
		case b == '\\':
			escaped = true
			s.bump()
		case b == quote:
			raw := string(s.src[start : s.off-1])
			if !escaped {
				return raw, true
			}
			return unescape(raw), true
		case b == '\n':
			return "", false
		}
	}
	return "", false
}

// unescape decodes JavaScript string escapes, keeping unknown ones verbatim.
func unescape(raw string) string {
	quoted := strings.ReplaceAll(raw, `"`, `\"`)
	quoted = strings.ReplaceAll(quoted, `\'`, `'`)
	if v, err := strconv.Unquote(`"` + quoted + `"`); err == nil {
		return v
	}
	return raw
}

// readSpecifier reads a string literal at the cursor, recording its span.
func (s *scanner) readSpecifier(imp *Import) bool {
	if q := s.peek(); q != '"' && q != '\'' {
		return false
	}
	imp.Start = s.off
	v, ok := s.readString()
	if !ok {
		return false
	}
	imp.End = s.off
	imp.Specifier = v
	return true
}

// scanImport handles the text after an import keyword. It reports false,
// with the cursor restored, when the keyword starts no import.
func (s *scanner) scanImport(start int) bool {
	mark := s.off
	s.skipTrivia()

	switch b := s.peek(); {
	case b == '(':
		s.bump()
		s.skipTrivia()
		imp := Import{Kind: ImportDynamic, StmtStart: start}
		argStart := s.off
		if s.readSpecifier(&imp) {
			s.skipTrivia()
			switch s.peek() {
			case ')':
				s.bump()
				imp.StmtEnd = s.off
				s.imports = append(s.imports, imp)
				s.prev = tokValue
				return true
			case ',':
				s.imports = append(s.imports, imp)
				s.punct(',')
				return true
			}
		}
		// non-literal argument: scan it as ordinary code
		s.off = argStart
		s.punct('(')
		return true
	case b == '"' || b == '\'':
		imp := Import{Kind: ImportSideEffect, StmtStart: start}
		if s.readSpecifier(&imp) {
			s.finishStatement(&imp)
			return true
		}
	case b == '{' || b == '*' || isIdentStart(b):
		imp := Import{Kind: ImportStatic, StmtStart: start}
		if s.importClause(&imp) {
			s.finishStatement(&imp)
			return true
		}
	}
	s.off = mark
	return false
}

// importClause parses bindings and the from-clause of a static import.
func (s *scanner) importClause(imp *Import) bool {
	if isIdentStart(s.peek()) {
		local := s.readIdent()
		if local == "from" && s.atSpecifier() {
			// import from "x" is a default import named "from"
			return false
		}
		imp.Names = append(imp.Names, "default")
		imp.Locals = append(imp.Locals, local)
		s.skipTrivia()
		if !s.eat(',') {
			return s.fromClause(imp)
		}
		s.skipTrivia()
	}

	switch {
	case s.eat('*'):
		s.skipTrivia()
		if s.readIdent() != "as" {
			return false
		}
		s.skipTrivia()
		local := s.readIdent()
		if local == "" {
			return false
		}
		imp.Namespace = true
		imp.Locals = append(imp.Locals, local)
	case s.peek() == '{':
		if !s.namedList(imp) {
			return false
		}
	default:
		return false
	}
	return s.fromClause(imp)
}

// atSpecifier reports whether a string literal follows.
func (s *scanner) atSpecifier() bool {
	mark := s.off
	s.skipTrivia()
	q := s.peek()
	s.off = mark
	return q == '"' || q == '\''
}

// namedList parses { a, b as c, "str" as d }.
func (s *scanner) namedList(imp *Import) bool {
	s.bump()
	for {
		s.skipTrivia()
		if s.eat('}') {
			return true
		}
		var name string
		switch q := s.peek(); {
		case q == '"' || q == '\'':
			v, ok := s.readString()
			if !ok {
				return false
			}
			name = v
		case isIdentStart(q):
			name = s.readIdent()
		default:
			return false
		}
		local := name
		s.skipTrivia()
		if s.peekWord() == "as" {
			s.readIdent()
			s.skipTrivia()
			if q := s.peek(); q == '"' || q == '\'' {
				local, _ = s.readString()
			} else {
				local = s.readIdent()
			}
			s.skipTrivia()
		}
		imp.Names = append(imp.Names, name)
		imp.Locals = append(imp.Locals, local)
		if !s.eat(',') {
			s.skipTrivia()
			return s.eat('}')
		}
	}
}

func (s *scanner) fromClause(imp *Import) bool {
	s.skipTrivia()
	if s.readIdent() != "from" {
		return false
	}
	s.skipTrivia()
	return s.readSpecifier(imp)
}

// scanExport records re-exports; other exports report false.
func (s *scanner) scanExport(start int) bool {
	mark := s.off
	s.skipTrivia()
	imp := Import{Kind: ImportReexport, StmtStart: start}

	switch {
	case s.eat('*'):
		s.skipTrivia()
		if s.peekWord() == "as" {
			s.readIdent()
			s.skipTrivia()
			if q := s.peek(); q == '"' || q == '\'' {
				s.readString()
			} else if s.readIdent() == "" {
				s.off = mark
				return false
			}
			imp.Namespace = true
		} else {
			imp.Star = true
		}
	case s.peek() == '{':
		if !s.namedList(&imp) {
			s.off = mark
			return false
		}
		// export { a as b } re-exports a; the local list holds exported names
		imp.Locals = nil
	default:
		s.off = mark
		return false
	}

	if !s.fromClause(&imp) {
		// export { x } without from is a local export
		s.off = mark
		return false
	}
	s.finishStatement(&imp)
	return true
}

// finishStatement consumes an import attributes clause and the optional
// semicolon, then records the import.
func (s *scanner) finishStatement(imp *Import) {
	imp.StmtEnd = s.off
	mark := s.off
	s.skipTrivia()
	if w := s.peekWord(); w == "with" || w == "assert" {
		s.readIdent()
		s.skipTrivia()
		if s.peek() == '{' {
			for !s.eof() && s.bump() != '}' {
			}
			imp.StmtEnd = s.off
			mark = s.off
			s.skipTrivia()
		}
	}
	if s.eat(';') {
		imp.StmtEnd = s.off
	} else {
		s.off = mark
	}
	s.imports = append(s.imports, *imp)
	s.prev = tokPunct
	s.prevPunct = ';'
}
