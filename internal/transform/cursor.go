package transform

// cursor is a byte position in compiled module text.
type cursor struct {
	src []byte
	off int
}

func (c *cursor) eof() bool {
	return c.off >= len(c.src)
}

// peek returns the current byte, or 0 at the end.
func (c *cursor) peek() byte {
	if c.eof() {
		return 0
	}
	return c.src[c.off]
}

// peekAt returns the byte n positions ahead, or 0 past the end.
func (c *cursor) peekAt(n int) byte {
	if c.off+n >= len(c.src) {
		return 0
	}
	return c.src[c.off+n]
}

// bump advances one byte and returns it.
func (c *cursor) bump() byte {
	if c.eof() {
		return 0
	}
	b := c.src[c.off]
	c.off++
	return b
}

// eat consumes b if it is next.
func (c *cursor) eat(b byte) bool {
	if !c.eof() && c.src[c.off] == b {
		c.off++
		return true
	}
	return false
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\f' || b == '\v'
}

func isIdentStart(b byte) bool {
	return b == '_' || b == '$' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || b >= 0x80
}

func isIdentPart(b byte) bool {
	return isIdentStart(b) || (b >= '0' && b <= '9')
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
