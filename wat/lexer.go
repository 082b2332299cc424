package wat

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Error reports a problem at a position in the source text.
type Error struct {
	Line   int
	Column int
	Msg    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.Line, e.Column, e.Msg)
}

type pos struct {
	line int
	col  int
}

func (p pos) errorf(format string, args ...any) *Error {
	return &Error{Line: p.line, Column: p.col, Msg: fmt.Sprintf(format, args...)}
}

type tokenKind int

const (
	tokLParen tokenKind = iota
	tokRParen
	// tokAtom covers keywords, $identifiers, numbers and key=value pairs.
	tokAtom
	tokString
)

type token struct {
	kind tokenKind
	// text is verbatim for atoms and decoded for strings.
	text string
	pos  pos
}

type lexer struct {
	src  string
	off  int
	line int
	col  int
}

func tokenize(src string) ([]token, error) {
	lx := &lexer{src: src, line: 1, col: 1}
	var toks []token
	for {
		if err := lx.skipSpace(); err != nil {
			return nil, err
		}
		if lx.off >= len(lx.src) {
			return toks, nil
		}
		start := lx.here()
		switch c := lx.src[lx.off]; {
		case c == '(':
			lx.advance(1)
			toks = append(toks, token{kind: tokLParen, pos: start})
		case c == ')':
			lx.advance(1)
			toks = append(toks, token{kind: tokRParen, pos: start})
		case c == '"':
			s, err := lx.str()
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{kind: tokString, text: s, pos: start})
		default:
			end := lx.off
			for end < len(lx.src) && isAtomChar(lx.src[end]) {
				end++
			}
			if end == lx.off {
				return nil, start.errorf("unexpected character %q", c)
			}
			toks = append(toks, token{kind: tokAtom, text: lx.src[lx.off:end], pos: start})
			lx.advance(end - lx.off)
		}
	}
}

func isAtomChar(c byte) bool {
	return c > ' ' && c < 0x7f && !strings.ContainsRune("\"(),;[]{}", rune(c))
}

func (lx *lexer) here() pos {
	return pos{line: lx.line, col: lx.col}
}

func (lx *lexer) advance(n int) {
	for _, c := range []byte(lx.src[lx.off : lx.off+n]) {
		if c == '\n' {
			lx.line++
			lx.col = 1
		} else {
			lx.col++
		}
	}
	lx.off += n
}

func (lx *lexer) skipSpace() error {
	for lx.off < len(lx.src) {
		rest := lx.src[lx.off:]
		switch {
		case rest[0] == ' ' || rest[0] == '\t' || rest[0] == '\n' || rest[0] == '\r':
			lx.advance(1)
		case strings.HasPrefix(rest, ";;"):
			end := strings.IndexByte(rest, '\n')
			if end < 0 {
				end = len(rest)
			}
			lx.advance(end)
		case strings.HasPrefix(rest, "(;"):
			if err := lx.blockComment(); err != nil {
				return err
			}
		default:
			return nil
		}
	}
	return nil
}

// blockComment skips a possibly nested (; ... ;) comment.
func (lx *lexer) blockComment() error {
	start := lx.here()
	depth := 0
	for lx.off < len(lx.src) {
		rest := lx.src[lx.off:]
		switch {
		case strings.HasPrefix(rest, "(;"):
			depth++
			lx.advance(2)
		case strings.HasPrefix(rest, ";)"):
			depth--
			lx.advance(2)
			if depth == 0 {
				return nil
			}
		default:
			lx.advance(1)
		}
	}
	return start.errorf("unterminated block comment")
}

// str decodes a string literal starting at the opening quote.
func (lx *lexer) str() (string, error) {
	start := lx.here()
	lx.advance(1)
	var b strings.Builder
	for lx.off < len(lx.src) {
		c := lx.src[lx.off]
		if c == '"' {
			lx.advance(1)
			return b.String(), nil
		}
		if c != '\\' {
			b.WriteByte(c)
			lx.advance(1)
			continue
		}
		if lx.off+1 >= len(lx.src) {
			break
		}
		switch esc := lx.src[lx.off+1]; esc {
		case 't':
			b.WriteByte('\t')
			lx.advance(2)
		case 'n':
			b.WriteByte('\n')
			lx.advance(2)
		case 'r':
			b.WriteByte('\r')
			lx.advance(2)
		case '"', '\'', '\\':
			b.WriteByte(esc)
			lx.advance(2)
		case 'u':
			r, n, err := lx.unicodeEscape()
			if err != nil {
				return "", err
			}
			b.WriteRune(r)
			lx.advance(n)
		default:
			if lx.off+3 > len(lx.src) {
				return "", start.errorf("unterminated string")
			}
			v, err := strconv.ParseUint(lx.src[lx.off+1:lx.off+3], 16, 8)
			if err != nil {
				return "", lx.here().errorf("invalid escape %q", lx.src[lx.off:lx.off+3])
			}
			b.WriteByte(byte(v))
			lx.advance(3)
		}
	}
	return "", start.errorf("unterminated string")
}

// unicodeEscape decodes \u{hex} at the current offset and returns its length.
func (lx *lexer) unicodeEscape() (rune, int, error) {
	rest := lx.src[lx.off:]
	end := strings.IndexByte(rest, '}')
	if !strings.HasPrefix(rest, `\u{`) || end < 0 {
		return 0, 0, lx.here().errorf("malformed unicode escape")
	}
	v, err := strconv.ParseUint(strings.ReplaceAll(rest[3:end], "_", ""), 16, 32)
	if err != nil || !utf8.ValidRune(rune(v)) {
		return 0, 0, lx.here().errorf("invalid unicode escape %q", rest[:end+1])
	}
	return rune(v), end + 1, nil
}

// node is an atom, a string or a parenthesized list.
type node struct {
	kind  tokenKind
	text  string
	items []*node
	pos   pos
}

func (n *node) isList() bool { return n.kind == tokLParen }
func (n *node) isAtom() bool { return n.kind == tokAtom }
func (n *node) isID() bool   { return n.isAtom() && strings.HasPrefix(n.text, "$") }

// head returns the keyword a list starts with, or "".
func (n *node) head() string {
	if n.isList() && len(n.items) > 0 && n.items[0].isAtom() {
		return n.items[0].text
	}
	return ""
}

func (n *node) String() string {
	switch n.kind {
	case tokLParen:
		if h := n.head(); h != "" {
			return "(" + h + " ...)"
		}
		return "(...)"
	case tokString:
		return strconv.Quote(n.text)
	}
	return n.text
}

// parse groups tokens into s-expressions.
func parse(toks []token) ([]*node, error) {
	root := &node{kind: tokLParen}
	cur := root
	var stack []*node
	for _, t := range toks {
		switch t.kind {
		case tokLParen:
			n := &node{kind: tokLParen, pos: t.pos}
			cur.items = append(cur.items, n)
			stack = append(stack, cur)
			cur = n
		case tokRParen:
			if len(stack) == 0 {
				return nil, t.pos.errorf("unexpected )")
			}
			cur = stack[len(stack)-1]
			stack = stack[:len(stack)-1]
		default:
			cur.items = append(cur.items, &node{kind: t.kind, text: t.text, pos: t.pos})
		}
	}
	if len(stack) > 0 {
		return nil, cur.pos.errorf("unclosed (")
	}
	return root.items, nil
}
