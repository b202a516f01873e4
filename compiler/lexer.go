package compiler

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Lexer: indentation-aware tokenizer
// ---------------------------------------------------------------------------

const tabWidth = 8

// Lexer tokenizes source text. Block structure is reported through
// INDENT and DEDENT tokens, and line ends inside brackets are ignored.
type Lexer struct {
	input     string
	pos       int  // current position in input
	readPos   int  // reading position (after current char)
	ch        rune // current character
	line      int  // current line (1-based)
	lineStart int  // offset of current line start

	indents     []int
	depth       int // bracket nesting
	atLineStart bool
	pending     []Token
	last        TokenType
	emitted     bool
	done        bool
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{
		input:       input,
		line:        1,
		indents:     []int{0},
		atLineStart: true,
	}
	l.readChar()
	return l
}

// Lex tokenizes src completely. The result always ends with an EOF token.
func Lex(src string) ([]Token, error) {
	l := NewLexer(src)
	var tokens []Token
	for {
		tok, err := l.NextToken()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF {
			return tokens, nil
		}
	}
}

// readChar reads the next character.
func (l *Lexer) readChar() {
	if l.ch == '\n' {
		l.line++
		l.lineStart = l.readPos
	}
	if l.readPos >= len(l.input) {
		l.ch = 0 // EOF
		l.pos = l.readPos
		return
	}
	r, size := utf8.DecodeRuneInString(l.input[l.readPos:])
	l.ch = r
	l.pos = l.readPos
	l.readPos += size
}

// peekChar returns the next character without consuming it.
func (l *Lexer) peekChar() rune {
	if l.readPos >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.readPos:])
	return r
}

func (l *Lexer) position() Position {
	return Position{Offset: l.pos, Line: l.line, Column: l.pos - l.lineStart + 1}
}

func (l *Lexer) errorf(incomplete bool, format string, args ...any) error {
	return &SyntaxError{Line: l.line, Msg: fmt.Sprintf(format, args...), Incomplete: incomplete}
}

func (l *Lexer) emit(tok Token) (Token, error) {
	l.last = tok.Type
	l.emitted = true
	return tok, nil
}

// NextToken returns the next token. After EOF has been returned it keeps
// returning EOF.
func (l *Lexer) NextToken() (Token, error) {
	for {
		if len(l.pending) > 0 {
			tok := l.pending[0]
			l.pending = l.pending[1:]
			return l.emit(tok)
		}
		if l.done {
			return Token{Type: TokenEOF, Pos: l.position()}, nil
		}
		if l.atLineStart && l.depth == 0 {
			if err := l.indentation(); err != nil {
				return Token{}, err
			}
			continue
		}

		l.skipBlanks()
		pos := l.position()

		switch {
		case l.ch == 0:
			if l.depth > 0 {
				return Token{}, l.errorf(true, "unexpected end of input inside brackets")
			}
			l.finish(pos)
			continue

		case l.ch == '\n':
			l.readChar()
			if l.depth > 0 {
				continue
			}
			l.atLineStart = true
			if !l.emitted || l.last == TokenNewline {
				continue
			}
			return l.emit(Token{Type: TokenNewline, Literal: "\n", Pos: pos})

		case l.ch == '\\' && (l.peekChar() == '\n' || l.peekChar() == '\r'):
			l.readChar()
			if l.ch == '\r' {
				l.readChar()
			}
			l.readChar()
			continue

		case l.ch == '\'' || l.ch == '"':
			return l.readString(pos, false, false)

		case isDigit(l.ch) || (l.ch == '.' && isDigit(l.peekChar())):
			return l.readNumber(pos)

		case isIdentStart(l.ch):
			return l.readIdentifier(pos)
		}

		return l.readPunct(pos)
	}
}

// indentation measures the leading whitespace of a logical line and
// queues INDENT or DEDENT tokens. Blank and comment-only lines are skipped.
func (l *Lexer) indentation() error {
	col := 0
	for l.ch == ' ' || l.ch == '\t' || l.ch == '\f' || l.ch == '\r' {
		switch l.ch {
		case ' ':
			col++
		case '\t':
			col += tabWidth - col%tabWidth
		case '\f':
			col = 0
		}
		l.readChar()
	}
	switch l.ch {
	case '#':
		l.skipComment()
		return nil
	case '\n':
		l.readChar()
		return nil
	case 0:
		l.atLineStart = false
		return nil
	}

	l.atLineStart = false
	pos := l.position()
	top := l.indents[len(l.indents)-1]
	switch {
	case col > top:
		l.indents = append(l.indents, col)
		l.pending = append(l.pending, Token{Type: TokenIndent, Pos: pos})
	case col < top:
		for col < l.indents[len(l.indents)-1] {
			l.indents = l.indents[:len(l.indents)-1]
			l.pending = append(l.pending, Token{Type: TokenDedent, Pos: pos})
		}
		if col != l.indents[len(l.indents)-1] {
			return l.errorf(false, "unindent does not match any outer indentation level")
		}
	}
	return nil
}

// finish queues the tokens that close the input: a final NEWLINE, one
// DEDENT per open block and EOF.
func (l *Lexer) finish(pos Position) {
	if l.emitted && l.last != TokenNewline && l.last != TokenDedent {
		l.pending = append(l.pending, Token{Type: TokenNewline, Literal: "\n", Pos: pos})
	}
	for len(l.indents) > 1 {
		l.indents = l.indents[:len(l.indents)-1]
		l.pending = append(l.pending, Token{Type: TokenDedent, Pos: pos})
	}
	l.pending = append(l.pending, Token{Type: TokenEOF, Pos: pos})
	l.done = true
}

func (l *Lexer) skipBlanks() {
	for {
		switch l.ch {
		case ' ', '\t', '\r', '\f':
			l.readChar()
		case '#':
			l.skipComment()
		default:
			return
		}
	}
}

// skipComment skips to the end of the line, leaving the newline.
func (l *Lexer) skipComment() {
	for l.ch != '\n' && l.ch != 0 {
		l.readChar()
	}
}

func (l *Lexer) readIdentifier(pos Position) (Token, error) {
	start := l.pos
	for isIdentPart(l.ch) {
		l.readChar()
	}
	word := l.input[start:l.pos]

	if l.ch == '\'' || l.ch == '"' {
		switch strings.ToLower(word) {
		case "r":
			return l.readString(pos, true, false)
		case "b":
			return l.readString(pos, false, true)
		case "rb", "br":
			return l.readString(pos, true, true)
		}
	}

	if keywords[word] {
		return l.emit(Token{Type: TokenKeyword, Literal: word, Pos: pos})
	}
	return l.emit(Token{Type: TokenIdentifier, Literal: word, Pos: pos})
}

func (l *Lexer) readNumber(pos Position) (Token, error) {
	start := l.pos
	typ := TokenInteger

	if l.ch == '0' && strings.ContainsRune("xXoObB", l.peekChar()) {
		l.readChar()
		l.readChar()
		for isHexDigit(l.ch) || l.ch == '_' {
			l.readChar()
		}
		return l.emit(Token{Type: typ, Literal: l.input[start:l.pos], Pos: pos})
	}

	l.readDigits()
	if l.ch == '.' && !isIdentStart(l.peekChar()) {
		typ = TokenFloat
		l.readChar()
		l.readDigits()
	}
	if l.ch == 'e' || l.ch == 'E' {
		next := l.peekChar()
		if isDigit(next) || next == '+' || next == '-' {
			typ = TokenFloat
			l.readChar()
			if l.ch == '+' || l.ch == '-' {
				l.readChar()
			}
			if !isDigit(l.ch) {
				return Token{}, l.errorf(false, "invalid float literal %q", l.input[start:l.pos])
			}
			l.readDigits()
		}
	}
	if l.ch == 'j' || l.ch == 'J' {
		l.readChar()
		return l.emit(Token{Type: TokenImaginary, Literal: l.input[start:l.pos], Pos: pos})
	}
	if isIdentStart(l.ch) {
		return Token{}, l.errorf(false, "invalid character %q in number", l.ch)
	}
	return l.emit(Token{Type: typ, Literal: l.input[start:l.pos], Pos: pos})
}

func (l *Lexer) readDigits() {
	for isDigit(l.ch) || l.ch == '_' {
		l.readChar()
	}
}

// readString reads a quoted literal starting at the opening quote and
// decodes its escapes unless raw is set.
func (l *Lexer) readString(pos Position, raw, bytes bool) (Token, error) {
	quote := l.ch
	triple := false
	l.readChar()
	if l.ch == quote && l.peekChar() == quote {
		l.readChar()
		l.readChar()
		triple = true
	}

	var sb strings.Builder
	for closed := false; !closed; {
		switch {
		case l.ch == 0:
			return Token{}, l.errorf(triple, "unterminated string literal")
		case l.ch == '\n' && !triple:
			return Token{}, l.errorf(false, "unterminated string literal")
		case l.ch == quote && !triple:
			l.readChar()
			closed = true
		case l.ch == quote && l.peekChar() == quote && l.readPos+1 < len(l.input) && rune(l.input[l.readPos+1]) == quote:
			l.readChar()
			l.readChar()
			l.readChar()
			closed = true
		case l.ch == '\\' && raw:
			sb.WriteRune(l.ch)
			l.readChar()
			if l.ch != 0 {
				sb.WriteRune(l.ch)
				l.readChar()
			}
		case l.ch == '\\':
			if err := l.readEscape(&sb, bytes); err != nil {
				return Token{}, err
			}
		case bytes && l.ch > 0x7f:
			return Token{}, l.errorf(false, "bytes can only contain ASCII literal characters")
		default:
			sb.WriteRune(l.ch)
			l.readChar()
		}
	}
	typ := TokenString
	if bytes {
		typ = TokenBytes
	}
	return l.emit(Token{Type: typ, Literal: sb.String(), Pos: pos})
}

var simpleEscapes = map[rune]byte{
	'n': '\n', 't': '\t', 'r': '\r', '\\': '\\', '\'': '\'', '"': '"',
	'0': 0, 'a': '\a', 'b': '\b', 'f': '\f', 'v': '\v',
}

func (l *Lexer) readEscape(sb *strings.Builder, bytes bool) error {
	l.readChar() // backslash
	c := l.ch
	if c == 0 {
		return l.errorf(true, "unterminated string literal")
	}
	l.readChar()

	if c == '\n' {
		return nil
	}
	if b, ok := simpleEscapes[c]; ok {
		sb.WriteByte(b)
		return nil
	}

	digits := 0
	switch c {
	case 'x':
		digits = 2
	case 'u':
		digits = 4
	case 'U':
		digits = 8
	}
	if digits == 0 || (bytes && c != 'x') {
		sb.WriteByte('\\')
		sb.WriteRune(c)
		return nil
	}

	start := l.pos
	for range digits {
		if !isHexDigit(l.ch) {
			return l.errorf(false, "truncated \\%c escape", c)
		}
		l.readChar()
	}
	n, _ := strconv.ParseUint(l.input[start:l.pos], 16, 32)
	if c == 'x' {
		if bytes {
			sb.WriteByte(byte(n))
		} else {
			sb.WriteRune(rune(n))
		}
		return nil
	}
	if n > unicode.MaxRune {
		return l.errorf(false, "illegal Unicode character in \\%c escape", c)
	}
	sb.WriteRune(rune(n))
	return nil
}

func (l *Lexer) readPunct(pos Position) (Token, error) {
	rest := l.input[l.pos:]
	for _, p := range puncts {
		if !strings.HasPrefix(rest, p) {
			continue
		}
		for range len(p) {
			l.readChar()
		}
		switch p {
		case "(", "[", "{":
			l.depth++
		case ")", "]", "}":
			if l.depth > 0 {
				l.depth--
			}
		}
		return l.emit(Token{Type: TokenPunct, Literal: p, Pos: pos})
	}
	return Token{}, l.errorf(false, "invalid character %q", l.ch)
}

// ---------------------------------------------------------------------------
// Character classification
// ---------------------------------------------------------------------------

func isDigit(ch rune) bool {
	return ch >= '0' && ch <= '9'
}

func isHexDigit(ch rune) bool {
	return isDigit(ch) || (ch >= 'a' && ch <= 'f') || (ch >= 'A' && ch <= 'F')
}

func isIdentStart(ch rune) bool {
	return ch == '_' || unicode.IsLetter(ch)
}

func isIdentPart(ch rune) bool {
	return isIdentStart(ch) || unicode.IsDigit(ch)
}
