package compiler

import "fmt"

// ---------------------------------------------------------------------------
// Token types
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenNewline
	TokenIndent
	TokenDedent

	// Literals
	TokenInteger    // 42, 0xFF, 0o17, 0b1010, 1_000
	TokenFloat      // 3.14, 1e10, .5
	TokenImaginary  // 2j, 1.5j
	TokenString     // 'hello', "hi", '''multi'''
	TokenBytes      // b'raw'
	TokenIdentifier // foo, Bar, _x

	// Reserved words: and, def, if, None, True, ...
	TokenKeyword

	// Operators and delimiters; Literal holds the text.
	TokenPunct
)

var tokenNames = map[TokenType]string{
	TokenEOF:        "EOF",
	TokenNewline:    "NEWLINE",
	TokenIndent:     "INDENT",
	TokenDedent:     "DEDENT",
	TokenInteger:    "INTEGER",
	TokenFloat:      "FLOAT",
	TokenImaginary:  "IMAGINARY",
	TokenString:     "STRING",
	TokenBytes:      "BYTES",
	TokenIdentifier: "IDENTIFIER",
	TokenKeyword:    "KEYWORD",
	TokenPunct:      "PUNCT",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", t)
}

// Position is a location in source text.
type Position struct {
	Offset int // byte offset
	Line   int // 1-based line number
	Column int // 1-based column number
}

// Token represents a lexical token. For string and bytes literals Literal
// holds the decoded value; for everything else it is the source text.
type Token struct {
	Type    TokenType
	Literal string
	Pos     Position
}

func (t Token) String() string {
	switch t.Type {
	case TokenEOF:
		return "EOF"
	case TokenNewline, TokenIndent, TokenDedent:
		return t.Type.String()
	case TokenKeyword, TokenPunct, TokenIdentifier:
		return t.Literal
	}
	if len(t.Literal) > 20 {
		return fmt.Sprintf("%s(%q...)", t.Type, t.Literal[:20])
	}
	return fmt.Sprintf("%s(%q)", t.Type, t.Literal)
}

// describe renders a token for error messages.
func (t Token) describe() string {
	switch t.Type {
	case TokenEOF:
		return "end of input"
	case TokenNewline:
		return "newline"
	case TokenIndent:
		return "indent"
	case TokenDedent:
		return "dedent"
	case TokenKeyword, TokenPunct:
		return "'" + t.Literal + "'"
	}
	return t.String()
}

// is reports whether t is the keyword or punctuation lit.
func (t Token) is(lit string) bool {
	return (t.Type == TokenKeyword || t.Type == TokenPunct) && t.Literal == lit
}

// Reserved words. The unsupported ones are reserved so that using them
// reports a clear error instead of a confusing name lookup.
var keywords = map[string]bool{
	"and": true, "as": true, "break": true, "continue": true, "def": true,
	"elif": true, "else": true, "for": true, "from": true, "global": true,
	"if": true, "import": true, "in": true, "is": true, "not": true,
	"or": true, "pass": true, "return": true, "while": true,
	"True": true, "False": true, "None": true,

	"class": true, "try": true, "except": true, "finally": true,
	"raise": true, "with": true, "lambda": true, "yield": true,
	"del": true, "assert": true, "nonlocal": true, "async": true, "await": true,
}

// Operators, longest first within each leading character.
var puncts = []string{
	"**=", "//=",
	"**", "//", "==", "!=", "<=", ">=", "+=", "-=", "*=", "/=", "%=", "->",
	"+", "-", "*", "/", "%", "~", "<", ">", "=", "(", ")", "[", "]",
	"{", "}", ",", ":", ".", ";",
}
