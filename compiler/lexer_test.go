package compiler

import (
	"errors"
	"testing"
)

type tokSpec struct {
	typ TokenType
	lit string
}

func lexSpecs(t *testing.T, src string) []tokSpec {
	t.Helper()
	tokens, err := Lex(src)
	if err != nil {
		t.Fatalf("Lex(%q): %v", src, err)
	}
	out := make([]tokSpec, len(tokens))
	for i, tok := range tokens {
		out[i] = tokSpec{tok.Type, tok.Literal}
	}
	return out
}

func assertTokens(t *testing.T, src string, want []tokSpec) {
	t.Helper()
	got := lexSpecs(t, src)
	if len(got) != len(want) {
		t.Fatalf("Lex(%q) = %v, want %v", src, got, want)
	}
	for i := range want {
		if got[i].typ != want[i].typ {
			t.Errorf("token[%d] type = %v, want %v", i, got[i].typ, want[i].typ)
		}
		if want[i].lit != "" && got[i].lit != want[i].lit {
			t.Errorf("token[%d] literal = %q, want %q", i, got[i].lit, want[i].lit)
		}
	}
}

// ---------------------------------------------------------------------------
// Basic tokens
// ---------------------------------------------------------------------------

func TestLexerOperators(t *testing.T) {
	assertTokens(t, "a **= b // c != d", []tokSpec{
		{TokenIdentifier, "a"},
		{TokenPunct, "**="},
		{TokenIdentifier, "b"},
		{TokenPunct, "//"},
		{TokenIdentifier, "c"},
		{TokenPunct, "!="},
		{TokenIdentifier, "d"},
		{TokenNewline, ""},
		{TokenEOF, ""},
	})
}

func TestLexerKeywords(t *testing.T) {
	assertTokens(t, "if not x is None", []tokSpec{
		{TokenKeyword, "if"},
		{TokenKeyword, "not"},
		{TokenIdentifier, "x"},
		{TokenKeyword, "is"},
		{TokenKeyword, "None"},
		{TokenNewline, ""},
		{TokenEOF, ""},
	})
}

func TestLexerNumbers(t *testing.T) {
	tests := []struct {
		input string
		typ   TokenType
	}{
		{"42", TokenInteger},
		{"0xFF", TokenInteger},
		{"0b1010", TokenInteger},
		{"1_000", TokenInteger},
		{"3.14", TokenFloat},
		{".5", TokenFloat},
		{"1e10", TokenFloat},
		{"2.5E-3", TokenFloat},
		{"2j", TokenImaginary},
		{"1.5J", TokenImaginary},
	}
	for _, tc := range tests {
		tokens, err := Lex(tc.input)
		if err != nil {
			t.Fatalf("Lex(%q): %v", tc.input, err)
		}
		if tokens[0].Type != tc.typ {
			t.Errorf("Lex(%q): type = %v, want %v", tc.input, tokens[0].Type, tc.typ)
		}
		if tokens[0].Literal != tc.input {
			t.Errorf("Lex(%q): literal = %q", tc.input, tokens[0].Literal)
		}
	}
}

func TestLexerStrings(t *testing.T) {
	tests := []struct {
		input string
		typ   TokenType
		want  string
	}{
		{`'hello'`, TokenString, "hello"},
		{`"it's"`, TokenString, "it's"},
		{`'a\tb\n'`, TokenString, "a\tb\n"},
		{`'\x41\u00e9'`, TokenString, "Aé"},
		{`r'\d+'`, TokenString, `\d+`},
		{`b'\x00ab'`, TokenBytes, "\x00ab"},
		{`'''two
lines'''`, TokenString, "two\nlines"},
		{`""`, TokenString, ""},
		{`'\q'`, TokenString, `\q`},
	}
	for _, tc := range tests {
		tokens, err := Lex(tc.input)
		if err != nil {
			t.Fatalf("Lex(%q): %v", tc.input, err)
		}
		if tokens[0].Type != tc.typ {
			t.Errorf("Lex(%q): type = %v, want %v", tc.input, tokens[0].Type, tc.typ)
		}
		if tokens[0].Literal != tc.want {
			t.Errorf("Lex(%q): literal = %q, want %q", tc.input, tokens[0].Literal, tc.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Layout
// ---------------------------------------------------------------------------

func TestLexerIndentation(t *testing.T) {
	src := "if x:\n    y = 1\n\n    # note\n    if z:\n        w\nv\n"
	assertTokens(t, src, []tokSpec{
		{TokenKeyword, "if"}, {TokenIdentifier, "x"}, {TokenPunct, ":"}, {TokenNewline, ""},
		{TokenIndent, ""},
		{TokenIdentifier, "y"}, {TokenPunct, "="}, {TokenInteger, "1"}, {TokenNewline, ""},
		{TokenKeyword, "if"}, {TokenIdentifier, "z"}, {TokenPunct, ":"}, {TokenNewline, ""},
		{TokenIndent, ""},
		{TokenIdentifier, "w"}, {TokenNewline, ""},
		{TokenDedent, ""}, {TokenDedent, ""},
		{TokenIdentifier, "v"}, {TokenNewline, ""},
		{TokenEOF, ""},
	})
}

func TestLexerClosesBlocksAtEOF(t *testing.T) {
	assertTokens(t, "def f():\n  return 1", []tokSpec{
		{TokenKeyword, "def"}, {TokenIdentifier, "f"}, {TokenPunct, "("}, {TokenPunct, ")"},
		{TokenPunct, ":"}, {TokenNewline, ""},
		{TokenIndent, ""},
		{TokenKeyword, "return"}, {TokenInteger, "1"}, {TokenNewline, ""},
		{TokenDedent, ""},
		{TokenEOF, ""},
	})
}

func TestLexerBracketsJoinLines(t *testing.T) {
	assertTokens(t, "x = [1,\n     2]\n", []tokSpec{
		{TokenIdentifier, "x"}, {TokenPunct, "="}, {TokenPunct, "["},
		{TokenInteger, "1"}, {TokenPunct, ","}, {TokenInteger, "2"}, {TokenPunct, "]"},
		{TokenNewline, ""},
		{TokenEOF, ""},
	})
}

func TestLexerLineContinuation(t *testing.T) {
	assertTokens(t, "x = 1 + \\\n  2\n", []tokSpec{
		{TokenIdentifier, "x"}, {TokenPunct, "="}, {TokenInteger, "1"}, {TokenPunct, "+"},
		{TokenInteger, "2"}, {TokenNewline, ""},
		{TokenEOF, ""},
	})
}

func TestLexerPositions(t *testing.T) {
	tokens, err := Lex("a\n  \nbc = 1")
	if err != nil {
		t.Fatal(err)
	}
	bc := tokens[2]
	if bc.Literal != "bc" || bc.Pos.Line != 3 || bc.Pos.Column != 1 {
		t.Errorf("bc token = %+v, want line 3 column 1", bc)
	}
	one := tokens[4]
	if one.Pos.Line != 3 || one.Pos.Column != 6 {
		t.Errorf("1 token at %+v, want line 3 column 6", one.Pos)
	}
}

func TestLexerEmpty(t *testing.T) {
	assertTokens(t, "", []tokSpec{{TokenEOF, ""}})
	assertTokens(t, "\n# only a comment\n\n", []tokSpec{{TokenEOF, ""}})
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

func TestLexerErrors(t *testing.T) {
	tests := []struct {
		input      string
		incomplete bool
	}{
		{"x = 'abc\n", false},
		{"x = '''abc", true},
		{"x = (1,\n", true},
		{"x = $", false},
		{"if x:\n    a\n  b\n", false},
		{"12abc", false},
		{"b'caf\u00e9'", false},
	}
	for _, tc := range tests {
		_, err := Lex(tc.input)
		if err == nil {
			t.Errorf("Lex(%q) succeeded, want error", tc.input)
			continue
		}
		var se *SyntaxError
		if !errors.As(err, &se) {
			t.Errorf("Lex(%q) error %T, want *SyntaxError", tc.input, err)
			continue
		}
		if IsIncomplete(err) != tc.incomplete {
			t.Errorf("IsIncomplete(Lex(%q)) = %v, want %v", tc.input, IsIncomplete(err), tc.incomplete)
		}
	}
}
