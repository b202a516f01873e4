package compiler

import (
	"testing"
)

// ---------------------------------------------------------------------------
// FuzzLex: ensure the lexer never panics or loops on arbitrary input.
// ---------------------------------------------------------------------------

func FuzzLex(f *testing.F) {
	seeds := []string{
		// Operators and delimiters
		`( ) [ ] { } , : . ; = == != <= >= ** // += -= **= //=`,
		// Numbers
		`42`, `0xff`, `0o17`, `0b101`, `1_000`, `3.14`, `.5`, `1e10`, `2.5e-3`, `3j`,
		// Strings
		`'a'`, `"b"`, `'''c'''`, `"""d"""`, `r'\n'`, `b'\x00'`, `'\u00e9'`,
		// Layout
		"if x:\n    y\n", "def f():\n\tpass\n", "a = [1,\n2]\n", "x = 1 \\\n + 2",
		// Edge cases
		`'`, `'''`, `(`, `\`, "\t\n\r", ``, "  x", `b'é'`, `0x`,
	}
	for _, s := range seeds {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, data string) {
		defer func() {
			if r := recover(); r != nil {
				t.Fatalf("lexer panicked on input %q: %v", data, r)
			}
		}()

		l := NewLexer(data)
		for i := 0; i < 2*len(data)+100; i++ {
			tok, err := l.NextToken()
			if err != nil || tok.Type == TokenEOF {
				return
			}
		}
		t.Fatalf("lexer did not reach EOF on input %q", data)
	})
}

// ---------------------------------------------------------------------------
// FuzzCompile: compile errors are acceptable; panics are not.
// ---------------------------------------------------------------------------

func FuzzCompile(f *testing.F) {
	seeds := []string{
		`x = 1`, `a.b[c] = d`, `n += 1`, `print 1, 2`, `print(1)`,
		`import os.path`, `from math import *`, `from a import (b, c,)`,
		"def f(a, b):\n    return a + b\n",
		"for i in range(3):\n    if i: break\n    continue\n",
		"while x:\n    x -= 1\nelse:\n    pass\n",
		`[x for x in y if x]`, `{1: 2, 3: 4}`, `(1,)`, `()`,
		`a not in b`, `a is not None`, `-2 ** -2`,
		// Broken input
		``, `=`, `x =`, `def`, `def f(`, `if :`, `[x for]`, `a.b.`, `f(,)`,
		`return`, `global`, `from . import x`, `x = = 1`, `1 += 2`,
	}
	for _, s := range seeds {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, data string) {
		defer func() {
			if r := recover(); r != nil {
				t.Fatalf("compiler panicked on input %q: %v", data, r)
			}
		}()
		code, err := CompileSource(data)
		if err == nil && len(code) < 2 {
			t.Fatalf("CompileSource(%q) returned %d instructions, want an implicit return", data, len(code))
		}
	})
}
