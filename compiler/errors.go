package compiler

import (
	"errors"
	"fmt"
)

// SyntaxError reports the first problem found while lexing or compiling.
type SyntaxError struct {
	Line     int
	Expected string
	Found    string
	Msg      string

	// Incomplete is set when the input ended before the construct did,
	// e.g. an open bracket or a block header with no body yet.
	Incomplete bool
}

func (e *SyntaxError) Error() string {
	if e.Expected != "" {
		return fmt.Sprintf("line %d: expected %s, found %s", e.Line, e.Expected, e.Found)
	}
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

// IsIncomplete reports whether err was caused by running out of input.
// The REPL uses it to decide whether to prompt for a continuation line.
func IsIncomplete(err error) bool {
	var se *SyntaxError
	return errors.As(err, &se) && se.Incomplete
}
