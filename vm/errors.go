package vm

import (
	"errors"
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Faults
// ---------------------------------------------------------------------------

// Fault kinds raised by value operations and the dispatch loop.
const (
	NameError         = "NameError"
	TypeError         = "TypeError"
	IndexError        = "IndexError"
	ZeroDivisionError = "ZeroDivisionError"
	RecursionError    = "RecursionError"
	ValueError        = "ValueError"
	ImportError       = "ImportError"
	MemoryError       = "MemoryError"
)

// Fault is an operation failure. It carries no location; the VM adds a
// traceback when it turns a fault into a RuntimeError.
type Fault struct {
	Kind string
	Msg  string
}

func (f *Fault) Error() string {
	return f.Kind + ": " + f.Msg
}

func faultf(kind, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func unsupported(op string, a, b Value) *Fault {
	return faultf(TypeError, "unsupported operand type(s) for %s: '%s' and '%s'", op, a.TypeName(), b.TypeName())
}

// ---------------------------------------------------------------------------
// VM errors
// ---------------------------------------------------------------------------

// ErrHalted is returned by Step and Run on a VM that has already stopped
// with an error.
var ErrHalted = errors.New("vm: halted")

// FatalError reports an instruction the VM cannot execute: an unknown
// opcode, or a known one whose argument is out of range.
type FatalError struct {
	Op     Opcode
	PC     int
	Reason string
}

func (e *FatalError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("malformed %s at pc %d: %s", e.Op, e.PC, e.Reason)
	}
	return fmt.Sprintf("unknown opcode %d at pc %d", byte(e.Op), e.PC)
}

// TraceEntry locates one live frame at the time of a fault.
type TraceEntry struct {
	Func string
	Line int
	PC   int
}

// RuntimeError is a fault raised while executing, with the frame stack at
// the point of failure, innermost last.
type RuntimeError struct {
	Fault     *Fault
	Traceback []TraceEntry
}

func (e *RuntimeError) Error() string {
	return e.Fault.Error()
}

func (e *RuntimeError) Unwrap() error { return e.Fault }

// Format renders the traceback followed by the fault.
func (e *RuntimeError) Format() string {
	var b strings.Builder
	b.WriteString("Traceback (most recent call last):\n")
	for _, t := range e.Traceback {
		fmt.Fprintf(&b, "  line %d, in %s\n", t.Line, t.Func)
	}
	b.WriteString(e.Fault.Error())
	return b.String()
}

// ExitError is returned when a program calls sys.exit.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// ExitCode extracts the status from an error caused by sys.exit.
func ExitCode(err error) (int, bool) {
	var exit *ExitError
	if errors.As(err, &exit) {
		return exit.Code, true
	}
	return 0, false
}
