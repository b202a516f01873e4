package vm

import (
	"fmt"
	"io"
	"strings"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode identifies an instruction. Values are stable: serialized images
// store them directly.
type Opcode byte

// Stack
const (
	OpNop       Opcode = 0x00 // no operation
	OpPopTop    Opcode = 0x01 // discard top of stack
	OpLoadConst Opcode = 0x02 // push Const
)

// Names
const (
	OpLoadName    Opcode = 0x10 // push local, then global, named by Const
	OpStoreName   Opcode = 0x11 // pop into local (nested frame) or global (module frame)
	OpLoadGlobal  Opcode = 0x12 // push global named by Const
	OpStoreGlobal Opcode = 0x13 // pop into global named by Const
	OpLoadAttr    Opcode = 0x14 // replace TOS with TOS.<Const>
	OpStoreAttr   Opcode = 0x15 // TOS.<Const> = TOS1
	OpImportName  Opcode = 0x16 // push module named by Const; Arg 0 pushes its top-level package
	OpImportFrom  Opcode = 0x17 // push TOS.<Const>, keep module
	OpImportStar  Opcode = 0x18 // pop module, copy its names into scope
)

// Builders
const (
	OpBuildList  Opcode = 0x20 // pop Arg items, push list
	OpBuildTuple Opcode = 0x21 // pop Arg items, push tuple
	OpBuildMap   Opcode = 0x22 // pop Arg key/value pairs, push dict
	OpListAppend Opcode = 0x23 // append TOS to the list Arg slots below it
)

// Unary and binary operators
const (
	OpUnaryPositive     Opcode = 0x30
	OpUnaryNegative     Opcode = 0x31
	OpUnaryNot          Opcode = 0x32
	OpUnaryInvert       Opcode = 0x33
	OpBinaryAdd         Opcode = 0x40
	OpBinarySubtract    Opcode = 0x41
	OpBinaryMultiply    Opcode = 0x42
	OpBinaryTrueDivide  Opcode = 0x43
	OpBinaryFloorDivide Opcode = 0x44
	OpBinaryModulo      Opcode = 0x45
	OpBinaryPower       Opcode = 0x46
	OpBinarySubscr      Opcode = 0x47 // push TOS1[TOS]
	OpStoreSubscr       Opcode = 0x48 // TOS1[TOS] = TOS2
	OpCompareOp         Opcode = 0x49 // compare TOS1 with TOS, Arg selects the comparison
)

// Control flow
const (
	OpJumpAbsolute     Opcode = 0x50 // pc = Arg
	OpPopJumpIfFalse   Opcode = 0x51 // pop; jump if falsy
	OpJumpIfFalseOrPop Opcode = 0x52 // falsy TOS stays and jumps, else popped
	OpJumpIfTrueOrPop  Opcode = 0x53 // truthy TOS stays and jumps, else popped
	OpCallFunction     Opcode = 0x54 // call with Arg positional arguments
	OpGetIter          Opcode = 0x55 // replace TOS with an iterator over it
	OpForIter          Opcode = 0x56 // push next value, or pop iterator and jump to Arg
	OpReturnValue      Opcode = 0x57 // pop frame, hand TOS to caller
)

// Host output
const (
	OpPrintItems Opcode = 0x60 // pop Arg values, print them space separated
	OpPrintExpr  Opcode = 0x61 // pop; print repr unless None
)

// CompareOp arguments.
const (
	CmpEq = iota
	CmpNe
	CmpLt
	CmpLe
	CmpGt
	CmpGe
	CmpIn
	CmpNotIn
)

var cmpNames = [...]string{"==", "!=", "<", "<=", ">", ">=", "in", "not in"}

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name   string // human-readable name
	HasArg bool   // Arg is meaningful
	Jump   bool   // Arg is an instruction index
}

var opcodeTable = map[Opcode]OpcodeInfo{
	OpNop:       {"NOP", false, false},
	OpPopTop:    {"POP_TOP", false, false},
	OpLoadConst: {"LOAD_CONST", false, false},

	OpLoadName:    {"LOAD_NAME", false, false},
	OpStoreName:   {"STORE_NAME", false, false},
	OpLoadGlobal:  {"LOAD_GLOBAL", false, false},
	OpStoreGlobal: {"STORE_GLOBAL", false, false},
	OpLoadAttr:    {"LOAD_ATTR", false, false},
	OpStoreAttr:   {"STORE_ATTR", false, false},
	OpImportName:  {"IMPORT_NAME", true, false},
	OpImportFrom:  {"IMPORT_FROM", false, false},
	OpImportStar:  {"IMPORT_STAR", false, false},

	OpBuildList:  {"BUILD_LIST", true, false},
	OpBuildTuple: {"BUILD_TUPLE", true, false},
	OpBuildMap:   {"BUILD_MAP", true, false},
	OpListAppend: {"LIST_APPEND", true, false},

	OpUnaryPositive:     {"UNARY_POSITIVE", false, false},
	OpUnaryNegative:     {"UNARY_NEGATIVE", false, false},
	OpUnaryNot:          {"UNARY_NOT", false, false},
	OpUnaryInvert:       {"UNARY_INVERT", false, false},
	OpBinaryAdd:         {"BINARY_ADD", false, false},
	OpBinarySubtract:    {"BINARY_SUBTRACT", false, false},
	OpBinaryMultiply:    {"BINARY_MULTIPLY", false, false},
	OpBinaryTrueDivide:  {"BINARY_TRUE_DIVIDE", false, false},
	OpBinaryFloorDivide: {"BINARY_FLOOR_DIVIDE", false, false},
	OpBinaryModulo:      {"BINARY_MODULO", false, false},
	OpBinaryPower:       {"BINARY_POWER", false, false},
	OpBinarySubscr:      {"BINARY_SUBSCR", false, false},
	OpStoreSubscr:       {"STORE_SUBSCR", false, false},
	OpCompareOp:         {"COMPARE_OP", true, false},

	OpJumpAbsolute:     {"JUMP_ABSOLUTE", true, true},
	OpPopJumpIfFalse:   {"POP_JUMP_IF_FALSE", true, true},
	OpJumpIfFalseOrPop: {"JUMP_IF_FALSE_OR_POP", true, true},
	OpJumpIfTrueOrPop:  {"JUMP_IF_TRUE_OR_POP", true, true},
	OpCallFunction:     {"CALL_FUNCTION", true, false},
	OpGetIter:          {"GET_ITER", false, false},
	OpForIter:          {"FOR_ITER", true, true},
	OpReturnValue:      {"RETURN_VALUE", false, false},

	OpPrintItems: {"PRINT_ITEMS", true, false},
	OpPrintExpr:  {"PRINT_EXPR", false, false},
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op))}
}

// Valid reports whether op is a defined opcode.
func (op Opcode) Valid() bool {
	_, ok := opcodeTable[op]
	return ok
}

// IsJump reports whether Arg is a branch target.
func (op Opcode) IsJump() bool { return op.Info().Jump }

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Info().Name
}

// AllOpcodes returns every defined opcode.
func AllOpcodes() []Opcode {
	ops := make([]Opcode, 0, len(opcodeTable))
	for op := range opcodeTable {
		ops = append(ops, op)
	}
	return ops
}

// ---------------------------------------------------------------------------
// Instructions and functions
// ---------------------------------------------------------------------------

// Instruction is one step of a program. Arg carries counts, comparison
// kinds and jump targets; Const carries literals and names.
type Instruction struct {
	Op    Opcode
	Arg   int
	Const Value
	Line  int
}

// Name returns the Const operand as a string, for name-carrying opcodes.
func (in Instruction) Name() string { return in.Const.AsStr() }

func (in Instruction) String() string {
	info := in.Op.Info()
	var b strings.Builder
	b.WriteString(info.Name)
	if info.HasArg {
		fmt.Fprintf(&b, " %d", in.Arg)
		if in.Op == OpCompareOp && in.Arg >= 0 && in.Arg < len(cmpNames) {
			fmt.Fprintf(&b, " (%s)", cmpNames[in.Arg])
		}
	}
	if !in.Const.IsNone() || in.Op == OpLoadConst {
		b.WriteString(" ")
		b.WriteString(in.Const.Repr())
	}
	return b.String()
}

// NativeFunc is a host-implemented function. userData is the owning
// Function's UserData, or the calling *VM when that is nil.
type NativeFunc func(args []Value, userData any) Value

// Function is a callable: either an interpreted body or a native hook.
// Code is shared by every frame executing the function and never copied.
type Function struct {
	Name     string
	Params   []string
	Code     []Instruction
	Native   NativeFunc
	UserData any
}

// NewNative wraps fn as a function value.
func NewNative(name string, fn NativeFunc) Value {
	return FunctionValue(&Function{Name: name, Native: fn})
}

// BoundMethod pairs a callable with a receiver.
type BoundMethod struct {
	Func Value
	Self Value
}

// UserData is a host object exposed to programs.
type UserData interface {
	GetAttr(name string) (Value, bool)
}

// AttrSetter is implemented by user data that accepts attribute stores.
type AttrSetter interface {
	SetAttr(name string, v Value) bool
}

// ---------------------------------------------------------------------------
// Disassembler
// ---------------------------------------------------------------------------

// Disassemble writes a listing of code to w, followed by the listings of
// every function body found among its constants.
func Disassemble(w io.Writer, code []Instruction) error {
	return disassemble(w, "<module>", code)
}

func disassemble(w io.Writer, name string, code []Instruction) error {
	if _, err := fmt.Fprintf(w, "; === %s ===\n", name); err != nil {
		return err
	}
	var nested []*Function
	for pc, in := range code {
		line := ""
		if in.Line > 0 {
			line = fmt.Sprintf("%4d", in.Line)
		}
		if _, err := fmt.Fprintf(w, "%4s %5d  %s\n", line, pc, in); err != nil {
			return err
		}
		if fn := in.Const.AsFunction(); fn != nil && fn.Native == nil {
			nested = append(nested, fn)
		}
	}
	for _, fn := range nested {
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
		if err := disassemble(w, fn.Name+"("+strings.Join(fn.Params, ", ")+")", fn.Code); err != nil {
			return err
		}
	}
	return nil
}
