package vm

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Kind
// ---------------------------------------------------------------------------

// Kind is the tag of a Value. The declaration order doubles as the fallback
// ordering between values of unrelated kinds.
type Kind uint8

const (
	KindNone Kind = iota
	KindBool
	KindInt
	KindFloat
	KindComplex
	KindStr
	KindBytes
	KindList
	KindTuple
	KindDict
	KindSet
	KindFunction
	KindIterator
	KindUserData
	KindBoundMethod
	KindStopIteration
)

var kindNames = map[Kind]string{
	KindNone:          "NoneType",
	KindBool:          "bool",
	KindInt:           "int",
	KindFloat:         "float",
	KindComplex:       "complex",
	KindStr:           "str",
	KindBytes:         "bytes",
	KindList:          "list",
	KindTuple:         "tuple",
	KindDict:          "dict",
	KindSet:           "set",
	KindFunction:      "function",
	KindIterator:      "iterator",
	KindUserData:      "userdata",
	KindBoundMethod:   "method",
	KindStopIteration: "StopIteration",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// ---------------------------------------------------------------------------
// Value
// ---------------------------------------------------------------------------

// Value is a dynamically typed bytevm value. The zero Value is None.
//
// Scalars live in bits. Everything else is a heap payload in ref: complex128
// for complex numbers, string for str and bytes, and a pointer for
// containers, functions, iterators, user data and bound methods. Copying a
// Value shares the payload.
type Value struct {
	kind Kind
	bits uint64
	ref  any
}

var (
	// None is the absent value.
	None = Value{}
	// True and False are the two booleans.
	True  = Value{kind: KindBool, bits: 1}
	False = Value{kind: KindBool, bits: 0}
	// StopIteration is the sentinel returned by an exhausted iterator.
	StopIteration = Value{kind: KindStopIteration}
)

// Bool returns True or False.
func Bool(b bool) Value {
	if b {
		return True
	}
	return False
}

// Int returns an integer value.
func Int(i int64) Value { return Value{kind: KindInt, bits: uint64(i)} }

// Float returns a floating point value.
func Float(f float64) Value { return Value{kind: KindFloat, bits: math.Float64bits(f)} }

// Complex returns a complex value.
func Complex(c complex128) Value { return Value{kind: KindComplex, ref: c} }

// Str returns a string value.
func Str(s string) Value { return Value{kind: KindStr, ref: s} }

// Bytes returns a byte-string value. The slice is copied.
func Bytes(b []byte) Value { return Value{kind: KindBytes, ref: string(b)} }

// FunctionValue wraps fn.
func FunctionValue(fn *Function) Value { return Value{kind: KindFunction, ref: fn} }

// IteratorValue wraps it.
func IteratorValue(it Iterator) Value { return Value{kind: KindIterator, ref: it} }

// UserDataValue wraps a host object.
func UserDataValue(ud UserData) Value { return Value{kind: KindUserData, ref: ud} }

// NewBoundMethod pairs a callable with the receiver that will be prepended
// to its arguments.
func NewBoundMethod(fn, recv Value) Value {
	return Value{kind: KindBoundMethod, ref: &BoundMethod{Func: fn, Self: recv}}
}

// Kind returns the value's tag.
func (v Value) Kind() Kind { return v.kind }

// TypeName returns the Python-style type name.
func (v Value) TypeName() string { return v.kind.String() }

func (v Value) IsNone() bool     { return v.kind == KindNone }
func (v Value) IsBool() bool     { return v.kind == KindBool }
func (v Value) IsInt() bool      { return v.kind == KindInt }
func (v Value) IsFloat() bool    { return v.kind == KindFloat }
func (v Value) IsComplex() bool  { return v.kind == KindComplex }
func (v Value) IsStr() bool      { return v.kind == KindStr }
func (v Value) IsFunction() bool { return v.kind == KindFunction }
func (v Value) IsIterator() bool { return v.kind == KindIterator }
func (v Value) IsStop() bool     { return v.kind == KindStopIteration }

// IsNumber reports whether v is an int, float or complex. Booleans are not
// numbers.
func (v Value) IsNumber() bool {
	return v.kind == KindInt || v.kind == KindFloat || v.kind == KindComplex
}

// IsCallable reports whether CALL_FUNCTION accepts v.
func (v Value) IsCallable() bool { return v.kind == KindFunction || v.kind == KindBoundMethod }

// IsSequence reports whether v is a list or tuple.
func (v Value) IsSequence() bool { return v.kind == KindList || v.kind == KindTuple }

// AsBool returns the boolean payload; false for non-booleans.
func (v Value) AsBool() bool { return v.kind == KindBool && v.bits != 0 }

// AsInt converts numeric values (and booleans) to int64, truncating floats.
// Numeric strings are parsed; everything else is 0.
func (v Value) AsInt() int64 {
	switch v.kind {
	case KindInt:
		return int64(v.bits)
	case KindBool:
		return int64(v.bits)
	case KindFloat:
		return int64(math.Float64frombits(v.bits))
	case KindComplex:
		return int64(real(v.ref.(complex128)))
	case KindStr:
		if i, err := strconv.ParseInt(strings.TrimSpace(v.ref.(string)), 10, 64); err == nil {
			return i
		}
	}
	return 0
}

// AsFloat converts numeric values (and booleans) to float64.
func (v Value) AsFloat() float64 {
	switch v.kind {
	case KindFloat:
		return math.Float64frombits(v.bits)
	case KindInt:
		return float64(int64(v.bits))
	case KindBool:
		return float64(v.bits)
	case KindComplex:
		return real(v.ref.(complex128))
	case KindStr:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v.ref.(string)), 64); err == nil {
			return f
		}
	}
	return 0
}

// AsComplex promotes numeric values to complex128.
func (v Value) AsComplex() complex128 {
	if v.kind == KindComplex {
		return v.ref.(complex128)
	}
	return complex(v.AsFloat(), 0)
}

// AsStr returns the string payload of a str or bytes value, or the str()
// rendering of anything else.
func (v Value) AsStr() string {
	if v.kind == KindStr || v.kind == KindBytes {
		return v.ref.(string)
	}
	return v.String()
}

// AsBytes returns the payload of a bytes or str value.
func (v Value) AsBytes() []byte {
	if v.kind == KindStr || v.kind == KindBytes {
		return []byte(v.ref.(string))
	}
	return nil
}

func (v Value) AsList() *List {
	l, _ := v.ref.(*List)
	return l
}

func (v Value) AsTuple() *Tuple {
	t, _ := v.ref.(*Tuple)
	return t
}

func (v Value) AsDict() *Dict {
	d, _ := v.ref.(*Dict)
	return d
}

func (v Value) AsSet() *Set {
	s, _ := v.ref.(*Set)
	return s
}

func (v Value) AsFunction() *Function {
	f, _ := v.ref.(*Function)
	return f
}

func (v Value) AsIterator() Iterator {
	it, _ := v.ref.(Iterator)
	return it
}

func (v Value) AsUserData() UserData {
	ud, _ := v.ref.(UserData)
	return ud
}

func (v Value) AsBoundMethod() *BoundMethod {
	b, _ := v.ref.(*BoundMethod)
	return b
}

// Items returns the elements of a list or tuple. The slice must not be
// modified by the caller.
func (v Value) Items() []Value {
	switch v.kind {
	case KindList:
		return v.ref.(*List).items
	case KindTuple:
		return v.ref.(*Tuple).items
	}
	return nil
}

// Len returns the length of strings, bytes and containers, 0 otherwise.
// String length counts runes.
func (v Value) Len() int {
	switch v.kind {
	case KindStr:
		return len([]rune(v.ref.(string)))
	case KindBytes:
		return len(v.ref.(string))
	case KindList:
		return v.ref.(*List).Len()
	case KindTuple:
		return v.ref.(*Tuple).Len()
	case KindDict:
		return v.ref.(*Dict).Len()
	case KindSet:
		return v.ref.(*Set).Len()
	}
	return 0
}

// Truthy implements Python truthiness.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNone, KindStopIteration:
		return false
	case KindBool, KindInt:
		return v.bits != 0
	case KindFloat:
		return math.Float64frombits(v.bits) != 0
	case KindComplex:
		return v.ref.(complex128) != 0
	case KindStr, KindBytes:
		return v.ref.(string) != ""
	case KindList, KindTuple, KindDict, KindSet:
		return v.Len() != 0
	}
	return true
}

// ---------------------------------------------------------------------------
// Rendering
// ---------------------------------------------------------------------------

// String renders v the way str() does.
func (v Value) String() string {
	if v.kind == KindStr {
		return v.ref.(string)
	}
	return v.Repr()
}

// Repr renders v the way repr() does: strings are quoted.
func (v Value) Repr() string {
	var b strings.Builder
	v.writeRepr(&b, make(map[any]struct{}))
	return b.String()
}

var recursiveRepr = map[Kind]string{
	KindList:  "[...]",
	KindTuple: "(...)",
	KindDict:  "{...}",
	KindSet:   "{...}",
}

// writeRepr renders v into b. active holds the containers on the current
// path; meeting one again prints an ellipsis instead of recursing.
func (v Value) writeRepr(b *strings.Builder, active map[any]struct{}) {
	switch v.kind {
	case KindList, KindTuple, KindDict, KindSet:
		if _, ok := active[v.ref]; ok {
			b.WriteString(recursiveRepr[v.kind])
			return
		}
		active[v.ref] = struct{}{}
		defer delete(active, v.ref)
	}
	switch v.kind {
	case KindNone:
		b.WriteString("None")
	case KindBool:
		if v.bits != 0 {
			b.WriteString("True")
		} else {
			b.WriteString("False")
		}
	case KindInt:
		b.WriteString(strconv.FormatInt(int64(v.bits), 10))
	case KindFloat:
		b.WriteString(formatFloat(math.Float64frombits(v.bits)))
	case KindComplex:
		c := v.ref.(complex128)
		if real(c) == 0 && !math.Signbit(real(c)) {
			b.WriteString(formatFloatShort(imag(c)) + "j")
			return
		}
		sign := "+"
		if imag(c) < 0 || math.Signbit(imag(c)) {
			sign = "-"
		}
		fmt.Fprintf(b, "(%s%s%sj)", formatFloatShort(real(c)), sign, formatFloatShort(math.Abs(imag(c))))
	case KindStr:
		b.WriteString(quote(v.ref.(string)))
	case KindBytes:
		b.WriteString("b" + quote(v.ref.(string)))
	case KindList:
		writeSeq(b, "[", "]", v.ref.(*List).items, false, active)
	case KindTuple:
		items := v.ref.(*Tuple).items
		writeSeq(b, "(", ")", items, len(items) == 1, active)
	case KindDict:
		d := v.ref.(*Dict)
		b.WriteByte('{')
		for i, k := range d.keys {
			if i > 0 {
				b.WriteString(", ")
			}
			k.writeRepr(b, active)
			b.WriteString(": ")
			d.vals[i].writeRepr(b, active)
		}
		b.WriteByte('}')
	case KindSet:
		items := v.ref.(*Set).Items()
		if len(items) == 0 {
			b.WriteString("set()")
			return
		}
		writeSeq(b, "{", "}", items, false, active)
	case KindFunction:
		fn := v.ref.(*Function)
		if fn.Native != nil {
			fmt.Fprintf(b, "<built-in function %s>", fn.Name)
		} else {
			fmt.Fprintf(b, "<function %s>", fn.Name)
		}
	case KindIterator:
		b.WriteString("<iterator>")
	case KindUserData:
		if s, ok := v.ref.(fmt.Stringer); ok {
			b.WriteString(s.String())
		} else {
			b.WriteString("<userdata>")
		}
	case KindBoundMethod:
		bm := v.ref.(*BoundMethod)
		name := "?"
		if fn := bm.Func.AsFunction(); fn != nil {
			name = fn.Name
		}
		fmt.Fprintf(b, "<bound method %s of %s>", name, bm.Self.Repr())
	case KindStopIteration:
		b.WriteString("StopIteration")
	default:
		b.WriteString("<unknown>")
	}
}

func writeSeq(b *strings.Builder, open, close string, items []Value, trailingComma bool, active map[any]struct{}) {
	b.WriteString(open)
	for i, it := range items {
		if i > 0 {
			b.WriteString(", ")
		}
		it.writeRepr(b, active)
	}
	if trailingComma {
		b.WriteByte(',')
	}
	b.WriteString(close)
}

func quote(s string) string {
	q := byte('\'')
	if strings.ContainsRune(s, '\'') && !strings.ContainsRune(s, '"') {
		q = '"'
	}
	var b strings.Builder
	b.WriteByte(q)
	for _, r := range s {
		switch {
		case r == rune(q) || r == '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\t':
			b.WriteString(`\t`)
		case r == '\r':
			b.WriteString(`\r`)
		case r < 0x20:
			fmt.Fprintf(&b, `\x%02x`, r)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte(q)
	return b.String()
}

// formatFloat renders a float the way Python's repr does: integral values
// keep a trailing ".0".
func formatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if abs := math.Abs(f); abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return s
	}
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

// formatFloatShort is used inside complex literals where Python drops ".0".
func formatFloatShort(f float64) string {
	s := formatFloat(f)
	return strings.TrimSuffix(s, ".0")
}
