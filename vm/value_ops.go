package vm

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"fmt"
	"math"
	"math/cmplx"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// ---------------------------------------------------------------------------
// Equality, ordering and hashing
// ---------------------------------------------------------------------------

// maxNesting bounds how deep Equal and Compare descend into containers.
// Only self-referential structures reach it.
const maxNesting = DefaultMaxDepth

// Equal reports structural equality. Numeric kinds compare across kinds by
// value; every other pair of different kinds is unequal. A container always
// equals itself, and comparisons nested deeper than maxNesting report
// unequal.
func Equal(a, b Value) bool {
	return equal(a, b, 0)
}

func equal(a, b Value, depth int) bool {
	if a.IsNumber() && b.IsNumber() {
		if a.kind == KindInt && b.kind == KindInt {
			return a.bits == b.bits
		}
		if a.kind == KindComplex || b.kind == KindComplex {
			return a.AsComplex() == b.AsComplex()
		}
		return a.AsFloat() == b.AsFloat()
	}
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindList, KindTuple, KindDict, KindSet:
		if a.ref == b.ref {
			return true
		}
		if depth >= maxNesting {
			return false
		}
		depth++
	}
	switch a.kind {
	case KindNone, KindStopIteration:
		return true
	case KindBool:
		return a.bits == b.bits
	case KindStr, KindBytes:
		return a.ref.(string) == b.ref.(string)
	case KindList, KindTuple:
		x, y := a.Items(), b.Items()
		if len(x) != len(y) {
			return false
		}
		for i := range x {
			if !equal(x[i], y[i], depth) {
				return false
			}
		}
		return true
	case KindDict:
		x, y := a.AsDict(), b.AsDict()
		if x.Len() != y.Len() {
			return false
		}
		for i, k := range x.keys {
			v, ok := y.Get(k)
			if !ok || !equal(x.vals[i], v, depth) {
				return false
			}
		}
		return true
	case KindSet:
		x, y := a.AsSet(), b.AsSet()
		if x.Len() != y.Len() {
			return false
		}
		for _, k := range x.d.keys {
			if !y.Has(k) {
				return false
			}
		}
		return true
	case KindBoundMethod:
		x, y := a.AsBoundMethod(), b.AsBoundMethod()
		return equal(x.Func, y.Func, depth) && equal(x.Self, y.Self, depth)
	}
	// Functions, iterators and user data compare by identity.
	return a.ref == b.ref
}

// Compare orders a and b, returning -1, 0 or +1.
func Compare(a, b Value) int {
	return compare(a, b, 0)
}

func compare(a, b Value, depth int) int {
	if a.IsNumber() && b.IsNumber() {
		if a.kind == KindInt && b.kind == KindInt {
			return cmp.Compare(int64(a.bits), int64(b.bits))
		}
		if a.kind == KindComplex || b.kind == KindComplex {
			x, y := a.AsComplex(), b.AsComplex()
			if c := cmp.Compare(real(x), real(y)); c != 0 {
				return c
			}
			return cmp.Compare(imag(x), imag(y))
		}
		return cmp.Compare(a.AsFloat(), b.AsFloat())
	}
	if a.kind != b.kind {
		return cmp.Compare(a.kind, b.kind)
	}
	switch a.kind {
	case KindBool:
		return cmp.Compare(a.bits, b.bits)
	case KindStr, KindBytes:
		return strings.Compare(a.ref.(string), b.ref.(string))
	case KindList, KindTuple:
		if a.ref == b.ref || depth >= maxNesting {
			return 0
		}
		x, y := a.Items(), b.Items()
		for i := 0; i < len(x) && i < len(y); i++ {
			if c := compare(x[i], y[i], depth+1); c != 0 {
				return c
			}
		}
		return cmp.Compare(len(x), len(y))
	}
	return 0
}

// Hash returns a hash consistent with Equal. Mutable containers and
// identity-compared kinds hash by kind alone.
func Hash(v Value) uint64 {
	var buf [17]byte
	switch v.kind {
	case KindInt, KindFloat, KindComplex:
		return hashNumber(v)
	case KindBool:
		buf[0] = byte(KindBool)
		buf[1] = byte(v.bits)
		return xxhash.Sum64(buf[:2])
	case KindStr, KindBytes:
		d := xxhash.New()
		d.Write([]byte{byte(v.kind)})
		d.WriteString(v.ref.(string))
		return d.Sum64()
	case KindTuple:
		d := xxhash.New()
		d.Write([]byte{byte(KindTuple)})
		for _, it := range v.AsTuple().items {
			binary.LittleEndian.PutUint64(buf[:8], Hash(it))
			d.Write(buf[:8])
		}
		return d.Sum64()
	}
	buf[0] = byte(v.kind)
	return xxhash.Sum64(buf[:1])
}

// hashNumber reduces a number to the narrowest kind that represents it
// exactly, so 1, 1.0 and 1+0j hash alike.
func hashNumber(v Value) uint64 {
	var buf [17]byte
	if v.kind == KindInt {
		buf[0] = byte(KindInt)
		binary.LittleEndian.PutUint64(buf[1:9], v.bits)
		return xxhash.Sum64(buf[:9])
	}
	c := v.AsComplex()
	if imag(c) != 0 {
		buf[0] = byte(KindComplex)
		binary.LittleEndian.PutUint64(buf[1:9], math.Float64bits(real(c)))
		binary.LittleEndian.PutUint64(buf[9:17], math.Float64bits(imag(c)))
		return xxhash.Sum64(buf[:17])
	}
	f := real(c)
	if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
		return hashNumber(Int(int64(f)))
	}
	buf[0] = byte(KindFloat)
	binary.LittleEndian.PutUint64(buf[1:9], math.Float64bits(f))
	return xxhash.Sum64(buf[:9])
}

// ---------------------------------------------------------------------------
// Arithmetic
// ---------------------------------------------------------------------------

// numeric rank of an operand; 0 means not a number. Booleans take part in
// arithmetic as integers.
func numRank(v Value) int {
	switch v.kind {
	case KindBool, KindInt:
		return 1
	case KindFloat:
		return 2
	case KindComplex:
		return 3
	}
	return 0
}

func promote(a, b Value) int {
	ra, rb := numRank(a), numRank(b)
	if ra == 0 || rb == 0 {
		return 0
	}
	return max(ra, rb)
}

// Add implements +.
func Add(a, b Value) (Value, *Fault) {
	switch promote(a, b) {
	case 1:
		return Int(a.AsInt() + b.AsInt()), nil
	case 2:
		return Float(a.AsFloat() + b.AsFloat()), nil
	case 3:
		return Complex(a.AsComplex() + b.AsComplex()), nil
	}
	if a.kind == b.kind {
		switch a.kind {
		case KindStr:
			return Str(a.ref.(string) + b.ref.(string)), nil
		case KindBytes:
			return Value{kind: KindBytes, ref: a.ref.(string) + b.ref.(string)}, nil
		case KindList:
			return NewList(append(append([]Value{}, a.Items()...), b.Items()...)...), nil
		case KindTuple:
			return NewTuple(append(append([]Value{}, a.Items()...), b.Items()...)...), nil
		}
	}
	return None, unsupported("+", a, b)
}

// Sub implements -.
func Sub(a, b Value) (Value, *Fault) {
	switch promote(a, b) {
	case 1:
		return Int(a.AsInt() - b.AsInt()), nil
	case 2:
		return Float(a.AsFloat() - b.AsFloat()), nil
	case 3:
		return Complex(a.AsComplex() - b.AsComplex()), nil
	}
	return None, unsupported("-", a, b)
}

// Mul implements *, including sequence repetition.
func Mul(a, b Value) (Value, *Fault) {
	switch promote(a, b) {
	case 1:
		return Int(a.AsInt() * b.AsInt()), nil
	case 2:
		return Float(a.AsFloat() * b.AsFloat()), nil
	case 3:
		return Complex(a.AsComplex() * b.AsComplex()), nil
	}
	if numRank(a) == 1 {
		a, b = b, a
	}
	if numRank(b) == 1 {
		n := max(b.AsInt(), 0)
		if f := checkRepeat(a, n); f != nil {
			return None, f
		}
		switch a.kind {
		case KindStr:
			return Str(strings.Repeat(a.ref.(string), int(n))), nil
		case KindBytes:
			return Value{kind: KindBytes, ref: strings.Repeat(a.ref.(string), int(n))}, nil
		case KindList, KindTuple:
			items := a.Items()
			out := make([]Value, 0, len(items)*int(n))
			for range n {
				out = append(out, items...)
			}
			if a.kind == KindList {
				return NewList(out...), nil
			}
			return NewTuple(out...), nil
		}
	}
	return None, unsupported("*", a, b)
}

// Size limits for values built by a single operation.
const (
	maxBytes = 1 << 28
	maxItems = 1 << 24
)

// checkRepeat rejects a repetition of seq n times that would exceed the
// size limits.
func checkRepeat(seq Value, n int64) *Fault {
	if n == 0 {
		return nil
	}
	var size, limit int64
	switch seq.kind {
	case KindStr, KindBytes:
		size, limit = int64(len(seq.ref.(string))), maxBytes
	case KindList, KindTuple:
		size, limit = int64(len(seq.Items())), maxItems
	default:
		return nil
	}
	if size > 0 && n > limit/size {
		return faultf(MemoryError, "repeated %s is too large", seq.TypeName())
	}
	return nil
}

// TrueDiv implements /. Integer operands produce a float.
func TrueDiv(a, b Value) (Value, *Fault) {
	switch promote(a, b) {
	case 1, 2:
		d := b.AsFloat()
		if d == 0 {
			return None, faultf(ZeroDivisionError, "division by zero")
		}
		return Float(a.AsFloat() / d), nil
	case 3:
		d := b.AsComplex()
		if d == 0 {
			return None, faultf(ZeroDivisionError, "complex division by zero")
		}
		return Complex(a.AsComplex() / d), nil
	}
	return None, unsupported("/", a, b)
}

// FloorDiv implements //, rounding toward negative infinity.
func FloorDiv(a, b Value) (Value, *Fault) {
	switch promote(a, b) {
	case 1:
		x, y := a.AsInt(), b.AsInt()
		if y == 0 {
			return None, faultf(ZeroDivisionError, "integer division or modulo by zero")
		}
		q := x / y
		if (x%y != 0) && ((x < 0) != (y < 0)) {
			q--
		}
		return Int(q), nil
	case 2:
		y := b.AsFloat()
		if y == 0 {
			return None, faultf(ZeroDivisionError, "float floor division by zero")
		}
		return Float(math.Floor(a.AsFloat() / y)), nil
	}
	return None, unsupported("//", a, b)
}

// Mod implements %. The result takes the sign of the divisor. A string
// left operand selects printf-style formatting instead.
func Mod(a, b Value) (Value, *Fault) {
	if a.kind == KindStr {
		return formatPercent(a.ref.(string), b)
	}
	switch promote(a, b) {
	case 1:
		x, y := a.AsInt(), b.AsInt()
		if y == 0 {
			return None, faultf(ZeroDivisionError, "integer division or modulo by zero")
		}
		r := x % y
		if r != 0 && ((r < 0) != (y < 0)) {
			r += y
		}
		return Int(r), nil
	case 2:
		x, y := a.AsFloat(), b.AsFloat()
		if y == 0 {
			return None, faultf(ZeroDivisionError, "float modulo")
		}
		r := math.Mod(x, y)
		if r != 0 && ((r < 0) != (y < 0)) {
			r += y
		}
		return Float(r), nil
	}
	return None, unsupported("%", a, b)
}

// Pow implements **. A negative integer exponent produces a float.
func Pow(a, b Value) (Value, *Fault) {
	switch promote(a, b) {
	case 1:
		x, y := a.AsInt(), b.AsInt()
		if y < 0 {
			if x == 0 {
				return None, faultf(ZeroDivisionError, "0.0 cannot be raised to a negative power")
			}
			return Float(math.Pow(float64(x), float64(y))), nil
		}
		return Int(ipow(x, y)), nil
	case 2:
		x, y := a.AsFloat(), b.AsFloat()
		if x == 0 && y < 0 {
			return None, faultf(ZeroDivisionError, "0.0 cannot be raised to a negative power")
		}
		return Float(math.Pow(x, y)), nil
	case 3:
		return Complex(cmplx.Pow(a.AsComplex(), b.AsComplex())), nil
	}
	return None, unsupported("** or pow()", a, b)
}

func ipow(x, y int64) int64 {
	r := int64(1)
	for y > 0 {
		if y&1 == 1 {
			r *= x
		}
		x *= x
		y >>= 1
	}
	return r
}

// Neg implements unary -.
func Neg(a Value) (Value, *Fault) {
	switch numRank(a) {
	case 1:
		return Int(-a.AsInt()), nil
	case 2:
		return Float(-a.AsFloat()), nil
	case 3:
		return Complex(-a.AsComplex()), nil
	}
	return None, faultf(TypeError, "bad operand type for unary -: '%s'", a.TypeName())
}

// Pos implements unary +.
func Pos(a Value) (Value, *Fault) {
	switch numRank(a) {
	case 1:
		return Int(a.AsInt()), nil
	case 2, 3:
		return a, nil
	}
	return None, faultf(TypeError, "bad operand type for unary +: '%s'", a.TypeName())
}

// Invert implements unary ~ on integers.
func Invert(a Value) (Value, *Fault) {
	if numRank(a) == 1 {
		return Int(^a.AsInt()), nil
	}
	return None, faultf(TypeError, "bad operand type for unary ~: '%s'", a.TypeName())
}

// ---------------------------------------------------------------------------
// Membership and subscripts
// ---------------------------------------------------------------------------

// Contains implements the in operator: item in container.
func Contains(container, item Value) (bool, *Fault) {
	switch container.kind {
	case KindStr, KindBytes:
		if item.kind != container.kind {
			return false, faultf(TypeError, "'in <%s>' requires %s as left operand, not %s",
				container.TypeName(), container.TypeName(), item.TypeName())
		}
		return strings.Contains(container.ref.(string), item.ref.(string)), nil
	case KindList, KindTuple:
		for _, it := range container.Items() {
			if Equal(it, item) {
				return true, nil
			}
		}
		return false, nil
	case KindDict:
		_, ok := container.AsDict().Get(item)
		return ok, nil
	case KindSet:
		return container.AsSet().Has(item), nil
	}
	return false, faultf(TypeError, "argument of type '%s' is not iterable", container.TypeName())
}

// GetItem implements container[key]. Absent dict keys read as None.
func GetItem(container, key Value) (Value, *Fault) {
	switch container.kind {
	case KindDict:
		v, _ := container.AsDict().Get(key)
		return v, nil
	case KindList, KindTuple, KindStr, KindBytes:
		if numRank(key) != 1 {
			return None, faultf(TypeError, "%s indices must be integers, not %s", container.TypeName(), key.TypeName())
		}
		i := int(key.AsInt())
		switch container.kind {
		case KindList:
			if v, ok := container.AsList().Get(i); ok {
				return v, nil
			}
		case KindTuple:
			if v, ok := container.AsTuple().Get(i); ok {
				return v, nil
			}
		case KindStr:
			rs := []rune(container.ref.(string))
			if j, ok := normIndex(i, len(rs)); ok {
				return Str(string(rs[j])), nil
			}
		case KindBytes:
			s := container.ref.(string)
			if j, ok := normIndex(i, len(s)); ok {
				return Int(int64(s[j])), nil
			}
		}
		return None, faultf(IndexError, "%s index out of range", container.TypeName())
	}
	return None, faultf(TypeError, "'%s' object is not subscriptable", container.TypeName())
}

// SetItem implements container[key] = v.
func SetItem(container, key, v Value) *Fault {
	switch container.kind {
	case KindDict:
		container.AsDict().Set(key, v)
		return nil
	case KindList:
		if numRank(key) != 1 {
			return faultf(TypeError, "list indices must be integers, not %s", key.TypeName())
		}
		if !container.AsList().Set(int(key.AsInt()), v) {
			return faultf(IndexError, "list assignment index out of range")
		}
		return nil
	}
	return faultf(TypeError, "'%s' object does not support item assignment", container.TypeName())
}

// ---------------------------------------------------------------------------
// Cloning
// ---------------------------------------------------------------------------

// Clone deep-copies containers so the result shares no mutable state with
// v. Scalars, strings and functions are returned as is. Shared and
// self-referential containers keep their shape in the copy.
func Clone(v Value) Value {
	return cloneValue(v, make(map[any]Value))
}

func cloneValue(v Value, seen map[any]Value) Value {
	switch v.kind {
	case KindList, KindTuple, KindDict, KindSet:
		if c, ok := seen[v.ref]; ok {
			return c
		}
	}
	switch v.kind {
	case KindList:
		l := &List{items: make([]Value, len(v.Items()))}
		out := Value{kind: KindList, ref: l}
		seen[v.ref] = out
		for i, it := range v.Items() {
			l.items[i] = cloneValue(it, seen)
		}
		return out
	case KindTuple:
		t := &Tuple{items: make([]Value, len(v.Items()))}
		out := Value{kind: KindTuple, ref: t}
		seen[v.ref] = out
		for i, it := range v.Items() {
			t.items[i] = cloneValue(it, seen)
		}
		return out
	case KindDict:
		src := v.AsDict()
		d := newDict()
		out := Value{kind: KindDict, ref: d}
		seen[v.ref] = out
		for i, k := range src.keys {
			d.Set(cloneValue(k, seen), cloneValue(src.vals[i], seen))
		}
		return out
	case KindSet:
		s := &Set{d: newDict()}
		out := Value{kind: KindSet, ref: s}
		seen[v.ref] = out
		for _, it := range v.AsSet().Items() {
			s.Add(cloneValue(it, seen))
		}
		return out
	case KindBoundMethod:
		bm := v.AsBoundMethod()
		return NewBoundMethod(bm.Func, cloneValue(bm.Self, seen))
	}
	return v
}

// ---------------------------------------------------------------------------
// String formatting
// ---------------------------------------------------------------------------

// formatPercent implements "fmt" % args for the directives
// %s %r %d %i %f %g %x %%.
func formatPercent(format string, args Value) (Value, *Fault) {
	var list []Value
	if args.kind == KindTuple {
		list = args.Items()
	} else {
		list = []Value{args}
	}
	var b bytes.Buffer
	next := 0
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			b.WriteByte(c)
			continue
		}
		i++
		if i >= len(format) {
			return None, faultf(ValueError, "incomplete format")
		}
		// Optional width and precision are passed through to fmt.
		j := i
		for j < len(format) && (format[j] == '-' || format[j] == '.' || (format[j] >= '0' && format[j] <= '9')) {
			j++
		}
		if j >= len(format) {
			return None, faultf(ValueError, "incomplete format")
		}
		spec := format[i:j]
		verb := format[j]
		i = j
		if verb == '%' {
			b.WriteByte('%')
			continue
		}
		if next >= len(list) {
			return None, faultf(TypeError, "not enough arguments for format string")
		}
		arg := list[next]
		next++
		switch verb {
		case 's':
			fmt.Fprintf(&b, "%"+spec+"s", arg.String())
		case 'r':
			fmt.Fprintf(&b, "%"+spec+"s", arg.Repr())
		case 'd', 'i':
			if numRank(arg) == 0 {
				return None, faultf(TypeError, "%%%c format: a real number is required, not %s", verb, arg.TypeName())
			}
			fmt.Fprintf(&b, "%"+spec+"d", arg.AsInt())
		case 'x', 'X', 'o':
			if numRank(arg) != 1 {
				return None, faultf(TypeError, "%%%c format: an integer is required, not %s", verb, arg.TypeName())
			}
			fmt.Fprintf(&b, "%"+spec+string(verb), arg.AsInt())
		case 'f', 'F', 'e', 'E', 'g', 'G':
			if numRank(arg) == 0 {
				return None, faultf(TypeError, "must be real number, not %s", arg.TypeName())
			}
			if spec == "" && (verb == 'f' || verb == 'F') {
				spec = ".6"
			}
			fmt.Fprintf(&b, "%"+spec+string(verb), arg.AsFloat())
		default:
			return None, faultf(ValueError, "unsupported format character '%c'", verb)
		}
	}
	if next < len(list) {
		return None, faultf(TypeError, "not all arguments converted during string formatting")
	}
	return Str(b.String()), nil
}

// parseFloat converts numeric text the way float() does.
func parseFloat(s string) (Value, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(s, "_", "")), 64)
	if err != nil {
		return None, false
	}
	return Float(f), true
}
