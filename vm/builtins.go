package vm

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/chazu/bytevm/policy"
)

// ---------------------------------------------------------------------------
// Builtin registration
// ---------------------------------------------------------------------------

// builtin adapts a VM-aware function to NativeFunc. The calling VM arrives
// as userData.
func builtin(name string, fn func(v *VM, args []Value) Value) Value {
	return NewNative(name, func(args []Value, ud any) Value {
		v, _ := ud.(*VM)
		if v == nil {
			return None
		}
		return fn(v, args)
	})
}

// allowed consults the policy kit and logs a denial.
func (v *VM) allowed(p policy.Permission, op string) bool {
	if v.policy.Check(p) {
		return true
	}
	v.log.Warningf("policy: %s denied, %s permission is off", op, p)
	return false
}

// Print writes values the way the print builtin does.
func (v *VM) Print(args ...Value) {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.String()
	}
	fmt.Fprintln(v.stdout, strings.Join(parts, " "))
}

func (v *VM) bindBuiltins() {
	for name, fn := range map[string]func(*VM, []Value) Value{
		"print":   func(v *VM, args []Value) Value { v.Print(args...); return None },
		"len":     biLen,
		"range":   biRange,
		"complex": biComplex,
		"bool": func(_ *VM, args []Value) Value {
			return Bool(len(args) > 0 && args[0].Truthy())
		},
		"str": func(_ *VM, args []Value) Value {
			if len(args) == 0 {
				return Str("")
			}
			return Str(args[0].String())
		},
		"repr": func(_ *VM, args []Value) Value {
			if len(args) == 0 {
				return Str("")
			}
			return Str(args[0].Repr())
		},
		"int":    biInt,
		"float":  biFloat,
		"list":   biCollect(KindList),
		"tuple":  biCollect(KindTuple),
		"set":    biCollect(KindSet),
		"iter":   biIter,
		"next":   biNext,
		"dir":    biDir,
		"min":    func(v *VM, args []Value) Value { return minMax(v, "min", args, -1) },
		"max":    func(v *VM, args []Value) Value { return minMax(v, "max", args, 1) },
		"sum":    biSum,
		"abs":    biAbs,
		"type":   func(_ *VM, args []Value) Value { return Str(argKind(args)) },
		"sorted": biSorted,
		"spawn":  biSpawn,
	} {
		v.globals[name] = builtin(name, fn)
	}
	v.globals["__name__"] = Str("__main__")
}

func argKind(args []Value) string {
	if len(args) == 0 {
		return "NoneType"
	}
	return args[0].TypeName()
}

// ---------------------------------------------------------------------------
// Core builtins
// ---------------------------------------------------------------------------

func biLen(v *VM, args []Value) Value {
	if len(args) != 1 {
		return v.raise(TypeError, "len() takes exactly one argument (%d given)", len(args))
	}
	switch args[0].Kind() {
	case KindStr, KindBytes, KindList, KindTuple, KindDict, KindSet:
		return Int(int64(args[0].Len()))
	}
	return v.raise(TypeError, "object of type '%s' has no len()", args[0].TypeName())
}

func biRange(v *VM, args []Value) Value {
	var start, stop, step int64 = 0, 0, 1
	for _, a := range args {
		if numRank(a) != 1 {
			return v.raise(TypeError, "'%s' object cannot be interpreted as an integer", a.TypeName())
		}
	}
	switch len(args) {
	case 1:
		stop = args[0].AsInt()
	case 2:
		start, stop = args[0].AsInt(), args[1].AsInt()
	case 3:
		start, stop, step = args[0].AsInt(), args[1].AsInt(), args[2].AsInt()
		if step == 0 {
			return v.raise(ValueError, "range() arg 3 must not be zero")
		}
	default:
		return v.raise(TypeError, "range expected 1 to 3 arguments, got %d", len(args))
	}
	return IteratorValue(NewRange(start, stop, step))
}

func biComplex(v *VM, args []Value) Value {
	var re, im float64
	if len(args) > 0 {
		if args[0].IsComplex() {
			return args[0]
		}
		re = args[0].AsFloat()
	}
	if len(args) > 1 {
		im = args[1].AsFloat()
	}
	return Complex(complex(re, im))
}

func biInt(v *VM, args []Value) Value {
	if len(args) == 0 {
		return Int(0)
	}
	a := args[0]
	switch a.Kind() {
	case KindInt, KindBool:
		return Int(a.AsInt())
	case KindFloat:
		f := a.AsFloat()
		if math.IsInf(f, 0) || math.IsNaN(f) {
			return v.raise(ValueError, "cannot convert float %s to integer", a.Repr())
		}
		return Int(int64(f))
	case KindStr:
		base := 10
		if len(args) > 1 {
			base = int(args[1].AsInt())
		}
		if base >= 2 && base <= 36 {
			if n, ok := parseIntBase(a.AsStr(), base); ok {
				return Int(n)
			}
		}
		return v.raise(ValueError, "invalid literal for int(): %s", a.Repr())
	}
	return v.raise(TypeError, "int() argument must be a string or a number, not '%s'", a.TypeName())
}

func biFloat(v *VM, args []Value) Value {
	if len(args) == 0 {
		return Float(0)
	}
	a := args[0]
	switch a.Kind() {
	case KindInt, KindBool, KindFloat:
		return Float(a.AsFloat())
	case KindStr:
		s := strings.ToLower(strings.TrimSpace(a.AsStr()))
		switch s {
		case "inf", "+inf", "infinity":
			return Float(math.Inf(1))
		case "-inf", "-infinity":
			return Float(math.Inf(-1))
		case "nan":
			return Float(math.NaN())
		}
		if f, ok := parseFloat(s); ok {
			return f
		}
		return v.raise(ValueError, "could not convert string to float: %s", a.Repr())
	}
	return v.raise(TypeError, "float() argument must be a string or a number, not '%s'", a.TypeName())
}

func biCollect(k Kind) func(*VM, []Value) Value {
	return func(v *VM, args []Value) Value {
		var items []Value
		if len(args) > 0 {
			var f *Fault
			if items, f = Collect(args[0]); f != nil {
				return v.raise(f.Kind, "%s", f.Msg)
			}
		}
		switch k {
		case KindTuple:
			return NewTuple(items...)
		case KindSet:
			return NewSet(items...)
		}
		return NewList(items...)
	}
}

func biIter(v *VM, args []Value) Value {
	if len(args) != 1 {
		return v.raise(TypeError, "iter expected 1 argument, got %d", len(args))
	}
	it, f := Iter(args[0])
	if f != nil {
		return v.raise(f.Kind, "%s", f.Msg)
	}
	return IteratorValue(it)
}

// biNext returns the next item, the default when exhausted, or the
// StopIteration sentinel when no default was given.
func biNext(v *VM, args []Value) Value {
	if len(args) == 0 || args[0].AsIterator() == nil {
		return v.raise(TypeError, "next() argument must be an iterator")
	}
	x := args[0].AsIterator().Next()
	if x.IsStop() && len(args) > 1 {
		return args[1]
	}
	return x
}

func biDir(v *VM, args []Value) Value {
	var names []string
	switch {
	case len(args) == 0:
		names = v.Globals()
	case args[0].AsDict() != nil:
		args[0].AsDict().Range(func(k, _ Value) bool {
			names = append(names, k.AsStr())
			return true
		})
		names = append(names, methodNames(KindDict)...)
	default:
		names = methodNames(args[0].Kind())
	}
	sort.Strings(names)
	out := make([]Value, len(names))
	for i, n := range names {
		out[i] = Str(n)
	}
	return NewList(out...)
}

func minMax(v *VM, name string, args []Value, sign int) Value {
	items := args
	if len(args) == 1 {
		var f *Fault
		if items, f = Collect(args[0]); f != nil {
			return v.raise(f.Kind, "%s", f.Msg)
		}
	}
	if len(items) == 0 {
		return v.raise(ValueError, "%s() arg is an empty sequence", name)
	}
	best := items[0]
	for _, it := range items[1:] {
		if Compare(it, best)*sign > 0 {
			best = it
		}
	}
	return best
}

func biSum(v *VM, args []Value) Value {
	if len(args) == 0 {
		return v.raise(TypeError, "sum() takes at least 1 positional argument (0 given)")
	}
	items, f := Collect(args[0])
	if f != nil {
		return v.raise(f.Kind, "%s", f.Msg)
	}
	total := Int(0)
	if len(args) > 1 {
		total = args[1]
	}
	for _, it := range items {
		if total, f = Add(total, it); f != nil {
			return v.raise(f.Kind, "%s", f.Msg)
		}
	}
	return total
}

func biAbs(v *VM, args []Value) Value {
	if len(args) != 1 {
		return v.raise(TypeError, "abs() takes exactly one argument (%d given)", len(args))
	}
	switch a := args[0]; numRank(a) {
	case 1:
		if n := a.AsInt(); n < 0 {
			return Int(-n)
		}
		return Int(a.AsInt())
	case 2:
		return Float(math.Abs(a.AsFloat()))
	case 3:
		c := a.AsComplex()
		return Float(math.Hypot(real(c), imag(c)))
	}
	return v.raise(TypeError, "bad operand type for abs(): '%s'", args[0].TypeName())
}

func biSorted(v *VM, args []Value) Value {
	if len(args) == 0 {
		return v.raise(TypeError, "sorted expected 1 argument, got 0")
	}
	items, f := Collect(args[0])
	if f != nil {
		return v.raise(f.Kind, "%s", f.Msg)
	}
	sort.SliceStable(items, func(i, j int) bool { return Compare(items[i], items[j]) < 0 })
	return NewList(items...)
}

// biSpawn hands fn(args...) to the VM's spawner and returns its
// acknowledgement string.
func biSpawn(v *VM, args []Value) Value {
	if len(args) == 0 {
		return v.raise(TypeError, "spawn() requires a function")
	}
	if v.spawner == nil {
		v.log.Warning("spawn called on a VM without a scheduler")
		return None
	}
	ack, err := v.spawner.Spawn(args[0], args[1:])
	if err != nil {
		v.log.Errorf("spawn: %s", err)
		return None
	}
	return Str(ack)
}

func parseIntBase(s string, base int) (int64, bool) {
	s = strings.ToLower(strings.TrimSpace(strings.ReplaceAll(s, "_", "")))
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimLeft(s, "+-")
	switch base {
	case 16:
		s = strings.TrimPrefix(s, "0x")
	case 8:
		s = strings.TrimPrefix(s, "0o")
	case 2:
		s = strings.TrimPrefix(s, "0b")
	}
	var n int64
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		var d int
		switch {
		case r >= '0' && r <= '9':
			d = int(r - '0')
		case r >= 'a' && r <= 'z':
			d = int(r-'a') + 10
		default:
			return 0, false
		}
		if d >= base {
			return 0, false
		}
		n = n*int64(base) + int64(d)
	}
	if neg {
		n = -n
	}
	return n, true
}
