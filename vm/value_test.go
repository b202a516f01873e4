package vm

import (
	"math"
	"testing"
)

// ---------------------------------------------------------------------------
// Truthiness and rendering
// ---------------------------------------------------------------------------

func TestTruthy(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		want bool
	}{
		{"None", None, false},
		{"True", True, true},
		{"False", False, false},
		{"zero", Int(0), false},
		{"int", Int(-3), true},
		{"zero float", Float(0), false},
		{"float", Float(0.5), true},
		{"zero complex", Complex(0), false},
		{"complex", Complex(1i), true},
		{"empty str", Str(""), false},
		{"str", Str("x"), true},
		{"empty bytes", Bytes(nil), false},
		{"empty list", NewList(), false},
		{"list", NewList(None), true},
		{"empty tuple", NewTuple(), false},
		{"empty dict", NewDict(), false},
		{"empty set", NewSet(), false},
		{"function", NewNative("f", func([]Value, any) Value { return None }), true},
		{"iterator", IteratorValue(NewRange(0, 0, 1)), true},
		{"stop", StopIteration, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.v.Truthy(); got != tt.want {
				t.Errorf("Truthy(%s) = %v, want %v", tt.v.Repr(), got, tt.want)
			}
		})
	}
}

func TestZeroValueIsNone(t *testing.T) {
	var v Value
	if !v.IsNone() || v.Kind() != KindNone {
		t.Errorf("zero Value kind = %v, want NoneType", v.Kind())
	}
}

func TestRepr(t *testing.T) {
	d := NewDict()
	d.AsDict().SetStr("b", Int(1))
	d.AsDict().SetStr("a", NewList(Str("x"), Float(2)))

	tests := []struct {
		v    Value
		str  string
		repr string
	}{
		{None, "None", "None"},
		{True, "True", "True"},
		{Int(42), "42", "42"},
		{Float(3), "3.0", "3.0"},
		{Float(0.1), "0.1", "0.1"},
		{Float(math.Inf(1)), "inf", "inf"},
		{Complex(2i), "2j", "2j"},
		{Complex(1 - 2i), "(1-2j)", "(1-2j)"},
		{Str("hi"), "hi", "'hi'"},
		{Str("it's"), "it's", `"it's"`},
		{Bytes([]byte("ab")), "b'ab'", "b'ab'"},
		{NewTuple(Int(1)), "(1,)", "(1,)"},
		{NewList(Str("a"), Int(1)), "['a', 1]", "['a', 1]"},
		{d, "{'b': 1, 'a': ['x', 2.0]}", "{'b': 1, 'a': ['x', 2.0]}"},
		{NewSet(), "set()", "set()"},
	}
	for _, tt := range tests {
		if got := tt.v.String(); got != tt.str {
			t.Errorf("String() = %q, want %q", got, tt.str)
		}
		if got := tt.v.Repr(); got != tt.repr {
			t.Errorf("Repr() = %q, want %q", got, tt.repr)
		}
	}
}

// ---------------------------------------------------------------------------
// Equality, ordering, hashing
// ---------------------------------------------------------------------------

func TestEqualNumericPromotion(t *testing.T) {
	if !Equal(Int(1), Float(1.0)) {
		t.Error("1 == 1.0 should hold")
	}
	if !Equal(Float(2), Complex(2)) {
		t.Error("2.0 == 2+0j should hold")
	}
	if Equal(Int(1), True) {
		t.Error("booleans are not numeric for equality")
	}
	if Equal(Str("1"), Int(1)) {
		t.Error("'1' == 1 should not hold")
	}
}

func TestEqualContainers(t *testing.T) {
	a := NewList(Int(1), NewTuple(Str("x")))
	b := NewList(Float(1), NewTuple(Str("x")))
	if !Equal(a, b) {
		t.Error("lists with equal elements should be equal")
	}
	if Equal(a, NewTuple(Int(1), NewTuple(Str("x")))) {
		t.Error("list and tuple should not be equal")
	}

	d1, d2 := NewDict(), NewDict()
	d1.AsDict().SetStr("a", Int(1))
	d1.AsDict().SetStr("b", Int(2))
	d2.AsDict().SetStr("b", Int(2))
	d2.AsDict().SetStr("a", Int(1))
	if !Equal(d1, d2) {
		t.Error("dict equality should ignore insertion order")
	}
}

func TestEqualIdentityKinds(t *testing.T) {
	fn := &Function{Name: "f"}
	if !Equal(FunctionValue(fn), FunctionValue(fn)) {
		t.Error("same function should be equal")
	}
	if Equal(FunctionValue(fn), FunctionValue(&Function{Name: "f"})) {
		t.Error("distinct functions should not be equal")
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b Value
		want int
	}{
		{Int(1), Int(2), -1},
		{Float(2.5), Int(2), 1},
		{Int(3), Float(3), 0},
		{Complex(1 + 1i), Complex(1 + 2i), -1},
		{Str("abc"), Str("abd"), -1},
		{NewList(Int(1), Int(2)), NewList(Int(1)), 1},
		{NewTuple(Int(1), Int(2)), NewTuple(Int(1), Int(3)), -1},
		{None, Int(0), -1},
	}
	for _, tt := range tests {
		if got := Compare(tt.a, tt.b); got != tt.want {
			t.Errorf("Compare(%s, %s) = %d, want %d", tt.a.Repr(), tt.b.Repr(), got, tt.want)
		}
	}
}

func TestHashConsistentWithEqual(t *testing.T) {
	pairs := [][2]Value{
		{Int(1), Float(1)},
		{Float(2), Complex(2)},
		{Int(-7), Complex(-7)},
		{Str("k"), Str("k")},
		{NewTuple(Int(1), Str("a")), NewTuple(Float(1), Str("a"))},
		{NewList(Int(1)), NewList(Int(1))},
	}
	for _, p := range pairs {
		if !Equal(p[0], p[1]) {
			t.Fatalf("%s and %s should be equal", p[0].Repr(), p[1].Repr())
		}
		if Hash(p[0]) != Hash(p[1]) {
			t.Errorf("Hash(%s) != Hash(%s)", p[0].Repr(), p[1].Repr())
		}
	}
	if Hash(Str("a")) == Hash(Bytes([]byte("a"))) {
		t.Error("str and bytes should hash apart")
	}
}

// ---------------------------------------------------------------------------
// Arithmetic
// ---------------------------------------------------------------------------

func TestArithmeticPromotion(t *testing.T) {
	tests := []struct {
		name string
		fn   func(a, b Value) (Value, *Fault)
		a, b Value
		want Value
	}{
		{"int add", Add, Int(2), Int(3), Int(5)},
		{"int+float", Add, Int(2), Float(0.5), Float(2.5)},
		{"float+complex", Add, Float(1), Complex(2i), Complex(1 + 2i)},
		{"bool as int", Add, True, Int(1), Int(2)},
		{"true division", TrueDiv, Int(7), Int(2), Float(3.5)},
		{"floor division", FloorDiv, Int(7), Int(2), Int(3)},
		{"negative floor division", FloorDiv, Int(-7), Int(2), Int(-4)},
		{"modulo sign follows divisor", Mod, Int(-7), Int(3), Int(2)},
		{"float modulo", Mod, Float(-1), Float(3), Float(2)},
		{"int pow", Pow, Int(2), Int(10), Int(1024)},
		{"negative exponent", Pow, Int(2), Int(-1), Float(0.5)},
		{"str concat", Add, Str("ab"), Str("cd"), Str("abcd")},
		{"str repeat", Mul, Str("ab"), Int(3), Str("ababab")},
		{"int times list", Mul, Int(2), NewList(Int(1)), NewList(Int(1), Int(1))},
		{"list concat", Add, NewList(Int(1)), NewList(Int(2)), NewList(Int(1), Int(2))},
		{"tuple concat", Add, NewTuple(Int(1)), NewTuple(Int(2)), NewTuple(Int(1), Int(2))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, f := tt.fn(tt.a, tt.b)
			if f != nil {
				t.Fatalf("unexpected fault: %v", f)
			}
			if got.Kind() != tt.want.Kind() || !Equal(got, tt.want) {
				t.Errorf("got %s (%s), want %s (%s)", got.Repr(), got.TypeName(), tt.want.Repr(), tt.want.TypeName())
			}
		})
	}
}

func TestArithmeticFaults(t *testing.T) {
	tests := []struct {
		name string
		fn   func(a, b Value) (Value, *Fault)
		a, b Value
		kind string
	}{
		{"int div by zero", TrueDiv, Int(1), Int(0), ZeroDivisionError},
		{"float div by zero", TrueDiv, Float(1), Float(0), ZeroDivisionError},
		{"floor div by zero", FloorDiv, Int(1), Int(0), ZeroDivisionError},
		{"mod by zero", Mod, Int(1), Int(0), ZeroDivisionError},
		{"str minus int", Sub, Str("a"), Int(1), TypeError},
		{"none plus int", Add, None, Int(1), TypeError},
		{"str plus int", Add, Str("a"), Int(1), TypeError},
		{"huge str repeat", Mul, Str("a"), Int(1_000_000_000_000), MemoryError},
		{"huge bytes repeat", Mul, Int(1 << 40), Bytes([]byte("ab")), MemoryError},
		{"huge list repeat", Mul, NewList(Int(0)), Int(1_000_000_000_000), MemoryError},
		{"huge tuple repeat", Mul, NewTuple(Int(0), Int(1)), Int(maxItems), MemoryError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, f := tt.fn(tt.a, tt.b)
			if f == nil {
				t.Fatal("expected a fault")
			}
			if f.Kind != tt.kind {
				t.Errorf("fault kind = %s, want %s", f.Kind, tt.kind)
			}
		})
	}
}

func TestRepeatWithinLimits(t *testing.T) {
	tests := []struct {
		a, b Value
		want int
	}{
		{Str("ab"), Int(3), 6},
		{Str(""), Int(1_000_000_000_000), 0},
		{NewList(), Int(1_000_000_000_000), 0},
		{NewList(Int(1)), Int(-5), 0},
		{NewTuple(Int(1), Int(2)), Int(1000), 2000},
	}
	for _, tt := range tests {
		res, f := Mul(tt.a, tt.b)
		if f != nil {
			t.Fatalf("%s * %s: %v", tt.a.Repr(), tt.b.Repr(), f)
		}
		if res.Len() != tt.want {
			t.Errorf("len(%s * %s) = %d, want %d", tt.a.Repr(), tt.b.Repr(), res.Len(), tt.want)
		}
	}
	if f := checkRepeat(NewList(Int(0), Int(1)), maxItems/2); f != nil {
		t.Errorf("repeat up to the item limit rejected: %v", f)
	}
	if f := checkRepeat(Str("ab"), maxBytes/2+1); f == nil {
		t.Error("repeat past the byte limit accepted")
	}
}

func TestUnaryOps(t *testing.T) {
	if v, _ := Neg(Int(3)); !Equal(v, Int(-3)) {
		t.Errorf("Neg(3) = %s", v.Repr())
	}
	if v, _ := Invert(Int(5)); !Equal(v, Int(-6)) {
		t.Errorf("Invert(5) = %s", v.Repr())
	}
	if _, f := Invert(Float(1)); f == nil || f.Kind != TypeError {
		t.Errorf("Invert(1.0) fault = %v, want TypeError", f)
	}
	if v, _ := Pos(Complex(1i)); !Equal(v, Complex(1i)) {
		t.Errorf("Pos(1j) = %s", v.Repr())
	}
}

func TestPercentFormat(t *testing.T) {
	tests := []struct {
		format string
		args   Value
		want   string
	}{
		{"%s and %s", NewTuple(Str("a"), Int(1)), "a and 1"},
		{"%d%%", Float(99.7), "99%"},
		{"%r", Str("x"), "'x'"},
		{"%5.2f", Float(3.14159), " 3.14"},
		{"%x", Int(255), "ff"},
	}
	for _, tt := range tests {
		got, f := Mod(Str(tt.format), tt.args)
		if f != nil {
			t.Fatalf("%q: unexpected fault %v", tt.format, f)
		}
		if got.AsStr() != tt.want {
			t.Errorf("%q %% %s = %q, want %q", tt.format, tt.args.Repr(), got.AsStr(), tt.want)
		}
	}
	if _, f := Mod(Str("%s %s"), Str("one")); f == nil {
		t.Error("missing argument should fault")
	}
}

// ---------------------------------------------------------------------------
// Containers
// ---------------------------------------------------------------------------

func TestListIndexing(t *testing.T) {
	l := NewList(Int(1), Int(2), Int(3)).AsList()
	if v, ok := l.Get(-1); !ok || !Equal(v, Int(3)) {
		t.Errorf("Get(-1) = %s, %v", v.Repr(), ok)
	}
	if _, ok := l.Get(3); ok {
		t.Error("Get(3) should be out of range")
	}
	if !l.Set(-3, Str("a")) {
		t.Error("Set(-3) should succeed")
	}
	l.Append(Int(4))
	if v, _ := l.Pop(); !Equal(v, Int(4)) || l.Len() != 3 {
		t.Errorf("Pop() = %s, len %d", v.Repr(), l.Len())
	}
}

func TestDictOrderAndOverwrite(t *testing.T) {
	d := NewDict().AsDict()
	d.Set(Str("z"), Int(1))
	d.Set(Int(1), Str("one"))
	d.Set(Str("a"), Int(2))
	d.Set(Float(1.0), Str("uno"))

	if d.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", d.Len())
	}
	if v, _ := d.Get(Int(1)); v.AsStr() != "uno" {
		t.Errorf("d[1] = %s, want 'uno'", v.Repr())
	}
	keys := d.Keys()
	if !Equal(NewList(keys...), NewList(Str("z"), Int(1), Str("a"))) {
		t.Errorf("keys = %s", NewList(keys...).Repr())
	}

	if !d.Delete(Str("z")) || d.Delete(Str("missing")) {
		t.Error("Delete results wrong")
	}
	if v, ok := d.Get(Str("a")); !ok || !Equal(v, Int(2)) {
		t.Error("entries after a deletion should still be found")
	}
}

func TestGetItemAbsentDictKeyIsNone(t *testing.T) {
	v, f := GetItem(NewDict(), Str("nope"))
	if f != nil || !v.IsNone() {
		t.Errorf("GetItem on absent key = %s, %v", v.Repr(), f)
	}
	if _, f := GetItem(NewList(), Int(0)); f == nil || f.Kind != IndexError {
		t.Errorf("empty list index fault = %v", f)
	}
	if v, _ := GetItem(Str("héllo"), Int(1)); v.AsStr() != "é" {
		t.Errorf("str index = %q", v.AsStr())
	}
}

func TestSetDistinct(t *testing.T) {
	s := NewSet(Int(1), Float(1), Str("a"), Str("a")).AsSet()
	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}
	if !s.Has(Complex(1)) {
		t.Error("set should contain 1+0j")
	}
}

func TestContains(t *testing.T) {
	d := NewDict()
	d.AsDict().SetStr("k", None)
	tests := []struct {
		c, item Value
		want    bool
	}{
		{Str("hello"), Str("ell"), true},
		{NewList(Int(1), Int(2)), Float(2), true},
		{NewTuple(), Int(1), false},
		{d, Str("k"), true},
		{NewSet(Str("x")), Str("y"), false},
	}
	for _, tt := range tests {
		got, f := Contains(tt.c, tt.item)
		if f != nil || got != tt.want {
			t.Errorf("%s in %s = %v (%v), want %v", tt.item.Repr(), tt.c.Repr(), got, f, tt.want)
		}
	}
	if _, f := Contains(Int(3), Int(1)); f == nil {
		t.Error("in on an int should fault")
	}
}

func TestCloneIsDeep(t *testing.T) {
	inner := NewList(Int(1))
	d := NewDict()
	d.AsDict().SetStr("items", inner)
	orig := NewList(d, NewTuple(inner))

	c := Clone(orig)
	if !Equal(c, orig) {
		t.Fatal("clone should equal original")
	}
	inner.AsList().Append(Int(2))
	cd := c.AsList().items[0].AsDict()
	if got, _ := cd.GetStr("items"); got.Len() != 1 {
		t.Errorf("clone shares nested list: %s", got.Repr())
	}
}

func TestSelfReferentialContainers(t *testing.T) {
	l := NewList(Int(1))
	l.AsList().Append(l)
	d := NewDict()
	d.AsDict().SetStr("k", Int(1))
	d.AsDict().SetStr("self", d)
	nested := NewList(NewTuple(l))

	reprs := []struct {
		v    Value
		want string
	}{
		{l, "[1, [...]]"},
		{d, "{'k': 1, 'self': {...}}"},
		{nested, "[([1, [...]],)]"},
	}
	for _, tt := range reprs {
		if got := tt.v.Repr(); got != tt.want {
			t.Errorf("Repr = %s, want %s", got, tt.want)
		}
	}

	if !Equal(l, l) || !Equal(d, d) {
		t.Error("a container must equal itself")
	}
	if Compare(l, l) != 0 {
		t.Error("Compare(l, l) != 0")
	}
	other := NewList(Int(1))
	other.AsList().Append(other)
	if Equal(l, other) {
		t.Error("distinct cyclic lists compared equal")
	}
	_ = Compare(l, other)

	c := Clone(l)
	items := c.AsList().Items()
	if len(items) != 2 || items[1].AsList() != c.AsList() {
		t.Errorf("clone lost the cycle: %s", c.Repr())
	}
	if c.AsList() == l.AsList() {
		t.Error("clone shares the original list")
	}
}
