package vm

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/bytevm/policy"
)

// callGlobal runs name(args...) on a fresh VM, where name may be dotted
// ("os.path.exists").
func callGlobal(t *testing.T, v *VM, name string, args ...Value) Value {
	t.Helper()
	parts := strings.Split(name, ".")
	code := []Instruction{opName(OpLoadName, parts[0])}
	for _, attr := range parts[1:] {
		code = append(code, opName(OpLoadAttr, attr))
	}
	for _, a := range args {
		code = append(code, opConst(OpLoadConst, a))
	}
	code = append(code, opArg(OpCallFunction, len(args)), op(OpReturnValue))
	v.Load(code)
	res, err := v.Run()
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	return res
}

// ---------------------------------------------------------------------------
// Core builtins
// ---------------------------------------------------------------------------

func TestCoreBuiltins(t *testing.T) {
	v, _ := newTestVM()
	tests := []struct {
		name string
		args []Value
		want Value
	}{
		{"len", []Value{Str("héllo")}, Int(5)},
		{"len", []Value{NewList(Int(1), Int(2))}, Int(2)},
		{"int", []Value{Str(" 42 ")}, Int(42)},
		{"int", []Value{Str("ff"), Int(16)}, Int(255)},
		{"int", []Value{Float(-2.7)}, Int(-2)},
		{"float", []Value{Str("1.5")}, Float(1.5)},
		{"str", []Value{Float(2)}, Str("2.0")},
		{"bool", []Value{NewList()}, False},
		{"complex", []Value{Int(1), Int(2)}, Complex(1 + 2i)},
		{"abs", []Value{Int(-4)}, Int(4)},
		{"abs", []Value{Complex(3 + 4i)}, Float(5)},
		{"min", []Value{Int(3), Int(1), Int(2)}, Int(1)},
		{"max", []Value{NewList(Str("a"), Str("c"), Str("b"))}, Str("c")},
		{"sum", []Value{NewList(Int(1), Int(2), Float(0.5))}, Float(3.5)},
		{"type", []Value{NewDict()}, Str("dict")},
		{"tuple", []Value{NewList(Int(1))}, NewTuple(Int(1))},
		{"list", []Value{Str("ab")}, NewList(Str("a"), Str("b"))},
		{"sorted", []Value{NewList(Int(3), Int(1), Int(2))}, NewList(Int(1), Int(2), Int(3))},
		{"repr", []Value{Str("x")}, Str("'x'")},
	}
	for _, tt := range tests {
		got := callGlobal(t, v, tt.name, tt.args...)
		if got.Kind() != tt.want.Kind() || !Equal(got, tt.want) {
			t.Errorf("%s(%s) = %s, want %s", tt.name, NewTuple(tt.args...).Repr(), got.Repr(), tt.want.Repr())
		}
	}
}

func TestRangeAndNext(t *testing.T) {
	v, _ := newTestVM()
	it := callGlobal(t, v, "range", Int(2), Int(4))
	if got := callGlobal(t, v, "next", it); !Equal(got, Int(2)) {
		t.Errorf("next = %s", got.Repr())
	}
	callGlobal(t, v, "next", it)
	if got := callGlobal(t, v, "next", it); !got.IsStop() {
		t.Errorf("next on exhausted = %s, want StopIteration", got.Repr())
	}
	if got := callGlobal(t, v, "next", it, Str("done")); got.AsStr() != "done" {
		t.Errorf("next with default = %s", got.Repr())
	}
}

func TestBuiltinTypeErrorHalts(t *testing.T) {
	v, _ := newTestVM()
	v.Load([]Instruction{opName(OpLoadName, "len"), loadInt(3), opArg(OpCallFunction, 1), op(OpReturnValue)})
	if _, err := v.Run(); err == nil || !strings.Contains(err.Error(), "has no len()") {
		t.Errorf("error = %v", err)
	}
}

func TestDirListsMethods(t *testing.T) {
	v, _ := newTestVM()
	got := callGlobal(t, v, "dir", Str(""))
	if ok, _ := Contains(got, Str("join")); !ok {
		t.Errorf("dir('') = %s, missing join", got.Repr())
	}
}

func TestStringListDictMethods(t *testing.T) {
	v, _ := newTestVM()
	call := func(recv Value, method string, args ...Value) Value {
		m := v.getAttr(recv, method)
		if m.Kind() != KindBoundMethod {
			t.Fatalf("%s.%s is %s", recv.TypeName(), method, m.TypeName())
		}
		v.Load(append([]Instruction{opConst(OpLoadConst, m)}, append(constLoads(args), opArg(OpCallFunction, len(args)), op(OpReturnValue))...))
		res, err := v.Run()
		if err != nil {
			t.Fatal(err)
		}
		return res
	}

	if got := call(Str("file.txt"), "endswith", Str(".txt")); !got.AsBool() {
		t.Error("endswith")
	}
	if got := call(Str("-"), "join", NewList(Str("a"), Int(1))); got.AsStr() != "a-1" {
		t.Errorf("join = %s", got.Repr())
	}
	if got := call(Str("  x "), "strip"); got.AsStr() != "x" {
		t.Errorf("strip = %q", got.AsStr())
	}

	l := NewList()
	call(l, "append", Int(1))
	call(l, "extend", NewTuple(Int(2), Int(3)))
	if got := call(l, "pop"); !Equal(got, Int(3)) || l.Len() != 2 {
		t.Errorf("pop = %s, list %s", got.Repr(), l.Repr())
	}

	d := NewDict()
	d.AsDict().SetStr("a", Int(1))
	if got := call(d, "get", Str("zz"), Int(0)); !Equal(got, Int(0)) {
		t.Errorf("get default = %s", got.Repr())
	}
	if got := call(d, "items"); !Equal(got, NewList(NewTuple(Str("a"), Int(1)))) {
		t.Errorf("items = %s", got.Repr())
	}
}

func constLoads(args []Value) []Instruction {
	out := make([]Instruction, len(args))
	for i, a := range args {
		out[i] = opConst(OpLoadConst, a)
	}
	return out
}

// ---------------------------------------------------------------------------
// Policy enforcement
// ---------------------------------------------------------------------------

func TestPolicyDenialReturnsNoneOrFalse(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	kit := policy.New()
	kit.Set(policy.Read, false)
	kit.Set(policy.Write, false)
	kit.Set(policy.Exec, false)
	kit.Set(policy.Env, false)
	v, _ := newTestVM(WithPolicy(kit))

	if got := callGlobal(t, v, "os.listdir", Str(dir)); !got.IsNone() {
		t.Errorf("denied listdir = %s, want None", got.Repr())
	}
	if got := callGlobal(t, v, "os.path.exists", Str(file)); got != False {
		t.Errorf("denied exists = %s, want False", got.Repr())
	}
	if got := callGlobal(t, v, "os.remove", Str(file)); got != False {
		t.Errorf("denied remove = %s, want False", got.Repr())
	}
	if _, err := os.Stat(file); err != nil {
		t.Error("denied remove touched the file")
	}
	cwd, _ := os.Getwd()
	if got := callGlobal(t, v, "os.chdir", Str(dir)); got != False {
		t.Errorf("denied chdir = %s, want False", got.Repr())
	}
	if now, _ := os.Getwd(); now != cwd {
		t.Errorf("denied chdir moved the process to %s", now)
	}
	if got := callGlobal(t, v, "os.getenv", Str("PATH")); !got.IsNone() {
		t.Errorf("denied getenv = %s, want None", got.Repr())
	}
	if got := callGlobal(t, v, "subprocess.run", Str("true")); !got.IsNone() {
		t.Errorf("denied subprocess.run = %s, want None", got.Repr())
	}
	if env, _ := v.modules["os"].AsDict().GetStr("environ"); env.Len() != 0 {
		t.Error("os.environ populated without env permission")
	}

	// Pure path manipulation is not gated.
	if got := callGlobal(t, v, "os.path.basename", Str(file)); got.AsStr() != "f.txt" {
		t.Errorf("basename = %s", got.Repr())
	}
}

func TestPolicyAllowedFileOps(t *testing.T) {
	dir := t.TempDir()
	v, _ := newTestVM()
	sub := filepath.Join(dir, "a", "b")

	if got := callGlobal(t, v, "os.makedirs", Str(sub)); got != True {
		t.Fatalf("makedirs = %s", got.Repr())
	}
	if got := callGlobal(t, v, "os.path.isdir", Str(sub)); got != True {
		t.Error("isdir after makedirs")
	}
	if got := callGlobal(t, v, "os.listdir", Str(filepath.Join(dir, "a"))); !Equal(got, NewList(Str("b"))) {
		t.Errorf("listdir = %s", got.Repr())
	}
	if got := callGlobal(t, v, "os.rmdir", Str(sub)); got != True {
		t.Error("rmdir")
	}
	if got := callGlobal(t, v, "os.rmdir", Str(sub)); got != False {
		t.Error("rmdir of a missing directory should report False")
	}
}

func TestPathHelpers(t *testing.T) {
	v, _ := newTestVM()
	if got := callGlobal(t, v, "os.path.splitext", Str("dir/archive.tar.gz")); !Equal(got, NewTuple(Str("dir/archive.tar"), Str(".gz"))) {
		t.Errorf("splitext = %s", got.Repr())
	}
	if got := callGlobal(t, v, "os.path.split", Str("/usr/lib")); !Equal(got, NewTuple(Str("/usr"), Str("lib"))) {
		t.Errorf("split = %s", got.Repr())
	}
	if got := callGlobal(t, v, "os.path.dirname", Str("/top")); got.AsStr() != "/" {
		t.Errorf("dirname = %s", got.Repr())
	}
	if got := callGlobal(t, v, "os.path.join", Str("a"), Str("/abs"), Str("c")); got.AsStr() != "/abs/c" {
		t.Errorf("join = %s", got.Repr())
	}
}

// ---------------------------------------------------------------------------
// Standard modules
// ---------------------------------------------------------------------------

func TestMathModule(t *testing.T) {
	v, _ := newTestVM()
	tests := []struct {
		name string
		args []Value
		want Value
	}{
		{"math.sqrt", []Value{Int(16)}, Float(4)},
		{"math.floor", []Value{Float(-1.5)}, Int(-2)},
		{"math.gcd", []Value{Int(12), Int(18)}, Int(6)},
		{"math.lcm", []Value{Int(4), Int(6)}, Int(12)},
		{"math.factorial", []Value{Int(5)}, Int(120)},
		{"math.comb", []Value{Int(5), Int(2)}, Int(10)},
		{"math.isqrt", []Value{Int(17)}, Int(4)},
		{"math.hypot", []Value{Int(3), Int(4)}, Float(5)},
		{"math.fsum", []Value{NewList(Float(0.1), Float(0.2), Float(0.3))}, Float(0.6)},
		{"math.isclose", []Value{Float(1.0), Float(1.0 + 1e-12)}, True},
		{"math.isnan", []Value{Float(1)}, False},
	}
	for _, tt := range tests {
		got := callGlobal(t, v, tt.name, tt.args...)
		if got.Kind() != tt.want.Kind() || !Equal(got, tt.want) {
			t.Errorf("%s = %s, want %s", tt.name, got.Repr(), tt.want.Repr())
		}
	}

	v.Load([]Instruction{opName(OpLoadName, "math"), opName(OpLoadAttr, "sqrt"), loadInt(-1), opArg(OpCallFunction, 1), op(OpReturnValue)})
	if _, err := v.Run(); err == nil || !strings.Contains(err.Error(), "math domain error") {
		t.Errorf("sqrt(-1) error = %v", err)
	}
}

func TestJSONRoundTripKeepsOrder(t *testing.T) {
	v, _ := newTestVM()
	doc := `{"zeta": 1, "alpha": [true, null, 2.5, "x<y"], "mid": {"b": 1, "a": 2}}`
	parsed := callGlobal(t, v, "json.loads", Str(doc))
	d := parsed.AsDict()
	if d == nil {
		t.Fatalf("loads = %s", parsed.Repr())
	}
	if !Equal(NewList(d.Keys()...), NewList(Str("zeta"), Str("alpha"), Str("mid"))) {
		t.Errorf("keys = %s", NewList(d.Keys()...).Repr())
	}
	out := callGlobal(t, v, "json.dumps", parsed)
	if out.AsStr() != doc {
		t.Errorf("dumps = %s\nwant    %s", out.AsStr(), doc)
	}
}

func TestJSONInvalid(t *testing.T) {
	v, _ := newTestVM()
	v.Load([]Instruction{opName(OpLoadName, "json"), opName(OpLoadAttr, "loads"), opConst(OpLoadConst, Str("{bad")), opArg(OpCallFunction, 1), op(OpReturnValue)})
	if _, err := v.Run(); err == nil || !strings.Contains(err.Error(), "ValueError") {
		t.Errorf("error = %v, want ValueError", err)
	}
}

func TestTimeModule(t *testing.T) {
	v, _ := newTestVM()
	tm := callGlobal(t, v, "time.gmtime", Int(0))
	if !Equal(tm, NewTuple(Int(1970), Int(1), Int(1), Int(0), Int(0), Int(0), Int(3), Int(1), Int(0))) {
		t.Errorf("gmtime(0) = %s", tm.Repr())
	}
	got := callGlobal(t, v, "time.strftime", Str("%Y-%m-%d"), tm)
	if got.AsStr() != "1970-01-01" {
		t.Errorf("strftime = %q", got.AsStr())
	}
}

func TestSysModule(t *testing.T) {
	v, _ := newTestVM(WithArgv([]string{"prog.py", "x"}))
	sys := v.modules["sys"].AsDict()
	if argv, _ := sys.GetStr("argv"); !Equal(argv, NewList(Str("prog.py"), Str("x"))) {
		t.Errorf("argv = %s", argv.Repr())
	}
	mods, _ := sys.GetStr("modules")
	if ok, _ := Contains(mods, Str("os.path")); !ok {
		t.Errorf("sys.modules = %s", NewList(mods.AsDict().Keys()...).Repr())
	}
}

// ---------------------------------------------------------------------------
// Spawn
// ---------------------------------------------------------------------------

type fakeSpawner struct {
	fn   Value
	args []Value
}

func (f *fakeSpawner) Spawn(fn Value, args []Value) (string, error) {
	f.fn, f.args = fn, args
	return "task 1 spawned", nil
}

func TestSpawnBuiltin(t *testing.T) {
	sp := &fakeSpawner{}
	v, _ := newTestVM(WithSpawner(sp))
	fn := FunctionValue(addFunction())
	got := callGlobal(t, v, "spawn", fn, Int(1), Int(2))
	if got.AsStr() != "task 1 spawned" {
		t.Errorf("spawn = %s", got.Repr())
	}
	if !Equal(sp.fn, fn) || len(sp.args) != 2 {
		t.Errorf("spawner got fn %s args %d", sp.fn.Repr(), len(sp.args))
	}

	bare, _ := newTestVM()
	if got := callGlobal(t, bare, "spawn", fn); !got.IsNone() {
		t.Errorf("spawn without a scheduler = %s, want None", got.Repr())
	}
}

func TestJSONCircularReference(t *testing.T) {
	l := NewList(Int(1))
	l.AsList().Append(l)
	if _, err := EncodeJSON(l, ""); !errors.Is(err, ErrCircular) {
		t.Errorf("EncodeJSON = %v, want ErrCircular", err)
	}

	// The same value twice is not a cycle.
	shared := NewList(Int(1))
	out, err := EncodeJSON(NewList(shared, shared), "")
	if err != nil || string(out) != "[[1], [1]]" {
		t.Errorf("EncodeJSON = %s, %v", out, err)
	}

	v, _ := newTestVM()
	v.Load([]Instruction{opName(OpLoadName, "json"), opName(OpLoadAttr, "dumps"), opConst(OpLoadConst, l), opArg(OpCallFunction, 1), op(OpReturnValue)})
	if _, err := v.Run(); err == nil || !strings.Contains(err.Error(), "ValueError") {
		t.Errorf("error = %v, want ValueError", err)
	}
}

func TestURandomLimits(t *testing.T) {
	v, _ := newTestVM()
	if got := callGlobal(t, v, "os.urandom", Int(16)); got.Len() != 16 {
		t.Errorf("urandom(16) = %d bytes", got.Len())
	}
	for _, n := range []int64{-1, 1_000_000_000_000} {
		v.Load([]Instruction{opName(OpLoadName, "os"), opName(OpLoadAttr, "urandom"), loadInt(n), opArg(OpCallFunction, 1), op(OpReturnValue)})
		if _, err := v.Run(); err == nil {
			t.Errorf("urandom(%d) succeeded", n)
		}
	}
}
