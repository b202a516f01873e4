package vm

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/tliron/commonlog"

	"github.com/chazu/bytevm/policy"
)

// ---------------------------------------------------------------------------
// VM: the bytevm virtual machine
// ---------------------------------------------------------------------------

// DefaultMaxDepth bounds the frame stack.
const DefaultMaxDepth = 1000

// ctxCheckInterval is how many instructions RunContext executes between
// context checks.
const ctxCheckInterval = 256

// Spawner starts fn(args...) as a new task and returns an acknowledgement.
type Spawner interface {
	Spawn(fn Value, args []Value) (string, error)
}

// Frame is the activation of one function body. Code is shared with the
// Function and never copied.
type Frame struct {
	Fn     *Function
	PC     int
	Locals map[string]Value

	code []Instruction
	base int
}

// VM executes bytecode against a frame stack and one shared operand stack.
// A VM is single-threaded; callers that share one across goroutines must
// serialize access.
type VM struct {
	globals map[string]Value
	modules map[string]Value
	frames  []*Frame
	stack   []Value

	policy   *policy.Kit
	stdout   io.Writer
	argv     []string
	spawner  Spawner
	maxDepth int
	log      commonlog.Logger

	result   Value
	err      error
	pending  error
	executed uint64
}

// Option configures a VM.
type Option func(*VM)

// WithPolicy installs the capability kit consulted by privileged builtins.
func WithPolicy(kit *policy.Kit) Option {
	return func(v *VM) { v.policy = kit }
}

// WithStdout redirects print output.
func WithStdout(w io.Writer) Option {
	return func(v *VM) { v.stdout = w }
}

// WithArgv sets sys.argv.
func WithArgv(argv []string) Option {
	return func(v *VM) { v.argv = append([]string(nil), argv...) }
}

// WithSpawner wires the spawn builtin.
func WithSpawner(s Spawner) Option {
	return func(v *VM) { v.spawner = s }
}

// WithMaxDepth bounds the frame stack; deeper calls raise RecursionError.
func WithMaxDepth(n int) Option {
	return func(v *VM) {
		if n > 0 {
			v.maxDepth = n
		}
	}
}

// WithLogger replaces the default "bytevm.vm" logger.
func WithLogger(l commonlog.Logger) Option {
	return func(v *VM) { v.log = l }
}

// New returns a VM with the builtins and standard modules bound into its
// globals.
func New(opts ...Option) *VM {
	v := &VM{
		globals:  make(map[string]Value),
		modules:  make(map[string]Value),
		stack:    make([]Value, 0, 64),
		stdout:   os.Stdout,
		maxDepth: DefaultMaxDepth,
		log:      commonlog.GetLogger("bytevm.vm"),
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.policy == nil {
		v.policy = policy.New()
	}
	v.bindBuiltins()
	v.bindModules()
	return v
}

// Policy returns the VM's capability kit.
func (v *VM) Policy() *policy.Kit { return v.policy }

// Stdout returns the writer used by print.
func (v *VM) Stdout() io.Writer { return v.stdout }

// ---------------------------------------------------------------------------
// Loading and state
// ---------------------------------------------------------------------------

// Load installs code as a fresh module frame. Globals survive, so a REPL
// can load successive units into the same VM. Any previous halt is cleared.
func (v *VM) Load(code []Instruction) {
	v.LoadFunction(&Function{Name: "<module>", Code: code})
}

// LoadFunction installs fn's body as the module frame.
func (v *VM) LoadFunction(fn *Function) {
	clear(v.stack)
	v.stack = v.stack[:0]
	clear(v.frames)
	v.frames = v.frames[:0]
	v.err = nil
	v.pending = nil
	v.result = None
	v.frames = append(v.frames, &Frame{Fn: fn, code: fn.Code})
}

// Done reports whether the frame stack is empty.
func (v *VM) Done() bool { return len(v.frames) == 0 }

// Halted reports whether execution stopped on an error.
func (v *VM) Halted() bool { return v.err != nil }

// Err returns the error that halted the VM, if any.
func (v *VM) Err() error { return v.err }

// Result returns the value returned by the module frame.
func (v *VM) Result() Value { return v.result }

// Executed returns the number of instructions executed since New.
func (v *VM) Executed() uint64 { return v.executed }

// Depth returns the number of live frames.
func (v *VM) Depth() int { return len(v.frames) }

// StackLen returns the operand stack height.
func (v *VM) StackLen() int { return len(v.stack) }

// Global returns a global binding.
func (v *VM) Global(name string) (Value, bool) {
	val, ok := v.globals[name]
	return val, ok
}

// SetGlobal binds name in the global scope.
func (v *VM) SetGlobal(name string, val Value) { v.globals[name] = val }

// Globals returns the global names in sorted order.
func (v *VM) Globals() []string {
	names := make([]string, 0, len(v.globals))
	for name := range v.globals {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Module returns a registered module by dotted name.
func (v *VM) Module(name string) (Value, bool) {
	m, ok := v.modules[name]
	return m, ok
}

// RegisterModule makes a module importable by name.
func (v *VM) RegisterModule(name string, m Value) { v.modules[name] = m }

// ---------------------------------------------------------------------------
// Execution
// ---------------------------------------------------------------------------

// Run executes until the frame stack empties or the VM halts.
func (v *VM) Run() (Value, error) {
	return v.RunContext(context.Background())
}

// RunContext is Run with cancellation. The context is polled every few
// hundred instructions; a cancelled VM halts with the context's error.
func (v *VM) RunContext(ctx context.Context) (Value, error) {
	if v.err != nil {
		return None, v.haltedErr()
	}
	for n := 0; len(v.frames) > 0; n++ {
		if n%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				v.err = err
				return None, err
			}
		}
		if err := v.step(); err != nil {
			return None, err
		}
	}
	return v.result, nil
}

// Step executes at most n instructions and returns how many ran.
func (v *VM) Step(n int) (int, error) {
	if v.err != nil {
		return 0, v.haltedErr()
	}
	ran := 0
	for ran < n && len(v.frames) > 0 {
		if err := v.step(); err != nil {
			return ran, err
		}
		ran++
	}
	return ran, nil
}

func (v *VM) haltedErr() error {
	return fmt.Errorf("%w: %w", ErrHalted, v.err)
}

// step runs one dispatch cycle: pop a finished frame, or fetch and execute
// the next instruction of the top frame.
func (v *VM) step() error {
	fr := v.frames[len(v.frames)-1]
	if fr.PC >= len(fr.code) {
		v.popFrame()
		if len(v.frames) > 0 {
			v.push(None)
		}
		return nil
	}
	pc := fr.PC
	in := fr.code[pc]
	fr.PC++
	v.executed++

	err := v.execute(fr, in)
	if err == nil && v.pending != nil {
		err, v.pending = v.pending, nil
	}
	if err == nil {
		return nil
	}
	switch e := err.(type) {
	case *Fault:
		rt := &RuntimeError{Fault: e, Traceback: v.traceback()}
		v.log.Debugf("%s", rt.Format())
		err = rt
	case *FatalError:
		e.PC = pc
		v.log.Errorf("%s", e)
	case *ExitError:
		v.log.Debugf("exit %d", e.Code)
	}
	v.err = err
	return err
}

func (v *VM) traceback() []TraceEntry {
	tb := make([]TraceEntry, 0, len(v.frames))
	for _, fr := range v.frames {
		line := 0
		if pc := fr.PC - 1; pc >= 0 && pc < len(fr.code) {
			line = fr.code[pc].Line
		}
		tb = append(tb, TraceEntry{Func: fr.Fn.Name, Line: line, PC: fr.PC - 1})
	}
	return tb
}

// ---------------------------------------------------------------------------
// Stack and frame operations
// ---------------------------------------------------------------------------

func (v *VM) push(val Value) { v.stack = append(v.stack, val) }

func (v *VM) pop() Value {
	n := len(v.stack) - 1
	val := v.stack[n]
	v.stack[n] = None
	v.stack = v.stack[:n]
	return val
}

func (v *VM) top() Value { return v.stack[len(v.stack)-1] }

func (v *VM) popN(n int) []Value {
	out := make([]Value, n)
	base := len(v.stack) - n
	copy(out, v.stack[base:])
	clear(v.stack[base:])
	v.stack = v.stack[:base]
	return out
}

// need guards stack reads against malformed bytecode. A negative n comes
// from an overflowed count argument.
func (v *VM) need(fr *Frame, n int) *Fault {
	if n < 0 || len(v.stack)-fr.base < n {
		return faultf(TypeError, "stack underflow")
	}
	return nil
}

func (v *VM) pushFrame(fn *Function, args []Value) *Fault {
	if len(v.frames) >= v.maxDepth {
		return faultf(RecursionError, "maximum recursion depth exceeded")
	}
	fr := &Frame{
		Fn:     fn,
		code:   fn.Code,
		Locals: make(map[string]Value, len(fn.Params)),
		base:   len(v.stack),
	}
	for i, p := range fn.Params {
		if i >= len(args) {
			break
		}
		fr.Locals[p] = args[i]
	}
	v.frames = append(v.frames, fr)
	return nil
}

// popFrame drops the top frame's locals and truncates the operand stack to
// the frame's base.
func (v *VM) popFrame() {
	n := len(v.frames) - 1
	fr := v.frames[n]
	v.frames[n] = nil
	v.frames = v.frames[:n]
	clear(v.stack[fr.base:])
	v.stack = v.stack[:fr.base]
	fr.Locals = nil
}

// ---------------------------------------------------------------------------
// Names
// ---------------------------------------------------------------------------

func (v *VM) loadName(fr *Frame, name string) (Value, *Fault) {
	if fr.Locals != nil {
		if val, ok := fr.Locals[name]; ok {
			return val, nil
		}
	}
	if val, ok := v.globals[name]; ok {
		return val, nil
	}
	return None, faultf(NameError, "name '%s' is not defined", name)
}

// storeName writes to globals from the module frame and to locals from any
// nested frame.
func (v *VM) storeName(fr *Frame, name string, val Value) {
	if len(v.frames) <= 1 || fr.Locals == nil {
		v.globals[name] = val
		return
	}
	fr.Locals[name] = val
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

// call invokes callee. Native results are pushed immediately; interpreted
// functions get a new frame.
func (v *VM) call(callee Value, args []Value) error {
	if bm := callee.AsBoundMethod(); bm != nil {
		args = append([]Value{bm.Self}, args...)
		callee = bm.Func
	}
	fn := callee.AsFunction()
	if fn == nil {
		return faultf(TypeError, "'%s' object is not callable", callee.TypeName())
	}
	if fn.Native != nil {
		var ud any = fn.UserData
		if ud == nil {
			ud = v
		}
		v.push(fn.Native(args, ud))
		return nil
	}
	if f := v.pushFrame(fn, args); f != nil {
		return f
	}
	return nil
}

// Call runs callee(args...) to completion on this VM and returns its result.
// It is meant for hosts calling back into loaded code between runs.
func (v *VM) Call(callee Value, args ...Value) (Value, error) {
	v.LoadFunction(&Function{Name: "<call>", Code: bootstrap(callee, args)})
	return v.Run()
}

// Bootstrap returns the instruction sequence that calls fn(args...) and
// returns its result.
func Bootstrap(fn Value, args []Value) []Instruction {
	return bootstrap(fn, args)
}

func bootstrap(fn Value, args []Value) []Instruction {
	code := make([]Instruction, 0, len(args)+3)
	code = append(code, Instruction{Op: OpLoadConst, Const: fn})
	for _, a := range args {
		code = append(code, Instruction{Op: OpLoadConst, Const: a})
	}
	code = append(code,
		Instruction{Op: OpCallFunction, Arg: len(args)},
		Instruction{Op: OpReturnValue},
	)
	return code
}

// raise records a fault from inside a native builtin. The VM halts after
// the builtin returns.
func (v *VM) raise(kind, format string, args ...any) Value {
	if v.pending == nil {
		v.pending = faultf(kind, format, args...)
	}
	return None
}
