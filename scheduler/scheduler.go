// Package scheduler runs many VMs, either natively on their own OS threads
// or cooperatively on one goroutine in fixed instruction slices.
package scheduler

import (
	"context"
	"fmt"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/tliron/commonlog"

	"github.com/chazu/bytevm/vm"
)

// DefaultBudget is the number of instructions a VM may execute per slice
// in Scheduled mode.
const DefaultBudget = 5

// DefaultYield is the pause between scheduling rounds.
const DefaultYield = 50 * time.Microsecond

// ---------------------------------------------------------------------------
// Modes
// ---------------------------------------------------------------------------

// Mode selects how tasks are executed.
type Mode int

const (
	// Native runs each task to completion on its own goroutine, locked to
	// an OS thread.
	Native Mode = iota
	// Scheduled interleaves all tasks on the goroutine calling Run.
	Scheduled
)

func (m Mode) String() string {
	switch m {
	case Native:
		return "native"
	case Scheduled:
		return "scheduled"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode parses "native" or "scheduled".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "native", "thread", "threads":
		return Native, nil
	case "scheduled", "sched", "green":
		return Scheduled, nil
	}
	return Native, fmt.Errorf("unknown scheduler mode %q (want native or scheduled)", s)
}

// ---------------------------------------------------------------------------
// Scheduler
// ---------------------------------------------------------------------------

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMode selects native or scheduled execution.
func WithMode(m Mode) Option {
	return func(s *Scheduler) { s.mode = m }
}

// WithBudget sets the per-slice instruction budget. Values below 1 are
// ignored.
func WithBudget(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.budget = n
		}
	}
}

// WithYield sets the pause between scheduling rounds. Zero disables it.
func WithYield(d time.Duration) Option {
	return func(s *Scheduler) { s.yield = d }
}

// WithVMOptions sets options applied to every VM the scheduler creates.
func WithVMOptions(opts ...vm.Option) Option {
	return func(s *Scheduler) { s.vmOpts = append(s.vmOpts, opts...) }
}

// WithLogger sets the scheduler's logger.
func WithLogger(l commonlog.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// WithSliceHook registers a function called after every slice with the
// number of instructions the task executed.
func WithSliceHook(hook func(t *Task, executed int)) Option {
	return func(s *Scheduler) { s.hook = hook }
}

// Scheduler owns a set of tasks and implements vm.Spawner for the VMs it
// creates.
type Scheduler struct {
	mode   Mode
	budget int
	yield  time.Duration
	vmOpts []vm.Option
	log    commonlog.Logger
	hook   func(*Task, int)

	mu   sync.Mutex // guards pool
	pool []*Task

	wg sync.WaitGroup // detached native tasks
}

// New creates a scheduler. The default is Native mode with a budget of
// DefaultBudget.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		mode:   Native,
		budget: DefaultBudget,
		yield:  DefaultYield,
		log:    commonlog.GetLogger("bytevm.scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Mode returns the execution mode.
func (s *Scheduler) Mode() Mode { return s.mode }

// Budget returns the per-slice instruction budget.
func (s *Scheduler) Budget() int { return s.budget }

// NewVM creates a VM with the scheduler's VM options whose spawn builtin
// submits tasks to this scheduler.
func (s *Scheduler) NewVM() *vm.VM {
	opts := append(slices.Clone(s.vmOpts), vm.WithSpawner(s))
	return vm.New(opts...)
}

// Submit loads code into a fresh VM and starts it: immediately on its own
// thread in Native mode, or on the next Run round in Scheduled mode.
func (s *Scheduler) Submit(code []vm.Instruction) *Task {
	return s.submit(&vm.Function{Name: "<module>", Code: code})
}

func (s *Scheduler) submit(fn *vm.Function) *Task {
	t := newTask(s.NewVM())
	t.vm.LoadFunction(fn)
	if s.mode == Native {
		s.start(t)
	} else {
		s.Add(t)
	}
	return t
}

// Spawn starts fn(args...) in a brand new VM. Arguments are deep-copied so
// the task shares no mutable state with its parent.
func (s *Scheduler) Spawn(fn vm.Value, args []vm.Value) (string, error) {
	if !fn.IsCallable() {
		return "", fmt.Errorf("spawn: %s object is not callable", fn.TypeName())
	}
	cloned := make([]vm.Value, len(args))
	for i, a := range args {
		cloned[i] = vm.Clone(a)
	}
	t := s.submit(&vm.Function{Name: "<task>", Code: vm.Bootstrap(fn, cloned)})
	s.log.Debugf("task %s spawned (%s)", t.ID, s.mode)
	return fmt.Sprintf("task %s spawned", t.ID), nil
}

// start runs t detached on a goroutine locked to its own OS thread.
func (s *Scheduler) start(t *Task) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		result, err := t.vm.Run()
		s.report(t, err)
		t.finish(result, err)
	}()
}

// Wait blocks until every task started in Native mode has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Add places t in the pool for the next Run round.
func (s *Scheduler) Add(t *Task) {
	s.mu.Lock()
	s.pool = append(s.pool, t)
	s.mu.Unlock()
}

// Len returns the number of tasks waiting in the pool.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pool)
}

// Run steps every pooled task by at most Budget instructions per round
// until the pool is empty or ctx is cancelled. A task that halts with an
// error is logged and dropped; its error is available from the Task.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.mu.Lock()
		live := slices.Clone(s.pool)
		s.mu.Unlock()
		if len(live) == 0 {
			return nil
		}

		for _, t := range live {
			if t.Finished() {
				continue
			}
			n, err := t.vm.Step(s.budget)
			t.slices++
			s.log.Debugf("task %s ran %d instructions", t.ID, n)
			if s.hook != nil {
				s.hook(t, n)
			}
			if err != nil || t.vm.Done() {
				s.report(t, err)
				t.finish(t.vm.Result(), err)
			}
		}

		s.mu.Lock()
		s.pool = slices.DeleteFunc(s.pool, (*Task).Finished)
		s.mu.Unlock()

		runtime.Gosched()
		if s.yield > 0 {
			time.Sleep(s.yield)
		}
	}
}

func (s *Scheduler) report(t *Task, err error) {
	if err == nil {
		return
	}
	if code, ok := vm.ExitCode(err); ok {
		s.log.Debugf("task %s exited with status %d", t.ID, code)
		return
	}
	s.log.Errorf("task %s failed: %s", t.ID, err)
}
