package scheduler

import (
	"sync"

	"github.com/google/uuid"

	"github.com/chazu/bytevm/vm"
)

// Task is one VM managed by a Scheduler.
type Task struct {
	ID string

	vm     *vm.VM
	slices int

	once   sync.Once
	done   chan struct{}
	mu     sync.Mutex
	result vm.Value
	err    error
}

func newTask(machine *vm.VM) *Task {
	return &Task{
		ID:   uuid.NewString(),
		vm:   machine,
		done: make(chan struct{}),
	}
}

// VM returns the task's virtual machine. In Native mode it must not be
// inspected until Done is closed.
func (t *Task) VM() *vm.VM { return t.vm }

// Slices returns how many scheduling slices the task has received.
func (t *Task) Slices() int { return t.slices }

// Done is closed when the task finishes.
func (t *Task) Done() <-chan struct{} { return t.done }

// Finished reports whether the task has finished.
func (t *Task) Finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Result returns the value and error the task finished with.
func (t *Task) Result() (vm.Value, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result, t.err
}

func (t *Task) finish(result vm.Value, err error) {
	t.once.Do(func() {
		t.mu.Lock()
		t.result = result
		t.err = err
		t.mu.Unlock()
		close(t.done)
	})
}
