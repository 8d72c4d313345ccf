// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package streamgw

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/kont"
)

// State is the lifecycle state of a [Task].
type State uint32

const (
	// Pending tasks have not been run.
	Pending State = iota
	// Running tasks are evaluating their protocol on some goroutine.
	Running
	// Suspended tasks wait on one parked operation or child task.
	Suspended
	// Completed tasks finished with a value. Terminal.
	Completed
	// Failed tasks finished with an error. Terminal.
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Suspended:
		return "suspended"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", uint32(s))
}

// Terminal reports whether s is Completed or Failed.
func (s State) Terminal() bool {
	return s == Completed || s == Failed
}

// Serial is a monotonically increasing task identifier.
type Serial = uint32

// counter is the global monotonic counter for task serials.
var counter atomix.Uint32

func nextSerial() Serial {
	return counter.Add(1)
}

// Task is a resumable unit of sequential logic: a kont protocol stepped
// one effect at a time. Ready operations resume inline; operations that
// would block are parked on the task's [Queue] and the task resumes on
// whichever goroutine completes them.
//
// Transitions are Pending → Running → (Suspended → Running)* →
// Completed | Failed. A suspension is resumed at most once, and
// resuming a terminal task is a no-op.
type Task[R any] struct {
	serial   Serial
	q        *Queue
	start    func() kont.Expr[R]
	state    atomic.Uint32
	resumes  atomix.Uint32

	// susp is owned by whichever goroutine holds the Running state.
	susp *kont.Suspension[R]

	mu    sync.Mutex
	value R
	err   error
	done  chan struct{}
	hooks []func()
}

// NewTask creates a Pending task for a Cont-world protocol. Nothing
// of the protocol runs until [Task.Run]. Parked operations are
// scheduled on q.
func NewTask[R any](q *Queue, protocol kont.Eff[R]) *Task[R] {
	return newTask(q, func() kont.Expr[R] { return kont.Reify(protocol) })
}

// NewTaskExpr creates a Pending task for an Expr-world protocol.
func NewTaskExpr[R any](q *Queue, protocol kont.Expr[R]) *Task[R] {
	return newTask(q, func() kont.Expr[R] { return protocol })
}

func newTask[R any](q *Queue, start func() kont.Expr[R]) *Task[R] {
	return &Task[R]{
		serial: nextSerial(),
		q:      q,
		start:  start,
		done:   make(chan struct{}),
	}
}

// Go creates a task and runs it on the calling goroutine until it
// first suspends or finishes.
func Go[R any](q *Queue, protocol kont.Eff[R]) *Task[R] {
	t := NewTask(q, protocol)
	_ = t.Run()
	return t
}

// Spawn creates a task and runs it on a worker of q.
func Spawn[R any](q *Queue, protocol kont.Eff[R]) (*Task[R], error) {
	t := NewTask(q, protocol)
	if err := q.Submit(func() { _ = t.Run() }); err != nil {
		return nil, err
	}
	return t, nil
}

// Serial returns the task's identifier.
func (t *Task[R]) Serial() Serial {
	return t.serial
}

// State returns the current lifecycle state.
func (t *Task[R]) State() State {
	return State(t.state.Load())
}

// Resumes returns how many times the task has been resumed from a
// suspension.
func (t *Task[R]) Resumes() uint32 {
	return t.resumes.Load()
}

// Done returns a channel closed when the task becomes terminal.
func (t *Task[R]) Done() <-chan struct{} {
	return t.done
}

// Result returns the final value or error. Before the task is terminal
// it returns [ErrTaskPending].
func (t *Task[R]) Result() (R, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.State().Terminal() {
		var zero R
		return zero, ErrTaskPending
	}
	return t.value, t.err
}

// Wait blocks until the task is terminal or ctx ends.
func (t *Task[R]) Wait(ctx context.Context) (R, error) {
	select {
	case <-t.done:
		return t.Result()
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

// OnSettle registers fn to run once when the task becomes terminal, on
// the goroutine that finishes it and before Done is closed. If the task
// is already terminal, fn runs immediately.
func (t *Task[R]) OnSettle(fn func()) {
	t.mu.Lock()
	if t.State().Terminal() {
		t.mu.Unlock()
		fn()
		return
	}
	t.hooks = append(t.hooks, fn)
	t.mu.Unlock()
}

// Run evaluates the protocol on the calling goroutine until it first
// suspends or finishes. Run returns [ErrTaskStarted] unless the task is
// Pending.
func (t *Task[R]) Run() error {
	if !t.state.CompareAndSwap(uint32(Pending), uint32(Running)) {
		return ErrTaskStarted
	}
	start := t.start
	t.start = nil
	t.advance(func() (R, *kont.Suspension[R]) {
		return kont.StepExpr(start())
	})
	return nil
}

// resume continues the task after c was published. The state
// CompareAndSwap makes the resume exactly-once.
func (t *Task[R]) resume(c *completion) {
	if !t.state.CompareAndSwap(uint32(Suspended), uint32(Running)) {
		return
	}
	t.resumes.Add(1)
	o := c.slot.Load()
	susp := t.susp
	t.susp = nil
	if o.err != nil {
		susp.Discard()
		var zero R
		t.settle(zero, o.err)
		return
	}
	t.advance(func() (R, *kont.Suspension[R]) {
		return susp.Resume(o.v)
	})
}

// advance runs one evaluation slice and then drives the task until it
// parks or finishes. A panic anywhere in the slice fails the task.
func (t *Task[R]) advance(step func() (R, *kont.Suspension[R])) {
	defer func() {
		if r := recover(); r != nil {
			if t.State() == Running {
				var zero R
				t.settle(zero, fmt.Errorf("%w: %v", ErrPanic, r))
			}
		}
	}()
	result, susp := step()
	for susp != nil {
		d, ok := susp.Op().(dispatcher)
		if !ok {
			susp.Discard()
			panic("streamgw: unhandled effect in Task")
		}
		v, err := d.poll()
		if err == nil {
			result, susp = susp.Resume(v)
			continue
		}
		if !iox.IsWouldBlock(err) {
			susp.Discard()
			var zero R
			t.settle(zero, err)
			return
		}
		c := &completion{}
		c.wake = func() { t.resume(c) }
		t.susp = susp
		t.state.Store(uint32(Suspended))
		// c may be published and the task resumed on another goroutine
		// before park returns; t must not be touched after this call.
		d.park(t.q, c)
		return
	}
	t.settle(result, nil)
}

func (t *Task[R]) settle(v R, err error) {
	t.mu.Lock()
	t.value, t.err = v, err
	if err != nil {
		t.state.Store(uint32(Failed))
	} else {
		t.state.Store(uint32(Completed))
	}
	hooks := t.hooks
	t.hooks = nil
	t.mu.Unlock()
	defer close(t.done)
	for _, fn := range hooks {
		fn()
	}
}
