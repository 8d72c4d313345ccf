// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package streamgw

import (
	"sync/atomic"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/kont"
)

// Await is the effect operation for one blocking call.
// Perform(Await[T]{Call: f}) polls f inline. When f returns
// iox.ErrWouldBlock the call is parked on the task's [Queue] and
// retried by a worker until it succeeds or fails.
//
// Call may run on any goroutine and may be invoked several times;
// progress it makes across attempts must live in its own closure.
type Await[T any] struct {
	kont.Phantom[T]
	Call func() (T, error)

	// Blocking skips the inline poll and parks immediately.
	// Set it for calls that block by nature, such as dialing.
	Blocking bool
}

func (a Await[T]) poll() (kont.Resumed, error) {
	if a.Blocking {
		return nil, iox.ErrWouldBlock
	}
	return a.attempt()
}

func (a Await[T]) attempt() (kont.Resumed, error) {
	v, err := a.Call()
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (a Await[T]) park(q *Queue, c *completion) {
	q.park(a.attempt, c)
}

// Join is the effect operation for awaiting a child task.
// Perform(Join[T]{Child: t}) resumes with the child's value once it
// completes, or fails the awaiting task with the child's error.
type Join[T any] struct {
	kont.Phantom[T]
	Child *Task[T]
}

func (j Join[T]) poll() (kont.Resumed, error) {
	return j.attempt()
}

func (j Join[T]) attempt() (kont.Resumed, error) {
	if !j.Child.State().Terminal() {
		return nil, iox.ErrWouldBlock
	}
	v, err := j.Child.Result()
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (j Join[T]) park(_ *Queue, c *completion) {
	j.Child.OnSettle(func() {
		v, err := j.attempt()
		c.publish(v, err)
	})
}

// Outcome is the terminal result of a task as delivered by [Settle].
// Exactly one of Value and Err is meaningful.
type Outcome[T any] struct {
	Value T
	Err   error
}

// Settle is the effect operation for awaiting a child task without
// inheriting its failure. Perform(Settle[T]{Child: t}) resumes with
// the child's [Outcome] whether it completed or failed.
type Settle[T any] struct {
	kont.Phantom[Outcome[T]]
	Child *Task[T]
}

func (s Settle[T]) poll() (kont.Resumed, error) {
	return s.attempt()
}

func (s Settle[T]) attempt() (kont.Resumed, error) {
	if !s.Child.State().Terminal() {
		return nil, iox.ErrWouldBlock
	}
	v, err := s.Child.Result()
	return Outcome[T]{Value: v, Err: err}, nil
}

func (s Settle[T]) park(_ *Queue, c *completion) {
	s.Child.OnSettle(func() {
		v, err := s.attempt()
		c.publish(v, err)
	})
}

// dispatcher is the structural interface for engine operations.
// poll is the inline attempt made when a task reaches the operation;
// attempt always tries the operation; park arranges for c to be
// published once the operation completes.
type dispatcher interface {
	poll() (kont.Resumed, error)
	attempt() (kont.Resumed, error)
	park(q *Queue, c *completion)
}

// outcome is the published payload of a completion.
type outcome struct {
	v   kont.Resumed
	err error
}

// completion is the shared record between a parked operation and the
// suspended task. The result and the done transition are one atomic
// publish: the first CompareAndSwap wins and every later publish is
// dropped.
type completion struct {
	slot atomic.Pointer[outcome]
	wake func()
}

// publish stores the result once and runs wake on the publishing
// goroutine. Reports whether this call won.
func (c *completion) publish(v kont.Resumed, err error) bool {
	if !c.slot.CompareAndSwap(nil, &outcome{v: v, err: err}) {
		return false
	}
	if c.wake != nil {
		c.wake()
	}
	return true
}

// done reports whether a result has been published.
func (c *completion) done() bool {
	return c.slot.Load() != nil
}
