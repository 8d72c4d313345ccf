// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package streamgw

import (
	"code.hybscloud.com/iox"
	"code.hybscloud.com/kont"
)

// execHandler implements kont.Handler for engine operations on the
// calling goroutine. Waits past iox.ErrWouldBlock with adaptive backoff
// and short-circuits on the first other error.
// Value type: passed to evalFrames on the stack, avoiding heap allocation.
type execHandler[R any] struct{}

// Dispatch implements kont.Handler via structural interface assertion.
func (execHandler[R]) Dispatch(op kont.Operation) (kont.Resumed, bool) {
	d, ok := op.(dispatcher)
	if !ok {
		panic("streamgw: unhandled effect in Exec")
	}
	v, err := dispatchWait(d)
	if err != nil {
		return kont.Left[error, R](err), false
	}
	return v, true
}

// dispatchWait attempts d until it stops reporting iox.ErrWouldBlock,
// backing off with iox.Backoff in between.
func dispatchWait(d dispatcher) (kont.Resumed, error) {
	var bo iox.Backoff
	for {
		v, err := d.attempt()
		if err == nil || !iox.IsWouldBlock(err) {
			return v, err
		}
		bo.Wait()
	}
}

// Exec runs a Cont-world protocol to completion on the calling
// goroutine, without a [Queue]. Blocking operations are attempted
// inline and retried with adaptive backoff. The first operation error
// ends the protocol and is returned.
func Exec[R any](protocol kont.Eff[R]) (R, error) {
	wrapped := kont.Map[kont.Resumed, R, kont.Either[error, R]](protocol, func(r R) kont.Either[error, R] {
		return kont.Right[error, R](r)
	})
	return unwrap(kont.Handle(wrapped, execHandler[R]{}))
}

// ExecExpr runs an Expr-world protocol like [Exec].
func ExecExpr[R any](protocol kont.Expr[R]) (R, error) {
	wrapped := kont.ExprMap(protocol, func(r R) kont.Either[error, R] {
		return kont.Right[error, R](r)
	})
	return unwrap(kont.HandleExpr(wrapped, execHandler[R]{}))
}

func unwrap[R any](e kont.Either[error, R]) (R, error) {
	if err, ok := e.GetLeft(); ok {
		var zero R
		return zero, err
	}
	r, _ := e.GetRight()
	return r, nil
}
