// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package streamgw

import (
	"code.hybscloud.com/kont"
)

// AwaitBind awaits call and passes its value to f.
// Fuses Perform(Await[T]{Call: call}) + Bind.
func AwaitBind[T, B any](call func() (T, error), f func(T) kont.Eff[B]) kont.Eff[B] {
	return kont.Bind(kont.Perform(Await[T]{Call: call}), f)
}

// AwaitThen awaits call, discards its value, and continues with next.
// Fuses Perform(Await[T]{Call: call}) + Then.
func AwaitThen[T, B any](call func() (T, error), next kont.Eff[B]) kont.Eff[B] {
	return kont.Then(kont.Perform(Await[T]{Call: call}), next)
}

// BlockingBind parks call on the queue without an inline poll and
// passes its value to f.
func BlockingBind[T, B any](call func() (T, error), f func(T) kont.Eff[B]) kont.Eff[B] {
	return kont.Bind(kont.Perform(Await[T]{Call: call, Blocking: true}), f)
}

// BlockingThen parks call on the queue without an inline poll and
// continues with next.
func BlockingThen[T, B any](call func() (T, error), next kont.Eff[B]) kont.Eff[B] {
	return kont.Then(kont.Perform(Await[T]{Call: call, Blocking: true}), next)
}

// JoinBind awaits child and passes its value to f.
// The child's error fails the awaiting task.
func JoinBind[T, B any](child *Task[T], f func(T) kont.Eff[B]) kont.Eff[B] {
	return kont.Bind(kont.Perform(Join[T]{Child: child}), f)
}

// SettleBind awaits child and passes its [Outcome] to f.
func SettleBind[T, B any](child *Task[T], f func(Outcome[T]) kont.Eff[B]) kont.Eff[B] {
	return kont.Bind(kont.Perform(Settle[T]{Child: child}), f)
}

// Fail fails the running task with err.
func Fail[A any](err error) kont.Eff[A] {
	return kont.Perform(Await[A]{Call: func() (A, error) {
		var zero A
		return zero, err
	}})
}

// Delay defers building a protocol until it is reached, so side
// effects in f happen in program order rather than at construction.
func Delay[A any](f func() kont.Eff[A]) kont.Eff[A] {
	return kont.Bind(kont.Pure(struct{}{}), func(struct{}) kont.Eff[A] {
		return f()
	})
}
