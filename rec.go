// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package streamgw

import (
	"code.hybscloud.com/kont"
)

// Loop runs a recursive protocol (Cont-world).
// step returns Left(nextState) to continue or Right(result) to finish.
//
// Each iteration should perform at least one effect; a long run of
// pure iterations nests continuations on the stack.
func Loop[S, A any](initial S, step func(S) kont.Eff[kont.Either[S, A]]) kont.Eff[A] {
	return kont.Bind(step(initial), func(e kont.Either[S, A]) kont.Eff[A] {
		if left, ok := e.GetLeft(); ok {
			return Loop(left, step)
		}
		right, _ := e.GetRight()
		return kont.Pure(right)
	})
}

// Continue is the Left result of a [Loop] step.
func Continue[S, A any](s S) kont.Eff[kont.Either[S, A]] {
	return kont.Pure(kont.Left[S, A](s))
}

// Break is the Right result of a [Loop] step.
func Break[S, A any](a A) kont.Eff[kont.Either[S, A]] {
	return kont.Pure(kont.Right[S, A](a))
}
