// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package streamgw

import (
	"code.hybscloud.com/iox"
	"code.hybscloud.com/kont"
)

// Step evaluates a protocol until the first effect suspension.
// Returns (result, nil) on completion, or (zero, suspension) if pending.
func Step[R any](protocol kont.Expr[R]) (R, *kont.Suspension[R]) {
	return kont.StepExpr(protocol)
}

// Advance attempts the suspended operation once on the calling
// goroutine.
//
// On success the suspension is consumed and the protocol advances to
// the next effect or completion. On iox.ErrWouldBlock the suspension is
// returned unconsumed and may be retried. Any other error discards the
// suspension and is returned with a nil suspension.
func Advance[R any](susp *kont.Suspension[R]) (R, *kont.Suspension[R], error) {
	d, ok := susp.Op().(dispatcher)
	if !ok {
		panic("streamgw: unhandled effect in Advance")
	}
	var zero R
	v, err := d.attempt()
	if err != nil {
		if iox.IsWouldBlock(err) {
			return zero, susp, err
		}
		susp.Discard()
		return zero, nil, err
	}
	result, next := susp.Resume(v)
	return result, next, nil
}
