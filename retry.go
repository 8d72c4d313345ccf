// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package streamgw

import (
	"context"
	"time"

	"code.hybscloud.com/iox"
)

// RetryPolicy is the delay schedule between would-block attempts.
// The n-th retry waits Initial*Multiplier^(n-1), capped at Max.
type RetryPolicy struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultRetry starts at 100µs and doubles up to 10ms.
var DefaultRetry = RetryPolicy{
	Initial:    100 * time.Microsecond,
	Max:        10 * time.Millisecond,
	Multiplier: 2,
}

// Delay returns the wait before the given retry. attempt starts at 1.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.Initial
	if d <= 0 {
		return 0
	}
	m := p.Multiplier
	if m < 1 {
		m = 1
	}
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * m)
		if p.Max > 0 && d >= p.Max {
			return p.Max
		}
	}
	if p.Max > 0 && d > p.Max {
		return p.Max
	}
	return d
}

// Retry calls fn on the calling goroutine until it returns something
// other than iox.ErrWouldBlock, waiting per p between attempts.
// A zero policy spins with iox.Backoff instead. Retry returns ctx.Err()
// if ctx ends first.
func Retry[T any](ctx context.Context, p RetryPolicy, fn func() (T, error)) (T, error) {
	var bo iox.Backoff
	for attempt := 1; ; attempt++ {
		v, err := fn()
		if err == nil || !iox.IsWouldBlock(err) {
			return v, err
		}
		if err := ctx.Err(); err != nil {
			var zero T
			return zero, err
		}
		if d := p.Delay(attempt); d > 0 {
			t := time.NewTimer(d)
			select {
			case <-ctx.Done():
				t.Stop()
				var zero T
				return zero, ctx.Err()
			case <-t.C:
			}
			continue
		}
		bo.Wait()
	}
}
