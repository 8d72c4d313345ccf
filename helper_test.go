// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package streamgw_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/streamgw"
)

// fastRetry keeps parked retries short so tests finish quickly.
var fastRetry = streamgw.RetryPolicy{
	Initial:    50 * time.Microsecond,
	Max:        time.Millisecond,
	Multiplier: 2,
}

// newQueue returns a two-worker queue closed at test cleanup.
func newQueue(tb testing.TB, opts ...streamgw.Option) *streamgw.Queue {
	tb.Helper()
	opts = append([]streamgw.Option{streamgw.WithWorkers(2), streamgw.WithRetry(fastRetry)}, opts...)
	q := streamgw.NewQueue(opts...)
	tb.Cleanup(q.Close)
	return q
}

// flaky returns a call that reports iox.ErrWouldBlock n times before
// returning v, and a counter of how often it was invoked.
func flaky[T any](n int, v T) (func() (T, error), *atomic.Int32) {
	var calls atomic.Int32
	return func() (T, error) {
		if int(calls.Add(1)) <= n {
			var zero T
			return zero, iox.ErrWouldBlock
		}
		return v, nil
	}, &calls
}

// gate returns a call that reports iox.ErrWouldBlock until ch is closed.
func gate(ch <-chan struct{}) func() (int, error) {
	return func() (int, error) {
		select {
		case <-ch:
			return 1, nil
		default:
			return 0, iox.ErrWouldBlock
		}
	}
}

// wait blocks on task with a test-sized deadline.
func wait[R any](tb testing.TB, task *streamgw.Task[R]) (R, error) {
	tb.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v, err := task.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		tb.Fatalf("task %d stuck in state %v", task.Serial(), task.State())
	}
	return v, err
}
