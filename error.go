// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package streamgw

import "errors"

var (
	// ErrTaskStarted is returned by [Task.Run] on a task that has
	// already left the Pending state.
	ErrTaskStarted = errors.New("streamgw: task already started")

	// ErrTaskPending is returned by [Task.Result] before the task
	// reaches Completed or Failed.
	ErrTaskPending = errors.New("streamgw: task not settled")

	// ErrQueueClosed is returned when work is submitted to a closed
	// [Queue]. Operations parked at close time fail with it.
	ErrQueueClosed = errors.New("streamgw: queue closed")

	// ErrOpTimeout fails a parked operation that kept reporting
	// would-block for longer than the queue's operation timeout.
	ErrOpTimeout = errors.New("streamgw: operation timed out")

	// ErrPanic wraps a value recovered from a panicking protocol or call.
	ErrPanic = errors.New("streamgw: panic")
)
