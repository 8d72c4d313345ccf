// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package streamgw provides the cooperative task engine of the streaming
// gateway: resumable tasks built from algebraic effects on
// [code.hybscloud.com/kont], whose blocking calls are parked on a worker pool
// and resumed when they complete.
//
// # Architecture
//
//   - Operations: [Await] wraps one call that may return [code.hybscloud.com/iox.ErrWouldBlock]. [Join] and [Settle] wait on a child [Task].
//   - Tasks: [Task] steps its protocol one effect at a time. A ready operation resumes inline; a would-block operation parks and the task becomes [Suspended].
//   - Workers: [Queue] feeds parked calls to a fixed pool through bounded lock-free SPSC rings from [code.hybscloud.com/lfq]. Would-block is retried under a [RetryPolicy] without pinning a worker.
//   - Reclamation: [Table] keeps in-flight tasks reachable and sweeps the finished ones.
//
// # API Topologies
//
//   - Cont-world: [AwaitBind], [AwaitThen], [BlockingBind], [BlockingThen], [JoinBind], [SettleBind], [Fail], [Delay].
//   - Recursive: [Loop] for iterative protocols over [code.hybscloud.com/kont.Either].
//   - Starting: [NewTask] + [Task.Run], [Go] (calling goroutine) or [Spawn] (queue worker).
//
// # Integration
//
//   - Stepping: [Step] and [Advance] evaluate a protocol one effect at a time for an external driver.
//   - Blocking: [Exec] waits past would-block with adaptive backoff and returns the first error.
//
// # Example
//
//	q := streamgw.NewQueue()
//	defer q.Close()
//	recv := func() ([]byte, error) { return ch.Receive(4096) }
//	task := streamgw.Go(q, streamgw.AwaitBind(recv, func(p []byte) kont.Eff[int] {
//		return kont.Pure(len(p))
//	}))
//	n, err := task.Wait(ctx)
package streamgw
