// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package streamgw

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/kont"
	"code.hybscloud.com/lfq"
	"go.uber.org/zap"
)

// defaultRingCapacity is the per-worker SPSC ring size. Work beyond
// it spills into the queue's overflow list instead of blocking.
const defaultRingCapacity = 64

// job is one parked call. attempts counts would-block retries.
type job struct {
	call     func() (kont.Resumed, error)
	c        *completion
	start    time.Time
	attempts int
}

// worker owns one ring. The queue's producer lock makes it the single
// producer; the worker goroutine is the single consumer.
type worker struct {
	ring lfq.SPSC[*job]
	wake chan struct{}
}

func (w *worker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// QueueStats is a snapshot of queue counters.
type QueueStats struct {
	Workers    int
	Submitted  uint64
	Completed  uint64
	Retried    uint64
	Overflowed uint64
}

// Option configures a [Queue].
type Option func(*Queue)

// WithWorkers sets the number of workers. n <= 0 selects runtime.NumCPU.
func WithWorkers(n int) Option {
	return func(q *Queue) { q.size = n }
}

// WithCapacity sets the per-worker ring capacity.
func WithCapacity(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.capacity = n
		}
	}
}

// WithRetry sets the delay policy between would-block attempts.
func WithRetry(p RetryPolicy) Option {
	return func(q *Queue) { q.retry = p }
}

// WithOpTimeout bounds how long a parked call may keep reporting
// would-block before it fails with [ErrOpTimeout]. Zero disables it.
func WithOpTimeout(d time.Duration) Option {
	return func(q *Queue) { q.timeout = d }
}

// WithLogger sets the logger used for recovered panics.
func WithLogger(l *zap.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.log = l
		}
	}
}

// Queue is the blocking-operation queue: a fixed worker pool that
// executes parked calls and resumes their tasks on completion.
//
// A parked call gets one attempt per scheduling. On would-block it is
// rescheduled after the [RetryPolicy] delay, so an idle peer costs a
// timer rather than a worker.
type Queue struct {
	size     int
	capacity int
	retry    RetryPolicy
	timeout  time.Duration
	log      *zap.Logger

	mu       sync.Mutex
	workers  []*worker
	next     int
	overflow []*job
	closed   bool

	quit chan struct{}
	wg   sync.WaitGroup

	submitted  atomic.Uint64
	completed  atomic.Uint64
	retried    atomic.Uint64
	overflowed atomic.Uint64
}

// NewQueue creates a queue and starts its workers.
func NewQueue(opts ...Option) *Queue {
	q := &Queue{
		capacity: defaultRingCapacity,
		retry:    DefaultRetry,
		log:      zap.NewNop(),
		quit:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.size <= 0 {
		q.size = runtime.NumCPU()
	}
	q.workers = make([]*worker, q.size)
	for i := range q.workers {
		w := &worker{wake: make(chan struct{}, 1)}
		w.ring.Init(q.capacity)
		q.workers[i] = w
	}
	q.wg.Add(len(q.workers))
	for _, w := range q.workers {
		go q.work(w)
	}
	return q
}

// Submit runs fn once on a worker.
func (q *Queue) Submit(fn func()) error {
	return q.enqueue(&job{
		call: func() (kont.Resumed, error) {
			fn()
			return nil, nil
		},
		c: &completion{},
	})
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() QueueStats {
	return QueueStats{
		Workers:    len(q.workers),
		Submitted:  q.submitted.Load(),
		Completed:  q.completed.Load(),
		Retried:    q.retried.Load(),
		Overflowed: q.overflowed.Load(),
	}
}

// Close stops accepting work, lets every worker drain its ring and the
// overflow list, and waits for the workers to exit. Parked calls still
// reporting would-block fail with [ErrQueueClosed]. Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	close(q.quit)
	q.wg.Wait()
}

// park submits call on behalf of a suspended operation.
func (q *Queue) park(call func() (kont.Resumed, error), c *completion) {
	err := q.enqueue(&job{call: call, c: c, start: time.Now()})
	if err != nil {
		c.publish(nil, err)
	}
}

func (q *Queue) enqueue(j *job) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	n := len(q.workers)
	for range n {
		w := q.workers[q.next]
		q.next = (q.next + 1) % n
		if w.ring.Enqueue(&j) == nil {
			q.mu.Unlock()
			q.submitted.Add(1)
			w.signal()
			return nil
		}
	}
	q.overflow = append(q.overflow, j)
	w := q.workers[q.next]
	q.mu.Unlock()
	q.submitted.Add(1)
	q.overflowed.Add(1)
	w.signal()
	return nil
}

func (q *Queue) takeOverflow() *job {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.overflow) == 0 {
		return nil
	}
	j := q.overflow[0]
	q.overflow[0] = nil
	q.overflow = q.overflow[1:]
	return j
}

func (q *Queue) work(w *worker) {
	defer q.wg.Done()
	for {
		if j, err := w.ring.Dequeue(); err == nil {
			q.run(j)
			continue
		}
		if j := q.takeOverflow(); j != nil {
			q.run(j)
			continue
		}
		select {
		case <-w.wake:
		case <-q.quit:
			q.drain(w)
			return
		}
	}
}

// drain runs what is left after close. Nothing new can be enqueued, so
// the ring and the overflow list only shrink.
func (q *Queue) drain(w *worker) {
	for {
		if j, err := w.ring.Dequeue(); err == nil {
			q.run(j)
			continue
		}
		j := q.takeOverflow()
		if j == nil {
			return
		}
		q.run(j)
	}
}

// run makes one attempt at j and either publishes the result or
// reschedules j after the retry delay.
func (q *Queue) run(j *job) {
	v, err := q.call(j)
	if err == nil || !iox.IsWouldBlock(err) {
		q.completed.Add(1)
		j.c.publish(v, err)
		return
	}
	if q.timeout > 0 && time.Since(j.start) >= q.timeout {
		q.completed.Add(1)
		j.c.publish(nil, ErrOpTimeout)
		return
	}
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		q.completed.Add(1)
		j.c.publish(nil, ErrQueueClosed)
		return
	}
	j.attempts++
	q.retried.Add(1)
	time.AfterFunc(q.retry.Delay(j.attempts), func() {
		if err := q.enqueue(j); err != nil {
			j.c.publish(nil, err)
		}
	})
}

func (q *Queue) call(j *job) (v kont.Resumed, err error) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("recovered panic in queued call", zap.Any("panic", r))
			v, err = nil, fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return j.call()
}
