// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package streamgw_test

import (
	"errors"
	"sync/atomic"
	"testing"

	"code.hybscloud.com/kont"
	"code.hybscloud.com/streamgw"
)

var errBoom = errors.New("boom")

func TestAwaitImmediateNeverQueues(t *testing.T) {
	skipRace(t)
	q := newQueue(t)

	task := streamgw.Go(q, streamgw.AwaitBind(func() (int, error) {
		return 7, nil
	}, func(n int) kont.Eff[int] {
		return kont.Pure(n * 6)
	}))

	if task.State() != streamgw.Completed {
		t.Fatalf("state = %v, want completed", task.State())
	}
	v, err := task.Result()
	if err != nil || v != 42 {
		t.Fatalf("got (%d, %v), want (42, nil)", v, err)
	}
	if s := q.Stats(); s.Submitted != 0 {
		t.Fatalf("submitted = %d, want 0", s.Submitted)
	}
	if task.Resumes() != 0 {
		t.Fatalf("resumes = %d, want 0", task.Resumes())
	}
}

func TestAwaitWouldBlockResumesOnce(t *testing.T) {
	skipRace(t)
	q := newQueue(t)
	call, calls := flaky(5, "ready")

	var hits atomic.Int32
	task := streamgw.Go(q, streamgw.AwaitBind(call, func(s string) kont.Eff[string] {
		hits.Add(1)
		return kont.Pure(s)
	}))

	v, err := wait(t, task)
	if err != nil || v != "ready" {
		t.Fatalf("got (%q, %v), want (ready, nil)", v, err)
	}
	if hits.Load() != 1 {
		t.Fatalf("continuation ran %d times, want 1", hits.Load())
	}
	if task.Resumes() != 1 {
		t.Fatalf("resumes = %d, want 1", task.Resumes())
	}
	if calls.Load() != 6 {
		t.Fatalf("calls = %d, want 6", calls.Load())
	}
	if s := q.Stats(); s.Retried != 4 || s.Submitted != 5 {
		t.Fatalf("stats = %+v, want 4 retries over 5 submissions", s)
	}
}

func TestBlockingSkipsInlinePoll(t *testing.T) {
	skipRace(t)
	q := newQueue(t)
	call, calls := flaky(0, 1)

	task := streamgw.Go(q, streamgw.BlockingBind(call, func(n int) kont.Eff[int] {
		return kont.Pure(n + 1)
	}))
	v, err := wait(t, task)
	if err != nil || v != 2 {
		t.Fatalf("got (%d, %v), want (2, nil)", v, err)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
	if s := q.Stats(); s.Submitted != 1 {
		t.Fatalf("submitted = %d, want 1", s.Submitted)
	}
}

func TestAwaitErrorFailsTask(t *testing.T) {
	skipRace(t)
	q := newQueue(t)

	var after atomic.Bool
	task := streamgw.Go(q, streamgw.AwaitBind(func() (int, error) {
		return 0, errBoom
	}, func(int) kont.Eff[int] {
		after.Store(true)
		return kont.Pure(1)
	}))

	if task.State() != streamgw.Failed {
		t.Fatalf("state = %v, want failed", task.State())
	}
	if _, err := task.Result(); !errors.Is(err, errBoom) {
		t.Fatalf("err = %v, want %v", err, errBoom)
	}
	if after.Load() {
		t.Fatal("continuation ran after failure")
	}
}

func TestParkedErrorFailsTask(t *testing.T) {
	skipRace(t)
	q := newQueue(t)

	var calls atomic.Int32
	task := streamgw.Go(q, streamgw.Fail[int](errBoom))
	if _, err := wait(t, task); !errors.Is(err, errBoom) {
		t.Fatalf("err = %v, want %v", err, errBoom)
	}

	task = streamgw.Go(q, streamgw.BlockingBind(func() (int, error) {
		calls.Add(1)
		return 0, errBoom
	}, kont.Pure[int]))
	if _, err := wait(t, task); !errors.Is(err, errBoom) {
		t.Fatalf("err = %v, want %v", err, errBoom)
	}
	if task.State() != streamgw.Failed {
		t.Fatalf("state = %v, want failed", task.State())
	}
}

func TestJoinChildValue(t *testing.T) {
	skipRace(t)
	q := newQueue(t)
	call, _ := flaky(3, 20)

	parent := streamgw.Go(q, streamgw.Delay(func() kont.Eff[int] {
		child := streamgw.Go(q, streamgw.AwaitBind(call, kont.Pure[int]))
		return streamgw.JoinBind(child, func(n int) kont.Eff[int] {
			return kont.Pure(n + 1)
		})
	}))

	v, err := wait(t, parent)
	if err != nil || v != 21 {
		t.Fatalf("got (%d, %v), want (21, nil)", v, err)
	}
}

func TestJoinPropagatesChildError(t *testing.T) {
	skipRace(t)
	q := newQueue(t)

	parent := streamgw.Go(q, streamgw.Delay(func() kont.Eff[string] {
		child := streamgw.Go(q, streamgw.BlockingBind(func() (int, error) {
			return 0, errBoom
		}, kont.Pure[int]))
		return streamgw.JoinBind(child, func(int) kont.Eff[string] {
			return kont.Pure("unreachable")
		})
	}))

	if _, err := wait(t, parent); !errors.Is(err, errBoom) {
		t.Fatalf("err = %v, want %v", err, errBoom)
	}
}

func TestSettleDeliversOutcome(t *testing.T) {
	skipRace(t)
	q := newQueue(t)

	parent := streamgw.Go(q, streamgw.Delay(func() kont.Eff[string] {
		child := streamgw.Go(q, streamgw.BlockingBind(func() (int, error) {
			return 0, errBoom
		}, kont.Pure[int]))
		return streamgw.SettleBind(child, func(o streamgw.Outcome[int]) kont.Eff[string] {
			if errors.Is(o.Err, errBoom) {
				return kont.Pure("settled")
			}
			return kont.Pure("wrong")
		})
	}))

	v, err := wait(t, parent)
	if err != nil || v != "settled" {
		t.Fatalf("got (%q, %v), want (settled, nil)", v, err)
	}
}

func TestTaskRunTwice(t *testing.T) {
	skipRace(t)
	q := newQueue(t)

	task := streamgw.NewTask(q, kont.Pure(1))
	if task.State() != streamgw.Pending {
		t.Fatalf("state = %v, want pending", task.State())
	}
	if _, err := task.Result(); !errors.Is(err, streamgw.ErrTaskPending) {
		t.Fatalf("err = %v, want %v", err, streamgw.ErrTaskPending)
	}
	if err := task.Run(); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := task.Run(); !errors.Is(err, streamgw.ErrTaskStarted) {
		t.Fatalf("second run: %v, want %v", err, streamgw.ErrTaskStarted)
	}
	if v, err := task.Result(); err != nil || v != 1 {
		t.Fatalf("got (%d, %v), want (1, nil)", v, err)
	}
}

func TestTaskPanicFails(t *testing.T) {
	skipRace(t)
	q := newQueue(t)

	task := streamgw.Go(q, streamgw.Delay(func() kont.Eff[int] {
		panic("bad step")
	}))
	if task.State() != streamgw.Failed {
		t.Fatalf("state = %v, want failed", task.State())
	}
	if _, err := task.Result(); !errors.Is(err, streamgw.ErrPanic) {
		t.Fatalf("err = %v, want %v", err, streamgw.ErrPanic)
	}
}

func TestTaskPendingRunsNothing(t *testing.T) {
	skipRace(t)
	q := newQueue(t)
	ran := false
	task := streamgw.NewTask(q, streamgw.Delay(func() kont.Eff[int] {
		ran = true
		return kont.Pure(7)
	}))
	if ran || task.State() != streamgw.Pending {
		t.Fatalf("before Run: ran=%v state=%v", ran, task.State())
	}
	if err := task.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if v, err := task.Result(); !ran || err != nil || v != 7 {
		t.Fatalf("after Run: ran=%v result=(%d, %v)", ran, v, err)
	}
}

func TestTaskPanicBeforeFirstEffect(t *testing.T) {
	skipRace(t)
	q := newQueue(t)
	task := streamgw.NewTask(q, streamgw.Delay(func() kont.Eff[int] {
		panic("early")
	}))
	if task.State() != streamgw.Pending {
		t.Fatalf("state = %v, want pending", task.State())
	}
	if err := task.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := task.Result(); !errors.Is(err, streamgw.ErrPanic) {
		t.Fatalf("err = %v, want %v", err, streamgw.ErrPanic)
	}
}

func TestTaskSuspendedUntilGateOpens(t *testing.T) {
	skipRace(t)
	q := newQueue(t)
	open := make(chan struct{})

	task := streamgw.Go(q, streamgw.AwaitBind(gate(open), kont.Pure[int]))
	if task.State() != streamgw.Suspended {
		t.Fatalf("state = %v, want suspended", task.State())
	}
	if _, err := task.Result(); !errors.Is(err, streamgw.ErrTaskPending) {
		t.Fatalf("err = %v, want %v", err, streamgw.ErrTaskPending)
	}
	close(open)
	if v, err := wait(t, task); err != nil || v != 1 {
		t.Fatalf("got (%d, %v), want (1, nil)", v, err)
	}
}

func TestOnSettle(t *testing.T) {
	skipRace(t)
	q := newQueue(t)
	open := make(chan struct{})

	task := streamgw.Go(q, streamgw.AwaitBind(gate(open), kont.Pure[int]))
	var before, after atomic.Int32
	task.OnSettle(func() { before.Add(1) })
	close(open)
	wait(t, task)
	task.OnSettle(func() { after.Add(1) })

	if before.Load() != 1 || after.Load() != 1 {
		t.Fatalf("hooks ran (%d, %d) times, want (1, 1)", before.Load(), after.Load())
	}
}

func TestSpawn(t *testing.T) {
	skipRace(t)
	q := newQueue(t)

	task, err := streamgw.Spawn(q, kont.Pure("spawned"))
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if v, err := wait(t, task); err != nil || v != "spawned" {
		t.Fatalf("got (%q, %v), want (spawned, nil)", v, err)
	}
}

func TestSerialMonotonic(t *testing.T) {
	skipRace(t)
	q := newQueue(t)
	a := streamgw.NewTask(q, kont.Pure(0))
	b := streamgw.NewTask(q, kont.Pure(0))
	c := streamgw.NewTask(q, kont.Pure(0))
	if !(a.Serial() < b.Serial() && b.Serial() < c.Serial()) {
		t.Fatalf("serials not monotonic: %d, %d, %d", a.Serial(), b.Serial(), c.Serial())
	}
}

func TestStateString(t *testing.T) {
	cases := map[streamgw.State]string{
		streamgw.Pending:   "pending",
		streamgw.Running:   "running",
		streamgw.Suspended: "suspended",
		streamgw.Completed: "completed",
		streamgw.Failed:    "failed",
	}
	for s, want := range cases {
		if s.String() != want {
			t.Fatalf("%d.String() = %q, want %q", uint32(s), s.String(), want)
		}
		if s.Terminal() != (s == streamgw.Completed || s == streamgw.Failed) {
			t.Fatalf("%v.Terminal() = %v", s, s.Terminal())
		}
	}
}
