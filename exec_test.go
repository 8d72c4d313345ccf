// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package streamgw_test

import (
	"errors"
	"testing"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/kont"
	"code.hybscloud.com/streamgw"
)

func TestExec(t *testing.T) {
	call, calls := flaky(3, 5)
	v, err := streamgw.Exec(streamgw.AwaitBind(call, func(n int) kont.Eff[int] {
		return streamgw.BlockingBind(func() (int, error) { return n * 2, nil }, kont.Pure[int])
	}))
	if err != nil || v != 10 {
		t.Fatalf("got (%d, %v), want (10, nil)", v, err)
	}
	if calls.Load() != 4 {
		t.Fatalf("calls = %d, want 4", calls.Load())
	}
}

func TestExecError(t *testing.T) {
	var after bool
	_, err := streamgw.Exec(streamgw.AwaitThen(func() (int, error) {
		return 0, errBoom
	}, streamgw.Delay(func() kont.Eff[int] {
		after = true
		return kont.Pure(1)
	})))
	if !errors.Is(err, errBoom) {
		t.Fatalf("err = %v, want %v", err, errBoom)
	}
	if after {
		t.Fatal("protocol continued after error")
	}
}

func TestExecExpr(t *testing.T) {
	call, _ := flaky(1, "expr")
	v, err := streamgw.ExecExpr(kont.Reify(streamgw.AwaitBind(call, kont.Pure[string])))
	if err != nil || v != "expr" {
		t.Fatalf("got (%q, %v), want (expr, nil)", v, err)
	}
}

func TestStepAdvance(t *testing.T) {
	call, _ := flaky(2, 4)
	protocol := kont.Reify(streamgw.AwaitBind(call, func(n int) kont.Eff[int] {
		return streamgw.AwaitBind(func() (int, error) { return n + 1, nil }, kont.Pure[int])
	}))

	result, susp := streamgw.Step(protocol)
	blocked := 0
	for susp != nil {
		if _, ok := susp.Op().(streamgw.Await[int]); !ok {
			t.Fatalf("unexpected op %T", susp.Op())
		}
		var err error
		result, susp, err = streamgw.Advance(susp)
		if iox.IsWouldBlock(err) {
			blocked++
			continue
		}
		if err != nil {
			t.Fatalf("advance: %v", err)
		}
	}
	if result != 5 || blocked != 2 {
		t.Fatalf("got (%d, %d blocked), want (5, 2 blocked)", result, blocked)
	}
}

func TestAdvanceErrorDiscards(t *testing.T) {
	_, susp := streamgw.Step(kont.Reify(streamgw.Fail[int](errBoom)))
	if susp == nil {
		t.Fatal("expected suspension")
	}
	_, next, err := streamgw.Advance(susp)
	if !errors.Is(err, errBoom) || next != nil {
		t.Fatalf("got (%v, %v), want (%v, nil)", next, err, errBoom)
	}
}

func TestLoop(t *testing.T) {
	// Sum 1..10, awaiting each term.
	type acc struct{ i, sum int }
	protocol := streamgw.Loop(acc{i: 1}, func(a acc) kont.Eff[kont.Either[acc, int]] {
		if a.i > 10 {
			return streamgw.Break[acc](a.sum)
		}
		call, _ := flaky(a.i%2, a.i)
		return streamgw.AwaitBind(call, func(n int) kont.Eff[kont.Either[acc, int]] {
			return streamgw.Continue[acc, int](acc{i: a.i + 1, sum: a.sum + n})
		})
	})
	v, err := streamgw.Exec(protocol)
	if err != nil || v != 55 {
		t.Fatalf("got (%d, %v), want (55, nil)", v, err)
	}
}

func TestLoopOnQueue(t *testing.T) {
	skipRace(t)
	q := newQueue(t)

	protocol := streamgw.Loop(0, func(i int) kont.Eff[kont.Either[int, int]] {
		call, _ := flaky(1, i+1)
		return streamgw.AwaitBind(call, func(n int) kont.Eff[kont.Either[int, int]] {
			if n == 50 {
				return streamgw.Break[int](n)
			}
			return streamgw.Continue[int, int](n)
		})
	})
	task := streamgw.Go(q, protocol)
	v, err := wait(t, task)
	if err != nil || v != 50 {
		t.Fatalf("got (%d, %v), want (50, nil)", v, err)
	}
	if task.Resumes() != 50 {
		t.Fatalf("resumes = %d, want 50", task.Resumes())
	}
}
