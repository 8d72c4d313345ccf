// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package streamgw

import "sync"

// Tracked is the type-erased view of a [Task] held by a [Table].
type Tracked interface {
	Serial() Serial
	State() State
}

// Table is the session table: it keeps in-flight tasks reachable until
// they finish and reclaims them on [Table.Sweep].
type Table struct {
	mu    sync.Mutex
	tasks map[Serial]Tracked
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{tasks: make(map[Serial]Tracked)}
}

// Add registers t. Adding a serial twice replaces the earlier entry.
func (tb *Table) Add(t Tracked) {
	tb.mu.Lock()
	tb.tasks[t.Serial()] = t
	tb.mu.Unlock()
}

// Sweep removes every Completed or Failed task and returns how many it
// removed. Pending, Running and Suspended tasks are kept.
func (tb *Table) Sweep() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	n := 0
	for id, t := range tb.tasks {
		if t.State().Terminal() {
			delete(tb.tasks, id)
			n++
		}
	}
	return n
}

// Len returns the number of registered tasks.
func (tb *Table) Len() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return len(tb.tasks)
}

// Range calls fn for a snapshot of the registered tasks until fn
// returns false. fn runs without the table lock held.
func (tb *Table) Range(fn func(Tracked) bool) {
	tb.mu.Lock()
	snap := make([]Tracked, 0, len(tb.tasks))
	for _, t := range tb.tasks {
		snap = append(snap, t)
	}
	tb.mu.Unlock()
	for _, t := range snap {
		if !fn(t) {
			return
		}
	}
}
