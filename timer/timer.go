// Package timer provides single-shot, cancellable deadlines.
//
// Virtual is a deterministic discrete-event clock for tests and headless
// replay; Loop runs callbacks on one goroutine against the wall clock.
package timer

import (
	"container/heap"
	"time"
)

// Handle identifies one scheduled callback. Zero is never issued.
type Handle uint64

type Scheduler interface {
	Now() time.Time
	// Schedule runs fn once after d unless the handle is cancelled first.
	Schedule(d time.Duration, fn func()) Handle
	// Cancel reports whether a still-pending callback was removed.
	// Cancelling a fired or unknown handle is a no-op.
	Cancel(h Handle) bool
}

type entry struct {
	at     time.Time
	seq    uint64
	handle Handle
	fn     func()
	index  int
}

type queue []*entry

func (q queue) Len() int { return len(q) }
func (q queue) Less(i, j int) bool {
	if q[i].at.Equal(q[j].at) {
		return q[i].seq < q[j].seq
	}
	return q[i].at.Before(q[j].at)
}
func (q queue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}
func (q *queue) Push(x any) {
	e := x.(*entry)
	e.index = len(*q)
	*q = append(*q, e)
}
func (q *queue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*q = old[:n-1]
	return e
}

// Virtual is not safe for concurrent use; callers drive it from one goroutine.
type Virtual struct {
	now     time.Time
	q       queue
	pending map[Handle]*entry
	next    uint64
}

// Epoch is where a zero-started Virtual clock begins.
var Epoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

func NewVirtual(start time.Time) *Virtual {
	if start.IsZero() {
		start = Epoch
	}
	return &Virtual{
		now:     start,
		pending: make(map[Handle]*entry),
	}
}

func (v *Virtual) Now() time.Time {
	return v.now
}

func (v *Virtual) Schedule(d time.Duration, fn func()) Handle {
	if d < 0 {
		d = 0
	}
	v.next++
	e := &entry{
		at:     v.now.Add(d),
		seq:    v.next,
		handle: Handle(v.next),
		fn:     fn,
	}
	heap.Push(&v.q, e)
	v.pending[e.handle] = e
	return e.handle
}

func (v *Virtual) Cancel(h Handle) bool {
	e, ok := v.pending[h]
	if !ok {
		return false
	}
	delete(v.pending, h)
	heap.Remove(&v.q, e.index)
	return true
}

// Pending is the number of callbacks still scheduled.
func (v *Virtual) Pending() int {
	return len(v.pending)
}

// Step fires the earliest callback, moving the clock to its due time.
func (v *Virtual) Step() bool {
	if len(v.q) == 0 {
		return false
	}
	e := heap.Pop(&v.q).(*entry)
	delete(v.pending, e.handle)
	if e.at.After(v.now) {
		v.now = e.at
	}
	e.fn()
	return true
}

// Advance fires everything due within d, in due order, and leaves the
// clock at now+d.
func (v *Virtual) Advance(d time.Duration) {
	until := v.now.Add(d)
	for len(v.q) > 0 && !v.q[0].at.After(until) {
		v.Step()
	}
	v.now = until
}

// RunUntilIdle fires callbacks until none remain or limit callbacks ran.
// It returns the number fired. limit <= 0 means no limit.
func (v *Virtual) RunUntilIdle(limit int) int {
	fired := 0
	for limit <= 0 || fired < limit {
		if !v.Step() {
			break
		}
		fired++
	}
	return fired
}
