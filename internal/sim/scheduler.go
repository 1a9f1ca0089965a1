// Package sim provides the discrete-event scheduler that drives detectors.
//
// Simulation time is a time.Duration offset from the start of the run. The
// Queue is single-threaded: callbacks run one at a time in non-decreasing
// time order, ties broken by scheduling order. Each callback is isolated so
// a failing detector never prevents the others due at the same instant.
package sim

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/lanedetect/internal/monitoring"
)

// ErrPastEvent is returned when an event is scheduled before the current time.
var ErrPastEvent = errors.New("event scheduled in the past")

// Clock reports the current simulation time.
type Clock interface {
	Now() time.Duration
}

// Handle identifies a scheduled callback so it can be cancelled.
type Handle uint64

// Callback is a scheduled unit of work. now is the simulation time at which
// it fires.
type Callback func(now time.Duration) error

// Scheduler is the collaborator interface consumed by detectors.
type Scheduler interface {
	Clock
	ScheduleAt(at time.Duration, name string, fn Callback) (Handle, error)
	ScheduleAfter(d time.Duration, name string, fn Callback) (Handle, error)
	Cancel(h Handle) bool
}

type event struct {
	at        time.Duration
	seq       uint64
	handle    Handle
	name      string
	fn        Callback
	cancelled bool
	index     int
}

type eventHeap []*event

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].at != h[j].at {
		return h[i].at < h[j].at
	}
	return h[i].seq < h[j].seq
}
func (h eventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *eventHeap) Push(x any) {
	ev := x.(*event)
	ev.index = len(*h)
	*h = append(*h, ev)
}
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	ev.index = -1
	*h = old[:n-1]
	return ev
}

// Queue is a manually advanced event scheduler.
type Queue struct {
	now    time.Duration
	seq    uint64
	events eventHeap
	live   map[Handle]*event

	// OnFailure, when set, is called after a failing callback has been logged.
	OnFailure func(name string, err error)

	failures int
}

// NewQueue creates an empty queue at time zero.
func NewQueue() *Queue {
	return &Queue{live: make(map[Handle]*event)}
}

// Now returns the current simulation time.
func (q *Queue) Now() time.Duration {
	return q.now
}

// ScheduleAt schedules fn at the absolute simulation time at.
func (q *Queue) ScheduleAt(at time.Duration, name string, fn Callback) (Handle, error) {
	if fn == nil {
		return 0, fmt.Errorf("schedule %q: nil callback", name)
	}
	if at < q.now {
		return 0, fmt.Errorf("schedule %q at %v (now %v): %w", name, at, q.now, ErrPastEvent)
	}
	q.seq++
	ev := &event{at: at, seq: q.seq, handle: Handle(q.seq), name: name, fn: fn}
	heap.Push(&q.events, ev)
	q.live[ev.handle] = ev
	return ev.handle, nil
}

// ScheduleAfter schedules fn d after the current time.
func (q *Queue) ScheduleAfter(d time.Duration, name string, fn Callback) (Handle, error) {
	return q.ScheduleAt(q.now+d, name, fn)
}

// Cancel removes a pending callback. It reports whether the callback was
// still pending.
func (q *Queue) Cancel(h Handle) bool {
	ev, ok := q.live[h]
	if !ok {
		return false
	}
	delete(q.live, h)
	ev.cancelled = true
	if ev.index >= 0 {
		heap.Remove(&q.events, ev.index)
	}
	return true
}

// Pending returns the number of callbacks not yet fired or cancelled.
func (q *Queue) Pending() int {
	return len(q.live)
}

// Failures returns how many callbacks have failed so far.
func (q *Queue) Failures() int {
	return q.failures
}

// NextAt returns the time of the next pending callback.
func (q *Queue) NextAt() (time.Duration, bool) {
	if len(q.events) == 0 {
		return 0, false
	}
	return q.events[0].at, true
}

// Step fires the next pending callback, advancing the clock to its time.
// It returns false when the queue is empty.
func (q *Queue) Step() bool {
	if len(q.events) == 0 {
		return false
	}
	ev := heap.Pop(&q.events).(*event)
	delete(q.live, ev.handle)
	q.now = ev.at
	q.fire(ev)
	return true
}

// RunUntil fires every callback due at or before end, then leaves the clock
// at end. It stops early, returning the context error, if ctx is done.
func (q *Queue) RunUntil(ctx context.Context, end time.Duration) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		at, ok := q.NextAt()
		if !ok || at > end {
			break
		}
		q.Step()
	}
	if end > q.now {
		q.now = end
	}
	return nil
}

func (q *Queue) fire(ev *event) {
	defer func() {
		if r := recover(); r != nil {
			q.fail(ev, fmt.Errorf("panic: %v", r))
		}
	}()
	if err := ev.fn(q.now); err != nil {
		q.fail(ev, err)
	}
}

func (q *Queue) fail(ev *event, err error) {
	q.failures++
	monitoring.Logf("sim: callback %q at %v failed: %v", ev.name, ev.at, err)
	if q.OnFailure != nil {
		q.OnFailure(ev.name, err)
	}
}
