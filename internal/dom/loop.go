// Package dom provides the page host the variant engine runs against: an HTML
// document with mutation observers and custom events, driven by a
// single-threaded event loop with a virtual clock.
//
// Nothing here runs concurrently. Timers, microtasks and observer deliveries
// are independent re-entries queued on one Loop and executed one at a time,
// which is the whole concurrency model of the engine.
package dom

import (
	"container/heap"
	"errors"
	"time"
)

// ErrRunaway is returned when a loop run exceeds its task budget, which
// means some callback keeps rescheduling itself.
var ErrRunaway = errors.New("event loop exceeded task budget")

// DefaultMaxTasks bounds a single RunFor call.
const DefaultMaxTasks = 10000

// TimerID identifies a pending timeout.
type TimerID uint64

type timer struct {
	id    TimerID
	at    time.Time
	seq   uint64
	fn    func()
	index int
}

type timerQueue []*timer

func (q timerQueue) Len() int { return len(q) }

func (q timerQueue) Less(i, j int) bool {
	if q[i].at.Equal(q[j].at) {
		return q[i].seq < q[j].seq
	}
	return q[i].at.Before(q[j].at)
}

func (q timerQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *timerQueue) Push(x any) {
	t := x.(*timer)
	t.index = len(*q)
	*q = append(*q, t)
}

func (q *timerQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*q = old[:n-1]
	return t
}

// Loop is a cooperative event loop with a virtual clock.
type Loop struct {
	now      time.Time
	nextID   TimerID
	seq      uint64
	timers   timerQueue
	live     map[TimerID]*timer
	micro    []func()
	maxTasks int
}

// NewLoop creates a loop whose clock starts at start.
func NewLoop(start time.Time) *Loop {
	return &Loop{
		now:      start,
		live:     make(map[TimerID]*timer),
		maxTasks: DefaultMaxTasks,
	}
}

// Now returns the loop's current virtual time.
func (l *Loop) Now() time.Time {
	return l.now
}

// SetTimeout schedules fn to run d after the current virtual time.
func (l *Loop) SetTimeout(d time.Duration, fn func()) TimerID {
	if d < 0 {
		d = 0
	}
	l.nextID++
	l.seq++
	t := &timer{id: l.nextID, at: l.now.Add(d), seq: l.seq, fn: fn}
	heap.Push(&l.timers, t)
	l.live[t.id] = t
	return t.id
}

// ClearTimeout cancels a pending timeout. Unknown or fired ids are ignored.
func (l *Loop) ClearTimeout(id TimerID) {
	t, ok := l.live[id]
	if !ok {
		return
	}
	delete(l.live, id)
	heap.Remove(&l.timers, t.index)
}

// QueueMicrotask queues fn to run once the current task finishes.
func (l *Loop) QueueMicrotask(fn func()) {
	l.micro = append(l.micro, fn)
}

// Pending reports the number of timers not yet fired.
func (l *Loop) Pending() int {
	return len(l.timers)
}

// Run executes fn as a task and then drains the microtask queue.
func (l *Loop) Run(fn func()) error {
	fn()
	_, err := l.drainMicrotasks(l.maxTasks)
	return err
}

// RunFor advances the clock by d, firing due timers in order. Each timer is a
// task followed by a microtask checkpoint. It returns the number of tasks run.
func (l *Loop) RunFor(d time.Duration) (int, error) {
	deadline := l.now.Add(d)
	tasks, err := l.drainMicrotasks(l.maxTasks)
	if err != nil {
		return tasks, err
	}

	for len(l.timers) > 0 && !l.timers[0].at.After(deadline) {
		if tasks >= l.maxTasks {
			return tasks, ErrRunaway
		}
		t := heap.Pop(&l.timers).(*timer)
		delete(l.live, t.id)
		if t.at.After(l.now) {
			l.now = t.at
		}
		t.fn()
		tasks++

		n, err := l.drainMicrotasks(l.maxTasks - tasks)
		tasks += n
		if err != nil {
			return tasks, err
		}
	}

	if deadline.After(l.now) {
		l.now = deadline
	}
	return tasks, nil
}

func (l *Loop) drainMicrotasks(budget int) (int, error) {
	n := 0
	for len(l.micro) > 0 {
		if n >= budget {
			return n, ErrRunaway
		}
		fn := l.micro[0]
		l.micro[0] = nil
		l.micro = l.micro[1:]
		fn()
		n++
	}
	return n, nil
}
