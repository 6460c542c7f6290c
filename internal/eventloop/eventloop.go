package eventloop

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cryguy/jscore/internal/core"
)

// minInterval is the smallest period accepted for setInterval.
const minInterval = 10 * time.Millisecond

// OpResult holds the outcome of a host operation. The goroutine running the
// operation produces it; the event loop hands it to JS on the engine thread.
type OpResult struct {
	Value string
	Err   error
}

// PendingOp represents a host operation whose result will be delivered to
// JS via the event loop when it completes.
type PendingOp struct {
	ResultCh <-chan OpResult
	OpID     string
}

// timerEntry is the Go half of a timer: when it is due and how it repeats.
// The callback itself stays in JS under __timerCallbacks[id].
type timerEntry struct {
	deadline time.Time
	interval time.Duration // 0 for setTimeout, >0 for setInterval
	id       int
	cleared  bool
}

// EventLoop tracks Go-backed timers for setTimeout/setInterval and host
// operations that need to be resolved on the engine thread. It never
// sleeps: the scheduler parks until NextDeadline or a wake-up instead.
type EventLoop struct {
	mu         sync.Mutex
	timers     map[int]*timerEntry
	nextID     int
	nextOpID   int
	pendingOps []*PendingOp
	wake       func()
	now        func() time.Time
}

// New returns an empty loop using the wall clock.
func New() *EventLoop {
	return &EventLoop{
		timers: make(map[int]*timerEntry),
		now:    time.Now,
	}
}

// SetWake installs the function called when a host operation completes on
// another goroutine. The worker points it at its scheduler.
func (el *EventLoop) SetWake(fn func()) {
	el.mu.Lock()
	el.wake = fn
	el.mu.Unlock()
}

// RegisterTimer schedules timer id to fire after delay and returns the id.
// Negative delays fire on the next tick; intervals run at least every
// minInterval.
func (el *EventLoop) RegisterTimer(delay time.Duration, isInterval bool) int {
	el.mu.Lock()
	defer el.mu.Unlock()
	if delay < 0 {
		delay = 0
	}
	el.nextID++
	id := el.nextID
	if isInterval && delay < minInterval {
		delay = minInterval
	}
	entry := &timerEntry{
		deadline: el.now().Add(delay),
		id:       id,
	}
	if isInterval {
		entry.interval = delay
	}
	el.timers[id] = entry
	return id
}

// ClearTimer cancels a timer by ID.
func (el *EventLoop) ClearTimer(id int) {
	el.mu.Lock()
	defer el.mu.Unlock()
	if t, ok := el.timers[id]; ok {
		t.cleared = true
		delete(el.timers, id)
	}
}

// Go runs fn on its own goroutine and registers its result as a pending
// operation. It returns the operation ID used by the JS side to find the
// promise to settle.
func (el *EventLoop) Go(fn func() OpResult) string {
	el.mu.Lock()
	el.nextOpID++
	opID := fmt.Sprintf("op-%d", el.nextOpID)
	el.mu.Unlock()

	ch := make(chan OpResult, 1)
	el.AddPending(&PendingOp{ResultCh: ch, OpID: opID})
	go func() {
		ch <- fn()
		el.mu.Lock()
		wake := el.wake
		el.mu.Unlock()
		if wake != nil {
			wake()
		}
	}()
	return opID
}

// AddPending registers a pending operation whose result will be delivered
// to JS when it arrives.
func (el *EventLoop) AddPending(op *PendingOp) {
	el.mu.Lock()
	defer el.mu.Unlock()
	el.pendingOps = append(el.pendingOps, op)
}

// DrainPendingOps does non-blocking reads on all pending operation channels.
// For each completed operation, it settles the JS promise via
// globalThis.__hostSettle and removes it from the list. Returns true if any
// operation was completed, and the first error thrown by a settle callback.
func (el *EventLoop) DrainPendingOps(rt core.JSRuntime) (bool, error) {
	el.mu.Lock()
	if len(el.pendingOps) == 0 {
		el.mu.Unlock()
		return false, nil
	}
	pending := el.pendingOps
	el.pendingOps = nil
	el.mu.Unlock()

	var remaining []*PendingOp
	var firstErr error
	didWork := false
	for _, op := range pending {
		select {
		case result := <-op.ResultCh:
			var js string
			if result.Err != nil {
				js = fmt.Sprintf(`globalThis.__hostSettle(%s, false, %s)`, JSString(op.OpID), JSString(result.Err.Error()))
			} else {
				js = fmt.Sprintf(`globalThis.__hostSettle(%s, true, %s)`, JSString(op.OpID), JSString(result.Value))
			}
			if err := rt.Eval(js); err != nil && firstErr == nil {
				firstErr = err
			}
			// Microtask checkpoint after each resolution.
			rt.RunMicrotasks()
			didWork = true
		default:
			remaining = append(remaining, op)
		}
	}

	el.mu.Lock()
	// Ops started by the callbacks above were appended meanwhile.
	el.pendingOps = append(remaining, el.pendingOps...)
	el.mu.Unlock()
	return didWork, firstErr
}

// fireTimer runs the JS callback of timer id. One-shot entries are removed
// from __timerCallbacks before the call.
func (el *EventLoop) fireTimer(rt core.JSRuntime, id int) error {
	js := fmt.Sprintf(`(function() {
		var entry = globalThis.__timerCallbacks[%d];
		if (!entry) return;
		if (!entry.interval) delete globalThis.__timerCallbacks[%d];
		entry.fn.apply(null, entry.args || []);
	})()`, id, id)
	return rt.Eval(js)
}

// RunDue resolves completed host operations and fires every timer whose
// deadline has passed, at most maxTimers of them, running a microtask
// checkpoint after each callback. It never blocks. didWork reports whether
// any callback ran; err is the first exception thrown by a callback.
// Only the goroutine that owns rt may call it.
func (el *EventLoop) RunDue(rt core.JSRuntime, maxTimers int) (didWork bool, err error) {
	didWork, err = el.DrainPendingOps(rt)

	now := el.now()
	for fired := 0; maxTimers <= 0 || fired < maxTimers; fired++ {
		el.mu.Lock()
		var next *timerEntry
		for _, t := range el.timers {
			if t.cleared || t.deadline.After(now) {
				continue
			}
			if next == nil || t.deadline.Before(next.deadline) ||
				(t.deadline.Equal(next.deadline) && t.id < next.id) {
				next = t
			}
		}
		if next == nil {
			el.mu.Unlock()
			break
		}
		timerID := next.id
		if next.interval > 0 {
			next.deadline = now.Add(next.interval)
		} else {
			delete(el.timers, next.id)
		}
		el.mu.Unlock()

		if ferr := el.fireTimer(rt, timerID); ferr != nil && err == nil {
			err = ferr
		}
		rt.RunMicrotasks()
		didWork = true
	}
	return didWork, err
}

// NextDeadline returns the earliest deadline among active timers.
func (el *EventLoop) NextDeadline() (time.Time, bool) {
	el.mu.Lock()
	defer el.mu.Unlock()
	var next time.Time
	found := false
	for _, t := range el.timers {
		if t.cleared {
			continue
		}
		if !found || t.deadline.Before(next) {
			next = t.deadline
			found = true
		}
	}
	return next, found
}

// HasPending returns true if there are any active timers or pending operations.
func (el *EventLoop) HasPending() bool {
	el.mu.Lock()
	defer el.mu.Unlock()
	return len(el.timers) > 0 || len(el.pendingOps) > 0
}

// JSString returns s as a JavaScript string literal.
func JSString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
