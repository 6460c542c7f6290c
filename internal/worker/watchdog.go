package worker

import (
	"sync"
	"time"

	"github.com/cryguy/jscore/internal/core"
	"github.com/cryguy/jscore/internal/eventloop"
)

// watchdog interrupts the engine when a synchronous section overruns.
type watchdog struct {
	rt      core.JSRuntime
	timeout time.Duration
}

// run calls fn under the watchdog. timedOut reports whether the engine was
// interrupted; an interrupted engine must not be used again. An interrupt
// is only ever delivered while fn is running.
func (w watchdog) run(fn func() error) (timedOut bool, err error) {
	if w.timeout <= 0 {
		return false, fn()
	}
	var (
		mu       sync.Mutex
		finished bool
		fired    bool
	)
	timer := time.AfterFunc(w.timeout, func() {
		mu.Lock()
		defer mu.Unlock()
		if finished {
			return
		}
		fired = true
		w.rt.Interrupt()
	})
	err = fn()

	mu.Lock()
	finished = true
	timedOut = fired
	mu.Unlock()
	timer.Stop()
	return timedOut, err
}

// guardedTask polls a task under the watchdog. An overrun settles the task
// with core.ErrInterrupted.
type guardedTask struct {
	eventloop.Task
	wd watchdog
}

func (g guardedTask) Poll() (bool, error) {
	var done bool
	timedOut, err := g.wd.run(func() error {
		var perr error
		done, perr = g.Task.Poll()
		return perr
	})
	if timedOut {
		return true, core.ErrInterrupted
	}
	return done, err
}

// Deadline forwards to the wrapped task when it has one.
func (g guardedTask) Deadline() (time.Time, bool) {
	if d, ok := g.Task.(eventloop.Deadliner); ok {
		return d.Deadline()
	}
	return time.Time{}, false
}
