package worker

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cryguy/jscore/internal/core"
	"github.com/cryguy/jscore/internal/eventloop"
)

// interruptCounter is a JSRuntime stub that only counts interrupts.
type interruptCounter struct {
	core.JSRuntime
	n atomic.Int32
}

func (c *interruptCounter) Interrupt() { c.n.Add(1) }

func TestWatchdog_Disabled(t *testing.T) {
	rt := &interruptCounter{}
	wd := watchdog{rt: rt}
	boom := errors.New("boom")
	timedOut, err := wd.run(func() error { return boom })
	if timedOut || !errors.Is(err, boom) {
		t.Fatalf("run = %v, %v", timedOut, err)
	}
}

func TestWatchdog_FastSectionNotInterrupted(t *testing.T) {
	rt := &interruptCounter{}
	wd := watchdog{rt: rt, timeout: time.Second}
	timedOut, err := wd.run(func() error { return nil })
	if timedOut || err != nil {
		t.Fatalf("run = %v, %v", timedOut, err)
	}
	time.Sleep(10 * time.Millisecond)
	if rt.n.Load() != 0 {
		t.Error("fast section was interrupted")
	}
}

func TestWatchdog_Overrun(t *testing.T) {
	rt := &interruptCounter{}
	wd := watchdog{rt: rt, timeout: 10 * time.Millisecond}
	timedOut, _ := wd.run(func() error {
		time.Sleep(50 * time.Millisecond)
		return nil
	})
	if !timedOut {
		t.Fatal("overrun not reported")
	}
	if rt.n.Load() != 1 {
		t.Errorf("Interrupt called %d times, want 1", rt.n.Load())
	}
}

func TestWatchdog_NoInterruptAfterReturn(t *testing.T) {
	rt := &interruptCounter{}
	wd := watchdog{rt: rt, timeout: time.Millisecond}
	reported := 0
	for range 200 {
		timedOut, _ := wd.run(func() error {
			time.Sleep(time.Millisecond)
			return nil
		})
		if timedOut {
			reported++
		}
	}
	// Let any timer that lost the race run its callback.
	time.Sleep(20 * time.Millisecond)
	if got := int(rt.n.Load()); got != reported {
		t.Fatalf("Interrupt called %d times, %d runs reported a timeout", got, reported)
	}
}

func TestGuardedTask(t *testing.T) {
	rt := &interruptCounter{}
	slow := guardedTask{
		Task: eventloop.TaskFunc(func() (bool, error) {
			time.Sleep(50 * time.Millisecond)
			return false, nil
		}),
		wd: watchdog{rt: rt, timeout: 10 * time.Millisecond},
	}
	done, err := slow.Poll()
	if !done || !errors.Is(err, core.ErrInterrupted) {
		t.Fatalf("Poll = %v, %v; want interrupted", done, err)
	}
	if _, ok := slow.Deadline(); ok {
		t.Error("TaskFunc has no deadline to forward")
	}

	at := time.Now().Add(time.Hour)
	w := eventloop.NewGlobalWaiter(rt, "core", time.Hour)
	guarded := guardedTask{Task: w, wd: watchdog{rt: rt}}
	d, ok := guarded.Deadline()
	if !ok || d.Before(at.Add(-time.Minute)) {
		t.Errorf("Deadline = %v, %v; want the waiter's", d, ok)
	}
}
