package eventloop

import (
	"strings"
	"testing"
	"time"
)

func TestDriver_PerpetualIntervalStaysPending(t *testing.T) {
	el, clock := newTestLoop()
	rt := &fakeRuntime{}
	el.RegisterTimer(10*time.Millisecond, true)

	d := NewDriver(rt, el, DriverOptions{KeepAlive: func() bool { return false }})
	for i := 0; i < 50; i++ {
		clock.advance(10 * time.Millisecond)
		done, err := d.Poll()
		if err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
		if done {
			t.Fatalf("driver settled at tick %d with a live interval", i)
		}
	}
	if rt.evalCount() != 50 {
		t.Errorf("interval fired %d times, want 50", rt.evalCount())
	}
}

func TestDriver_Quiescence(t *testing.T) {
	el, _ := newTestLoop()
	rt := &fakeRuntime{}

	tests := []struct {
		name      string
		keepAlive func() bool
		wantDone  bool
	}{
		{"nil keep-alive", nil, false},
		{"kept alive", func() bool { return true }, false},
		{"released", func() bool { return false }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDriver(rt, el, DriverOptions{KeepAlive: tt.keepAlive})
			done, err := d.Poll()
			if err != nil {
				t.Fatalf("Poll: %v", err)
			}
			if done != tt.wantDone {
				t.Errorf("done = %v, want %v", done, tt.wantDone)
			}
		})
	}
}

func TestDriver_PendingTimerBlocksQuiescence(t *testing.T) {
	el, _ := newTestLoop()
	rt := &fakeRuntime{}
	el.RegisterTimer(time.Hour, false)

	d := NewDriver(rt, el, DriverOptions{KeepAlive: func() bool { return false }})
	done, err := d.Poll()
	if err != nil || done {
		t.Fatalf("Poll = %v, %v; want pending", done, err)
	}
	deadline, ok := d.Deadline()
	if !ok || !deadline.Equal(el.now().Add(time.Hour)) {
		t.Errorf("Deadline = %v, %v", deadline, ok)
	}
}

func TestDriver_FatalUncaught(t *testing.T) {
	el, _ := newTestLoop()
	rt := &fakeRuntime{failOn: "__timerCallbacks"}
	el.RegisterTimer(0, false)

	d := NewDriver(rt, el, DriverOptions{FatalUncaught: true})
	done, err := d.Poll()
	if !done || err == nil {
		t.Fatalf("Poll = %v, %v; want a fatal error", done, err)
	}
	if !strings.Contains(err.Error(), "uncaught exception") {
		t.Errorf("error = %v", err)
	}
}

func TestDriver_NonFatalUncaught(t *testing.T) {
	el, _ := newTestLoop()
	rt := &fakeRuntime{failOn: "__timerCallbacks"}
	el.RegisterTimer(0, false)

	d := NewDriver(rt, el, DriverOptions{})
	done, err := d.Poll()
	if done || err != nil {
		t.Fatalf("Poll = %v, %v; want the exception logged and the loop alive", done, err)
	}
}

func TestDriver_WakesAfterWork(t *testing.T) {
	el, _ := newTestLoop()
	rt := &fakeRuntime{}
	wakes := 0
	d := NewDriver(rt, el, DriverOptions{Wake: func() { wakes++ }})

	d.Poll()
	if wakes != 0 {
		t.Errorf("idle poll woke the scheduler %d times", wakes)
	}
	el.RegisterTimer(0, false)
	d.Poll()
	if wakes != 1 {
		t.Errorf("wakes = %d after firing a timer, want 1", wakes)
	}
	if rt.microtasks < 2 {
		t.Errorf("microtasks ran %d times, want at least once per poll", rt.microtasks)
	}
}
