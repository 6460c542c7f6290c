package eventloop

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cryguy/jscore/internal/core"
)

// BootStateGlobal names the object through which a bootstrap script can
// signal completion explicitly (see webapi.SetupBootSignal).
const BootStateGlobal = "__jscore_boot"

// bootStateJS reports "ready", "pending" or "failed:<reason>". A binding
// holding undefined, null or a thenable still counts as a placeholder.
const bootStateJS = `(function() {
	var s = globalThis[%q];
	if (s && s.failed) return 'failed:' + String(s.reason);
	if (s && s.ready) return 'ready';
	var v = globalThis[%q];
	if (v === undefined || v === null) return 'pending';
	if ((typeof v === 'object' || typeof v === 'function') && typeof v.then === 'function') return 'pending';
	return 'ready';
})()`

// GlobalWaiter is the task that settles once the bootstrap has published
// its API object as a global binding. It is polled once per scheduler tick
// and never spins on its own.
type GlobalWaiter struct {
	rt       core.JSRuntime
	name     string
	timeout  time.Duration
	deadline time.Time
	now      func() time.Time
}

// NewGlobalWaiter waits for globalThis[name]. A positive timeout fails the
// wait once it has elapsed since construction.
func NewGlobalWaiter(rt core.JSRuntime, name string, timeout time.Duration) *GlobalWaiter {
	w := &GlobalWaiter{rt: rt, name: name, timeout: timeout, now: time.Now}
	if timeout > 0 {
		w.deadline = w.now().Add(timeout)
	}
	return w
}

// Poll checks the binding once.
func (w *GlobalWaiter) Poll() (bool, error) {
	state, err := w.rt.EvalString(fmt.Sprintf(bootStateJS, BootStateGlobal, w.name))
	if err != nil {
		return true, fmt.Errorf("checking global %q: %w", w.name, err)
	}
	switch {
	case state == "ready":
		return true, nil
	case strings.HasPrefix(state, "failed:"):
		reason := strings.TrimPrefix(state, "failed:")
		if reason == "" {
			reason = "bootstrap reported failure"
		}
		return true, errors.New(reason)
	}
	if !w.deadline.IsZero() && !w.now().Before(w.deadline) {
		return true, fmt.Errorf("global %q not defined within %s", w.name, w.timeout)
	}
	return false, nil
}

// Deadline returns the boot timeout, if any.
func (w *GlobalWaiter) Deadline() (time.Time, bool) {
	return w.deadline, !w.deadline.IsZero()
}
