package eventloop

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cryguy/jscore/internal/core"
)

// DriverOptions configures a Driver.
type DriverOptions struct {
	// KeepAlive reports whether more work may still arrive from outside the
	// engine (the request mailbox is open). While it returns true the driver
	// never settles successfully. A nil KeepAlive always keeps it alive.
	KeepAlive func() bool

	// FatalUncaught settles the driver with an error when a timer or
	// host-op callback throws. Otherwise the exception is logged.
	FatalUncaught bool

	// MaxTimersPerTick bounds the callbacks fired per poll.
	MaxTimersPerTick int

	// Wake requests another scheduler tick after the driver ran callbacks,
	// so promise chains they unblocked are observed without waiting.
	Wake func()

	Logger *zap.Logger
}

// Driver is the task that keeps the engine's event loop turning: microtasks,
// due timers and completed host operations. It implements Task and
// Deadliner.
type Driver struct {
	rt   core.JSRuntime
	el   *EventLoop
	opts DriverOptions
}

// NewDriver creates a driver for rt and el.
func NewDriver(rt core.JSRuntime, el *EventLoop, opts DriverOptions) *Driver {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxTimersPerTick <= 0 {
		opts.MaxTimersPerTick = core.DefaultMaxTimersPerTick
	}
	return &Driver{rt: rt, el: el, opts: opts}
}

// Poll runs one turn of the event loop. It settles successfully only when
// nothing is pending and KeepAlive says no more work can arrive.
func (d *Driver) Poll() (bool, error) {
	d.rt.RunMicrotasks()

	didWork, err := d.el.RunDue(d.rt, d.opts.MaxTimersPerTick)
	if err != nil {
		if d.opts.FatalUncaught {
			return true, fmt.Errorf("uncaught exception in event loop callback: %w", err)
		}
		d.opts.Logger.Warn("uncaught exception in event loop callback", zap.Error(err))
	}
	if didWork && d.opts.Wake != nil {
		d.opts.Wake()
	}

	if d.el.HasPending() {
		return false, nil
	}
	if d.opts.KeepAlive == nil || d.opts.KeepAlive() {
		return false, nil
	}
	return true, nil
}

// Deadline returns the next timer deadline.
func (d *Driver) Deadline() (time.Time, bool) {
	return d.el.NextDeadline()
}
