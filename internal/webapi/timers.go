package webapi

import (
	"time"

	"github.com/cryguy/jscore/internal/core"
	"github.com/cryguy/jscore/internal/eventloop"
)

// timersJS keeps the callbacks on the JS side, keyed by the id the Go event
// loop hands out. Only scheduling metadata lives in Go.
const timersJS = `
(function() {
	globalThis.__timerCallbacks = {};
	function schedule(fn, delay, args, repeat) {
		if (typeof fn !== 'function') {
			return 0;
		}
		var ms = Number(delay);
		if (!isFinite(ms) || ms < 0) ms = 0;
		var id = __timerRegister(Math.floor(ms), repeat);
		globalThis.__timerCallbacks[id] = { fn: fn, args: args, interval: repeat };
		return id;
	}
	globalThis.setTimeout = function(fn, delay) {
		return schedule(fn, delay, Array.prototype.slice.call(arguments, 2), false);
	};
	globalThis.setInterval = function(fn, interval) {
		return schedule(fn, interval, Array.prototype.slice.call(arguments, 2), true);
	};
	globalThis.clearTimeout = globalThis.clearInterval = function(id) {
		if (typeof id !== 'number') {
			return;
		}
		__timerClear(id);
		delete globalThis.__timerCallbacks[id];
	};
})();
`

// SetupTimers registers Go-backed setTimeout/setInterval/clearTimeout/clearInterval.
func SetupTimers(rt core.JSRuntime, el *eventloop.EventLoop) error {
	if err := rt.RegisterFunc("__timerRegister", func(delayMs int, isInterval bool) int {
		return el.RegisterTimer(time.Duration(delayMs)*time.Millisecond, isInterval)
	}); err != nil {
		return err
	}

	if err := rt.RegisterFunc("__timerClear", func(id int) {
		el.ClearTimer(id)
	}); err != nil {
		return err
	}

	return rt.Eval(timersJS)
}
