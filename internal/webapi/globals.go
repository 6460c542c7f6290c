package webapi

import (
	"fmt"
	"time"

	"github.com/cryguy/jscore/internal/core"
	"github.com/cryguy/jscore/internal/eventloop"
)

// globalsJS defines the small globals that need no Go state.
const globalsJS = `
globalThis.queueMicrotask = function(fn) {
	if (typeof fn !== 'function') {
		throw new TypeError('queueMicrotask: argument must be a function');
	}
	Promise.resolve().then(fn);
};
globalThis.performance = {
	now: function() { return __performanceNow(); },
	timeOrigin: __timeOrigin(),
};
`

// SetupGlobals registers queueMicrotask and performance.
func SetupGlobals(rt core.JSRuntime, _ *eventloop.EventLoop) error {
	startTime := time.Now()
	if err := rt.RegisterFunc("__performanceNow", func() float64 {
		return float64(time.Since(startTime).Nanoseconds()) / 1e6
	}); err != nil {
		return err
	}
	if err := rt.RegisterFunc("__timeOrigin", func() float64 {
		return float64(startTime.UnixNano()) / 1e6
	}); err != nil {
		return err
	}

	if err := rt.Eval(globalsJS); err != nil {
		return fmt.Errorf("evaluating globals.js: %w", err)
	}
	return nil
}
