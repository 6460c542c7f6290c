package webapi

import (
	"fmt"

	"github.com/cryguy/jscore/internal/core"
	"github.com/cryguy/jscore/internal/eventloop"
)

// SetupBootSignal installs __jscore_ready() and __jscore_fail(reason). A
// bootstrap may call them to end the boot wait explicitly instead of (or
// before) publishing its core binding.
func SetupBootSignal(rt core.JSRuntime, _ *eventloop.EventLoop) error {
	js := fmt.Sprintf(`
(function() {
	var state = { ready: false, failed: false, reason: '' };
	Object.defineProperty(globalThis, %[1]q, { value: state, writable: false, configurable: false });
	globalThis.__jscore_ready = function() {
		if (!state.failed) state.ready = true;
	};
	globalThis.__jscore_fail = function(reason) {
		if (state.ready) return;
		state.failed = true;
		if (reason instanceof Error) state.reason = reason.message;
		else if (reason === undefined) state.reason = '';
		else state.reason = String(reason);
	};
})();
`, eventloop.BootStateGlobal)
	return rt.Eval(js)
}
