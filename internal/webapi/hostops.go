package webapi

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/cryguy/jscore/internal/core"
	"github.com/cryguy/jscore/internal/eventloop"
)

// hostOpsJS implements host.call on top of __hostCall. The promise is
// parked in __hostPromises until the event loop settles it through
// __hostSettle on the engine thread.
const hostOpsJS = `
(function() {
	globalThis.__hostPromises = {};
	globalThis.host = Object.freeze({
		names: function() { return JSON.parse(__hostNames()); },
		call: function(name, payload) {
			var arg;
			if (payload === undefined) arg = '';
			else if (typeof payload === 'string') arg = payload;
			else arg = JSON.stringify(payload);
			return new Promise(function(resolve, reject) {
				var id = __hostCall(String(name), arg);
				globalThis.__hostPromises[id] = { resolve: resolve, reject: reject };
			});
		},
	});
	globalThis.__hostSettle = function(id, ok, value) {
		var p = globalThis.__hostPromises[id];
		if (!p) return;
		delete globalThis.__hostPromises[id];
		if (ok) p.resolve(value);
		else p.reject(new Error(value));
	};
})();
`

// SetupHostOps returns a setup function exposing funcs to scripts. Each
// call runs on its own goroutine with ctx; the event loop delivers the
// result back to JS. Calling an unknown name rejects immediately.
func SetupHostOps(ctx context.Context, funcs map[string]core.HostFunc) SetupFunc {
	names := make([]string, 0, len(funcs))
	for name := range funcs {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(rt core.JSRuntime, el *eventloop.EventLoop) error {
		if err := rt.RegisterFunc("__hostCall", func(name, payload string) (string, error) {
			fn, ok := funcs[name]
			if !ok {
				return "", fmt.Errorf("unknown host function %q", name)
			}
			return el.Go(func() eventloop.OpResult {
				if err := ctx.Err(); err != nil {
					return eventloop.OpResult{Err: err}
				}
				v, err := fn(ctx, payload)
				return eventloop.OpResult{Value: v, Err: err}
			}), nil
		}); err != nil {
			return err
		}

		if err := rt.RegisterFunc("__hostNames", func() string {
			quoted := make([]string, len(names))
			for i, n := range names {
				quoted[i] = eventloop.JSString(n)
			}
			return "[" + strings.Join(quoted, ",") + "]"
		}); err != nil {
			return err
		}

		return rt.Eval(hostOpsJS)
	}
}
