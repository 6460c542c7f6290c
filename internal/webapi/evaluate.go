package webapi

import (
	"encoding/json"
	"fmt"

	"github.com/cryguy/jscore/internal/core"
	"github.com/cryguy/jscore/internal/eventloop"
)

// evaluationJS holds the per-request bookkeeping for scripts whose
// completion value is a promise. Results are serialized on the JS side:
// strings are returned as-is, undefined as "undefined", and everything else
// through JSON.stringify with String() as the fallback. The builtins are
// captured at install time and the entry points are read-only, so scripts
// that replace JSON or Promise, or return hostile values, only fail their
// own request.
const evaluationJS = `
(function() {
	var stringify = JSON.stringify;
	var toString = String;
	var ErrorCtor = Error;
	var NativePromise = Promise;
	var resolve = Promise.resolve;
	var then = Promise.prototype.then;
	var defineProperty = Object.defineProperty;
	var awaiting = {};

	function serialize(v) {
		if (typeof v === 'string') return v;
		if (v === undefined) return 'undefined';
		if (typeof v === 'function' || typeof v === 'symbol' || typeof v === 'bigint') return toString(v);
		var s;
		try {
			s = stringify(v);
		} catch (e) {
			s = undefined;
		}
		return s === undefined ? toString(v) : s;
	}
	function describe(e) {
		try {
			if (e instanceof ErrorCtor) {
				var msg = e.message ? toString(e.message) : toString(e.name || 'Error');
				if (e.name && e.name !== 'Error') msg = e.name + ': ' + msg;
				return { m: msg, st: e.stack ? toString(e.stack) : '' };
			}
			return { m: serialize(e), st: '' };
		} catch (inner) {
			return { m: 'value could not be described', st: '' };
		}
	}
	function failed(e) {
		var d = describe(e);
		return { s: 'err', m: d.m, st: d.st };
	}
	function isThenable(v) {
		return v !== null && (typeof v === 'object' || typeof v === 'function') && typeof v.then === 'function';
	}
	function settle(slot) {
		try {
			var v = globalThis[slot];
			delete globalThis[slot];
			if (!isThenable(v)) return stringify({ s: 'ok', v: serialize(v) });
			var entry = { s: 'pending' };
			awaiting[slot] = entry;
			then.call(resolve.call(NativePromise, v), function(r) {
				try {
					entry.v = serialize(r);
					entry.s = 'ok';
				} catch (e) {
					var f = failed(e);
					entry.s = f.s; entry.m = f.m; entry.st = f.st;
				}
			}, function(e) {
				var f = failed(e);
				entry.s = f.s; entry.m = f.m; entry.st = f.st;
			});
			return stringify(entry);
		} catch (e) {
			delete awaiting[slot];
			return stringify(failed(e));
		}
	}
	function poll(slot) {
		var entry = awaiting[slot];
		if (!entry) return stringify({ s: 'err', m: 'no evaluation awaiting in ' + slot });
		if (entry.s !== 'pending') delete awaiting[slot];
		return stringify(entry);
	}
	function forget(slot) {
		delete awaiting[slot];
	}
	var fns = { __jscore_settle: settle, __jscore_poll: poll, __jscore_forget: forget };
	for (var name in fns) {
		defineProperty(globalThis, name, { value: fns[name], writable: false, enumerable: false, configurable: false });
	}
})();
`

type evalState struct {
	State   string `json:"s"`
	Value   string `json:"v"`
	Message string `json:"m"`
	Stack   string `json:"st"`
}

// SetupEvaluation installs the evaluation glue used by Evaluate and Poll.
func SetupEvaluation(rt core.JSRuntime, _ *eventloop.EventLoop) error {
	if err := rt.Eval(evaluationJS); err != nil {
		return fmt.Errorf("evaluating evaluation glue: %w", err)
	}
	return nil
}

// Evaluate runs script at global scope. When the completion value is a
// thenable, pending is true and the outcome must be collected with Poll
// using the same slot. Script failures are returned as
// *core.EvaluationError; any other error means the engine itself
// misbehaved.
func Evaluate(rt core.JSRuntime, slot, script string) (result string, pending bool, err error) {
	if err := rt.EvalInto(script, slot); err != nil {
		return "", false, core.NewEvaluationError(err)
	}
	st, err := readState(rt, "__jscore_settle", slot)
	if err != nil {
		return "", false, core.NewEvaluationError(err)
	}
	return st.outcome()
}

// Poll reports whether the promise returned by an earlier Evaluate call on
// slot has settled, and its outcome if so.
func Poll(rt core.JSRuntime, slot string) (result string, settled bool, err error) {
	st, err := readState(rt, "__jscore_poll", slot)
	if err != nil {
		return "", true, core.NewEvaluationError(err)
	}
	result, pending, err := st.outcome()
	return result, !pending, err
}

// Forget drops the bookkeeping for slot, e.g. when its caller went away.
func Forget(rt core.JSRuntime, slot string) {
	_ = rt.Eval(fmt.Sprintf("__jscore_forget(%s)", eventloop.JSString(slot)))
}

func readState(rt core.JSRuntime, fn, slot string) (evalState, error) {
	var st evalState
	raw, err := rt.EvalString(fmt.Sprintf("%s(%s)", fn, eventloop.JSString(slot)))
	if err != nil {
		return st, fmt.Errorf("reading evaluation state: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return st, fmt.Errorf("decoding evaluation state: %w", err)
	}
	return st, nil
}

func (st evalState) outcome() (string, bool, error) {
	switch st.State {
	case "ok":
		return st.Value, false, nil
	case "pending":
		return "", true, nil
	case "err":
		msg := st.Message
		if msg == "" {
			msg = "promise rejected"
		}
		return "", false, &core.EvaluationError{Message: msg, Stack: st.Stack}
	default:
		return "", false, &core.EvaluationError{Message: fmt.Sprintf("unexpected evaluation state %q", st.State)}
	}
}
