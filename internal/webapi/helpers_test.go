//go:build !v8

package webapi

import (
	"context"
	"testing"
	"time"

	"github.com/cryguy/jscore/internal/core"
	"github.com/cryguy/jscore/internal/eventloop"
	"github.com/cryguy/jscore/internal/quickjs"
)

// newTestRuntime returns a QuickJS engine with the full host surface
// installed.
func newTestRuntime(t *testing.T, funcs map[string]core.HostFunc) (core.JSRuntime, *eventloop.EventLoop) {
	t.Helper()
	rt, err := quickjs.New(core.EngineConfig{})
	if err != nil {
		t.Fatalf("creating runtime: %v", err)
	}
	t.Cleanup(rt.Close)

	el := eventloop.New()
	if err := RunSetup(rt, el, BuildSetupFuncs(Options{HostFuncs: funcs})); err != nil {
		t.Fatalf("setup: %v", err)
	}
	return rt, el
}

// evalSync evaluates script and requires a synchronous result.
func evalSync(t *testing.T, rt core.JSRuntime, script string) string {
	t.Helper()
	result, pending, err := Evaluate(rt, "__test_slot", script)
	if err != nil {
		t.Fatalf("Evaluate(%q): %v", script, err)
	}
	if pending {
		t.Fatalf("Evaluate(%q) returned a pending promise", script)
	}
	return result
}

// evalAwait evaluates script and drives the event loop until its promise
// settles.
func evalAwait(t *testing.T, rt core.JSRuntime, el *eventloop.EventLoop, script string) (string, error) {
	t.Helper()
	const slot = "__test_await"
	result, pending, err := Evaluate(rt, slot, script)
	if err != nil || !pending {
		return result, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		rt.RunMicrotasks()
		if _, err := el.RunDue(rt, 0); err != nil {
			t.Fatalf("event loop: %v", err)
		}
		result, settled, err := Poll(rt, slot)
		if settled {
			return result, err
		}
		select {
		case <-ctx.Done():
			t.Fatalf("promise from %q never settled", script)
		case <-time.After(time.Millisecond):
		}
	}
}
