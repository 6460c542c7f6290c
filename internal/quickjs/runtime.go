//go:build !v8

// Package quickjs is the default engine backend, built on the pure-Go
// modernc.org/quickjs port.
package quickjs

import (
	"fmt"
	"sync"

	"modernc.org/quickjs"

	"github.com/cryguy/jscore/internal/core"
)

// engine implements core.JSRuntime on a QuickJS VM.
type engine struct {
	vm   *quickjs.VM
	jobs jobQueue

	mu     sync.Mutex // closed vs. a watchdog Interrupt from another goroutine
	closed bool
}

var _ core.JSRuntime = (*engine)(nil)

// New creates a QuickJS VM. MemoryLimitMB above zero caps its heap.
func New(cfg core.EngineConfig) (core.JSRuntime, error) {
	vm, err := quickjs.NewVM()
	if err != nil {
		return nil, fmt.Errorf("creating QuickJS VM: %w", err)
	}
	if cfg.MemoryLimitMB > 0 {
		vm.SetMemoryLimit(uintptr(cfg.MemoryLimitMB) << 20)
	}
	jobs, err := newJobQueue(vm)
	if err != nil {
		vm.Close()
		return nil, err
	}
	return &engine{vm: vm, jobs: jobs}, nil
}

func (e *engine) Eval(js string) error {
	v, err := e.vm.EvalValue(js, quickjs.EvalGlobal)
	if err != nil {
		return err
	}
	v.Free()
	return nil
}

func (e *engine) EvalString(js string) (string, error) {
	res, err := e.vm.Eval(js, quickjs.EvalGlobal)
	switch {
	case err != nil:
		return "", err
	case res == nil:
		return "", nil
	}
	if s, ok := res.(string); ok {
		return s, nil
	}
	return fmt.Sprint(res), nil
}

func (e *engine) EvalBool(js string) (bool, error) {
	res, err := e.vm.Eval(js, quickjs.EvalGlobal)
	if err != nil {
		return false, err
	}
	b, ok := res.(bool)
	if !ok {
		return false, fmt.Errorf("expected a boolean result, got %T", res)
	}
	return b, nil
}

// EvalInto keeps the completion value as a JS value: it is handed to the
// global object without a round trip through Go types.
func (e *engine) EvalInto(js, name string) error {
	v, err := e.vm.EvalValue(js, quickjs.EvalGlobal)
	if err != nil {
		return err
	}
	defer v.Free()

	atom, err := e.vm.NewAtom(name)
	if err != nil {
		return fmt.Errorf("creating atom %q: %w", name, err)
	}
	global := e.vm.GlobalObject()
	defer global.Free()
	return global.SetProperty(atom, v)
}

// RegisterFunc installs fn under a private name and wraps it. The wrapper
// turns the [value, error] pairs QuickJS produces for (T, error) results
// into a return or a thrown TypeError.
func (e *engine) RegisterFunc(name string, fn any) error {
	private := "__go_" + name
	if err := e.vm.RegisterFunc(private, fn, false); err != nil {
		return fmt.Errorf("registering %s: %w", name, err)
	}
	return e.Eval(fmt.Sprintf(`(function (g) {
	var fn = g[%[1]q];
	delete g[%[1]q];
	g[%[2]q] = function () {
		var out = fn.apply(null, arguments);
		if (!Array.isArray(out) || out.length !== 2) return out;
		if (out[1] != null) throw new TypeError(%[2]q + ": " + out[1]);
		return out[0];
	};
})(globalThis)`, private, name))
}

func (e *engine) RunMicrotasks() {
	e.jobs.drain()
}

// Interrupt is safe from any goroutine and does nothing after Close.
func (e *engine) Interrupt() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.vm.Interrupt()
	}
}

func (e *engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	e.vm.Close()
}
