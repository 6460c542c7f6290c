//go:build v8

// Package v8engine is the V8 backend, selected with -tags v8.
package v8engine

import (
	"errors"
	"fmt"
	"sync"

	v8 "github.com/tommie/v8go"

	"github.com/cryguy/jscore/internal/core"
)

// engine implements core.JSRuntime on one isolate with a single context.
type engine struct {
	iso *v8.Isolate
	ctx *v8.Context

	mu     sync.Mutex // closed vs. a watchdog Interrupt from another goroutine
	closed bool
}

var _ core.JSRuntime = (*engine)(nil)

// New creates an isolate and its context. MemoryLimitMB above zero caps
// the heap, half of it for the young generation.
func New(cfg core.EngineConfig) (core.JSRuntime, error) {
	var iso *v8.Isolate
	if cfg.MemoryLimitMB > 0 {
		limit := uint64(cfg.MemoryLimitMB) << 20
		iso = v8.NewIsolate(v8.WithResourceConstraints(limit/2, limit))
	} else {
		iso = v8.NewIsolate()
	}
	return &engine{iso: iso, ctx: v8.NewContext(iso)}, nil
}

func (e *engine) run(js, origin string) (*v8.Value, error) {
	v, err := e.ctx.RunScript(js, origin)
	if err != nil {
		return nil, err
	}
	if v == nil {
		v = v8.Undefined(e.iso)
	}
	return v, nil
}

func (e *engine) Eval(js string) error {
	_, err := e.run(js, "eval.js")
	return err
}

func (e *engine) EvalString(js string) (string, error) {
	v, err := e.run(js, "eval.js")
	if err != nil {
		return "", err
	}
	if v.IsUndefined() {
		return "", nil
	}
	return v.String(), nil
}

func (e *engine) EvalBool(js string) (bool, error) {
	v, err := e.run(js, "eval.js")
	if err != nil {
		return false, err
	}
	if !v.IsBoolean() {
		return false, fmt.Errorf("expected a boolean result, got %s", v.String())
	}
	return v.Boolean(), nil
}

// EvalInto reports script exceptions as *core.EvaluationError with V8's
// stack trace attached.
func (e *engine) EvalInto(js, name string) error {
	v, err := e.run(js, "script.js")
	if err != nil {
		var jsErr *v8.JSError
		if errors.As(err, &jsErr) {
			return &core.EvaluationError{Message: jsErr.Message, Stack: jsErr.StackTrace}
		}
		return err
	}
	return e.ctx.Global().Set(name, v)
}

func (e *engine) RegisterFunc(name string, fn any) error {
	b, err := newBinding(name, fn)
	if err != nil {
		return err
	}
	tmpl := v8.NewFunctionTemplate(e.iso, func(info *v8.FunctionCallbackInfo) *v8.Value {
		v, err := b.call(e.iso, info.Args())
		if err != nil {
			e.throwTypeError(err.Error())
			return nil
		}
		return v
	})
	return e.ctx.Global().Set(name, tmpl.GetFunction(e.ctx))
}

// throwTypeError throws new TypeError(msg) into the running script, or a
// plain string when the constructor cannot be reached.
func (e *engine) throwTypeError(msg string) {
	m, err := v8.NewValue(e.iso, msg)
	if err != nil {
		return
	}
	if ctor, err := e.ctx.Global().Get("TypeError"); err == nil {
		if fn, err := ctor.AsFunction(); err == nil {
			if exc, err := fn.Call(v8.Undefined(e.iso), m); err == nil {
				e.iso.ThrowException(exc)
				return
			}
		}
	}
	e.iso.ThrowException(m)
}

func (e *engine) RunMicrotasks() {
	e.ctx.PerformMicrotaskCheckpoint()
}

// Interrupt is safe from any goroutine and does nothing after Close.
func (e *engine) Interrupt() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.iso.TerminateExecution()
	}
}

func (e *engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	e.ctx.Close()
	e.iso.Dispose()
}
