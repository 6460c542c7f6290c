package core

// JSRuntime abstracts the JavaScript engine (QuickJS or V8) behind a
// common interface used by the setup functions in internal/webapi, the
// event loop in internal/eventloop and the engine worker.
//
// A JSRuntime is owned by exactly one goroutine. Interrupt is the only
// method that may be called from another goroutine.
type JSRuntime interface {
	// Eval evaluates JavaScript source and discards the result.
	Eval(js string) error

	// EvalString evaluates JavaScript and returns the result as a Go string.
	EvalString(js string) (string, error)

	// EvalBool evaluates JavaScript and returns the result as a Go bool.
	EvalBool(js string) (bool, error)

	// EvalInto evaluates JavaScript at global scope and stores the
	// completion value in globalThis[name] without converting it to Go.
	// Declarations made by the script stay visible to later evaluations.
	EvalInto(js, name string) error

	// RegisterFunc exposes a Go function as globalThis[name]. Parameters
	// and results may be string, int, float64 or bool; a trailing error
	// result makes the JS function throw a TypeError when non-nil.
	RegisterFunc(name string, fn any) error

	// RunMicrotasks pumps the microtask queue (Promise callbacks, etc.).
	// V8: PerformMicrotaskCheckpoint, QuickJS: ExecutePendingJob loop.
	RunMicrotasks()

	// Interrupt aborts the evaluation currently running on the owning
	// goroutine. Safe to call from any goroutine.
	Interrupt()

	// Close releases the engine. The runtime must not be used afterwards.
	Close()
}

// RuntimeFactory constructs a fresh engine instance. It is called on the
// goroutine that will own the returned runtime.
type RuntimeFactory func(cfg EngineConfig) (JSRuntime, error)
