// Package webapi installs the host surface a bootstrap script relies on:
// timers, console, encoding helpers, host operations, the boot callbacks and
// the glue the worker uses to evaluate requests and serialize results.
package webapi

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cryguy/jscore/internal/core"
	"github.com/cryguy/jscore/internal/eventloop"
)

// SetupFunc configures an engine with one piece of the host surface.
type SetupFunc func(rt core.JSRuntime, el *eventloop.EventLoop) error

// Options controls what BuildSetupFuncs installs.
type Options struct {
	// Context bounds host operations started by scripts. It is cancelled
	// when the worker exits.
	Context context.Context

	// Logger receives console output (named "console").
	Logger *zap.Logger

	// HostFuncs are callable from scripts through host.call(name, payload).
	HostFuncs map[string]core.HostFunc
}

// BuildSetupFuncs returns the setup functions for a fresh engine, in the
// order they must run.
func BuildSetupFuncs(opts Options) []SetupFunc {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	return []SetupFunc{
		SetupGlobals,
		SetupEncoding,
		SetupTimers,
		SetupConsole(logger.Named("console")),
		SetupHostOps(ctx, opts.HostFuncs),
		SetupBootSignal,
		SetupEvaluation,
	}
}

// RunSetup applies fns in order and stops at the first failure.
func RunSetup(rt core.JSRuntime, el *eventloop.EventLoop, fns []SetupFunc) error {
	for i, setup := range fns {
		if err := setup(rt, el); err != nil {
			return fmt.Errorf("setup step %d: %w", i, err)
		}
	}
	return nil
}
