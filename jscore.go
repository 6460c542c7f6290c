// Package jscore hosts a single-threaded JavaScript engine inside a Go
// program and exposes it through a request/response Handle that any
// goroutine may call.
//
//	h := jscore.Start(cfg)
//	if err := h.Initialized(ctx); err != nil { ... }
//	out, err := h.Execute(ctx, "core.version()")
//
// The engine lives on a dedicated OS thread. It bootstraps from the
// configured main module and is ready once the bootstrap defines the core
// binding (globalThis.core by default).
package jscore

import (
	"context"

	"go.uber.org/zap"

	"github.com/cryguy/jscore/internal/bridge"
	"github.com/cryguy/jscore/internal/core"
	"github.com/cryguy/jscore/internal/metrics"
	"github.com/cryguy/jscore/internal/telemetry"
	"github.com/cryguy/jscore/internal/worker"
)

type (
	// Handle is the caller side of a running engine.
	Handle = bridge.Handle
	// HostFunc is a Go operation scripts reach through host.call.
	HostFunc = core.HostFunc
	// BootstrapError is returned by Initialized when the engine failed to
	// boot.
	BootstrapError = core.BootstrapError
	// EvaluationError is returned by Execute when a script failed.
	EvaluationError = core.EvaluationError
	// Metrics collects Prometheus metrics for one or more handles.
	Metrics = metrics.Metrics
	// Tracer starts OpenTelemetry spans for Execute calls.
	Tracer = telemetry.Tracer
	// TracingConfig configures the OTLP exporter.
	TracingConfig = telemetry.Config
)

var (
	ErrChannelClosed   = core.ErrChannelClosed
	ErrEventLoopExited = core.ErrEventLoopExited
	ErrInterrupted     = core.ErrInterrupted
)

// NewMetrics returns a Metrics backed by its own registry.
func NewMetrics() *Metrics {
	return metrics.New()
}

// NewTracer sets up OTLP tracing as described by cfg. A disabled config
// yields a Tracer that records nothing.
func NewTracer(ctx context.Context, cfg TracingConfig) (*Tracer, error) {
	return telemetry.Setup(ctx, cfg)
}

// Option customizes Start.
type Option func(*options)

type options struct {
	logger    *zap.Logger
	metrics   *metrics.Metrics
	tracer    *telemetry.Tracer
	hostFuncs map[string]core.HostFunc
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records bridge and worker metrics into m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTracer wraps every Execute call in a span.
func WithTracer(t *Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// WithHostFunc exposes fn to scripts as host.call(name, payload).
func WithHostFunc(name string, fn HostFunc) Option {
	return func(o *options) {
		if o.hostFuncs == nil {
			o.hostFuncs = make(map[string]core.HostFunc)
		}
		o.hostFuncs[name] = fn
	}
}

// Start launches an engine worker for cfg and returns immediately. Use
// Initialized to wait for the bootstrap to finish.
func Start(cfg Config, opts ...Option) *Handle {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return bridge.Start(worker.Config{
		Engine:    cfg.engineConfig(),
		Main:      cfg.mainModule(),
		Factory:   newRuntime,
		HostFuncs: o.hostFuncs,
		Logger:    o.logger,
		Metrics:   o.metrics,
	}, o.tracer)
}
