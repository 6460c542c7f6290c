package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cryguy/jscore"
)

// app holds the persistent flags and the process-wide services built from
// them.
type app struct {
	configPath  string
	logLevel    string
	metricsAddr string
	mainModule  string
	initScript  string
	binding     string
	levelSet    bool // --log-level given explicitly

	cfg     jscore.Config
	logger  *zap.Logger
	metrics *jscore.Metrics
	tracer  *jscore.Tracer
	server  *http.Server
}

// run sets up the process services, boots an engine and calls fn with it.
// Everything is torn down when fn returns or the process is interrupted.
func (a *app) run(ctx context.Context, fn func(context.Context, *jscore.Handle) error) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.setup(ctx); err != nil {
		return err
	}
	defer a.shutdown()

	h, err := a.start(ctx)
	if err != nil {
		return err
	}
	defer closeHandle(h)
	return fn(ctx, h)
}

// setup loads configuration and starts logging, metrics and tracing.
func (a *app) setup(ctx context.Context) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	a.cfg = cfg

	level := a.logLevel
	if !a.levelSet && a.configPath != "" && cfg.LogLevel != "" {
		level = cfg.LogLevel
	}
	if a.logger, err = newLogger(level); err != nil {
		return err
	}

	a.metrics = jscore.NewMetrics()
	if addr := firstNonEmpty(a.metricsAddr, cfg.MetricsAddr); addr != "" {
		a.serveMetrics(addr)
	}

	if a.tracer, err = jscore.NewTracer(ctx, cfg.Tracing); err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	return nil
}

func (a *app) loadConfig() (jscore.Config, error) {
	cfg := jscore.DefaultConfig()
	if a.configPath != "" {
		var err error
		if cfg, err = jscore.LoadConfig(a.configPath); err != nil {
			return cfg, err
		}
	}
	if a.mainModule != "" {
		cfg.MainModule = a.mainModule
	}
	if a.initScript != "" {
		cfg.InitScript = a.initScript
	}
	if a.binding != "" {
		cfg.CoreBinding = a.binding
	}
	if cfg.MainModule == "" && cfg.MainSource == "" {
		return cfg, errors.New("no main module: use --main or set main_module in the config file")
	}
	return cfg, cfg.Validate()
}

// start boots an engine and waits for it to become ready.
func (a *app) start(ctx context.Context, opts ...jscore.Option) (*jscore.Handle, error) {
	opts = append([]jscore.Option{
		jscore.WithLogger(a.logger),
		jscore.WithMetrics(a.metrics),
		jscore.WithTracer(a.tracer),
	}, opts...)
	h := jscore.Start(a.cfg, opts...)
	if err := h.Initialized(ctx); err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("starting engine: %w", err)
	}
	a.logger.Debug("engine ready", zap.String("engine", jscore.Engine))
	return h, nil
}

// shutdown stops the services started by setup.
func (a *app) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if a.server != nil {
		_ = a.server.Shutdown(ctx)
	}
	if err := a.tracer.Shutdown(ctx); err != nil {
		a.logger.Warn("flushing traces", zap.Error(err))
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

func (a *app) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	a.server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server", zap.Error(err))
		}
	}()
	a.logger.Info("serving metrics", zap.String("addr", addr))
}

// closeHandle shuts an engine down and waits briefly for its worker.
func closeHandle(h *jscore.Handle) {
	_ = h.Close()
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
