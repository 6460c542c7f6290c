// Package worker runs the engine on a dedicated OS thread. The worker owns
// the runtime exclusively: it bootstraps it, signals readiness and then
// serves requests from the request mailbox until the mailbox is closed.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/cryguy/jscore/internal/core"
	"github.com/cryguy/jscore/internal/eventloop"
	"github.com/cryguy/jscore/internal/mailbox"
	"github.com/cryguy/jscore/internal/metrics"
	"github.com/cryguy/jscore/internal/webapi"
)

var (
	errPanic = errors.New("worker panic")
	errIdle  = errors.New("promise can never settle: the event loop is idle")
)

// Config holds everything the worker needs to build and boot an engine.
type Config struct {
	Engine    core.EngineConfig
	Main      webapi.MainModule
	Factory   core.RuntimeFactory
	HostFuncs map[string]core.HostFunc
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

// Worker is a running engine worker.
type Worker struct {
	cfg       Config
	requests  *mailbox.Mailbox[core.Request]
	responses *mailbox.Mailbox[core.Response]
	logger    *zap.Logger

	done chan struct{}
	err  error
}

// Start spawns the worker goroutine and returns immediately. The worker
// reads requests and writes responses; it closes both mailboxes when it
// exits.
func Start(cfg Config, requests *mailbox.Mailbox[core.Request], responses *mailbox.Mailbox[core.Response]) *Worker {
	cfg.Engine = cfg.Engine.WithDefaults()
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	w := &Worker{
		cfg:       cfg,
		requests:  requests,
		responses: responses,
		logger:    cfg.Logger.Named("worker"),
		done:      make(chan struct{}),
	}
	go w.run()
	return w
}

// Done is closed once the worker has exited.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Err returns the worker's terminal error once Done is closed. It is nil
// after a clean shutdown.
func (w *Worker) Err() error {
	select {
	case <-w.done:
		return w.err
	default:
		return nil
	}
}

func (w *Worker) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var err error
	func() {
		defer func() {
			if p := recover(); p != nil {
				w.logger.Error("worker panicked", zap.Any("panic", p), zap.Stack("stack"))
				err = fmt.Errorf("%w: %v", errPanic, p)
			}
		}()
		err = w.serve()
	}()
	w.exit(err)
}

func (w *Worker) exit(err error) {
	reason := exitReason(err)
	w.cfg.Metrics.RecordWorkerExit(reason)
	if err != nil {
		w.logger.Warn("worker exited", zap.String("reason", reason), zap.Error(err))
	} else {
		w.logger.Info("worker exited", zap.String("reason", reason))
	}

	w.err = err
	reasonErr := err
	if errors.Is(err, core.ErrChannelClosed) {
		reasonErr = nil
	}
	w.requests.Close(reasonErr)
	w.responses.Close(reasonErr)
	close(w.done)
}

func (w *Worker) serve() error {
	start := time.Now()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := eventloop.NewScheduler(w.logger)
	w.requests.OnSend(sched.Wake)
	defer func() { w.cfg.Metrics.AddTicks(sched.Ticks()) }()

	rt, err := w.cfg.Factory(w.cfg.Engine)
	if err != nil {
		return w.bootFailed(start, core.PhaseSetup, fmt.Errorf("creating engine: %w", err))
	}
	defer rt.Close()

	wd := watchdog{rt: rt, timeout: w.cfg.Engine.ScriptTimeout}
	el := eventloop.New()
	el.SetWake(sched.Wake)

	setup := webapi.BuildSetupFuncs(webapi.Options{
		Context:   ctx,
		Logger:    w.cfg.Logger,
		HostFuncs: instrumentHostFuncs(w.cfg.HostFuncs, w.cfg.Metrics),
	})
	if err := webapi.RunSetup(rt, el, setup); err != nil {
		return w.bootFailed(start, core.PhaseSetup, err)
	}

	code, name, err := webapi.PrepareMainModule(w.cfg.Main)
	if err != nil {
		return w.bootFailed(start, core.PhaseBundle, err)
	}
	if code != "" {
		if err := evalGuarded(wd, rt, code); err != nil {
			return w.bootFailed(start, core.PhaseMainModule, fmt.Errorf("%s: %w", name, err))
		}
	}
	if init := w.cfg.Engine.InitScript; init != "" {
		if err := evalGuarded(wd, rt, init); err != nil {
			return w.bootFailed(start, core.PhaseInit, err)
		}
	}

	keepAlive := func() bool {
		return !w.requests.Closed() || w.requests.Len() > 0
	}
	driver := sched.Spawn("event-loop", guardedTask{
		Task: eventloop.NewDriver(rt, el, eventloop.DriverOptions{
			KeepAlive:        keepAlive,
			FatalUncaught:    w.cfg.Engine.FatalUncaught,
			MaxTimersPerTick: w.cfg.Engine.MaxTimersPerTick,
			Wake:             sched.Wake,
			Logger:           w.logger,
		}),
		wd: wd,
	})
	waiter := sched.Spawn("core-binding", eventloop.NewGlobalWaiter(rt, w.cfg.Engine.CoreBinding, w.cfg.Engine.BootTimeout))

	first, err := sched.RunUntil(ctx, waiter, driver)
	if err != nil {
		return err
	}
	switch {
	case first == waiter && waiter.Err() == nil:
	case first == waiter:
		return w.bootFailed(start, core.PhaseWaiter, waiter.Err())
	case driver.Err() != nil:
		return w.bootFailed(start, core.PhaseEventLoop, driver.Err())
	case w.requests.Closed():
		w.logger.Info("handle closed during bootstrap")
		return core.ErrChannelClosed
	default:
		w.logger.Error("event loop exited before the core binding was defined")
		return w.bootFailed(start, core.PhaseEventLoop, core.ErrEventLoopExited)
	}

	w.cfg.Metrics.RecordBoot(true, time.Since(start))
	w.logger.Info("engine initialized",
		zap.String("binding", w.cfg.Engine.CoreBinding),
		zap.Duration("elapsed", time.Since(start)))
	if err := w.responses.Send(core.Response{ID: core.BootSignalID, Result: core.BootSignalID}); err != nil {
		return err
	}

	d := &dispatcher{
		rt:        rt,
		requests:  w.requests,
		responses: w.responses,
		wd:        wd,
		batch:     w.cfg.Engine.DispatchBatch,
		wake:      sched.Wake,
		logger:    w.logger,
		metrics:   w.cfg.Metrics,
	}
	dispatch := sched.Spawn("dispatch", d)

	first, err = sched.RunUntil(ctx, dispatch, driver)
	if err != nil {
		return err
	}
	switch {
	case first == dispatch:
		return dispatch.Err()
	case driver.Err() != nil:
		return driver.Err()
	case w.requests.Closed():
		d.abandon(errIdle)
		return nil
	default:
		w.logger.Error("event loop exited while serving requests")
		return core.ErrEventLoopExited
	}
}

// bootFailed delivers a failed boot signal and returns the error the worker
// exits with.
func (w *Worker) bootFailed(start time.Time, phase string, cause error) error {
	berr := &core.BootstrapError{Phase: phase, Cause: cause}
	w.cfg.Metrics.RecordBoot(false, time.Since(start))
	w.logger.Error("bootstrap failed", zap.String("phase", phase), zap.Error(cause))
	if err := w.responses.Send(core.Response{ID: core.BootSignalID, Err: berr}); err != nil {
		w.logger.Debug("boot signal not delivered", zap.Error(err))
	}
	return berr
}

func evalGuarded(wd watchdog, rt core.JSRuntime, code string) error {
	timedOut, err := wd.run(func() error { return rt.Eval(code) })
	if timedOut {
		return fmt.Errorf("%w after %s", core.ErrInterrupted, wd.timeout)
	}
	return err
}

func instrumentHostFuncs(funcs map[string]core.HostFunc, m *metrics.Metrics) map[string]core.HostFunc {
	out := make(map[string]core.HostFunc, len(funcs))
	for name, fn := range funcs {
		out[name] = func(ctx context.Context, payload string) (v string, err error) {
			defer func() {
				if p := recover(); p != nil {
					err = fmt.Errorf("host function %s panicked: %v", name, p)
				}
				m.RecordHostCall(name, err)
			}()
			return fn(ctx, payload)
		}
	}
	return out
}

func exitReason(err error) string {
	var berr *core.BootstrapError
	switch {
	case err == nil:
		return "closed"
	case errors.Is(err, errPanic):
		return "panic"
	case errors.As(err, &berr):
		return "bootstrap"
	case errors.Is(err, core.ErrInterrupted):
		return "interrupted"
	case errors.Is(err, core.ErrChannelClosed):
		return "closed"
	case errors.Is(err, core.ErrEventLoopExited):
		return "event-loop"
	default:
		return "error"
	}
}
