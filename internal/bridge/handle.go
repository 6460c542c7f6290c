// Package bridge is the host side of the engine: a Handle that any number
// of goroutines can use concurrently to submit scripts to one engine
// worker and receive their results.
package bridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/cryguy/jscore/internal/core"
	"github.com/cryguy/jscore/internal/mailbox"
	"github.com/cryguy/jscore/internal/metrics"
	"github.com/cryguy/jscore/internal/telemetry"
	"github.com/cryguy/jscore/internal/worker"
)

// Handle is the client of one engine worker. Responses are routed to
// callers by correlation id, so concurrent Execute calls may complete in
// any order.
type Handle struct {
	requests  *mailbox.Mailbox[core.Request]
	responses *mailbox.Mailbox[core.Response]
	worker    *worker.Worker
	logger    *zap.Logger
	metrics   *metrics.Metrics
	tracer    *telemetry.Tracer

	mu      sync.Mutex
	pending map[string]chan core.Response // nil once the worker is gone
	termErr error

	readyOnce sync.Once
	ready     chan struct{}
	bootErr   error

	done chan struct{}
}

// Start launches an engine worker for cfg and returns its handle without
// waiting for bootstrap. tracer may be nil.
func Start(cfg worker.Config, tracer *telemetry.Tracer) *Handle {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	h := &Handle{
		requests:  mailbox.New[core.Request](),
		responses: mailbox.New[core.Response](),
		logger:    cfg.Logger.Named("bridge"),
		metrics:   cfg.Metrics,
		tracer:    tracer,
		pending:   make(map[string]chan core.Response),
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
	}
	h.worker = worker.Start(cfg, h.requests, h.responses)
	go h.demux()
	return h
}

// Initialized blocks until the engine has finished bootstrapping. It
// returns nil on success, the *core.BootstrapError when bootstrap failed,
// or an error wrapping core.ErrChannelClosed if the worker died first.
// Every call after the first completion returns the same result at once.
func (h *Handle) Initialized(ctx context.Context) error {
	select {
	case <-h.ready:
		return h.bootErr
	default:
	}
	select {
	case <-h.ready:
		return h.bootErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Execute evaluates script on the engine and returns its serialized
// completion value. Script failures are returned as *core.EvaluationError.
// Requests submitted before bootstrap completes are queued and run after
// it. Cancelling ctx abandons only this call.
func (h *Handle) Execute(ctx context.Context, script string) (string, error) {
	start := time.Now()
	id := uuid.NewString()

	ctx, span := h.tracer.Start(ctx, "jscore.execute",
		attribute.String("jscore.request_id", id),
		attribute.Int("jscore.script_bytes", len(script)))
	result, err := h.execute(ctx, id, script)
	telemetry.End(span, err)
	h.metrics.RecordRequest(outcomeOf(err), time.Since(start))
	return result, err
}

func (h *Handle) execute(ctx context.Context, id, script string) (string, error) {
	slot := make(chan core.Response, 1)

	h.mu.Lock()
	if h.pending == nil {
		err := h.termErr
		h.mu.Unlock()
		return "", err
	}
	h.pending[id] = slot
	h.mu.Unlock()
	h.metrics.AddInFlight(1)

	defer func() {
		h.mu.Lock()
		delete(h.pending, id)
		h.mu.Unlock()
		h.metrics.AddInFlight(-1)
	}()

	if err := h.requests.Send(core.Request{ID: id, Script: script}); err != nil {
		return "", err
	}

	select {
	case resp := <-slot:
		return unpack(resp)
	case <-ctx.Done():
		// The worker may still be awaiting a promise for id.
		_ = h.requests.Send(core.Request{ID: id, Cancel: true})
		return "", ctx.Err()
	case <-h.done:
		select {
		case resp := <-slot:
			return unpack(resp)
		default:
		}
		h.mu.Lock()
		defer h.mu.Unlock()
		return "", h.termErr
	}
}

// Close asks the worker to shut down once queued and awaiting requests
// are answered. It does not wait; use Done for that.
func (h *Handle) Close() error {
	h.requests.Close(nil)
	return nil
}

// Done is closed once the worker has exited and every pending call has
// been released.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the worker's terminal error after Done is closed: nil for a
// clean shutdown.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.worker.Err()
	default:
		return nil
	}
}

// demux routes every response to the reply slot registered for its id
// until the worker closes the response mailbox.
func (h *Handle) demux() {
	for {
		resp, err := h.responses.Recv(context.Background())
		if err != nil {
			h.terminate(err)
			return
		}
		if resp.IsBootSignal() {
			h.signalReady(resp.Err)
			continue
		}

		h.mu.Lock()
		slot, ok := h.pending[resp.ID]
		delete(h.pending, resp.ID)
		h.mu.Unlock()
		if !ok {
			h.logger.Debug("dropping response for unknown request", zap.String("id", resp.ID))
			h.metrics.RecordUnmatched()
			continue
		}
		slot <- resp
	}
}

func (h *Handle) terminate(err error) {
	<-h.worker.Done()

	h.mu.Lock()
	h.termErr = err
	h.pending = nil
	h.mu.Unlock()

	h.signalReady(err)
	close(h.done)
}

func (h *Handle) signalReady(err error) {
	h.readyOnce.Do(func() {
		h.bootErr = err
		close(h.ready)
	})
}

func unpack(resp core.Response) (string, error) {
	if resp.Err != nil {
		return "", resp.Err
	}
	return resp.Result, nil
}

func outcomeOf(err error) string {
	var evalErr *core.EvaluationError
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.As(err, &evalErr) && evalErr.Timeout:
		return metrics.OutcomeTimeout
	default:
		return metrics.OutcomeError
	}
}
