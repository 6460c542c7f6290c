package worker

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/cryguy/jscore/internal/core"
	"github.com/cryguy/jscore/internal/mailbox"
	"github.com/cryguy/jscore/internal/metrics"
	"github.com/cryguy/jscore/internal/webapi"
)

// awaitEntry is a request whose script returned a promise.
type awaitEntry struct {
	id    string
	slot  string
	start time.Time
}

// dispatcher is the steady-state task that takes requests from the request
// mailbox, evaluates them and posts responses. Promise results are parked
// as awaitEntries and collected on later ticks, so a slow promise never
// holds up other requests.
type dispatcher struct {
	rt        core.JSRuntime
	requests  *mailbox.Mailbox[core.Request]
	responses *mailbox.Mailbox[core.Response]
	wd        watchdog
	batch     int
	wake      func()
	logger    *zap.Logger
	metrics   *metrics.Metrics

	seq      uint64
	awaiting []*awaitEntry
	closed   bool
}

// Poll collects settled promises, then evaluates up to batch new requests.
// It settles once the request mailbox is closed and drained and nothing is
// awaiting. An interrupted evaluation settles it with core.ErrInterrupted;
// every other failure is answered to its own caller.
func (d *dispatcher) Poll() (bool, error) {
	d.collect()

	took := 0
	for took < d.batch {
		req, ok, err := d.requests.TryRecv()
		if err != nil {
			d.closed = true
			break
		}
		if !ok {
			break
		}
		took++
		if req.Cancel {
			d.cancel(req.ID)
			continue
		}
		if err := d.evaluate(req); err != nil {
			return true, err
		}
	}
	if took == d.batch {
		// More may be queued; yield to the driver and come back.
		d.wake()
	}
	d.metrics.SetAwaiting(len(d.awaiting))

	if d.closed && len(d.awaiting) == 0 {
		return true, nil
	}
	return false, nil
}

func (d *dispatcher) evaluate(req core.Request) error {
	d.seq++
	slot := "__jscore_r" + strconv.FormatUint(d.seq, 10)
	start := time.Now()

	var (
		result  string
		pending bool
		evalErr error
	)
	timedOut, _ := d.wd.run(func() error {
		result, pending, evalErr = webapi.Evaluate(d.rt, slot, req.Script)
		if evalErr != nil || !pending {
			return nil
		}
		// Promises that settle on microtasks alone are answered right away.
		d.rt.RunMicrotasks()
		var settled bool
		result, settled, evalErr = webapi.Poll(d.rt, slot)
		pending = !settled
		return nil
	})
	if timedOut {
		d.respond(req.ID, "", d.timeoutError(), metrics.OutcomeTimeout)
		return core.ErrInterrupted
	}
	if pending {
		d.awaiting = append(d.awaiting, &awaitEntry{id: req.ID, slot: slot, start: start})
		d.logger.Debug("evaluation awaiting promise", zap.String("id", req.ID))
		return nil
	}
	if evalErr != nil {
		d.fail(req.ID, evalErr)
		return nil
	}
	d.respond(req.ID, result, nil, metrics.OutcomeOK)
	return nil
}

// collect answers every awaiting entry whose promise has settled.
func (d *dispatcher) collect() {
	if len(d.awaiting) == 0 {
		return
	}
	remaining := d.awaiting[:0]
	for _, e := range d.awaiting {
		result, settled, err := webapi.Poll(d.rt, e.slot)
		if !settled {
			remaining = append(remaining, e)
			continue
		}
		if err != nil {
			d.fail(e.id, err)
			continue
		}
		d.logger.Debug("promise settled", zap.String("id", e.id), zap.Duration("elapsed", time.Since(e.start)))
		d.respond(e.id, result, nil, metrics.OutcomeOK)
	}
	for i := len(remaining); i < len(d.awaiting); i++ {
		d.awaiting[i] = nil
	}
	d.awaiting = remaining
}

// cancel drops the awaiting entry for id, if any. Its caller is gone, so
// nothing is answered.
func (d *dispatcher) cancel(id string) {
	for i, e := range d.awaiting {
		if e.id != id {
			continue
		}
		webapi.Forget(d.rt, e.slot)
		copy(d.awaiting[i:], d.awaiting[i+1:])
		d.awaiting[len(d.awaiting)-1] = nil
		d.awaiting = d.awaiting[:len(d.awaiting)-1]
		d.metrics.RecordEvaluation(metrics.OutcomeCancelled)
		d.logger.Debug("awaiting evaluation cancelled", zap.String("id", id))
		return
	}
}

// abandon answers every awaiting entry with err. The worker calls it when
// the event loop went quiet, so their promises can never settle.
func (d *dispatcher) abandon(err error) {
	for _, e := range d.awaiting {
		webapi.Forget(d.rt, e.slot)
		d.respond(e.id, "", core.NewEvaluationError(err), metrics.OutcomeError)
	}
	d.awaiting = nil
	d.metrics.SetAwaiting(0)
}

// fail answers id with a script error. Whatever went wrong is confined to
// that request; the worker keeps serving.
func (d *dispatcher) fail(id string, err error) {
	var evalErr *core.EvaluationError
	if !errors.As(err, &evalErr) {
		d.logger.Warn("evaluation failed outside the script", zap.String("id", id), zap.Error(err))
		evalErr = core.NewEvaluationError(err)
	}
	d.respond(id, "", evalErr, metrics.OutcomeError)
}

func (d *dispatcher) timeoutError() *core.EvaluationError {
	return &core.EvaluationError{
		Message: fmt.Sprintf("script exceeded the %s execution limit", d.wd.timeout),
		Timeout: true,
	}
}

func (d *dispatcher) respond(id, result string, err error, outcome string) {
	d.metrics.RecordEvaluation(outcome)
	resp := core.Response{ID: id, Result: result}
	if err != nil {
		resp.Err = err
	}
	if sendErr := d.responses.Send(resp); sendErr != nil {
		d.logger.Debug("dropping response", zap.String("id", id), zap.Error(sendErr))
	}
}
