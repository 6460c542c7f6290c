package core

import (
	"errors"
	"strings"
)

var (
	// ErrChannelClosed is returned when a mailbox endpoint is gone. Once
	// seen, no further call on the same bridge can succeed.
	ErrChannelClosed = errors.New("jscore: bridge channel closed")

	// ErrEventLoopExited is reported when the event loop driver settled
	// while the worker was still expected to serve requests.
	ErrEventLoopExited = errors.New("jscore: event loop exited unexpectedly")

	// ErrInterrupted is the worker's terminal error after a watchdog
	// interrupt; an interrupted engine is not reused.
	ErrInterrupted = errors.New("jscore: engine interrupted")
)

// Bootstrap phases.
const (
	PhaseSetup      = "setup"
	PhaseBundle     = "bundle"
	PhaseMainModule = "main-module"
	PhaseInit       = "init"
	PhaseWaiter     = "waiter"
	PhaseEventLoop  = "event-loop"
)

// BootstrapError reports that the engine could not be initialized. It is
// fatal: the worker exits after delivering it through the boot signal.
type BootstrapError struct {
	Phase string
	Cause error
}

func (e *BootstrapError) Error() string {
	var b strings.Builder
	b.WriteString("bootstrap failed")
	if e.Phase != "" {
		b.WriteString(" at ")
		b.WriteString(e.Phase)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *BootstrapError) Unwrap() error {
	return e.Cause
}

// EvaluationError reports that a submitted script threw, failed to parse,
// rejected, or ran past the script timeout. It is local to one request.
type EvaluationError struct {
	Message string
	Stack   string
	Timeout bool
}

func (e *EvaluationError) Error() string {
	if e.Message == "" {
		return "evaluation failed"
	}
	return e.Message
}

// NewEvaluationError builds an EvaluationError from an engine error,
// guaranteeing a non-empty message.
func NewEvaluationError(err error) *EvaluationError {
	var ee *EvaluationError
	if errors.As(err, &ee) {
		return ee
	}
	msg := ""
	if err != nil {
		msg = strings.TrimSpace(err.Error())
	}
	if msg == "" {
		msg = "uncaught exception"
	}
	return &EvaluationError{Message: msg}
}
