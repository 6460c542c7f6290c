package core

import "context"

// BootSignalID is the reserved correlation id of the readiness response the
// worker posts once bootstrap has finished (or failed).
const BootSignalID = "initialized"

// Request asks the engine worker to evaluate Script. ID must be unique among
// outstanding requests. A Request with Cancel set carries no script: it
// tells the worker that the caller of ID went away, so a promise still
// awaited for it can be dropped. Cancels are never answered.
type Request struct {
	ID     string
	Script string
	Cancel bool
}

// Response carries the outcome of the Request with the same ID. Exactly one
// of Result and Err is meaningful: Err is nil on success.
type Response struct {
	ID     string
	Result string
	Err    error
}

// IsBootSignal reports whether r is the worker's readiness response.
func (r Response) IsBootSignal() bool {
	return r.ID == BootSignalID
}

// HostFunc is a Go operation scripts can start with host.call(name, payload).
// It runs on its own goroutine; the returned string resolves the script's
// promise and a non-nil error rejects it.
type HostFunc func(ctx context.Context, payload string) (string, error)
