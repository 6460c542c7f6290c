// Package mailbox implements the unbounded multi-producer/single-consumer
// queues that are the only path between host goroutines and the engine
// worker.
package mailbox

import (
	"context"
	"fmt"
	"sync"

	"github.com/cryguy/jscore/internal/core"
)

// Mailbox is an unbounded MPSC queue. Send never blocks. Items queued before
// Close are still delivered; after that the receiver sees the close error.
type Mailbox[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	err    error
	notify chan struct{}
	onSend func()
}

// New creates an empty, open mailbox.
func New[T any]() *Mailbox[T] {
	return &Mailbox[T]{notify: make(chan struct{}, 1)}
}

// OnSend installs a hook invoked after every successful Send and on Close.
// The engine worker uses it to wake its scheduler. Must be set before the
// mailbox is shared.
func (m *Mailbox[T]) OnSend(fn func()) {
	m.mu.Lock()
	m.onSend = fn
	m.mu.Unlock()
}

// Send enqueues v. It fails with an error wrapping core.ErrChannelClosed if
// the mailbox was closed.
func (m *Mailbox[T]) Send(v T) error {
	m.mu.Lock()
	if m.closed {
		err := m.err
		m.mu.Unlock()
		return err
	}
	m.items = append(m.items, v)
	hook := m.onSend
	m.mu.Unlock()

	m.signal()
	if hook != nil {
		hook()
	}
	return nil
}

// TryRecv dequeues without blocking. ok is false when nothing is queued; err
// is non-nil only when the mailbox is closed and drained.
func (m *Mailbox[T]) TryRecv() (v T, ok bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.items) > 0 {
		return m.pop(), true, nil
	}
	if m.closed {
		return v, false, m.err
	}
	return v, false, nil
}

// Recv blocks until an item is available, the mailbox is closed and
// drained, or ctx is done.
func (m *Mailbox[T]) Recv(ctx context.Context) (T, error) {
	for {
		m.mu.Lock()
		if len(m.items) > 0 {
			v := m.pop()
			m.mu.Unlock()
			return v, nil
		}
		if m.closed {
			err := m.err
			m.mu.Unlock()
			var zero T
			return zero, err
		}
		m.mu.Unlock()

		select {
		case <-m.notify:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// Close marks the mailbox closed. reason, when non-nil, is wrapped into the
// error reported to later senders and to the receiver. Closing twice keeps
// the first reason.
func (m *Mailbox[T]) Close(reason error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	if reason == nil {
		m.err = core.ErrChannelClosed
	} else {
		m.err = fmt.Errorf("%w: %w", core.ErrChannelClosed, reason)
	}
	hook := m.onSend
	m.mu.Unlock()

	m.signal()
	if hook != nil {
		hook()
	}
}

// Closed reports whether Close has been called.
func (m *Mailbox[T]) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Len returns the number of queued items.
func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// pop removes the head item. m.mu must be held and items non-empty.
func (m *Mailbox[T]) pop() T {
	var zero T
	v := m.items[0]
	m.items[0] = zero
	m.items = m.items[1:]
	if len(m.items) == 0 {
		m.items = nil
	}
	return v
}

func (m *Mailbox[T]) signal() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}
