package work

import (
	"context"
	"errors"
	"sync"
)

var ErrMailboxClosed = errors.New("mailbox closed")

// Mailbox is an unbounded FIFO queue with a blocking receive. It supports
// any number of senders and a single receiver.
type Mailbox[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	notify chan struct{}
	done   chan struct{}
}

func NewMailbox[T any]() *Mailbox[T] {
	return &Mailbox[T]{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Push appends v. It fails once the mailbox is closed.
func (m *Mailbox[T]) Push(v T) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrMailboxClosed
	}
	m.items = append(m.items, v)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return nil
}

// Pop blocks until an item is available, ctx is done, or the mailbox is
// closed and drained.
func (m *Mailbox[T]) Pop(ctx context.Context) (T, error) {
	var zero T
	for {
		if v, ok, closed := m.take(); ok {
			return v, nil
		} else if closed {
			return zero, ErrMailboxClosed
		}

		select {
		case <-m.notify:
		case <-m.done:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// TryPop returns the head item without blocking.
func (m *Mailbox[T]) TryPop() (T, bool) {
	v, ok, _ := m.take()
	return v, ok
}

func (m *Mailbox[T]) take() (v T, ok bool, closed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.items) == 0 {
		return v, false, m.closed
	}
	v = m.items[0]
	var zero T
	m.items[0] = zero
	m.items = m.items[1:]
	return v, true, m.closed
}

func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Close stops accepting items. Items already queued can still be popped.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.done)
}

// Discard closes the mailbox and drops everything still queued, returning
// how many items were dropped.
func (m *Mailbox[T]) Discard() int {
	m.mu.Lock()
	dropped := len(m.items)
	m.items = nil
	m.mu.Unlock()
	m.Close()
	return dropped
}

// IsClosed reports whether Close or Discard has been called.
func (m *Mailbox[T]) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
