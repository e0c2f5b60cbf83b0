package core

import (
	"context"
	"errors"
	"sync"
)

var ErrMailboxClosed = errors.New("core: mailbox closed")

// Mailbox is the signaling queue of one media worker.
// Any number of goroutines may Send; only the owning worker reads Inbox.
type Mailbox struct {
	ch   chan Envelope
	done chan struct{}
	once sync.Once
}

func NewMailbox(size int) *Mailbox {
	if size < 1 {
		size = 1
	}
	return &Mailbox{
		ch:   make(chan Envelope, size),
		done: make(chan struct{}),
	}
}

// Send queues env for the worker. It fails with ErrMailboxClosed once the
// worker has exited, or with ctx.Err() if the queue stays full.
func (m *Mailbox) Send(ctx context.Context, env Envelope) error {
	select {
	case <-m.done:
		return ErrMailboxClosed
	default:
	}
	select {
	case m.ch <- env:
		return nil
	case <-m.done:
		return ErrMailboxClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Mailbox) Inbox() <-chan Envelope { return m.ch }

// Done is closed when the owning worker stops consuming the mailbox.
func (m *Mailbox) Done() <-chan struct{} { return m.done }

func (m *Mailbox) Close() {
	m.once.Do(func() { close(m.done) })
}

// TryReceive returns at most one queued envelope without blocking.
func (m *Mailbox) TryReceive() (Envelope, bool) {
	select {
	case env := <-m.ch:
		return env, true
	default:
		return Envelope{}, false
	}
}
