package engine

import (
	"context"
	"sync"
)

// Message is a control signal delivered to a monitor's worker.
type Message int

const (
	MessageShutdown Message = iota + 1
	MessageHeartbeat
)

func (m Message) String() string {
	switch m {
	case MessageShutdown:
		return "shutdown"
	case MessageHeartbeat:
		return "heartbeat"
	default:
		return "unknown"
	}
}

// mailbox is an unbounded FIFO with many senders and one receiver.
// Send never blocks; it fails once the mailbox is closed.
type mailbox struct {
	mu     sync.Mutex
	queue  []Message
	closed bool
	signal chan struct{}
	done   chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (m *mailbox) Send(msg Message) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrChannelUnavailable
	}
	m.queue = append(m.queue, msg)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
	return nil
}

func (m *mailbox) tryReceive() (Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return 0, false
	}
	msg := m.queue[0]
	m.queue = m.queue[1:]
	if len(m.queue) == 0 {
		m.queue = nil
	}
	return msg, true
}

// Receive blocks until a message is queued, the mailbox is closed and
// drained, or ctx is done.
func (m *mailbox) Receive(ctx context.Context) (Message, error) {
	for {
		if msg, ok := m.tryReceive(); ok {
			return msg, nil
		}
		if m.Closed() {
			return 0, ErrChannelUnavailable
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-m.signal:
		case <-m.done:
		}
	}
}

// ready fires after a Send; the queue may already be empty by then.
func (m *mailbox) ready() <-chan struct{} {
	return m.signal
}

func (m *mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.done)
}

func (m *mailbox) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}
