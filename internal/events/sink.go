package events

import (
	"context"
	"errors"
	"sync"
)

// Event is a named, payload-bearing message delivered to observers.
type Event struct {
	Name string
	Data string
	// ID is optional; empty means the event carries no id.
	ID string
}

// Sink is a live observer connection. Send must not block on the observer;
// an error means the observer is gone or cannot keep up.
type Sink interface {
	Send(ctx context.Context, event Event) error
}

var (
	// ErrSinkClosed is returned by Send after the sink's observer disconnected.
	ErrSinkClosed = errors.New("sink closed")
	// ErrSinkFull is returned by Send when the sink's buffer is exhausted.
	ErrSinkFull = errors.New("sink buffer full")
)

const defaultSinkBuffer = 64

// ChannelSink buffers events for a single consumer goroutine, usually the
// transport loop writing to the observer's connection.
type ChannelSink struct {
	ch   chan Event
	done chan struct{}
	once sync.Once
}

// NewChannelSink creates a sink holding up to buffer undelivered events.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = defaultSinkBuffer
	}
	return &ChannelSink{
		ch:   make(chan Event, buffer),
		done: make(chan struct{}),
	}
}

// Send enqueues the event without waiting for the consumer.
func (c *ChannelSink) Send(ctx context.Context, event Event) error {
	select {
	case <-c.done:
		return ErrSinkClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	select {
	case c.ch <- event:
		return nil
	default:
		return ErrSinkFull
	}
}

// Events exposes the queued events to the consumer.
func (c *ChannelSink) Events() <-chan Event {
	return c.ch
}

// Done is closed once the sink has been closed.
func (c *ChannelSink) Done() <-chan struct{} {
	return c.done
}

// Close marks the observer as gone. It is safe to call more than once.
func (c *ChannelSink) Close() {
	c.once.Do(func() { close(c.done) })
}
