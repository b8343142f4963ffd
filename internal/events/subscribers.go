package events

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Subscribers is an ordered, concurrency-safe list of sinks. Sinks are
// compared by identity, so implementations should be pointer types.
type Subscribers struct {
	mu    sync.RWMutex
	sinks []Sink
}

// NewSubscribers returns an empty list.
func NewSubscribers() *Subscribers {
	return &Subscribers{}
}

// Add appends sink to the list.
func (s *Subscribers) Add(sink Sink) {
	if sink == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = append(s.sinks, sink)
}

// Remove drops sink from the list and reports whether it was present.
func (s *Subscribers) Remove(sink Sink) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.sinks {
		if existing == sink {
			s.sinks = append(s.sinks[:i], s.sinks[i+1:]...)
			return true
		}
	}
	return false
}

// Snapshot returns a copy of the current sinks.
func (s *Subscribers) Snapshot() []Sink {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Sink, len(s.sinks))
	copy(out, s.sinks)
	return out
}

// Len returns the number of sinks.
func (s *Subscribers) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sinks)
}

// Delivery summarises one broadcast.
type Delivery struct {
	Delivered int
	Pruned    int
}

type target struct {
	list *Subscribers
	sink Sink
}

// Broadcast sends event to every sink of lists concurrently and waits for
// all sends to return. A sink whose Send fails is removed from the list it
// came from and closed if it supports it; the failure is not reported.
func Broadcast(ctx context.Context, event Event, lists ...*Subscribers) Delivery {
	var targets []target
	for _, list := range lists {
		if list == nil {
			continue
		}
		for _, sink := range list.Snapshot() {
			targets = append(targets, target{list: list, sink: sink})
		}
	}
	if len(targets) == 0 {
		return Delivery{}
	}

	errs := make([]error, len(targets))
	var g errgroup.Group
	for i, t := range targets {
		i, t := i, t
		g.Go(func() error {
			errs[i] = t.sink.Send(ctx, event)
			return nil
		})
	}
	_ = g.Wait()

	// A cancelled broadcast says nothing about the sinks themselves.
	cancelled := ctx.Err() != nil
	var d Delivery
	for i, t := range targets {
		switch {
		case errs[i] == nil:
			d.Delivered++
		case cancelled:
		default:
			if t.list.Remove(t.sink) {
				d.Pruned++
			}
			if closer, ok := t.sink.(interface{ Close() }); ok {
				closer.Close()
			}
		}
	}
	return d
}
