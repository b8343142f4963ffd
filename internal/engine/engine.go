package engine

import (
	"context"
	"crypto/subtle"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pingsantohq/janitor/internal/events"
	"github.com/pingsantohq/janitor/internal/metrics"
	"github.com/pingsantohq/janitor/internal/probe"
	"github.com/pingsantohq/janitor/pkg/types"
)

const (
	defaultPingInterval = 3 * time.Second
	defaultPingTimeout  = 10 * time.Second
)

// Engine owns the monitor registry and the engine-wide subscriber list.
// All methods are safe for concurrent use.
type Engine struct {
	mu      sync.RWMutex
	ctx     context.Context
	secret  string
	minions map[string]*minion
	global  *events.Subscribers
	workers sync.WaitGroup

	prober       probe.Prober
	pingInterval time.Duration
	pingTimeout  time.Duration
	metrics      metrics.EngineRecorder
	now          func() time.Time
	newID        func() string
}

// minion is the runtime wrapper around one registered monitor.
type minion struct {
	monitor     types.Monitor
	subscribers *events.Subscribers
	mailbox     *mailbox
	worker      *workerHandle
}

type Option func(*Engine)

// WithOperatorSecret sets the token required by Authorized. Empty disables the check.
func WithOperatorSecret(secret string) Option {
	return func(e *Engine) {
		e.secret = secret
	}
}

func WithProber(p probe.Prober) Option {
	return func(e *Engine) {
		if p != nil {
			e.prober = p
		}
	}
}

// WithPingInterval sets the wait between two checks of a ping monitor.
func WithPingInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.pingInterval = d
		}
	}
}

func WithPingTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.pingTimeout = d
		}
	}
}

func WithMetrics(rec metrics.EngineRecorder) Option {
	return func(e *Engine) {
		if rec != nil {
			e.metrics = rec
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithEventIDs overrides how event ids are generated.
func WithEventIDs(fn func() string) Option {
	return func(e *Engine) {
		if fn != nil {
			e.newID = fn
		}
	}
}

func New(opts ...Option) *Engine {
	e := &Engine{
		ctx:          context.Background(),
		minions:      make(map[string]*minion),
		global:       events.NewSubscribers(),
		pingInterval: defaultPingInterval,
		pingTimeout:  defaultPingTimeout,
		metrics:      metrics.NoopEngineRecorder{},
		now:          time.Now,
		newID:        uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.prober == nil {
		e.prober = probe.NewHTTPProber(probe.WithTimeout(e.pingTimeout))
	}
	return e
}

// Start prepares the engine to run workers under ctx. Monitors are not
// persisted, so there is nothing to resume.
func (e *Engine) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ctx = ctx
	return nil
}

// Stop asks every worker to shut down without waiting for it. The registry is kept.
func (e *Engine) Stop() {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, m := range e.minions {
		_ = m.mailbox.Send(MessageShutdown)
	}
}

// Wait blocks until every worker has returned or ctx is done.
func (e *Engine) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Upsert registers or redefines the monitor stored under id and restarts its
// worker. It reports whether the monitor was newly created. Callers must
// ensure id == m.ID.
func (e *Engine) Upsert(id string, m types.Monitor) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	mn, exists := e.minions[id]
	if !exists {
		mn = &minion{
			subscribers: events.NewSubscribers(),
			mailbox:     newMailbox(),
		}
		e.minions[id] = mn
	}

	// The old worker is gone before the new one starts, so one minion never
	// has two loops consuming its mailbox.
	if mn.worker != nil {
		mn.worker.stop()
		mn.worker = nil
	}
	if mn.mailbox.Closed() {
		mn.mailbox = newMailbox()
	}
	mn.monitor = m.Clone()
	mn.worker = e.spawn(mn)

	e.metrics.ObserveMonitors(len(e.minions))
	return !exists
}

func (e *Engine) spawn(mn *minion) *workerHandle {
	root := e.ctx
	ctx, cancel := context.WithCancel(root)
	h := &workerHandle{cancel: cancel, done: make(chan struct{})}
	w := &worker{
		monitor:  mn.monitor.Clone(),
		mailbox:  mn.mailbox,
		local:    mn.subscribers,
		global:   e.global,
		prober:   e.prober,
		interval: e.pingInterval,
		timeout:  e.pingTimeout,
		metrics:  e.metrics,
		now:      e.now,
		newID:    e.newID,
	}
	loop := loopFor(w.monitor.Kind)

	e.workers.Add(1)
	go func() {
		defer e.workers.Done()
		defer close(h.done)
		defer cancel()
		loop(w, ctx)
		// Replacement cancels only ctx and keeps the mailbox for the next
		// worker. Once the engine itself is done nothing will consume it.
		if root.Err() != nil {
			w.mailbox.Close()
		}
	}()
	return h
}

// Delete cancels the monitor's worker and removes it from the registry.
// Observers subscribed to that monitor alone are closed.
func (e *Engine) Delete(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	mn, ok := e.minions[id]
	if !ok {
		return false
	}
	if mn.worker != nil {
		mn.worker.cancel()
	}
	mn.mailbox.Close()
	for _, sink := range mn.subscribers.Snapshot() {
		if closer, ok := sink.(interface{ Close() }); ok {
			closer.Close()
		}
	}
	delete(e.minions, id)

	e.metrics.ObserveMonitors(len(e.minions))
	return true
}

// List returns the number of registered monitors and the requested 1-indexed
// page of monitors sorted by id. A page below 1 is read as the first page.
func (e *Engine) List(page, size int) (int, []types.Monitor) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	total := len(e.minions)
	out := []types.Monitor{}
	if size < 1 || total == 0 {
		return total, out
	}
	if page < 1 {
		page = 1
	}
	if page-1 > total/size {
		return total, out
	}

	ids := make([]string, 0, total)
	for id := range e.minions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	start := (page - 1) * size
	if start >= total {
		return total, out
	}
	end := start + size
	if end > total {
		end = total
	}
	for _, id := range ids[start:end] {
		out = append(out, e.minions[id].monitor.Clone())
	}
	return total, out
}

// Heartbeat signals the monitor's worker that the target checked in. It
// reports false for an unknown id, a secret mismatch or an exited worker.
func (e *Engine) Heartbeat(id string, secret *string) bool {
	return e.HeartbeatResult(id, secret) == nil
}

// HeartbeatResult is Heartbeat with the reason for a refusal, one of
// ErrNotFound, ErrUnauthorized or ErrChannelUnavailable.
func (e *Engine) HeartbeatResult(id string, secret *string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	mn, ok := e.minions[id]
	if !ok {
		e.metrics.IncHeartbeat(false)
		return fmt.Errorf("heartbeat %q: %w", id, ErrNotFound)
	}
	if !mn.monitor.SecretMatches(secret) {
		e.metrics.IncHeartbeat(false)
		return fmt.Errorf("heartbeat %q: %w", id, ErrUnauthorized)
	}
	if err := mn.mailbox.Send(MessageHeartbeat); err != nil {
		e.metrics.IncHeartbeat(false)
		return fmt.Errorf("heartbeat %q: %w", id, err)
	}
	e.metrics.IncHeartbeat(true)
	return nil
}

func (e *Engine) Exists(id string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.minions[id]
	return ok
}

// Subscribe attaches sink to the monitor's events. It reports whether the
// monitor exists; unknown ids leave sink unattached.
func (e *Engine) Subscribe(id string, sink events.Sink) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	mn, ok := e.minions[id]
	if !ok {
		return false
	}
	mn.subscribers.Add(sink)
	return true
}

// SubscribeAll attaches sink to the events of every monitor.
func (e *Engine) SubscribeAll(sink events.Sink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.global.Add(sink)
}

// Unsubscribe detaches sink from the monitor's events.
func (e *Engine) Unsubscribe(id string, sink events.Sink) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	mn, ok := e.minions[id]
	if !ok {
		return false
	}
	return mn.subscribers.Remove(sink)
}

func (e *Engine) UnsubscribeAll(sink events.Sink) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.global.Remove(sink)
}

// Authorized reports whether token matches the operator secret. Without a
// configured secret every token is accepted.
func (e *Engine) Authorized(token string) bool {
	if e.secret == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(e.secret)) == 1
}

// Stats is a point-in-time view of the registry.
type Stats struct {
	Monitors          int `json:"monitors"`
	Subscribers       int `json:"subscribers"`
	GlobalSubscribers int `json:"global_subscribers"`
}

func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := Stats{
		Monitors:          len(e.minions),
		GlobalSubscribers: e.global.Len(),
	}
	for _, mn := range e.minions {
		s.Subscribers += mn.subscribers.Len()
	}
	return s
}
