package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pingsantohq/janitor/internal/events"
	"github.com/pingsantohq/janitor/internal/metrics"
	"github.com/pingsantohq/janitor/internal/probe"
	"github.com/pingsantohq/janitor/pkg/types"
)

const (
	EventPing      = "ping"
	EventHeartbeat = "heartbeat"
)

// StatusPayload is the JSON body of every status event.
type StatusPayload struct {
	MonitorID string    `json:"monitor_id"`
	Status    bool      `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"ts"`
}

// worker runs one minion's check loop. Everything it holds is either
// immutable for its lifetime or internally synchronized.
type worker struct {
	monitor  types.Monitor
	mailbox  *mailbox
	local    *events.Subscribers
	global   *events.Subscribers
	prober   probe.Prober
	interval time.Duration
	timeout  time.Duration
	metrics  metrics.EngineRecorder
	now      func() time.Time
	newID    func() string
}

type checkLoop func(w *worker, ctx context.Context)

var checkLoops = map[types.Kind]checkLoop{
	types.KindHeartbeat: (*worker).runHeartbeat,
	types.KindPing:      (*worker).runPing,
}

func loopFor(kind types.Kind) checkLoop {
	if loop, ok := checkLoops[kind]; ok {
		return loop
	}
	// Unknown kinds never reach the engine through the transport; treat them as passive.
	return (*worker).runHeartbeat
}

// workerHandle lets the registry retire a running worker.
type workerHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// stop cancels the worker and waits for its loop to return.
func (h *workerHandle) stop() {
	h.cancel()
	<-h.done
}

func (w *worker) runHeartbeat(ctx context.Context) {
	for {
		msg, err := w.mailbox.Receive(ctx)
		if err != nil {
			return
		}
		switch msg {
		case MessageShutdown:
			w.mailbox.Close()
			return
		case MessageHeartbeat:
			w.broadcast(ctx, EventHeartbeat, true, "heartbeat received!", w.now())
		}
	}
}

func (w *worker) runPing(ctx context.Context) {
	timer := time.NewTimer(w.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.mailbox.ready():
			if w.drainForShutdown() {
				return
			}
			continue
		case <-timer.C:
		}

		w.ping(ctx)
		timer.Reset(w.interval)
	}
}

// drainForShutdown consumes queued messages; heartbeats mean nothing to a
// ping monitor. It reports whether a shutdown was among them.
func (w *worker) drainForShutdown() bool {
	for {
		msg, ok := w.mailbox.tryReceive()
		if !ok {
			return false
		}
		if msg == MessageShutdown {
			w.mailbox.Close()
			return true
		}
	}
}

func (w *worker) ping(ctx context.Context) {
	var url string
	if w.monitor.URL != nil {
		url = *w.monitor.URL
	}
	res := w.prober.Probe(ctx, probe.Request{
		MonitorID: w.monitor.ID,
		URL:       url,
		Timeout:   w.timeout,
	})
	if ctx.Err() != nil {
		return
	}

	w.metrics.IncPing(res.Success)
	at := res.Timestamp
	if at.IsZero() {
		at = w.now()
	}
	if res.Success {
		w.broadcast(ctx, EventPing, true, "ping succeeded!", at)
		return
	}
	w.broadcast(ctx, EventPing, false, "ping failed", at)
}

func (w *worker) broadcast(ctx context.Context, name string, status bool, message string, at time.Time) {
	data, err := json.Marshal(StatusPayload{
		MonitorID: w.monitor.ID,
		Status:    status,
		Message:   message,
		Timestamp: at.UTC(),
	})
	if err != nil {
		return
	}
	d := events.Broadcast(ctx, events.Event{
		Name: name,
		Data: string(data),
		ID:   w.newID(),
	}, w.local, w.global)
	w.metrics.ObserveDelivery(d.Delivered, d.Pruned)
}
