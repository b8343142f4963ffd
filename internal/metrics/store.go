package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
)

// Store maintains in-memory gauges and counters for engine telemetry.
type Store struct {
	monitors           atomic.Int64
	heartbeatsAccepted atomic.Uint64
	heartbeatsRejected atomic.Uint64
	pingsSucceeded     atomic.Uint64
	pingsFailed        atomic.Uint64
	eventsDelivered    atomic.Uint64
	sinksPruned        atomic.Uint64
}

// NewStore constructs a Store with zeroed metrics.
func NewStore() *Store {
	return &Store{}
}

// Snapshot captures the current metric values in a plain struct.
type Snapshot struct {
	Monitors           int64
	HeartbeatsAccepted uint64
	HeartbeatsRejected uint64
	PingsSucceeded     uint64
	PingsFailed        uint64
	EventsDelivered    uint64
	SinksPruned        uint64
}

// Snapshot returns a point-in-time copy of the metrics.
func (s *Store) Snapshot() Snapshot {
	return Snapshot{
		Monitors:           s.monitors.Load(),
		HeartbeatsAccepted: s.heartbeatsAccepted.Load(),
		HeartbeatsRejected: s.heartbeatsRejected.Load(),
		PingsSucceeded:     s.pingsSucceeded.Load(),
		PingsFailed:        s.pingsFailed.Load(),
		EventsDelivered:    s.eventsDelivered.Load(),
		SinksPruned:        s.sinksPruned.Load(),
	}
}

// EngineRecorder returns an implementation of EngineRecorder backed by the store.
func (s *Store) EngineRecorder() EngineRecorder {
	return engineRecorder{store: s}
}

type engineRecorder struct {
	store *Store
}

func (r engineRecorder) ObserveMonitors(count int) {
	if count < 0 {
		count = 0
	}
	r.store.monitors.Store(int64(count))
}

func (r engineRecorder) IncHeartbeat(accepted bool) {
	if accepted {
		r.store.heartbeatsAccepted.Add(1)
		return
	}
	r.store.heartbeatsRejected.Add(1)
}

func (r engineRecorder) IncPing(success bool) {
	if success {
		r.store.pingsSucceeded.Add(1)
		return
	}
	r.store.pingsFailed.Add(1)
}

func (r engineRecorder) ObserveDelivery(delivered, pruned int) {
	if delivered > 0 {
		r.store.eventsDelivered.Add(uint64(delivered))
	}
	if pruned > 0 {
		r.store.sinksPruned.Add(uint64(pruned))
	}
}

// WritePrometheus renders the current metrics using the Prometheus text format.
func (s *Store) WritePrometheus(w io.Writer) error {
	snap := s.Snapshot()
	lines := []string{
		"# HELP janitor_monitors_number Number of monitors currently registered.",
		"# TYPE janitor_monitors_number gauge",
		fmt.Sprintf("janitor_monitors_number %d", snap.Monitors),
		"# HELP janitor_heartbeats_total Heartbeat calls by outcome.",
		"# TYPE janitor_heartbeats_total counter",
		fmt.Sprintf("janitor_heartbeats_total{outcome=%q} %d", "accepted", snap.HeartbeatsAccepted),
		fmt.Sprintf("janitor_heartbeats_total{outcome=%q} %d", "rejected", snap.HeartbeatsRejected),
		"# HELP janitor_pings_total Ping checks by outcome.",
		"# TYPE janitor_pings_total counter",
		fmt.Sprintf("janitor_pings_total{outcome=%q} %d", "succeeded", snap.PingsSucceeded),
		fmt.Sprintf("janitor_pings_total{outcome=%q} %d", "failed", snap.PingsFailed),
		"# HELP janitor_events_delivered_total Status events accepted by observer sinks.",
		"# TYPE janitor_events_delivered_total counter",
		fmt.Sprintf("janitor_events_delivered_total %d", snap.EventsDelivered),
		"# HELP janitor_sinks_pruned_total Observer sinks removed after a failed delivery.",
		"# TYPE janitor_sinks_pruned_total counter",
		fmt.Sprintf("janitor_sinks_pruned_total %d", snap.SinksPruned),
		"",
	}
	for _, line := range lines {
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return err
		}
	}
	return nil
}

// NewHTTPHandler returns an http.Handler that serves Prometheus formatted metrics.
func NewHTTPHandler(store *Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		if r.Method == http.MethodHead {
			return
		}
		if err := store.WritePrometheus(w); err != nil {
			http.Error(w, "metrics unavailable", http.StatusInternalServerError)
		}
	})
}
