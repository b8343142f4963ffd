package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/pingsantohq/janitor/internal/events"
	"github.com/pingsantohq/janitor/internal/sse"
	"github.com/pingsantohq/janitor/internal/ws"
)

// subscription attaches a sink to the engine and returns its detach func,
// or false when the target monitor is unknown.
type subscription func(sink events.Sink) (func(), bool)

func monitorSubscription(deps Dependencies, id string) subscription {
	return func(sink events.Sink) (func(), bool) {
		if !deps.Engine.Subscribe(id, sink) {
			return nil, false
		}
		return func() { deps.Engine.Unsubscribe(id, sink) }, true
	}
}

func globalSubscription(deps Dependencies) subscription {
	return func(sink events.Sink) (func(), bool) {
		deps.Engine.SubscribeAll(sink)
		return func() { deps.Engine.UnsubscribeAll(sink) }, true
	}
}

func monitorEventsHandler(streams context.Context, cfg Config, deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if !deps.Engine.Exists(id) {
			writeMessage(w, http.StatusNotFound, "Oops! channel not found.")
			return
		}
		streamEvents(streams, w, r, cfg, deps, monitorSubscription(deps, id))
	}
}

func allEventsHandler(streams context.Context, cfg Config, deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		streamEvents(streams, w, r, cfg, deps, globalSubscription(deps))
	}
}

func streamEvents(streams context.Context, w http.ResponseWriter, r *http.Request, cfg Config, deps Dependencies, subscribe subscription) {
	stream, err := sse.Open(w)
	if err != nil {
		deps.Logger.Printf("event stream for %s unavailable: %v", r.URL.Path, err)
		return
	}

	sink := events.NewChannelSink(cfg.SinkBuffer)
	defer sink.Close()
	detach, ok := subscribe(sink)
	if !ok {
		// The monitor was deleted between the existence check and the subscription.
		return
	}
	defer detach()

	keepAlive := cfg.KeepAlive
	if keepAlive == 0 {
		keepAlive = sse.DefaultKeepAlive
	}
	ctx, cancel := streamContext(r.Context(), streams)
	defer cancel()
	if err := sse.Pump(ctx, stream, sink, keepAlive); err != nil && !errors.Is(err, context.Canceled) {
		deps.Logger.Printf("event stream for %s ended: %v", r.URL.Path, err)
	}
}

func monitorSocketHandler(streams context.Context, cfg Config, deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if !deps.Engine.Exists(id) {
			writeMessage(w, http.StatusNotFound, "Oops! channel not found.")
			return
		}
		streamSocket(streams, w, r, cfg, deps, monitorSubscription(deps, id))
	}
}

func allSocketHandler(streams context.Context, cfg Config, deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		streamSocket(streams, w, r, cfg, deps, globalSubscription(deps))
	}
}

func streamSocket(streams context.Context, w http.ResponseWriter, r *http.Request, cfg Config, deps Dependencies, subscribe subscription) {
	upgrader := ws.NewUpgrader(originAllowList(cfg.AllowedOrigins))
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already replied to the client.
		deps.Logger.Printf("websocket upgrade for %s failed: %v", r.URL.Path, err)
		return
	}

	sink := events.NewChannelSink(cfg.SinkBuffer)
	defer sink.Close()
	detach, ok := subscribe(sink)
	if !ok {
		_ = conn.Close()
		return
	}
	defer detach()

	ctx, cancel := streamContext(r.Context(), streams)
	defer cancel()
	if err := ws.Pump(ctx, conn, sink, cfg.WSPingInterval); err != nil && !errors.Is(err, context.Canceled) {
		deps.Logger.Printf("websocket stream for %s ended: %v", r.URL.Path, err)
	}
}

// streamContext ends with the request or when the server shuts down.
func streamContext(req, streams context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(req)
	stop := context.AfterFunc(streams, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// originAllowList returns nil, accepting any origin, when no list is configured.
func originAllowList(origins []string) func(string) bool {
	if len(origins) == 0 {
		return nil
	}
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return func(origin string) bool {
		_, ok := allowed[origin]
		return ok
	}
}
