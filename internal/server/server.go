package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/pingsantohq/janitor/internal/engine"
	"github.com/pingsantohq/janitor/internal/events"
	"github.com/pingsantohq/janitor/internal/metrics"
	"github.com/pingsantohq/janitor/pkg/types"
)

const (
	secretHeader    = "X-Auth-Secret"
	defaultPageSize = 25
	maxBodyBytes    = 1 << 20
)

// Version is reported by /info.
var Version = "dev"

// Engine is the subset of the monitoring engine the transport drives.
type Engine interface {
	Upsert(id string, m types.Monitor) bool
	Delete(id string) bool
	List(page, size int) (int, []types.Monitor)
	HeartbeatResult(id string, secret *string) error
	Exists(id string) bool
	Subscribe(id string, sink events.Sink) bool
	SubscribeAll(sink events.Sink)
	Unsubscribe(id string, sink events.Sink) bool
	UnsubscribeAll(sink events.Sink) bool
	Authorized(token string) bool
	Stats() engine.Stats
}

// Config controls HTTP server settings.
type Config struct {
	Addr           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	SinkBuffer     int
	KeepAlive      time.Duration
	WSPingInterval time.Duration
	AllowedOrigins []string
}

// Dependencies holds external collaborators required by the server.
type Dependencies struct {
	Logger  *log.Logger
	Engine  Engine
	Metrics *metrics.Store
}

// Server wraps http.Server for convenience.
type Server struct {
	*http.Server
	cfg  Config
	deps Dependencies
}

// New constructs an HTTP server exposing the monitor, heartbeat and event endpoints.
func New(cfg Config, deps Dependencies) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if deps.Logger == nil {
		deps.Logger = log.New(io.Discard, "", 0)
	}
	if deps.Engine == nil {
		deps.Engine = engine.New()
	}

	// Event streams never finish on their own; Shutdown ends them through streams.
	streams, endStreams := context.WithCancel(context.Background())

	r := mux.NewRouter()
	r.HandleFunc("/monitors/{id}", upsertMonitorHandler(cfg, deps)).Methods(http.MethodPost)
	r.HandleFunc("/monitors/{id}", deleteMonitorHandler(cfg, deps)).Methods(http.MethodDelete)
	r.HandleFunc("/monitors", listMonitorsHandler(cfg, deps)).Methods(http.MethodGet)
	r.HandleFunc("/heartbeat/{id}", heartbeatHandler(cfg, deps)).Methods(http.MethodGet)
	r.HandleFunc("/events/only/{id}", monitorEventsHandler(streams, cfg, deps)).Methods(http.MethodGet)
	r.HandleFunc("/events/all", allEventsHandler(streams, cfg, deps)).Methods(http.MethodGet)
	r.HandleFunc("/ws/only/{id}", monitorSocketHandler(streams, cfg, deps)).Methods(http.MethodGet)
	r.HandleFunc("/ws/all", allSocketHandler(streams, cfg, deps)).Methods(http.MethodGet)
	r.HandleFunc("/info", infoHandler(cfg, deps)).Methods(http.MethodGet)
	if deps.Metrics != nil {
		r.Handle("/metrics", metrics.NewHTTPHandler(deps.Metrics)).Methods(http.MethodGet, http.MethodHead)
	}
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	s := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	s.RegisterOnShutdown(endStreams)
	return &Server{Server: s, cfg: cfg, deps: deps}
}

func upsertMonitorHandler(cfg Config, deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !authorizeOperator(r, deps.Engine) {
			writeMessage(w, http.StatusUnauthorized, "Oops! not authorised!")
			return
		}
		id := mux.Vars(r)["id"]

		var item types.Monitor
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&item); err != nil {
			writeMessage(w, http.StatusBadRequest, "Oops! invalid monitor: "+err.Error())
			return
		}
		if item.ID != id {
			writeMessage(w, http.StatusBadRequest, "Oops! id mismatch.")
			return
		}
		if err := item.Validate(); err != nil {
			writeMessage(w, http.StatusBadRequest, "Oops! "+err.Error())
			return
		}

		msg := "Ok! item updated."
		if deps.Engine.Upsert(id, item) {
			msg = "Yeah! item created."
			deps.Logger.Printf("monitor %s registered (kind=%s)", id, item.Kind)
		}
		writeMessage(w, http.StatusOK, msg)
	}
}

func deleteMonitorHandler(cfg Config, deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !authorizeOperator(r, deps.Engine) {
			writeMessage(w, http.StatusUnauthorized, "Oops! not authorised!")
			return
		}
		id := mux.Vars(r)["id"]
		if !deps.Engine.Delete(id) {
			writeMessage(w, http.StatusNotFound, "Oops! item not found.")
			return
		}
		deps.Logger.Printf("monitor %s deleted", id)
		writeMessage(w, http.StatusOK, "Yeah! item deleted.")
	}
}

type pageMeta struct {
	Total int `json:"total"`
	Page  int `json:"page"`
	Size  int `json:"size"`
}

func listMonitorsHandler(cfg Config, deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, err := queryInt(r, "page", 1)
		if err != nil {
			writeMessage(w, http.StatusBadRequest, "Oops! "+err.Error())
			return
		}
		size, err := queryInt(r, "size", defaultPageSize)
		if err != nil {
			writeMessage(w, http.StatusBadRequest, "Oops! "+err.Error())
			return
		}

		if page < 1 {
			page = 1
		}
		total, data := deps.Engine.List(page, size)
		writeJSON(w, http.StatusOK, struct {
			Data []types.Monitor `json:"data"`
			Meta pageMeta        `json:"meta"`
		}{
			Data: data,
			Meta: pageMeta{Total: total, Page: page, Size: size},
		})
	}
}

func heartbeatHandler(cfg Config, deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		var secret *string
		if values := r.Header.Values(secretHeader); len(values) > 0 {
			secret = &values[0]
		}

		err := deps.Engine.HeartbeatResult(id, secret)
		switch {
		case err == nil:
			writeMessage(w, http.StatusOK, "Yeah! heartbeat received!")
		case errors.Is(err, engine.ErrChannelUnavailable):
			deps.Logger.Printf("heartbeat for %s dropped: %v", id, err)
			writeMessage(w, http.StatusServiceUnavailable, "Oops! monitor is not running.")
		default:
			writeMessage(w, http.StatusUnauthorized, "Oops! not authorised!")
		}
	}
}

func infoHandler(cfg Config, deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"message":    "Welcome to Janitor, the status engine!",
			"component":  "Janitor",
			"version":    Version,
			"statistics": deps.Engine.Stats(),
		})
	}
}

// authorizeOperator checks the bearer token against the engine's operator secret.
func authorizeOperator(r *http.Request, e Engine) bool {
	const prefix = "Bearer "
	value := r.Header.Get("Authorization")
	token := ""
	if strings.HasPrefix(value, prefix) {
		token = strings.TrimSpace(strings.TrimPrefix(value, prefix))
	}
	return e.Authorized(token)
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errors.New(key + " must be a non-negative integer")
	}
	return v, nil
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
