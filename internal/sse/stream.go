// Package sse writes engine events to an HTTP response as a
// text/event-stream.
package sse

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pingsantohq/janitor/internal/events"
)

const DefaultKeepAlive = 15 * time.Second

// Writer frames events on a streaming response.
type Writer struct {
	w  io.Writer
	rc *http.ResponseController
}

// Open sends the stream headers and lifts the server write deadline for this
// response. It fails when the response cannot be flushed incrementally.
func Open(w http.ResponseWriter) (*Writer, error) {
	rc := http.NewResponseController(w)
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Recorders used in tests do not support deadlines.
	_ = rc.SetWriteDeadline(time.Time{})
	if err := rc.Flush(); err != nil {
		return nil, fmt.Errorf("sse: streaming unsupported: %w", err)
	}
	return &Writer{w: w, rc: rc}, nil
}

// WriteEvent writes one event and flushes it to the client.
func (s *Writer) WriteEvent(ev events.Event) error {
	var b strings.Builder
	if ev.ID != "" {
		fmt.Fprintf(&b, "id: %s\n", sanitize(ev.ID))
	}
	if ev.Name != "" {
		fmt.Fprintf(&b, "event: %s\n", sanitize(ev.Name))
	}
	for _, line := range strings.Split(ev.Data, "\n") {
		fmt.Fprintf(&b, "data: %s\n", strings.TrimSuffix(line, "\r"))
	}
	b.WriteString("\n")
	return s.write(b.String())
}

// Comment writes a comment line, used as a keep-alive.
func (s *Writer) Comment(text string) error {
	return s.write(": " + sanitize(text) + "\n\n")
}

func (s *Writer) write(frame string) error {
	if _, err := io.WriteString(s.w, frame); err != nil {
		return err
	}
	return s.rc.Flush()
}

func sanitize(v string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(v)
}

// Pump copies events from sink to the stream until ctx ends, the sink is
// closed or a write fails. A keepAlive of zero disables keep-alive comments.
func Pump(ctx context.Context, s *Writer, sink *events.ChannelSink, keepAlive time.Duration) error {
	var tick <-chan time.Time
	if keepAlive > 0 {
		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sink.Done():
			return nil
		case ev := <-sink.Events():
			if err := s.WriteEvent(ev); err != nil {
				return fmt.Errorf("sse: write event: %w", err)
			}
		case <-tick:
			if err := s.Comment("keep-alive"); err != nil {
				return fmt.Errorf("sse: write keep-alive: %w", err)
			}
		}
	}
}
