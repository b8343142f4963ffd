package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pingsantohq/janitor/internal/events"
)

const (
	DefaultPingInterval = 30 * time.Second
	writeWait           = 10 * time.Second
	readWait            = 60 * time.Second
)

// Message is the JSON frame sent for every event.
type Message struct {
	ID    string          `json:"id,omitempty"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// NewUpgrader returns an upgrader accepting origins for which allow returns
// true. A nil allow accepts every origin.
func NewUpgrader(allow func(origin string) bool) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || allow == nil {
				return true
			}
			return allow(origin)
		},
	}
}

func encode(ev events.Event) ([]byte, error) {
	data := json.RawMessage(ev.Data)
	if !json.Valid(data) {
		quoted, err := json.Marshal(ev.Data)
		if err != nil {
			return nil, err
		}
		data = quoted
	}
	return json.Marshal(Message{ID: ev.ID, Event: ev.Name, Data: data})
}

// Pump writes events from sink to conn until ctx ends, the sink is closed,
// the peer goes away or a write fails. It closes conn before returning.
func Pump(ctx context.Context, conn *websocket.Conn, sink *events.ChannelSink, pingInterval time.Duration) error {
	defer conn.Close()
	if pingInterval <= 0 {
		pingInterval = DefaultPingInterval
	}

	// The read side only exists to notice the peer leaving.
	readDone := make(chan struct{})
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			closeGracefully(conn)
			return ctx.Err()
		case <-readDone:
			return nil
		case <-sink.Done():
			closeGracefully(conn)
			return nil
		case ev := <-sink.Events():
			payload, err := encode(ev)
			if err != nil {
				return fmt.Errorf("ws: encode event: %w", err)
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return fmt.Errorf("ws: write event: %w", err)
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				if errors.Is(err, websocket.ErrCloseSent) {
					return nil
				}
				return fmt.Errorf("ws: write ping: %w", err)
			}
		}
	}
}

func closeGracefully(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
