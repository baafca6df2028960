// Package websocket provides WebSocket-based push delivery for groupq.
//
// Clients open a WebSocket connection to:
//
//	GET /groups/{group}/ws
//
// The server runs a blocking take loop against the group queue and pushes
// each message as it becomes available. A pushed message has already been
// removed from the group — the stream is the consuming side of the queue,
// exactly as if the client had called poll in a loop.
//
// Server → client message frame:
//
//	{"type":"message","id":"<ULID>","group":"...","body":"<base64>","received_at":...}
package websocket

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	gorillaws "github.com/gorilla/websocket"

	"github.com/groupq-io/groupq/internal/broker"
)

var upgrader = gorillaws.Upgrader{
	// CheckOrigin rejects cross-origin WebSocket upgrade requests.
	// A request is considered same-origin when its Origin header matches the
	// Host header (scheme-agnostic). Requests without an Origin header
	// (e.g. from native clients/curl) are always allowed.
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // non-browser client, allow
		}
		parsed, err := parseHost(origin)
		if err != nil {
			return false
		}
		return parsed == r.Host
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// parseHost returns the host:port (or just host) portion of a URL string.
func parseHost(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid origin %q", rawURL)
	}
	return u.Host, nil
}

// Handler serves the WebSocket endpoint for a specific group.
// It is mounted by the HTTP server and reads the group id from r.PathValue.
type Handler struct {
	Broker *broker.Broker
}

// serverFrame is the JSON structure the server sends to the client.
type serverFrame struct {
	Type       string `json:"type"` // "message"
	ID         string `json:"id"`
	Group      string `json:"group"`
	Body       string `json:"body"` // base64
	ReceivedAt int64  `json:"received_at"`
}

// ServeHTTP upgrades the connection and starts the take loop.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	group := r.PathValue("group")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	// The take loop must stop when the client goes away, not only when the
	// HTTP request context ends: a goroutine drains inbound frames and
	// cancels on read error (close frame or dropped connection).
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		msg, err := h.Broker.Take(ctx, group)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				slog.Warn("ws take failed", "group", group, "err", err)
			}
			return
		}

		frame := serverFrame{
			Type:       "message",
			ID:         msg.ID,
			Group:      group,
			Body:       base64.StdEncoding.EncodeToString(msg.Body),
			ReceivedAt: msg.ReceivedAt,
		}
		data, _ := json.Marshal(frame)
		if writeErr := conn.WriteMessage(gorillaws.TextMessage, data); writeErr != nil {
			return
		}
	}
}
