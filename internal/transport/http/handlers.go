package http

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/groupq-io/groupq/internal/broker"
	"github.com/groupq-io/groupq/internal/types"
)

// Metadata limits — enforced on every offer path.
const (
	metaMaxKeys     = 16  // max number of key/value pairs
	metaMaxKeyBytes = 64  // max bytes per key
	metaMaxValBytes = 512 // max bytes per value
)

// validateMetadata returns a non-nil error if m violates any metadata limit.
func validateMetadata(m map[string]string) error {
	if len(m) > metaMaxKeys {
		return errors.New("metadata: too many keys")
	}
	for k, v := range m {
		if len(k) == 0 {
			return errors.New("metadata: key must not be empty")
		}
		if len(k) > metaMaxKeyBytes {
			return errors.New("metadata: key too long")
		}
		if len(v) > metaMaxValBytes {
			return errors.New("metadata: value too long")
		}
	}
	return nil
}

// Handler groups all HTTP request handlers around a Broker.
type Handler struct {
	broker *broker.Broker
	nodeID string
}

// ─── DTOs ─────────────────────────────────────────────────────────────────────

type offerReq struct {
	Body     string            `json:"body"` // base64-encoded
	Metadata map[string]string `json:"metadata"`
}

type offerResp struct {
	Accepted bool   `json:"accepted"`
	ID       string `json:"id,omitempty"`
}

type messageDTO struct {
	ID         string            `json:"id"`
	Body       string            `json:"body"` // base64
	Metadata   map[string]string `json:"metadata,omitempty"`
	ReceivedAt int64             `json:"received_at"`
}

type messagesResp struct {
	Messages []messageDTO `json:"messages"`
}

type drainResp struct {
	Messages []messageDTO `json:"messages"`
	Count    int          `json:"count"`
	Mode     string       `json:"mode"` // "mark" | "remove"
}

type healthResp struct {
	Status   string `json:"status"`
	NodeID   string `json:"node_id"`
	Groups   int    `json:"groups"`
	Uptime   string `json:"uptime"`
	UptimeMs int64  `json:"uptime_ms"`
	Version  string `json:"version"`
}

func toDTO(m *types.Message) messageDTO {
	return messageDTO{
		ID:         m.ID,
		Body:       base64.StdEncoding.EncodeToString(m.Body),
		Metadata:   m.Metadata,
		ReceivedAt: m.ReceivedAt,
	}
}

// ─── Health ───────────────────────────────────────────────────────────────────

var startTime = time.Now()

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	elapsed := time.Since(startTime)
	writeJSON(w, http.StatusOK, healthResp{
		Status:   "ok",
		NodeID:   h.nodeID,
		Groups:   h.broker.GroupCount(),
		Uptime:   elapsed.Round(time.Second).String(),
		UptimeMs: elapsed.Milliseconds(),
		Version:  "1.0.0",
	})
}

// ─── Offer ────────────────────────────────────────────────────────────────────

func (h *Handler) offer(w http.ResponseWriter, r *http.Request) {
	group := r.PathValue("group")

	var req offerReq
	if !decodeJSON(w, r, &req) {
		return
	}

	body, err := base64.StdEncoding.DecodeString(req.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "body must be base64"})
		return
	}
	if len(body) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "body must not be empty"})
		return
	}
	if err := validateMetadata(req.Metadata); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	wait, ok := parseWait(w, r)
	if !ok {
		return
	}

	resp, err := h.broker.Offer(r.Context(), broker.OfferRequest{
		Group:    group,
		Body:     body,
		Metadata: req.Metadata,
		Wait:     wait,
	})
	if err != nil {
		writeBrokerError(w, err)
		return
	}

	// A refused offer is a normal outcome, not an HTTP error: the client
	// inspects "accepted".
	writeJSON(w, http.StatusOK, offerResp{Accepted: resp.Accepted, ID: resp.MessageID})
}

// ─── Poll / Peek / Snapshot ──────────────────────────────────────────────────

func (h *Handler) poll(w http.ResponseWriter, r *http.Request) {
	group := r.PathValue("group")

	wait, ok := parseWait(w, r)
	if !ok {
		return
	}

	msg, err := h.broker.Poll(r.Context(), group, wait)
	if err != nil {
		writeBrokerError(w, err)
		return
	}
	if msg == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, toDTO(msg))
}

func (h *Handler) peek(w http.ResponseWriter, r *http.Request) {
	msg, err := h.broker.Peek(r.PathValue("group"))
	if err != nil {
		writeBrokerError(w, err)
		return
	}
	if msg == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, toDTO(msg))
}

func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.broker.Messages(r.PathValue("group"))
	if err != nil {
		writeBrokerError(w, err)
		return
	}
	out := messagesResp{Messages: make([]messageDTO, 0, len(msgs))}
	for _, m := range msgs {
		out.Messages = append(out.Messages, toDTO(m))
	}
	writeJSON(w, http.StatusOK, out)
}

// ─── Drain ────────────────────────────────────────────────────────────────────

func (h *Handler) drain(w http.ResponseWriter, r *http.Request) {
	group := r.PathValue("group")

	// max absent or <= 0 → unbounded mark-all drain.
	max := 0
	if v := r.URL.Query().Get("max"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "max must be a positive integer"})
			return
		}
		max = n
	}

	msgs, err := h.broker.Drain(group, max)
	if err != nil {
		writeBrokerError(w, err)
		return
	}

	mode := "remove"
	if max <= 0 {
		mode = "mark"
	}
	out := drainResp{Count: len(msgs), Mode: mode, Messages: make([]messageDTO, 0, len(msgs))}
	for _, m := range msgs {
		out.Messages = append(out.Messages, toDTO(m))
	}
	writeJSON(w, http.StatusOK, out)
}

// ─── Stats ────────────────────────────────────────────────────────────────────

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.broker.Stats(r.PathValue("group"))
	if err != nil {
		writeBrokerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// ─── helpers ──────────────────────────────────────────────────────────────────

// parseWait reads the optional ?wait= query parameter as a Go duration.
// A missing parameter means a non-blocking call. Returns ok=false after
// writing an error response.
func parseWait(w http.ResponseWriter, r *http.Request) (time.Duration, bool) {
	v := r.URL.Query().Get("wait")
	if v == "" {
		return 0, true
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": `wait must be a duration like "5s"`})
		return 0, false
	}
	return d, true
}

// writeBrokerError maps broker errors onto HTTP status codes.
func writeBrokerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, broker.ErrInvalidGroupID):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, broker.ErrBodyTooLarge):
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

// writeJSON serialises v to the response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON decodes the request body into v, writing a 400 on failure.
// Returns false when the caller should stop processing.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return false
	}
	return true
}
