// Package client is the official Go SDK for groupq.
//
// # Quick start
//
//	c := client.New("http://localhost:8080")
//
//	// Offer (non-blocking; accepted=false when the group is full)
//	res, err := c.Offer(ctx, "orders", []byte(`{"sku":"A-1"}`))
//
//	// Offer that waits up to 5 seconds for capacity
//	res, err := c.Offer(ctx, "orders", body, client.WithWait(5*time.Second))
//
//	// Poll (nil when the group is empty)
//	msg, err := c.Poll(ctx, "orders")
//
//	// Poll that waits up to 5 seconds for a message
//	msg, err := c.Poll(ctx, "orders", client.WithWait(5*time.Second))
//
// # Error handling
//
// All methods return an *APIError when the server responds with a non-2xx
// status code. Check errors.As(err, &client.APIError{}) to inspect the HTTP
// status and server message. An empty poll/peek and a refused offer are
// normal outcomes, not errors.
//
// # Connection reuse
//
// Client is safe for concurrent use. It shares a single http.Client internally
// so connections are reused across goroutines.
package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ─── Error type ───────────────────────────────────────────────────────────────

// APIError is returned when the groupq server responds with a non-2xx status.
type APIError struct {
	StatusCode int    // HTTP status code
	Message    string // "error" field from the JSON response body
}

func (e *APIError) Error() string {
	return fmt.Sprintf("groupq: server returned %d: %s", e.StatusCode, e.Message)
}

// IsBadRequest reports whether the error is a 400 from the server
// (invalid group id, malformed body or wait parameter).
func IsBadRequest(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusBadRequest
}

// IsTooLarge reports whether the error is a 413 (message body over the
// server's per-message size cap).
func IsTooLarge(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusRequestEntityTooLarge
}

// ─── Client options ───────────────────────────────────────────────────────────

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithAPIKey sets the API key sent in every request as the X-Api-Key header.
// Required when the server has auth.enabled = true.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient replaces the default http.Client.
// Use this to configure TLS, proxies, or request tracing.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout.
// The default is 90 seconds, leaving room for long blocking waits.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.http.Timeout = d }
}

// ─── Client ───────────────────────────────────────────────────────────────────

// Client is the groupq API client. It is safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New creates a new Client that connects to the groupq server at baseURL.
//
//	c := client.New("http://localhost:8080")
//	c := client.New("http://groupq.example.com", client.WithAPIKey("secret"))
func New(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 90 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ─── Call options ─────────────────────────────────────────────────────────────

// callParams collects the per-call knobs shared by Offer and Poll.
type callParams struct {
	wait     time.Duration
	metadata map[string]string
}

// CallOption configures a single Offer or Poll call.
type CallOption func(*callParams)

// WithWait makes the call block server-side for up to d: an offer waits for
// capacity, a poll waits for a message. The server clamps d to its configured
// maximum. Without this option the call is a single non-blocking attempt.
func WithWait(d time.Duration) CallOption {
	return func(p *callParams) { p.wait = d }
}

// WithMetadata attaches user-defined key/value pairs to the offered message.
// Ignored on poll.
func WithMetadata(m map[string]string) CallOption {
	return func(p *callParams) { p.metadata = m }
}

// ─── Domain types ─────────────────────────────────────────────────────────────

// Message is a message returned by poll, peek, snapshot, or drain.
type Message struct {
	// ID is the ULID assigned when the message was offered.
	ID string

	// Body is the raw message payload decoded from base64.
	Body []byte

	// Metadata holds the user-defined key/value pairs set at offer time.
	Metadata map[string]string

	// ReceivedAt is when the server accepted the message (UTC).
	ReceivedAt time.Time
}

// OfferResult reports the outcome of an offer.
type OfferResult struct {
	// Accepted is false when the group was at capacity for the whole wait.
	Accepted bool

	// ID is the assigned ULID; empty when Accepted is false.
	ID string
}

// DrainResult is returned by Drain and DrainMax.
type DrainResult struct {
	// Messages delivered by the drain, in queue order.
	Messages []*Message

	// Mode is "mark" for the unbounded form and "remove" for the bounded one.
	Mode string
}

// GroupStats is a point-in-time snapshot of one group's counters.
type GroupStats struct {
	Group string

	// Size counts consumable messages only.
	Size int

	// Total counts every group member, including those already delivered by
	// an unbounded drain. Capacity admission uses this number.
	Total int

	// Capacity is the configured bound; 0 means unbounded.
	Capacity int

	// RemainingCapacity is Capacity - Total, or -1 when unbounded.
	RemainingCapacity int
}

// HealthInfo contains the data returned by the /health endpoint.
type HealthInfo struct {
	Status  string
	NodeID  string
	Groups  int
	Uptime  time.Duration
	Version string
}

// ─── Message operations ───────────────────────────────────────────────────────

// Offer sends a single message to the named group.
//
//	res, err := c.Offer(ctx, "orders", []byte(`{"sku":"A-1"}`))
//	if err == nil && !res.Accepted {
//	    // group was full
//	}
//
// Use WithWait to block server-side for capacity.
func (c *Client) Offer(ctx context.Context, group string, body []byte, opts ...CallOption) (*OfferResult, error) {
	p := &callParams{}
	for _, o := range opts {
		o(p)
	}

	payload := offerPayload{
		Body:     base64.StdEncoding.EncodeToString(body),
		Metadata: p.metadata,
	}

	path := fmt.Sprintf("/groups/%s/messages", url.PathEscape(group))
	if p.wait > 0 {
		path += "?wait=" + url.QueryEscape(p.wait.String())
	}

	var resp struct {
		Accepted bool   `json:"accepted"`
		ID       string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, path, payload, &resp); err != nil {
		return nil, err
	}
	return &OfferResult{Accepted: resp.Accepted, ID: resp.ID}, nil
}

// Poll removes and returns the head message of the group.
// Returns (nil, nil) when the group is empty (or stayed empty for the whole
// WithWait window).
func (c *Client) Poll(ctx context.Context, group string, opts ...CallOption) (*Message, error) {
	p := &callParams{}
	for _, o := range opts {
		o(p)
	}

	path := fmt.Sprintf("/groups/%s/messages/next", url.PathEscape(group))
	if p.wait > 0 {
		path += "?wait=" + url.QueryEscape(p.wait.String())
	}
	return c.doMessage(ctx, http.MethodPost, path)
}

// Peek returns the head message without removing it, or (nil, nil) when the
// group is empty.
func (c *Client) Peek(ctx context.Context, group string) (*Message, error) {
	path := fmt.Sprintf("/groups/%s/messages/peek", url.PathEscape(group))
	return c.doMessage(ctx, http.MethodGet, path)
}

// Messages returns a snapshot of every consumable message in the group, in
// queue order. The messages stay in the group.
func (c *Client) Messages(ctx context.Context, group string) ([]*Message, error) {
	var resp struct {
		Messages []wireMessage `json:"messages"`
	}
	path := fmt.Sprintf("/groups/%s/messages", url.PathEscape(group))
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return toMessages(resp.Messages), nil
}

// ─── Drain ────────────────────────────────────────────────────────────────────

// Drain delivers every consumable message in the group without removing any
// group member: the drained messages stop being consumable but keep counting
// against the group's capacity. Use DrainMax when you want space freed.
func (c *Client) Drain(ctx context.Context, group string) (*DrainResult, error) {
	path := fmt.Sprintf("/groups/%s/drain", url.PathEscape(group))
	return c.doDrain(ctx, path)
}

// DrainMax removes and delivers up to max head messages. Unlike Drain, the
// removed messages free capacity.
func (c *Client) DrainMax(ctx context.Context, group string, max int) (*DrainResult, error) {
	path := fmt.Sprintf("/groups/%s/drain?max=%s", url.PathEscape(group), strconv.Itoa(max))
	return c.doDrain(ctx, path)
}

func (c *Client) doDrain(ctx context.Context, path string) (*DrainResult, error) {
	var resp struct {
		Messages []wireMessage `json:"messages"`
		Mode     string        `json:"mode"`
	}
	if err := c.do(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return nil, err
	}
	return &DrainResult{Messages: toMessages(resp.Messages), Mode: resp.Mode}, nil
}

// ─── Observability ────────────────────────────────────────────────────────────

// Stats returns the size counters for one group.
func (c *Client) Stats(ctx context.Context, group string) (*GroupStats, error) {
	var resp struct {
		Group             string `json:"group"`
		Size              int    `json:"size"`
		Total             int    `json:"total"`
		Capacity          int    `json:"capacity"`
		RemainingCapacity int    `json:"remaining_capacity"`
	}
	path := fmt.Sprintf("/groups/%s/stats", url.PathEscape(group))
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &GroupStats{
		Group:             resp.Group,
		Size:              resp.Size,
		Total:             resp.Total,
		Capacity:          resp.Capacity,
		RemainingCapacity: resp.RemainingCapacity,
	}, nil
}

// Health checks the server's /health endpoint and returns the node's status.
func (c *Client) Health(ctx context.Context) (*HealthInfo, error) {
	var resp struct {
		Status   string `json:"status"`
		NodeID   string `json:"node_id"`
		Groups   int    `json:"groups"`
		UptimeMs int64  `json:"uptime_ms"`
		Version  string `json:"version"`
	}
	if err := c.do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &HealthInfo{
		Status:  resp.Status,
		NodeID:  resp.NodeID,
		Groups:  resp.Groups,
		Uptime:  time.Duration(resp.UptimeMs) * time.Millisecond,
		Version: resp.Version,
	}, nil
}

// ─── HTTP transport ───────────────────────────────────────────────────────────

// doMessage performs a request whose success responses are either a single
// message (200) or empty (204 → nil, nil).
func (c *Client) doMessage(ctx context.Context, method, path string) (*Message, error) {
	var wm wireMessage
	ok, err := c.doMaybe(ctx, method, path, nil, &wm)
	if err != nil || !ok {
		return nil, err
	}
	return wm.toMessage(), nil
}

// do performs a single HTTP request.
// body is encoded as JSON when non-nil, resp is decoded from JSON when non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, resp any) error {
	_, err := c.doMaybe(ctx, method, path, body, resp)
	return err
}

// doMaybe is do with a "content present" flag: a 204 No Content response is
// success with ok=false.
func (c *Client) doMaybe(ctx context.Context, method, path string, body, resp any) (bool, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return false, fmt.Errorf("groupq: marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return false, fmt.Errorf("groupq: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	httpResp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("groupq: request %s %s: %w", method, path, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode == http.StatusNoContent {
		return false, nil
	}

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return false, fmt.Errorf("groupq: read response body: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(respBody, &errResp)
		msg := errResp.Error
		if msg == "" {
			msg = http.StatusText(httpResp.StatusCode)
		}
		return false, &APIError{StatusCode: httpResp.StatusCode, Message: msg}
	}

	if resp != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, resp); err != nil {
			return false, fmt.Errorf("groupq: decode response: %w", err)
		}
	}
	return true, nil
}

// ─── Internal wire types ──────────────────────────────────────────────────────

type offerPayload struct {
	Body     string            `json:"body"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type wireMessage struct {
	ID         string            `json:"id"`
	Body       string            `json:"body"` // base64
	Metadata   map[string]string `json:"metadata,omitempty"`
	ReceivedAt int64             `json:"received_at"`
}

func (w *wireMessage) toMessage() *Message {
	body, err := base64.StdEncoding.DecodeString(w.Body)
	if err != nil {
		// Fall back to treating the body as raw UTF-8 bytes.
		body = []byte(w.Body)
	}
	return &Message{
		ID:         w.ID,
		Body:       body,
		Metadata:   w.Metadata,
		ReceivedAt: time.UnixMilli(w.ReceivedAt).UTC(),
	}
}

func toMessages(in []wireMessage) []*Message {
	out := make([]*Message, 0, len(in))
	for i := range in {
		out = append(out, in[i].toMessage())
	}
	return out
}
