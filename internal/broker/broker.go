// Package broker is the central orchestrator for groupq.
//
// All application code (HTTP handlers, WebSocket push) talks to the Broker —
// never directly to the queue or store layer. The broker owns the one
// GroupStore for the process and hands out one GroupQueue per group id, so
// every transport touching the same group shares the same three
// synchronization domains.
//
// Data flow:
//
//	Producer → Broker.Offer → queue.GroupQueue.Offer     → GroupStore
//	Consumer → Broker.Poll  → queue.GroupQueue.Poll      → GroupStore
//	          → Broker.Drain → queue.GroupQueue.DrainTo/DrainMax
package broker

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/groupq-io/groupq/internal/config"
	"github.com/groupq-io/groupq/internal/ident"
	"github.com/groupq-io/groupq/internal/metrics"
	"github.com/groupq-io/groupq/internal/queue"
	"github.com/groupq-io/groupq/internal/store"
	"github.com/groupq-io/groupq/internal/store/bolt"
	"github.com/groupq-io/groupq/internal/store/memory"
	"github.com/groupq-io/groupq/internal/types"
)

// ─── Error sentinels ──────────────────────────────────────────────────────────

var (
	// ErrInvalidGroupID is returned when a group id fails validation.
	ErrInvalidGroupID = errors.New("broker: invalid group id")

	// ErrBodyTooLarge is returned when a message body exceeds the configured
	// per-message size cap.
	ErrBodyTooLarge = errors.New("broker: message body too large")
)

// groupIDPattern matches lowercase alphanumeric group ids with optional
// hyphens, the same naming rule applied to every externally supplied name.
var groupIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,127}$`)

// ValidateGroupID reports whether id is acceptable as a group identifier.
func ValidateGroupID(id string) bool {
	return groupIDPattern.MatchString(id)
}

// ─── Broker ───────────────────────────────────────────────────────────────────

// Option is a functional option for the Broker.
type Option func(*Broker)

// WithMetrics attaches a metrics.Registry so every Offer/Poll/Drain call
// increments the relevant counter.
func WithMetrics(reg *metrics.Registry) Option {
	return func(b *Broker) { b.metrics = reg }
}

// Broker wires the store and the per-group queues into a single facade used
// by every transport layer.
//
// All methods are safe for concurrent use.
type Broker struct {
	cfg *config.Config
	st  store.GroupStore

	mu     sync.RWMutex
	queues map[string]*queue.GroupQueue

	metrics *metrics.Registry // optional
}

// New opens the configured store backend and returns a ready Broker.
// Call Close when done.
func New(cfg *config.Config, opts ...Option) (*Broker, error) {
	var (
		st  store.GroupStore
		err error
	)
	switch cfg.Store.Backend {
	case config.BackendMemory:
		st = memory.New()
	case config.BackendBolt:
		path := cfg.Store.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(cfg.Node.DataDir, path)
		}
		st, err = bolt.Open(path)
		if err != nil {
			return nil, fmt.Errorf("broker: open store: %w", err)
		}
	default:
		return nil, fmt.Errorf("broker: unknown store backend %q", cfg.Store.Backend)
	}

	b := &Broker{
		cfg:    cfg,
		st:     st,
		queues: make(map[string]*queue.GroupQueue),
	}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

// Queue returns the GroupQueue bound to groupID, creating it on first use.
// Every caller naming the same group gets the same instance, which is what
// makes the wait sets effective across transports.
func (b *Broker) Queue(groupID string) (*queue.GroupQueue, error) {
	if !ValidateGroupID(groupID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidGroupID, groupID)
	}

	b.mu.RLock()
	q, ok := b.queues[groupID]
	b.mu.RUnlock()
	if ok {
		return q, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[groupID]; ok {
		return q, nil
	}
	q = queue.NewBounded(b.st, groupID, b.cfg.Queue.Capacity)
	b.queues[groupID] = q
	return q, nil
}

// ─── Offer / Poll ─────────────────────────────────────────────────────────────

// OfferRequest carries everything needed to offer one message.
type OfferRequest struct {
	Group    string
	Body     []byte
	Metadata map[string]string
	// Wait is how long to block for capacity. Zero means a single
	// non-blocking attempt. Values above the configured maximum are clamped.
	Wait time.Duration
}

// OfferResponse is returned by Offer.
type OfferResponse struct {
	Accepted  bool
	MessageID string
}

// Offer mints a message and admits it to the group, optionally blocking for
// capacity up to req.Wait.
func (b *Broker) Offer(ctx context.Context, req OfferRequest) (OfferResponse, error) {
	if max := b.cfg.Queue.MaxMessageSizeKB; max > 0 && len(req.Body) > max*1024 {
		return OfferResponse{}, fmt.Errorf("%w: %d bytes (max %d KB)", ErrBodyTooLarge, len(req.Body), max)
	}

	q, err := b.Queue(req.Group)
	if err != nil {
		return OfferResponse{}, err
	}

	id, err := ident.NewID()
	if err != nil {
		return OfferResponse{}, fmt.Errorf("broker: mint message id: %w", err)
	}
	msg := &types.Message{
		ID:         id,
		Body:       req.Body,
		Metadata:   req.Metadata,
		ReceivedAt: time.Now().UnixMilli(),
	}

	var ok bool
	if wait := b.clampWait(req.Wait); wait > 0 {
		ok, err = q.OfferWait(ctx, msg, wait)
	} else {
		ok, err = q.Offer(msg)
	}
	if err != nil {
		return OfferResponse{}, err
	}

	if b.metrics != nil {
		if ok {
			b.metrics.Offered.Inc(req.Group)
		} else {
			b.metrics.Refused.Inc(req.Group)
		}
	}
	if !ok {
		return OfferResponse{Accepted: false}, nil
	}
	return OfferResponse{Accepted: true, MessageID: msg.ID}, nil
}

// Poll removes and returns the head message, optionally blocking up to wait.
// Returns (nil, nil) when the group stayed empty.
func (b *Broker) Poll(ctx context.Context, groupID string, wait time.Duration) (*types.Message, error) {
	q, err := b.Queue(groupID)
	if err != nil {
		return nil, err
	}

	var msg *types.Message
	if wait = b.clampWait(wait); wait > 0 {
		msg, err = q.PollWait(ctx, wait)
	} else {
		msg, err = q.Poll()
	}
	if err != nil {
		return nil, err
	}

	if msg != nil && b.metrics != nil {
		b.metrics.Polled.Inc(groupID)
	}
	return msg, nil
}

// Take blocks until a message is available or ctx is cancelled. Used by the
// WebSocket push loop.
func (b *Broker) Take(ctx context.Context, groupID string) (*types.Message, error) {
	q, err := b.Queue(groupID)
	if err != nil {
		return nil, err
	}
	msg, err := q.Take(ctx)
	if err != nil {
		return nil, err
	}
	if b.metrics != nil {
		b.metrics.Polled.Inc(groupID)
	}
	return msg, nil
}

// Peek returns the head message without removing it, or (nil, nil).
func (b *Broker) Peek(groupID string) (*types.Message, error) {
	q, err := b.Queue(groupID)
	if err != nil {
		return nil, err
	}
	return q.Peek()
}

// Messages returns the unmarked snapshot for the group.
func (b *Broker) Messages(groupID string) ([]*types.Message, error) {
	q, err := b.Queue(groupID)
	if err != nil {
		return nil, err
	}
	return q.Messages()
}

// ─── Drain ────────────────────────────────────────────────────────────────────

// Drain executes a drain on the group. max <= 0 selects the unbounded form
// (mark-all checkpoint, nothing removed); max > 0 removes up to max messages.
func (b *Broker) Drain(groupID string, max int) ([]*types.Message, error) {
	q, err := b.Queue(groupID)
	if err != nil {
		return nil, err
	}

	var dest []*types.Message
	if max <= 0 {
		n, err := q.DrainTo(&dest)
		if err != nil {
			return nil, err
		}
		if b.metrics != nil {
			b.metrics.Drained.Inc(groupID)
			b.metrics.Marked.Add(groupID, int64(n))
		}
		return dest, nil
	}

	n, err := q.DrainMax(&dest, max)
	if err != nil {
		return nil, err
	}
	if b.metrics != nil {
		b.metrics.Polled.Add(groupID, int64(n))
	}
	return dest, nil
}

// ─── Stats ────────────────────────────────────────────────────────────────────

// GroupStats is a point-in-time snapshot of one group.
type GroupStats struct {
	Group             string `json:"group"`
	Size              int    `json:"size"`               // unmarked only
	Total             int    `json:"total"`              // marked + unmarked
	Capacity          int    `json:"capacity"`           // 0 = unbounded
	RemainingCapacity int    `json:"remaining_capacity"` // capacity - total; -1 when unbounded
}

// Stats reports the size counters for one group. Size counts unmarked
// members only; RemainingCapacity is derived from the TOTAL member count —
// the same deliberate asymmetry the queue exposes.
func (b *Broker) Stats(groupID string) (GroupStats, error) {
	q, err := b.Queue(groupID)
	if err != nil {
		return GroupStats{}, err
	}

	g, err := b.st.Group(groupID)
	if err != nil {
		return GroupStats{}, err
	}

	st := GroupStats{
		Group:             groupID,
		Size:              len(g.Unmarked()),
		Total:             g.Size(),
		Capacity:          q.Capacity(),
		RemainingCapacity: -1,
	}
	if q.Capacity() != queue.Unbounded {
		st.RemainingCapacity = q.Capacity() - g.Size()
	}
	return st, nil
}

// GroupCount returns the number of groups this broker has opened queues for.
func (b *Broker) GroupCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.queues)
}

// Close closes the underlying store.
func (b *Broker) Close() error {
	return b.st.Close()
}

// clampWait bounds client-requested blocking durations.
func (b *Broker) clampWait(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	if maxMs := b.cfg.Queue.MaxWaitMs; maxMs > 0 {
		if max := time.Duration(maxMs) * time.Millisecond; d > max {
			return max
		}
	}
	return d
}
