// Package queue implements a blocking FIFO facade over a GroupStore.
//
// A GroupQueue gives producers and consumers ordinary queue semantics
// (Offer/Poll/Put/Take/drain) while persistence, durability, and
// cross-process visibility are delegated entirely to the store. If the store
// is transactional, a rolled-back consumer transaction leaves the message
// visible again; if the store is durable, messages survive restarts provided
// the same group id is reused. The group id is the sole correlation key
// between a queue instance and its persisted backlog — it must be unique per
// logical queue and identical across restarts of that queue.
//
// Concurrency protocol — three instance-local domains, each acquired alone,
// never nested, never held while parked:
//
//   - the store mutex serializes every read-modify-write sequence against
//     the group with respect to other callers of this same queue instance
//     (it guarantees nothing against other processes sharing the store);
//   - the writer wait set parks producers that found the group full, woken
//     by anything that removes or marks members;
//   - the reader wait set parks consumers that found the group empty, woken
//     by every successful Offer.
//
// All blocking variants share one shape: capture the relevant gate, attempt
// the non-blocking primitive, park for the remaining budget, retry. A wake is
// never taken as proof of success; the primitive is always re-attempted.
//
// All methods are safe for concurrent use.
package queue

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/groupq-io/groupq/internal/store"
	"github.com/groupq-io/groupq/internal/types"
)

// ErrNilMessage is returned by every admission entry point when the message
// is nil or carries neither an ID nor a payload. The check runs before any
// lock is taken.
var ErrNilMessage = errors.New("queue: nil or empty message")

// Unbounded is the capacity of a queue with no admission limit.
const Unbounded = 0

// GroupQueue is a blocking queue backed by one group in a GroupStore.
//
// Capacity is checked against the group's TOTAL size — marked members
// included — at admission time. Size, Poll, and the drain forms consult only
// unmarked members. The two counters are deliberately distinct: capacity
// stays reserved for checkpointed-but-retained messages.
type GroupQueue struct {
	store    store.GroupStore
	groupID  string
	capacity int // Unbounded (0) = no limit

	// storeMu is the store domain. It is never held across a park and no
	// other lock is ever taken while holding it.
	storeMu sync.Mutex

	writers *waitSet // producers parked on a full group
	readers *waitSet // consumers parked on an empty group
}

// New creates a queue over the given store and group id with no capacity
// bound. The three synchronization domains are fresh per instance — nothing
// is shared between queues, even queues over the same store.
func New(st store.GroupStore, groupID string) *GroupQueue {
	return NewBounded(st, groupID, Unbounded)
}

// NewBounded creates a queue whose group admits at most capacity messages
// (marked + unmarked). capacity <= 0 means unbounded.
func NewBounded(st store.GroupStore, groupID string, capacity int) *GroupQueue {
	if capacity < 0 {
		capacity = Unbounded
	}
	return &GroupQueue{
		store:    st,
		groupID:  groupID,
		capacity: capacity,
		writers:  newWaitSet(),
		readers:  newWaitSet(),
	}
}

// GroupID returns the group identifier this queue is bound to.
func (q *GroupQueue) GroupID() string { return q.groupID }

// Capacity returns the admission bound, or Unbounded.
func (q *GroupQueue) Capacity() int { return q.capacity }

// ─── Non-blocking primitives ──────────────────────────────────────────────────

// Offer admits msg to the group if the group's total size is below capacity.
// It returns (false, nil) when the group is full — a normal outcome, not an
// error. On success every parked reader is woken.
func (q *GroupQueue) Offer(msg *types.Message) (bool, error) {
	if msg.IsZero() {
		return false, ErrNilMessage
	}

	q.storeMu.Lock()
	g, err := q.store.Group(q.groupID)
	if err != nil {
		q.storeMu.Unlock()
		return false, err
	}
	if q.capacity != Unbounded && g.Size() >= q.capacity {
		q.storeMu.Unlock()
		return false, nil
	}
	err = q.store.AddToGroup(q.groupID, msg)
	q.storeMu.Unlock()
	if err != nil {
		return false, err
	}

	q.readers.broadcast()
	return true, nil
}

// Poll removes and returns the first unmarked message in the store's
// iteration order, or (nil, nil) when the group has none. On success every
// parked writer is woken.
func (q *GroupQueue) Poll() (*types.Message, error) {
	q.storeMu.Lock()
	g, err := q.store.Group(q.groupID)
	if err != nil {
		q.storeMu.Unlock()
		return nil, err
	}
	unmarked := g.Unmarked()
	if len(unmarked) == 0 {
		q.storeMu.Unlock()
		return nil, nil
	}
	head := unmarked[0]
	err = q.store.RemoveFromGroup(q.groupID, head)
	q.storeMu.Unlock()
	if err != nil {
		return nil, err
	}

	q.writers.broadcast()
	return head, nil
}

// Peek returns the first unmarked message without mutating anything, or
// (nil, nil) when the group is empty. The result may be stale the instant it
// is returned; Peek takes no lock, matching the store-snapshot semantics of
// the rest of the read surface.
func (q *GroupQueue) Peek() (*types.Message, error) {
	unmarked, err := q.unmarked()
	if err != nil || len(unmarked) == 0 {
		return nil, err
	}
	return unmarked[0], nil
}

// Size returns the number of unmarked messages in the group as seen by the
// store at call time. It is a snapshot, not a live view.
func (q *GroupQueue) Size() (int, error) {
	unmarked, err := q.unmarked()
	if err != nil {
		return 0, err
	}
	return len(unmarked), nil
}

// Messages returns a snapshot of the unmarked messages in iteration order.
func (q *GroupQueue) Messages() ([]*types.Message, error) {
	return q.unmarked()
}

// RemainingCapacity returns capacity minus the group's TOTAL size, marked
// members included. Unbounded queues report math.MaxInt. Note this is a
// different counter from Size: marking messages frees no capacity.
func (q *GroupQueue) RemainingCapacity() (int, error) {
	if q.capacity == Unbounded {
		return math.MaxInt, nil
	}
	g, err := q.store.Group(q.groupID)
	if err != nil {
		return 0, err
	}
	return q.capacity - g.Size(), nil
}

// ─── Drains ──────────────────────────────────────────────────────────────────

// DrainTo appends every unmarked message to dest and marks the entire group.
// Nothing is removed from the store: this is a soft checkpoint, reversible at
// the store layer, and it frees no capacity. Afterwards Size is zero while
// RemainingCapacity is unchanged. Returns the number of messages moved.
func (q *GroupQueue) DrainTo(dest *[]*types.Message) (int, error) {
	q.storeMu.Lock()
	g, err := q.store.Group(q.groupID)
	if err != nil {
		q.storeMu.Unlock()
		return 0, err
	}
	unmarked := g.Unmarked()
	if err := q.store.MarkGroup(g); err != nil {
		q.storeMu.Unlock()
		return 0, err
	}
	q.storeMu.Unlock()

	*dest = append(*dest, unmarked...)
	q.writers.broadcast()
	return len(unmarked), nil
}

// DrainMax removes up to max unmarked messages from the store — a hard
// deletion, unlike DrainTo — appends them to dest, and returns the count
// actually moved. The removal order is the store's iteration order.
//
// The mark-all / remove-N asymmetry between the two drain forms is
// deliberate and load-bearing: callers rely on DrainTo retaining messages
// for later acknowledgment bookkeeping.
func (q *GroupQueue) DrainMax(dest *[]*types.Message, max int) (int, error) {
	if max <= 0 {
		return 0, nil
	}

	q.storeMu.Lock()
	g, err := q.store.Group(q.groupID)
	if err != nil {
		q.storeMu.Unlock()
		return 0, err
	}
	unmarked := g.Unmarked()
	if len(unmarked) > max {
		unmarked = unmarked[:max]
	}
	for _, msg := range unmarked {
		if err := q.store.RemoveFromGroup(q.groupID, msg); err != nil {
			q.storeMu.Unlock()
			return 0, err
		}
	}
	q.storeMu.Unlock()

	*dest = append(*dest, unmarked...)
	if len(unmarked) > 0 {
		q.writers.broadcast()
	}
	return len(unmarked), nil
}

// ─── Blocking variants ───────────────────────────────────────────────────────

// OfferWait is Offer with a deadline. It retries the non-blocking Offer,
// parking on the writer set for the remaining budget between attempts, until
// it succeeds, the deadline passes, or ctx is cancelled. Expiry returns
// (false, nil); cancellation returns ctx.Err(). Each attempt is atomic, so
// cancellation never leaves a partially admitted message.
func (q *GroupQueue) OfferWait(ctx context.Context, msg *types.Message, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		gate := q.writers.wait()
		ok, err := q.Offer(msg)
		if ok || err != nil {
			return ok, err
		}

		remain := time.Until(deadline)
		if remain <= 0 {
			return false, nil
		}
		if err := park(ctx, gate, remain); err != nil {
			return false, err
		}
	}
}

// Put is the unbounded Offer: it parks indefinitely on the writer set until
// the message is admitted or ctx is cancelled.
func (q *GroupQueue) Put(ctx context.Context, msg *types.Message) error {
	for {
		gate := q.writers.wait()
		ok, err := q.Offer(msg)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// PollWait is Poll with a deadline, parking on the reader set. Expiry
// returns (nil, nil); cancellation returns ctx.Err().
func (q *GroupQueue) PollWait(ctx context.Context, timeout time.Duration) (*types.Message, error) {
	deadline := time.Now().Add(timeout)
	for {
		gate := q.readers.wait()
		msg, err := q.Poll()
		if msg != nil || err != nil {
			return msg, err
		}

		remain := time.Until(deadline)
		if remain <= 0 {
			return nil, nil
		}
		if err := park(ctx, gate, remain); err != nil {
			return nil, err
		}
	}
}

// Take is the unbounded Poll, symmetric to Put: it parks indefinitely on the
// reader set until a message arrives or ctx is cancelled.
func (q *GroupQueue) Take(ctx context.Context) (*types.Message, error) {
	for {
		gate := q.readers.wait()
		msg, err := q.Poll()
		if err != nil {
			return nil, err
		}
		if msg != nil {
			return msg, nil
		}

		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// ─── Internal helpers ─────────────────────────────────────────────────────────

// park waits for a broadcast on gate, the timeout, or ctx cancellation —
// whichever comes first. Returning nil means "recheck": a timer firing is
// indistinguishable from a wake here on purpose, since the caller re-attempts
// its primitive and re-derives the remaining budget either way.
func park(ctx context.Context, gate <-chan struct{}, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-gate:
		return nil
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// unmarked fetches the current unmarked snapshot without the store mutex.
// Read-only callers tolerate staleness.
func (q *GroupQueue) unmarked() ([]*types.Message, error) {
	g, err := q.store.Group(q.groupID)
	if err != nil {
		return nil, err
	}
	return g.Unmarked(), nil
}
