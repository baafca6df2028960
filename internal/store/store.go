// Package store defines the GroupStore abstraction backing every group queue.
//
// Design principle: the queue facade (and every layer above it) must ONLY
// interact with persistence through this interface. Never touch the storage
// engine directly. This makes it trivial to swap the in-memory store for the
// bbolt store (or a future transactional one) without touching queue logic.
//
// A group is a named, ordered collection of messages. Each member is either
// unmarked (eligible for delivery) or marked (checkpointed: retained by the
// store but invisible to reads). The iteration order of Unmarked() is
// authoritative — the queue's Poll and both drain forms select messages in
// exactly that order.
//
// Serialization of mutations against one queue instance is the queue's job.
// Protection against OTHER processes sharing the same store and group id is
// the store's job; implementations decide how much of it they provide.
package store

import (
	"errors"

	"github.com/groupq-io/groupq/internal/types"
)

// ErrNotFound is returned when a message is not present in the group.
var ErrNotFound = errors.New("store: not found")

// ErrCorrupted is returned when a persisted record cannot be decoded.
var ErrCorrupted = errors.New("store: record corrupted")

// GroupView is a read-only snapshot of one group at the time it was fetched.
// It does not track subsequent mutations.
type GroupView interface {
	// ID returns the group identifier this view was fetched for.
	ID() string

	// Size returns the TOTAL number of messages in the group, marked and
	// unmarked. This is the count capacity admission checks against.
	Size() int

	// Unmarked returns the unmarked messages in the store's iteration order.
	// The returned slice is owned by the caller.
	Unmarked() []*types.Message
}

// GroupStore is the single abstraction through which groups are persisted
// and retrieved.
//
// Implementations:
//   - memory.Store — in-process, non-durable
//   - bolt.Store   — bbolt-backed, durable, single-file
//
// All methods must be safe for concurrent use.
type GroupStore interface {
	// Group fetches a snapshot view of the group. A group that has never been
	// written behaves as an empty group, not an error.
	Group(id string) (GroupView, error)

	// AddToGroup appends msg to the group, unmarked.
	AddToGroup(id string, msg *types.Message) error

	// RemoveFromGroup removes the message with msg.ID from the group.
	// Returns ErrNotFound if no member carries that ID.
	RemoveFromGroup(id string, msg *types.Message) error

	// MarkGroup transitions every currently-unmarked member of the viewed
	// group to marked, in place, without removal. Marked messages stay in the
	// store for audit/checkpoint purposes but never reappear in Unmarked().
	MarkGroup(g GroupView) error

	// Close flushes pending writes and releases resources.
	Close() error
}
