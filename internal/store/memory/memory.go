// Package memory provides an in-process, non-durable GroupStore.
//
// It exists for tests and for deployments that want blocking-queue semantics
// over a shared group space without persistence. All state is lost when the
// process exits.
package memory

import (
	"sync"

	"github.com/groupq-io/groupq/internal/store"
	"github.com/groupq-io/groupq/internal/types"
)

// record pairs a message with its visibility state.
type record struct {
	msg    *types.Message
	marked bool
}

// Store is a mutex-guarded map of group id → ordered member list.
// The zero value is not usable; call New.
type Store struct {
	mu     sync.RWMutex
	groups map[string][]*record
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{groups: make(map[string][]*record)}
}

// Group returns a snapshot of the group. Unknown groups are empty, not errors.
func (s *Store) Group(id string) (store.GroupView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := s.groups[id]
	unmarked := make([]*types.Message, 0, len(recs))
	for _, r := range recs {
		if !r.marked {
			unmarked = append(unmarked, r.msg.Clone())
		}
	}
	return store.NewSnapshot(id, len(recs), unmarked), nil
}

// AddToGroup appends msg to the group, unmarked. The message is cloned so
// later caller mutations cannot leak into the store.
func (s *Store) AddToGroup(id string, msg *types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.groups[id] = append(s.groups[id], &record{msg: msg.Clone()})
	return nil
}

// RemoveFromGroup removes the member whose ID matches msg.ID.
func (s *Store) RemoveFromGroup(id string, msg *types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := s.groups[id]
	for i, r := range recs {
		if r.msg.ID == msg.ID {
			s.groups[id] = append(recs[:i:i], recs[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

// MarkGroup marks every currently-unmarked member of the viewed group.
// Members added after the view was taken are marked too: the view names the
// group, it does not pin its membership.
func (s *Store) MarkGroup(g store.GroupView) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.groups[g.ID()] {
		r.marked = true
	}
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }

var _ store.GroupStore = (*Store)(nil)
