package store

import "github.com/groupq-io/groupq/internal/types"

// Snapshot is the GroupView implementation shared by the built-in stores.
// It is immutable once constructed.
type Snapshot struct {
	groupID  string
	total    int
	unmarked []*types.Message
}

// NewSnapshot builds a view over the given members. total counts marked and
// unmarked members; unmarked holds only the visible ones, in iteration order.
func NewSnapshot(groupID string, total int, unmarked []*types.Message) *Snapshot {
	return &Snapshot{groupID: groupID, total: total, unmarked: unmarked}
}

func (s *Snapshot) ID() string { return s.groupID }

func (s *Snapshot) Size() int { return s.total }

// Unmarked returns a copy of the unmarked members so callers cannot mutate
// the snapshot.
func (s *Snapshot) Unmarked() []*types.Message {
	out := make([]*types.Message, len(s.unmarked))
	copy(out, s.unmarked)
	return out
}
