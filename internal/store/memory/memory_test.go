package memory_test

import (
	"errors"
	"testing"

	"github.com/groupq-io/groupq/internal/ident"
	"github.com/groupq-io/groupq/internal/store"
	"github.com/groupq-io/groupq/internal/store/memory"
	"github.com/groupq-io/groupq/internal/types"
)

func msg(t *testing.T) *types.Message {
	t.Helper()
	return &types.Message{ID: ident.MustNewID(), Body: []byte("payload")}
}

func TestUnknownGroupIsEmpty(t *testing.T) {
	s := memory.New()
	g, err := s.Group("nope")
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	if g.Size() != 0 || len(g.Unmarked()) != 0 {
		t.Fatalf("unknown group: want empty, got size=%d unmarked=%d", g.Size(), len(g.Unmarked()))
	}
}

func TestAddRemoveOrder(t *testing.T) {
	s := memory.New()
	a, b, c := msg(t), msg(t), msg(t)
	for _, m := range []*types.Message{a, b, c} {
		if err := s.AddToGroup("g", m); err != nil {
			t.Fatalf("AddToGroup: %v", err)
		}
	}

	if err := s.RemoveFromGroup("g", b); err != nil {
		t.Fatalf("RemoveFromGroup: %v", err)
	}

	g, err := s.Group("g")
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	unmarked := g.Unmarked()
	if len(unmarked) != 2 || unmarked[0].ID != a.ID || unmarked[1].ID != c.ID {
		t.Fatalf("order after removal: want [%s %s], got %+v", a.ID, c.ID, unmarked)
	}
}

func TestRemoveUnknownMessage(t *testing.T) {
	s := memory.New()
	if err := s.RemoveFromGroup("g", msg(t)); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("RemoveFromGroup: want ErrNotFound, got %v", err)
	}
}

func TestMarkGroupRetainsMembers(t *testing.T) {
	s := memory.New()
	for i := 0; i < 3; i++ {
		if err := s.AddToGroup("g", msg(t)); err != nil {
			t.Fatalf("AddToGroup: %v", err)
		}
	}

	g, _ := s.Group("g")
	if err := s.MarkGroup(g); err != nil {
		t.Fatalf("MarkGroup: %v", err)
	}

	g, _ = s.Group("g")
	if g.Size() != 3 {
		t.Fatalf("Size after mark: want 3 (retained), got %d", g.Size())
	}
	if n := len(g.Unmarked()); n != 0 {
		t.Fatalf("Unmarked after mark: want 0, got %d", n)
	}
}

func TestGroupsAreIsolated(t *testing.T) {
	s := memory.New()
	if err := s.AddToGroup("a", msg(t)); err != nil {
		t.Fatalf("AddToGroup: %v", err)
	}

	g, _ := s.Group("b")
	if g.Size() != 0 {
		t.Fatalf("group b: want empty, got size=%d", g.Size())
	}
}

func TestStoreClonesMessages(t *testing.T) {
	s := memory.New()
	m := msg(t)
	if err := s.AddToGroup("g", m); err != nil {
		t.Fatalf("AddToGroup: %v", err)
	}
	m.Body[0] = 'X' // caller mutation after admission

	g, _ := s.Group("g")
	if got := g.Unmarked()[0].Body[0]; got == 'X' {
		t.Fatal("store returned a message aliased to the caller's buffer")
	}
}
