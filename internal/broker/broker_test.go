package broker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/groupq-io/groupq/internal/broker"
	"github.com/groupq-io/groupq/internal/config"
)

// ─── helpers ─────────────────────────────────────────────────────────────────

func newTestBroker(t *testing.T, capacity int) *broker.Broker {
	t.Helper()
	cfg := &config.Config{
		Node:  config.NodeConfig{DataDir: t.TempDir()},
		Store: config.StoreConfig{Backend: config.BackendMemory},
		Queue: config.QueueConfig{
			Capacity:         capacity,
			MaxMessageSizeKB: 64,
			MaxWaitMs:        30_000,
		},
	}
	b, err := broker.New(cfg)
	if err != nil {
		t.Fatalf("broker.New: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func ctx() context.Context { return context.Background() }

func mustOffer(t *testing.T, b *broker.Broker, group, body string) string {
	t.Helper()
	resp, err := b.Offer(ctx(), broker.OfferRequest{Group: group, Body: []byte(body)})
	if err != nil {
		t.Fatalf("Offer %q: %v", body, err)
	}
	if !resp.Accepted {
		t.Fatalf("Offer %q refused", body)
	}
	return resp.MessageID
}

// ─── Offer ───────────────────────────────────────────────────────────────────

func TestBroker_Offer_BasicMessage(t *testing.T) {
	b := newTestBroker(t, 0)
	resp, err := b.Offer(ctx(), broker.OfferRequest{
		Group: "orders",
		Body:  []byte(`{"hello":"world"}`),
	})
	if err != nil {
		t.Fatalf("Offer: %v", err)
	}
	if !resp.Accepted {
		t.Fatal("offer should be accepted on an unbounded group")
	}
	if len(resp.MessageID) != 26 {
		t.Errorf("expected 26-char ULID, got %q", resp.MessageID)
	}
}

func TestBroker_Offer_RefusedAtCapacity(t *testing.T) {
	b := newTestBroker(t, 1)

	mustOffer(t, b, "tight", "a")

	resp, err := b.Offer(ctx(), broker.OfferRequest{Group: "tight", Body: []byte("b")})
	if err != nil {
		t.Fatalf("Offer: %v", err)
	}
	if resp.Accepted {
		t.Fatal("offer into a full group must be refused")
	}
	if resp.MessageID != "" {
		t.Errorf("refused offer must carry no ID, got %q", resp.MessageID)
	}
}

func TestBroker_Offer_InvalidGroupID(t *testing.T) {
	b := newTestBroker(t, 0)
	for _, id := range []string{"", "Uppercase", "has_underscore", "-leading-hyphen", "has space"} {
		_, err := b.Offer(ctx(), broker.OfferRequest{Group: id, Body: []byte("x")})
		if !errors.Is(err, broker.ErrInvalidGroupID) {
			t.Errorf("group %q: want ErrInvalidGroupID, got %v", id, err)
		}
	}
}

func TestBroker_Offer_BodyTooLarge(t *testing.T) {
	b := newTestBroker(t, 0)
	_, err := b.Offer(ctx(), broker.OfferRequest{Group: "g", Body: make([]byte, 65*1024)})
	if !errors.Is(err, broker.ErrBodyTooLarge) {
		t.Fatalf("want ErrBodyTooLarge, got %v", err)
	}
}

// ─── Poll / Take ─────────────────────────────────────────────────────────────

func TestBroker_PollRoundTrip(t *testing.T) {
	b := newTestBroker(t, 0)

	id := mustOffer(t, b, "orders", "hello")

	msg, err := b.Poll(ctx(), "orders", 0)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if msg == nil {
		t.Fatal("expected a message")
	}
	if msg.ID != id {
		t.Errorf("polled %q, offered %q", msg.ID, id)
	}
	if string(msg.Body) != "hello" {
		t.Errorf("body = %q", msg.Body)
	}
	if msg.ReceivedAt == 0 {
		t.Error("ReceivedAt must be set")
	}

	msg2, err := b.Poll(ctx(), "orders", 0)
	if err != nil {
		t.Fatalf("second Poll: %v", err)
	}
	if msg2 != nil {
		t.Fatalf("expected nil on empty group, got %v", msg2)
	}
}

func TestBroker_Poll_WaitsOnEmptyGroup(t *testing.T) {
	b := newTestBroker(t, 0)

	start := time.Now()
	msg, err := b.Poll(ctx(), "empty", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if msg != nil {
		t.Fatalf("expected nil, got %v", msg)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("poll returned after %v, should have waited ~50ms", elapsed)
	}
}

func TestBroker_Take_UnblockedByOffer(t *testing.T) {
	b := newTestBroker(t, 0)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_, _ = b.Offer(ctx(), broker.OfferRequest{Group: "late", Body: []byte("arrived")})
	}()

	tctx, cancel := context.WithTimeout(ctx(), 5*time.Second)
	defer cancel()
	msg, err := b.Take(tctx, "late")
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	if string(msg.Body) != "arrived" {
		t.Errorf("body = %q", msg.Body)
	}
}

// ─── Drain ───────────────────────────────────────────────────────────────────

func TestBroker_Drain_Unbounded(t *testing.T) {
	b := newTestBroker(t, 0)

	mustOffer(t, b, "ckpt", "a")
	mustOffer(t, b, "ckpt", "b")

	msgs, err := b.Drain("ckpt", 0)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("drained %d, want 2", len(msgs))
	}

	// Checkpointed members stay in the group: size 0, total 2.
	st, err := b.Stats("ckpt")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Size != 0 || st.Total != 2 {
		t.Fatalf("size/total = %d/%d, want 0/2", st.Size, st.Total)
	}
}

func TestBroker_Drain_Bounded(t *testing.T) {
	b := newTestBroker(t, 0)

	mustOffer(t, b, "bulk", "a")
	mustOffer(t, b, "bulk", "b")
	mustOffer(t, b, "bulk", "c")

	msgs, err := b.Drain("bulk", 2)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("drained %d, want 2", len(msgs))
	}
	if string(msgs[0].Body) != "a" || string(msgs[1].Body) != "b" {
		t.Fatalf("drain order wrong: %q, %q", msgs[0].Body, msgs[1].Body)
	}

	st, _ := b.Stats("bulk")
	if st.Size != 1 || st.Total != 1 {
		t.Fatalf("size/total = %d/%d, want 1/1", st.Size, st.Total)
	}
}

// ─── Stats / identity ────────────────────────────────────────────────────────

func TestBroker_Stats_BoundedGroup(t *testing.T) {
	b := newTestBroker(t, 5)

	mustOffer(t, b, "jobs", "x")
	mustOffer(t, b, "jobs", "y")

	st, err := b.Stats("jobs")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Capacity != 5 || st.RemainingCapacity != 3 {
		t.Fatalf("capacity/remaining = %d/%d, want 5/3", st.Capacity, st.RemainingCapacity)
	}
}

func TestBroker_Stats_UnboundedGroup(t *testing.T) {
	b := newTestBroker(t, 0)
	st, err := b.Stats("open")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Capacity != 0 || st.RemainingCapacity != -1 {
		t.Fatalf("capacity/remaining = %d/%d, want 0/-1", st.Capacity, st.RemainingCapacity)
	}
}

func TestBroker_Queue_SharedInstance(t *testing.T) {
	b := newTestBroker(t, 0)

	q1, err := b.Queue("same")
	if err != nil {
		t.Fatalf("Queue: %v", err)
	}
	q2, err := b.Queue("same")
	if err != nil {
		t.Fatalf("Queue: %v", err)
	}
	if q1 != q2 {
		t.Fatal("same group must map to the same queue instance")
	}
	if b.GroupCount() != 1 {
		t.Fatalf("GroupCount = %d, want 1", b.GroupCount())
	}
}

func TestBroker_BoltBackend_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		Node:  config.NodeConfig{DataDir: dir},
		Store: config.StoreConfig{Backend: config.BackendBolt, Path: "groups.db"},
		Queue: config.QueueConfig{MaxMessageSizeKB: 64},
	}

	b1, err := broker.New(cfg)
	if err != nil {
		t.Fatalf("broker.New: %v", err)
	}
	id := mustOffer(t, b1, "persist", "durable")
	if err := b1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	b2, err := broker.New(cfg)
	if err != nil {
		t.Fatalf("reopen broker.New: %v", err)
	}
	defer b2.Close()

	msg, err := b2.Poll(ctx(), "persist", 0)
	if err != nil {
		t.Fatalf("Poll after reopen: %v", err)
	}
	if msg == nil || msg.ID != id {
		t.Fatalf("message did not survive reopen: %v", msg)
	}
}
