package queue_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/groupq-io/groupq/internal/ident"
	"github.com/groupq-io/groupq/internal/queue"
	"github.com/groupq-io/groupq/internal/store"
	"github.com/groupq-io/groupq/internal/store/memory"
	"github.com/groupq-io/groupq/internal/types"
)

// ─── helpers ─────────────────────────────────────────────────────────────────

func newQueue(t *testing.T) *queue.GroupQueue {
	t.Helper()
	return queue.New(memory.New(), "orders")
}

func newBounded(t *testing.T, capacity int) *queue.GroupQueue {
	t.Helper()
	return queue.NewBounded(memory.New(), "orders", capacity)
}

func newMsg(t *testing.T) *types.Message {
	t.Helper()
	return &types.Message{
		ID:         ident.MustNewID(),
		Body:       []byte(`{"test":true}`),
		ReceivedAt: time.Now().UnixMilli(),
	}
}

func mustOffer(t *testing.T, q *queue.GroupQueue, msg *types.Message) {
	t.Helper()
	ok, err := q.Offer(msg)
	if err != nil {
		t.Fatalf("Offer: %v", err)
	}
	if !ok {
		t.Fatal("Offer: refused, expected admission")
	}
}

func size(t *testing.T, q *queue.GroupQueue) int {
	t.Helper()
	n, err := q.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	return n
}

func remaining(t *testing.T, q *queue.GroupQueue) int {
	t.Helper()
	n, err := q.RemainingCapacity()
	if err != nil {
		t.Fatalf("RemainingCapacity: %v", err)
	}
	return n
}

// ─── Non-blocking primitives ─────────────────────────────────────────────────

func TestOfferPollSize(t *testing.T) {
	q := newQueue(t)

	const n, m = 7, 4
	for i := 0; i < n; i++ {
		mustOffer(t, q, newMsg(t))
	}
	for i := 0; i < m; i++ {
		msg, err := q.Poll()
		if err != nil {
			t.Fatalf("Poll %d: %v", i, err)
		}
		if msg == nil {
			t.Fatalf("Poll %d: got nil, expected a message", i)
		}
	}

	if got := size(t, q); got != n-m {
		t.Fatalf("Size after %d offers and %d polls: want %d, got %d", n, m, n-m, got)
	}
}

func TestPollEmpty(t *testing.T) {
	q := newQueue(t)

	start := time.Now()
	msg, err := q.Poll()
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if msg != nil {
		t.Fatalf("Poll on empty group: want nil, got %+v", msg)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("Poll on empty group blocked for %v", elapsed)
	}
}

func TestOfferAtCapacity(t *testing.T) {
	q := newBounded(t, 2)

	mustOffer(t, q, newMsg(t))
	mustOffer(t, q, newMsg(t))

	ok, err := q.Offer(newMsg(t))
	if err != nil {
		t.Fatalf("Offer at capacity: %v", err)
	}
	if ok {
		t.Fatal("Offer at capacity: want refusal, got admission")
	}
	if got := size(t, q); got != 2 {
		t.Fatalf("Size after refused Offer: want 2, got %d", got)
	}
	if got := remaining(t, q); got != 0 {
		t.Fatalf("RemainingCapacity at capacity: want 0, got %d", got)
	}
}

func TestOfferInvalidMessage(t *testing.T) {
	q := newQueue(t)

	for _, msg := range []*types.Message{nil, {}} {
		if _, err := q.Offer(msg); !errors.Is(err, queue.ErrNilMessage) {
			t.Fatalf("Offer(%+v): want ErrNilMessage, got %v", msg, err)
		}
	}
	if got := size(t, q); got != 0 {
		t.Fatalf("Size after invalid offers: want 0, got %d", got)
	}
}

func TestPollFIFO(t *testing.T) {
	q := newQueue(t)

	var want []string
	for i := 0; i < 5; i++ {
		msg := newMsg(t)
		want = append(want, msg.ID)
		mustOffer(t, q, msg)
	}

	for i, id := range want {
		msg, err := q.Poll()
		if err != nil {
			t.Fatalf("Poll %d: %v", i, err)
		}
		if msg.ID != id {
			t.Fatalf("Poll %d: want %s, got %s", i, id, msg.ID)
		}
	}
}

func TestPeek(t *testing.T) {
	q := newQueue(t)

	if msg, err := q.Peek(); err != nil || msg != nil {
		t.Fatalf("Peek on empty group: want (nil, nil), got (%+v, %v)", msg, err)
	}

	first := newMsg(t)
	mustOffer(t, q, first)
	mustOffer(t, q, newMsg(t))

	for i := 0; i < 2; i++ {
		msg, err := q.Peek()
		if err != nil {
			t.Fatalf("Peek: %v", err)
		}
		if msg == nil || msg.ID != first.ID {
			t.Fatalf("Peek: want %s, got %+v", first.ID, msg)
		}
	}
	if got := size(t, q); got != 2 {
		t.Fatalf("Size after Peek: want 2, got %d", got)
	}
}

func TestRemainingCapacityUnbounded(t *testing.T) {
	q := newQueue(t)
	mustOffer(t, q, newMsg(t))

	if got := remaining(t, q); got != math.MaxInt {
		t.Fatalf("RemainingCapacity on unbounded queue: want MaxInt, got %d", got)
	}
}

func TestMessagesSnapshot(t *testing.T) {
	q := newQueue(t)
	a, b := newMsg(t), newMsg(t)
	mustOffer(t, q, a)
	mustOffer(t, q, b)

	msgs, err := q.Messages()
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != a.ID || msgs[1].ID != b.ID {
		t.Fatalf("Messages: want [%s %s], got %+v", a.ID, b.ID, msgs)
	}
}

// ─── Drains ──────────────────────────────────────────────────────────────────

func TestDrainToMarksWithoutRemoving(t *testing.T) {
	q := newBounded(t, 10)
	for i := 0; i < 3; i++ {
		mustOffer(t, q, newMsg(t))
	}
	before := remaining(t, q)

	var dest []*types.Message
	n, err := q.DrainTo(&dest)
	if err != nil {
		t.Fatalf("DrainTo: %v", err)
	}
	if n != 3 || len(dest) != 3 {
		t.Fatalf("DrainTo: want 3 moved, got n=%d len=%d", n, len(dest))
	}
	if got := size(t, q); got != 0 {
		t.Fatalf("Size after DrainTo: want 0, got %d", got)
	}
	// Marked messages stay in the store: the drain is a checkpoint, not a
	// deletion, so it frees no capacity.
	if got := remaining(t, q); got != before {
		t.Fatalf("RemainingCapacity after DrainTo: want %d (unchanged), got %d", before, got)
	}
}

func TestDrainMaxRemoves(t *testing.T) {
	q := newBounded(t, 10)
	var ids []string
	for i := 0; i < 5; i++ {
		msg := newMsg(t)
		ids = append(ids, msg.ID)
		mustOffer(t, q, msg)
	}
	before := remaining(t, q)

	var dest []*types.Message
	n, err := q.DrainMax(&dest, 2)
	if err != nil {
		t.Fatalf("DrainMax: %v", err)
	}
	if n != 2 || len(dest) != 2 {
		t.Fatalf("DrainMax: want 2 moved, got n=%d len=%d", n, len(dest))
	}
	if dest[0].ID != ids[0] || dest[1].ID != ids[1] {
		t.Fatalf("DrainMax order: want [%s %s], got [%s %s]", ids[0], ids[1], dest[0].ID, dest[1].ID)
	}
	if got := size(t, q); got != 3 {
		t.Fatalf("Size after DrainMax(2): want 3, got %d", got)
	}
	// Hard deletion frees capacity, unlike DrainTo.
	if got := remaining(t, q); got != before+2 {
		t.Fatalf("RemainingCapacity after DrainMax(2): want %d, got %d", before+2, got)
	}
}

func TestDrainMaxMoreThanAvailable(t *testing.T) {
	q := newQueue(t)
	mustOffer(t, q, newMsg(t))

	var dest []*types.Message
	n, err := q.DrainMax(&dest, 10)
	if err != nil {
		t.Fatalf("DrainMax: %v", err)
	}
	if n != 1 {
		t.Fatalf("DrainMax(10) with 1 available: want 1, got %d", n)
	}
}

// TestCapacityScenario walks the concrete capacity-2 sequence end to end.
func TestCapacityScenario(t *testing.T) {
	q := newBounded(t, 2)
	a, b, c := newMsg(t), newMsg(t), newMsg(t)

	mustOffer(t, q, a)
	mustOffer(t, q, b)

	if ok, err := q.Offer(c); err != nil || ok {
		t.Fatalf("Offer(C) on full group: want refusal, got (%v, %v)", ok, err)
	}

	polled, err := q.Poll()
	if err != nil || polled == nil || polled.ID != a.ID {
		t.Fatalf("Poll: want A (%s), got (%+v, %v)", a.ID, polled, err)
	}

	mustOffer(t, q, c)

	var dest []*types.Message
	n, err := q.DrainMax(&dest, 1)
	if err != nil || n != 1 {
		t.Fatalf("DrainMax(1): want 1, got (%d, %v)", n, err)
	}
	if dest[0].ID != b.ID {
		t.Fatalf("DrainMax(1): want B (%s), got %s", b.ID, dest[0].ID)
	}
	if got := size(t, q); got != 1 {
		t.Fatalf("Size after scenario: want 1, got %d", got)
	}
	if got := remaining(t, q); got != 1 {
		t.Fatalf("RemainingCapacity after scenario: want 1, got %d", got)
	}
}

// ─── Blocking variants ───────────────────────────────────────────────────────

func TestPollWaitTimesOut(t *testing.T) {
	q := newQueue(t)

	start := time.Now()
	msg, err := q.PollWait(context.Background(), 50*time.Millisecond)
	if err != nil {
		t.Fatalf("PollWait: %v", err)
	}
	if msg != nil {
		t.Fatalf("PollWait on empty group: want nil, got %+v", msg)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("PollWait returned after %v, before the deadline", elapsed)
	}
}

func TestPollWaitUnblockedByOffer(t *testing.T) {
	q := newQueue(t)
	want := newMsg(t)

	got := make(chan *types.Message, 1)
	errc := make(chan error, 1)
	go func() {
		msg, err := q.PollWait(context.Background(), 5*time.Second)
		errc <- err
		got <- msg
	}()

	time.Sleep(20 * time.Millisecond)
	mustOffer(t, q, want)

	if err := <-errc; err != nil {
		t.Fatalf("PollWait: %v", err)
	}
	msg := <-got
	if msg == nil || msg.ID != want.ID {
		t.Fatalf("PollWait: want %s, got %+v", want.ID, msg)
	}
}

func TestOfferWaitTimesOutWhileFull(t *testing.T) {
	q := newBounded(t, 1)
	mustOffer(t, q, newMsg(t))

	start := time.Now()
	ok, err := q.OfferWait(context.Background(), newMsg(t), 50*time.Millisecond)
	if err != nil {
		t.Fatalf("OfferWait: %v", err)
	}
	if ok {
		t.Fatal("OfferWait on a group that stayed full: want refusal")
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("OfferWait returned after %v, before the deadline", elapsed)
	}
}

func TestOfferWaitUnblockedByPoll(t *testing.T) {
	q := newBounded(t, 1)
	mustOffer(t, q, newMsg(t))

	okc := make(chan bool, 1)
	errc := make(chan error, 1)
	go func() {
		ok, err := q.OfferWait(context.Background(), newMsg(t), 5*time.Second)
		errc <- err
		okc <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	if _, err := q.Poll(); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	if err := <-errc; err != nil {
		t.Fatalf("OfferWait: %v", err)
	}
	if !<-okc {
		t.Fatal("OfferWait after capacity was freed: want admission")
	}
}

func TestOfferWaitUnblockedByDrain(t *testing.T) {
	q := newBounded(t, 1)
	mustOffer(t, q, newMsg(t))

	okc := make(chan bool, 1)
	go func() {
		ok, _ := q.OfferWait(context.Background(), newMsg(t), 5*time.Second)
		okc <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	var dest []*types.Message
	if _, err := q.DrainMax(&dest, 1); err != nil {
		t.Fatalf("DrainMax: %v", err)
	}

	if !<-okc {
		t.Fatal("OfferWait after a bounded drain: want admission")
	}
}

func TestTakeBlocksUntilOffer(t *testing.T) {
	q := newQueue(t)
	want := newMsg(t)

	got := make(chan *types.Message, 1)
	go func() {
		msg, err := q.Take(context.Background())
		if err != nil {
			t.Errorf("Take: %v", err)
		}
		got <- msg
	}()

	time.Sleep(20 * time.Millisecond)
	mustOffer(t, q, want)

	select {
	case msg := <-got:
		if msg == nil || msg.ID != want.ID {
			t.Fatalf("Take: want %s, got %+v", want.ID, msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Take did not return after Offer")
	}
}

func TestTakeCancelled(t *testing.T) {
	q := newQueue(t)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := q.Take(ctx)
		errc <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Take after cancel: want context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Take did not return after cancellation")
	}
	// Cancellation interrupts only the wait: nothing was admitted or removed.
	if got := size(t, q); got != 0 {
		t.Fatalf("Size after cancelled Take: want 0, got %d", got)
	}
}

func TestPutCancelled(t *testing.T) {
	q := newBounded(t, 1)
	mustOffer(t, q, newMsg(t))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		errc <- q.Put(ctx, newMsg(t))
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Put after cancel: want context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Put did not return after cancellation")
	}
	if got := size(t, q); got != 1 {
		t.Fatalf("Size after cancelled Put: want 1, got %d", got)
	}
}

func TestPutUnblockedByPoll(t *testing.T) {
	q := newBounded(t, 1)
	mustOffer(t, q, newMsg(t))

	done := make(chan error, 1)
	go func() {
		done <- q.Put(context.Background(), newMsg(t))
	}()

	time.Sleep(20 * time.Millisecond)
	if _, err := q.Poll(); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Put: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Put did not return after capacity was freed")
	}
}

// TestProducerConsumerFIFO drives a single producer against a single consumer
// and checks that Take returns messages in offer order.
func TestProducerConsumerFIFO(t *testing.T) {
	q := newBounded(t, 4)
	const n = 50

	ids := make([]string, n)
	go func() {
		for i := 0; i < n; i++ {
			msg := &types.Message{ID: ident.MustNewID(), Body: []byte("x")}
			ids[i] = msg.ID
			if err := q.Put(context.Background(), msg); err != nil {
				t.Errorf("Put %d: %v", i, err)
				return
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for i := 0; i < n; i++ {
		msg, err := q.Take(ctx)
		if err != nil {
			t.Fatalf("Take %d: %v", i, err)
		}
		if msg.ID != ids[i] {
			t.Fatalf("Take %d: want %s, got %s", i, ids[i], msg.ID)
		}
	}
}

// ─── Store failure propagation ───────────────────────────────────────────────

// failingStore returns errFail from every operation.
type failingStore struct{}

var errFail = errors.New("store blew up")

func (failingStore) Group(string) (store.GroupView, error)        { return nil, errFail }
func (failingStore) AddToGroup(string, *types.Message) error      { return errFail }
func (failingStore) RemoveFromGroup(string, *types.Message) error { return errFail }
func (failingStore) MarkGroup(store.GroupView) error              { return errFail }
func (failingStore) Close() error                                 { return nil }

func TestStoreErrorsPropagate(t *testing.T) {
	q := queue.New(failingStore{}, "orders")

	if _, err := q.Offer(newMsg(t)); !errors.Is(err, errFail) {
		t.Fatalf("Offer: want store error, got %v", err)
	}
	if _, err := q.Poll(); !errors.Is(err, errFail) {
		t.Fatalf("Poll: want store error, got %v", err)
	}
	if _, err := q.Size(); !errors.Is(err, errFail) {
		t.Fatalf("Size: want store error, got %v", err)
	}
	var dest []*types.Message
	if _, err := q.DrainTo(&dest); !errors.Is(err, errFail) {
		t.Fatalf("DrainTo: want store error, got %v", err)
	}
	// Blocking variants surface the store error instead of waiting.
	if _, err := q.Take(context.Background()); !errors.Is(err, errFail) {
		t.Fatalf("Take: want store error, got %v", err)
	}
}
