package queue

import "sync"

// waitSet is one synchronization domain of the queue: a set of goroutines
// parked until the group's state might have changed in their favour.
//
// It is a broadcast gate. Waiters capture the current gate channel, attempt
// their non-blocking primitive, and only then park on the captured channel.
// broadcast closes the current channel and installs a fresh one, waking every
// goroutine parked on (or about to park on) the old gate. Because the gate is
// captured BEFORE the attempt, a broadcast that lands between the failed
// attempt and the park still wakes the waiter — there is no lost-wakeup
// window.
//
// Wake-ups are broadcast to all waiters, never single-wake: every woken
// goroutine re-attempts its primitive and may find another waiter got there
// first. The thundering-herd re-contention is the price of a correctness
// argument that needs no waiter accounting.
type waitSet struct {
	mu   sync.Mutex
	gate chan struct{}
}

func newWaitSet() *waitSet {
	return &waitSet{gate: make(chan struct{})}
}

// wait returns the channel that the next broadcast will close.
// Capture it before attempting the primitive you intend to park on.
func (w *waitSet) wait() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.gate
}

// broadcast wakes every parked waiter by closing the current gate.
func (w *waitSet) broadcast() {
	w.mu.Lock()
	close(w.gate)
	w.gate = make(chan struct{})
	w.mu.Unlock()
}
