package relay

import "sync"

// Inbox is an unbounded FIFO of envelopes safe for one producer and one
// consumer on different goroutines.
type Inbox struct {
	mu    sync.Mutex
	items []Envelope
}

// Push appends an envelope.
func (q *Inbox) Push(env Envelope) {
	q.mu.Lock()
	q.items = append(q.items, env)
	q.mu.Unlock()
}

// Pop removes and returns the oldest envelope. ok is false when empty.
func (q *Inbox) Pop() (env Envelope, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Envelope{}, false
	}
	env = q.items[0]
	q.items[0] = Envelope{}
	q.items = q.items[1:]
	if len(q.items) == 0 {
		// Drop the backing array so a drained burst is released.
		q.items = nil
	}
	return env, true
}

// Len returns the number of queued envelopes.
func (q *Inbox) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
