package server

import (
	"sync"
	"time"
)

// DefaultEventHistory is the default number of retained connection events.
const DefaultEventHistory = 256

// EventKind names a connection lifecycle event.
type EventKind string

const (
	EventAdmitted      EventKind = "admitted"
	EventRejected      EventKind = "rejected"
	EventClosed        EventKind = "closed"
	EventForceClosed   EventKind = "force_closed"
	EventHandlerFailed EventKind = "handler_failed"
)

// Event is one entry of the server's recent connection history.
type Event struct {
	Time   time.Time `json:"time"`
	Kind   EventKind `json:"kind"`
	ConnID uint64    `json:"conn_id,omitempty"`
	Remote string    `json:"remote,omitempty"`
	Err    string    `json:"error,omitempty"`
}

// nextPow2 returns the smallest power of two >= v with a minimum of 1.
func nextPow2(v uint64) uint64 {
	if v == 0 {
		return 1
	}
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v |= v >> 32
	return v + 1
}

// eventRing is a fixed-size circular history. Pushing into a full ring
// drops the oldest event.
type eventRing struct {
	mu   sync.Mutex
	buf  []Event
	mask uint64
	head uint64 // oldest retained event.
	tail uint64 // next write position.
}

func newEventRing(size int) *eventRing {
	if size < 0 {
		size = 0
	}
	n := nextPow2(uint64(size))
	return &eventRing{
		buf:  make([]Event, n),
		mask: n - 1,
	}
}

func (r *eventRing) push(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	r.mu.Lock()
	if r.tail-r.head == uint64(len(r.buf)) {
		r.head++
	}
	r.buf[r.tail&r.mask] = e
	r.tail++
	r.mu.Unlock()
}

// snapshot returns the retained events, oldest first.
func (r *eventRing) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Event, 0, r.tail-r.head)
	for i := r.head; i != r.tail; i++ {
		out = append(out, r.buf[i&r.mask])
	}
	return out
}

func (r *eventRing) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(r.tail - r.head)
}

func (r *eventRing) capacity() int {
	return len(r.buf)
}
