package session

import (
	"sync"
	"time"
)

// Kind classifies an activity entry for the observer UI.
type Kind string

const (
	KindAction  Kind = "action"
	KindThought Kind = "thought"
	KindResult  Kind = "result"
	KindStatus  Kind = "status"
)

// DefaultActivityCapacity bounds the per-session buffer when no explicit
// capacity is configured.
const DefaultActivityCapacity = 10000

// Entry is one observer-facing activity message. ThreadTitle and ThreadStatus
// are optional grouping labels letting an observer render a session's output
// as named sub-threads instead of one flat log.
type Entry struct {
	Kind         Kind      `json:"kind"`
	Message      string    `json:"message"`
	ThreadTitle  string    `json:"threadTitle,omitempty"`
	ThreadStatus string    `json:"threadStatus,omitempty"`
	At           time.Time `json:"at"`
}

// ActivityHub buffers activity entries per session for intermittent pollers.
// Entries accumulate only while an observer registration exists for the id;
// without one, messages are discarded at the source. Each buffer is a fixed
// capacity ring: on overflow the oldest entries are dropped, so a poller is
// guaranteed the most recent entries, never completeness.
type ActivityHub struct {
	mu       sync.Mutex
	capacity int
	queues   map[string]*entryRing
}

// NewActivityHub creates a hub whose per-session buffers hold up to capacity
// entries. Non-positive capacity selects the default.
func NewActivityHub(capacity int) *ActivityHub {
	if capacity <= 0 {
		capacity = DefaultActivityCapacity
	}
	return &ActivityHub{
		capacity: capacity,
		queues:   make(map[string]*entryRing),
	}
}

// Register starts buffering entries for the id. Registering an id that is
// already registered keeps the existing buffer.
func (h *ActivityHub) Register(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.queues[id]; !ok {
		h.queues[id] = newEntryRing(h.capacity)
	}
}

// Unregister stops buffering for the id and drops anything queued.
func (h *ActivityHub) Unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.queues, id)
}

// Registered reports whether an observer registration exists for the id.
func (h *ActivityHub) Registered(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.queues[id]
	return ok
}

// Publish appends an entry to the session's buffer, evicting the oldest entry
// if the buffer is full. Entries for unregistered ids are discarded.
func (h *ActivityHub) Publish(id string, e Entry) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	q, ok := h.queues[id]
	if !ok {
		return
	}
	q.push(e)
}

// Drain returns and removes all currently queued entries for the id, in the
// order they were published. At-most-once delivery: entries handed to a
// poller are gone from the buffer.
func (h *ActivityHub) Drain(id string) []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	q, ok := h.queues[id]
	if !ok {
		return nil
	}
	return q.drain()
}

// Len reports the number of buffered entries for the id.
func (h *ActivityHub) Len(id string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	q, ok := h.queues[id]
	if !ok {
		return 0
	}
	return q.n
}

// entryRing is a fixed-capacity FIFO that overwrites its oldest element when
// full. Not safe for concurrent use; the hub's lock covers it.
type entryRing struct {
	buf  []Entry
	head int // index of the oldest entry
	n    int
}

func newEntryRing(capacity int) *entryRing {
	return &entryRing{buf: make([]Entry, capacity)}
}

func (r *entryRing) push(e Entry) {
	if r.n == len(r.buf) {
		// Full: overwrite the oldest slot and advance the head.
		r.buf[r.head] = e
		r.head = (r.head + 1) % len(r.buf)
		return
	}
	r.buf[(r.head+r.n)%len(r.buf)] = e
	r.n++
}

func (r *entryRing) drain() []Entry {
	if r.n == 0 {
		return nil
	}
	out := make([]Entry, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	r.head = 0
	r.n = 0
	return out
}
