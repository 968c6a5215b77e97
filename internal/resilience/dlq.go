package resilience

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// DefaultDLQCapacity bounds the dead-letter queue.
const DefaultDLQCapacity = 1000

// DeadLetter is an operation that exhausted its retries and was parked for
// later manual or batch reprocessing.
type DeadLetter struct {
	ID        string    `json:"id"`
	Component string    `json:"component"`
	AlertID   string    `json:"alert_id,omitempty"`
	Stage     string    `json:"stage"`
	Error     string    `json:"error"`
	QueuedAt  time.Time `json:"queued_at"`
}

// DLQ is a bounded FIFO of dead letters. Once full, the oldest entry is
// dropped to admit the newest.
type DLQ struct {
	mu      sync.Mutex
	cap     int
	entries []DeadLetter
	dropped uint64
}

// NewDLQ builds a queue bounded at capacity; non-positive values take
// DefaultDLQCapacity.
func NewDLQ(capacity int) *DLQ {
	if capacity <= 0 {
		capacity = DefaultDLQCapacity
	}
	return &DLQ{cap: capacity}
}

// Append parks a failed operation, assigning it an ID if absent.
func (q *DLQ) Append(d DeadLetter) {
	if d.ID == "" {
		d.ID = ulid.Make().String()
	}
	if d.QueuedAt.IsZero() {
		d.QueuedAt = time.Now().UTC()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) >= q.cap {
		drop := len(q.entries) - q.cap + 1
		q.entries = append(q.entries[:0], q.entries[drop:]...)
		q.dropped += uint64(drop)
	}
	q.entries = append(q.entries, d)
}

// Entries returns a copy of the queue, oldest first.
func (q *DLQ) Entries() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]DeadLetter, len(q.entries))
	copy(out, q.entries)
	return out
}

// Drain removes and returns up to max entries, oldest first. A non-positive
// max drains everything.
func (q *DLQ) Drain(max int) []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.entries)
	if max > 0 && max < n {
		n = max
	}
	out := make([]DeadLetter, n)
	copy(out, q.entries[:n])
	q.entries = append(q.entries[:0], q.entries[n:]...)
	return out
}

// Len reports the number of queued entries.
func (q *DLQ) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Dropped reports how many entries were evicted due to the bound.
func (q *DLQ) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
