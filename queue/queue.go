// Package queue implements the double-buffered receive queue that
// isolates the listener goroutine's socket I/O from the updater's
// dispatch work.
//
// Two fixed-capacity buffers (A and B) are indexed by an active flag. The
// listener always appends to the active buffer; Swap flips the flag and
// returns the buffer that was active until a moment ago, now safe for the
// caller to drain without racing the listener. The queue's internal mutex
// therefore only ever protects an append or the O(1) flip — never
// a drain — which is the point of the double buffer: the critical section
// never grows with queue depth.
package queue

import (
	"sync"
	"time"

	"github.com/networknext/next-go/address"
)

// DefaultCapacity bounds how many datagrams can be pending in one half of
// the queue before the oldest are dropped, bounding memory under a
// packet flood.
const DefaultCapacity = 2048

// Entry is one received datagram, timestamped and tagged with its source.
type Entry struct {
	Timestamp time.Time
	Source    address.Address
	Data      []byte
}

// Queue is a double-buffered, capacity-bounded packet queue.
type Queue struct {
	mu       sync.Mutex
	buffers  [2][]Entry
	active   int
	capacity int
}

// New creates a Queue with the given per-half capacity. A capacity <= 0
// uses DefaultCapacity.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		buffers:  [2][]Entry{make([]Entry, 0, capacity), make([]Entry, 0, capacity)},
		capacity: capacity,
	}
}

// Push appends an entry to the active buffer. If the active buffer is at
// capacity, the oldest entry is dropped to make room — a flood costs the
// oldest pending datagrams, not the newest arrivals.
func (q *Queue) Push(e Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	buf := q.buffers[q.active]
	if len(buf) >= q.capacity {
		copy(buf, buf[1:])
		buf = buf[:len(buf)-1]
	}
	q.buffers[q.active] = append(buf, e)
}

// Swap flips the active buffer and returns the previously active one so
// the caller can drain it with no lock held. The returned slice's backing
// array becomes the active buffer again on the next Swap (reset to length
// zero), so the caller must finish draining before calling Swap again —
// exactly the cadence the updater's flip-then-drain loop provides.
func (q *Queue) Swap() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	drained := q.buffers[q.active]
	q.active = 1 - q.active
	q.buffers[q.active] = q.buffers[q.active][:0]
	return drained
}

// Len reports the number of entries currently in the active buffer. Racy
// by nature (the listener may append concurrently) — intended for metrics,
// not control flow.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buffers[q.active])
}
