package osm

import (
	"container/heap"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelfutures/fcore/internal/coretypes"
)

// TimeoutEntry is one scheduled timeout: if ctx LocalID's order has not
// advanced past the state it was in when scheduled by the time Deadline
// passes, Event fires into the Machine.
type TimeoutEntry struct {
	Deadline time.Time
	LocalID  uuid.UUID
	Event    coretypes.OrderEvent
	index    int // heap bookkeeping
}

// timeoutQueue is a container/heap min-heap ordered by Deadline.
type timeoutQueue []*TimeoutEntry

func (q timeoutQueue) Len() int            { return len(q) }
func (q timeoutQueue) Less(i, j int) bool  { return q[i].Deadline.Before(q[j].Deadline) }
func (q timeoutQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index, q[j].index = i, j
}

func (q *timeoutQueue) Push(x any) {
	e := x.(*TimeoutEntry)
	e.index = len(*q)
	*q = append(*q, e)
}

func (q *timeoutQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*q = old[:n-1]
	return e
}

// TimeoutHeap schedules and pops ack/fill/cancel timeouts for in-flight
// orders. One instance per AutoOrderEngine; LocalID entries are cancelled
// (removed) when the order reaches the state the timeout was guarding
// against before the deadline fires.
type TimeoutHeap struct {
	q       timeoutQueue
	byOrder map[uuid.UUID][]*TimeoutEntry
}

// NewTimeoutHeap builds an empty heap.
func NewTimeoutHeap() *TimeoutHeap {
	return &TimeoutHeap{byOrder: make(map[uuid.UUID][]*TimeoutEntry)}
}

// Schedule adds a timeout entry for localID at deadline.
func (h *TimeoutHeap) Schedule(localID uuid.UUID, deadline time.Time, event coretypes.OrderEvent) {
	e := &TimeoutEntry{Deadline: deadline, LocalID: localID, Event: event}
	heap.Push(&h.q, e)
	h.byOrder[localID] = append(h.byOrder[localID], e)
}

// Cancel removes all pending timeout entries for localID — called once an
// order leaves the state the timeout was guarding (e.g. an ack arrives
// before TIMEOUT_ACK fires).
func (h *TimeoutHeap) Cancel(localID uuid.UUID) {
	entries, ok := h.byOrder[localID]
	if !ok {
		return
	}
	delete(h.byOrder, localID)
	for _, e := range entries {
		if e.index >= 0 {
			heap.Remove(&h.q, e.index)
		}
	}
}

// DueBefore pops and returns every entry whose deadline is <= now, in
// deadline order. Callers feed each returned event into Machine.Apply;
// entries for orders that already advanced past the guarded state are
// still returned (Apply's terminal/unknown-transition handling no-ops
// them harmlessly in tolerant mode).
func (h *TimeoutHeap) DueBefore(now time.Time) []*TimeoutEntry {
	var due []*TimeoutEntry
	for h.q.Len() > 0 && !h.q[0].Deadline.After(now) {
		e := heap.Pop(&h.q).(*TimeoutEntry)
		h.removeFromOrderIndex(e)
		due = append(due, e)
	}
	return due
}

func (h *TimeoutHeap) removeFromOrderIndex(e *TimeoutEntry) {
	entries := h.byOrder[e.LocalID]
	for i, other := range entries {
		if other == e {
			h.byOrder[e.LocalID] = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(h.byOrder[e.LocalID]) == 0 {
		delete(h.byOrder, e.LocalID)
	}
}

// Len reports the number of pending entries.
func (h *TimeoutHeap) Len() int { return h.q.Len() }
