// Package queue implements the bounded priority queue feeding the
// command executor. Items carry a numeric score and a retry-eligibility
// timestamp; dequeue always picks the highest-score processable item.
package queue

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/techprocreative/fx-platform-windows-sub003/internal/types"
)

// DefaultCapacity bounds the queue when no explicit capacity is given.
const DefaultCapacity = 1000

type state int

const (
	statePending state = iota
	stateExecuting
)

// Item is a queued command together with its retry bookkeeping.
// Owned exclusively by the queue; callers receive copies.
type Item struct {
	QueueID     string
	Command     types.Command
	Score       int
	Attempts    int
	MaxAttempts int
	EnqueuedAt  time.Time
	NextRetryAt *time.Time

	seq   uint64
	state state
}

// Executing reports whether the item has been handed to the worker.
func (it *Item) Executing() bool { return it.state == stateExecuting }

// Processable reports whether the item may be executed now.
func (it *Item) Processable(now time.Time) bool {
	return it.state == statePending && (it.NextRetryAt == nil || !now.Before(*it.NextRetryAt))
}

// Stats is a point-in-time snapshot of queue occupancy.
type Stats struct {
	Pending   int `json:"pending"`
	Executing int `json:"executing"`
	Capacity  int `json:"capacity"`
}

// Queue is a mutex-guarded priority queue. All mutating operations are
// safe for concurrent use; enqueue past capacity fails loudly with
// types.ErrQueueFull rather than dropping.
type Queue struct {
	mu       sync.Mutex
	items    map[string]*Item
	capacity int
	nextSeq  uint64

	now func() time.Time // test hook
}

// New allocates a queue with the given capacity (<=0 means DefaultCapacity).
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		items:    make(map[string]*Item),
		capacity: capacity,
		now:      time.Now,
	}
}

// NewWithClock allocates a queue whose retry eligibility is judged by
// the supplied clock instead of time.Now.
func NewWithClock(capacity int, now func() time.Time) *Queue {
	q := New(capacity)
	if now != nil {
		q.now = now
	}
	return q
}

// Enqueue adds a command with the given priority score and attempt budget,
// returning the queue id.
func (q *Queue) Enqueue(cmd types.Command, score, maxAttempts int) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.capacity {
		return "", types.ErrQueueFull
	}

	id := uuid.NewString()
	q.nextSeq++
	q.items[id] = &Item{
		QueueID:     id,
		Command:     cmd,
		Score:       score,
		Attempts:    0,
		MaxAttempts: maxAttempts,
		EnqueuedAt:  q.now(),
		seq:         q.nextSeq,
		state:       statePending,
	}
	return id, nil
}

// Dequeue returns the highest-score processable item and marks it
// executing. Returns nil when nothing is ready; items still in backoff
// remain queued but are skipped.
func (q *Queue) Dequeue() *Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	best := q.pickLocked()
	if best == nil {
		return nil
	}
	best.state = stateExecuting
	cp := *best
	return &cp
}

func (q *Queue) pickLocked() *Item {
	now := q.now()
	var best *Item
	for _, it := range q.items {
		if !it.Processable(now) {
			continue
		}
		if best == nil || it.Score > best.Score || (it.Score == best.Score && it.seq < best.seq) {
			best = it
		}
	}
	return best
}

// RemoveByID removes a pending item. Executing items cannot be removed;
// the caller owns them until Complete or Requeue.
func (q *Queue) RemoveByID(queueID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.items[queueID]
	if !ok || it.state != statePending {
		return false
	}
	delete(q.items, queueID)
	return true
}

// RemoveByCommandID removes the pending item carrying the given command id.
func (q *Queue) RemoveByCommandID(commandID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for id, it := range q.items {
		if it.Command.ID == commandID {
			if it.state != statePending {
				return false
			}
			delete(q.items, id)
			return true
		}
	}
	return false
}

// Requeue returns an executing item to the queue with a retry delay and an
// incremented attempt count.
func (q *Queue) Requeue(queueID string, delay time.Duration) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.items[queueID]
	if !ok || it.state != stateExecuting {
		return false
	}
	at := q.now().Add(delay)
	it.NextRetryAt = &at
	it.Attempts++
	it.state = statePending
	return true
}

// Complete removes an executing item after its final result is recorded.
func (q *Queue) Complete(queueID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.items[queueID]
	if !ok || it.state != stateExecuting {
		return false
	}
	delete(q.items, queueID)
	return true
}

// GetAll returns copies of every item, pending and executing.
func (q *Queue) GetAll() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Item, 0, len(q.items))
	for _, it := range q.items {
		out = append(out, *it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// ProcessableItems returns copies of the items whose retry time has
// passed, ordered by score descending with enqueue order breaking ties.
func (q *Queue) ProcessableItems() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	out := make([]Item, 0, len(q.items))
	for _, it := range q.items {
		if it.Processable(now) {
			out = append(out, *it)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].seq < out[j].seq
	})
	return out
}

// DrainPending removes and returns every pending item. Used by the kill
// switch to fail queued trade commands without executing them.
func (q *Queue) DrainPending() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Item, 0, len(q.items))
	for id, it := range q.items {
		if it.state == statePending {
			out = append(out, *it)
			delete(q.items, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Size returns the number of items held, including executing ones.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// GetStats snapshots queue occupancy.
func (q *Queue) GetStats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	st := Stats{Capacity: q.capacity}
	for _, it := range q.items {
		if it.state == stateExecuting {
			st.Executing++
		} else {
			st.Pending++
		}
	}
	return st
}
