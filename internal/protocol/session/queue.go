package session

import "sync"

// Queue is the FIFO of continuations awaiting replies. Replies arrive in
// request order, so queue position alone pairs a reply with its request.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
	head  int
}

func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{}
}

// Push appends item and returns the new depth.
func (q *Queue[T]) Push(item T) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	return len(q.items) - q.head
}

// Pop removes the oldest item. ok is false when nothing is pending.
func (q *Queue[T]) Pop() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head == len(q.items) {
		return item, false
	}
	item = q.items[q.head]
	var zero T
	q.items[q.head] = zero
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}
	return item, true
}

// PopLast removes the newest item, undoing a Push whose send failed.
func (q *Queue[T]) PopLast() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head == len(q.items) {
		return item, false
	}
	last := len(q.items) - 1
	item = q.items[last]
	var zero T
	q.items[last] = zero
	q.items = q.items[:last]
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}
	return item, true
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// Drain removes and returns everything still pending, oldest first.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]T, len(q.items)-q.head)
	copy(out, q.items[q.head:])
	q.items = nil
	q.head = 0
	return out
}
