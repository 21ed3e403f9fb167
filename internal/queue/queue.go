// Package queue provides the FIFO request queue backing the vault's
// deposit and redeem pipelines. Settlement priority is insertion order;
// removal happens only at the front, so the queue is a ring buffer with
// O(1) amortized push and pop.
package queue

const minCapacity = 16

// Queue is an ordered FIFO sequence. The zero value is not usable; call New.
type Queue[T any] struct {
	buf   []T
	head  int
	count int
}

func New[T any]() *Queue[T] {
	return &Queue[T]{buf: make([]T, minCapacity)}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	return q.count
}

// Push appends an item to the back of the queue.
func (q *Queue[T]) Push(v T) {
	if q.count == len(q.buf) {
		q.grow()
	}
	q.buf[(q.head+q.count)%len(q.buf)] = v
	q.count++
}

// Front returns the oldest item without removing it.
func (q *Queue[T]) Front() (T, bool) {
	var zero T
	if q.count == 0 {
		return zero, false
	}
	return q.buf[q.head], true
}

// PopFront removes and returns the oldest item.
func (q *Queue[T]) PopFront() (T, bool) {
	var zero T
	if q.count == 0 {
		return zero, false
	}
	v := q.buf[q.head]
	q.buf[q.head] = zero // release reference
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	return v, true
}

// PeekN returns a copy of the first min(n, Len) items in FIFO order
// without removing them.
func (q *Queue[T]) PeekN(n int) []T {
	if n > q.count {
		n = q.count
	}
	if n <= 0 {
		return nil
	}
	out := make([]T, n)
	for i := 0; i < n; i++ {
		out[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	return out
}

// Items returns a copy of all queued items in FIFO order.
func (q *Queue[T]) Items() []T {
	return q.PeekN(q.count)
}

func (q *Queue[T]) grow() {
	next := make([]T, len(q.buf)*2)
	for i := 0; i < q.count; i++ {
		next[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	q.buf = next
	q.head = 0
}
