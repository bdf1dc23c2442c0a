package session

import "sync"

// queue is a bounded FIFO of encoded frames. When full, the oldest pending
// frame is dropped to make room: fresh real-time data wins over completeness.
type queue struct {
	mu      sync.Mutex
	items   [][]byte
	head    int
	size    int
	dropped uint64
	closed  bool

	// notify holds at most one wake-up for the streaming loop
	notify chan struct{}
}

func newQueue(capacity int) *queue {
	if capacity < 1 {
		capacity = 1
	}
	return &queue{
		items:  make([][]byte, capacity),
		notify: make(chan struct{}, 1),
	}
}

// push appends a frame. ok is false once the queue is closed; dropped is
// true when the oldest frame was evicted.
func (q *queue) push(frame []byte) (ok bool, dropped bool) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false, false
	}

	capacity := len(q.items)
	if q.size == capacity {
		q.items[q.head] = nil
		q.head = (q.head + 1) % capacity
		q.size--
		q.dropped++
		dropped = true
	}
	q.items[(q.head+q.size)%capacity] = frame
	q.size++
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true, dropped
}

// pop removes the oldest frame
func (q *queue) pop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == 0 {
		return nil, false
	}
	frame := q.items[q.head]
	q.items[q.head] = nil
	q.head = (q.head + 1) % len(q.items)
	q.size--
	return frame, true
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

func (q *queue) droppedCount() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// close releases pending frames and refuses further pushes
func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	for i := range q.items {
		q.items[i] = nil
	}
	q.head = 0
	q.size = 0
}
