// ABOUTME: Unbounded FIFO task queue consumed by a single subsystem worker
// ABOUTME: Producers never block; the consumer parks until a task arrives

package subsystem

import "sync"

// taskQueue is an unbounded FIFO. Once closed it rejects new tasks but the
// consumer can still drain whatever was queued before the close.
type taskQueue struct {
	mu     sync.Mutex
	items  []Task
	ready  chan struct{} // capacity 1; a pending token means "look again"
	closed bool
}

func newTaskQueue() *taskQueue {
	return &taskQueue{ready: make(chan struct{}, 1)}
}

// push appends t. It returns false if the queue has been closed.
func (q *taskQueue) push(t Task) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, t)
	q.mu.Unlock()

	q.signal()
	return true
}

// pushAndClose appends t as the final task and closes the queue in one step,
// so nothing can be queued behind it. Returns false if already closed.
func (q *taskQueue) pushAndClose(t Task) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, t)
	q.closed = true
	q.mu.Unlock()

	q.signal()
	return true
}

// close rejects all further pushes.
func (q *taskQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

func (q *taskQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// pop blocks until a task is available and removes it from the head.
func (q *taskQueue) pop() Task {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			t := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return t
		}
		q.mu.Unlock()
		<-q.ready
	}
}

func (q *taskQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
