package decoder

import "sync"

// taskQueue serializes decoder work onto one goroutine in FIFO order.
// It backs the av.TaskRunner handed to the decoder factory, so decoder
// completion callbacks never interleave with each other.
type taskQueue struct {
	mu     sync.Mutex
	tasks  chan func()
	closed bool
	done   chan struct{}
}

func newTaskQueue() *taskQueue {
	q := &taskQueue{
		tasks: make(chan func(), 64),
		done:  make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *taskQueue) run() {
	for f := range q.tasks {
		f()
	}
	close(q.done)
}

// Do enqueues f. Tasks submitted after shutdown began are dropped.
func (q *taskQueue) Do(f func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.tasks <- f
}

// BeginShutdown stops accepting tasks; already queued ones still run.
func (q *taskQueue) BeginShutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.tasks)
}

// AwaitIdle blocks until every accepted task has finished.
func (q *taskQueue) AwaitIdle() {
	<-q.done
}
