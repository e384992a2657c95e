// Package queue implements the worker's task intake queue and the per-task
// result channels that carry streamed events back to callers. Every
// operation is safe for concurrent use by the request path and the
// decoding engine.
package queue

import (
	"sync"

	"github.com/emirpasic/gods/v2/queues/linkedlistqueue"

	"github.com/langport/worker/internal/domain"
)

// TaskQueue is a mutex-guarded FIFO of pending tasks.
type TaskQueue struct {
	mu    sync.Mutex
	tasks *linkedlistqueue.Queue[domain.Task]
}

// NewTaskQueue creates an empty queue.
func NewTaskQueue() *TaskQueue {
	return &TaskQueue{tasks: linkedlistqueue.New[domain.Task]()}
}

// Push appends a task to the back of the queue.
func (q *TaskQueue) Push(task domain.Task) {
	q.mu.Lock()
	q.tasks.Enqueue(task)
	q.mu.Unlock()
}

// Drain removes and returns up to maxBatch tasks from the front, in arrival
// order. The bound is strict: a batch never exceeds maxBatch.
func (q *TaskQueue) Drain(maxBatch int) []domain.Task {
	if maxBatch <= 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	batch := make([]domain.Task, 0, min(maxBatch, q.tasks.Size()))
	for len(batch) < maxBatch {
		task, ok := q.tasks.Dequeue()
		if !ok {
			break
		}
		batch = append(batch, task)
	}
	return batch
}

// DrainAll empties the queue.
func (q *TaskQueue) DrainAll() []domain.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	batch := q.tasks.Values()
	q.tasks.Clear()
	return batch
}

// Len returns the number of pending tasks.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tasks.Size()
}
