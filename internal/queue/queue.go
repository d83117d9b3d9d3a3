package queue

import (
	"sync"

	"github.com/go-scripts/postarchive/internal/types"
)

// Queue holds failed download tasks in the order they failed.
type Queue struct {
	tasks []types.DownloadTask
	mu    sync.Mutex
}

// New creates an empty Queue.
func New() *Queue {
	return &Queue{
		tasks: make([]types.DownloadTask, 0),
	}
}

// Push appends a task to the back of the queue.
func (q *Queue) Push(task types.DownloadTask) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
}

// Pop removes and returns the oldest task.
func (q *Queue) Pop() (types.DownloadTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return types.DownloadTask{}, false
	}

	task := q.tasks[0]
	q.tasks[0] = types.DownloadTask{}
	q.tasks = q.tasks[1:]

	return task, true
}

// IsEmpty checks if the queue is empty.
func (q *Queue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks) == 0
}

// Len returns the number of queued tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}
