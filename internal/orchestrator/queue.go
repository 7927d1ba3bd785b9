package orchestrator

import (
	"container/heap"

	"github.com/arcwave/arbicore/internal/domain"
)

// queuedTask is one pending entry: the task itself plus the submission
// sequence number used to break priority ties in FIFO order.
type queuedTask struct {
	task *domain.Task
	seq  int64
}

// taskQueue is a priority-then-FIFO min-heap view over queuedTask, exposed
// as a max-priority queue via Less.
type taskQueue []*queuedTask

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	if q[i].task.Priority != q[j].task.Priority {
		return q[i].task.Priority > q[j].task.Priority
	}
	return q[i].seq < q[j].seq
}

func (q taskQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *taskQueue) Push(x any) {
	*q = append(*q, x.(*queuedTask))
}

func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

// pendingQueue wraps taskQueue with the monotonic sequence counter needed
// for FIFO tie-breaking.
type pendingQueue struct {
	heap taskQueue
	next int64
}

func newPendingQueue() *pendingQueue {
	pq := &pendingQueue{}
	heap.Init(&pq.heap)
	return pq
}

func (pq *pendingQueue) push(t *domain.Task) {
	heap.Push(&pq.heap, &queuedTask{task: t, seq: pq.next})
	pq.next++
}

// pushFront re-queues a task ahead of any same-priority peer, used when no
// bot is available for the current highest-priority pop.
func (pq *pendingQueue) pushFront(t *domain.Task) {
	heap.Push(&pq.heap, &queuedTask{task: t, seq: -1})
}

func (pq *pendingQueue) pop() (*domain.Task, bool) {
	if pq.heap.Len() == 0 {
		return nil, false
	}
	item := heap.Pop(&pq.heap).(*queuedTask)
	return item.task, true
}

func (pq *pendingQueue) len() int { return pq.heap.Len() }
