package scheduler

import (
	"container/heap"

	"github.com/dd0wney/cluso-flowroute/pkg/decompose"
)

// readyQueue orders runnable reaches by longest remaining critical path,
// then lowest rank, then reach ID.
type readyQueue struct {
	reaches []decompose.Reach
	ids     []int
}

func (q *readyQueue) Len() int { return len(q.ids) }

func (q *readyQueue) Less(i, j int) bool {
	a, b := &q.reaches[q.ids[i]], &q.reaches[q.ids[j]]
	if a.CriticalPath != b.CriticalPath {
		return a.CriticalPath > b.CriticalPath
	}
	if a.Rank != b.Rank {
		return a.Rank < b.Rank
	}
	return a.ID < b.ID
}

func (q *readyQueue) Swap(i, j int) { q.ids[i], q.ids[j] = q.ids[j], q.ids[i] }

func (q *readyQueue) Push(x any) { q.ids = append(q.ids, x.(int)) }

func (q *readyQueue) Pop() any {
	n := len(q.ids)
	id := q.ids[n-1]
	q.ids = q.ids[:n-1]
	return id
}

func (q *readyQueue) push(id int) { heap.Push(q, id) }

func (q *readyQueue) pop() int { return heap.Pop(q).(int) }
