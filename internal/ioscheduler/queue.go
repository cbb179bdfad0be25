package ioscheduler

import (
	"context"
	"time"
)

// Action is a physical output action. It runs on the scheduler worker while
// the global execution lock is held.
type Action func(ctx context.Context) error

// Request is one queued action.
type Request struct {
	ID        string
	Priority  Priority
	Seq       uint64
	Submitted time.Time
	Component string
	ScreenID  string
	Action    Action
}

// requestQueue implements heap.Interface ordered by (Priority, Seq).
type requestQueue []*Request

func (q requestQueue) Len() int { return len(q) }

func (q requestQueue) Less(i, j int) bool {
	if q[i].Priority != q[j].Priority {
		return q[i].Priority < q[j].Priority
	}
	return q[i].Seq < q[j].Seq
}

func (q requestQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
}

func (q *requestQueue) Push(x any) {
	*q = append(*q, x.(*Request))
}

func (q *requestQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}
