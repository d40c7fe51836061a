package tasks

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/koetjeengdjalanan/nilakandi/internal/clock"
)

// memoryPoll bounds how long a waiting Dequeue sleeps before re-checking delayed tasks
const memoryPoll = 100 * time.Millisecond

type delayedTask struct {
	due  time.Time
	task Task
}

// MemoryQueue is an in-process queue for single-binary runs and tests.
// Tasks are lost when the process exits.
type MemoryQueue struct {
	mu       sync.Mutex
	clock    clock.Clock
	ready    []Task
	delayed  []delayedTask
	inflight map[string]Task
	notify   chan struct{}
}

// NewMemoryQueue creates an empty in-process queue
func NewMemoryQueue(clk clock.Clock) *MemoryQueue {
	return &MemoryQueue{
		clock:    clk,
		inflight: map[string]Task{},
		notify:   make(chan struct{}, 1),
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, t Task, delay time.Duration) error {
	q.mu.Lock()
	if delay <= 0 {
		q.ready = append(q.ready, t)
	} else {
		q.delayed = append(q.delayed, delayedTask{due: q.clock.Now().Add(delay), task: t})
	}
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context, wait time.Duration) (*Task, error) {
	deadline := time.Now().Add(wait)
	for {
		if t, ok := q.pop(); ok {
			return &t, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}

		timer := time.NewTimer(min(remaining, memoryPoll))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-q.notify:
		case <-timer.C:
		}
		timer.Stop()
	}
}

func (q *MemoryQueue) pop() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	pending := q.delayed[:0]
	for _, d := range q.delayed {
		if !d.due.After(now) {
			q.ready = append(q.ready, d.task)
		} else {
			pending = append(pending, d)
		}
	}
	q.delayed = pending

	if len(q.ready) == 0 {
		return Task{}, false
	}
	t := q.ready[0]
	q.ready = q.ready[1:]
	q.inflight[inflightKey(t)] = t
	return t, true
}

func (q *MemoryQueue) Ack(_ context.Context, t Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, inflightKey(t))
	return nil
}

func inflightKey(t Task) string {
	return t.ID + "/" + strconv.Itoa(t.Attempt)
}

func (q *MemoryQueue) Stats(context.Context) (Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Ready:    int64(len(q.ready)),
		Delayed:  int64(len(q.delayed)),
		InFlight: int64(len(q.inflight)),
	}, nil
}

func (q *MemoryQueue) Ping(context.Context) error {
	return nil
}
