package tasks

import (
	"context"
	"time"
)

// Stats counts the tasks a queue holds
type Stats struct {
	Ready    int64
	Delayed  int64
	InFlight int64
}

// Queue delivers tasks at least once
type Queue interface {
	// Enqueue makes t available after delay
	Enqueue(ctx context.Context, t Task, delay time.Duration) error
	// Dequeue waits up to wait for a due task. It returns nil when none arrived.
	Dequeue(ctx context.Context, wait time.Duration) (*Task, error)
	// Ack removes a delivered task for good
	Ack(ctx context.Context, t Task) error
	Stats(ctx context.Context) (Stats, error)
	Ping(ctx context.Context) error
}
