package tasks

import (
	"context"
	"time"

	"github.com/koetjeengdjalanan/nilakandi/internal/clock"
	"github.com/koetjeengdjalanan/nilakandi/internal/logger"
)

// Dispatcher submits jobs, staggering per-subscription work so a batch does
// not hit the provider all at once
type Dispatcher struct {
	queue   Queue
	clock   clock.Clock
	spacing time.Duration
	logger  *logger.Logger
}

// NewDispatcher creates a dispatcher that delays each subscription's jobs by
// spacing more than the previous one
func NewDispatcher(queue Queue, clk clock.Clock, spacing time.Duration, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		clock:   clk,
		spacing: spacing,
		logger:  log.Named(logger.ComponentTasks),
	}
}

// Submit queues one job after delay
func (d *Dispatcher) Submit(ctx context.Context, name Name, p Payload, delay time.Duration) (Task, error) {
	t := New(name, p, d.clock.Now())
	if err := d.queue.Enqueue(ctx, t, delay); err != nil {
		return Task{}, err
	}
	d.logger.Debug("Task queued", "task", name, "task_id", t.ID, "subscription_id", p.SubscriptionID, "delay", delay)
	return t, nil
}

// SyncSubscriptions queues a subscription listing
func (d *Dispatcher) SyncSubscriptions(ctx context.Context) (Task, error) {
	return d.Submit(ctx, SyncSubscriptions, Payload{}, 0)
}

// Populate queues a cost query ingestion per subscription
func (d *Dispatcher) Populate(ctx context.Context, subscriptionIDs []string, start, end time.Time) ([]Task, error) {
	return d.fanOut(ctx, subscriptionIDs, start, end, FetchServices)
}

// Grab queues cost query and marketplace ingestion per subscription
func (d *Dispatcher) Grab(ctx context.Context, subscriptionIDs []string, start, end time.Time) ([]Task, error) {
	return d.fanOut(ctx, subscriptionIDs, start, end, FetchServices, FetchMarketplaces)
}

// Ingest queues every ingestion stage per subscription. The export history
// job queues the blob import of the runs it discovers.
func (d *Dispatcher) Ingest(ctx context.Context, subscriptionIDs []string, start, end time.Time) ([]Task, error) {
	return d.fanOut(ctx, subscriptionIDs, start, end, FetchServices, FetchMarketplaces, FetchExportHistory)
}

func (d *Dispatcher) fanOut(ctx context.Context, subscriptionIDs []string, start, end time.Time, names ...Name) ([]Task, error) {
	queued := make([]Task, 0, len(subscriptionIDs)*len(names))
	for i, id := range subscriptionIDs {
		delay := time.Duration(i) * d.spacing
		for _, name := range names {
			t, err := d.Submit(ctx, name, Window(id, start, end), delay)
			if err != nil {
				return queued, err
			}
			queued = append(queued, t)
		}
	}
	d.logger.Info("Tasks queued", "subscriptions", len(subscriptionIDs), "tasks", len(queued))
	return queued, nil
}
