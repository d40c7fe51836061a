package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/koetjeengdjalanan/nilakandi/internal/clock"
	"github.com/koetjeengdjalanan/nilakandi/internal/config"
	"github.com/koetjeengdjalanan/nilakandi/internal/ingesterr"
	"github.com/koetjeengdjalanan/nilakandi/internal/logger"
	"golang.org/x/sync/errgroup"
)

// DefaultPollWait is how long an idle worker blocks on the queue
const DefaultPollWait = 5 * time.Second

// ErrHardTimeout is returned for a task whose handler outlived the hard timeout
var ErrHardTimeout = errors.New("task exceeded hard timeout")

// Outcome is how a task execution ended
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeRetry   Outcome = "retry"
	OutcomeFailed  Outcome = "failed"
)

// Handler executes one job
type Handler func(ctx context.Context, p Payload) (Summary, error)

// Observer is told about every finished task
type Observer interface {
	TaskFinished(name Name, outcome Outcome, elapsed time.Duration, summary Summary)
}

// Worker executes queued tasks on a bounded pool
type Worker struct {
	queue    Queue
	handlers map[Name]Handler
	cfg      config.TasksConfig
	clock    clock.Clock
	observer Observer
	pollWait time.Duration
	logger   *logger.Logger
}

// WorkerOption configures a Worker
type WorkerOption func(*Worker)

// WithObserver reports finished tasks to o
func WithObserver(o Observer) WorkerOption {
	return func(w *Worker) { w.observer = o }
}

// WithPollWait overrides DefaultPollWait
func WithPollWait(d time.Duration) WorkerOption {
	return func(w *Worker) { w.pollWait = d }
}

// NewWorker creates a worker pool sized by cfg.Workers
func NewWorker(queue Queue, cfg config.TasksConfig, clk clock.Clock, log *logger.Logger, opts ...WorkerOption) *Worker {
	w := &Worker{
		queue:    queue,
		handlers: map[Name]Handler{},
		cfg:      cfg,
		clock:    clk,
		pollWait: DefaultPollWait,
		logger:   log.Named(logger.ComponentTasks),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Handle registers h for job name
func (w *Worker) Handle(name Name, h Handler) {
	w.handlers[name] = h
}

// Run executes tasks until ctx is cancelled
func (w *Worker) Run(ctx context.Context) error {
	workers := max(w.cfg.Workers, 1)
	w.logger.Info("Worker pool starting", "workers", workers)

	g, gctx := errgroup.WithContext(ctx)
	for i := range workers {
		g.Go(func() error {
			return w.loop(gctx, i)
		})
	}
	err := g.Wait()
	w.logger.Info("Worker pool stopped")
	return err
}

func (w *Worker) loop(ctx context.Context, id int) error {
	log := w.logger.WithFields("worker", id)

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0
	timer := w.clock.NewTimer()
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return nil
		}
		t, err := w.queue.Dequeue(ctx, w.pollWait)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			wait := b.NextBackOff()
			log.Warn("Queue unavailable, backing off", "error", err, "wait", wait)
			timer.Start(wait)
			select {
			case <-ctx.Done():
				return nil
			case <-timer.C():
			}
			continue
		}
		b.Reset()
		if t == nil {
			continue
		}
		w.Process(ctx, *t)
	}
}

// Drain processes due tasks one at a time until the queue has none left and
// returns how many ran
func (w *Worker) Drain(ctx context.Context) (int, error) {
	ran := 0
	for {
		t, err := w.queue.Dequeue(ctx, 0)
		if err != nil {
			return ran, err
		}
		if t == nil {
			return ran, nil
		}
		w.Process(ctx, *t)
		ran++
	}
}

// Process executes t and settles it on the queue. Failures are re-queued after
// the retry delay unless they are permanent or the attempts are used up.
// A task interrupted by shutdown is left unacknowledged for redelivery.
func (w *Worker) Process(ctx context.Context, t Task) Outcome {
	log := w.logger.WithFields("task", t.Name, "task_id", t.ID, "attempt", t.Attempt, "subscription_id", t.Payload.SubscriptionID)
	started := time.Now()

	summary, err := w.execute(ctx, t)
	elapsed := time.Since(started)
	if ctx.Err() != nil {
		log.Warn("Task interrupted by shutdown", "error", err)
		return OutcomeRetry
	}

	outcome := OutcomeSuccess
	switch {
	case err == nil:
		log.Info("Task finished", "elapsed", elapsed, "counts", summary.Counts)
	case ingesterr.IsPermanent(err) || t.Attempt >= w.cfg.MaxRetries:
		outcome = OutcomeFailed
		log.Error("Task failed", "error", err, "elapsed", elapsed)
	default:
		outcome = OutcomeRetry
		next := t.Retry(w.clock.Now())
		if qerr := w.queue.Enqueue(ctx, next, w.cfg.RetryDelayDuration()); qerr != nil {
			outcome = OutcomeFailed
			log.Error("Task failed and could not be re-queued", "error", err, "queue_error", qerr)
		} else {
			log.Warn("Task failed, retrying", "error", err, "retry_in", w.cfg.RetryDelayDuration())
		}
	}

	if aerr := w.queue.Ack(ctx, t); aerr != nil {
		log.Warn("Failed to acknowledge task", "error", aerr)
	}
	if w.observer != nil {
		w.observer.TaskFinished(t.Name, outcome, elapsed, summary)
	}
	return outcome
}

type result struct {
	summary Summary
	err     error
}

// execute runs the handler under the soft timeout and stops waiting for it at
// the hard timeout. Both are timed on the worker's clock; the soft timeout
// cancels the handler's context with context.DeadlineExceeded as the cause.
func (w *Worker) execute(ctx context.Context, t Task) (Summary, error) {
	h, ok := w.handlers[t.Name]
	if !ok {
		return Summary{Task: t.Name}, &ingesterr.ValidationError{Field: "name", Err: fmt.Errorf("no handler for task %q", t.Name)}
	}

	softCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{summary: Summary{Task: t.Name}, err: fmt.Errorf("task %s panicked: %v", t.Name, r)}
			}
		}()
		s, err := h(softCtx, t.Payload)
		done <- result{summary: s, err: err}
	}()

	soft := w.clock.NewTimer()
	soft.Start(w.cfg.SoftTimeoutDuration())
	defer soft.Stop()
	hard := w.clock.NewTimer()
	hard.Start(w.cfg.HardTimeoutDuration())
	defer hard.Stop()

	softC := soft.C()
	for {
		select {
		case r := <-done:
			if r.err != nil && errors.Is(context.Cause(softCtx), context.DeadlineExceeded) && !errors.Is(r.err, context.DeadlineExceeded) {
				r.err = fmt.Errorf("%w: %w", r.err, context.DeadlineExceeded)
			}
			return r.summary, r.err
		case <-softC:
			softC = nil
			cancel(context.DeadlineExceeded)
		case <-hard.C():
			return Summary{Task: t.Name}, ErrHardTimeout
		}
	}
}
