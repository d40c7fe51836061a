package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/koetjeengdjalanan/nilakandi/internal/server"
	"github.com/koetjeengdjalanan/nilakandi/internal/store"
	"github.com/koetjeengdjalanan/nilakandi/internal/tasks"
	"github.com/koetjeengdjalanan/nilakandi/internal/version"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

// DefaultShutdownTimeout is the maximum time to wait for graceful shutdown
const DefaultShutdownTimeout = 30 * time.Second

func newWorkerCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the task worker pool, the periodic schedule and the metrics server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context(), opts)
		},
	}
}

func runWorker(parent context.Context, opts *rootOptions) error {
	a, err := newApp(opts)
	if err != nil {
		return err
	}
	defer a.Close()
	log := a.log

	log.Info("Nilakandi worker starting",
		"version", version.Version,
		"tasks_backend", a.cfg.Tasks.Backend,
		"workers", a.cfg.Tasks.Workers,
		"schedule_interval_seconds", a.cfg.Tasks.ScheduleInterval,
		"http_port", a.cfg.HTTPPort)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if q, ok := a.queue.(*tasks.RedisQueue); ok {
		moved, err := q.Recover(ctx)
		if err != nil {
			return err
		}
		if moved > 0 {
			log.Warn("Re-queued tasks left in flight by a previous worker", "count", moved)
		}
	}

	w, err := a.worker()
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		a.collector,
		// Go runtime metrics (memory, goroutines, GC stats)
		collectors.NewGoCollector(),
		// Process metrics (CPU, memory, file descriptors)
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv := server.NewServer(a.cfg.HTTPPort, registry, log,
		server.Check{Name: "database", Ping: func(ctx context.Context) error { return store.Ping(ctx, a.db) }},
		server.Check{Name: "queue", Ping: a.queue.Ping},
	)
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start()
	}()

	scheduler, err := newScheduler(ctx, a)
	if err != nil {
		return err
	}

	workerErrors := make(chan error, 1)
	go func() {
		workerErrors <- w.Run(ctx)
	}()

	var (
		runErr     error
		workerDone bool
	)
	select {
	case err := <-serverErrors:
		log.Error("Server error", "error", err)
		runErr = err
		stop()
	case err := <-workerErrors:
		workerDone = true
		if err != nil {
			log.Error("Worker pool error", "error", err)
			runErr = err
		}
		stop()
	case <-ctx.Done():
		log.Info("Received shutdown signal, starting graceful shutdown")
	}

	if scheduler != nil {
		if err := scheduler.Shutdown(); err != nil {
			log.Warn("Error during scheduler shutdown", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Error during server shutdown", "error", err)
	}

	if !workerDone {
		select {
		case <-workerErrors:
		case <-shutdownCtx.Done():
			log.Warn("Worker pool did not stop in time")
		}
	}
	log.Info("Worker stopped gracefully")
	return runErr
}

// newScheduler queues a subscription sync and an ingestion of the last
// days_to_ingest days every schedule interval. It returns nil when the
// schedule is disabled.
func newScheduler(ctx context.Context, a *app) (gocron.Scheduler, error) {
	interval := a.cfg.Tasks.ScheduleIntervalDuration()
	if interval <= 0 {
		a.log.Info("Periodic schedule disabled")
		return nil, nil
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	dispatcher := a.dispatcher()

	_, err = scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if _, err := dispatcher.SyncSubscriptions(ctx); err != nil {
				a.log.Error("Failed to queue subscription sync", "error", err)
			}
			ids, err := a.subscriptionIDs(ctx, nil)
			if err != nil {
				a.log.Error("Failed to list subscriptions", "error", err)
				return
			}
			end := a.clock.Now().UTC()
			start := end.AddDate(0, 0, -a.cfg.Tasks.DaysToIngest)
			if _, err := dispatcher.Ingest(ctx, ids, start, end); err != nil {
				a.log.Error("Failed to queue ingestion", "error", err)
			}
		}),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName("ingest"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule ingestion: %w", err)
	}

	scheduler.Start()
	a.log.Info("Periodic schedule started", "interval", interval)
	return scheduler, nil
}
