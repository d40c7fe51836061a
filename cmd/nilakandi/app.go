package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/koetjeengdjalanan/nilakandi/internal/azure"
	"github.com/koetjeengdjalanan/nilakandi/internal/blobimport"
	"github.com/koetjeengdjalanan/nilakandi/internal/blobstore"
	"github.com/koetjeengdjalanan/nilakandi/internal/clock"
	"github.com/koetjeengdjalanan/nilakandi/internal/collector"
	"github.com/koetjeengdjalanan/nilakandi/internal/config"
	"github.com/koetjeengdjalanan/nilakandi/internal/costquery"
	"github.com/koetjeengdjalanan/nilakandi/internal/exports"
	"github.com/koetjeengdjalanan/nilakandi/internal/logger"
	"github.com/koetjeengdjalanan/nilakandi/internal/marketplace"
	"github.com/koetjeengdjalanan/nilakandi/internal/provider"
	"github.com/koetjeengdjalanan/nilakandi/internal/store"
	"github.com/koetjeengdjalanan/nilakandi/internal/subscriptions"
	"github.com/koetjeengdjalanan/nilakandi/internal/tasks"
	"github.com/koetjeengdjalanan/nilakandi/internal/version"
	redis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// dateLayout is the format of every date flag
const dateLayout = "2006-01-02"

type rootOptions struct {
	configPath string
	logFormat  string
}

// app holds the components shared by the commands
type app struct {
	cfg       *config.Config
	log       *logger.Logger
	clock     clock.Clock
	db        *gorm.DB
	store     *store.Store
	endpoints provider.Endpoints
	collector *collector.IngestCollector
	queue     tasks.Queue
	redis     *redis.Client

	cred   azcore.TokenCredential
	client *azure.Client
}

// newApp loads the configuration and opens the store and the queue. Azure
// clients are created on first use so offline commands need no credential.
func newApp(opts *rootOptions) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	format := cfg.LogFormat
	if opts.logFormat != "" {
		format = opts.logFormat
	}
	// stdout is reserved for command output
	log := logger.NewWithFormat(cfg.LogLevel, format, os.Stderr)
	log.Debug("Configuration loaded", "config_path", opts.configPath, "version", version.Version)

	db, err := store.Open(cfg.Database, log)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		log:       log,
		clock:     clock.RealClock{},
		db:        db,
		store:     store.New(db, cfg.Importer.BatchSize, log),
		endpoints: provider.NewEndpoints(cfg.Azure),
	}

	switch cfg.Tasks.Backend {
	case "redis":
		a.redis = tasks.NewRedisClient(cfg.Redis)
		a.queue = tasks.NewRedisQueue(a.redis, cfg.Redis.QueuePrefix, a.clock)
	default:
		a.queue = tasks.NewMemoryQueue(a.clock)
	}
	a.collector = collector.NewIngestCollector(a.queue, log)
	return a, nil
}

// Close releases the store and queue connections
func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("Failed to close redis client", "error", err)
		}
	}
	if err := store.Close(a.db); err != nil {
		a.log.Warn("Failed to close database", "error", err)
	}
}

// azureClient returns the provider client, creating the credential on first use
func (a *app) azureClient() (*azure.Client, error) {
	if a.client != nil {
		return a.client, nil
	}
	cred, err := azure.NewCredential(a.cfg.Azure)
	if err != nil {
		return nil, err
	}
	a.cred = cred
	a.client = azure.NewClient(a.cfg.HTTP, azure.NewCredentialTokenSource(cred), a.log,
		azure.WithRetryObserver(a.collector.ObserveRetry))
	return a.client, nil
}

func (a *app) blobStore() (blobstore.Store, error) {
	switch a.cfg.Importer.BlobBackend {
	case "filesystem":
		return blobstore.NewFilesystem(a.cfg.Importer.BlobRoot), nil
	default:
		if _, err := a.azureClient(); err != nil {
			return nil, err
		}
		blobs, err := blobstore.NewAzure(blobstore.AccountURL(a.cfg.Azure.StorageAccount), a.cfg.Azure.StorageContainer, a.cred)
		if err != nil {
			return nil, err
		}
		return blobs, nil
	}
}

func (a *app) syncer() (*subscriptions.Syncer, error) {
	client, err := a.azureClient()
	if err != nil {
		return nil, err
	}
	return subscriptions.NewSyncer(client, a.endpoints, a.store, a.log), nil
}

func (a *app) exportManager() (*exports.Manager, error) {
	client, err := a.azureClient()
	if err != nil {
		return nil, err
	}
	return exports.NewManager(client, a.endpoints, exports.NewDestination(a.cfg.Azure), a.store, a.clock, a.log), nil
}

func (a *app) importer() (*blobimport.Importer, error) {
	blobs, err := a.blobStore()
	if err != nil {
		return nil, err
	}
	return blobimport.New(blobs, a.store, a.cfg.Azure.StorageContainer, a.cfg.Importer, a.log), nil
}

// dependencies builds every component the jobs drive
func (a *app) dependencies() (tasks.Dependencies, error) {
	client, err := a.azureClient()
	if err != nil {
		return tasks.Dependencies{}, err
	}
	syncer, err := a.syncer()
	if err != nil {
		return tasks.Dependencies{}, err
	}
	manager, err := a.exportManager()
	if err != nil {
		return tasks.Dependencies{}, err
	}
	importer, err := a.importer()
	if err != nil {
		return tasks.Dependencies{}, err
	}
	return tasks.Dependencies{
		Subscriptions: syncer,
		Costs:         costquery.NewFetcher(client, a.endpoints, a.store, a.log),
		Marketplaces:  marketplace.NewFetcher(client, a.endpoints, a.store, a.clock, a.cfg.Tasks.BillingPeriodDelayDuration(), a.log),
		Exports:       manager,
		Blobs:         importer,
		Lookup:        a.store,
	}, nil
}

func (a *app) dispatcher() *tasks.Dispatcher {
	return tasks.NewDispatcher(a.queue, a.clock, a.cfg.Tasks.SubscriptionDelayDuration(), a.log)
}

// worker builds a worker pool with every job registered
func (a *app) worker(opts ...tasks.WorkerOption) (*tasks.Worker, error) {
	deps, err := a.dependencies()
	if err != nil {
		return nil, err
	}
	opts = append([]tasks.WorkerOption{tasks.WithObserver(a.collector)}, opts...)
	w := tasks.NewWorker(a.queue, a.cfg.Tasks, a.clock, a.log, opts...)
	tasks.NewJobs(deps, a.dispatcher(), a.log).Register(w)
	return w, nil
}

// subscriptionIDs returns the pinned subscriptions, or every known one
func (a *app) subscriptionIDs(ctx context.Context, only []string) ([]string, error) {
	if len(only) > 0 {
		return only, nil
	}
	if len(a.cfg.Subscriptions) > 0 {
		ids := make([]string, len(a.cfg.Subscriptions))
		for i, s := range a.cfg.Subscriptions {
			ids[i] = s.ID
		}
		return ids, nil
	}
	subs, err := a.store.ListSubscriptions(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(subs))
	for i, s := range subs {
		ids[i] = s.SubscriptionID
	}
	return ids, nil
}

// runInline executes queued work in this process until nothing is left
func (a *app) runInline(ctx context.Context) error {
	w, err := a.worker()
	if err != nil {
		return err
	}
	for {
		ran, err := w.Drain(ctx)
		if err != nil {
			return err
		}
		stats, err := a.queue.Stats(ctx)
		if err != nil {
			return err
		}
		if stats.Ready+stats.Delayed+stats.InFlight == 0 {
			return nil
		}
		if ran == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(200 * time.Millisecond):
			}
		}
	}
}

// window parses a date window. Missing bounds default to the last days days.
func window(start, end string, days int, now time.Time) (time.Time, time.Time, error) {
	to := now.UTC()
	if end != "" {
		t, err := time.Parse(dateLayout, end)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --end %q: %w", end, err)
		}
		to = t
	}
	from := to.AddDate(0, 0, -days)
	if start != "" {
		t, err := time.Parse(dateLayout, start)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --start %q: %w", start, err)
		}
		from = t
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("--end %s is before --start %s", to.Format(dateLayout), from.Format(dateLayout))
	}
	return from, to, nil
}

// useMemoryQueue switches the app to an in-process queue for inline runs
func (a *app) useMemoryQueue() {
	a.queue = tasks.NewMemoryQueue(a.clock)
}
