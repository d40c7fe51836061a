package collector

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/koetjeengdjalanan/nilakandi/internal/clock"
	"github.com/koetjeengdjalanan/nilakandi/internal/logger"
	"github.com/koetjeengdjalanan/nilakandi/internal/tasks"
	"github.com/koetjeengdjalanan/nilakandi/internal/version"
	"github.com/prometheus/client_golang/prometheus"
)

// QueueStatsTimeout bounds the queue read done on every scrape
const QueueStatsTimeout = 2 * time.Second

// StatsSource reports queue depth
type StatsSource interface {
	Stats(ctx context.Context) (tasks.Stats, error)
}

// lastRun is the most recent finished execution of a task
type lastRun struct {
	outcome tasks.Outcome
	at      time.Time
	summary tasks.Summary
}

// IngestCollector implements prometheus.Collector for the ingestion pipeline
type IngestCollector struct {
	queue  StatsSource
	logger *logger.Logger
	clock  clock.Clock // Time provider for testing

	// Metrics
	tasksTotal    *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec
	itemsTotal    *prometheus.CounterVec
	httpRetries   *prometheus.CounterVec
	buildInfo     *prometheus.GaugeVec // Build version information
	lastRunMetric *prometheus.Desc
	successMetric *prometheus.Desc
	queueMetric   *prometheus.Desc

	// State
	mu   sync.RWMutex
	last map[tasks.Name]lastRun
}

// NewIngestCollector creates a collector. queue may be nil when no queue is in use.
func NewIngestCollector(queue StatsSource, log *logger.Logger) *IngestCollector {
	buildInfo := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nilakandi_build_info",
			Help: "Build version information",
		},
		[]string{"version", "git_commit", "build_date", "go_version"},
	)

	versionInfo := version.Info()
	buildInfo.With(prometheus.Labels{
		"version":    versionInfo["version"],
		"git_commit": versionInfo["git_commit"],
		"build_date": versionInfo["build_date"],
		"go_version": versionInfo["go_version"],
	}).Set(1)

	return &IngestCollector{
		queue:  queue,
		logger: log,
		clock:  clock.RealClock{},
		tasksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nilakandi_tasks_total",
				Help: "Finished tasks by outcome",
			},
			[]string{"task", "outcome"},
		),
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nilakandi_task_duration_seconds",
				Help:    "Task execution time",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800},
			},
			[]string{"task"},
		),
		itemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nilakandi_task_items_total",
				Help: "Items reported by task summaries, such as rows imported or blobs skipped",
			},
			[]string{"task", "kind"},
		),
		httpRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nilakandi_http_retries_total",
				Help: "Provider calls that were retried, by status (0 = connection failure)",
			},
			[]string{"status"},
		),
		buildInfo: buildInfo,
		lastRunMetric: prometheus.NewDesc(
			"nilakandi_last_task_timestamp_seconds",
			"Unix timestamp of the last finished run of a task",
			[]string{"task"},
			nil,
		),
		successMetric: prometheus.NewDesc(
			"nilakandi_last_task_success",
			"Whether the last run of a task succeeded (1 = success, 0 = retry or failure)",
			[]string{"task"},
			nil,
		),
		queueMetric: prometheus.NewDesc(
			"nilakandi_queue_tasks",
			"Tasks held by the queue",
			[]string{"state"},
			nil,
		),
		last: map[tasks.Name]lastRun{},
	}
}

// Describe implements prometheus.Collector
func (c *IngestCollector) Describe(ch chan<- *prometheus.Desc) {
	c.tasksTotal.Describe(ch)
	c.taskDuration.Describe(ch)
	c.itemsTotal.Describe(ch)
	c.httpRetries.Describe(ch)
	c.buildInfo.Describe(ch)
	ch <- c.lastRunMetric
	ch <- c.successMetric
	ch <- c.queueMetric
}

// Collect implements prometheus.Collector
func (c *IngestCollector) Collect(ch chan<- prometheus.Metric) {
	c.tasksTotal.Collect(ch)
	c.taskDuration.Collect(ch)
	c.itemsTotal.Collect(ch)
	c.httpRetries.Collect(ch)
	c.buildInfo.Collect(ch)

	c.mu.RLock()
	for name, run := range c.last {
		ch <- prometheus.MustNewConstMetric(c.lastRunMetric, prometheus.GaugeValue, float64(run.at.Unix()), string(name))
		success := 0.0
		if run.outcome == tasks.OutcomeSuccess {
			success = 1.0
		}
		ch <- prometheus.MustNewConstMetric(c.successMetric, prometheus.GaugeValue, success, string(name))
	}
	c.mu.RUnlock()

	if c.queue == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), QueueStatsTimeout)
	defer cancel()
	stats, err := c.queue.Stats(ctx)
	if err != nil {
		c.logger.Warn("Failed to read queue stats", "error", err)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.queueMetric, prometheus.GaugeValue, float64(stats.Ready), "ready")
	ch <- prometheus.MustNewConstMetric(c.queueMetric, prometheus.GaugeValue, float64(stats.Delayed), "delayed")
	ch <- prometheus.MustNewConstMetric(c.queueMetric, prometheus.GaugeValue, float64(stats.InFlight), "in_flight")
}

// TaskFinished records a finished task. It implements tasks.Observer.
func (c *IngestCollector) TaskFinished(name tasks.Name, outcome tasks.Outcome, elapsed time.Duration, summary tasks.Summary) {
	task := string(name)
	c.tasksTotal.WithLabelValues(task, string(outcome)).Inc()
	c.taskDuration.WithLabelValues(task).Observe(elapsed.Seconds())
	for kind, n := range summary.Counts {
		if n > 0 {
			c.itemsTotal.WithLabelValues(task, kind).Add(float64(n))
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.last[name] = lastRun{outcome: outcome, at: c.clock.Now(), summary: summary}
}

// ObserveRetry counts a retried provider call. Pass it to azure.WithRetryObserver.
func (c *IngestCollector) ObserveRetry(status int) {
	c.httpRetries.WithLabelValues(strconv.Itoa(status)).Inc()
}

// LastSummary returns the summary of the last finished run of name
func (c *IngestCollector) LastSummary(name tasks.Name) (tasks.Summary, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	run, ok := c.last[name]
	return run.summary, ok
}
