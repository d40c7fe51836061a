package tasks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/koetjeengdjalanan/nilakandi/internal/blobimport"
	"github.com/koetjeengdjalanan/nilakandi/internal/clock"
	"github.com/koetjeengdjalanan/nilakandi/internal/costquery"
	"github.com/koetjeengdjalanan/nilakandi/internal/ingesterr"
	"github.com/koetjeengdjalanan/nilakandi/internal/logger"
	"github.com/koetjeengdjalanan/nilakandi/internal/marketplace"
	"github.com/koetjeengdjalanan/nilakandi/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeComponents struct {
	mu       sync.Mutex
	costs    []string
	imported []blobimport.BlobDescriptor
	runs     []store.ExportRun
	windows  [][2]time.Time
}

func (f *fakeComponents) Sync(context.Context) ([]store.Subscription, error) {
	return []store.Subscription{{SubscriptionID: "a"}, {SubscriptionID: "b"}}, nil
}

func (f *fakeComponents) IngestRange(_ context.Context, subscriptionID string, start, end time.Time) ([]costquery.Result, error) {
	f.mu.Lock()
	f.costs = append(f.costs, subscriptionID)
	f.mu.Unlock()
	return []costquery.Result{
		{Pages: 2, Rows: 10, Written: 8},
		{Pages: 1, Rows: 4, Skipped: 1, Written: 3},
	}, nil
}

func (f *fakeComponents) FetchRange(context.Context, string, time.Time, time.Time) (marketplace.Result, error) {
	return marketplace.Result{Periods: []string{"202401", "202402"}, Fetched: 5, Written: 5}, nil
}

func (f *fakeComponents) PullHistory(context.Context, string) ([]store.ExportRun, error) {
	return f.runs, nil
}

func (f *fakeComponents) AggregateManifestDetails(_ context.Context, subscriptionID string, start, end time.Time) ([]*blobimport.Manifest, error) {
	f.mu.Lock()
	f.windows = append(f.windows, [2]time.Time{start, end})
	f.mu.Unlock()
	return []*blobimport.Manifest{{
		ExportRunID:    "run-1",
		SubscriptionID: subscriptionID,
		Blobs: []blobimport.BlobDescriptor{
			{BlobName: "part_0.csv", ByteCount: 100, DataRowCount: 3},
			{BlobName: "part_1.csv", ByteCount: 0, DataRowCount: 0},
			{BlobName: "part_2.csv", ByteCount: 50, DataRowCount: 1},
		},
	}}, nil
}

func (f *fakeComponents) ImportBlob(_ context.Context, exportRunID, subscriptionID string, desc blobimport.BlobDescriptor) (blobimport.Totals, error) {
	f.mu.Lock()
	f.imported = append(f.imported, desc)
	f.mu.Unlock()
	return blobimport.Totals{Blobs: 1, Processed: desc.DataRowCount, Imported: desc.DataRowCount}, nil
}

func (f *fakeComponents) GetSubscription(_ context.Context, id string) (*store.Subscription, error) {
	if id == "a" {
		return &store.Subscription{SubscriptionID: "a", DisplayName: "Production"}, nil
	}
	return nil, store.ErrNotFound
}

func newTestJobs(t *testing.T, f *fakeComponents) (*Worker, *MemoryQueue, *Dispatcher, *recorder) {
	t.Helper()
	clk := clock.NewManualClock(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	q := NewMemoryQueue(clk)
	log := logger.New("error")
	rec := &recorder{}
	w := NewWorker(q, testTasksConfig(), clk, log, WithObserver(rec))
	d := NewDispatcher(q, clk, 500*time.Millisecond, log)
	NewJobs(Dependencies{
		Subscriptions: f,
		Costs:         f,
		Marketplaces:  f,
		Exports:       f,
		Blobs:         f,
		Lookup:        f,
	}, d, log).Register(w)
	return w, q, d, rec
}

func TestFetchServices_Summary(t *testing.T) {
	f := &fakeComponents{}
	w, _, d, rec := newTestJobs(t, f)
	ctx := context.Background()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	_, err := d.Submit(ctx, FetchServices, Window("a", start, end), 0)
	require.NoError(t, err)

	_, err = w.Drain(ctx)
	require.NoError(t, err)
	require.Len(t, rec.runs, 1)
	s := rec.runs[0].summary
	assert.Equal(t, FetchServices, s.Task)
	assert.Equal(t, "Production", s.SubscriptionName)
	assert.Equal(t, start, *s.Start)
	assert.Equal(t, end, *s.End)
	assert.Equal(t, map[string]int64{"pages": 3, "rows": 14, "skipped": 1, "written": 11}, s.Counts)
}

func TestFetchServices_MissingWindowIsPermanent(t *testing.T) {
	f := &fakeComponents{}
	jobs := NewJobs(Dependencies{Costs: f}, nil, logger.New("error"))

	_, err := jobs.FetchServices(context.Background(), Payload{SubscriptionID: "b"})
	assert.True(t, ingesterr.IsPermanent(err))
	assert.Empty(t, f.costs)
}

// TestExportHistory_ChainsBlobImport tests history → fetch_blobs → process_blob sequencing
func TestExportHistory_ChainsBlobImport(t *testing.T) {
	from := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC)
	f := &fakeComponents{runs: []store.ExportRun{
		{ID: "run-1", ReportFrom: &from, ReportTo: &from},
		{ID: "run-2", ReportFrom: &from, ReportTo: &to},
	}}
	w, _, d, rec := newTestJobs(t, f)
	ctx := context.Background()

	_, err := d.Submit(ctx, FetchExportHistory, Payload{SubscriptionID: "a"}, 0)
	require.NoError(t, err)

	ran, err := w.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, ran, "history, fetch_blobs and two process_blob")

	require.Len(t, f.windows, 1)
	assert.Equal(t, [2]time.Time{from, to}, f.windows[0])

	names := make([]string, len(f.imported))
	for i, desc := range f.imported {
		names[i] = desc.BlobName
	}
	assert.Equal(t, []string{"part_0.csv", "part_2.csv"}, names)

	assert.Equal(t, int64(1), rec.runs[1].summary.Counts["skipped"])
	assert.Equal(t, int64(2), rec.runs[1].summary.Counts["queued"])
	assert.Equal(t, []Outcome{OutcomeSuccess, OutcomeSuccess, OutcomeSuccess, OutcomeSuccess}, rec.outcomes())
}

func TestExportHistory_NoRunsQueuesNothing(t *testing.T) {
	f := &fakeComponents{}
	w, _, d, _ := newTestJobs(t, f)
	ctx := context.Background()

	_, err := d.Submit(ctx, FetchExportHistory, Payload{SubscriptionID: "a"}, 0)
	require.NoError(t, err)

	ran, err := w.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, ran)
	assert.Empty(t, f.windows)
}

func TestProcessBlob_RequiresDescriptor(t *testing.T) {
	jobs := NewJobs(Dependencies{}, nil, logger.New("error"))
	_, err := jobs.ProcessBlob(context.Background(), Payload{SubscriptionID: "a"})
	assert.True(t, ingesterr.IsPermanent(err))
}

func TestDispatcher_StaggersSubscriptions(t *testing.T) {
	f := &fakeComponents{}
	_, q, d, _ := newTestJobs(t, f)
	ctx := context.Background()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	queued, err := d.Grab(ctx, []string{"a", "b", "c"}, start, start.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.Len(t, queued, 6)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Ready: 2, Delayed: 4}, stats)
}

func TestDispatcher_SyncAndIngest(t *testing.T) {
	f := &fakeComponents{}
	w, _, d, rec := newTestJobs(t, f)
	ctx := context.Background()

	_, err := d.SyncSubscriptions(ctx)
	require.NoError(t, err)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	queued, err := d.Ingest(ctx, []string{"a"}, start, start.AddDate(0, 0, 3))
	require.NoError(t, err)
	assert.Len(t, queued, 3)

	_, err = w.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, f.costs)
	assert.Equal(t, int64(2), rec.runs[0].summary.Counts["subscriptions"])
	assert.Equal(t, int64(2), rec.runs[2].summary.Counts["periods"])
}
