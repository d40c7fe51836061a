package tasks

import (
	"context"
	"errors"
	"time"

	"github.com/koetjeengdjalanan/nilakandi/internal/blobimport"
	"github.com/koetjeengdjalanan/nilakandi/internal/costquery"
	"github.com/koetjeengdjalanan/nilakandi/internal/ingesterr"
	"github.com/koetjeengdjalanan/nilakandi/internal/logger"
	"github.com/koetjeengdjalanan/nilakandi/internal/marketplace"
	"github.com/koetjeengdjalanan/nilakandi/internal/store"
)

// SubscriptionSyncer lists and stores the visible subscriptions
type SubscriptionSyncer interface {
	Sync(ctx context.Context) ([]store.Subscription, error)
}

// CostIngester ingests the cost query answer for a window
type CostIngester interface {
	IngestRange(ctx context.Context, subscriptionID string, start, end time.Time) ([]costquery.Result, error)
}

// MarketplaceFetcher ingests marketplace charges for a window
type MarketplaceFetcher interface {
	FetchRange(ctx context.Context, subscriptionID string, start, end time.Time) (marketplace.Result, error)
}

// HistoryPuller records the run history of a subscription's export
type HistoryPuller interface {
	PullHistory(ctx context.Context, subscriptionID string) ([]store.ExportRun, error)
}

// BlobImporter resolves manifests and imports their blobs
type BlobImporter interface {
	AggregateManifestDetails(ctx context.Context, subscriptionID string, start, end time.Time) ([]*blobimport.Manifest, error)
	ImportBlob(ctx context.Context, exportRunID, subscriptionID string, desc blobimport.BlobDescriptor) (blobimport.Totals, error)
}

// SubscriptionLookup resolves a subscription's display name
type SubscriptionLookup interface {
	GetSubscription(ctx context.Context, id string) (*store.Subscription, error)
}

// Dependencies are the components the jobs drive
type Dependencies struct {
	Subscriptions SubscriptionSyncer
	Costs         CostIngester
	Marketplaces  MarketplaceFetcher
	Exports       HistoryPuller
	Blobs         BlobImporter
	Lookup        SubscriptionLookup
}

// Jobs binds the named jobs to their components
type Jobs struct {
	deps       Dependencies
	dispatcher *Dispatcher
	logger     *logger.Logger
}

// NewJobs creates the job set. Chained jobs are queued through dispatcher.
func NewJobs(deps Dependencies, dispatcher *Dispatcher, log *logger.Logger) *Jobs {
	return &Jobs{
		deps:       deps,
		dispatcher: dispatcher,
		logger:     log.Named(logger.ComponentTasks),
	}
}

// Register installs every job on w
func (j *Jobs) Register(w *Worker) {
	w.Handle(SyncSubscriptions, j.SyncSubscriptions)
	w.Handle(FetchServices, j.FetchServices)
	w.Handle(FetchMarketplaces, j.FetchMarketplaces)
	w.Handle(FetchExportHistory, j.FetchExportHistory)
	w.Handle(FetchBlobs, j.FetchBlobs)
	w.Handle(ProcessBlob, j.ProcessBlob)
}

func (j *Jobs) SyncSubscriptions(ctx context.Context, p Payload) (Summary, error) {
	s := newSummary(SyncSubscriptions, p)
	subs, err := j.deps.Subscriptions.Sync(ctx)
	if err != nil {
		return s, err
	}
	s.Counts["subscriptions"] = int64(len(subs))
	return s, nil
}

func (j *Jobs) FetchServices(ctx context.Context, p Payload) (Summary, error) {
	s := j.summary(ctx, FetchServices, p)
	start, end, err := requireWindow(p)
	if err != nil {
		return s, err
	}
	results, err := j.deps.Costs.IngestRange(ctx, p.SubscriptionID, start, end)
	for _, r := range results {
		s.Counts["pages"] += int64(r.Pages)
		s.Counts["rows"] += int64(r.Rows)
		s.Counts["skipped"] += int64(r.Skipped)
		s.Counts["written"] += r.Written
	}
	return s, err
}

func (j *Jobs) FetchMarketplaces(ctx context.Context, p Payload) (Summary, error) {
	s := j.summary(ctx, FetchMarketplaces, p)
	start, end, err := requireWindow(p)
	if err != nil {
		return s, err
	}
	r, err := j.deps.Marketplaces.FetchRange(ctx, p.SubscriptionID, start, end)
	s.Counts["periods"] = int64(len(r.Periods))
	s.Counts["fetched"] = int64(r.Fetched)
	s.Counts["written"] = r.Written
	return s, err
}

// FetchExportHistory records the run history and then queues the blob import
// of the window it covers, so history always lands before the import reads it
func (j *Jobs) FetchExportHistory(ctx context.Context, p Payload) (Summary, error) {
	s := j.summary(ctx, FetchExportHistory, p)
	if p.SubscriptionID == "" {
		return s, &ingesterr.ValidationError{Field: "subscription_id", Err: errors.New("required")}
	}
	runs, err := j.deps.Exports.PullHistory(ctx, p.SubscriptionID)
	if err != nil {
		return s, err
	}
	s.Counts["runs"] = int64(len(runs))

	start, end, ok := p.Start, p.End, p.Start != nil && p.End != nil
	if !ok {
		start, end, ok = runWindow(runs)
	}
	if !ok {
		return s, nil
	}
	if _, err := j.dispatcher.Submit(ctx, FetchBlobs, Window(p.SubscriptionID, *start, *end), 0); err != nil {
		return s, err
	}
	s.Counts["queued"] = 1
	return s, nil
}

// FetchBlobs resolves the manifests of the window and queues one process_blob
// per data blob
func (j *Jobs) FetchBlobs(ctx context.Context, p Payload) (Summary, error) {
	s := j.summary(ctx, FetchBlobs, p)
	start, end, err := requireWindow(p)
	if err != nil {
		return s, err
	}
	manifests, err := j.deps.Blobs.AggregateManifestDetails(ctx, p.SubscriptionID, start, end)
	if err != nil {
		return s, err
	}
	s.Counts["manifests"] = int64(len(manifests))

	for _, m := range manifests {
		for _, desc := range m.Blobs {
			s.Counts["blobs"]++
			if !desc.HasData() {
				s.Counts["skipped"]++
				continue
			}
			payload := Payload{SubscriptionID: m.SubscriptionID, ExportRunID: m.ExportRunID, Blob: &desc, Start: p.Start, End: p.End}
			if _, err := j.dispatcher.Submit(ctx, ProcessBlob, payload, 0); err != nil {
				return s, err
			}
			s.Counts["queued"]++
		}
	}
	return s, nil
}

func (j *Jobs) ProcessBlob(ctx context.Context, p Payload) (Summary, error) {
	s := j.summary(ctx, ProcessBlob, p)
	if p.Blob == nil || p.ExportRunID == "" {
		return s, &ingesterr.ValidationError{Field: "blob", Err: errors.New("blob descriptor and export run id are required")}
	}
	totals, err := j.deps.Blobs.ImportBlob(ctx, p.ExportRunID, p.SubscriptionID, *p.Blob)
	s.Counts["skipped"] = int64(totals.Skipped)
	s.Counts["processed"] = totals.Processed
	s.Counts["imported"] = totals.Imported
	s.Counts["invalid"] = totals.Invalid
	return s, err
}

func (j *Jobs) summary(ctx context.Context, name Name, p Payload) Summary {
	s := newSummary(name, p)
	if p.SubscriptionID == "" || j.deps.Lookup == nil {
		return s
	}
	sub, err := j.deps.Lookup.GetSubscription(ctx, p.SubscriptionID)
	if err != nil {
		j.logger.Debug("Subscription name unavailable", "subscription_id", p.SubscriptionID, "error", err)
		return s
	}
	s.SubscriptionName = sub.DisplayName
	return s
}

func requireWindow(p Payload) (time.Time, time.Time, error) {
	if p.SubscriptionID == "" {
		return time.Time{}, time.Time{}, &ingesterr.ValidationError{Field: "subscription_id", Err: errors.New("required")}
	}
	if p.Start == nil || p.End == nil {
		return time.Time{}, time.Time{}, &ingesterr.ValidationError{Field: "start/end", Err: errors.New("required")}
	}
	return *p.Start, *p.End, nil
}

// runWindow spans the report windows of runs
func runWindow(runs []store.ExportRun) (*time.Time, *time.Time, bool) {
	var start, end *time.Time
	for _, r := range runs {
		if r.ReportFrom != nil && (start == nil || r.ReportFrom.Before(*start)) {
			start = r.ReportFrom
		}
		if r.ReportTo != nil && (end == nil || r.ReportTo.After(*end)) {
			end = r.ReportTo
		}
	}
	return start, end, start != nil && end != nil
}
