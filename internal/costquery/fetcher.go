package costquery

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/costmanagement/armcostmanagement"
	"github.com/koetjeengdjalanan/nilakandi/internal/azure"
	"github.com/koetjeengdjalanan/nilakandi/internal/logger"
	"github.com/koetjeengdjalanan/nilakandi/internal/provider"
	"github.com/koetjeengdjalanan/nilakandi/internal/store"
)

// FactWriter persists cost facts
type FactWriter interface {
	UpsertCostFacts(ctx context.Context, facts []store.CostFact) (int64, error)
}

// Page is one decoded page of the cost query answer
type Page struct {
	Number  int
	Facts   []store.CostFact
	Skipped int
}

// Result summarizes one ingestion
type Result struct {
	SubscriptionID string
	Start          time.Time
	End            time.Time
	Pages          int
	Rows           int
	Skipped        int
	Written        int64
}

// Fetcher pulls grouped daily costs for a subscription from the query API
type Fetcher struct {
	client    *azure.Client
	endpoints provider.Endpoints
	writer    FactWriter
	logger    *logger.Logger
}

// NewFetcher creates a cost query fetcher
func NewFetcher(client *azure.Client, endpoints provider.Endpoints, writer FactWriter, log *logger.Logger) *Fetcher {
	return &Fetcher{
		client:    client,
		endpoints: endpoints,
		writer:    writer,
		logger:    log.Named(logger.ComponentPull).WithFields("source", "cost_query"),
	}
}

// Pages lazily walks the query answer for [start, end]. Every nextLink is
// POSTed with the original body. The window is validated before any call.
func (f *Fetcher) Pages(ctx context.Context, subscriptionID string, start, end time.Time) iter.Seq2[Page, error] {
	return func(yield func(Page, error) bool) {
		if err := ValidateRange(start, end); err != nil {
			yield(Page{}, err)
			return
		}

		body := buildQuery(start, end)
		url := f.endpoints.CostQuery(provider.SubscriptionScope(subscriptionID))
		n := 0
		for res, err := range azure.Pages(ctx, f.client, http.MethodPost, url, body, nextLink) {
			if err != nil {
				yield(Page{}, err)
				return
			}
			n++
			facts, skipped := toCostFacts(res.Properties, subscriptionID)
			if !yield(Page{Number: n, Facts: facts, Skipped: skipped}, nil) {
				return
			}
		}
	}
}

// Ingest fetches [start, end] and upserts every page as it arrives. A
// failure on a later page leaves earlier pages committed.
func (f *Fetcher) Ingest(ctx context.Context, subscriptionID string, start, end time.Time) (Result, error) {
	result := Result{SubscriptionID: subscriptionID, Start: start, End: end}
	log := f.logger.WithFields("subscription_id", subscriptionID, "from", start, "to", end)

	for page, err := range f.Pages(ctx, subscriptionID, start, end) {
		if err != nil {
			log.Error("Cost query failed", "error", err, "pages", result.Pages)
			return result, fmt.Errorf("cost query for subscription %s: %w", subscriptionID, err)
		}
		result.Pages++
		result.Rows += len(page.Facts)
		result.Skipped += page.Skipped

		written, err := f.writer.UpsertCostFacts(ctx, page.Facts)
		if err != nil {
			log.Error("Failed to save cost page", "error", err, "page", page.Number)
			return result, err
		}
		result.Written += written
		log.Debug("Saved cost page", "page", page.Number, "rows", len(page.Facts), "skipped", page.Skipped)
	}

	log.Info("Cost query ingested",
		"pages", result.Pages,
		"rows", result.Rows,
		"skipped", result.Skipped,
		"written", result.Written,
	)
	return result, nil
}

// IngestRange ingests an arbitrarily long window by splitting it with YearlyRanges
func (f *Fetcher) IngestRange(ctx context.Context, subscriptionID string, start, end time.Time) ([]Result, error) {
	ranges := YearlyRanges(start, end)
	if ranges == nil {
		return nil, ValidateRange(start, end)
	}
	results := make([]Result, 0, len(ranges))
	for _, r := range ranges {
		res, err := f.Ingest(ctx, subscriptionID, r.Start, r.End)
		results = append(results, res)
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

func nextLink(res *armcostmanagement.QueryResult) string {
	if res.Properties == nil || res.Properties.NextLink == nil {
		return ""
	}
	return *res.Properties.NextLink
}
