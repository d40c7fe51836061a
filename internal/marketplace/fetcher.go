package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/koetjeengdjalanan/nilakandi/internal/azure"
	"github.com/koetjeengdjalanan/nilakandi/internal/clock"
	"github.com/koetjeengdjalanan/nilakandi/internal/logger"
	"github.com/koetjeengdjalanan/nilakandi/internal/provider"
	"github.com/koetjeengdjalanan/nilakandi/internal/store"
	"gorm.io/datatypes"
)

// Writer persists marketplace charges
type Writer interface {
	InsertMarketplaces(ctx context.Context, items []store.Marketplace) (int64, error)
}

// Result summarizes the charges fetched for a window
type Result struct {
	SubscriptionID string
	Periods        []string
	Fetched        int
	Written        int64
}

// Fetcher pulls marketplace charges per billing period from the consumption API
type Fetcher struct {
	client    *azure.Client
	endpoints provider.Endpoints
	writer    Writer
	clock     clock.Clock
	pause     time.Duration
	logger    *logger.Logger
}

// NewFetcher creates a marketplace fetcher that waits pause between billing periods
func NewFetcher(client *azure.Client, endpoints provider.Endpoints, writer Writer, clk clock.Clock, pause time.Duration, log *logger.Logger) *Fetcher {
	return &Fetcher{
		client:    client,
		endpoints: endpoints,
		writer:    writer,
		clock:     clk,
		pause:     pause,
		logger:    log.Named(logger.ComponentPull).WithFields("source", "marketplaces"),
	}
}

// BillingPeriod formats the YYYYMM billing period containing t
func BillingPeriod(t time.Time) string {
	return t.Format("200601")
}

// BillingPeriods lists the billing periods touched by [start, end]
func BillingPeriods(start, end time.Time) []string {
	if end.Before(start) {
		return nil
	}
	var periods []string
	cur := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, start.Location())
	for !cur.After(end) {
		periods = append(periods, BillingPeriod(cur))
		cur = cur.AddDate(0, 1, 0)
	}
	return periods
}

type listResponse struct {
	Value    []charge `json:"value"`
	NextLink string   `json:"nextLink"`
}

type charge struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Type       string            `json:"type"`
	Tags       map[string]string `json:"tags"`
	Properties chargeProperties  `json:"properties"`
}

type chargeProperties struct {
	BillingPeriodID   string     `json:"billingPeriodId"`
	UsageStart        *time.Time `json:"usageStart"`
	UsageEnd          *time.Time `json:"usageEnd"`
	ResourceRate      float64    `json:"resourceRate"`
	OfferName         string     `json:"offerName"`
	ResourceGroup     string     `json:"resourceGroup"`
	AdditionalInfo    string     `json:"additionalInfo"`
	OrderNumber       string     `json:"orderNumber"`
	InstanceName      string     `json:"instanceName"`
	InstanceID        string     `json:"instanceId"`
	Currency          string     `json:"currency"`
	ConsumedQuantity  float64    `json:"consumedQuantity"`
	UnitOfMeasure     string     `json:"unitOfMeasure"`
	PretaxCost        float64    `json:"pretaxCost"`
	IsEstimated       bool       `json:"isEstimated"`
	MeterID           string     `json:"meterId"`
	SubscriptionName  string     `json:"subscriptionName"`
	AccountName       string     `json:"accountName"`
	DepartmentName    string     `json:"departmentName"`
	CostCenter        string     `json:"costCenter"`
	PublisherName     string     `json:"publisherName"`
	PlanName          string     `json:"planName"`
	IsRecurringCharge bool       `json:"isRecurringCharge"`
}

// FetchPeriod pulls and stores the charges of one billing period (YYYYMM)
func (f *Fetcher) FetchPeriod(ctx context.Context, subscriptionID, period string) (Result, error) {
	result := Result{SubscriptionID: subscriptionID, Periods: []string{period}}
	log := f.logger.WithFields("subscription_id", subscriptionID, "billing_period", period)

	var items []store.Marketplace
	next := func(r *listResponse) string { return r.NextLink }
	for page, err := range azure.Pages(ctx, f.client, http.MethodGet, f.endpoints.Marketplaces(subscriptionID, period), nil, next) {
		if err != nil {
			log.Error("Failed to list marketplaces", "error", err)
			return result, fmt.Errorf("marketplaces of %s for %s: %w", subscriptionID, period, err)
		}
		for _, c := range page.Value {
			item, ok := toMarketplace(subscriptionID, c)
			if !ok {
				log.Warn("Ignoring marketplace charge without a name", "id", c.ID)
				continue
			}
			items = append(items, item)
		}
	}
	result.Fetched = len(items)

	written, err := f.writer.InsertMarketplaces(ctx, items)
	if err != nil {
		return result, err
	}
	result.Written = written
	log.Info("Marketplaces saved", "fetched", result.Fetched, "written", written)
	return result, nil
}

// FetchRange walks [start, end] one billing period at a time, pausing
// between periods
func (f *Fetcher) FetchRange(ctx context.Context, subscriptionID string, start, end time.Time) (Result, error) {
	result := Result{SubscriptionID: subscriptionID}
	for i, period := range BillingPeriods(start, end) {
		if i > 0 {
			if err := f.wait(ctx); err != nil {
				return result, err
			}
		}
		res, err := f.FetchPeriod(ctx, subscriptionID, period)
		result.Periods = append(result.Periods, period)
		result.Fetched += res.Fetched
		result.Written += res.Written
		if err != nil {
			return result, err
		}
	}
	return result, nil
}

func (f *Fetcher) wait(ctx context.Context) error {
	if f.pause <= 0 {
		return nil
	}
	t := f.clock.NewTimer()
	t.Start(f.pause)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C():
		return nil
	}
}

// toMarketplace maps a charge. The charge name is its identity; names that
// are UUIDs are stored in canonical form.
func toMarketplace(subscriptionID string, c charge) (store.Marketplace, bool) {
	if c.Name == "" {
		return store.Marketplace{}, false
	}
	p := c.Properties
	return store.Marketplace{
		SubscriptionID:    subscriptionID,
		SourceID:          canonicalUUID(c.Name),
		Name:              c.ID,
		Type:              c.Type,
		Tags:              tagsJSON(c.Tags),
		BillingPeriodID:   p.BillingPeriodID,
		UsageStart:        p.UsageStart,
		UsageEnd:          p.UsageEnd,
		ResourceRate:      p.ResourceRate,
		OfferName:         p.OfferName,
		ResourceGroup:     p.ResourceGroup,
		AdditionalInfo:    additionalInfoJSON(p.AdditionalInfo),
		OrderNumber:       canonicalUUID(p.OrderNumber),
		InstanceName:      p.InstanceName,
		InstanceID:        p.InstanceID,
		Currency:          p.Currency,
		ConsumedQuantity:  p.ConsumedQuantity,
		UnitOfMeasure:     p.UnitOfMeasure,
		PretaxCost:        p.PretaxCost,
		IsEstimated:       p.IsEstimated,
		MeterID:           p.MeterID,
		SubscriptionName:  p.SubscriptionName,
		AccountName:       p.AccountName,
		DepartmentName:    p.DepartmentName,
		CostCenter:        p.CostCenter,
		PublisherName:     p.PublisherName,
		PlanName:          p.PlanName,
		IsRecurringCharge: p.IsRecurringCharge,
	}, true
}

func canonicalUUID(value string) string {
	if id, err := uuid.Parse(value); err == nil {
		return id.String()
	}
	return value
}

func tagsJSON(tags map[string]string) datatypes.JSON {
	if len(tags) == 0 {
		return datatypes.JSON("{}")
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return datatypes.JSON("{}")
	}
	return data
}

// additionalInfoJSON keeps the provider's JSON text, or an empty object
func additionalInfoJSON(value string) datatypes.JSON {
	if value != "" && json.Valid([]byte(value)) {
		return datatypes.JSON(value)
	}
	return datatypes.JSON("{}")
}
