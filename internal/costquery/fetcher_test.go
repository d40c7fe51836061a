package costquery

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/koetjeengdjalanan/nilakandi/internal/azure"
	"github.com/koetjeengdjalanan/nilakandi/internal/clock"
	"github.com/koetjeengdjalanan/nilakandi/internal/config"
	"github.com/koetjeengdjalanan/nilakandi/internal/ingesterr"
	"github.com/koetjeengdjalanan/nilakandi/internal/logger"
	"github.com/koetjeengdjalanan/nilakandi/internal/provider"
	"github.com/koetjeengdjalanan/nilakandi/internal/store"
	"github.com/koetjeengdjalanan/nilakandi/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const subID = "22222222-2222-2222-2222-222222222222"

const columnsJSON = `[
	{"name":"CostUSD","type":"Number"},
	{"name":"UsageDate","type":"Number"},
	{"name":"SubscriptionId","type":"String"},
	{"name":"ChargeType","type":"String"},
	{"name":"ServiceName","type":"String"},
	{"name":"ServiceTier","type":"String"},
	{"name":"Meter","type":"String"},
	{"name":"PartNumber","type":"String"},
	{"name":"BillingMonth","type":"Datetime"},
	{"name":"ResourceId","type":"String"},
	{"name":"ResourceType","type":"String"},
	{"name":"Currency","type":"String"}
]`

func row(cost float64, date int, meter string) string {
	b, _ := json.Marshal([]any{cost, date, subID, "Usage", "Storage", "Premium", meter, "P1", "2024-01-01T00:00:00", "/subscriptions/x/disk", "microsoft.compute/disks", "USD"})
	return string(b)
}

func page(next string, rows ...string) string {
	body := `{"id":"q","properties":{"columns":` + columnsJSON + `,"rows":[`
	for i, r := range rows {
		if i > 0 {
			body += ","
		}
		body += r
	}
	body += `]`
	if next != "" {
		body += `,"nextLink":"` + next + `"`
	}
	return body + `}}`
}

type fixture struct {
	store   *store.Store
	fetcher *Fetcher
	mu      sync.Mutex
	bodies  []string
}

func newFixture(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, srvURL string)) *fixture {
	t.Helper()
	f := &fixture{store: storetest.New(t)}
	storetest.Subscription(t, f.store, subID, "prod")

	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.bodies = append(f.bodies, string(b))
		f.mu.Unlock()
		handler(w, r, srv.URL)
	}))
	t.Cleanup(srv.Close)

	log := logger.New("error")
	client := azure.NewClient(config.HTTPConfig{
		MaxAttempts:       3,
		RetryAfter:        1,
		SkippableStatuses: config.DefaultSkippableStatuses,
		Timeout:           5,
	}, azure.StaticToken("token"), log, azure.WithClock(clock.NewFakeClock(time.Now())))
	endpoints := provider.NewEndpoints(config.AzureConfig{ManagementURL: srv.URL, QueryAPIVersion: "2019-11-01"})
	f.fetcher = NewFetcher(client, endpoints, f.store, log)
	return f
}

func (f *fixture) facts(t *testing.T) []store.CostFact {
	t.Helper()
	var facts []store.CostFact
	require.NoError(t, f.store.DB().Order("meter").Find(&facts).Error)
	return facts
}

// TestIngest_FollowsNextLinkWithSameBody tests pagination and cross-page natural key collapse
func TestIngest_FollowsNextLinkWithSameBody(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request, srvURL string) {
		assert.Equal(t, http.MethodPost, r.Method)
		if r.URL.Query().Get("page") == "2" {
			_, _ = io.WriteString(w, page("", row(7.5, 20240102, "disk"), row(1, 20240103, "egress")))
			return
		}
		_, _ = io.WriteString(w, page(srvURL+"/next?page=2", row(2.5, 20240102, "disk")))
	})

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	res, err := f.fetcher.Ingest(context.Background(), subID, start, start.AddDate(0, 1, 0))
	require.NoError(t, err)

	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, 3, res.Rows)
	require.Len(t, f.bodies, 2)
	assert.JSONEq(t, f.bodies[0], f.bodies[1])

	facts := f.facts(t)
	require.Len(t, facts, 2)
	assert.Equal(t, "disk", facts[0].Meter)
	assert.InDelta(t, 7.5, facts[0].Cost, 1e-9)
	assert.Equal(t, "egress", facts[1].Meter)
	assert.Equal(t, time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), time.Time(facts[1].UsageDate).UTC())
	require.NotNil(t, facts[1].BillingMonth)
}

// TestIngest_Payload tests the query definition sent to the API
func TestIngest_Payload(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request, srvURL string) {
		assert.Equal(t, "2019-11-01", r.URL.Query().Get("api-version"))
		assert.Equal(t, "/subscriptions/"+subID+"/providers/Microsoft.CostManagement/query", r.URL.Path)
		_, _ = io.WriteString(w, page(""))
	})

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := f.fetcher.Ingest(context.Background(), subID, start, start.AddDate(0, 0, 10))
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(f.bodies[0]), &body))
	assert.Equal(t, "ActualCost", body["type"])
	assert.Equal(t, "Custom", body["timeframe"])
	period := body["timePeriod"].(map[string]any)
	assert.Equal(t, "2024-01-01T00:00:00.000000Z", period["from"])
	assert.Equal(t, "2024-01-11T00:00:00.000000Z", period["to"])
	dataset := body["dataset"].(map[string]any)
	assert.Equal(t, "Daily", dataset["granularity"])
	assert.Len(t, dataset["grouping"], len(groupingDimensions))
	total := dataset["aggregation"].(map[string]any)["totalCost"].(map[string]any)
	assert.Equal(t, "CostUSD", total["name"])
	assert.Equal(t, "Sum", total["function"])
}

// TestIngest_LaterPageFailureKeepsEarlierPages tests page-at-a-time commits
func TestIngest_LaterPageFailureKeepsEarlierPages(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request, srvURL string) {
		if r.URL.Query().Get("page") == "2" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = io.WriteString(w, page(srvURL+"/next?page=2", row(2.5, 20240102, "disk")))
	})

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	res, err := f.fetcher.Ingest(context.Background(), subID, start, start.AddDate(0, 1, 0))
	require.Error(t, err)

	var perm *ingesterr.PermanentHTTPError
	assert.ErrorAs(t, err, &perm)
	assert.Equal(t, 1, res.Pages)
	assert.Len(t, f.facts(t), 1)
}

// TestIngest_RejectsInvalidRange tests that no request is made for a bad window
func TestIngest_RejectsInvalidRange(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request, srvURL string) {
		t.Error("unexpected request")
	})

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := f.fetcher.Ingest(context.Background(), subID, start, start.AddDate(0, 0, 366))
	var rangeErr *ingesterr.InvalidRangeError
	assert.ErrorAs(t, err, &rangeErr)

	_, err = f.fetcher.Ingest(context.Background(), subID, start, start.AddDate(0, 0, -1))
	assert.ErrorAs(t, err, &rangeErr)
	assert.Empty(t, f.bodies)
}

// TestIngestRange_SplitsLongWindows tests that long windows become several valid queries
func TestIngestRange_SplitsLongWindows(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request, srvURL string) {
		_, _ = io.WriteString(w, page(""))
	})

	start := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	results, err := f.fetcher.IngestRange(context.Background(), subID, start, start.AddDate(2, 0, 0))
	require.NoError(t, err)
	assert.Len(t, results, 3)
	assert.Len(t, f.bodies, 3)
}
