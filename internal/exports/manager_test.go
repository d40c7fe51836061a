package exports

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
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

const subID = "33333333-3333-3333-3333-333333333333"

var now = time.Date(2024, 6, 15, 10, 30, 0, 0, time.UTC)

func newManager(t *testing.T, handler http.HandlerFunc) (*Manager, *store.Store) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	s := storetest.New(t)
	storetest.Subscription(t, s, subID, "prod")

	log := logger.New("error")
	clk := clock.NewFakeClock(now)
	client := azure.NewClient(config.HTTPConfig{
		MaxAttempts:       2,
		RetryAfter:        1,
		SkippableStatuses: config.DefaultSkippableStatuses,
		Timeout:           5,
	}, azure.StaticToken("token"), log, azure.WithClock(clk))
	endpoints := provider.NewEndpoints(config.AzureConfig{
		ManagementURL:    srv.URL,
		ExportAPIVersion: "2023-07-01-preview",
		ExportName:       "Nilakandi-NTT-Export",
	})
	dest := Destination{ResourceGroup: "Utilities", StorageAccount: "acct", Container: "cost-exports", Description: "test export"}
	return NewManager(client, endpoints, dest, s, clk, log), s
}

// TestDefinition_Validate tests the schedule and report window rules
func TestDefinition_Validate(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		def     Definition
		wantErr bool
	}{
		{"one month", Definition{SubscriptionID: subID, ReportStart: start, ReportEnd: start.AddDate(0, 1, 0)}, false},
		{"same day", Definition{SubscriptionID: subID, ReportStart: start, ReportEnd: start}, false},
		{"over a month", Definition{SubscriptionID: subID, ReportStart: start, ReportEnd: start.AddDate(0, 1, 1)}, true},
		{"reversed report", Definition{SubscriptionID: subID, ReportStart: start, ReportEnd: start.Add(-time.Hour)}, true},
		{"reversed schedule", Definition{SubscriptionID: subID, ScheduleStart: start, ScheduleEnd: start.Add(-time.Hour)}, true},
		{"missing subscription", Definition{ReportStart: start, ReportEnd: start}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.def.resolve(now).Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var schedErr *ingesterr.InvalidScheduleError
			assert.ErrorAs(t, err, &schedErr)
		})
	}
}

// TestCreateOrConfigure_InactiveByDefault tests the PUT payload of an unscheduled export
func TestCreateOrConfigure_InactiveByDefault(t *testing.T) {
	var body map[string]any
	m, _ := newManager(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/subscriptions/"+subID+"/providers/Microsoft.CostManagement/exports/Nilakandi-NTT-Export", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = io.WriteString(w, `{"id":"/subscriptions/x/exports/Nilakandi-NTT-Export","name":"Nilakandi-NTT-Export","properties":{"schedule":{"status":"Inactive"}}}`)
	})

	job, err := m.CreateOrConfigure(context.Background(), Definition{SubscriptionID: subID})
	require.NoError(t, err)
	assert.Equal(t, StateInactive, job.State)

	props := body["properties"].(map[string]any)
	schedule := props["schedule"].(map[string]any)
	assert.Equal(t, "Inactive", schedule["status"])
	assert.Equal(t, "Daily", schedule["recurrence"])
	assert.Equal(t, map[string]any{
		"from": "2024-06-15T00:00:00.000000Z",
		"to":   "2024-06-15T23:59:59.999999Z",
	}, schedule["recurrencePeriod"])
	assert.Equal(t, "Csv", props["format"])
	assert.Equal(t, true, props["partitionData"])
	assert.Equal(t, "CreateNewReport", props["dataOverwriteBehavior"])

	dest := props["deliveryInfo"].(map[string]any)["destination"].(map[string]any)
	assert.Equal(t, "/subscriptions/"+subID+"/resourceGroups/Utilities/providers/Microsoft.Storage/storageAccounts/acct", dest["resourceId"])
	assert.Equal(t, "cost-exports", dest["container"])
	assert.Equal(t, subID, dest["rootFolderPath"])

	def := props["definition"].(map[string]any)
	assert.Equal(t, "ActualCost", def["type"])
	assert.Equal(t, "Custom", def["timeframe"])
	assert.Equal(t, map[string]any{
		"from": "2024-06-01T00:00:00.000000Z",
		"to":   "2024-06-15T10:30:00.000000Z",
	}, def["timePeriod"])
}

// TestCreateOrConfigure_Scheduled tests that a scheduled export uses the schedule window
func TestCreateOrConfigure_Scheduled(t *testing.T) {
	var body exportBody
	m, _ := newManager(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = io.WriteString(w, `{"name":"Nilakandi-NTT-Export","properties":{"schedule":{"status":"Active"}}}`)
	})

	scheduleEnd := now.AddDate(0, 3, 0)
	job, err := m.CreateOrConfigure(context.Background(), Definition{SubscriptionID: subID, ScheduleEnd: scheduleEnd, Scheduled: true})
	require.NoError(t, err)

	assert.Equal(t, StateActive, job.State)
	assert.Equal(t, "Active", string(body.Properties.Schedule.Status))
	assert.Equal(t, scheduleEnd.Format(timeLayout), body.Properties.Schedule.RecurrencePeriod.To)
}

// TestCreateOrConfigure_InvalidMakesNoCall tests that validation fails before any request
func TestCreateOrConfigure_InvalidMakesNoCall(t *testing.T) {
	m, _ := newManager(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("unexpected request")
	})

	_, err := m.CreateOrConfigure(context.Background(), Definition{
		SubscriptionID: subID,
		ReportStart:    now.AddDate(0, -2, 0),
		ReportEnd:      now,
	})
	assert.True(t, ingesterr.IsPermanent(err))
}

// TestState tests the absent and active states
func TestState(t *testing.T) {
	var found atomic.Bool
	m, _ := newManager(t, func(w http.ResponseWriter, r *http.Request) {
		if !found.Load() {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, `{"properties":{"schedule":{"status":"Active"}}}`)
	})

	state, err := m.State(context.Background(), subID)
	require.NoError(t, err)
	assert.Equal(t, StateAbsent, state)

	found.Store(true)
	state, err = m.State(context.Background(), subID)
	require.NoError(t, err)
	assert.Equal(t, StateActive, state)
}

const historyJSON = `{"value":[
	{"name":"run-1","id":"/subscriptions/x/exports/e/runs/run-1","properties":{
		"manifestFile":"cost-exports/sub/Nilakandi-NTT-Export/20240101-20240131/run-1/manifest.json",
		"executionType":"OnDemand","status":"Completed",
		"submittedTime":"2024-02-01T01:02:03.1234567Z",
		"processingStartTime":"2024-02-01T01:05:00Z",
		"runSettings":{"definition":{"timePeriod":{"from":"2024-01-01T00:00:00Z","to":"2024-01-31T00:00:00Z"}}}}},
	{"name":"run-2","id":"/subscriptions/x/exports/e/runs/run-2","properties":{
		"executionType":"Scheduled","status":"Queued","processingEndTime":""}}
]}`

// TestPullHistory_MapsAndSkipsRepeats tests run mapping and insert-or-skip on re-pull
func TestPullHistory_MapsAndSkipsRepeats(t *testing.T) {
	m, s := newManager(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/exports/Nilakandi-NTT-Export/runHistory"))
		_, _ = io.WriteString(w, historyJSON)
	})
	ctx := context.Background()

	runs, err := m.PullHistory(ctx, subID)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	first := runs[0]
	assert.Equal(t, "run-1", first.ID)
	assert.Equal(t, store.RunStatusCompleted, first.Status)
	require.NotNil(t, first.SubmittedAt)
	assert.Equal(t, 2024, first.SubmittedAt.Year())
	require.NotNil(t, first.ReportFrom)
	assert.Equal(t, time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), *first.ReportTo)
	assert.Nil(t, first.ProcessingEndAt)

	second := runs[1]
	assert.Nil(t, second.SubmittedAt)
	assert.Nil(t, second.ReportFrom)

	_, err = m.PullHistory(ctx, subID)
	require.NoError(t, err)

	var n int64
	require.NoError(t, s.DB().Model(&store.ExportRun{}).Count(&n).Error)
	assert.Equal(t, int64(2), n)
}

// TestPullHistory_NotFound tests that a missing export has no history
func TestPullHistory_NotFound(t *testing.T) {
	m, _ := newManager(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	runs, err := m.PullHistory(context.Background(), subID)
	require.NoError(t, err)
	assert.Empty(t, runs)
}
