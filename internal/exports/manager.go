package exports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/costmanagement/armcostmanagement"
	"github.com/koetjeengdjalanan/nilakandi/internal/azure"
	"github.com/koetjeengdjalanan/nilakandi/internal/clock"
	"github.com/koetjeengdjalanan/nilakandi/internal/ingesterr"
	"github.com/koetjeengdjalanan/nilakandi/internal/logger"
	"github.com/koetjeengdjalanan/nilakandi/internal/provider"
	"github.com/koetjeengdjalanan/nilakandi/internal/store"
)

// State is the lifecycle state of a subscription's export job
type State string

const (
	StateAbsent   State = "absent"
	StateDefining State = "defining"
	StateActive   State = "active"
	StateInactive State = "inactive"
)

// RunWriter persists export run history
type RunWriter interface {
	InsertExportRuns(ctx context.Context, runs []store.ExportRun) (int64, error)
}

// Job is the provider's view of an export job after create-or-replace
type Job struct {
	ID    string
	Name  string
	State State
}

// Manager defines export jobs and ingests their run history
type Manager struct {
	client      *azure.Client
	endpoints   provider.Endpoints
	destination Destination
	runs        RunWriter
	clock       clock.Clock
	logger      *logger.Logger
}

// NewManager creates an export lifecycle manager
func NewManager(client *azure.Client, endpoints provider.Endpoints, dest Destination, runs RunWriter, clk clock.Clock, log *logger.Logger) *Manager {
	return &Manager{
		client:      client,
		endpoints:   endpoints,
		destination: dest,
		runs:        runs,
		clock:       clk,
		logger:      log.Named(logger.ComponentPull).WithFields("source", "cost_export"),
	}
}

type exportResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Properties struct {
		Schedule *struct {
			Status armcostmanagement.StatusType `json:"status"`
		} `json:"schedule"`
	} `json:"properties"`
}

func (r exportResponse) state() State {
	if r.Properties.Schedule != nil && r.Properties.Schedule.Status == armcostmanagement.StatusTypeActive {
		return StateActive
	}
	return StateInactive
}

// CreateOrConfigure validates def and creates or replaces the subscription's
// export job. The job name is fixed, so every call supersedes the previous
// definition.
func (m *Manager) CreateOrConfigure(ctx context.Context, def Definition) (*Job, error) {
	now := m.clock.Now()
	def = def.resolve(now)
	if err := def.Validate(); err != nil {
		return nil, err
	}

	log := m.logger.WithFields("subscription_id", def.SubscriptionID, "from", def.ReportStart, "to", def.ReportEnd)
	log.Info("Creating export", "export_name", m.endpoints.ExportName(), "scheduled", def.Scheduled, "state", StateDefining)

	var res exportResponse
	err := m.client.DoJSON(ctx, azure.Request{
		Method: http.MethodPut,
		URL:    m.endpoints.Export(provider.SubscriptionScope(def.SubscriptionID)),
		Body:   buildBody(def, m.destination, now),
	}, &res)
	if err != nil {
		log.Error("Failed to create export", "error", err)
		return nil, fmt.Errorf("create export for subscription %s: %w", def.SubscriptionID, err)
	}

	job := &Job{ID: res.ID, Name: res.Name, State: res.state()}
	log.Info("Export configured", "export_id", job.ID, "state", job.State)
	return job, nil
}

// State reports whether the subscription's export job exists and is active
func (m *Manager) State(ctx context.Context, subscriptionID string) (State, error) {
	var res exportResponse
	err := m.client.DoJSON(ctx, azure.Request{
		Method: http.MethodGet,
		URL:    m.endpoints.Export(provider.SubscriptionScope(subscriptionID)),
	}, &res)
	if isNotFound(err) {
		return StateAbsent, nil
	}
	if err != nil {
		return "", fmt.Errorf("get export for subscription %s: %w", subscriptionID, err)
	}
	return res.state(), nil
}

type runHistoryResponse struct {
	Value []runEntry `json:"value"`
}

type runEntry struct {
	Name       string        `json:"name"`
	ID         string        `json:"id"`
	Properties runProperties `json:"properties"`
}

type runProperties struct {
	ManifestFile        string          `json:"manifestFile"`
	ExecutionType       string          `json:"executionType"`
	Status              string          `json:"status"`
	SubmittedTime       string          `json:"submittedTime"`
	ProcessingStartTime string          `json:"processingStartTime"`
	ProcessingEndTime   string          `json:"processingEndTime"`
	RunSettings         json.RawMessage `json:"runSettings"`
}

type runSettings struct {
	Definition struct {
		TimePeriod *timePeriod `json:"timePeriod"`
	} `json:"definition"`
}

// PullHistory fetches the run history of the subscription's export job and
// inserts it in one transaction. A job that does not exist yet has no history.
func (m *Manager) PullHistory(ctx context.Context, subscriptionID string) ([]store.ExportRun, error) {
	log := m.logger.WithFields("subscription_id", subscriptionID)
	log.Info("Pulling export history")

	var res runHistoryResponse
	err := m.client.DoJSON(ctx, azure.Request{
		Method: http.MethodGet,
		URL:    m.endpoints.ExportRunHistory(provider.SubscriptionScope(subscriptionID)),
	}, &res)
	if isNotFound(err) {
		log.Warn("Export not found, no history to pull")
		return nil, nil
	}
	if err != nil {
		log.Error("Failed to pull export history", "error", err)
		return nil, fmt.Errorf("export history for subscription %s: %w", subscriptionID, err)
	}

	runs := make([]store.ExportRun, 0, len(res.Value))
	for _, entry := range res.Value {
		runs = append(runs, toExportRun(subscriptionID, entry))
	}
	if len(runs) == 0 {
		log.Info("Export history is empty")
		return runs, nil
	}

	written, err := m.runs.InsertExportRuns(ctx, runs)
	if err != nil {
		return nil, err
	}
	log.Info("Export history saved", "runs", len(runs), "inserted", written)
	return runs, nil
}

func toExportRun(subscriptionID string, e runEntry) store.ExportRun {
	p := e.Properties
	run := store.ExportRun{
		ID:                e.Name,
		SubscriptionID:    subscriptionID,
		ExecReference:     e.ID,
		ManifestPath:      p.ManifestFile,
		ExecutionType:     p.ExecutionType,
		Status:            p.Status,
		SubmittedAt:       parseTime(p.SubmittedTime),
		ProcessingStartAt: parseTime(p.ProcessingStartTime),
		ProcessingEndAt:   parseTime(p.ProcessingEndTime),
	}
	if len(p.RunSettings) > 0 && string(p.RunSettings) != "null" {
		run.RunSettings = []byte(p.RunSettings)
		var settings runSettings
		if err := json.Unmarshal(p.RunSettings, &settings); err == nil && settings.Definition.TimePeriod != nil {
			from := parseTime(settings.Definition.TimePeriod.From)
			to := parseTime(settings.Definition.TimePeriod.To)
			if from != nil && to != nil {
				run.ReportFrom, run.ReportTo = from, to
			}
		}
	}
	return run
}

// parseTime reads an ISO-8601 timestamp; empty or malformed values are nil
func parseTime(value string) *time.Time {
	if value == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.9999999", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func isNotFound(err error) bool {
	var perm *ingesterr.PermanentHTTPError
	return errors.As(err, &perm) && perm.StatusCode == http.StatusNotFound
}
