package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/koetjeengdjalanan/nilakandi/internal/blobimport"
	"github.com/oklog/ulid/v2"
)

// Name identifies a job
type Name string

// Jobs known to the worker
const (
	SyncSubscriptions  Name = "sync_subscriptions"
	FetchServices      Name = "fetch_services"
	FetchMarketplaces  Name = "fetch_marketplaces"
	FetchExportHistory Name = "fetch_export_history"
	FetchBlobs         Name = "fetch_blobs"
	ProcessBlob        Name = "process_blob"
)

// Payload carries the arguments of a job. Credentials are never part of it;
// the worker injects its own clients.
type Payload struct {
	SubscriptionID string                     `json:"subscription_id,omitempty"`
	Start          *time.Time                 `json:"start,omitempty"`
	End            *time.Time                 `json:"end,omitempty"`
	ExportRunID    string                     `json:"export_run_id,omitempty"`
	Blob           *blobimport.BlobDescriptor `json:"blob,omitempty"`
}

// Window returns a payload for subscriptionID covering [start, end]
func Window(subscriptionID string, start, end time.Time) Payload {
	return Payload{SubscriptionID: subscriptionID, Start: &start, End: &end}
}

// Task is one queued execution of a job
type Task struct {
	ID         string    `json:"id"`
	Name       Name      `json:"name"`
	Payload    Payload   `json:"payload"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`

	// raw is the encoded form the queue handed out, needed to acknowledge it
	raw string
}

// New creates a first attempt of job name
func New(name Name, payload Payload, now time.Time) Task {
	return Task{
		ID:         ulid.Make().String(),
		Name:       name,
		Payload:    payload,
		EnqueuedAt: now.UTC(),
	}
}

// Retry returns the next attempt of t
func (t Task) Retry(now time.Time) Task {
	next := t
	next.Attempt++
	next.EnqueuedAt = now.UTC()
	next.raw = ""
	return next
}

func (t Task) encode() (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("failed to encode task %s: %w", t.ID, err)
	}
	return string(data), nil
}

func decodeTask(raw string) (Task, error) {
	var t Task
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return Task{}, fmt.Errorf("failed to decode task: %w", err)
	}
	t.raw = raw
	return t, nil
}

// Summary is the small observability record every job returns
type Summary struct {
	Task             Name             `json:"task"`
	SubscriptionID   string           `json:"subscription_id,omitempty"`
	SubscriptionName string           `json:"subscription_name,omitempty"`
	Start            *time.Time       `json:"start,omitempty"`
	End              *time.Time       `json:"end,omitempty"`
	Counts           map[string]int64 `json:"counts,omitempty"`
}

func newSummary(name Name, p Payload) Summary {
	return Summary{
		Task:           name,
		SubscriptionID: p.SubscriptionID,
		Start:          p.Start,
		End:            p.End,
		Counts:         map[string]int64{},
	}
}
