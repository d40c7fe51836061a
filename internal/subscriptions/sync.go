package subscriptions

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/koetjeengdjalanan/nilakandi/internal/azure"
	"github.com/koetjeengdjalanan/nilakandi/internal/ingesterr"
	"github.com/koetjeengdjalanan/nilakandi/internal/logger"
	"github.com/koetjeengdjalanan/nilakandi/internal/provider"
	"github.com/koetjeengdjalanan/nilakandi/internal/store"
)

// Writer persists subscriptions
type Writer interface {
	UpsertSubscriptions(ctx context.Context, subs []store.Subscription) (int64, error)
}

// Syncer mirrors the subscriptions visible to the credential into the store
type Syncer struct {
	client    *azure.Client
	endpoints provider.Endpoints
	writer    Writer
	logger    *logger.Logger
}

// NewSyncer creates a subscription syncer
func NewSyncer(client *azure.Client, endpoints provider.Endpoints, writer Writer, log *logger.Logger) *Syncer {
	return &Syncer{
		client:    client,
		endpoints: endpoints,
		writer:    writer,
		logger:    log.Named(logger.ComponentPull).WithFields("source", "subscriptions"),
	}
}

type listResponse struct {
	Value    []store.Subscription `json:"value"`
	NextLink string               `json:"nextLink"`
}

// List enumerates every subscription visible to the credential
func (s *Syncer) List(ctx context.Context) ([]store.Subscription, error) {
	var subs []store.Subscription
	next := func(r *listResponse) string { return r.NextLink }
	for page, err := range azure.Pages(ctx, s.client, http.MethodGet, s.endpoints.Subscriptions(), nil, next) {
		if err != nil {
			return nil, fmt.Errorf("list subscriptions: %w", err)
		}
		for _, sub := range page.Value {
			id, err := uuid.Parse(sub.SubscriptionID)
			if err != nil {
				s.logger.Warn("Ignoring subscription with invalid id", "subscription_id", sub.SubscriptionID, "error", err)
				continue
			}
			sub.SubscriptionID = id.String()
			if sub.ResourcePath == "" {
				sub.ResourcePath = provider.SubscriptionScope(sub.SubscriptionID)
			}
			subs = append(subs, sub)
		}
	}
	return subs, nil
}

// Sync lists subscriptions and upserts them by id. An empty listing is a
// NoDataError: the credential most likely lacks access.
func (s *Syncer) Sync(ctx context.Context) ([]store.Subscription, error) {
	subs, err := s.List(ctx)
	if err != nil {
		s.logger.Error("Failed to list subscriptions", "error", err)
		return nil, err
	}
	if len(subs) == 0 {
		return nil, &ingesterr.NoDataError{What: "no subscriptions visible to the configured credential"}
	}

	written, err := s.writer.UpsertSubscriptions(ctx, subs)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Subscriptions synced", "count", len(subs), "written", written)
	return subs, nil
}
