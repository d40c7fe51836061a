package subscriptions

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
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

func newSyncer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, base string)) (*Syncer, *store.Store) {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler(w, r, srv.URL)
	}))
	t.Cleanup(srv.Close)

	log := logger.New("error")
	client := azure.NewClient(config.HTTPConfig{MaxAttempts: 1, RetryAfter: 1, Timeout: 5}, azure.StaticToken("t"), log,
		azure.WithClock(clock.NewFakeClock(time.Now())))
	s := storetest.New(t)
	endpoints := provider.NewEndpoints(config.AzureConfig{ManagementURL: srv.URL, SubscriptionAPIVersion: "2022-12-01"})
	return NewSyncer(client, endpoints, s, log), s
}

// TestSync_PagesAndUpserts tests the paged listing and create-or-update by id
func TestSync_PagesAndUpserts(t *testing.T) {
	syncer, s := newSyncer(t, func(w http.ResponseWriter, r *http.Request, base string) {
		assert.Equal(t, "/subscriptions", r.URL.Path)
		if r.URL.Query().Get("page") == "2" {
			_, _ = io.WriteString(w, `{"value":[{"id":"/subscriptions/BBBBBBBB-0000-0000-0000-000000000002","subscriptionId":"BBBBBBBB-0000-0000-0000-000000000002","displayName":"dev","state":"Disabled"},{"subscriptionId":"not-a-uuid"}]}`)
			return
		}
		_, _ = io.WriteString(w, `{"value":[{"id":"/subscriptions/aaaaaaaa-0000-0000-0000-000000000001","subscriptionId":"aaaaaaaa-0000-0000-0000-000000000001","displayName":"prod","state":"Enabled","tenantId":"tenant","subscriptionPolicies":{"spendingLimit":"Off"}}],"nextLink":"`+base+`/subscriptions?page=2"}`)
	})
	ctx := context.Background()

	subs, err := syncer.Sync(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, "bbbbbbbb-0000-0000-0000-000000000002", subs[1].SubscriptionID)

	stored, err := s.GetSubscription(ctx, "aaaaaaaa-0000-0000-0000-000000000001")
	require.NoError(t, err)
	assert.Equal(t, "prod", stored.DisplayName)
	assert.JSONEq(t, `{"spendingLimit":"Off"}`, string(stored.Policies))

	_, err = syncer.Sync(ctx)
	require.NoError(t, err)
	all, err := s.ListSubscriptions(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

// TestSync_EmptyIsNoData tests that zero subscriptions is surfaced as an error
func TestSync_EmptyIsNoData(t *testing.T) {
	syncer, _ := newSyncer(t, func(w http.ResponseWriter, r *http.Request, base string) {
		_, _ = io.WriteString(w, `{"value":[]}`)
	})

	_, err := syncer.Sync(context.Background())
	var noData *ingesterr.NoDataError
	assert.ErrorAs(t, err, &noData)
}
