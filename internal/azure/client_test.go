package azure

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koetjeengdjalanan/nilakandi/internal/clock"
	"github.com/koetjeengdjalanan/nilakandi/internal/config"
	"github.com/koetjeengdjalanan/nilakandi/internal/ingesterr"
	"github.com/koetjeengdjalanan/nilakandi/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testLogger creates a logger for testing (error level to suppress test output)
func testLogger() *logger.Logger {
	return logger.New("error")
}

func testHTTPConfig() config.HTTPConfig {
	return config.HTTPConfig{
		MaxAttempts:       5,
		RetryAfter:        20,
		SkippableStatuses: config.DefaultSkippableStatuses,
		Timeout:           5,
	}
}

func newTestClient(clk *clock.FakeClock, opts ...Option) *Client {
	opts = append([]Option{WithClock(clk)}, opts...)
	return NewClient(testHTTPConfig(), StaticToken("test-token"), testLogger(), opts...)
}

// TestDo_RetryAfterHonoured tests that a 429 waits for the advertised seconds and then succeeds
func TestDo_RetryAfterHonoured(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	clk := clock.NewFakeClock(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	var retried []int
	client := newTestClient(clk, WithRetryObserver(func(status int) { retried = append(retried, status) }))

	var out struct{ OK bool }
	err := client.DoJSON(context.Background(), Request{Method: http.MethodGet, URL: srv.URL}, &out)
	require.NoError(t, err)

	assert.True(t, out.OK)
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, []time.Duration{3 * time.Second}, clk.Sleeps())
	assert.Equal(t, []int{http.StatusTooManyRequests}, retried)
}

// TestDo_ExhaustsAttemptsWithDefaultWait tests the fixed wait and the attempt cap
func TestDo_ExhaustsAttemptsWithDefaultWait(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	clk := clock.NewFakeClock(time.Now())
	client := newTestClient(clk)

	_, err := client.Do(context.Background(), Request{Method: http.MethodGet, URL: srv.URL})
	require.Error(t, err)

	var transient *ingesterr.TransientHTTPError
	require.True(t, errors.As(err, &transient), "want TransientHTTPError, got %T", err)
	assert.Equal(t, http.StatusServiceUnavailable, transient.StatusCode)
	assert.Equal(t, int32(5), hits.Load())
	assert.Equal(t, []time.Duration{20 * time.Second, 20 * time.Second, 20 * time.Second, 20 * time.Second}, clk.Sleeps())
}

// TestDo_SkippableStatusReturned tests that skippable statuses come back without retry
func TestDo_SkippableStatusReturned(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":"NotFound"}}`))
	}))
	defer srv.Close()

	client := newTestClient(clock.NewFakeClock(time.Now()))

	resp, err := client.Do(context.Background(), Request{Method: http.MethodGet, URL: srv.URL})
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, int32(1), hits.Load())

	err = client.DoJSON(context.Background(), Request{Method: http.MethodGet, URL: srv.URL}, nil)
	var permanent *ingesterr.PermanentHTTPError
	require.True(t, errors.As(err, &permanent))
	assert.Equal(t, http.StatusNotFound, permanent.StatusCode)
	assert.Contains(t, permanent.Body, "NotFound")
	assert.Equal(t, int32(2), hits.Load())
}

// TestDo_PermanentStatusNotRetried tests that non-skippable client errors fail at once
func TestDo_PermanentStatusNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	clk := clock.NewFakeClock(time.Now())
	client := newTestClient(clk)

	_, err := client.Do(context.Background(), Request{Method: http.MethodPost, URL: srv.URL, Body: map[string]string{"a": "b"}})
	var permanent *ingesterr.PermanentHTTPError
	require.True(t, errors.As(err, &permanent))
	assert.Equal(t, http.StatusUnprocessableEntity, permanent.StatusCode)
	assert.Equal(t, int32(1), hits.Load())
	assert.Empty(t, clk.Sleeps())
}

// TestDo_ReplaysBodyAndAuth tests that each attempt carries the token and the full body
func TestDo_ReplaysBodyAndAuth(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []string
		auths  []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(data))
		auths = append(auths, r.Header.Get("Authorization"))
		n := len(bodies)
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := newTestClient(clock.NewFakeClock(time.Now()))
	err := client.DoJSON(context.Background(), Request{Method: http.MethodPost, URL: srv.URL, Body: map[string]int{"n": 1}}, nil)
	require.NoError(t, err)

	require.Len(t, bodies, 3)
	for i := range bodies {
		assert.JSONEq(t, `{"n":1}`, bodies[i])
		assert.Equal(t, "Bearer test-token", auths[i])
	}
}

// TestDo_ConnectionFailureIsTransient tests that a dead endpoint is retried and reported as transient
func TestDo_ConnectionFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	clk := clock.NewFakeClock(time.Now())
	client := newTestClient(clk, WithRetryPolicy(RetryPolicy{MaxAttempts: 2, DefaultWait: time.Second, Retryable: IsRetryableStatus}))

	_, err := client.Do(context.Background(), Request{Method: http.MethodGet, URL: url})
	var transient *ingesterr.TransientHTTPError
	require.True(t, errors.As(err, &transient), "want TransientHTTPError, got %v", err)
	assert.Equal(t, 0, transient.StatusCode)
	assert.True(t, ingesterr.IsRetryable(err))
	assert.Equal(t, []time.Duration{time.Second}, clk.Sleeps())
}

// TestDo_TokenFailureNotRetried tests that credential errors fail without waiting
func TestDo_TokenFailureNotRetried(t *testing.T) {
	clk := clock.NewFakeClock(time.Now())
	client := NewClient(testHTTPConfig(), failingToken{}, testLogger(), WithClock(clk))

	_, err := client.Do(context.Background(), Request{Method: http.MethodGet, URL: "http://127.0.0.1:1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no credential")
	assert.Empty(t, clk.Sleeps())
}

type failingToken struct{}

func (failingToken) Token(context.Context) (string, error) {
	return "", errors.New("no credential")
}

// TestRetryAfter tests parsing of the standard and the Cost Management throttling headers
func TestRetryAfter(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		header http.Header
		want   time.Duration
	}{
		{"seconds", http.Header{"Retry-After": {"7"}}, 7 * time.Second},
		{"http date", http.Header{"Retry-After": {now.Add(30 * time.Second).Format(http.TimeFormat)}}, 30 * time.Second},
		{"garbage", http.Header{"Retry-After": {"soon"}}, 0},
		{"absent", http.Header{}, 0},
		{"cost management quota", http.Header{
			"X-Ms-Ratelimit-Microsoft.costmanagement-Qpu-Retry-After":    {"12"},
			"X-Ms-Ratelimit-Microsoft.costmanagement-Entity-Retry-After": {"40"},
		}, 40 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, retryAfter(tt.header, now))
		})
	}
}

// TestPages tests that nextLink is followed until exhausted and the sequence is restartable
func TestPages(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		next := ""
		switch page {
		case "":
			next = srv.URL + "/?page=2"
		case "2":
			next = srv.URL + "/?page=3"
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"page": page, "nextLink": next})
	}))
	defer srv.Close()

	type listing struct {
		Page     string `json:"page"`
		NextLink string `json:"nextLink"`
	}
	client := newTestClient(clock.NewFakeClock(time.Now()))
	seq := Pages(context.Background(), client, http.MethodGet, srv.URL+"/", nil, func(p *listing) string { return p.NextLink })

	for round := 0; round < 2; round++ {
		var pages []string
		for page, err := range seq {
			require.NoError(t, err)
			pages = append(pages, page.Page)
		}
		assert.Equal(t, []string{"", "2", "3"}, pages)
	}
}

// TestPages_StopsOnError tests that the first failure ends the sequence
func TestPages_StopsOnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	client := newTestClient(clock.NewFakeClock(time.Now()))
	var errs int
	for page, err := range Pages(context.Background(), client, http.MethodGet, srv.URL, nil, func(p *struct{}) string { return "" }) {
		assert.Nil(t, page)
		assert.Error(t, err)
		errs++
	}
	assert.Equal(t, 1, errs)
}
