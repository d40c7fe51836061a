package azure

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/koetjeengdjalanan/nilakandi/internal/config"
)

// RetryPolicy decides how often and how long the client waits between attempts
type RetryPolicy struct {
	// MaxAttempts counts the first call, so 5 means at most 4 retries
	MaxAttempts int
	// DefaultWait applies when the provider does not send Retry-After
	DefaultWait time.Duration
	// Skippable statuses end the call without error; the response goes back to the caller
	Skippable map[int]bool
	// Retryable reports whether a non-skippable status is worth another attempt
	Retryable func(status int) bool
}

// NewRetryPolicy builds the policy from configuration
func NewRetryPolicy(cfg config.HTTPConfig) RetryPolicy {
	skippable := make(map[int]bool, len(cfg.SkippableStatuses))
	for _, status := range cfg.SkippableStatuses {
		skippable[status] = true
	}
	return RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		DefaultWait: cfg.RetryAfterDuration(),
		Skippable:   skippable,
		Retryable:   IsRetryableStatus,
	}
}

// IsRetryableStatus treats throttling and server faults as transient
func IsRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

// retryAfter reads the provider's wait hint. Cost Management also reports
// per-quota hints as x-ms-ratelimit-*-retry-after; the largest one wins.
func retryAfter(h http.Header, now time.Time) time.Duration {
	if d, ok := parseRetryAfter(h.Get("Retry-After"), now); ok {
		return d
	}

	var longest time.Duration
	for key, values := range h {
		lower := strings.ToLower(key)
		if !strings.HasPrefix(lower, "x-ms-ratelimit-") || !strings.HasSuffix(lower, "retry-after") {
			continue
		}
		for _, v := range values {
			if d, ok := parseRetryAfter(v, now); ok && d > longest {
				longest = d
			}
		}
	}
	return longest
}

// parseRetryAfter accepts delay-seconds or an HTTP date
func parseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs * float64(time.Second)), true
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d, true
		}
		return 0, true
	}
	return 0, false
}

// hintedBackOff is a backoff.BackOff whose next wait is set by the last
// response. It falls back to a fixed wait when no hint was given.
type hintedBackOff struct {
	fallback time.Duration
	hint     time.Duration
}

func (b *hintedBackOff) NextBackOff() time.Duration {
	if b.hint > 0 {
		d := b.hint
		b.hint = 0
		return d
	}
	return b.fallback
}

func (b *hintedBackOff) Reset() {
	b.hint = 0
}
