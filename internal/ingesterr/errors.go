package ingesterr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// TransientHTTPError is a provider call that may succeed if repeated: 429, 5xx
// or a connection-level failure (StatusCode 0).
type TransientHTTPError struct {
	Method     string
	URL        string
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *TransientHTTPError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("transient failure calling %s %s: %v", e.Method, e.URL, e.Err)
	}
	return fmt.Sprintf("transient HTTP %d from %s %s", e.StatusCode, e.Method, e.URL)
}

func (e *TransientHTTPError) Unwrap() error { return e.Err }

// PermanentHTTPError is a non-2xx answer that repeating the call will not fix
type PermanentHTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *PermanentHTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("HTTP %d from %s %s: %s", e.StatusCode, e.Method, e.URL, e.Body)
	}
	return fmt.Sprintf("HTTP %d from %s %s", e.StatusCode, e.Method, e.URL)
}

// IntegrityError reports a downloaded blob whose content hash differs from the server's
type IntegrityError struct {
	BlobPath string
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("checksum mismatch for blob %s: expected %s, computed %s", e.BlobPath, e.Expected, e.Actual)
}

// ValidationError is a single record that does not fit the target schema
type ValidationError struct {
	Record int
	Field  string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("record %d: field %s: %v", e.Record, e.Field, e.Err)
	}
	return fmt.Sprintf("record %d: %v", e.Record, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// InvalidRangeError is a query window that is reversed or longer than allowed
type InvalidRangeError struct {
	Start  time.Time
	End    time.Time
	Reason string
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid range %s..%s: %s", e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339), e.Reason)
}

// InvalidScheduleError is an export definition with an unusable schedule or report window
type InvalidScheduleError struct {
	Reason string
}

func (e *InvalidScheduleError) Error() string {
	return "invalid export schedule: " + e.Reason
}

// NoDataError is an empty provider answer where data was expected
type NoDataError struct {
	What string
}

func (e *NoDataError) Error() string {
	return "no data: " + e.What
}

// TaxonomyError is a resource the virtual machine report cannot classify
type TaxonomyError struct {
	ResourceID string
}

func (e *TaxonomyError) Error() string {
	return fmt.Sprintf("resource %q matches no known resource type", e.ResourceID)
}

// IsRetryable reports whether err is worth repeating the whole unit of work for
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var transient *TransientHTTPError
	if errors.As(err, &transient) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsPermanent reports whether err is a caller or configuration problem that
// no amount of retrying will fix
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	var (
		rangeErr    *InvalidRangeError
		scheduleErr *InvalidScheduleError
		validErr    *ValidationError
		taxErr      *TaxonomyError
	)
	return errors.As(err, &rangeErr) ||
		errors.As(err, &scheduleErr) ||
		errors.As(err, &validErr) ||
		errors.As(err, &taxErr)
}
