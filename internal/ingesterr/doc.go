// Package ingesterr defines the failure taxonomy shared by the ingestion stages.
//
// Network failures split into TransientHTTPError (retried locally, then by the
// task queue) and PermanentHTTPError. IntegrityError rejects a downloaded blob,
// ValidationError drops a single record, InvalidRangeError and
// InvalidScheduleError fail fast and are never re-queued, NoDataError surfaces
// an empty provider answer and TaxonomyError stops the virtual machine report.
//
// All types are matched with errors.As; IsRetryable and IsPermanent encode the
// task queue's retry policy.
package ingesterr
