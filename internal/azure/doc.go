// Package azure provides the authenticated, rate-limit aware HTTP client used
// for every Azure Resource Manager call.
//
// The client handles:
//   - Bearer authentication from an azidentity credential (service principal
//     or the default credential chain)
//   - Retry with github.com/cenkalti/backoff/v4, waiting for the provider's
//     Retry-After hint or a fixed default between attempts
//   - A configurable set of skippable statuses that end the call without
//     error so the caller can decide what they mean
//   - Lazy nextLink pagination through Pages
//
// Failures are reported with the types from internal/ingesterr: throttling,
// 5xx and connection failures as TransientHTTPError once the attempts are
// spent, everything else as PermanentHTTPError.
//
// Example usage:
//
//	cred, _ := azure.NewCredential(cfg.Azure)
//	client := azure.NewClient(cfg.HTTP, azure.NewCredentialTokenSource(cred), log)
//
//	var out struct{ Value []json.RawMessage }
//	err := client.DoJSON(ctx, azure.Request{Method: http.MethodGet, URL: url}, &out)
package azure
