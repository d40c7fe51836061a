// Package provider names the billing provider and builds its REST endpoints.
//
// Every Azure Resource Manager URL the ingestion stages call is assembled here
// from the configured management URL and per-API versions, so the fetchers
// only deal with scopes:
//
//	ep := provider.NewEndpoints(cfg.Azure)
//	ep.CostQuery("/subscriptions/<id>")
//	// https://management.azure.com/subscriptions/<id>/providers/Microsoft.CostManagement/query?api-version=2019-11-01
//
// Scopes are resource paths such as "/subscriptions/<id>"; the export job
// lives under the scope with the fixed configured name, one per subscription.
package provider
