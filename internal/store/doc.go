// Package store is the relational persistence layer, built on gorm.
//
// Tables: subscriptions (root), cost_facts, export_runs, report_rows and
// marketplaces. Child tables reference their subscription (and report rows
// their export run) with ON DELETE RESTRICT foreign keys.
//
// Conflict policy per entity:
//   - Subscription: upsert on subscription_id, every field overwritten
//   - CostFact: upsert on the natural key, mutable fields refreshed
//   - ExportRun: insert-or-skip on id inside one transaction; a new id reusing
//     a known execution reference violates a unique index and aborts
//   - ReportRow: insert-or-skip on (export_run_id, source_blob, source_line)
//   - Marketplace: insert-or-skip on (subscription_id, source_id)
//
// Postgres is the production driver; github.com/glebarez/sqlite (pure Go)
// serves tests and single-node use.
package store
