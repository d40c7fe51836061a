// Package exports manages the per-subscription scheduled cost export.
//
// Each subscription owns exactly one export job with a fixed name. The job
// moves from absent through defining to active or inactive; reconfiguring it
// always replaces the previous definition. Run history is pulled into
// export_runs so the blob importer can find each run's manifest.
package exports
