// Package collector implements a Prometheus collector for the ingestion pipeline.
//
// The collector observes the worker pool and the provider client and exposes:
//   - nilakandi_tasks_total: finished tasks by task and outcome
//   - nilakandi_task_duration_seconds: task execution time by task
//   - nilakandi_task_items_total: summary counts (rows, pages, blobs...) by task and kind
//   - nilakandi_http_retries_total: retried provider calls by status (0 = connection failure)
//   - nilakandi_last_task_timestamp_seconds: end of the last run of each task
//   - nilakandi_last_task_success: whether the last run of each task succeeded
//   - nilakandi_queue_tasks: ready, delayed and in-flight tasks, read at scrape time
//   - nilakandi_build_info: build version information
//
// Example usage:
//
//	c := collector.NewIngestCollector(queue, log)
//	prometheus.MustRegister(c)
//	client := azure.NewClient(cfg.HTTP, tokens, log, azure.WithRetryObserver(c.ObserveRetry))
//	worker := tasks.NewWorker(queue, cfg.Tasks, clk, log, tasks.WithObserver(c))
package collector
