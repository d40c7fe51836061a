// Package tasks runs the ingestion stages as named, retryable units of work.
//
// A Task is a job name plus a small payload. Queues deliver tasks at least
// once: the redis queue keeps in-flight tasks in a processing list until they
// are acknowledged, and a delayed sorted set holds retries and staggered
// submissions until they are due. The Worker executes tasks on a bounded pool
// with a soft timeout (the handler's context) and a hard timeout (the worker
// gives up waiting), re-queueing failures that are worth another attempt.
package tasks
