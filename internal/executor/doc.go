// Package executor consumes jobs from the queue and runs the handler for
// each job kind: process_task drives a task through its lifecycle,
// send_email delivers a notification and records the outcome, and
// cleanup_old_tasks enforces task retention.
//
// Delivery is at least once. Handlers tolerate duplicate and stale
// deliveries by checking the task's current status and attempt count and
// by persisting with compare-and-set, so a repeated job never moves a task
// backwards.
package executor
