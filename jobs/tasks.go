// Package jobs holds the background task definitions and the Asynq worker
// that runs them: the nightly overdue status scan and the reporting cache
// warmup.
package jobs

import (
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskOverdueScan flips past-due open invoices to OVERDUE.
	TaskOverdueScan = "ledger:overdue_scan"

	// TaskDashboardWarmup primes the reporting cache for the common views.
	TaskDashboardWarmup = "reporting:warmup"
)

// NewOverdueScanTask constructs the overdue scan task. The scan takes no
// payload; it always evaluates against the wall clock at execution time.
func NewOverdueScanTask() *asynq.Task {
	return asynq.NewTask(TaskOverdueScan, nil)
}

// NewDashboardWarmupTask constructs the cache warmup task.
func NewDashboardWarmupTask() *asynq.Task {
	return asynq.NewTask(TaskDashboardWarmup, nil)
}
