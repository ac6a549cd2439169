package jobs

import (
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskDashboardWarmup rebuilds the cached dashboard summary.
	TaskDashboardWarmup = "dashboard:warmup"
	// TaskLedgerReconcile scans customer ledgers for inconsistencies.
	TaskLedgerReconcile = "ledger:reconcile"
)

// NewDashboardWarmupTask constructs the warmup task. It carries no payload.
func NewDashboardWarmupTask() *asynq.Task {
	return asynq.NewTask(TaskDashboardWarmup, nil)
}

// NewLedgerReconcileTask constructs the reconciliation task.
func NewLedgerReconcileTask() *asynq.Task {
	return asynq.NewTask(TaskLedgerReconcile, nil)
}
