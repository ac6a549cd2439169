package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/meshworks/backoffice/internal/jobs"
	"github.com/meshworks/backoffice/internal/ledger"
)

// Reconciler reports ledger rows that break referential or payment rules.
type Reconciler interface {
	Reconcile(ctx context.Context) ([]ledger.Finding, error)
}

// LedgerReconcileJob logs and counts inconsistent customer ledgers. It never
// repairs them.
type LedgerReconcileJob struct {
	Ledger  Reconciler
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewLedgerReconcileJob wires dependencies for the reconcile handler.
func NewLedgerReconcileJob(l Reconciler, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerReconcileJob {
	return &LedgerReconcileJob{Ledger: l, Logger: logger, Metrics: metrics}
}

// Handle processes ledger reconcile tasks.
func (j *LedgerReconcileJob) Handle(ctx context.Context, _ *asynq.Task) (resultErr error) {
	if j == nil || j.Ledger == nil {
		return errors.New("ledger reconcile: handler not configured")
	}
	m := metricsOrDefault(j.Metrics)
	tracker := m.Track(TaskLedgerReconcile)
	defer func() { resultErr = tracker.End(resultErr) }()

	logger := jobLogger(j.Logger, TaskLedgerReconcile)
	findings, err := j.Ledger.Reconcile(ctx)
	if err != nil {
		logger.Error("ledger reconcile failed", slog.Any("error", err))
		return err
	}
	counts := map[string]int{}
	for _, f := range findings {
		counts[f.Kind]++
		logger.Warn("ledger inconsistency",
			slog.String("customer", f.CustomerID),
			slog.String("kind", f.Kind),
			slog.String("ref", f.Ref))
	}
	for kind, n := range counts {
		m.AddFindings(kind, n)
	}
	logger.Info("ledger reconcile completed", slog.Int("findings", len(findings)))
	return nil
}
