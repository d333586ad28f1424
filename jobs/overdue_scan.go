package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-freight/meridian-finance/internal/ledger"
)

// OverdueScanJob advances SENT and PARTIALLY_PAID invoices past their due
// date to OVERDUE. Running it twice in a row is a no-op the second time.
type OverdueScanJob struct {
	invoices *ledger.InvoiceService
	logger   *slog.Logger
}

// NewOverdueScanJob wires the scan against the invoice service.
func NewOverdueScanJob(invoices *ledger.InvoiceService, logger *slog.Logger) *OverdueScanJob {
	return &OverdueScanJob{invoices: invoices, logger: logger}
}

// Handle processes one TaskOverdueScan task.
func (j *OverdueScanJob) Handle(ctx context.Context, _ *asynq.Task) error {
	start := time.Now()
	count, err := j.invoices.ReevaluateOverdue(ctx, time.Now().UTC())
	if err != nil {
		j.logger.Error("overdue scan failed", slog.Any("error", err))
		return err
	}
	j.logger.Info("overdue scan finished",
		slog.Int64("marked", count),
		slog.Duration("took", time.Since(start)))
	return nil
}
