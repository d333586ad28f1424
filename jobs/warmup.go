package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-freight/meridian-finance/internal/reporting"
)

// DashboardWarmupJob precomputes the aggregates dashboards ask for first
// thing, so the morning traffic hits a warm cache.
type DashboardWarmupJob struct {
	reports *reporting.Service
	logger  *slog.Logger
}

// NewDashboardWarmupJob wires the warmup against the reporting service.
func NewDashboardWarmupJob(reports *reporting.Service, logger *slog.Logger) *DashboardWarmupJob {
	return &DashboardWarmupJob{reports: reports, logger: logger}
}

// Handle processes one TaskDashboardWarmup task.
func (j *DashboardWarmupJob) Handle(ctx context.Context, _ *asynq.Task) error {
	asOf := time.Now().UTC()
	for _, period := range []string{reporting.PeriodMTD, reporting.PeriodYTD} {
		if _, err := j.reports.GetDashboardMetrics(ctx, period, asOf); err != nil {
			j.logger.Warn("dashboard warmup failed",
				slog.String("period", period), slog.Any("error", err))
			return err
		}
	}
	if _, err := j.reports.GetAgingSummary(ctx, asOf); err != nil {
		j.logger.Warn("aging warmup failed", slog.Any("error", err))
		return err
	}
	j.logger.Info("reporting cache warmed", slog.Time("as_of", asOf))
	return nil
}
