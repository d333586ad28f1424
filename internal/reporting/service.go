package reporting

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/meridian-freight/meridian-finance/internal/ledger"
)

// Repository is the read-only snapshot port over the ledger store.
type Repository interface {
	SnapshotInvoices(ctx context.Context) ([]ledger.Invoice, error)
	SnapshotCosts(ctx context.Context, kind ledger.CostKind) ([]ledger.CostRecord, error)
	SnapshotPayments(ctx context.Context, from, to time.Time) ([]ledger.Payment, error)
}

// Service coordinates reporting queries with the cache layer. Concurrent
// misses for the same key collapse into one snapshot load.
type Service struct {
	repo  Repository
	cache *Cache
	group singleflight.Group
}

// NewService wires a Repository with a Cache helper.
func NewService(repo Repository, cache *Cache) *Service {
	return &Service{repo: repo, cache: cache}
}

func (s *Service) fetch(ctx context.Context, keyBase string, dest interface{}, loader func(context.Context) (interface{}, error)) error {
	collapsed := func(ctx context.Context) (interface{}, error) {
		value, err, _ := s.group.Do(keyBase, func() (interface{}, error) {
			return loader(ctx)
		})
		return value, err
	}
	if s.cache == nil {
		return (&Cache{}).FetchJSON(ctx, keyBase, dest, collapsed)
	}
	key, err := s.cache.BuildKey(ctx, keyBase)
	if err != nil {
		return err
	}
	return s.cache.FetchJSON(ctx, key, dest, collapsed)
}

// GetAgingSummary computes the receivable aging view as of the given date.
func (s *Service) GetAgingSummary(ctx context.Context, asOf time.Time) (AgingSummary, error) {
	if asOf.IsZero() {
		return AgingSummary{}, fmt.Errorf("reporting: as-of date required")
	}
	loader := func(ctx context.Context) (interface{}, error) {
		invoices, err := s.repo.SnapshotInvoices(ctx)
		if err != nil {
			return nil, err
		}
		return Summarize(invoices, asOf), nil
	}
	var summary AgingSummary
	if err := s.fetch(ctx, keyAging(asOf), &summary, loader); err != nil {
		return AgingSummary{}, err
	}
	return summary, nil
}

// GetDashboardMetrics resolves the metric card for MTD or YTD.
func (s *Service) GetDashboardMetrics(ctx context.Context, period string, asOf time.Time) (DashboardMetrics, error) {
	win, err := WindowFor(period, asOf)
	if err != nil {
		return DashboardMetrics{}, err
	}
	loader := func(ctx context.Context) (interface{}, error) {
		snap, err := s.snapshot(ctx, win)
		if err != nil {
			return nil, err
		}
		return ComputeMetrics(win, asOf, snap), nil
	}
	var metrics DashboardMetrics
	if err := s.fetch(ctx, keyDashboard(period, asOf), &metrics, loader); err != nil {
		return DashboardMetrics{}, err
	}
	return metrics, nil
}

// GetRevenueBreakdown groups windowed revenue by service type.
func (s *Service) GetRevenueBreakdown(ctx context.Context, period string, asOf time.Time) ([]BreakdownRow, error) {
	win, err := WindowFor(period, asOf)
	if err != nil {
		return nil, err
	}
	loader := func(ctx context.Context) (interface{}, error) {
		invoices, err := s.repo.SnapshotInvoices(ctx)
		if err != nil {
			return nil, err
		}
		return RevenueBreakdown(win, invoices), nil
	}
	var rows []BreakdownRow
	if err := s.fetch(ctx, keyBreakdown("revenue", period, asOf), &rows, loader); err != nil {
		return nil, err
	}
	return rows, nil
}

// GetCostBreakdown groups windowed job costs by category.
func (s *Service) GetCostBreakdown(ctx context.Context, period string, asOf time.Time) ([]BreakdownRow, error) {
	return s.costBreakdown(ctx, "cost", ledger.CostKindJobCost, period, asOf)
}

// GetExpenseBreakdown groups windowed office expenses by category.
func (s *Service) GetExpenseBreakdown(ctx context.Context, period string, asOf time.Time) ([]BreakdownRow, error) {
	return s.costBreakdown(ctx, "expense", ledger.CostKindExpense, period, asOf)
}

func (s *Service) costBreakdown(ctx context.Context, label string, kind ledger.CostKind, period string, asOf time.Time) ([]BreakdownRow, error) {
	win, err := WindowFor(period, asOf)
	if err != nil {
		return nil, err
	}
	loader := func(ctx context.Context) (interface{}, error) {
		costs, err := s.repo.SnapshotCosts(ctx, kind)
		if err != nil {
			return nil, err
		}
		return CostBreakdown(win, costs), nil
	}
	var rows []BreakdownRow
	if err := s.fetch(ctx, keyBreakdown(label, period, asOf), &rows, loader); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Service) snapshot(ctx context.Context, win Window) (Snapshot, error) {
	invoices, err := s.repo.SnapshotInvoices(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	expenses, err := s.repo.SnapshotCosts(ctx, ledger.CostKindExpense)
	if err != nil {
		return Snapshot{}, err
	}
	jobCosts, err := s.repo.SnapshotCosts(ctx, ledger.CostKindJobCost)
	if err != nil {
		return Snapshot{}, err
	}
	payments, err := s.repo.SnapshotPayments(ctx, win.From, win.To)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		Invoices: invoices,
		Expenses: expenses,
		JobCosts: jobCosts,
		Payments: payments,
	}, nil
}
