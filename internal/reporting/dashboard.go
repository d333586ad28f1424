package reporting

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-freight/meridian-finance/internal/ledger"
)

// Reporting periods accepted by the dashboard API.
const (
	PeriodMTD = "MTD"
	PeriodYTD = "YTD"
)

// Window is an inclusive date range for aggregation.
type Window struct {
	Label string
	From  time.Time
	To    time.Time
}

// MonthToDate builds the window from the first of the month through asOf.
func MonthToDate(asOf time.Time) Window {
	t := asOf.UTC()
	return Window{
		Label: PeriodMTD,
		From:  time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC),
		To:    t,
	}
}

// YearToDate builds the window from January 1st through asOf.
func YearToDate(asOf time.Time) Window {
	t := asOf.UTC()
	return Window{
		Label: PeriodYTD,
		From:  time.Date(t.Year(), 1, 1, 0, 0, 0, 0, time.UTC),
		To:    t,
	}
}

// WindowFor resolves a period label to its window.
func WindowFor(period string, asOf time.Time) (Window, error) {
	switch period {
	case PeriodMTD:
		return MonthToDate(asOf), nil
	case PeriodYTD:
		return YearToDate(asOf), nil
	}
	return Window{}, fmt.Errorf("unknown reporting period %q", period)
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	u := t.UTC()
	return !u.Before(w.From) && !u.After(w.To)
}

// Snapshot is the point-in-time ledger state the engine aggregates over.
type Snapshot struct {
	Invoices []ledger.Invoice
	Expenses []ledger.CostRecord
	JobCosts []ledger.CostRecord
	Payments []ledger.Payment
}

// DashboardMetrics is the aggregate card served to dashboards. It is a
// derived, cacheable view; mutation decisions must never read it.
type DashboardMetrics struct {
	Period                 string          `json:"period"`
	AsOf                   time.Time       `json:"as_of"`
	Revenue                decimal.Decimal `json:"revenue"`
	Cost                   decimal.Decimal `json:"cost"`
	Expense                decimal.Decimal `json:"expense"`
	Profit                 decimal.Decimal `json:"profit"`
	MarginPct              float64         `json:"margin_pct"`
	DSODays                float64         `json:"dso_days"`
	OutstandingReceivables decimal.Decimal `json:"outstanding_receivables"`
	CashPosition           decimal.Decimal `json:"cash_position"`
}

// countsAsRevenue reports whether an invoice contributes to revenue:
// everything issued except drafts and cancellations.
func countsAsRevenue(inv ledger.Invoice) bool {
	switch inv.Status {
	case ledger.InvoiceStatusSent, ledger.InvoiceStatusPartiallyPaid,
		ledger.InvoiceStatusPaid, ledger.InvoiceStatusOverdue,
		ledger.InvoiceStatusDisputed:
		return true
	}
	return false
}

// revenueValue returns the signed revenue contribution of one invoice.
// Credit notes reduce revenue in the period they are issued.
func revenueValue(inv ledger.Invoice) decimal.Decimal {
	if inv.Type == ledger.InvoiceTypeCreditNote {
		return inv.Money.HomeEquivalent.Neg()
	}
	return inv.Money.HomeEquivalent
}

// ComputeMetrics aggregates a ledger snapshot into dashboard metrics for
// the given window. The function is pure: asOf and the snapshot fully
// determine the result.
func ComputeMetrics(win Window, asOf time.Time, snap Snapshot) DashboardMetrics {
	ytd := YearToDate(asOf)

	revenue := decimal.Zero
	ytdRevenue := decimal.Zero
	outstanding := decimal.Zero
	for _, inv := range snap.Invoices {
		if !countsAsRevenue(inv) {
			continue
		}
		if win.Contains(inv.IssueDate) {
			revenue = revenue.Add(revenueValue(inv))
		}
		if ytd.Contains(inv.IssueDate) {
			ytdRevenue = ytdRevenue.Add(revenueValue(inv))
		}
		outstanding = outstanding.Add(inv.Outstanding())
	}

	cost := decimal.Zero
	for _, c := range snap.JobCosts {
		if c.ApprovalStatus != ledger.ApprovalRejected && win.Contains(c.SpentAt) {
			cost = cost.Add(c.Money.HomeEquivalent)
		}
	}
	expense := decimal.Zero
	for _, e := range snap.Expenses {
		if e.ApprovalStatus != ledger.ApprovalRejected && win.Contains(e.SpentAt) {
			expense = expense.Add(e.Money.HomeEquivalent)
		}
	}

	cash := decimal.Zero
	for _, p := range snap.Payments {
		if !win.Contains(p.PaidAt) {
			continue
		}
		if p.Direction == ledger.PaymentIncoming {
			cash = cash.Add(p.Money.HomeEquivalent)
		} else {
			cash = cash.Sub(p.Money.HomeEquivalent)
		}
	}

	profit := revenue.Sub(cost)

	margin := 0.0
	if revenue.Sign() != 0 {
		margin, _ = profit.Div(revenue).Mul(decimal.NewFromInt(100)).Round(2).Float64()
	}

	dso := 0.0
	if ytdRevenue.Sign() > 0 {
		daily := ytdRevenue.Div(decimal.NewFromInt(365))
		dso, _ = outstanding.Div(daily).Round(1).Float64()
	}

	return DashboardMetrics{
		Period:                 win.Label,
		AsOf:                   asOf,
		Revenue:                revenue,
		Cost:                   cost,
		Expense:                expense,
		Profit:                 profit,
		MarginPct:              margin,
		DSODays:                dso,
		OutstandingReceivables: outstanding,
		CashPosition:           cash,
	}
}

// BreakdownRow is one labelled share of a grouped total.
type BreakdownRow struct {
	Label   string          `json:"label"`
	Amount  decimal.Decimal `json:"amount"`
	Percent float64         `json:"percent"`
}

func finishBreakdown(sums map[string]decimal.Decimal) []BreakdownRow {
	total := decimal.Zero
	for _, v := range sums {
		total = total.Add(v)
	}
	// Guard the percentage against an empty group set.
	divisor := total
	if divisor.Sign() == 0 {
		divisor = decimal.NewFromInt(1)
	}
	rows := make([]BreakdownRow, 0, len(sums))
	for label, amount := range sums {
		pct, _ := amount.Div(divisor).Mul(decimal.NewFromInt(100)).Round(2).Float64()
		rows = append(rows, BreakdownRow{Label: label, Amount: amount, Percent: pct})
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].Amount.Equal(rows[j].Amount) {
			return rows[i].Amount.GreaterThan(rows[j].Amount)
		}
		return rows[i].Label < rows[j].Label
	})
	return rows
}

// RevenueBreakdown groups windowed revenue by service type.
func RevenueBreakdown(win Window, invoices []ledger.Invoice) []BreakdownRow {
	sums := make(map[string]decimal.Decimal)
	for _, inv := range invoices {
		if !countsAsRevenue(inv) || !win.Contains(inv.IssueDate) {
			continue
		}
		sums[inv.ServiceType] = sums[inv.ServiceType].Add(revenueValue(inv))
	}
	return finishBreakdown(sums)
}

// CostBreakdown groups windowed cost records by category.
func CostBreakdown(win Window, costs []ledger.CostRecord) []BreakdownRow {
	sums := make(map[string]decimal.Decimal)
	for _, c := range costs {
		if c.ApprovalStatus == ledger.ApprovalRejected || !win.Contains(c.SpentAt) {
			continue
		}
		sums[c.Category] = sums[c.Category].Add(c.Money.HomeEquivalent)
	}
	return finishBreakdown(sums)
}
