package reporting

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-freight/meridian-finance/internal/ledger"
	"github.com/meridian-freight/meridian-finance/internal/money"
)

func issuedInvoice(amount, serviceType string, issue time.Time, status ledger.InvoiceStatus) ledger.Invoice {
	return ledger.Invoice{
		Type:        ledger.InvoiceTypeCommercial,
		CustomerID:  1,
		ServiceType: serviceType,
		Money:       money.Home(dec(amount)),
		Status:      status,
		IssueDate:   issue,
		DueDate:     issue.AddDate(0, 0, 30),
		PaidAmount:  decimal.Zero,
	}
}

func jobCost(amount, category string, spent time.Time, approval ledger.ApprovalStatus) ledger.CostRecord {
	return ledger.CostRecord{
		Kind:           ledger.CostKindJobCost,
		JobRef:         "JOB-2026-0117",
		Category:       category,
		Money:          money.Home(dec(amount)),
		ApprovalStatus: approval,
		PaymentStatus:  ledger.PaymentStateUnpaid,
		PaidAmount:     decimal.Zero,
		SpentAt:        spent,
	}
}

func TestComputeMetricsProfitAndMargin(t *testing.T) {
	asOf := date(2026, time.June, 15)
	win := MonthToDate(asOf)

	snap := Snapshot{
		Invoices: []ledger.Invoice{
			issuedInvoice("200000", "sea_freight", date(2026, time.June, 2), ledger.InvoiceStatusSent),
			issuedInvoice("178000", "air_freight", date(2026, time.June, 10), ledger.InvoiceStatusPaid),
			// Outside the window, inside YTD.
			issuedInvoice("50000", "sea_freight", date(2026, time.February, 1), ledger.InvoiceStatusPaid),
		},
		JobCosts: []ledger.CostRecord{
			jobCost("200000", "port_charges", date(2026, time.June, 5), ledger.ApprovalApproved),
			jobCost("48000", "trucking", date(2026, time.June, 8), ledger.ApprovalPending),
			jobCost("99999", "demurrage", date(2026, time.June, 9), ledger.ApprovalRejected),
		},
	}

	m := ComputeMetrics(win, asOf, snap)
	require.True(t, m.Revenue.Equal(dec("378000")), "revenue %s", m.Revenue)
	require.True(t, m.Cost.Equal(dec("248000")), "rejected costs must not count, got %s", m.Cost)
	require.True(t, m.Profit.Equal(dec("130000")))
	require.InDelta(t, 34.39, m.MarginPct, 0.001)
}

func TestComputeMetricsExcludesDraftAndCancelled(t *testing.T) {
	asOf := date(2026, time.June, 15)
	win := MonthToDate(asOf)

	snap := Snapshot{Invoices: []ledger.Invoice{
		issuedInvoice("1000", "sea_freight", date(2026, time.June, 2), ledger.InvoiceStatusDraft),
		issuedInvoice("2000", "sea_freight", date(2026, time.June, 3), ledger.InvoiceStatusCancelled),
		issuedInvoice("3000", "sea_freight", date(2026, time.June, 4), ledger.InvoiceStatusDisputed),
	}}

	m := ComputeMetrics(win, asOf, snap)
	require.True(t, m.Revenue.Equal(dec("3000")), "only the disputed invoice counts, got %s", m.Revenue)
}

func TestComputeMetricsCreditNoteReducesRevenue(t *testing.T) {
	asOf := date(2026, time.June, 15)
	win := MonthToDate(asOf)

	creditNote := issuedInvoice("10000", "sea_freight", date(2026, time.June, 5), ledger.InvoiceStatusSent)
	creditNote.Type = ledger.InvoiceTypeCreditNote

	snap := Snapshot{Invoices: []ledger.Invoice{
		issuedInvoice("50000", "sea_freight", date(2026, time.June, 2), ledger.InvoiceStatusSent),
		creditNote,
	}}

	m := ComputeMetrics(win, asOf, snap)
	require.True(t, m.Revenue.Equal(dec("40000")), "credit note must subtract, got %s", m.Revenue)
}

func TestComputeMetricsZeroRevenueGuards(t *testing.T) {
	asOf := date(2026, time.June, 15)
	m := ComputeMetrics(MonthToDate(asOf), asOf, Snapshot{})
	require.Zero(t, m.MarginPct)
	require.Zero(t, m.DSODays)
	require.True(t, m.Revenue.IsZero())
	require.True(t, m.CashPosition.IsZero())
}

func TestComputeMetricsDSO(t *testing.T) {
	asOf := date(2026, time.June, 15)
	win := YearToDate(asOf)

	open := issuedInvoice("100000", "sea_freight", date(2026, time.March, 1), ledger.InvoiceStatusOverdue)
	paid := issuedInvoice("265000", "air_freight", date(2026, time.April, 1), ledger.InvoiceStatusPaid)
	paid.PaidAmount = dec("265000")

	m := ComputeMetrics(win, asOf, Snapshot{Invoices: []ledger.Invoice{open, paid}})
	require.True(t, m.OutstandingReceivables.Equal(dec("100000")))
	// 100000 / (365000 / 365) = 100 days.
	require.InDelta(t, 100.0, m.DSODays, 0.001)
}

func TestComputeMetricsCashPosition(t *testing.T) {
	asOf := date(2026, time.June, 15)
	win := MonthToDate(asOf)

	payment := func(amount string, direction ledger.PaymentDirection, at time.Time) ledger.Payment {
		return ledger.Payment{
			Direction: direction,
			Money:     money.Home(dec(amount)),
			PaidAt:    at,
		}
	}
	snap := Snapshot{Payments: []ledger.Payment{
		payment("60000", ledger.PaymentIncoming, date(2026, time.June, 3)),
		payment("18500", ledger.PaymentOutgoing, date(2026, time.June, 7)),
		payment("99999", ledger.PaymentIncoming, date(2026, time.May, 30)),
	}}

	m := ComputeMetrics(win, asOf, snap)
	require.True(t, m.CashPosition.Equal(dec("41500")), "got %s", m.CashPosition)
}

func TestRevenueBreakdownSharesAndOrder(t *testing.T) {
	asOf := date(2026, time.June, 15)
	win := MonthToDate(asOf)

	rows := RevenueBreakdown(win, []ledger.Invoice{
		issuedInvoice("75000", "sea_freight", date(2026, time.June, 2), ledger.InvoiceStatusSent),
		issuedInvoice("25000", "air_freight", date(2026, time.June, 3), ledger.InvoiceStatusPaid),
		issuedInvoice("42000", "sea_freight", date(2026, time.May, 3), ledger.InvoiceStatusPaid),
	})
	require.Len(t, rows, 2)
	require.Equal(t, "sea_freight", rows[0].Label)
	require.InDelta(t, 75.0, rows[0].Percent, 0.001)
	require.Equal(t, "air_freight", rows[1].Label)
	require.InDelta(t, 25.0, rows[1].Percent, 0.001)
}

func TestCostBreakdownSkipsRejected(t *testing.T) {
	asOf := date(2026, time.June, 15)
	win := MonthToDate(asOf)

	rows := CostBreakdown(win, []ledger.CostRecord{
		jobCost("10000", "port_charges", date(2026, time.June, 5), ledger.ApprovalApproved),
		jobCost("10000", "port_charges", date(2026, time.June, 6), ledger.ApprovalRejected),
		jobCost("30000", "trucking", date(2026, time.June, 7), ledger.ApprovalApproved),
	})
	require.Len(t, rows, 2)
	require.Equal(t, "trucking", rows[0].Label)
	require.True(t, rows[0].Amount.Equal(dec("30000")))
	require.InDelta(t, 75.0, rows[0].Percent, 0.001)
}

func TestWindowForRejectsUnknownPeriod(t *testing.T) {
	_, err := WindowFor("QTD", date(2026, time.June, 15))
	require.Error(t, err)

	win, err := WindowFor(PeriodYTD, date(2026, time.June, 15))
	require.NoError(t, err)
	require.Equal(t, date(2026, time.January, 1), win.From)
}
