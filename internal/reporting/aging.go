// Package reporting derives read-only views from the ledger: receivable
// aging, dashboard metrics and category breakdowns. Nothing in this package
// writes ledger state; outputs are cacheable with a short staleness bound.
package reporting

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-freight/meridian-finance/internal/ledger"
)

// AgingBucket labels how far past due an outstanding balance is.
type AgingBucket string

const (
	BucketCurrent AgingBucket = "current"
	Bucket1To30   AgingBucket = "1-30"
	Bucket31To60  AgingBucket = "31-60"
	Bucket61To90  AgingBucket = "61-90"
	Bucket90Plus  AgingBucket = "90+"
)

// daysLate counts whole days between the due date and the reference date,
// comparing calendar days in UTC so intra-day times do not shift buckets.
func daysLate(dueDate, asOf time.Time) int {
	due := dueDate.UTC().Truncate(24 * time.Hour)
	ref := asOf.UTC().Truncate(24 * time.Hour)
	return int(ref.Sub(due).Hours() / 24)
}

// Classify places an invoice's outstanding balance into an aging bucket as
// of the given date. A zero outstanding contributes nothing regardless of
// status.
func Classify(inv ledger.Invoice, asOf time.Time) (AgingBucket, decimal.Decimal) {
	outstanding := inv.Outstanding()
	switch days := daysLate(inv.DueDate, asOf); {
	case days <= 0:
		return BucketCurrent, outstanding
	case days <= 30:
		return Bucket1To30, outstanding
	case days <= 60:
		return Bucket31To60, outstanding
	case days <= 90:
		return Bucket61To90, outstanding
	default:
		return Bucket90Plus, outstanding
	}
}

// CustomerAging is one customer's share of the outstanding total.
type CustomerAging struct {
	CustomerID  int64           `json:"customer_id"`
	Outstanding decimal.Decimal `json:"outstanding"`
}

// AgingSummary totals outstanding receivables per bucket.
type AgingSummary struct {
	AsOf       time.Time       `json:"as_of"`
	Current    decimal.Decimal `json:"current"`
	Days1To30  decimal.Decimal `json:"days_1_30"`
	Days31To60 decimal.Decimal `json:"days_31_60"`
	Days61To90 decimal.Decimal `json:"days_61_90"`
	Days90Plus decimal.Decimal `json:"days_90_plus"`
	Total      decimal.Decimal `json:"total"`
	Customers  int             `json:"customers"`
	ByCustomer []CustomerAging `json:"by_customer,omitempty"`
}

// Summarize aggregates open invoices into aging buckets. Only invoices in a
// payable state with a positive outstanding balance contribute, so the
// bucket totals always sum to the overall total.
func Summarize(invoices []ledger.Invoice, asOf time.Time) AgingSummary {
	summary := AgingSummary{
		AsOf:       asOf,
		Current:    decimal.Zero,
		Days1To30:  decimal.Zero,
		Days31To60: decimal.Zero,
		Days61To90: decimal.Zero,
		Days90Plus: decimal.Zero,
		Total:      decimal.Zero,
	}
	customers := make(map[int64]decimal.Decimal)
	for _, inv := range invoices {
		if !inv.Status.Payable() {
			continue
		}
		bucket, outstanding := Classify(inv, asOf)
		if outstanding.Sign() <= 0 {
			continue
		}
		switch bucket {
		case BucketCurrent:
			summary.Current = summary.Current.Add(outstanding)
		case Bucket1To30:
			summary.Days1To30 = summary.Days1To30.Add(outstanding)
		case Bucket31To60:
			summary.Days31To60 = summary.Days31To60.Add(outstanding)
		case Bucket61To90:
			summary.Days61To90 = summary.Days61To90.Add(outstanding)
		case Bucket90Plus:
			summary.Days90Plus = summary.Days90Plus.Add(outstanding)
		}
		summary.Total = summary.Total.Add(outstanding)
		customers[inv.CustomerID] = customers[inv.CustomerID].Add(outstanding)
	}
	summary.Customers = len(customers)
	for id, outstanding := range customers {
		summary.ByCustomer = append(summary.ByCustomer, CustomerAging{CustomerID: id, Outstanding: outstanding})
	}
	sort.Slice(summary.ByCustomer, func(i, j int) bool {
		a, b := summary.ByCustomer[i], summary.ByCustomer[j]
		if !a.Outstanding.Equal(b.Outstanding) {
			return a.Outstanding.GreaterThan(b.Outstanding)
		}
		return a.CustomerID < b.CustomerID
	})
	return summary
}
