// Package ledger owns the receivables/payables records and their lifecycle
// rules: invoices, payments, office expenses and job costs.
package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-freight/meridian-finance/internal/money"
)

// InvoiceStatus enumerates invoice lifecycle states.
type InvoiceStatus string

const (
	InvoiceStatusDraft         InvoiceStatus = "DRAFT"
	InvoiceStatusSent          InvoiceStatus = "SENT"
	InvoiceStatusPartiallyPaid InvoiceStatus = "PARTIALLY_PAID"
	InvoiceStatusPaid          InvoiceStatus = "PAID"
	InvoiceStatusOverdue       InvoiceStatus = "OVERDUE"
	InvoiceStatusCancelled     InvoiceStatus = "CANCELLED"
	InvoiceStatusDisputed      InvoiceStatus = "DISPUTED"
)

// ParseInvoiceStatus validates a raw status string at the storage boundary.
func ParseInvoiceStatus(raw string) (InvoiceStatus, error) {
	switch s := InvoiceStatus(raw); s {
	case InvoiceStatusDraft, InvoiceStatusSent, InvoiceStatusPartiallyPaid,
		InvoiceStatusPaid, InvoiceStatusOverdue, InvoiceStatusCancelled,
		InvoiceStatusDisputed:
		return s, nil
	}
	return "", fmt.Errorf("%w: invoice status %q", ErrValidation, raw)
}

// Terminal reports whether no further status change is permitted.
func (s InvoiceStatus) Terminal() bool {
	return s == InvoiceStatusPaid || s == InvoiceStatusCancelled
}

// Payable reports whether payments may be applied in this state.
func (s InvoiceStatus) Payable() bool {
	switch s {
	case InvoiceStatusSent, InvoiceStatusPartiallyPaid, InvoiceStatusOverdue, InvoiceStatusDisputed:
		return true
	}
	return false
}

// InvoiceType enumerates invoice document types.
type InvoiceType string

const (
	InvoiceTypeProforma   InvoiceType = "PROFORMA"
	InvoiceTypeCommercial InvoiceType = "COMMERCIAL"
	InvoiceTypeCreditNote InvoiceType = "CREDIT_NOTE"
	InvoiceTypeDebitNote  InvoiceType = "DEBIT_NOTE"
)

// ParseInvoiceType validates a raw invoice type string.
func ParseInvoiceType(raw string) (InvoiceType, error) {
	switch t := InvoiceType(raw); t {
	case InvoiceTypeProforma, InvoiceTypeCommercial, InvoiceTypeCreditNote, InvoiceTypeDebitNote:
		return t, nil
	}
	return "", fmt.Errorf("%w: invoice type %q", ErrValidation, raw)
}

// Invoice model. PaidAmount accumulates in the home currency against the
// frozen HomeEquivalent of Money.
type Invoice struct {
	ID          int64
	Number      string
	Type        InvoiceType
	CustomerID  int64
	ServiceType string
	Money       money.Money
	Status      InvoiceStatus
	IssueDate   time.Time
	DueDate     time.Time
	PaidDate    *time.Time
	PaidAmount  decimal.Decimal
	CreatedBy   int64
	ApprovedBy  *int64
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Outstanding returns the unpaid home-currency balance, floored at zero.
func (inv Invoice) Outstanding() decimal.Decimal {
	out := inv.Money.HomeEquivalent.Sub(inv.PaidAmount)
	if out.Sign() < 0 {
		return decimal.Zero
	}
	return out
}

// CreateInvoiceInput carries the fields required to open a draft invoice.
type CreateInvoiceInput struct {
	Type         InvoiceType
	CustomerID   int64
	ServiceType  string
	Amount       decimal.Decimal
	Currency     string
	ExchangeRate decimal.Decimal
	IssueDate    time.Time
	DueDate      time.Time
	CreatedBy    int64
}

// UpdateInvoiceInput carries optional edits to a still-mutable invoice.
// Nil fields are left untouched; changing Amount or ExchangeRate rebuilds
// the Money value with a freshly frozen equivalent.
type UpdateInvoiceInput struct {
	ServiceType  *string
	Amount       *decimal.Decimal
	ExchangeRate *decimal.Decimal
	DueDate      *time.Time
}

// PaymentTarget enumerates which ledger entity a payment settles.
type PaymentTarget string

const (
	PaymentTargetInvoice PaymentTarget = "INVOICE"
	PaymentTargetPayable PaymentTarget = "PAYABLE"
)

// PaymentDirection enumerates cash flow direction.
type PaymentDirection string

const (
	PaymentIncoming PaymentDirection = "INCOMING"
	PaymentOutgoing PaymentDirection = "OUTGOING"
)

// Payment is an immutable cash application record. Corrections are recorded
// as new signed payments, never by editing history.
type Payment struct {
	ID         int64
	Reference  string
	TargetType PaymentTarget
	TargetID   int64
	Direction  PaymentDirection
	Money      money.Money
	Method     string
	PaidAt     time.Time
	CreatedBy  int64
	CreatedAt  time.Time
}

// ApprovalStatus enumerates internal cost approval states.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

// ParseApprovalStatus validates a raw approval status string.
func ParseApprovalStatus(raw string) (ApprovalStatus, error) {
	switch s := ApprovalStatus(raw); s {
	case ApprovalPending, ApprovalApproved, ApprovalRejected:
		return s, nil
	}
	return "", fmt.Errorf("%w: approval status %q", ErrValidation, raw)
}

// PaymentState enumerates settlement progress of a cost record.
type PaymentState string

const (
	PaymentStateUnpaid        PaymentState = "UNPAID"
	PaymentStatePartiallyPaid PaymentState = "PARTIALLY_PAID"
	PaymentStatePaid          PaymentState = "PAID"
)

// ParsePaymentState validates a raw payment state string.
func ParsePaymentState(raw string) (PaymentState, error) {
	switch s := PaymentState(raw); s {
	case PaymentStateUnpaid, PaymentStatePartiallyPaid, PaymentStatePaid:
		return s, nil
	}
	return "", fmt.Errorf("%w: payment state %q", ErrValidation, raw)
}

// CostKind distinguishes office expenses from job-attributed costs.
type CostKind string

const (
	CostKindExpense CostKind = "EXPENSE"
	CostKindJobCost CostKind = "JOB_COST"
)

// CostRecord models an internal cost (office expense or job cost). Payment
// may only progress once the record is approved.
type CostRecord struct {
	ID             int64
	Kind           CostKind
	Ref            string
	JobRef         string
	Category       string
	Money          money.Money
	ApprovalStatus ApprovalStatus
	PaymentStatus  PaymentState
	PaidAmount     decimal.Decimal
	SpentAt        time.Time
	RequestedBy    int64
	ApprovedBy     *int64
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Outstanding returns the unpaid home-currency balance, floored at zero.
func (c CostRecord) Outstanding() decimal.Decimal {
	out := c.Money.HomeEquivalent.Sub(c.PaidAmount)
	if out.Sign() < 0 {
		return decimal.Zero
	}
	return out
}

// CreateCostInput carries the fields required to register a cost record.
type CreateCostInput struct {
	Kind         CostKind
	JobRef       string
	Category     string
	Amount       decimal.Decimal
	Currency     string
	ExchangeRate decimal.Decimal
	SpentAt      time.Time
	RequestedBy  int64
}

// ListInvoicesFilter scopes invoice listings.
type ListInvoicesFilter struct {
	Status     InvoiceStatus
	CustomerID int64
	Limit      int
}
