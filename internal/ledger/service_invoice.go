package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-freight/meridian-finance/internal/money"
)

// CacheInvalidator bumps the reporting cache after a mutation that can
// change aggregates. A nil invalidator is a no-op.
type CacheInvalidator interface {
	Bump(ctx context.Context) error
}

// conflictRetries bounds how often a mutation is retried after a
// serialization conflict before ErrConcurrentModification surfaces.
const conflictRetries = 3

// InvoiceService validates and applies invoice state transitions and
// payment application. It is the only component allowed to write invoice
// status and paid amounts.
type InvoiceService struct {
	store       Store
	logger      *slog.Logger
	invalidator CacheInvalidator
}

// NewInvoiceService builds an InvoiceService.
func NewInvoiceService(store Store, logger *slog.Logger, invalidator CacheInvalidator) *InvoiceService {
	return &InvoiceService{store: store, logger: logger, invalidator: invalidator}
}

func (s *InvoiceService) bump(ctx context.Context) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.Bump(ctx); err != nil {
		s.logger.Warn("reporting cache bump failed", slog.Any("error", err))
	}
}

// withRetry runs fn, retrying on serialization conflicts.
func (s *InvoiceService) withRetry(ctx context.Context, op string, fn func(context.Context, TxStore) error) error {
	var err error
	for attempt := 0; attempt <= conflictRetries; attempt++ {
		if err = s.store.WithTx(ctx, fn); !errors.Is(err, ErrConcurrentModification) {
			return err
		}
		s.logger.Warn("retrying after conflict",
			slog.String("op", op), slog.Int("attempt", attempt+1))
	}
	return err
}

// Create opens a new draft invoice, allocating its reference number and
// freezing the home-currency equivalent.
func (s *InvoiceService) Create(ctx context.Context, input CreateInvoiceInput) (*Invoice, error) {
	if input.CustomerID == 0 {
		return nil, fmt.Errorf("%w: customer id required", ErrValidation)
	}
	if input.ServiceType == "" {
		return nil, fmt.Errorf("%w: service type required", ErrValidation)
	}
	if input.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if input.IssueDate.IsZero() || input.DueDate.IsZero() {
		return nil, fmt.Errorf("%w: issue and due dates required", ErrValidation)
	}
	if input.DueDate.Before(input.IssueDate) {
		return nil, fmt.Errorf("%w: due date before issue date", ErrValidation)
	}
	if input.Type == "" {
		input.Type = InvoiceTypeCommercial
	} else if _, err := ParseInvoiceType(string(input.Type)); err != nil {
		return nil, err
	}

	m, err := money.Convert(input.Amount, input.Currency, input.ExchangeRate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	inv := &Invoice{
		Type:        input.Type,
		CustomerID:  input.CustomerID,
		ServiceType: input.ServiceType,
		Money:       m,
		Status:      InvoiceStatusDraft,
		IssueDate:   input.IssueDate,
		DueDate:     input.DueDate,
		PaidAmount:  decimal.Zero,
		CreatedBy:   input.CreatedBy,
	}
	err = s.withRetry(ctx, "create_invoice", func(ctx context.Context, tx TxStore) error {
		number, err := tx.NextDocumentNumber(ctx, PrefixInvoice, input.IssueDate.Year())
		if err != nil {
			return err
		}
		inv.Number = number
		return tx.InsertInvoice(ctx, inv)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("invoice created",
		slog.Int64("id", inv.ID), slog.String("number", inv.Number),
		slog.String("home_equivalent", inv.Money.HomeEquivalent.String()))
	return inv, nil
}

// Finalize moves a draft invoice to SENT.
func (s *InvoiceService) Finalize(ctx context.Context, id int64) (*Invoice, error) {
	return s.mutate(ctx, "finalize", id, func(inv *Invoice) error {
		if inv.Status != InvoiceStatusDraft {
			return fmt.Errorf("finalize invoice %d in %s: %w", id, inv.Status, ErrInvalidTransition)
		}
		inv.Status = InvoiceStatusSent
		return nil
	})
}

// Update edits a still-mutable invoice. Changing the amount or the exchange
// rate rebuilds the Money value; this is the only path that replaces a
// frozen home equivalent, and it is closed once the invoice is terminal.
func (s *InvoiceService) Update(ctx context.Context, id int64, input UpdateInvoiceInput) (*Invoice, error) {
	return s.mutate(ctx, "update", id, func(inv *Invoice) error {
		if inv.Status.Terminal() {
			return fmt.Errorf("update invoice %d in %s: %w", id, inv.Status, ErrImmutableRecord)
		}
		if input.ServiceType != nil {
			if *input.ServiceType == "" {
				return fmt.Errorf("%w: service type required", ErrValidation)
			}
			inv.ServiceType = *input.ServiceType
		}
		if input.DueDate != nil {
			if input.DueDate.Before(inv.IssueDate) {
				return fmt.Errorf("%w: due date before issue date", ErrValidation)
			}
			inv.DueDate = *input.DueDate
		}
		if input.Amount != nil || input.ExchangeRate != nil {
			amount := inv.Money.Amount
			rate := inv.Money.ExchangeRate
			if input.Amount != nil {
				amount = *input.Amount
			}
			if input.ExchangeRate != nil {
				rate = *input.ExchangeRate
			}
			if amount.Sign() <= 0 {
				return fmt.Errorf("%w: amount must be positive", ErrValidation)
			}
			m, err := money.Convert(amount, inv.Money.Currency, rate)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrValidation, err)
			}
			if m.HomeEquivalent.LessThan(inv.PaidAmount) {
				return fmt.Errorf("update invoice %d below paid amount: %w", id, ErrOverpayment)
			}
			inv.Money = m
		}
		return nil
	})
}

// RecordPayment applies an incoming home-currency payment to an invoice,
// atomically incrementing the paid amount and advancing the status.
func (s *InvoiceService) RecordPayment(ctx context.Context, id int64, amount decimal.Decimal, paidAt time.Time, method string) (*Invoice, error) {
	if amount.Sign() == 0 {
		return nil, fmt.Errorf("%w: payment amount required", ErrValidation)
	}
	if paidAt.IsZero() {
		return nil, fmt.Errorf("%w: payment date required", ErrValidation)
	}
	return s.mutate(ctx, "record_payment", id, func(inv *Invoice) error {
		switch inv.Status {
		case InvoiceStatusPaid:
			return fmt.Errorf("pay invoice %d: %w", id, ErrAlreadySettled)
		case InvoiceStatusCancelled:
			return fmt.Errorf("pay invoice %d: %w", id, ErrCancelledRecord)
		case InvoiceStatusDraft:
			return fmt.Errorf("pay invoice %d in %s: %w", id, inv.Status, ErrInvalidTransition)
		}
		newPaid := inv.PaidAmount.Add(amount)
		if newPaid.Sign() < 0 || newPaid.GreaterThan(inv.Money.HomeEquivalent) {
			return fmt.Errorf("pay invoice %d amount %s outstanding %s: %w",
				id, amount, inv.Outstanding(), ErrOverpayment)
		}
		inv.PaidAmount = newPaid
		at := paidAt
		inv.PaidDate = &at
		if inv.PaidAmount.Equal(inv.Money.HomeEquivalent) {
			inv.Status = InvoiceStatusPaid
		} else if inv.Status != InvoiceStatusDisputed {
			inv.Status = InvoiceStatusPartiallyPaid
		}
		return nil
	}, func(ctx context.Context, tx TxStore, inv *Invoice) error {
		return tx.InsertPayment(ctx, &Payment{
			Reference:  uuid.NewString(),
			TargetType: PaymentTargetInvoice,
			TargetID:   id,
			Direction:  PaymentIncoming,
			Money:      money.Home(amount),
			Method:     method,
			PaidAt:     paidAt,
		})
	})
}

// Cancel voids an unpaid, non-terminal invoice.
func (s *InvoiceService) Cancel(ctx context.Context, id int64) (*Invoice, error) {
	return s.mutate(ctx, "cancel", id, func(inv *Invoice) error {
		if inv.Status == InvoiceStatusPaid {
			return fmt.Errorf("cancel invoice %d: %w", id, ErrAlreadySettled)
		}
		if inv.Status == InvoiceStatusCancelled {
			return fmt.Errorf("cancel invoice %d: %w", id, ErrCancelledRecord)
		}
		if inv.PaidAmount.Sign() != 0 {
			return fmt.Errorf("cancel invoice %d with paid %s: %w", id, inv.PaidAmount, ErrHasPayments)
		}
		inv.Status = InvoiceStatusCancelled
		return nil
	})
}

// Dispute flags an open invoice as contested. Disputed invoices still
// accept payments and still count toward revenue.
func (s *InvoiceService) Dispute(ctx context.Context, id int64) (*Invoice, error) {
	return s.mutate(ctx, "dispute", id, func(inv *Invoice) error {
		switch inv.Status {
		case InvoiceStatusSent, InvoiceStatusPartiallyPaid, InvoiceStatusOverdue:
			inv.Status = InvoiceStatusDisputed
			return nil
		}
		return fmt.Errorf("dispute invoice %d in %s: %w", id, inv.Status, ErrInvalidTransition)
	})
}

// Delete removes an invoice, permitted only while it is a draft.
func (s *InvoiceService) Delete(ctx context.Context, id int64) error {
	err := s.withRetry(ctx, "delete_invoice", func(ctx context.Context, tx TxStore) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if inv.Status != InvoiceStatusDraft {
			return fmt.Errorf("delete invoice %d in %s: %w", id, inv.Status, ErrInvalidTransition)
		}
		return tx.DeleteInvoice(ctx, id)
	})
	if err != nil {
		return err
	}
	s.logger.Info("invoice deleted", slog.Int64("id", id))
	return nil
}

// ReevaluateOverdue flips past-due SENT and PARTIALLY_PAID invoices to
// OVERDUE as of the given instant. It is idempotent and safe to re-run.
func (s *InvoiceService) ReevaluateOverdue(ctx context.Context, now time.Time) (int64, error) {
	if now.IsZero() {
		return 0, fmt.Errorf("%w: reference time required", ErrValidation)
	}
	var updated int64
	err := s.withRetry(ctx, "reevaluate_overdue", func(ctx context.Context, tx TxStore) error {
		var err error
		updated, err = tx.MarkOverdue(ctx, now)
		return err
	})
	if err != nil {
		return 0, err
	}
	if updated > 0 {
		s.logger.Info("invoices marked overdue",
			slog.Int64("count", updated), slog.Time("as_of", now))
		s.bump(ctx)
	}
	return updated, nil
}

// Get returns one invoice.
func (s *InvoiceService) Get(ctx context.Context, id int64) (*Invoice, error) {
	return s.store.GetInvoice(ctx, id)
}

// List returns invoices matching the filter.
func (s *InvoiceService) List(ctx context.Context, filter ListInvoicesFilter) ([]Invoice, error) {
	if filter.Status != "" {
		if _, err := ParseInvoiceStatus(string(filter.Status)); err != nil {
			return nil, err
		}
	}
	return s.store.ListInvoices(ctx, filter)
}

// Payments returns the payment history of one invoice.
func (s *InvoiceService) Payments(ctx context.Context, id int64) ([]Payment, error) {
	if _, err := s.store.GetInvoice(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListPaymentsFor(ctx, PaymentTargetInvoice, id)
}

// mutate runs a locked read-modify-write on one invoice. The apply func
// edits the in-memory record; optional extras run in the same transaction.
func (s *InvoiceService) mutate(ctx context.Context, op string, id int64,
	apply func(*Invoice) error,
	extras ...func(context.Context, TxStore, *Invoice) error,
) (*Invoice, error) {
	var result *Invoice
	err := s.withRetry(ctx, op, func(ctx context.Context, tx TxStore) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, id)
		if err != nil {
			return fmt.Errorf("%s invoice %d: %w", op, id, err)
		}
		if err := apply(inv); err != nil {
			return err
		}
		if err := tx.UpdateInvoice(ctx, inv); err != nil {
			return err
		}
		for _, extra := range extras {
			if err := extra(ctx, tx, inv); err != nil {
				return err
			}
		}
		result = inv
		return nil
	})
	if err != nil {
		s.logger.Error("invoice mutation failed",
			slog.String("op", op), slog.Int64("id", id), slog.Any("error", err))
		return nil, err
	}
	s.bump(ctx)
	return result, nil
}
