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

// CostService manages the approval and settlement of office expenses and
// job costs: pending → approved/rejected, then unpaid → partially_paid →
// paid once approved.
type CostService struct {
	store       Store
	logger      *slog.Logger
	invalidator CacheInvalidator
}

// NewCostService builds a CostService.
func NewCostService(store Store, logger *slog.Logger, invalidator CacheInvalidator) *CostService {
	return &CostService{store: store, logger: logger, invalidator: invalidator}
}

func (s *CostService) bump(ctx context.Context) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.Bump(ctx); err != nil {
		s.logger.Warn("reporting cache bump failed", slog.Any("error", err))
	}
}

func (s *CostService) withRetry(ctx context.Context, op string, fn func(context.Context, TxStore) error) error {
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

func costPrefix(kind CostKind) string {
	if kind == CostKindJobCost {
		return PrefixJobCost
	}
	return PrefixExpense
}

// Create registers a pending cost record with a frozen home equivalent.
func (s *CostService) Create(ctx context.Context, input CreateCostInput) (*CostRecord, error) {
	if input.Kind != CostKindExpense && input.Kind != CostKindJobCost {
		return nil, fmt.Errorf("%w: cost kind %q", ErrValidation, input.Kind)
	}
	if input.Category == "" {
		return nil, fmt.Errorf("%w: category required", ErrValidation)
	}
	if input.Kind == CostKindJobCost && input.JobRef == "" {
		return nil, fmt.Errorf("%w: job reference required", ErrValidation)
	}
	if input.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if input.SpentAt.IsZero() {
		return nil, fmt.Errorf("%w: spend date required", ErrValidation)
	}
	m, err := money.Convert(input.Amount, input.Currency, input.ExchangeRate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	rec := &CostRecord{
		Kind:           input.Kind,
		JobRef:         input.JobRef,
		Category:       input.Category,
		Money:          m,
		ApprovalStatus: ApprovalPending,
		PaymentStatus:  PaymentStateUnpaid,
		PaidAmount:     decimal.Zero,
		SpentAt:        input.SpentAt,
		RequestedBy:    input.RequestedBy,
	}
	err = s.withRetry(ctx, "create_cost", func(ctx context.Context, tx TxStore) error {
		ref, err := tx.NextDocumentNumber(ctx, costPrefix(input.Kind), input.SpentAt.Year())
		if err != nil {
			return err
		}
		rec.Ref = ref
		return tx.InsertCost(ctx, rec)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("cost created", slog.String("kind", string(rec.Kind)),
		slog.Int64("id", rec.ID), slog.String("ref", rec.Ref))
	return rec, nil
}

// Approve moves a pending record to approved.
func (s *CostService) Approve(ctx context.Context, kind CostKind, id int64, approverID int64) (*CostRecord, error) {
	if approverID == 0 {
		return nil, fmt.Errorf("%w: approver id required", ErrValidation)
	}
	return s.mutate(ctx, "approve", kind, id, func(rec *CostRecord) error {
		if rec.ApprovalStatus != ApprovalPending {
			return fmt.Errorf("approve %s %d in %s: %w", kind, id, rec.ApprovalStatus, ErrInvalidTransition)
		}
		rec.ApprovalStatus = ApprovalApproved
		rec.ApprovedBy = &approverID
		return nil
	})
}

// Reject moves a pending record to rejected, a terminal state.
func (s *CostService) Reject(ctx context.Context, kind CostKind, id int64) (*CostRecord, error) {
	return s.mutate(ctx, "reject", kind, id, func(rec *CostRecord) error {
		if rec.ApprovalStatus != ApprovalPending {
			return fmt.Errorf("reject %s %d in %s: %w", kind, id, rec.ApprovalStatus, ErrInvalidTransition)
		}
		rec.ApprovalStatus = ApprovalRejected
		return nil
	})
}

// RecordPayment applies an outgoing home-currency payment to an approved
// cost record, advancing its payment status.
func (s *CostService) RecordPayment(ctx context.Context, kind CostKind, id int64, amount decimal.Decimal, paidAt time.Time) (*CostRecord, error) {
	if amount.Sign() == 0 {
		return nil, fmt.Errorf("%w: payment amount required", ErrValidation)
	}
	if paidAt.IsZero() {
		return nil, fmt.Errorf("%w: payment date required", ErrValidation)
	}
	return s.mutate(ctx, "record_payment", kind, id, func(rec *CostRecord) error {
		if rec.ApprovalStatus != ApprovalApproved {
			return fmt.Errorf("pay %s %d: %w", kind, id, ErrNotApproved)
		}
		newPaid := rec.PaidAmount.Add(amount)
		if newPaid.Sign() < 0 || newPaid.GreaterThan(rec.Money.HomeEquivalent) {
			return fmt.Errorf("pay %s %d amount %s outstanding %s: %w",
				kind, id, amount, rec.Outstanding(), ErrOverpayment)
		}
		rec.PaidAmount = newPaid
		if rec.PaidAmount.Equal(rec.Money.HomeEquivalent) {
			rec.PaymentStatus = PaymentStatePaid
		} else if rec.PaidAmount.Sign() > 0 {
			rec.PaymentStatus = PaymentStatePartiallyPaid
		} else {
			rec.PaymentStatus = PaymentStateUnpaid
		}
		return nil
	}, func(ctx context.Context, tx TxStore, rec *CostRecord) error {
		return tx.InsertPayment(ctx, &Payment{
			Reference:  uuid.NewString(),
			TargetType: PaymentTargetPayable,
			TargetID:   id,
			Direction:  PaymentOutgoing,
			Money:      money.Home(amount),
			PaidAt:     paidAt,
		})
	})
}

// Get returns one cost record.
func (s *CostService) Get(ctx context.Context, kind CostKind, id int64) (*CostRecord, error) {
	return s.store.GetCost(ctx, kind, id)
}

// List returns all cost records of one kind.
func (s *CostService) List(ctx context.Context, kind CostKind) ([]CostRecord, error) {
	return s.store.ListCosts(ctx, kind)
}

func (s *CostService) mutate(ctx context.Context, op string, kind CostKind, id int64,
	apply func(*CostRecord) error,
	extras ...func(context.Context, TxStore, *CostRecord) error,
) (*CostRecord, error) {
	var result *CostRecord
	err := s.withRetry(ctx, op, func(ctx context.Context, tx TxStore) error {
		rec, err := tx.GetCostForUpdate(ctx, kind, id)
		if err != nil {
			return fmt.Errorf("%s %s %d: %w", op, kind, id, err)
		}
		if err := apply(rec); err != nil {
			return err
		}
		if err := tx.UpdateCost(ctx, rec); err != nil {
			return err
		}
		for _, extra := range extras {
			if err := extra(ctx, tx, rec); err != nil {
				return err
			}
		}
		result = rec
		return nil
	})
	if err != nil {
		s.logger.Error("cost mutation failed", slog.String("op", op),
			slog.String("kind", string(kind)), slog.Int64("id", id), slog.Any("error", err))
		return nil, err
	}
	s.bump(ctx)
	return result, nil
}
