package ledger

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newInvoiceFixture(t *testing.T) (*InvoiceService, *memoryStore, *countingInvalidator) {
	t.Helper()
	store := newMemoryStore()
	inv := &countingInvalidator{}
	return NewInvoiceService(store, testLogger(), inv), store, inv
}

func createTestInvoice(t *testing.T, svc *InvoiceService) *Invoice {
	t.Helper()
	inv, err := svc.Create(context.Background(), CreateInvoiceInput{
		CustomerID:   7,
		ServiceType:  "sea_freight",
		Amount:       dec("10000"),
		Currency:     "USD",
		ExchangeRate: dec("15.5"),
		IssueDate:    date(2026, time.March, 1),
		DueDate:      date(2026, time.March, 31),
		CreatedBy:    1,
	})
	require.NoError(t, err)
	return inv
}

func TestCreateInvoiceFreezesHomeEquivalent(t *testing.T) {
	svc, _, _ := newInvoiceFixture(t)
	inv := createTestInvoice(t, svc)

	require.Equal(t, "INV-2026-000001", inv.Number)
	require.Equal(t, InvoiceStatusDraft, inv.Status)
	require.Equal(t, InvoiceTypeCommercial, inv.Type)
	require.True(t, inv.Money.HomeEquivalent.Equal(dec("155000")), "got %s", inv.Money.HomeEquivalent)
	require.True(t, inv.Outstanding().Equal(dec("155000")))
}

func TestCreateInvoiceSequencePerYear(t *testing.T) {
	svc, _, _ := newInvoiceFixture(t)
	ctx := context.Background()

	first := createTestInvoice(t, svc)
	second := createTestInvoice(t, svc)
	require.Equal(t, "INV-2026-000001", first.Number)
	require.Equal(t, "INV-2026-000002", second.Number)

	prior, err := svc.Create(ctx, CreateInvoiceInput{
		CustomerID:   7,
		ServiceType:  "sea_freight",
		Amount:       dec("500"),
		Currency:     "GHS",
		ExchangeRate: dec("1"),
		IssueDate:    date(2025, time.December, 20),
		DueDate:      date(2026, time.January, 20),
	})
	require.NoError(t, err)
	require.Equal(t, "INV-2025-000001", prior.Number)
}

func TestCreateInvoiceValidation(t *testing.T) {
	svc, _, _ := newInvoiceFixture(t)
	ctx := context.Background()
	base := CreateInvoiceInput{
		CustomerID:   7,
		ServiceType:  "sea_freight",
		Amount:       dec("100"),
		Currency:     "USD",
		ExchangeRate: dec("15.5"),
		IssueDate:    date(2026, time.March, 1),
		DueDate:      date(2026, time.March, 31),
	}

	missingCustomer := base
	missingCustomer.CustomerID = 0
	_, err := svc.Create(ctx, missingCustomer)
	require.ErrorIs(t, err, ErrValidation)

	negativeAmount := base
	negativeAmount.Amount = dec("-5")
	_, err = svc.Create(ctx, negativeAmount)
	require.ErrorIs(t, err, ErrValidation)

	badRate := base
	badRate.ExchangeRate = dec("0")
	_, err = svc.Create(ctx, badRate)
	require.ErrorIs(t, err, ErrValidation)

	badCurrency := base
	badCurrency.Currency = "XXXX"
	_, err = svc.Create(ctx, badCurrency)
	require.ErrorIs(t, err, ErrValidation)

	dueBeforeIssue := base
	dueBeforeIssue.DueDate = date(2026, time.February, 1)
	_, err = svc.Create(ctx, dueBeforeIssue)
	require.ErrorIs(t, err, ErrValidation)
}

func TestPaymentLifecycle(t *testing.T) {
	svc, store, _ := newInvoiceFixture(t)
	ctx := context.Background()
	inv := createTestInvoice(t, svc)

	_, err := svc.RecordPayment(ctx, inv.ID, dec("60000"), date(2026, time.March, 10), "bank_transfer")
	require.ErrorIs(t, err, ErrInvalidTransition, "draft must not accept payments")

	_, err = svc.Finalize(ctx, inv.ID)
	require.NoError(t, err)

	got, err := svc.RecordPayment(ctx, inv.ID, dec("60000"), date(2026, time.March, 10), "bank_transfer")
	require.NoError(t, err)
	require.Equal(t, InvoiceStatusPartiallyPaid, got.Status)
	require.True(t, got.Outstanding().Equal(dec("95000")), "got %s", got.Outstanding())

	_, err = svc.RecordPayment(ctx, inv.ID, dec("100000"), date(2026, time.March, 20), "bank_transfer")
	require.ErrorIs(t, err, ErrOverpayment)

	got, err = svc.RecordPayment(ctx, inv.ID, dec("95000"), date(2026, time.March, 20), "bank_transfer")
	require.NoError(t, err)
	require.Equal(t, InvoiceStatusPaid, got.Status)
	require.True(t, got.Outstanding().IsZero())
	require.NotNil(t, got.PaidDate)
	require.Equal(t, date(2026, time.March, 20), *got.PaidDate)

	_, err = svc.RecordPayment(ctx, inv.ID, dec("1"), date(2026, time.March, 21), "cash")
	require.ErrorIs(t, err, ErrAlreadySettled)

	payments, err := svc.Payments(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, payments, 2)
	for _, p := range payments {
		require.Equal(t, PaymentIncoming, p.Direction)
		require.NotEmpty(t, p.Reference)
	}
	require.Len(t, store.payments, 2)
}

func TestNegativePaymentAdjustsButNeverBelowZero(t *testing.T) {
	svc, _, _ := newInvoiceFixture(t)
	ctx := context.Background()
	inv := createTestInvoice(t, svc)
	_, err := svc.Finalize(ctx, inv.ID)
	require.NoError(t, err)

	_, err = svc.RecordPayment(ctx, inv.ID, dec("50000"), date(2026, time.March, 10), "")
	require.NoError(t, err)

	got, err := svc.RecordPayment(ctx, inv.ID, dec("-10000"), date(2026, time.March, 11), "reversal")
	require.NoError(t, err)
	require.True(t, got.PaidAmount.Equal(dec("40000")))

	_, err = svc.RecordPayment(ctx, inv.ID, dec("-50000"), date(2026, time.March, 12), "reversal")
	require.ErrorIs(t, err, ErrOverpayment)
}

func TestCancelRules(t *testing.T) {
	svc, _, _ := newInvoiceFixture(t)
	ctx := context.Background()

	inv := createTestInvoice(t, svc)
	_, err := svc.Finalize(ctx, inv.ID)
	require.NoError(t, err)
	_, err = svc.RecordPayment(ctx, inv.ID, dec("155000"), date(2026, time.March, 10), "")
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, inv.ID)
	require.ErrorIs(t, err, ErrAlreadySettled)

	partial := createTestInvoice(t, svc)
	_, err = svc.Finalize(ctx, partial.ID)
	require.NoError(t, err)
	_, err = svc.RecordPayment(ctx, partial.ID, dec("100"), date(2026, time.March, 10), "")
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, partial.ID)
	require.ErrorIs(t, err, ErrHasPayments)

	open := createTestInvoice(t, svc)
	_, err = svc.Finalize(ctx, open.ID)
	require.NoError(t, err)
	got, err := svc.Cancel(ctx, open.ID)
	require.NoError(t, err)
	require.Equal(t, InvoiceStatusCancelled, got.Status)

	_, err = svc.Cancel(ctx, open.ID)
	require.ErrorIs(t, err, ErrCancelledRecord)
	_, err = svc.RecordPayment(ctx, open.ID, dec("10"), date(2026, time.March, 10), "")
	require.ErrorIs(t, err, ErrCancelledRecord)
}

func TestUpdateRules(t *testing.T) {
	svc, _, _ := newInvoiceFixture(t)
	ctx := context.Background()
	inv := createTestInvoice(t, svc)
	_, err := svc.Finalize(ctx, inv.ID)
	require.NoError(t, err)

	newAmount := dec("12000")
	got, err := svc.Update(ctx, inv.ID, UpdateInvoiceInput{Amount: &newAmount})
	require.NoError(t, err)
	require.True(t, got.Money.HomeEquivalent.Equal(dec("186000")), "got %s", got.Money.HomeEquivalent)

	_, err = svc.RecordPayment(ctx, inv.ID, dec("100000"), date(2026, time.March, 10), "")
	require.NoError(t, err)

	tooSmall := dec("5000")
	_, err = svc.Update(ctx, inv.ID, UpdateInvoiceInput{Amount: &tooSmall})
	require.ErrorIs(t, err, ErrOverpayment, "total below paid amount must be rejected")

	_, err = svc.RecordPayment(ctx, inv.ID, dec("86000"), date(2026, time.March, 15), "")
	require.NoError(t, err)

	serviceType := "air_freight"
	_, err = svc.Update(ctx, inv.ID, UpdateInvoiceInput{ServiceType: &serviceType})
	require.ErrorIs(t, err, ErrImmutableRecord, "paid invoice is immutable")
}

func TestDeleteOnlyDraft(t *testing.T) {
	svc, _, _ := newInvoiceFixture(t)
	ctx := context.Background()

	draft := createTestInvoice(t, svc)
	require.NoError(t, svc.Delete(ctx, draft.ID))
	_, err := svc.Get(ctx, draft.ID)
	require.ErrorIs(t, err, ErrNotFound)

	sent := createTestInvoice(t, svc)
	_, err = svc.Finalize(ctx, sent.ID)
	require.NoError(t, err)
	require.ErrorIs(t, svc.Delete(ctx, sent.ID), ErrInvalidTransition)
}

func TestDisputeFlow(t *testing.T) {
	svc, _, _ := newInvoiceFixture(t)
	ctx := context.Background()
	inv := createTestInvoice(t, svc)

	_, err := svc.Dispute(ctx, inv.ID)
	require.ErrorIs(t, err, ErrInvalidTransition, "drafts cannot be disputed")

	_, err = svc.Finalize(ctx, inv.ID)
	require.NoError(t, err)
	got, err := svc.Dispute(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, InvoiceStatusDisputed, got.Status)

	got, err = svc.RecordPayment(ctx, inv.ID, dec("1000"), date(2026, time.March, 10), "")
	require.NoError(t, err)
	require.Equal(t, InvoiceStatusDisputed, got.Status, "partial payment keeps the dispute flag")

	got, err = svc.RecordPayment(ctx, inv.ID, dec("154000"), date(2026, time.March, 12), "")
	require.NoError(t, err)
	require.Equal(t, InvoiceStatusPaid, got.Status, "full settlement closes a disputed invoice")
}

func TestReevaluateOverdueIdempotent(t *testing.T) {
	svc, _, inval := newInvoiceFixture(t)
	ctx := context.Background()

	inv := createTestInvoice(t, svc)
	_, err := svc.Finalize(ctx, inv.ID)
	require.NoError(t, err)

	now := date(2026, time.April, 15)
	count, err := svc.ReevaluateOverdue(ctx, now)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	got, err := svc.Get(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, InvoiceStatusOverdue, got.Status)

	bumpsAfterFirst := inval.count()
	count, err = svc.ReevaluateOverdue(ctx, now)
	require.NoError(t, err)
	require.Zero(t, count)
	require.Equal(t, bumpsAfterFirst, inval.count(), "no-op scan must not bump the cache")

	// Overdue invoices still accept payments.
	paid, err := svc.RecordPayment(ctx, inv.ID, dec("155000"), now, "")
	require.NoError(t, err)
	require.Equal(t, InvoiceStatusPaid, paid.Status)
}

func TestRetryOnConflict(t *testing.T) {
	svc, store, _ := newInvoiceFixture(t)
	ctx := context.Background()
	inv := createTestInvoice(t, svc)

	store.injectConflicts = 2
	_, err := svc.Finalize(ctx, inv.ID)
	require.NoError(t, err, "transient conflicts must be retried")

	store.injectConflicts = conflictRetries + 1
	_, err = svc.Cancel(ctx, inv.ID)
	require.ErrorIs(t, err, ErrConcurrentModification, "persistent conflict surfaces after retries")
}

func TestListFilterValidation(t *testing.T) {
	svc, _, _ := newInvoiceFixture(t)
	ctx := context.Background()
	createTestInvoice(t, svc)

	_, err := svc.List(ctx, ListInvoicesFilter{Status: "SHREDDED"})
	require.ErrorIs(t, err, ErrValidation)

	out, err := svc.List(ctx, ListInvoicesFilter{Status: InvoiceStatusDraft})
	require.NoError(t, err)
	require.Len(t, out, 1)
}
