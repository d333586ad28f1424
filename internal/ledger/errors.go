package ledger

import "errors"

// Sentinel errors for ledger operations. Callers dispatch with errors.Is;
// wrapped messages carry the record id and the attempted action.
var (
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("ledger: validation failed")
	// ErrNotFound indicates the referenced record does not exist.
	ErrNotFound = errors.New("ledger: record not found")
	// ErrInvalidTransition indicates the operation is not permitted from the
	// record's current state.
	ErrInvalidTransition = errors.New("ledger: invalid state transition")
	// ErrImmutableRecord indicates an edit on a paid or cancelled record.
	ErrImmutableRecord = errors.New("ledger: record is immutable")
	// ErrOverpayment indicates a payment would exceed the owed amount.
	ErrOverpayment = errors.New("ledger: payment exceeds outstanding balance")
	// ErrNotApproved indicates a payment attempted before approval.
	ErrNotApproved = errors.New("ledger: record not approved for payment")
	// ErrHasPayments indicates a cancel on a record with recorded payments.
	ErrHasPayments = errors.New("ledger: record has recorded payments")
	// ErrAlreadySettled indicates a mutation on a fully paid invoice.
	ErrAlreadySettled = errors.New("ledger: invoice already settled")
	// ErrCancelledRecord indicates a mutation on a cancelled record.
	ErrCancelledRecord = errors.New("ledger: record is cancelled")
	// ErrConcurrentModification indicates an optimistic-lock or
	// serialization conflict; the operation may be retried.
	ErrConcurrentModification = errors.New("ledger: concurrent modification")
	// ErrDuplicateNumber indicates a reference number collision.
	ErrDuplicateNumber = errors.New("ledger: reference number already exists")
)
