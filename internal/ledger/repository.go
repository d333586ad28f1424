package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-freight/meridian-finance/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for the ledger.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxStore exposes the mutating operations available inside a transaction.
// Read-modify-write sequences must go through GetInvoiceForUpdate /
// GetCostForUpdate so the row stays locked until commit.
type TxStore interface {
	NextDocumentNumber(ctx context.Context, prefix string, year int) (string, error)
	InsertInvoice(ctx context.Context, inv *Invoice) error
	GetInvoiceForUpdate(ctx context.Context, id int64) (*Invoice, error)
	UpdateInvoice(ctx context.Context, inv *Invoice) error
	DeleteInvoice(ctx context.Context, id int64) error
	InsertPayment(ctx context.Context, p *Payment) error
	MarkOverdue(ctx context.Context, now time.Time) (int64, error)
	InsertCost(ctx context.Context, c *CostRecord) error
	GetCostForUpdate(ctx context.Context, kind CostKind, id int64) (*CostRecord, error)
	UpdateCost(ctx context.Context, c *CostRecord) error
}

// Store is the full persistence port the services depend on.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
	GetInvoice(ctx context.Context, id int64) (*Invoice, error)
	ListInvoices(ctx context.Context, filter ListInvoicesFilter) ([]Invoice, error)
	ListPaymentsFor(ctx context.Context, target PaymentTarget, targetID int64) ([]Payment, error)
	GetCost(ctx context.Context, kind CostKind, id int64) (*CostRecord, error)
	ListCosts(ctx context.Context, kind CostKind) ([]CostRecord, error)
}

type txStore struct {
	tx pgx.Tx
}

// WithTx wraps the callback in a repeatable-read transaction and translates
// driver-level conflicts into ledger sentinels.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txStore{tx: tx})
	})
	if err != nil {
		return translatePgError(err)
	}
	return nil
}

func translatePgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization failure, deadlock detected
			return fmt.Errorf("%w: %s", ErrConcurrentModification, pgErr.Code)
		case "23505": // unique violation
			return fmt.Errorf("%w: %s", ErrDuplicateNumber, pgErr.ConstraintName)
		}
	}
	return err
}

const invoiceColumns = `id, number, doc_type, customer_id, service_type,
	amount, currency, exchange_rate, home_equivalent,
	status, issue_date, due_date, paid_date, paid_amount,
	created_by, approved_by, version, created_at, updated_at`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	var status, docType string
	var paidDate pgtype.Date
	var approvedBy pgtype.Int8
	err := row.Scan(
		&inv.ID, &inv.Number, &docType, &inv.CustomerID, &inv.ServiceType,
		&inv.Money.Amount, &inv.Money.Currency, &inv.Money.ExchangeRate, &inv.Money.HomeEquivalent,
		&status, &inv.IssueDate, &inv.DueDate, &paidDate, &inv.PaidAmount,
		&inv.CreatedBy, &approvedBy, &inv.Version, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if inv.Status, err = ParseInvoiceStatus(status); err != nil {
		return nil, err
	}
	if inv.Type, err = ParseInvoiceType(docType); err != nil {
		return nil, err
	}
	if paidDate.Valid {
		inv.PaidDate = &paidDate.Time
	}
	if approvedBy.Valid {
		inv.ApprovedBy = &approvedBy.Int64
	}
	return &inv, nil
}

// GetInvoice retrieves an invoice by id.
func (r *Repository) GetInvoice(ctx context.Context, id int64) (*Invoice, error) {
	return scanInvoice(r.pool.QueryRow(ctx,
		`SELECT `+invoiceColumns+` FROM ledger_invoices WHERE id = $1`, id))
}

// ListInvoices returns invoices matching the filter, newest first.
func (r *Repository) ListInvoices(ctx context.Context, filter ListInvoicesFilter) ([]Invoice, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT `+invoiceColumns+` FROM ledger_invoices
		WHERE ($1 = '' OR status = $1) AND ($2 = 0 OR customer_id = $2)
		ORDER BY id DESC LIMIT $3`, string(filter.Status), filter.CustomerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inv)
	}
	return out, rows.Err()
}

// ListPaymentsFor returns payments applied to one target record.
func (r *Repository) ListPaymentsFor(ctx context.Context, target PaymentTarget, targetID int64) ([]Payment, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, reference, target_type, target_id, direction,
		amount, currency, exchange_rate, home_equivalent, method, paid_at, created_by, created_at
		FROM ledger_payments WHERE target_type = $1 AND target_id = $2 ORDER BY paid_at, id`,
		string(target), targetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Payment
	for rows.Next() {
		var p Payment
		var target, direction string
		if err := rows.Scan(&p.ID, &p.Reference, &target, &p.TargetID, &direction,
			&p.Money.Amount, &p.Money.Currency, &p.Money.ExchangeRate, &p.Money.HomeEquivalent,
			&p.Method, &p.PaidAt, &p.CreatedBy, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.TargetType = PaymentTarget(target)
		p.Direction = PaymentDirection(direction)
		out = append(out, p)
	}
	return out, rows.Err()
}

func costTable(kind CostKind) string {
	if kind == CostKindJobCost {
		return "ledger_job_costs"
	}
	return "ledger_expenses"
}

const costColumns = `id, ref, job_ref, category,
	amount, currency, exchange_rate, home_equivalent,
	approval_status, payment_status, paid_amount, spent_at,
	requested_by, approved_by, version, created_at, updated_at`

func scanCost(row pgx.Row, kind CostKind) (*CostRecord, error) {
	var c CostRecord
	c.Kind = kind
	var approval, payment string
	var approvedBy pgtype.Int8
	err := row.Scan(
		&c.ID, &c.Ref, &c.JobRef, &c.Category,
		&c.Money.Amount, &c.Money.Currency, &c.Money.ExchangeRate, &c.Money.HomeEquivalent,
		&approval, &payment, &c.PaidAmount, &c.SpentAt,
		&c.RequestedBy, &approvedBy, &c.Version, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if c.ApprovalStatus, err = ParseApprovalStatus(approval); err != nil {
		return nil, err
	}
	if c.PaymentStatus, err = ParsePaymentState(payment); err != nil {
		return nil, err
	}
	if approvedBy.Valid {
		c.ApprovedBy = &approvedBy.Int64
	}
	return &c, nil
}

// GetCost retrieves a cost record by kind and id.
func (r *Repository) GetCost(ctx context.Context, kind CostKind, id int64) (*CostRecord, error) {
	return scanCost(r.pool.QueryRow(ctx,
		`SELECT `+costColumns+` FROM `+costTable(kind)+` WHERE id = $1`, id), kind)
}

// ListCosts returns all cost records of one kind, newest first.
func (r *Repository) ListCosts(ctx context.Context, kind CostKind) ([]CostRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+costColumns+` FROM `+costTable(kind)+` ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CostRecord
	for rows.Next() {
		c, err := scanCost(rows, kind)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// --- transactional operations ---

// NextDocumentNumber allocates the next sequence for (prefix, year) via an
// atomic counter row and formats the canonical number.
func (s *txStore) NextDocumentNumber(ctx context.Context, prefix string, year int) (string, error) {
	var seq int64
	err := s.tx.QueryRow(ctx, `INSERT INTO document_sequences (prefix, year, last_value)
		VALUES ($1, $2, 1)
		ON CONFLICT (prefix, year)
		DO UPDATE SET last_value = document_sequences.last_value + 1
		RETURNING last_value`, prefix, year).Scan(&seq)
	if err != nil {
		return "", fmt.Errorf("ledger: next document number: %w", err)
	}
	return FormatDocumentNumber(prefix, year, seq), nil
}

func (s *txStore) InsertInvoice(ctx context.Context, inv *Invoice) error {
	return s.tx.QueryRow(ctx, `INSERT INTO ledger_invoices (
			number, doc_type, customer_id, service_type,
			amount, currency, exchange_rate, home_equivalent,
			status, issue_date, due_date, paid_amount,
			created_by, version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,1,NOW(),NOW())
		RETURNING id, version, created_at, updated_at`,
		inv.Number, string(inv.Type), inv.CustomerID, inv.ServiceType,
		inv.Money.Amount, inv.Money.Currency, inv.Money.ExchangeRate, inv.Money.HomeEquivalent,
		string(inv.Status), inv.IssueDate, inv.DueDate, inv.PaidAmount,
		inv.CreatedBy,
	).Scan(&inv.ID, &inv.Version, &inv.CreatedAt, &inv.UpdatedAt)
}

func (s *txStore) GetInvoiceForUpdate(ctx context.Context, id int64) (*Invoice, error) {
	return scanInvoice(s.tx.QueryRow(ctx,
		`SELECT `+invoiceColumns+` FROM ledger_invoices WHERE id = $1 FOR UPDATE`, id))
}

// UpdateInvoice persists mutable fields, guarding the version for the
// optimistic-concurrency fallback when the row lock was not taken.
func (s *txStore) UpdateInvoice(ctx context.Context, inv *Invoice) error {
	tag, err := s.tx.Exec(ctx, `UPDATE ledger_invoices SET
			service_type = $1, amount = $2, currency = $3, exchange_rate = $4,
			home_equivalent = $5, status = $6, due_date = $7, paid_date = $8,
			paid_amount = $9, approved_by = $10, version = version + 1, updated_at = NOW()
		WHERE id = $11 AND version = $12`,
		inv.ServiceType, inv.Money.Amount, inv.Money.Currency, inv.Money.ExchangeRate,
		inv.Money.HomeEquivalent, string(inv.Status), inv.DueDate, inv.PaidDate,
		inv.PaidAmount, inv.ApprovedBy, inv.ID, inv.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: invoice %d version %d", ErrConcurrentModification, inv.ID, inv.Version)
	}
	inv.Version++
	return nil
}

func (s *txStore) DeleteInvoice(ctx context.Context, id int64) error {
	tag, err := s.tx.Exec(ctx, `DELETE FROM ledger_invoices WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: invoice %d", ErrNotFound, id)
	}
	return nil
}

func (s *txStore) InsertPayment(ctx context.Context, p *Payment) error {
	return s.tx.QueryRow(ctx, `INSERT INTO ledger_payments (
			reference, target_type, target_id, direction,
			amount, currency, exchange_rate, home_equivalent,
			method, paid_at, created_by, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NOW())
		RETURNING id, created_at`,
		p.Reference, string(p.TargetType), p.TargetID, string(p.Direction),
		p.Money.Amount, p.Money.Currency, p.Money.ExchangeRate, p.Money.HomeEquivalent,
		p.Method, p.PaidAt, p.CreatedBy,
	).Scan(&p.ID, &p.CreatedAt)
}

// MarkOverdue flips past-due open invoices to OVERDUE in a single statement,
// which makes the scheduled scan idempotent by construction.
func (s *txStore) MarkOverdue(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.tx.Exec(ctx, `UPDATE ledger_invoices
		SET status = $1, version = version + 1, updated_at = NOW()
		WHERE status IN ($2, $3) AND due_date < $4`,
		string(InvoiceStatusOverdue), string(InvoiceStatusSent),
		string(InvoiceStatusPartiallyPaid), now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *txStore) InsertCost(ctx context.Context, c *CostRecord) error {
	return s.tx.QueryRow(ctx, `INSERT INTO `+costTable(c.Kind)+` (
			ref, job_ref, category,
			amount, currency, exchange_rate, home_equivalent,
			approval_status, payment_status, paid_amount, spent_at,
			requested_by, version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,1,NOW(),NOW())
		RETURNING id, version, created_at, updated_at`,
		c.Ref, c.JobRef, c.Category,
		c.Money.Amount, c.Money.Currency, c.Money.ExchangeRate, c.Money.HomeEquivalent,
		string(c.ApprovalStatus), string(c.PaymentStatus), c.PaidAmount, c.SpentAt,
		c.RequestedBy,
	).Scan(&c.ID, &c.Version, &c.CreatedAt, &c.UpdatedAt)
}

func (s *txStore) GetCostForUpdate(ctx context.Context, kind CostKind, id int64) (*CostRecord, error) {
	return scanCost(s.tx.QueryRow(ctx,
		`SELECT `+costColumns+` FROM `+costTable(kind)+` WHERE id = $1 FOR UPDATE`, id), kind)
}

func (s *txStore) UpdateCost(ctx context.Context, c *CostRecord) error {
	tag, err := s.tx.Exec(ctx, `UPDATE `+costTable(c.Kind)+` SET
			approval_status = $1, payment_status = $2, paid_amount = $3,
			approved_by = $4, version = version + 1, updated_at = NOW()
		WHERE id = $5 AND version = $6`,
		string(c.ApprovalStatus), string(c.PaymentStatus), c.PaidAmount,
		c.ApprovedBy, c.ID, c.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s %d version %d", ErrConcurrentModification, c.Kind, c.ID, c.Version)
	}
	c.Version++
	return nil
}
