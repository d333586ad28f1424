package reporting

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-freight/meridian-finance/internal/ledger"
)

// PgRepository reads ledger snapshots for aggregation. A malformed source
// row is skipped with a warning instead of failing the whole computation.
type PgRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPgRepository constructs a snapshot repository.
func NewPgRepository(pool *pgxpool.Pool, logger *slog.Logger) *PgRepository {
	return &PgRepository{pool: pool, logger: logger}
}

// SnapshotInvoices returns all invoices in the ledger.
func (r *PgRepository) SnapshotInvoices(ctx context.Context) ([]ledger.Invoice, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, number, doc_type, customer_id, service_type,
			amount, currency, exchange_rate, home_equivalent,
			status, issue_date, due_date, paid_date, paid_amount,
			created_by, version, created_at, updated_at
		FROM ledger_invoices ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ledger.Invoice
	for rows.Next() {
		var inv ledger.Invoice
		var status, docType string
		var paidDate pgtype.Date
		if err := rows.Scan(
			&inv.ID, &inv.Number, &docType, &inv.CustomerID, &inv.ServiceType,
			&inv.Money.Amount, &inv.Money.Currency, &inv.Money.ExchangeRate, &inv.Money.HomeEquivalent,
			&status, &inv.IssueDate, &inv.DueDate, &paidDate, &inv.PaidAmount,
			&inv.CreatedBy, &inv.Version, &inv.CreatedAt, &inv.UpdatedAt,
		); err != nil {
			r.logger.Warn("skipping unreadable invoice row", slog.Any("error", err))
			continue
		}
		if inv.Status, err = ledger.ParseInvoiceStatus(status); err != nil {
			r.logger.Warn("skipping invoice with invalid status",
				slog.Int64("id", inv.ID), slog.String("status", status))
			continue
		}
		if inv.Type, err = ledger.ParseInvoiceType(docType); err != nil {
			r.logger.Warn("skipping invoice with invalid type",
				slog.Int64("id", inv.ID), slog.String("type", docType))
			continue
		}
		if paidDate.Valid {
			inv.PaidDate = &paidDate.Time
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// SnapshotCosts returns all cost records of one kind.
func (r *PgRepository) SnapshotCosts(ctx context.Context, kind ledger.CostKind) ([]ledger.CostRecord, error) {
	table := "ledger_expenses"
	if kind == ledger.CostKindJobCost {
		table = "ledger_job_costs"
	}
	rows, err := r.pool.Query(ctx, `SELECT id, ref, job_ref, category,
			amount, currency, exchange_rate, home_equivalent,
			approval_status, payment_status, paid_amount, spent_at,
			requested_by, version, created_at, updated_at
		FROM `+table+` ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ledger.CostRecord
	for rows.Next() {
		var c ledger.CostRecord
		c.Kind = kind
		var approval, payment string
		if err := rows.Scan(
			&c.ID, &c.Ref, &c.JobRef, &c.Category,
			&c.Money.Amount, &c.Money.Currency, &c.Money.ExchangeRate, &c.Money.HomeEquivalent,
			&approval, &payment, &c.PaidAmount, &c.SpentAt,
			&c.RequestedBy, &c.Version, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			r.logger.Warn("skipping unreadable cost row",
				slog.String("kind", string(kind)), slog.Any("error", err))
			continue
		}
		if c.ApprovalStatus, err = ledger.ParseApprovalStatus(approval); err != nil {
			r.logger.Warn("skipping cost with invalid approval status",
				slog.Int64("id", c.ID), slog.String("status", approval))
			continue
		}
		if c.PaymentStatus, err = ledger.ParsePaymentState(payment); err != nil {
			r.logger.Warn("skipping cost with invalid payment state",
				slog.Int64("id", c.ID), slog.String("state", payment))
			continue
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SnapshotPayments returns payments dated within [from, to].
func (r *PgRepository) SnapshotPayments(ctx context.Context, from, to time.Time) ([]ledger.Payment, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, reference, target_type, target_id, direction,
			amount, currency, exchange_rate, home_equivalent,
			method, paid_at, created_by, created_at
		FROM ledger_payments WHERE paid_at >= $1 AND paid_at <= $2 ORDER BY paid_at, id`,
		from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ledger.Payment
	for rows.Next() {
		var p ledger.Payment
		var target, direction string
		if err := rows.Scan(&p.ID, &p.Reference, &target, &p.TargetID, &direction,
			&p.Money.Amount, &p.Money.Currency, &p.Money.ExchangeRate, &p.Money.HomeEquivalent,
			&p.Method, &p.PaidAt, &p.CreatedBy, &p.CreatedAt); err != nil {
			r.logger.Warn("skipping unreadable payment row", slog.Any("error", err))
			continue
		}
		p.TargetType = ledger.PaymentTarget(target)
		p.Direction = ledger.PaymentDirection(direction)
		out = append(out, p)
	}
	return out, rows.Err()
}
