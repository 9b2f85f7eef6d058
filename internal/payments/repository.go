package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-retail/meridian-credit/internal/billing"
	"github.com/meridian-retail/meridian-credit/internal/platform/db"
	"github.com/meridian-retail/meridian-credit/internal/risk"
	"github.com/meridian-retail/meridian-credit/internal/shared"
)

// Repository provides PostgreSQL backed persistence for payment allocation.
type Repository struct {
	pool   *pgxpool.Pool
	scorer *risk.Scorer
}

// NewRepository constructs a repository. The scorer runs inside the
// allocation transaction.
func NewRepository(pool *pgxpool.Pool, scorer *risk.Scorer) *Repository {
	return &Repository{pool: pool, scorer: scorer}
}

type txRepo struct {
	tx     pgx.Tx
	scorer *risk.Scorer
}

// WithTx wraps callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxPort) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, scorer: r.scorer})
	})
}

// GetInvoiceForUpdate locks the invoice row for the rest of the transaction.
func (t *txRepo) GetInvoiceForUpdate(ctx context.Context, invoiceID int64) (*billing.Invoice, error) {
	var inv billing.Invoice
	err := t.tx.QueryRow(ctx,
		`SELECT id, invoice_number, sale_id, customer_id, total_amount, paid_amount,
		        remaining_balance, due_date, status, created_at, updated_at
		 FROM invoices WHERE id = $1
		 FOR UPDATE`, invoiceID).
		Scan(&inv.ID, &inv.Number, &inv.SaleID, &inv.CustomerID, &inv.TotalAmount,
			&inv.PaidAmount, &inv.RemainingBalance, &inv.DueDate, &inv.Status,
			&inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: invoice %d", shared.ErrNotFound, invoiceID)
		}
		return nil, err
	}
	return &inv, nil
}

func (t *txRepo) ListUnpaidInstallments(ctx context.Context, invoiceID int64) ([]billing.Installment, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT id, invoice_id, installment_number, due_date, amount, paid_amount, status,
		        created_at, updated_at
		 FROM installment_schedule
		 WHERE invoice_id = $1 AND status <> 'paid'
		 ORDER BY installment_number`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []billing.Installment
	for rows.Next() {
		var ins billing.Installment
		if err := rows.Scan(&ins.ID, &ins.InvoiceID, &ins.Number, &ins.DueDate,
			&ins.Amount, &ins.PaidAmount, &ins.Status, &ins.CreatedAt, &ins.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, ins)
	}
	return out, rows.Err()
}

func (t *txRepo) UpdateInstallment(ctx context.Context, id int64, paidAmount float64, status billing.InstallmentStatus) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE installment_schedule
		 SET paid_amount = $1, status = $2, updated_at = NOW()
		 WHERE id = $3`, paidAmount, status, id)
	return err
}

func (t *txRepo) UpdateInvoice(ctx context.Context, id int64, paidAmount, remaining float64, status billing.InvoiceStatus) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE invoices
		 SET paid_amount = $1, remaining_balance = $2, status = $3, updated_at = NOW()
		 WHERE id = $4`, paidAmount, remaining, status, id)
	return err
}

func (t *txRepo) InsertPayment(ctx context.Context, payment Payment) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO payments (invoice_id, amount, payment_method, payment_date, reference, notes, received_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		payment.InvoiceID, payment.Amount, payment.Method, payment.PaymentDate,
		payment.Reference, payment.Notes, payment.ReceivedBy).Scan(&id)
	return id, err
}

func (t *txRepo) RecomputeRisk(ctx context.Context, customerID int64) {
	t.scorer.Recompute(ctx, t.tx, customerID)
}

func (t *txRepo) RecordAudit(ctx context.Context, entry shared.AuditEntry) error {
	return shared.RecordAudit(ctx, t.tx, entry)
}

// GetPayment returns one payment row.
func (r *Repository) GetPayment(ctx context.Context, id int64) (*Payment, error) {
	var p Payment
	err := r.pool.QueryRow(ctx,
		`SELECT id, invoice_id, amount, payment_method, payment_date, reference, notes, received_by, created_at
		 FROM payments WHERE id = $1`, id).
		Scan(&p.ID, &p.InvoiceID, &p.Amount, &p.Method, &p.PaymentDate,
			&p.Reference, &p.Notes, &p.ReceivedBy, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: payment %d", shared.ErrNotFound, id)
		}
		return nil, err
	}
	return &p, nil
}

// ListPayments filters the payment ledger, newest first.
func (r *Repository) ListPayments(ctx context.Context, filter Filter) ([]Payment, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.InvoiceID > 0 {
		add("p.invoice_id = $%d", filter.InvoiceID)
	}
	if filter.CustomerID > 0 {
		add("i.customer_id = $%d", filter.CustomerID)
	}
	if filter.Method != "" {
		add("p.payment_method = $%d", filter.Method)
	}
	if !filter.From.IsZero() {
		add("p.payment_date >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("p.payment_date <= $%d", filter.To)
	}

	query := `SELECT p.id, p.invoice_id, p.amount, p.payment_method, p.payment_date,
	                 p.reference, p.notes, p.received_by, p.created_at
	          FROM payments p
	          JOIN invoices i ON i.id = p.invoice_id`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY p.payment_date DESC, p.id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.Amount, &p.Method, &p.PaymentDate,
			&p.Reference, &p.Notes, &p.ReceivedBy, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const dueInstallmentColumns = `
	SELECT s.id, s.invoice_id, s.installment_number, s.due_date, s.amount, s.paid_amount, s.status,
	       s.created_at, s.updated_at,
	       i.invoice_number, i.customer_id, c.name, s.amount - s.paid_amount
	FROM installment_schedule s
	JOIN invoices i ON i.id = s.invoice_id
	JOIN customers c ON c.id = i.customer_id`

// ListDueToday returns unpaid installments whose due date is today.
func (r *Repository) ListDueToday(ctx context.Context) ([]DueInstallment, error) {
	return r.queryDue(ctx, dueInstallmentColumns+`
		 WHERE s.status <> 'paid' AND s.due_date::date = CURRENT_DATE
		 ORDER BY i.customer_id, s.due_date, s.installment_number`)
}

// ListOverdue returns installments past due with an outstanding balance.
func (r *Repository) ListOverdue(ctx context.Context) ([]DueInstallment, error) {
	return r.queryDue(ctx, dueInstallmentColumns+`
		 WHERE s.status = 'overdue' AND s.paid_amount < s.amount
		 ORDER BY s.due_date, s.installment_number`)
}

func (r *Repository) queryDue(ctx context.Context, query string) ([]DueInstallment, error) {
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DueInstallment
	for rows.Next() {
		var d DueInstallment
		if err := rows.Scan(&d.ID, &d.InvoiceID, &d.Number, &d.DueDate, &d.Amount,
			&d.PaidAmount, &d.Status, &d.CreatedAt, &d.UpdatedAt,
			&d.InvoiceNumber, &d.CustomerID, &d.CustomerName, &d.Remaining); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
