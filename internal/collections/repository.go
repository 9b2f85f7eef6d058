package collections

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-retail/meridian-credit/internal/risk"
	"github.com/meridian-retail/meridian-credit/internal/shared"
)

// Repository provides PostgreSQL backed persistence for the sweep and the
// escalation workflow. It implements both SweepStore and RecordStore.
type Repository struct {
	pool   *pgxpool.Pool
	scorer *risk.Scorer
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool, scorer *risk.Scorer) *Repository {
	return &Repository{pool: pool, scorer: scorer}
}

// MarkOverdueInvoices flips every past-due invoice with an outstanding
// balance. The predicate only matches pre-overdue states, so re-running on
// the same day touches nothing.
func (r *Repository) MarkOverdueInvoices(ctx context.Context) (int, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE invoices
		 SET status = 'overdue', updated_at = NOW()
		 WHERE status IN ('pending', 'partial')
		   AND due_date::date < CURRENT_DATE
		   AND remaining_balance > 0`)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// MarkOverdueInstallments flips past-due pending installments and returns
// them with the invoice context needed for late-payment materialization.
func (r *Repository) MarkOverdueInstallments(ctx context.Context) ([]SweptInstallment, error) {
	rows, err := r.pool.Query(ctx,
		`WITH swept AS (
		     UPDATE installment_schedule s
		     SET status = 'overdue', updated_at = NOW()
		     WHERE s.status = 'pending'
		       AND s.due_date::date < CURRENT_DATE
		       AND s.paid_amount < s.amount
		     RETURNING s.id, s.invoice_id, s.amount, s.paid_amount, s.due_date
		 )
		 SELECT sw.id, sw.invoice_id, i.customer_id, sw.amount, sw.paid_amount, sw.due_date,
		        COALESCE(sl.sale_date, i.created_at),
		        (SELECT MAX(p.payment_date) FROM payments p WHERE p.invoice_id = sw.invoice_id)
		 FROM swept sw
		 JOIN invoices i ON i.id = sw.invoice_id
		 LEFT JOIN sales sl ON sl.id = i.sale_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SweptInstallment
	for rows.Next() {
		var s SweptInstallment
		if err := rows.Scan(&s.InstallmentID, &s.InvoiceID, &s.CustomerID, &s.Amount,
			&s.PaidAmount, &s.DueDate, &s.InvoiceDate, &s.LastPaymentDate); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repository) HasRecordForInstallment(ctx context.Context, installmentID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM late_payments WHERE installment_id = $1)`,
		installmentID).Scan(&exists)
	return exists, err
}

func (r *Repository) CreateRecord(ctx context.Context, record LatePayment) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO late_payments (installment_id, invoice_id, customer_id, amount_due,
		                            days_overdue, priority, status, last_payment_date, notes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id`,
		record.InstallmentID, record.InvoiceID, record.CustomerID, record.AmountDue,
		record.DaysOverdue, record.Priority, record.Status, record.LastPaymentDate,
		record.Notes).Scan(&id)
	return id, err
}

const latePaymentColumns = `lp.id, lp.installment_id, lp.invoice_id, lp.customer_id, lp.amount_due,
	lp.days_overdue, lp.priority, lp.status, lp.last_payment_date, lp.notes,
	lp.resolved_at, lp.created_at, lp.updated_at`

// ListUnresolved returns every live record with fresh invoice context so the
// sweeper can recompute its aging.
func (r *Repository) ListUnresolved(ctx context.Context) ([]UnresolvedRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+latePaymentColumns+`,
		        COALESCE(sl.sale_date, i.created_at),
		        (SELECT MAX(p.payment_date) FROM payments p WHERE p.invoice_id = lp.invoice_id)
		 FROM late_payments lp
		 JOIN invoices i ON i.id = lp.invoice_id
		 LEFT JOIN sales sl ON sl.id = i.sale_id
		 WHERE lp.status <> 'resolved'
		 ORDER BY lp.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UnresolvedRecord
	for rows.Next() {
		var u UnresolvedRecord
		if err := scanLatePayment(rows, &u.LatePayment, &u.InvoiceDate, &u.LastPaymentDate); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *Repository) UpdateAging(ctx context.Context, id int64, daysOverdue int, priority Priority, lastPayment *time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE late_payments
		 SET days_overdue = $1, priority = $2, last_payment_date = $3, updated_at = NOW()
		 WHERE id = $4 AND status <> 'resolved'`,
		daysOverdue, priority, lastPayment, id)
	return err
}

func (r *Repository) ListRiskCustomers(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT i.customer_id
		 FROM invoices i
		 JOIN customers c ON c.id = i.customer_id
		 WHERE c.flag_override = FALSE`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *Repository) RecomputeRisk(ctx context.Context, customerID int64) {
	r.scorer.Recompute(ctx, r.pool, customerID)
}

// GetRecord returns one late-payment record.
func (r *Repository) GetRecord(ctx context.Context, id int64) (*LatePayment, error) {
	var lp LatePayment
	err := r.pool.QueryRow(ctx,
		`SELECT `+latePaymentColumns+` FROM late_payments lp WHERE lp.id = $1`, id).
		Scan(&lp.ID, &lp.InstallmentID, &lp.InvoiceID, &lp.CustomerID, &lp.AmountDue,
			&lp.DaysOverdue, &lp.Priority, &lp.Status, &lp.LastPaymentDate, &lp.Notes,
			&lp.ResolvedAt, &lp.CreatedAt, &lp.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: late payment %d", shared.ErrNotFound, id)
		}
		return nil, err
	}
	return &lp, nil
}

// SetStatus transitions one record. Empty notes leave the stored notes
// untouched.
func (r *Repository) SetStatus(ctx context.Context, id int64, status Status, notes string, resolvedAt *time.Time) (*LatePayment, error) {
	var lp LatePayment
	err := r.pool.QueryRow(ctx,
		`UPDATE late_payments lp
		 SET status = $1,
		     notes = CASE WHEN $2 <> '' THEN $2 ELSE notes END,
		     resolved_at = $3,
		     updated_at = NOW()
		 WHERE id = $4
		 RETURNING `+latePaymentColumns,
		status, notes, resolvedAt, id).
		Scan(&lp.ID, &lp.InstallmentID, &lp.InvoiceID, &lp.CustomerID, &lp.AmountDue,
			&lp.DaysOverdue, &lp.Priority, &lp.Status, &lp.LastPaymentDate, &lp.Notes,
			&lp.ResolvedAt, &lp.CreatedAt, &lp.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: late payment %d", shared.ErrNotFound, id)
		}
		return nil, err
	}
	return &lp, nil
}

// BulkEscalate escalates pending records at or past the threshold, appending
// the marker to existing notes.
func (r *Repository) BulkEscalate(ctx context.Context, daysThreshold int, marker string) (int, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE late_payments
		 SET status = 'escalated',
		     notes = COALESCE(notes, '') || $1,
		     updated_at = NOW()
		 WHERE status = 'pending' AND days_overdue >= $2`,
		marker, daysThreshold)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// ListRecords filters the queue, most overdue first.
func (r *Repository) ListRecords(ctx context.Context, filter Filter) ([]LatePayment, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.Status != "" {
		add("lp.status = $%d", filter.Status)
	}
	if filter.Priority != "" {
		add("lp.priority = $%d", filter.Priority)
	}
	if filter.CustomerID > 0 {
		add("lp.customer_id = $%d", filter.CustomerID)
	}

	query := `SELECT ` + latePaymentColumns + ` FROM late_payments lp`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY lp.days_overdue DESC, lp.id LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LatePayment
	for rows.Next() {
		var lp LatePayment
		if err := rows.Scan(&lp.ID, &lp.InstallmentID, &lp.InvoiceID, &lp.CustomerID, &lp.AmountDue,
			&lp.DaysOverdue, &lp.Priority, &lp.Status, &lp.LastPaymentDate, &lp.Notes,
			&lp.ResolvedAt, &lp.CreatedAt, &lp.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, lp)
	}
	return out, rows.Err()
}

// GetStats summarizes the queue in one aggregate pass.
func (r *Repository) GetStats(ctx context.Context) (*Stats, error) {
	var st Stats
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FILTER (WHERE status = 'pending'),
		        COUNT(*) FILTER (WHERE status = 'escalated'),
		        COUNT(*) FILTER (WHERE status = 'resolved'),
		        COUNT(*) FILTER (WHERE priority = 'high_priority' AND status <> 'resolved'),
		        COALESCE(SUM(amount_due) FILTER (WHERE status <> 'resolved'), 0)
		 FROM late_payments`).
		Scan(&st.TotalPending, &st.TotalEscalated, &st.TotalResolved,
			&st.HighPriority, &st.TotalAmountDue)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// TopDefaulters ranks customers by open late-payment exposure.
func (r *Repository) TopDefaulters(ctx context.Context, limit int) ([]Defaulter, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT lp.customer_id, c.name, COUNT(*), SUM(lp.amount_due), MAX(lp.days_overdue)
		 FROM late_payments lp
		 JOIN customers c ON c.id = lp.customer_id
		 WHERE lp.status <> 'resolved'
		 GROUP BY lp.customer_id, c.name
		 ORDER BY SUM(lp.amount_due) DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Defaulter
	for rows.Next() {
		var d Defaulter
		if err := rows.Scan(&d.CustomerID, &d.CustomerName, &d.OpenRecords,
			&d.TotalAmountDue, &d.MaxDaysOverdue); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *Repository) RecordAudit(ctx context.Context, entry shared.AuditEntry) error {
	return shared.RecordAudit(ctx, r.pool, entry)
}

func scanLatePayment(rows pgx.Rows, lp *LatePayment, invoiceDate *time.Time, lastPayment **time.Time) error {
	return rows.Scan(&lp.ID, &lp.InstallmentID, &lp.InvoiceID, &lp.CustomerID, &lp.AmountDue,
		&lp.DaysOverdue, &lp.Priority, &lp.Status, &lp.LastPaymentDate, &lp.Notes,
		&lp.ResolvedAt, &lp.CreatedAt, &lp.UpdatedAt, invoiceDate, lastPayment)
}
