package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-retail/meridian-credit/internal/platform/db"
	"github.com/meridian-retail/meridian-credit/internal/shared"
)

// Repository provides PostgreSQL backed persistence for billing operations.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxPort) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

func (t *txRepo) CustomerExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM customers WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

func (t *txRepo) GetProduct(ctx context.Context, id int64) (*Product, error) {
	var p Product
	err := t.tx.QueryRow(ctx,
		`SELECT id, name, selling_price, stock_quantity, is_active
		 FROM products WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.SellingPrice, &p.StockQuantity, &p.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: product %d", shared.ErrNotFound, id)
		}
		return nil, err
	}
	return &p, nil
}

// DecrementStock is the compare-and-swap guard against concurrent sales: the
// decrement only lands when sufficient stock remains, and zero affected rows
// means another transaction consumed it first.
func (t *txRepo) DecrementStock(ctx context.Context, productID int64, quantity int) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE products
		 SET stock_quantity = stock_quantity - $1, updated_at = NOW()
		 WHERE id = $2 AND stock_quantity >= $1`,
		quantity, productID)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: product %d", ErrStockConflict, productID)
	}
	return nil
}

func (t *txRepo) CreateSale(ctx context.Context, sale Sale) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO sales (sale_number, customer_id, sale_date, total_amount, payment_plan,
		                    installment_duration, payment_day_of_month, monthly_installment,
		                    status, created_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id`,
		sale.Number, sale.CustomerID, sale.SaleDate, sale.TotalAmount, sale.PaymentPlan,
		sale.InstallmentDuration, sale.PaymentDayOfMonth, sale.MonthlyInstallment,
		sale.Status, sale.CreatedBy).Scan(&id)
	return id, err
}

func (t *txRepo) InsertSaleItem(ctx context.Context, item SaleItem) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO sales_items (sale_id, product_id, product_name, quantity, unit_price, total_price)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		item.SaleID, item.ProductID, item.ProductName, item.Quantity, item.UnitPrice, item.TotalPrice)
	return err
}

// NextInvoiceNumber allocates from a sequence re-seeded to the current
// maximum so numbering survives rows inserted outside the sequence.
func (t *txRepo) NextInvoiceNumber(ctx context.Context) (string, error) {
	if _, err := t.tx.Exec(ctx,
		`CREATE SEQUENCE IF NOT EXISTS invoice_number_seq START 1`); err != nil {
		return "", err
	}
	var currentMax int64
	if err := t.tx.QueryRow(ctx,
		`SELECT COALESCE(MAX((regexp_replace(invoice_number, '^INV-', ''))::bigint), 0)
		 FROM invoices`).Scan(&currentMax); err != nil {
		return "", err
	}
	if currentMax > 0 {
		if _, err := t.tx.Exec(ctx, `SELECT setval('invoice_number_seq', $1)`, currentMax); err != nil {
			return "", err
		}
	}
	var seq int64
	if err := t.tx.QueryRow(ctx, `SELECT nextval('invoice_number_seq')`).Scan(&seq); err != nil {
		return "", err
	}
	return fmt.Sprintf("INV-%06d", seq), nil
}

func (t *txRepo) CreateInvoice(ctx context.Context, invoice Invoice) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO invoices (invoice_number, sale_id, customer_id, total_amount, paid_amount,
		                       remaining_balance, due_date, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		invoice.Number, invoice.SaleID, invoice.CustomerID, invoice.TotalAmount,
		invoice.PaidAmount, invoice.RemainingBalance, invoice.DueDate, invoice.Status).Scan(&id)
	return id, err
}

func (t *txRepo) InsertInstallment(ctx context.Context, installment Installment) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO installment_schedule (invoice_id, installment_number, due_date, amount, paid_amount, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		installment.InvoiceID, installment.Number, installment.DueDate,
		installment.Amount, installment.PaidAmount, installment.Status).Scan(&id)
	return id, err
}

func (t *txRepo) RecordAudit(ctx context.Context, entry shared.AuditEntry) error {
	return shared.RecordAudit(ctx, t.tx, entry)
}

// GetSale returns the sale with items, invoice and installment schedule.
func (r *Repository) GetSale(ctx context.Context, id int64) (*SaleWithDetails, error) {
	var s SaleWithDetails
	err := r.pool.QueryRow(ctx,
		`SELECT id, sale_number, customer_id, sale_date, total_amount, payment_plan,
		        installment_duration, payment_day_of_month, monthly_installment,
		        status, created_by, created_at, updated_at
		 FROM sales WHERE id = $1`, id).
		Scan(&s.ID, &s.Number, &s.CustomerID, &s.SaleDate, &s.TotalAmount, &s.PaymentPlan,
			&s.InstallmentDuration, &s.PaymentDayOfMonth, &s.MonthlyInstallment,
			&s.Status, &s.CreatedBy, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: sale %d", shared.ErrNotFound, id)
		}
		return nil, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, sale_id, product_id, product_name, quantity, unit_price, total_price
		 FROM sales_items WHERE sale_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var item SaleItem
		if err := rows.Scan(&item.ID, &item.SaleID, &item.ProductID, &item.ProductName,
			&item.Quantity, &item.UnitPrice, &item.TotalPrice); err != nil {
			return nil, err
		}
		s.Items = append(s.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var inv Invoice
	err = r.pool.QueryRow(ctx,
		`SELECT id, invoice_number, sale_id, customer_id, total_amount, paid_amount,
		        remaining_balance, due_date, status, created_at, updated_at
		 FROM invoices WHERE sale_id = $1`, id).
		Scan(&inv.ID, &inv.Number, &inv.SaleID, &inv.CustomerID, &inv.TotalAmount,
			&inv.PaidAmount, &inv.RemainingBalance, &inv.DueDate, &inv.Status,
			&inv.CreatedAt, &inv.UpdatedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return &s, nil
	case err != nil:
		return nil, err
	}
	s.Invoice = &inv

	instRows, err := r.pool.Query(ctx,
		`SELECT id, invoice_id, installment_number, due_date, amount, paid_amount, status,
		        created_at, updated_at
		 FROM installment_schedule WHERE invoice_id = $1 ORDER BY installment_number`, inv.ID)
	if err != nil {
		return nil, err
	}
	defer instRows.Close()
	for instRows.Next() {
		var ins Installment
		if err := instRows.Scan(&ins.ID, &ins.InvoiceID, &ins.Number, &ins.DueDate,
			&ins.Amount, &ins.PaidAmount, &ins.Status, &ins.CreatedAt, &ins.UpdatedAt); err != nil {
			return nil, err
		}
		s.Installments = append(s.Installments, ins)
	}
	if err := instRows.Err(); err != nil {
		return nil, err
	}
	return &s, nil
}

// CancelSale soft-cancels the sale. Stock and payments are not reversed.
func (r *Repository) CancelSale(ctx context.Context, id int64) (*Sale, error) {
	var s Sale
	err := r.pool.QueryRow(ctx,
		`UPDATE sales SET status = $1, updated_at = NOW()
		 WHERE id = $2
		 RETURNING id, sale_number, customer_id, sale_date, total_amount, payment_plan,
		           installment_duration, payment_day_of_month, monthly_installment,
		           status, created_by, created_at, updated_at`,
		SaleStatusCancelled, id).
		Scan(&s.ID, &s.Number, &s.CustomerID, &s.SaleDate, &s.TotalAmount, &s.PaymentPlan,
			&s.InstallmentDuration, &s.PaymentDayOfMonth, &s.MonthlyInstallment,
			&s.Status, &s.CreatedBy, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: sale %d", shared.ErrNotFound, id)
		}
		return nil, err
	}
	return &s, nil
}
