package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridian-retail/meridian-credit/internal/platform/cache"
	"github.com/meridian-retail/meridian-credit/internal/shared"
)

var (
	// ErrInactiveProduct rejects sales against disabled products.
	ErrInactiveProduct = fmt.Errorf("%w: product is not active", shared.ErrValidation)
	// ErrInsufficientStock rejects quantities exceeding available stock.
	ErrInsufficientStock = fmt.Errorf("%w: insufficient stock", shared.ErrConflict)
	// ErrStockConflict signals that a concurrent sale consumed the stock
	// between the availability check and the conditional decrement.
	ErrStockConflict = fmt.Errorf("%w: concurrent stock update", shared.ErrConflict)
)

// RepositoryPort defines non-transactional reads for billing.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxPort) error) error
	GetSale(ctx context.Context, id int64) (*SaleWithDetails, error)
	CancelSale(ctx context.Context, id int64) (*Sale, error)
}

// TxPort exposes the operations available inside the sale transaction.
type TxPort interface {
	CustomerExists(ctx context.Context, id int64) (bool, error)
	GetProduct(ctx context.Context, id int64) (*Product, error)
	DecrementStock(ctx context.Context, productID int64, quantity int) error
	CreateSale(ctx context.Context, sale Sale) (int64, error)
	InsertSaleItem(ctx context.Context, item SaleItem) error
	NextInvoiceNumber(ctx context.Context) (string, error)
	CreateInvoice(ctx context.Context, invoice Invoice) (int64, error)
	InsertInstallment(ctx context.Context, installment Installment) (int64, error)
	RecordAudit(ctx context.Context, entry shared.AuditEntry) error
}

// Service turns validated sales into invoices and installment schedules.
type Service struct {
	repo        RepositoryPort
	invalidator *cache.Invalidator
	logger      *slog.Logger
	now         func() time.Time
}

// NewService constructs a billing service.
func NewService(repo RepositoryPort, invalidator *cache.Invalidator, logger *slog.Logger) *Service {
	return &Service{
		repo:        repo,
		invalidator: invalidator,
		logger:      logger,
		now:         time.Now,
	}
}

// CreateSale records a sale, decrements stock, and generates the invoice and
// installment schedule in one transaction. Any failure rolls everything back.
func (s *Service) CreateSale(ctx context.Context, req CreateSaleRequest, createdBy int64) (*CreateSaleResult, error) {
	if err := validatePlan(req); err != nil {
		return nil, err
	}

	saleDate := s.now()
	if req.SaleDate != nil && !req.SaleDate.IsZero() {
		saleDate = *req.SaleDate
	}
	payDay := req.PaymentDayOfMonth
	if payDay == 0 {
		payDay = 1
	}

	result := &CreateSaleResult{}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxPort) error {
		exists, err := tx.CustomerExists(ctx, req.CustomerID)
		if err != nil {
			return fmt.Errorf("check customer: %w", err)
		}
		if !exists {
			return fmt.Errorf("%w: customer %d", shared.ErrNotFound, req.CustomerID)
		}

		items, total, err := s.priceItems(ctx, tx, req.Items)
		if err != nil {
			return err
		}
		if total <= 0 {
			return fmt.Errorf("%w: total amount must be greater than 0", shared.ErrValidation)
		}
		if req.DownPayment > total {
			return fmt.Errorf("%w: down payment %s exceeds total %s",
				shared.ErrValidation, shared.FormatAmount(req.DownPayment), shared.FormatAmount(total))
		}
		remaining := Round2(total - req.DownPayment)

		sale := Sale{
			Number:      fmt.Sprintf("SALE-%d%d", s.now().UnixMilli(), req.CustomerID),
			CustomerID:  req.CustomerID,
			SaleDate:    saleDate,
			TotalAmount: total,
			PaymentPlan: req.PaymentPlan,
			Status:      SaleStatusCompleted,
			CreatedBy:   createdBy,
		}
		if req.PaymentPlan == PlanInstallment {
			duration := req.InstallmentDuration
			monthly := MonthlyInstallment(remaining, duration)
			sale.InstallmentDuration = &duration
			sale.PaymentDayOfMonth = &payDay
			sale.MonthlyInstallment = &monthly
		}

		saleID, err := tx.CreateSale(ctx, sale)
		if err != nil {
			return fmt.Errorf("create sale: %w", err)
		}
		sale.ID = saleID

		for i := range items {
			items[i].SaleID = saleID
			if err := tx.InsertSaleItem(ctx, items[i]); err != nil {
				return fmt.Errorf("insert sale item: %w", err)
			}
			if err := tx.DecrementStock(ctx, items[i].ProductID, items[i].Quantity); err != nil {
				return err
			}
		}
		sale.Items = items

		number, err := tx.NextInvoiceNumber(ctx)
		if err != nil {
			return fmt.Errorf("next invoice number: %w", err)
		}

		invoice := Invoice{
			Number:           number,
			SaleID:           saleID,
			CustomerID:       req.CustomerID,
			TotalAmount:      total,
			PaidAmount:       req.DownPayment,
			RemainingBalance: remaining,
			DueDate:          invoiceDueDate(saleDate, req.PaymentPlan),
			Status:           InvoiceStatusPending,
		}
		if remaining == 0 {
			invoice.Status = InvoiceStatusPaid
		}
		invoiceID, err := tx.CreateInvoice(ctx, invoice)
		if err != nil {
			return fmt.Errorf("create invoice: %w", err)
		}
		invoice.ID = invoiceID

		var installments []Installment
		if req.PaymentPlan == PlanInstallment && remaining > 0 {
			installments, err = BuildSchedule(saleDate, remaining, req.InstallmentDuration, payDay)
			if err != nil {
				return err
			}
			for i := range installments {
				installments[i].InvoiceID = invoiceID
				id, err := tx.InsertInstallment(ctx, installments[i])
				if err != nil {
					return fmt.Errorf("insert installment: %w", err)
				}
				installments[i].ID = id
			}
		}

		if err := tx.RecordAudit(ctx, shared.AuditEntry{
			ActorID:  createdBy,
			Action:   "CREATE_SALE",
			Entity:   "sale",
			EntityID: fmt.Sprintf("%d", saleID),
			Meta: map[string]any{
				"sale_number":  sale.Number,
				"invoice":      invoice.Number,
				"total_amount": total,
				"payment_plan": string(req.PaymentPlan),
			},
		}); err != nil {
			return fmt.Errorf("audit sale: %w", err)
		}

		result.Sale = &sale
		result.Invoice = &invoice
		result.Installments = installments
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidator.InvalidatePrefixes(ctx,
		cache.PrefixSales, cache.PrefixInvoices, cache.PrefixProducts)
	return result, nil
}

// CancelSale flips the sale to cancelled. Stock and recorded payments are
// intentionally left untouched.
func (s *Service) CancelSale(ctx context.Context, id int64, cancelledBy int64) (*Sale, error) {
	sale, err := s.repo.CancelSale(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.auditBestEffort(ctx, cancelledBy, "CANCEL_SALE", id); err != nil {
		s.logger.Warn("audit cancel sale", slog.Int64("sale_id", id), slog.Any("error", err))
	}
	s.invalidator.InvalidatePrefixes(ctx, cache.PrefixSales)
	return sale, nil
}

// GetSale returns a sale with its invoice and installment schedule.
func (s *Service) GetSale(ctx context.Context, id int64) (*SaleWithDetails, error) {
	return s.repo.GetSale(ctx, id)
}

func (s *Service) priceItems(ctx context.Context, tx TxPort, reqs []CreateSaleItemReq) ([]SaleItem, float64, error) {
	items := make([]SaleItem, 0, len(reqs))
	var total float64
	for _, r := range reqs {
		product, err := tx.GetProduct(ctx, r.ProductID)
		if err != nil {
			return nil, 0, fmt.Errorf("get product %d: %w", r.ProductID, err)
		}
		if !product.IsActive {
			return nil, 0, fmt.Errorf("%w: %q", ErrInactiveProduct, product.Name)
		}
		if product.StockQuantity < r.Quantity {
			return nil, 0, fmt.Errorf("%w: product %q has %d in stock, requested %d",
				ErrInsufficientStock, product.Name, product.StockQuantity, r.Quantity)
		}
		lineTotal := product.SellingPrice * float64(r.Quantity)
		total += lineTotal
		items = append(items, SaleItem{
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    r.Quantity,
			UnitPrice:   product.SellingPrice,
			TotalPrice:  lineTotal,
		})
	}
	return items, total, nil
}

func (s *Service) auditBestEffort(ctx context.Context, actorID int64, action string, saleID int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxPort) error {
		return tx.RecordAudit(ctx, shared.AuditEntry{
			ActorID:  actorID,
			Action:   action,
			Entity:   "sale",
			EntityID: fmt.Sprintf("%d", saleID),
		})
	})
}

func validatePlan(req CreateSaleRequest) error {
	switch req.PaymentPlan {
	case PlanCash, PlanCredit, PlanInstallment:
	default:
		return fmt.Errorf("%w: payment plan must be cash, credit or installment", shared.ErrValidation)
	}
	if req.PaymentPlan == PlanInstallment {
		if req.InstallmentDuration < 1 || req.InstallmentDuration > 6 {
			return fmt.Errorf("%w: installment duration must be between 1 and 6 months", shared.ErrValidation)
		}
		if req.PaymentDayOfMonth != 0 && (req.PaymentDayOfMonth < 1 || req.PaymentDayOfMonth > 28) {
			return fmt.Errorf("%w: payment day of month must be between 1 and 28", shared.ErrValidation)
		}
	}
	if len(req.Items) == 0 {
		return fmt.Errorf("%w: at least one item is required", shared.ErrValidation)
	}
	for _, item := range req.Items {
		if item.ProductID <= 0 || item.Quantity <= 0 {
			return fmt.Errorf("%w: each item requires a product_id and quantity > 0", shared.ErrValidation)
		}
	}
	if req.DownPayment < 0 {
		return fmt.Errorf("%w: down payment cannot be negative", shared.ErrValidation)
	}
	return nil
}

func invoiceDueDate(saleDate time.Time, plan PaymentPlan) time.Time {
	if plan == PlanCash {
		return saleDate
	}
	return saleDate.AddDate(0, 1, 0)
}
