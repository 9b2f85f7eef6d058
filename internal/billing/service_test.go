package billing

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-retail/meridian-credit/internal/shared"
)

type memoryBillingRepo struct {
	products     map[int64]*Product
	customers    map[int64]bool
	sales        map[int64]*Sale
	items        map[int64][]SaleItem
	invoices     map[int64]*Invoice
	installments map[int64][]Installment
	audits       []shared.AuditEntry

	nextSaleID    int64
	nextInvoiceID int64
	nextInstallID int64
	invoiceSeq    int64
	failOn        string
}

func newMemoryBillingRepo() *memoryBillingRepo {
	return &memoryBillingRepo{
		products:     make(map[int64]*Product),
		customers:    make(map[int64]bool),
		sales:        make(map[int64]*Sale),
		items:        make(map[int64][]SaleItem),
		invoices:     make(map[int64]*Invoice),
		installments: make(map[int64][]Installment),
	}
}

// WithTx snapshots state and restores it on failure, mimicking a rollback.
func (r *memoryBillingRepo) WithTx(ctx context.Context, fn func(context.Context, TxPort) error) error {
	snapshot := r.clone()
	if err := fn(ctx, r); err != nil {
		*r = *snapshot
		return err
	}
	return nil
}

func (r *memoryBillingRepo) clone() *memoryBillingRepo {
	c := newMemoryBillingRepo()
	for k, v := range r.products {
		p := *v
		c.products[k] = &p
	}
	for k, v := range r.customers {
		c.customers[k] = v
	}
	for k, v := range r.sales {
		s := *v
		c.sales[k] = &s
	}
	for k, v := range r.items {
		c.items[k] = append([]SaleItem(nil), v...)
	}
	for k, v := range r.invoices {
		inv := *v
		c.invoices[k] = &inv
	}
	for k, v := range r.installments {
		c.installments[k] = append([]Installment(nil), v...)
	}
	c.audits = append([]shared.AuditEntry(nil), r.audits...)
	c.nextSaleID = r.nextSaleID
	c.nextInvoiceID = r.nextInvoiceID
	c.nextInstallID = r.nextInstallID
	c.invoiceSeq = r.invoiceSeq
	c.failOn = r.failOn
	return c
}

func (r *memoryBillingRepo) CustomerExists(ctx context.Context, id int64) (bool, error) {
	return r.customers[id], nil
}

func (r *memoryBillingRepo) GetProduct(ctx context.Context, id int64) (*Product, error) {
	p, ok := r.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: product %d", shared.ErrNotFound, id)
	}
	cp := *p
	return &cp, nil
}

func (r *memoryBillingRepo) DecrementStock(ctx context.Context, productID int64, quantity int) error {
	p := r.products[productID]
	if p == nil || p.StockQuantity < quantity {
		return fmt.Errorf("%w: product %d", ErrStockConflict, productID)
	}
	p.StockQuantity -= quantity
	return nil
}

func (r *memoryBillingRepo) CreateSale(ctx context.Context, sale Sale) (int64, error) {
	r.nextSaleID++
	sale.ID = r.nextSaleID
	r.sales[sale.ID] = &sale
	return sale.ID, nil
}

func (r *memoryBillingRepo) InsertSaleItem(ctx context.Context, item SaleItem) error {
	r.items[item.SaleID] = append(r.items[item.SaleID], item)
	return nil
}

func (r *memoryBillingRepo) NextInvoiceNumber(ctx context.Context) (string, error) {
	r.invoiceSeq++
	return fmt.Sprintf("INV-%06d", r.invoiceSeq), nil
}

func (r *memoryBillingRepo) CreateInvoice(ctx context.Context, invoice Invoice) (int64, error) {
	r.nextInvoiceID++
	invoice.ID = r.nextInvoiceID
	r.invoices[invoice.ID] = &invoice
	return invoice.ID, nil
}

func (r *memoryBillingRepo) InsertInstallment(ctx context.Context, installment Installment) (int64, error) {
	if r.failOn == "installment" {
		return 0, fmt.Errorf("simulated insert failure")
	}
	r.nextInstallID++
	installment.ID = r.nextInstallID
	r.installments[installment.InvoiceID] = append(r.installments[installment.InvoiceID], installment)
	return installment.ID, nil
}

func (r *memoryBillingRepo) RecordAudit(ctx context.Context, entry shared.AuditEntry) error {
	r.audits = append(r.audits, entry)
	return nil
}

func (r *memoryBillingRepo) GetSale(ctx context.Context, id int64) (*SaleWithDetails, error) {
	s, ok := r.sales[id]
	if !ok {
		return nil, fmt.Errorf("%w: sale %d", shared.ErrNotFound, id)
	}
	return &SaleWithDetails{Sale: *s}, nil
}

func (r *memoryBillingRepo) CancelSale(ctx context.Context, id int64) (*Sale, error) {
	s, ok := r.sales[id]
	if !ok {
		return nil, fmt.Errorf("%w: sale %d", shared.ErrNotFound, id)
	}
	s.Status = SaleStatusCancelled
	return s, nil
}

func newBillingService(repo *memoryBillingRepo) *Service {
	svc := NewService(repo, nil, slog.Default())
	svc.now = func() time.Time { return time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC) }
	return svc
}

func seedRepo() *memoryBillingRepo {
	repo := newMemoryBillingRepo()
	repo.customers[7] = true
	repo.products[1] = &Product{ID: 1, Name: "Teak Wardrobe", SellingPrice: 50000, StockQuantity: 10, IsActive: true}
	repo.products[2] = &Product{ID: 2, Name: "Sofa Set", SellingPrice: 25000, StockQuantity: 3, IsActive: true}
	repo.products[3] = &Product{ID: 3, Name: "Discontinued Chair", SellingPrice: 4000, StockQuantity: 5, IsActive: false}
	return repo
}

func TestCreateSaleInstallmentPlan(t *testing.T) {
	ctx := context.Background()
	repo := seedRepo()
	svc := newBillingService(repo)

	result, err := svc.CreateSale(ctx, CreateSaleRequest{
		CustomerID:          7,
		Items:               []CreateSaleItemReq{{ProductID: 1, Quantity: 2}},
		PaymentPlan:         PlanInstallment,
		InstallmentDuration: 3,
		PaymentDayOfMonth:   15,
		DownPayment:         10000,
	}, 42)
	require.NoError(t, err)

	require.Equal(t, 100000.0, result.Sale.TotalAmount)
	require.Equal(t, SaleStatusCompleted, result.Sale.Status)
	require.NotNil(t, result.Sale.MonthlyInstallment)
	require.InDelta(t, 30000.0, *result.Sale.MonthlyInstallment, 0.001)

	require.Equal(t, "INV-000001", result.Invoice.Number)
	require.Equal(t, 10000.0, result.Invoice.PaidAmount)
	require.InDelta(t, 90000.0, result.Invoice.RemainingBalance, 0.001)
	require.Equal(t, InvoiceStatusPending, result.Invoice.Status)

	require.Len(t, result.Installments, 3)
	var sum float64
	for i, ins := range result.Installments {
		require.Equal(t, i+1, ins.Number)
		require.Equal(t, 15, ins.DueDate.Day())
		sum += ins.Amount
	}
	require.InDelta(t, 90000.0, sum, 0.001)

	require.Equal(t, 8, repo.products[1].StockQuantity)
	require.Len(t, repo.audits, 1)
	require.Equal(t, "CREATE_SALE", repo.audits[0].Action)
}

func TestCreateSaleCashDueImmediately(t *testing.T) {
	ctx := context.Background()
	repo := seedRepo()
	svc := newBillingService(repo)

	result, err := svc.CreateSale(ctx, CreateSaleRequest{
		CustomerID:  7,
		Items:       []CreateSaleItemReq{{ProductID: 2, Quantity: 1}},
		PaymentPlan: PlanCash,
	}, 42)
	require.NoError(t, err)
	require.Equal(t, result.Sale.SaleDate, result.Invoice.DueDate)
	require.Empty(t, result.Installments)
}

func TestCreateSaleFullDownPaymentIsPaid(t *testing.T) {
	ctx := context.Background()
	repo := seedRepo()
	svc := newBillingService(repo)

	result, err := svc.CreateSale(ctx, CreateSaleRequest{
		CustomerID:  7,
		Items:       []CreateSaleItemReq{{ProductID: 2, Quantity: 1}},
		PaymentPlan: PlanCash,
		DownPayment: 25000,
	}, 42)
	require.NoError(t, err)
	require.Equal(t, InvoiceStatusPaid, result.Invoice.Status)
	require.Equal(t, 0.0, result.Invoice.RemainingBalance)
}

func TestCreateSaleInsufficientStock(t *testing.T) {
	ctx := context.Background()
	repo := seedRepo()
	svc := newBillingService(repo)

	_, err := svc.CreateSale(ctx, CreateSaleRequest{
		CustomerID:  7,
		Items:       []CreateSaleItemReq{{ProductID: 2, Quantity: 4}},
		PaymentPlan: PlanCash,
	}, 42)
	require.ErrorIs(t, err, shared.ErrConflict)
	require.Contains(t, err.Error(), "Sofa Set")
	require.Equal(t, 3, repo.products[2].StockQuantity)
}

func TestCreateSaleInactiveProduct(t *testing.T) {
	ctx := context.Background()
	repo := seedRepo()
	svc := newBillingService(repo)

	_, err := svc.CreateSale(ctx, CreateSaleRequest{
		CustomerID:  7,
		Items:       []CreateSaleItemReq{{ProductID: 3, Quantity: 1}},
		PaymentPlan: PlanCash,
	}, 42)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Contains(t, err.Error(), "not active")
}

func TestCreateSaleDownPaymentExceedsTotal(t *testing.T) {
	ctx := context.Background()
	repo := seedRepo()
	svc := newBillingService(repo)

	_, err := svc.CreateSale(ctx, CreateSaleRequest{
		CustomerID:  7,
		Items:       []CreateSaleItemReq{{ProductID: 2, Quantity: 1}},
		PaymentPlan: PlanCash,
		DownPayment: 30000,
	}, 42)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreateSaleInstallmentDurationRange(t *testing.T) {
	ctx := context.Background()
	repo := seedRepo()
	svc := newBillingService(repo)

	for _, duration := range []int{0, 7} {
		_, err := svc.CreateSale(ctx, CreateSaleRequest{
			CustomerID:          7,
			Items:               []CreateSaleItemReq{{ProductID: 1, Quantity: 1}},
			PaymentPlan:         PlanInstallment,
			InstallmentDuration: duration,
		}, 42)
		require.ErrorIs(t, err, shared.ErrValidation, "duration=%d", duration)
	}
}

func TestCreateSaleUnknownCustomer(t *testing.T) {
	ctx := context.Background()
	repo := seedRepo()
	svc := newBillingService(repo)

	_, err := svc.CreateSale(ctx, CreateSaleRequest{
		CustomerID:  999,
		Items:       []CreateSaleItemReq{{ProductID: 1, Quantity: 1}},
		PaymentPlan: PlanCash,
	}, 42)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCreateSaleRollsBackStockOnFailure(t *testing.T) {
	ctx := context.Background()
	repo := seedRepo()
	repo.failOn = "installment"
	svc := newBillingService(repo)

	_, err := svc.CreateSale(ctx, CreateSaleRequest{
		CustomerID:          7,
		Items:               []CreateSaleItemReq{{ProductID: 1, Quantity: 2}},
		PaymentPlan:         PlanInstallment,
		InstallmentDuration: 3,
	}, 42)
	require.Error(t, err)
	require.Equal(t, 10, repo.products[1].StockQuantity)
	require.Empty(t, repo.sales)
	require.Empty(t, repo.invoices)
}

func TestCancelSaleIsSoft(t *testing.T) {
	ctx := context.Background()
	repo := seedRepo()
	svc := newBillingService(repo)

	result, err := svc.CreateSale(ctx, CreateSaleRequest{
		CustomerID:  7,
		Items:       []CreateSaleItemReq{{ProductID: 1, Quantity: 1}},
		PaymentPlan: PlanCash,
	}, 42)
	require.NoError(t, err)

	cancelled, err := svc.CancelSale(ctx, result.Sale.ID, 42)
	require.NoError(t, err)
	require.Equal(t, SaleStatusCancelled, cancelled.Status)
	// Stock stays decremented after cancellation.
	require.Equal(t, 9, repo.products[1].StockQuantity)
}
