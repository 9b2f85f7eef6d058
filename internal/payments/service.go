package payments

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-retail/meridian-credit/internal/billing"
	"github.com/meridian-retail/meridian-credit/internal/platform/cache"
	"github.com/meridian-retail/meridian-credit/internal/shared"
)

var (
	// ErrAlreadyPaid rejects payments against a settled invoice.
	ErrAlreadyPaid = fmt.Errorf("%w: invoice is already fully paid", shared.ErrConflict)
	// ErrFutureDate rejects payments dated after today.
	ErrFutureDate = fmt.Errorf("%w: payment date cannot be in the future", shared.ErrValidation)
)

// RepositoryPort defines non-transactional reads for payments.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxPort) error) error
	GetPayment(ctx context.Context, id int64) (*Payment, error)
	ListPayments(ctx context.Context, filter Filter) ([]Payment, error)
	ListDueToday(ctx context.Context) ([]DueInstallment, error)
	ListOverdue(ctx context.Context) ([]DueInstallment, error)
}

// TxPort exposes the operations available inside the allocation transaction.
// GetInvoiceForUpdate must take an exclusive row lock so concurrent payments
// against the same invoice serialize.
type TxPort interface {
	GetInvoiceForUpdate(ctx context.Context, invoiceID int64) (*billing.Invoice, error)
	ListUnpaidInstallments(ctx context.Context, invoiceID int64) ([]billing.Installment, error)
	UpdateInstallment(ctx context.Context, id int64, paidAmount float64, status billing.InstallmentStatus) error
	UpdateInvoice(ctx context.Context, id int64, paidAmount, remaining float64, status billing.InvoiceStatus) error
	InsertPayment(ctx context.Context, payment Payment) (int64, error)
	RecomputeRisk(ctx context.Context, customerID int64)
	RecordAudit(ctx context.Context, entry shared.AuditEntry) error
}

// Service allocates payments across an invoice's outstanding installments.
type Service struct {
	repo        RepositoryPort
	invalidator *cache.Invalidator
	logger      *slog.Logger
	now         func() time.Time
}

// NewService constructs a payments service.
func NewService(repo RepositoryPort, invalidator *cache.Invalidator, logger *slog.Logger) *Service {
	return &Service{
		repo:        repo,
		invalidator: invalidator,
		logger:      logger,
		now:         time.Now,
	}
}

// RecordPayment applies a payment to an invoice: invoice totals first, then
// the amount spills across unpaid installments in ascending installment
// number until exhausted. The whole allocation, the payment row, the audit
// entry and the customer risk recompute commit together or not at all.
func (s *Service) RecordPayment(ctx context.Context, req RecordPaymentRequest, receivedBy int64) (*RecordPaymentResult, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be greater than 0", shared.ErrValidation)
	}
	if !req.Method.valid() {
		return nil, fmt.Errorf("%w: unknown payment method %q", shared.ErrValidation, req.Method)
	}

	today := s.now()
	paymentDate := today
	if req.PaymentDate != nil && !req.PaymentDate.IsZero() {
		paymentDate = *req.PaymentDate
		if paymentDate.After(today) {
			return nil, ErrFutureDate
		}
	}

	result := &RecordPaymentResult{}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxPort) error {
		invoice, err := tx.GetInvoiceForUpdate(ctx, req.InvoiceID)
		if err != nil {
			return err
		}
		if invoice.RemainingBalance <= 0 {
			return fmt.Errorf("%w (invoice %s)", ErrAlreadyPaid, invoice.Number)
		}
		if req.Amount > invoice.RemainingBalance {
			return fmt.Errorf("%w: payment amount exceeds remaining balance of %s; maximum allowed is %s",
				shared.ErrConflict,
				shared.FormatAmount(invoice.RemainingBalance),
				shared.FormatAmount(invoice.RemainingBalance))
		}

		newPaid := invoice.PaidAmount + req.Amount
		newRemaining := billing.Round2(invoice.TotalAmount - newPaid)
		if newRemaining < 0 {
			newRemaining = 0
		}
		status := billing.DeriveInvoiceStatus(newPaid, invoice.TotalAmount, invoice.DueDate, today)

		installments, err := tx.ListUnpaidInstallments(ctx, req.InvoiceID)
		if err != nil {
			return fmt.Errorf("list installments: %w", err)
		}
		allocated, err := allocate(ctx, tx, installments, req.Amount, today)
		if err != nil {
			return err
		}

		if err := tx.UpdateInvoice(ctx, invoice.ID, newPaid, newRemaining, status); err != nil {
			return fmt.Errorf("update invoice: %w", err)
		}

		payment := Payment{
			InvoiceID:   invoice.ID,
			Amount:      req.Amount,
			Method:      req.Method,
			PaymentDate: paymentDate,
			Reference:   "PAY-" + uuid.NewString(),
			Notes:       req.Notes,
			ReceivedBy:  receivedBy,
		}
		paymentID, err := tx.InsertPayment(ctx, payment)
		if err != nil {
			return fmt.Errorf("insert payment: %w", err)
		}
		payment.ID = paymentID

		if err := tx.RecordAudit(ctx, shared.AuditEntry{
			ActorID:  receivedBy,
			Action:   "RECORD_PAYMENT",
			Entity:   "payment",
			EntityID: fmt.Sprintf("%d", paymentID),
			Meta: map[string]any{
				"invoice":        invoice.Number,
				"amount":         req.Amount,
				"method":         string(req.Method),
				"reference":      payment.Reference,
				"invoice_status": string(status),
			},
		}); err != nil {
			return fmt.Errorf("audit payment: %w", err)
		}

		// Inside the lock on purpose: the recompute sees the post-allocation
		// state and commits with it. Scoring failures are swallowed by the
		// scorer itself.
		tx.RecomputeRisk(ctx, invoice.CustomerID)

		invoice.PaidAmount = newPaid
		invoice.RemainingBalance = newRemaining
		invoice.Status = status
		result.Payment = payment
		result.Invoice = *invoice
		result.Installments = allocated
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidator.InvalidatePrefixes(ctx,
		cache.PrefixPayments, cache.PrefixInvoices, cache.PrefixCustomers)
	return result, nil
}

// allocate spills the payment oldest-first. Installment remainders stay
// exact; rounding happens only at the invoice level.
func allocate(ctx context.Context, tx TxPort, installments []billing.Installment, amount float64, today time.Time) ([]billing.Installment, error) {
	left := amount
	touched := make([]billing.Installment, 0, len(installments))
	for i := range installments {
		if left <= 0 {
			break
		}
		ins := installments[i]
		owed := ins.Amount - ins.PaidAmount
		if owed <= 0 {
			continue
		}
		applied := left
		if applied > owed {
			applied = owed
		}
		ins.PaidAmount += applied
		left -= applied
		ins.Status = billing.DeriveInstallmentStatus(ins.PaidAmount, ins.Amount, ins.DueDate, today)
		if err := tx.UpdateInstallment(ctx, ins.ID, ins.PaidAmount, ins.Status); err != nil {
			return nil, fmt.Errorf("update installment %d: %w", ins.ID, err)
		}
		touched = append(touched, ins)
	}
	return touched, nil
}

// GetPayment returns one payment by id.
func (s *Service) GetPayment(ctx context.Context, id int64) (*Payment, error) {
	return s.repo.GetPayment(ctx, id)
}

// ListPayments returns payments matching the filter, newest first.
func (s *Service) ListPayments(ctx context.Context, filter Filter) ([]Payment, error) {
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	return s.repo.ListPayments(ctx, filter)
}

// ListDueToday returns unpaid installments falling due today.
func (s *Service) ListDueToday(ctx context.Context) ([]DueInstallment, error) {
	return s.repo.ListDueToday(ctx)
}

// ListOverdue returns installments past due with an outstanding balance.
func (s *Service) ListOverdue(ctx context.Context) ([]DueInstallment, error) {
	return s.repo.ListOverdue(ctx)
}
