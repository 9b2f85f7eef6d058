package collections

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/meridian-retail/meridian-credit/internal/platform/cache"
)

// riskRecomputeLimit bounds concurrent customer rescores during a sweep.
const riskRecomputeLimit = 8

// SweepStore is what the sweeper needs from persistence. Marking steps run
// in their own transactions; record materialization is per-row best effort.
type SweepStore interface {
	MarkOverdueInvoices(ctx context.Context) (int, error)
	MarkOverdueInstallments(ctx context.Context) ([]SweptInstallment, error)
	HasRecordForInstallment(ctx context.Context, installmentID int64) (bool, error)
	CreateRecord(ctx context.Context, record LatePayment) (int64, error)
	ListUnresolved(ctx context.Context) ([]UnresolvedRecord, error)
	UpdateAging(ctx context.Context, id int64, daysOverdue int, priority Priority, lastPayment *time.Time) error
	ListRiskCustomers(ctx context.Context) ([]int64, error)
	RecomputeRisk(ctx context.Context, customerID int64)
}

// Sweeper is the daily batch that ages overdue obligations into the
// late-payment queue. Safe to re-run within the same day: marking statements
// only touch rows still in a pre-overdue state, and record creation is
// guarded by an existence check.
type Sweeper struct {
	store       SweepStore
	invalidator *cache.Invalidator
	logger      *slog.Logger
	now         func() time.Time
}

// NewSweeper constructs a sweeper.
func NewSweeper(store SweepStore, invalidator *cache.Invalidator, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:       store,
		invalidator: invalidator,
		logger:      logger,
		now:         time.Now,
	}
}

// Run executes one full sweep. A failure materializing one record is logged
// and skipped; only a failure of the marking steps themselves aborts the run.
func (s *Sweeper) Run(ctx context.Context) (*SweepResult, error) {
	today := s.now()
	result := &SweepResult{}

	marked, err := s.store.MarkOverdueInvoices(ctx)
	if err != nil {
		return nil, fmt.Errorf("mark overdue invoices: %w", err)
	}
	result.InvoicesMarked = marked

	swept, err := s.store.MarkOverdueInstallments(ctx)
	if err != nil {
		return nil, fmt.Errorf("mark overdue installments: %w", err)
	}
	result.InstallmentsMarked = len(swept)

	for _, ins := range swept {
		// Installments with their own partial payment are tracked through
		// the invoice, not the late-payment queue.
		if ins.PaidAmount != 0 {
			continue
		}
		exists, err := s.store.HasRecordForInstallment(ctx, ins.InstallmentID)
		if err != nil {
			s.logger.Warn("sweep: check late-payment record",
				slog.Int64("installment_id", ins.InstallmentID), slog.Any("error", err))
			continue
		}
		if exists {
			continue
		}
		days := daysSinceReference(ins.InvoiceDate, ins.LastPaymentDate, today)
		if _, err := s.store.CreateRecord(ctx, LatePayment{
			InstallmentID:   ins.InstallmentID,
			InvoiceID:       ins.InvoiceID,
			CustomerID:      ins.CustomerID,
			AmountDue:       ins.Amount,
			DaysOverdue:     days,
			Priority:        PriorityFor(days),
			Status:          StatusPending,
			LastPaymentDate: ins.LastPaymentDate,
		}); err != nil {
			s.logger.Warn("sweep: create late-payment record",
				slog.Int64("installment_id", ins.InstallmentID), slog.Any("error", err))
			continue
		}
		result.LatePaymentsCreated++
	}

	unresolved, err := s.store.ListUnresolved(ctx)
	if err != nil {
		s.logger.Warn("sweep: list unresolved records", slog.Any("error", err))
	}
	for _, rec := range unresolved {
		days := daysSinceReference(rec.InvoiceDate, rec.LastPaymentDate, today)
		if err := s.store.UpdateAging(ctx, rec.ID, days, PriorityFor(days), rec.LastPaymentDate); err != nil {
			s.logger.Warn("sweep: refresh late-payment record",
				slog.Int64("record_id", rec.ID), slog.Any("error", err))
			continue
		}
		result.LatePaymentsRefreshed++
	}

	customers, err := s.store.ListRiskCustomers(ctx)
	if err != nil {
		s.logger.Warn("sweep: list customers for rescore", slog.Any("error", err))
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(riskRecomputeLimit)
	for _, id := range customers {
		id := id
		g.Go(func() error {
			s.store.RecomputeRisk(gctx, id)
			return nil
		})
	}
	_ = g.Wait()
	result.CustomersRescored = len(customers)

	s.invalidator.InvalidatePrefixes(ctx,
		cache.PrefixInvoices, cache.PrefixLatePayments, cache.PrefixCustomers)

	s.logger.Info("overdue sweep finished",
		slog.Int("invoices_marked", result.InvoicesMarked),
		slog.Int("installments_marked", result.InstallmentsMarked),
		slog.Int("late_payments_created", result.LatePaymentsCreated),
		slog.Int("late_payments_refreshed", result.LatePaymentsRefreshed),
		slog.Int("customers_rescored", result.CustomersRescored))
	return result, nil
}

// daysSinceReference counts whole days from the later of the invoice date or
// the most recent payment on the invoice. Any payment resets the clock, even
// one that did not touch this installment.
func daysSinceReference(invoiceDate time.Time, lastPayment *time.Time, today time.Time) int {
	ref := invoiceDate
	if lastPayment != nil && lastPayment.After(ref) {
		ref = *lastPayment
	}
	days := int(dayOf(today).Sub(dayOf(ref)).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

func dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
