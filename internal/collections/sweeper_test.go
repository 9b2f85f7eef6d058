package collections

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var sweepToday = time.Date(2026, 7, 1, 3, 0, 0, 0, time.UTC)

type fakeInvoice struct {
	id        int64
	status    string
	dueDate   time.Time
	remaining float64
}

type fakeInstallment struct {
	SweptInstallment
	status string
}

type memorySweepStore struct {
	invoices      []*fakeInvoice
	installments  []*fakeInstallment
	records       map[int64]*LatePayment // keyed by installment id
	riskCustomers []int64
	riskCalls     []int64
	nextRecordID  int64
	failCreateFor int64
}

func newMemorySweepStore() *memorySweepStore {
	return &memorySweepStore{records: make(map[int64]*LatePayment)}
}

func (m *memorySweepStore) MarkOverdueInvoices(ctx context.Context) (int, error) {
	count := 0
	for _, inv := range m.invoices {
		if (inv.status == "pending" || inv.status == "partial") &&
			inv.dueDate.Before(sweepToday) && inv.remaining > 0 {
			inv.status = "overdue"
			count++
		}
	}
	return count, nil
}

func (m *memorySweepStore) MarkOverdueInstallments(ctx context.Context) ([]SweptInstallment, error) {
	var swept []SweptInstallment
	for _, ins := range m.installments {
		if ins.status == "pending" && ins.DueDate.Before(sweepToday) && ins.PaidAmount < ins.Amount {
			ins.status = "overdue"
			swept = append(swept, ins.SweptInstallment)
		}
	}
	return swept, nil
}

func (m *memorySweepStore) HasRecordForInstallment(ctx context.Context, installmentID int64) (bool, error) {
	_, ok := m.records[installmentID]
	return ok, nil
}

func (m *memorySweepStore) CreateRecord(ctx context.Context, record LatePayment) (int64, error) {
	if record.InstallmentID == m.failCreateFor {
		return 0, fmt.Errorf("simulated insert failure")
	}
	m.nextRecordID++
	record.ID = m.nextRecordID
	m.records[record.InstallmentID] = &record
	return record.ID, nil
}

func (m *memorySweepStore) ListUnresolved(ctx context.Context) ([]UnresolvedRecord, error) {
	var out []UnresolvedRecord
	for _, ins := range m.installments {
		rec, ok := m.records[ins.InstallmentID]
		if !ok || rec.Status == StatusResolved {
			continue
		}
		out = append(out, UnresolvedRecord{
			LatePayment:     *rec,
			InvoiceDate:     ins.InvoiceDate,
			LastPaymentDate: ins.LastPaymentDate,
		})
	}
	return out, nil
}

func (m *memorySweepStore) UpdateAging(ctx context.Context, id int64, daysOverdue int, priority Priority, lastPayment *time.Time) error {
	for _, rec := range m.records {
		if rec.ID == id && rec.Status != StatusResolved {
			rec.DaysOverdue = daysOverdue
			rec.Priority = priority
			rec.LastPaymentDate = lastPayment
			return nil
		}
	}
	return nil
}

func (m *memorySweepStore) ListRiskCustomers(ctx context.Context) ([]int64, error) {
	return m.riskCustomers, nil
}

func (m *memorySweepStore) RecomputeRisk(ctx context.Context, customerID int64) {
	m.riskCalls = append(m.riskCalls, customerID)
}

func newTestSweeper(store *memorySweepStore) *Sweeper {
	sw := NewSweeper(store, nil, slog.Default())
	sw.now = func() time.Time { return sweepToday }
	return sw
}

func seedSweepStore() *memorySweepStore {
	store := newMemorySweepStore()
	store.invoices = []*fakeInvoice{
		{id: 1, status: "pending", dueDate: sweepToday.AddDate(0, 0, -40), remaining: 20000},
		{id: 2, status: "partial", dueDate: sweepToday.AddDate(0, 0, -5), remaining: 5000},
		{id: 3, status: "pending", dueDate: sweepToday.AddDate(0, 1, 0), remaining: 8000},
	}
	store.installments = []*fakeInstallment{
		{
			SweptInstallment: SweptInstallment{
				InstallmentID: 10, InvoiceID: 1, CustomerID: 7, Amount: 10000,
				DueDate:     sweepToday.AddDate(0, 0, -40),
				InvoiceDate: sweepToday.AddDate(0, 0, -70),
			},
			status: "pending",
		},
		{
			SweptInstallment: SweptInstallment{
				InstallmentID: 11, InvoiceID: 2, CustomerID: 8, Amount: 5000, PaidAmount: 1000,
				DueDate:     sweepToday.AddDate(0, 0, -5),
				InvoiceDate: sweepToday.AddDate(0, 0, -35),
			},
			status: "pending",
		},
		{
			SweptInstallment: SweptInstallment{
				InstallmentID: 12, InvoiceID: 3, CustomerID: 9, Amount: 8000,
				DueDate:     sweepToday.AddDate(0, 1, 0),
				InvoiceDate: sweepToday.AddDate(0, 0, -1),
			},
			status: "pending",
		},
	}
	store.riskCustomers = []int64{7, 8, 9}
	return store
}

func TestSweepMarksAndMaterializes(t *testing.T) {
	ctx := context.Background()
	store := seedSweepStore()
	sweeper := newTestSweeper(store)

	result, err := sweeper.Run(ctx)
	require.NoError(t, err)

	require.Equal(t, 2, result.InvoicesMarked)
	require.Equal(t, 2, result.InstallmentsMarked)
	// Installment 11 got a partial payment, so only 10 materializes.
	require.Equal(t, 1, result.LatePaymentsCreated)
	require.Equal(t, 3, result.CustomersRescored)

	rec, ok := store.records[10]
	require.True(t, ok)
	require.Equal(t, StatusPending, rec.Status)
	require.Equal(t, 70, rec.DaysOverdue)
	require.Equal(t, PriorityHigh, rec.Priority)
	require.Equal(t, 10000.0, rec.AmountDue)

	require.NotContains(t, store.records, int64(11))
	require.NotContains(t, store.records, int64(12))
	require.Equal(t, "pending", store.installments[2].status)
	require.ElementsMatch(t, []int64{7, 8, 9}, store.riskCalls)
}

func TestSweepIsIdempotentWithinADay(t *testing.T) {
	ctx := context.Background()
	store := seedSweepStore()
	sweeper := newTestSweeper(store)

	_, err := sweeper.Run(ctx)
	require.NoError(t, err)
	firstRecords := len(store.records)

	result, err := sweeper.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, result.InvoicesMarked)
	require.Equal(t, 0, result.InstallmentsMarked)
	require.Equal(t, 0, result.LatePaymentsCreated)
	require.Len(t, store.records, firstRecords)
	// Existing live records still get their aging refreshed.
	require.Equal(t, 1, result.LatePaymentsRefreshed)
}

func TestSweepPaymentResetsAgingClock(t *testing.T) {
	ctx := context.Background()
	store := newMemorySweepStore()
	lastPayment := sweepToday.AddDate(0, 0, -10)
	store.installments = []*fakeInstallment{{
		SweptInstallment: SweptInstallment{
			InstallmentID: 20, InvoiceID: 5, CustomerID: 7, Amount: 9000,
			DueDate:         sweepToday.AddDate(0, 0, -80),
			InvoiceDate:     sweepToday.AddDate(0, 0, -120),
			LastPaymentDate: &lastPayment,
		},
		status: "pending",
	}}
	sweeper := newTestSweeper(store)

	_, err := sweeper.Run(ctx)
	require.NoError(t, err)

	rec := store.records[20]
	require.NotNil(t, rec)
	require.Equal(t, 10, rec.DaysOverdue)
	require.Equal(t, PriorityNormal, rec.Priority)
}

func TestSweepRefreshSkipsResolvedRecords(t *testing.T) {
	ctx := context.Background()
	store := seedSweepStore()
	sweeper := newTestSweeper(store)

	_, err := sweeper.Run(ctx)
	require.NoError(t, err)
	store.records[10].Status = StatusResolved
	staleDays := store.records[10].DaysOverdue

	result, err := sweeper.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, result.LatePaymentsRefreshed)
	require.Equal(t, staleDays, store.records[10].DaysOverdue)
}

func TestSweepContinuesPastRecordFailure(t *testing.T) {
	ctx := context.Background()
	store := seedSweepStore()
	store.failCreateFor = 10
	sweeper := newTestSweeper(store)

	result, err := sweeper.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, result.LatePaymentsCreated)
	require.Equal(t, 2, result.InstallmentsMarked)
	require.Equal(t, 3, result.CustomersRescored)
}

func TestPriorityTiers(t *testing.T) {
	require.Equal(t, PriorityNormal, PriorityFor(0))
	require.Equal(t, PriorityNormal, PriorityFor(34))
	require.Equal(t, PriorityLate, PriorityFor(35))
	require.Equal(t, PriorityLate, PriorityFor(59))
	require.Equal(t, PriorityHigh, PriorityFor(60))
	require.Equal(t, PriorityHigh, PriorityFor(365))
}

func TestDaysSinceReference(t *testing.T) {
	invoiceDate := time.Date(2026, 5, 1, 15, 30, 0, 0, time.UTC)

	require.Equal(t, 61, daysSinceReference(invoiceDate, nil, sweepToday))

	payment := time.Date(2026, 6, 20, 9, 0, 0, 0, time.UTC)
	require.Equal(t, 11, daysSinceReference(invoiceDate, &payment, sweepToday))

	// A payment before the invoice date never moves the reference back.
	early := invoiceDate.AddDate(0, -1, 0)
	require.Equal(t, 61, daysSinceReference(invoiceDate, &early, sweepToday))

	future := sweepToday.AddDate(0, 0, 3)
	require.Equal(t, 0, daysSinceReference(invoiceDate, &future, sweepToday))
}
