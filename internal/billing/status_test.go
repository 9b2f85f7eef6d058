package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var (
	today     = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	yesterday = today.AddDate(0, 0, -1)
	tomorrow  = today.AddDate(0, 0, 1)
)

func TestDeriveInvoiceStatus(t *testing.T) {
	cases := []struct {
		name  string
		paid  float64
		total float64
		due   time.Time
		want  InvoiceStatus
	}{
		{"unpaid before due date", 0, 1000, tomorrow, InvoiceStatusPending},
		{"unpaid past due date", 0, 1000, yesterday, InvoiceStatusOverdue},
		{"partially paid before due", 400, 1000, tomorrow, InvoiceStatusPartial},
		{"partially paid past due", 400, 1000, yesterday, InvoiceStatusOverdue},
		{"fully paid", 1000, 1000, yesterday, InvoiceStatusPaid},
		{"fully paid within rounding tolerance", 999.999, 1000, tomorrow, InvoiceStatusPaid},
		{"due today is not overdue", 0, 1000, today, InvoiceStatusPending},
		{"overpaid floors at zero remaining", 1200, 1000, yesterday, InvoiceStatusPaid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, DeriveInvoiceStatus(tc.paid, tc.total, tc.due, today))
		})
	}
}

func TestDeriveInstallmentStatus(t *testing.T) {
	cases := []struct {
		name   string
		paid   float64
		amount float64
		due    time.Time
		want   InstallmentStatus
	}{
		{"untouched before due", 0, 500, tomorrow, InstallmentStatusPending},
		{"untouched past due", 0, 500, yesterday, InstallmentStatusOverdue},
		{"partial stays pending before due", 100, 500, tomorrow, InstallmentStatusPending},
		{"partial past due is overdue", 100, 500, yesterday, InstallmentStatusOverdue},
		{"paid in full", 500, 500, yesterday, InstallmentStatusPaid},
		{"due today is not overdue", 0, 500, today, InstallmentStatusPending},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, DeriveInstallmentStatus(tc.paid, tc.amount, tc.due, today))
		})
	}
}

func TestRound2(t *testing.T) {
	require.InDelta(t, 33333.32, Round2(33333.319999999), 0.0001)
	require.InDelta(t, 0.01, Round2(0.005), 0.0001)
	require.InDelta(t, -10.5, Round2(-10.504), 0.0001)
}
