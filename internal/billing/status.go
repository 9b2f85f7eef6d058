package billing

import (
	"math"
	"time"
)

// Round2 rounds a currency amount to two decimals. Applied at the invoice
// level only; installment remainders are kept exact.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// CeilTo2 rounds a currency amount up to two decimals.
func CeilTo2(v float64) float64 {
	return math.Ceil(v*100) / 100
}

// beforeDay reports whether a falls on an earlier calendar day than b,
// ignoring the time of day.
func beforeDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC).
		Before(time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC))
}

// DeriveInvoiceStatus is the invoice status state machine. Transitions are
// derived from the amounts and dates alone so every caller (allocator,
// sweeper, sale intake) lands on identical states.
func DeriveInvoiceStatus(paid, total float64, dueDate, today time.Time) InvoiceStatus {
	remaining := Round2(total - paid)
	if remaining < 0 {
		remaining = 0
	}
	switch {
	case remaining == 0:
		return InvoiceStatusPaid
	case beforeDay(dueDate, today):
		return InvoiceStatusOverdue
	case paid > 0:
		return InvoiceStatusPartial
	default:
		return InvoiceStatusPending
	}
}

// DeriveInstallmentStatus is the installment status state machine. An
// installment with partial payment stays pending until its due date passes.
func DeriveInstallmentStatus(paid, amount float64, dueDate, today time.Time) InstallmentStatus {
	switch {
	case paid >= amount:
		return InstallmentStatusPaid
	case beforeDay(dueDate, today):
		return InstallmentStatusOverdue
	default:
		return InstallmentStatusPending
	}
}
