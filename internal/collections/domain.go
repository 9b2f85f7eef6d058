package collections

import "time"

// Priority tiers a late-payment record by how long it has been outstanding.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityLate   Priority = "late"
	PriorityHigh   Priority = "high_priority"
)

// PriorityFor maps days overdue to a tier.
func PriorityFor(daysOverdue int) Priority {
	switch {
	case daysOverdue >= 60:
		return PriorityHigh
	case daysOverdue >= 35:
		return PriorityLate
	default:
		return PriorityNormal
	}
}

// Status is the collection workflow state of a late-payment record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusEscalated Status = "escalated"
	StatusResolved  Status = "resolved"
)

// Valid reports whether s is a known workflow state.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusEscalated, StatusResolved:
		return true
	}
	return false
}

// LatePayment tracks one installment that went overdue without any payment
// applied. Records are never deleted; resolution is a status transition.
type LatePayment struct {
	ID              int64      `json:"id" db:"id"`
	InstallmentID   int64      `json:"installment_id" db:"installment_id"`
	InvoiceID       int64      `json:"invoice_id" db:"invoice_id"`
	CustomerID      int64      `json:"customer_id" db:"customer_id"`
	AmountDue       float64    `json:"amount_due" db:"amount_due"`
	DaysOverdue     int        `json:"days_overdue" db:"days_overdue"`
	Priority        Priority   `json:"priority" db:"priority"`
	Status          Status     `json:"status" db:"status"`
	LastPaymentDate *time.Time `json:"last_payment_date,omitempty" db:"last_payment_date"`
	Notes           string     `json:"notes,omitempty" db:"notes"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// SweptInstallment carries the context needed to materialize or refresh a
// late-payment record for one freshly overdue installment.
type SweptInstallment struct {
	InstallmentID   int64
	InvoiceID       int64
	CustomerID      int64
	Amount          float64
	PaidAmount      float64
	DueDate         time.Time
	InvoiceDate     time.Time
	LastPaymentDate *time.Time
}

// UnresolvedRecord pairs a live late-payment record with the invoice context
// used to recompute its aging.
type UnresolvedRecord struct {
	LatePayment
	InvoiceDate     time.Time
	LastPaymentDate *time.Time
}

// SweepResult reports what one sweep run touched.
type SweepResult struct {
	InvoicesMarked        int `json:"invoices_marked"`
	InstallmentsMarked    int `json:"installments_marked"`
	LatePaymentsCreated   int `json:"late_payments_created"`
	LatePaymentsRefreshed int `json:"late_payments_refreshed"`
	CustomersRescored     int `json:"customers_rescored"`
}

// UpdateStatusRequest mutates one late-payment record's workflow state.
type UpdateStatusRequest struct {
	Status Status `json:"status" validate:"required,oneof=pending escalated resolved"`
	Notes  string `json:"notes,omitempty" validate:"omitempty,max=500"`
}

// BulkEscalateRequest escalates every pending record at or past the
// threshold.
type BulkEscalateRequest struct {
	DaysThreshold int `json:"days_threshold" validate:"required,gte=1"`
}

// Stats summarizes the late-payment queue.
type Stats struct {
	TotalPending   int     `json:"total_pending" db:"total_pending"`
	TotalEscalated int     `json:"total_escalated" db:"total_escalated"`
	TotalResolved  int     `json:"total_resolved" db:"total_resolved"`
	HighPriority   int     `json:"high_priority" db:"high_priority"`
	TotalAmountDue float64 `json:"total_amount_due" db:"total_amount_due"`
}

// Defaulter is one row of the top-defaulters report.
type Defaulter struct {
	CustomerID     int64   `json:"customer_id" db:"customer_id"`
	CustomerName   string  `json:"customer_name" db:"customer_name"`
	OpenRecords    int     `json:"open_records" db:"open_records"`
	TotalAmountDue float64 `json:"total_amount_due" db:"total_amount_due"`
	MaxDaysOverdue int     `json:"max_days_overdue" db:"max_days_overdue"`
}

// Filter narrows late-payment listings.
type Filter struct {
	Status     Status
	Priority   Priority
	CustomerID int64
	Limit      int
	Offset     int
}
