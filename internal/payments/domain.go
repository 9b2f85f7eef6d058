package payments

import (
	"time"

	"github.com/meridian-retail/meridian-credit/internal/billing"
)

// Method enumerates accepted payment channels.
type Method string

const (
	MethodCash         Method = "cash"
	MethodBankTransfer Method = "bank_transfer"
	MethodCheque       Method = "cheque"
	MethodCard         Method = "card"
	MethodOnline       Method = "online"
)

func (m Method) valid() bool {
	switch m {
	case MethodCash, MethodBankTransfer, MethodCheque, MethodCard, MethodOnline:
		return true
	}
	return false
}

// Payment is an immutable, append-only record against one invoice. The ledger
// is reconstructed by summing payments, never by trusting a mutable counter.
type Payment struct {
	ID          int64     `json:"id" db:"id"`
	InvoiceID   int64     `json:"invoice_id" db:"invoice_id"`
	Amount      float64   `json:"amount" db:"amount"`
	Method      Method    `json:"payment_method" db:"payment_method"`
	PaymentDate time.Time `json:"payment_date" db:"payment_date"`
	Reference   string    `json:"reference" db:"reference"`
	Notes       string    `json:"notes,omitempty" db:"notes"`
	ReceivedBy  int64     `json:"received_by" db:"received_by"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// RecordPaymentRequest is the validated input for the allocator.
type RecordPaymentRequest struct {
	InvoiceID   int64      `json:"invoice_id" validate:"required,gt=0"`
	Amount      float64    `json:"amount" validate:"required,gt=0"`
	Method      Method     `json:"payment_method" validate:"required,oneof=cash bank_transfer cheque card online"`
	PaymentDate *time.Time `json:"payment_date,omitempty"`
	Notes       string     `json:"notes,omitempty" validate:"omitempty,max=500"`
}

// RecordPaymentResult bundles the payment with the post-allocation invoice
// and installment state.
type RecordPaymentResult struct {
	Payment      Payment               `json:"payment"`
	Invoice      billing.Invoice       `json:"invoice"`
	Installments []billing.Installment `json:"installments,omitempty"`
}

// Filter narrows payment listings.
type Filter struct {
	InvoiceID  int64
	CustomerID int64
	Method     Method
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
}

// DueInstallment is one row of the collections worklist: an installment with
// its invoice and customer context.
type DueInstallment struct {
	billing.Installment
	InvoiceNumber string  `json:"invoice_number" db:"invoice_number"`
	CustomerID    int64   `json:"customer_id" db:"customer_id"`
	CustomerName  string  `json:"customer_name" db:"customer_name"`
	Remaining     float64 `json:"remaining" db:"remaining"`
}
