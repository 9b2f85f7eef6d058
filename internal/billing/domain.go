package billing

import (
	"time"
)

// PaymentPlan enumerates how a sale is settled.
type PaymentPlan string

const (
	PlanCash        PaymentPlan = "cash"
	PlanCredit      PaymentPlan = "credit"
	PlanInstallment PaymentPlan = "installment"
)

// SaleStatus enumerates sale lifecycle states. Cancellation is soft: it never
// reverses stock or recorded payments.
type SaleStatus string

const (
	SaleStatusCompleted SaleStatus = "completed"
	SaleStatusCancelled SaleStatus = "cancelled"
)

// InvoiceStatus enumerates invoice states.
type InvoiceStatus string

const (
	InvoiceStatusPending InvoiceStatus = "pending"
	InvoiceStatusPartial InvoiceStatus = "partial"
	InvoiceStatusPaid    InvoiceStatus = "paid"
	InvoiceStatusOverdue InvoiceStatus = "overdue"
)

// InstallmentStatus enumerates installment states.
type InstallmentStatus string

const (
	InstallmentStatusPending InstallmentStatus = "pending"
	InstallmentStatusOverdue InstallmentStatus = "overdue"
	InstallmentStatusPaid    InstallmentStatus = "paid"
)

// Sale is the immutable record of a transaction.
type Sale struct {
	ID                  int64       `json:"id" db:"id"`
	Number              string      `json:"sale_number" db:"sale_number"`
	CustomerID          int64       `json:"customer_id" db:"customer_id"`
	SaleDate            time.Time   `json:"sale_date" db:"sale_date"`
	TotalAmount         float64     `json:"total_amount" db:"total_amount"`
	PaymentPlan         PaymentPlan `json:"payment_plan" db:"payment_plan"`
	InstallmentDuration *int        `json:"installment_duration,omitempty" db:"installment_duration"`
	PaymentDayOfMonth   *int        `json:"payment_day_of_month,omitempty" db:"payment_day_of_month"`
	MonthlyInstallment  *float64    `json:"monthly_installment,omitempty" db:"monthly_installment"`
	Status              SaleStatus  `json:"status" db:"status"`
	CreatedBy           int64       `json:"created_by" db:"created_by"`
	CreatedAt           time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time   `json:"updated_at" db:"updated_at"`
	Items               []SaleItem  `json:"items,omitempty" db:"-"`
}

// SaleItem is one line of a sale, priced from the authoritative product row
// at sale time.
type SaleItem struct {
	ID          int64   `json:"id" db:"id"`
	SaleID      int64   `json:"sale_id" db:"sale_id"`
	ProductID   int64   `json:"product_id" db:"product_id"`
	ProductName string  `json:"product_name" db:"product_name"`
	Quantity    int     `json:"quantity" db:"quantity"`
	UnitPrice   float64 `json:"unit_price" db:"unit_price"`
	TotalPrice  float64 `json:"total_price" db:"total_price"`
}

// Invoice is the billable record for one sale.
type Invoice struct {
	ID               int64         `json:"id" db:"id"`
	Number           string        `json:"invoice_number" db:"invoice_number"`
	SaleID           int64         `json:"sale_id" db:"sale_id"`
	CustomerID       int64         `json:"customer_id" db:"customer_id"`
	TotalAmount      float64       `json:"total_amount" db:"total_amount"`
	PaidAmount       float64       `json:"paid_amount" db:"paid_amount"`
	RemainingBalance float64       `json:"remaining_balance" db:"remaining_balance"`
	DueDate          time.Time     `json:"due_date" db:"due_date"`
	Status           InvoiceStatus `json:"status" db:"status"`
	CreatedAt        time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at" db:"updated_at"`
}

// Installment is one scheduled partial payment within an invoice's
// amortization plan, numbered 1..N in schedule order.
type Installment struct {
	ID         int64             `json:"id" db:"id"`
	InvoiceID  int64             `json:"invoice_id" db:"invoice_id"`
	Number     int               `json:"installment_number" db:"installment_number"`
	DueDate    time.Time         `json:"due_date" db:"due_date"`
	Amount     float64           `json:"amount" db:"amount"`
	PaidAmount float64           `json:"paid_amount" db:"paid_amount"`
	Status     InstallmentStatus `json:"status" db:"status"`
	CreatedAt  time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at" db:"updated_at"`
}

// Product carries the authoritative price and stock state read at sale time.
type Product struct {
	ID            int64   `json:"id" db:"id"`
	Name          string  `json:"name" db:"name"`
	SellingPrice  float64 `json:"selling_price" db:"selling_price"`
	StockQuantity int     `json:"stock_quantity" db:"stock_quantity"`
	IsActive      bool    `json:"is_active" db:"is_active"`
}

// CreateSaleRequest is the validated input for sale intake.
type CreateSaleRequest struct {
	CustomerID          int64               `json:"customer_id" validate:"required,gt=0"`
	Items               []CreateSaleItemReq `json:"items" validate:"required,min=1,dive"`
	PaymentPlan         PaymentPlan         `json:"payment_plan" validate:"required,oneof=cash credit installment"`
	InstallmentDuration int                 `json:"installment_duration" validate:"omitempty,gte=1,lte=6"`
	PaymentDayOfMonth   int                 `json:"payment_day_of_month" validate:"omitempty,gte=1,lte=28"`
	DownPayment         float64             `json:"down_payment" validate:"gte=0"`
	SaleDate            *time.Time          `json:"sale_date,omitempty"`
}

// CreateSaleItemReq is one requested line item. Price is never taken from the
// request; it is re-read from the product row inside the transaction.
type CreateSaleItemReq struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Quantity  int   `json:"quantity" validate:"required,gt=0"`
}

// CreateSaleResult bundles everything generated by one sale.
type CreateSaleResult struct {
	Sale         *Sale         `json:"sale"`
	Invoice      *Invoice      `json:"invoice"`
	Installments []Installment `json:"installments,omitempty"`
}

// SaleWithDetails is the read model returned by sale lookups.
type SaleWithDetails struct {
	Sale
	Invoice      *Invoice      `json:"invoice,omitempty"`
	Installments []Installment `json:"installments,omitempty"`
}
