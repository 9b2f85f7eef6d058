package risk

// Flag is the customer's tri-state credit risk marker.
type Flag string

const (
	FlagGreen  Flag = "green"
	FlagYellow Flag = "yellow"
	FlagRed    Flag = "red"
)

// Stats aggregates a customer's invoice history over the trailing twelve
// months. Effective date is the sale date, falling back to the invoice
// creation date for invoices whose sale row is gone.
type Stats struct {
	TotalInvoices    int
	OverdueInvoices  int
	PartialInvoices  int
	MaxDaysOverdue   int
	AvgDaysOverdue   float64
	TotalOutstanding float64
	TotalPaid        float64
	TotalCredit      float64
}

// OverdueRatio is the share of invoices currently overdue.
func (s Stats) OverdueRatio() float64 {
	if s.TotalInvoices == 0 {
		return 0
	}
	return float64(s.OverdueInvoices) / float64(s.TotalInvoices)
}

// PartialRatio is the share of invoices sitting in partial payment.
func (s Stats) PartialRatio() float64 {
	if s.TotalInvoices == 0 {
		return 0
	}
	return float64(s.PartialInvoices) / float64(s.TotalInvoices)
}

// PaymentRate is total paid over total credit extended, zero when no credit
// has been extended.
func (s Stats) PaymentRate() float64 {
	if s.TotalCredit == 0 {
		return 0
	}
	return s.TotalPaid / s.TotalCredit
}
