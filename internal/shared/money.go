package shared

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var amountPrinter = message.NewPrinter(language.English)

// FormatAmount renders a currency amount with thousands separators and two
// decimals for user-facing messages, e.g. 33333.34 -> "33,333.34".
func FormatAmount(v float64) string {
	return amountPrinter.Sprintf("%.2f", v)
}
