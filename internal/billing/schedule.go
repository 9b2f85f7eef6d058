package billing

import (
	"fmt"
	"math"
	"time"

	"github.com/meridian-retail/meridian-credit/internal/shared"
)

// MonthlyInstallment computes the per-month amount for an amortized balance,
// rounded up to the smallest currency unit so the schedule never undershoots.
func MonthlyInstallment(remaining float64, duration int) float64 {
	return CeilTo2(remaining / float64(duration))
}

// installmentDueDate returns the due date for the i-th installment: sale date
// plus i months, with the day of month pinned to payDay. payDay is validated
// to 1..28 so the date never rolls into the next month.
func installmentDueDate(saleDate time.Time, monthsAhead, payDay int) time.Time {
	y, m, _ := saleDate.Date()
	return time.Date(y, m+time.Month(monthsAhead), payDay, 0, 0, 0, 0, saleDate.Location())
}

// BuildSchedule emits the installment rows for a post-down-payment balance.
// Installments 1..N-1 carry the rounded monthly amount; the final installment
// absorbs all rounding drift so the schedule sums to remaining exactly. The
// sum is verified before the schedule is handed back; a drifted schedule is
// never persisted.
func BuildSchedule(saleDate time.Time, remaining float64, duration, payDay int) ([]Installment, error) {
	monthly := MonthlyInstallment(remaining, duration)
	toAllocate := remaining

	schedule := make([]Installment, 0, duration)
	for i := 1; i <= duration; i++ {
		amount := monthly
		if i == duration {
			amount = Round2(toAllocate)
		} else {
			toAllocate = Round2(toAllocate - monthly)
		}
		schedule = append(schedule, Installment{
			Number:  i,
			DueDate: installmentDueDate(saleDate, i, payDay),
			Amount:  amount,
			Status:  InstallmentStatusPending,
		})
	}
	if err := verifyScheduleTotal(schedule, remaining); err != nil {
		return nil, err
	}
	return schedule, nil
}

// verifyScheduleTotal checks that the installment amounts sum to the balance
// they amortize, within half the smallest currency unit.
func verifyScheduleTotal(schedule []Installment, remaining float64) error {
	var total float64
	for _, ins := range schedule {
		total = Round2(total + ins.Amount)
	}
	if math.Abs(total-Round2(remaining)) >= 0.005 {
		return fmt.Errorf("%w: installment schedule sums to %.2f, expected %.2f",
			shared.ErrIntegrity, total, remaining)
	}
	return nil
}
