package utils

import (
	"time"

	"github.com/shopspring/decimal"
)

// Clock supplies "now" to anything that needs it, so tests stay
// deterministic. The zero-config default is time.Now.
type Clock func() time.Time

// SystemClock returns the wall clock in UTC.
func SystemClock() time.Time {
	return time.Now().UTC()
}

// FixedClock returns a Clock frozen at t.
func FixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

// GrossReceivable computes principal plus flat interest, rounded to 2
// decimal places: principal * (1 + rate).
func GrossReceivable(principal decimal.Decimal, rate decimal.Decimal) decimal.Decimal {
	return principal.Add(principal.Mul(rate)).Round(2)
}

// SplitEvenly divides total into n currency amounts that sum exactly to
// total. Each part is total/n rounded down to 2 decimal places; the last
// part absorbs the rounding remainder.
func SplitEvenly(total decimal.Decimal, n int) []decimal.Decimal {
	if n <= 0 {
		return nil
	}

	part := total.Div(decimal.NewFromInt(int64(n))).RoundDown(2)
	parts := make([]decimal.Decimal, n)
	var allocated decimal.Decimal
	for i := 0; i < n-1; i++ {
		parts[i] = part
		allocated = allocated.Add(part)
	}
	parts[n-1] = total.Sub(allocated)

	return parts
}

// MonthlyDueDates steps n due dates one month apart, starting one month
// after the loan start date.
func MonthlyDueDates(start time.Time, n int) []time.Time {
	dates := make([]time.Time, n)
	for i := 0; i < n; i++ {
		dates[i] = start.AddDate(0, i+1, 0)
	}
	return dates
}

// IsDateOverdue checks if a due date has passed at a given instant.
func IsDateOverdue(dueDate time.Time, now time.Time) bool {
	return now.After(dueDate)
}
