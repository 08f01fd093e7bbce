package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lendcore/lending-engine/pkg/utils"
)

const (
	InstallmentStatusPending = "pending"
	InstallmentStatusPartial = "partial"
	InstallmentStatusPaid    = "paid"

	// InstallmentStatusOverdue is a derived, view-only label. It is never
	// stored and never blocks payment acceptance.
	InstallmentStatusOverdue = "overdue"
)

// Installment is one scheduled payment obligation of a loan. ToPay is the
// current amount due, OriginalToPay the amount at origination (kept even if
// adjusted later), Amount the cumulative amount paid so far.
// Invariant: Amount <= ToPay, ToPay >= 0.
type Installment struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	LoanID        uuid.UUID       `json:"loan_id" db:"loan_id"`
	PaymentNumber int             `json:"payment_number" db:"payment_number"`
	ToPay         decimal.Decimal `json:"to_pay" db:"to_pay"`
	OriginalToPay decimal.Decimal `json:"original_to_pay" db:"original_to_pay"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	DueDate       time.Time       `json:"due_date" db:"due_date"`
	Status        string          `json:"status" db:"status"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// Outstanding returns the amount still owed on this installment, floored at
// zero.
func (i *Installment) Outstanding() decimal.Decimal {
	out := i.ToPay.Sub(i.Amount)
	if out.IsNegative() {
		return decimal.Zero
	}
	return out
}

// FullyPaid reports whether the installment has no remaining balance.
func (i *Installment) FullyPaid() bool {
	return i.Amount.GreaterThanOrEqual(i.ToPay)
}

// StoredStatus derives the persisted status from the paid amount.
func (i *Installment) StoredStatus() string {
	switch {
	case i.FullyPaid():
		return InstallmentStatusPaid
	case i.Amount.IsPositive():
		return InstallmentStatusPartial
	default:
		return InstallmentStatusPending
	}
}

// DerivedStatus classifies the installment for display at a given instant.
// Unpaid installments past their due date read as overdue.
func (i *Installment) DerivedStatus(now time.Time) string {
	if !i.FullyPaid() && utils.IsDateOverdue(i.DueDate, now) {
		return InstallmentStatusOverdue
	}
	return i.StoredStatus()
}

type ScheduleResponse struct {
	LoanID   uuid.UUID      `json:"loan_id"`
	Schedule []*Installment `json:"schedule"`
}
