package ledger

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/lendcore/lending-engine/internal/domain"
)

var (
	// ErrInvalidPenaltyAmount signals a non-positive amount or a penalty
	// payment exceeding the current penalty balance.
	ErrInvalidPenaltyAmount = errors.New("invalid penalty amount")

	// ErrLoanNotPenalizable signals penalty accrual on a completed or
	// cancelled loan.
	ErrLoanNotPenalizable = errors.New("loan status does not allow penalty accrual")
)

// AddPenalty returns the loan's penalty balance after accruing amount.
// The loan is not mutated; the caller persists the returned value.
func AddPenalty(loan *domain.Loan, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return loan.Penalty, ErrInvalidPenaltyAmount
	}
	if !loan.Payable() {
		return loan.Penalty, ErrLoanNotPenalizable
	}
	return loan.Penalty.Add(amount), nil
}

// PayPenalty returns the loan's penalty balance after paying amount down.
// Amount must be positive and no greater than the current penalty; the
// result never goes below zero. Unlike AddPenalty there is no status gate:
// installments alone complete a loan, so a penalty outstanding at completion
// must remain payable.
func PayPenalty(loan *domain.Loan, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() || amount.GreaterThan(loan.Penalty) {
		return loan.Penalty, ErrInvalidPenaltyAmount
	}
	next := loan.Penalty.Sub(amount)
	if next.IsNegative() {
		next = decimal.Zero
	}
	return next, nil
}
