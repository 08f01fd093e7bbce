package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	LoanStatusPending   = "pending"
	LoanStatusActive    = "active"
	LoanStatusCompleted = "completed"
	LoanStatusOverdue   = "overdue"
	LoanStatusCancelled = "cancelled"
)

// Loan represents a loan entity. OverallBalance and Penalty are running
// aggregates maintained by the reconciler and penalty ledger; Version backs
// the optimistic concurrency check on every loan update.
type Loan struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	LoanNumber      string          `json:"loan_number" db:"loan_number"`
	CustomerID      uuid.UUID       `json:"customer_id" db:"customer_id"`
	Principal       decimal.Decimal `json:"principal" db:"principal"`
	InterestRate    decimal.Decimal `json:"interest_rate" db:"interest_rate"`
	GrossReceivable decimal.Decimal `json:"gross_receivable" db:"gross_receivable"`
	TermMonths      int             `json:"term_months" db:"term_months"`
	StartDate       time.Time       `json:"start_date" db:"start_date"`
	MaturityDate    time.Time       `json:"maturity_date" db:"maturity_date"`
	OverallBalance  decimal.Decimal `json:"overall_balance" db:"overall_balance"`
	Penalty         decimal.Decimal `json:"penalty" db:"penalty"`
	Status          string          `json:"status" db:"status"`
	Version         int64           `json:"version" db:"version"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// Payable reports whether the loan may receive installment payments or
// penalty mutations in its current status.
func (l *Loan) Payable() bool {
	switch l.Status {
	case LoanStatusPending, LoanStatusActive, LoanStatusOverdue:
		return true
	}
	return false
}

// DTOs for requests and responses

type CreateLoanRequest struct {
	LoanNumber   string          `json:"loan_number" validate:"required"`
	CustomerID   uuid.UUID       `json:"customer_id" validate:"required"`
	Principal    decimal.Decimal `json:"principal" validate:"required,decimal_gt=0"`
	InterestRate decimal.Decimal `json:"interest_rate" validate:"decimal_gte=0"`
	TermMonths   int             `json:"term_months" validate:"required,gt=0"`
	StartDate    time.Time       `json:"start_date" validate:"required"`
}

type CreateLoanResponse struct {
	Loan     *Loan          `json:"loan"`
	Schedule []*Installment `json:"schedule"`
}

type LoanPaymentRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"required,decimal_gt=0"`
	Method string          `json:"method" validate:"required"`
	Notes  string          `json:"notes" validate:"omitempty,max=500"`
}

type AddPenaltyRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"required,decimal_gt=0"`
	Reason string          `json:"reason" validate:"required,max=255"`
}

type PenaltyPaymentRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"required,decimal_gt=0"`
	Method string          `json:"method" validate:"required"`
	Notes  string          `json:"notes" validate:"omitempty,max=500"`
}

type OutstandingResponse struct {
	LoanID         uuid.UUID       `json:"loan_id"`
	OverallBalance decimal.Decimal `json:"overall_balance"`
	Penalty        decimal.Decimal `json:"penalty"`
	Status         string          `json:"status"`
}

type AddPenaltyResponse struct {
	LoanID     uuid.UUID       `json:"loan_id"`
	NewPenalty decimal.Decimal `json:"new_penalty"`
}

type PenaltyPaymentResponse struct {
	LoanID     uuid.UUID       `json:"loan_id"`
	NewPenalty decimal.Decimal `json:"new_penalty"`
	NewBalance decimal.Decimal `json:"new_balance"`
}

type RecalculateResponse struct {
	LoanID         uuid.UUID       `json:"loan_id"`
	OverallBalance decimal.Decimal `json:"overall_balance"`
	Status         string          `json:"status"`
}
