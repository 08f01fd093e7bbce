package errors

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	ErrLoanNotFound         = errors.New("loan not found")
	ErrCustomerNotFound     = errors.New("customer not found")
	ErrLoanAlreadyExists    = errors.New("loan already exists")
	ErrInvalidPaymentAmount = errors.New("invalid payment amount")
	ErrInvalidLoanState     = errors.New("loan state does not allow this operation")
	ErrNoOutstandingBalance = errors.New("no outstanding balance")
	ErrConcurrencyConflict  = errors.New("loan was modified concurrently")
)

// BusinessError represents a business logic error
type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

// NewBusinessError creates a new business error
func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Error codes
const (
	ErrCodeLoanNotFound         = "LOAN_NOT_FOUND"
	ErrCodeCustomerNotFound     = "CUSTOMER_NOT_FOUND"
	ErrCodeLoanAlreadyExists    = "LOAN_ALREADY_EXISTS"
	ErrCodeValidation           = "VALIDATION_ERROR"
	ErrCodeInvalidPaymentAmount = "INVALID_PAYMENT_AMOUNT"
	ErrCodeInvalidLoanState     = "INVALID_LOAN_STATE"
	ErrCodeNoOutstandingBalance = "NO_OUTSTANDING_BALANCE"
	ErrCodeConcurrencyConflict  = "CONCURRENCY_CONFLICT"
	ErrCodeDatabaseError        = "DATABASE_ERROR"
	ErrCodeCacheError           = "CACHE_ERROR"
)

// Wrap common errors with business context
func WrapLoanNotFound(loanID string) *BusinessError {
	return NewBusinessError(
		ErrCodeLoanNotFound,
		fmt.Sprintf("Loan %s not found", loanID),
		ErrLoanNotFound,
	)
}

func WrapCustomerNotFound(customerID string) *BusinessError {
	return NewBusinessError(
		ErrCodeCustomerNotFound,
		fmt.Sprintf("Customer %s not found", customerID),
		ErrCustomerNotFound,
	)
}

func WrapLoanAlreadyExists(loanNumber string) *BusinessError {
	return NewBusinessError(
		ErrCodeLoanAlreadyExists,
		fmt.Sprintf("Loan %s already exists", loanNumber),
		ErrLoanAlreadyExists,
	)
}

func WrapInvalidPaymentAmount(amount string) *BusinessError {
	return NewBusinessError(
		ErrCodeInvalidPaymentAmount,
		fmt.Sprintf("Invalid payment amount: %s", amount),
		ErrInvalidPaymentAmount,
	)
}

// WrapInvalidLoanState carries the current status for diagnostics.
func WrapInvalidLoanState(loanID, status string) *BusinessError {
	return NewBusinessError(
		ErrCodeInvalidLoanState,
		fmt.Sprintf("Loan %s is %s and cannot accept this operation", loanID, status),
		ErrInvalidLoanState,
	)
}

func WrapNoOutstandingBalance(loanID string) *BusinessError {
	return NewBusinessError(
		ErrCodeNoOutstandingBalance,
		fmt.Sprintf("Loan %s has no outstanding balance", loanID),
		ErrNoOutstandingBalance,
	)
}

func WrapConcurrencyConflict(loanID string) *BusinessError {
	return NewBusinessError(
		ErrCodeConcurrencyConflict,
		fmt.Sprintf("Loan %s was modified concurrently, retry the operation", loanID),
		ErrConcurrencyConflict,
	)
}

func WrapValidationError(message string, err error) *BusinessError {
	return NewBusinessError(ErrCodeValidation, message, err)
}

func WrapDatabaseError(err error) *BusinessError {
	return NewBusinessError(
		ErrCodeDatabaseError,
		"database operation failed",
		err,
	)
}

func WrapCacheError(err error) *BusinessError {
	return NewBusinessError(
		ErrCodeCacheError,
		"cache operation failed",
		err,
	)
}
