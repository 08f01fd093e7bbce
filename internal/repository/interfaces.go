package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/lendcore/lending-engine/internal/domain"
)

// CustomerRepository defines the interface for customer data operations
type CustomerRepository interface {
	// Create creates a new customer
	Create(ctx context.Context, customer *domain.Customer) error

	// GetByID retrieves a customer by id
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Customer, error)
}

// LoanRepository defines the interface for loan data operations
type LoanRepository interface {
	// Create creates a new loan
	Create(ctx context.Context, loan *domain.Loan) error

	// GetByID retrieves a loan by id
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Loan, error)

	// GetByLoanNumber retrieves a loan by its human-facing number
	GetByLoanNumber(ctx context.Context, loanNumber string) (*domain.Loan, error)

	// ListByStatus retrieves all loans in a given status
	ListByStatus(ctx context.Context, status string) ([]*domain.Loan, error)

	// Update writes the loan guarded by its version column and bumps the
	// version. Returns ErrConcurrencyConflict when the row moved underneath.
	Update(ctx context.Context, loan *domain.Loan) error
}

// InstallmentRepository defines the interface for installment data operations
type InstallmentRepository interface {
	// CreateBatch creates the installment schedule in one transaction
	CreateBatch(ctx context.Context, installments []*domain.Installment) error

	// ListByLoanID retrieves installments ordered by due date then
	// payment number
	ListByLoanID(ctx context.Context, loanID uuid.UUID) ([]*domain.Installment, error)

	// Update writes an installment's paid amount, due amount and status
	Update(ctx context.Context, installment *domain.Installment) error
}

// PaymentHistoryRepository defines the interface for the append-only payment
// history. Entries are never updated or deleted.
type PaymentHistoryRepository interface {
	// Append records one payment history entry
	Append(ctx context.Context, entry *domain.PaymentEntry) error

	// ListByLoanID retrieves all entries for a loan, newest first
	ListByLoanID(ctx context.Context, loanID uuid.UUID) ([]*domain.PaymentEntry, error)
}

// Transactor runs a unit of work inside one database transaction. Repository
// calls made with the context passed to fn join that transaction.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
