package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/lendcore/lending-engine/internal/domain"
	customError "github.com/lendcore/lending-engine/pkg/errors"
)

type loanRepository struct {
	db *sqlx.DB
}

func NewLoanRepository(db *sqlx.DB) LoanRepository {
	return &loanRepository{db: db}
}

const loanColumns = `id, loan_number, customer_id, principal, interest_rate, gross_receivable,
		term_months, start_date, maturity_date, overall_balance, penalty, status, version,
		created_at, updated_at`

func (r *loanRepository) Create(ctx context.Context, loan *domain.Loan) error {
	q := queryer(ctx, r.db)
	query := q.Rebind(`
		INSERT INTO loans (` + loanColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	_, err := q.ExecContext(ctx, query,
		loan.ID,
		loan.LoanNumber,
		loan.CustomerID,
		loan.Principal,
		loan.InterestRate,
		loan.GrossReceivable,
		loan.TermMonths,
		loan.StartDate,
		loan.MaturityDate,
		loan.OverallBalance,
		loan.Penalty,
		loan.Status,
		loan.Version,
		loan.CreatedAt,
		loan.UpdatedAt,
	)

	return err
}

func (r *loanRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Loan, error) {
	q := queryer(ctx, r.db)
	query := q.Rebind(`SELECT ` + loanColumns + ` FROM loans WHERE id = ?`)

	var loan domain.Loan
	if err := sqlx.GetContext(ctx, q, &loan, query, id); err != nil {
		return nil, err
	}

	return &loan, nil
}

func (r *loanRepository) GetByLoanNumber(ctx context.Context, loanNumber string) (*domain.Loan, error) {
	q := queryer(ctx, r.db)
	query := q.Rebind(`SELECT ` + loanColumns + ` FROM loans WHERE loan_number = ?`)

	var loan domain.Loan
	if err := sqlx.GetContext(ctx, q, &loan, query, loanNumber); err != nil {
		return nil, err
	}

	return &loan, nil
}

func (r *loanRepository) ListByStatus(ctx context.Context, status string) ([]*domain.Loan, error) {
	q := queryer(ctx, r.db)
	query := q.Rebind(`SELECT ` + loanColumns + ` FROM loans WHERE status = ? ORDER BY created_at`)

	var loans []*domain.Loan
	if err := sqlx.SelectContext(ctx, q, &loans, query, status); err != nil {
		return nil, err
	}

	return loans, nil
}

// Update writes the loan guarded by the version it was read at. Zero rows
// affected means a concurrent writer got there first. The caller stamps
// UpdatedAt from its injected clock.
func (r *loanRepository) Update(ctx context.Context, loan *domain.Loan) error {
	q := queryer(ctx, r.db)
	query := q.Rebind(`
		UPDATE loans
		SET overall_balance = ?, penalty = ?, status = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`)

	res, err := q.ExecContext(ctx, query,
		loan.OverallBalance,
		loan.Penalty,
		loan.Status,
		loan.UpdatedAt,
		loan.ID,
		loan.Version,
	)
	if err != nil {
		return err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return customError.ErrConcurrencyConflict
	}

	loan.Version++
	return nil
}
