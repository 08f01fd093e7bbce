package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/lendcore/lending-engine/internal/domain"
)

type installmentRepository struct {
	db *sqlx.DB
}

func NewInstallmentRepository(db *sqlx.DB) InstallmentRepository {
	return &installmentRepository{db: db}
}

const installmentColumns = `id, loan_id, payment_number, to_pay, original_to_pay, amount,
		due_date, status, created_at, updated_at`

func (r *installmentRepository) CreateBatch(ctx context.Context, installments []*domain.Installment) error {
	q := queryer(ctx, r.db)
	query := q.Rebind(`
		INSERT INTO installments (` + installmentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	for _, inst := range installments {
		_, err := q.ExecContext(ctx, query,
			inst.ID,
			inst.LoanID,
			inst.PaymentNumber,
			inst.ToPay,
			inst.OriginalToPay,
			inst.Amount,
			inst.DueDate,
			inst.Status,
			inst.CreatedAt,
			inst.UpdatedAt,
		)
		if err != nil {
			return err
		}
	}

	return nil
}

func (r *installmentRepository) ListByLoanID(ctx context.Context, loanID uuid.UUID) ([]*domain.Installment, error) {
	q := queryer(ctx, r.db)
	query := q.Rebind(`
		SELECT ` + installmentColumns + `
		FROM installments
		WHERE loan_id = ?
		ORDER BY due_date, payment_number
	`)

	var installments []*domain.Installment
	if err := sqlx.SelectContext(ctx, q, &installments, query, loanID); err != nil {
		return nil, err
	}

	return installments, nil
}

func (r *installmentRepository) Update(ctx context.Context, inst *domain.Installment) error {
	q := queryer(ctx, r.db)
	query := q.Rebind(`
		UPDATE installments
		SET to_pay = ?, amount = ?, status = ?, updated_at = ?
		WHERE id = ?
	`)

	_, err := q.ExecContext(ctx, query,
		inst.ToPay,
		inst.Amount,
		inst.Status,
		inst.UpdatedAt,
		inst.ID,
	)

	return err
}
