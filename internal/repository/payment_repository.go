package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/lendcore/lending-engine/internal/domain"
)

type paymentHistoryRepository struct {
	db *sqlx.DB
}

func NewPaymentHistoryRepository(db *sqlx.DB) PaymentHistoryRepository {
	return &paymentHistoryRepository{db: db}
}

// Append inserts one history entry. There is deliberately no update or
// delete on this table.
func (r *paymentHistoryRepository) Append(ctx context.Context, entry *domain.PaymentEntry) error {
	q := queryer(ctx, r.db)
	query := q.Rebind(`
		INSERT INTO payment_history (id, loan_id, installment_id, amount, method, notes, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)

	_, err := q.ExecContext(ctx, query,
		entry.ID,
		entry.LoanID,
		entry.InstallmentID,
		entry.Amount,
		entry.Method,
		entry.Notes,
		entry.RecordedAt,
	)

	return err
}

func (r *paymentHistoryRepository) ListByLoanID(ctx context.Context, loanID uuid.UUID) ([]*domain.PaymentEntry, error) {
	q := queryer(ctx, r.db)
	query := q.Rebind(`
		SELECT id, loan_id, installment_id, amount, method, notes, recorded_at
		FROM payment_history
		WHERE loan_id = ?
		ORDER BY recorded_at DESC, id
	`)

	var entries []*domain.PaymentEntry
	if err := sqlx.SelectContext(ctx, q, &entries, query, loanID); err != nil {
		return nil, err
	}

	return entries, nil
}
