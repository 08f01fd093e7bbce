package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/lendcore/lending-engine/internal/domain"
)

type customerRepository struct {
	db *sqlx.DB
}

func NewCustomerRepository(db *sqlx.DB) CustomerRepository {
	return &customerRepository{db: db}
}

func (r *customerRepository) Create(ctx context.Context, customer *domain.Customer) error {
	q := queryer(ctx, r.db)
	query := q.Rebind(`
		INSERT INTO customers (id, name, phone, email, address, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)

	_, err := q.ExecContext(ctx, query,
		customer.ID,
		customer.Name,
		customer.Phone,
		customer.Email,
		customer.Address,
		customer.CreatedAt,
		customer.UpdatedAt,
	)

	return err
}

func (r *customerRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Customer, error) {
	q := queryer(ctx, r.db)
	query := q.Rebind(`
		SELECT id, name, phone, email, address, created_at, updated_at
		FROM customers
		WHERE id = ?
	`)

	var customer domain.Customer
	if err := sqlx.GetContext(ctx, q, &customer, query, id); err != nil {
		return nil, err
	}

	return &customer, nil
}
