package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
)

type txKey struct{}

// sqlTransactor implements Transactor on sqlx. The open transaction rides
// the context so repositories join it transparently.
type sqlTransactor struct {
	db *sqlx.DB
}

func NewTransactor(db *sqlx.DB) Transactor {
	return &sqlTransactor{db: db}
}

func (t *sqlTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := t.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}

	return tx.Commit()
}

// queryer returns the transaction bound to ctx, or the bare connection pool
// when no transaction is open.
func queryer(ctx context.Context, db *sqlx.DB) sqlx.ExtContext {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return db
}
