package repository

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Migrate creates the schema if it does not exist. Money columns are TEXT on
// sqlite so decimal values round-trip without precision loss; Postgres gets
// real NUMERIC columns.
func Migrate(db *sqlx.DB, driver string) error {
	money := "NUMERIC(18,2)"
	if driver == "sqlite3" {
		money = "TEXT"
	}

	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		phone TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		loan_number TEXT NOT NULL UNIQUE,
		customer_id TEXT NOT NULL REFERENCES customers(id),
		principal %[1]s NOT NULL,
		interest_rate %[1]s NOT NULL,
		gross_receivable %[1]s NOT NULL,
		term_months INTEGER NOT NULL,
		start_date TIMESTAMP NOT NULL,
		maturity_date TIMESTAMP NOT NULL,
		overall_balance %[1]s NOT NULL,
		penalty %[1]s NOT NULL,
		status TEXT NOT NULL,
		version BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS installments (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL REFERENCES loans(id) ON DELETE CASCADE,
		payment_number INTEGER NOT NULL,
		to_pay %[1]s NOT NULL,
		original_to_pay %[1]s NOT NULL,
		amount %[1]s NOT NULL,
		due_date TIMESTAMP NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (loan_id, payment_number)
	);

	CREATE TABLE IF NOT EXISTS payment_history (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL REFERENCES loans(id) ON DELETE CASCADE,
		installment_id TEXT,
		amount %[1]s NOT NULL,
		method TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		recorded_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_loans_customer ON loans(customer_id);
	CREATE INDEX IF NOT EXISTS idx_loans_status ON loans(status);
	CREATE INDEX IF NOT EXISTS idx_installments_loan ON installments(loan_id);
	CREATE INDEX IF NOT EXISTS idx_history_loan ON payment_history(loan_id);
	`, money)

	if driver == "sqlite3" {
		if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
			return fmt.Errorf("failed to enable foreign keys: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}
