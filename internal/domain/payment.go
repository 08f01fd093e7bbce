package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	PaymentMethodCash         = "cash"
	PaymentMethodBankTransfer = "bank_transfer"
	PaymentMethodOnline       = "online"
)

// PaymentEntry is one append-only payment history record. A payment that
// spans several installments writes one entry per installment touched;
// penalty payments carry a null installment id.
type PaymentEntry struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	LoanID        uuid.UUID       `json:"loan_id" db:"loan_id"`
	InstallmentID uuid.NullUUID   `json:"installment_id" db:"installment_id"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	Method        string          `json:"method" db:"method"`
	Notes         string          `json:"notes" db:"notes"`
	RecordedAt    time.Time       `json:"recorded_at" db:"recorded_at"`
}

type PaymentHistoryResponse struct {
	LoanID  uuid.UUID       `json:"loan_id"`
	Entries []*PaymentEntry `json:"entries"`
}
