// Package ledger holds the pure payment engine: waterfall allocation of a
// payment across a loan's installments, penalty balance mutations and loan
// balance reconciliation. Nothing in this package touches storage or the
// clock; callers load state, invoke the engine and persist the result.
package ledger

import (
	"errors"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lendcore/lending-engine/internal/domain"
)

var (
	// ErrNoPayableInstallments signals that every installment is already
	// fully paid. The caller decides whether to treat the payment as
	// credit or reject it; the allocator never accepts it silently.
	ErrNoPayableInstallments = errors.New("no payable installments")

	// ErrInvalidPayment signals a zero or negative payment amount.
	ErrInvalidPayment = errors.New("payment amount must be positive")
)

// Application records how much of a payment landed on one installment.
type Application struct {
	InstallmentID uuid.UUID       `json:"installment_id"`
	PaymentNumber int             `json:"payment_number"`
	Applied       decimal.Decimal `json:"applied"`
	NewAmount     decimal.Decimal `json:"new_amount"`
	NewStatus     string          `json:"new_status"`
}

// Distribution is the full outcome of allocating one payment.
// Conservation holds: sum(Applied) + Leftover == submitted payment.
type Distribution struct {
	Applications   []Application   `json:"applications"`
	Leftover       decimal.Decimal `json:"leftover"`
	NewOutstanding decimal.Decimal `json:"new_outstanding"`
}

// SortInstallments orders installments ascending by due date, ties broken by
// payment number so allocation stays deterministic when dates collide.
func SortInstallments(installments []*domain.Installment) {
	sort.SliceStable(installments, func(a, b int) bool {
		if installments[a].DueDate.Equal(installments[b].DueDate) {
			return installments[a].PaymentNumber < installments[b].PaymentNumber
		}
		return installments[a].DueDate.Before(installments[b].DueDate)
	})
}

// Allocate distributes payment across installments in due-date order:
// fully paid installments are skipped, each underpaid installment receives
// min(remaining, still owed), and whatever survives the last installment is
// returned as Leftover. Input installments are not mutated.
func Allocate(installments []*domain.Installment, payment decimal.Decimal) (*Distribution, error) {
	if !payment.IsPositive() {
		return nil, ErrInvalidPayment
	}

	ordered := make([]*domain.Installment, len(installments))
	copy(ordered, installments)
	SortInstallments(ordered)

	var outstandingBefore decimal.Decimal
	payable := false
	for _, inst := range ordered {
		outstandingBefore = outstandingBefore.Add(inst.Outstanding())
		if !inst.FullyPaid() {
			payable = true
		}
	}
	if !payable {
		return nil, ErrNoPayableInstallments
	}

	dist := &Distribution{Applications: make([]Application, 0, len(ordered))}
	remaining := payment

	for _, inst := range ordered {
		if !remaining.IsPositive() {
			break
		}
		owed := inst.Outstanding()
		if owed.IsZero() {
			continue
		}

		applied := decimal.Min(remaining, owed)
		newAmount := inst.Amount.Add(applied)

		status := domain.InstallmentStatusPartial
		if newAmount.GreaterThanOrEqual(inst.ToPay) {
			status = domain.InstallmentStatusPaid
		}

		dist.Applications = append(dist.Applications, Application{
			InstallmentID: inst.ID,
			PaymentNumber: inst.PaymentNumber,
			Applied:       applied,
			NewAmount:     newAmount,
			NewStatus:     status,
		})
		remaining = remaining.Sub(applied)
	}

	dist.Leftover = remaining
	dist.NewOutstanding = outstandingBefore.Sub(payment.Sub(remaining))
	if dist.NewOutstanding.IsNegative() {
		dist.NewOutstanding = decimal.Zero
	}

	return dist, nil
}

// TotalApplied sums the applied amounts of a distribution.
func (d *Distribution) TotalApplied() decimal.Decimal {
	var total decimal.Decimal
	for _, app := range d.Applications {
		total = total.Add(app.Applied)
	}
	return total
}
