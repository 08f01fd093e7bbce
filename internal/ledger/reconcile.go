package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/lendcore/lending-engine/internal/domain"
)

// Reconciliation is the loan-level aggregate recomputed from installment
// state.
type Reconciliation struct {
	OverallBalance decimal.Decimal
	Status         string
}

// Reconcile recomputes the loan's outstanding balance and lifecycle status
// from its installments. It is the single source of truth after any
// installment mutation, payments and administrative adjustments alike.
//
// The status rule: fully paid promotes to completed; a completed loan whose
// installments owe again demotes back to active; otherwise the caller's
// status survives. Reconciliation never invents any other status.
func Reconcile(loan *domain.Loan, installments []*domain.Installment) Reconciliation {
	var totalToPay, totalPaid decimal.Decimal
	for _, inst := range installments {
		totalToPay = totalToPay.Add(inst.ToPay)
		totalPaid = totalPaid.Add(inst.Amount)
	}

	balance := totalToPay.Sub(totalPaid)
	if balance.IsNegative() {
		balance = decimal.Zero
	}

	status := loan.Status
	if totalPaid.GreaterThanOrEqual(totalToPay) {
		status = domain.LoanStatusCompleted
	} else if loan.Status == domain.LoanStatusCompleted {
		status = domain.LoanStatusActive
	}

	return Reconciliation{OverallBalance: balance, Status: status}
}
