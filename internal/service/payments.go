package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lendcore/lending-engine/internal/domain"
	"github.com/lendcore/lending-engine/internal/ledger"
	customError "github.com/lendcore/lending-engine/pkg/errors"
	"github.com/lendcore/lending-engine/pkg/utils"
)

// LoanPaymentResult is the outcome of one applied loan payment. Leftover is
// any overpayment beyond the total outstanding; it is reported back to the
// caller, never dropped or silently credited.
type LoanPaymentResult struct {
	LoanID     uuid.UUID            `json:"loan_id"`
	Applied    []ledger.Application `json:"applied"`
	Leftover   decimal.Decimal      `json:"leftover"`
	NewBalance decimal.Decimal      `json:"new_balance"`
	NewStatus  string               `json:"new_status"`
}

// ApplyLoanPayment distributes a payment across the loan's installments.
// The whole read-allocate-write-reconcile-record unit runs in one
// transaction; a concurrent writer triggers a version conflict and the unit
// is retried from the top with fresh state.
func (s *LendingService) ApplyLoanPayment(ctx context.Context, loanID uuid.UUID, request *domain.LoanPaymentRequest) (*LoanPaymentResult, error) {
	var result *LoanPaymentResult
	var err error

	attempts := s.config.Business.PaymentRetryAttempts
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err = s.applyLoanPaymentOnce(ctx, loanID, request)
		if !errors.Is(err, customError.ErrConcurrencyConflict) {
			return result, err
		}
		s.log.Warn().
			Str("loan_id", loanID.String()).
			Int("attempt", attempt).
			Msg("payment hit concurrent loan update, retrying")
	}

	return nil, customError.WrapConcurrencyConflict(loanID.String())
}

func (s *LendingService) applyLoanPaymentOnce(ctx context.Context, loanID uuid.UUID, request *domain.LoanPaymentRequest) (*LoanPaymentResult, error) {
	var result *LoanPaymentResult

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		loan, err := s.loanRepo.GetByID(ctx, loanID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return customError.WrapLoanNotFound(loanID.String())
			}
			return customError.WrapDatabaseError(err)
		}

		if !loan.Payable() {
			if loan.Status == domain.LoanStatusCompleted {
				return customError.WrapNoOutstandingBalance(loanID.String())
			}
			return customError.WrapInvalidLoanState(loanID.String(), loan.Status)
		}

		installments, err := s.installmentRepo.ListByLoanID(ctx, loanID)
		if err != nil {
			return customError.WrapDatabaseError(err)
		}

		dist, err := ledger.Allocate(installments, request.Amount)
		if err != nil {
			switch {
			case errors.Is(err, ledger.ErrInvalidPayment):
				return customError.WrapInvalidPaymentAmount(request.Amount.String())
			case errors.Is(err, ledger.ErrNoPayableInstallments):
				return customError.WrapNoOutstandingBalance(loanID.String())
			}
			return err
		}

		now := s.now()

		byID := make(map[uuid.UUID]*domain.Installment, len(installments))
		for _, inst := range installments {
			byID[inst.ID] = inst
		}
		for _, app := range dist.Applications {
			inst := byID[app.InstallmentID]
			inst.Amount = app.NewAmount
			inst.Status = app.NewStatus
			inst.UpdatedAt = now
			if err := s.installmentRepo.Update(ctx, inst); err != nil {
				return customError.WrapDatabaseError(err)
			}
		}

		// A payment activates a pending loan before reconciliation so the
		// status rule has the right baseline.
		if loan.Status == domain.LoanStatusPending {
			loan.Status = domain.LoanStatusActive
		}

		rec := ledger.Reconcile(loan, installments)
		loan.OverallBalance = rec.OverallBalance
		loan.Status = rec.Status
		loan.UpdatedAt = now

		if err := s.loanRepo.Update(ctx, loan); err != nil {
			if errors.Is(err, customError.ErrConcurrencyConflict) {
				return err
			}
			return customError.WrapDatabaseError(err)
		}

		// One history entry per installment touched.
		for _, app := range dist.Applications {
			entry := &domain.PaymentEntry{
				ID:            uuid.New(),
				LoanID:        loanID,
				InstallmentID: uuid.NullUUID{UUID: app.InstallmentID, Valid: true},
				Amount:        app.Applied,
				Method:        request.Method,
				Notes:         request.Notes,
				RecordedAt:    now,
			}
			if err := s.historyRepo.Append(ctx, entry); err != nil {
				return customError.WrapDatabaseError(err)
			}
		}

		result = &LoanPaymentResult{
			LoanID:     loanID,
			Applied:    dist.Applications,
			Leftover:   dist.Leftover,
			NewBalance: rec.OverallBalance,
			NewStatus:  rec.Status,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateOutstanding(ctx, loanID)

	s.log.Info().
		Str("loan_id", loanID.String()).
		Str("amount", request.Amount.String()).
		Str("leftover", result.Leftover.String()).
		Str("new_balance", result.NewBalance.String()).
		Str("new_status", result.NewStatus).
		Int("installments_touched", len(result.Applied)).
		Msg("payment applied")

	return result, nil
}

// AddPenalty accrues a penalty on the loan. Completed and cancelled loans
// reject the accrual.
func (s *LendingService) AddPenalty(ctx context.Context, loanID uuid.UUID, request *domain.AddPenaltyRequest) (*domain.AddPenaltyResponse, error) {
	var resp *domain.AddPenaltyResponse

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		loan, err := s.loanRepo.GetByID(ctx, loanID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return customError.WrapLoanNotFound(loanID.String())
			}
			return customError.WrapDatabaseError(err)
		}

		newPenalty, err := ledger.AddPenalty(loan, request.Amount)
		if err != nil {
			return mapPenaltyError(err, loan, request.Amount)
		}

		loan.Penalty = newPenalty
		loan.UpdatedAt = s.now()
		if err := s.loanRepo.Update(ctx, loan); err != nil {
			if errors.Is(err, customError.ErrConcurrencyConflict) {
				return customError.WrapConcurrencyConflict(loanID.String())
			}
			return customError.WrapDatabaseError(err)
		}

		resp = &domain.AddPenaltyResponse{LoanID: loanID, NewPenalty: newPenalty}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateOutstanding(ctx, loanID)

	s.log.Info().
		Str("loan_id", loanID.String()).
		Str("amount", request.Amount.String()).
		Str("reason", request.Reason).
		Str("new_penalty", resp.NewPenalty.String()).
		Msg("penalty added")

	return resp, nil
}

// ApplyPenaltyPayment pays the loan's penalty balance down. The payment is
// recorded in history with no installment reference.
func (s *LendingService) ApplyPenaltyPayment(ctx context.Context, loanID uuid.UUID, request *domain.PenaltyPaymentRequest) (*domain.PenaltyPaymentResponse, error) {
	var resp *domain.PenaltyPaymentResponse

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		loan, err := s.loanRepo.GetByID(ctx, loanID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return customError.WrapLoanNotFound(loanID.String())
			}
			return customError.WrapDatabaseError(err)
		}

		newPenalty, err := ledger.PayPenalty(loan, request.Amount)
		if err != nil {
			return mapPenaltyError(err, loan, request.Amount)
		}

		now := s.now()
		loan.Penalty = newPenalty
		loan.UpdatedAt = now
		if err := s.loanRepo.Update(ctx, loan); err != nil {
			if errors.Is(err, customError.ErrConcurrencyConflict) {
				return customError.WrapConcurrencyConflict(loanID.String())
			}
			return customError.WrapDatabaseError(err)
		}

		entry := &domain.PaymentEntry{
			ID:         uuid.New(),
			LoanID:     loanID,
			Amount:     request.Amount,
			Method:     request.Method,
			Notes:      request.Notes,
			RecordedAt: now,
		}
		if err := s.historyRepo.Append(ctx, entry); err != nil {
			return customError.WrapDatabaseError(err)
		}

		resp = &domain.PenaltyPaymentResponse{
			LoanID:     loanID,
			NewPenalty: newPenalty,
			NewBalance: loan.OverallBalance,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateOutstanding(ctx, loanID)

	s.log.Info().
		Str("loan_id", loanID.String()).
		Str("amount", request.Amount.String()).
		Str("new_penalty", resp.NewPenalty.String()).
		Msg("penalty payment applied")

	return resp, nil
}

// RecalculateLoanBalance recomputes the loan aggregate from stored
// installments and repairs any drifted installment statuses. Idempotent;
// used by the scheduler and as a manual repair endpoint.
func (s *LendingService) RecalculateLoanBalance(ctx context.Context, loanID uuid.UUID) (*domain.RecalculateResponse, error) {
	var resp *domain.RecalculateResponse

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		loan, err := s.loanRepo.GetByID(ctx, loanID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return customError.WrapLoanNotFound(loanID.String())
			}
			return customError.WrapDatabaseError(err)
		}

		installments, err := s.installmentRepo.ListByLoanID(ctx, loanID)
		if err != nil {
			return customError.WrapDatabaseError(err)
		}

		now := s.now()
		for _, inst := range installments {
			if expected := inst.StoredStatus(); inst.Status != expected {
				inst.Status = expected
				inst.UpdatedAt = now
				if err := s.installmentRepo.Update(ctx, inst); err != nil {
					return customError.WrapDatabaseError(err)
				}
			}
		}

		rec := ledger.Reconcile(loan, installments)
		if !loan.OverallBalance.Equal(rec.OverallBalance) || loan.Status != rec.Status {
			loan.OverallBalance = rec.OverallBalance
			loan.Status = rec.Status
			loan.UpdatedAt = now
			if err := s.loanRepo.Update(ctx, loan); err != nil {
				if errors.Is(err, customError.ErrConcurrencyConflict) {
					return customError.WrapConcurrencyConflict(loanID.String())
				}
				return customError.WrapDatabaseError(err)
			}
		}

		resp = &domain.RecalculateResponse{
			LoanID:         loanID,
			OverallBalance: rec.OverallBalance,
			Status:         rec.Status,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateOutstanding(ctx, loanID)
	return resp, nil
}

// MarkOverdueLoans sweeps active loans whose earliest unpaid installment is
// past due into overdue status, and restores overdue loans that caught up.
// Run nightly by the scheduler.
func (s *LendingService) MarkOverdueLoans(ctx context.Context) (int, error) {
	now := s.now()
	flagged := 0

	active, err := s.loanRepo.ListByStatus(ctx, domain.LoanStatusActive)
	if err != nil {
		return 0, customError.WrapDatabaseError(err)
	}
	for _, loan := range active {
		pastDue, err := s.hasPastDueInstallment(ctx, loan.ID, now)
		if err != nil {
			return flagged, err
		}
		if pastDue {
			loan.Status = domain.LoanStatusOverdue
			loan.UpdatedAt = now
			if err := s.loanRepo.Update(ctx, loan); err != nil {
				return flagged, customError.WrapDatabaseError(err)
			}
			s.invalidateOutstanding(ctx, loan.ID)
			flagged++
		}
	}

	overdue, err := s.loanRepo.ListByStatus(ctx, domain.LoanStatusOverdue)
	if err != nil {
		return flagged, customError.WrapDatabaseError(err)
	}
	for _, loan := range overdue {
		pastDue, err := s.hasPastDueInstallment(ctx, loan.ID, now)
		if err != nil {
			return flagged, err
		}
		if !pastDue {
			loan.Status = domain.LoanStatusActive
			loan.UpdatedAt = now
			if err := s.loanRepo.Update(ctx, loan); err != nil {
				return flagged, customError.WrapDatabaseError(err)
			}
			s.invalidateOutstanding(ctx, loan.ID)
		}
	}

	return flagged, nil
}

func (s *LendingService) hasPastDueInstallment(ctx context.Context, loanID uuid.UUID, now time.Time) (bool, error) {
	installments, err := s.installmentRepo.ListByLoanID(ctx, loanID)
	if err != nil {
		return false, customError.WrapDatabaseError(err)
	}
	for _, inst := range installments {
		if !inst.FullyPaid() && utils.IsDateOverdue(inst.DueDate, now) {
			return true, nil
		}
	}
	return false, nil
}

func mapPenaltyError(err error, loan *domain.Loan, amount decimal.Decimal) error {
	switch {
	case errors.Is(err, ledger.ErrInvalidPenaltyAmount):
		return customError.WrapInvalidPaymentAmount(amount.String())
	case errors.Is(err, ledger.ErrLoanNotPenalizable):
		return customError.WrapInvalidLoanState(loan.ID.String(), loan.Status)
	}
	return err
}
