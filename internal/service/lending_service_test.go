package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lendcore/lending-engine/internal/config"
	"github.com/lendcore/lending-engine/internal/domain"
	customError "github.com/lendcore/lending-engine/pkg/errors"
	"github.com/lendcore/lending-engine/pkg/utils"
	"github.com/lendcore/lending-engine/tests/mocks"
)

type serviceMocks struct {
	customers    *mocks.MockCustomerRepository
	loans        *mocks.MockLoanRepository
	installments *mocks.MockInstallmentRepository
	history      *mocks.MockPaymentHistoryRepository
}

func newTestService() (*LendingService, *serviceMocks) {
	m := &serviceMocks{
		customers:    &mocks.MockCustomerRepository{},
		loans:        &mocks.MockLoanRepository{},
		installments: &mocks.MockInstallmentRepository{},
		history:      &mocks.MockPaymentHistoryRepository{},
	}

	svc := NewLendingService(
		m.customers,
		m.loans,
		m.installments,
		m.history,
		mocks.PassthroughTransactor{},
		nil,
		&config.Config{Business: config.BusinessConfig{PaymentRetryAttempts: 3}},
		zerolog.Nop(),
	).WithClock(utils.FixedClock(frozenNow))
	return svc, m
}

var frozenNow = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func testLoan(status string) *domain.Loan {
	return &domain.Loan{
		ID:              uuid.New(),
		LoanNumber:      "LN-2024-001",
		CustomerID:      uuid.New(),
		Principal:       decimal.NewFromInt(50000),
		InterestRate:    decimal.NewFromFloat(0.10),
		GrossReceivable: decimal.NewFromInt(55000),
		TermMonths:      2,
		OverallBalance:  decimal.NewFromInt(2000),
		Penalty:         decimal.Zero,
		Status:          status,
		Version:         1,
	}
}

func testInstallments(loanID uuid.UUID) []*domain.Installment {
	jan := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return []*domain.Installment{
		{
			ID:            uuid.New(),
			LoanID:        loanID,
			PaymentNumber: 1,
			ToPay:         decimal.NewFromInt(1000),
			OriginalToPay: decimal.NewFromInt(1000),
			Amount:        decimal.Zero,
			DueDate:       jan,
			Status:        domain.InstallmentStatusPending,
		},
		{
			ID:            uuid.New(),
			LoanID:        loanID,
			PaymentNumber: 2,
			ToPay:         decimal.NewFromInt(1000),
			OriginalToPay: decimal.NewFromInt(1000),
			Amount:        decimal.Zero,
			DueDate:       jan.AddDate(0, 1, 0),
			Status:        domain.InstallmentStatusPending,
		},
	}
}

func TestCreateLoan_Success(t *testing.T) {
	svc, m := newTestService()
	customerID := uuid.New()

	m.customers.On("GetByID", mock.Anything, customerID).Return(&domain.Customer{ID: customerID}, nil)
	m.loans.On("GetByLoanNumber", mock.Anything, "LN-2024-007").Return(nil, sql.ErrNoRows)
	m.loans.On("Create", mock.Anything, mock.MatchedBy(func(loan *domain.Loan) bool {
		return loan.LoanNumber == "LN-2024-007" &&
			loan.GrossReceivable.Equal(decimal.NewFromInt(55000)) &&
			loan.OverallBalance.Equal(decimal.NewFromInt(55000))
	})).Return(nil)
	m.installments.On("CreateBatch", mock.Anything, mock.MatchedBy(func(installments []*domain.Installment) bool {
		if len(installments) != 10 {
			return false
		}
		var sum decimal.Decimal
		for _, inst := range installments {
			sum = sum.Add(inst.ToPay)
		}
		return sum.Equal(decimal.NewFromInt(55000))
	})).Return(nil)

	loan, schedule, err := svc.CreateLoan(context.Background(), &domain.CreateLoanRequest{
		LoanNumber:   "LN-2024-007",
		CustomerID:   customerID,
		Principal:    decimal.NewFromInt(50000),
		InterestRate: decimal.NewFromFloat(0.10),
		TermMonths:   10,
		StartDate:    time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	})

	require.NoError(t, err)
	assert.Equal(t, domain.LoanStatusActive, loan.Status)
	assert.Len(t, schedule, 10)
	assert.Equal(t, time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC), schedule[0].DueDate)
	assert.Equal(t, loan.MaturityDate, schedule[9].DueDate)

	m.loans.AssertExpectations(t)
	m.installments.AssertExpectations(t)
}

func TestCreateLoan_AlreadyExists(t *testing.T) {
	svc, m := newTestService()
	customerID := uuid.New()

	m.customers.On("GetByID", mock.Anything, customerID).Return(&domain.Customer{ID: customerID}, nil)
	m.loans.On("GetByLoanNumber", mock.Anything, "LN-2024-001").Return(testLoan(domain.LoanStatusActive), nil)

	_, _, err := svc.CreateLoan(context.Background(), &domain.CreateLoanRequest{
		LoanNumber:   "LN-2024-001",
		CustomerID:   customerID,
		Principal:    decimal.NewFromInt(50000),
		InterestRate: decimal.NewFromFloat(0.10),
		TermMonths:   10,
		StartDate:    time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	})

	var be *customError.BusinessError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, customError.ErrCodeLoanAlreadyExists, be.Code)
}

func TestCreateLoan_CustomerNotFound(t *testing.T) {
	svc, m := newTestService()
	customerID := uuid.New()

	m.customers.On("GetByID", mock.Anything, customerID).Return(nil, sql.ErrNoRows)

	_, _, err := svc.CreateLoan(context.Background(), &domain.CreateLoanRequest{
		LoanNumber:   "LN-2024-002",
		CustomerID:   customerID,
		Principal:    decimal.NewFromInt(50000),
		InterestRate: decimal.NewFromFloat(0.10),
		TermMonths:   10,
		StartDate:    time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	})

	var be *customError.BusinessError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, customError.ErrCodeCustomerNotFound, be.Code)
}

func TestApplyLoanPayment_Waterfall(t *testing.T) {
	svc, m := newTestService()
	loan := testLoan(domain.LoanStatusActive)
	installments := testInstallments(loan.ID)

	m.loans.On("GetByID", mock.Anything, loan.ID).Return(loan, nil)
	m.installments.On("ListByLoanID", mock.Anything, loan.ID).Return(installments, nil)
	m.installments.On("Update", mock.Anything, mock.MatchedBy(func(inst *domain.Installment) bool {
		return inst.UpdatedAt.Equal(frozenNow)
	})).Return(nil)
	m.loans.On("Update", mock.Anything, mock.MatchedBy(func(l *domain.Loan) bool {
		return l.OverallBalance.Equal(decimal.NewFromInt(500)) &&
			l.Status == domain.LoanStatusActive &&
			l.UpdatedAt.Equal(frozenNow)
	})).Return(nil)
	m.history.On("Append", mock.Anything, mock.MatchedBy(func(entry *domain.PaymentEntry) bool {
		return entry.RecordedAt.Equal(frozenNow)
	})).Return(nil)

	result, err := svc.ApplyLoanPayment(context.Background(), loan.ID, &domain.LoanPaymentRequest{
		Amount: decimal.NewFromInt(1500),
		Method: domain.PaymentMethodCash,
	})

	require.NoError(t, err)
	require.Len(t, result.Applied, 2)
	assert.True(t, result.Applied[0].Applied.Equal(decimal.NewFromInt(1000)))
	assert.True(t, result.Applied[1].Applied.Equal(decimal.NewFromInt(500)))
	assert.True(t, result.Leftover.IsZero())
	assert.True(t, result.NewBalance.Equal(decimal.NewFromInt(500)))

	// One history entry per installment touched.
	m.history.AssertNumberOfCalls(t, "Append", 2)
	m.installments.AssertNumberOfCalls(t, "Update", 2)
}

func TestApplyLoanPayment_CompletesLoan(t *testing.T) {
	svc, m := newTestService()
	loan := testLoan(domain.LoanStatusActive)
	installments := testInstallments(loan.ID)

	m.loans.On("GetByID", mock.Anything, loan.ID).Return(loan, nil)
	m.installments.On("ListByLoanID", mock.Anything, loan.ID).Return(installments, nil)
	m.installments.On("Update", mock.Anything, mock.Anything).Return(nil)
	m.loans.On("Update", mock.Anything, mock.Anything).Return(nil)
	m.history.On("Append", mock.Anything, mock.Anything).Return(nil)

	result, err := svc.ApplyLoanPayment(context.Background(), loan.ID, &domain.LoanPaymentRequest{
		Amount: decimal.NewFromInt(2500),
		Method: domain.PaymentMethodBankTransfer,
	})

	require.NoError(t, err)
	assert.True(t, result.Leftover.Equal(decimal.NewFromInt(500)), "overpayment is reported, not dropped")
	assert.True(t, result.NewBalance.IsZero())
	assert.Equal(t, domain.LoanStatusCompleted, result.NewStatus)
}

func TestApplyLoanPayment_ActivatesPendingLoan(t *testing.T) {
	tests := []struct {
		name       string
		amount     int64
		wantStatus string
	}{
		{name: "partial payment activates", amount: 500, wantStatus: domain.LoanStatusActive},
		{name: "full payment completes", amount: 2000, wantStatus: domain.LoanStatusCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, m := newTestService()
			loan := testLoan(domain.LoanStatusPending)

			m.loans.On("GetByID", mock.Anything, loan.ID).Return(loan, nil)
			m.installments.On("ListByLoanID", mock.Anything, loan.ID).
				Return(testInstallments(loan.ID), nil)
			m.installments.On("Update", mock.Anything, mock.Anything).Return(nil)
			m.loans.On("Update", mock.Anything, mock.MatchedBy(func(l *domain.Loan) bool {
				return l.Status == tt.wantStatus
			})).Return(nil)
			m.history.On("Append", mock.Anything, mock.Anything).Return(nil)

			result, err := svc.ApplyLoanPayment(context.Background(), loan.ID, &domain.LoanPaymentRequest{
				Amount: decimal.NewFromInt(tt.amount),
				Method: domain.PaymentMethodCash,
			})

			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, result.NewStatus)
			m.loans.AssertExpectations(t)
		})
	}
}

func TestApplyLoanPayment_CompletedLoanRejected(t *testing.T) {
	svc, m := newTestService()
	loan := testLoan(domain.LoanStatusCompleted)

	m.loans.On("GetByID", mock.Anything, loan.ID).Return(loan, nil)

	_, err := svc.ApplyLoanPayment(context.Background(), loan.ID, &domain.LoanPaymentRequest{
		Amount: decimal.NewFromInt(100),
		Method: domain.PaymentMethodCash,
	})

	var be *customError.BusinessError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, customError.ErrCodeNoOutstandingBalance, be.Code)
	m.installments.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
}

func TestApplyLoanPayment_CancelledLoanRejected(t *testing.T) {
	svc, m := newTestService()
	loan := testLoan(domain.LoanStatusCancelled)

	m.loans.On("GetByID", mock.Anything, loan.ID).Return(loan, nil)

	_, err := svc.ApplyLoanPayment(context.Background(), loan.ID, &domain.LoanPaymentRequest{
		Amount: decimal.NewFromInt(100),
		Method: domain.PaymentMethodCash,
	})

	var be *customError.BusinessError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, customError.ErrCodeInvalidLoanState, be.Code)
}

func TestApplyLoanPayment_NotFound(t *testing.T) {
	svc, m := newTestService()
	loanID := uuid.New()

	m.loans.On("GetByID", mock.Anything, loanID).Return(nil, sql.ErrNoRows)

	_, err := svc.ApplyLoanPayment(context.Background(), loanID, &domain.LoanPaymentRequest{
		Amount: decimal.NewFromInt(100),
		Method: domain.PaymentMethodCash,
	})

	var be *customError.BusinessError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, customError.ErrCodeLoanNotFound, be.Code)
}

func TestApplyLoanPayment_RetriesOnVersionConflict(t *testing.T) {
	svc, m := newTestService()
	loan := testLoan(domain.LoanStatusActive)

	m.loans.On("GetByID", mock.Anything, loan.ID).Return(loan, nil)
	m.installments.On("ListByLoanID", mock.Anything, loan.ID).
		Return(testInstallments(loan.ID), nil)
	m.installments.On("Update", mock.Anything, mock.Anything).Return(nil)
	m.loans.On("Update", mock.Anything, mock.Anything).Return(customError.ErrConcurrencyConflict).Twice()
	m.loans.On("Update", mock.Anything, mock.Anything).Return(nil).Once()
	m.history.On("Append", mock.Anything, mock.Anything).Return(nil)

	result, err := svc.ApplyLoanPayment(context.Background(), loan.ID, &domain.LoanPaymentRequest{
		Amount: decimal.NewFromInt(500),
		Method: domain.PaymentMethodCash,
	})

	require.NoError(t, err)
	assert.False(t, result.NewBalance.IsNegative())
	m.loans.AssertNumberOfCalls(t, "Update", 3)
}

func TestApplyLoanPayment_ConflictExhaustsRetries(t *testing.T) {
	svc, m := newTestService()
	loan := testLoan(domain.LoanStatusActive)

	m.loans.On("GetByID", mock.Anything, loan.ID).Return(loan, nil)
	m.installments.On("ListByLoanID", mock.Anything, loan.ID).
		Return(testInstallments(loan.ID), nil)
	m.installments.On("Update", mock.Anything, mock.Anything).Return(nil)
	m.loans.On("Update", mock.Anything, mock.Anything).Return(customError.ErrConcurrencyConflict)

	_, err := svc.ApplyLoanPayment(context.Background(), loan.ID, &domain.LoanPaymentRequest{
		Amount: decimal.NewFromInt(500),
		Method: domain.PaymentMethodCash,
	})

	var be *customError.BusinessError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, customError.ErrCodeConcurrencyConflict, be.Code)
	m.loans.AssertNumberOfCalls(t, "Update", 3)
}

func TestAddPenalty_Success(t *testing.T) {
	svc, m := newTestService()
	loan := testLoan(domain.LoanStatusActive)
	loan.Penalty = decimal.NewFromInt(200)

	m.loans.On("GetByID", mock.Anything, loan.ID).Return(loan, nil)
	m.loans.On("Update", mock.Anything, mock.MatchedBy(func(l *domain.Loan) bool {
		return l.Penalty.Equal(decimal.NewFromInt(350))
	})).Return(nil)

	resp, err := svc.AddPenalty(context.Background(), loan.ID, &domain.AddPenaltyRequest{
		Amount: decimal.NewFromInt(150),
		Reason: "late installment",
	})

	require.NoError(t, err)
	assert.True(t, resp.NewPenalty.Equal(decimal.NewFromInt(350)))
}

func TestAddPenalty_CompletedLoanRejected(t *testing.T) {
	svc, m := newTestService()
	loan := testLoan(domain.LoanStatusCompleted)

	m.loans.On("GetByID", mock.Anything, loan.ID).Return(loan, nil)

	_, err := svc.AddPenalty(context.Background(), loan.ID, &domain.AddPenaltyRequest{
		Amount: decimal.NewFromInt(150),
		Reason: "late installment",
	})

	var be *customError.BusinessError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, customError.ErrCodeInvalidLoanState, be.Code)
	m.loans.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
}

func TestApplyPenaltyPayment_Success(t *testing.T) {
	svc, m := newTestService()
	loan := testLoan(domain.LoanStatusActive)
	loan.Penalty = decimal.NewFromInt(500)

	m.loans.On("GetByID", mock.Anything, loan.ID).Return(loan, nil)
	m.loans.On("Update", mock.Anything, mock.Anything).Return(nil)
	m.history.On("Append", mock.Anything, mock.MatchedBy(func(entry *domain.PaymentEntry) bool {
		// Penalty payments carry no installment reference.
		return !entry.InstallmentID.Valid && entry.Amount.Equal(decimal.NewFromInt(200))
	})).Return(nil)

	resp, err := svc.ApplyPenaltyPayment(context.Background(), loan.ID, &domain.PenaltyPaymentRequest{
		Amount: decimal.NewFromInt(200),
		Method: domain.PaymentMethodCash,
	})

	require.NoError(t, err)
	assert.True(t, resp.NewPenalty.Equal(decimal.NewFromInt(300)))
	m.history.AssertExpectations(t)
}

func TestApplyPenaltyPayment_CompletedLoan(t *testing.T) {
	svc, m := newTestService()
	loan := testLoan(domain.LoanStatusCompleted)
	loan.OverallBalance = decimal.Zero
	loan.Penalty = decimal.NewFromInt(250)

	m.loans.On("GetByID", mock.Anything, loan.ID).Return(loan, nil)
	m.loans.On("Update", mock.Anything, mock.MatchedBy(func(l *domain.Loan) bool {
		return l.Penalty.IsZero() && l.Status == domain.LoanStatusCompleted
	})).Return(nil)
	m.history.On("Append", mock.Anything, mock.Anything).Return(nil)

	// A loan completed through its installments can still clear a leftover
	// penalty.
	resp, err := svc.ApplyPenaltyPayment(context.Background(), loan.ID, &domain.PenaltyPaymentRequest{
		Amount: decimal.NewFromInt(250),
		Method: domain.PaymentMethodBankTransfer,
	})

	require.NoError(t, err)
	assert.True(t, resp.NewPenalty.IsZero())
	m.loans.AssertExpectations(t)
}

func TestApplyPenaltyPayment_ExceedsPenalty(t *testing.T) {
	svc, m := newTestService()
	loan := testLoan(domain.LoanStatusActive)
	loan.Penalty = decimal.NewFromInt(100)

	m.loans.On("GetByID", mock.Anything, loan.ID).Return(loan, nil)

	_, err := svc.ApplyPenaltyPayment(context.Background(), loan.ID, &domain.PenaltyPaymentRequest{
		Amount: decimal.NewFromInt(150),
		Method: domain.PaymentMethodCash,
	})

	var be *customError.BusinessError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, customError.ErrCodeInvalidPaymentAmount, be.Code)
	assert.True(t, loan.Penalty.Equal(decimal.NewFromInt(100)), "penalty unchanged after failed call")
	m.loans.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	m.history.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
}

func TestRecalculateLoanBalance_DemotesCompleted(t *testing.T) {
	svc, m := newTestService()
	loan := testLoan(domain.LoanStatusCompleted)
	loan.OverallBalance = decimal.Zero

	installments := testInstallments(loan.ID)
	installments[0].Amount = decimal.NewFromInt(1000)
	installments[0].Status = domain.InstallmentStatusPaid
	// The second installment was administratively reopened.
	installments[1].Amount = decimal.NewFromInt(400)
	installments[1].Status = domain.InstallmentStatusPaid

	m.loans.On("GetByID", mock.Anything, loan.ID).Return(loan, nil)
	m.installments.On("ListByLoanID", mock.Anything, loan.ID).Return(installments, nil)
	m.installments.On("Update", mock.Anything, mock.MatchedBy(func(inst *domain.Installment) bool {
		return inst.Status == domain.InstallmentStatusPartial
	})).Return(nil)
	m.loans.On("Update", mock.Anything, mock.MatchedBy(func(l *domain.Loan) bool {
		return l.Status == domain.LoanStatusActive && l.OverallBalance.Equal(decimal.NewFromInt(600))
	})).Return(nil)

	resp, err := svc.RecalculateLoanBalance(context.Background(), loan.ID)

	require.NoError(t, err)
	assert.Equal(t, domain.LoanStatusActive, resp.Status)
	assert.True(t, resp.OverallBalance.Equal(decimal.NewFromInt(600)))
	m.loans.AssertExpectations(t)
	m.installments.AssertExpectations(t)
}

func TestRecalculateLoanBalance_Idempotent(t *testing.T) {
	svc, m := newTestService()
	loan := testLoan(domain.LoanStatusActive)
	loan.OverallBalance = decimal.NewFromInt(2000)

	m.loans.On("GetByID", mock.Anything, loan.ID).Return(loan, nil)
	m.installments.On("ListByLoanID", mock.Anything, loan.ID).Return(testInstallments(loan.ID), nil)

	// Balance already matches; no writes should happen.
	resp, err := svc.RecalculateLoanBalance(context.Background(), loan.ID)

	require.NoError(t, err)
	assert.True(t, resp.OverallBalance.Equal(decimal.NewFromInt(2000)))
	m.loans.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	m.installments.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
}

func TestMarkOverdueLoans(t *testing.T) {
	svc, m := newTestService()
	loan := testLoan(domain.LoanStatusActive)
	// Clock is fixed at 2024-06-01; both test installments are past due.
	m.loans.On("ListByStatus", mock.Anything, domain.LoanStatusActive).
		Return([]*domain.Loan{loan}, nil)
	m.loans.On("ListByStatus", mock.Anything, domain.LoanStatusOverdue).
		Return([]*domain.Loan{}, nil)
	m.installments.On("ListByLoanID", mock.Anything, loan.ID).
		Return(testInstallments(loan.ID), nil)
	m.loans.On("Update", mock.Anything, mock.MatchedBy(func(l *domain.Loan) bool {
		return l.Status == domain.LoanStatusOverdue
	})).Return(nil)

	flagged, err := svc.MarkOverdueLoans(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, flagged)
	m.loans.AssertExpectations(t)
}

func TestGetSchedule_DerivedOverdueLabel(t *testing.T) {
	svc, m := newTestService()
	loan := testLoan(domain.LoanStatusActive)

	installments := testInstallments(loan.ID)
	installments[0].Amount = decimal.NewFromInt(1000)
	installments[0].Status = domain.InstallmentStatusPaid

	m.loans.On("GetByID", mock.Anything, loan.ID).Return(loan, nil)
	m.installments.On("ListByLoanID", mock.Anything, loan.ID).Return(installments, nil)

	resp, err := svc.GetSchedule(context.Background(), loan.ID)

	require.NoError(t, err)
	require.Len(t, resp.Schedule, 2)
	assert.Equal(t, domain.InstallmentStatusPaid, resp.Schedule[0].Status)
	// Unpaid and past due at the frozen clock reads as overdue, while the
	// stored record stays pending.
	assert.Equal(t, domain.InstallmentStatusOverdue, resp.Schedule[1].Status)
	assert.Equal(t, domain.InstallmentStatusPending, installments[1].Status)
}
