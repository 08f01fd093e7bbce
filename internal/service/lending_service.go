package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/lendcore/lending-engine/internal/config"
	"github.com/lendcore/lending-engine/internal/domain"
	"github.com/lendcore/lending-engine/internal/ledger"
	"github.com/lendcore/lending-engine/internal/repository"
	customError "github.com/lendcore/lending-engine/pkg/errors"
	"github.com/lendcore/lending-engine/pkg/utils"
)

// LendingService orchestrates the payment engine: it loads loan and
// installment state, runs the pure ledger functions and persists the result
// inside one transaction per operation.
type LendingService struct {
	customerRepo    repository.CustomerRepository
	loanRepo        repository.LoanRepository
	installmentRepo repository.InstallmentRepository
	historyRepo     repository.PaymentHistoryRepository
	tx              repository.Transactor
	redis           *redis.Client
	config          *config.Config
	log             zerolog.Logger
	now             utils.Clock
}

func NewLendingService(
	customerRepo repository.CustomerRepository,
	loanRepo repository.LoanRepository,
	installmentRepo repository.InstallmentRepository,
	historyRepo repository.PaymentHistoryRepository,
	tx repository.Transactor,
	redisClient *redis.Client,
	cfg *config.Config,
	log zerolog.Logger,
) *LendingService {
	return &LendingService{
		customerRepo:    customerRepo,
		loanRepo:        loanRepo,
		installmentRepo: installmentRepo,
		historyRepo:     historyRepo,
		tx:              tx,
		redis:           redisClient,
		config:          cfg,
		log:             log,
		now:             utils.SystemClock,
	}
}

// WithClock overrides the service clock. Tests use this to freeze time.
func (s *LendingService) WithClock(clock utils.Clock) *LendingService {
	s.now = clock
	return s
}

// CreateCustomer registers a new customer.
func (s *LendingService) CreateCustomer(ctx context.Context, request *domain.CreateCustomerRequest) (*domain.Customer, error) {
	now := s.now()
	customer := &domain.Customer{
		ID:        uuid.New(),
		Name:      request.Name,
		Phone:     request.Phone,
		Email:     request.Email,
		Address:   request.Address,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.customerRepo.Create(ctx, customer); err != nil {
		return nil, customError.WrapDatabaseError(err)
	}

	return customer, nil
}

// GetCustomer retrieves a customer by id.
func (s *LendingService) GetCustomer(ctx context.Context, id uuid.UUID) (*domain.Customer, error) {
	customer, err := s.customerRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, customError.WrapCustomerNotFound(id.String())
		}
		return nil, customError.WrapDatabaseError(err)
	}
	return customer, nil
}

// CreateLoan originates a loan and its installment schedule. The gross
// receivable (principal plus flat interest) is split evenly across the term;
// the last installment absorbs the rounding remainder so the schedule sums
// exactly to the gross.
func (s *LendingService) CreateLoan(ctx context.Context, request *domain.CreateLoanRequest) (*domain.Loan, []*domain.Installment, error) {
	if _, err := s.customerRepo.GetByID(ctx, request.CustomerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, customError.WrapCustomerNotFound(request.CustomerID.String())
		}
		return nil, nil, customError.WrapDatabaseError(err)
	}

	existing, err := s.loanRepo.GetByLoanNumber(ctx, request.LoanNumber)
	if err == nil && existing != nil {
		return nil, nil, customError.WrapLoanAlreadyExists(request.LoanNumber)
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, nil, customError.WrapDatabaseError(err)
	}

	now := s.now()
	gross := utils.GrossReceivable(request.Principal, request.InterestRate)
	amounts := utils.SplitEvenly(gross, request.TermMonths)
	dueDates := utils.MonthlyDueDates(request.StartDate, request.TermMonths)

	loan := &domain.Loan{
		ID:              uuid.New(),
		LoanNumber:      request.LoanNumber,
		CustomerID:      request.CustomerID,
		Principal:       request.Principal,
		InterestRate:    request.InterestRate,
		GrossReceivable: gross,
		TermMonths:      request.TermMonths,
		StartDate:       request.StartDate,
		MaturityDate:    dueDates[len(dueDates)-1],
		OverallBalance:  gross,
		Status:          domain.LoanStatusActive,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	installments := make([]*domain.Installment, 0, request.TermMonths)
	for i := 0; i < request.TermMonths; i++ {
		installments = append(installments, &domain.Installment{
			ID:            uuid.New(),
			LoanID:        loan.ID,
			PaymentNumber: i + 1,
			ToPay:         amounts[i],
			OriginalToPay: amounts[i],
			DueDate:       dueDates[i],
			Status:        domain.InstallmentStatusPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.loanRepo.Create(ctx, loan); err != nil {
			return err
		}
		return s.installmentRepo.CreateBatch(ctx, installments)
	})
	if err != nil {
		return nil, nil, customError.WrapDatabaseError(err)
	}

	s.log.Info().
		Str("loan_number", loan.LoanNumber).
		Str("gross_receivable", gross.String()).
		Int("term_months", loan.TermMonths).
		Msg("loan originated")

	return loan, installments, nil
}

// GetLoan retrieves a loan by id.
func (s *LendingService) GetLoan(ctx context.Context, loanID uuid.UUID) (*domain.Loan, error) {
	loan, err := s.loanRepo.GetByID(ctx, loanID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, customError.WrapLoanNotFound(loanID.String())
		}
		return nil, customError.WrapDatabaseError(err)
	}
	return loan, nil
}

// ListLoansByStatus returns all loans in a given lifecycle status.
func (s *LendingService) ListLoansByStatus(ctx context.Context, status string) ([]*domain.Loan, error) {
	loans, err := s.loanRepo.ListByStatus(ctx, status)
	if err != nil {
		return nil, customError.WrapDatabaseError(err)
	}
	return loans, nil
}

// GetSchedule returns the loan's installments with the time-derived overdue
// label applied. The label is presentation only; stored state is untouched.
func (s *LendingService) GetSchedule(ctx context.Context, loanID uuid.UUID) (*domain.ScheduleResponse, error) {
	if _, err := s.GetLoan(ctx, loanID); err != nil {
		return nil, err
	}

	installments, err := s.installmentRepo.ListByLoanID(ctx, loanID)
	if err != nil {
		return nil, customError.WrapDatabaseError(err)
	}

	now := s.now()
	view := make([]*domain.Installment, 0, len(installments))
	for _, inst := range installments {
		labeled := *inst
		labeled.Status = inst.DerivedStatus(now)
		view = append(view, &labeled)
	}

	return &domain.ScheduleResponse{LoanID: loanID, Schedule: view}, nil
}

// GetOutstanding returns the loan's outstanding balance, served from cache
// when fresh. Cache failures fall back to the database and never fail the
// request.
func (s *LendingService) GetOutstanding(ctx context.Context, loanID uuid.UUID) (*domain.OutstandingResponse, error) {
	cacheKey := outstandingCacheKey(loanID)

	if s.redis != nil {
		if raw, err := s.redis.Get(ctx, cacheKey).Bytes(); err == nil {
			var cached domain.OutstandingResponse
			if err := json.Unmarshal(raw, &cached); err == nil {
				return &cached, nil
			}
		}
	}

	loan, err := s.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}

	installments, err := s.installmentRepo.ListByLoanID(ctx, loanID)
	if err != nil {
		return nil, customError.WrapDatabaseError(err)
	}

	rec := ledger.Reconcile(loan, installments)
	resp := &domain.OutstandingResponse{
		LoanID:         loanID,
		OverallBalance: rec.OverallBalance,
		Penalty:        loan.Penalty,
		Status:         rec.Status,
	}

	if s.redis != nil {
		if raw, err := json.Marshal(resp); err == nil {
			if err := s.redis.Set(ctx, cacheKey, raw, s.config.GetCacheTTL()).Err(); err != nil {
				s.log.Warn().Err(customError.WrapCacheError(err)).Str("loan_id", loanID.String()).Msg("outstanding cache write failed")
			}
		}
	}

	return resp, nil
}

// GetPaymentHistory returns the loan's payment history, newest first.
func (s *LendingService) GetPaymentHistory(ctx context.Context, loanID uuid.UUID) (*domain.PaymentHistoryResponse, error) {
	if _, err := s.GetLoan(ctx, loanID); err != nil {
		return nil, err
	}

	entries, err := s.historyRepo.ListByLoanID(ctx, loanID)
	if err != nil {
		return nil, customError.WrapDatabaseError(err)
	}

	return &domain.PaymentHistoryResponse{LoanID: loanID, Entries: entries}, nil
}

func (s *LendingService) invalidateOutstanding(ctx context.Context, loanID uuid.UUID) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Del(ctx, outstandingCacheKey(loanID)).Err(); err != nil {
		s.log.Warn().Err(customError.WrapCacheError(err)).Str("loan_id", loanID.String()).Msg("outstanding cache invalidation failed")
	}
}

func outstandingCacheKey(loanID uuid.UUID) string {
	return fmt.Sprintf("loan:outstanding:%s", loanID)
}
