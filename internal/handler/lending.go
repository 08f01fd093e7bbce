package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/lendcore/lending-engine/internal/domain"
	"github.com/lendcore/lending-engine/internal/service"
	customError "github.com/lendcore/lending-engine/pkg/errors"
	"github.com/lendcore/lending-engine/pkg/response"
)

type LendingHandler struct {
	service   *service.LendingService
	validator *validator.Validate
}

func NewLendingHandler(svc *service.LendingService) *LendingHandler {
	v := validator.New()
	registerDecimalValidators(v)
	return &LendingHandler{
		service:   svc,
		validator: v,
	}
}

// registerDecimalValidators wires decimal_gt / decimal_gte tags for
// decimal.Decimal fields.
func registerDecimalValidators(v *validator.Validate) {
	_ = v.RegisterValidation("decimal_gt", func(fl validator.FieldLevel) bool {
		d, ok := fl.Field().Interface().(decimal.Decimal)
		if !ok {
			return false
		}
		bound, err := decimal.NewFromString(fl.Param())
		if err != nil {
			return false
		}
		return d.GreaterThan(bound)
	})
	_ = v.RegisterValidation("decimal_gte", func(fl validator.FieldLevel) bool {
		d, ok := fl.Field().Interface().(decimal.Decimal)
		if !ok {
			return false
		}
		bound, err := decimal.NewFromString(fl.Param())
		if err != nil {
			return false
		}
		return d.GreaterThanOrEqual(bound)
	})
}

// decodeAndValidate enforces the strict input schema: unknown fields are
// rejected before anything reaches the engine. Failures come back as
// VALIDATION_ERROR business errors.
func (h *LendingHandler) decodeAndValidate(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return customError.WrapValidationError("malformed request body", err)
	}
	if err := h.validator.Struct(dst); err != nil {
		return customError.WrapValidationError("request validation failed", err)
	}
	return nil
}

func pathUUID(r *http.Request, key string) (uuid.UUID, error) {
	return uuid.Parse(mux.Vars(r)[key])
}

// writeServiceError maps the error taxonomy onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	var be *customError.BusinessError
	if !errors.As(err, &be) {
		response.InternalServerError(w, "Internal error", err)
		return
	}

	switch be.Code {
	case customError.ErrCodeLoanNotFound, customError.ErrCodeCustomerNotFound:
		response.NotFound(w, be.Message)
	case customError.ErrCodeValidation, customError.ErrCodeInvalidPaymentAmount:
		response.BadRequest(w, be.Message, be.Err)
	case customError.ErrCodeLoanAlreadyExists, customError.ErrCodeConcurrencyConflict:
		response.Conflict(w, be.Message, be.Err)
	case customError.ErrCodeInvalidLoanState, customError.ErrCodeNoOutstandingBalance:
		response.UnprocessableEntity(w, be.Message, be.Err)
	default:
		response.InternalServerError(w, be.Message, be.Err)
	}
}

// CreateCustomer handles POST /customers
func (h *LendingHandler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateCustomerRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}

	customer, err := h.service.CreateCustomer(r.Context(), &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Created(w, customer)
}

// GetCustomer handles GET /customers/{customerId}
func (h *LendingHandler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "customerId")
	if err != nil {
		response.BadRequest(w, "Invalid customer id", err)
		return
	}

	customer, err := h.service.GetCustomer(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, customer)
}

// CreateLoan handles POST /loans
func (h *LendingHandler) CreateLoan(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateLoanRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}

	loan, schedule, err := h.service.CreateLoan(r.Context(), &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Created(w, &domain.CreateLoanResponse{Loan: loan, Schedule: schedule})
}

// GetLoan handles GET /loans/{loanId}
func (h *LendingHandler) GetLoan(w http.ResponseWriter, r *http.Request) {
	loanID, err := pathUUID(r, "loanId")
	if err != nil {
		response.BadRequest(w, "Invalid loan id", err)
		return
	}

	loan, err := h.service.GetLoan(r.Context(), loanID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, loan)
}

// GetSchedule handles GET /loans/{loanId}/schedule
func (h *LendingHandler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	loanID, err := pathUUID(r, "loanId")
	if err != nil {
		response.BadRequest(w, "Invalid loan id", err)
		return
	}

	schedule, err := h.service.GetSchedule(r.Context(), loanID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, schedule)
}

// GetOutstanding handles GET /loans/{loanId}/outstanding
func (h *LendingHandler) GetOutstanding(w http.ResponseWriter, r *http.Request) {
	loanID, err := pathUUID(r, "loanId")
	if err != nil {
		response.BadRequest(w, "Invalid loan id", err)
		return
	}

	outstanding, err := h.service.GetOutstanding(r.Context(), loanID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, outstanding)
}

// MakePayment handles POST /loans/{loanId}/payment
func (h *LendingHandler) MakePayment(w http.ResponseWriter, r *http.Request) {
	loanID, err := pathUUID(r, "loanId")
	if err != nil {
		response.BadRequest(w, "Invalid loan id", err)
		return
	}

	var req domain.LoanPaymentRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}

	result, err := h.service.ApplyLoanPayment(r.Context(), loanID, &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, result)
}

// AddPenalty handles POST /loans/{loanId}/penalty
func (h *LendingHandler) AddPenalty(w http.ResponseWriter, r *http.Request) {
	loanID, err := pathUUID(r, "loanId")
	if err != nil {
		response.BadRequest(w, "Invalid loan id", err)
		return
	}

	var req domain.AddPenaltyRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}

	result, err := h.service.AddPenalty(r.Context(), loanID, &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, result)
}

// PayPenalty handles POST /loans/{loanId}/penalty/payment
func (h *LendingHandler) PayPenalty(w http.ResponseWriter, r *http.Request) {
	loanID, err := pathUUID(r, "loanId")
	if err != nil {
		response.BadRequest(w, "Invalid loan id", err)
		return
	}

	var req domain.PenaltyPaymentRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}

	result, err := h.service.ApplyPenaltyPayment(r.Context(), loanID, &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, result)
}

// Recalculate handles POST /loans/{loanId}/recalculate
func (h *LendingHandler) Recalculate(w http.ResponseWriter, r *http.Request) {
	loanID, err := pathUUID(r, "loanId")
	if err != nil {
		response.BadRequest(w, "Invalid loan id", err)
		return
	}

	result, err := h.service.RecalculateLoanBalance(r.Context(), loanID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, result)
}

// GetHistory handles GET /loans/{loanId}/history
func (h *LendingHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	loanID, err := pathUUID(r, "loanId")
	if err != nil {
		response.BadRequest(w, "Invalid loan id", err)
		return
	}

	history, err := h.service.GetPaymentHistory(r.Context(), loanID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, history)
}
