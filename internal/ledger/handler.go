package ledger

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-freight/meridian-finance/internal/money"
	"github.com/meridian-freight/meridian-finance/internal/observability"
	"github.com/meridian-freight/meridian-finance/internal/platform/httpx"
)

// Handler exposes the ledger mutation and query API.
type Handler struct {
	logger   *slog.Logger
	invoices *InvoiceService
	costs    *CostService
	validate *validator.Validate
	metrics  *observability.Metrics
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, invoices *InvoiceService, costs *CostService, metrics *observability.Metrics) *Handler {
	return &Handler{
		logger:   logger,
		invoices: invoices,
		costs:    costs,
		validate: validator.New(),
		metrics:  metrics,
	}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/invoices", func(r chi.Router) {
		r.Get("/", h.listInvoices)
		r.Post("/", h.createInvoice)
		r.Get("/{id}", h.getInvoice)
		r.Patch("/{id}", h.updateInvoice)
		r.Delete("/{id}", h.deleteInvoice)
		r.Post("/{id}/finalize", h.finalizeInvoice)
		r.Post("/{id}/payments", h.recordInvoicePayment)
		r.Post("/{id}/cancel", h.cancelInvoice)
		r.Post("/{id}/dispute", h.disputeInvoice)
	})
	for _, route := range []struct {
		path string
		kind CostKind
	}{
		{"/expenses", CostKindExpense},
		{"/job-costs", CostKindJobCost},
	} {
		kind := route.kind
		r.Route(route.path, func(r chi.Router) {
			r.Get("/", h.listCosts(kind))
			r.Post("/", h.createCost(kind))
			r.Get("/{id}", h.getCost(kind))
			r.Post("/{id}/approve", h.approveCost(kind))
			r.Post("/{id}/reject", h.rejectCost(kind))
			r.Post("/{id}/payments", h.recordCostPayment(kind))
		})
	}
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrValidation),
		errors.Is(err, money.ErrInvalidRate),
		errors.Is(err, money.ErrUnknownCurrency):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrOverpayment):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Overpayment", err.Error())
	case errors.Is(err, ErrConcurrentModification):
		httpx.Problem(w, http.StatusConflict, "Conflict", "concurrent modification, retry the request")
	case errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrImmutableRecord),
		errors.Is(err, ErrAlreadySettled),
		errors.Is(err, ErrCancelledRecord),
		errors.Is(err, ErrHasPayments),
		errors.Is(err, ErrNotApproved),
		errors.Is(err, ErrDuplicateNumber):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		h.logger.Error("ledger request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func (h *Handler) observe(entity, action string, err error) {
	if h.metrics != nil {
		h.metrics.ObserveLedgerMutation(entity, action, err == nil)
	}
}

func idParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}

type createInvoiceRequest struct {
	Type         string          `json:"type"`
	CustomerID   int64           `json:"customer_id" validate:"required,gt=0"`
	ServiceType  string          `json:"service_type" validate:"required"`
	Amount       decimal.Decimal `json:"amount" validate:"required"`
	Currency     string          `json:"currency" validate:"required,len=3"`
	ExchangeRate decimal.Decimal `json:"exchange_rate" validate:"required"`
	IssueDate    string          `json:"issue_date" validate:"required,datetime=2006-01-02"`
	DueDate      string          `json:"due_date" validate:"required,datetime=2006-01-02"`
	CreatedBy    int64           `json:"created_by"`
}

func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	var req createInvoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	issue, _ := time.Parse("2006-01-02", req.IssueDate)
	due, _ := time.Parse("2006-01-02", req.DueDate)

	inv, err := h.invoices.Create(r.Context(), CreateInvoiceInput{
		Type:         InvoiceType(req.Type),
		CustomerID:   req.CustomerID,
		ServiceType:  req.ServiceType,
		Amount:       req.Amount,
		Currency:     req.Currency,
		ExchangeRate: req.ExchangeRate,
		IssueDate:    issue,
		DueDate:      due,
		CreatedBy:    req.CreatedBy,
	})
	h.observe("invoice", "create", err)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	customerID, _ := strconv.ParseInt(q.Get("customer_id"), 10, 64)
	limit, _ := strconv.Atoi(q.Get("limit"))
	invoices, err := h.invoices.List(r.Context(), ListInvoicesFilter{
		Status:     InvoiceStatus(q.Get("status")),
		CustomerID: customerID,
		Limit:      limit,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"invoices": invoices})
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	inv, err := h.invoices.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	payments, err := h.invoices.Payments(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"invoice": inv, "payments": payments})
}

type updateInvoiceRequest struct {
	ServiceType  *string          `json:"service_type"`
	Amount       *decimal.Decimal `json:"amount"`
	ExchangeRate *decimal.Decimal `json:"exchange_rate"`
	DueDate      *string          `json:"due_date"`
}

func (h *Handler) updateInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	var req updateInvoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed JSON", err.Error())
		return
	}
	input := UpdateInvoiceInput{
		ServiceType:  req.ServiceType,
		Amount:       req.Amount,
		ExchangeRate: req.ExchangeRate,
	}
	if req.DueDate != nil {
		due, err := time.Parse("2006-01-02", *req.DueDate)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "due_date must be YYYY-MM-DD")
			return
		}
		input.DueDate = &due
	}
	inv, err := h.invoices.Update(r.Context(), id, input)
	h.observe("invoice", "update", err)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) finalizeInvoice(w http.ResponseWriter, r *http.Request) {
	h.invoiceTransition(w, r, "finalize", h.invoices.Finalize)
}

func (h *Handler) cancelInvoice(w http.ResponseWriter, r *http.Request) {
	h.invoiceTransition(w, r, "cancel", h.invoices.Cancel)
}

func (h *Handler) disputeInvoice(w http.ResponseWriter, r *http.Request) {
	h.invoiceTransition(w, r, "dispute", h.invoices.Dispute)
}

func (h *Handler) invoiceTransition(w http.ResponseWriter, r *http.Request, action string, op func(ctx context.Context, id int64) (*Invoice, error)) {
	id, err := idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	inv, err := op(r.Context(), id)
	h.observe("invoice", action, err)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) deleteInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	err = h.invoices.Delete(r.Context(), id)
	h.observe("invoice", "delete", err)
	if err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type recordPaymentRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"required"`
	PaidAt string          `json:"paid_at" validate:"required,datetime=2006-01-02"`
	Method string          `json:"method"`
}

func (h *Handler) recordInvoicePayment(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	var req recordPaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	paidAt, _ := time.Parse("2006-01-02", req.PaidAt)
	inv, err := h.invoices.RecordPayment(r.Context(), id, req.Amount, paidAt, req.Method)
	h.observe("invoice", "record_payment", err)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

type createCostRequest struct {
	JobRef       string          `json:"job_ref"`
	Category     string          `json:"category" validate:"required"`
	Amount       decimal.Decimal `json:"amount" validate:"required"`
	Currency     string          `json:"currency" validate:"required,len=3"`
	ExchangeRate decimal.Decimal `json:"exchange_rate" validate:"required"`
	SpentAt      string          `json:"spent_at" validate:"required,datetime=2006-01-02"`
	RequestedBy  int64           `json:"requested_by"`
}

func (h *Handler) createCost(kind CostKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createCostRequest
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Malformed JSON", err.Error())
			return
		}
		if err := h.validate.Struct(req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
		spentAt, _ := time.Parse("2006-01-02", req.SpentAt)
		rec, err := h.costs.Create(r.Context(), CreateCostInput{
			Kind:         kind,
			JobRef:       req.JobRef,
			Category:     req.Category,
			Amount:       req.Amount,
			Currency:     req.Currency,
			ExchangeRate: req.ExchangeRate,
			SpentAt:      spentAt,
			RequestedBy:  req.RequestedBy,
		})
		h.observe(string(kind), "create", err)
		if err != nil {
			h.respondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusCreated, rec)
	}
}

func (h *Handler) listCosts(kind CostKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := h.costs.List(r.Context(), kind)
		if err != nil {
			h.respondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"records": records})
	}
}

func (h *Handler) getCost(kind CostKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := idParam(r)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
		rec, err := h.costs.Get(r.Context(), kind, id)
		if err != nil {
			h.respondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, rec)
	}
}

type approveCostRequest struct {
	ApproverID int64 `json:"approver_id" validate:"required,gt=0"`
}

func (h *Handler) approveCost(kind CostKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := idParam(r)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
		var req approveCostRequest
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Malformed JSON", err.Error())
			return
		}
		if err := h.validate.Struct(req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
		rec, err := h.costs.Approve(r.Context(), kind, id, req.ApproverID)
		h.observe(string(kind), "approve", err)
		if err != nil {
			h.respondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, rec)
	}
}

func (h *Handler) rejectCost(kind CostKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := idParam(r)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
		rec, err := h.costs.Reject(r.Context(), kind, id)
		h.observe(string(kind), "reject", err)
		if err != nil {
			h.respondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, rec)
	}
}

func (h *Handler) recordCostPayment(kind CostKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := idParam(r)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
		var req recordPaymentRequest
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Malformed JSON", err.Error())
			return
		}
		if err := h.validate.Struct(req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
		paidAt, _ := time.Parse("2006-01-02", req.PaidAt)
		rec, err := h.costs.RecordPayment(r.Context(), kind, id, req.Amount, paidAt)
		h.observe(string(kind), "record_payment", err)
		if err != nil {
			h.respondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, rec)
	}
}
