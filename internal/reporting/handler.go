package reporting

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-freight/meridian-finance/internal/platform/httpx"
)

// Handler exposes the read-only reporting API.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers reporting routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/aging", h.aging)
	r.Get("/dashboard", h.dashboard)
	r.Get("/breakdown/revenue", h.breakdown(h.service.GetRevenueBreakdown))
	r.Get("/breakdown/cost", h.breakdown(h.service.GetCostBreakdown))
	r.Get("/breakdown/expense", h.breakdown(h.service.GetExpenseBreakdown))
}

// asOfParam reads the optional as_of query parameter, defaulting to today.
func asOfParam(r *http.Request) (time.Time, error) {
	raw := r.URL.Query().Get("as_of")
	if raw == "" {
		return time.Now().UTC(), nil
	}
	return time.Parse("2006-01-02", raw)
}

func periodParam(r *http.Request) string {
	period := strings.ToUpper(r.URL.Query().Get("period"))
	if period == "" {
		period = PeriodMTD
	}
	return period
}

func (h *Handler) aging(w http.ResponseWriter, r *http.Request) {
	asOf, err := asOfParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "as_of must be YYYY-MM-DD")
		return
	}
	summary, err := h.service.GetAgingSummary(r.Context(), asOf)
	if err != nil {
		h.logger.Error("aging summary failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	asOf, err := asOfParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "as_of must be YYYY-MM-DD")
		return
	}
	period := periodParam(r)
	metrics, err := h.service.GetDashboardMetrics(r.Context(), period, asOf)
	if err != nil {
		if period != PeriodMTD && period != PeriodYTD {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
		h.logger.Error("dashboard metrics failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, metrics)
}

func (h *Handler) breakdown(load func(ctx context.Context, period string, asOf time.Time) ([]BreakdownRow, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		asOf, err := asOfParam(r)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "as_of must be YYYY-MM-DD")
			return
		}
		period := periodParam(r)
		rows, err := load(r.Context(), period, asOf)
		if err != nil {
			if period != PeriodMTD && period != PeriodYTD {
				httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
				return
			}
			h.logger.Error("breakdown failed", slog.Any("error", err))
			httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"rows": rows, "period": period, "as_of": asOf.Format("2006-01-02")})
	}
}
