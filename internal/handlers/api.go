package handlers

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net/http"
	"time"

	"retail-dashboard/internal/errors"
	"retail-dashboard/internal/models"
	"retail-dashboard/internal/observability"
	"retail-dashboard/internal/services"
)

const maxTopN = 100

var noCache = map[string]string{"Cache-Control": "no-cache"}

type APIHandlers struct {
	analytics *services.Analytics
	logger    *slog.Logger
	tableRows int
}

func NewAPIHandlers(analytics *services.Analytics, logger *slog.Logger, tableRows int) *APIHandlers {
	return &APIHandlers{
		analytics: analytics,
		logger:    logger,
		tableRows: tableRows,
	}
}

// query parses the selection from r and runs it, writing any error.
func (h *APIHandlers) query(w http.ResponseWriter, r *http.Request) (models.AggregateResult, bool) {
	q := r.URL.Query()
	sel, appErr := paramsFromQuery(q).toSelection()
	if appErr != nil {
		h.writeError(w, r, appErr)
		return models.AggregateResult{}, false
	}
	if sel.TopN, appErr = intParam(q, "limit", 0); appErr != nil {
		h.writeError(w, r, appErr)
		return models.AggregateResult{}, false
	}
	sel.TopN = min(sel.TopN, maxTopN)

	result, err := h.analytics.Query(r.Context(), sel)
	if err != nil {
		h.writeError(w, r, err)
		return models.AggregateResult{}, false
	}
	return result, true
}

func (h *APIHandlers) HandleSummary(w http.ResponseWriter, r *http.Request) {
	result, ok := h.query(w, r)
	if !ok {
		return
	}
	errors.WriteSuccessWithHeaders(w, result, noCache)
}

func (h *APIHandlers) HandleKPIs(w http.ResponseWriter, r *http.Request) {
	result, ok := h.query(w, r)
	if !ok {
		return
	}
	errors.WriteSuccessWithHeaders(w, map[string]any{
		"total_revenue":       result.TotalRevenue,
		"order_count":         result.OrderCount,
		"average_order_value": result.AverageOrderValue,
		"line_count":          result.LineCount,
		"customer_count":      result.CustomerCount,
	}, noCache)
}

func (h *APIHandlers) HandleRevenueSeries(w http.ResponseWriter, r *http.Request) {
	result, ok := h.query(w, r)
	if !ok {
		return
	}
	errors.WriteSuccessWithHeaders(w, map[string]any{
		"granularity": result.Granularity,
		"points":      result.RevenueSeries,
	}, noCache)
}

func (h *APIHandlers) HandleCountryShares(w http.ResponseWriter, r *http.Request) {
	result, ok := h.query(w, r)
	if !ok {
		return
	}
	errors.WriteSuccessWithHeaders(w, result.CountryShares, noCache)
}

func (h *APIHandlers) HandleTopProducts(w http.ResponseWriter, r *http.Request) {
	result, ok := h.query(w, r)
	if !ok {
		return
	}
	errors.WriteSuccessWithHeaders(w, result.TopProducts, noCache)
}

func (h *APIHandlers) HandleTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sel, appErr := paramsFromQuery(q).toSelection()
	if appErr != nil {
		h.writeError(w, r, appErr)
		return
	}
	limit, appErr := intParam(q, "limit", h.tableRows)
	if appErr != nil {
		h.writeError(w, r, appErr)
		return
	}
	offset, appErr := intParam(q, "offset", 0)
	if appErr != nil {
		h.writeError(w, r, appErr)
		return
	}

	page, err := h.analytics.Transactions(r.Context(), sel, limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	errors.WriteSuccessWithHeaders(w, page, noCache)
}

func (h *APIHandlers) HandleFilters(w http.ResponseWriter, r *http.Request) {
	if !h.analytics.Ready() {
		h.writeError(w, r, services.ErrNotReady)
		return
	}
	errors.WriteSuccess(w, h.analytics.Filters())
}

func (h *APIHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if !h.analytics.Ready() {
		h.writeError(w, r, errors.ServiceUnavailable("Dataset is not loaded yet"))
		return
	}

	healthData := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
		"rows":      h.analytics.Dataset().Len(),
		"reloading": h.analytics.Reloading(),
	}

	errors.WriteSuccess(w, healthData)
}

func (h *APIHandlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	errors.WriteSuccess(w, h.analytics.Stats())
}

// HandleReload rebuilds the dataset from the configured archive. The
// reload outlives a disconnecting client.
func (h *APIHandlers) HandleReload(w http.ResponseWriter, r *http.Request) {
	ctx := context.WithoutCancel(r.Context())
	start := time.Now()

	if err := h.analytics.Reload(ctx); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "dataset reloaded", "duration", time.Since(start))
	errors.WriteSuccess(w, h.analytics.Stats())
}

func (h *APIHandlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	errors.WriteError(w, r, h.logger, toAppError(err), observability.GetRequestID(r.Context()))
}

// toAppError maps service errors onto HTTP error codes.
func toAppError(err error) *errors.AppError {
	var appErr *errors.AppError
	switch {
	case stderrors.As(err, &appErr):
		return appErr
	case stderrors.Is(err, services.ErrInvalidSelection):
		return errors.ValidationWrap(err, "Invalid filter selection").WithDetails(err.Error())
	case stderrors.Is(err, services.ErrNotReady):
		return errors.ServiceUnavailable("Dataset is not loaded yet")
	case stderrors.Is(err, services.ErrReloadInProgress):
		return errors.Conflict("A reload is already in progress")
	case stderrors.Is(err, services.ErrNoSource):
		return errors.Conflict("No source archive has been loaded")
	default:
		return errors.InternalWrap(err, "Request failed").WithDetails(err.Error())
	}
}
