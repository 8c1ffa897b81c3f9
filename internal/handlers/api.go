package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"rfm-dashboard/internal/errors"
	"rfm-dashboard/internal/models"
	"rfm-dashboard/internal/observability"
	"rfm-dashboard/internal/services"
)

var cacheHeaders = map[string]string{
	"Cache-Control": "public, max-age=300",
}

type APIHandlers struct {
	analytics *services.Analytics
	logger    *slog.Logger
}

func NewAPIHandlers(analytics *services.Analytics, logger *slog.Logger) *APIHandlers {
	return &APIHandlers{
		analytics: analytics,
		logger:    logger,
	}
}

// serve runs one view computation inside a child span of the request span,
// logs the span at debug level and writes the envelope.
func (h *APIHandlers) serve(w http.ResponseWriter, r *http.Request, view string, compute func() (any, error)) {
	_, span := observability.StartSpan(r.Context(), "view."+view)
	data, err := compute()
	if err != nil {
		span.SetError(err)
	}
	span.Finish()
	h.logger.Debug("span finished", "span", span)

	if err != nil {
		errors.WriteError(w, h.logger, err, observability.GetRequestID(r.Context()))
		return
	}
	errors.WriteSuccessWithHeaders(w, data, cacheHeaders)
}

func (h *APIHandlers) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "dashboard", func() (any, error) {
		dr, err := queryRange(h.analytics, r)
		if err != nil {
			return nil, err
		}
		return h.analytics.Dashboard(r.Context(), dr)
	})
}

func (h *APIHandlers) HandleSummary(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "summary", func() (any, error) {
		dr, err := queryRange(h.analytics, r)
		if err != nil {
			return nil, err
		}
		return h.analytics.Summary(dr)
	})
}

func (h *APIHandlers) HandleMonthly(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "monthly", func() (any, error) {
		dr, err := queryRange(h.analytics, r)
		if err != nil {
			return nil, err
		}
		return h.analytics.MonthlyMetrics(dr)
	})
}

// HandleCategories serves ?order=best (default) or ?order=worst.
func (h *APIHandlers) HandleCategories(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "categories", func() (any, error) {
		dr, err := queryRange(h.analytics, r)
		if err != nil {
			return nil, err
		}
		limit, err := queryLimit(r, 0)
		if err != nil {
			return nil, err
		}

		order := r.URL.Query().Get("order")
		if order != "" && order != "best" && order != "worst" {
			return nil, errors.BadRequest("order must be best or worst")
		}

		sales, err := h.analytics.CategorySales(dr)
		if err != nil {
			return nil, err
		}
		if order == "worst" {
			return services.BottomCategories(sales, limit), nil
		}
		return services.TopCategories(sales, limit), nil
	})
}

func (h *APIHandlers) HandleGeo(w http.ResponseWriter, r *http.Request) {
	field := models.GeoField(r.PathValue("field"))
	h.serve(w, r, "geo", func() (any, error) {
		if !field.Valid() {
			return nil, errors.BadRequest("geo field must be city or state")
		}
		dr, err := queryRange(h.analytics, r)
		if err != nil {
			return nil, err
		}
		limit, err := queryLimit(r, 0)
		if err != nil {
			return nil, err
		}

		counts, err := h.analytics.GeoCounts(dr, field)
		if err != nil {
			return nil, err
		}
		return services.TopGeo(counts, limit), nil
	})
}

// HandleRFM returns the RFM table, optionally ranked by ?sort=.
func (h *APIHandlers) HandleRFM(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "rfm", func() (any, error) {
		dr, err := queryRange(h.analytics, r)
		if err != nil {
			return nil, err
		}
		limit, err := queryLimit(r, 0)
		if err != nil {
			return nil, err
		}

		rows, err := h.analytics.RFM(dr)
		if err != nil {
			return nil, err
		}

		metric := models.RFMMetric(r.URL.Query().Get("sort"))
		if metric == "" {
			if limit > 0 && limit < len(rows) {
				rows = rows[:limit]
			}
			return rows, nil
		}
		if !metric.Valid() {
			return nil, errors.BadRequest("sort must be recency, frequency or monetary")
		}
		return services.SortRFM(rows, metric, limit), nil
	})
}

func (h *APIHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if !h.analytics.Ready() {
		err := errors.ServiceUnavailable("no order data loaded")
		errors.WriteError(w, h.logger, err, observability.GetRequestID(r.Context()))
		return
	}

	healthData := map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
		"version":   "1.0.0",
	}

	errors.WriteSuccess(w, healthData)
}

func (h *APIHandlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	errors.WriteSuccess(w, h.analytics.Stats())
}
