package handlers

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"chargenet/internal/service"
)

// defaultRevenueWindow applies when a revenue query sets no window.
const defaultRevenueWindow = 30 * 24 * time.Hour

// AnalyticsHandlers serves revenue, demand and maintenance reporting.
type AnalyticsHandlers struct {
	payments  *service.PaymentService
	analytics *service.AnalyticsService
	logger    *zap.Logger
}

// NewAnalyticsHandlers returns handler struct.
func NewAnalyticsHandlers(payments *service.PaymentService, analytics *service.AnalyticsService, logger *zap.Logger) *AnalyticsHandlers {
	return &AnalyticsHandlers{payments: payments, analytics: analytics, logger: logger}
}

func (h *AnalyticsHandlers) revenueParams(r *http.Request) (service.RevenueParams, error) {
	q := r.URL.Query()
	params := service.RevenueParams{Granularity: q.Get("granularity")}

	if v := q.Get("from"); v != "" {
		from, err := parseTimeParam(v)
		if err != nil {
			return params, err
		}
		params.From = from
	}
	if v := q.Get("to"); v != "" {
		to, err := parseTimeParam(v)
		if err != nil {
			return params, err
		}
		params.To = to
	}
	if params.From.IsZero() && params.To.IsZero() {
		now := time.Now().UTC()
		params.From = now.Add(-defaultRevenueWindow)
		params.To = now
	}
	return params, nil
}

// Revenue handles GET /api/v1/analytics/revenue.
func (h *AnalyticsHandlers) Revenue(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r, h.logger)
	if !ok {
		return
	}
	params, err := h.revenueParams(r)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	report, err := h.payments.RevenueAnalytics(r.Context(), act, params)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// RevenueExport handles GET /api/v1/analytics/revenue/export.
func (h *AnalyticsHandlers) RevenueExport(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r, h.logger)
	if !ok {
		return
	}
	params, err := h.revenueParams(r)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	report, err := h.payments.RevenueAnalytics(r.Context(), act, params)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	workbook, err := service.RenderRevenueWorkbook(report)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	filename := fmt.Sprintf("revenue-%s-%s.xlsx",
		report.From.Format("2006-01-02"), report.To.Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(workbook)
}

// Demand handles GET /api/v1/analytics/demand.
func (h *AnalyticsHandlers) Demand(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r, h.logger)
	if !ok {
		return
	}
	forecast, err := h.analytics.DemandForecast(r.Context(), act)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stations": forecast})
}

// Maintenance handles GET /api/v1/analytics/maintenance.
func (h *AnalyticsHandlers) Maintenance(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r, h.logger)
	if !ok {
		return
	}
	health, err := h.analytics.MaintenanceOutlook(r.Context(), act)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ports": health})
}
