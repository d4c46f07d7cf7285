package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"chargenet/internal/errs"
	"chargenet/internal/models"
	"chargenet/internal/service"
)

// defaultStaleAge applies when a stale payment listing does not set an age.
const defaultStaleAge = time.Hour

// PaymentHandlers serves payment and subscription endpoints.
type PaymentHandlers struct {
	payments *service.PaymentService
	logger   *zap.Logger
}

// NewPaymentHandlers returns handler struct.
func NewPaymentHandlers(payments *service.PaymentService, logger *zap.Logger) *PaymentHandlers {
	return &PaymentHandlers{payments: payments, logger: logger}
}

// CreateIntent handles POST /api/v1/payments/intent.
func (h *PaymentHandlers) CreateIntent(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r, h.logger)
	if !ok {
		return
	}

	var req struct {
		Amount    decimal.Decimal `json:"amount"`
		Currency  string          `json:"currency"`
		SessionID string          `json:"session_id"`
		BookingID string          `json:"booking_id"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	payment, err := h.payments.CreateIntent(r.Context(), act, service.CreateIntentParams{
		Amount:    req.Amount,
		Currency:  req.Currency,
		SessionID: req.SessionID,
		BookingID: req.BookingID,
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, payment)
}

// Confirm handles POST /api/v1/payments/confirm.
func (h *PaymentHandlers) Confirm(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r, h.logger)
	if !ok {
		return
	}

	var req struct {
		ProviderRef string `json:"provider_ref"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	payment, err := h.payments.Confirm(r.Context(), act, req.ProviderRef)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

// History handles GET /api/v1/payments.
func (h *PaymentHandlers) History(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r, h.logger)
	if !ok {
		return
	}
	limit, offset := pagination(r)
	q := r.URL.Query()

	payments, err := h.payments.History(r.Context(), act, service.HistoryParams{
		UserID: q.Get("user_id"),
		Status: models.PaymentStatus(q.Get("status")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": payments})
}

// Refund handles POST /api/v1/payments/{id}/refund.
func (h *PaymentHandlers) Refund(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r, h.logger)
	if !ok {
		return
	}

	var req struct {
		Amount decimal.Decimal `json:"amount"`
		Reason string          `json:"reason"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	payment, err := h.payments.Refund(r.Context(), act, r.PathValue("id"), service.RefundParams{
		Amount: req.Amount,
		Reason: req.Reason,
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

// Stale handles GET /api/v1/payments/stale.
func (h *PaymentHandlers) Stale(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r, h.logger)
	if !ok {
		return
	}

	olderThan := defaultStaleAge
	if v := r.URL.Query().Get("older_than_minutes"); v != "" {
		minutes, err := strconv.Atoi(v)
		if err != nil {
			writeServiceError(w, h.logger, errs.Validation("invalid older_than_minutes"))
			return
		}
		olderThan = time.Duration(minutes) * time.Minute
	}

	payments, err := h.payments.Stale(r.Context(), act, olderThan)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": payments})
}

// CreateSubscription handles POST /api/v1/subscriptions.
func (h *PaymentHandlers) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r, h.logger)
	if !ok {
		return
	}

	var req struct {
		Plan string `json:"plan"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	sub, err := h.payments.CreateSubscription(r.Context(), act, req.Plan)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

// CancelSubscription handles DELETE /api/v1/subscriptions.
func (h *PaymentHandlers) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r, h.logger)
	if !ok {
		return
	}
	sub, err := h.payments.CancelSubscription(r.Context(), act)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}
