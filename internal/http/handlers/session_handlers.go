package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"chargenet/internal/service"
)

// SessionHandlers serves reservation, charging session and fault endpoints.
type SessionHandlers struct {
	sessions *service.SessionService
	logger   *zap.Logger
}

// NewSessionHandlers returns handler struct.
func NewSessionHandlers(sessions *service.SessionService, logger *zap.Logger) *SessionHandlers {
	return &SessionHandlers{sessions: sessions, logger: logger}
}

// Reserve handles POST /api/v1/ports/{id}/reserve.
func (h *SessionHandlers) Reserve(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r, h.logger)
	if !ok {
		return
	}

	var req struct {
		WindowStart time.Time `json:"window_start"`
		WindowEnd   time.Time `json:"window_end"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	booking, err := h.sessions.ReservePort(r.Context(), act, service.ReserveParams{
		PortID:      r.PathValue("id"),
		WindowStart: req.WindowStart,
		WindowEnd:   req.WindowEnd,
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, booking)
}

// Start handles POST /api/v1/ports/{id}/sessions.
func (h *SessionHandlers) Start(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r, h.logger)
	if !ok {
		return
	}

	var req struct {
		TargetKWh float64 `json:"target_kwh"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	session, err := h.sessions.StartSession(r.Context(), act, service.StartParams{
		PortID:    r.PathValue("id"),
		TargetKWh: req.TargetKWh,
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

// Energy handles PATCH /api/v1/sessions/{id}/energy.
func (h *SessionHandlers) Energy(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r, h.logger)
	if !ok {
		return
	}

	var req struct {
		DeltaKWh float64 `json:"delta_kwh"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	session, err := h.sessions.UpdateEnergy(r.Context(), act, r.PathValue("id"), req.DeltaKWh)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// End handles POST /api/v1/sessions/{id}/end.
func (h *SessionHandlers) End(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r, h.logger)
	if !ok {
		return
	}
	session, err := h.sessions.EndSession(r.Context(), act, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// Get handles GET /api/v1/sessions/{id}.
func (h *SessionHandlers) Get(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r, h.logger)
	if !ok {
		return
	}
	session, err := h.sessions.Get(r.Context(), act, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// List handles GET /api/v1/sessions.
func (h *SessionHandlers) List(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r, h.logger)
	if !ok {
		return
	}
	limit, offset := pagination(r)
	sessions, err := h.sessions.List(r.Context(), act, r.URL.Query().Get("user_id"), limit, offset)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// CancelBooking handles POST /api/v1/bookings/{id}/cancel.
func (h *SessionHandlers) CancelBooking(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r, h.logger)
	if !ok {
		return
	}
	booking, err := h.sessions.CancelBooking(r.Context(), act, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

// ListBookings handles GET /api/v1/bookings.
func (h *SessionHandlers) ListBookings(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r, h.logger)
	if !ok {
		return
	}
	limit, offset := pagination(r)
	bookings, err := h.sessions.ListBookings(r.Context(), act, r.URL.Query().Get("user_id"), limit, offset)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
}

// ReportFault handles POST /api/v1/ports/{id}/fault.
func (h *SessionHandlers) ReportFault(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r, h.logger)
	if !ok {
		return
	}
	port, err := h.sessions.ReportFault(r.Context(), act, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, port)
}

// ClearFault handles DELETE /api/v1/ports/{id}/fault.
func (h *SessionHandlers) ClearFault(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r, h.logger)
	if !ok {
		return
	}
	port, err := h.sessions.ClearFault(r.Context(), act, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, port)
}
