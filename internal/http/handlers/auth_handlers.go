package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"chargenet/internal/errs"
	"chargenet/internal/http/middleware"
	"chargenet/internal/models"
	"chargenet/internal/service"
)

// AuthHandlers serves registration, login and token lifecycle endpoints.
type AuthHandlers struct {
	auth   *service.AuthService
	logger *zap.Logger
}

// NewAuthHandlers returns handler struct.
func NewAuthHandlers(auth *service.AuthService, logger *zap.Logger) *AuthHandlers {
	return &AuthHandlers{auth: auth, logger: logger}
}

// Register handles POST /api/v1/auth/register.
func (h *AuthHandlers) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TenantName string `json:"tenant_name"`
		TenantType string `json:"tenant_type"`
		Domain     string `json:"domain"`
		Email      string `json:"email"`
		Password   string `json:"password"`
		FirstName  string `json:"first_name"`
		LastName   string `json:"last_name"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	tenant, admin, err := h.auth.Register(r.Context(), service.RegisterParams{
		TenantName: req.TenantName,
		TenantType: models.TenantType(req.TenantType),
		Domain:     req.Domain,
		Email:      req.Email,
		Password:   req.Password,
		FirstName:  req.FirstName,
		LastName:   req.LastName,
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"tenant": tenant,
		"user":   admin,
	})
}

// Login handles POST /api/v1/auth/login.
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Domain   string `json:"domain"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	pair, user, err := h.auth.Login(r.Context(), req.Email, req.Password, req.Domain)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"tokens": pair,
		"user":   user,
	})
}

// Me handles GET /api/v1/auth/me.
func (h *AuthHandlers) Me(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r, h.logger)
	if !ok {
		return
	}
	user, err := h.auth.Me(r.Context(), act)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// Refresh handles POST /api/v1/auth/refresh.
func (h *AuthHandlers) Refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	pair, user, err := h.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"tokens": pair,
		"user":   user,
	})
}

// Logout handles POST /api/v1/auth/logout.
func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeServiceError(w, h.logger, errs.Authentication("authentication required"))
		return
	}

	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	// Body is optional: logout with no refresh token only revokes access.
	_ = decodeJSON(w, r, &req)

	if err := h.auth.Logout(r.Context(), claims, req.RefreshToken); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

// ChangePassword handles POST /api/v1/auth/change-password.
func (h *AuthHandlers) ChangePassword(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r, h.logger)
	if !ok {
		return
	}

	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	if err := h.auth.ChangePassword(r.Context(), act, req.CurrentPassword, req.NewPassword); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}
