// Package handlers implements the JSON API surface of the platform. Every
// handler decodes a request, resolves the actor, calls one service operation
// and writes either the result or the shared error envelope.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"chargenet/internal/errs"
	"chargenet/internal/http/middleware"
	"chargenet/internal/service"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// statusOf maps an error kind to its HTTP status.
func statusOf(kind errs.Kind) int {
	switch kind {
	case errs.KindValidation:
		return http.StatusBadRequest
	case errs.KindAuthentication:
		return http.StatusUnauthorized
	case errs.KindAuthorization:
		return http.StatusForbidden
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindConflict:
		return http.StatusConflict
	case errs.KindRateLimited:
		return http.StatusTooManyRequests
	case errs.KindExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError maps a service error onto the envelope. Internal errors
// are logged in full and reported without detail.
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	kind := errs.KindOf(err)
	body := errorBody{Code: kind.String()}

	var typed *errs.Error
	if errors.As(err, &typed) {
		body.Message = typed.Message
		body.Details = typed.Details
	}
	if kind == errs.KindInternal {
		logger.Error("request failed", zap.Error(err))
		body.Message = "internal error"
		body.Details = nil
	}
	if kind == errs.KindExternal {
		logger.Warn("upstream provider failed", zap.Error(err))
	}

	writeJSON(w, statusOf(kind), errorEnvelope{Error: body})
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errs.Validation("invalid JSON body")
	}
	return nil
}

// actor resolves the authenticated caller. The auth middleware guarantees it
// is present on protected routes; a miss means a wiring bug, reported as 401.
func actor(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (service.Actor, bool) {
	act, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		writeServiceError(w, logger, errs.Authentication("authentication required"))
		return service.Actor{}, false
	}
	return act, true
}

// pagination reads limit/offset query params, zero when absent.
func pagination(r *http.Request) (limit, offset int) {
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		offset, _ = strconv.Atoi(v)
	}
	return limit, offset
}

// parseTimeParam accepts RFC3339 or a bare date.
func parseTimeParam(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, errs.Validationf("invalid time %q, want RFC3339 or YYYY-MM-DD", value)
	}
	return t, nil
}
