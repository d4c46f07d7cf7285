// Package middleware holds the HTTP cross-cutting concerns: authentication,
// request logging, panic recovery and rate limiting.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"chargenet/internal/errs"
	"chargenet/internal/models"
	"chargenet/internal/service"
)

type contextKey string

const claimsKey contextKey = "claims"

// Chain wraps a handler with the given middlewares, outermost-first.
func Chain(handler http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	h := handler
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// WithClaims injects validated token claims into the request context.
func WithClaims(ctx context.Context, claims *service.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// ClaimsFromContext retrieves the validated token claims, if any.
func ClaimsFromContext(ctx context.Context) (*service.Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*service.Claims)
	return claims, ok
}

// ActorFromContext builds the service actor from the request claims.
func ActorFromContext(ctx context.Context) (service.Actor, bool) {
	claims, ok := ClaimsFromContext(ctx)
	if !ok {
		return service.Actor{}, false
	}
	return service.Actor{
		UserID:   claims.UserID,
		TenantID: claims.TenantID,
		Role:     models.Role(claims.Role),
	}, true
}

// writeError emits the platform error envelope. Handlers have a richer
// version; middleware only ever reports auth and rate limit failures.
func writeError(w http.ResponseWriter, status int, kind errs.Kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"code":    kind.String(),
			"message": message,
		},
	})
}
