package middleware

import (
	"context"
	"net/http"
	"strings"

	"chargenet/internal/errs"
	"chargenet/internal/models"
	"chargenet/internal/service"
)

// RevocationChecker reports whether a token ID has been revoked.
type RevocationChecker interface {
	IsTokenRevoked(ctx context.Context, jti string) bool
}

// Authenticate validates the Bearer token, rejects revoked or non-access
// tokens and injects the claims into the request context.
func Authenticate(tokens *service.TokenService, revocation RevocationChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, errs.KindAuthentication, "missing bearer token")
				return
			}

			claims, err := tokens.Validate(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, errs.KindAuthentication, "invalid token")
				return
			}
			if claims.Kind != service.TokenKindAccess {
				writeError(w, http.StatusUnauthorized, errs.KindAuthentication, "access token required")
				return
			}
			if !models.Role(claims.Role).Valid() {
				writeError(w, http.StatusUnauthorized, errs.KindAuthentication, "invalid token claims")
				return
			}
			if revocation != nil && revocation.IsTokenRevoked(r.Context(), claims.ID) {
				writeError(w, http.StatusUnauthorized, errs.KindAuthentication, "token revoked")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// BearerToken extracts the token from the Authorization header.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
