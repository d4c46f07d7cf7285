package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chargenet/internal/models"
	"chargenet/internal/service"
)

type fakeRevocation struct {
	revoked map[string]bool
}

func (f *fakeRevocation) IsTokenRevoked(_ context.Context, jti string) bool {
	return f.revoked[jti]
}

func tokenUser(role models.Role) *models.User {
	return &models.User{
		ID:       "u1",
		TenantID: "t1",
		Email:    "driver@volt.test",
		Role:     role,
		Active:   true,
	}
}

func TestAuthenticatePassesClaimsThrough(t *testing.T) {
	tokens := service.NewTokenService("mw-secret", time.Minute, time.Hour)
	signed, _, err := tokens.Generate(tokenUser(models.RoleDriver), service.TokenKindAccess)
	require.NoError(t, err)

	var gotActor service.Actor
	var gotClaims *service.Claims
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClaims, _ = ClaimsFromContext(r.Context())
		gotActor, _ = ActorFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	Authenticate(tokens, &fakeRevocation{})(next).ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, gotClaims)
	require.Equal(t, service.TokenKindAccess, gotClaims.Kind)
	require.Equal(t, service.Actor{UserID: "u1", TenantID: "t1", Role: models.RoleDriver}, gotActor)
}

func TestAuthenticateRejections(t *testing.T) {
	tokens := service.NewTokenService("mw-secret", time.Minute, time.Hour)
	foreign := service.NewTokenService("other-secret", time.Minute, time.Hour)

	access, accessClaims, err := tokens.Generate(tokenUser(models.RoleDriver), service.TokenKindAccess)
	require.NoError(t, err)
	refresh, _, err := tokens.Generate(tokenUser(models.RoleDriver), service.TokenKindRefresh)
	require.NoError(t, err)
	forged, _, err := foreign.Generate(tokenUser(models.RoleDriver), service.TokenKindAccess)
	require.NoError(t, err)
	ghost, _, err := tokens.Generate(tokenUser(models.Role("ghost")), service.TokenKindAccess)
	require.NoError(t, err)

	revocation := &fakeRevocation{revoked: map[string]bool{accessClaims.ID: true}}

	cases := []struct {
		name    string
		header  string
		message string
	}{
		{name: "no header", header: "", message: "missing bearer token"},
		{name: "wrong scheme", header: "Basic dXNlcjpwYXNz", message: "missing bearer token"},
		{name: "garbage token", header: "Bearer not-a-token", message: "invalid token"},
		{name: "wrong secret", header: "Bearer " + forged, message: "invalid token"},
		{name: "refresh on access route", header: "Bearer " + refresh, message: "access token required"},
		{name: "unknown role", header: "Bearer " + ghost, message: "invalid token claims"},
		{name: "revoked", header: "Bearer " + access, message: "token revoked"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			called := false
			next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })

			req := httptest.NewRequest(http.MethodGet, "/api/v1/stations", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			Authenticate(tokens, revocation)(next).ServeHTTP(rec, req)

			require.False(t, called)
			require.Equal(t, http.StatusUnauthorized, rec.Code)

			var envelope struct {
				Error struct {
					Code    string `json:"code"`
					Message string `json:"message"`
				} `json:"error"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
			require.Equal(t, "authentication_error", envelope.Error.Code)
			require.Equal(t, tc.message, envelope.Error.Message)
		})
	}
}

func TestAuthenticateExpiredToken(t *testing.T) {
	tokens := service.NewTokenService("mw-secret", time.Nanosecond, time.Hour)
	signed, _, err := tokens.Generate(tokenUser(models.RoleDriver), service.TokenKindAccess)
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stations", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("expired token must not reach the handler")
	})
	Authenticate(tokens, &fakeRevocation{})(next).ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	require.Empty(t, BearerToken(r))

	r.Header.Set("Authorization", "Bearer abc.def.ghi")
	require.Equal(t, "abc.def.ghi", BearerToken(r))

	// Scheme matching is case-insensitive.
	r.Header.Set("Authorization", "bearer abc.def.ghi")
	require.Equal(t, "abc.def.ghi", BearerToken(r))

	r.Header.Set("Authorization", "Token abc")
	require.Empty(t, BearerToken(r))

	r.Header.Set("Authorization", "Bearer")
	require.Empty(t, BearerToken(r))
}
