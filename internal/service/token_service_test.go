package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chargenet/internal/models"
)

func testTokenUser() *models.User {
	return &models.User{
		ID:       "user-1",
		TenantID: "t1",
		Role:     models.RoleOperator,
		Email:    "op@t1.test",
	}
}

func TestTokenRoundTrip(t *testing.T) {
	tokens := NewTokenService("test-secret", time.Minute, time.Hour)
	user := testTokenUser()

	signed, issued, err := tokens.Generate(user, TokenKindAccess)
	require.NoError(t, err)
	require.NotEmpty(t, signed)
	require.NotEmpty(t, issued.ID)

	claims, err := tokens.Validate(signed)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.UserID)
	require.Equal(t, "t1", claims.TenantID)
	require.Equal(t, string(models.RoleOperator), claims.Role)
	require.Equal(t, TokenKindAccess, claims.Kind)
	require.Equal(t, issued.ID, claims.ID)
	require.WithinDuration(t, time.Now().Add(time.Minute), claims.ExpiresAt.Time, 5*time.Second)

	_, refresh, err := tokens.Generate(user, TokenKindRefresh)
	require.NoError(t, err)
	require.Equal(t, TokenKindRefresh, refresh.Kind)
	require.WithinDuration(t, time.Now().Add(time.Hour), refresh.ExpiresAt.Time, 5*time.Second)
}

func TestTokenRejectsTampering(t *testing.T) {
	tokens := NewTokenService("test-secret", time.Minute, time.Hour)
	other := NewTokenService("different-secret", time.Minute, time.Hour)

	signed, _, err := tokens.Generate(testTokenUser(), TokenKindAccess)
	require.NoError(t, err)

	_, err = other.Validate(signed)
	require.Error(t, err)

	_, err = tokens.Validate("not.a.token")
	require.Error(t, err)

	_, _, err = tokens.Generate(nil, TokenKindAccess)
	require.Error(t, err)
}

func TestTokenExpiry(t *testing.T) {
	tokens := NewTokenService("test-secret", time.Nanosecond, time.Nanosecond)

	signed, claims, err := tokens.Generate(testTokenUser(), TokenKindAccess)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	_, err = tokens.Validate(signed)
	require.Error(t, err)

	require.Negative(t, claims.TTL(time.Now().UTC()))
	require.Zero(t, (&Claims{}).TTL(time.Now()))
}

func TestTokenServiceDefaults(t *testing.T) {
	tokens := NewTokenService("test-secret", 0, 0)
	require.Equal(t, time.Hour, tokens.AccessTTL())

	_, refresh, err := tokens.Generate(testTokenUser(), TokenKindRefresh)
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().Add(30*24*time.Hour), refresh.ExpiresAt.Time, 5*time.Second)
}
