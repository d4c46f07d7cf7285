package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"chargenet/internal/errs"
	"chargenet/internal/models"
	"chargenet/internal/password"
	"chargenet/internal/storage"
	"chargenet/internal/storage/memory"
)

type fakeDenylist struct {
	mu        sync.Mutex
	revoked   map[string]time.Duration
	revokeErr error
	checkErr  error
}

func newFakeDenylist() *fakeDenylist {
	return &fakeDenylist{revoked: make(map[string]time.Duration)}
}

func (d *fakeDenylist) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.revokeErr != nil {
		return d.revokeErr
	}
	d.revoked[jti] = ttl
	return nil
}

func (d *fakeDenylist) IsRevoked(ctx context.Context, jti string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.checkErr != nil {
		return false, d.checkErr
	}
	_, ok := d.revoked[jti]
	return ok, nil
}

func (d *fakeDenylist) has(jti string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.revoked[jti]
	return ok
}

const authPass = "orbit-pass-9"

func newAuthFixture(t *testing.T) (*AuthService, *TokenService, storage.Store, *fakeDenylist) {
	t.Helper()
	store := memory.NewStore()
	tokens := NewTokenService("test-secret", time.Minute, time.Hour)
	denylist := newFakeDenylist()
	hasher := password.NewBcryptHasher(bcrypt.MinCost)
	svc := NewAuthService(store, hasher, tokens, denylist, zap.NewNop())
	return svc, tokens, store, denylist
}

func registerTenant(t *testing.T, svc *AuthService, name, email string) (*models.Tenant, *models.User) {
	t.Helper()
	tenant, admin, err := svc.Register(context.Background(), RegisterParams{
		TenantName: name,
		TenantType: models.TenantTypeStationOperator,
		Email:      email,
		Password:   authPass,
		FirstName:  "Ada",
		LastName:   "Nyberg",
	})
	require.NoError(t, err)
	return tenant, admin
}

func TestRegisterCreatesTenantWithAdmin(t *testing.T) {
	ctx := context.Background()
	svc, _, store, _ := newAuthFixture(t)

	tenant, admin, err := svc.Register(ctx, RegisterParams{
		TenantName: "  Volt Fleet  ",
		TenantType: models.TenantTypeStationOperator,
		Email:      " Admin@VoltFleet.example ",
		Password:   authPass,
		FirstName:  " Ada ",
		LastName:   " Nyberg ",
	})
	require.NoError(t, err)

	require.Equal(t, "Volt Fleet", tenant.Name)
	require.Equal(t, "volt-fleet", tenant.Domain)
	require.True(t, tenant.Active)

	require.Equal(t, tenant.ID, admin.TenantID)
	require.Equal(t, "admin@voltfleet.example", admin.Email)
	require.Equal(t, models.RoleTenantAdmin, admin.Role)
	require.Equal(t, "Ada", admin.FirstName)
	require.NotEqual(t, authPass, admin.PasswordHash)

	stored, err := store.Tenants().GetByDomain(ctx, "volt-fleet")
	require.NoError(t, err)
	require.Equal(t, tenant.ID, stored.ID)

	_, err = store.Users().GetByEmail(ctx, tenant.ID, "admin@voltfleet.example")
	require.NoError(t, err)
}

func TestRegisterValidation(t *testing.T) {
	svc, _, _, _ := newAuthFixture(t)

	valid := RegisterParams{
		TenantName: "Volt Fleet",
		TenantType: models.TenantTypeStationOperator,
		Email:      "admin@voltfleet.example",
		Password:   authPass,
	}

	cases := []struct {
		name   string
		mutate func(*RegisterParams)
	}{
		{"missing name", func(p *RegisterParams) { p.TenantName = "   " }},
		{"unknown type", func(p *RegisterParams) { p.TenantType = "charity" }},
		{"bad email", func(p *RegisterParams) { p.Email = "not-an-email" }},
		{"short password", func(p *RegisterParams) { p.Password = "short" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			params := valid
			tc.mutate(&params)
			_, _, err := svc.Register(context.Background(), params)
			require.ErrorIs(t, err, errs.Validation(""))
		})
	}
}

func TestRegisterDuplicateDomain(t *testing.T) {
	ctx := context.Background()
	svc, _, store, _ := newAuthFixture(t)
	registerTenant(t, svc, "Volt Fleet", "first@voltfleet.example")

	_, _, err := svc.Register(ctx, RegisterParams{
		TenantName: "Volt Fleet",
		TenantType: models.TenantTypeEnterprise,
		Email:      "second@voltfleet.example",
		Password:   authPass,
	})
	require.ErrorIs(t, err, errs.Conflict("tenant domain already registered"))

	// The failed registration leaves no orphaned admin behind.
	matches, err := store.Users().FindByEmail(ctx, "second@voltfleet.example")
	require.NoError(t, err)
	require.Empty(t, matches)
}

func TestLoginIssuesTokenPair(t *testing.T) {
	ctx := context.Background()
	svc, tokens, _, _ := newAuthFixture(t)
	tenant, admin := registerTenant(t, svc, "Volt Fleet", "admin@voltfleet.example")

	pair, user, err := svc.Login(ctx, "Admin@VoltFleet.example", authPass, "")
	require.NoError(t, err)
	require.Equal(t, admin.ID, user.ID)
	require.Equal(t, int64(60), pair.ExpiresIn)

	access, err := tokens.Validate(pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, TokenKindAccess, access.Kind)
	require.Equal(t, admin.ID, access.UserID)
	require.Equal(t, tenant.ID, access.TenantID)
	require.Equal(t, string(models.RoleTenantAdmin), access.Role)

	refresh, err := tokens.Validate(pair.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, TokenKindRefresh, refresh.Kind)
	require.NotEqual(t, access.ID, refresh.ID)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newAuthFixture(t)
	registerTenant(t, svc, "Volt Fleet", "admin@voltfleet.example")

	_, _, err := svc.Login(ctx, "admin@voltfleet.example", "wrong-password", "")
	require.ErrorIs(t, err, errs.Authentication("invalid credentials"))

	_, _, err = svc.Login(ctx, "nobody@voltfleet.example", authPass, "")
	require.ErrorIs(t, err, errs.Authentication("invalid credentials"))

	_, _, err = svc.Login(ctx, "", authPass, "")
	require.ErrorIs(t, err, errs.Authentication(""))
}

func TestLoginAmbiguousEmailNeedsDomain(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newAuthFixture(t)
	fleet, _ := registerTenant(t, svc, "Volt Fleet", "ops@shared.example")
	grid, _ := registerTenant(t, svc, "Grid Works", "ops@shared.example")

	_, _, err := svc.Login(ctx, "ops@shared.example", authPass, "")
	require.ErrorIs(t, err, errs.Validation("account exists in multiple tenants, specify tenant domain"))

	_, user, err := svc.Login(ctx, "ops@shared.example", authPass, "grid-works")
	require.NoError(t, err)
	require.Equal(t, grid.ID, user.TenantID)

	_, user, err = svc.Login(ctx, "ops@shared.example", authPass, "volt-fleet")
	require.NoError(t, err)
	require.Equal(t, fleet.ID, user.TenantID)

	_, _, err = svc.Login(ctx, "ops@shared.example", authPass, "no-such-tenant")
	require.ErrorIs(t, err, errs.Authentication("invalid credentials"))
}

func TestLoginRejectsSuspendedAndDisabledAccounts(t *testing.T) {
	ctx := context.Background()
	svc, _, store, _ := newAuthFixture(t)
	hasher := password.NewBcryptHasher(bcrypt.MinCost)
	hash, err := hasher.Hash(authPass)
	require.NoError(t, err)

	suspended := &models.Tenant{ID: uuid.NewString(), Name: "Dormant", Type: models.TenantTypeEnterprise, Domain: "dormant", Active: false}
	require.NoError(t, store.Tenants().Create(ctx, suspended))
	require.NoError(t, store.Users().Create(ctx, &models.User{
		ID: uuid.NewString(), TenantID: suspended.ID, Email: "user@dormant.example",
		PasswordHash: hash, Role: models.RoleDriver, Active: true,
	}))

	_, _, err = svc.Login(ctx, "user@dormant.example", authPass, "")
	require.ErrorIs(t, err, errs.Authorization("tenant is suspended"))

	live := &models.Tenant{ID: uuid.NewString(), Name: "Live", Type: models.TenantTypeEnterprise, Domain: "live", Active: true}
	require.NoError(t, store.Tenants().Create(ctx, live))
	require.NoError(t, store.Users().Create(ctx, &models.User{
		ID: uuid.NewString(), TenantID: live.ID, Email: "gone@live.example",
		PasswordHash: hash, Role: models.RoleDriver, Active: false,
	}))

	_, _, err = svc.Login(ctx, "gone@live.example", authPass, "")
	require.ErrorIs(t, err, errs.Authorization("account is disabled"))
}

func TestRefreshRotatesAndRevokesOldToken(t *testing.T) {
	ctx := context.Background()
	svc, tokens, _, denylist := newAuthFixture(t)
	_, admin := registerTenant(t, svc, "Volt Fleet", "admin@voltfleet.example")

	pair, _, err := svc.Login(ctx, "admin@voltfleet.example", authPass, "")
	require.NoError(t, err)
	oldClaims, err := tokens.Validate(pair.RefreshToken)
	require.NoError(t, err)

	next, user, err := svc.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, admin.ID, user.ID)
	require.NotEqual(t, pair.RefreshToken, next.RefreshToken)
	require.True(t, denylist.has(oldClaims.ID))

	// A rotated refresh token cannot be replayed.
	_, _, err = svc.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, errs.Authentication("refresh token revoked"))

	// Access tokens are not accepted on the refresh path.
	_, _, err = svc.Refresh(ctx, pair.AccessToken)
	require.ErrorIs(t, err, errs.Authentication("invalid refresh token"))

	_, _, err = svc.Refresh(ctx, "garbage")
	require.ErrorIs(t, err, errs.Authentication("invalid refresh token"))
}

func TestRefreshDenylistBehaviour(t *testing.T) {
	ctx := context.Background()
	svc, _, _, denylist := newAuthFixture(t)
	registerTenant(t, svc, "Volt Fleet", "admin@voltfleet.example")

	pair, _, err := svc.Login(ctx, "admin@voltfleet.example", authPass, "")
	require.NoError(t, err)

	// A failing revocation write surfaces as an upstream outage.
	denylist.revokeErr = errors.New("redis gone")
	_, _, err = svc.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, errs.External(""))

	// Read failures fail open: the token is still usable.
	denylist.revokeErr = nil
	denylist.checkErr = errors.New("redis gone")
	next, _, err := svc.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	require.NotEmpty(t, next.AccessToken)
}

func TestRefreshRejectsDisabledUser(t *testing.T) {
	ctx := context.Background()
	svc, tokens, store, _ := newAuthFixture(t)

	tenant := &models.Tenant{ID: uuid.NewString(), Name: "Live", Type: models.TenantTypeEnterprise, Domain: "live", Active: true}
	require.NoError(t, store.Tenants().Create(ctx, tenant))
	user := &models.User{
		ID: uuid.NewString(), TenantID: tenant.ID, Email: "gone@live.example",
		PasswordHash: "x", Role: models.RoleDriver, Active: false,
	}
	require.NoError(t, store.Users().Create(ctx, user))

	refresh, _, err := tokens.Generate(user, TokenKindRefresh)
	require.NoError(t, err)

	_, _, err = svc.Refresh(ctx, refresh)
	require.ErrorIs(t, err, errs.Authorization("account is disabled"))
}

func TestLogoutRevokesPresentedTokens(t *testing.T) {
	ctx := context.Background()
	svc, tokens, _, denylist := newAuthFixture(t)
	registerTenant(t, svc, "Volt Fleet", "admin@voltfleet.example")

	pair, _, err := svc.Login(ctx, "admin@voltfleet.example", authPass, "")
	require.NoError(t, err)
	accessClaims, err := tokens.Validate(pair.AccessToken)
	require.NoError(t, err)
	refreshClaims, err := tokens.Validate(pair.RefreshToken)
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, accessClaims, pair.RefreshToken))
	require.True(t, denylist.has(accessClaims.ID))
	require.True(t, denylist.has(refreshClaims.ID))
	require.True(t, svc.IsTokenRevoked(ctx, accessClaims.ID))

	// Logout without a refresh token only revokes the access token.
	pair2, _, err := svc.Login(ctx, "admin@voltfleet.example", authPass, "")
	require.NoError(t, err)
	claims2, err := tokens.Validate(pair2.AccessToken)
	require.NoError(t, err)
	require.NoError(t, svc.Logout(ctx, claims2, ""))
	require.True(t, denylist.has(claims2.ID))
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newAuthFixture(t)
	tenant, admin := registerTenant(t, svc, "Volt Fleet", "admin@voltfleet.example")
	actor := Actor{TenantID: tenant.ID, UserID: admin.ID, Role: models.RoleTenantAdmin}

	err := svc.ChangePassword(ctx, actor, authPass, "tiny")
	require.ErrorIs(t, err, errs.Validation("password must be at least 8 characters"))

	err = svc.ChangePassword(ctx, actor, "wrong-password", "brand-new-pass")
	require.ErrorIs(t, err, errs.Authentication("current password is incorrect"))

	require.NoError(t, svc.ChangePassword(ctx, actor, authPass, "brand-new-pass"))

	_, _, err = svc.Login(ctx, "admin@voltfleet.example", authPass, "")
	require.ErrorIs(t, err, errs.Authentication("invalid credentials"))
	_, _, err = svc.Login(ctx, "admin@voltfleet.example", "brand-new-pass", "")
	require.NoError(t, err)
}

func TestMeReturnsCallerAccount(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newAuthFixture(t)
	tenant, admin := registerTenant(t, svc, "Volt Fleet", "admin@voltfleet.example")

	user, err := svc.Me(ctx, Actor{TenantID: tenant.ID, UserID: admin.ID, Role: models.RoleTenantAdmin})
	require.NoError(t, err)
	require.Equal(t, admin.Email, user.Email)

	_, err = svc.Me(ctx, Actor{TenantID: tenant.ID, UserID: uuid.NewString(), Role: models.RoleDriver})
	require.ErrorIs(t, err, errs.NotFound(""))
}
