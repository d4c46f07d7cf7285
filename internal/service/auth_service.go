package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chargenet/internal/errs"
	"chargenet/internal/models"
	"chargenet/internal/password"
	"chargenet/internal/storage"
)

const minPasswordLength = 8

// Denylist tracks revoked token IDs.
type Denylist interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// TokenPair is an access/refresh token set.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// AuthService handles tenant registration, login and token lifecycle.
type AuthService struct {
	store    storage.Store
	hasher   password.Hasher
	tokens   *TokenService
	denylist Denylist
	logger   *zap.Logger
}

// NewAuthService builds AuthService.
func NewAuthService(store storage.Store, hasher password.Hasher, tokens *TokenService, denylist Denylist, logger *zap.Logger) *AuthService {
	return &AuthService{
		store:    store,
		hasher:   hasher,
		tokens:   tokens,
		denylist: denylist,
		logger:   logger,
	}
}

// RegisterParams describes a new tenant and its first admin account.
type RegisterParams struct {
	TenantName string
	TenantType models.TenantType
	Domain     string
	Email      string
	Password   string
	FirstName  string
	LastName   string
}

// Register creates a tenant together with its admin user.
func (s *AuthService) Register(ctx context.Context, params RegisterParams) (*models.Tenant, *models.User, error) {
	name := strings.TrimSpace(params.TenantName)
	if name == "" {
		return nil, nil, errs.Validation("tenant name is required")
	}
	if !params.TenantType.Valid() {
		return nil, nil, errs.Validation("unknown tenant type").WithDetail("type", string(params.TenantType))
	}
	email := strings.ToLower(strings.TrimSpace(params.Email))
	if !strings.Contains(email, "@") {
		return nil, nil, errs.Validation("valid email is required")
	}
	if len(params.Password) < minPasswordLength {
		return nil, nil, errs.Validation("password must be at least 8 characters")
	}

	domain := strings.ToLower(strings.TrimSpace(params.Domain))
	if domain == "" {
		domain = models.SlugifyDomain(name)
	}
	if domain == "" {
		return nil, nil, errs.Validation("tenant domain is required")
	}

	hash, err := s.hasher.Hash(params.Password)
	if err != nil {
		return nil, nil, err
	}

	tenant := &models.Tenant{
		ID:     uuid.NewString(),
		Name:   name,
		Type:   params.TenantType,
		Domain: domain,
		Active: true,
	}
	admin := &models.User{
		ID:           uuid.NewString(),
		TenantID:     tenant.ID,
		Email:        email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(params.FirstName),
		LastName:     strings.TrimSpace(params.LastName),
		Role:         models.RoleTenantAdmin,
		Active:       true,
	}

	err = s.store.InTx(ctx, func(tx storage.Store) error {
		if err := tx.Tenants().Create(ctx, tenant); err != nil {
			if errors.Is(err, storage.ErrDuplicate) {
				return errs.Conflict("tenant domain already registered").WithDetail("domain", domain)
			}
			return err
		}
		if err := tx.Users().Create(ctx, admin); err != nil {
			if errors.Is(err, storage.ErrDuplicate) {
				return errs.Conflict("email already registered")
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info("tenant registered",
		zap.String("tenant_id", tenant.ID),
		zap.String("domain", tenant.Domain),
		zap.String("admin_id", admin.ID))
	return tenant, admin, nil
}

// Login authenticates a user and issues a token pair. When the email exists
// in several tenants the caller must pass the tenant domain to pick one.
func (s *AuthService) Login(ctx context.Context, email, pass, domain string) (*TokenPair, *models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || pass == "" {
		return nil, nil, errs.Authentication("invalid credentials")
	}

	user, err := s.resolveAccount(ctx, email, domain)
	if err != nil {
		return nil, nil, err
	}

	tenant, err := s.store.Tenants().GetByID(ctx, user.TenantID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, errs.Authentication("invalid credentials")
		}
		return nil, nil, err
	}
	if !tenant.Active {
		return nil, nil, errs.Authorization("tenant is suspended")
	}
	if !user.Active {
		return nil, nil, errs.Authorization("account is disabled")
	}

	if err := s.hasher.Compare(user.PasswordHash, pass); err != nil {
		return nil, nil, errs.Authentication("invalid credentials")
	}

	pair, err := s.issuePair(user)
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info("user logged in",
		zap.String("tenant_id", user.TenantID),
		zap.String("user_id", user.ID))
	return pair, user, nil
}

func (s *AuthService) resolveAccount(ctx context.Context, email, domain string) (*models.User, error) {
	if domain = strings.TrimSpace(domain); domain != "" {
		tenant, err := s.store.Tenants().GetByDomain(ctx, domain)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, errs.Authentication("invalid credentials")
			}
			return nil, err
		}
		user, err := s.store.Users().GetByEmail(ctx, tenant.ID, email)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, errs.Authentication("invalid credentials")
			}
			return nil, err
		}
		return user, nil
	}

	matches, err := s.store.Users().FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, errs.Authentication("invalid credentials")
	case 1:
		user := matches[0]
		return &user, nil
	default:
		return nil, errs.Validation("account exists in multiple tenants, specify tenant domain")
	}
}

// Me returns the caller's account.
func (s *AuthService) Me(ctx context.Context, actor Actor) (*models.User, error) {
	user, err := s.store.Users().GetByID(ctx, actor.TenantID, actor.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errs.NotFound("user not found")
		}
		return nil, err
	}
	return user, nil
}

// Refresh rotates a refresh token into a fresh pair. The used refresh token
// is revoked so it cannot be replayed.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, *models.User, error) {
	claims, err := s.tokens.Validate(refreshToken)
	if err != nil || claims.Kind != TokenKindRefresh {
		return nil, nil, errs.Authentication("invalid refresh token")
	}

	if revoked := s.isRevoked(ctx, claims.ID); revoked {
		return nil, nil, errs.Authentication("refresh token revoked")
	}

	user, err := s.store.Users().GetByID(ctx, claims.TenantID, claims.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, errs.Authentication("invalid refresh token")
		}
		return nil, nil, err
	}
	if !user.Active {
		return nil, nil, errs.Authorization("account is disabled")
	}

	if err := s.denylist.Revoke(ctx, claims.ID, claims.TTL(time.Now().UTC())); err != nil {
		return nil, nil, errs.External("token revocation unavailable", err)
	}

	pair, err := s.issuePair(user)
	if err != nil {
		return nil, nil, err
	}
	return pair, user, nil
}

// Logout revokes the presented tokens for the rest of their lifetime.
func (s *AuthService) Logout(ctx context.Context, accessClaims *Claims, refreshToken string) error {
	now := time.Now().UTC()
	if err := s.denylist.Revoke(ctx, accessClaims.ID, accessClaims.TTL(now)); err != nil {
		return errs.External("token revocation unavailable", err)
	}

	if refreshToken != "" {
		claims, err := s.tokens.Validate(refreshToken)
		if err == nil && claims.Kind == TokenKindRefresh && claims.UserID == accessClaims.UserID {
			if err := s.denylist.Revoke(ctx, claims.ID, claims.TTL(now)); err != nil {
				return errs.External("token revocation unavailable", err)
			}
		}
	}

	s.logger.Info("user logged out", zap.String("user_id", accessClaims.UserID))
	return nil
}

// ChangePassword swaps the caller's password after verifying the current one.
func (s *AuthService) ChangePassword(ctx context.Context, actor Actor, current, next string) error {
	if len(next) < minPasswordLength {
		return errs.Validation("password must be at least 8 characters")
	}

	user, err := s.store.Users().GetByID(ctx, actor.TenantID, actor.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return errs.NotFound("user not found")
		}
		return err
	}

	if err := s.hasher.Compare(user.PasswordHash, current); err != nil {
		return errs.Authentication("current password is incorrect")
	}

	hash, err := s.hasher.Hash(next)
	if err != nil {
		return err
	}
	if err := s.store.Users().UpdatePassword(ctx, actor.TenantID, actor.UserID, hash); err != nil {
		return err
	}

	s.logger.Info("password changed", zap.String("user_id", actor.UserID))
	return nil
}

// IsTokenRevoked exposes the denylist to transport middleware. Read errors
// fail open so an unavailable cache does not lock everyone out.
func (s *AuthService) IsTokenRevoked(ctx context.Context, jti string) bool {
	return s.isRevoked(ctx, jti)
}

func (s *AuthService) isRevoked(ctx context.Context, jti string) bool {
	revoked, err := s.denylist.IsRevoked(ctx, jti)
	if err != nil {
		s.logger.Warn("denylist check failed, allowing token", zap.Error(err))
		return false
	}
	return revoked
}

func (s *AuthService) issuePair(user *models.User) (*TokenPair, error) {
	access, _, err := s.tokens.Generate(user, TokenKindAccess)
	if err != nil {
		return nil, err
	}
	refresh, _, err := s.tokens.Generate(user, TokenKindRefresh)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.tokens.AccessTTL().Seconds()),
	}, nil
}
