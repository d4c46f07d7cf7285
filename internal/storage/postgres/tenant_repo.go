package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"chargenet/internal/models"
	"chargenet/internal/storage"
)

// TenantRepo handles CRUD for the tenants table.
type TenantRepo struct {
	q querier
}

// NewTenantRepo returns repository instance.
func NewTenantRepo(q querier) *TenantRepo {
	return &TenantRepo{q: q}
}

// Create inserts a new tenant.
func (r *TenantRepo) Create(ctx context.Context, tenant *models.Tenant) error {
	tenant.Domain = strings.ToLower(strings.TrimSpace(tenant.Domain))
	const query = `
		INSERT INTO tenants (id, name, type, domain, active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`
	err := r.q.QueryRowContext(ctx, query,
		tenant.ID, tenant.Name, tenant.Type, tenant.Domain, tenant.Active).
		Scan(&tenant.CreatedAt, &tenant.UpdatedAt)
	return mapWriteErr(err)
}

// GetByID fetches a tenant by ID.
func (r *TenantRepo) GetByID(ctx context.Context, id string) (*models.Tenant, error) {
	const query = `
		SELECT id, name, type, domain, active, created_at, updated_at
		FROM tenants
		WHERE id = $1
	`
	return r.scanOne(r.q.QueryRowContext(ctx, query, id))
}

// GetByDomain fetches a tenant by its unique domain.
func (r *TenantRepo) GetByDomain(ctx context.Context, domain string) (*models.Tenant, error) {
	const query = `
		SELECT id, name, type, domain, active, created_at, updated_at
		FROM tenants
		WHERE lower(domain) = lower($1)
	`
	return r.scanOne(r.q.QueryRowContext(ctx, query, strings.TrimSpace(domain)))
}

func (r *TenantRepo) scanOne(row *sql.Row) (*models.Tenant, error) {
	var t models.Tenant
	err := row.Scan(&t.ID, &t.Name, &t.Type, &t.Domain, &t.Active, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}
