package postgres

import (
	"context"
	"database/sql"
	"errors"

	"chargenet/internal/models"
	"chargenet/internal/storage"
)

const subscriptionColumns = `id, tenant_id, plan, status, period_start, period_end, provider_ref, created_at, updated_at`

// SubscriptionRepo handles CRUD for the subscriptions table.
type SubscriptionRepo struct {
	q querier
}

// NewSubscriptionRepo returns repository instance.
func NewSubscriptionRepo(q querier) *SubscriptionRepo {
	return &SubscriptionRepo{q: q}
}

// Create inserts a new subscription. The partial unique index rejects a
// second active one per tenant.
func (r *SubscriptionRepo) Create(ctx context.Context, sub *models.Subscription) error {
	const query = `
		INSERT INTO subscriptions (id, tenant_id, plan, status, period_start, period_end, provider_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`
	err := r.q.QueryRowContext(ctx, query,
		sub.ID, sub.TenantID, sub.Plan, sub.Status, sub.PeriodStart, sub.PeriodEnd, sub.ProviderRef).
		Scan(&sub.CreatedAt, &sub.UpdatedAt)
	return mapWriteErr(err)
}

// GetActiveByTenant returns the tenant's active subscription.
func (r *SubscriptionRepo) GetActiveByTenant(ctx context.Context, tenantID string) (*models.Subscription, error) {
	const query = `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE tenant_id = $1 AND status = 'active'
	`
	s, err := scanSubscription(r.q.QueryRowContext(ctx, query, tenantID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return s, err
}

// Update rewrites mutable subscription fields.
func (r *SubscriptionRepo) Update(ctx context.Context, sub *models.Subscription) error {
	const query = `
		UPDATE subscriptions
		SET plan = $3, status = $4, period_start = $5, period_end = $6, provider_ref = $7, updated_at = now()
		WHERE tenant_id = $1 AND id = $2
		RETURNING updated_at
	`
	err := r.q.QueryRowContext(ctx, query,
		sub.TenantID, sub.ID, sub.Plan, sub.Status, sub.PeriodStart, sub.PeriodEnd, sub.ProviderRef).
		Scan(&sub.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	return mapWriteErr(err)
}

// List returns the tenant's subscriptions, newest first.
func (r *SubscriptionRepo) List(ctx context.Context, tenantID string) ([]models.Subscription, error) {
	const query = `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE tenant_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.q.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []models.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *s)
	}
	return subs, rows.Err()
}

func scanSubscription(row rowScanner) (*models.Subscription, error) {
	var s models.Subscription
	err := row.Scan(&s.ID, &s.TenantID, &s.Plan, &s.Status,
		&s.PeriodStart, &s.PeriodEnd, &s.ProviderRef, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
