package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"chargenet/internal/models"
	"chargenet/internal/storage"
)

const paymentColumns = `id, tenant_id, user_id, amount, currency, status, provider_ref, session_id, booking_id, refunded_amount, refund_reason, completed_at, created_at, updated_at`

// PaymentRepo handles CRUD for the payments table.
type PaymentRepo struct {
	q querier
}

// NewPaymentRepo returns repository instance.
func NewPaymentRepo(q querier) *PaymentRepo {
	return &PaymentRepo{q: q}
}

// Create inserts a new payment. Unique partial indexes reject a second
// pending intent for the same target and amount.
func (r *PaymentRepo) Create(ctx context.Context, payment *models.Payment) error {
	const query = `
		INSERT INTO payments (id, tenant_id, user_id, amount, currency, status, provider_ref, session_id, booking_id, refunded_amount, refund_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`
	err := r.q.QueryRowContext(ctx, query,
		payment.ID, payment.TenantID, payment.UserID, payment.Amount, payment.Currency,
		payment.Status, payment.ProviderRef, payment.SessionID, payment.BookingID,
		payment.RefundedAmount, payment.RefundReason).
		Scan(&payment.CreatedAt, &payment.UpdatedAt)
	return mapWriteErr(err)
}

// GetByID fetches a payment within the tenant.
func (r *PaymentRepo) GetByID(ctx context.Context, tenantID, id string) (*models.Payment, error) {
	const query = `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE tenant_id = $1 AND id = $2
	`
	return onePayment(scanPayment(r.q.QueryRowContext(ctx, query, tenantID, id)))
}

// GetByProviderRef resolves a payment from its provider reference.
func (r *PaymentRepo) GetByProviderRef(ctx context.Context, tenantID, providerRef string) (*models.Payment, error) {
	const query = `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE tenant_id = $1 AND provider_ref = $2
	`
	return onePayment(scanPayment(r.q.QueryRowContext(ctx, query, tenantID, providerRef)))
}

// LockByID reads a payment with FOR UPDATE. Must run inside a transaction.
func (r *PaymentRepo) LockByID(ctx context.Context, tenantID, id string) (*models.Payment, error) {
	const query = `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE tenant_id = $1 AND id = $2
		FOR UPDATE
	`
	return onePayment(scanPayment(r.q.QueryRowContext(ctx, query, tenantID, id)))
}

// FindPendingBySession returns the open intent for (session, amount).
func (r *PaymentRepo) FindPendingBySession(ctx context.Context, tenantID, sessionID string, amount decimal.Decimal) (*models.Payment, error) {
	const query = `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE tenant_id = $1 AND session_id = $2 AND amount = $3 AND status = 'pending'
	`
	return onePayment(scanPayment(r.q.QueryRowContext(ctx, query, tenantID, sessionID, amount)))
}

// FindPendingByBooking returns the open intent for (booking, amount).
func (r *PaymentRepo) FindPendingByBooking(ctx context.Context, tenantID, bookingID string, amount decimal.Decimal) (*models.Payment, error) {
	const query = `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE tenant_id = $1 AND booking_id = $2 AND amount = $3 AND status = 'pending'
	`
	return onePayment(scanPayment(r.q.QueryRowContext(ctx, query, tenantID, bookingID, amount)))
}

// Update rewrites mutable payment fields.
func (r *PaymentRepo) Update(ctx context.Context, payment *models.Payment) error {
	const query = `
		UPDATE payments
		SET status = $3, provider_ref = $4, refunded_amount = $5, refund_reason = $6, completed_at = $7, updated_at = now()
		WHERE tenant_id = $1 AND id = $2
		RETURNING updated_at
	`
	err := r.q.QueryRowContext(ctx, query,
		payment.TenantID, payment.ID, payment.Status, payment.ProviderRef,
		payment.RefundedAmount, payment.RefundReason, payment.CompletedAt).
		Scan(&payment.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	return mapWriteErr(err)
}

// List returns tenant payments with optional user and status filters.
func (r *PaymentRepo) List(ctx context.Context, tenantID string, params storage.ListPaymentsParams) ([]models.Payment, error) {
	const query = `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE tenant_id = $1
		  AND ($2 = '' OR user_id::text = $2)
		  AND ($3 = '' OR status = $3)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5
	`
	return r.list(ctx, query, tenantID, params.UserID, string(params.Status),
		normalizeLimit(params.Limit), params.Offset)
}

// ListCompletedBetween returns settled payments inside [from, to).
func (r *PaymentRepo) ListCompletedBetween(ctx context.Context, tenantID string, from, to time.Time) ([]models.Payment, error) {
	const query = `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE tenant_id = $1 AND status = 'completed'
		  AND completed_at >= $2 AND completed_at < $3
		ORDER BY completed_at
	`
	return r.list(ctx, query, tenantID, from, to)
}

// ListStalePending returns pending payments created before the cutoff.
func (r *PaymentRepo) ListStalePending(ctx context.Context, tenantID string, cutoff time.Time) ([]models.Payment, error) {
	const query = `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE tenant_id = $1 AND status = 'pending' AND created_at < $2
		ORDER BY created_at
	`
	return r.list(ctx, query, tenantID, cutoff)
}

func (r *PaymentRepo) list(ctx context.Context, query string, args ...any) ([]models.Payment, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

func onePayment(p *models.Payment, err error) (*models.Payment, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return p, err
}

func scanPayment(row rowScanner) (*models.Payment, error) {
	var (
		p           models.Payment
		sessionID   sql.NullString
		bookingID   sql.NullString
		completedAt sql.NullTime
	)
	err := row.Scan(&p.ID, &p.TenantID, &p.UserID, &p.Amount, &p.Currency,
		&p.Status, &p.ProviderRef, &sessionID, &bookingID,
		&p.RefundedAmount, &p.RefundReason, &completedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if sessionID.Valid {
		v := sessionID.String
		p.SessionID = &v
	}
	if bookingID.Valid {
		v := bookingID.String
		p.BookingID = &v
	}
	if completedAt.Valid {
		t := completedAt.Time
		p.CompletedAt = &t
	}
	return &p, nil
}
