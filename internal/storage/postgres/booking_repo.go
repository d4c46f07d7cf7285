package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"chargenet/internal/models"
	"chargenet/internal/storage"
)

const bookingColumns = `id, station_id, port_id, tenant_id, user_id, window_start, window_end, total_cost, status, created_at, updated_at`

// BookingRepo handles CRUD for the bookings table.
type BookingRepo struct {
	q querier
}

// NewBookingRepo returns repository instance.
func NewBookingRepo(q querier) *BookingRepo {
	return &BookingRepo{q: q}
}

// Create inserts a new booking.
func (r *BookingRepo) Create(ctx context.Context, booking *models.Booking) error {
	const query = `
		INSERT INTO bookings (id, station_id, port_id, tenant_id, user_id, window_start, window_end, total_cost, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`
	err := r.q.QueryRowContext(ctx, query,
		booking.ID, booking.StationID, booking.PortID, booking.TenantID, booking.UserID,
		booking.WindowStart, booking.WindowEnd, booking.TotalCost, booking.Status).
		Scan(&booking.CreatedAt, &booking.UpdatedAt)
	return mapWriteErr(err)
}

// GetByID fetches a booking within the tenant.
func (r *BookingRepo) GetByID(ctx context.Context, tenantID, id string) (*models.Booking, error) {
	const query = `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE tenant_id = $1 AND id = $2
	`
	return oneBooking(scanBooking(r.q.QueryRowContext(ctx, query, tenantID, id)))
}

// GetHeldByPort returns the reservation currently holding the port.
func (r *BookingRepo) GetHeldByPort(ctx context.Context, tenantID, portID string) (*models.Booking, error) {
	const query = `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE tenant_id = $1 AND port_id = $2 AND status = 'reserved'
		ORDER BY window_start
		LIMIT 1
	`
	return oneBooking(scanBooking(r.q.QueryRowContext(ctx, query, tenantID, portID)))
}

// Update rewrites mutable booking fields.
func (r *BookingRepo) Update(ctx context.Context, booking *models.Booking) error {
	const query = `
		UPDATE bookings
		SET window_start = $3, window_end = $4, total_cost = $5, status = $6, updated_at = now()
		WHERE tenant_id = $1 AND id = $2
		RETURNING updated_at
	`
	err := r.q.QueryRowContext(ctx, query,
		booking.TenantID, booking.ID, booking.WindowStart, booking.WindowEnd,
		booking.TotalCost, booking.Status).
		Scan(&booking.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	return err
}

// ListByUser returns bookings of one user, newest first.
func (r *BookingRepo) ListByUser(ctx context.Context, tenantID, userID string, limit, offset int) ([]models.Booking, error) {
	const query = `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE tenant_id = $1 AND user_id = $2
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.q.QueryContext(ctx, query, tenantID, userID, normalizeLimit(limit), offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, *b)
	}
	return bookings, rows.Err()
}

// HasOverlap reports whether an open reservation intersects the window.
func (r *BookingRepo) HasOverlap(ctx context.Context, tenantID, portID string, start, end time.Time) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1
			FROM bookings
			WHERE tenant_id = $1 AND port_id = $2 AND status = 'reserved'
			  AND window_start < $4 AND window_end > $3
		)
	`
	var exists bool
	err := r.q.QueryRowContext(ctx, query, tenantID, portID, start, end).Scan(&exists)
	return exists, err
}

func oneBooking(b *models.Booking, err error) (*models.Booking, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return b, err
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var b models.Booking
	err := row.Scan(&b.ID, &b.StationID, &b.PortID, &b.TenantID, &b.UserID,
		&b.WindowStart, &b.WindowEnd, &b.TotalCost, &b.Status, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}
