package models

import (
	"time"

	"github.com/shopspring/decimal"

	"chargenet/internal/errs"
)

// BookingStatus is the lifecycle state of a reservation.
type BookingStatus string

const (
	BookingReserved  BookingStatus = "reserved"
	BookingFulfilled BookingStatus = "fulfilled"
	BookingCancelled BookingStatus = "cancelled"
	BookingExpired   BookingStatus = "expired"
)

// Booking reserves a port for a time window ahead of a session.
type Booking struct {
	ID          string          `db:"id" json:"id"`
	StationID   string          `db:"station_id" json:"station_id"`
	PortID      string          `db:"port_id" json:"port_id"`
	TenantID    string          `db:"tenant_id" json:"tenant_id"`
	UserID      string          `db:"user_id" json:"user_id"`
	WindowStart time.Time       `db:"window_start" json:"window_start"`
	WindowEnd   time.Time       `db:"window_end" json:"window_end"`
	TotalCost   decimal.Decimal `db:"total_cost" json:"total_cost"`
	Status      BookingStatus   `db:"status" json:"status"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// Expired reports whether the reservation window has passed.
func (b *Booking) Expired(now time.Time) bool {
	return now.After(b.WindowEnd)
}

// ValidateWindow checks the reservation window bounds.
func ValidateWindow(start, end time.Time, now time.Time) error {
	if start.IsZero() || end.IsZero() {
		return errs.Validation("reservation window is required")
	}
	if !end.After(start) {
		return errs.Validation("reservation window end must be after start")
	}
	if end.Before(now) {
		return errs.Validation("reservation window is in the past")
	}
	return nil
}
