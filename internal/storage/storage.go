// Package storage defines the persistence contracts for the platform. Every
// read or write against tenant-owned data takes the tenant ID and is scoped
// to it at the query level, so cross-tenant access is unrepresentable for
// callers of these interfaces. The only unscoped lookups are the ones that
// run before a caller's tenant is known: login resolution and tenant
// registration.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"chargenet/internal/models"
)

var (
	// ErrNotFound marks missing rows within the caller's tenant scope.
	ErrNotFound = errors.New("storage: not found")
	// ErrDuplicate marks unique constraint violations.
	ErrDuplicate = errors.New("storage: duplicate")
)

// TenantStore manages tenant records. Platform scoped.
type TenantStore interface {
	Create(ctx context.Context, tenant *models.Tenant) error
	GetByID(ctx context.Context, id string) (*models.Tenant, error)
	GetByDomain(ctx context.Context, domain string) (*models.Tenant, error)
}

// UserStore manages user accounts.
type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, tenantID, id string) (*models.User, error)
	GetByEmail(ctx context.Context, tenantID, email string) (*models.User, error)
	// FindByEmail resolves login attempts across tenants, before the caller
	// has proven membership in any of them.
	FindByEmail(ctx context.Context, email string) ([]models.User, error)
	UpdatePassword(ctx context.Context, tenantID, id, passwordHash string) error
}

// StationStore manages charging stations.
type StationStore interface {
	Create(ctx context.Context, station *models.Station) error
	GetByID(ctx context.Context, tenantID, id string) (*models.Station, error)
	List(ctx context.Context, tenantID string) ([]models.Station, error)
	Update(ctx context.Context, station *models.Station) error
	Delete(ctx context.Context, tenantID, id string) error
}

// PortStore manages charging ports.
type PortStore interface {
	Create(ctx context.Context, port *models.ChargingPort) error
	GetByID(ctx context.Context, tenantID, id string) (*models.ChargingPort, error)
	ListByStation(ctx context.Context, tenantID, stationID string) ([]models.ChargingPort, error)
	ListByTenant(ctx context.Context, tenantID string) ([]models.ChargingPort, error)
	// SetStatus writes the status unconditionally.
	SetStatus(ctx context.Context, tenantID, id string, status models.PortStatus) error
	// TransitionStatus flips the status only when the current one is in from.
	// Returns false without error when the guard does not match.
	TransitionStatus(ctx context.Context, tenantID, id string, to models.PortStatus, from ...models.PortStatus) (bool, error)
	// RecordFault moves the port out of order and bumps its fault counters.
	RecordFault(ctx context.Context, tenantID, id string, at time.Time) error
	Delete(ctx context.Context, tenantID, id string) error
}

// SessionStore manages charging sessions.
type SessionStore interface {
	Create(ctx context.Context, session *models.ChargingSession) error
	GetByID(ctx context.Context, tenantID, id string) (*models.ChargingSession, error)
	// LockByID reads a session with a row lock. Must run inside InTx.
	LockByID(ctx context.Context, tenantID, id string) (*models.ChargingSession, error)
	// GetLiveByPort returns the session currently holding the port, if any.
	GetLiveByPort(ctx context.Context, tenantID, portID string) (*models.ChargingSession, error)
	Update(ctx context.Context, session *models.ChargingSession) error
	ListByUser(ctx context.Context, tenantID, userID string, limit, offset int) ([]models.ChargingSession, error)
	ListSince(ctx context.Context, tenantID string, since time.Time) ([]models.ChargingSession, error)
	CountByStatus(ctx context.Context, tenantID string, statuses ...models.SessionStatus) (int, error)
}

// BookingStore manages port reservations.
type BookingStore interface {
	Create(ctx context.Context, booking *models.Booking) error
	GetByID(ctx context.Context, tenantID, id string) (*models.Booking, error)
	// GetHeldByPort returns the reservation currently holding the port.
	GetHeldByPort(ctx context.Context, tenantID, portID string) (*models.Booking, error)
	Update(ctx context.Context, booking *models.Booking) error
	ListByUser(ctx context.Context, tenantID, userID string, limit, offset int) ([]models.Booking, error)
	// HasOverlap reports whether an open reservation intersects the window.
	HasOverlap(ctx context.Context, tenantID, portID string, start, end time.Time) (bool, error)
}

// ListPaymentsParams filters a payment listing.
type ListPaymentsParams struct {
	UserID string
	Status models.PaymentStatus
	Limit  int
	Offset int
}

// PaymentStore manages payments.
type PaymentStore interface {
	Create(ctx context.Context, payment *models.Payment) error
	GetByID(ctx context.Context, tenantID, id string) (*models.Payment, error)
	// GetByProviderRef resolves a payment from its provider reference.
	GetByProviderRef(ctx context.Context, tenantID, providerRef string) (*models.Payment, error)
	// LockByID reads a payment with a row lock. Must run inside InTx.
	LockByID(ctx context.Context, tenantID, id string) (*models.Payment, error)
	// FindPendingBySession returns the open intent for (session, amount).
	FindPendingBySession(ctx context.Context, tenantID, sessionID string, amount decimal.Decimal) (*models.Payment, error)
	// FindPendingByBooking returns the open intent for (booking, amount).
	FindPendingByBooking(ctx context.Context, tenantID, bookingID string, amount decimal.Decimal) (*models.Payment, error)
	Update(ctx context.Context, payment *models.Payment) error
	List(ctx context.Context, tenantID string, params ListPaymentsParams) ([]models.Payment, error)
	ListCompletedBetween(ctx context.Context, tenantID string, from, to time.Time) ([]models.Payment, error)
	// ListStalePending returns pending payments created before the cutoff.
	ListStalePending(ctx context.Context, tenantID string, cutoff time.Time) ([]models.Payment, error)
}

// SubscriptionStore manages tenant platform subscriptions.
type SubscriptionStore interface {
	Create(ctx context.Context, sub *models.Subscription) error
	GetActiveByTenant(ctx context.Context, tenantID string) (*models.Subscription, error)
	Update(ctx context.Context, sub *models.Subscription) error
	List(ctx context.Context, tenantID string) ([]models.Subscription, error)
}

// Store bundles the per-entity stores behind one handle.
type Store interface {
	Tenants() TenantStore
	Users() UserStore
	Stations() StationStore
	Ports() PortStore
	Sessions() SessionStore
	Bookings() BookingStore
	Payments() PaymentStore
	Subscriptions() SubscriptionStore

	// InTx runs fn against a transactional view of the store. The
	// transaction commits when fn returns nil and rolls back otherwise.
	// Nested calls join the surrounding transaction.
	InTx(ctx context.Context, fn func(Store) error) error
}
