// Package memory implements the storage contracts with in-process maps. It
// backs unit tests and mirrors the constraint behavior of the postgres
// implementation, including the partial uniqueness rules.
package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"chargenet/internal/models"
	"chargenet/internal/storage"
)

// Store is the map-backed storage root.
type Store struct {
	mu   sync.RWMutex
	txMu sync.Mutex

	tenants       map[string]models.Tenant
	users         map[string]models.User
	stations      map[string]models.Station
	ports         map[string]models.ChargingPort
	sessions      map[string]models.ChargingSession
	bookings      map[string]models.Booking
	payments      map[string]models.Payment
	subscriptions map[string]models.Subscription
}

// NewStore builds an empty in-memory store.
func NewStore() *Store {
	return &Store{
		tenants:       make(map[string]models.Tenant),
		users:         make(map[string]models.User),
		stations:      make(map[string]models.Station),
		ports:         make(map[string]models.ChargingPort),
		sessions:      make(map[string]models.ChargingSession),
		bookings:      make(map[string]models.Booking),
		payments:      make(map[string]models.Payment),
		subscriptions: make(map[string]models.Subscription),
	}
}

// Tenants returns the tenant store.
func (s *Store) Tenants() storage.TenantStore { return &tenantStore{s} }

// Users returns the user store.
func (s *Store) Users() storage.UserStore { return &userStore{s} }

// Stations returns the station store.
func (s *Store) Stations() storage.StationStore { return &stationStore{s} }

// Ports returns the port store.
func (s *Store) Ports() storage.PortStore { return &portStore{s} }

// Sessions returns the session store.
func (s *Store) Sessions() storage.SessionStore { return &sessionStore{s} }

// Bookings returns the booking store.
func (s *Store) Bookings() storage.BookingStore { return &bookingStore{s} }

// Payments returns the payment store.
func (s *Store) Payments() storage.PaymentStore { return &paymentStore{s} }

// Subscriptions returns the subscription store.
func (s *Store) Subscriptions() storage.SubscriptionStore { return &subscriptionStore{s} }

// InTx serializes against other transactions and rolls the maps back when fn
// fails. Nested calls join the surrounding transaction.
func (s *Store) InTx(ctx context.Context, fn func(storage.Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(txView{s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// txView disables nested transaction bookkeeping.
type txView struct {
	*Store
}

func (v txView) InTx(ctx context.Context, fn func(storage.Store) error) error {
	return fn(v)
}

type stateSnapshot struct {
	tenants       map[string]models.Tenant
	users         map[string]models.User
	stations      map[string]models.Station
	ports         map[string]models.ChargingPort
	sessions      map[string]models.ChargingSession
	bookings      map[string]models.Booking
	payments      map[string]models.Payment
	subscriptions map[string]models.Subscription
}

func (s *Store) snapshot() stateSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return stateSnapshot{
		tenants:       maps.Clone(s.tenants),
		users:         maps.Clone(s.users),
		stations:      maps.Clone(s.stations),
		ports:         maps.Clone(s.ports),
		sessions:      maps.Clone(s.sessions),
		bookings:      maps.Clone(s.bookings),
		payments:      maps.Clone(s.payments),
		subscriptions: maps.Clone(s.subscriptions),
	}
}

func (s *Store) restore(snap stateSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants = snap.tenants
	s.users = snap.users
	s.stations = snap.stations
	s.ports = snap.ports
	s.sessions = snap.sessions
	s.bookings = snap.bookings
	s.payments = snap.payments
	s.subscriptions = snap.subscriptions
}

func touch(createdAt *time.Time, updatedAt *time.Time) {
	now := time.Now().UTC()
	if createdAt != nil && createdAt.IsZero() {
		*createdAt = now
	}
	if updatedAt != nil {
		*updatedAt = now
	}
}
