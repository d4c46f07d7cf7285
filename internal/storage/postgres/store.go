// Package postgres implements the storage contracts on top of postgres via
// database/sql and the pgx stdlib driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"chargenet/internal/storage"
)

// querier is the subset of *sql.DB and *sql.Tx the repositories need.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the postgres-backed storage root.
type Store struct {
	db *sql.DB

	tenants       *TenantRepo
	users         *UserRepo
	stations      *StationRepo
	ports         *PortRepo
	sessions      *SessionRepo
	bookings      *BookingRepo
	payments      *PaymentRepo
	subscriptions *SubscriptionRepo
}

// NewStore builds the storage root over a connection pool.
func NewStore(db *sql.DB) *Store {
	return newStore(db, db)
}

func newStore(db *sql.DB, q querier) *Store {
	return &Store{
		db:            db,
		tenants:       NewTenantRepo(q),
		users:         NewUserRepo(q),
		stations:      NewStationRepo(q),
		ports:         NewPortRepo(q),
		sessions:      NewSessionRepo(q),
		bookings:      NewBookingRepo(q),
		payments:      NewPaymentRepo(q),
		subscriptions: NewSubscriptionRepo(q),
	}
}

// Tenants returns the tenant store.
func (s *Store) Tenants() storage.TenantStore { return s.tenants }

// Users returns the user store.
func (s *Store) Users() storage.UserStore { return s.users }

// Stations returns the station store.
func (s *Store) Stations() storage.StationStore { return s.stations }

// Ports returns the port store.
func (s *Store) Ports() storage.PortStore { return s.ports }

// Sessions returns the session store.
func (s *Store) Sessions() storage.SessionStore { return s.sessions }

// Bookings returns the booking store.
func (s *Store) Bookings() storage.BookingStore { return s.bookings }

// Payments returns the payment store.
func (s *Store) Payments() storage.PaymentStore { return s.payments }

// Subscriptions returns the subscription store.
func (s *Store) Subscriptions() storage.SubscriptionStore { return s.subscriptions }

// InTx runs fn inside a transaction. Nested calls reuse the open one.
func (s *Store) InTx(ctx context.Context, fn func(storage.Store) error) error {
	if s.db == nil {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}

	if err := fn(newStore(nil, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

const uniqueViolation = "23505"

// mapWriteErr converts driver-level constraint failures to storage errors.
func mapWriteErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return storage.ErrDuplicate
	}
	return err
}
