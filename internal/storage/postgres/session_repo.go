package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"chargenet/internal/models"
	"chargenet/internal/storage"
)

const sessionColumns = `id, port_id, station_id, tenant_id, user_id, status, start_time, end_time, energy_kwh, target_kwh, cost, created_at, updated_at`

// SessionRepo handles CRUD for the charging_sessions table.
type SessionRepo struct {
	q querier
}

// NewSessionRepo returns repository instance.
func NewSessionRepo(q querier) *SessionRepo {
	return &SessionRepo{q: q}
}

// Create inserts a new session.
func (r *SessionRepo) Create(ctx context.Context, session *models.ChargingSession) error {
	const query = `
		INSERT INTO charging_sessions (id, port_id, station_id, tenant_id, user_id, status, start_time, energy_kwh, target_kwh, cost)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`
	err := r.q.QueryRowContext(ctx, query,
		session.ID, session.PortID, session.StationID, session.TenantID, session.UserID,
		session.Status, session.StartTime, session.EnergyKWh, session.TargetKWh, session.Cost).
		Scan(&session.CreatedAt, &session.UpdatedAt)
	return mapWriteErr(err)
}

// GetByID fetches a session within the tenant.
func (r *SessionRepo) GetByID(ctx context.Context, tenantID, id string) (*models.ChargingSession, error) {
	const query = `
		SELECT ` + sessionColumns + `
		FROM charging_sessions
		WHERE tenant_id = $1 AND id = $2
	`
	return oneSession(scanSession(r.q.QueryRowContext(ctx, query, tenantID, id)))
}

// LockByID reads a session with FOR UPDATE. Must run inside a transaction.
func (r *SessionRepo) LockByID(ctx context.Context, tenantID, id string) (*models.ChargingSession, error) {
	const query = `
		SELECT ` + sessionColumns + `
		FROM charging_sessions
		WHERE tenant_id = $1 AND id = $2
		FOR UPDATE
	`
	return oneSession(scanSession(r.q.QueryRowContext(ctx, query, tenantID, id)))
}

// GetLiveByPort returns the session currently holding the port, if any.
func (r *SessionRepo) GetLiveByPort(ctx context.Context, tenantID, portID string) (*models.ChargingSession, error) {
	const query = `
		SELECT ` + sessionColumns + `
		FROM charging_sessions
		WHERE tenant_id = $1 AND port_id = $2 AND status IN ('active', 'completing')
	`
	return oneSession(scanSession(r.q.QueryRowContext(ctx, query, tenantID, portID)))
}

// Update rewrites mutable session fields.
func (r *SessionRepo) Update(ctx context.Context, session *models.ChargingSession) error {
	const query = `
		UPDATE charging_sessions
		SET status = $3, end_time = $4, energy_kwh = $5, target_kwh = $6, cost = $7, updated_at = now()
		WHERE tenant_id = $1 AND id = $2
		RETURNING updated_at
	`
	err := r.q.QueryRowContext(ctx, query,
		session.TenantID, session.ID, session.Status, session.EndTime,
		session.EnergyKWh, session.TargetKWh, session.Cost).
		Scan(&session.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	return mapWriteErr(err)
}

// ListByUser returns sessions of one user, newest first.
func (r *SessionRepo) ListByUser(ctx context.Context, tenantID, userID string, limit, offset int) ([]models.ChargingSession, error) {
	const query = `
		SELECT ` + sessionColumns + `
		FROM charging_sessions
		WHERE tenant_id = $1 AND user_id = $2
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	return r.list(ctx, query, tenantID, userID, normalizeLimit(limit), offset)
}

// ListSince returns sessions started at or after the given time.
func (r *SessionRepo) ListSince(ctx context.Context, tenantID string, since time.Time) ([]models.ChargingSession, error) {
	const query = `
		SELECT ` + sessionColumns + `
		FROM charging_sessions
		WHERE tenant_id = $1 AND start_time >= $2
		ORDER BY start_time
	`
	return r.list(ctx, query, tenantID, since)
}

// CountByStatus counts tenant sessions in the given statuses.
func (r *SessionRepo) CountByStatus(ctx context.Context, tenantID string, statuses ...models.SessionStatus) (int, error) {
	const query = `
		SELECT count(*)
		FROM charging_sessions
		WHERE tenant_id = $1 AND status = ANY($2)
	`
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}
	var count int
	err := r.q.QueryRowContext(ctx, query, tenantID, names).Scan(&count)
	return count, err
}

func (r *SessionRepo) list(ctx context.Context, query string, args ...any) ([]models.ChargingSession, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []models.ChargingSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

func oneSession(s *models.ChargingSession, err error) (*models.ChargingSession, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return s, err
}

func scanSession(row rowScanner) (*models.ChargingSession, error) {
	var (
		s       models.ChargingSession
		endTime sql.NullTime
	)
	err := row.Scan(&s.ID, &s.PortID, &s.StationID, &s.TenantID, &s.UserID,
		&s.Status, &s.StartTime, &endTime, &s.EnergyKWh, &s.TargetKWh, &s.Cost,
		&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if endTime.Valid {
		t := endTime.Time
		s.EndTime = &t
	}
	return &s, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 200 {
		return 50
	}
	return limit
}
