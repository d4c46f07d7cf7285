package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"chargenet/internal/models"
	"chargenet/internal/storage"
)

const portColumns = `id, station_id, tenant_id, connector, rated_kw, status, fault_count, last_fault_at, created_at, updated_at`

// PortRepo handles CRUD for the charging_ports table.
type PortRepo struct {
	q querier
}

// NewPortRepo returns repository instance.
func NewPortRepo(q querier) *PortRepo {
	return &PortRepo{q: q}
}

// Create inserts a new port.
func (r *PortRepo) Create(ctx context.Context, port *models.ChargingPort) error {
	const query = `
		INSERT INTO charging_ports (id, station_id, tenant_id, connector, rated_kw, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`
	err := r.q.QueryRowContext(ctx, query,
		port.ID, port.StationID, port.TenantID, port.Connector, port.RatedKW, port.Status).
		Scan(&port.CreatedAt, &port.UpdatedAt)
	return mapWriteErr(err)
}

// GetByID fetches a port within the tenant.
func (r *PortRepo) GetByID(ctx context.Context, tenantID, id string) (*models.ChargingPort, error) {
	const query = `
		SELECT ` + portColumns + `
		FROM charging_ports
		WHERE tenant_id = $1 AND id = $2
	`
	p, err := scanPort(r.q.QueryRowContext(ctx, query, tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return p, err
}

// ListByStation returns ports of one station.
func (r *PortRepo) ListByStation(ctx context.Context, tenantID, stationID string) ([]models.ChargingPort, error) {
	const query = `
		SELECT ` + portColumns + `
		FROM charging_ports
		WHERE tenant_id = $1 AND station_id = $2
		ORDER BY created_at
	`
	return r.list(ctx, query, tenantID, stationID)
}

// ListByTenant returns every port of the tenant.
func (r *PortRepo) ListByTenant(ctx context.Context, tenantID string) ([]models.ChargingPort, error) {
	const query = `
		SELECT ` + portColumns + `
		FROM charging_ports
		WHERE tenant_id = $1
		ORDER BY created_at
	`
	return r.list(ctx, query, tenantID)
}

// SetStatus writes the port status unconditionally.
func (r *PortRepo) SetStatus(ctx context.Context, tenantID, id string, status models.PortStatus) error {
	const query = `
		UPDATE charging_ports
		SET status = $3, updated_at = now()
		WHERE tenant_id = $1 AND id = $2
	`
	res, err := r.q.ExecContext(ctx, query, tenantID, id, status)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// TransitionStatus flips the status only when the current one matches the
// guard. The WHERE clause makes concurrent claims lose cleanly.
func (r *PortRepo) TransitionStatus(ctx context.Context, tenantID, id string, to models.PortStatus, from ...models.PortStatus) (bool, error) {
	const query = `
		UPDATE charging_ports
		SET status = $3, updated_at = now()
		WHERE tenant_id = $1 AND id = $2 AND status = ANY($4)
	`
	guard := make([]string, len(from))
	for i, st := range from {
		guard[i] = string(st)
	}
	res, err := r.q.ExecContext(ctx, query, tenantID, id, to, guard)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// RecordFault moves the port out of order and bumps its fault counters.
func (r *PortRepo) RecordFault(ctx context.Context, tenantID, id string, at time.Time) error {
	const query = `
		UPDATE charging_ports
		SET status = $3, fault_count = fault_count + 1, last_fault_at = $4, updated_at = now()
		WHERE tenant_id = $1 AND id = $2
	`
	res, err := r.q.ExecContext(ctx, query, tenantID, id, models.PortOutOfOrder, at)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Delete removes a port within the tenant.
func (r *PortRepo) Delete(ctx context.Context, tenantID, id string) error {
	const query = `DELETE FROM charging_ports WHERE tenant_id = $1 AND id = $2`
	res, err := r.q.ExecContext(ctx, query, tenantID, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (r *PortRepo) list(ctx context.Context, query string, args ...any) ([]models.ChargingPort, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ports []models.ChargingPort
	for rows.Next() {
		p, err := scanPort(rows)
		if err != nil {
			return nil, err
		}
		ports = append(ports, *p)
	}
	return ports, rows.Err()
}

func scanPort(row rowScanner) (*models.ChargingPort, error) {
	var (
		p           models.ChargingPort
		lastFaultAt sql.NullTime
	)
	err := row.Scan(&p.ID, &p.StationID, &p.TenantID, &p.Connector, &p.RatedKW,
		&p.Status, &p.FaultCount, &lastFaultAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastFaultAt.Valid {
		t := lastFaultAt.Time
		p.LastFaultAt = &t
	}
	return &p, nil
}
