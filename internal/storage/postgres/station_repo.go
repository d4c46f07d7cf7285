package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"chargenet/internal/models"
	"chargenet/internal/storage"
)

const stationColumns = `id, tenant_id, name, latitude, longitude, base_rate, peak_multiplier, peak_hours, currency, created_at, updated_at`

// StationRepo handles CRUD for the stations table.
type StationRepo struct {
	q querier
}

// NewStationRepo returns repository instance.
func NewStationRepo(q querier) *StationRepo {
	return &StationRepo{q: q}
}

// Create inserts a new station.
func (r *StationRepo) Create(ctx context.Context, station *models.Station) error {
	const query = `
		INSERT INTO stations (id, tenant_id, name, latitude, longitude, base_rate, peak_multiplier, peak_hours, currency)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`
	err := r.q.QueryRowContext(ctx, query,
		station.ID, station.TenantID, station.Name,
		station.Latitude, station.Longitude,
		station.Pricing.BaseRate, station.Pricing.PeakMultiplier,
		encodePeakHours(station.Pricing.PeakHours), station.Pricing.Currency).
		Scan(&station.CreatedAt, &station.UpdatedAt)
	return mapWriteErr(err)
}

// GetByID fetches a station within the tenant.
func (r *StationRepo) GetByID(ctx context.Context, tenantID, id string) (*models.Station, error) {
	const query = `
		SELECT ` + stationColumns + `
		FROM stations
		WHERE tenant_id = $1 AND id = $2
	`
	st, err := scanStation(r.q.QueryRowContext(ctx, query, tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return st, err
}

// List returns all stations of the tenant.
func (r *StationRepo) List(ctx context.Context, tenantID string) ([]models.Station, error) {
	const query = `
		SELECT ` + stationColumns + `
		FROM stations
		WHERE tenant_id = $1
		ORDER BY created_at
	`
	rows, err := r.q.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stations []models.Station
	for rows.Next() {
		st, err := scanStation(rows)
		if err != nil {
			return nil, err
		}
		stations = append(stations, *st)
	}
	return stations, rows.Err()
}

// Update rewrites station fields within the tenant.
func (r *StationRepo) Update(ctx context.Context, station *models.Station) error {
	const query = `
		UPDATE stations
		SET name = $3, latitude = $4, longitude = $5,
		    base_rate = $6, peak_multiplier = $7, peak_hours = $8, currency = $9,
		    updated_at = now()
		WHERE tenant_id = $1 AND id = $2
		RETURNING updated_at
	`
	err := r.q.QueryRowContext(ctx, query,
		station.TenantID, station.ID, station.Name,
		station.Latitude, station.Longitude,
		station.Pricing.BaseRate, station.Pricing.PeakMultiplier,
		encodePeakHours(station.Pricing.PeakHours), station.Pricing.Currency).
		Scan(&station.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	return err
}

// Delete removes a station within the tenant.
func (r *StationRepo) Delete(ctx context.Context, tenantID, id string) error {
	const query = `DELETE FROM stations WHERE tenant_id = $1 AND id = $2`
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

func scanStation(row rowScanner) (*models.Station, error) {
	var (
		st        models.Station
		peakHours string
	)
	err := row.Scan(&st.ID, &st.TenantID, &st.Name, &st.Latitude, &st.Longitude,
		&st.Pricing.BaseRate, &st.Pricing.PeakMultiplier, &peakHours, &st.Pricing.Currency,
		&st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		return nil, err
	}
	st.Pricing.PeakHours, err = decodePeakHours(peakHours)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func encodePeakHours(hours []int) string {
	if len(hours) == 0 {
		return ""
	}
	parts := make([]string, len(hours))
	for i, h := range hours {
		parts[i] = strconv.Itoa(h)
	}
	return strings.Join(parts, ",")
}

func decodePeakHours(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	hours := make([]int, 0, len(parts))
	for _, part := range parts {
		h, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("postgres: bad peak hours %q: %w", s, err)
		}
		hours = append(hours, h)
	}
	return hours, nil
}
