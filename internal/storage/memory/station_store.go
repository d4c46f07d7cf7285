package memory

import (
	"context"
	"sort"

	"chargenet/internal/models"
	"chargenet/internal/storage"
)

type stationStore struct {
	s *Store
}

func (st *stationStore) Create(ctx context.Context, station *models.Station) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()

	if _, ok := st.s.stations[station.ID]; ok {
		return storage.ErrDuplicate
	}

	touch(&station.CreatedAt, &station.UpdatedAt)
	st.s.stations[station.ID] = *station
	return nil
}

func (st *stationStore) GetByID(ctx context.Context, tenantID, id string) (*models.Station, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()

	station, ok := st.s.stations[id]
	if !ok || station.TenantID != tenantID {
		return nil, storage.ErrNotFound
	}
	return &station, nil
}

func (st *stationStore) List(ctx context.Context, tenantID string) ([]models.Station, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()

	var stations []models.Station
	for _, station := range st.s.stations {
		if station.TenantID == tenantID {
			stations = append(stations, station)
		}
	}
	sort.Slice(stations, func(i, j int) bool {
		return stations[i].CreatedAt.Before(stations[j].CreatedAt)
	})
	return stations, nil
}

func (st *stationStore) Update(ctx context.Context, station *models.Station) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()

	existing, ok := st.s.stations[station.ID]
	if !ok || existing.TenantID != station.TenantID {
		return storage.ErrNotFound
	}
	station.CreatedAt = existing.CreatedAt
	touch(nil, &station.UpdatedAt)
	st.s.stations[station.ID] = *station
	return nil
}

func (st *stationStore) Delete(ctx context.Context, tenantID, id string) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()

	station, ok := st.s.stations[id]
	if !ok || station.TenantID != tenantID {
		return storage.ErrNotFound
	}
	delete(st.s.stations, id)
	for portID, port := range st.s.ports {
		if port.StationID == id {
			delete(st.s.ports, portID)
		}
	}
	return nil
}
