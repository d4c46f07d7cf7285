package memory

import (
	"context"
	"sort"
	"time"

	"chargenet/internal/models"
	"chargenet/internal/storage"
)

type portStore struct {
	s *Store
}

func (p *portStore) Create(ctx context.Context, port *models.ChargingPort) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()

	if _, ok := p.s.ports[port.ID]; ok {
		return storage.ErrDuplicate
	}

	touch(&port.CreatedAt, &port.UpdatedAt)
	p.s.ports[port.ID] = *port
	return nil
}

func (p *portStore) GetByID(ctx context.Context, tenantID, id string) (*models.ChargingPort, error) {
	p.s.mu.RLock()
	defer p.s.mu.RUnlock()

	port, ok := p.s.ports[id]
	if !ok || port.TenantID != tenantID {
		return nil, storage.ErrNotFound
	}
	return &port, nil
}

func (p *portStore) ListByStation(ctx context.Context, tenantID, stationID string) ([]models.ChargingPort, error) {
	return p.listWhere(func(port models.ChargingPort) bool {
		return port.TenantID == tenantID && port.StationID == stationID
	})
}

func (p *portStore) ListByTenant(ctx context.Context, tenantID string) ([]models.ChargingPort, error) {
	return p.listWhere(func(port models.ChargingPort) bool {
		return port.TenantID == tenantID
	})
}

func (p *portStore) SetStatus(ctx context.Context, tenantID, id string, status models.PortStatus) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()

	port, ok := p.s.ports[id]
	if !ok || port.TenantID != tenantID {
		return storage.ErrNotFound
	}
	port.Status = status
	touch(nil, &port.UpdatedAt)
	p.s.ports[id] = port
	return nil
}

func (p *portStore) TransitionStatus(ctx context.Context, tenantID, id string, to models.PortStatus, from ...models.PortStatus) (bool, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()

	port, ok := p.s.ports[id]
	if !ok || port.TenantID != tenantID {
		return false, nil
	}
	matched := false
	for _, st := range from {
		if port.Status == st {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}
	port.Status = to
	touch(nil, &port.UpdatedAt)
	p.s.ports[id] = port
	return true, nil
}

func (p *portStore) RecordFault(ctx context.Context, tenantID, id string, at time.Time) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()

	port, ok := p.s.ports[id]
	if !ok || port.TenantID != tenantID {
		return storage.ErrNotFound
	}
	port.Status = models.PortOutOfOrder
	port.FaultCount++
	faultAt := at
	port.LastFaultAt = &faultAt
	touch(nil, &port.UpdatedAt)
	p.s.ports[id] = port
	return nil
}

func (p *portStore) Delete(ctx context.Context, tenantID, id string) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()

	port, ok := p.s.ports[id]
	if !ok || port.TenantID != tenantID {
		return storage.ErrNotFound
	}
	delete(p.s.ports, id)
	return nil
}

func (p *portStore) listWhere(match func(models.ChargingPort) bool) ([]models.ChargingPort, error) {
	p.s.mu.RLock()
	defer p.s.mu.RUnlock()

	var ports []models.ChargingPort
	for _, port := range p.s.ports {
		if match(port) {
			ports = append(ports, port)
		}
	}
	sort.Slice(ports, func(i, j int) bool {
		return ports[i].CreatedAt.Before(ports[j].CreatedAt)
	})
	return ports, nil
}
