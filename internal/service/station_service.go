package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chargenet/internal/errs"
	"chargenet/internal/events"
	"chargenet/internal/geo"
	"chargenet/internal/models"
	"chargenet/internal/storage"
)

// StationService manages stations and their ports.
type StationService struct {
	store  storage.Store
	live   LiveState
	hub    *events.Hub
	logger *zap.Logger
	now    func() time.Time
}

// NewStationService builds StationService.
func NewStationService(store storage.Store, live LiveState, hub *events.Hub, logger *zap.Logger) *StationService {
	return &StationService{
		store:  store,
		live:   live,
		hub:    hub,
		logger: logger,
		now:    time.Now,
	}
}

// CreateStationParams describes a new charging station.
type CreateStationParams struct {
	Name      string
	Latitude  float64
	Longitude float64
	Pricing   models.PricingPolicy
}

// Create registers a new station for the actor's tenant.
func (s *StationService) Create(ctx context.Context, actor Actor, params CreateStationParams) (*models.Station, error) {
	if err := requireRole(actor, models.RoleTenantAdmin); err != nil {
		return nil, err
	}
	station := &models.Station{
		ID:        uuid.NewString(),
		TenantID:  actor.TenantID,
		Name:      strings.TrimSpace(params.Name),
		Latitude:  params.Latitude,
		Longitude: params.Longitude,
		Pricing:   params.Pricing,
	}
	if err := station.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.Stations().Create(ctx, station); err != nil {
		return nil, fmt.Errorf("create station: %w", err)
	}
	s.publishStation(station)
	return station, nil
}

// List returns every station in the actor's tenant.
func (s *StationService) List(ctx context.Context, actor Actor) ([]models.Station, error) {
	stations, err := s.store.Stations().List(ctx, actor.TenantID)
	if err != nil {
		return nil, fmt.Errorf("list stations: %w", err)
	}
	return stations, nil
}

// StationDetail is a station together with its ports.
type StationDetail struct {
	Station models.Station        `json:"station"`
	Ports   []models.ChargingPort `json:"ports"`
}

// Get returns one station with its ports.
func (s *StationService) Get(ctx context.Context, actor Actor, stationID string) (*StationDetail, error) {
	station, err := s.store.Stations().GetByID(ctx, actor.TenantID, stationID)
	if err != nil {
		return nil, stationErr(err, stationID)
	}
	ports, err := s.store.Ports().ListByStation(ctx, actor.TenantID, stationID)
	if err != nil {
		return nil, fmt.Errorf("list station ports: %w", err)
	}
	return &StationDetail{Station: *station, Ports: ports}, nil
}

// UpdateStationParams carries a partial station update. Nil fields keep their
// current value.
type UpdateStationParams struct {
	Name      *string
	Latitude  *float64
	Longitude *float64
	Pricing   *models.PricingPolicy
}

// Update applies a partial update to a station.
func (s *StationService) Update(ctx context.Context, actor Actor, stationID string, params UpdateStationParams) (*models.Station, error) {
	if err := requireRole(actor, models.RoleTenantAdmin); err != nil {
		return nil, err
	}
	station, err := s.store.Stations().GetByID(ctx, actor.TenantID, stationID)
	if err != nil {
		return nil, stationErr(err, stationID)
	}
	if params.Name != nil {
		station.Name = strings.TrimSpace(*params.Name)
	}
	if params.Latitude != nil {
		station.Latitude = *params.Latitude
	}
	if params.Longitude != nil {
		station.Longitude = *params.Longitude
	}
	if params.Pricing != nil {
		station.Pricing = *params.Pricing
	}
	if err := station.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.Stations().Update(ctx, station); err != nil {
		return nil, stationErr(err, stationID)
	}
	s.publishStation(station)
	return station, nil
}

// Delete removes a station and its ports. Stations with a held or occupied
// port cannot be deleted.
func (s *StationService) Delete(ctx context.Context, actor Actor, stationID string) error {
	if err := requireRole(actor, models.RoleTenantAdmin); err != nil {
		return err
	}
	if _, err := s.store.Stations().GetByID(ctx, actor.TenantID, stationID); err != nil {
		return stationErr(err, stationID)
	}
	ports, err := s.store.Ports().ListByStation(ctx, actor.TenantID, stationID)
	if err != nil {
		return fmt.Errorf("list station ports: %w", err)
	}
	for _, port := range ports {
		if port.Status == models.PortOccupied || port.Status == models.PortReserved {
			return errs.Conflict("station has ports in use").WithDetail("port_id", port.ID)
		}
	}
	if err := s.store.Stations().Delete(ctx, actor.TenantID, stationID); err != nil {
		return stationErr(err, stationID)
	}
	cleanup := context.WithoutCancel(ctx)
	for _, port := range ports {
		if err := s.live.RemovePort(cleanup, actor.TenantID, port.ID); err != nil {
			s.logger.Warn("live port cleanup failed", zap.String("port_id", port.ID), zap.Error(err))
		}
	}
	s.hub.Publish(events.Event{
		Type:     events.TypeStationUpdated,
		TenantID: actor.TenantID,
		Entity:   events.EntityStation,
		EntityID: stationID,
		Payload:  map[string]string{"deleted": stationID},
		At:       s.now().UTC(),
	})
	return nil
}

// AddPortParams describes a new charging port.
type AddPortParams struct {
	Connector models.ConnectorType
	RatedKW   float64
}

// AddPort attaches a new port to a station. Ports start out available.
func (s *StationService) AddPort(ctx context.Context, actor Actor, stationID string, params AddPortParams) (*models.ChargingPort, error) {
	if err := requireRole(actor, models.RoleTenantAdmin); err != nil {
		return nil, err
	}
	if _, err := s.store.Stations().GetByID(ctx, actor.TenantID, stationID); err != nil {
		return nil, stationErr(err, stationID)
	}
	port := &models.ChargingPort{
		ID:        uuid.NewString(),
		StationID: stationID,
		TenantID:  actor.TenantID,
		Connector: params.Connector,
		RatedKW:   params.RatedKW,
		Status:    models.PortAvailable,
	}
	if err := port.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.Ports().Create(ctx, port); err != nil {
		return nil, fmt.Errorf("create port: %w", err)
	}
	s.portChanged(ctx, port)
	return port, nil
}

// adminPortTargets are the statuses reachable through UpdatePortStatus.
// Reserved and occupied belong to the booking and session lifecycles.
var adminPortTargets = map[models.PortStatus]bool{
	models.PortAvailable:   true,
	models.PortMaintenance: true,
	models.PortOutOfOrder:  true,
}

// UpdatePortStatus moves a port between available, maintenance and
// out_of_order. Ports currently held by a reservation or a live session are
// refused; faults on busy ports go through ReportFault instead.
func (s *StationService) UpdatePortStatus(ctx context.Context, actor Actor, portID string, to models.PortStatus) (*models.ChargingPort, error) {
	if err := requireRole(actor, models.RoleOperator); err != nil {
		return nil, err
	}
	if !to.Valid() {
		return nil, errs.Validationf("unknown port status %q", to)
	}
	if !adminPortTargets[to] {
		return nil, errs.Validationf("status %q is managed by the session lifecycle", to)
	}
	port, err := s.store.Ports().GetByID(ctx, actor.TenantID, portID)
	if err != nil {
		return nil, portErr(err, portID)
	}
	if !port.Status.CanTransition(to) {
		return nil, errs.Conflictf("port cannot move from %s to %s", port.Status, to)
	}
	live, err := s.store.Sessions().GetLiveByPort(ctx, actor.TenantID, portID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("check port session: %w", err)
	}
	if live != nil {
		return nil, errs.Conflict("port has a live session").WithDetail("session_id", live.ID)
	}
	if port.Status == models.PortReserved {
		return nil, errs.Conflict("port is held by a reservation")
	}
	ok, err := s.store.Ports().TransitionStatus(ctx, actor.TenantID, portID, to, port.Status)
	if err != nil {
		return nil, fmt.Errorf("update port status: %w", err)
	}
	if !ok {
		return nil, errs.Conflict("port status changed concurrently")
	}
	port.Status = to
	port.UpdatedAt = s.now().UTC()
	s.portChanged(ctx, port)
	return port, nil
}

// FindNearby returns stations within radiusKm of origin, closest first.
func (s *StationService) FindNearby(ctx context.Context, actor Actor, origin geo.Point, radiusKm float64, filter geo.Filter) ([]geo.Result, error) {
	if err := origin.Validate(); err != nil {
		return nil, err
	}
	if radiusKm <= 0 {
		return nil, errs.Validation("radius must be positive")
	}
	if filter.Connector != "" && !filter.Connector.Valid() {
		return nil, errs.Validationf("unknown connector type %q", filter.Connector)
	}
	stations, err := s.store.Stations().List(ctx, actor.TenantID)
	if err != nil {
		return nil, fmt.Errorf("list stations: %w", err)
	}
	ports, err := s.store.Ports().ListByTenant(ctx, actor.TenantID)
	if err != nil {
		return nil, fmt.Errorf("list ports: %w", err)
	}
	byStation := make(map[string][]models.ChargingPort, len(stations))
	for _, port := range ports {
		byStation[port.StationID] = append(byStation[port.StationID], port)
	}
	candidates := make([]geo.StationPorts, 0, len(stations))
	for _, station := range stations {
		candidates = append(candidates, geo.StationPorts{
			Station: station,
			Ports:   byStation[station.ID],
		})
	}
	return geo.Nearby(candidates, origin, radiusKm, filter), nil
}

// RealtimeStats is a tenant-wide operational snapshot.
type RealtimeStats struct {
	PortCounts     map[string]int `json:"port_counts"`
	ActiveSessions int64          `json:"active_sessions"`
	EnergyTodayKWh float64        `json:"energy_today_kwh"`
	GeneratedAt    time.Time      `json:"generated_at"`
}

// Stats reads the tenant's live counters, falling back to the database when
// the live store is unreachable.
func (s *StationService) Stats(ctx context.Context, actor Actor) (*RealtimeStats, error) {
	if err := requireRole(actor, models.RoleOperator); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	stats := &RealtimeStats{GeneratedAt: now}

	counts, err := s.live.PortStatusCounts(ctx, actor.TenantID)
	if err != nil || len(counts) == 0 {
		if err != nil {
			s.logger.Warn("live port counts unavailable", zap.Error(err))
		}
		counts, err = s.portCountsFromStore(ctx, actor.TenantID)
		if err != nil {
			return nil, err
		}
	}
	stats.PortCounts = counts

	active, err := s.live.ActiveSessionCount(ctx, actor.TenantID)
	if err != nil {
		s.logger.Warn("live session count unavailable", zap.Error(err))
		n, err := s.store.Sessions().CountByStatus(ctx, actor.TenantID, models.SessionActive, models.SessionCompleting)
		if err != nil {
			return nil, fmt.Errorf("count live sessions: %w", err)
		}
		active = int64(n)
	}
	stats.ActiveSessions = active

	energy, err := s.live.EnergyToday(ctx, actor.TenantID, now)
	if err != nil {
		s.logger.Warn("live energy counter unavailable", zap.Error(err))
		energy, err = s.energyFromStore(ctx, actor.TenantID, now)
		if err != nil {
			return nil, err
		}
	}
	stats.EnergyTodayKWh = energy
	return stats, nil
}

func (s *StationService) portCountsFromStore(ctx context.Context, tenantID string) (map[string]int, error) {
	ports, err := s.store.Ports().ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list ports: %w", err)
	}
	counts := make(map[string]int, len(ports))
	for _, port := range ports {
		counts[string(port.Status)]++
	}
	return counts, nil
}

func (s *StationService) energyFromStore(ctx context.Context, tenantID string, now time.Time) (float64, error) {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	sessions, err := s.store.Sessions().ListSince(ctx, tenantID, midnight)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}
	var total float64
	for _, session := range sessions {
		total += session.EnergyKWh
	}
	return total, nil
}

// portChanged mirrors a port write into the live store and broadcasts it.
func (s *StationService) portChanged(ctx context.Context, port *models.ChargingPort) {
	notifyPortStatus(ctx, s.live, s.hub, s.logger, port, s.now().UTC())
}

func (s *StationService) publishStation(station *models.Station) {
	s.hub.Publish(events.Event{
		Type:     events.TypeStationUpdated,
		TenantID: station.TenantID,
		Entity:   events.EntityStation,
		EntityID: station.ID,
		Payload:  station,
		At:       s.now().UTC(),
	})
}

func stationErr(err error, id string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return errs.NotFound("station not found").WithDetail("station_id", id)
	}
	return fmt.Errorf("load station: %w", err)
}

func portErr(err error, id string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return errs.NotFound("port not found").WithDetail("port_id", id)
	}
	return fmt.Errorf("load port: %w", err)
}
