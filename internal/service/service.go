// Package service holds the business logic of the platform. Services take an
// Actor (the authenticated caller) and scope every storage call to the
// actor's tenant, so tenant isolation holds on every code path.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"chargenet/internal/errs"
	"chargenet/internal/events"
	"chargenet/internal/models"
)

// Actor is the authenticated caller identity.
type Actor struct {
	UserID   string
	TenantID string
	Role     models.Role
}

// requireRole gates an operation on a minimum role.
func requireRole(actor Actor, min models.Role) error {
	if !actor.Role.AtLeast(min) {
		return errs.Authorization("insufficient role")
	}
	return nil
}

// notifyPortStatus mirrors a port status into the live store and broadcasts
// the change. Failures are logged, never surfaced; state already committed.
func notifyPortStatus(ctx context.Context, live LiveState, hub *events.Hub, logger *zap.Logger, port *models.ChargingPort, at time.Time) {
	if err := live.SetPortStatus(context.WithoutCancel(ctx), port.TenantID, port.ID, string(port.Status)); err != nil {
		logger.Warn("live port status update failed", zap.String("port_id", port.ID), zap.Error(err))
	}
	hub.Publish(events.Event{
		Type:      events.TypePortStatusChanged,
		TenantID:  port.TenantID,
		Entity:    events.EntityPort,
		EntityID:  port.ID,
		StationID: port.StationID,
		Payload:   port,
		At:        at,
	})
}

// LiveState mirrors hot operational state for dashboards. Implementations
// are best-effort; services log failures and keep going.
type LiveState interface {
	SetPortStatus(ctx context.Context, tenantID, portID, status string) error
	RemovePort(ctx context.Context, tenantID, portID string) error
	PortStatusCounts(ctx context.Context, tenantID string) (map[string]int, error)
	AddActiveSession(ctx context.Context, tenantID, sessionID string) error
	RemoveActiveSession(ctx context.Context, tenantID, sessionID string) error
	ActiveSessionCount(ctx context.Context, tenantID string) (int64, error)
	AddEnergyToday(ctx context.Context, tenantID string, kwh float64, now time.Time) error
	EnergyToday(ctx context.Context, tenantID string, now time.Time) (float64, error)
}
