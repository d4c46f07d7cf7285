package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"chargenet/internal/errs"
	"chargenet/internal/events"
	"chargenet/internal/models"
	"chargenet/internal/storage"
)

// SessionService drives the port and session state machines. All contended
// transitions go through conditional updates so concurrent callers resolve
// deterministically: exactly one wins, the rest observe the new state and
// get a conflict.
type SessionService struct {
	store  storage.Store
	live   LiveState
	hub    *events.Hub
	logger *zap.Logger
	now    func() time.Time
}

// NewSessionService builds SessionService.
func NewSessionService(store storage.Store, live LiveState, hub *events.Hub, logger *zap.Logger) *SessionService {
	return &SessionService{
		store:  store,
		live:   live,
		hub:    hub,
		logger: logger,
		now:    time.Now,
	}
}

// ReserveParams describes a reservation request.
type ReserveParams struct {
	PortID      string
	WindowStart time.Time
	WindowEnd   time.Time
}

// ReservePort books an available port for a time window. The port moves to
// reserved and stays there until the booking is fulfilled, cancelled or
// expires.
func (s *SessionService) ReservePort(ctx context.Context, actor Actor, params ReserveParams) (*models.Booking, error) {
	now := s.now().UTC()
	start := params.WindowStart.UTC()
	end := params.WindowEnd.UTC()
	if err := models.ValidateWindow(start, end, now); err != nil {
		return nil, err
	}

	port, err := s.store.Ports().GetByID(ctx, actor.TenantID, params.PortID)
	if err != nil {
		return nil, portErr(err, params.PortID)
	}
	if port.Status == models.PortReserved {
		if port, err = s.releaseStaleHold(ctx, actor.TenantID, port, now); err != nil {
			return nil, err
		}
	}
	if port.Status != models.PortAvailable {
		return nil, errs.Conflictf("port is %s", port.Status)
	}

	overlap, err := s.store.Bookings().HasOverlap(ctx, actor.TenantID, port.ID, start, end)
	if err != nil {
		return nil, fmt.Errorf("check booking overlap: %w", err)
	}
	if overlap {
		return nil, errs.Conflict("port is already booked for this window")
	}

	station, err := s.store.Stations().GetByID(ctx, actor.TenantID, port.StationID)
	if err != nil {
		return nil, stationErr(err, port.StationID)
	}

	booking := &models.Booking{
		ID:          uuid.NewString(),
		StationID:   port.StationID,
		PortID:      port.ID,
		TenantID:    actor.TenantID,
		UserID:      actor.UserID,
		WindowStart: start,
		WindowEnd:   end,
		TotalCost:   holdEstimate(station.Pricing, port.RatedKW, start, end),
		Status:      models.BookingReserved,
	}

	err = s.store.InTx(ctx, func(tx storage.Store) error {
		ok, err := tx.Ports().TransitionStatus(ctx, actor.TenantID, port.ID, models.PortReserved, models.PortAvailable)
		if err != nil {
			return fmt.Errorf("reserve port: %w", err)
		}
		if !ok {
			return errs.Conflict("port is no longer available")
		}
		return tx.Bookings().Create(ctx, booking)
	})
	if err != nil {
		return nil, err
	}

	port.Status = models.PortReserved
	notifyPortStatus(ctx, s.live, s.hub, s.logger, port, now)
	s.publishBooking(booking)
	return booking, nil
}

// holdEstimate prices a reservation at full rated power for the window. The
// settled amount replaces it when a payment is confirmed.
func holdEstimate(pricing models.PricingPolicy, ratedKW float64, start, end time.Time) decimal.Decimal {
	hours := end.Sub(start).Hours()
	maxEnergy := decimal.NewFromFloat(ratedKW * hours)
	return pricing.RateFor(start).Mul(maxEnergy).Round(4)
}

// releaseStaleHold frees a reserved port whose booking has lapsed. Returns
// the refreshed port.
func (s *SessionService) releaseStaleHold(ctx context.Context, tenantID string, port *models.ChargingPort, now time.Time) (*models.ChargingPort, error) {
	held, err := s.store.Bookings().GetHeldByPort(ctx, tenantID, port.ID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("load port hold: %w", err)
	}
	if held != nil && !held.Expired(now) {
		return port, nil
	}

	err = s.store.InTx(ctx, func(tx storage.Store) error {
		if held != nil {
			held.Status = models.BookingExpired
			if err := tx.Bookings().Update(ctx, held); err != nil {
				return fmt.Errorf("expire booking: %w", err)
			}
		}
		ok, err := tx.Ports().TransitionStatus(ctx, tenantID, port.ID, models.PortAvailable, models.PortReserved)
		if err != nil {
			return fmt.Errorf("release port: %w", err)
		}
		if !ok {
			return errs.Conflict("port status changed concurrently")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	port.Status = models.PortAvailable
	notifyPortStatus(ctx, s.live, s.hub, s.logger, port, now)
	if held != nil {
		s.publishBooking(held)
	}
	return port, nil
}

// CancelBooking voids a reservation and frees its port. Only reserved
// bookings can be cancelled.
func (s *SessionService) CancelBooking(ctx context.Context, actor Actor, bookingID string) (*models.Booking, error) {
	booking, err := s.store.Bookings().GetByID(ctx, actor.TenantID, bookingID)
	if err != nil {
		return nil, bookingErr(err, bookingID)
	}
	if booking.UserID != actor.UserID {
		if err := requireRole(actor, models.RoleOperator); err != nil {
			return nil, err
		}
	}
	if booking.Status != models.BookingReserved {
		return nil, errs.Conflictf("booking is %s", booking.Status)
	}

	now := s.now().UTC()
	portFreed := false
	err = s.store.InTx(ctx, func(tx storage.Store) error {
		booking.Status = models.BookingCancelled
		if err := tx.Bookings().Update(ctx, booking); err != nil {
			return fmt.Errorf("cancel booking: %w", err)
		}
		freed, err := tx.Ports().TransitionStatus(ctx, actor.TenantID, booking.PortID, models.PortAvailable, models.PortReserved)
		if err != nil {
			return fmt.Errorf("release port: %w", err)
		}
		portFreed = freed
		return nil
	})
	if err != nil {
		return nil, err
	}

	if portFreed {
		freed := &models.ChargingPort{ID: booking.PortID, StationID: booking.StationID, TenantID: actor.TenantID, Status: models.PortAvailable}
		notifyPortStatus(ctx, s.live, s.hub, s.logger, freed, now)
	}
	s.publishBooking(booking)
	return booking, nil
}

// ListBookings returns a user's reservations, newest window first. Listing
// another user requires operator role.
func (s *SessionService) ListBookings(ctx context.Context, actor Actor, userID string, limit, offset int) ([]models.Booking, error) {
	if userID == "" {
		userID = actor.UserID
	}
	if userID != actor.UserID {
		if err := requireRole(actor, models.RoleOperator); err != nil {
			return nil, err
		}
	}
	bookings, err := s.store.Bookings().ListByUser(ctx, actor.TenantID, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	return bookings, nil
}

// StartParams describes a session start request.
type StartParams struct {
	PortID    string
	TargetKWh float64
}

// StartSession claims a port and begins charging. The port must be available
// or reserved by the caller; the claim is a conditional update, so of two
// concurrent starts exactly one wins and the loser gets a conflict.
func (s *SessionService) StartSession(ctx context.Context, actor Actor, params StartParams) (*models.ChargingSession, error) {
	if params.TargetKWh < 0 {
		return nil, errs.Validation("target energy must not be negative")
	}

	port, err := s.store.Ports().GetByID(ctx, actor.TenantID, params.PortID)
	if err != nil {
		return nil, portErr(err, params.PortID)
	}

	now := s.now().UTC()
	var hold *models.Booking
	switch port.Status {
	case models.PortAvailable:
	case models.PortReserved:
		hold, err = s.store.Bookings().GetHeldByPort(ctx, actor.TenantID, port.ID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("load port hold: %w", err)
		}
		if hold != nil && hold.UserID != actor.UserID && !hold.Expired(now) {
			return nil, errs.Conflict("port is reserved by another user")
		}
	case models.PortOccupied:
		return nil, errs.Conflict("port is occupied")
	default:
		return nil, errs.Conflictf("port is %s", port.Status)
	}

	session := &models.ChargingSession{
		ID:        uuid.NewString(),
		PortID:    port.ID,
		StationID: port.StationID,
		TenantID:  actor.TenantID,
		UserID:    actor.UserID,
		Status:    models.SessionInitiated,
		StartTime: now,
		TargetKWh: params.TargetKWh,
		Cost:      decimal.Zero,
	}
	if err := s.store.Sessions().Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	// Claim and activation are one transaction, so a fault or a rival start
	// can land before or after, never in between.
	claimed := false
	err = s.store.InTx(ctx, func(tx storage.Store) error {
		ok, err := tx.Ports().TransitionStatus(ctx, actor.TenantID, port.ID, models.PortOccupied, port.Status)
		if err != nil {
			return fmt.Errorf("claim port: %w", err)
		}
		if !ok {
			return nil
		}
		if hold != nil {
			if hold.Expired(now) {
				hold.Status = models.BookingExpired
			} else {
				hold.Status = models.BookingFulfilled
			}
			if err := tx.Bookings().Update(ctx, hold); err != nil {
				return fmt.Errorf("settle booking: %w", err)
			}
		}
		session.Status = models.SessionActive
		if err := tx.Sessions().Update(ctx, session); err != nil {
			if errors.Is(err, storage.ErrDuplicate) {
				return errs.Conflict("port already has a live session")
			}
			return fmt.Errorf("activate session: %w", err)
		}
		claimed = true
		return nil
	})
	if err != nil {
		s.cancelInitiated(ctx, session)
		return nil, err
	}
	if !claimed {
		s.cancelInitiated(ctx, session)
		return nil, errs.Conflict("port is no longer available")
	}

	port.Status = models.PortOccupied
	cleanup := context.WithoutCancel(ctx)
	if err := s.live.AddActiveSession(cleanup, actor.TenantID, session.ID); err != nil {
		s.logger.Warn("live session tracking failed", zap.String("session_id", session.ID), zap.Error(err))
	}
	notifyPortStatus(ctx, s.live, s.hub, s.logger, port, now)
	s.publishSession(events.TypeSessionStarted, session)
	if hold != nil {
		s.publishBooking(hold)
	}

	s.logger.Info("session started",
		zap.String("tenant_id", actor.TenantID),
		zap.String("session_id", session.ID),
		zap.String("port_id", port.ID))
	return session, nil
}

// cancelInitiated abandons a session that never claimed its port.
func (s *SessionService) cancelInitiated(ctx context.Context, session *models.ChargingSession) {
	session.Status = models.SessionCancelled
	if err := s.store.Sessions().Update(context.WithoutCancel(ctx), session); err != nil {
		s.logger.Error("cancel initiated session failed",
			zap.String("session_id", session.ID), zap.Error(err))
	}
}

// UpdateEnergy records a telemetry increment on an active session, accruing
// cost at the rate in effect now. Negative deltas are rejected; when the
// target is reached the session moves to completing.
func (s *SessionService) UpdateEnergy(ctx context.Context, actor Actor, sessionID string, deltaKWh float64) (*models.ChargingSession, error) {
	if deltaKWh < 0 {
		return nil, errs.Validation("energy delta must not be negative")
	}

	now := s.now().UTC()
	var session *models.ChargingSession
	err := s.store.InTx(ctx, func(tx storage.Store) error {
		var err error
		session, err = tx.Sessions().LockByID(ctx, actor.TenantID, sessionID)
		if err != nil {
			return sessionErr(err, sessionID)
		}
		if err := requireSessionAccess(actor, session); err != nil {
			return err
		}
		if session.Status != models.SessionActive {
			return errs.Conflictf("session is %s", session.Status)
		}

		station, err := tx.Stations().GetByID(ctx, actor.TenantID, session.StationID)
		if err != nil {
			return stationErr(err, session.StationID)
		}

		session.EnergyKWh += deltaKWh
		session.Cost = session.Cost.Add(station.Pricing.RateFor(now).Mul(decimal.NewFromFloat(deltaKWh)))
		if session.TargetReached() {
			session.Status = models.SessionCompleting
		}
		return tx.Sessions().Update(ctx, session)
	})
	if err != nil {
		return nil, err
	}

	if deltaKWh > 0 {
		cleanup := context.WithoutCancel(ctx)
		if err := s.live.AddEnergyToday(cleanup, actor.TenantID, deltaKWh, now); err != nil {
			s.logger.Warn("live energy counter update failed", zap.Error(err))
		}
	}
	s.publishSession(events.TypeSessionUpdated, session)
	return session, nil
}

// EndSession finishes an active or completing session. Accrued cost is the
// final cost; the port returns to available unless a fault took it first.
func (s *SessionService) EndSession(ctx context.Context, actor Actor, sessionID string) (*models.ChargingSession, error) {
	now := s.now().UTC()
	var session *models.ChargingSession
	portFreed := false
	err := s.store.InTx(ctx, func(tx storage.Store) error {
		var err error
		session, err = tx.Sessions().LockByID(ctx, actor.TenantID, sessionID)
		if err != nil {
			return sessionErr(err, sessionID)
		}
		if err := requireSessionAccess(actor, session); err != nil {
			return err
		}
		if session.Status != models.SessionActive && session.Status != models.SessionCompleting {
			return errs.Conflictf("session is %s", session.Status)
		}

		session.Status = models.SessionCompleted
		endAt := now
		session.EndTime = &endAt
		if err := tx.Sessions().Update(ctx, session); err != nil {
			return fmt.Errorf("complete session: %w", err)
		}

		portFreed, err = tx.Ports().TransitionStatus(ctx, actor.TenantID, session.PortID, models.PortAvailable, models.PortOccupied)
		if err != nil {
			return fmt.Errorf("release port: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	cleanup := context.WithoutCancel(ctx)
	if err := s.live.RemoveActiveSession(cleanup, actor.TenantID, session.ID); err != nil {
		s.logger.Warn("live session tracking failed", zap.String("session_id", session.ID), zap.Error(err))
	}
	if portFreed {
		freed := &models.ChargingPort{ID: session.PortID, StationID: session.StationID, TenantID: actor.TenantID, Status: models.PortAvailable}
		notifyPortStatus(ctx, s.live, s.hub, s.logger, freed, now)
	}
	s.publishSession(events.TypeSessionCompleted, session)

	s.logger.Info("session completed",
		zap.String("tenant_id", actor.TenantID),
		zap.String("session_id", session.ID),
		zap.Float64("energy_kwh", session.EnergyKWh),
		zap.String("cost", session.Cost.String()))
	return session, nil
}

// ReportFault takes a port out of order. Any in-flight session is
// force-ended first: active becomes error, completing is allowed to finish
// as completed. A start racing this call loses.
func (s *SessionService) ReportFault(ctx context.Context, actor Actor, portID string) (*models.ChargingPort, error) {
	if err := requireRole(actor, models.RoleOperator); err != nil {
		return nil, err
	}
	port, err := s.store.Ports().GetByID(ctx, actor.TenantID, portID)
	if err != nil {
		return nil, portErr(err, portID)
	}

	now := s.now().UTC()
	var ended *models.ChargingSession
	err = s.store.InTx(ctx, func(tx storage.Store) error {
		// Take the port first. A start racing this call either finished
		// before the fault row lock, and its session is force-ended below,
		// or it blocks on the lock and loses its claim.
		if err := tx.Ports().RecordFault(ctx, actor.TenantID, portID, now); err != nil {
			return portErr(err, portID)
		}
		live, err := tx.Sessions().GetLiveByPort(ctx, actor.TenantID, portID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("check port session: %w", err)
		}
		if live != nil {
			locked, err := tx.Sessions().LockByID(ctx, actor.TenantID, live.ID)
			if err != nil {
				return fmt.Errorf("lock session: %w", err)
			}
			forceEnded := true
			switch locked.Status {
			case models.SessionActive:
				locked.Status = models.SessionError
			case models.SessionCompleting:
				locked.Status = models.SessionCompleted
			default:
				forceEnded = false
			}
			if forceEnded {
				endAt := now
				locked.EndTime = &endAt
				if err := tx.Sessions().Update(ctx, locked); err != nil {
					return fmt.Errorf("force-end session: %w", err)
				}
				ended = locked
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	port.Status = models.PortOutOfOrder
	port.FaultCount++
	faultAt := now
	port.LastFaultAt = &faultAt
	cleanup := context.WithoutCancel(ctx)
	if ended != nil {
		if err := s.live.RemoveActiveSession(cleanup, actor.TenantID, ended.ID); err != nil {
			s.logger.Warn("live session tracking failed", zap.String("session_id", ended.ID), zap.Error(err))
		}
		eventType := events.TypeSessionUpdated
		if ended.Status == models.SessionCompleted {
			eventType = events.TypeSessionCompleted
		}
		s.publishSession(eventType, ended)
	}
	notifyPortStatus(ctx, s.live, s.hub, s.logger, port, now)

	s.logger.Warn("port fault reported",
		zap.String("tenant_id", actor.TenantID),
		zap.String("port_id", portID),
		zap.Int("fault_count", port.FaultCount))
	return port, nil
}

// ClearFault returns an out-of-order port to service.
func (s *SessionService) ClearFault(ctx context.Context, actor Actor, portID string) (*models.ChargingPort, error) {
	if err := requireRole(actor, models.RoleOperator); err != nil {
		return nil, err
	}
	port, err := s.store.Ports().GetByID(ctx, actor.TenantID, portID)
	if err != nil {
		return nil, portErr(err, portID)
	}
	if port.Status != models.PortOutOfOrder {
		return nil, errs.Conflictf("port is %s, not out of order", port.Status)
	}
	ok, err := s.store.Ports().TransitionStatus(ctx, actor.TenantID, portID, models.PortAvailable, models.PortOutOfOrder)
	if err != nil {
		return nil, fmt.Errorf("clear fault: %w", err)
	}
	if !ok {
		return nil, errs.Conflict("port status changed concurrently")
	}

	now := s.now().UTC()
	port.Status = models.PortAvailable
	port.UpdatedAt = now
	notifyPortStatus(ctx, s.live, s.hub, s.logger, port, now)
	return port, nil
}

// Get returns one session. Drivers see their own; operators any in-tenant.
func (s *SessionService) Get(ctx context.Context, actor Actor, sessionID string) (*models.ChargingSession, error) {
	session, err := s.store.Sessions().GetByID(ctx, actor.TenantID, sessionID)
	if err != nil {
		return nil, sessionErr(err, sessionID)
	}
	if err := requireSessionAccess(actor, session); err != nil {
		return nil, err
	}
	return session, nil
}

// List returns a user's sessions, newest first. Listing another user
// requires operator role.
func (s *SessionService) List(ctx context.Context, actor Actor, userID string, limit, offset int) ([]models.ChargingSession, error) {
	if userID == "" {
		userID = actor.UserID
	}
	if userID != actor.UserID {
		if err := requireRole(actor, models.RoleOperator); err != nil {
			return nil, err
		}
	}
	sessions, err := s.store.Sessions().ListByUser(ctx, actor.TenantID, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// requireSessionAccess admits the session owner and operators.
func requireSessionAccess(actor Actor, session *models.ChargingSession) error {
	if session.UserID == actor.UserID {
		return nil
	}
	return requireRole(actor, models.RoleOperator)
}

func (s *SessionService) publishSession(eventType string, session *models.ChargingSession) {
	s.hub.Publish(events.Event{
		Type:      eventType,
		TenantID:  session.TenantID,
		Entity:    events.EntitySession,
		EntityID:  session.ID,
		StationID: session.StationID,
		Payload:   session,
		At:        s.now().UTC(),
	})
}

func (s *SessionService) publishBooking(booking *models.Booking) {
	s.hub.Publish(events.Event{
		Type:      events.TypeBookingUpdated,
		TenantID:  booking.TenantID,
		Entity:    events.EntityBooking,
		EntityID:  booking.ID,
		StationID: booking.StationID,
		Payload:   booking,
		At:        s.now().UTC(),
	})
}

func sessionErr(err error, id string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return errs.NotFound("session not found").WithDetail("session_id", id)
	}
	return fmt.Errorf("load session: %w", err)
}

func bookingErr(err error, id string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return errs.NotFound("booking not found").WithDetail("booking_id", id)
	}
	return fmt.Errorf("load booking: %w", err)
}
