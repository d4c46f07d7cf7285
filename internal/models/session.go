package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SessionStatus is the lifecycle state of a charging session.
type SessionStatus string

const (
	SessionInitiated  SessionStatus = "initiated"
	SessionActive     SessionStatus = "active"
	SessionCompleting SessionStatus = "completing"
	SessionCompleted  SessionStatus = "completed"
	SessionCancelled  SessionStatus = "cancelled"
	SessionError      SessionStatus = "error"
)

var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionInitiated:  {SessionActive, SessionCancelled},
	SessionActive:     {SessionCompleting, SessionCompleted, SessionError},
	SessionCompleting: {SessionCompleted},
}

// CanTransition reports whether a session may move from one status to another.
func (s SessionStatus) CanTransition(to SessionStatus) bool {
	for _, next := range sessionTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s SessionStatus) Terminal() bool {
	return len(sessionTransitions[s]) == 0
}

// ChargingSession is one charging event bound to exactly one port and user.
// EnergyKWh only ever grows while the session is active.
type ChargingSession struct {
	ID          string          `db:"id" json:"id"`
	PortID      string          `db:"port_id" json:"port_id"`
	StationID   string          `db:"station_id" json:"station_id"`
	TenantID    string          `db:"tenant_id" json:"tenant_id"`
	UserID      string          `db:"user_id" json:"user_id"`
	Status      SessionStatus   `db:"status" json:"status"`
	StartTime   time.Time       `db:"start_time" json:"start_time"`
	EndTime     *time.Time      `db:"end_time" json:"end_time,omitempty"`
	EnergyKWh   float64         `db:"energy_kwh" json:"energy_kwh"`
	TargetKWh   float64         `db:"target_kwh" json:"target_kwh"`
	Cost        decimal.Decimal `db:"cost" json:"cost"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// TargetReached reports whether delivered energy satisfies the target.
func (s *ChargingSession) TargetReached() bool {
	return s.TargetKWh > 0 && s.EnergyKWh >= s.TargetKWh
}
