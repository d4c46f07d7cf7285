package models

import (
	"time"

	"chargenet/internal/errs"
)

// ConnectorType enumerates supported physical connectors.
type ConnectorType string

const (
	ConnectorType1    ConnectorType = "TYPE1"
	ConnectorType2    ConnectorType = "TYPE2"
	ConnectorCCS1     ConnectorType = "CCS1"
	ConnectorCCS2     ConnectorType = "CCS2"
	ConnectorCHAdeMO  ConnectorType = "CHADEMO"
	ConnectorTesla    ConnectorType = "TESLA"
	ConnectorNACS     ConnectorType = "NACS"
)

// Valid reports whether the connector type is known.
func (c ConnectorType) Valid() bool {
	switch c {
	case ConnectorType1, ConnectorType2, ConnectorCCS1, ConnectorCCS2, ConnectorCHAdeMO, ConnectorTesla, ConnectorNACS:
		return true
	}
	return false
}

// PortStatus is the lifecycle state of a charging port.
type PortStatus string

const (
	PortAvailable   PortStatus = "available"
	PortReserved    PortStatus = "reserved"
	PortOccupied    PortStatus = "occupied"
	PortOutOfOrder  PortStatus = "out_of_order"
	PortMaintenance PortStatus = "maintenance"
)

// Valid reports whether the status is known.
func (s PortStatus) Valid() bool {
	switch s {
	case PortAvailable, PortReserved, PortOccupied, PortOutOfOrder, PortMaintenance:
		return true
	}
	return false
}

// portTransitions lists the allowed next states per state. Fault states are
// enterable from anywhere via ReportFault, which force-ends sessions first.
var portTransitions = map[PortStatus][]PortStatus{
	PortAvailable:   {PortReserved, PortOccupied, PortOutOfOrder, PortMaintenance},
	PortReserved:    {PortOccupied, PortAvailable, PortOutOfOrder, PortMaintenance},
	PortOccupied:    {PortAvailable, PortOutOfOrder, PortMaintenance},
	PortOutOfOrder:  {PortAvailable, PortMaintenance},
	PortMaintenance: {PortAvailable, PortOutOfOrder},
}

// CanTransition reports whether a port may move from one status to another.
func (s PortStatus) CanTransition(to PortStatus) bool {
	for _, next := range portTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// ChargingPort is one connector position on a station. At most one session
// may be active or completing on a port at any instant.
type ChargingPort struct {
	ID          string        `db:"id" json:"id"`
	StationID   string        `db:"station_id" json:"station_id"`
	TenantID    string        `db:"tenant_id" json:"tenant_id"`
	Connector   ConnectorType `db:"connector_type" json:"connector_type"`
	RatedKW     float64       `db:"rated_kw" json:"rated_kw"`
	Status      PortStatus    `db:"status" json:"status"`
	FaultCount  int           `db:"fault_count" json:"fault_count"`
	LastFaultAt *time.Time    `db:"last_fault_at" json:"last_fault_at,omitempty"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time     `db:"updated_at" json:"updated_at"`
}

// Validate checks connector type and power rating.
func (p *ChargingPort) Validate() error {
	if !p.Connector.Valid() {
		return errs.Validationf("unknown connector type %q", p.Connector)
	}
	if p.RatedKW < 1 || p.RatedKW > 350 {
		return errs.Validation("rated power must be between 1 and 350 kW")
	}
	return nil
}
