package models

import (
	"strings"
	"time"
)

// TenantType categorizes the organization owning stations and users.
type TenantType string

const (
	TenantTypeStationOperator TenantType = "station_operator"
	TenantTypeManufacturer    TenantType = "manufacturer"
	TenantTypeNetworkProvider TenantType = "network_provider"
	TenantTypeEnterprise      TenantType = "enterprise"
)

// Valid reports whether the tenant type is one of the known values.
func (t TenantType) Valid() bool {
	switch t {
	case TenantTypeStationOperator, TenantTypeManufacturer, TenantTypeNetworkProvider, TenantTypeEnterprise:
		return true
	}
	return false
}

// Tenant is the isolation root: every station, port, session and payment
// carries its id and every storage call is scoped by it.
type Tenant struct {
	ID        string     `db:"id" json:"id"`
	Name      string     `db:"name" json:"name"`
	Type      TenantType `db:"type" json:"type"`
	Domain    string     `db:"domain" json:"domain"`
	Active    bool       `db:"active" json:"active"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

// SlugifyDomain derives a tenant domain from a display name.
func SlugifyDomain(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_', r == '.':
			b.WriteByte('-')
		}
	}
	return strings.Trim(b.String(), "-")
}
