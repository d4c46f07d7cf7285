package models

import (
	"time"

	"github.com/shopspring/decimal"

	"chargenet/internal/errs"
)

// PricingPolicy prices delivered energy. PeakHours are UTC hours of day
// during which the peak multiplier applies.
type PricingPolicy struct {
	BaseRate       decimal.Decimal `db:"base_rate" json:"base_rate"`
	PeakMultiplier decimal.Decimal `db:"peak_multiplier" json:"peak_multiplier"`
	PeakHours      []int           `db:"peak_hours" json:"peak_hours"`
	Currency       string          `db:"currency" json:"currency"`
}

// RateFor returns the per-kWh rate in effect at the given instant.
func (p PricingPolicy) RateFor(at time.Time) decimal.Decimal {
	hour := at.UTC().Hour()
	for _, h := range p.PeakHours {
		if h == hour {
			return p.BaseRate.Mul(p.PeakMultiplier)
		}
	}
	return p.BaseRate
}

// Validate checks rate and hour ranges.
func (p PricingPolicy) Validate() error {
	if p.BaseRate.IsNegative() || p.BaseRate.IsZero() {
		return errs.Validation("base rate must be positive")
	}
	if p.PeakMultiplier.LessThan(decimal.NewFromInt(1)) {
		return errs.Validation("peak multiplier must be at least 1")
	}
	for _, h := range p.PeakHours {
		if h < 0 || h > 23 {
			return errs.Validationf("peak hour %d out of range", h)
		}
	}
	if p.Currency == "" {
		return errs.Validation("currency is required")
	}
	return nil
}

// Station is a physical charging site owned by one tenant.
type Station struct {
	ID        string        `db:"id" json:"id"`
	TenantID  string        `db:"tenant_id" json:"tenant_id"`
	Name      string        `db:"name" json:"name"`
	Latitude  float64       `db:"latitude" json:"latitude"`
	Longitude float64       `db:"longitude" json:"longitude"`
	Pricing   PricingPolicy `db:"-" json:"pricing"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt time.Time     `db:"updated_at" json:"updated_at"`
}

// Validate checks name and coordinate ranges.
func (s *Station) Validate() error {
	if s.Name == "" {
		return errs.Validation("station name is required")
	}
	if s.Latitude < -90 || s.Latitude > 90 {
		return errs.Validation("latitude out of range")
	}
	if s.Longitude < -180 || s.Longitude > 180 {
		return errs.Validation("longitude out of range")
	}
	return s.Pricing.Validate()
}
