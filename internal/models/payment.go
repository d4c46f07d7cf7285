package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the reconciliation state of a payment.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentRefunded  PaymentStatus = "refunded"
	PaymentFailed    PaymentStatus = "failed"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:   {PaymentCompleted, PaymentFailed},
	PaymentCompleted: {PaymentRefunded},
}

// CanTransition reports whether a payment may move from one status to another.
func (s PaymentStatus) CanTransition(to PaymentStatus) bool {
	for _, next := range paymentTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Payment binds a provider charge to at most one session or booking.
// Exactly one non-cancelled payment may be completed per session.
type Payment struct {
	ID             string          `db:"id" json:"id"`
	TenantID       string          `db:"tenant_id" json:"tenant_id"`
	UserID         string          `db:"user_id" json:"user_id"`
	Amount         decimal.Decimal `db:"amount" json:"amount"`
	Currency       string          `db:"currency" json:"currency"`
	Status         PaymentStatus   `db:"status" json:"status"`
	ProviderRef    string          `db:"provider_ref" json:"provider_ref"`
	SessionID      *string         `db:"session_id" json:"session_id,omitempty"`
	BookingID      *string         `db:"booking_id" json:"booking_id,omitempty"`
	RefundedAmount decimal.Decimal `db:"refunded_amount" json:"refunded_amount"`
	RefundReason   string          `db:"refund_reason" json:"refund_reason,omitempty"`
	CompletedAt    *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// SubscriptionStatus is the billing state of a tenant subscription.
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

// Subscription is a tenant-level plan with a provider-managed period.
type Subscription struct {
	ID          string             `db:"id" json:"id"`
	TenantID    string             `db:"tenant_id" json:"tenant_id"`
	Plan        string             `db:"plan" json:"plan"`
	Status      SubscriptionStatus `db:"status" json:"status"`
	PeriodStart time.Time          `db:"period_start" json:"period_start"`
	PeriodEnd   time.Time          `db:"period_end" json:"period_end"`
	ProviderRef string             `db:"provider_ref" json:"provider_ref"`
	CreatedAt   time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time          `db:"updated_at" json:"updated_at"`
}
