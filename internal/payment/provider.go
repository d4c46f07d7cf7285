// Package payment integrates the external payment provider.
package payment

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// IntentStatus is the normalized provider-side state of a payment intent.
type IntentStatus string

// Normalized intent states.
const (
	IntentPending   IntentStatus = "pending"
	IntentSucceeded IntentStatus = "succeeded"
	IntentFailed    IntentStatus = "failed"
)

// Intent is the provider's view of a payment.
type Intent struct {
	ProviderRef  string
	ClientSecret string
	Status       IntentStatus
}

// CreateIntentParams describes a new charge.
type CreateIntentParams struct {
	// IdempotencyKey dedupes retries on the provider side.
	IdempotencyKey string
	Amount         decimal.Decimal
	Currency       string
	Description    string
}

// SubscriptionParams describes a new platform subscription.
type SubscriptionParams struct {
	TenantID string
	Email    string
	Plan     string
}

// ProviderSubscription is the provider's view of a subscription.
type ProviderSubscription struct {
	Ref         string
	CustomerRef string
	PeriodStart time.Time
	PeriodEnd   time.Time
}

// Provider is the upstream payment processor. Implementations must honor ctx
// deadlines; callers treat transport failures as retryable.
type Provider interface {
	CreateIntent(ctx context.Context, params CreateIntentParams) (*Intent, error)
	ConfirmIntent(ctx context.Context, providerRef string) (*Intent, error)
	// Refund returns the provider's refund reference.
	Refund(ctx context.Context, providerRef string, amount decimal.Decimal, reason string) (string, error)
	CreateSubscription(ctx context.Context, params SubscriptionParams) (*ProviderSubscription, error)
	CancelSubscription(ctx context.Context, providerRef string) error
}
