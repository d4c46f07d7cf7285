package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/refund"
	"github.com/stripe/stripe-go/v82/subscription"
)

// StripeConfig configures the stripe-backed provider.
type StripeConfig struct {
	APIKey            string
	Timeout           time.Duration
	FleetPriceID      string
	EnterprisePriceID string
}

// StripeProvider implements Provider on top of stripe.
type StripeProvider struct {
	cfg StripeConfig
}

// NewStripeProvider builds stripe provider.
func NewStripeProvider(cfg StripeConfig) *StripeProvider {
	stripe.Key = cfg.APIKey
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &StripeProvider{cfg: cfg}
}

// ErrUnknownPlan marks plans with no configured price.
var ErrUnknownPlan = errors.New("payment: unknown plan")

// CreateIntent opens a payment intent for the given amount.
func (p *StripeProvider) CreateIntent(ctx context.Context, params CreateIntentParams) (*Intent, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	piParams := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(minorUnits(params.Amount)),
		Currency:    stripe.String(strings.ToLower(params.Currency)),
		Description: stripe.String(params.Description),
	}
	piParams.Context = ctx
	if params.IdempotencyKey != "" {
		piParams.SetIdempotencyKey(params.IdempotencyKey)
	}

	pi, err := paymentintent.New(piParams)
	if err != nil {
		return nil, fmt.Errorf("payment: create intent: %w", err)
	}
	return &Intent{
		ProviderRef:  pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       intentStatus(pi.Status),
	}, nil
}

// ConfirmIntent asks the provider to settle the intent. A decline comes back
// as a failed intent, not an error; errors mean the provider was unreachable
// or rejected the request itself.
func (p *StripeProvider) ConfirmIntent(ctx context.Context, providerRef string) (*Intent, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	params := &stripe.PaymentIntentConfirmParams{}
	params.Context = ctx

	pi, err := paymentintent.Confirm(providerRef, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard {
			return &Intent{ProviderRef: providerRef, Status: IntentFailed}, nil
		}
		return nil, fmt.Errorf("payment: confirm intent: %w", err)
	}
	return &Intent{
		ProviderRef:  pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       intentStatus(pi.Status),
	}, nil
}

// Refund returns part or all of a settled intent.
func (p *StripeProvider) Refund(ctx context.Context, providerRef string, amount decimal.Decimal, reason string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(providerRef),
		Amount:        stripe.Int64(minorUnits(amount)),
	}
	params.Context = ctx
	if reason != "" {
		params.AddMetadata("reason", reason)
	}

	ref, err := refund.New(params)
	if err != nil {
		return "", fmt.Errorf("payment: refund: %w", err)
	}
	return ref.ID, nil
}

// CreateSubscription registers a customer for the tenant and opens the
// subscription on the plan's configured price.
func (p *StripeProvider) CreateSubscription(ctx context.Context, params SubscriptionParams) (*ProviderSubscription, error) {
	priceID := p.priceIDForPlan(params.Plan)
	if priceID == "" {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlan, params.Plan)
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	custParams := &stripe.CustomerParams{
		Email: stripe.String(params.Email),
		Name:  stripe.String(params.TenantID),
	}
	custParams.Context = ctx
	cust, err := customer.New(custParams)
	if err != nil {
		return nil, fmt.Errorf("payment: create customer: %w", err)
	}

	subParams := &stripe.SubscriptionParams{
		Customer: stripe.String(cust.ID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(priceID)},
		},
	}
	subParams.Context = ctx
	sub, err := subscription.New(subParams)
	if err != nil {
		return nil, fmt.Errorf("payment: create subscription: %w", err)
	}

	return &ProviderSubscription{
		Ref:         sub.ID,
		CustomerRef: cust.ID,
		PeriodStart: time.Unix(sub.CurrentPeriodStart, 0).UTC(),
		PeriodEnd:   time.Unix(sub.CurrentPeriodEnd, 0).UTC(),
	}, nil
}

// CancelSubscription ends the subscription immediately.
func (p *StripeProvider) CancelSubscription(ctx context.Context, providerRef string) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	if _, err := subscription.Cancel(providerRef, params); err != nil {
		return fmt.Errorf("payment: cancel subscription: %w", err)
	}
	return nil
}

func (p *StripeProvider) priceIDForPlan(plan string) string {
	switch strings.ToLower(strings.TrimSpace(plan)) {
	case "fleet":
		return p.cfg.FleetPriceID
	case "enterprise":
		return p.cfg.EnterprisePriceID
	default:
		return ""
	}
}

func intentStatus(status stripe.PaymentIntentStatus) IntentStatus {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return IntentSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return IntentFailed
	default:
		return IntentPending
	}
}

// minorUnits converts a decimal major amount to provider minor units.
func minorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
