package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"chargenet/internal/errs"
	"chargenet/internal/events"
	"chargenet/internal/models"
	"chargenet/internal/payment"
	"chargenet/internal/storage"
)

// PaymentService reconciles charges with the external provider. It never
// retries provider calls on its own: retries come from the caller with the
// same idempotency key, so a charge is applied at most once.
type PaymentService struct {
	store    storage.Store
	provider payment.Provider
	hub      *events.Hub
	logger   *zap.Logger
	now      func() time.Time
}

// NewPaymentService builds PaymentService.
func NewPaymentService(store storage.Store, provider payment.Provider, hub *events.Hub, logger *zap.Logger) *PaymentService {
	return &PaymentService{
		store:    store,
		provider: provider,
		hub:      hub,
		logger:   logger,
		now:      time.Now,
	}
}

// CreateIntentParams describes a new payment intent. At most one of
// SessionID and BookingID may be set; both empty is a free-standing charge.
type CreateIntentParams struct {
	Amount    decimal.Decimal
	Currency  string
	SessionID string
	BookingID string
}

// CreateIntent opens a pending payment backed by a provider intent. Calls
// repeating an existing (session, amount) or (booking, amount) binding
// return the open payment instead of creating a second one.
func (s *PaymentService) CreateIntent(ctx context.Context, actor Actor, params CreateIntentParams) (*models.Payment, error) {
	if !params.Amount.IsPositive() {
		return nil, errs.Validation("amount must be positive")
	}
	currency := strings.ToUpper(strings.TrimSpace(params.Currency))
	if len(currency) != 3 {
		return nil, errs.Validation("currency must be a 3-letter code")
	}
	if params.SessionID != "" && params.BookingID != "" {
		return nil, errs.Validation("bind the payment to a session or a booking, not both")
	}

	payerID := actor.UserID
	var description, dedupeKey string
	switch {
	case params.SessionID != "":
		session, err := s.store.Sessions().GetByID(ctx, actor.TenantID, params.SessionID)
		if err != nil {
			return nil, sessionErr(err, params.SessionID)
		}
		if err := requireSessionAccess(actor, session); err != nil {
			return nil, err
		}
		existing, err := s.store.Payments().FindPendingBySession(ctx, actor.TenantID, params.SessionID, params.Amount)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("find open intent: %w", err)
		}
		payerID = session.UserID
		description = "Charging session " + session.ID
		dedupeKey = fmt.Sprintf("session:%s:%s", session.ID, params.Amount.String())
	case params.BookingID != "":
		booking, err := s.store.Bookings().GetByID(ctx, actor.TenantID, params.BookingID)
		if err != nil {
			return nil, bookingErr(err, params.BookingID)
		}
		if booking.UserID != actor.UserID {
			if err := requireRole(actor, models.RoleOperator); err != nil {
				return nil, err
			}
		}
		existing, err := s.store.Payments().FindPendingByBooking(ctx, actor.TenantID, params.BookingID, params.Amount)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("find open intent: %w", err)
		}
		payerID = booking.UserID
		description = "Booking " + booking.ID
		dedupeKey = fmt.Sprintf("booking:%s:%s", booking.ID, params.Amount.String())
	default:
		description = "Account charge"
		dedupeKey = "payment:" + uuid.NewString()
	}

	intent, err := s.provider.CreateIntent(ctx, payment.CreateIntentParams{
		IdempotencyKey: dedupeKey,
		Amount:         params.Amount,
		Currency:       currency,
		Description:    description,
	})
	if err != nil {
		return nil, errs.External("payment provider unavailable", err)
	}

	record := &models.Payment{
		ID:             uuid.NewString(),
		TenantID:       actor.TenantID,
		UserID:         payerID,
		Amount:         params.Amount,
		Currency:       currency,
		Status:         models.PaymentPending,
		ProviderRef:    intent.ProviderRef,
		RefundedAmount: decimal.Zero,
	}
	if params.SessionID != "" {
		id := params.SessionID
		record.SessionID = &id
	}
	if params.BookingID != "" {
		id := params.BookingID
		record.BookingID = &id
	}

	if err := s.store.Payments().Create(ctx, record); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return s.findOpenIntent(ctx, actor.TenantID, params)
		}
		return nil, fmt.Errorf("create payment: %w", err)
	}

	s.publishPayment(record)
	return record, nil
}

// findOpenIntent re-reads the payment a concurrent identical call created.
func (s *PaymentService) findOpenIntent(ctx context.Context, tenantID string, params CreateIntentParams) (*models.Payment, error) {
	var (
		existing *models.Payment
		err      error
	)
	switch {
	case params.SessionID != "":
		existing, err = s.store.Payments().FindPendingBySession(ctx, tenantID, params.SessionID, params.Amount)
	case params.BookingID != "":
		existing, err = s.store.Payments().FindPendingByBooking(ctx, tenantID, params.BookingID, params.Amount)
	default:
		return nil, errs.Conflict("duplicate payment")
	}
	if err != nil {
		return nil, fmt.Errorf("find open intent: %w", err)
	}
	return existing, nil
}

// Confirm settles a pending payment by its provider reference. A payment
// already completed is returned as-is, so concurrent confirms apply cost
// once. Provider-side failure is terminal; a provider that has simply not
// succeeded yet leaves the payment pending for retry.
func (s *PaymentService) Confirm(ctx context.Context, actor Actor, providerRef string) (*models.Payment, error) {
	found, err := s.store.Payments().GetByProviderRef(ctx, actor.TenantID, providerRef)
	if err != nil {
		return nil, paymentErr(err, providerRef)
	}
	if err := requirePaymentAccess(actor, found); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	var (
		settled    *models.Payment
		confirmErr error
	)
	err = s.store.InTx(ctx, func(tx storage.Store) error {
		locked, err := tx.Payments().LockByID(ctx, actor.TenantID, found.ID)
		if err != nil {
			return paymentErr(err, found.ID)
		}
		settled = locked
		switch locked.Status {
		case models.PaymentCompleted:
			return nil
		case models.PaymentPending:
		default:
			return errs.Conflictf("payment is %s", locked.Status)
		}

		intent, err := s.provider.ConfirmIntent(ctx, locked.ProviderRef)
		if err != nil {
			return errs.External("payment provider unreachable", err)
		}
		switch intent.Status {
		case payment.IntentSucceeded:
			locked.Status = models.PaymentCompleted
			completedAt := now
			locked.CompletedAt = &completedAt
			if err := tx.Payments().Update(ctx, locked); err != nil {
				return fmt.Errorf("complete payment: %w", err)
			}
			return s.writeSettledCost(ctx, tx, locked)
		case payment.IntentFailed:
			locked.Status = models.PaymentFailed
			if err := tx.Payments().Update(ctx, locked); err != nil {
				return fmt.Errorf("fail payment: %w", err)
			}
			confirmErr = errs.Validation("payment was declined by the provider")
			return nil
		default:
			confirmErr = errs.Validation("payment has not succeeded at the provider")
			return nil
		}
	})
	if err != nil {
		return nil, err
	}
	if confirmErr != nil {
		s.publishPayment(settled)
		return nil, confirmErr
	}

	s.publishPayment(settled)
	return settled, nil
}

// writeSettledCost copies the settled amount onto the paid session or
// booking.
func (s *PaymentService) writeSettledCost(ctx context.Context, tx storage.Store, settled *models.Payment) error {
	switch {
	case settled.SessionID != nil:
		session, err := tx.Sessions().LockByID(ctx, settled.TenantID, *settled.SessionID)
		if err != nil {
			return fmt.Errorf("load paid session: %w", err)
		}
		session.Cost = settled.Amount
		if err := tx.Sessions().Update(ctx, session); err != nil {
			return fmt.Errorf("write session cost: %w", err)
		}
	case settled.BookingID != nil:
		booking, err := tx.Bookings().GetByID(ctx, settled.TenantID, *settled.BookingID)
		if err != nil {
			return fmt.Errorf("load paid booking: %w", err)
		}
		booking.TotalCost = settled.Amount
		if err := tx.Bookings().Update(ctx, booking); err != nil {
			return fmt.Errorf("write booking cost: %w", err)
		}
	}
	return nil
}

// RefundParams describes a refund request. A zero amount refunds in full.
type RefundParams struct {
	Amount decimal.Decimal
	Reason string
}

// Refund reverses a completed payment, in part or in full. Any other status
// is a conflict; a provider failure leaves the payment untouched.
func (s *PaymentService) Refund(ctx context.Context, actor Actor, paymentID string, params RefundParams) (*models.Payment, error) {
	if err := requireRole(actor, models.RoleOperator); err != nil {
		return nil, err
	}

	var refunded *models.Payment
	err := s.store.InTx(ctx, func(tx storage.Store) error {
		locked, err := tx.Payments().LockByID(ctx, actor.TenantID, paymentID)
		if err != nil {
			return paymentErr(err, paymentID)
		}
		if locked.Status != models.PaymentCompleted {
			return errs.Conflictf("payment is %s", locked.Status)
		}

		amount := params.Amount
		if amount.IsZero() {
			amount = locked.Amount
		}
		if !amount.IsPositive() {
			return errs.Validation("refund amount must be positive")
		}
		if amount.GreaterThan(locked.Amount) {
			return errs.Validation("refund amount exceeds payment amount")
		}

		if _, err := s.provider.Refund(ctx, locked.ProviderRef, amount, params.Reason); err != nil {
			return errs.External("payment provider refund failed", err)
		}

		locked.Status = models.PaymentRefunded
		locked.RefundedAmount = amount
		locked.RefundReason = params.Reason
		if err := tx.Payments().Update(ctx, locked); err != nil {
			return fmt.Errorf("record refund: %w", err)
		}
		refunded = locked
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publishPayment(refunded)
	s.logger.Info("payment refunded",
		zap.String("tenant_id", actor.TenantID),
		zap.String("payment_id", refunded.ID),
		zap.String("amount", refunded.RefundedAmount.String()))
	return refunded, nil
}

// HistoryParams filters a payment listing.
type HistoryParams struct {
	UserID string
	Status models.PaymentStatus
	Limit  int
	Offset int
}

// History lists payments. Drivers see only their own; operators may filter
// by any user or list the whole tenant.
func (s *PaymentService) History(ctx context.Context, actor Actor, params HistoryParams) ([]models.Payment, error) {
	if !actor.Role.AtLeast(models.RoleOperator) {
		params.UserID = actor.UserID
	}
	if params.Status != "" {
		switch params.Status {
		case models.PaymentPending, models.PaymentCompleted, models.PaymentRefunded, models.PaymentFailed:
		default:
			return nil, errs.Validationf("unknown payment status %q", params.Status)
		}
	}
	payments, err := s.store.Payments().List(ctx, actor.TenantID, storage.ListPaymentsParams{
		UserID: params.UserID,
		Status: params.Status,
		Limit:  params.Limit,
		Offset: params.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	return payments, nil
}

// Stale returns payments stuck pending longer than olderThan. They are
// surfaced for manual reconciliation, never completed automatically.
func (s *PaymentService) Stale(ctx context.Context, actor Actor, olderThan time.Duration) ([]models.Payment, error) {
	if err := requireRole(actor, models.RoleOperator); err != nil {
		return nil, err
	}
	if olderThan <= 0 {
		return nil, errs.Validation("age threshold must be positive")
	}
	cutoff := s.now().UTC().Add(-olderThan)
	payments, err := s.store.Payments().ListStalePending(ctx, actor.TenantID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale payments: %w", err)
	}
	return payments, nil
}

// Revenue granularities.
const (
	GranularityDay   = "day"
	GranularityWeek  = "week"
	GranularityMonth = "month"
)

// RevenueParams bounds a revenue aggregation.
type RevenueParams struct {
	From        time.Time
	To          time.Time
	Granularity string
}

// RevenueBucket is revenue aggregated over one period.
type RevenueBucket struct {
	Period          string          `json:"period"`
	Revenue         decimal.Decimal `json:"revenue"`
	SessionCount    int             `json:"session_count"`
	AvgSessionValue decimal.Decimal `json:"avg_session_value"`
}

// RevenueReport is a bucketed revenue aggregation with a window summary.
type RevenueReport struct {
	From            time.Time                  `json:"from"`
	To              time.Time                  `json:"to"`
	Granularity     string                     `json:"granularity"`
	Buckets         []RevenueBucket            `json:"buckets"`
	TotalRevenue    decimal.Decimal            `json:"total_revenue"`
	TotalSessions   int                        `json:"total_sessions"`
	AvgSessionValue decimal.Decimal            `json:"avg_session_value"`
	ByCurrency      map[string]decimal.Decimal `json:"by_currency"`
}

// RevenueAnalytics aggregates completed payments over a window. Refunded
// payments have left the completed state and are excluded.
func (s *PaymentService) RevenueAnalytics(ctx context.Context, actor Actor, params RevenueParams) (*RevenueReport, error) {
	if err := requireRole(actor, models.RoleOperator); err != nil {
		return nil, err
	}
	granularity := params.Granularity
	if granularity == "" {
		granularity = GranularityDay
	}
	switch granularity {
	case GranularityDay, GranularityWeek, GranularityMonth:
	default:
		return nil, errs.Validationf("unknown granularity %q", granularity)
	}
	from := params.From.UTC()
	to := params.To.UTC()
	if from.IsZero() || to.IsZero() || !to.After(from) {
		return nil, errs.Validation("window end must be after start")
	}

	payments, err := s.store.Payments().ListCompletedBetween(ctx, actor.TenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list completed payments: %w", err)
	}

	report := &RevenueReport{
		From:            from,
		To:              to,
		Granularity:     granularity,
		TotalRevenue:    decimal.Zero,
		AvgSessionValue: decimal.Zero,
		ByCurrency:      make(map[string]decimal.Decimal),
	}
	buckets := make(map[string]*RevenueBucket)
	for _, p := range payments {
		key := bucketKey(*p.CompletedAt, granularity)
		bucket, ok := buckets[key]
		if !ok {
			bucket = &RevenueBucket{Period: key, Revenue: decimal.Zero, AvgSessionValue: decimal.Zero}
			buckets[key] = bucket
		}
		bucket.Revenue = bucket.Revenue.Add(p.Amount)
		report.TotalRevenue = report.TotalRevenue.Add(p.Amount)
		if p.SessionID != nil {
			bucket.SessionCount++
			report.TotalSessions++
		}
		sum, ok := report.ByCurrency[p.Currency]
		if !ok {
			sum = decimal.Zero
		}
		report.ByCurrency[p.Currency] = sum.Add(p.Amount)
	}

	report.Buckets = make([]RevenueBucket, 0, len(buckets))
	for _, bucket := range buckets {
		if bucket.SessionCount > 0 {
			bucket.AvgSessionValue = bucket.Revenue.Div(decimal.NewFromInt(int64(bucket.SessionCount))).Round(4)
		}
		report.Buckets = append(report.Buckets, *bucket)
	}
	sort.Slice(report.Buckets, func(i, j int) bool {
		return report.Buckets[i].Period < report.Buckets[j].Period
	})
	if report.TotalSessions > 0 {
		report.AvgSessionValue = report.TotalRevenue.Div(decimal.NewFromInt(int64(report.TotalSessions))).Round(4)
	}
	return report, nil
}

// bucketKey formats a timestamp into its aggregation period.
func bucketKey(at time.Time, granularity string) string {
	at = at.UTC()
	switch granularity {
	case GranularityWeek:
		year, week := at.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week)
	case GranularityMonth:
		return at.Format("2006-01")
	default:
		return at.Format("2006-01-02")
	}
}

// CreateSubscription signs the tenant up for a platform plan. One active
// subscription per tenant.
func (s *PaymentService) CreateSubscription(ctx context.Context, actor Actor, plan string) (*models.Subscription, error) {
	if err := requireRole(actor, models.RoleTenantAdmin); err != nil {
		return nil, err
	}
	if _, err := s.store.Subscriptions().GetActiveByTenant(ctx, actor.TenantID); err == nil {
		return nil, errs.Conflict("tenant already has an active subscription")
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("check subscription: %w", err)
	}

	user, err := s.store.Users().GetByID(ctx, actor.TenantID, actor.UserID)
	if err != nil {
		return nil, fmt.Errorf("load billing contact: %w", err)
	}

	provSub, err := s.provider.CreateSubscription(ctx, payment.SubscriptionParams{
		TenantID: actor.TenantID,
		Email:    user.Email,
		Plan:     plan,
	})
	if err != nil {
		if errors.Is(err, payment.ErrUnknownPlan) {
			return nil, errs.Validationf("unknown plan %q", plan)
		}
		return nil, errs.External("subscription setup failed", err)
	}

	sub := &models.Subscription{
		ID:          uuid.NewString(),
		TenantID:    actor.TenantID,
		Plan:        plan,
		Status:      models.SubscriptionActive,
		PeriodStart: provSub.PeriodStart,
		PeriodEnd:   provSub.PeriodEnd,
		ProviderRef: provSub.Ref,
	}
	if err := s.store.Subscriptions().Create(ctx, sub); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			if cancelErr := s.provider.CancelSubscription(context.WithoutCancel(ctx), provSub.Ref); cancelErr != nil {
				s.logger.Error("orphaned provider subscription",
					zap.String("provider_ref", provSub.Ref), zap.Error(cancelErr))
			}
			return nil, errs.Conflict("tenant already has an active subscription")
		}
		return nil, fmt.Errorf("create subscription: %w", err)
	}

	s.logger.Info("subscription created",
		zap.String("tenant_id", actor.TenantID),
		zap.String("plan", plan),
		zap.String("provider_ref", provSub.Ref))
	return sub, nil
}

// CancelSubscription ends the tenant's active subscription at the provider
// and locally.
func (s *PaymentService) CancelSubscription(ctx context.Context, actor Actor) (*models.Subscription, error) {
	if err := requireRole(actor, models.RoleTenantAdmin); err != nil {
		return nil, err
	}
	sub, err := s.store.Subscriptions().GetActiveByTenant(ctx, actor.TenantID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errs.NotFound("no active subscription")
		}
		return nil, fmt.Errorf("load subscription: %w", err)
	}
	if err := s.provider.CancelSubscription(ctx, sub.ProviderRef); err != nil {
		return nil, errs.External("subscription cancellation failed", err)
	}
	sub.Status = models.SubscriptionCanceled
	if err := s.store.Subscriptions().Update(ctx, sub); err != nil {
		return nil, fmt.Errorf("cancel subscription: %w", err)
	}
	return sub, nil
}

// requirePaymentAccess admits the payer and operators.
func requirePaymentAccess(actor Actor, p *models.Payment) error {
	if p.UserID == actor.UserID {
		return nil
	}
	return requireRole(actor, models.RoleOperator)
}

func (s *PaymentService) publishPayment(p *models.Payment) {
	s.hub.Publish(events.Event{
		Type:     events.TypePaymentUpdated,
		TenantID: p.TenantID,
		Entity:   events.EntityPayment,
		EntityID: p.ID,
		Payload:  p,
		At:       s.now().UTC(),
	})
}

func paymentErr(err error, ref string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return errs.NotFound("payment not found").WithDetail("payment", ref)
	}
	return fmt.Errorf("load payment: %w", err)
}
