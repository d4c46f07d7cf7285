package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chargenet/internal/errs"
	"chargenet/internal/events"
	"chargenet/internal/models"
	"chargenet/internal/payment"
	"chargenet/internal/storage"
	"chargenet/internal/storage/memory"
)

func newPaymentFixture(t *testing.T) (*PaymentService, storage.Store, *fakeProvider) {
	t.Helper()
	store := memory.NewStore()
	provider := &fakeProvider{}
	svc := NewPaymentService(store, provider, events.NewHub(zap.NewNop()), zap.NewNop())
	return svc, store, provider
}

func TestCreateIntentIdempotentPerSessionAmount(t *testing.T) {
	ctx := context.Background()
	svc, store, provider := newPaymentFixture(t)
	session := seedSession(t, store, "t1", "u1", models.SessionCompleted)
	actor := asDriver("t1", "u1")

	first, err := svc.CreateIntent(ctx, actor, CreateIntentParams{
		Amount:    decimal.RequireFromString("9"),
		Currency:  "usd",
		SessionID: session.ID,
	})
	require.NoError(t, err)
	require.Equal(t, models.PaymentPending, first.Status)
	require.Equal(t, "USD", first.Currency)
	require.NotEmpty(t, first.ProviderRef)

	// Retrying the same binding returns the open intent, not a second charge.
	second, err := svc.CreateIntent(ctx, actor, CreateIntentParams{
		Amount:    decimal.RequireFromString("9"),
		Currency:  "USD",
		SessionID: session.ID,
	})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, 1, provider.createCalls)

	other, err := svc.CreateIntent(ctx, actor, CreateIntentParams{
		Amount:    decimal.RequireFromString("12"),
		Currency:  "USD",
		SessionID: session.ID,
	})
	require.NoError(t, err)
	require.NotEqual(t, first.ID, other.ID)
	require.Equal(t, 2, provider.createCalls)
}

func TestCreateIntentRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newPaymentFixture(t)
	session := seedSession(t, store, "t1", "u1", models.SessionCompleted)

	_, err := svc.CreateIntent(ctx, asDriver("t1", "u1"), CreateIntentParams{
		Amount:   decimal.Zero,
		Currency: "USD",
	})
	require.ErrorIs(t, err, errs.Validation(""))

	_, err = svc.CreateIntent(ctx, asDriver("t1", "u1"), CreateIntentParams{
		Amount:   decimal.RequireFromString("5"),
		Currency: "dollars",
	})
	require.ErrorIs(t, err, errs.Validation(""))

	_, err = svc.CreateIntent(ctx, asDriver("t1", "u1"), CreateIntentParams{
		Amount:    decimal.RequireFromString("5"),
		Currency:  "USD",
		SessionID: session.ID,
		BookingID: "b1",
	})
	require.ErrorIs(t, err, errs.Validation(""))

	_, err = svc.CreateIntent(ctx, asDriver("t1", "u1"), CreateIntentParams{
		Amount:    decimal.RequireFromString("5"),
		Currency:  "USD",
		SessionID: uuid.NewString(),
	})
	require.ErrorIs(t, err, errs.NotFound(""))

	// Another driver cannot open a charge against someone else's session.
	_, err = svc.CreateIntent(ctx, asDriver("t1", "u2"), CreateIntentParams{
		Amount:    decimal.RequireFromString("5"),
		Currency:  "USD",
		SessionID: session.ID,
	})
	require.ErrorIs(t, err, errs.Authorization(""))
}

func TestCreateIntentProviderDown(t *testing.T) {
	ctx := context.Background()
	svc, store, provider := newPaymentFixture(t)
	session := seedSession(t, store, "t1", "u1", models.SessionCompleted)
	provider.createErr = errors.New("gateway timeout")

	_, err := svc.CreateIntent(ctx, asDriver("t1", "u1"), CreateIntentParams{
		Amount:    decimal.RequireFromString("9"),
		Currency:  "USD",
		SessionID: session.ID,
	})
	require.ErrorIs(t, err, errs.External("", nil))

	payments, err := store.Payments().List(ctx, "t1", storage.ListPaymentsParams{})
	require.NoError(t, err)
	require.Empty(t, payments)
}

func TestConfirmSettlesPaymentAndWritesSessionCost(t *testing.T) {
	ctx := context.Background()
	svc, store, provider := newPaymentFixture(t)
	session := seedSession(t, store, "t1", "u1", models.SessionCompleted)
	actor := asDriver("t1", "u1")

	intent, err := svc.CreateIntent(ctx, actor, CreateIntentParams{
		Amount:    decimal.RequireFromString("12.34"),
		Currency:  "USD",
		SessionID: session.ID,
	})
	require.NoError(t, err)

	settled, err := svc.Confirm(ctx, actor, intent.ProviderRef)
	require.NoError(t, err)
	require.Equal(t, models.PaymentCompleted, settled.Status)
	require.NotNil(t, settled.CompletedAt)

	paid, err := store.Sessions().GetByID(ctx, "t1", session.ID)
	require.NoError(t, err)
	requireAmount(t, "12.34", paid.Cost)

	// Confirming again is a no-op; the provider is not asked twice.
	again, err := svc.Confirm(ctx, actor, intent.ProviderRef)
	require.NoError(t, err)
	require.Equal(t, settled.ID, again.ID)
	require.Equal(t, models.PaymentCompleted, again.Status)
	require.Equal(t, 1, provider.confirmCalls)

	_, err = svc.Confirm(ctx, actor, "pi_unknown")
	require.ErrorIs(t, err, errs.NotFound(""))
}

func TestConfirmDeclinedPaymentFails(t *testing.T) {
	ctx := context.Background()
	svc, store, provider := newPaymentFixture(t)
	session := seedSession(t, store, "t1", "u1", models.SessionCompleted)
	actor := asDriver("t1", "u1")

	intent, err := svc.CreateIntent(ctx, actor, CreateIntentParams{
		Amount:    decimal.RequireFromString("9"),
		Currency:  "USD",
		SessionID: session.ID,
	})
	require.NoError(t, err)

	provider.confirmStatus = payment.IntentFailed
	_, err = svc.Confirm(ctx, actor, intent.ProviderRef)
	require.ErrorIs(t, err, errs.Validation("payment was declined by the provider"))

	got, err := store.Payments().GetByID(ctx, "t1", intent.ID)
	require.NoError(t, err)
	require.Equal(t, models.PaymentFailed, got.Status)

	// A failed payment is terminal.
	provider.confirmStatus = payment.IntentSucceeded
	_, err = svc.Confirm(ctx, actor, intent.ProviderRef)
	require.ErrorIs(t, err, errs.Conflict(""))
}

func TestConfirmLeavesUnsettledIntentPending(t *testing.T) {
	ctx := context.Background()
	svc, store, provider := newPaymentFixture(t)
	session := seedSession(t, store, "t1", "u1", models.SessionCompleted)
	actor := asDriver("t1", "u1")

	intent, err := svc.CreateIntent(ctx, actor, CreateIntentParams{
		Amount:    decimal.RequireFromString("9"),
		Currency:  "USD",
		SessionID: session.ID,
	})
	require.NoError(t, err)

	provider.confirmStatus = payment.IntentPending
	_, err = svc.Confirm(ctx, actor, intent.ProviderRef)
	require.ErrorIs(t, err, errs.Validation("payment has not succeeded at the provider"))

	got, err := store.Payments().GetByID(ctx, "t1", intent.ID)
	require.NoError(t, err)
	require.Equal(t, models.PaymentPending, got.Status)

	// The retry goes through once the provider settles.
	provider.confirmStatus = payment.IntentSucceeded
	settled, err := svc.Confirm(ctx, actor, intent.ProviderRef)
	require.NoError(t, err)
	require.Equal(t, models.PaymentCompleted, settled.Status)
}

func TestConfirmProviderUnreachable(t *testing.T) {
	ctx := context.Background()
	svc, store, provider := newPaymentFixture(t)
	session := seedSession(t, store, "t1", "u1", models.SessionCompleted)
	actor := asDriver("t1", "u1")

	intent, err := svc.CreateIntent(ctx, actor, CreateIntentParams{
		Amount:    decimal.RequireFromString("9"),
		Currency:  "USD",
		SessionID: session.ID,
	})
	require.NoError(t, err)

	provider.confirmErr = errors.New("connection reset")
	_, err = svc.Confirm(ctx, actor, intent.ProviderRef)
	require.ErrorIs(t, err, errs.External("", nil))

	got, err := store.Payments().GetByID(ctx, "t1", intent.ID)
	require.NoError(t, err)
	require.Equal(t, models.PaymentPending, got.Status)
}

func TestRefundOnlyFromCompleted(t *testing.T) {
	ctx := context.Background()
	svc, store, provider := newPaymentFixture(t)
	session := seedSession(t, store, "t1", "u1", models.SessionCompleted)
	actor := asDriver("t1", "u1")
	op := asOperator("t1")

	intent, err := svc.CreateIntent(ctx, actor, CreateIntentParams{
		Amount:    decimal.RequireFromString("20"),
		Currency:  "USD",
		SessionID: session.ID,
	})
	require.NoError(t, err)

	_, err = svc.Refund(ctx, op, intent.ID, RefundParams{})
	require.ErrorIs(t, err, errs.Conflict("payment is pending"))

	_, err = svc.Confirm(ctx, actor, intent.ProviderRef)
	require.NoError(t, err)

	refunded, err := svc.Refund(ctx, op, intent.ID, RefundParams{Reason: "station offline"})
	require.NoError(t, err)
	require.Equal(t, models.PaymentRefunded, refunded.Status)
	requireAmount(t, "20", refunded.RefundedAmount)
	require.Equal(t, 1, provider.refundCalls)

	_, err = svc.Refund(ctx, op, intent.ID, RefundParams{})
	require.ErrorIs(t, err, errs.Conflict("payment is refunded"))
}

func TestRefundPartialAndBounds(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newPaymentFixture(t)
	session := seedSession(t, store, "t1", "u1", models.SessionCompleted)
	actor := asDriver("t1", "u1")
	op := asOperator("t1")

	intent, err := svc.CreateIntent(ctx, actor, CreateIntentParams{
		Amount:    decimal.RequireFromString("20"),
		Currency:  "USD",
		SessionID: session.ID,
	})
	require.NoError(t, err)
	_, err = svc.Confirm(ctx, actor, intent.ProviderRef)
	require.NoError(t, err)

	_, err = svc.Refund(ctx, op, intent.ID, RefundParams{Amount: decimal.RequireFromString("25")})
	require.ErrorIs(t, err, errs.Validation("refund amount exceeds payment amount"))

	refunded, err := svc.Refund(ctx, op, intent.ID, RefundParams{Amount: decimal.RequireFromString("5")})
	require.NoError(t, err)
	require.Equal(t, models.PaymentRefunded, refunded.Status)
	requireAmount(t, "5", refunded.RefundedAmount)
	requireAmount(t, "20", refunded.Amount)
}

func TestRefundProviderFailureLeavesPayment(t *testing.T) {
	ctx := context.Background()
	svc, store, provider := newPaymentFixture(t)
	session := seedSession(t, store, "t1", "u1", models.SessionCompleted)
	actor := asDriver("t1", "u1")

	intent, err := svc.CreateIntent(ctx, actor, CreateIntentParams{
		Amount:    decimal.RequireFromString("20"),
		Currency:  "USD",
		SessionID: session.ID,
	})
	require.NoError(t, err)
	_, err = svc.Confirm(ctx, actor, intent.ProviderRef)
	require.NoError(t, err)

	provider.refundErr = errors.New("gateway unavailable")
	_, err = svc.Refund(ctx, asOperator("t1"), intent.ID, RefundParams{})
	require.ErrorIs(t, err, errs.External("", nil))

	got, err := store.Payments().GetByID(ctx, "t1", intent.ID)
	require.NoError(t, err)
	require.Equal(t, models.PaymentCompleted, got.Status)
	requireAmount(t, "0", got.RefundedAmount)
}

func TestRefundRequiresOperator(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newPaymentFixture(t)

	_, err := svc.Refund(ctx, asDriver("t1", "u1"), uuid.NewString(), RefundParams{})
	require.ErrorIs(t, err, errs.Authorization(""))
}

func TestHistoryScopesToDriver(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newPaymentFixture(t)
	s1 := seedSession(t, store, "t1", "u1", models.SessionCompleted)
	s2 := seedSession(t, store, "t1", "u2", models.SessionCompleted)

	_, err := svc.CreateIntent(ctx, asDriver("t1", "u1"), CreateIntentParams{
		Amount: decimal.RequireFromString("9"), Currency: "USD", SessionID: s1.ID,
	})
	require.NoError(t, err)
	_, err = svc.CreateIntent(ctx, asDriver("t1", "u2"), CreateIntentParams{
		Amount: decimal.RequireFromString("9"), Currency: "USD", SessionID: s2.ID,
	})
	require.NoError(t, err)

	// A driver asking for another user's history still gets their own.
	mine, err := svc.History(ctx, asDriver("t1", "u1"), HistoryParams{UserID: "u2"})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	require.Equal(t, "u1", mine[0].UserID)

	theirs, err := svc.History(ctx, asOperator("t1"), HistoryParams{UserID: "u2"})
	require.NoError(t, err)
	require.Len(t, theirs, 1)
	require.Equal(t, "u2", theirs[0].UserID)

	all, err := svc.History(ctx, asOperator("t1"), HistoryParams{})
	require.NoError(t, err)
	require.Len(t, all, 2)

	_, err = svc.History(ctx, asOperator("t1"), HistoryParams{Status: "paid"})
	require.ErrorIs(t, err, errs.Validation(""))
}

func TestStaleSurfacesOldPendingPayments(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newPaymentFixture(t)
	session := seedSession(t, store, "t1", "u1", models.SessionCompleted)

	old := &models.Payment{
		ID:             uuid.NewString(),
		TenantID:       "t1",
		UserID:         "u1",
		Amount:         decimal.RequireFromString("9"),
		Currency:       "USD",
		Status:         models.PaymentPending,
		ProviderRef:    "pi_stuck",
		SessionID:      &session.ID,
		RefundedAmount: decimal.Zero,
		CreatedAt:      time.Now().UTC().Add(-3 * time.Hour),
	}
	require.NoError(t, store.Payments().Create(ctx, old))

	fresh, err := svc.CreateIntent(ctx, asDriver("t1", "u1"), CreateIntentParams{
		Amount: decimal.RequireFromString("12"), Currency: "USD", SessionID: session.ID,
	})
	require.NoError(t, err)

	stale, err := svc.Stale(ctx, asOperator("t1"), time.Hour)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	require.Equal(t, old.ID, stale[0].ID)
	require.NotEqual(t, fresh.ID, stale[0].ID)

	_, err = svc.Stale(ctx, asDriver("t1", "u1"), time.Hour)
	require.ErrorIs(t, err, errs.Authorization(""))

	_, err = svc.Stale(ctx, asOperator("t1"), 0)
	require.ErrorIs(t, err, errs.Validation(""))
}

func TestRevenueAnalyticsBucketsByDay(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newPaymentFixture(t)

	s1, s2, s3 := uuid.NewString(), uuid.NewString(), uuid.NewString()
	seedCompletedPayment(t, store, "t1", "u1", "10", "USD", &s1, time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC))
	seedCompletedPayment(t, store, "t1", "u2", "5", "USD", &s2, time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC))
	seedCompletedPayment(t, store, "t1", "u1", "7.5", "USD", nil, time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC))
	seedCompletedPayment(t, store, "t1", "u3", "20", "EUR", &s3, time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC))
	// On the window's exclusive upper bound, so left out.
	seedCompletedPayment(t, store, "t1", "u1", "99", "USD", nil, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
	// Another tenant's revenue stays invisible.
	seedCompletedPayment(t, store, "t2", "u9", "50", "USD", nil, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))

	report, err := svc.RevenueAnalytics(ctx, asOperator("t1"), RevenueParams{
		From:        time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		To:          time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		Granularity: GranularityDay,
	})
	require.NoError(t, err)

	require.Len(t, report.Buckets, 2)
	require.Equal(t, "2026-03-10", report.Buckets[0].Period)
	requireAmount(t, "15", report.Buckets[0].Revenue)
	require.Equal(t, 2, report.Buckets[0].SessionCount)
	requireAmount(t, "7.5", report.Buckets[0].AvgSessionValue)
	require.Equal(t, "2026-03-11", report.Buckets[1].Period)
	requireAmount(t, "27.5", report.Buckets[1].Revenue)
	require.Equal(t, 1, report.Buckets[1].SessionCount)
	requireAmount(t, "27.5", report.Buckets[1].AvgSessionValue)

	requireAmount(t, "42.5", report.TotalRevenue)
	require.Equal(t, 3, report.TotalSessions)
	requireAmount(t, "14.1667", report.AvgSessionValue)
	requireAmount(t, "22.5", report.ByCurrency["USD"])
	requireAmount(t, "20", report.ByCurrency["EUR"])

	monthly, err := svc.RevenueAnalytics(ctx, asOperator("t1"), RevenueParams{
		From:        time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		To:          time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		Granularity: GranularityMonth,
	})
	require.NoError(t, err)
	require.Len(t, monthly.Buckets, 2)
	require.Equal(t, "2026-03", monthly.Buckets[0].Period)
	requireAmount(t, "42.5", monthly.Buckets[0].Revenue)
	require.Equal(t, "2026-04", monthly.Buckets[1].Period)
	requireAmount(t, "99", monthly.Buckets[1].Revenue)
}

func TestRevenueAnalyticsValidation(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newPaymentFixture(t)
	op := asOperator("t1")
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	_, err := svc.RevenueAnalytics(ctx, asDriver("t1", "u1"), RevenueParams{From: from, To: from.AddDate(0, 1, 0)})
	require.ErrorIs(t, err, errs.Authorization(""))

	_, err = svc.RevenueAnalytics(ctx, op, RevenueParams{From: from, To: from.AddDate(0, -1, 0)})
	require.ErrorIs(t, err, errs.Validation(""))

	_, err = svc.RevenueAnalytics(ctx, op, RevenueParams{From: from, To: from.AddDate(0, 1, 0), Granularity: "hourly"})
	require.ErrorIs(t, err, errs.Validation(""))
}

func TestSubscriptionLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, store, provider := newPaymentFixture(t)
	admin := asAdmin("t1")
	seedUser(t, store, "t1", admin.UserID, models.RoleTenantAdmin)

	sub, err := svc.CreateSubscription(ctx, admin, "fleet")
	require.NoError(t, err)
	require.Equal(t, models.SubscriptionActive, sub.Status)
	require.Equal(t, "sub_t1", sub.ProviderRef)
	require.True(t, sub.PeriodEnd.After(sub.PeriodStart))

	_, err = svc.CreateSubscription(ctx, admin, "fleet")
	require.ErrorIs(t, err, errs.Conflict(""))

	cancelled, err := svc.CancelSubscription(ctx, admin)
	require.NoError(t, err)
	require.Equal(t, models.SubscriptionCanceled, cancelled.Status)
	require.Equal(t, []string{"sub_t1"}, provider.cancelledSubs)

	_, err = svc.CancelSubscription(ctx, admin)
	require.ErrorIs(t, err, errs.NotFound(""))
}

func TestCreateSubscriptionGuards(t *testing.T) {
	ctx := context.Background()
	svc, store, provider := newPaymentFixture(t)
	admin := asAdmin("t1")
	seedUser(t, store, "t1", admin.UserID, models.RoleTenantAdmin)

	_, err := svc.CreateSubscription(ctx, asOperator("t1"), "fleet")
	require.ErrorIs(t, err, errs.Authorization(""))

	provider.subErr = payment.ErrUnknownPlan
	_, err = svc.CreateSubscription(ctx, admin, "bogus-plan")
	require.ErrorIs(t, err, errs.Validation(""))
}
