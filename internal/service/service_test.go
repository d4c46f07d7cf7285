package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"chargenet/internal/models"
	"chargenet/internal/payment"
	"chargenet/internal/storage"
)

var errLiveDown = errors.New("live store down")

// fakeLive is an in-memory LiveState. Flipping fail makes every call error,
// which drives the services onto their store fallbacks.
type fakeLive struct {
	mu       sync.Mutex
	fail     bool
	ports    map[string]string
	sessions map[string]struct{}
	energy   float64
}

func newFakeLive() *fakeLive {
	return &fakeLive{ports: make(map[string]string), sessions: make(map[string]struct{})}
}

func (f *fakeLive) SetPortStatus(_ context.Context, _, portID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errLiveDown
	}
	f.ports[portID] = status
	return nil
}

func (f *fakeLive) RemovePort(_ context.Context, _, portID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errLiveDown
	}
	delete(f.ports, portID)
	return nil
}

func (f *fakeLive) PortStatusCounts(_ context.Context, _ string) (map[string]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errLiveDown
	}
	counts := make(map[string]int, len(f.ports))
	for _, status := range f.ports {
		counts[status]++
	}
	return counts, nil
}

func (f *fakeLive) AddActiveSession(_ context.Context, _, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errLiveDown
	}
	f.sessions[sessionID] = struct{}{}
	return nil
}

func (f *fakeLive) RemoveActiveSession(_ context.Context, _, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errLiveDown
	}
	delete(f.sessions, sessionID)
	return nil
}

func (f *fakeLive) ActiveSessionCount(_ context.Context, _ string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return 0, errLiveDown
	}
	return int64(len(f.sessions)), nil
}

func (f *fakeLive) AddEnergyToday(_ context.Context, _ string, kwh float64, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errLiveDown
	}
	f.energy += kwh
	return nil
}

func (f *fakeLive) EnergyToday(_ context.Context, _ string, _ time.Time) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return 0, errLiveDown
	}
	return f.energy, nil
}

func (f *fakeLive) hasSession(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.sessions[id]
	return ok
}

func (f *fakeLive) portStatus(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ports[id]
}

// fakeProvider scripts the payment provider. The zero value approves
// everything.
type fakeProvider struct {
	mu            sync.Mutex
	createErr     error
	confirmErr    error
	refundErr     error
	subErr        error
	confirmStatus payment.IntentStatus
	createCalls   int
	confirmCalls  int
	refundCalls   int
	cancelledSubs []string
}

func (f *fakeProvider) CreateIntent(_ context.Context, _ payment.CreateIntentParams) (*payment.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &payment.Intent{
		ProviderRef:  fmt.Sprintf("pi_%03d", f.createCalls),
		ClientSecret: "secret",
		Status:       payment.IntentPending,
	}, nil
}

func (f *fakeProvider) ConfirmIntent(_ context.Context, providerRef string) (*payment.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmCalls++
	if f.confirmErr != nil {
		return nil, f.confirmErr
	}
	status := f.confirmStatus
	if status == "" {
		status = payment.IntentSucceeded
	}
	return &payment.Intent{ProviderRef: providerRef, Status: status}, nil
}

func (f *fakeProvider) Refund(_ context.Context, providerRef string, _ decimal.Decimal, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refundCalls++
	if f.refundErr != nil {
		return "", f.refundErr
	}
	return "re_" + providerRef, nil
}

func (f *fakeProvider) CreateSubscription(_ context.Context, params payment.SubscriptionParams) (*payment.ProviderSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return nil, f.subErr
	}
	start := time.Now().UTC()
	return &payment.ProviderSubscription{
		Ref:         "sub_" + params.TenantID,
		CustomerRef: "cus_" + params.TenantID,
		PeriodStart: start,
		PeriodEnd:   start.AddDate(0, 1, 0),
	}, nil
}

func (f *fakeProvider) CancelSubscription(_ context.Context, providerRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelledSubs = append(f.cancelledSubs, providerRef)
	return nil
}

func asDriver(tenantID, userID string) Actor {
	return Actor{UserID: userID, TenantID: tenantID, Role: models.RoleDriver}
}

func asOperator(tenantID string) Actor {
	return Actor{UserID: "op-" + tenantID, TenantID: tenantID, Role: models.RoleOperator}
}

func asAdmin(tenantID string) Actor {
	return Actor{UserID: "admin-" + tenantID, TenantID: tenantID, Role: models.RoleTenantAdmin}
}

func testPricing() models.PricingPolicy {
	return models.PricingPolicy{
		BaseRate:       decimal.RequireFromString("0.30"),
		PeakMultiplier: decimal.RequireFromString("1.5"),
		PeakHours:      []int{17, 18, 19},
		Currency:       "USD",
	}
}

func seedStation(t *testing.T, store storage.Store, tenantID string) *models.Station {
	t.Helper()
	station := &models.Station{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Name:      "Depot " + tenantID,
		Latitude:  37.7749,
		Longitude: -122.4194,
		Pricing:   testPricing(),
	}
	require.NoError(t, store.Stations().Create(context.Background(), station))
	return station
}

func seedPort(t *testing.T, store storage.Store, station *models.Station, status models.PortStatus) *models.ChargingPort {
	t.Helper()
	port := &models.ChargingPort{
		ID:        uuid.NewString(),
		StationID: station.ID,
		TenantID:  station.TenantID,
		Connector: models.ConnectorCCS2,
		RatedKW:   22,
		Status:    status,
	}
	require.NoError(t, store.Ports().Create(context.Background(), port))
	return port
}

func seedUser(t *testing.T, store storage.Store, tenantID, userID string, role models.Role) *models.User {
	t.Helper()
	user := &models.User{
		ID:           userID,
		TenantID:     tenantID,
		Email:        userID + "@" + tenantID + ".test",
		PasswordHash: "irrelevant",
		FirstName:    "Test",
		LastName:     "User",
		Role:         role,
		Active:       true,
	}
	require.NoError(t, store.Users().Create(context.Background(), user))
	return user
}

func seedSession(t *testing.T, store storage.Store, tenantID, userID string, status models.SessionStatus) *models.ChargingSession {
	t.Helper()
	now := time.Now().UTC()
	session := &models.ChargingSession{
		ID:        uuid.NewString(),
		PortID:    uuid.NewString(),
		StationID: uuid.NewString(),
		TenantID:  tenantID,
		UserID:    userID,
		Status:    status,
		StartTime: now.Add(-time.Hour),
		EnergyKWh: 30,
		Cost:      decimal.RequireFromString("9"),
	}
	if status == models.SessionCompleted {
		end := now
		session.EndTime = &end
	}
	require.NoError(t, store.Sessions().Create(context.Background(), session))
	return session
}

func seedCompletedPayment(t *testing.T, store storage.Store, tenantID, userID, amount, currency string, sessionID *string, completedAt time.Time) *models.Payment {
	t.Helper()
	p := &models.Payment{
		ID:             uuid.NewString(),
		TenantID:       tenantID,
		UserID:         userID,
		Amount:         decimal.RequireFromString(amount),
		Currency:       currency,
		Status:         models.PaymentCompleted,
		ProviderRef:    "pi_" + uuid.NewString(),
		SessionID:      sessionID,
		RefundedAmount: decimal.Zero,
		CompletedAt:    &completedAt,
	}
	require.NoError(t, store.Payments().Create(context.Background(), p))
	return p
}
