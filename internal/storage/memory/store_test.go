package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"chargenet/internal/models"
	"chargenet/internal/storage"
)

func TestStationsAreInvisibleAcrossTenants(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	station := &models.Station{ID: "st-1", TenantID: "tenant-a", Name: "Depot"}
	require.NoError(t, store.Stations().Create(ctx, station))

	got, err := store.Stations().GetByID(ctx, "tenant-a", "st-1")
	require.NoError(t, err)
	require.Equal(t, "Depot", got.Name)

	_, err = store.Stations().GetByID(ctx, "tenant-b", "st-1")
	require.ErrorIs(t, err, storage.ErrNotFound)

	stations, err := store.Stations().List(ctx, "tenant-b")
	require.NoError(t, err)
	require.Empty(t, stations)

	require.ErrorIs(t, store.Stations().Delete(ctx, "tenant-b", "st-1"), storage.ErrNotFound)
}

func TestPortAllowsSingleLiveSession(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	first := &models.ChargingSession{
		ID: "s-1", PortID: "p-1", StationID: "st-1", TenantID: "t-1", UserID: "u-1",
		Status: models.SessionActive, StartTime: time.Now().UTC(),
	}
	require.NoError(t, store.Sessions().Create(ctx, first))

	second := &models.ChargingSession{
		ID: "s-2", PortID: "p-1", StationID: "st-1", TenantID: "t-1", UserID: "u-2",
		Status: models.SessionActive, StartTime: time.Now().UTC(),
	}
	require.ErrorIs(t, store.Sessions().Create(ctx, second), storage.ErrDuplicate)

	// An initiated session may exist alongside, but cannot go live while the
	// port is held.
	second.Status = models.SessionInitiated
	require.NoError(t, store.Sessions().Create(ctx, second))

	second.Status = models.SessionActive
	require.ErrorIs(t, store.Sessions().Update(ctx, second), storage.ErrDuplicate)

	// Once the holder finishes, the port frees up.
	first.Status = models.SessionCompleted
	end := time.Now().UTC()
	first.EndTime = &end
	require.NoError(t, store.Sessions().Update(ctx, first))
	require.NoError(t, store.Sessions().Update(ctx, second))
}

func TestPaymentSettlementConstraints(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	sessionID := "s-1"

	intent := func(id string, amount string, status models.PaymentStatus) *models.Payment {
		return &models.Payment{
			ID: id, TenantID: "t-1", UserID: "u-1",
			Amount: decimal.RequireFromString(amount), Currency: "USD",
			Status: status, SessionID: &sessionID,
		}
	}

	require.NoError(t, store.Payments().Create(ctx, intent("pay-1", "12.50", models.PaymentPending)))
	require.ErrorIs(t, store.Payments().Create(ctx, intent("pay-2", "12.50", models.PaymentPending)), storage.ErrDuplicate)

	// Different amount opens a separate intent.
	require.NoError(t, store.Payments().Create(ctx, intent("pay-3", "20.00", models.PaymentPending)))

	settled := intent("pay-1", "12.50", models.PaymentCompleted)
	now := time.Now().UTC()
	settled.CompletedAt = &now
	require.NoError(t, store.Payments().Update(ctx, settled))

	other := intent("pay-3", "20.00", models.PaymentCompleted)
	other.CompletedAt = &now
	require.ErrorIs(t, store.Payments().Update(ctx, other), storage.ErrDuplicate)
}

func TestInTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	boom := errors.New("boom")
	err := store.InTx(ctx, func(tx storage.Store) error {
		if err := tx.Tenants().Create(ctx, &models.Tenant{
			ID: "t-1", Name: "Volt", Type: models.TenantStationOperator, Domain: "volt", Active: true,
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = store.Tenants().GetByID(ctx, "t-1")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestInTxCommitsAndJoinsNested(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	err := store.InTx(ctx, func(tx storage.Store) error {
		if err := tx.Tenants().Create(ctx, &models.Tenant{
			ID: "t-1", Name: "Volt", Type: models.TenantStationOperator, Domain: "volt", Active: true,
		}); err != nil {
			return err
		}
		return tx.InTx(ctx, func(inner storage.Store) error {
			return inner.Users().Create(ctx, &models.User{
				ID: "u-1", TenantID: "t-1", Email: "ops@volt.io",
				PasswordHash: "x", Role: models.RoleTenantAdmin, Active: true,
			})
		})
	})
	require.NoError(t, err)

	user, err := store.Users().GetByID(ctx, "t-1", "u-1")
	require.NoError(t, err)
	require.Equal(t, "ops@volt.io", user.Email)
}

func TestSubscriptionSingleActivePerTenant(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	now := time.Now().UTC()

	sub := func(id string) *models.Subscription {
		return &models.Subscription{
			ID: id, TenantID: "t-1", Plan: "fleet", Status: models.SubscriptionActive,
			PeriodStart: now, PeriodEnd: now.AddDate(0, 1, 0),
		}
	}

	require.NoError(t, store.Subscriptions().Create(ctx, sub("sub-1")))
	require.ErrorIs(t, store.Subscriptions().Create(ctx, sub("sub-2")), storage.ErrDuplicate)

	canceled := sub("sub-1")
	canceled.Status = models.SubscriptionCanceled
	require.NoError(t, store.Subscriptions().Update(ctx, canceled))
	require.NoError(t, store.Subscriptions().Create(ctx, sub("sub-2")))
}

func TestUserEmailUniquePerTenantOnly(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	user := func(id, tenantID string) *models.User {
		return &models.User{
			ID: id, TenantID: tenantID, Email: "Driver@example.com",
			PasswordHash: "x", Role: models.RoleDriver, Active: true,
		}
	}

	require.NoError(t, store.Users().Create(ctx, user("u-1", "t-1")))
	require.ErrorIs(t, store.Users().Create(ctx, user("u-2", "t-1")), storage.ErrDuplicate)
	require.NoError(t, store.Users().Create(ctx, user("u-3", "t-2")))

	matches, err := store.Users().FindByEmail(ctx, "driver@example.com")
	require.NoError(t, err)
	require.Len(t, matches, 2)
}
