package service

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"chargenet/internal/errs"
	"chargenet/internal/models"
	"chargenet/internal/storage"
	"chargenet/internal/storage/memory"
)

func newAnalyticsFixture(t *testing.T) (*AnalyticsService, storage.Store) {
	t.Helper()
	store := memory.NewStore()
	svc := NewAnalyticsService(store, zap.NewNop())
	return svc, store
}

func addHistorySession(t *testing.T, store storage.Store, stationID, portID string, start time.Time, energy float64, status models.SessionStatus) {
	t.Helper()
	session := &models.ChargingSession{
		ID:        uuid.NewString(),
		PortID:    portID,
		StationID: stationID,
		TenantID:  "t1",
		UserID:    "u1",
		Status:    status,
		StartTime: start,
		EnergyKWh: energy,
	}
	if status == models.SessionCompleted {
		end := start.Add(time.Hour)
		session.EndTime = &end
	}
	require.NoError(t, store.Sessions().Create(context.Background(), session))
}

func TestDemandForecastUsesWeekdayHourAverages(t *testing.T) {
	ctx := context.Background()
	svc, store := newAnalyticsFixture(t)
	// A Tuesday afternoon; the forecast starts at 13:00.
	now := time.Date(2026, 3, 10, 12, 30, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	busy := seedStation(t, store, "t1")
	quiet := seedStation(t, store, "t1")

	// Three past Tuesdays at 14:00.
	for i, energy := range []float64{20, 30, 10} {
		start := time.Date(2026, 3, 3, 14, 0, 0, 0, time.UTC).AddDate(0, 0, -7*i)
		addHistorySession(t, store, busy.ID, uuid.NewString(), start, energy, models.SessionCompleted)
	}
	// Cancelled history never counts.
	addHistorySession(t, store, busy.ID, uuid.NewString(),
		time.Date(2026, 3, 3, 14, 0, 0, 0, time.UTC), 500, models.SessionCancelled)

	forecast, err := svc.DemandForecast(ctx, asOperator("t1"))
	require.NoError(t, err)
	require.Len(t, forecast, 2)

	byStation := make(map[string]StationDemand, len(forecast))
	for _, d := range forecast {
		byStation[d.StationID] = d
	}

	demand := byStation[busy.ID]
	require.Len(t, demand.Points, 24)
	require.Equal(t, time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC), demand.Points[0].Hour)

	// Tuesday 14:00 averages the three matching sessions over four weeks.
	require.Equal(t, 15.0, demand.Points[1].ExpectedEnergyKWh)
	require.Equal(t, 0.75, demand.Points[1].ExpectedSessions)

	// An hour with no slot history falls back to the station-wide mean.
	require.Equal(t, 0.09, demand.Points[14].ExpectedEnergyKWh)
	require.Zero(t, demand.Points[14].ExpectedSessions)

	for _, point := range byStation[quiet.ID].Points {
		require.Zero(t, point.ExpectedEnergyKWh)
		require.Zero(t, point.ExpectedSessions)
	}

	_, err = svc.DemandForecast(ctx, asDriver("t1", "u1"))
	require.ErrorIs(t, err, errs.Authorization(""))
}

func TestMaintenanceOutlookRanksWorstFirst(t *testing.T) {
	ctx := context.Background()
	svc, store := newAnalyticsFixture(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	station := seedStation(t, store, "t1")

	addPort := func(status models.PortStatus, faults int, lastFault *time.Time) *models.ChargingPort {
		port := &models.ChargingPort{
			ID:          uuid.NewString(),
			StationID:   station.ID,
			TenantID:    "t1",
			Connector:   models.ConnectorCCS2,
			RatedKW:     50,
			Status:      status,
			FaultCount:  faults,
			LastFaultAt: lastFault,
		}
		require.NoError(t, store.Ports().Create(ctx, port))
		return port
	}
	daysAgo := func(d int) *time.Time {
		at := now.AddDate(0, 0, -d)
		return &at
	}

	healthy := addPort(models.PortAvailable, 0, nil)
	broken := addPort(models.PortOutOfOrder, 2, daysAgo(2))
	flaky := addPort(models.PortAvailable, 2, daysAgo(10))
	failing := addPort(models.PortAvailable, 5, daysAgo(1))

	// Fourteen sessions in four weeks on the healthy port.
	for i := 0; i < 14; i++ {
		addHistorySession(t, store, station.ID, healthy.ID,
			now.AddDate(0, 0, -i).Add(-2*time.Hour), 10, models.SessionCompleted)
	}

	health, err := svc.MaintenanceOutlook(ctx, asOperator("t1"))
	require.NoError(t, err)
	require.Len(t, health, 4)

	require.Equal(t, failing.ID, health[0].PortID)
	require.Equal(t, 20, health[0].Score)
	require.Equal(t, HealthServiceDue, health[0].Bucket)

	require.Equal(t, broken.ID, health[1].PortID)
	require.Equal(t, 50, health[1].Score)
	// Out of order forces service_due regardless of score.
	require.Equal(t, HealthServiceDue, health[1].Bucket)

	require.Equal(t, flaky.ID, health[2].PortID)
	require.Equal(t, 60, health[2].Score)
	require.Equal(t, HealthWatch, health[2].Bucket)

	require.Equal(t, healthy.ID, health[3].PortID)
	require.Equal(t, 99, health[3].Score)
	require.Equal(t, HealthOK, health[3].Bucket)
	require.Equal(t, 0.5, health[3].SessionsDay)

	_, err = svc.MaintenanceOutlook(ctx, asDriver("t1", "u1"))
	require.ErrorIs(t, err, errs.Authorization(""))
}

func TestRenderRevenueWorkbook(t *testing.T) {
	report := &RevenueReport{
		From:        time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		To:          time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		Granularity: GranularityDay,
		Buckets: []RevenueBucket{
			{Period: "2026-03-10", Revenue: decimal.RequireFromString("15"), SessionCount: 2, AvgSessionValue: decimal.RequireFromString("7.5")},
			{Period: "2026-03-11", Revenue: decimal.RequireFromString("27.5"), SessionCount: 1, AvgSessionValue: decimal.RequireFromString("27.5")},
		},
		TotalRevenue:    decimal.RequireFromString("42.5"),
		TotalSessions:   3,
		AvgSessionValue: decimal.RequireFromString("14.1667"),
		ByCurrency:      map[string]decimal.Decimal{"USD": decimal.RequireFromString("42.5")},
	}

	blob, err := RenderRevenueWorkbook(report)
	require.NoError(t, err)
	require.NotEmpty(t, blob)

	f, err := excelize.OpenReader(bytes.NewReader(blob))
	require.NoError(t, err)
	defer f.Close()

	require.Equal(t, []string{"Revenue"}, f.GetSheetList())

	rows, err := f.GetRows("Revenue")
	require.NoError(t, err)
	require.Len(t, rows, 4)
	require.Equal(t, revenueSheetHeader, rows[0])
	require.Equal(t, []string{"2026-03-10", "15", "2", "7.5"}, rows[1])
	require.Equal(t, []string{"2026-03-11", "27.5", "1", "27.5"}, rows[2])
	require.Equal(t, "TOTAL 2026-03-01 to 2026-04-01", rows[3][0])
	require.Equal(t, "42.5", rows[3][1])
	require.Equal(t, "3", rows[3][2])

	_, err = RenderRevenueWorkbook(nil)
	require.ErrorIs(t, err, errs.Validation(""))
}
