package service

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"chargenet/internal/errs"
	"chargenet/internal/models"
	"chargenet/internal/storage"
)

const (
	demandHistoryDays = 28
	demandHorizon     = 24

	healthWatchBelow      = 75
	healthServiceDueBelow = 50
)

// AnalyticsService derives operational forecasts from session and port
// history.
type AnalyticsService struct {
	store  storage.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewAnalyticsService builds AnalyticsService.
func NewAnalyticsService(store storage.Store, logger *zap.Logger) *AnalyticsService {
	return &AnalyticsService{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// DemandPoint is the expected load for one future hour.
type DemandPoint struct {
	Hour              time.Time `json:"hour"`
	ExpectedEnergyKWh float64   `json:"expected_energy_kwh"`
	ExpectedSessions  float64   `json:"expected_sessions"`
}

// StationDemand is a station's hourly demand forecast.
type StationDemand struct {
	StationID   string        `json:"station_id"`
	StationName string        `json:"station_name"`
	Points      []DemandPoint `json:"points"`
}

// DemandForecast projects per-station hourly demand for the next day from
// four weeks of session history. Each future hour takes the average of past
// sessions in the same (weekday, hour) slot; slots with no history fall
// back to the station-wide hourly mean.
func (s *AnalyticsService) DemandForecast(ctx context.Context, actor Actor) ([]StationDemand, error) {
	if err := requireRole(actor, models.RoleOperator); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	since := now.AddDate(0, 0, -demandHistoryDays)
	sessions, err := s.store.Sessions().ListSince(ctx, actor.TenantID, since)
	if err != nil {
		return nil, fmt.Errorf("list session history: %w", err)
	}
	stations, err := s.store.Stations().List(ctx, actor.TenantID)
	if err != nil {
		return nil, fmt.Errorf("list stations: %w", err)
	}

	type slot struct {
		weekday time.Weekday
		hour    int
	}
	type history struct {
		energy   map[slot]float64
		sessions map[slot]int
		total    float64
		count    int
	}
	byStation := make(map[string]*history, len(stations))
	for _, session := range sessions {
		if session.Status == models.SessionInitiated || session.Status == models.SessionCancelled {
			continue
		}
		h := byStation[session.StationID]
		if h == nil {
			h = &history{energy: make(map[slot]float64), sessions: make(map[slot]int)}
			byStation[session.StationID] = h
		}
		start := session.StartTime.UTC()
		key := slot{weekday: start.Weekday(), hour: start.Hour()}
		h.energy[key] += session.EnergyKWh
		h.sessions[key]++
		h.total += session.EnergyKWh
		h.count++
	}

	weeks := float64(demandHistoryDays) / 7
	meanHourly := func(h *history) float64 {
		return h.total / (demandHistoryDays * 24)
	}

	forecastStart := now.Truncate(time.Hour).Add(time.Hour)
	out := make([]StationDemand, 0, len(stations))
	for _, station := range stations {
		demand := StationDemand{
			StationID:   station.ID,
			StationName: station.Name,
			Points:      make([]DemandPoint, 0, demandHorizon),
		}
		h := byStation[station.ID]
		for i := 0; i < demandHorizon; i++ {
			hour := forecastStart.Add(time.Duration(i) * time.Hour)
			point := DemandPoint{Hour: hour}
			if h != nil {
				key := slot{weekday: hour.Weekday(), hour: hour.Hour()}
				if count := h.sessions[key]; count > 0 {
					point.ExpectedEnergyKWh = round2(h.energy[key] / weeks)
					point.ExpectedSessions = round2(float64(count) / weeks)
				} else {
					point.ExpectedEnergyKWh = round2(meanHourly(h))
				}
			}
			demand.Points = append(demand.Points, point)
		}
		out = append(out, demand)
	}
	return out, nil
}

// Port health buckets.
const (
	HealthOK         = "ok"
	HealthWatch      = "watch"
	HealthServiceDue = "service_due"
)

// PortHealth scores one port's maintenance outlook.
type PortHealth struct {
	PortID      string     `json:"port_id"`
	StationID   string     `json:"station_id"`
	Status      string     `json:"status"`
	FaultCount  int        `json:"fault_count"`
	LastFaultAt *time.Time `json:"last_fault_at,omitempty"`
	SessionsDay float64    `json:"sessions_per_day"`
	Score       int        `json:"score"`
	Bucket      string     `json:"bucket"`
}

// MaintenanceOutlook scores every port from fault history and utilization.
// Worst ports sort first. An out-of-order port is always service_due.
func (s *AnalyticsService) MaintenanceOutlook(ctx context.Context, actor Actor) ([]PortHealth, error) {
	if err := requireRole(actor, models.RoleOperator); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	ports, err := s.store.Ports().ListByTenant(ctx, actor.TenantID)
	if err != nil {
		return nil, fmt.Errorf("list ports: %w", err)
	}
	since := now.AddDate(0, 0, -demandHistoryDays)
	sessions, err := s.store.Sessions().ListSince(ctx, actor.TenantID, since)
	if err != nil {
		return nil, fmt.Errorf("list session history: %w", err)
	}
	usage := make(map[string]int, len(ports))
	for _, session := range sessions {
		if session.Status == models.SessionCancelled {
			continue
		}
		usage[session.PortID]++
	}

	out := make([]PortHealth, 0, len(ports))
	for _, port := range ports {
		perDay := float64(usage[port.ID]) / demandHistoryDays
		score := 100.0
		score -= math.Min(float64(port.FaultCount)*15, 60)
		if port.LastFaultAt != nil {
			switch age := now.Sub(*port.LastFaultAt); {
			case age <= 7*24*time.Hour:
				score -= 20
			case age <= 30*24*time.Hour:
				score -= 10
			}
		}
		score -= math.Min(perDay*2, 15)
		score = math.Max(0, math.Min(100, score))

		bucket := HealthOK
		switch {
		case port.Status == models.PortOutOfOrder, score < healthServiceDueBelow:
			bucket = HealthServiceDue
		case score < healthWatchBelow:
			bucket = HealthWatch
		}

		out = append(out, PortHealth{
			PortID:      port.ID,
			StationID:   port.StationID,
			Status:      string(port.Status),
			FaultCount:  port.FaultCount,
			LastFaultAt: port.LastFaultAt,
			SessionsDay: round2(perDay),
			Score:       int(math.Round(score)),
			Bucket:      bucket,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score < out[j].Score
		}
		return out[i].PortID < out[j].PortID
	})
	return out, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

var revenueSheetHeader = []string{"Period", "Revenue", "Sessions", "Avg Session Value"}

// RenderRevenueWorkbook renders a revenue report as an xlsx workbook.
func RenderRevenueWorkbook(report *RevenueReport) ([]byte, error) {
	if report == nil {
		return nil, errs.Validation("nothing to export")
	}
	f := excelize.NewFile()

	const sheet = "Revenue"
	index, err := f.NewSheet(sheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create header style: %w", err)
	}

	for col, header := range revenueSheetHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("write header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("style header cell %s: %w", cell, err)
		}
	}
	if err := f.SetColWidth(sheet, "A", "D", 20); err != nil {
		f.Close()
		return nil, fmt.Errorf("set column width: %w", err)
	}

	row := 2
	for _, bucket := range report.Buckets {
		cells := []any{
			bucket.Period,
			bucket.Revenue.InexactFloat64(),
			bucket.SessionCount,
			bucket.AvgSessionValue.InexactFloat64(),
		}
		for col, value := range cells {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				f.Close()
				return nil, fmt.Errorf("convert coordinates: %w", err)
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				f.Close()
				return nil, fmt.Errorf("write cell %s: %w", cell, err)
			}
		}
		row++
	}

	totals := []any{
		fmt.Sprintf("TOTAL %s to %s", report.From.Format("2006-01-02"), report.To.Format("2006-01-02")),
		report.TotalRevenue.InexactFloat64(),
		report.TotalSessions,
		report.AvgSessionValue.InexactFloat64(),
	}
	for col, value := range totals {
		cell, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, value); err != nil {
			f.Close()
			return nil, fmt.Errorf("write totals cell %s: %w", cell, err)
		}
	}

	if err := f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("freeze header: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("render workbook: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close workbook: %w", err)
	}
	return buf.Bytes(), nil
}
