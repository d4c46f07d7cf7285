package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"chargenet/internal/errs"
	"chargenet/internal/geo"
	"chargenet/internal/models"
	"chargenet/internal/service"
)

// defaultNearbyRadiusKm applies when a nearby query does not set radius_km.
const defaultNearbyRadiusKm = 5

// StationHandlers serves station and port management endpoints.
type StationHandlers struct {
	stations *service.StationService
	logger   *zap.Logger
}

// NewStationHandlers returns handler struct.
func NewStationHandlers(stations *service.StationService, logger *zap.Logger) *StationHandlers {
	return &StationHandlers{stations: stations, logger: logger}
}

// Create handles POST /api/v1/stations.
func (h *StationHandlers) Create(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r, h.logger)
	if !ok {
		return
	}

	var req struct {
		Name      string               `json:"name"`
		Latitude  float64              `json:"latitude"`
		Longitude float64              `json:"longitude"`
		Pricing   models.PricingPolicy `json:"pricing"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	station, err := h.stations.Create(r.Context(), act, service.CreateStationParams{
		Name:      req.Name,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		Pricing:   req.Pricing,
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, station)
}

// List handles GET /api/v1/stations.
func (h *StationHandlers) List(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r, h.logger)
	if !ok {
		return
	}
	stations, err := h.stations.List(r.Context(), act)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stations": stations})
}

// Get handles GET /api/v1/stations/{id}.
func (h *StationHandlers) Get(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r, h.logger)
	if !ok {
		return
	}
	detail, err := h.stations.Get(r.Context(), act, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// Update handles PATCH /api/v1/stations/{id}.
func (h *StationHandlers) Update(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r, h.logger)
	if !ok {
		return
	}

	var req struct {
		Name      *string               `json:"name"`
		Latitude  *float64              `json:"latitude"`
		Longitude *float64              `json:"longitude"`
		Pricing   *models.PricingPolicy `json:"pricing"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	station, err := h.stations.Update(r.Context(), act, r.PathValue("id"), service.UpdateStationParams{
		Name:      req.Name,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		Pricing:   req.Pricing,
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, station)
}

// Delete handles DELETE /api/v1/stations/{id}.
func (h *StationHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r, h.logger)
	if !ok {
		return
	}
	if err := h.stations.Delete(r.Context(), act, r.PathValue("id")); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

// AddPort handles POST /api/v1/stations/{id}/ports.
func (h *StationHandlers) AddPort(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r, h.logger)
	if !ok {
		return
	}

	var req struct {
		Connector string  `json:"connector_type"`
		RatedKW   float64 `json:"rated_kw"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	port, err := h.stations.AddPort(r.Context(), act, r.PathValue("id"), service.AddPortParams{
		Connector: models.ConnectorType(req.Connector),
		RatedKW:   req.RatedKW,
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, port)
}

// UpdatePortStatus handles PATCH /api/v1/stations/{id}/ports/{portID}/status.
func (h *StationHandlers) UpdatePortStatus(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r, h.logger)
	if !ok {
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	// The port must belong to the addressed station before anything moves.
	stationID, portID := r.PathValue("id"), r.PathValue("portID")
	detail, err := h.stations.Get(r.Context(), act, stationID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	owned := false
	for _, p := range detail.Ports {
		if p.ID == portID {
			owned = true
			break
		}
	}
	if !owned {
		writeServiceError(w, h.logger, errs.NotFound("port not found").WithDetail("port_id", portID))
		return
	}

	port, err := h.stations.UpdatePortStatus(r.Context(), act, portID, models.PortStatus(req.Status))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, port)
}

// Nearby handles GET /api/v1/stations/nearby.
func (h *StationHandlers) Nearby(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r, h.logger)
	if !ok {
		return
	}

	q := r.URL.Query()
	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil {
		writeServiceError(w, h.logger, errs.Validation("lat is required"))
		return
	}
	lon, err := strconv.ParseFloat(q.Get("lon"), 64)
	if err != nil {
		writeServiceError(w, h.logger, errs.Validation("lon is required"))
		return
	}
	radius := float64(defaultNearbyRadiusKm)
	if v := q.Get("radius_km"); v != "" {
		radius, err = strconv.ParseFloat(v, 64)
		if err != nil {
			writeServiceError(w, h.logger, errs.Validation("invalid radius_km"))
			return
		}
	}
	filter := geo.Filter{
		Connector:     models.ConnectorType(q.Get("connector")),
		AvailableOnly: q.Get("available_only") == "true",
	}

	results, err := h.stations.FindNearby(r.Context(), act, geo.Point{Lat: lat, Lon: lon}, radius, filter)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stations": results})
}

// Stats handles GET /api/v1/stations/stats.
func (h *StationHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r, h.logger)
	if !ok {
		return
	}
	stats, err := h.stations.Stats(r.Context(), act)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
