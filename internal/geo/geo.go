// Package geo computes great-circle proximity of stations to a query point.
// It is pure and safe to run against read-replica data.
package geo

import (
	"math"
	"sort"

	"chargenet/internal/errs"
	"chargenet/internal/models"
)

const (
	earthRadiusKm = 6371.0

	// maxResults caps a nearby query regardless of radius.
	maxResults = 50
)

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Validate checks coordinate ranges.
func (p Point) Validate() error {
	if p.Lat < -90 || p.Lat > 90 {
		return errs.Validation("latitude out of range")
	}
	if p.Lon < -180 || p.Lon > 180 {
		return errs.Validation("longitude out of range")
	}
	return nil
}

// Distance returns the haversine distance between two points in kilometers.
func Distance(a, b Point) float64 {
	latA := a.Lat * math.Pi / 180
	latB := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(latA)*math.Cos(latB)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}

// StationPorts pairs a station with its ports for proximity filtering.
type StationPorts struct {
	Station models.Station
	Ports   []models.ChargingPort
}

// Filter narrows the ports considered when matching stations.
type Filter struct {
	Connector     models.ConnectorType
	AvailableOnly bool
}

// Result is one station within radius, with the ports that passed the filter.
type Result struct {
	Station    models.Station        `json:"station"`
	DistanceKm float64               `json:"distance_km"`
	Ports      []models.ChargingPort `json:"ports"`
}

// Nearby returns stations strictly closer than radiusKm to origin, sorted by
// ascending distance and capped at 50 results. When a connector or
// availability filter is set, stations with no matching port are dropped.
func Nearby(stations []StationPorts, origin Point, radiusKm float64, filter Filter) []Result {
	filtering := filter.Connector != "" || filter.AvailableOnly

	results := make([]Result, 0, len(stations))
	for _, sp := range stations {
		dist := Distance(origin, Point{Lat: sp.Station.Latitude, Lon: sp.Station.Longitude})
		if dist >= radiusKm {
			continue
		}

		ports := matchPorts(sp.Ports, filter)
		if filtering && len(ports) == 0 {
			continue
		}

		results = append(results, Result{
			Station:    sp.Station,
			DistanceKm: dist,
			Ports:      ports,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].DistanceKm < results[j].DistanceKm
	})

	if len(results) > maxResults {
		results = results[:maxResults]
	}
	return results
}

func matchPorts(ports []models.ChargingPort, filter Filter) []models.ChargingPort {
	matched := make([]models.ChargingPort, 0, len(ports))
	for _, p := range ports {
		if filter.Connector != "" && p.Connector != filter.Connector {
			continue
		}
		if filter.AvailableOnly && p.Status != models.PortAvailable {
			continue
		}
		matched = append(matched, p)
	}
	return matched
}
