// Package geo provides the local tangent-plane projection and the
// pluggable travel-cost abstraction (GeoAdapter) shared by every engine.
package geo

import (
	"context"
	"fmt"
	"math"
)

const metersPerDegreeLat = 111320.0
const earthRadiusM = 6371000.0

// Projector converts geographic coordinates to a local planar
// approximation centered on an origin, so downstream engines can work
// in plain Euclidean meters instead of lat/lng degrees.
type Projector struct {
	lat0    float64
	lng0    float64
	cosLat0 float64
}

// NewProjector builds a projector centered on the given origin.
func NewProjector(lat0, lng0 float64) *Projector {
	return &Projector{
		lat0:    lat0,
		lng0:    lng0,
		cosLat0: math.Cos(lat0 * math.Pi / 180),
	}
}

// Project returns the (x, y) meters offset of (lat, lng) from the
// projector's origin: y runs north, x runs east.
func (p *Projector) Project(lat, lng float64) (x, y float64) {
	y = (lat - p.lat0) * metersPerDegreeLat
	x = (lng - p.lng0) * metersPerDegreeLat * p.cosLat0
	return x, y
}

// HaversineMeters returns the great-circle distance in meters between two
// lat/lng points. Used by HaversineGeoAdapter and by the match engine's
// per-meeting-point driver shortlists, where a projection-free distance
// is wanted.
func HaversineMeters(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dphi := (lat2 - lat1) * math.Pi / 180
	dlambda := (lng2 - lng1) * math.Pi / 180
	a := math.Sin(dphi/2)*math.Sin(dphi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dlambda/2)*math.Sin(dlambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusM * c
}

// Point is a minimal lat/lng pair, used so GeoAdapter doesn't need to
// import the models package.
type Point struct {
	Lat float64
	Lng float64
}

// TravelCost is the driving time and walking distance between two
// points.
type TravelCost struct {
	DriveMinutes float64
	WalkMeters   float64
}

// GeoAdapter abstracts the travel-cost computation between two points so
// the engines can run against a constant-speed approximation in tests and
// a routing-service-backed implementation in production.
type GeoAdapter interface {
	// Cost returns the driving time and walking distance from a to b.
	Cost(ctx context.Context, a, b Point) (TravelCost, error)

	// CostMatrix returns Cost(origins[i], dests[j]) for every pair,
	// batched where the underlying implementation supports it.
	CostMatrix(ctx context.Context, origins, dests []Point) ([][]TravelCost, error)
}

// ErrAdapterUnavailable wraps a transport-level failure from a
// GeoAdapter implementation (e.g. a routing service timeout).
type ErrAdapterUnavailable struct {
	Cause error
}

func (e *ErrAdapterUnavailable) Error() string {
	return fmt.Sprintf("geo adapter unavailable: %v", e.Cause)
}

func (e *ErrAdapterUnavailable) Unwrap() error { return e.Cause }

// HaversineGeoAdapter is the default GeoAdapter: driving time is derived
// from great-circle distance at a constant assumed speed, and walking
// distance is the great-circle distance itself. It never blocks, and its
// only failure is ctx being done: Cost checks ctx before computing a
// pair, and CostMatrix checks it up front and returns the first error a
// pair computation reports.
type HaversineGeoAdapter struct {
	// SpeedKMH is the assumed constant driving speed.
	SpeedKMH float64
}

// NewHaversineGeoAdapter returns a HaversineGeoAdapter with the given
// assumed driving speed in km/h.
func NewHaversineGeoAdapter(speedKMH float64) *HaversineGeoAdapter {
	if speedKMH <= 0 {
		speedKMH = 30.0
	}
	return &HaversineGeoAdapter{SpeedKMH: speedKMH}
}

func (h *HaversineGeoAdapter) Cost(ctx context.Context, a, b Point) (TravelCost, error) {
	if err := ctx.Err(); err != nil {
		return TravelCost{}, err
	}
	distM := HaversineMeters(a.Lat, a.Lng, b.Lat, b.Lng)
	minutes := (distM / 1000.0) / h.SpeedKMH * 60.0
	return TravelCost{DriveMinutes: minutes, WalkMeters: distM}, nil
}

func (h *HaversineGeoAdapter) CostMatrix(ctx context.Context, origins, dests []Point) ([][]TravelCost, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]TravelCost, len(origins))
	for i, o := range origins {
		row := make([]TravelCost, len(dests))
		for j, d := range dests {
			cost, err := h.Cost(ctx, o, d)
			if err != nil {
				return nil, err
			}
			row[j] = cost
		}
		out[i] = row
	}
	return out, nil
}
