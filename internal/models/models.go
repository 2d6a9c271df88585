// Package models defines the domain types shared across the commute
// planning engines: employees, workplaces, constraints, and the plan
// artifacts produced by the stop, VRP, and carpool-match engines.
package models

import "fmt"

// Coordinates represents a geographic point.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Employee is a single commuter in the daily census.
type Employee struct {
	ID            string  `json:"id"`
	Name          string  `json:"name,omitempty"`
	HomeLat       float64 `json:"home_lat"`
	HomeLng       float64 `json:"home_lng"`
	ArrivalTarget string  `json:"arrival_target,omitempty"` // "HH:MM", optional
	CanDrive      bool    `json:"can_drive"`
}

// GetCoords returns the coordinates of the employee's home.
func (e *Employee) GetCoords() Coordinates {
	return Coordinates{Lat: e.HomeLat, Lng: e.HomeLng}
}

// Workplace is the single depot all shuttle routes and carpool trips
// converge on.
type Workplace struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// GetCoords returns the workplace coordinates.
func (w *Workplace) GetCoords() Coordinates {
	return Coordinates{Lat: w.Lat, Lng: w.Lng}
}

// EmployeeOverride carries per-employee adjustments supplied by the
// adapter layer (home location, driving willingness, arrival time) that must
// be merged onto the base census before planning.
type EmployeeOverride struct {
	EmployeeID    string   `json:"employee_id"`
	ArrivalTarget *string  `json:"arrival_target,omitempty"`
	CanDrive      *bool    `json:"can_drive,omitempty"`
	HomeLat       *float64 `json:"home_lat,omitempty"`
	HomeLng       *float64 `json:"home_lng,omitempty"`
}

// ApplyOverrides returns a copy of census with each override merged onto
// the matching employee by ID. Overrides for unknown employee IDs are
// ignored.
func ApplyOverrides(census []Employee, overrides []EmployeeOverride) []Employee {
	byID := make(map[string]int, len(census))
	out := make([]Employee, len(census))
	copy(out, census)
	for i, e := range out {
		byID[e.ID] = i
	}
	for _, ov := range overrides {
		idx, ok := byID[ov.EmployeeID]
		if !ok {
			continue
		}
		e := &out[idx]
		if ov.ArrivalTarget != nil {
			e.ArrivalTarget = *ov.ArrivalTarget
		}
		if ov.CanDrive != nil {
			e.CanDrive = *ov.CanDrive
		}
		if ov.HomeLat != nil {
			e.HomeLat = *ov.HomeLat
		}
		if ov.HomeLng != nil {
			e.HomeLng = *ov.HomeLng
		}
	}
	return out
}

// StructuralConstraints bounds the shuttle network design (StopEngine and
// VRPEngine). Field names and defaults follow the commute planner's
// service contract.
type StructuralConstraints struct {
	AssignRadiusM       float64 `json:"assign_radius_m"`
	MaxClusterSize      int     `json:"max_cluster_size"`
	BusCapacity         int     `json:"bus_capacity"`
	MinShuttleOccupancy float64 `json:"min_shuttle_occupancy"`
	DetourCap           float64 `json:"detour_cap"`
	BackfillMaxDeltaMin float64 `json:"backfill_max_delta_min"`
	MinOKFarM           float64 `json:"min_ok_far_m"`
	MinOKFar            int     `json:"min_ok_far"`
	PairRadiusM         float64 `json:"pair_radius_m"`

	// Block-4 tuning knobs (spec.md §3 table row for StructuralConstraints).
	// Not part of the explicit default-value list in spec.md §6, so their
	// zero-value defaults here follow the stop engine's own V4 constants.
	MinStopSepM  float64 `json:"min_stop_sep_m"`
	MinOK        int     `json:"min_ok"`
	MaxOK        int     `json:"max_ok"`
	FusionRadius float64 `json:"fusion_radius"`
	DiameterMaxM float64 `json:"diameter_max_m"`
	ExcludeRadiusM float64 `json:"exclude_radius_m"`
	FallbackMin  int     `json:"fallback_min"`
	MinShuttle   int     `json:"min_shuttle"`
}

// DefaultStructuralConstraints returns the service's documented default
// values.
func DefaultStructuralConstraints() StructuralConstraints {
	return StructuralConstraints{
		AssignRadiusM:       1200,
		MaxClusterSize:      50,
		BusCapacity:         50,
		MinShuttleOccupancy: 0.7,
		DetourCap:           2.2,
		BackfillMaxDeltaMin: 1.35,
		MinOKFarM:           3000,
		MinOKFar:            6,
		PairRadiusM:         450,
		MinStopSepM:         350,
		MinOK:               8,
		MaxOK:               40,
		FusionRadius:        150,
		DiameterMaxM:        1500,
		ExcludeRadiusM:      1000,
		FallbackMin:         8,
		MinShuttle:          6,
	}
}

// CarpoolMatchConfig bounds the carpool matching engines (CarpoolPrep and
// MatchEngine).
type CarpoolMatchConfig struct {
	DBSCANEpsM         float64 `json:"dbscan_eps_m"`
	DBSCANMinSamples   int     `json:"dbscan_min_samples"`
	MPClusterEpsM      float64 `json:"mp_cluster_eps_m"`
	MaxWalkM           float64 `json:"max_walk_m"`
	KMPPax             int     `json:"k_mp_pax"`
	MaxDetourMin       float64 `json:"max_detour_min"`
	MaxDetourRatio     float64 `json:"max_detour_ratio"`
	Alpha              float64 `json:"alpha"`
	Beta               float64 `json:"beta"`
	Gamma              float64 `json:"gamma"`
	Delta              float64 `json:"delta"`
	MaxDriversPerMP    int     `json:"max_drivers_per_mp"`
	Do2Opt             bool    `json:"do_2opt"`
	DefaultSeatsDriver int     `json:"default_seats_driver"`
}

// DefaultCarpoolMatchConfig returns the service's documented default
// values.
func DefaultCarpoolMatchConfig() CarpoolMatchConfig {
	return CarpoolMatchConfig{
		DBSCANEpsM:       500,
		DBSCANMinSamples: 3,
		MPClusterEpsM:    300,
		MaxWalkM:         800,
		KMPPax:           5,
		MaxDetourMin:     25,
		MaxDetourRatio:   1.6,
		Alpha:            1.0,
		Beta:             60,
		Gamma:            2.0,
		Delta:            50,
		MaxDriversPerMP:    40,
		Do2Opt:             true,
		DefaultSeatsDriver: 3,
	}
}

// Stop is a shuttle pickup point opened by the StopEngine.
type Stop struct {
	ID         string   `json:"id"`
	Lat        float64  `json:"lat"`
	Lng        float64  `json:"lng"`
	EmployeeID []string `json:"employee_ids"`
}

// GetCoords returns the stop's coordinates.
func (s *Stop) GetCoords() Coordinates {
	return Coordinates{Lat: s.Lat, Lng: s.Lng}
}

// BusRoute is a single open vehicle route produced by the VRPEngine,
// visiting a sequence of stops before terminating at the workplace.
type BusRoute struct {
	ID           string   `json:"id"`
	StopIDs      []string `json:"stop_ids"`
	TotalRiders  int      `json:"total_riders"`
	DurationMin  float64  `json:"duration_min"`
	DistanceM    float64  `json:"distance_m"`
	Occupancy    float64  `json:"occupancy"`
}

// MeetingPoint is a carpool rendezvous location discovered by the
// MatchEngine's DBSCAN clustering pass.
type MeetingPoint struct {
	ID          string   `json:"id"`
	Lat         float64  `json:"lat"`
	Lng         float64  `json:"lng"`
	PassengerID []string `json:"passenger_ids"`
}

// GetCoords returns the meeting point's coordinates.
func (m *MeetingPoint) GetCoords() Coordinates {
	return Coordinates{Lat: m.Lat, Lng: m.Lng}
}

// Match pairs a single passenger with a driver at a specific meeting
// point.
type Match struct {
	DriverID       string  `json:"driver_id"`
	PassengerID    string  `json:"passenger_id"`
	MeetingPointID string  `json:"meeting_point_id"`
	WalkMeters     float64 `json:"walk_meters"`
	DetourMinutes  float64 `json:"detour_minutes"`
	DetourRatio    float64 `json:"detour_ratio"`
	Cost           float64 `json:"cost"`
}

// CarpoolPerson is one member of the carpool census built by CarpoolPrep
// from the employees the stop engine left unassigned: either a driver
// with spare seats or a passenger.
type CarpoolPerson struct {
	PersonID        string
	Lat             float64
	Lng             float64
	IsDriver        bool
	SeatsDriver     int
	CapEfectiva     int
	TargetArrivalMin *float64
}

// DriverRoute is a driver's sequenced pickup route assembled from its
// matches, plus the detour incurred relative to a direct commute.
type DriverRoute struct {
	DriverID        string   `json:"driver_id"`
	MeetingPointIDs []string `json:"meeting_point_ids"`
	PassengerIDs    []string `json:"passenger_ids"`
	DirectMinutes   float64  `json:"direct_minutes"`
	RouteMinutes    float64  `json:"route_minutes"`
	DetourMinutes   float64  `json:"detour_minutes"`
	DetourRatio     float64  `json:"detour_ratio"`
}

// DailyPlan is the full output of one Planner run: the shuttle network
// plus the carpool match, and the employees left over from both.
type DailyPlan struct {
	Stops            []Stop        `json:"stops"`
	Routes           []BusRoute    `json:"routes"`
	MeetingPoints    []MeetingPoint `json:"meeting_points"`
	Matches          []Match       `json:"matches"`
	DriverRoutes     []DriverRoute `json:"driver_routes"`
	UnassignedIDs    []string      `json:"unassigned_employee_ids"`
	ShadowMetrics    *ShadowMetrics `json:"shadow_metrics,omitempty"`
}

// ShadowMetrics carries non-authoritative comparison statistics computed
// by a naive radius-clustering baseline, used to gauge how much the
// production engines improve over a trivial grouping.
type ShadowMetrics struct {
	NClusters   int     `json:"n_clusters"`
	CoveragePct float64 `json:"coverage_pct"`
}

// Reservation records one employee's accepted assignment to either a bus
// route or a carpool match, for the "today" read model.
type Reservation struct {
	EmployeeID  string `json:"employee_id"`
	RouteID     string `json:"route_id,omitempty"`
	MatchDriver string `json:"match_driver_id,omitempty"`
	StopID      string `json:"stop_id,omitempty"`
	MPID        string `json:"meeting_point_id,omitempty"`
}

// DailyAllocation is the persisted result of one planning run: the plan
// itself plus the reservations derived from it, keyed by date.
type DailyAllocation struct {
	Date         string        `json:"date"`
	Plan         DailyPlan     `json:"plan"`
	Reservations []Reservation `json:"reservations"`
}

// Error taxonomy. Each category maps to a distinct HTTP status at the
// adapter boundary: InvalidConfig and InvalidInput to 400, Cancelled to
// 499/504, AdapterError to 502, and any other error to 500.

// ErrInvalidConfig signals a structurally invalid StructuralConstraints
// or CarpoolMatchConfig value (e.g. a non-positive capacity).
type ErrInvalidConfig struct {
	Field  string
	Reason string
}

func (e *ErrInvalidConfig) Error() string {
	return fmt.Sprintf("invalid config field %q: %s", e.Field, e.Reason)
}

// ErrInvalidInput signals malformed or inconsistent request data (e.g. a
// census with duplicate employee IDs).
type ErrInvalidInput struct {
	Reason string
}

func (e *ErrInvalidInput) Error() string {
	return fmt.Sprintf("invalid input: %s", e.Reason)
}

// ErrCancelled wraps a context cancellation or deadline expiry observed
// mid-computation.
type ErrCancelled struct {
	Stage string
	Cause error
}

func (e *ErrCancelled) Error() string {
	return fmt.Sprintf("%s: cancelled: %v", e.Stage, e.Cause)
}

func (e *ErrCancelled) Unwrap() error { return e.Cause }

// ErrAdapterError wraps a failure from a pluggable GeoAdapter or other
// external dependency.
type ErrAdapterError struct {
	Op    string
	Cause error
}

func (e *ErrAdapterError) Error() string {
	return fmt.Sprintf("adapter error during %s: %v", e.Op, e.Cause)
}

func (e *ErrAdapterError) Unwrap() error { return e.Cause }
