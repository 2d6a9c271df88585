// Package planner composes StopEngine, VRPEngine, CarpoolPrep, and
// MatchEngine into a single daily plan, following the same orchestration
// role the teacher's routing package plays for its greedy/balanced
// routers, generalized to run VRPEngine and MatchEngine concurrently
// once StopEngine's residual is known.
package planner

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"commuteplanner/internal/carpoolprep"
	"commuteplanner/internal/cluster"
	"commuteplanner/internal/geo"
	"commuteplanner/internal/matchengine"
	"commuteplanner/internal/models"
	"commuteplanner/internal/stopengine"
	"commuteplanner/internal/vrpengine"
)

// Options bounds a single Plan call: structural constraints for the
// shuttle network, carpool-match tuning, and the VRP-specific
// parameters the teacher's spec treats as explicit run arguments rather
// than struct fields.
type Options struct {
	Constraints          models.StructuralConstraints
	MatchConfig          models.CarpoolMatchConfig
	MinEmpShuttle        int
	MaxStopsPerRoute     int
	MaxRouteDurationSec  float64
	IncludeShadowMetrics bool
}

// DefaultOptions returns the service's documented defaults plus the
// VRPEngine run parameters from spec.md §4.2.
func DefaultOptions() Options {
	return Options{
		Constraints:         models.DefaultStructuralConstraints(),
		MatchConfig:         models.DefaultCarpoolMatchConfig(),
		MinEmpShuttle:       vrpengine.MinEmpShuttleDefault,
		MaxStopsPerRoute:    vrpengine.MaxStopsDefault,
		MaxRouteDurationSec: vrpengine.MaxRouteDurationSecDefault,
	}
}

// Plan runs the full pipeline for one day: StopEngine opens shuttle
// stops over employees, then VRPEngine and CarpoolPrep+MatchEngine run
// concurrently on the disjoint outputs (opened stops vs residual
// census), and the results are reduced into a single DailyPlan.
func Plan(ctx context.Context, employees []models.Employee, workplace models.Workplace, adapter geo.GeoAdapter, opts Options) (*models.DailyPlan, error) {
	start := time.Now()
	log.Printf("[PLANNER] starting plan: %d employees", len(employees))

	if err := ctx.Err(); err != nil {
		return nil, &models.ErrCancelled{Stage: "planner.Plan.start", Cause: err}
	}

	stops, residualIDs, err := stopengine.OpenStops(ctx, employees, workplace, opts.Constraints)
	if err != nil {
		return nil, err
	}
	log.Printf("[PLANNER] stopengine opened %d stops, %d residual employees", len(stops), len(residualIDs))

	if err := ctx.Err(); err != nil {
		return nil, &models.ErrCancelled{Stage: "planner.Plan.after_stopengine", Cause: err}
	}

	var (
		wg               sync.WaitGroup
		routes           []models.BusRoute
		unservedStopIDs  []string
		vrpErr           error
		matches          []models.Match
		driverRoutes     []models.DriverRoute
		meetingPoints    []models.MeetingPoint
		unmatchedIDs     []string
		matchErr         error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		routes, unservedStopIDs, vrpErr = vrpengine.Run(ctx, stops, workplace, adapter, opts.Constraints,
			opts.MinEmpShuttle, opts.MaxStopsPerRoute, opts.MaxRouteDurationSec)
	}()
	go func() {
		defer wg.Done()
		census := carpoolprep.BuildCensus(employees, residualIDs, opts.MatchConfig.DefaultSeatsDriver)
		matches, driverRoutes, meetingPoints, unmatchedIDs, matchErr = matchengine.Run(ctx, census, workplace, adapter, opts.MatchConfig)
	}()
	wg.Wait()

	if vrpErr != nil {
		return nil, vrpErr
	}
	if matchErr != nil {
		return nil, matchErr
	}

	if err := ctx.Err(); err != nil {
		return nil, &models.ErrCancelled{Stage: "planner.Plan.after_parallel_phase", Cause: err}
	}

	stopByID := lo.KeyBy(stops, func(s models.Stop) string { return s.ID })

	var busEmployeeIDs []string
	for _, r := range routes {
		for _, sid := range r.StopIDs {
			busEmployeeIDs = append(busEmployeeIDs, stopByID[sid].EmployeeID...)
		}
	}
	employedOnBus := lo.SliceToMap(busEmployeeIDs, func(id string) (string, bool) { return id, true })

	matchedPax := lo.SliceToMap(matches, func(m models.Match) (string, bool) { return m.PassengerID, true })
	matchedDriver := lo.SliceToMap(matches, func(m models.Match) (string, bool) { return m.DriverID, true })

	unassignedSet := make(map[string]bool)
	for _, sid := range unservedStopIDs {
		for _, eid := range stopByID[sid].EmployeeID {
			if !employedOnBus[eid] {
				unassignedSet[eid] = true
			}
		}
	}
	for _, eid := range unmatchedIDs {
		if !employedOnBus[eid] {
			unassignedSet[eid] = true
		}
	}
	// Residual employees are unassigned unless a bus route or carpool
	// match already accounts for them; an employee who can drive but was
	// not chosen as anyone's driver still has no route of their own.
	residualSet := make(map[string]bool, len(residualIDs))
	for _, id := range residualIDs {
		residualSet[id] = true
	}
	for _, e := range employees {
		if !residualSet[e.ID] {
			continue
		}
		if employedOnBus[e.ID] || matchedPax[e.ID] || matchedDriver[e.ID] {
			continue
		}
		unassignedSet[e.ID] = true
	}

	unassigned := lo.Keys(unassignedSet)
	sort.Strings(unassigned)

	plan := &models.DailyPlan{
		Stops:         stops,
		Routes:        routes,
		MeetingPoints: meetingPoints,
		Matches:       matches,
		DriverRoutes:  driverRoutes,
		UnassignedIDs: unassigned,
	}

	if opts.IncludeShadowMetrics {
		plan.ShadowMetrics = shadowMetrics(employees, workplace, opts.Constraints)
	}

	log.Printf("[PLANNER] plan complete in %s: %d routes, %d carpool matches, %d unassigned",
		time.Since(start), len(routes), len(matches), len(unassigned))
	return plan, nil
}

// shadowMetrics runs a naive radius-clustering pass over every employee
// (not just the residual) purely for observational comparison against
// the production engines; it never feeds back into assignment.
func shadowMetrics(employees []models.Employee, workplace models.Workplace, c models.StructuralConstraints) *models.ShadowMetrics {
	if len(employees) == 0 {
		return &models.ShadowMetrics{}
	}
	proj := geo.NewProjector(workplace.Lat, workplace.Lng)
	xs := make([]float64, len(employees))
	ys := make([]float64, len(employees))
	for i, e := range employees {
		xs[i], ys[i] = proj.Project(e.HomeLat, e.HomeLng)
	}

	eps := c.MinStopSepM
	if eps <= 0 {
		eps = 350
	}
	labels := cluster.DBSCAN(xs, ys, eps, 1)

	clusterIDs := make(map[int]bool)
	covered := 0
	for _, lab := range labels {
		if lab != cluster.NoiseLabel {
			clusterIDs[lab] = true
			covered++
		}
	}
	coveragePct := 0.0
	if len(employees) > 0 {
		coveragePct = 100.0 * float64(covered) / float64(len(employees))
	}
	return &models.ShadowMetrics{
		NClusters:   len(clusterIDs),
		CoveragePct: coveragePct,
	}
}
