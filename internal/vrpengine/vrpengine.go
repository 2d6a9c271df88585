// Package vrpengine implements the open capacitated vehicle routing
// problem over shuttle stops: Clarke-Wright savings merges toward a
// single depot, small-route absorption, and bounded backfill insertion.
package vrpengine

import (
	"context"
	"log"
	"math"
	"sort"

	"commuteplanner/internal/geo"
	"commuteplanner/internal/models"
)

// Defaults carried over from the network design engine's own tuning
// knobs; these are not part of StructuralConstraints (only bus_capacity,
// detour_cap, and backfill_max_delta_min are).
const (
	MinEmpShuttleDefault       = 15
	MaxStopsDefault            = 8
	MaxRouteDurationSecDefault = 5400.0
)

// route is a single open shuttle route under construction: a sequence of
// stop indices, its total rider load, and its duration in seconds,
// ending implicitly at the office index.
type route struct {
	seq []int
	load int
	dur  float64

	demands     []int
	d           [][]float64
	officeIndex int
	toOffice    []float64
	busCapacity int
	maxStops    int
	maxRouteDur float64
	detourCap   float64
}

func newRoute(seq []int, demands []int, d [][]float64, officeIndex int, toOffice []float64, busCapacity, maxStops int, maxRouteDur, detourCap float64) *route {
	r := &route{
		seq: append([]int{}, seq...), demands: demands, d: d, officeIndex: officeIndex,
		toOffice: toOffice, busCapacity: busCapacity, maxStops: maxStops,
		maxRouteDur: maxRouteDur, detourCap: detourCap,
	}
	for _, i := range r.seq {
		r.load += demands[i]
	}
	r.dur = r.calcDuration()
	return r
}

func (r *route) calcDuration() float64 {
	if len(r.seq) == 0 {
		return 0
	}
	t := 0.0
	for k := 0; k < len(r.seq)-1; k++ {
		t += r.d[r.seq[k]][r.seq[k+1]]
	}
	t += r.d[r.seq[len(r.seq)-1]][r.officeIndex]
	return t
}

func (r *route) head() int { return r.seq[0] }
func (r *route) tail() int { return r.seq[len(r.seq)-1] }

type mergeFeasibility struct {
	saving  float64
	newDur  float64
	newLoad int
	newLen  int
}

// feasibleMergeWith checks whether appending other's sequence to self is
// feasible under capacity, stop-count, duration, and detour caps; it
// returns nil when infeasible.
func (r *route) feasibleMergeWith(other *route) *mergeFeasibility {
	if r.toOffice[r.tail()] <= r.toOffice[other.head()] {
		return nil
	}
	newLoad := r.load + other.load
	newLen := len(r.seq) + len(other.seq)
	if newLoad > r.busCapacity || newLen > r.maxStops {
		return nil
	}
	newDur := r.dur - r.d[r.tail()][r.officeIndex] + r.d[r.tail()][other.head()] + other.dur
	if newDur > r.maxRouteDur {
		return nil
	}
	combined := append(append([]int{}, r.seq...), other.seq...)
	baseMean := meanToOffice(combined, r.toOffice)
	if baseMean > 0 && newDur/baseMean > r.detourCap {
		return nil
	}
	saving := r.d[r.tail()][r.officeIndex] - r.d[r.tail()][other.head()]
	return &mergeFeasibility{saving: saving, newDur: newDur, newLoad: newLoad, newLen: newLen}
}

func (r *route) mergeWith(other *route, newDur float64, newLoad int) {
	r.seq = append(r.seq, other.seq...)
	r.load = newLoad
	r.dur = newDur
}

func meanToOffice(idxs []int, toOffice []float64) float64 {
	if len(idxs) == 0 {
		return 0
	}
	sum := 0.0
	for _, i := range idxs {
		sum += toOffice[i]
	}
	return sum / float64(len(idxs))
}

// Run executes the open VRP over the given stops relative to workplace,
// returning the assembled bus routes and the ids of stops left
// unserved.
func Run(ctx context.Context, stops []models.Stop, workplace models.Workplace, adapter geo.GeoAdapter, constraints models.StructuralConstraints, minEmpShuttle, maxStops int, maxRouteDurationSec float64) ([]models.BusRoute, []string, error) {
	busCapacity := constraints.BusCapacity
	if busCapacity <= 0 {
		return nil, nil, &models.ErrInvalidConfig{Field: "bus_capacity", Reason: "must be positive"}
	}
	if len(stops) == 0 {
		return nil, nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, &models.ErrCancelled{Stage: "vrpengine.Run", Cause: err}
	}
	if minEmpShuttle <= 0 {
		minEmpShuttle = MinEmpShuttleDefault
	}
	if maxStops <= 0 {
		maxStops = MaxStopsDefault
	}
	if maxRouteDurationSec <= 0 {
		maxRouteDurationSec = MaxRouteDurationSecDefault
	}
	detourCap := constraints.DetourCap
	backfillMaxMinPerPax := constraints.BackfillMaxDeltaMin

	s := len(stops)
	officeIndex := s
	points := make([]geo.Point, s+1)
	demands := make([]int, s)
	for i, stop := range stops {
		points[i] = geo.Point{Lat: stop.Lat, Lng: stop.Lng}
		demands[i] = len(stop.EmployeeID)
	}
	points[officeIndex] = geo.Point{Lat: workplace.Lat, Lng: workplace.Lng}

	costs, err := adapter.CostMatrix(ctx, points, points)
	if err != nil {
		return nil, nil, &models.ErrAdapterError{Op: "vrpengine.CostMatrix", Cause: err}
	}
	d := make([][]float64, s+1)
	for i := range d {
		d[i] = make([]float64, s+1)
		for j := range d[i] {
			if math.IsNaN(costs[i][j].DriveMinutes) || math.IsInf(costs[i][j].DriveMinutes, 0) {
				return nil, nil, &models.ErrAdapterError{Op: "vrpengine.CostMatrix", Cause: errNonNumeric}
			}
			d[i][j] = costs[i][j].DriveMinutes * 60.0
		}
	}

	toOffice := make([]float64, s)
	for i := 0; i < s; i++ {
		toOffice[i] = d[i][officeIndex]
	}

	log.Printf("[VRP] building routes over %d stops, bus_capacity=%d", s, busCapacity)

	routes := make([]*route, s)
	for i := 0; i < s; i++ {
		routes[i] = newRoute([]int{i}, demands, d, officeIndex, toOffice, busCapacity, maxStops, maxRouteDurationSec, detourCap)
	}

	merged := true
	for merged && len(routes) > 1 {
		merged = false
		type best struct {
			saving  float64
			newLoad int
			a, b    int
			newDur  float64
		}
		var cur *best
		for a := range routes {
			for b := range routes {
				if a == b {
					continue
				}
				feas := routes[a].feasibleMergeWith(routes[b])
				if feas == nil {
					continue
				}
				if cur == nil || feas.saving > cur.saving || (feas.saving == cur.saving && feas.newLoad > cur.newLoad) {
					cur = &best{saving: feas.saving, newLoad: feas.newLoad, a: a, b: b, newDur: feas.newDur}
				}
			}
		}
		if cur != nil {
			routes[cur.a].mergeWith(routes[cur.b], cur.newDur, cur.newLoad)
			routes = append(routes[:cur.b], routes[cur.b+1:]...)
			merged = true
		}
	}

	// Small-route absorption.
	var smallIdxs []int
	for i, r := range routes {
		if r.load < minEmpShuttle {
			smallIdxs = append(smallIdxs, i)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(smallIdxs)))
	for _, rIdx := range smallIdxs {
		if rIdx >= len(routes) {
			continue
		}
		rSmall := routes[rIdx]
		order := make([]int, 0, len(routes)-1)
		for k := range routes {
			if k != rIdx {
				order = append(order, k)
			}
		}
		sort.Slice(order, func(a, b int) bool { return routes[order[a]].load > routes[order[b]].load })
		for _, k := range order {
			feas := routes[k].feasibleMergeWith(rSmall)
			if feas != nil {
				routes[k].mergeWith(rSmall, feas.newDur, feas.newLoad)
				routes = append(routes[:rIdx], routes[rIdx+1:]...)
				break
			}
		}
	}

	servedIdx := make(map[int]bool)
	for _, r := range routes {
		for _, i := range r.seq {
			servedIdx[i] = true
		}
	}
	var pending []int
	for i := 0; i < s; i++ {
		if !servedIdx[i] {
			pending = append(pending, i)
		}
	}
	sort.Slice(pending, func(a, b int) bool {
		if demands[pending[a]] != demands[pending[b]] {
			return demands[pending[a]] > demands[pending[b]]
		}
		return toOffice[pending[a]] > toOffice[pending[b]]
	})

	changed := true
	for changed && len(pending) > 0 {
		changed = false
		for _, i := range append([]int{}, pending...) {
			var bestCand *backfillCandidate
			for rID, r := range routes {
				if r.load+demands[i] > busCapacity {
					continue
				}
				if len(r.seq)+1 > maxStops {
					continue
				}
				if toOffice[i] >= toOffice[r.tail()] {
					continue
				}
				tCurr := r.dur
				tNew := r.dur - d[r.tail()][officeIndex] + d[r.tail()][i] + d[i][officeIndex]
				if tNew > maxRouteDurationSec {
					continue
				}
				combined := append(append([]int{}, r.seq...), i)
				baseMean := meanToOffice(combined, toOffice)
				if baseMean <= 0 {
					continue
				}
				if tNew/baseMean > detourCap {
					continue
				}
				denom := demands[i]
				if denom < 1 {
					denom = 1
				}
				deltaPerPax := ((tNew - tCurr) / 60.0) / float64(denom)
				if deltaPerPax <= backfillMaxMinPerPax {
					c := &backfillCandidate{deltaPerPax: deltaPerPax, demand: demands[i], newLoad: r.load + demands[i], rID: rID, tNew: tNew}
					if bestCand == nil || c.less(bestCand) {
						bestCand = c
					}
				}
			}
			if bestCand != nil {
				r := routes[bestCand.rID]
				r.seq = append(r.seq, i)
				r.load = bestCand.newLoad
				r.dur = bestCand.tNew
				pending = removeInt(pending, i)
				changed = true
			}
		}
	}

	log.Printf("[VRP] produced %d routes, %d stops unserved", len(routes), len(pending))

	busRoutes := make([]models.BusRoute, len(routes))
	for i, r := range routes {
		stopIDs := make([]string, len(r.seq))
		riders := 0
		for k, si := range r.seq {
			stopIDs[k] = stops[si].ID
			riders += demands[si]
		}
		occupancy := float64(riders) / float64(busCapacity)
		busRoutes[i] = models.BusRoute{
			ID:          "route-" + itoa(i),
			StopIDs:     stopIDs,
			TotalRiders: riders,
			DurationMin: r.dur / 60.0,
			DistanceM:   0,
			Occupancy:   occupancy,
		}
	}
	unserved := make([]string, len(pending))
	for i, p := range pending {
		unserved[i] = stops[p].ID
	}
	return busRoutes, unserved, nil
}

// backfillCandidate is a candidate insertion of a pending stop into an
// existing route during the backfill pass.
type backfillCandidate struct {
	deltaPerPax float64
	demand      int
	newLoad     int
	rID         int
	tNew        float64
}

// less orders candidates the way the original engine's tuple key
// (delta_min_per_pax, -demand, -new_load) does: smallest per-passenger
// delta wins, ties broken toward larger demand, then larger new load.
func (c *backfillCandidate) less(other *backfillCandidate) bool {
	if c.deltaPerPax != other.deltaPerPax {
		return c.deltaPerPax < other.deltaPerPax
	}
	if c.demand != other.demand {
		return c.demand > other.demand
	}
	return c.newLoad > other.newLoad
}

func removeInt(s []int, v int) []int {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

var errNonNumeric = &nonNumericErr{}

type nonNumericErr struct{}

func (e *nonNumericErr) Error() string { return "geo adapter returned a non-numeric travel cost" }
