// Package matchengine implements carpool matching: meeting-point
// discovery via DBSCAN, greedy driver/passenger matching under a cost
// function balancing walk distance, detour, and arrival-time penalty,
// and per-driver route sequencing with cheapest insertion and bounded
// 2-opt.
package matchengine

import (
	"context"
	"log"
	"math"
	"sort"

	"github.com/samber/lo"

	"commuteplanner/internal/cluster"
	"commuteplanner/internal/geo"
	"commuteplanner/internal/models"
)

const twoOptIters = 200

// Run executes the full carpool match over the given census, returning
// the accepted matches, each driver's sequenced route, every meeting
// point discovered (used or not), and the ids of passengers left
// unmatched.
func Run(ctx context.Context, census []models.CarpoolPerson, workplace models.Workplace, adapter geo.GeoAdapter, config models.CarpoolMatchConfig) ([]models.Match, []models.DriverRoute, []models.MeetingPoint, []string, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, nil, nil, &models.ErrCancelled{Stage: "matchengine.Run", Cause: err}
	}
	if err := validateConfig(config); err != nil {
		return nil, nil, nil, nil, err
	}

	var drivers, paxList []models.CarpoolPerson
	for _, p := range census {
		if p.IsDriver {
			drivers = append(drivers, p)
		} else {
			paxList = append(paxList, p)
		}
	}
	if len(paxList) == 0 {
		return nil, nil, nil, nil, nil
	}
	if len(drivers) == 0 {
		return nil, nil, nil, unmatchedIDs(paxList), nil
	}

	mps := discoverMeetingPoints(census, config)
	if len(mps) == 0 {
		return nil, nil, nil, unmatchedIDs(paxList), nil
	}

	log.Printf("[MATCH] %d drivers, %d passengers, %d meeting points", len(drivers), len(paxList), len(mps))

	d, p, m := len(drivers), len(paxList), len(mps)

	officePt := geo.Point{Lat: workplace.Lat, Lng: workplace.Lng}
	mpPts := make([]geo.Point, m)
	for i, mp := range mps {
		mpPts[i] = geo.Point{Lat: mp.Lat, Lng: mp.Lng}
	}
	drvPts := make([]geo.Point, d)
	for i, dr := range drivers {
		drvPts[i] = geo.Point{Lat: dr.Lat, Lng: dr.Lng}
	}
	paxPts := make([]geo.Point, p)
	for i, pax := range paxList {
		paxPts[i] = geo.Point{Lat: pax.Lat, Lng: pax.Lng}
	}

	tMPOff := make([]float64, m)
	mpOffRow, err := adapter.CostMatrix(ctx, mpPts, []geo.Point{officePt})
	if err != nil {
		return nil, nil, nil, nil, &models.ErrAdapterError{Op: "matchengine.mp_to_office", Cause: err}
	}
	for i := range mps {
		tMPOff[i] = mpOffRow[i][0].DriveMinutes
	}

	tDrvOff := make([]float64, d)
	drvOffRow, err := adapter.CostMatrix(ctx, drvPts, []geo.Point{officePt})
	if err != nil {
		return nil, nil, nil, nil, &models.ErrAdapterError{Op: "matchengine.driver_to_office", Cause: err}
	}
	for i := range drivers {
		tDrvOff[i] = drvOffRow[i][0].DriveMinutes
	}

	tDrvMP, err := adapter.CostMatrix(ctx, drvPts, mpPts)
	if err != nil {
		return nil, nil, nil, nil, &models.ErrAdapterError{Op: "matchengine.driver_to_mp", Cause: err}
	}

	walkPaxMP := make([][]float64, p)
	paxMPCost, err := adapter.CostMatrix(ctx, paxPts, mpPts)
	if err != nil {
		return nil, nil, nil, nil, &models.ErrAdapterError{Op: "matchengine.pax_to_mp", Cause: err}
	}
	for i := range paxList {
		walkPaxMP[i] = make([]float64, m)
		for j := range mps {
			w := paxMPCost[i][j].WalkMeters
			if w <= config.MaxWalkM {
				walkPaxMP[i][j] = w
			} else {
				walkPaxMP[i][j] = math.Inf(1)
			}
		}
	}

	kDrv := config.MaxDriversPerMP
	if kDrv > d {
		kDrv = d
	}
	driversPerMP := make([][]int, m)
	for mi := range mps {
		type distIdx struct {
			dist float64
			idx  int
		}
		all := make([]distIdx, d)
		for di, dr := range drivers {
			all[di] = distIdx{dist: geo.HaversineMeters(dr.Lat, dr.Lng, mpPts[mi].Lat, mpPts[mi].Lng), idx: di}
		}
		sort.Slice(all, func(a, b int) bool { return all[a].dist < all[b].dist })
		take := make([]int, 0, kDrv)
		for i := 0; i < kDrv && i < len(all); i++ {
			take = append(take, all[i].idx)
		}
		driversPerMP[mi] = take
	}

	type candidate struct {
		driverID, paxID, mpID string
		walkM, detourMin, detourRatio, tRoute, cost float64
	}

	var candidates []candidate
	for pi, pax := range paxList {
		order := make([]int, 0, m)
		for mi := range mps {
			if !math.IsInf(walkPaxMP[pi][mi], 1) {
				order = append(order, mi)
			}
		}
		sort.Slice(order, func(a, b int) bool { return walkPaxMP[pi][order[a]] < walkPaxMP[pi][order[b]] })
		if len(order) > config.KMPPax {
			order = order[:config.KMPPax]
		}
		if len(order) == 0 {
			continue
		}
		var horaObj float64
		haveHora := pax.TargetArrivalMin != nil
		if haveHora {
			horaObj = *pax.TargetArrivalMin
		}
		for _, mi := range order {
			walkM := walkPaxMP[pi][mi]
			for _, di := range driversPerMP[mi] {
				tRoute := tDrvMP[di][mi].DriveMinutes + tMPOff[mi]
				tDirect := math.Max(tDrvOff[di], 1e-6)
				detourMin := math.Max(0, tRoute-tDirect)
				detourRatio := tRoute / tDirect
				if detourMin > config.MaxDetourMin || detourRatio > config.MaxDetourRatio {
					continue
				}
				etaPen := 0.0
				if haveHora {
					etaPen = math.Abs(tRoute - horaObj)
				}
				cost := config.Alpha*walkM + config.Beta*detourMin + config.Gamma*etaPen
				candidates = append(candidates, candidate{
					driverID: drivers[di].PersonID, paxID: pax.PersonID, mpID: mps[mi].ID,
					walkM: walkM, detourMin: detourMin, detourRatio: detourRatio, tRoute: tRoute, cost: cost,
				})
			}
		}
	}

	if len(candidates) == 0 {
		return nil, nil, mps, unmatchedIDs(paxList), nil
	}

	sort.SliceStable(candidates, func(a, b int) bool { return candidates[a].cost < candidates[b].cost })

	byPax := lo.GroupBy(candidates, func(c candidate) string { return c.paxID })
	paxOrder := lo.Uniq(lo.Map(candidates, func(c candidate, _ int) string { return c.paxID }))

	capLeft := make(map[string]int, d)
	for _, dr := range drivers {
		capLeft[dr.PersonID] = dr.CapEfectiva
	}
	assignedCount := make(map[string]int, d)

	type matchRow struct {
		driverID, paxID, mpID string
		walkM, detourMin, detourRatio, tRoute, cost float64
	}
	var matchRows []matchRow
	assignedPax := make(map[string]bool)

	for _, paxID := range paxOrder {
		if assignedPax[paxID] {
			continue
		}
		var best *candidate
		bestScore := math.Inf(1)
		for i, c := range byPax[paxID] {
			if capLeft[c.driverID] <= 0 {
				continue
			}
			score := c.cost - config.Delta*float64(assignedCount[c.driverID])
			if score < bestScore {
				bestScore = score
				best = &byPax[paxID][i]
			}
		}
		if best != nil {
			matchRows = append(matchRows, matchRow{
				driverID: best.driverID, paxID: best.paxID, mpID: best.mpID,
				walkM: best.walkM, detourMin: best.detourMin, detourRatio: best.detourRatio,
				tRoute: best.tRoute, cost: best.cost,
			})
			assignedPax[best.paxID] = true
			capLeft[best.driverID]--
			assignedCount[best.driverID]++
		}
	}

	// Per-driver routing: cheapest insertion + optional 2-opt, trimmed
	// for detour caps.
	mpIndexByID := make(map[string]int, m)
	for i, mp := range mps {
		mpIndexByID[mp.ID] = i
	}
	driverIndexByID := make(map[string]int, d)
	for i, dr := range drivers {
		driverIndexByID[dr.PersonID] = i
	}

	tMPMP, err := adapter.CostMatrix(ctx, mpPts, mpPts)
	if err != nil {
		return nil, nil, nil, nil, &models.ErrAdapterError{Op: "matchengine.mp_to_mp", Cause: err}
	}

	rowsByDriver := lo.GroupBy(matchRows, func(r matchRow) string { return r.driverID })
	driverOrder := lo.Uniq(lo.Map(matchRows, func(r matchRow, _ int) string { return r.driverID }))

	var driverRoutes []models.DriverRoute
	keepMPByDriver := make(map[string]map[string]bool)

	for _, drvID := range driverOrder {
		rows := rowsByDriver[drvID]
		grpMPIDs := lo.Uniq(lo.Map(rows, func(r matchRow, _ int) string { return r.mpID }))
		sort.Strings(grpMPIDs)

		mIdx := make([]int, 0, len(grpMPIDs))
		for _, id := range grpMPIDs {
			if i, ok := mpIndexByID[id]; ok {
				mIdx = append(mIdx, i)
			}
		}
		if len(mIdx) == 0 {
			continue
		}
		di := driverIndexByID[drvID]

		tSrc := make([]float64, len(mIdx))
		tOff := make([]float64, len(mIdx))
		for i, mi := range mIdx {
			tSrc[i] = tDrvMP[di][mi].DriveMinutes
			tOff[i] = tMPOff[mi]
		}
		tMM := make([][]float64, len(mIdx))
		for i, mi := range mIdx {
			tMM[i] = make([]float64, len(mIdx))
			for j, mj := range mIdx {
				if mi != mj {
					tMM[i][j] = tMPMP[mi][mj].DriveMinutes
				}
			}
		}

		order := cheapestInsertionOrder(tSrc, tOff, tMM)
		if config.Do2Opt {
			order = twoOpt(order, tSrc, tOff, tMM)
		}

		tDirect := math.Max(tDrvOff[di], 1e-6)
		curRouteTime := routeTime(order, tSrc, tOff, tMM)
		detourMin := math.Max(0, curRouteTime-tDirect)
		detourRatio := curRouteTime / tDirect
		for len(order) > 0 && (detourMin > config.MaxDetourMin || detourRatio > config.MaxDetourRatio) {
			order = order[:len(order)-1]
			curRouteTime = routeTime(order, tSrc, tOff, tMM)
			detourMin = math.Max(0, curRouteTime-tDirect)
			detourRatio = curRouteTime / tDirect
		}
		if len(order) == 0 {
			continue
		}

		keepMPIDs := make(map[string]bool, len(order))
		orderedMPIDs := make([]string, len(order))
		for i, oi := range order {
			orderedMPIDs[i] = grpMPIDs[oi]
			keepMPIDs[grpMPIDs[oi]] = true
		}
		keepMPByDriver[drvID] = keepMPIDs

		paxIDs := make([]string, 0)
		for _, r := range rows {
			if keepMPIDs[r.mpID] {
				paxIDs = append(paxIDs, r.paxID)
			}
		}
		driverRoutes = append(driverRoutes, models.DriverRoute{
			DriverID:        drvID,
			MeetingPointIDs: orderedMPIDs,
			PassengerIDs:    paxIDs,
			DirectMinutes:   tDrvOff[di],
			RouteMinutes:    curRouteTime,
			DetourMinutes:   detourMin,
			DetourRatio:     detourRatio,
		})
	}

	var matches []models.Match
	for _, r := range matchRows {
		if keepMPByDriver[r.driverID][r.mpID] {
			matches = append(matches, models.Match{
				DriverID: r.driverID, PassengerID: r.paxID, MeetingPointID: r.mpID,
				WalkMeters: r.walkM, DetourMinutes: r.detourMin, DetourRatio: r.detourRatio, Cost: r.cost,
			})
		}
	}

	assignedAfterTrim := make(map[string]bool, len(matches))
	for _, mt := range matches {
		assignedAfterTrim[mt.PassengerID] = true
	}
	var unmatched []string
	for _, pax := range paxList {
		if !assignedAfterTrim[pax.PersonID] {
			unmatched = append(unmatched, pax.PersonID)
		}
	}

	log.Printf("[MATCH] produced %d matches over %d driver routes, %d unmatched", len(matches), len(driverRoutes), len(unmatched))
	return matches, driverRoutes, mps, unmatched, nil
}

func validateConfig(c models.CarpoolMatchConfig) error {
	if c.DBSCANEpsM <= 0 {
		return &models.ErrInvalidConfig{Field: "dbscan_eps_m", Reason: "must be positive"}
	}
	if c.DBSCANMinSamples <= 0 {
		return &models.ErrInvalidConfig{Field: "dbscan_min_samples", Reason: "must be positive"}
	}
	if c.KMPPax <= 0 {
		return &models.ErrInvalidConfig{Field: "k_mp_pax", Reason: "must be positive"}
	}
	if c.MaxDriversPerMP <= 0 {
		return &models.ErrInvalidConfig{Field: "max_drivers_per_mp", Reason: "must be positive"}
	}
	return nil
}

func unmatchedIDs(pax []models.CarpoolPerson) []string {
	ids := make([]string, len(pax))
	for i, p := range pax {
		ids[i] = p.PersonID
	}
	return ids
}

// discoverMeetingPoints runs DBSCAN over the full census, then a
// dedup pass (min_samples=1) over the resulting cluster centroids, to
// arrive at the final set of meeting points.
func discoverMeetingPoints(census []models.CarpoolPerson, config models.CarpoolMatchConfig) []models.MeetingPoint {
	if len(census) == 0 {
		return nil
	}
	lat0, lng0 := census[0].Lat, census[0].Lng
	proj := geo.NewProjector(lat0, lng0)

	xs := make([]float64, len(census))
	ys := make([]float64, len(census))
	for i, c := range census {
		xs[i], ys[i] = proj.Project(c.Lat, c.Lng)
	}
	labels := cluster.DBSCAN(xs, ys, config.DBSCANEpsM, config.DBSCANMinSamples)

	groups := make(map[int][]int)
	var labelOrder []int
	for i, lab := range labels {
		if lab == cluster.NoiseLabel {
			continue
		}
		if _, ok := groups[lab]; !ok {
			labelOrder = append(labelOrder, lab)
		}
		groups[lab] = append(groups[lab], i)
	}
	sort.Ints(labelOrder)

	if len(labelOrder) == 0 {
		return nil
	}

	type rawMP struct{ x, y float64 }
	raw := make([]rawMP, 0, len(labelOrder))
	for _, lab := range labelOrder {
		mx, my := meanXY(groups[lab], xs, ys)
		raw = append(raw, rawMP{x: mx, y: my})
	}

	if len(raw) == 1 {
		lat, lng := unproject(lat0, lng0, raw[0].x, raw[0].y)
		return []models.MeetingPoint{{ID: "MP_1", Lat: lat, Lng: lng}}
	}

	rawXs := make([]float64, len(raw))
	rawYs := make([]float64, len(raw))
	for i, r := range raw {
		rawXs[i], rawYs[i] = r.x, r.y
	}
	dedupLabels := cluster.DBSCAN(rawXs, rawYs, config.MPClusterEpsM, 1)

	dedupGroups := make(map[int][]int)
	var dedupOrder []int
	for i, lab := range dedupLabels {
		if _, ok := dedupGroups[lab]; !ok {
			dedupOrder = append(dedupOrder, lab)
		}
		dedupGroups[lab] = append(dedupGroups[lab], i)
	}
	sort.Ints(dedupOrder)

	mps := make([]models.MeetingPoint, 0, len(dedupOrder))
	for i, lab := range dedupOrder {
		mx, my := meanXY(dedupGroups[lab], rawXs, rawYs)
		lat, lng := unproject(lat0, lng0, mx, my)
		mps = append(mps, models.MeetingPoint{ID: "MP_" + itoa(i+1), Lat: lat, Lng: lng})
	}
	return mps
}

func meanXY(idxs []int, xs, ys []float64) (x, y float64) {
	for _, i := range idxs {
		x += xs[i]
		y += ys[i]
	}
	n := float64(len(idxs))
	return x / n, y / n
}

func unproject(lat0, lng0, x, y float64) (lat, lng float64) {
	cosLat := math.Cos(lat0 * math.Pi / 180)
	lat = lat0 + y/111320.0
	lng = lng0 + x/(111320.0*cosLat)
	return lat, lng
}

// cheapestInsertionOrder builds a route over meeting-point local indices
// 0..n-1 by repeatedly inserting the cheapest remaining point at its
// cheapest position, starting from the point with the lowest
// source+office cost.
func cheapestInsertionOrder(tSrc, tOff []float64, tMM [][]float64) []int {
	n := len(tOff)
	if n <= 1 {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out
	}
	start := 0
	bestStart := math.Inf(1)
	for i := 0; i < n; i++ {
		v := tSrc[i] + tOff[i]
		if v < bestStart {
			bestStart = v
			start = i
		}
	}
	route := []int{start}
	remaining := make([]int, 0, n-1)
	for i := 0; i < n; i++ {
		if i != start {
			remaining = append(remaining, i)
		}
	}

	incCost := func(insertPos, i int) float64 {
		if insertPos == 0 {
			return tSrc[i] + tMM[i][route[0]] - tSrc[route[0]]
		}
		if insertPos == len(route) {
			return tMM[route[len(route)-1]][i] + tOff[i] - tOff[route[len(route)-1]]
		}
		a, b := route[insertPos-1], route[insertPos]
		return tMM[a][i] + tMM[i][b] - tMM[a][b]
	}

	for len(remaining) > 0 {
		bestI, bestPos := -1, 0
		bestInc := math.Inf(1)
		for _, i := range remaining {
			for pos := 0; pos <= len(route); pos++ {
				inc := incCost(pos, i)
				if inc < bestInc {
					bestInc, bestI, bestPos = inc, i, pos
				}
			}
		}
		if bestI == -1 {
			break
		}
		route = append(route[:bestPos], append([]int{bestI}, route[bestPos:]...)...)
		remaining = removeInt(remaining, bestI)
	}
	return route
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

func routeTime(route []int, tSrc, tOff []float64, tMM [][]float64) float64 {
	if len(route) == 0 {
		return 0
	}
	t := tSrc[route[0]]
	for i := 0; i < len(route)-1; i++ {
		t += tMM[route[i]][route[i+1]]
	}
	t += tOff[route[len(route)-1]]
	return t
}

// twoOpt applies a small, fixed number of deterministic segment-reversal
// trials seeded by position (not randomness, unlike the floating-point
// RNG the original uses, to keep this engine's output reproducible
// without carrying a seeded PRNG dependency) and keeps any trial that
// lowers total route time.
func twoOpt(route []int, tSrc, tOff []float64, tMM [][]float64) []int {
	n := len(route)
	if n < 3 {
		return route
	}
	best := append([]int{}, route...)
	bestCost := routeTime(best, tSrc, tOff, tMM)
	for iter := 0; iter < twoOptIters; iter++ {
		i := iter % (n - 1)
		k := i + 1 + (iter/(n-1))%(n-1-i)
		if k >= n {
			continue
		}
		candidate := make([]int, 0, n)
		candidate = append(candidate, best[:i]...)
		seg := append([]int{}, best[i:k+1]...)
		reverse(seg)
		candidate = append(candidate, seg...)
		candidate = append(candidate, best[k+1:]...)
		c := routeTime(candidate, tSrc, tOff, tMM)
		if c < bestCost {
			best, bestCost = candidate, c
		}
	}
	return best
}

func reverse(s []int) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
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
