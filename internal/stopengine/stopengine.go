// Package stopengine implements shuttle stop opening: greedy
// facility-location clustering of employee homes into shuttle pickup
// stops under minimum-separation, minimum-occupancy, and maximum-size
// constraints.
package stopengine

import (
	"context"
	"log"
	"math"
	"sort"

	"commuteplanner/internal/cluster"
	"commuteplanner/internal/geo"
	"commuteplanner/internal/models"
	"commuteplanner/internal/spatialindex"
)

// OpenStops runs the full stop-opening pipeline over the given census and
// returns the opened stops plus the ids of employees left over for
// carpool matching.
func OpenStops(ctx context.Context, employees []models.Employee, workplace models.Workplace, constraints models.StructuralConstraints) ([]models.Stop, []string, error) {
	if err := validateConstraints(constraints); err != nil {
		return nil, nil, err
	}
	if len(employees) == 0 {
		return nil, nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, &models.ErrCancelled{Stage: "stopengine.OpenStops", Cause: err}
	}
	seenIDs := make(map[string]bool, len(employees))
	for _, e := range employees {
		if e.ID == "" {
			return nil, nil, &models.ErrInvalidInput{Reason: "employee has an empty id"}
		}
		if seenIDs[e.ID] {
			return nil, nil, &models.ErrInvalidInput{Reason: "duplicate employee id " + e.ID}
		}
		seenIDs[e.ID] = true
		if math.IsNaN(e.HomeLat) || math.IsInf(e.HomeLat, 0) || math.IsNaN(e.HomeLng) || math.IsInf(e.HomeLng, 0) {
			return nil, nil, &models.ErrInvalidInput{Reason: "employee " + e.ID + " has a non-finite coordinate"}
		}
	}

	ids := make([]string, len(employees))
	for i, e := range employees {
		ids[i] = e.ID
	}

	proj := geo.NewProjector(workplace.Lat, workplace.Lng)
	xs := make([]float64, len(employees))
	ys := make([]float64, len(employees))
	for i, e := range employees {
		xs[i], ys[i] = proj.Project(e.HomeLat, e.HomeLng)
	}
	n := len(xs)
	idx := spatialindex.New(xs, ys)

	radius := constraints.AssignRadiusM
	cap := constraints.MaxClusterSize
	minShuttle := nonZero(constraints.MinShuttle, 6)
	minSep := nonZeroF(constraints.MinStopSepM, 350.0)
	fallbackMin := nonZero(constraints.FallbackMin, 8)
	pairRadius := nonZeroF(constraints.PairRadiusM, 350.0)
	minOK := nonZero(constraints.MinOK, 8)
	minOKFarM := constraints.MinOKFarM
	minOKFar := constraints.MinOKFar
	maxOK := nonZero(constraints.MaxOK, 40)
	fusionRadius := nonZeroF(constraints.FusionRadius, 150.0)
	diameterMax := nonZeroF(constraints.DiameterMaxM, 1500.0)
	excludeRadius := nonZeroF(constraints.ExcludeRadiusM, 1000.0)

	unassigned := make([]bool, n)
	for i := range unassigned {
		unassigned[i] = true
	}

	log.Printf("[STOPENGINE] opening stops for %d employees, radius=%.0fm cap=%d", n, radius, cap)

	centersX, centersY, membersList := greedyOpenStops(xs, ys, idx, minShuttle, radius, cap, unassigned, minSep)
	if len(centersX) == 0 {
		fresh := make([]bool, n)
		for i := range fresh {
			fresh[i] = true
		}
		centersX, centersY, membersList = greedyOpenStops(xs, ys, idx, fallbackMin, radius, cap, fresh, minSep)
	}
	// Recenter each stop on its medoid.
	for i, mems := range membersList {
		if len(mems) > 0 {
			mx, my := bestMedoid(mems, xs, ys)
			centersX[i], centersY[i] = mx, my
		}
	}

	// Residual pair-radius attachment: unassigned employees within
	// pair_radius of any current member join that stop if it has spare
	// capacity.
	assigned := make([]bool, n)
	for _, mems := range membersList {
		for _, m := range mems {
			assigned[m] = true
		}
	}
	capLeft := make([]int, len(membersList))
	for k, mems := range membersList {
		capLeft[k] = cap - len(mems)
	}
	for i := 0; i < n; i++ {
		if assigned[i] {
			continue
		}
		for k := range membersList {
			if capLeft[k] <= 0 {
				continue
			}
			if withinAny(xs[i], ys[i], membersList[k], xs, ys, pairRadius) {
				membersList[k] = append(membersList[k], i)
				capLeft[k]--
				assigned[i] = true
				break
			}
		}
	}

	effectiveMinOK := func(members []int) int {
		if minOKFarM <= 0 || minOKFar >= minOK {
			return minOK
		}
		cx, cy := clusterCenter(members, xs, ys)
		distToOffice := math.Hypot(cx, cy)
		if distToOffice > minOKFarM {
			return minOKFar
		}
		return minOK
	}

	var keptClusters [][]int
	for _, mems := range membersList {
		effMin := effectiveMinOK(mems)
		if len(mems) < effMin {
			continue
		}
		if len(mems) > maxOK {
			k := int(math.Ceil(float64(len(mems)) / float64(maxOK)))
			subXs := make([]float64, len(mems))
			subYs := make([]float64, len(mems))
			for i, m := range mems {
				subXs[i], subYs[i] = xs[m], ys[m]
			}
			labels, err := cluster.KMeansSplit(subXs, subYs, k)
			if err != nil {
				return nil, nil, err
			}
			groups := make(map[int][]int)
			for i, lab := range labels {
				groups[lab] = append(groups[lab], mems[i])
			}
			labelOrder := make([]int, 0, len(groups))
			for lab := range groups {
				labelOrder = append(labelOrder, lab)
			}
			sort.Ints(labelOrder)
			for _, lab := range labelOrder {
				sub := groups[lab]
				if len(sub) == 0 {
					continue
				}
				subMin := effectiveMinOK(sub)
				if len(sub) >= subMin {
					keptClusters = append(keptClusters, sub)
				}
			}
		} else {
			keptClusters = append(keptClusters, mems)
		}
	}

	// Fusion pass: merge clusters whose centers lie within fusion_radius,
	// as long as the merged set stays within size and diameter limits.
	changed := true
	for changed {
		changed = false
		centers := make([][2]float64, len(keptClusters))
		for i, c := range keptClusters {
			cx, cy := clusterCenter(c, xs, ys)
			centers[i] = [2]float64{cx, cy}
		}
		removed := make(map[int]bool)
		for i := 0; i < len(keptClusters); i++ {
			if removed[i] {
				continue
			}
			for j := i + 1; j < len(keptClusters); j++ {
				if removed[j] {
					continue
				}
				dx := centers[i][0] - centers[j][0]
				dy := centers[i][1] - centers[j][1]
				if math.Hypot(dx, dy) <= fusionRadius {
					merged := mergeUnique(keptClusters[i], keptClusters[j])
					if len(merged) <= maxOK && clusterDiameter(merged, xs, ys) <= diameterMax {
						keptClusters[i] = merged
						removed[j] = true
						changed = true
					}
				}
			}
		}
		if len(removed) > 0 {
			next := keptClusters[:0]
			for k, c := range keptClusters {
				if !removed[k] {
					next = append(next, c)
				}
			}
			keptClusters = next
		}
	}

	allAssignedToShuttle := make(map[int]bool)
	for _, c := range keptClusters {
		for _, m := range c {
			allAssignedToShuttle[m] = true
		}
	}
	carpoolIdx := make(map[int]bool)
	for i := 0; i < n; i++ {
		if !allAssignedToShuttle[i] {
			carpoolIdx[i] = true
		}
	}

	var stops []models.Stop
	for _, mems := range keptClusters {
		cx, cy := clusterCenter(mems, xs, ys)
		if math.Hypot(cx, cy) < excludeRadius {
			for _, m := range mems {
				carpoolIdx[m] = true
			}
			continue
		}
		lat, lng := unproject(workplace, cx, cy)
		empIDs := make([]string, len(mems))
		for i, m := range mems {
			empIDs[i] = ids[m]
		}
		sort.Strings(empIDs)
		stops = append(stops, models.Stop{
			ID:         stopID(len(stops)),
			Lat:        lat,
			Lng:        lng,
			EmployeeID: empIDs,
		})
	}

	carpoolIDs := make([]string, 0, len(carpoolIdx))
	for i := range carpoolIdx {
		carpoolIDs = append(carpoolIDs, ids[i])
	}
	sort.Strings(carpoolIDs)

	log.Printf("[STOPENGINE] opened %d stops, %d employees left for carpool matching", len(stops), len(carpoolIDs))
	return stops, carpoolIDs, nil
}

func validateConstraints(c models.StructuralConstraints) error {
	if c.AssignRadiusM <= 0 {
		return &models.ErrInvalidConfig{Field: "assign_radius_m", Reason: "must be positive"}
	}
	if c.MaxClusterSize <= 0 {
		return &models.ErrInvalidConfig{Field: "max_cluster_size", Reason: "must be positive"}
	}
	minOK := nonZero(c.MinOK, 8)
	if minOK > c.MaxClusterSize {
		return &models.ErrInvalidConfig{Field: "min_ok", Reason: "must not exceed max_cluster_size"}
	}
	return nil
}

func nonZero(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func nonZeroF(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

func stopID(n int) string {
	return "stop-" + itoa(n)
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

func unproject(workplace models.Workplace, x, y float64) (lat, lng float64) {
	cosLat := math.Cos(workplace.Lat * math.Pi / 180)
	lat = workplace.Lat + y/111320.0
	lng = workplace.Lng + x/(111320.0*cosLat)
	return lat, lng
}

// coverageForCenter returns the unassigned neighbors of point i within
// radius, nearest first, capped at cap entries.
func coverageForCenter(i int, xs, ys []float64, idx *spatialindex.Index, unassigned []bool, radius float64, cap int) []int {
	neighbors := idx.RadiusSearch(xs[i], ys[i], radius)
	var take []int
	for _, j := range neighbors {
		if unassigned[j] {
			take = append(take, j)
		}
	}
	if len(take) == 0 {
		return nil
	}
	sort.Slice(take, func(a, b int) bool {
		da := math.Hypot(xs[take[a]]-xs[i], ys[take[a]]-ys[i])
		db := math.Hypot(xs[take[b]]-xs[i], ys[take[b]]-ys[i])
		return da < db
	})
	if len(take) > cap {
		take = take[:cap]
	}
	return take
}

// tooClose reports whether (x, y) lies within minSep of any already
// opened center.
func tooClose(x, y float64, centersX, centersY []float64, minSep float64) bool {
	for i := range centersX {
		if math.Hypot(x-centersX[i], y-centersY[i]) <= minSep {
			return true
		}
	}
	return false
}

// greedyOpenStops repeatedly opens the stop with the largest unassigned
// coverage (gain), breaking ties toward the smaller candidate index,
// until no candidate reaches minThreshold gain.
func greedyOpenStops(xs, ys []float64, idx *spatialindex.Index, minThreshold int, radius float64, cap int, initialUnassigned []bool, minSep float64) (centersX, centersY []float64, membersList [][]int) {
	unassigned := make([]bool, len(initialUnassigned))
	copy(unassigned, initialUnassigned)

	progressed := true
	for progressed {
		progressed = false
		bestGain := 0
		bestCenter := -1
		var bestTake []int
		for i := range xs {
			if !unassigned[i] {
				continue
			}
			if tooClose(xs[i], ys[i], centersX, centersY, minSep) {
				continue
			}
			take := coverageForCenter(i, xs, ys, idx, unassigned, radius, cap)
			gain := len(take)
			if gain > bestGain || (gain == bestGain && (bestCenter == -1 || i < bestCenter)) {
				bestGain = gain
				bestCenter = i
				bestTake = take
			}
		}
		if bestCenter != -1 && bestGain >= minThreshold {
			centersX = append(centersX, xs[bestCenter])
			centersY = append(centersY, ys[bestCenter])
			membersList = append(membersList, bestTake)
			for _, j := range bestTake {
				unassigned[j] = false
			}
			progressed = true
		}
	}
	return centersX, centersY, membersList
}

// bestMedoid returns the coordinates of the member minimizing the sum of
// distances to the others.
func bestMedoid(members []int, xs, ys []float64) (x, y float64) {
	bestIdx := members[0]
	bestSum := math.Inf(1)
	for _, i := range members {
		sum := 0.0
		for _, j := range members {
			sum += math.Hypot(xs[i]-xs[j], ys[i]-ys[j])
		}
		if sum < bestSum {
			bestSum = sum
			bestIdx = i
		}
	}
	return xs[bestIdx], ys[bestIdx]
}

func clusterCenter(members []int, xs, ys []float64) (x, y float64) {
	for _, i := range members {
		x += xs[i]
		y += ys[i]
	}
	n := float64(len(members))
	return x / n, y / n
}

func clusterDiameter(members []int, xs, ys []float64) float64 {
	if len(members) <= 1 {
		return 0
	}
	if len(members) <= 400 {
		maxD := 0.0
		for a := 0; a < len(members); a++ {
			for b := a + 1; b < len(members); b++ {
				d := math.Hypot(xs[members[a]]-xs[members[b]], ys[members[a]]-ys[members[b]])
				if d > maxD {
					maxD = d
				}
			}
		}
		return maxD
	}
	minX, maxX := xs[members[0]], xs[members[0]]
	minY, maxY := ys[members[0]], ys[members[0]]
	for _, i := range members {
		minX, maxX = math.Min(minX, xs[i]), math.Max(maxX, xs[i])
		minY, maxY = math.Min(minY, ys[i]), math.Max(maxY, ys[i])
	}
	return math.Hypot(maxX-minX, maxY-minY)
}

func withinAny(x, y float64, members []int, xs, ys []float64, radius float64) bool {
	for _, j := range members {
		if math.Hypot(x-xs[j], y-ys[j]) <= radius {
			return true
		}
	}
	return false
}

func mergeUnique(a, b []int) []int {
	seen := make(map[int]bool, len(a)+len(b))
	out := make([]int, 0, len(a)+len(b))
	for _, v := range append(append([]int{}, a...), b...) {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Ints(out)
	return out
}
