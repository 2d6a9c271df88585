// Package carpoolprep converts the employees left over from shuttle stop
// opening into the carpool census MatchEngine operates on: drivers with
// spare seats and passengers.
package carpoolprep

import (
	"strconv"
	"strings"

	"commuteplanner/internal/models"
)

// BuildCensus converts the residual employees (identified by id) into a
// carpool census. An employee who can drive becomes a driver with
// seats_driver fixed to defaultSeatsDriver and effective capacity
// seats-1; everyone else becomes a passenger. A would-be driver whose
// seats_driver resolves to 0 (defaultSeatsDriver configured to 0) is
// dropped entirely — but since every remaining employee still needs to
// get to work, non-drivers are always kept as passengers.
func BuildCensus(residual []models.Employee, residualIDs []string, defaultSeatsDriver int) []models.CarpoolPerson {
	wanted := make(map[string]bool, len(residualIDs))
	for _, id := range residualIDs {
		wanted[id] = true
	}

	census := make([]models.CarpoolPerson, 0, len(residual))
	for _, e := range residual {
		if !wanted[e.ID] {
			continue
		}
		var target *float64
		if m, ok := parseHHMM(e.ArrivalTarget); ok {
			target = &m
		}
		if e.CanDrive {
			seats := defaultSeatsDriver
			if seats <= 0 {
				continue
			}
			capEff := seats - 1
			if capEff < 0 {
				capEff = 0
			}
			census = append(census, models.CarpoolPerson{
				PersonID: e.ID, Lat: e.HomeLat, Lng: e.HomeLng,
				IsDriver: true, SeatsDriver: seats, CapEfectiva: capEff,
				TargetArrivalMin: target,
			})
			continue
		}
		census = append(census, models.CarpoolPerson{
			PersonID: e.ID, Lat: e.HomeLat, Lng: e.HomeLng,
			IsDriver: false, SeatsDriver: 0, CapEfectiva: 0,
			TargetArrivalMin: target,
		})
	}
	return census
}

// parseHHMM converts an "HH:MM" arrival target into minutes since
// midnight. Returns ok=false for an empty or malformed string.
func parseHHMM(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	h, errH := strconv.Atoi(parts[0])
	m, errM := strconv.Atoi(parts[1])
	if errH != nil || errM != nil {
		return 0, false
	}
	return float64(h*60 + m), true
}
