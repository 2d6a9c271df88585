package stopengine

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commuteplanner/internal/models"
)

func gridEmployees(n int, lat0, lng0, stepDeg float64) []models.Employee {
	out := make([]models.Employee, n)
	for i := 0; i < n; i++ {
		out[i] = models.Employee{
			ID:      "e" + itoa(i),
			HomeLat: lat0 + float64(i)*stepDeg,
			HomeLng: lng0,
		}
	}
	return out
}

func TestOpenStopsEmptyCensusReturnsNothing(t *testing.T) {
	stops, carpool, err := OpenStops(context.Background(), nil, models.Workplace{}, models.DefaultStructuralConstraints())
	require.NoError(t, err)
	assert.Nil(t, stops)
	assert.Nil(t, carpool)
}

func TestOpenStopsRejectsInvalidConstraints(t *testing.T) {
	c := models.DefaultStructuralConstraints()
	c.AssignRadiusM = -1
	_, _, err := OpenStops(context.Background(), gridEmployees(5, 40, -3, 0.0001), models.Workplace{Lat: 40, Lng: -3}, c)
	require.Error(t, err)
	var cfgErr *models.ErrInvalidConfig
	assert.ErrorAs(t, err, &cfgErr)
}

func TestOpenStopsRejectsNonFiniteCoordinates(t *testing.T) {
	employees := gridEmployees(10, 40, -3, 0.0005)
	employees[0].HomeLat = 1.0 / employeesZero()
	_, _, err := OpenStops(context.Background(), employees, models.Workplace{Lat: 41, Lng: -3}, models.DefaultStructuralConstraints())
	require.Error(t, err)
	var inputErr *models.ErrInvalidInput
	assert.ErrorAs(t, err, &inputErr)
}

func employeesZero() float64 { return 0 }

func TestOpenStopsBelowMinOKYieldsNoStops(t *testing.T) {
	c := models.DefaultStructuralConstraints()
	employees := gridEmployees(3, 40.01, -3.0, 0.0001)
	stops, carpool, err := OpenStops(context.Background(), employees, models.Workplace{Lat: 40, Lng: -3}, c)
	require.NoError(t, err)
	assert.Empty(t, stops)
	assert.Len(t, carpool, 3)
}

func TestOpenStopsFarClusterUsesMinOKFar(t *testing.T) {
	c := models.DefaultStructuralConstraints()
	// Seven employees tightly packed ~4km from the workplace, well past
	// min_ok_far_m (3000). Cluster of 7 survives with min_ok_far=6 even
	// though the base min_ok is 8.
	employees := make([]models.Employee, 0, 15)
	for i := 0; i < 7; i++ {
		employees = append(employees, models.Employee{
			ID:      "far" + itoa(i),
			HomeLat: 40.036 + float64(i)*0.00005,
			HomeLng: -3.0,
		})
	}
	stops, _, err := OpenStops(context.Background(), employees, models.Workplace{Lat: 40, Lng: -3}, c)
	require.NoError(t, err)
	require.Len(t, stops, 1)
	assert.Len(t, stops[0].EmployeeID, 7)
}

func TestOpenStopsExcludesStopsNearWorkplace(t *testing.T) {
	c := models.DefaultStructuralConstraints()
	employees := gridEmployees(10, 40.0005, -3.0, 0.00002)
	_, carpool, err := OpenStops(context.Background(), employees, models.Workplace{Lat: 40, Lng: -3}, c)
	require.NoError(t, err)
	assert.Len(t, carpool, 10)
}

func TestOpenStopsEveryOpenedStopRespectsMinSeparation(t *testing.T) {
	c := models.DefaultStructuralConstraints()
	employees := gridEmployees(40, 40.05, -3.0, 0.0002)
	stops, _, err := OpenStops(context.Background(), employees, models.Workplace{Lat: 40, Lng: -3}, c)
	require.NoError(t, err)
	for i := 0; i < len(stops); i++ {
		for j := i + 1; j < len(stops); j++ {
			d := haversineApprox(stops[i].Lat, stops[i].Lng, stops[j].Lat, stops[j].Lng)
			assert.GreaterOrEqual(t, d, c.MinStopSepM-1.0)
		}
	}
}

func haversineApprox(lat1, lng1, lat2, lng2 float64) float64 {
	dy := (lat2 - lat1) * 111320.0
	dx := (lng2 - lng1) * 111320.0
	return math.Hypot(dx, dy)
}
