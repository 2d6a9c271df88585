package planner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commuteplanner/internal/geo"
	"commuteplanner/internal/models"
)

func gridEmployee(id string, lat, lng float64, canDrive bool) models.Employee {
	return models.Employee{ID: id, HomeLat: lat, HomeLng: lng, CanDrive: canDrive}
}

func TestPlanEmptyCensusProducesEmptyPlan(t *testing.T) {
	adapter := geo.NewHaversineGeoAdapter(30)
	plan, err := Plan(context.Background(), nil, models.Workplace{Lat: 40, Lng: -3}, adapter, DefaultOptions())
	require.NoError(t, err)
	assert.Empty(t, plan.Stops)
	assert.Empty(t, plan.Routes)
	assert.Empty(t, plan.UnassignedIDs)
}

func TestPlanOpensShuttleStopForDenseCluster(t *testing.T) {
	adapter := geo.NewHaversineGeoAdapter(30)
	var employees []models.Employee
	for i := 0; i < 12; i++ {
		lat := 40.02 + float64(i)*0.0005
		employees = append(employees, gridEmployee("e"+string(rune('a'+i)), lat, -3.0, false))
	}
	opts := DefaultOptions()
	plan, err := Plan(context.Background(), employees, models.Workplace{Lat: 40.0, Lng: -3.0}, adapter, opts)
	require.NoError(t, err)
	assert.NotEmpty(t, plan.Stops)
	assert.NotEmpty(t, plan.Routes)

	totalRiders := 0
	for _, r := range plan.Routes {
		totalRiders += r.TotalRiders
	}
	assert.Equal(t, len(employees), totalRiders)
	assert.Empty(t, plan.UnassignedIDs)
}

func TestPlanRoutesResidualEmployeesToCarpool(t *testing.T) {
	adapter := geo.NewHaversineGeoAdapter(30)
	employees := []models.Employee{
		gridEmployee("d1", 41.010, -4.010, true),
		gridEmployee("p1", 41.0101, -4.0101, false),
		gridEmployee("p2", 41.0102, -4.0099, false),
	}
	opts := DefaultOptions()
	opts.MatchConfig.DBSCANMinSamples = 2
	plan, err := Plan(context.Background(), employees, models.Workplace{Lat: 41.0, Lng: -4.0}, adapter, opts)
	require.NoError(t, err)
	assert.Empty(t, plan.Stops, "too few employees to open a shuttle stop, all go to carpool")
	assert.NotEmpty(t, plan.Matches)
	assert.NotEmpty(t, plan.DriverRoutes)
}

func TestPlanWithShadowMetrics(t *testing.T) {
	adapter := geo.NewHaversineGeoAdapter(30)
	employees := []models.Employee{
		gridEmployee("e1", 40.01, -3.01, false),
		gridEmployee("e2", 40.011, -3.011, false),
	}
	opts := DefaultOptions()
	opts.IncludeShadowMetrics = true
	plan, err := Plan(context.Background(), employees, models.Workplace{Lat: 40.0, Lng: -3.0}, adapter, opts)
	require.NoError(t, err)
	require.NotNil(t, plan.ShadowMetrics)
	assert.GreaterOrEqual(t, plan.ShadowMetrics.NClusters, 0)
}

func TestPlanRespectsCancellation(t *testing.T) {
	adapter := geo.NewHaversineGeoAdapter(30)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Plan(ctx, []models.Employee{gridEmployee("e1", 40.01, -3.01, false)}, models.Workplace{Lat: 40, Lng: -3}, adapter, DefaultOptions())
	require.Error(t, err)
	var cancelled *models.ErrCancelled
	assert.ErrorAs(t, err, &cancelled)
}
