package vrpengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commuteplanner/internal/geo"
	"commuteplanner/internal/models"
)

func stopAt(id string, lat, lng float64, riders int) models.Stop {
	empIDs := make([]string, riders)
	for i := range empIDs {
		empIDs[i] = id + "-e" + itoa(i)
	}
	return models.Stop{ID: id, Lat: lat, Lng: lng, EmployeeID: empIDs}
}

func TestRunEmptyStopsReturnsNothing(t *testing.T) {
	adapter := geo.NewHaversineGeoAdapter(30)
	routes, unserved, err := Run(context.Background(), nil, models.Workplace{}, adapter, models.DefaultStructuralConstraints(), 0, 0, 0)
	require.NoError(t, err)
	assert.Nil(t, routes)
	assert.Nil(t, unserved)
}

func TestRunRejectsNonPositiveBusCapacity(t *testing.T) {
	adapter := geo.NewHaversineGeoAdapter(30)
	c := models.DefaultStructuralConstraints()
	c.BusCapacity = 0
	_, _, err := Run(context.Background(), []models.Stop{stopAt("s0", 40.01, -3.0, 10)}, models.Workplace{Lat: 40, Lng: -3}, adapter, c, 0, 0, 0)
	require.Error(t, err)
	var cfgErr *models.ErrInvalidConfig
	assert.ErrorAs(t, err, &cfgErr)
}

func TestRunMergesNearbyStopsTowardOffice(t *testing.T) {
	adapter := geo.NewHaversineGeoAdapter(30)
	c := models.DefaultStructuralConstraints()
	stops := []models.Stop{
		stopAt("s0", 40.02, -3.0, 20),
		stopAt("s1", 40.015, -3.0, 20),
	}
	routes, unserved, err := Run(context.Background(), stops, models.Workplace{Lat: 40, Lng: -3}, adapter, c, 1, 8, 5400)
	require.NoError(t, err)
	assert.Empty(t, unserved)
	totalRiders := 0
	for _, r := range routes {
		totalRiders += r.TotalRiders
		assert.LessOrEqual(t, r.TotalRiders, c.BusCapacity)
	}
	assert.Equal(t, 40, totalRiders)
}

func TestRunRespectsBusCapacity(t *testing.T) {
	adapter := geo.NewHaversineGeoAdapter(30)
	c := models.DefaultStructuralConstraints()
	c.BusCapacity = 10
	stops := []models.Stop{
		stopAt("s0", 40.001, -3.0, 8),
		stopAt("s1", 40.002, -3.0, 8),
		stopAt("s2", 40.003, -3.0, 8),
	}
	routes, _, err := Run(context.Background(), stops, models.Workplace{Lat: 40, Lng: -3}, adapter, c, 1, 8, 5400)
	require.NoError(t, err)
	for _, r := range routes {
		assert.LessOrEqual(t, r.TotalRiders, 10)
	}
}
