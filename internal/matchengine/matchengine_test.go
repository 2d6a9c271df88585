package matchengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commuteplanner/internal/geo"
	"commuteplanner/internal/models"
)

func person(id string, lat, lng float64, isDriver bool, cap int) models.CarpoolPerson {
	p := models.CarpoolPerson{PersonID: id, Lat: lat, Lng: lng, IsDriver: isDriver}
	if isDriver {
		p.SeatsDriver = cap + 1
		p.CapEfectiva = cap
	}
	return p
}

func TestRunNoPassengersReturnsNothing(t *testing.T) {
	adapter := geo.NewHaversineGeoAdapter(30)
	census := []models.CarpoolPerson{person("d1", 40.0, -3.0, true, 3)}
	matches, routes, mps, unmatched, err := Run(context.Background(), census, models.Workplace{Lat: 40, Lng: -3}, adapter, models.DefaultCarpoolMatchConfig())
	require.NoError(t, err)
	assert.Nil(t, matches)
	assert.Nil(t, routes)
	assert.Nil(t, mps)
	assert.Nil(t, unmatched)
}

func TestRunNoDriversLeavesAllUnmatched(t *testing.T) {
	adapter := geo.NewHaversineGeoAdapter(30)
	census := []models.CarpoolPerson{
		person("p1", 40.0, -3.0, false, 0),
		person("p2", 40.001, -3.001, false, 0),
	}
	matches, routes, mps, unmatched, err := Run(context.Background(), census, models.Workplace{Lat: 40, Lng: -3}, adapter, models.DefaultCarpoolMatchConfig())
	require.NoError(t, err)
	assert.Nil(t, matches)
	assert.Nil(t, routes)
	assert.Nil(t, mps)
	assert.ElementsMatch(t, []string{"p1", "p2"}, unmatched)
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	adapter := geo.NewHaversineGeoAdapter(30)
	census := []models.CarpoolPerson{
		person("d1", 40.0, -3.0, true, 3),
		person("p1", 40.001, -3.001, false, 0),
	}
	c := models.DefaultCarpoolMatchConfig()
	c.DBSCANEpsM = 0
	_, _, _, _, err := Run(context.Background(), census, models.Workplace{Lat: 40, Lng: -3}, adapter, c)
	require.Error(t, err)
	var cfgErr *models.ErrInvalidConfig
	assert.ErrorAs(t, err, &cfgErr)
}

func TestRunDiscoversMeetingPointAndMatchesDriver(t *testing.T) {
	adapter := geo.NewHaversineGeoAdapter(30)
	census := []models.CarpoolPerson{
		person("d1", 40.010, -3.010, true, 3),
		person("p1", 40.0101, -3.0101, false, 0),
		person("p2", 40.0102, -3.0099, false, 0),
		person("p3", 40.0099, -3.0100, false, 0),
	}
	c := models.DefaultCarpoolMatchConfig()
	c.DBSCANMinSamples = 2
	matches, routes, mps, unmatched, err := Run(context.Background(), census, models.Workplace{Lat: 40, Lng: -3}, adapter, c)
	require.NoError(t, err)
	require.NotEmpty(t, mps)
	require.NotEmpty(t, matches)
	require.Len(t, routes, 1)
	assert.Equal(t, "d1", routes[0].DriverID)
	assert.LessOrEqual(t, len(matches), 3)
	for _, m := range matches {
		assert.Equal(t, "d1", m.DriverID)
		assert.Contains(t, []string{"p1", "p2", "p3"}, m.PassengerID)
	}
	matched := make(map[string]bool)
	for _, m := range matches {
		matched[m.PassengerID] = true
	}
	for _, id := range unmatched {
		assert.False(t, matched[id])
	}
}

func TestRunNoMeetingPointsWithinWalkDistanceLeavesUnmatched(t *testing.T) {
	adapter := geo.NewHaversineGeoAdapter(30)
	census := []models.CarpoolPerson{
		person("d1", 41.0, -4.0, true, 3),
		person("p1", 40.0, -3.0, false, 0),
		person("p2", 40.0005, -3.0005, false, 0),
		person("p3", 40.0003, -3.0002, false, 0),
	}
	c := models.DefaultCarpoolMatchConfig()
	c.MaxWalkM = 1
	matches, routes, _, unmatched, err := Run(context.Background(), census, models.Workplace{Lat: 40.5, Lng: -3.5}, adapter, c)
	require.NoError(t, err)
	assert.Empty(t, matches)
	assert.Empty(t, routes)
	assert.ElementsMatch(t, []string{"p1", "p2", "p3"}, unmatched)
}

func TestCheapestInsertionOrderVisitsAllPoints(t *testing.T) {
	tSrc := []float64{5, 6, 7}
	tOff := []float64{2, 3, 1}
	tMM := [][]float64{
		{0, 1, 4},
		{1, 0, 2},
		{4, 2, 0},
	}
	order := cheapestInsertionOrder(tSrc, tOff, tMM)
	assert.ElementsMatch(t, []int{0, 1, 2}, order)
}

func TestRouteTimeSumsSegments(t *testing.T) {
	tSrc := []float64{5, 6}
	tOff := []float64{2, 3}
	tMM := [][]float64{{0, 1}, {1, 0}}
	got := routeTime([]int{0, 1}, tSrc, tOff, tMM)
	assert.Equal(t, 5.0+1.0+3.0, got)
}
