package carpoolprep

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commuteplanner/internal/models"
)

func TestBuildCensusSplitsDriversAndPassengers(t *testing.T) {
	residual := []models.Employee{
		{ID: "d1", HomeLat: 40, HomeLng: -3, CanDrive: true},
		{ID: "p1", HomeLat: 40.01, HomeLng: -3.01, CanDrive: false},
	}
	census := BuildCensus(residual, []string{"d1", "p1"}, 4)
	require.Len(t, census, 2)

	byID := map[string]models.CarpoolPerson{}
	for _, c := range census {
		byID[c.PersonID] = c
	}
	assert.True(t, byID["d1"].IsDriver)
	assert.Equal(t, 4, byID["d1"].SeatsDriver)
	assert.Equal(t, 3, byID["d1"].CapEfectiva)
	assert.False(t, byID["p1"].IsDriver)
	assert.Equal(t, 0, byID["p1"].CapEfectiva)
}

func TestBuildCensusDropsDriversWhenSeatsZero(t *testing.T) {
	residual := []models.Employee{{ID: "d1", HomeLat: 40, HomeLng: -3, CanDrive: true}}
	census := BuildCensus(residual, []string{"d1"}, 0)
	assert.Len(t, census, 0)
}

func TestBuildCensusUsesDefaultSeatsDriver(t *testing.T) {
	residual := []models.Employee{{ID: "d1", HomeLat: 40, HomeLng: -3, CanDrive: true}}
	census := BuildCensus(residual, []string{"d1"}, 3)
	require.Len(t, census, 1)
	assert.Equal(t, 3, census[0].SeatsDriver)
	assert.Equal(t, 2, census[0].CapEfectiva)
}

func TestBuildCensusFiltersToResidualIDs(t *testing.T) {
	residual := []models.Employee{
		{ID: "d1", HomeLat: 40, HomeLng: -3, CanDrive: true},
		{ID: "d2", HomeLat: 40, HomeLng: -3, CanDrive: true},
	}
	census := BuildCensus(residual, []string{"d1"}, 3)
	require.Len(t, census, 1)
	assert.Equal(t, "d1", census[0].PersonID)
}

func TestBuildCensusParsesArrivalTarget(t *testing.T) {
	residual := []models.Employee{{ID: "p1", HomeLat: 40, HomeLng: -3, ArrivalTarget: "08:30"}}
	census := BuildCensus(residual, []string{"p1"}, 3)
	require.Len(t, census, 1)
	require.NotNil(t, census[0].TargetArrivalMin)
	assert.Equal(t, 510.0, *census[0].TargetArrivalMin)
}
