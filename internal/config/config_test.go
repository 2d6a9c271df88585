package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commuteplanner/internal/models"
)

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, models.DefaultStructuralConstraints(), cfg.Constraints)
	assert.Equal(t, models.DefaultCarpoolMatchConfig(), cfg.MatchConfig)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
}

func TestLoadOverlaysYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "planner.yaml")
	content := []byte("workplace:\n  lat: 40.4168\n  lng: -3.7038\nconstraints:\n  bus_capacity: 30\nserver:\n  port: 9090\n")
	require.NoError(t, os.WriteFile(path, content, 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 40.4168, cfg.Workplace.Lat)
	assert.Equal(t, -3.7038, cfg.Workplace.Lng)
	assert.Equal(t, 30, cfg.Constraints.BusCapacity)
	assert.Equal(t, 9090, cfg.Server.Port)
	// Unset constraints fields still fall back to documented defaults.
	assert.Equal(t, models.DefaultStructuralConstraints().AssignRadiusM, cfg.Constraints.AssignRadiusM)
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, models.DefaultStructuralConstraints(), cfg.Constraints)
}
