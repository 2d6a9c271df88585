package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commuteplanner/internal/geo"
	"commuteplanner/internal/handlers"
	"commuteplanner/internal/models"
	"commuteplanner/internal/planner"
	"commuteplanner/internal/store"
)

func newTestServer(t *testing.T) string {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	h := &handlers.Handler{
		Adapter:         geo.NewHaversineGeoAdapter(30),
		Workplace:       models.Workplace{Lat: 40.0, Lng: -3.0},
		Options:         planner.DefaultOptions(),
		ValidationStore: s.ValidationStore(),
		CarpoolRoutes:   s.CarpoolRouteStore(),
	}

	srv := New(Config{Addr: "127.0.0.1:0"}, h)
	addr, err := srv.Start()
	require.NoError(t, err)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })

	return addr
}

func TestHealthz(t *testing.T) {
	addr := newTestServer(t)
	time.Sleep(20 * time.Millisecond)

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPlanEndpointReturnsJSON(t *testing.T) {
	addr := newTestServer(t)
	time.Sleep(20 * time.Millisecond)

	body, err := json.Marshal(handlers.PlanRequest{
		Date: "2026-07-30",
		Employees: []handlers.EmployeeDTO{
			{EmployeeID: "e1", HomeLat: 40.01, HomeLng: -3.01},
		},
	})
	require.NoError(t, err)

	resp, err := http.Post("http://"+addr+"/api/v1/plan", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var planResp handlers.PlanResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&planResp))
	assert.Equal(t, "2026-07-30", planResp.Date)
}
