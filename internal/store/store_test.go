package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestValidationStoreGetSet(t *testing.T) {
	s := newTestStore(t)
	vs := s.ValidationStore()
	ctx := context.Background()

	status, err := vs.Get(ctx, "u1", "2026-07-30", "ida")
	require.NoError(t, err)
	assert.Equal(t, "", status)

	require.NoError(t, vs.Set(ctx, "u1", "2026-07-30", "ida", "confirmed"))
	status, err = vs.Get(ctx, "u1", "2026-07-30", "ida")
	require.NoError(t, err)
	assert.Equal(t, "confirmed", status)
}

func TestCarpoolRouteStorePutAndGet(t *testing.T) {
	s := newTestStore(t)
	crs := s.CarpoolRouteStore()
	ctx := context.Background()

	found, err := crs.FindActiveForDriver(ctx, "d1", "2026-07-30")
	require.NoError(t, err)
	assert.False(t, found)

	route := CarpoolRoute{DriverID: "d1", Date: "2026-07-30", MeetingPointIDs: []string{"mp-1", "mp-2"}, PassengerIDs: []string{"p1", "p2"}}
	require.NoError(t, crs.Put(ctx, route))

	found, err = crs.FindActiveForDriver(ctx, "d1", "2026-07-30")
	require.NoError(t, err)
	assert.True(t, found)

	got, err := crs.GetByDriver(ctx, "d1", "2026-07-30")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"mp-1", "mp-2"}, got.MeetingPointIDs)
	assert.Equal(t, []string{"p1", "p2"}, got.PassengerIDs)
}

func TestCarpoolRouteStoreNoRouteForOtherDriver(t *testing.T) {
	s := newTestStore(t)
	crs := s.CarpoolRouteStore()
	ctx := context.Background()

	require.NoError(t, crs.Put(ctx, CarpoolRoute{DriverID: "d1", Date: "2026-07-30", MeetingPointIDs: []string{"mp-1"}, PassengerIDs: []string{"p1"}}))

	found, err := crs.FindActiveForDriver(ctx, "d2", "2026-07-30")
	require.NoError(t, err)
	assert.False(t, found)
}
