// Package geocache is a sqlite-backed caching decorator over any
// geo.GeoAdapter, generalizing the teacher's distance-cache repository
// from a fixed origin/destination schema to the planner's arbitrary
// Point-to-Point lookups.
package geocache

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"commuteplanner/internal/geo"
)

const schemaVersion = 1

// roundCoordinate rounds to 5 decimal places (~1.1m), matching the
// precision the teacher's cache keys on.
func roundCoordinate(v float64) float64 {
	return float64(int64(v*1e5+0.5*sign(v))) / 1e5
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

func cacheKey(o, d geo.Point) (float64, float64, float64, float64) {
	return roundCoordinate(o.Lat), roundCoordinate(o.Lng), roundCoordinate(d.Lat), roundCoordinate(d.Lng)
}

// Cache wraps a geo.GeoAdapter with a sqlite-backed lookup table of
// previously computed costs, keyed on rounded origin/destination pairs.
type Cache struct {
	db       *sql.DB
	mu       sync.RWMutex
	delegate geo.GeoAdapter
}

// Open opens (creating if necessary) a sqlite database at dbPath and
// wraps delegate with a persistent cache in front of it.
func Open(dbPath string, delegate geo.GeoAdapter) (*Cache, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create geocache directory: %w", err)
		}
	}

	log.Printf("[GEOCACHE] opening sqlite cache at %s", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open geocache database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	c := &Cache{db: db, delegate: delegate}
	if err := c.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Cache) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);
	INSERT OR IGNORE INTO schema_version (version) VALUES (1);

	CREATE TABLE IF NOT EXISTS geo_cost_cache (
		origin_lat REAL NOT NULL,
		origin_lng REAL NOT NULL,
		dest_lat REAL NOT NULL,
		dest_lng REAL NOT NULL,
		drive_minutes REAL NOT NULL,
		walk_meters REAL NOT NULL,
		PRIMARY KEY (origin_lat, origin_lng, dest_lat, dest_lng)
	);
	`
	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize geocache schema: %w", err)
	}
	log.Printf("[GEOCACHE] schema initialized (version %d)", schemaVersion)
	return nil
}

// Close closes the underlying database connection.
func (c *Cache) Close() error {
	if c.db != nil {
		c.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return c.db.Close()
	}
	return nil
}

func (c *Cache) lookup(ctx context.Context, o, d geo.Point) (*geo.TravelCost, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	oLat, oLng, dLat, dLng := cacheKey(o, d)
	var cost geo.TravelCost
	err := c.db.QueryRowContext(ctx,
		`SELECT drive_minutes, walk_meters FROM geo_cost_cache
		 WHERE origin_lat = ? AND origin_lng = ? AND dest_lat = ? AND dest_lng = ?`,
		oLat, oLng, dLat, dLng,
	).Scan(&cost.DriveMinutes, &cost.WalkMeters)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read geocache entry: %w", err)
	}
	return &cost, nil
}

func (c *Cache) store(ctx context.Context, o, d geo.Point, cost geo.TravelCost) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	oLat, oLng, dLat, dLng := cacheKey(o, d)
	_, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO geo_cost_cache
		 (origin_lat, origin_lng, dest_lat, dest_lng, drive_minutes, walk_meters)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		oLat, oLng, dLat, dLng, cost.DriveMinutes, cost.WalkMeters,
	)
	if err != nil {
		return fmt.Errorf("failed to write geocache entry: %w", err)
	}
	return nil
}

// Cost returns the cached cost for origin->dest if present, otherwise
// delegates, caches, and returns the delegate's result.
func (c *Cache) Cost(ctx context.Context, origin, dest geo.Point) (geo.TravelCost, error) {
	if cached, err := c.lookup(ctx, origin, dest); err != nil {
		return geo.TravelCost{}, err
	} else if cached != nil {
		return *cached, nil
	}

	cost, err := c.delegate.Cost(ctx, origin, dest)
	if err != nil {
		return geo.TravelCost{}, err
	}
	if err := c.store(ctx, origin, dest, cost); err != nil {
		log.Printf("[GEOCACHE] failed to persist entry: %v", err)
	}
	return cost, nil
}

// CostMatrix fills from the cache where possible and delegates one
// matrix covering every origin and every destination that appears in at
// least one missing pair (so cached pairs inside that grid may be
// recomputed), then persists the delegate's answers for the missing pairs.
func (c *Cache) CostMatrix(ctx context.Context, origins, dests []geo.Point) ([][]geo.TravelCost, error) {
	out := make([][]geo.TravelCost, len(origins))
	for i := range out {
		out[i] = make([]geo.TravelCost, len(dests))
	}

	type miss struct{ i, j int }
	var misses []miss
	for i, o := range origins {
		for j, d := range dests {
			cached, err := c.lookup(ctx, o, d)
			if err != nil {
				return nil, err
			}
			if cached == nil {
				misses = append(misses, miss{i, j})
				continue
			}
			out[i][j] = *cached
		}
	}
	if len(misses) == 0 {
		return out, nil
	}

	seenO := make(map[int]int)
	seenD := make(map[int]int)
	var uniqOrigins, uniqDests []geo.Point
	for _, m := range misses {
		if _, ok := seenO[m.i]; !ok {
			seenO[m.i] = len(uniqOrigins)
			uniqOrigins = append(uniqOrigins, origins[m.i])
		}
		if _, ok := seenD[m.j]; !ok {
			seenD[m.j] = len(uniqDests)
			uniqDests = append(uniqDests, dests[m.j])
		}
	}

	delegateMatrix, err := c.delegate.CostMatrix(ctx, uniqOrigins, uniqDests)
	if err != nil {
		return nil, err
	}

	for _, m := range misses {
		cost := delegateMatrix[seenO[m.i]][seenD[m.j]]
		out[m.i][m.j] = cost
		if err := c.store(ctx, origins[m.i], dests[m.j], cost); err != nil {
			log.Printf("[GEOCACHE] failed to persist batch entry: %v", err)
		}
	}
	return out, nil
}

var _ geo.GeoAdapter = (*Cache)(nil)
