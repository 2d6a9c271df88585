// Package store provides the sqlite-backed repositories the "today"
// read model depends on: validated trip status and active carpool
// routes, generalizing the teacher's per-entity sqlite repositories
// (internal/sqlite) from the ride-share CRUD domain to the commute
// planner's read-model needs. Neither repository is imported by the
// planning core.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

const schemaVersion = 1

// CarpoolRoute is one driver's active carpool route for a given date, as
// surfaced by the "today" read model.
type CarpoolRoute struct {
	DriverID        string
	Date            string
	MeetingPointIDs []string
	PassengerIDs    []string
}

// Store opens and owns the sqlite connection backing ValidationStore and
// CarpoolRouteStore.
type Store struct {
	db *sql.DB

	// Writes are serialized per driver_id (the natural partition key per
	// spec's design notes), not behind one global lock, so independent
	// drivers' carpool-route writes never block each other.
	shardsMu sync.Mutex
	shards   map[string]*sync.Mutex
}

// Open opens (creating if necessary) a sqlite database at dbPath.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	log.Printf("[STORE] opening sqlite store at %s", dbPath)
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store database: %w", err)
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

	s := &Store{db: db, shards: make(map[string]*sync.Mutex)}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);
	INSERT OR IGNORE INTO schema_version (version) VALUES (1);

	CREATE TABLE IF NOT EXISTS trip_validations (
		user_id TEXT NOT NULL,
		date TEXT NOT NULL,
		trip_type TEXT NOT NULL,
		status TEXT NOT NULL,
		PRIMARY KEY (user_id, date, trip_type)
	);

	CREATE TABLE IF NOT EXISTS carpool_routes (
		driver_id TEXT NOT NULL,
		date TEXT NOT NULL,
		meeting_point_ids TEXT NOT NULL,
		passenger_ids TEXT NOT NULL,
		PRIMARY KEY (driver_id, date)
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize store schema: %w", err)
	}
	log.Printf("[STORE] schema initialized (version %d)", schemaVersion)
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s.db != nil {
		s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return s.db.Close()
	}
	return nil
}

// lockFor returns the mutex shard guarding writes for the given key
// (typically a driver_id), creating it on first use.
func (s *Store) lockFor(key string) *sync.Mutex {
	s.shardsMu.Lock()
	defer s.shardsMu.Unlock()
	m, ok := s.shards[key]
	if !ok {
		m = &sync.Mutex{}
		s.shards[key] = m
	}
	return m
}

// ValidationStore returns the trip-validation repository.
func (s *Store) ValidationStore() *ValidationStore { return &ValidationStore{store: s} }

// CarpoolRouteStore returns the carpool-route repository.
func (s *Store) CarpoolRouteStore() *CarpoolRouteStore { return &CarpoolRouteStore{store: s} }

// ValidationStore records per-user, per-trip-type validation status
// (e.g. "pending", "confirmed") for a given date.
type ValidationStore struct {
	store *Store
}

// Get returns the recorded status for (userID, date, tripType), or ""
// if no validation has been recorded.
func (v *ValidationStore) Get(ctx context.Context, userID, date, tripType string) (string, error) {
	var status string
	err := v.store.db.QueryRowContext(ctx,
		`SELECT status FROM trip_validations WHERE user_id = ? AND date = ? AND trip_type = ?`,
		userID, date, tripType,
	).Scan(&status)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read trip validation: %w", err)
	}
	return status, nil
}

// Set records the validation status for (userID, date, tripType).
func (v *ValidationStore) Set(ctx context.Context, userID, date, tripType, status string) error {
	mu := v.store.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	_, err := v.store.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO trip_validations (user_id, date, trip_type, status) VALUES (?, ?, ?, ?)`,
		userID, date, tripType, status,
	)
	if err != nil {
		return fmt.Errorf("failed to set trip validation: %w", err)
	}
	return nil
}

// CarpoolRouteStore records each driver's active carpool route per date.
type CarpoolRouteStore struct {
	store *Store
}

// GetByDriver returns the driver's route for date, or nil if none
// exists.
func (c *CarpoolRouteStore) GetByDriver(ctx context.Context, driverID, date string) (*CarpoolRoute, error) {
	var mpCSV, paxCSV string
	err := c.store.db.QueryRowContext(ctx,
		`SELECT meeting_point_ids, passenger_ids FROM carpool_routes WHERE driver_id = ? AND date = ?`,
		driverID, date,
	).Scan(&mpCSV, &paxCSV)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read carpool route: %w", err)
	}
	return &CarpoolRoute{
		DriverID:        driverID,
		Date:            date,
		MeetingPointIDs: splitCSV(mpCSV),
		PassengerIDs:    splitCSV(paxCSV),
	}, nil
}

// Put upserts a driver's active carpool route for the given date,
// serialized per driver_id.
func (c *CarpoolRouteStore) Put(ctx context.Context, route CarpoolRoute) error {
	mu := c.store.lockFor(route.DriverID)
	mu.Lock()
	defer mu.Unlock()

	_, err := c.store.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO carpool_routes (driver_id, date, meeting_point_ids, passenger_ids) VALUES (?, ?, ?, ?)`,
		route.DriverID, route.Date, joinCSV(route.MeetingPointIDs), joinCSV(route.PassengerIDs),
	)
	if err != nil {
		return fmt.Errorf("failed to put carpool route: %w", err)
	}
	return nil
}

// FindActiveForDriver reports whether driverID owns any carpool route on
// date, implementing the "dynamic role detection" rule: a driver with an
// active route is reclassified as carpool_driver for the day.
func (c *CarpoolRouteStore) FindActiveForDriver(ctx context.Context, driverID, date string) (bool, error) {
	route, err := c.GetByDriver(ctx, driverID, date)
	if err != nil {
		return false, err
	}
	return route != nil, nil
}

func joinCSV(ids []string) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += ","
		}
		out += id
	}
	return out
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return out
}
