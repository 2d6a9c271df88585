// Command server runs the commute planner as an HTTP API, reading
// workplace/constraints/match configuration via internal/config and
// serving internal/handlers' plan and today endpoints through
// internal/server.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"commuteplanner/internal/config"
	"commuteplanner/internal/geo"
	"commuteplanner/internal/geocache"
	"commuteplanner/internal/handlers"
	"commuteplanner/internal/planner"
	"commuteplanner/internal/server"
	"commuteplanner/internal/store"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("[FATAL] %v", err)
	}
}

func run() error {
	configPath := getEnv("PLANNER_CONFIG_FILE", "config.yaml")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log.Printf("[SERVER] opening geo cache at %s", cfg.GeocachePath)
	adapter, err := geocache.Open(cfg.GeocachePath, geo.NewHaversineGeoAdapter(0))
	if err != nil {
		return err
	}
	defer adapter.Close()

	storePath := getEnv("PLANNER_STORE_PATH", "data/planner.db")
	st, err := store.Open(storePath)
	if err != nil {
		return err
	}
	defer st.Close()

	opts := planner.DefaultOptions()
	opts.Constraints = cfg.Constraints
	opts.MatchConfig = cfg.MatchConfig

	h := &handlers.Handler{
		Adapter:         adapter,
		Workplace:       cfg.Workplace,
		Options:         opts,
		ValidationStore: st.ValidationStore(),
		CarpoolRoutes:   st.CarpoolRouteStore(),
	}

	srv := server.New(server.Config{Addr: cfg.Server.Addr()}, h)
	actualAddr, err := srv.Start()
	if err != nil {
		return err
	}
	log.Printf("[SERVER] commute planner listening on %s", actualAddr)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	<-shutdown

	log.Printf("[SERVER] shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
