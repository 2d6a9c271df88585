// Command planner runs a single commute plan from a JSON census file
// and writes the resulting plan as JSON to stdout, following the exit
// code contract: 0 success, 1 missing/unreadable input file, 2 on
// InvalidConfig/InvalidInput, 3 on any other uncaught error.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"commuteplanner/internal/config"
	"commuteplanner/internal/geo"
	"commuteplanner/internal/geocache"
	"commuteplanner/internal/models"
	"commuteplanner/internal/planner"
)

const (
	exitSuccess       = 0
	exitMissingInput  = 1
	exitInvalidConfig = 2
	exitOther         = 3
)

// census is the CLI's input file shape: a workplace plus a list of
// employees in the core's native models.Employee JSON form.
type census struct {
	Date                 string            `json:"date"`
	Workplace            models.Workplace  `json:"workplace"`
	Employees            []models.Employee `json:"employees"`
	IncludeShadowMetrics bool              `json:"include_shadow_metrics"`
}

func main() {
	os.Exit(run())
}

func run() int {
	inputPath := flag.String("input", "", "path to a JSON census file")
	configPath := flag.String("config", "", "path to an optional YAML config file")
	flag.Parse()

	if *inputPath == "" {
		log.Printf("[PLANNER] missing -input flag")
		return exitMissingInput
	}

	raw, err := os.ReadFile(*inputPath)
	if err != nil {
		log.Printf("[PLANNER] failed to read input file %s: %v", *inputPath, err)
		return exitMissingInput
	}

	var c census
	if err := json.Unmarshal(raw, &c); err != nil {
		log.Printf("[PLANNER] failed to parse input file %s: %v", *inputPath, err)
		return exitMissingInput
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("[PLANNER] failed to load config: %v", err)
		return exitOther
	}

	adapter, err := geocache.Open(cfg.GeocachePath, geo.NewHaversineGeoAdapter(0))
	if err != nil {
		log.Printf("[PLANNER] failed to open geo cache: %v", err)
		return exitOther
	}
	defer adapter.Close()

	opts := planner.DefaultOptions()
	opts.Constraints = cfg.Constraints
	opts.MatchConfig = cfg.MatchConfig
	opts.IncludeShadowMetrics = c.IncludeShadowMetrics

	plan, err := planner.Plan(context.Background(), c.Employees, c.Workplace, adapter, opts)
	if err != nil {
		var invalidConfig *models.ErrInvalidConfig
		var invalidInput *models.ErrInvalidInput
		if errors.As(err, &invalidConfig) || errors.As(err, &invalidInput) {
			log.Printf("[PLANNER] %v", err)
			return exitInvalidConfig
		}
		log.Printf("[PLANNER] %v", err)
		return exitOther
	}

	out := struct {
		Date string            `json:"date"`
		Plan *models.DailyPlan `json:"plan"`
	}{Date: c.Date, Plan: plan}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode plan: %v\n", err)
		return exitOther
	}

	return exitSuccess
}
