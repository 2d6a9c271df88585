// Package config loads the planner's tunables — structural constraints,
// carpool-match config, workplace location, and server address — from
// defaults overlaid with an optional YAML file and environment
// variables, mirroring the single-source-of-truth role the teacher's
// application config plays.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"commuteplanner/internal/models"
)

// Config is the full set of planner tunables.
type Config struct {
	Server       ServerConfig
	Workplace    models.Workplace
	Constraints  models.StructuralConstraints
	MatchConfig  models.CarpoolMatchConfig
	GeocachePath string
}

// ServerConfig holds HTTP listen settings for internal/server.
type ServerConfig struct {
	Host string
	Port int
}

// Addr returns the HTTP listen address in host:port form.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Load reads configuration from defaults, then an optional YAML file at
// configPath (skipped if empty or missing), then environment variables
// (highest precedence), using spec.md §6's documented default values as
// the baseline.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PLANNER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		if _, statErr := os.Stat(configPath); statErr == nil {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
			}
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: v.GetString("server.host"),
			Port: v.GetInt("server.port"),
		},
		Workplace: models.Workplace{
			Lat: v.GetFloat64("workplace.lat"),
			Lng: v.GetFloat64("workplace.lng"),
		},
		Constraints: models.StructuralConstraints{
			AssignRadiusM:       v.GetFloat64("constraints.assign_radius_m"),
			MaxClusterSize:      v.GetInt("constraints.max_cluster_size"),
			BusCapacity:         v.GetInt("constraints.bus_capacity"),
			MinShuttleOccupancy: v.GetFloat64("constraints.min_shuttle_occupancy"),
			DetourCap:           v.GetFloat64("constraints.detour_cap"),
			BackfillMaxDeltaMin: v.GetFloat64("constraints.backfill_max_delta_min"),
			MinOKFarM:           v.GetFloat64("constraints.min_ok_far_m"),
			MinOKFar:            v.GetInt("constraints.min_ok_far"),
			PairRadiusM:         v.GetFloat64("constraints.pair_radius_m"),
			MinStopSepM:         v.GetFloat64("constraints.min_stop_sep_m"),
			MinOK:               v.GetInt("constraints.min_ok"),
			MaxOK:               v.GetInt("constraints.max_ok"),
			FusionRadius:        v.GetFloat64("constraints.fusion_radius"),
			DiameterMaxM:        v.GetFloat64("constraints.diameter_max_m"),
			ExcludeRadiusM:      v.GetFloat64("constraints.exclude_radius_m"),
			FallbackMin:         v.GetInt("constraints.fallback_min"),
			MinShuttle:          v.GetInt("constraints.min_shuttle"),
		},
		MatchConfig: models.CarpoolMatchConfig{
			DBSCANEpsM:       v.GetFloat64("match.dbscan_eps_m"),
			DBSCANMinSamples: v.GetInt("match.dbscan_min_samples"),
			MPClusterEpsM:    v.GetFloat64("match.mp_cluster_eps_m"),
			MaxWalkM:         v.GetFloat64("match.max_walk_m"),
			KMPPax:           v.GetInt("match.k_mp_pax"),
			MaxDetourMin:     v.GetFloat64("match.max_detour_min"),
			MaxDetourRatio:   v.GetFloat64("match.max_detour_ratio"),
			Alpha:            v.GetFloat64("match.alpha"),
			Beta:             v.GetFloat64("match.beta"),
			Gamma:            v.GetFloat64("match.gamma"),
			Delta:            v.GetFloat64("match.delta"),
			MaxDriversPerMP:    v.GetInt("match.max_drivers_per_mp"),
			Do2Opt:             v.GetBool("match.do_2opt"),
			DefaultSeatsDriver: v.GetInt("match.default_seats_driver"),
		},
		GeocachePath: v.GetString("geocache_path"),
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("geocache_path", "data/geocache.db")

	sc := models.DefaultStructuralConstraints()
	v.SetDefault("constraints.assign_radius_m", sc.AssignRadiusM)
	v.SetDefault("constraints.max_cluster_size", sc.MaxClusterSize)
	v.SetDefault("constraints.bus_capacity", sc.BusCapacity)
	v.SetDefault("constraints.min_shuttle_occupancy", sc.MinShuttleOccupancy)
	v.SetDefault("constraints.detour_cap", sc.DetourCap)
	v.SetDefault("constraints.backfill_max_delta_min", sc.BackfillMaxDeltaMin)
	v.SetDefault("constraints.min_ok_far_m", sc.MinOKFarM)
	v.SetDefault("constraints.min_ok_far", sc.MinOKFar)
	v.SetDefault("constraints.pair_radius_m", sc.PairRadiusM)
	v.SetDefault("constraints.min_stop_sep_m", sc.MinStopSepM)
	v.SetDefault("constraints.min_ok", sc.MinOK)
	v.SetDefault("constraints.max_ok", sc.MaxOK)
	v.SetDefault("constraints.fusion_radius", sc.FusionRadius)
	v.SetDefault("constraints.diameter_max_m", sc.DiameterMaxM)
	v.SetDefault("constraints.exclude_radius_m", sc.ExcludeRadiusM)
	v.SetDefault("constraints.fallback_min", sc.FallbackMin)
	v.SetDefault("constraints.min_shuttle", sc.MinShuttle)

	mc := models.DefaultCarpoolMatchConfig()
	v.SetDefault("match.dbscan_eps_m", mc.DBSCANEpsM)
	v.SetDefault("match.dbscan_min_samples", mc.DBSCANMinSamples)
	v.SetDefault("match.mp_cluster_eps_m", mc.MPClusterEpsM)
	v.SetDefault("match.max_walk_m", mc.MaxWalkM)
	v.SetDefault("match.k_mp_pax", mc.KMPPax)
	v.SetDefault("match.max_detour_min", mc.MaxDetourMin)
	v.SetDefault("match.max_detour_ratio", mc.MaxDetourRatio)
	v.SetDefault("match.alpha", mc.Alpha)
	v.SetDefault("match.beta", mc.Beta)
	v.SetDefault("match.gamma", mc.Gamma)
	v.SetDefault("match.delta", mc.Delta)
	v.SetDefault("match.max_drivers_per_mp", mc.MaxDriversPerMP)
	v.SetDefault("match.do_2opt", mc.Do2Opt)
	v.SetDefault("match.default_seats_driver", mc.DefaultSeatsDriver)
}
