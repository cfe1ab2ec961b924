package config

import (
	"fmt"
	"time"
)

// LoadProfile returns the preset configuration for a named environment.
// Environment variables still override the preset.
func LoadProfile(name string) (*Config, error) {
	cfg := DefaultConfig()
	switch Environment(name) {
	case EnvDevelopment:
		cfg.Logging.Level = "debug"
		cfg.Logging.Format = "text"
	case EnvTesting:
		cfg.Logging.Level = "warn"
		cfg.Storage.Adapter = AdapterMemory
		cfg.Metrics.Enabled = false
	case EnvStaging:
		cfg.Storage.Adapter = AdapterRedis
		cfg.Security.EnableRateLimit = true
		cfg.Gamification.Dispatch = "async"
	case EnvProduction:
		cfg.Storage.Adapter = AdapterSQL
		cfg.Storage.SQL.Driver = "postgres"
		cfg.Storage.SQL.DSN = "postgres://localhost:5432/progresskit?sslmode=disable"
		cfg.Server.CORSOrigin = ""
		cfg.Server.ShutdownTimeout = 60 * time.Second
		cfg.Security.EnableRateLimit = true
		cfg.Security.RateLimit.RequestsPerMinute = 120
		cfg.Security.RateLimit.BurstSize = 20
		cfg.Gamification.Dispatch = "async"
	default:
		return nil, fmt.Errorf("unknown profile %q", name)
	}
	cfg.Environment = Environment(name)
	cfg.Profile = name

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s profile: %w", name, err)
	}
	return cfg, nil
}
