package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"progresskit/adapters/sqlx"
	"progresskit/core"
)

func joinErrs(errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.New(strings.Join(errs, "; "))
}

func oneOf(field, value string, valid ...string) string {
	if slices.Contains(valid, value) {
		return ""
	}
	return fmt.Sprintf("%s must be one of: %s", field, strings.Join(valid, ", "))
}

func appendIf(errs []string, msg string) []string {
	if msg == "" {
		return errs
	}
	return append(errs, msg)
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	var errs []string
	if s.Address == "" {
		errs = append(errs, "address cannot be empty")
	}
	if s.ReadTimeout <= 0 {
		errs = append(errs, "read_timeout must be positive")
	}
	if s.WriteTimeout <= 0 {
		errs = append(errs, "write_timeout must be positive")
	}
	if s.IdleTimeout <= 0 {
		errs = append(errs, "idle_timeout must be positive")
	}
	if s.ReadHeaderTimeout <= 0 {
		errs = append(errs, "read_header_timeout must be positive")
	}
	if s.ShutdownTimeout <= 0 {
		errs = append(errs, "shutdown_timeout must be positive")
	}
	if s.PathPrefix != "" && !strings.HasPrefix(s.PathPrefix, "/") {
		errs = append(errs, "path_prefix must start with /")
	}
	return joinErrs(errs)
}

// Validate validates storage configuration
func (s *StorageConfig) Validate() error {
	var errs []string
	errs = appendIf(errs, oneOf("adapter", s.Adapter, AdapterMemory, AdapterRedis, AdapterSQL, AdapterFile))

	switch s.Adapter {
	case AdapterFile:
		if err := s.File.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("file config: %v", err))
		}
	case AdapterRedis:
		if s.Redis.Addr == "" {
			errs = append(errs, "redis config: addr cannot be empty")
		}
	case AdapterSQL:
		errs = appendIf(errs, oneOf("sql driver", string(s.SQL.Driver),
			string(sqlx.DriverPostgres), string(sqlx.DriverMySQL), string(sqlx.DriverSQLite)))
		if s.SQL.DSN == "" {
			errs = append(errs, "sql config: dsn cannot be empty")
		}
	}
	return joinErrs(errs)
}

// Validate validates file storage configuration
func (f *FileConfig) Validate() error {
	if f.Path == "" {
		return errors.New("path cannot be empty")
	}
	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	var errs []string
	errs = appendIf(errs, oneOf("level", l.Level, "debug", "info", "warn", "error"))
	errs = appendIf(errs, oneOf("format", l.Format, "json", "text"))
	errs = appendIf(errs, oneOf("output", l.Output, "stdout", "stderr"))
	return joinErrs(errs)
}

// Validate validates metrics configuration
func (m *MetricsConfig) Validate() error {
	if m.Enabled && m.TopAchievements < 0 {
		return errors.New("top_achievements cannot be negative")
	}
	return nil
}

// Validate validates security settings.
func (s SecurityConfig) Validate() error {
	var errs []string
	if s.EnableRateLimit {
		if s.RateLimit.RequestsPerMinute <= 0 {
			errs = append(errs, "rate_limit.requests_per_minute must be > 0 when rate limiting is enabled")
		}
		if s.RateLimit.BurstSize <= 0 {
			errs = append(errs, "rate_limit.burst_size must be > 0 when rate limiting is enabled")
		}
	}
	for i, key := range s.APIKeys {
		if strings.TrimSpace(key) == "" {
			errs = append(errs, fmt.Sprintf("api_keys[%d] is empty", i))
		}
	}
	return joinErrs(errs)
}

// Validate validates timezone, dispatch mode and reward values.
func (g GamificationConfig) Validate() error {
	var errs []string
	if _, err := g.Location(); err != nil {
		errs = append(errs, fmt.Sprintf("timezone %q: %v", g.Timezone, err))
	}
	errs = appendIf(errs, oneOf("dispatch", g.Dispatch, "sync", "async"))
	r := g.Rewards
	for name, v := range map[string]int64{
		"entry": r.Entry, "per_image": r.PerImage, "share": r.Share,
		"comment": r.Comment, "reaction": r.Reaction, "team_join": r.TeamJoin,
	} {
		if v < 0 {
			errs = append(errs, fmt.Sprintf("rewards.%s cannot be negative", name))
		}
	}
	slices.Sort(errs)
	return joinErrs(errs)
}

// Validate validates webhook URLs and event names.
func (i IntegrationsConfig) Validate() error {
	var errs []string
	for n, raw := range i.WebhookURLs {
		u, err := url.Parse(strings.TrimSpace(raw))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Sprintf("webhook_urls[%d] must be an absolute http(s) URL", n))
		}
	}
	known := []core.EventType{core.EventEntryLogged, core.EventXPAwarded, core.EventLevelUp, core.EventAchievementUnlocked, core.EventInteraction}
	for _, t := range i.EventTypes() {
		if !slices.Contains(known, t) {
			errs = append(errs, fmt.Sprintf("webhook_events: unknown event %q", t))
		}
	}
	if len(i.WebhookURLs) > 0 && i.WebhookTimeout <= 0 {
		errs = append(errs, "webhook_timeout must be positive")
	}
	return joinErrs(errs)
}
