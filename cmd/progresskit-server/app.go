package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"

	"progresskit/analytics"
	"progresskit/api/httpapi"
	"progresskit/config"
	"progresskit/engine"
	"progresskit/gamify"
	"progresskit/integrations/webhook"
	"progresskit/leaderboard"
	"progresskit/realtime"
)

// App aggregates the assembled server components.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Hub     *realtime.Hub
	Counter *analytics.EventCounter
	Service *engine.ProgressService
	Handler http.Handler
	Server  *http.Server
}

// loadConfig reads PROGRESSKIT_CONFIG_FILE when set, else the named
// PROGRESSKIT_PROFILE preset, else plain defaults. The environment overrides
// all three.
func loadConfig() (*config.Config, error) {
	if path := os.Getenv("PROGRESSKIT_CONFIG_FILE"); path != "" {
		return config.LoadFromFile(path)
	}
	if profile := os.Getenv("PROGRESSKIT_PROFILE"); profile != "" && profile != "default" {
		return config.LoadProfile(profile)
	}
	return config.Load()
}

func provideConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Environment == config.EnvProduction {
		if err := cfg.LoadSecretsFromEnv(ctx, config.NewEnvironmentSecretStore()); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func provideLogger(cfg *config.Config) *slog.Logger {
	out := io.Writer(os.Stdout)
	if cfg.Logging.Output == "stderr" {
		out = os.Stderr
	}
	logger := newLogger(cfg.Logging, out)
	slog.SetDefault(logger)
	return logger
}

func provideHub() *realtime.Hub {
	return realtime.NewHub()
}

func provideCounter() *analytics.EventCounter {
	return analytics.NewEventCounter()
}

// provideStorage opens the configured adapter; the cleanup closes its connections.
func provideStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (engine.Storage, func(), error) {
	store, err := gamify.OpenStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {}
	if c, ok := store.(io.Closer); ok {
		cleanup = func() {
			if err := c.Close(); err != nil {
				logger.Warn("closing storage", "error", err)
			}
		}
	}
	return store, cleanup, nil
}

func provideService(ctx context.Context, cfg *config.Config, logger *slog.Logger, hub *realtime.Hub, counter *analytics.EventCounter, storage engine.Storage) (*engine.ProgressService, func(), error) {
	loc, err := cfg.Gamification.Location()
	if err != nil {
		return nil, nil, err
	}
	mode := engine.DispatchSync
	if cfg.Gamification.Dispatch == "async" {
		mode = engine.DispatchAsync
	}
	opts := []gamify.Option{
		gamify.WithStorage(storage),
		gamify.WithDispatchMode(mode),
		gamify.WithRealtime(hub),
		gamify.WithLocation(loc),
		gamify.WithRewards(cfg.Gamification.Rewards),
		gamify.WithLogger(logger),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, gamify.WithHooks(counter))
	}
	if cfg.Gamification.Leaderboard {
		opts = append(opts, gamify.WithLeaderboard(leaderboard.NewSkipList()))
	}
	if len(cfg.Integrations.WebhookURLs) > 0 {
		sink := webhook.New(cfg.Integrations.WebhookURLs,
			webhook.WithClient(&http.Client{Timeout: cfg.Integrations.WebhookTimeout}),
			webhook.WithEvents(cfg.Integrations.EventTypes()...),
			webhook.WithLogger(logger),
		)
		opts = append(opts, gamify.WithWebhook(sink))
	}
	svc := gamify.New(opts...)
	if n, err := svc.SeedLeaderboard(ctx); err != nil {
		logger.Warn("seeding leaderboard failed", "error", err)
	} else if n > 0 {
		logger.Info("leaderboard seeded", "users", n)
	}
	return svc, svc.Close, nil
}

func provideHandler(svc *engine.ProgressService, hub *realtime.Hub, counter *analytics.EventCounter, cfg *config.Config, logger *slog.Logger) http.Handler {
	opts := httpapi.Options{
		PathPrefix:       cfg.Server.PathPrefix,
		AllowCORSOrigin:  cfg.Server.CORSOrigin,
		APIKeys:          cfg.Security.APIKeys,
		RateLimitEnabled: cfg.Security.EnableRateLimit,
		RateLimitRPM:     cfg.Security.RateLimit.RequestsPerMinute,
		RateLimitBurst:   cfg.Security.RateLimit.BurstSize,
		TopAchievements:  cfg.Metrics.TopAchievements,
		Logger:           logger,
	}
	if cfg.Metrics.Enabled {
		opts.Counter = counter
	}
	return httpapi.NewMux(svc, hub, opts)
}

func provideServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
}

// newLogger builds the slog handler described by cfg.
func newLogger(cfg config.LoggingConfig, out io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}
	if len(cfg.Attributes) > 0 {
		attrs := make([]slog.Attr, 0, len(cfg.Attributes))
		for k, v := range cfg.Attributes {
			attrs = append(attrs, slog.String(k, v))
		}
		handler = handler.WithAttrs(attrs)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
