// Package gamify assembles a ready-to-use progress service.
package gamify

import (
	"context"
	"log/slog"
	"time"

	mem "progresskit/adapters/memory"
	"progresskit/analytics"
	"progresskit/core"
	"progresskit/engine"
	"progresskit/integrations/webhook"
	"progresskit/leaderboard"
	"progresskit/realtime"
)

// Option configures the service builder.
type Option func(*config)

type config struct {
	storage engine.Storage
	mode    engine.DispatchMode
	rules   engine.RuleEngine
	hub     *realtime.Hub
	sink    *webhook.Sink
	board   leaderboard.Board
	hooks   []analytics.Hook
	service []engine.Option
	logger  *slog.Logger
}

// WithStorage sets the persistence adapter.
func WithStorage(s engine.Storage) Option { return func(c *config) { c.storage = s } }

// WithRuleEngine sets the rule engine.
func WithRuleEngine(r engine.RuleEngine) Option { return func(c *config) { c.rules = r } }

// WithDispatchMode selects sync or async event dispatch.
func WithDispatchMode(m engine.DispatchMode) Option { return func(c *config) { c.mode = m } }

// WithRealtime wires a realtime hub to receive all engine events.
func WithRealtime(h *realtime.Hub) Option { return func(c *config) { c.hub = h } }

// WithWebhook posts events to the sink's endpoints.
func WithWebhook(s *webhook.Sink) Option { return func(c *config) { c.sink = s } }

// WithLeaderboard ranks users by XP on b.
func WithLeaderboard(b leaderboard.Board) Option { return func(c *config) { c.board = b } }

// WithHooks feeds every event to the given analytics hooks.
func WithHooks(h ...analytics.Hook) Option {
	return func(c *config) { c.hooks = append(c.hooks, h...) }
}

// WithLocation sets the zone deciding calendar days.
func WithLocation(loc *time.Location) Option {
	return func(c *config) { c.service = append(c.service, engine.WithLocation(loc)) }
}

// WithRewards overrides the XP reward table.
func WithRewards(r core.RewardTable) Option {
	return func(c *config) { c.service = append(c.service, engine.WithRewards(r)) }
}

// WithServiceOptions passes options straight to the engine.
func WithServiceOptions(opts ...engine.Option) Option {
	return func(c *config) { c.service = append(c.service, opts...) }
}

func WithLogger(l *slog.Logger) Option { return func(c *config) { c.logger = l } }

// New builds a configured ProgressService. If not provided, defaults are used:
//   - storage: in-memory
//   - rules: DefaultRuleEngine
//   - dispatch: async
func New(opts ...Option) *engine.ProgressService {
	cfg := &config{mode: engine.DispatchAsync, rules: engine.DefaultRuleEngine(), logger: slog.Default()}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.storage == nil {
		cfg.storage = mem.New()
	}
	bus := engine.NewEventBus(cfg.mode, engine.WithBusLogger(cfg.logger))

	svcOpts := append([]engine.Option{engine.WithLogger(cfg.logger)}, cfg.service...)
	if cfg.board != nil {
		svcOpts = append(svcOpts, engine.WithLeaderboard(cfg.board))
	}
	if cfg.sink != nil {
		svcOpts = append(svcOpts, engine.WithCloser(cfg.sink.Close))
	}
	svc := engine.NewProgressService(cfg.storage, bus, cfg.rules, svcOpts...)

	if cfg.hub != nil {
		bus.Subscribe(engine.AnyEvent, cfg.hub.Broadcast)
	}
	if len(cfg.hooks) > 0 {
		bridge := analytics.NewBridge(cfg.hooks...)
		bus.Subscribe(engine.AnyEvent, func(_ context.Context, e core.Event) { bridge.OnEvent(e) })
	}
	if cfg.sink != nil {
		sink, async := cfg.sink, cfg.mode == engine.DispatchAsync
		bus.Subscribe(engine.AnyEvent, func(_ context.Context, e core.Event) {
			if !sink.Accepts(e.Type) {
				return
			}
			// sync dispatch must not hold the caller on remote endpoints
			if async {
				sink.OnEvent(e)
			} else {
				sink.Go(e)
			}
		})
	}
	return svc
}
