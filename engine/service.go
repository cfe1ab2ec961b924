package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"progresskit/analytics"
	"progresskit/core"
	"progresskit/insights"
	"progresskit/leaderboard"
)

// ProgressService wires storage, event bus, and rules into the progress tracking API.
type ProgressService struct {
	storage Storage
	bus     *EventBus
	rules   RuleEngine

	catalog []core.Achievement
	rewards core.RewardTable
	loc     *time.Location
	now     func() time.Time
	newID   func() string
	logger  *slog.Logger
	board   leaderboard.Board
	// xpLocks orders a user's storage increments and board updates identically.
	xpLocks userLocks
	onClose   []func()
	closeOnce sync.Once
}

// Option configures a ProgressService.
type Option func(*ProgressService)

func WithLogger(l *slog.Logger) Option {
	return func(s *ProgressService) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithLocation sets the zone that decides calendar days and time-of-day achievements.
func WithLocation(loc *time.Location) Option {
	return func(s *ProgressService) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithRewards(r core.RewardTable) Option {
	return func(s *ProgressService) { s.rewards = r }
}

func WithCatalog(c []core.Achievement) Option {
	return func(s *ProgressService) {
		if c != nil {
			s.catalog = append([]core.Achievement(nil), c...)
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *ProgressService) {
		if now != nil {
			s.now = now
		}
	}
}

func WithIDGenerator(gen func() string) Option {
	return func(s *ProgressService) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// WithLeaderboard ranks users on b. The board is updated synchronously with
// every XP change, so it matches storage whatever the dispatch mode.
func WithLeaderboard(b leaderboard.Board) Option {
	return func(s *ProgressService) { s.board = b }
}

// WithCloser registers fn to run on Close after the event bus has drained.
func WithCloser(fn func()) Option {
	return func(s *ProgressService) {
		if fn != nil {
			s.onClose = append(s.onClose, fn)
		}
	}
}

func NewProgressService(storage Storage, bus *EventBus, rules RuleEngine, opts ...Option) *ProgressService {
	if storage == nil || bus == nil || rules == nil {
		panic("NewProgressService requires non-nil storage, bus, and rules")
	}
	s := &ProgressService{
		storage: storage,
		bus:     bus,
		rules:   rules,
		catalog: core.DefaultCatalog(),
		rewards: core.DefaultRewards(),
		loc:     time.UTC,
		now:     time.Now,
		newID:   uuid.NewString,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func DefaultRuleEngine() RuleEngine {
	return &simpleRuleEngine{rules: []core.Rule{core.LevelUpRule{}}}
}

// Subscribe convenience method.
func (s *ProgressService) Subscribe(typ core.EventType, handler func(context.Context, core.Event)) func() {
	return s.bus.Subscribe(typ, handler)
}

func (s *ProgressService) Publish(ctx context.Context, ev core.Event) {
	s.bus.Publish(ctx, ev)
}

// Close drains the event bus, then runs the registered closers in order.
func (s *ProgressService) Close() {
	s.closeOnce.Do(func() {
		s.bus.Close()
		for _, fn := range s.onClose {
			fn()
		}
	})
}

// Location is the zone used for calendar days.
func (s *ProgressService) Location() *time.Location { return s.loc }

// Today is the current calendar day in the service location.
func (s *ProgressService) Today() core.Date { return core.DateOf(s.now(), s.loc) }

// Catalog returns the achievements the service evaluates.
func (s *ProgressService) Catalog() []core.Achievement {
	return append([]core.Achievement(nil), s.catalog...)
}

// LogEntry stores a new progress entry and then grants its XP and checks
// achievements. Failures of those follow-ups are logged, never returned, so a
// stored entry is always reported as logged.
func (s *ProgressService) LogEntry(ctx context.Context, user core.UserID, in core.EntryInput) (core.ProgressEntry, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return core.ProgressEntry{}, err
	}
	if err := in.Validate(); err != nil {
		return core.ProgressEntry{}, err
	}
	now := s.now().UTC()
	e := core.ProgressEntry{
		ID:        s.newID(),
		UserID:    normalized,
		Date:      in.Date,
		CreatedAt: now,
		UpdatedAt: now,
		Note:      in.Note,
		Images:    append([]string{}, in.Images...),
		Tags:      core.NormalizeTags(in.Tags),
	}
	if len(e.Tags) == 0 && e.Note != "" {
		e.Tags = core.NormalizeTags(insights.AutoTag(e.Note))
	}
	e.XPEarned = s.rewards.ForEntry(e)
	if err := s.storage.AddEntry(ctx, e); err != nil {
		return core.ProgressEntry{}, fmt.Errorf("store entry: %w", err)
	}
	s.bus.Publish(ctx, core.NewEntryLogged(normalized, e.ID, e.Date))

	if e.XPEarned > 0 {
		if _, err := s.AwardXP(ctx, normalized, e.XPEarned); err != nil {
			s.logger.Warn("award entry xp failed", "user", normalized, "entry", e.ID, "error", err)
		}
	}
	if _, err := s.CheckAchievements(ctx, normalized); err != nil {
		s.logger.Warn("achievement check failed", "user", normalized, "entry", e.ID, "error", err)
	}
	return e, nil
}

// UpdateEntry applies a patch to an existing entry.
func (s *ProgressService) UpdateEntry(ctx context.Context, user core.UserID, id string, p core.EntryPatch) (core.ProgressEntry, error) {
	e, err := s.GetEntry(ctx, user, id)
	if err != nil {
		return core.ProgressEntry{}, err
	}
	updated, err := e.Apply(p, s.now())
	if err != nil {
		return core.ProgressEntry{}, err
	}
	if err := s.storage.UpdateEntry(ctx, updated); err != nil {
		return core.ProgressEntry{}, fmt.Errorf("update entry: %w", err)
	}
	return updated, nil
}

// DeleteEntry removes an entry. XP and achievements already granted are kept.
func (s *ProgressService) DeleteEntry(ctx context.Context, user core.UserID, id string) error {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return err
	}
	return s.storage.DeleteEntry(ctx, normalized, id)
}

func (s *ProgressService) GetEntry(ctx context.Context, user core.UserID, id string) (core.ProgressEntry, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return core.ProgressEntry{}, err
	}
	return s.storage.GetEntry(ctx, normalized, id)
}

// ListEntries returns the user's entries matching f, newest first.
func (s *ProgressService) ListEntries(ctx context.Context, user core.UserID, f core.EntryFilter) ([]core.ProgressEntry, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return nil, err
	}
	return s.storage.ListEntries(ctx, normalized, f)
}

// EntriesOn returns the entries logged for a single day.
func (s *ProgressService) EntriesOn(ctx context.Context, user core.UserID, day core.Date) ([]core.ProgressEntry, error) {
	if day.IsZero() {
		return nil, fmt.Errorf("%w: date is required", core.ErrInvalidInput)
	}
	return s.ListEntries(ctx, user, core.EntryFilter{From: day, To: day})
}

// RecordInteraction counts a social interaction, grants its XP and checks
// achievements. As with LogEntry, the follow-ups are fail-soft.
func (s *ProgressService) RecordInteraction(ctx context.Context, user core.UserID, kind core.InteractionKind) (int64, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return 0, err
	}
	kind, err = core.ParseInteractionKind(string(kind))
	if err != nil {
		return 0, err
	}
	count, err := s.storage.RecordInteraction(ctx, normalized, kind)
	if err != nil {
		return 0, fmt.Errorf("record interaction: %w", err)
	}
	s.bus.Publish(ctx, core.NewInteractionRecorded(normalized, kind, count))

	if xp := s.rewards.ForInteraction(kind); xp > 0 {
		if _, err := s.AwardXP(ctx, normalized, xp); err != nil {
			s.logger.Warn("award interaction xp failed", "user", normalized, "kind", kind, "error", err)
		}
	}
	if _, err := s.CheckAchievements(ctx, normalized); err != nil {
		s.logger.Warn("achievement check failed", "user", normalized, "kind", kind, "error", err)
	}
	return count, nil
}

// AwardXP adds delta to the user's XP, publishes xp_awarded and any events
// derived by the rules (such as level_up), and returns the new total.
func (s *ProgressService) AwardXP(ctx context.Context, user core.UserID, delta int64) (int64, error) {
	if delta == 0 {
		return 0, fmt.Errorf("%w: delta cannot be zero", core.ErrInvalidInput)
	}
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return 0, err
	}
	total, err := s.addXP(ctx, normalized, delta)
	if err != nil {
		return 0, err
	}
	ev := core.NewXPAwarded(normalized, delta, total)
	s.bus.Publish(ctx, ev)
	state, err := s.storage.GetState(ctx, normalized)
	if err == nil {
		for _, d := range s.rules.Evaluate(ctx, state, ev) {
			s.bus.Publish(ctx, d)
		}
	}
	return total, nil
}

// addXP writes the increment and moves the user on the board under the
// user's lock, so the board never sees totals out of order.
func (s *ProgressService) addXP(ctx context.Context, user core.UserID, delta int64) (int64, error) {
	unlock := s.xpLocks.lock(user)
	defer unlock()
	total, err := s.storage.AddXP(ctx, user, delta)
	if err != nil {
		return 0, err
	}
	if s.board != nil {
		s.board.Update(user, total)
	}
	return total, nil
}

// CheckAchievements evaluates the catalog against the user's data, records the
// new unlocks and grants their XP rewards. Only unlocks this call inserted are
// returned and rewarded, so concurrent checks never pay a reward twice.
func (s *ProgressService) CheckAchievements(ctx context.Context, user core.UserID) ([]core.Achievement, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return nil, err
	}
	facts, state, err := s.collectFacts(ctx, normalized)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	var unlocked []core.Achievement
	for _, a := range core.Evaluate(s.catalog, facts, state.Unlocked) {
		inserted, err := s.storage.UnlockAchievement(ctx, normalized, a.ID, now)
		if err != nil {
			return unlocked, fmt.Errorf("unlock %s: %w", a.ID, err)
		}
		if !inserted {
			continue
		}
		unlocked = append(unlocked, a)
		s.bus.Publish(ctx, core.NewAchievementUnlocked(normalized, a))
		if a.XPReward > 0 {
			if _, err := s.AwardXP(ctx, normalized, a.XPReward); err != nil {
				s.logger.Warn("award achievement xp failed", "user", normalized, "achievement", a.ID, "error", err)
			}
		}
	}
	return unlocked, nil
}

// collectFacts loads entries and state concurrently and aggregates them.
func (s *ProgressService) collectFacts(ctx context.Context, user core.UserID) (core.Facts, core.UserState, error) {
	var (
		entries []core.ProgressEntry
		state   core.UserState
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		entries, err = s.storage.ListEntries(gctx, user, core.EntryFilter{})
		if err != nil {
			return fmt.Errorf("list entries: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		state, err = s.storage.GetState(gctx, user)
		if err != nil {
			return fmt.Errorf("load state: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return core.Facts{}, core.UserState{}, err
	}
	return core.BuildFacts(entries, state.Interactions, s.Today(), s.loc), state, nil
}

func (s *ProgressService) GetState(ctx context.Context, user core.UserID) (core.UserState, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return core.UserState{}, err
	}
	return s.storage.GetState(ctx, normalized)
}

// XP describes the user's position on the level curve.
func (s *ProgressService) XP(ctx context.Context, user core.UserID) (core.LevelInfo, error) {
	state, err := s.GetState(ctx, user)
	if err != nil {
		return core.LevelInfo{}, err
	}
	return core.DescribeLevel(state.XP), nil
}

// AchievementStatus is a catalog entry together with the user's unlock.
type AchievementStatus struct {
	core.Achievement
	Unlocked   bool       `json:"unlocked"`
	UnlockedAt *time.Time `json:"unlocked_at,omitempty"`
}

// Achievements lists the whole catalog with the user's unlock status.
func (s *ProgressService) Achievements(ctx context.Context, user core.UserID) ([]AchievementStatus, error) {
	state, err := s.GetState(ctx, user)
	if err != nil {
		return nil, err
	}
	out := make([]AchievementStatus, 0, len(s.catalog))
	for _, a := range s.catalog {
		st := AchievementStatus{Achievement: a}
		if at, ok := state.Unlocked[a.ID]; ok {
			at := at
			st.Unlocked = true
			st.UnlockedAt = &at
		}
		out = append(out, st)
	}
	return out, nil
}

func (s *ProgressService) allEntries(ctx context.Context, user core.UserID) ([]core.ProgressEntry, error) {
	return s.ListEntries(ctx, user, core.EntryFilter{})
}

func (s *ProgressService) Stats(ctx context.Context, user core.UserID) (analytics.Stats, error) {
	entries, err := s.allEntries(ctx, user)
	if err != nil {
		return analytics.Stats{}, err
	}
	return analytics.ComputeStats(entries, s.Today()), nil
}

// Heatmap returns per-day activity for year; zero selects the current year.
func (s *ProgressService) Heatmap(ctx context.Context, user core.UserID, year int) ([]analytics.HeatmapCell, error) {
	if year == 0 {
		year = s.Today().Year
	}
	entries, err := s.ListEntries(ctx, user, core.EntryFilter{
		From: core.Date{Year: year, Month: time.January, Day: 1},
		To:   core.Date{Year: year, Month: time.December, Day: 31},
	})
	if err != nil {
		return nil, err
	}
	return analytics.Heatmap(entries, year), nil
}

func (s *ProgressService) Trends(ctx context.Context, user core.UserID, p analytics.Period) ([]analytics.TrendPoint, error) {
	entries, err := s.allEntries(ctx, user)
	if err != nil {
		return nil, err
	}
	return analytics.Trends(entries, p), nil
}

func (s *ProgressService) TimeDistribution(ctx context.Context, user core.UserID, by analytics.Distribution) ([]analytics.Bucket, error) {
	entries, err := s.allEntries(ctx, user)
	if err != nil {
		return nil, err
	}
	return analytics.TimeDistribution(entries, by, s.loc), nil
}

func (s *ProgressService) CategoryBreakdown(ctx context.Context, user core.UserID) ([]analytics.Bucket, error) {
	entries, err := s.allEntries(ctx, user)
	if err != nil {
		return nil, err
	}
	return analytics.CategoryBreakdown(entries), nil
}

// MaxComparisonMonths bounds MonthlyComparison.
const MaxComparisonMonths = 24

// MonthlyComparison counts entries for the last months months, oldest first.
func (s *ProgressService) MonthlyComparison(ctx context.Context, user core.UserID, months int) ([]analytics.MonthCount, error) {
	if months <= 0 || months > MaxComparisonMonths {
		return nil, fmt.Errorf("%w: months must be between 1 and %d", core.ErrInvalidInput, MaxComparisonMonths)
	}
	entries, err := s.allEntries(ctx, user)
	if err != nil {
		return nil, err
	}
	return analytics.MonthlyComparison(entries, s.Today(), months), nil
}

// Insight derives observations from the user's most recent entries.
func (s *ProgressService) Insight(ctx context.Context, user core.UserID) ([]insights.Insight, error) {
	entries, err := s.ListEntries(ctx, user, core.EntryFilter{Limit: insights.RecentWindow})
	if err != nil {
		return nil, err
	}
	return insights.Generate(entries, s.Today(), s.loc), nil
}

// SeedLeaderboard loads every user's XP into the board when the storage can
// enumerate users. It returns the number of users seeded.
func (s *ProgressService) SeedLeaderboard(ctx context.Context) (int, error) {
	if s.board == nil {
		return 0, nil
	}
	snap, ok := s.storage.(XPSnapshotter)
	if !ok {
		s.logger.Info("storage cannot enumerate users, leaderboard starts empty")
		return 0, nil
	}
	all, err := snap.SnapshotXP(ctx)
	if err != nil {
		return 0, fmt.Errorf("snapshot xp: %w", err)
	}
	for user := range all {
		// re-read under the lock: an award may have landed after the snapshot
		unlock := s.xpLocks.lock(user)
		st, err := s.storage.GetState(ctx, user)
		if err == nil {
			s.board.Update(user, st.XP)
		}
		unlock()
		if err != nil {
			return 0, fmt.Errorf("seed %s: %w", user, err)
		}
	}
	return len(all), nil
}

// Leaderboard returns the top n users by XP. It is empty without a configured board.
func (s *ProgressService) Leaderboard(n int) []leaderboard.Standing {
	if s.board == nil || n <= 0 {
		return []leaderboard.Standing{}
	}
	return leaderboard.Standings(s.board, n)
}

type simpleRuleEngine struct{ rules []core.Rule }

func (r *simpleRuleEngine) Evaluate(ctx context.Context, state core.UserState, trigger core.Event) []core.Event {
	var out []core.Event
	for _, rule := range r.rules {
		out = append(out, rule.Evaluate(ctx, state, trigger)...)
	}
	return out
}
