package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mem "progresskit/adapters/memory"
	"progresskit/core"
	"progresskit/leaderboard"
)

var _ Storage = (*mem.Store)(nil)
var _ XPSnapshotter = (*mem.Store)(nil)

type recorder struct {
	mu     sync.Mutex
	events []core.Event
}

func (r *recorder) handle(_ context.Context, e core.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) count(typ core.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("e%d", n.Add(1)) }
}

func newTestService(t *testing.T, now time.Time, opts ...Option) (*ProgressService, *mem.Store, *recorder) {
	t.Helper()
	store := mem.New()
	bus := NewEventBus(DispatchSync)
	rec := &recorder{}
	bus.Subscribe(AnyEvent, rec.handle)
	opts = append([]Option{WithClock(fixedClock(now)), WithIDGenerator(sequentialIDs())}, opts...)
	svc := NewProgressService(store, bus, DefaultRuleEngine(), opts...)
	t.Cleanup(svc.Close)
	return svc, store, rec
}

var noon = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func TestLogEntryGrantsXPAndFirstStep(t *testing.T) {
	svc, _, rec := newTestService(t, noon)
	ctx := context.Background()

	e, err := svc.LogEntry(ctx, " Alice ", core.EntryInput{
		Date:   core.MustParseDate("2024-03-10"),
		Note:   "shipped the release",
		Images: []string{"/img/1.png"},
		Tags:   []string{"Work"},
	})
	require.NoError(t, err)
	assert.Equal(t, "e1", e.ID)
	assert.Equal(t, core.UserID("alice"), e.UserID)
	assert.Equal(t, int64(15), e.XPEarned)
	assert.Equal(t, []string{"work"}, e.Tags)

	state, err := svc.GetState(ctx, "alice")
	require.NoError(t, err)
	// 15 for the entry, 10 for First Step
	assert.Equal(t, int64(25), state.XP)
	assert.True(t, state.HasUnlocked(core.AchievementFirstStep))

	assert.Equal(t, 1, rec.count(core.EventEntryLogged))
	assert.Equal(t, 2, rec.count(core.EventXPAwarded))
	assert.Equal(t, 1, rec.count(core.EventAchievementUnlocked))
	assert.Equal(t, 0, rec.count(core.EventLevelUp))
}

func TestLogEntryValidation(t *testing.T) {
	svc, _, _ := newTestService(t, noon)
	ctx := context.Background()

	_, err := svc.LogEntry(ctx, "  ", core.EntryInput{Date: core.MustParseDate("2024-03-10")})
	assert.ErrorIs(t, err, core.ErrEmptyUserID)

	_, err = svc.LogEntry(ctx, "u", core.EntryInput{})
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = svc.LogEntry(ctx, "u", core.EntryInput{
		Date:   core.MustParseDate("2024-03-10"),
		Images: []string{"1", "2", "3", "4", "5", "6"},
	})
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestLogEntryAutoTagsUntaggedNotes(t *testing.T) {
	svc, _, _ := newTestService(t, noon)
	e, err := svc.LogEntry(context.Background(), "u", core.EntryInput{
		Date: core.MustParseDate("2024-03-10"),
		Note: "Morning workout at the gym",
	})
	require.NoError(t, err)
	assert.Contains(t, e.Tags, "exercise")
}

func TestWeekOfEntriesUnlocksWeekWarriorAndLevelsUp(t *testing.T) {
	svc, _, rec := newTestService(t, noon)
	ctx := context.Background()
	start := core.MustParseDate("2024-03-04")
	for i := 0; i < 7; i++ {
		_, err := svc.LogEntry(ctx, "bob", core.EntryInput{Date: start.AddDays(i), Note: "day"})
		require.NoError(t, err)
	}
	state, err := svc.GetState(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, state.HasUnlocked(core.AchievementWeekWarrior))
	// 7 entries, First Step, Week Warrior
	assert.Equal(t, int64(7*10+10+50), state.XP)
	assert.Equal(t, int64(2), state.Level())
	assert.Equal(t, 1, rec.count(core.EventLevelUp))

	stats, err := svc.Stats(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 7, stats.CurrentStreak)
	assert.Equal(t, 7, stats.LongestStreak)
}

func TestTimeOfDayUsesServiceLocation(t *testing.T) {
	tokyo := time.FixedZone("UTC+9", 9*3600)
	// 22:30 UTC is 07:30 the next morning in the service zone
	now := time.Date(2024, 3, 9, 22, 30, 0, 0, time.UTC)
	svc, _, _ := newTestService(t, now, WithLocation(tokyo))
	ctx := context.Background()

	assert.Equal(t, core.MustParseDate("2024-03-10"), svc.Today())
	_, err := svc.LogEntry(ctx, "u", core.EntryInput{Date: svc.Today()})
	require.NoError(t, err)

	state, err := svc.GetState(ctx, "u")
	require.NoError(t, err)
	assert.True(t, state.HasUnlocked(core.AchievementEarlyBird))
	assert.False(t, state.HasUnlocked(core.AchievementNightOwl))
}

type failingXPStore struct{ *mem.Store }

func (failingXPStore) AddXP(context.Context, core.UserID, int64) (int64, error) {
	return 0, errors.New("xp backend down")
}

func TestLogEntryFollowUpsAreFailSoft(t *testing.T) {
	store := failingXPStore{mem.New()}
	svc := NewProgressService(store, NewEventBus(DispatchSync), DefaultRuleEngine(), WithClock(fixedClock(noon)))
	ctx := context.Background()

	e, err := svc.LogEntry(ctx, "u", core.EntryInput{Date: core.MustParseDate("2024-03-10")})
	require.NoError(t, err)

	got, err := svc.GetEntry(ctx, "u", e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)

	state, err := svc.GetState(ctx, "u")
	require.NoError(t, err)
	assert.Zero(t, state.XP)
	assert.True(t, state.HasUnlocked(core.AchievementFirstStep))
}

func TestConcurrentChecksPayRewardOnce(t *testing.T) {
	svc, store, rec := newTestService(t, noon)
	ctx := context.Background()
	require.NoError(t, store.AddEntry(ctx, core.ProgressEntry{
		ID: "seed", UserID: "u", Date: core.MustParseDate("2024-03-10"), CreatedAt: noon, UpdatedAt: noon,
	}))

	var wg sync.WaitGroup
	var unlocked atomic.Int64
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := svc.CheckAchievements(ctx, "u")
			assert.NoError(t, err)
			unlocked.Add(int64(len(got)))
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), unlocked.Load())
	assert.Equal(t, 1, rec.count(core.EventAchievementUnlocked))
	state, err := svc.GetState(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, int64(10), state.XP)
}

func TestRecordInteraction(t *testing.T) {
	svc, _, rec := newTestService(t, noon)
	ctx := context.Background()

	_, err := svc.RecordInteraction(ctx, "u", "wave")
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	for i := 1; i <= 10; i++ {
		n, err := svc.RecordInteraction(ctx, "u", "SHARE")
		require.NoError(t, err)
		assert.Equal(t, int64(i), n)
	}
	state, err := svc.GetState(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, int64(10), state.Interactions[core.InteractionShare])
	assert.True(t, state.HasUnlocked(core.AchievementSocialButterfly))
	assert.Equal(t, int64(10*5+50), state.XP)
	assert.Equal(t, 10, rec.count(core.EventInteraction))
}

func TestAwardXP(t *testing.T) {
	svc, _, _ := newTestService(t, noon)
	ctx := context.Background()

	_, err := svc.AwardXP(ctx, "u", 0)
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	total, err := svc.AwardXP(ctx, "u", 40)
	require.NoError(t, err)
	assert.Equal(t, int64(40), total)

	total, err = svc.AwardXP(ctx, "u", -100)
	require.NoError(t, err)
	assert.Zero(t, total)

	info, err := svc.XP(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.Level)
}

func TestUpdateAndDeleteEntry(t *testing.T) {
	svc, _, _ := newTestService(t, noon)
	ctx := context.Background()
	e, err := svc.LogEntry(ctx, "u", core.EntryInput{Date: core.MustParseDate("2024-03-10"), Images: []string{"/a.png"}})
	require.NoError(t, err)

	note := "edited"
	updated, err := svc.UpdateEntry(ctx, "u", e.ID, core.EntryPatch{Note: &note, RemoveImages: []string{"/a.png"}})
	require.NoError(t, err)
	assert.Equal(t, "edited", updated.Note)
	assert.Empty(t, updated.Images)
	assert.Equal(t, e.XPEarned, updated.XPEarned)

	_, err = svc.UpdateEntry(ctx, "u", "missing", core.EntryPatch{Note: &note})
	assert.ErrorIs(t, err, core.ErrNotFound)

	before, err := svc.GetState(ctx, "u")
	require.NoError(t, err)
	require.NoError(t, svc.DeleteEntry(ctx, "u", e.ID))
	assert.ErrorIs(t, svc.DeleteEntry(ctx, "u", e.ID), core.ErrNotFound)

	after, err := svc.GetState(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, before.XP, after.XP)
	assert.True(t, after.HasUnlocked(core.AchievementFirstStep))
}

func TestEntriesOnAndList(t *testing.T) {
	svc, _, _ := newTestService(t, noon)
	ctx := context.Background()
	for _, d := range []string{"2024-03-08", "2024-03-09", "2024-03-09"} {
		_, err := svc.LogEntry(ctx, "u", core.EntryInput{Date: core.MustParseDate(d), Tags: []string{"x"}})
		require.NoError(t, err)
	}
	day, err := svc.EntriesOn(ctx, "u", core.MustParseDate("2024-03-09"))
	require.NoError(t, err)
	assert.Len(t, day, 2)

	_, err = svc.EntriesOn(ctx, "u", core.Date{})
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	all, err := svc.ListEntries(ctx, "u", core.EntryFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "2024-03-09", all[0].Date.String())
}

func TestAchievementsListing(t *testing.T) {
	svc, _, _ := newTestService(t, noon)
	ctx := context.Background()
	_, err := svc.LogEntry(ctx, "u", core.EntryInput{Date: core.MustParseDate("2024-03-10")})
	require.NoError(t, err)

	list, err := svc.Achievements(ctx, "u")
	require.NoError(t, err)
	require.Len(t, list, len(core.DefaultCatalog()))
	for _, a := range list {
		if a.ID == core.AchievementFirstStep {
			assert.True(t, a.Unlocked)
			require.NotNil(t, a.UnlockedAt)
			assert.Equal(t, noon, *a.UnlockedAt)
		} else {
			assert.False(t, a.Unlocked, a.ID)
			assert.Nil(t, a.UnlockedAt)
		}
	}
}

func TestAnalyticsViews(t *testing.T) {
	svc, _, _ := newTestService(t, noon)
	ctx := context.Background()
	for _, d := range []string{"2024-01-15", "2024-03-01", "2024-03-10"} {
		_, err := svc.LogEntry(ctx, "u", core.EntryInput{Date: core.MustParseDate(d), Tags: []string{"work"}})
		require.NoError(t, err)
	}

	cells, err := svc.Heatmap(ctx, "u", 0)
	require.NoError(t, err)
	assert.Len(t, cells, 3)

	months, err := svc.MonthlyComparison(ctx, "u", 3)
	require.NoError(t, err)
	require.Len(t, months, 3)
	assert.Equal(t, "2024-01", months[0].Period)
	assert.Equal(t, 1, months[0].Count)
	assert.Equal(t, 0, months[1].Count)
	assert.Equal(t, 2, months[2].Count)

	_, err = svc.MonthlyComparison(ctx, "u", 0)
	assert.ErrorIs(t, err, core.ErrInvalidInput)
	_, err = svc.MonthlyComparison(ctx, "u", MaxComparisonMonths+1)
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	cats, err := svc.CategoryBreakdown(ctx, "u")
	require.NoError(t, err)
	require.Len(t, cats, 1)
	assert.Equal(t, "work", cats[0].Label)

	ins, err := svc.Insight(ctx, "u")
	require.NoError(t, err)
	assert.NotEmpty(t, ins)
}

func TestLeaderboardTracksAndSeeds(t *testing.T) {
	board := leaderboard.NewSkipList()
	svc, store, _ := newTestService(t, noon, WithLeaderboard(board))
	ctx := context.Background()

	_, err := svc.AwardXP(ctx, "low", 5)
	require.NoError(t, err)
	_, err = svc.AwardXP(ctx, "high", 500)
	require.NoError(t, err)

	top := svc.Leaderboard(10)
	require.Len(t, top, 2)
	assert.Equal(t, core.UserID("high"), top[0].User)
	assert.Equal(t, 1, top[0].Rank)
	assert.Equal(t, core.CalculateLevel(500), top[0].Level)

	fresh := leaderboard.NewSkipList()
	seeded := NewProgressService(store, NewEventBus(DispatchSync), DefaultRuleEngine(), WithLeaderboard(fresh))
	n, err := seeded.SeedLeaderboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, fresh.Len())

	plain, _, _ := newTestService(t, noon)
	assert.Empty(t, plain.Leaderboard(5))
}

func TestLeaderboardMatchesStorageUnderAsyncDispatch(t *testing.T) {
	store := mem.New()
	board := leaderboard.NewSkipList()
	bus := NewEventBus(DispatchAsync, WithWorkers(8, 4096))
	svc := NewProgressService(store, bus, DefaultRuleEngine(), WithLeaderboard(board))
	ctx := context.Background()

	users := []core.UserID{"ana", "ben", "cy", "dee"}
	deltas := []int64{7, -3, 25, 1, -40, 12}
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 60; i++ {
				user := users[(w+i)%len(users)]
				_, err := svc.AwardXP(ctx, user, deltas[(w*7+i)%len(deltas)])
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()
	svc.Close()

	for _, u := range users {
		st, err := store.GetState(ctx, u)
		require.NoError(t, err)
		got, ok := board.Get(u)
		require.True(t, ok, "user %s missing from board", u)
		assert.Equal(t, st.XP, got.XP, "board drifted from storage for %s", u)
	}
}

func TestSeedLeaderboardRereadsState(t *testing.T) {
	board := leaderboard.NewSkipList()
	svc, store, _ := newTestService(t, noon, WithLeaderboard(board))
	ctx := context.Background()
	_, err := store.AddXP(ctx, "quiet", 80)
	require.NoError(t, err)

	n, err := svc.SeedLeaderboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got, ok := board.Get("quiet")
	require.True(t, ok)
	assert.Equal(t, int64(80), got.XP)
}

func TestCloseRunsClosersAfterDrain(t *testing.T) {
	bus := NewEventBus(DispatchAsync, WithWorkers(1, 16))
	var handled atomic.Int64
	bus.Subscribe(core.EventXPAwarded, func(context.Context, core.Event) {
		time.Sleep(5 * time.Millisecond)
		handled.Add(1)
	})
	var seen []int64
	svc := NewProgressService(mem.New(), bus, DefaultRuleEngine(),
		WithCloser(func() { seen = append(seen, handled.Load()) }),
		WithCloser(nil),
	)
	for i := 0; i < 3; i++ {
		_, err := svc.AwardXP(context.Background(), "u", 1)
		require.NoError(t, err)
	}
	svc.Close()
	svc.Close()
	assert.Equal(t, []int64{3}, seen, "closer runs once, after queued events are handled")
}
