package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"progresskit/core"
)

func entry(date string, created time.Time, note string, images int, tags ...string) core.ProgressEntry {
	return core.ProgressEntry{
		ID:        date + created.Format("150405"),
		Date:      core.MustParseDate(date),
		CreatedAt: created,
		Note:      note,
		Images:    make([]string, images),
		Tags:      tags,
	}
}

func at(date string, hour int) time.Time {
	d := core.MustParseDate(date)
	return d.Time().Add(time.Duration(hour) * time.Hour)
}

func TestComputeStats(t *testing.T) {
	// 2024-03-14 is a Thursday; the week started on Sunday 2024-03-10.
	today := core.MustParseDate("2024-03-14")
	entries := []core.ProgressEntry{
		entry("2024-02-28", at("2024-02-28", 9), "one two", 1),
		entry("2024-03-09", at("2024-03-09", 9), "three", 0),
		entry("2024-03-10", at("2024-03-10", 9), "", 2),
		entry("2024-03-13", at("2024-03-13", 9), "four five six", 0),
		entry("2024-03-14", at("2024-03-14", 9), "seven", 0),
	}

	s := ComputeStats(entries, today)
	assert.Equal(t, 5, s.Total)
	assert.Equal(t, 4, s.ThisMonth)
	assert.Equal(t, 3, s.ThisWeek)
	assert.Equal(t, 1, s.Today)
	assert.Equal(t, int64(7), s.TotalWords)
	assert.Equal(t, int64(3), s.TotalImages)
	// 5 entries over 16 days (Feb 28 .. Mar 14 of a leap year).
	assert.Equal(t, 0.31, s.AveragePerDay)
	assert.Equal(t, 2, s.LongestStreak)
	assert.Equal(t, 2, s.CurrentStreak)
}

func TestComputeStatsEmpty(t *testing.T) {
	s := ComputeStats(nil, core.MustParseDate("2024-01-01"))
	assert.Equal(t, Stats{}, s)
}

func TestActivityLevel(t *testing.T) {
	want := map[int]int{0: 0, 1: 1, 2: 2, 3: 2, 4: 3, 5: 3, 6: 4, 40: 4}
	for count, lvl := range want {
		assert.Equal(t, lvl, ActivityLevel(count), "count %d", count)
	}
}

func TestHeatmap(t *testing.T) {
	entries := []core.ProgressEntry{
		entry("2023-12-31", at("2023-12-31", 9), "", 0),
		entry("2024-01-02", at("2024-01-02", 9), "", 0),
		entry("2024-01-02", at("2024-01-02", 10), "", 0),
		entry("2024-01-01", at("2024-01-01", 9), "", 0),
	}
	cells := Heatmap(entries, 2024)
	require.Len(t, cells, 2)
	assert.Equal(t, "2024-01-01", cells[0].Date.String())
	assert.Equal(t, 1, cells[0].Level)
	assert.Equal(t, 2, cells[1].Count)
	assert.Equal(t, 2, cells[1].Level)
}

func TestTrends(t *testing.T) {
	entries := []core.ProgressEntry{
		entry("2024-01-31", at("2024-01-31", 9), "", 0),
		entry("2024-02-01", at("2024-02-01", 9), "", 0),
		entry("2024-02-02", at("2024-02-02", 9), "", 0),
	}
	months := Trends(entries, PeriodMonth)
	assert.Equal(t, []TrendPoint{{Period: "2024-01", Count: 1}, {Period: "2024-02", Count: 2}}, months)

	weeks := Trends(entries, PeriodWeek)
	assert.Equal(t, []TrendPoint{{Period: "2024-W05", Count: 3}}, weeks)

	days := Trends(entries, PeriodDay)
	assert.Len(t, days, 3)

	_, err := ParsePeriod("year")
	assert.ErrorIs(t, err, core.ErrInvalidInput)
	p, err := ParsePeriod("")
	require.NoError(t, err)
	assert.Equal(t, PeriodMonth, p)
}

func TestTimeDistribution(t *testing.T) {
	entries := []core.ProgressEntry{
		entry("2024-01-01", at("2024-01-01", 7), "", 0),
		entry("2024-01-02", at("2024-01-02", 7), "", 0),
		entry("2024-01-07", at("2024-01-07", 23), "", 0),
	}
	hours := TimeDistribution(entries, ByHour, time.UTC)
	assert.Equal(t, []Bucket{{Label: "7:00", Value: 2}, {Label: "23:00", Value: 1}}, hours)

	days := TimeDistribution(entries, ByWeekday, time.UTC)
	assert.Equal(t, []Bucket{{Label: "Sunday", Value: 1}, {Label: "Monday", Value: 1}, {Label: "Tuesday", Value: 1}}, days)

	shifted := TimeDistribution(entries[2:], ByHour, time.FixedZone("UTC+2", 2*3600))
	assert.Equal(t, []Bucket{{Label: "1:00", Value: 1}}, shifted)
}

func TestCategoryBreakdown(t *testing.T) {
	entries := []core.ProgressEntry{
		entry("2024-01-01", at("2024-01-01", 9), "", 0, "work", "study"),
		entry("2024-01-02", at("2024-01-02", 9), "", 0, "work"),
		entry("2024-01-03", at("2024-01-03", 9), "", 0, "health"),
	}
	got := CategoryBreakdown(entries)
	assert.Equal(t, []Bucket{{Label: "work", Value: 2}, {Label: "health", Value: 1}, {Label: "study", Value: 1}}, got)
}

func TestMonthlyComparison(t *testing.T) {
	entries := []core.ProgressEntry{
		entry("2023-12-15", at("2023-12-15", 9), "", 0),
		entry("2024-02-01", at("2024-02-01", 9), "", 0),
		entry("2024-02-20", at("2024-02-20", 9), "", 0),
	}
	got := MonthlyComparison(entries, core.MustParseDate("2024-02-25"), 3)
	require.Len(t, got, 3)
	assert.Equal(t, MonthCount{Period: "2023-12", Month: "December 2023", Count: 1}, got[0])
	assert.Equal(t, 0, got[1].Count)
	assert.Equal(t, "2024-02", got[2].Period)
	assert.Equal(t, 2, got[2].Count)
	assert.Nil(t, MonthlyComparison(entries, core.MustParseDate("2024-02-25"), 0))
}

func TestEventCounter(t *testing.T) {
	c := NewEventCounter()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	stamp := func(e core.Event) core.Event { e.Time = now; return e }

	c.OnEvent(stamp(core.NewEntryLogged("alice", "e1", core.DateOf(now, nil))))
	c.OnEvent(stamp(core.NewXPAwarded("alice", 10, 10)))
	c.OnEvent(stamp(core.NewXPAwarded("bob", 120, 120)))
	c.OnEvent(stamp(core.NewLevelUp("bob", 2)))
	first, _ := core.FindAchievement(core.DefaultCatalog(), core.AchievementFirstStep)
	c.OnEvent(stamp(core.NewAchievementUnlocked("alice", first)))
	c.OnEvent(stamp(core.NewInteractionRecorded("bob", core.InteractionShare, 1)))

	day := now.Format(core.DateLayout)
	assert.Equal(t, int64(1), c.EntriesOn(day))
	assert.Equal(t, int64(130), c.XPAwardedOn(day))
	assert.Equal(t, int64(1), c.UnlockCount(core.AchievementFirstStep))

	snap := c.Snapshot(now, 5)
	assert.Equal(t, 2, snap.DailyActiveUsers)
	assert.Equal(t, int64(1), snap.LevelUpsToday)
	assert.Equal(t, int64(1), snap.LevelDistribution[2])
	assert.Equal(t, int64(1), snap.Interactions[core.InteractionShare])
	require.Len(t, snap.TopAchievements, 1)
	assert.Equal(t, core.AchievementFirstStep, snap.TopAchievements[0].ID)
}

func TestBridgeFansOut(t *testing.T) {
	a, b := NewEventCounter(), NewEventCounter()
	bridge := NewBridge(a, b)
	now := time.Now().UTC()
	ev := core.NewEntryLogged("u", "e", core.DateOf(now, nil))
	ev.Time = now
	bridge.OnEvent(ev)
	assert.Equal(t, int64(1), a.EntriesOn(now.Format(core.DateLayout)))
	assert.Equal(t, int64(1), b.EntriesOn(now.Format(core.DateLayout)))
}
