package analytics

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"progresskit/core"
)

// Hook receives domain events for KPI aggregation.
type Hook interface {
	OnEvent(e core.Event)
}

// BridgeHook forwards each event to several hooks in order.
type BridgeHook struct{ hooks []Hook }

// NewBridge drops nil hooks.
func NewBridge(hooks ...Hook) *BridgeHook {
	b := &BridgeHook{}
	for _, h := range hooks {
		if h != nil {
			b.hooks = append(b.hooks, h)
		}
	}
	return b
}

func (b *BridgeHook) OnEvent(e core.Event) {
	for _, h := range b.hooks {
		h.OnEvent(e)
	}
}

// EventCounter aggregates engine events per UTC day, ISO week and month.
type EventCounter struct {
	mu sync.RWMutex

	dailyActive   map[string]map[core.UserID]struct{}
	weeklyActive  map[string]map[core.UserID]struct{}
	monthlyActive map[string]map[core.UserID]struct{}

	entriesByDay      map[string]int64
	xpByDay           map[string]int64
	levelUpsByDay     map[string]int64
	unlocksByDay      map[string]int64
	levelDistribution map[int64]int64
	unlocksByID       map[core.AchievementID]int64
	interactions      map[core.InteractionKind]int64
}

func NewEventCounter() *EventCounter {
	return &EventCounter{
		dailyActive:       map[string]map[core.UserID]struct{}{},
		weeklyActive:      map[string]map[core.UserID]struct{}{},
		monthlyActive:     map[string]map[core.UserID]struct{}{},
		entriesByDay:      map[string]int64{},
		xpByDay:           map[string]int64{},
		levelUpsByDay:     map[string]int64{},
		unlocksByDay:      map[string]int64{},
		levelDistribution: map[int64]int64{},
		unlocksByID:       map[core.AchievementID]int64{},
		interactions:      map[core.InteractionKind]int64{},
	}
}

func (c *EventCounter) OnEvent(e core.Event) {
	t := e.Time
	if t.IsZero() {
		t = time.Now()
	}
	day := t.UTC().Format(core.DateLayout)

	c.mu.Lock()
	defer c.mu.Unlock()

	markActive(c.dailyActive, day, e.UserID)
	markActive(c.weeklyActive, weekKey(t), e.UserID)
	markActive(c.monthlyActive, t.UTC().Format("2006-01"), e.UserID)

	switch e.Type {
	case core.EventEntryLogged:
		c.entriesByDay[day]++
	case core.EventXPAwarded:
		if e.Delta > 0 {
			c.xpByDay[day] += e.Delta
		}
	case core.EventLevelUp:
		c.levelUpsByDay[day]++
		c.levelDistribution[e.Level]++
	case core.EventAchievementUnlocked:
		c.unlocksByDay[day]++
		c.unlocksByID[e.Achievement]++
	case core.EventInteraction:
		c.interactions[e.Interaction]++
	}
}

func markActive(m map[string]map[core.UserID]struct{}, key string, u core.UserID) {
	set := m[key]
	if set == nil {
		set = map[core.UserID]struct{}{}
		m[key] = set
	}
	set[u] = struct{}{}
}

func weekKey(t time.Time) string {
	y, w := t.UTC().ISOWeek()
	return fmt.Sprintf("%d-W%02d", y, w)
}

// ActiveUsers returns the distinct users seen on day, in its ISO week and in its month.
func (c *EventCounter) ActiveUsers(day time.Time) (daily, weekly, monthly int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.dailyActive[day.UTC().Format(core.DateLayout)]),
		len(c.weeklyActive[weekKey(day)]),
		len(c.monthlyActive[day.UTC().Format("2006-01")])
}

// EntriesOn returns the number of entries logged on day ("2006-01-02").
func (c *EventCounter) EntriesOn(day string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entriesByDay[day]
}

// XPAwardedOn returns the positive XP granted on day.
func (c *EventCounter) XPAwardedOn(day string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.xpByDay[day]
}

// UnlockCount returns how many users unlocked id.
func (c *EventCounter) UnlockCount(id core.AchievementID) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.unlocksByID[id]
}

// AchievementCount pairs an achievement with its unlock total.
type AchievementCount struct {
	ID    core.AchievementID `json:"id"`
	Count int64              `json:"count"`
}

// Snapshot is the JSON view served on the metrics endpoint.
type Snapshot struct {
	Day               string                         `json:"day"`
	DailyActiveUsers  int                            `json:"daily_active_users"`
	WeeklyActiveUsers int                            `json:"weekly_active_users"`
	MonthlyActive     int                            `json:"monthly_active_users"`
	EntriesToday      int64                          `json:"entries_today"`
	XPToday           int64                          `json:"xp_today"`
	LevelUpsToday     int64                          `json:"level_ups_today"`
	UnlocksToday      int64                          `json:"unlocks_today"`
	LevelDistribution map[int64]int64                `json:"level_distribution"`
	TopAchievements   []AchievementCount             `json:"top_achievements"`
	Interactions      map[core.InteractionKind]int64 `json:"interactions"`
}

// Snapshot reports the counters for the UTC day of now, listing at most limit achievements.
func (c *EventCounter) Snapshot(now time.Time, limit int) Snapshot {
	day := now.UTC().Format(core.DateLayout)
	daily, weekly, monthly := c.ActiveUsers(now)

	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Day:               day,
		DailyActiveUsers:  daily,
		WeeklyActiveUsers: weekly,
		MonthlyActive:     monthly,
		EntriesToday:      c.entriesByDay[day],
		XPToday:           c.xpByDay[day],
		LevelUpsToday:     c.levelUpsByDay[day],
		UnlocksToday:      c.unlocksByDay[day],
		LevelDistribution: make(map[int64]int64, len(c.levelDistribution)),
		Interactions:      make(map[core.InteractionKind]int64, len(c.interactions)),
	}
	for k, v := range c.levelDistribution {
		s.LevelDistribution[k] = v
	}
	for k, v := range c.interactions {
		s.Interactions[k] = v
	}
	for id, n := range c.unlocksByID {
		s.TopAchievements = append(s.TopAchievements, AchievementCount{ID: id, Count: n})
	}
	sort.Slice(s.TopAchievements, func(i, j int) bool {
		if s.TopAchievements[i].Count != s.TopAchievements[j].Count {
			return s.TopAchievements[i].Count > s.TopAchievements[j].Count
		}
		return s.TopAchievements[i].ID < s.TopAchievements[j].ID
	})
	if limit > 0 && len(s.TopAchievements) > limit {
		s.TopAchievements = s.TopAchievements[:limit]
	}
	return s
}
