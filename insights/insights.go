package insights

import (
	"fmt"
	"sort"
	"time"

	"progresskit/core"
)

// Kind names the family an insight belongs to.
type Kind string

const (
	KindWelcome   Kind = "welcome"
	KindPattern   Kind = "pattern"
	KindSentiment Kind = "sentiment"
	KindActivity  Kind = "activity"
	KindReminder  Kind = "reminder"
	KindGeneral   Kind = "general"
)

// Insight is a short, human readable observation about a user's progress.
type Insight struct {
	Kind        Kind           `json:"type"`
	Title       string         `json:"title,omitempty"`
	Message     string         `json:"message"`
	Suggestions []string       `json:"suggestions,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
}

// RecentWindow is how many of the newest entries Generate looks at.
const RecentWindow = 100

const (
	consistentEntries = 5
	recentDays        = 7
)

// Generate derives insights from entries as of today. Creation times are read
// in loc. The result is never empty: users without entries get a welcome and
// users with nothing notable get a general hint.
func Generate(entries []core.ProgressEntry, today core.Date, loc *time.Location) []Insight {
	if len(entries) == 0 {
		return []Insight{{
			Kind:        KindWelcome,
			Message:     "Welcome! Start tracking your progress to get personalized insights.",
			Suggestions: []string{"Add your first progress entry", "Set a daily reminder", "Explore the analytics dashboard"},
		}}
	}
	if loc == nil {
		loc = time.UTC
	}

	recent := make([]core.ProgressEntry, len(entries))
	copy(recent, entries)
	sort.SliceStable(recent, func(i, j int) bool { return recent[i].Date.After(recent[j].Date) })
	if len(recent) > RecentWindow {
		recent = recent[:RecentWindow]
	}

	var out []Insight
	if day, n, ok := mostActiveDay(recent, loc); ok {
		out = append(out, Insight{
			Kind:    KindPattern,
			Title:   "Most Active Day",
			Message: fmt.Sprintf("You're most active on %s", day),
			Data:    map[string]any{"day": day.String(), "count": n},
		})
	}

	var pos, neg int
	for _, e := range recent {
		if e.Note == "" {
			continue
		}
		switch AnalyzeSentiment(e.Note).Sentiment {
		case Positive:
			pos++
		case Negative:
			neg++
		}
	}
	if pos > neg*2 {
		out = append(out, Insight{
			Kind:    KindSentiment,
			Title:   "Positive Trend",
			Message: "Your recent entries show a positive outlook!",
			Data:    map[string]any{"positive": pos, "negative": neg},
		})
	}

	weekAgo := today.AddDays(-recentDays)
	var lastWeek int
	for _, e := range recent {
		if !e.Date.Before(weekAgo) {
			lastWeek++
		}
	}
	switch {
	case lastWeek >= consistentEntries:
		out = append(out, Insight{
			Kind:    KindActivity,
			Title:   "Consistent Tracker",
			Message: fmt.Sprintf("Great job! You've logged %d entries this week.", lastWeek),
			Data:    map[string]any{"count": lastWeek},
		})
	case lastWeek == 0:
		out = append(out, Insight{
			Kind:    KindReminder,
			Title:   "Get Back on Track",
			Message: "You haven't logged any progress this week. Start tracking again!",
			Data:    map[string]any{"days_since_last_entry": recentDays},
		})
	}

	if len(out) == 0 {
		out = append(out, Insight{
			Kind:        KindGeneral,
			Message:     "Keep tracking your progress to unlock more insights!",
			Suggestions: []string{"Try adding tags to your entries", "Share your progress with teams", "Check out your analytics dashboard"},
		})
	}
	return out
}

// mostActiveDay returns the weekday with the most entries created. Ties go to the earlier weekday.
func mostActiveDay(entries []core.ProgressEntry, loc *time.Location) (time.Weekday, int, bool) {
	var counts [7]int
	var seen bool
	for _, e := range entries {
		if e.CreatedAt.IsZero() {
			continue
		}
		counts[e.CreatedAt.In(loc).Weekday()]++
		seen = true
	}
	if !seen {
		return 0, 0, false
	}
	best := time.Sunday
	for d := time.Monday; d <= time.Saturday; d++ {
		if counts[d] > counts[best] {
			best = d
		}
	}
	return best, counts[best], true
}
