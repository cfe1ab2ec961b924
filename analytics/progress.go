package analytics

import (
	"fmt"
	"math"
	"sort"
	"time"

	"progresskit/core"
)

// Stats is the overall activity summary of one user.
type Stats struct {
	Total         int     `json:"total"`
	ThisMonth     int     `json:"this_month"`
	ThisWeek      int     `json:"this_week"`
	Today         int     `json:"today"`
	TotalWords    int64   `json:"total_words"`
	TotalImages   int64   `json:"total_images"`
	AveragePerDay float64 `json:"average_per_day"`
	LongestStreak int     `json:"longest_streak"`
	CurrentStreak int     `json:"current_streak"`
}

// ComputeStats summarizes entries as seen on today. Weeks start on Sunday.
func ComputeStats(entries []core.ProgressEntry, today core.Date) Stats {
	monthStart := core.Date{Year: today.Year, Month: today.Month, Day: 1}
	weekStart := today.AddDays(-int(today.Time().Weekday()))

	s := Stats{Total: len(entries)}
	var first, last core.Date
	for i, e := range entries {
		if !e.Date.Before(monthStart) {
			s.ThisMonth++
		}
		if !e.Date.Before(weekStart) {
			s.ThisWeek++
		}
		if e.Date == today {
			s.Today++
		}
		s.TotalWords += int64(e.WordCount())
		s.TotalImages += int64(len(e.Images))
		if i == 0 || e.Date.Before(first) {
			first = e.Date
		}
		if i == 0 || e.Date.After(last) {
			last = e.Date
		}
	}
	if len(entries) > 0 {
		span := int(last.Time().Sub(first.Time())/(24*time.Hour)) + 1
		s.AveragePerDay = math.Round(float64(len(entries))/float64(span)*100) / 100
	}
	streaks := core.AnalyzeStreaks(core.EntryDates(entries), today)
	s.LongestStreak = streaks.Longest
	s.CurrentStreak = streaks.Current
	return s
}

// HeatmapCell is the activity of a single day.
type HeatmapCell struct {
	Date  core.Date `json:"date"`
	Count int       `json:"count"`
	Level int       `json:"level"`
}

// ActivityLevel buckets a daily entry count into the 0-4 heatmap scale.
func ActivityLevel(count int) int {
	switch {
	case count <= 0:
		return 0
	case count == 1:
		return 1
	case count <= 3:
		return 2
	case count <= 5:
		return 3
	default:
		return 4
	}
}

// Heatmap returns per-day counts for year, ordered by date. Days without entries are omitted.
func Heatmap(entries []core.ProgressEntry, year int) []HeatmapCell {
	counts := map[core.Date]int{}
	for _, e := range entries {
		if e.Date.Year == year {
			counts[e.Date]++
		}
	}
	out := make([]HeatmapCell, 0, len(counts))
	for d, c := range counts {
		out = append(out, HeatmapCell{Date: d, Count: c, Level: ActivityLevel(c)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// Period selects the bucket size of a trend.
type Period string

const (
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// ParsePeriod validates a period name. Empty selects month.
func ParsePeriod(s string) (Period, error) {
	switch Period(s) {
	case "":
		return PeriodMonth, nil
	case PeriodDay, PeriodWeek, PeriodMonth:
		return Period(s), nil
	}
	return "", fmt.Errorf("%w: unknown period %q", core.ErrInvalidInput, s)
}

// TrendPoint is the entry count of one bucket.
type TrendPoint struct {
	Period string `json:"period"`
	Count  int    `json:"count"`
}

// Trends groups entries into day ("2006-01-02"), ISO week ("2006-W01") or month ("2006-01") buckets.
func Trends(entries []core.ProgressEntry, p Period) []TrendPoint {
	counts := map[string]int{}
	for _, e := range entries {
		if e.Date.IsZero() {
			continue
		}
		counts[bucketKey(e.Date, p)]++
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]TrendPoint, 0, len(keys))
	for _, k := range keys {
		out = append(out, TrendPoint{Period: k, Count: counts[k]})
	}
	return out
}

func bucketKey(d core.Date, p Period) string {
	switch p {
	case PeriodDay:
		return d.String()
	case PeriodWeek:
		y, w := d.Time().ISOWeek()
		return fmt.Sprintf("%d-W%02d", y, w)
	default:
		return fmt.Sprintf("%04d-%02d", d.Year, int(d.Month))
	}
}

// Distribution selects how TimeDistribution buckets creation times.
type Distribution string

const (
	ByHour    Distribution = "hour"
	ByWeekday Distribution = "day"
)

// ParseDistribution validates a distribution name. Empty selects hour.
func ParseDistribution(s string) (Distribution, error) {
	switch Distribution(s) {
	case "":
		return ByHour, nil
	case ByHour, ByWeekday:
		return Distribution(s), nil
	}
	return "", fmt.Errorf("%w: unknown distribution %q", core.ErrInvalidInput, s)
}

// Bucket is one labelled value of a distribution.
type Bucket struct {
	Label string `json:"label"`
	Value int    `json:"value"`
}

// TimeDistribution counts entries by hour of creation or by weekday, read in loc.
// Only non-empty buckets are returned, in natural order.
func TimeDistribution(entries []core.ProgressEntry, by Distribution, loc *time.Location) []Bucket {
	if loc == nil {
		loc = time.UTC
	}
	size := 24
	if by == ByWeekday {
		size = 7
	}
	counts := make([]int, size)
	for _, e := range entries {
		if e.CreatedAt.IsZero() {
			continue
		}
		t := e.CreatedAt.In(loc)
		if by == ByWeekday {
			counts[int(t.Weekday())]++
		} else {
			counts[t.Hour()]++
		}
	}
	var out []Bucket
	for i, c := range counts {
		if c == 0 {
			continue
		}
		label := fmt.Sprintf("%d:00", i)
		if by == ByWeekday {
			label = time.Weekday(i).String()
		}
		out = append(out, Bucket{Label: label, Value: c})
	}
	return out
}

// CategoryBreakdown counts tag usage, most used first. Ties sort by name.
func CategoryBreakdown(entries []core.ProgressEntry) []Bucket {
	counts := map[string]int{}
	for _, e := range entries {
		for _, t := range e.Tags {
			counts[t]++
		}
	}
	out := make([]Bucket, 0, len(counts))
	for name, c := range counts {
		out = append(out, Bucket{Label: name, Value: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value > out[j].Value
		}
		return out[i].Label < out[j].Label
	})
	return out
}

// MonthCount is the number of entries logged in a calendar month.
type MonthCount struct {
	Period string `json:"period"`
	Month  string `json:"month"`
	Count  int    `json:"count"`
}

// MonthlyComparison returns the entry counts of the last months months up to
// and including the month of today, oldest first.
func MonthlyComparison(entries []core.ProgressEntry, today core.Date, months int) []MonthCount {
	if months <= 0 {
		return nil
	}
	counts := map[string]int{}
	for _, e := range entries {
		if !e.Date.IsZero() {
			counts[bucketKey(e.Date, PeriodMonth)]++
		}
	}
	out := make([]MonthCount, months)
	anchor := time.Date(today.Year, today.Month, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < months; i++ {
		m := anchor.AddDate(0, -i, 0)
		key := m.Format("2006-01")
		out[months-1-i] = MonthCount{Period: key, Month: m.Format("January 2006"), Count: counts[key]}
	}
	return out
}
