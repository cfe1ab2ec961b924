package core

import "sort"

// Streaks pairs the two streak figures shown to users.
type Streaks struct {
	Current int `json:"current"`
	Longest int `json:"longest"`
}

// AnalyzeStreaks computes both streaks for the given activity days.
func AnalyzeStreaks(dates []Date, today Date) Streaks {
	return Streaks{Current: CurrentStreak(dates, today), Longest: LongestStreak(dates)}
}

// LongestStreak returns the longest run of consecutive calendar days in dates.
// Duplicates are ignored; empty input yields 0.
func LongestStreak(dates []Date) int {
	days := distinctDays(dates)
	if len(days) == 0 {
		return 0
	}
	longest, run := 1, 1
	for i := 1; i < len(days); i++ {
		if days[i]-days[i-1] == 1 {
			run++
			longest = max(longest, run)
			continue
		}
		run = 1
	}
	return longest
}

// CurrentStreak counts consecutive active days walking backwards from today.
// A streak must include today: without activity today the result is 0.
func CurrentStreak(dates []Date, today Date) int {
	days := distinctDays(dates)
	expected := today.dayNumber()
	streak := 0
	for i := len(days) - 1; i >= 0; i-- {
		switch d := days[i]; {
		case d == expected:
			streak++
			expected--
		case d < expected:
			return streak
		}
		// days after today are skipped
	}
	return streak
}

// distinctDays returns the sorted unique day numbers of dates, dropping zero dates.
func distinctDays(dates []Date) []int64 {
	seen := make(map[int64]struct{}, len(dates))
	out := make([]int64, 0, len(dates))
	for _, d := range dates {
		if d.IsZero() {
			continue
		}
		n := d.dayNumber()
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
