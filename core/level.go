package core

import "math"

// XPPerLevelUnit scales the quadratic level curve: level L starts at (L-1)^2 * XPPerLevelUnit.
const XPPerLevelUnit = 100

// maxLevelBase is the largest n with n*n*XPPerLevelUnit <= MaxInt64.
const maxLevelBase = 303700049

// CalculateLevel maps total XP to a level: floor(sqrt(xp/100)) + 1.
// Negative XP is treated as zero, so the result is always >= 1.
func CalculateLevel(xp int64) int64 {
	if xp <= 0 {
		return 1
	}
	lvl := int64(math.Floor(math.Sqrt(float64(xp)/XPPerLevelUnit))) + 1
	// float64 loses precision near the top of the range; settle on exact thresholds.
	for lvl > 1 && XPThresholdForLevel(lvl) > xp {
		lvl--
	}
	for XPThresholdForLevel(lvl+1) <= xp && XPThresholdForLevel(lvl+1) != math.MaxInt64 {
		lvl++
	}
	return lvl
}

// XPThresholdForLevel returns the XP at which level begins. Levels below 1 map to 0.
// Thresholds beyond the int64 range saturate at MaxInt64.
func XPThresholdForLevel(level int64) int64 {
	if level <= 1 {
		return 0
	}
	n := level - 1
	if n > maxLevelBase {
		return math.MaxInt64
	}
	return n * n * XPPerLevelUnit
}

// XPNeededForNextLevel returns how much XP is missing to reach the next level.
func XPNeededForNextLevel(xp int64) int64 {
	xp = max(xp, 0)
	next := XPThresholdForLevel(CalculateLevel(xp) + 1)
	return max(next-xp, 0)
}

// ProgressToNextLevel reports the percentage of the current level already earned, in [0,100].
func ProgressToNextLevel(xp int64) float64 {
	xp = max(xp, 0)
	lvl := CalculateLevel(xp)
	cur := XPThresholdForLevel(lvl)
	next := XPThresholdForLevel(lvl + 1)
	if next <= cur {
		return 100
	}
	p := float64(xp-cur) / float64(next-cur) * 100
	return math.Min(100, math.Max(0, p))
}

// AwardXP adds delta to currentXP and returns the new total and its level.
// Negative results clamp to 0 and overflow saturates at MaxInt64.
func AwardXP(currentXP, delta int64) (newXP int64, newLevel int64) {
	currentXP = max(currentXP, 0)
	next, err := AddSafe(currentXP, delta)
	if err != nil {
		next = math.MaxInt64
	}
	next = max(next, 0)
	return next, CalculateLevel(next)
}

// LevelInfo summarizes a user's position on the level curve.
type LevelInfo struct {
	XP             int64   `json:"xp"`
	Level          int64   `json:"level"`
	Progress       float64 `json:"progress"`
	XPForNextLevel int64   `json:"xp_for_next_level"`
	LevelStartXP   int64   `json:"level_start_xp"`
	NextLevelXP    int64   `json:"next_level_xp"`
}

// DescribeLevel computes every derived level figure for xp.
func DescribeLevel(xp int64) LevelInfo {
	xp = max(xp, 0)
	lvl := CalculateLevel(xp)
	return LevelInfo{
		XP:             xp,
		Level:          lvl,
		Progress:       ProgressToNextLevel(xp),
		XPForNextLevel: XPNeededForNextLevel(xp),
		LevelStartXP:   XPThresholdForLevel(lvl),
		NextLevelXP:    XPThresholdForLevel(lvl + 1),
	}
}
