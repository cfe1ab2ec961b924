package core

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// UserID uniquely identifies a user in the progress domain.
type UserID string

// InteractionKind enumerates the social activities that count towards achievements.
type InteractionKind string

const (
	InteractionShare    InteractionKind = "share"
	InteractionComment  InteractionKind = "comment"
	InteractionReaction InteractionKind = "reaction"
	InteractionTeamJoin InteractionKind = "team_join"
)

// InteractionKinds lists every supported interaction kind.
func InteractionKinds() []InteractionKind {
	return []InteractionKind{InteractionShare, InteractionComment, InteractionReaction, InteractionTeamJoin}
}

// ParseInteractionKind validates a raw kind name.
func ParseInteractionKind(s string) (InteractionKind, error) {
	k := InteractionKind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range InteractionKinds() {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: unknown interaction kind %q", ErrInvalidInput, s)
}

// UserState is an immutable snapshot of a user's gamification state.
// Level is never stored here; it is always derived from XP.
type UserState struct {
	UserID       UserID                      `json:"user_id"`
	XP           int64                       `json:"xp"`
	Unlocked     map[AchievementID]time.Time `json:"unlocked"`
	Interactions map[InteractionKind]int64   `json:"interactions"`
	Updated      time.Time                   `json:"updated"`
}

// NewUserState returns the empty state for a user that has no records yet.
func NewUserState(user UserID) UserState {
	return UserState{
		UserID:       user,
		Unlocked:     map[AchievementID]time.Time{},
		Interactions: map[InteractionKind]int64{},
		Updated:      time.Now().UTC(),
	}
}

// Level derives the current level from XP.
func (s UserState) Level() int64 { return CalculateLevel(s.XP) }

// HasUnlocked reports whether the achievement has already been recorded.
func (s UserState) HasUnlocked(id AchievementID) bool {
	_, ok := s.Unlocked[id]
	return ok
}

// Clone returns a deep copy of the state to uphold immutability.
func (s UserState) Clone() UserState {
	cp := UserState{
		UserID:       s.UserID,
		XP:           s.XP,
		Unlocked:     make(map[AchievementID]time.Time, len(s.Unlocked)),
		Interactions: make(map[InteractionKind]int64, len(s.Interactions)),
		Updated:      s.Updated,
	}
	for k, v := range s.Unlocked {
		cp.Unlocked[k] = v
	}
	for k, v := range s.Interactions {
		cp.Interactions[k] = v
	}
	return cp
}

// AddSafe adds delta to base ensuring no signed overflow occurs.
func AddSafe(base int64, delta int64) (int64, error) {
	if (delta > 0 && base > math.MaxInt64-delta) || (delta < 0 && base < math.MinInt64-delta) {
		return 0, ErrOverflow
	}
	return base + delta, nil
}

// NormalizeUserID trims and lowercases user identifiers.
func NormalizeUserID(id UserID) (UserID, error) {
	s := strings.TrimSpace(string(id))
	if s == "" {
		return "", ErrEmptyUserID
	}
	return UserID(strings.ToLower(s)), nil
}
