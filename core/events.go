package core

import "time"

// EventType enumerates domain events.
type EventType string

const (
	EventEntryLogged         EventType = "entry_logged"
	EventXPAwarded           EventType = "xp_awarded"
	EventLevelUp             EventType = "level_up"
	EventAchievementUnlocked EventType = "achievement_unlocked"
	EventInteraction         EventType = "interaction_recorded"
)

// Event represents an immutable domain event.
type Event struct {
	Type        EventType       `json:"type"`
	Time        time.Time       `json:"time"`
	UserID      UserID          `json:"user_id"`
	Delta       int64           `json:"delta,omitempty"`
	Total       int64           `json:"total,omitempty"`
	Level       int64           `json:"level,omitempty"`
	Achievement AchievementID   `json:"achievement,omitempty"`
	EntryID     string          `json:"entry_id,omitempty"`
	Interaction InteractionKind `json:"interaction,omitempty"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
}

func NewEntryLogged(user UserID, entryID string, date Date) Event {
	return Event{Type: EventEntryLogged, Time: time.Now().UTC(), UserID: user, EntryID: entryID, Metadata: map[string]any{"date": date.String()}}
}

func NewXPAwarded(user UserID, delta int64, total int64) Event {
	return Event{Type: EventXPAwarded, Time: time.Now().UTC(), UserID: user, Delta: delta, Total: total}
}

func NewLevelUp(user UserID, level int64) Event {
	return Event{Type: EventLevelUp, Time: time.Now().UTC(), UserID: user, Level: level}
}

func NewAchievementUnlocked(user UserID, a Achievement) Event {
	return Event{
		Type:        EventAchievementUnlocked,
		Time:        time.Now().UTC(),
		UserID:      user,
		Achievement: a.ID,
		Delta:       a.XPReward,
		Metadata:    map[string]any{"name": a.Name},
	}
}

func NewInteractionRecorded(user UserID, kind InteractionKind, total int64) Event {
	return Event{Type: EventInteraction, Time: time.Now().UTC(), UserID: user, Interaction: kind, Total: total}
}
