package core

import "context"

// Rule determines whether given state and trigger event should emit derived events.
type Rule interface {
	Evaluate(ctx context.Context, state UserState, trigger Event) []Event
}

// LevelUpRule emits a level up when an XP award crosses a level threshold.
type LevelUpRule struct{}

func (LevelUpRule) Evaluate(_ context.Context, _ UserState, trigger Event) []Event {
	if trigger.Type != EventXPAwarded || trigger.Delta <= 0 {
		return nil
	}
	before := CalculateLevel(trigger.Total - trigger.Delta)
	after := CalculateLevel(trigger.Total)
	if after > before {
		return []Event{NewLevelUp(trigger.UserID, after)}
	}
	return nil
}
