package core

import (
	"fmt"
	"time"
)

// AchievementID identifies an entry of the achievement catalog.
type AchievementID string

// RuleKind is the closed set of unlock rules an achievement can use.
type RuleKind int

const (
	RuleEntryCount RuleKind = iota + 1
	RuleWordCount
	RuleImageCount
	RuleShareCount
	RuleCommentCount
	RuleReactionCount
	RuleTeamCount
	RuleLongestStreak
	RuleEarlyBird
	RuleNightOwl
)

var ruleKindNames = map[RuleKind]string{
	RuleEntryCount:    "entry_count",
	RuleWordCount:     "word_count",
	RuleImageCount:    "image_count",
	RuleShareCount:    "share_count",
	RuleCommentCount:  "comment_count",
	RuleReactionCount: "reaction_count",
	RuleTeamCount:     "team_count",
	RuleLongestStreak: "longest_streak",
	RuleEarlyBird:     "early_bird",
	RuleNightOwl:      "night_owl",
}

func (k RuleKind) String() string {
	if s, ok := ruleKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("rule(%d)", int(k))
}

func (k RuleKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *RuleKind) UnmarshalText(b []byte) error {
	for kind, name := range ruleKindNames {
		if name == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("%w: unknown rule kind %q", ErrInvalidInput, string(b))
}

// Hours bounding the time-of-day achievements, in the configured location.
const (
	EarlyBirdBeforeHour = 8
	NightOwlFromHour    = 22
)

// UnlockRule pairs a rule kind with its threshold. Time-of-day rules ignore Threshold.
type UnlockRule struct {
	Kind      RuleKind `json:"kind"`
	Threshold int64    `json:"threshold,omitempty"`
}

// Satisfied evaluates the rule against aggregated facts.
func (r UnlockRule) Satisfied(f Facts) bool {
	switch r.Kind {
	case RuleEntryCount:
		return f.EntryCount >= r.Threshold
	case RuleWordCount:
		return f.WordCount >= r.Threshold
	case RuleImageCount:
		return f.ImageCount >= r.Threshold
	case RuleShareCount:
		return f.ShareCount >= r.Threshold
	case RuleCommentCount:
		return f.CommentCount >= r.Threshold
	case RuleReactionCount:
		return f.ReactionCount >= r.Threshold
	case RuleTeamCount:
		return f.TeamCount >= r.Threshold
	case RuleLongestStreak:
		return int64(f.LongestStreak) >= r.Threshold
	case RuleEarlyBird:
		return f.HasEarlyEntry
	case RuleNightOwl:
		return f.HasLateEntry
	default:
		return false
	}
}

// Achievement is a static catalog entry.
type Achievement struct {
	ID          AchievementID `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Rule        UnlockRule    `json:"rule"`
	XPReward    int64         `json:"xp_reward"`
}

const (
	AchievementFirstStep       AchievementID = "first-step"
	AchievementWeekWarrior     AchievementID = "week-warrior"
	AchievementCentury         AchievementID = "century"
	AchievementEarlyBird       AchievementID = "early-bird"
	AchievementNightOwl        AchievementID = "night-owl"
	AchievementStoryteller     AchievementID = "storyteller"
	AchievementPhotographer    AchievementID = "photographer"
	AchievementConsistent      AchievementID = "consistent"
	AchievementSocialButterfly AchievementID = "social-butterfly"
	AchievementTeamPlayer      AchievementID = "team-player"
	AchievementCommenter       AchievementID = "commenter"
	AchievementReactionMaster  AchievementID = "reaction-master"
)

// DefaultCatalog returns a fresh copy of the built-in achievements.
func DefaultCatalog() []Achievement {
	return []Achievement{
		{ID: AchievementFirstStep, Name: "First Step", Description: "Log your first progress entry", Rule: UnlockRule{Kind: RuleEntryCount, Threshold: 1}, XPReward: 10},
		{ID: AchievementWeekWarrior, Name: "Week Warrior", Description: "Log progress 7 days in a row", Rule: UnlockRule{Kind: RuleLongestStreak, Threshold: 7}, XPReward: 50},
		{ID: AchievementCentury, Name: "Century", Description: "Log 100 progress entries", Rule: UnlockRule{Kind: RuleEntryCount, Threshold: 100}, XPReward: 500},
		{ID: AchievementEarlyBird, Name: "Early Bird", Description: "Log an entry before 8 AM", Rule: UnlockRule{Kind: RuleEarlyBird}, XPReward: 25},
		{ID: AchievementNightOwl, Name: "Night Owl", Description: "Log an entry after 10 PM", Rule: UnlockRule{Kind: RuleNightOwl}, XPReward: 25},
		{ID: AchievementStoryteller, Name: "Storyteller", Description: "Write 1000 words in your notes", Rule: UnlockRule{Kind: RuleWordCount, Threshold: 1000}, XPReward: 100},
		{ID: AchievementPhotographer, Name: "Photographer", Description: "Attach 50 images", Rule: UnlockRule{Kind: RuleImageCount, Threshold: 50}, XPReward: 100},
		{ID: AchievementConsistent, Name: "Consistent", Description: "Log progress 30 days in a row", Rule: UnlockRule{Kind: RuleLongestStreak, Threshold: 30}, XPReward: 200},
		{ID: AchievementSocialButterfly, Name: "Social Butterfly", Description: "Share progress 10 times", Rule: UnlockRule{Kind: RuleShareCount, Threshold: 10}, XPReward: 50},
		{ID: AchievementTeamPlayer, Name: "Team Player", Description: "Join a team", Rule: UnlockRule{Kind: RuleTeamCount, Threshold: 1}, XPReward: 25},
		{ID: AchievementCommenter, Name: "Commenter", Description: "Write 20 comments", Rule: UnlockRule{Kind: RuleCommentCount, Threshold: 20}, XPReward: 50},
		{ID: AchievementReactionMaster, Name: "Reaction Master", Description: "React 50 times", Rule: UnlockRule{Kind: RuleReactionCount, Threshold: 50}, XPReward: 50},
	}
}

// FindAchievement looks up id in catalog.
func FindAchievement(catalog []Achievement, id AchievementID) (Achievement, bool) {
	for _, a := range catalog {
		if a.ID == id {
			return a, true
		}
	}
	return Achievement{}, false
}

// Facts are the pre-aggregated figures achievement rules are evaluated against.
type Facts struct {
	EntryCount    int64 `json:"entry_count"`
	WordCount     int64 `json:"word_count"`
	ImageCount    int64 `json:"image_count"`
	TeamCount     int64 `json:"team_count"`
	ShareCount    int64 `json:"share_count"`
	CommentCount  int64 `json:"comment_count"`
	ReactionCount int64 `json:"reaction_count"`
	LongestStreak int   `json:"longest_streak"`
	CurrentStreak int   `json:"current_streak"`
	HasEarlyEntry bool  `json:"has_early_entry"`
	HasLateEntry  bool  `json:"has_late_entry"`
}

// BuildFacts aggregates entries and interaction counters. Creation times are
// read in loc (UTC when nil) for the time-of-day rules.
func BuildFacts(entries []ProgressEntry, interactions map[InteractionKind]int64, today Date, loc *time.Location) Facts {
	if loc == nil {
		loc = time.UTC
	}
	f := Facts{
		EntryCount:    int64(len(entries)),
		ShareCount:    max(interactions[InteractionShare], 0),
		CommentCount:  max(interactions[InteractionComment], 0),
		ReactionCount: max(interactions[InteractionReaction], 0),
		TeamCount:     max(interactions[InteractionTeamJoin], 0),
	}
	for _, e := range entries {
		f.WordCount += int64(e.WordCount())
		f.ImageCount += int64(len(e.Images))
		if e.CreatedAt.IsZero() {
			continue
		}
		hour := e.CreatedAt.In(loc).Hour()
		if hour < EarlyBirdBeforeHour {
			f.HasEarlyEntry = true
		}
		if hour >= NightOwlFromHour {
			f.HasLateEntry = true
		}
	}
	dates := EntryDates(entries)
	f.LongestStreak = LongestStreak(dates)
	f.CurrentStreak = CurrentStreak(dates, today)
	return f
}

// Evaluate returns the catalog achievements whose rule holds for facts and
// that are not in unlocked. Each id is reported at most once.
func Evaluate(catalog []Achievement, facts Facts, unlocked map[AchievementID]time.Time) []Achievement {
	var out []Achievement
	seen := make(map[AchievementID]struct{}, len(catalog))
	for _, a := range catalog {
		if _, done := unlocked[a.ID]; done {
			continue
		}
		if _, dup := seen[a.ID]; dup {
			continue
		}
		if a.Rule.Satisfied(facts) {
			seen[a.ID] = struct{}{}
			out = append(out, a)
		}
	}
	return out
}
