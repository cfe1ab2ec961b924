package leaderboard

import "progresskit/core"

// Entry is a user's position input: total XP.
type Entry struct {
	User core.UserID `json:"user_id"`
	XP   int64       `json:"xp"`
}

// Standing is an Entry with its 1-based rank and derived level.
type Standing struct {
	Rank  int         `json:"rank"`
	User  core.UserID `json:"user_id"`
	XP    int64       `json:"xp"`
	Level int64       `json:"level"`
}

// Board abstracts leaderboard operations.
type Board interface {
	Update(user core.UserID, xp int64)
	Remove(user core.UserID)
	TopN(n int) []Entry
	Get(user core.UserID) (Entry, bool)
	Len() int
}

// Standings ranks the top n entries of b.
func Standings(b Board, n int) []Standing {
	top := b.TopN(n)
	out := make([]Standing, len(top))
	for i, e := range top {
		out[i] = Standing{Rank: i + 1, User: e.User, XP: e.XP, Level: core.CalculateLevel(e.XP)}
	}
	return out
}
