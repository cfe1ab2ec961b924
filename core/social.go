package core

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// MaxCommentLength caps comment content in runes.
	MaxCommentLength = 2000
	// MaxReactionLength caps a reaction type, which is usually one emoji.
	MaxReactionLength = 32
)

// DefaultReactionTypes are the reactions offered by the stock client.
var DefaultReactionTypes = []string{"👍", "❤️", "😊", "🎉", "🔥", "💯"}

// EntryRef addresses a progress entry from another user's point of view.
type EntryRef struct {
	Owner   UserID `json:"entry_owner"`
	EntryID string `json:"entry_id"`
}

// Comment is a note left by Author on someone's entry.
type Comment struct {
	ID string `json:"id"`
	EntryRef
	Author    UserID    `json:"author"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CommentContent trims raw and checks it is non-empty and within MaxCommentLength.
func CommentContent(raw string) (string, error) {
	c := strings.TrimSpace(raw)
	if c == "" {
		return "", fmt.Errorf("%w: content is required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(c) > MaxCommentLength {
		return "", fmt.Errorf("%w: content longer than %d characters", ErrInvalidInput, MaxCommentLength)
	}
	return c, nil
}

// SortComments orders comments oldest first, then by id.
func SortComments(cs []Comment) {
	sort.SliceStable(cs, func(i, j int) bool {
		if !cs[i].CreatedAt.Equal(cs[j].CreatedAt) {
			return cs[i].CreatedAt.Before(cs[j].CreatedAt)
		}
		return cs[i].ID < cs[j].ID
	})
}

// Reaction is one user's reaction of one type on an entry. A user may add
// several types to the same entry but each type only once.
type Reaction struct {
	EntryRef
	User      UserID    `json:"user_id"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

// ReactionType trims raw and checks its length.
func ReactionType(raw string) (string, error) {
	r := strings.TrimSpace(raw)
	if r == "" {
		return "", fmt.Errorf("%w: reaction type is required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(r) > MaxReactionLength {
		return "", fmt.Errorf("%w: reaction type longer than %d characters", ErrInvalidInput, MaxReactionLength)
	}
	return r, nil
}

// SortReactions orders reactions oldest first, then by user and type.
func SortReactions(rs []Reaction) {
	sort.SliceStable(rs, func(i, j int) bool {
		a, b := rs[i], rs[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if a.User != b.User {
			return a.User < b.User
		}
		return a.Type < b.Type
	})
}

// GroupReactions buckets reactions by type, keeping each bucket's order.
func GroupReactions(rs []Reaction) map[string][]Reaction {
	out := map[string][]Reaction{}
	for _, r := range rs {
		out[r.Type] = append(out[r.Type], r)
	}
	return out
}
