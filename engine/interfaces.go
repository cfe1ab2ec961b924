package engine

import (
	"context"
	"time"

	"progresskit/core"
)

// Storage abstracts persistence for progress entries and gamification state.
// Implementations serialize per-user read-modify-write operations.
type Storage interface {
	// AddEntry stores a new entry. It fails with core.ErrConflict when the id exists.
	AddEntry(ctx context.Context, e core.ProgressEntry) error
	// UpdateEntry replaces an existing entry. It fails with core.ErrNotFound when absent.
	UpdateEntry(ctx context.Context, e core.ProgressEntry) error
	DeleteEntry(ctx context.Context, user core.UserID, id string) error
	GetEntry(ctx context.Context, user core.UserID, id string) (core.ProgressEntry, error)
	// ListEntries returns the user's entries matching f, newest first.
	ListEntries(ctx context.Context, user core.UserID, f core.EntryFilter) ([]core.ProgressEntry, error)

	// AddXP atomically adds delta to the user's XP, clamping the total at zero.
	AddXP(ctx context.Context, user core.UserID, delta int64) (newTotal int64, err error)
	// UnlockAchievement records an unlock if absent and reports whether this call inserted it.
	UnlockAchievement(ctx context.Context, user core.UserID, id core.AchievementID, at time.Time) (bool, error)
	// RecordInteraction increments the counter of kind and returns the new count.
	RecordInteraction(ctx context.Context, user core.UserID, kind core.InteractionKind) (int64, error)
	GetState(ctx context.Context, user core.UserID) (core.UserState, error)

	TodoStorage
	SocialStorage
}

// TodoStorage persists todos. Todos never affect XP.
type TodoStorage interface {
	// AddTodo fails with core.ErrConflict when the id exists.
	AddTodo(ctx context.Context, t core.Todo) error
	// UpdateTodo fails with core.ErrNotFound when the todo is absent.
	UpdateTodo(ctx context.Context, t core.Todo) error
	DeleteTodo(ctx context.Context, user core.UserID, id string) error
	GetTodo(ctx context.Context, user core.UserID, id string) (core.Todo, error)
	// ListTodos returns the user's todos newest first, optionally narrowed to one status.
	ListTodos(ctx context.Context, user core.UserID, status core.TodoStatus) ([]core.Todo, error)
}

// SocialStorage persists comments and reactions on entries.
type SocialStorage interface {
	// AddComment fails with core.ErrConflict when the id exists.
	AddComment(ctx context.Context, c core.Comment) error
	// UpdateComment replaces the content of an existing comment.
	UpdateComment(ctx context.Context, c core.Comment) error
	DeleteComment(ctx context.Context, ref core.EntryRef, id string) error
	GetComment(ctx context.Context, ref core.EntryRef, id string) (core.Comment, error)
	// ListComments returns the comments of one entry oldest first.
	ListComments(ctx context.Context, ref core.EntryRef) ([]core.Comment, error)

	// AddReaction inserts the reaction if absent and reports whether this call inserted it.
	AddReaction(ctx context.Context, r core.Reaction) (bool, error)
	// RemoveReaction reports whether a reaction was removed.
	RemoveReaction(ctx context.Context, ref core.EntryRef, user core.UserID, typ string) (bool, error)
	// ListReactions returns the reactions of one entry oldest first.
	ListReactions(ctx context.Context, ref core.EntryRef) ([]core.Reaction, error)
}

// XPSnapshotter is implemented by storages that can list the XP of every user.
type XPSnapshotter interface {
	SnapshotXP(ctx context.Context) (map[core.UserID]int64, error)
}

// RuleEngine evaluates rules and emits derived events.
type RuleEngine interface {
	Evaluate(ctx context.Context, state core.UserState, trigger core.Event) []core.Event
}
