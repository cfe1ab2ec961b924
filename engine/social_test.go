package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"progresskit/core"
)

func TestCommentsAuthorOnlyEdits(t *testing.T) {
	svc, store, rec := newTestService(t, noon)
	ctx := context.Background()
	e, err := svc.LogEntry(ctx, "alice", core.EntryInput{Date: core.MustParseDate("2024-03-10"), Note: "day one"})
	require.NoError(t, err)
	ref := core.EntryRef{Owner: "Alice", EntryID: e.ID}

	c, err := svc.AddComment(ctx, ref, " Bob ", "  great start ")
	require.NoError(t, err)
	assert.Equal(t, core.UserID("bob"), c.Author)
	assert.Equal(t, core.UserID("alice"), c.Owner)
	assert.Equal(t, "great start", c.Content)
	assert.Equal(t, 1, rec.count(core.EventInteraction))

	st, err := store.GetState(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Interactions[core.InteractionComment])
	assert.GreaterOrEqual(t, st.XP, core.DefaultRewards().Comment)

	_, err = svc.AddComment(ctx, ref, "bob", "   ")
	assert.ErrorIs(t, err, core.ErrInvalidInput)
	_, err = svc.AddComment(ctx, core.EntryRef{Owner: "alice", EntryID: "missing"}, "bob", "hi")
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = svc.UpdateComment(ctx, ref, "carol", c.ID, "hijack")
	assert.ErrorIs(t, err, core.ErrNotFound, "only the author may edit")
	edited, err := svc.UpdateComment(ctx, ref, "bob", c.ID, "great start!")
	require.NoError(t, err)
	assert.Equal(t, "great start!", edited.Content)

	list, err := svc.Comments(ctx, ref)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "great start!", list[0].Content)

	assert.ErrorIs(t, svc.DeleteComment(ctx, ref, "carol", c.ID), core.ErrNotFound)
	require.NoError(t, svc.DeleteComment(ctx, ref, "bob", c.ID))
	list, err = svc.Comments(ctx, ref)
	require.NoError(t, err)
	assert.Empty(t, list)

	st, err = store.GetState(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Interactions[core.InteractionComment], "counters are lifetime totals")
}

func TestReactionsCountOnlyWhenInserted(t *testing.T) {
	svc, store, _ := newTestService(t, noon)
	ctx := context.Background()
	e, err := svc.LogEntry(ctx, "alice", core.EntryInput{Date: core.MustParseDate("2024-03-10")})
	require.NoError(t, err)
	ref := core.EntryRef{Owner: "alice", EntryID: e.ID}

	_, inserted, err := svc.React(ctx, ref, "bob", "🔥")
	require.NoError(t, err)
	assert.True(t, inserted)
	_, inserted, err = svc.React(ctx, ref, "BOB", " 🔥 ")
	require.NoError(t, err)
	assert.False(t, inserted)
	_, _, err = svc.React(ctx, ref, "carol", "🔥")
	require.NoError(t, err)
	_, _, err = svc.React(ctx, ref, "carol", "")
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	st, err := store.GetState(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Interactions[core.InteractionReaction])

	groups, err := svc.Reactions(ctx, ref)
	require.NoError(t, err)
	require.Len(t, groups["🔥"], 2)
	assert.Equal(t, core.UserID("bob"), groups["🔥"][0].User)

	removed, err := svc.Unreact(ctx, ref, "bob", "🔥")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = svc.Unreact(ctx, ref, "bob", "🔥")
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = svc.Reactions(ctx, core.EntryRef{Owner: "alice", EntryID: "missing"})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestTodoLifecycle(t *testing.T) {
	svc, _, rec := newTestService(t, noon)
	ctx := context.Background()

	todo, err := svc.CreateTodo(ctx, " Alice ", core.TodoInput{Title: "Draft talk", Status: "pending", Priority: "medium"})
	require.NoError(t, err)
	assert.Equal(t, core.UserID("alice"), todo.UserID)
	assert.Equal(t, core.TodoUpcoming, todo.Status)
	assert.Zero(t, rec.count(core.EventXPAwarded), "todos carry no XP")

	_, err = svc.CreateTodo(ctx, "alice", core.TodoInput{Title: "", Status: "upcoming"})
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	upcoming, err := svc.ListTodos(ctx, "alice", "pending")
	require.NoError(t, err)
	require.Len(t, upcoming, 1)
	_, err = svc.ListTodos(ctx, "alice", "someday")
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	done := "completed"
	updated, err := svc.UpdateTodo(ctx, "alice", todo.ID, core.TodoPatch{Status: &done})
	require.NoError(t, err)
	assert.Equal(t, core.TodoCompleted, updated.Status)
	completed, err := svc.ListTodos(ctx, "alice", "completed")
	require.NoError(t, err)
	assert.Len(t, completed, 1)

	_, err = svc.UpdateTodo(ctx, "bob", todo.ID, core.TodoPatch{Status: &done})
	assert.ErrorIs(t, err, core.ErrNotFound)

	require.NoError(t, svc.DeleteTodo(ctx, "alice", todo.ID))
	_, err = svc.GetTodo(ctx, "alice", todo.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
}
