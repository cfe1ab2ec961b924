// Package storagetest holds the behaviour every storage adapter must share.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"progresskit/core"
	"progresskit/engine"
	"progresskit/leaderboard"
)

// Store is the storage surface exercised by Run. Every adapter also
// enumerates users, so SnapshotXP is part of the contract here.
type Store interface {
	engine.Storage
	engine.XPSnapshotter
}

// Run executes the shared cases. newStore must return an empty store per call.
func Run(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("EntryLifecycle", func(t *testing.T) { testEntryLifecycle(t, newStore(t)) })
	t.Run("ListOrderAndFilter", func(t *testing.T) { testListOrderAndFilter(t, newStore(t)) })
	t.Run("XPClampsAtZero", func(t *testing.T) { testXP(t, newStore(t)) })
	t.Run("UnlockIsInsertIfAbsent", func(t *testing.T) { testUnlock(t, newStore(t)) })
	t.Run("InteractionCounters", func(t *testing.T) { testInteractions(t, newStore(t)) })
	t.Run("ConcurrentXP", func(t *testing.T) { testConcurrentXP(t, newStore(t)) })
	t.Run("ReadsDoNotCreateUsers", func(t *testing.T) { testReadsDoNotCreateUsers(t, newStore(t)) })
	t.Run("StateFreshUnderConcurrentReads", func(t *testing.T) { testStateFreshness(t, newStore(t)) })
	t.Run("LeaderboardMatchesStorage", func(t *testing.T) { testLeaderboardConsistency(t, newStore(t)) })
	t.Run("TodoLifecycle", func(t *testing.T) { testTodos(t, newStore(t)) })
	t.Run("Comments", func(t *testing.T) { testComments(t, newStore(t)) })
	t.Run("ReactionsAreInsertIfAbsent", func(t *testing.T) { testReactions(t, newStore(t)) })
	t.Run("DeleteEntryDropsSocial", func(t *testing.T) { testDeleteCascade(t, newStore(t)) })
}

// Entry builds a fixture entry created at noon UTC of date.
func Entry(user core.UserID, id, date string, tags ...string) core.ProgressEntry {
	d := core.MustParseDate(date)
	created := d.Time().Add(12 * time.Hour)
	return core.ProgressEntry{
		ID:        id,
		UserID:    user,
		Date:      d,
		CreatedAt: created,
		UpdatedAt: created,
		Note:      "note for " + id,
		Images:    []string{"/img/" + id + ".png"},
		Tags:      tags,
		XPEarned:  15,
	}
}

func testEntryLifecycle(t *testing.T, s Store) {
	ctx := context.Background()
	e := Entry("alice", "e1", "2024-01-02", "work")

	require.NoError(t, s.AddEntry(ctx, e))
	assert.ErrorIs(t, s.AddEntry(ctx, e), core.ErrConflict)

	got, err := s.GetEntry(ctx, "alice", "e1")
	require.NoError(t, err)
	assert.Equal(t, e.Date, got.Date)
	assert.Equal(t, e.Note, got.Note)
	assert.Equal(t, e.Images, got.Images)
	assert.Equal(t, e.Tags, got.Tags)
	assert.Equal(t, e.XPEarned, got.XPEarned)
	assert.True(t, e.CreatedAt.Equal(got.CreatedAt))

	_, err = s.GetEntry(ctx, "bob", "e1")
	assert.ErrorIs(t, err, core.ErrNotFound, "entries are scoped to their user")

	got.Note = "edited"
	got.Images = nil
	require.NoError(t, s.UpdateEntry(ctx, got))
	again, err := s.GetEntry(ctx, "alice", "e1")
	require.NoError(t, err)
	assert.Equal(t, "edited", again.Note)
	assert.Empty(t, again.Images)

	missing := Entry("alice", "nope", "2024-01-02")
	assert.ErrorIs(t, s.UpdateEntry(ctx, missing), core.ErrNotFound)

	require.NoError(t, s.DeleteEntry(ctx, "alice", "e1"))
	assert.ErrorIs(t, s.DeleteEntry(ctx, "alice", "e1"), core.ErrNotFound)
	_, err = s.GetEntry(ctx, "alice", "e1")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func testListOrderAndFilter(t *testing.T, s Store) {
	ctx := context.Background()
	for _, e := range []core.ProgressEntry{
		Entry("alice", "a", "2024-01-01", "work"),
		Entry("alice", "b", "2024-01-03", "study"),
		Entry("alice", "c", "2024-01-05", "work"),
		Entry("bob", "z", "2024-01-04"),
	} {
		require.NoError(t, s.AddEntry(ctx, e))
	}

	all, err := s.ListEntries(ctx, "alice", core.EntryFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"c", "b", "a"}, ids(all))

	ranged, err := s.ListEntries(ctx, "alice", core.EntryFilter{From: core.MustParseDate("2024-01-02"), To: core.MustParseDate("2024-01-05")})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, ids(ranged))

	tagged, err := s.ListEntries(ctx, "alice", core.EntryFilter{Tag: "work", Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, ids(tagged))

	none, err := s.ListEntries(ctx, "carol", core.EntryFilter{})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func ids(entries []core.ProgressEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func testXP(t *testing.T, s Store) {
	ctx := context.Background()
	total, err := s.AddXP(ctx, "alice", 120)
	require.NoError(t, err)
	assert.Equal(t, int64(120), total)

	total, err = s.AddXP(ctx, "alice", -500)
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)

	total, err = s.AddXP(ctx, "alice", 30)
	require.NoError(t, err)
	assert.Equal(t, int64(30), total)

	st, err := s.GetState(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(30), st.XP)
	assert.Equal(t, int64(1), st.Level())
}

func testUnlock(t *testing.T, s Store) {
	ctx := context.Background()
	at := time.Date(2024, 1, 2, 7, 30, 0, 0, time.UTC)

	inserted, err := s.UnlockAchievement(ctx, "alice", core.AchievementFirstStep, at)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.UnlockAchievement(ctx, "alice", core.AchievementFirstStep, at.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, inserted)

	st, err := s.GetState(ctx, "alice")
	require.NoError(t, err)
	require.True(t, st.HasUnlocked(core.AchievementFirstStep))
	assert.True(t, at.Equal(st.Unlocked[core.AchievementFirstStep]), "first unlock time wins")

	other, err := s.GetState(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, other.Unlocked)
}

func testInteractions(t *testing.T, s Store) {
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		n, err := s.RecordInteraction(ctx, "alice", core.InteractionShare)
		require.NoError(t, err)
		assert.Equal(t, int64(i), n)
	}
	_, err := s.RecordInteraction(ctx, "alice", core.InteractionComment)
	require.NoError(t, err)

	st, err := s.GetState(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.Interactions[core.InteractionShare])
	assert.Equal(t, int64(1), st.Interactions[core.InteractionComment])
	assert.Zero(t, st.Interactions[core.InteractionReaction])
}

func testConcurrentXP(t *testing.T, s Store) {
	ctx := context.Background()
	const workers, per = 8, 10
	var wg sync.WaitGroup
	errs := make(chan error, workers*per)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < per; i++ {
				if _, err := s.AddXP(ctx, "racer", 5); err != nil {
					errs <- fmt.Errorf("add xp: %w", err)
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	st, err := s.GetState(ctx, "racer")
	require.NoError(t, err)
	assert.Equal(t, int64(workers*per*5), st.XP)
}

func testReadsDoNotCreateUsers(t *testing.T, s Store) {
	ctx := context.Background()
	_, err := s.AddXP(ctx, "alice", 10)
	require.NoError(t, err)

	st, err := s.GetState(ctx, "ghost")
	require.NoError(t, err)
	assert.Zero(t, st.XP)
	_, err = s.GetEntry(ctx, "ghost", "e1")
	assert.ErrorIs(t, err, core.ErrNotFound)
	entries, err := s.ListEntries(ctx, "ghost", core.EntryFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
	todos, err := s.ListTodos(ctx, "ghost", "")
	require.NoError(t, err)
	assert.Empty(t, todos)
	_, err = s.GetTodo(ctx, "ghost", "t1")
	assert.ErrorIs(t, err, core.ErrNotFound)
	comments, err := s.ListComments(ctx, core.EntryRef{Owner: "ghost", EntryID: "e1"})
	require.NoError(t, err)
	assert.Empty(t, comments)
	removed, err := s.RemoveReaction(ctx, core.EntryRef{Owner: "ghost", EntryID: "e1"}, "alice", "🔥")
	require.NoError(t, err)
	assert.False(t, removed)
	assert.ErrorIs(t, s.DeleteEntry(ctx, "ghost", "e1"), core.ErrNotFound)

	snap, err := s.SnapshotXP(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[core.UserID]int64{"alice": 10}, snap, "reads must not register users")
}

// testStateFreshness checks that a read after a completed write never
// returns an older state, even while other goroutines keep reading.
func testStateFreshness(t *testing.T, s Store) {
	ctx := context.Background()
	const writers, per, readers = 4, 15, 4
	stop := make(chan struct{})
	var readWG sync.WaitGroup
	for r := 0; r < readers; r++ {
		readWG.Add(1)
		go func() {
			defer readWG.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if _, err := s.GetState(ctx, "fresh"); err != nil {
					assert.NoError(t, err)
					return
				}
			}
		}()
	}

	var writeWG sync.WaitGroup
	for w := 0; w < writers; w++ {
		writeWG.Add(1)
		go func() {
			defer writeWG.Done()
			for i := 0; i < per; i++ {
				total, err := s.AddXP(ctx, "fresh", 1)
				if !assert.NoError(t, err) {
					return
				}
				st, err := s.GetState(ctx, "fresh")
				if !assert.NoError(t, err) {
					return
				}
				assert.GreaterOrEqual(t, st.XP, total, "state older than a completed write")
			}
		}()
	}
	writeWG.Wait()
	close(stop)
	readWG.Wait()

	st, err := s.GetState(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, int64(writers*per), st.XP)
}

func testLeaderboardConsistency(t *testing.T, s Store) {
	ctx := context.Background()
	board := leaderboard.NewSkipList()
	bus := engine.NewEventBus(engine.DispatchAsync, engine.WithWorkers(4, 1024))
	svc := engine.NewProgressService(s, bus, engine.DefaultRuleEngine(), engine.WithLeaderboard(board))

	users := []core.UserID{"ana", "ben", "cy"}
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 12; i++ {
				delta := int64(3 + (w+i)%5)
				if i%4 == 3 {
					delta = -delta
				}
				_, err := svc.AwardXP(ctx, users[(w+i)%len(users)], delta)
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()
	svc.Close()

	for _, u := range users {
		st, err := s.GetState(ctx, u)
		require.NoError(t, err)
		got, ok := board.Get(u)
		require.True(t, ok, "%s missing from board", u)
		assert.Equal(t, st.XP, got.XP, "board drifted from storage for %s", u)
	}
}

func testTodos(t *testing.T, s Store) {
	ctx := context.Background()
	t0 := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)
	due := core.MustParseDate("2024-04-10")
	first := core.Todo{ID: "t1", UserID: "alice", Title: "write", Status: core.TodoUpcoming, DueDate: &due, CreatedAt: t0, UpdatedAt: t0}
	second := core.Todo{ID: "t2", UserID: "alice", Title: "ship", Status: core.TodoOngoing, Priority: core.PriorityHigh, CreatedAt: t0.Add(time.Hour), UpdatedAt: t0.Add(time.Hour)}

	require.NoError(t, s.AddTodo(ctx, first))
	require.NoError(t, s.AddTodo(ctx, second))
	assert.ErrorIs(t, s.AddTodo(ctx, first), core.ErrConflict)

	got, err := s.GetTodo(ctx, "alice", "t1")
	require.NoError(t, err)
	assert.Equal(t, "write", got.Title)
	require.NotNil(t, got.DueDate)
	assert.Equal(t, due, *got.DueDate)
	assert.True(t, t0.Equal(got.CreatedAt))
	_, err = s.GetTodo(ctx, "bob", "t1")
	assert.ErrorIs(t, err, core.ErrNotFound, "todos are scoped to their user")

	all, err := s.ListTodos(ctx, "alice", "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "t2", all[0].ID, "newest first")
	ongoing, err := s.ListTodos(ctx, "alice", core.TodoOngoing)
	require.NoError(t, err)
	require.Len(t, ongoing, 1)
	assert.Equal(t, core.PriorityHigh, ongoing[0].Priority)

	got.Status = core.TodoCompleted
	got.DueDate = nil
	require.NoError(t, s.UpdateTodo(ctx, got))
	again, err := s.GetTodo(ctx, "alice", "t1")
	require.NoError(t, err)
	assert.Equal(t, core.TodoCompleted, again.Status)
	assert.Nil(t, again.DueDate)
	assert.ErrorIs(t, s.UpdateTodo(ctx, core.Todo{ID: "nope", UserID: "alice", Title: "x", Status: core.TodoUpcoming}), core.ErrNotFound)

	require.NoError(t, s.DeleteTodo(ctx, "alice", "t1"))
	assert.ErrorIs(t, s.DeleteTodo(ctx, "alice", "t1"), core.ErrNotFound)
}

func testComments(t *testing.T, s Store) {
	ctx := context.Background()
	ref := core.EntryRef{Owner: "alice", EntryID: "e1"}
	other := core.EntryRef{Owner: "alice", EntryID: "e2"}
	t0 := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)
	late := core.Comment{ID: "c2", EntryRef: ref, Author: "carol", Content: "second", CreatedAt: t0.Add(time.Minute), UpdatedAt: t0.Add(time.Minute)}
	early := core.Comment{ID: "c1", EntryRef: ref, Author: "bob", Content: "first", CreatedAt: t0, UpdatedAt: t0}

	require.NoError(t, s.AddComment(ctx, late))
	require.NoError(t, s.AddComment(ctx, early))
	assert.ErrorIs(t, s.AddComment(ctx, early), core.ErrConflict)

	list, err := s.ListComments(ctx, ref)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "c1", list[0].ID, "oldest first")
	assert.Equal(t, core.UserID("bob"), list[0].Author)
	assert.Equal(t, ref, list[0].EntryRef)
	none, err := s.ListComments(ctx, other)
	require.NoError(t, err)
	assert.Empty(t, none)

	early.Content = "edited"
	early.UpdatedAt = t0.Add(time.Hour)
	require.NoError(t, s.UpdateComment(ctx, early))
	got, err := s.GetComment(ctx, ref, "c1")
	require.NoError(t, err)
	assert.Equal(t, "edited", got.Content)
	assert.True(t, early.UpdatedAt.Equal(got.UpdatedAt))
	_, err = s.GetComment(ctx, other, "c1")
	assert.ErrorIs(t, err, core.ErrNotFound)

	require.NoError(t, s.DeleteComment(ctx, ref, "c1"))
	assert.ErrorIs(t, s.DeleteComment(ctx, ref, "c1"), core.ErrNotFound)
	assert.ErrorIs(t, s.UpdateComment(ctx, early), core.ErrNotFound)
}

func testReactions(t *testing.T, s Store) {
	ctx := context.Background()
	ref := core.EntryRef{Owner: "alice", EntryID: "e1"}
	t0 := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	var mu sync.Mutex
	inserted := 0
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.AddReaction(ctx, core.Reaction{EntryRef: ref, User: "bob", Type: "🔥", CreatedAt: t0})
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, inserted, "exactly one concurrent add inserts")

	ok, err := s.AddReaction(ctx, core.Reaction{EntryRef: ref, User: "bob", Type: "👍", CreatedAt: t0.Add(time.Second)})
	require.NoError(t, err)
	assert.True(t, ok, "another type from the same user is a new reaction")
	ok, err = s.AddReaction(ctx, core.Reaction{EntryRef: ref, User: "carol", Type: "🔥", CreatedAt: t0.Add(2 * time.Second)})
	require.NoError(t, err)
	assert.True(t, ok)

	list, err := s.ListReactions(ctx, ref)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "🔥", list[0].Type)
	assert.Equal(t, core.UserID("bob"), list[0].User)
	assert.Equal(t, ref, list[0].EntryRef)
	assert.Len(t, core.GroupReactions(list)["🔥"], 2)

	removed, err := s.RemoveReaction(ctx, ref, "bob", "🔥")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = s.RemoveReaction(ctx, ref, "bob", "🔥")
	require.NoError(t, err)
	assert.False(t, removed)
	list, err = s.ListReactions(ctx, ref)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func testDeleteCascade(t *testing.T, s Store) {
	ctx := context.Background()
	ref := core.EntryRef{Owner: "alice", EntryID: "e1"}
	keep := core.EntryRef{Owner: "alice", EntryID: "e2"}
	at := time.Date(2024, 1, 3, 8, 0, 0, 0, time.UTC)
	require.NoError(t, s.AddEntry(ctx, Entry("alice", "e1", "2024-01-02")))
	require.NoError(t, s.AddEntry(ctx, Entry("alice", "e2", "2024-01-03")))
	for _, r := range []core.EntryRef{ref, keep} {
		require.NoError(t, s.AddComment(ctx, core.Comment{ID: "c-" + r.EntryID, EntryRef: r, Author: "bob", Content: "hi", CreatedAt: at, UpdatedAt: at}))
		_, err := s.AddReaction(ctx, core.Reaction{EntryRef: r, User: "bob", Type: "🎉", CreatedAt: at})
		require.NoError(t, err)
	}

	require.NoError(t, s.DeleteEntry(ctx, "alice", "e1"))

	comments, err := s.ListComments(ctx, ref)
	require.NoError(t, err)
	assert.Empty(t, comments)
	reactions, err := s.ListReactions(ctx, ref)
	require.NoError(t, err)
	assert.Empty(t, reactions)

	comments, err = s.ListComments(ctx, keep)
	require.NoError(t, err)
	assert.Len(t, comments, 1)
	reactions, err = s.ListReactions(ctx, keep)
	require.NoError(t, err)
	assert.Len(t, reactions, 1)
}
