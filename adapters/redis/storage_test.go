package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"progresskit/adapters/storagetest"
	"progresskit/core"
)

// newTestClient spins up a miniredis server and returns a client plus cleanup.
func newTestClient(t *testing.T) (*redis.Client, func()) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cleanup := func() {
		_ = client.Close()
		mr.Close()
	}
	return client, cleanup
}

func TestStore_Conformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storagetest.Store {
		client, cleanup := newTestClient(t)
		t.Cleanup(cleanup)
		return NewWithClient(client)
	})
}

func TestStore_AddXP(t *testing.T) {
	client, cleanup := newTestClient(t)
	defer cleanup()

	store := NewWithClient(client)
	ctx := context.Background()
	userID := core.UserID("test-user")

	total, err := store.AddXP(ctx, userID, 50)
	require.NoError(t, err)
	assert.Equal(t, int64(50), total)

	total, err = store.AddXP(ctx, userID, -30)
	require.NoError(t, err)
	assert.Equal(t, int64(20), total)

	total, err = store.AddXP(ctx, userID, -30)
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)

	raw, err := client.Get(ctx, userXPKey(userID)).Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(0), raw)
}

func TestStore_AddXP_ZeroDelta(t *testing.T) {
	// no Redis round trip happens for a zero delta
	store := &Store{}
	_, err := store.AddXP(context.Background(), "test-user", 0)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "delta cannot be zero")
}

func TestStore_UnlockStoresTimestamp(t *testing.T) {
	client, cleanup := newTestClient(t)
	defer cleanup()

	store := NewWithClient(client)
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 21, 59, 0, 123, time.UTC)

	inserted, err := store.UnlockAchievement(ctx, "alice", core.AchievementCentury, at)
	require.NoError(t, err)
	require.True(t, inserted)

	raw, err := client.HGet(ctx, userAchievementsKey("alice"), string(core.AchievementCentury)).Result()
	require.NoError(t, err)
	assert.Equal(t, at.Format(time.RFC3339Nano), raw)
}

func TestStore_GetState_Cache(t *testing.T) {
	client, cleanup := newTestClient(t)
	defer cleanup()

	store := NewWithClient(client)
	ctx := context.Background()
	userID := core.UserID("test-user-cache")

	_, err := store.AddXP(ctx, userID, 200)
	require.NoError(t, err)

	// First get should build from keys and cache
	state1, err := store.GetState(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(200), state1.XP)

	exists, err := client.Exists(ctx, userStateKey(userID)).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)

	// Modify underlying data directly (simulating external change)
	require.NoError(t, client.Set(ctx, userXPKey(userID), 300, 0).Err())

	state2, err := store.GetState(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(200), state2.XP, "cached value is served")

	// Writes invalidate the cache
	_, err = store.AddXP(ctx, userID, 50)
	require.NoError(t, err)

	state3, err := store.GetState(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(350), state3.XP)

	_, err = store.RecordInteraction(ctx, userID, core.InteractionReaction)
	require.NoError(t, err)
	exists, err = client.Exists(ctx, userStateKey(userID)).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), exists)
}

func TestStore_GetState_WriteDuringRefillIsNotCached(t *testing.T) {
	client, cleanup := newTestClient(t)
	defer cleanup()

	store := NewWithClient(client)
	ctx := context.Background()
	userID := core.UserID("racer")

	_, err := store.AddXP(ctx, userID, 10)
	require.NoError(t, err)

	// a writer lands after the reader rebuilt the state but before it caches it
	var once bool
	store.beforeCacheFill = func() {
		if once {
			return
		}
		once = true
		_, err := store.AddXP(ctx, userID, 90)
		require.NoError(t, err)
	}

	first, err := store.GetState(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), first.XP, "the read began before the write")

	exists, err := client.Exists(ctx, userStateKey(userID)).Result()
	require.NoError(t, err)
	assert.Zero(t, exists, "a state older than the current version must not be cached")

	second, err := store.GetState(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), second.XP)

	third, err := store.GetState(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), third.XP, "served from the refreshed cache")
}

func TestStore_ReadsCreateNoKeys(t *testing.T) {
	client, cleanup := newTestClient(t)
	defer cleanup()

	store := NewWithClient(client)
	ctx := context.Background()

	_, err := store.GetState(ctx, "ghost")
	require.NoError(t, err)
	_, err = store.ListEntries(ctx, "ghost", core.EntryFilter{})
	require.NoError(t, err)
	_, err = store.ListTodos(ctx, "ghost", "")
	require.NoError(t, err)

	keys, err := client.Keys(ctx, "*").Result()
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestStore_DeleteEntryDropsSocialKeys(t *testing.T) {
	client, cleanup := newTestClient(t)
	defer cleanup()

	store := NewWithClient(client)
	ctx := context.Background()
	ref := core.EntryRef{Owner: "alice", EntryID: "e1"}
	require.NoError(t, store.AddEntry(ctx, storagetest.Entry("alice", "e1", "2024-01-02")))
	require.NoError(t, store.AddComment(ctx, core.Comment{ID: "c1", EntryRef: ref, Author: "bob", Content: "hi"}))
	_, err := store.AddReaction(ctx, core.Reaction{EntryRef: ref, User: "bob", Type: "🔥"})
	require.NoError(t, err)

	require.NoError(t, store.DeleteEntry(ctx, "alice", "e1"))
	n, err := client.Exists(ctx, entryCommentsKey(ref), entryReactionsKey(ref)).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStore_EmptyUser(t *testing.T) {
	client, cleanup := newTestClient(t)
	defer cleanup()

	store := NewWithClient(client)
	state, err := store.GetState(context.Background(), "nonexistent-user")
	require.NoError(t, err)

	assert.Equal(t, core.UserID("nonexistent-user"), state.UserID)
	assert.Zero(t, state.XP)
	assert.Empty(t, state.Unlocked)
	assert.Empty(t, state.Interactions)
	assert.True(t, time.Since(state.Updated) < time.Second)
}

func TestStore_SnapshotXP(t *testing.T) {
	client, cleanup := newTestClient(t)
	defer cleanup()

	store := NewWithClient(client)
	ctx := context.Background()
	_, err := store.AddXP(ctx, "alice", 120)
	require.NoError(t, err)
	_, err = store.AddXP(ctx, "bob", 30)
	require.NoError(t, err)
	_, err = store.RecordInteraction(ctx, "carol", core.InteractionShare)
	require.NoError(t, err)

	got, err := store.SnapshotXP(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[core.UserID]int64{"alice": 120, "bob": 30}, got)
}

func TestRedisKeyParts(t *testing.T) {
	tests := []struct {
		input    string
		expected []string
	}{
		{"user:alice:xp", []string{"user", "alice", "xp"}},
		{"user:bob:entries", []string{"user", "bob", "entries"}},
		{"simple", []string{"simple"}},
		{"a:b:c:d:e", []string{"a", "b", "c", "d", "e"}},
		{"trailing:", []string{"trailing"}},
		{":leading", []string{"leading"}},
		{"empty::parts", []string{"empty", "parts"}},
	}

	for _, test := range tests {
		result := redisKeyParts(test.input)
		assert.Equal(t, test.expected, result, "Failed for input: %s", test.input)
	}
}

func TestConfig_DefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, "localhost:6379", config.Addr)
	assert.Equal(t, "", config.Password)
	assert.Equal(t, 0, config.DB)
	assert.Equal(t, 10, config.PoolSize)
	assert.Equal(t, 2, config.MinIdleConns)
	assert.Equal(t, 5*time.Second, config.DialTimeout)
	assert.Equal(t, 3*time.Second, config.ReadTimeout)
	assert.Equal(t, 3*time.Second, config.WriteTimeout)
	assert.Equal(t, 5*time.Minute, config.StateTTL)
}
