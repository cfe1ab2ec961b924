package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"progresskit/core"
)

// Config holds Redis connection configuration
type Config struct {
	Addr         string        `json:"addr" env:"PROGRESSKIT_REDIS_ADDR"`
	Password     string        `json:"password,omitempty" env:"PROGRESSKIT_REDIS_PASSWORD"`
	DB           int           `json:"db" env:"PROGRESSKIT_REDIS_DB"`
	PoolSize     int           `json:"pool_size" env:"PROGRESSKIT_REDIS_POOL_SIZE"`
	MinIdleConns int           `json:"min_idle_conns" env:"PROGRESSKIT_REDIS_MIN_IDLE_CONNS"`
	DialTimeout  time.Duration `json:"dial_timeout" env:"PROGRESSKIT_REDIS_DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `json:"read_timeout" env:"PROGRESSKIT_REDIS_READ_TIMEOUT"`
	WriteTimeout time.Duration `json:"write_timeout" env:"PROGRESSKIT_REDIS_WRITE_TIMEOUT"`
	// StateTTL bounds how long a cached UserState is served.
	StateTTL time.Duration `json:"state_ttl" env:"PROGRESSKIT_REDIS_STATE_TTL"`
}

// DefaultConfig returns sensible defaults for Redis configuration
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		StateTTL:     5 * time.Minute,
	}
}

// Store implements engine.Storage on Redis.
// Data structure:
// - user:{user_id}:xp -> int64 XP total, never negative
// - user:{user_id}:entries -> hash entry id -> JSON ProgressEntry
// - user:{user_id}:achievements -> hash achievement id -> RFC3339 unlock time
// - user:{user_id}:interactions -> hash interaction kind -> count
// - user:{user_id}:state -> JSON blob of UserState for quick retrieval
// - user:{user_id}:ver -> counter bumped by every state write; guards cache refills
// - user:{user_id}:todos -> hash todo id -> JSON Todo
// - entry:{owner}:{entry_id}:comments -> hash comment id -> JSON Comment
// - entry:{owner}:{entry_id}:reactions -> hash "user\x1ftype" -> JSON Reaction
type Store struct {
	client   *redis.Client
	stateTTL time.Duration

	// beforeCacheFill runs between rebuilding a state and caching it. Tests only.
	beforeCacheFill func()
}

// New creates a new Redis-backed storage with the provided configuration
func New(config Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	s := NewWithClient(client)
	if config.StateTTL > 0 {
		s.stateTTL = config.StateTTL
	}
	return s, nil
}

// NewWithClient creates a Store using an existing Redis client (useful for testing)
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client, stateTTL: DefaultConfig().StateTTL}
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

func userXPKey(userID core.UserID) string {
	return fmt.Sprintf("user:%s:xp", userID)
}

func userEntriesKey(userID core.UserID) string {
	return fmt.Sprintf("user:%s:entries", userID)
}

func userAchievementsKey(userID core.UserID) string {
	return fmt.Sprintf("user:%s:achievements", userID)
}

func userInteractionsKey(userID core.UserID) string {
	return fmt.Sprintf("user:%s:interactions", userID)
}

// userStateKey generates the Redis key for cached user state
func userStateKey(userID core.UserID) string {
	return fmt.Sprintf("user:%s:state", userID)
}

func userVersionKey(userID core.UserID) string {
	return fmt.Sprintf("user:%s:ver", userID)
}

func userTodosKey(userID core.UserID) string {
	return fmt.Sprintf("user:%s:todos", userID)
}

func entryCommentsKey(ref core.EntryRef) string {
	return fmt.Sprintf("entry:%s:%s:comments", ref.Owner, ref.EntryID)
}

func entryReactionsKey(ref core.EntryRef) string {
	return fmt.Sprintf("entry:%s:%s:reactions", ref.Owner, ref.EntryID)
}

func reactionField(user core.UserID, typ string) string {
	return string(user) + "\x1f" + typ
}

// addXPScript adds ARGV[1] to the XP counter, clamping at zero. INCRBY
// rejects results outside the int64 range.
var addXPScript = redis.NewScript(`
	local key = KEYS[1]
	local delta = tonumber(ARGV[1])
	local current = tonumber(redis.call('GET', key) or '0')
	if current + delta < 0 then
		redis.call('SET', key, 0)
		return 0
	end
	return redis.call('INCRBY', key, ARGV[1])
`)

// replaceFieldScript overwrites a hash field only when it already exists.
var replaceFieldScript = redis.NewScript(`
	if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 1 then
		redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
		return 1
	end
	return 0
`)

// cacheStateScript caches ARGV[2] for ARGV[3] ms unless the version in KEYS[1]
// moved past ARGV[1] while the state was being rebuilt.
var cacheStateScript = redis.NewScript(`
	local current = redis.call('GET', KEYS[1]) or '0'
	if current ~= ARGV[1] then
		return 0
	end
	redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
	return 1
`)

func (s *Store) AddEntry(ctx context.Context, e core.ProgressEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	added, err := s.client.HSetNX(ctx, userEntriesKey(e.UserID), e.ID, data).Result()
	if err != nil {
		return fmt.Errorf("failed to add entry: %w", err)
	}
	if !added {
		return fmt.Errorf("entry %s: %w", e.ID, core.ErrConflict)
	}
	return nil
}

func (s *Store) UpdateEntry(ctx context.Context, e core.ProgressEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	n, err := replaceFieldScript.Run(ctx, s.client, []string{userEntriesKey(e.UserID)}, e.ID, data).Int64()
	if err != nil {
		return fmt.Errorf("failed to update entry: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("entry %s: %w", e.ID, core.ErrNotFound)
	}
	return nil
}

// DeleteEntry also drops the comments and reactions on the entry.
func (s *Store) DeleteEntry(ctx context.Context, userID core.UserID, id string) error {
	ref := core.EntryRef{Owner: userID, EntryID: id}
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.HDel(ctx, userEntriesKey(userID), id)
		pipe.Del(ctx, entryCommentsKey(ref), entryReactionsKey(ref))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	if del.Val() == 0 {
		return fmt.Errorf("entry %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (s *Store) GetEntry(ctx context.Context, userID core.UserID, id string) (core.ProgressEntry, error) {
	data, err := s.client.HGet(ctx, userEntriesKey(userID), id).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.ProgressEntry{}, fmt.Errorf("entry %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.ProgressEntry{}, fmt.Errorf("failed to get entry: %w", err)
	}
	var e core.ProgressEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return core.ProgressEntry{}, fmt.Errorf("decode entry %s: %w", id, err)
	}
	return e, nil
}

func (s *Store) ListEntries(ctx context.Context, userID core.UserID, f core.EntryFilter) ([]core.ProgressEntry, error) {
	values, err := s.client.HVals(ctx, userEntriesKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	all := make([]core.ProgressEntry, 0, len(values))
	for _, v := range values {
		var e core.ProgressEntry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			return nil, fmt.Errorf("decode entry: %w", err)
		}
		all = append(all, e)
	}
	return core.ApplyFilter(all, f), nil
}

// AddXP atomically adds delta to the user's XP, clamping at zero.
func (s *Store) AddXP(ctx context.Context, userID core.UserID, delta int64) (int64, error) {
	if delta == 0 {
		return 0, errors.New("delta cannot be zero")
	}

	result, err := addXPScript.Run(ctx, s.client, []string{userXPKey(userID)}, delta).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to add xp: %w", err)
	}

	total, ok := result.(int64)
	if !ok {
		return 0, errors.New("unexpected result type from Redis script")
	}

	s.invalidateStateCache(ctx, userID)
	return total, nil
}

// UnlockAchievement records the unlock with HSETNX, so only the first caller inserts.
func (s *Store) UnlockAchievement(ctx context.Context, userID core.UserID, id core.AchievementID, at time.Time) (bool, error) {
	inserted, err := s.client.HSetNX(ctx, userAchievementsKey(userID), string(id), at.UTC().Format(time.RFC3339Nano)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to unlock achievement: %w", err)
	}
	if inserted {
		s.invalidateStateCache(ctx, userID)
	}
	return inserted, nil
}

func (s *Store) RecordInteraction(ctx context.Context, userID core.UserID, kind core.InteractionKind) (int64, error) {
	n, err := s.client.HIncrBy(ctx, userInteractionsKey(userID), string(kind), 1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to record interaction: %w", err)
	}
	s.invalidateStateCache(ctx, userID)
	return n, nil
}

// GetState retrieves the complete user state, using cache when possible.
// A rebuilt state is cached only if no write bumped the user's version
// since the rebuild started, so a slow reader cannot pin a stale state.
func (s *Store) GetState(ctx context.Context, userID core.UserID) (core.UserState, error) {
	cached, err := s.getCachedState(ctx, userID)
	if err == nil {
		return cached, nil
	}

	state, version, err := s.buildStateFromKeys(ctx, userID)
	if err != nil {
		return core.UserState{}, err
	}
	if version == "" {
		// never written: nothing worth caching
		return state, nil
	}
	if s.beforeCacheFill != nil {
		s.beforeCacheFill()
	}

	// Update cache (best-effort); keep it synchronous for determinism.
	ctxCache, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	_ = s.updateStateCache(ctxCache, userID, version, state)

	return state, nil
}

func (s *Store) AddTodo(ctx context.Context, t core.Todo) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode todo: %w", err)
	}
	added, err := s.client.HSetNX(ctx, userTodosKey(t.UserID), t.ID, data).Result()
	if err != nil {
		return fmt.Errorf("failed to add todo: %w", err)
	}
	if !added {
		return fmt.Errorf("todo %s: %w", t.ID, core.ErrConflict)
	}
	return nil
}

func (s *Store) UpdateTodo(ctx context.Context, t core.Todo) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode todo: %w", err)
	}
	n, err := replaceFieldScript.Run(ctx, s.client, []string{userTodosKey(t.UserID)}, t.ID, data).Int64()
	if err != nil {
		return fmt.Errorf("failed to update todo: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("todo %s: %w", t.ID, core.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteTodo(ctx context.Context, userID core.UserID, id string) error {
	n, err := s.client.HDel(ctx, userTodosKey(userID), id).Result()
	if err != nil {
		return fmt.Errorf("failed to delete todo: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("todo %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (s *Store) GetTodo(ctx context.Context, userID core.UserID, id string) (core.Todo, error) {
	var t core.Todo
	if err := s.hgetJSON(ctx, userTodosKey(userID), id, &t); err != nil {
		return core.Todo{}, fmt.Errorf("todo %s: %w", id, err)
	}
	return t, nil
}

func (s *Store) ListTodos(ctx context.Context, userID core.UserID, status core.TodoStatus) ([]core.Todo, error) {
	all, err := hvalsJSON[core.Todo](ctx, s.client, userTodosKey(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to list todos: %w", err)
	}
	out := all[:0]
	for _, t := range all {
		if status == "" || t.Status == status {
			out = append(out, t)
		}
	}
	core.SortTodos(out)
	return out, nil
}

func (s *Store) AddComment(ctx context.Context, c core.Comment) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode comment: %w", err)
	}
	added, err := s.client.HSetNX(ctx, entryCommentsKey(c.EntryRef), c.ID, data).Result()
	if err != nil {
		return fmt.Errorf("failed to add comment: %w", err)
	}
	if !added {
		return fmt.Errorf("comment %s: %w", c.ID, core.ErrConflict)
	}
	return nil
}

func (s *Store) UpdateComment(ctx context.Context, c core.Comment) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode comment: %w", err)
	}
	n, err := replaceFieldScript.Run(ctx, s.client, []string{entryCommentsKey(c.EntryRef)}, c.ID, data).Int64()
	if err != nil {
		return fmt.Errorf("failed to update comment: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("comment %s: %w", c.ID, core.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteComment(ctx context.Context, ref core.EntryRef, id string) error {
	n, err := s.client.HDel(ctx, entryCommentsKey(ref), id).Result()
	if err != nil {
		return fmt.Errorf("failed to delete comment: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("comment %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (s *Store) GetComment(ctx context.Context, ref core.EntryRef, id string) (core.Comment, error) {
	var c core.Comment
	if err := s.hgetJSON(ctx, entryCommentsKey(ref), id, &c); err != nil {
		return core.Comment{}, fmt.Errorf("comment %s: %w", id, err)
	}
	return c, nil
}

func (s *Store) ListComments(ctx context.Context, ref core.EntryRef) ([]core.Comment, error) {
	out, err := hvalsJSON[core.Comment](ctx, s.client, entryCommentsKey(ref))
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	core.SortComments(out)
	return out, nil
}

// AddReaction relies on HSETNX, so only the first caller inserts.
func (s *Store) AddReaction(ctx context.Context, r core.Reaction) (bool, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return false, fmt.Errorf("encode reaction: %w", err)
	}
	added, err := s.client.HSetNX(ctx, entryReactionsKey(r.EntryRef), reactionField(r.User, r.Type), data).Result()
	if err != nil {
		return false, fmt.Errorf("failed to add reaction: %w", err)
	}
	return added, nil
}

func (s *Store) RemoveReaction(ctx context.Context, ref core.EntryRef, user core.UserID, typ string) (bool, error) {
	n, err := s.client.HDel(ctx, entryReactionsKey(ref), reactionField(user, typ)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to remove reaction: %w", err)
	}
	return n == 1, nil
}

func (s *Store) ListReactions(ctx context.Context, ref core.EntryRef) ([]core.Reaction, error) {
	out, err := hvalsJSON[core.Reaction](ctx, s.client, entryReactionsKey(ref))
	if err != nil {
		return nil, fmt.Errorf("failed to list reactions: %w", err)
	}
	core.SortReactions(out)
	return out, nil
}

// hgetJSON decodes one hash field into dst, mapping a missing field to core.ErrNotFound.
func (s *Store) hgetJSON(ctx context.Context, key, field string, dst any) error {
	data, err := s.client.HGet(ctx, key, field).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

func hvalsJSON[T any](ctx context.Context, client *redis.Client, key string) ([]T, error) {
	values, err := client.HVals(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(values))
	for _, v := range values {
		var item T
		if err := json.Unmarshal([]byte(v), &item); err != nil {
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		out = append(out, item)
	}
	return out, nil
}

// SnapshotXP returns the XP total of every user, scanning user:*:xp keys.
func (s *Store) SnapshotXP(ctx context.Context) (map[core.UserID]int64, error) {
	out := map[core.UserID]int64{}
	iter := s.client.Scan(ctx, 0, "user:*:xp", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		parts := redisKeyParts(key)
		if len(parts) != 3 || parts[2] != "xp" {
			continue
		}
		val, err := s.client.Get(ctx, key).Int64()
		if err != nil {
			continue
		}
		out[core.UserID(parts[1])] = val
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan xp keys: %w", err)
	}
	return out, nil
}

// getCachedState attempts to retrieve the cached user state
func (s *Store) getCachedState(ctx context.Context, userID core.UserID) (core.UserState, error) {
	data, err := s.client.Get(ctx, userStateKey(userID)).Bytes()
	if err != nil {
		return core.UserState{}, err
	}

	var state core.UserState
	if err := json.Unmarshal(data, &state); err != nil {
		return core.UserState{}, err
	}
	if state.Unlocked == nil {
		state.Unlocked = map[core.AchievementID]time.Time{}
	}
	if state.Interactions == nil {
		state.Interactions = map[core.InteractionKind]int64{}
	}
	return state, nil
}

// updateStateCache stores the user state with a TTL if version is still current.
func (s *Store) updateStateCache(ctx context.Context, userID core.UserID, version string, state core.UserState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	keys := []string{userVersionKey(userID), userStateKey(userID)}
	return cacheStateScript.Run(ctx, s.client, keys, version, data, s.stateTTL.Milliseconds()).Err()
}

// invalidateStateCache bumps the user's version and removes the cached state.
func (s *Store) invalidateStateCache(ctx context.Context, userID core.UserID) {
	_, _ = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, userVersionKey(userID))
		pipe.Del(ctx, userStateKey(userID))
		return nil
	})
}

// buildStateFromKeys reconstructs the user state from individual Redis keys in one round trip.
// The returned version is read first and is empty for users that were never written.
func (s *Store) buildStateFromKeys(ctx context.Context, userID core.UserID) (core.UserState, string, error) {
	state := core.NewUserState(userID)

	pipe := s.client.Pipeline()
	verCmd := pipe.Get(ctx, userVersionKey(userID))
	xpCmd := pipe.Get(ctx, userXPKey(userID))
	achCmd := pipe.HGetAll(ctx, userAchievementsKey(userID))
	intCmd := pipe.HGetAll(ctx, userInteractionsKey(userID))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return core.UserState{}, "", fmt.Errorf("failed to load state: %w", err)
	}

	version, err := verCmd.Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return core.UserState{}, "", fmt.Errorf("failed to read state version: %w", err)
	}

	if xp, err := xpCmd.Int64(); err == nil {
		state.XP = xp
	} else if !errors.Is(err, redis.Nil) {
		return core.UserState{}, "", fmt.Errorf("failed to read xp: %w", err)
	}

	for id, raw := range achCmd.Val() {
		at, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			continue // skip corrupt entries
		}
		state.Unlocked[core.AchievementID(id)] = at
	}

	for kind, raw := range intCmd.Val() {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		state.Interactions[core.InteractionKind(kind)] = n
	}

	return state, version, nil
}

// redisKeyParts splits a Redis key by colon separator
func redisKeyParts(key string) []string {
	var parts []string
	current := ""
	for _, r := range key {
		if r == ':' {
			if current != "" {
				parts = append(parts, current)
				current = ""
			}
		} else {
			current += string(r)
		}
	}
	if current != "" {
		parts = append(parts, current)
	}
	return parts
}
