package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"progresskit/core"
)

// Store is a concurrent in-memory Storage implementation.
type Store struct {
	users sync.Map // map[core.UserID]*userRecord
}

// userRecord holds everything owned by one user. Comments and reactions
// live with the owner of the entry they target, keyed by entry id.
type userRecord struct {
	mu        sync.Mutex
	state     core.UserState
	entries   map[string]core.ProgressEntry
	todos     map[string]core.Todo
	comments  map[string]map[string]core.Comment
	reactions map[string]map[reactionKey]core.Reaction
}

type reactionKey struct {
	user core.UserID
	typ  string
}

func New() *Store { return &Store{} }

// getOrCreate is for writers only; readers use lookup so unknown users stay unknown.
func (s *Store) getOrCreate(user core.UserID) *userRecord {
	if rec, ok := s.lookup(user); ok {
		return rec
	}
	rec := &userRecord{
		state:     core.NewUserState(user),
		entries:   map[string]core.ProgressEntry{},
		todos:     map[string]core.Todo{},
		comments:  map[string]map[string]core.Comment{},
		reactions: map[string]map[reactionKey]core.Reaction{},
	}
	actual, _ := s.users.LoadOrStore(user, rec)
	return actual.(*userRecord)
}

func (s *Store) lookup(user core.UserID) (*userRecord, bool) {
	v, ok := s.users.Load(user)
	if !ok {
		return nil, false
	}
	return v.(*userRecord), true
}

func (s *Store) AddEntry(_ context.Context, e core.ProgressEntry) error {
	rec := s.getOrCreate(e.UserID)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if _, exists := rec.entries[e.ID]; exists {
		return fmt.Errorf("entry %s: %w", e.ID, core.ErrConflict)
	}
	rec.entries[e.ID] = e.Clone()
	return nil
}

func (s *Store) UpdateEntry(_ context.Context, e core.ProgressEntry) error {
	rec, ok := s.lookup(e.UserID)
	if !ok {
		return fmt.Errorf("entry %s: %w", e.ID, core.ErrNotFound)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if _, exists := rec.entries[e.ID]; !exists {
		return fmt.Errorf("entry %s: %w", e.ID, core.ErrNotFound)
	}
	rec.entries[e.ID] = e.Clone()
	return nil
}

// DeleteEntry also drops the comments and reactions on the entry.
func (s *Store) DeleteEntry(_ context.Context, user core.UserID, id string) error {
	rec, ok := s.lookup(user)
	if !ok {
		return fmt.Errorf("entry %s: %w", id, core.ErrNotFound)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if _, exists := rec.entries[id]; !exists {
		return fmt.Errorf("entry %s: %w", id, core.ErrNotFound)
	}
	delete(rec.entries, id)
	delete(rec.comments, id)
	delete(rec.reactions, id)
	return nil
}

func (s *Store) GetEntry(_ context.Context, user core.UserID, id string) (core.ProgressEntry, error) {
	rec, ok := s.lookup(user)
	if !ok {
		return core.ProgressEntry{}, fmt.Errorf("entry %s: %w", id, core.ErrNotFound)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	e, ok := rec.entries[id]
	if !ok {
		return core.ProgressEntry{}, fmt.Errorf("entry %s: %w", id, core.ErrNotFound)
	}
	return e.Clone(), nil
}

func (s *Store) ListEntries(_ context.Context, user core.UserID, f core.EntryFilter) ([]core.ProgressEntry, error) {
	rec, ok := s.lookup(user)
	if !ok {
		return []core.ProgressEntry{}, nil
	}
	rec.mu.Lock()
	all := make([]core.ProgressEntry, 0, len(rec.entries))
	for _, e := range rec.entries {
		all = append(all, e)
	}
	rec.mu.Unlock()
	return core.ApplyFilter(all, f), nil
}

func (s *Store) AddXP(_ context.Context, user core.UserID, delta int64) (int64, error) {
	rec := s.getOrCreate(user)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	next, err := core.AddSafe(rec.state.XP, delta)
	if err != nil {
		return 0, err
	}
	rec.state.XP = max(next, 0)
	rec.state.Updated = time.Now().UTC()
	return rec.state.XP, nil
}

func (s *Store) UnlockAchievement(_ context.Context, user core.UserID, id core.AchievementID, at time.Time) (bool, error) {
	rec := s.getOrCreate(user)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if _, done := rec.state.Unlocked[id]; done {
		return false, nil
	}
	rec.state.Unlocked[id] = at.UTC()
	rec.state.Updated = time.Now().UTC()
	return true, nil
}

func (s *Store) RecordInteraction(_ context.Context, user core.UserID, kind core.InteractionKind) (int64, error) {
	rec := s.getOrCreate(user)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.state.Interactions[kind]++
	rec.state.Updated = time.Now().UTC()
	return rec.state.Interactions[kind], nil
}

func (s *Store) GetState(_ context.Context, user core.UserID) (core.UserState, error) {
	rec, ok := s.lookup(user)
	if !ok {
		return core.NewUserState(user), nil
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.state.Clone(), nil
}

func (s *Store) AddTodo(_ context.Context, t core.Todo) error {
	rec := s.getOrCreate(t.UserID)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if _, exists := rec.todos[t.ID]; exists {
		return fmt.Errorf("todo %s: %w", t.ID, core.ErrConflict)
	}
	rec.todos[t.ID] = t.Clone()
	return nil
}

func (s *Store) UpdateTodo(_ context.Context, t core.Todo) error {
	rec, ok := s.lookup(t.UserID)
	if !ok {
		return fmt.Errorf("todo %s: %w", t.ID, core.ErrNotFound)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if _, exists := rec.todos[t.ID]; !exists {
		return fmt.Errorf("todo %s: %w", t.ID, core.ErrNotFound)
	}
	rec.todos[t.ID] = t.Clone()
	return nil
}

func (s *Store) DeleteTodo(_ context.Context, user core.UserID, id string) error {
	rec, ok := s.lookup(user)
	if !ok {
		return fmt.Errorf("todo %s: %w", id, core.ErrNotFound)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if _, exists := rec.todos[id]; !exists {
		return fmt.Errorf("todo %s: %w", id, core.ErrNotFound)
	}
	delete(rec.todos, id)
	return nil
}

func (s *Store) GetTodo(_ context.Context, user core.UserID, id string) (core.Todo, error) {
	rec, ok := s.lookup(user)
	if !ok {
		return core.Todo{}, fmt.Errorf("todo %s: %w", id, core.ErrNotFound)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	t, exists := rec.todos[id]
	if !exists {
		return core.Todo{}, fmt.Errorf("todo %s: %w", id, core.ErrNotFound)
	}
	return t.Clone(), nil
}

func (s *Store) ListTodos(_ context.Context, user core.UserID, status core.TodoStatus) ([]core.Todo, error) {
	out := []core.Todo{}
	rec, ok := s.lookup(user)
	if !ok {
		return out, nil
	}
	rec.mu.Lock()
	for _, t := range rec.todos {
		if status == "" || t.Status == status {
			out = append(out, t.Clone())
		}
	}
	rec.mu.Unlock()
	core.SortTodos(out)
	return out, nil
}

func (s *Store) AddComment(_ context.Context, c core.Comment) error {
	rec := s.getOrCreate(c.Owner)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	byID := rec.comments[c.EntryID]
	if byID == nil {
		byID = map[string]core.Comment{}
		rec.comments[c.EntryID] = byID
	}
	if _, exists := byID[c.ID]; exists {
		return fmt.Errorf("comment %s: %w", c.ID, core.ErrConflict)
	}
	byID[c.ID] = c
	return nil
}

func (s *Store) UpdateComment(_ context.Context, c core.Comment) error {
	rec, ok := s.lookup(c.Owner)
	if !ok {
		return fmt.Errorf("comment %s: %w", c.ID, core.ErrNotFound)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if _, exists := rec.comments[c.EntryID][c.ID]; !exists {
		return fmt.Errorf("comment %s: %w", c.ID, core.ErrNotFound)
	}
	rec.comments[c.EntryID][c.ID] = c
	return nil
}

func (s *Store) DeleteComment(_ context.Context, ref core.EntryRef, id string) error {
	rec, ok := s.lookup(ref.Owner)
	if !ok {
		return fmt.Errorf("comment %s: %w", id, core.ErrNotFound)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if _, exists := rec.comments[ref.EntryID][id]; !exists {
		return fmt.Errorf("comment %s: %w", id, core.ErrNotFound)
	}
	delete(rec.comments[ref.EntryID], id)
	return nil
}

func (s *Store) GetComment(_ context.Context, ref core.EntryRef, id string) (core.Comment, error) {
	rec, ok := s.lookup(ref.Owner)
	if !ok {
		return core.Comment{}, fmt.Errorf("comment %s: %w", id, core.ErrNotFound)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	c, exists := rec.comments[ref.EntryID][id]
	if !exists {
		return core.Comment{}, fmt.Errorf("comment %s: %w", id, core.ErrNotFound)
	}
	return c, nil
}

func (s *Store) ListComments(_ context.Context, ref core.EntryRef) ([]core.Comment, error) {
	out := []core.Comment{}
	rec, ok := s.lookup(ref.Owner)
	if !ok {
		return out, nil
	}
	rec.mu.Lock()
	for _, c := range rec.comments[ref.EntryID] {
		out = append(out, c)
	}
	rec.mu.Unlock()
	core.SortComments(out)
	return out, nil
}

func (s *Store) AddReaction(_ context.Context, r core.Reaction) (bool, error) {
	rec := s.getOrCreate(r.Owner)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	byKey := rec.reactions[r.EntryID]
	if byKey == nil {
		byKey = map[reactionKey]core.Reaction{}
		rec.reactions[r.EntryID] = byKey
	}
	k := reactionKey{user: r.User, typ: r.Type}
	if _, exists := byKey[k]; exists {
		return false, nil
	}
	byKey[k] = r
	return true, nil
}

func (s *Store) RemoveReaction(_ context.Context, ref core.EntryRef, user core.UserID, typ string) (bool, error) {
	rec, ok := s.lookup(ref.Owner)
	if !ok {
		return false, nil
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	k := reactionKey{user: user, typ: typ}
	if _, exists := rec.reactions[ref.EntryID][k]; !exists {
		return false, nil
	}
	delete(rec.reactions[ref.EntryID], k)
	return true, nil
}

func (s *Store) ListReactions(_ context.Context, ref core.EntryRef) ([]core.Reaction, error) {
	out := []core.Reaction{}
	rec, ok := s.lookup(ref.Owner)
	if !ok {
		return out, nil
	}
	rec.mu.Lock()
	for _, r := range rec.reactions[ref.EntryID] {
		out = append(out, r)
	}
	rec.mu.Unlock()
	core.SortReactions(out)
	return out, nil
}

// Users lists every user with stored records.
func (s *Store) Users() []core.UserID {
	var out []core.UserID
	s.users.Range(func(k, _ any) bool {
		out = append(out, k.(core.UserID))
		return true
	})
	return out
}

// SnapshotXP returns the XP total of every user.
func (s *Store) SnapshotXP(_ context.Context) (map[core.UserID]int64, error) {
	out := map[core.UserID]int64{}
	s.users.Range(func(k, v any) bool {
		rec := v.(*userRecord)
		rec.mu.Lock()
		out[k.(core.UserID)] = rec.state.XP
		rec.mu.Unlock()
		return true
	})
	return out, nil
}
