package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"progresskit/core"
)

// Store persists all users to a single JSON file, rewritten atomically on every change.
// Suitable for demos and small deployments.
type Store struct {
	path string
	mu   sync.Mutex
	// in-memory cache for speed
	data map[core.UserID]*record
}

type record struct {
	State   core.UserState                `json:"state"`
	Entries map[string]core.ProgressEntry `json:"entries"`
	Todos   map[string]core.Todo          `json:"todos,omitempty"`
	// Comments and Reactions are keyed by the id of the entry they target.
	Comments  map[string]map[string]core.Comment `json:"comments,omitempty"`
	Reactions map[string][]core.Reaction         `json:"reactions,omitempty"`
}

func newRecord(user core.UserID) *record {
	r := &record{State: core.NewUserState(user)}
	r.fill()
	return r
}

// fill allocates the maps a decoded record may lack.
func (r *record) fill() {
	if r.State.Unlocked == nil {
		r.State.Unlocked = map[core.AchievementID]time.Time{}
	}
	if r.State.Interactions == nil {
		r.State.Interactions = map[core.InteractionKind]int64{}
	}
	if r.Entries == nil {
		r.Entries = map[string]core.ProgressEntry{}
	}
	if r.Todos == nil {
		r.Todos = map[string]core.Todo{}
	}
	if r.Comments == nil {
		r.Comments = map[string]map[string]core.Comment{}
	}
	if r.Reactions == nil {
		r.Reactions = map[string][]core.Reaction{}
	}
}

func New(path string) (*Store, error) {
	s := &Store{path: path, data: map[core.UserID]*record{}}
	if err := s.load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}
	return s, nil
}

func (s *Store) load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var raw map[string]*record
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	for k, v := range raw {
		if v == nil {
			continue
		}
		v.fill()
		s.data[core.UserID(k)] = v
	}
	return nil
}

func (s *Store) persist() error {
	tmp := s.path + ".tmp"
	raw := make(map[string]*record, len(s.data))
	for k, v := range s.data {
		raw[string(k)] = v
	}
	b, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// get returns the user's record, creating it for writers. Readers pass
// create=false and get an empty, unregistered record for unknown users.
func (s *Store) get(user core.UserID, create bool) *record {
	if r, ok := s.data[user]; ok {
		return r
	}
	r := newRecord(user)
	if create {
		s.data[user] = r
	}
	return r
}

// commit persists the change, or unregisters a record created by the failed write.
func (s *Store) commit(user core.UserID, existed bool) error {
	err := s.persist()
	if err != nil && !existed {
		delete(s.data, user)
	}
	return err
}

func (s *Store) AddEntry(_ context.Context, e core.ProgressEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, existed := s.data[e.UserID]
	r := s.get(e.UserID, true)
	if _, exists := r.Entries[e.ID]; exists {
		return fmt.Errorf("entry %s: %w", e.ID, core.ErrConflict)
	}
	r.Entries[e.ID] = e.Clone()
	if err := s.commit(e.UserID, existed); err != nil {
		delete(r.Entries, e.ID)
		return err
	}
	return nil
}

func (s *Store) UpdateEntry(_ context.Context, e core.ProgressEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.get(e.UserID, false)
	old, exists := r.Entries[e.ID]
	if !exists {
		return fmt.Errorf("entry %s: %w", e.ID, core.ErrNotFound)
	}
	r.Entries[e.ID] = e.Clone()
	if err := s.persist(); err != nil {
		r.Entries[e.ID] = old
		return err
	}
	return nil
}

func (s *Store) DeleteEntry(_ context.Context, user core.UserID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.get(user, false)
	old, exists := r.Entries[id]
	if !exists {
		return fmt.Errorf("entry %s: %w", id, core.ErrNotFound)
	}
	comments, reactions := r.Comments[id], r.Reactions[id]
	delete(r.Entries, id)
	delete(r.Comments, id)
	delete(r.Reactions, id)
	if err := s.persist(); err != nil {
		r.Entries[id] = old
		if comments != nil {
			r.Comments[id] = comments
		}
		if reactions != nil {
			r.Reactions[id] = reactions
		}
		return err
	}
	return nil
}

func (s *Store) GetEntry(_ context.Context, user core.UserID, id string) (core.ProgressEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.get(user, false).Entries[id]
	if !ok {
		return core.ProgressEntry{}, fmt.Errorf("entry %s: %w", id, core.ErrNotFound)
	}
	return e.Clone(), nil
}

func (s *Store) ListEntries(_ context.Context, user core.UserID, f core.EntryFilter) ([]core.ProgressEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.get(user, false)
	all := make([]core.ProgressEntry, 0, len(r.Entries))
	for _, e := range r.Entries {
		all = append(all, e)
	}
	return core.ApplyFilter(all, f), nil
}

func (s *Store) AddXP(_ context.Context, user core.UserID, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, existed := s.data[user]
	r := s.get(user, true)
	next, err := core.AddSafe(r.State.XP, delta)
	if err != nil {
		if !existed {
			delete(s.data, user)
		}
		return 0, err
	}
	prev := r.State
	r.State.XP = max(next, 0)
	r.State.Updated = time.Now().UTC()
	if err := s.commit(user, existed); err != nil {
		r.State = prev
		return 0, err
	}
	return r.State.XP, nil
}

func (s *Store) UnlockAchievement(_ context.Context, user core.UserID, id core.AchievementID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, existed := s.data[user]
	r := s.get(user, true)
	if r.State.HasUnlocked(id) {
		return false, nil
	}
	r.State.Unlocked[id] = at.UTC()
	r.State.Updated = time.Now().UTC()
	if err := s.commit(user, existed); err != nil {
		delete(r.State.Unlocked, id)
		return false, err
	}
	return true, nil
}

func (s *Store) RecordInteraction(_ context.Context, user core.UserID, kind core.InteractionKind) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, existed := s.data[user]
	r := s.get(user, true)
	r.State.Interactions[kind]++
	r.State.Updated = time.Now().UTC()
	if err := s.commit(user, existed); err != nil {
		r.State.Interactions[kind]--
		return 0, err
	}
	return r.State.Interactions[kind], nil
}

func (s *Store) GetState(_ context.Context, user core.UserID) (core.UserState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(user, false).State.Clone(), nil
}

func (s *Store) AddTodo(_ context.Context, t core.Todo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, existed := s.data[t.UserID]
	r := s.get(t.UserID, true)
	if _, exists := r.Todos[t.ID]; exists {
		return fmt.Errorf("todo %s: %w", t.ID, core.ErrConflict)
	}
	r.Todos[t.ID] = t.Clone()
	if err := s.commit(t.UserID, existed); err != nil {
		delete(r.Todos, t.ID)
		return err
	}
	return nil
}

func (s *Store) UpdateTodo(_ context.Context, t core.Todo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.get(t.UserID, false)
	old, exists := r.Todos[t.ID]
	if !exists {
		return fmt.Errorf("todo %s: %w", t.ID, core.ErrNotFound)
	}
	r.Todos[t.ID] = t.Clone()
	if err := s.persist(); err != nil {
		r.Todos[t.ID] = old
		return err
	}
	return nil
}

func (s *Store) DeleteTodo(_ context.Context, user core.UserID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.get(user, false)
	old, exists := r.Todos[id]
	if !exists {
		return fmt.Errorf("todo %s: %w", id, core.ErrNotFound)
	}
	delete(r.Todos, id)
	if err := s.persist(); err != nil {
		r.Todos[id] = old
		return err
	}
	return nil
}

func (s *Store) GetTodo(_ context.Context, user core.UserID, id string) (core.Todo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.get(user, false).Todos[id]
	if !ok {
		return core.Todo{}, fmt.Errorf("todo %s: %w", id, core.ErrNotFound)
	}
	return t.Clone(), nil
}

func (s *Store) ListTodos(_ context.Context, user core.UserID, status core.TodoStatus) ([]core.Todo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []core.Todo{}
	for _, t := range s.get(user, false).Todos {
		if status == "" || t.Status == status {
			out = append(out, t.Clone())
		}
	}
	core.SortTodos(out)
	return out, nil
}

func (s *Store) AddComment(_ context.Context, c core.Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, existed := s.data[c.Owner]
	r := s.get(c.Owner, true)
	byID := r.Comments[c.EntryID]
	if byID == nil {
		byID = map[string]core.Comment{}
		r.Comments[c.EntryID] = byID
	}
	if _, exists := byID[c.ID]; exists {
		return fmt.Errorf("comment %s: %w", c.ID, core.ErrConflict)
	}
	byID[c.ID] = c
	if err := s.commit(c.Owner, existed); err != nil {
		delete(byID, c.ID)
		return err
	}
	return nil
}

func (s *Store) UpdateComment(_ context.Context, c core.Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID := s.get(c.Owner, false).Comments[c.EntryID]
	old, exists := byID[c.ID]
	if !exists {
		return fmt.Errorf("comment %s: %w", c.ID, core.ErrNotFound)
	}
	byID[c.ID] = c
	if err := s.persist(); err != nil {
		byID[c.ID] = old
		return err
	}
	return nil
}

func (s *Store) DeleteComment(_ context.Context, ref core.EntryRef, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID := s.get(ref.Owner, false).Comments[ref.EntryID]
	old, exists := byID[id]
	if !exists {
		return fmt.Errorf("comment %s: %w", id, core.ErrNotFound)
	}
	delete(byID, id)
	if err := s.persist(); err != nil {
		byID[id] = old
		return err
	}
	return nil
}

func (s *Store) GetComment(_ context.Context, ref core.EntryRef, id string) (core.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.get(ref.Owner, false).Comments[ref.EntryID][id]
	if !ok {
		return core.Comment{}, fmt.Errorf("comment %s: %w", id, core.ErrNotFound)
	}
	return c, nil
}

func (s *Store) ListComments(_ context.Context, ref core.EntryRef) ([]core.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []core.Comment{}
	for _, c := range s.get(ref.Owner, false).Comments[ref.EntryID] {
		out = append(out, c)
	}
	core.SortComments(out)
	return out, nil
}

func (s *Store) AddReaction(_ context.Context, rc core.Reaction) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, existed := s.data[rc.Owner]
	r := s.get(rc.Owner, true)
	prev := r.Reactions[rc.EntryID]
	for _, have := range prev {
		if have.User == rc.User && have.Type == rc.Type {
			return false, nil
		}
	}
	r.Reactions[rc.EntryID] = append(append([]core.Reaction(nil), prev...), rc)
	if err := s.commit(rc.Owner, existed); err != nil {
		r.Reactions[rc.EntryID] = prev
		return false, err
	}
	return true, nil
}

func (s *Store) RemoveReaction(_ context.Context, ref core.EntryRef, user core.UserID, typ string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.get(ref.Owner, false)
	prev := r.Reactions[ref.EntryID]
	kept := make([]core.Reaction, 0, len(prev))
	for _, have := range prev {
		if have.User != user || have.Type != typ {
			kept = append(kept, have)
		}
	}
	if len(kept) == len(prev) {
		return false, nil
	}
	r.Reactions[ref.EntryID] = kept
	if err := s.persist(); err != nil {
		r.Reactions[ref.EntryID] = prev
		return false, err
	}
	return true, nil
}

func (s *Store) ListReactions(_ context.Context, ref core.EntryRef) ([]core.Reaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]core.Reaction{}, s.get(ref.Owner, false).Reactions[ref.EntryID]...)
	core.SortReactions(out)
	return out, nil
}

// SnapshotXP returns the XP total of every stored user.
func (s *Store) SnapshotXP(_ context.Context) (map[core.UserID]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[core.UserID]int64, len(s.data))
	for user, r := range s.data {
		out[user] = r.State.XP
	}
	return out, nil
}
