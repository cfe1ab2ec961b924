package engine

import (
	"context"
	"fmt"

	"progresskit/core"
)

// CreateTodo stores a new todo for user. Todos carry no XP.
func (s *ProgressService) CreateTodo(ctx context.Context, user core.UserID, in core.TodoInput) (core.Todo, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return core.Todo{}, err
	}
	t, err := in.Todo(s.newID(), normalized, s.now())
	if err != nil {
		return core.Todo{}, err
	}
	if err := s.storage.AddTodo(ctx, t); err != nil {
		return core.Todo{}, fmt.Errorf("store todo: %w", err)
	}
	return t, nil
}

func (s *ProgressService) UpdateTodo(ctx context.Context, user core.UserID, id string, p core.TodoPatch) (core.Todo, error) {
	t, err := s.GetTodo(ctx, user, id)
	if err != nil {
		return core.Todo{}, err
	}
	updated, err := t.Apply(p, s.now())
	if err != nil {
		return core.Todo{}, err
	}
	if err := s.storage.UpdateTodo(ctx, updated); err != nil {
		return core.Todo{}, fmt.Errorf("update todo: %w", err)
	}
	return updated, nil
}

func (s *ProgressService) DeleteTodo(ctx context.Context, user core.UserID, id string) error {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return err
	}
	return s.storage.DeleteTodo(ctx, normalized, id)
}

func (s *ProgressService) GetTodo(ctx context.Context, user core.UserID, id string) (core.Todo, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return core.Todo{}, err
	}
	return s.storage.GetTodo(ctx, normalized, id)
}

// ListTodos returns the user's todos newest first. A non-empty status narrows
// the list and accepts the same aliases as todo input.
func (s *ProgressService) ListTodos(ctx context.Context, user core.UserID, status string) ([]core.Todo, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return nil, err
	}
	var st core.TodoStatus
	if status != "" {
		if st, err = core.ParseTodoStatus(status); err != nil {
			return nil, err
		}
	}
	return s.storage.ListTodos(ctx, normalized, st)
}
