package core

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// MaxTodoTitle caps the title length in runes.
const MaxTodoTitle = 200

// TodoStatus is the lifecycle stage of a todo.
type TodoStatus string

const (
	TodoUpcoming  TodoStatus = "upcoming"
	TodoOngoing   TodoStatus = "ongoing"
	TodoCompleted TodoStatus = "completed"
)

// ParseTodoStatus accepts the three stages plus "pending" as an alias of upcoming.
// An empty string yields upcoming.
func ParseTodoStatus(s string) (TodoStatus, error) {
	switch st := TodoStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case "", "pending":
		return TodoUpcoming, nil
	case TodoUpcoming, TodoOngoing, TodoCompleted:
		return st, nil
	default:
		return "", fmt.Errorf("%w: unknown todo status %q", ErrInvalidInput, s)
	}
}

// TodoPriority is optional; the empty value means unset.
type TodoPriority string

const (
	PriorityLow    TodoPriority = "low"
	PriorityMedium TodoPriority = "medium"
	PriorityHigh   TodoPriority = "high"
)

func ParseTodoPriority(s string) (TodoPriority, error) {
	switch p := TodoPriority(strings.ToLower(strings.TrimSpace(s))); p {
	case "", PriorityLow, PriorityMedium, PriorityHigh:
		return p, nil
	default:
		return "", fmt.Errorf("%w: unknown todo priority %q", ErrInvalidInput, s)
	}
}

// Todo is a planned task owned by one user.
type Todo struct {
	ID          string       `json:"id"`
	UserID      UserID       `json:"user_id"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	DueDate     *Date        `json:"due_date,omitempty"`
	Status      TodoStatus   `json:"status"`
	Priority    TodoPriority `json:"priority,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Clone returns a copy that shares no pointers with t.
func (t Todo) Clone() Todo {
	cp := t
	if t.DueDate != nil {
		d := *t.DueDate
		cp.DueDate = &d
	}
	return cp
}

// TodoInput carries the caller-supplied fields of a new todo.
type TodoInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	DueDate     *Date  `json:"due_date"`
	Status      string `json:"status"`
	Priority    string `json:"priority"`
}

// Todo validates in and builds the todo it describes.
func (in TodoInput) Todo(id string, user UserID, now time.Time) (Todo, error) {
	title, err := todoTitle(in.Title)
	if err != nil {
		return Todo{}, err
	}
	status, err := ParseTodoStatus(in.Status)
	if err != nil {
		return Todo{}, err
	}
	prio, err := ParseTodoPriority(in.Priority)
	if err != nil {
		return Todo{}, err
	}
	t := Todo{
		ID:          id,
		UserID:      user,
		Title:       title,
		Description: strings.TrimSpace(in.Description),
		Status:      status,
		Priority:    prio,
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
	}
	if in.DueDate != nil && !in.DueDate.IsZero() {
		d := *in.DueDate
		t.DueDate = &d
	}
	return t, nil
}

func todoTitle(raw string) (string, error) {
	title := strings.TrimSpace(raw)
	if title == "" {
		return "", fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if len([]rune(title)) > MaxTodoTitle {
		return "", fmt.Errorf("%w: title longer than %d characters", ErrInvalidInput, MaxTodoTitle)
	}
	return title, nil
}

// TodoPatch edits a todo. Nil fields are left unchanged; ClearDueDate removes the due date.
type TodoPatch struct {
	Title        *string `json:"title,omitempty"`
	Description  *string `json:"description,omitempty"`
	DueDate      *Date   `json:"due_date,omitempty"`
	ClearDueDate bool    `json:"clear_due_date,omitempty"`
	Status       *string `json:"status,omitempty"`
	Priority     *string `json:"priority,omitempty"`
}

// Apply returns a copy of t with the patch applied.
func (t Todo) Apply(p TodoPatch, now time.Time) (Todo, error) {
	out := t.Clone()
	if p.Title != nil {
		title, err := todoTitle(*p.Title)
		if err != nil {
			return Todo{}, err
		}
		out.Title = title
	}
	if p.Description != nil {
		out.Description = strings.TrimSpace(*p.Description)
	}
	switch {
	case p.ClearDueDate:
		out.DueDate = nil
	case p.DueDate != nil && !p.DueDate.IsZero():
		d := *p.DueDate
		out.DueDate = &d
	}
	if p.Status != nil {
		st, err := ParseTodoStatus(*p.Status)
		if err != nil {
			return Todo{}, err
		}
		out.Status = st
	}
	if p.Priority != nil {
		prio, err := ParseTodoPriority(*p.Priority)
		if err != nil {
			return Todo{}, err
		}
		out.Priority = prio
	}
	out.UpdatedAt = now.UTC()
	return out, nil
}

// SortTodos orders todos newest first by creation time, then id.
func SortTodos(todos []Todo) {
	sort.SliceStable(todos, func(i, j int) bool {
		a, b := todos[i], todos[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
}
