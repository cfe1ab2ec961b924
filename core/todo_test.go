package core

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseTodoStatus(t *testing.T) {
	cases := map[string]TodoStatus{
		"":          TodoUpcoming,
		"pending":   TodoUpcoming,
		"Upcoming":  TodoUpcoming,
		" ongoing ": TodoOngoing,
		"completed": TodoCompleted,
	}
	for in, want := range cases {
		got, err := ParseTodoStatus(in)
		if err != nil || got != want {
			t.Fatalf("ParseTodoStatus(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseTodoStatus("done"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("unknown status should fail, got %v", err)
	}
	if _, err := ParseTodoPriority("urgent"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("unknown priority should fail, got %v", err)
	}
}

func TestTodoInputBuildsTodo(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	due := MustParseDate("2024-05-10")
	todo, err := TodoInput{Title: "  Ship it ", Status: "pending", Priority: "HIGH", DueDate: &due}.Todo("t1", "alice", now)
	if err != nil {
		t.Fatal(err)
	}
	if todo.Title != "Ship it" || todo.Status != TodoUpcoming || todo.Priority != PriorityHigh {
		t.Fatalf("unexpected todo: %+v", todo)
	}
	if todo.DueDate == nil || *todo.DueDate != due || !todo.CreatedAt.Equal(now) {
		t.Fatalf("unexpected dates: %+v", todo)
	}
	due = MustParseDate("2030-01-01")
	if todo.DueDate.String() != "2024-05-10" {
		t.Fatal("todo aliases input due date")
	}

	if _, err := (TodoInput{Title: "   "}).Todo("t2", "alice", now); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("blank title should fail, got %v", err)
	}
	if _, err := (TodoInput{Title: strings.Repeat("x", MaxTodoTitle+1)}).Todo("t3", "alice", now); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("long title should fail, got %v", err)
	}
}

func TestTodoApply(t *testing.T) {
	due := MustParseDate("2024-05-10")
	base := Todo{ID: "t1", Title: "old", Status: TodoUpcoming, DueDate: &due}
	status, title := "completed", "new"
	later := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)

	out, err := base.Apply(TodoPatch{Title: &title, Status: &status, ClearDueDate: true}, later)
	if err != nil {
		t.Fatal(err)
	}
	if out.Title != "new" || out.Status != TodoCompleted || out.DueDate != nil || !out.UpdatedAt.Equal(later) {
		t.Fatalf("unexpected patched todo: %+v", out)
	}
	if base.DueDate == nil || base.Title != "old" {
		t.Fatal("patch mutated original todo")
	}

	bad := "someday"
	if _, err := base.Apply(TodoPatch{Status: &bad}, later); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("bad status should fail, got %v", err)
	}
}

func TestSortTodosNewestFirst(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	todos := []Todo{{ID: "a", CreatedAt: t0}, {ID: "c", CreatedAt: t0.Add(time.Hour)}, {ID: "b", CreatedAt: t0}}
	SortTodos(todos)
	if todos[0].ID != "c" || todos[1].ID != "b" || todos[2].ID != "a" {
		t.Fatalf("unexpected order: %v", todos)
	}
}

func TestCommentContentAndReactionType(t *testing.T) {
	if c, err := CommentContent("  nice work  "); err != nil || c != "nice work" {
		t.Fatalf("CommentContent = %q, %v", c, err)
	}
	if _, err := CommentContent(" \n "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("blank comment should fail, got %v", err)
	}
	if _, err := CommentContent(strings.Repeat("é", MaxCommentLength+1)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("long comment should fail, got %v", err)
	}
	for _, r := range DefaultReactionTypes {
		if _, err := ReactionType(r); err != nil {
			t.Fatalf("stock reaction %q rejected: %v", r, err)
		}
	}
	if _, err := ReactionType(""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty reaction should fail, got %v", err)
	}
}

func TestGroupReactions(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rs := []Reaction{
		{User: "bob", Type: "🔥", CreatedAt: t0.Add(time.Minute)},
		{User: "carol", Type: "👍", CreatedAt: t0},
		{User: "alice", Type: "🔥", CreatedAt: t0},
	}
	SortReactions(rs)
	groups := GroupReactions(rs)
	if len(groups) != 2 || len(groups["🔥"]) != 2 || groups["🔥"][0].User != "alice" || groups["👍"][0].User != "carol" {
		t.Fatalf("unexpected groups: %+v", groups)
	}
}
