package memory

import (
	"context"
	"testing"

	"progresskit/adapters/storagetest"
	"progresskit/core"
)

func TestMemoryStoreConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storagetest.Store { return New() })
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	e := storagetest.Entry("u", "e1", "2024-01-01", "work")
	if err := s.AddEntry(ctx, e); err != nil {
		t.Fatal(err)
	}
	e.Tags[0] = "mutated"
	got, err := s.GetEntry(ctx, "u", "e1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Tags[0] != "work" {
		t.Fatalf("store shares slices with caller: %v", got.Tags)
	}

	if _, err := s.UnlockAchievement(ctx, "u", core.AchievementFirstStep, got.CreatedAt); err != nil {
		t.Fatal(err)
	}
	st, _ := s.GetState(ctx, "u")
	delete(st.Unlocked, core.AchievementFirstStep)
	st2, _ := s.GetState(ctx, "u")
	if !st2.HasUnlocked(core.AchievementFirstStep) {
		t.Fatal("state snapshot aliases store map")
	}
	if len(s.Users()) != 1 {
		t.Fatalf("expected one user, got %v", s.Users())
	}
}

func TestMemorySnapshotXP(t *testing.T) {
	s := New()
	ctx := context.Background()
	if _, err := s.AddXP(ctx, "a", 30); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddXP(ctx, "b", 5); err != nil {
		t.Fatal(err)
	}
	snap, err := s.SnapshotXP(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snap["a"] != 30 || snap["b"] != 5 || len(snap) != 2 {
		t.Fatalf("unexpected snapshot %v", snap)
	}
}
