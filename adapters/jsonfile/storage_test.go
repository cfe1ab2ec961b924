package jsonfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"progresskit/adapters/storagetest"
	"progresskit/core"
)

func TestStoreConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storagetest.Store {
		s, err := New(filepath.Join(t.TempDir(), "state.json"))
		if err != nil {
			t.Fatalf("new store: %v", err)
		}
		return s
	})
}

func TestStorePersistAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "state.json")
	ctx := context.Background()

	store, err := New(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.AddEntry(ctx, storagetest.Entry("alice", "e1", "2024-02-01", "work")); err != nil {
		t.Fatalf("add entry: %v", err)
	}
	if total, err := store.AddXP(ctx, "alice", 50); err != nil || total != 50 {
		t.Fatalf("add xp: total=%d err=%v", total, err)
	}
	at := time.Date(2024, 2, 1, 6, 0, 0, 0, time.UTC)
	if _, err := store.UnlockAchievement(ctx, "alice", core.AchievementEarlyBird, at); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if _, err := store.RecordInteraction(ctx, "alice", core.InteractionComment); err != nil {
		t.Fatalf("interaction: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file to exist: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}

	reloaded, err := New(path)
	if err != nil {
		t.Fatalf("reload store: %v", err)
	}
	st, err := reloaded.GetState(ctx, "alice")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if st.XP != 50 || !st.HasUnlocked(core.AchievementEarlyBird) || st.Interactions[core.InteractionComment] != 1 {
		t.Fatalf("unexpected reloaded state: %+v", st)
	}
	if !st.Unlocked[core.AchievementEarlyBird].Equal(at) {
		t.Fatalf("unlock time not preserved: %v", st.Unlocked[core.AchievementEarlyBird])
	}
	e, err := reloaded.GetEntry(ctx, "alice", "e1")
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if e.Date.String() != "2024-02-01" || len(e.Tags) != 1 || e.Tags[0] != "work" {
		t.Fatalf("unexpected reloaded entry: %+v", e)
	}
	snap, err := reloaded.SnapshotXP(ctx)
	if err != nil || snap["alice"] != 50 {
		t.Fatalf("snapshot: %v %v", snap, err)
	}
}

func TestNewRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(path); err == nil {
		t.Fatal("expected error for corrupt file")
	}
}
