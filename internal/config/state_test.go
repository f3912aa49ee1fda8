package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestSaveAndLoadState(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	state := State{
		AgentID:   "agt_123",
		CreatedAt: time.Unix(1730000000, 0).UTC(),
	}

	if err := SaveState(ctx, dir, state); err != nil {
		t.Fatalf("SaveState returned error: %v", err)
	}

	info, err := os.Stat(StatePath(dir))
	if err != nil {
		t.Fatalf("stat state file: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("unexpected perms: %v", perm)
	}

	loaded, err := LoadState(ctx, dir)
	if err != nil {
		t.Fatalf("LoadState returned error: %v", err)
	}
	if loaded.AgentID != state.AgentID {
		t.Fatalf("expected agent_id %q got %q", state.AgentID, loaded.AgentID)
	}
	if !loaded.CreatedAt.Equal(state.CreatedAt) {
		t.Fatalf("expected created_at %s got %s", state.CreatedAt, loaded.CreatedAt)
	}
}

func TestEnsureStateCreatesOnce(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	now := time.Unix(1730000000, 0)

	first, err := EnsureState(ctx, dir, now)
	if err != nil {
		t.Fatalf("EnsureState returned error: %v", err)
	}
	if _, err := uuid.Parse(first.AgentID); err != nil {
		t.Fatalf("expected uuid agent id got %q: %v", first.AgentID, err)
	}

	second, err := EnsureState(ctx, dir, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("EnsureState returned error: %v", err)
	}
	if second.AgentID != first.AgentID {
		t.Fatalf("agent id changed between runs: %s -> %s", first.AgentID, second.AgentID)
	}
	if !second.CreatedAt.Equal(now.UTC()) {
		t.Fatalf("created_at rewritten: %s", second.CreatedAt)
	}
}

func TestEnsureStateRejectsCorruptFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	if err := os.WriteFile(StatePath(dir), []byte("agent_id: [unterminated"), 0o600); err != nil {
		t.Fatalf("write state: %v", err)
	}
	if _, err := EnsureState(ctx, dir, time.Now()); err == nil {
		t.Fatalf("expected parse error for corrupt state")
	}
}
