package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const StateFileName = "state.yaml"

// State is the agent identity persisted in the data directory.
type State struct {
	AgentID   string    `yaml:"agent_id"`
	CreatedAt time.Time `yaml:"created_at"`
}

func StatePath(dir string) string {
	return filepath.Join(dir, StateFileName)
}

func LoadState(ctx context.Context, dir string) (State, error) {
	var state State
	path := StatePath(dir)

	data, err := os.ReadFile(path)
	if err != nil {
		return state, fmt.Errorf("read state file %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &state); err != nil {
		return state, fmt.Errorf("parse state file %q: %w", path, err)
	}

	return state, nil
}

func SaveState(ctx context.Context, dir string, state State) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("ensure state dir %q: %w", dir, err)
	}

	path := StatePath(dir)
	data, err := yaml.Marshal(&state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp state file %q: %w", tmp, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit state file %q: %w", path, err)
	}

	return nil
}

// EnsureState loads the agent state, creating it with a fresh agent ID on
// first run.
func EnsureState(ctx context.Context, dir string, now time.Time) (State, error) {
	state, err := LoadState(ctx, dir)
	if err == nil && state.AgentID != "" {
		return state, nil
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return State{}, err
	}

	state = State{
		AgentID:   uuid.NewString(),
		CreatedAt: now.UTC(),
	}
	if err := SaveState(ctx, dir, state); err != nil {
		return State{}, err
	}
	return state, nil
}
