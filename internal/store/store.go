package store

import (
	"context"
	"maps"
	"slices"
	"sync"
)

const currentSchemaVersion = 1

// Environment is the persisted form of a resolved runtime environment.
type Environment struct {
	Path          string            `toml:"path"`
	Kind          string            `toml:"kind"`
	Name          string            `toml:"name"`
	Versions      map[string]string `toml:"versions,omitempty"`
	DefaultKernel string            `toml:"default_kernel,omitempty"`
}

// State is everything the registry persists.
type State struct {
	Version     int           `toml:"version"`
	RuntimeRoot string        `toml:"runtime_root,omitempty"`
	DefaultPath string        `toml:"default_path,omitempty"`
	UserAdded   []Environment `toml:"user_added,omitempty"`
	Discovered  []Environment `toml:"discovered,omitempty"`
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	out := s
	out.UserAdded = cloneEnvironments(s.UserAdded)
	out.Discovered = cloneEnvironments(s.Discovered)
	return out
}

func cloneEnvironments(in []Environment) []Environment {
	if in == nil {
		return nil
	}
	out := slices.Clone(in)
	for i := range out {
		out[i].Versions = maps.Clone(in[i].Versions)
	}
	return out
}

// Store loads and saves registry state.
type Store interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, state State) error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu    sync.Mutex
	state State
	saves int

	// SaveErr is returned by Save if set.
	SaveErr error
}

// NewMemoryStore returns a MemoryStore seeded with initial.
func NewMemoryStore(initial State) *MemoryStore {
	return &MemoryStore{state: initial.Clone()}
}

func (m *MemoryStore) Load(ctx context.Context) (State, error) {
	if err := ctx.Err(); err != nil {
		return State{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone(), nil
}

func (m *MemoryStore) Save(ctx context.Context, state State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	state.Version = currentSchemaVersion
	m.state = state.Clone()
	m.saves++
	return nil
}

// Saves returns how many times Save succeeded.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
