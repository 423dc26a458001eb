// Package testutil provides test utilities for command and integration tests
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/app"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/config"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/engine"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/registry"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/store"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/system"
)

// TestEnv holds the test environment
type TestEnv struct {
	T        *testing.T
	TmpDir   string
	Paths    *config.Paths
	Settings *config.Settings
	Engine   *engine.MockEngine
	Store    *store.MemoryStore
	Exec     *system.MockExecutor
	Spawner  *system.MockSpawner
	FS       *system.MockFS
	App      *app.App
}

// NewTestEnv creates a test environment whose app runs on mocks: a mock
// engine, spawner, executor and filesystem, an in-memory registry store
// and an empty discovery list. Extra options are applied last.
func NewTestEnv(t *testing.T, opts ...app.Option) *TestEnv {
	t.Helper()

	tmpDir := t.TempDir()
	paths := config.NewPaths(
		filepath.Join(tmpDir, "config"),
		filepath.Join(tmpDir, "state"),
		filepath.Join(tmpDir, "tmp"),
	)

	for _, dir := range []string{paths.ConfigDir, paths.StateDir, paths.ScratchDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("Failed to create directory %s: %v", dir, err)
		}
	}

	settings := ValidSettings(t)
	settings.StateDir = paths.StateDir
	settings.ScratchDir = paths.ScratchDir

	env := &TestEnv{
		T:        t,
		TmpDir:   tmpDir,
		Paths:    paths,
		Settings: settings,
		Engine:   engine.NewMockEngine(),
		Store:    store.NewMemoryStore(store.State{}),
		Exec:     system.NewMockExecutor(),
		Spawner:  system.NewMockSpawner(),
		FS:       system.NewMockFS(),
	}

	base := []app.Option{
		app.WithSettings(settings),
		app.WithPaths(paths),
		app.WithExecutor(env.Exec),
		app.WithSpawner(env.Spawner),
		app.WithFileSystem(env.FS),
		app.WithStore(env.Store),
		app.WithEngineFactory(func(string) (engine.Engine, error) { return env.Engine, nil }),
		app.WithRegistryOptions(registry.WithEnumerator(registry.StaticEnumerator())),
	}

	a, err := app.New(append(base, opts...)...)
	if err != nil {
		t.Fatalf("Failed to create app: %v", err)
	}
	env.App = a

	return env
}

// CreateWorkspace creates a working directory
func (e *TestEnv) CreateWorkspace(name string) string {
	e.T.Helper()

	path := filepath.Join(e.TmpDir, "workspaces", name)
	if err := os.MkdirAll(path, 0755); err != nil {
		e.T.Fatalf("Failed to create workspace: %v", err)
	}
	return path
}

// CreateConfiguredWorkspace creates a working directory carrying the
// workspace settings fixture.
func (e *TestEnv) CreateConfiguredWorkspace(name string) string {
	e.T.Helper()

	path := e.CreateWorkspace(name)
	WriteFixture(e.T, "workspace.toml", path, ".forage-lab.toml")
	return path
}
