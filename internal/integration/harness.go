package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/app"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/config"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/errors"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/health"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/pool"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/session"
)

// EnvVar enables engine-backed tests.
const EnvVar = "FORAGE_LAB_INTEGRATION_TESTS"

// TestHarness provides utilities for integration testing with real containers.
type TestHarness struct {
	t       *testing.T
	tempDir string
	app     *app.App
	pool    *pool.Pool
}

// NewHarness creates a new test harness.
// It will skip the test if FORAGE_LAB_INTEGRATION_TESTS is not set.
func NewHarness(t *testing.T) *TestHarness {
	t.Helper()

	if os.Getenv(EnvVar) == "" {
		t.Skip("integration tests disabled (set " + EnvVar + "=1 to enable)")
	}

	tempDir := t.TempDir()
	paths := config.NewPaths(
		filepath.Join(tempDir, "config"),
		filepath.Join(tempDir, "state"),
		filepath.Join(tempDir, "tmp"),
	)
	for _, dir := range []string{paths.ConfigDir, paths.StateDir, paths.ScratchDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("Failed to create directory %s: %v", dir, err)
		}
	}

	a, err := app.New(app.WithPaths(paths))
	if err != nil {
		t.Skipf("failed to load settings: %v", err)
	}
	a.Settings.StateDir = paths.StateDir
	a.Settings.ScratchDir = paths.ScratchDir

	if _, err := a.Engine(""); err != nil {
		t.Skipf("no container engine available: %v", err)
	}

	ctx := context.Background()
	reg, err := a.Registry(ctx)
	if err != nil {
		t.Fatalf("Failed to create registry: %v", err)
	}
	if _, err := reg.DefaultEnvironment(ctx); err != nil {
		if errors.Is(err, errors.ErrNoDefaultFound) {
			t.Skip("no usable runtime environment found")
		}
		t.Fatalf("Failed to resolve default environment: %v", err)
	}

	p, err := a.Pool(ctx)
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}

	h := &TestHarness{t: t, tempDir: tempDir, app: a, pool: p}
	t.Cleanup(h.Cleanup)
	return h
}

// App returns the harness application.
func (h *TestHarness) App() *app.App {
	return h.app
}

// Pool returns the harness server pool.
func (h *TestHarness) Pool() *pool.Pool {
	return h.pool
}

// CreateWorkspace creates a working directory
func (h *TestHarness) CreateWorkspace(name string) string {
	h.t.Helper()

	path := filepath.Join(h.tempDir, "workspaces", name)
	if err := os.MkdirAll(path, 0755); err != nil {
		h.t.Fatalf("Failed to create workspace: %v", err)
	}
	return path
}

// StartServer creates a server for dir and waits for it to run.
func (h *TestHarness) StartServer(dir string) session.Info {
	h.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), h.app.Settings.LaunchTimeout+time.Minute)
	defer cancel()

	entry, err := h.pool.CreateServer(ctx, pool.Request{WorkingDirectory: dir})
	if err != nil {
		h.t.Fatalf("CreateServer failed: %v", err)
	}
	info, err := entry.Server.Started(ctx)
	if err != nil {
		h.t.Fatalf("server failed to start: %v", err)
	}
	return info
}

// WaitForServer waits until url answers.
func (h *TestHarness) WaitForServer(url string, timeout time.Duration) {
	h.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := health.WaitUntilUp(ctx, health.NewHTTPClient(), url, health.DefaultPollInterval); err != nil {
		h.t.Fatalf("server at %s not reachable: %v", url, err)
	}
}

// Cleanup stops every server and disposes the registry.
func (h *TestHarness) Cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := h.app.Close(ctx); err != nil {
		h.t.Logf("Warning: cleanup failed: %v", err)
	}
}
