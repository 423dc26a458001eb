package testutil

import (
	"testing"
	"time"

	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/pool"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/session"
)

func TestValidSettings(t *testing.T) {
	s := ValidSettings(t)

	if s.Engine != "podman" {
		t.Errorf("Engine = %q, want %q", s.Engine, "podman")
	}
	if s.ImageRef() != "vnmd/neurodesktop:2024-05-25" {
		t.Errorf("ImageRef() = %q", s.ImageRef())
	}
	if s.LaunchTimeout != 90*time.Second {
		t.Errorf("LaunchTimeout = %v, want 90s", s.LaunchTimeout)
	}
	if s.PortRange.From != 8800 || s.PortRange.To != 8899 {
		t.Errorf("PortRange = %+v", s.PortRange)
	}
	if s.Workspace.EnvVars["LANG"] != "C.UTF-8" {
		t.Errorf("EnvVars = %v", s.Workspace.EnvVars)
	}
}

func TestInvalidSettings(t *testing.T) {
	if err := InvalidSettingsError(t); err == nil {
		t.Error("invalid fixture should fail validation")
	}
}

func TestLoadFixture_Missing(t *testing.T) {
	if _, err := LoadFixture("nonexistent.toml"); err == nil {
		t.Error("expected error for missing fixture")
	}
}

func TestNewTestEnv(t *testing.T) {
	env := NewTestEnv(t)

	if env.App.Settings != env.Settings {
		t.Error("app should use the fixture settings")
	}
	if env.App.Paths != env.Paths {
		t.Error("app should use the test paths")
	}
}

func TestConfiguredWorkspace(t *testing.T) {
	env := NewTestEnv(t)
	dir := env.CreateConfiguredWorkspace("project")

	ws, err := env.Settings.ForWorkspace(dir)
	if err != nil {
		t.Fatalf("ForWorkspace() error: %v", err)
	}
	if ws.Engine != "docker" || !ws.OverrideDefaults || ws.ExtraDir != "/data/project" {
		t.Errorf("workspace settings not applied: %+v", ws)
	}

	srv, err := env.App.ServerFactory()(pool.Request{WorkingDirectory: dir})
	if err != nil {
		t.Fatalf("factory error: %v", err)
	}
	if srv.State() != session.StateIdle {
		t.Errorf("State() = %v, want idle", srv.State())
	}
	if srv.Info().ExtraDir != "/data/project" {
		t.Errorf("ExtraDir = %q", srv.Info().ExtraDir)
	}
}
