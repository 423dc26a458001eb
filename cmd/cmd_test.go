package cmd

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/engine"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/logging"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/testutil"
)

// testEnv wraps the shared test environment with captured user output.
type testEnv struct {
	*testutil.TestEnv
	user *bytes.Buffer
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		TestEnv: testutil.NewTestEnv(t),
		user:    &bytes.Buffer{},
	}

	application = env.App
	logging.SetUserOutput(env.user, env.user)
	t.Cleanup(func() {
		application = nil
		logging.SetUserOutput(nil, nil)
	})

	return env
}

func executeCommand(args ...string) (string, string, error) {
	// Reset flag values before each test
	verbose = false
	jsonOutput = false
	envsListCached = false
	pickPlain = false
	auditLogJSON = false

	cmd := rootCmd
	cmd.SetArgs(args)

	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)

	err := cmd.ExecuteContext(context.Background())

	// Reset args for next test
	cmd.SetArgs(nil)
	cmd.SetOut(nil)
	cmd.SetErr(nil)

	return stdout.String(), stderr.String(), err
}

func TestRootCommand_Help(t *testing.T) {
	stdout, _, err := executeCommand("--help")
	if err != nil {
		t.Fatalf("Help command failed: %v", err)
	}

	if !strings.Contains(stdout, "forage-lab") {
		t.Error("Help output should contain 'forage-lab'")
	}

	for _, sub := range []string{"envs", "up", "ps", "down", "audit-log"} {
		if !strings.Contains(stdout, sub) {
			t.Errorf("Help output should list %q", sub)
		}
	}
}

func TestUpCommand_Help(t *testing.T) {
	stdout, _, err := executeCommand("up", "--help")
	if err != nil {
		t.Fatalf("Help command failed: %v", err)
	}

	for _, flag := range []string{"--workdir", "--port", "--prewarm", "--metrics-addr", "--server-args"} {
		if !strings.Contains(stdout, flag) {
			t.Errorf("Up help should mention %s flag", flag)
		}
	}
}

func TestEnvsCommand_Help(t *testing.T) {
	stdout, _, err := executeCommand("envs", "--help")
	if err != nil {
		t.Fatalf("Help command failed: %v", err)
	}

	for _, sub := range []string{"list", "add", "clear", "default", "root", "pick", "external"} {
		if !strings.Contains(stdout, sub) {
			t.Errorf("envs help should list %q", sub)
		}
	}
}

func TestEnvsList_Empty(t *testing.T) {
	env := setupTestEnv(t)

	if _, _, err := executeCommand("envs", "list"); err != nil {
		t.Fatalf("envs list failed: %v", err)
	}
	if !strings.Contains(env.user.String(), "No environments found") {
		t.Errorf("expected empty message, got %q", env.user.String())
	}
}

func TestEnvsRoot_Set(t *testing.T) {
	env := setupTestEnv(t)

	if _, _, err := executeCommand("envs", "root", "/opt/conda"); err != nil {
		t.Fatalf("envs root failed: %v", err)
	}

	state, err := env.Store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if state.RuntimeRoot != "/opt/conda" {
		t.Errorf("RuntimeRoot = %q, want /opt/conda", state.RuntimeRoot)
	}
}

func TestEnvsDefault_UnknownPath(t *testing.T) {
	setupTestEnv(t)

	if _, _, err := executeCommand("envs", "default", "/nowhere/python"); err == nil {
		t.Error("expected error for unknown environment")
	}
}

func TestEnvsPick_Plain(t *testing.T) {
	setupTestEnv(t)

	stdout, _, err := executeCommand("envs", "pick", "--plain")
	if err != nil {
		t.Fatalf("envs pick failed: %v", err)
	}
	if !strings.Contains(stdout, "No environments found") {
		t.Errorf("unexpected output: %q", stdout)
	}
}

func TestPs(t *testing.T) {
	env := setupTestEnv(t)
	env.Engine.Containers = []engine.Container{
		{Name: "neurodeskapp-8888", State: "running", Status: "Up 2 minutes"},
		{Name: "unrelated", State: "running", Status: "Up 1 hour"},
	}

	stdout, _, err := executeCommand("ps")
	if err != nil {
		t.Fatalf("ps failed: %v", err)
	}
	if !strings.Contains(stdout, "neurodeskapp-8888") || !strings.Contains(stdout, "8888") {
		t.Errorf("ps should list the app container, got:\n%s", stdout)
	}
	if strings.Contains(stdout, "unrelated") {
		t.Errorf("ps should only list app containers, got:\n%s", stdout)
	}
}

func TestPs_Empty(t *testing.T) {
	env := setupTestEnv(t)

	if _, _, err := executeCommand("ps"); err != nil {
		t.Fatalf("ps failed: %v", err)
	}
	if !strings.Contains(env.user.String(), "No servers running") {
		t.Errorf("unexpected output: %q", env.user.String())
	}
}

func TestDown(t *testing.T) {
	env := setupTestEnv(t)

	if _, _, err := executeCommand("down", "8888"); err != nil {
		t.Fatalf("down failed: %v", err)
	}

	removed := env.Engine.Removed()
	if len(removed) != 1 || removed[0] != "neurodeskapp-8888" {
		t.Errorf("Removed() = %v, want [neurodeskapp-8888]", removed)
	}

	events, err := env.App.Audit.Events("neurodeskapp-8888")
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	if len(events) != 1 || events[0].Port != 8888 {
		t.Errorf("expected one stop event, got %+v", events)
	}
}

func TestDown_InvalidPort(t *testing.T) {
	setupTestEnv(t)

	for _, arg := range []string{"abc", "0", "70000"} {
		if _, _, err := executeCommand("down", arg); err == nil {
			t.Errorf("down %s should fail", arg)
		}
	}
}

func TestAuditLog(t *testing.T) {
	env := setupTestEnv(t)

	if _, _, err := executeCommand("down", "8890"); err != nil {
		t.Fatalf("down failed: %v", err)
	}

	stdout, _, err := executeCommand("audit-log", "8890")
	if err != nil {
		t.Fatalf("audit-log failed: %v", err)
	}
	if !strings.Contains(stdout, "stopped") || !strings.Contains(stdout, "neurodeskapp-8890") {
		t.Errorf("unexpected output:\n%s", stdout)
	}

	stdout, _, err = executeCommand("audit-log")
	if err != nil {
		t.Fatalf("audit-log failed: %v", err)
	}
	if strings.TrimSpace(stdout) != "neurodeskapp-8890" {
		t.Errorf("server list = %q", stdout)
	}

	env.user.Reset()
	if _, _, err := executeCommand("audit-log", "9999"); err != nil {
		t.Fatalf("audit-log failed: %v", err)
	}
	if !strings.Contains(env.user.String(), "No events found") {
		t.Errorf("unexpected output: %q", env.user.String())
	}
}

func TestContainerPort(t *testing.T) {
	if got := containerPort("neurodeskapp-", "neurodeskapp-8888"); got != "8888" {
		t.Errorf("containerPort() = %q, want 8888", got)
	}
}
