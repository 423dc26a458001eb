//go:build !windows

package system

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOSSpawner_CapturesOutputAndExitCode(t *testing.T) {
	proc, err := DefaultSpawner().Spawn(Command{
		Name: "sh",
		Args: []string{"-c", "echo out; echo err >&2; exit 3"},
	})
	require.NoError(t, err)

	select {
	case <-proc.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("process did not exit")
	}

	status, exited := proc.Status()
	require.True(t, exited)
	assert.Equal(t, 3, status.Code)
	assert.Empty(t, status.Signal)
	assert.Equal(t, "out\n", proc.Stdout())
	assert.Equal(t, "err\n", proc.Stderr())
	assert.Positive(t, proc.Pid())
}

func TestOSSpawner_Kill(t *testing.T) {
	proc, err := DefaultSpawner().Spawn(Command{Name: "sh", Args: []string{"-c", "sleep 30"}})
	require.NoError(t, err)

	require.NoError(t, proc.Kill())
	<-proc.Done()

	status, _ := proc.Status()
	assert.Equal(t, -1, status.Code)
	assert.Equal(t, "killed", status.Signal)
	assert.NoError(t, proc.Kill())
}

func TestOSSpawner_KillWithChildHoldingOutput(t *testing.T) {
	s := &osSpawner{waitDelay: 100 * time.Millisecond}
	proc, err := s.Spawn(Command{Name: "sh", Args: []string{"-c", "sleep 30 & echo started; sleep 30"}})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return proc.Stdout() == "started\n" }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, proc.Kill())
	select {
	case <-proc.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process wait blocked on the orphaned child")
	}
	_, exited := proc.Status()
	assert.True(t, exited)
}

func TestOSSpawner_DirAndEnv(t *testing.T) {
	dir := t.TempDir()
	proc, err := DefaultSpawner().Spawn(Command{
		Name: "sh",
		Args: []string{"-c", "pwd; echo $FORAGE_LAB_TEST"},
		Dir:  dir,
		Env:  []string{"FORAGE_LAB_TEST=yes", "PATH=/usr/bin:/bin"},
	})
	require.NoError(t, err)
	<-proc.Done()

	lines := strings.Split(strings.TrimSpace(proc.Stdout()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], strings.TrimPrefix(dir, "/private"))
	assert.Equal(t, "yes", lines[1])
}

func TestOSExecutor_Run(t *testing.T) {
	res, err := DefaultExecutor().Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", "echo hello; echo oops >&2; exit 2"},
	})
	require.Error(t, err)
	assert.Equal(t, 2, res.ExitCode)
	assert.Equal(t, "hello\n", string(res.Stdout))
	assert.Equal(t, "oops\n", string(res.Stderr))

	out, err := DefaultExecutor().Execute(context.Background(), "sh", "-c", "echo combined")
	require.NoError(t, err)
	assert.Equal(t, "combined\n", string(out))
}
