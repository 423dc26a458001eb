package system

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// DefaultWaitDelay bounds how long a killed process's output pipes are
// drained when a child it started still holds them.
const DefaultWaitDelay = 5 * time.Second

// osSpawner implements Spawner with os/exec.
type osSpawner struct {
	waitDelay time.Duration
}

func (s *osSpawner) Spawn(c Command) (Process, error) {
	cmd := exec.Command(c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	cmd.WaitDelay = s.waitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = DefaultWaitDelay
	}

	p := &osProcess{cmd: cmd, done: make(chan struct{})}
	cmd.Stdout = &p.stdout
	cmd.Stderr = &p.stderr

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	go p.wait()
	return p, nil
}

// syncBuffer is a bytes.Buffer safe for a writer goroutine and concurrent readers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type osProcess struct {
	cmd    *exec.Cmd
	stdout syncBuffer
	stderr syncBuffer

	mu     sync.Mutex
	status ExitStatus
	exited bool
	done   chan struct{}
}

func (p *osProcess) wait() {
	err := p.cmd.Wait()

	status := ExitStatus{Code: 0}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			status.Err = err
		}
	}
	if ps := p.cmd.ProcessState; ps != nil {
		status.Code = ps.ExitCode()
		if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			status.Signal = ws.Signal().String()
		}
	}

	p.mu.Lock()
	p.status = status
	p.exited = true
	p.mu.Unlock()
	close(p.done)
}

func (p *osProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *osProcess) Done() <-chan struct{} {
	return p.done
}

func (p *osProcess) Status() (ExitStatus, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status, p.exited
}

func (p *osProcess) Stdout() string { return p.stdout.String() }
func (p *osProcess) Stderr() string { return p.stderr.String() }

func (p *osProcess) Kill() error {
	if _, exited := p.Status(); exited {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
