package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/pool"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/session"
)

type fakeWarmer struct {
	mu      sync.Mutex
	calls   int
	lastN   int
	lastReq pool.Request
	created int
	err     error
	entries []pool.Snapshot
}

func (w *fakeWarmer) CreateFreeServersIfNeeded(ctx context.Context, req pool.Request, n int) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	w.lastN = n
	w.lastReq = req
	return w.created, w.err
}

func (w *fakeWarmer) Entries() []pool.Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.entries
}

func (w *fakeWarmer) callCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls
}

func TestMonitor_New(t *testing.T) {
	m := New(30*time.Second, &fakeWarmer{})
	if m.interval != 30*time.Second {
		t.Errorf("interval = %v, want %v", m.interval, 30*time.Second)
	}
	if m.free != 1 {
		t.Errorf("free = %d, want 1", m.free)
	}
}

func TestMonitor_Options(t *testing.T) {
	req := pool.Request{WorkingDirectory: "/work"}
	m := New(time.Minute, &fakeWarmer{}, WithFreeServers(3), WithRequest(req))

	if m.free != 3 {
		t.Errorf("free = %d, want 3", m.free)
	}
	if m.request.WorkingDirectory != "/work" {
		t.Errorf("request working directory = %q, want /work", m.request.WorkingDirectory)
	}
}

func TestMonitor_CheckAll(t *testing.T) {
	w := &fakeWarmer{
		created: 2,
		entries: []pool.Snapshot{
			{ID: 1, Used: true, State: session.StateRunning},
			{ID: 2, State: session.StateRunning},
			{ID: 3, State: session.StateAwaitingReady},
		},
	}
	m := New(time.Second, w, WithFreeServers(2), WithRequest(pool.Request{WorkingDirectory: "/work"}))

	result := m.checkAll(context.Background())
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if result.Created != 2 {
		t.Errorf("Created = %d, want 2", result.Created)
	}
	if result.Total != 3 || result.Idle != 2 || result.Running != 2 {
		t.Errorf("Total/Idle/Running = %d/%d/%d, want 3/2/2", result.Total, result.Idle, result.Running)
	}
	if w.lastN != 2 || w.lastReq.WorkingDirectory != "/work" {
		t.Errorf("warmer called with n=%d req=%+v", w.lastN, w.lastReq)
	}
}

func TestMonitor_CheckAllError(t *testing.T) {
	w := &fakeWarmer{err: errors.New("pool disposed")}
	m := New(time.Second, w)

	result := m.checkAll(context.Background())
	if result.Err == nil {
		t.Error("expected error to be reported")
	}
}

func TestMonitor_CheckAllDisabled(t *testing.T) {
	w := &fakeWarmer{}
	m := New(time.Second, w, WithFreeServers(0))

	m.checkAll(context.Background())
	if w.callCount() != 0 {
		t.Errorf("warmer called %d times, want 0", w.callCount())
	}
}

func TestMonitor_RunStopsOnCancel(t *testing.T) {
	w := &fakeWarmer{}
	m := New(10*time.Millisecond, w)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for w.callCount() < 3 {
		if time.Now().After(deadline) {
			t.Fatal("monitor did not tick")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
