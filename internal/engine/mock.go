package engine

import (
	"context"
	"strings"
	"sync"
)

// MockEngine is an Engine for tests. Its plan runs a fixed command.
type MockEngine struct {
	mu sync.Mutex

	// EngineName is returned by Name; "mock" when empty.
	EngineName string

	// RunCommand is used as the Run step of every plan.
	RunCommand []string

	// Containers is returned by List.
	Containers []Container

	StopErr   error
	RemoveErr error

	planned []Params
	stopped []Params
	removed []string
}

var (
	_ Engine           = (*MockEngine)(nil)
	_ ContainerManager = (*MockEngine)(nil)
)

// NewMockEngine returns a MockEngine.
func NewMockEngine() *MockEngine {
	return &MockEngine{RunCommand: []string{"mock-server"}}
}

func (m *MockEngine) Name() string {
	if m.EngineName == "" {
		return "mock"
	}
	return m.EngineName
}

func (m *MockEngine) Plan(p Params) Plan {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.planned = append(m.planned, p)
	return Plan{Run: append(append([]string(nil), m.RunCommand...), p.ServerArgs...)}
}

func (m *MockEngine) Stop(ctx context.Context, p Params) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = append(m.stopped, p)
	return m.StopErr
}

func (m *MockEngine) List(ctx context.Context, prefix string) ([]Container, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Container
	for _, c := range m.Containers {
		if strings.HasPrefix(c.Name, prefix) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MockEngine) Remove(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, name)
	return m.RemoveErr
}

// Planned returns the parameters of every Plan call.
func (m *MockEngine) Planned() []Params {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Params(nil), m.planned...)
}

// Stopped returns the parameters of every Stop call.
func (m *MockEngine) Stopped() []Params {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Params(nil), m.stopped...)
}

// Removed returns the names passed to Remove.
func (m *MockEngine) Removed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.removed...)
}
