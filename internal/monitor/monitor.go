// Package monitor keeps a pool topped up with pre-warmed servers.
package monitor

import (
	"context"
	"time"

	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/logging"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/pool"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/session"
)

// Warmer is the part of the server pool the monitor drives.
type Warmer interface {
	CreateFreeServersIfNeeded(ctx context.Context, req pool.Request, n int) (int, error)
	Entries() []pool.Snapshot
}

var _ Warmer = (*pool.Pool)(nil)

// CheckResult holds the outcome of one pre-warm pass.
type CheckResult struct {
	Created int
	Total   int
	Idle    int
	Running int
	Err     error
}

// Monitor periodically tops up idle servers.
type Monitor struct {
	interval time.Duration
	pool     Warmer
	request  pool.Request
	free     int
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithRequest sets the key of the servers to pre-warm.
func WithRequest(req pool.Request) Option {
	return func(m *Monitor) {
		m.request = req
	}
}

// WithFreeServers sets how many idle servers to keep.
func WithFreeServers(n int) Option {
	return func(m *Monitor) {
		m.free = n
	}
}

// New creates a new Monitor keeping one idle server by default.
func New(interval time.Duration, p Warmer, opts ...Option) *Monitor {
	m := &Monitor{
		interval: interval,
		pool:     p,
		free:     1,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run starts the pre-warm loop. It blocks until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	logging.Debug("starting pre-warm monitor", "interval", m.interval, "free", m.free)

	// Run an immediate pass, then loop on interval.
	m.checkAll(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Debug("pre-warm monitor stopping")
			return ctx.Err()
		case <-ticker.C:
			m.checkAll(ctx)
		}
	}
}

// checkAll tops up the pool and reports its composition afterwards.
func (m *Monitor) checkAll(ctx context.Context) CheckResult {
	var result CheckResult
	if m.free <= 0 || ctx.Err() != nil {
		return result
	}

	result.Created, result.Err = m.pool.CreateFreeServersIfNeeded(ctx, m.request, m.free)
	if result.Err != nil {
		logging.Warn("pre-warm failed", "error", result.Err)
	} else if result.Created > 0 {
		logging.Debug("pre-warmed servers", "created", result.Created)
	}

	for _, e := range m.pool.Entries() {
		result.Total++
		if !e.Used {
			result.Idle++
		}
		if e.State == session.StateRunning {
			result.Running++
		}
	}
	return result
}
