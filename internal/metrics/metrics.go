// Package metrics records lifecycle metrics for environments, servers and
// the pool.
package metrics

import (
	"time"
)

// Collector receives lifecycle measurements.
type Collector interface {
	// StateTransition records a session server state change.
	StateTransition(from, to string)

	// ServerRestart records an unexpected exit that triggered a relaunch.
	ServerRestart(engine string)

	// LaunchDuration records how long a start operation took.
	LaunchDuration(engine string, d time.Duration, err error)

	// PoolSize records the number of pool entries.
	PoolSize(total, idle int)

	// DiscoveryDuration records one registry build.
	DiscoveryDuration(d time.Duration, found int)

	// ResolveFailure records a candidate that failed to resolve.
	ResolveFailure(reason string)
}

type noopCollector struct{}

func (noopCollector) StateTransition(from, to string)                          {}
func (noopCollector) ServerRestart(engine string)                              {}
func (noopCollector) LaunchDuration(engine string, d time.Duration, err error) {}
func (noopCollector) PoolSize(total, idle int)                                 {}
func (noopCollector) DiscoveryDuration(d time.Duration, found int)             {}
func (noopCollector) ResolveFailure(reason string)                             {}

// NewNoop returns a Collector that discards everything.
func NewNoop() Collector {
	return noopCollector{}
}
