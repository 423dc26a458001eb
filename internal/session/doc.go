// Package session supervises a single notebook server.
//
// A Server moves through the states
//
//	Idle -> Launching -> AwaitingReady -> Running -> Stopping -> Stopped
//
// and may end in Failed from Launching, AwaitingReady or Running.
//
// Start writes a launch script for the configured engine, spawns it and
// polls the server URL until it answers, the launch timeout expires or the
// process exits. A clean exit before readiness, or any exit once running,
// relaunches the server on the same port and token while the restart budget
// lasts. Start and Stop are single-flight: concurrent callers share one
// operation and one result.
//
// Stop asks the engine to remove the container, posts to the server's
// shutdown endpoint and finally kills the launcher process if it is still
// alive.
package session
