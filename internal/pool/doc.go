// Package pool keeps a set of notebook servers keyed by working directory
// and runtime path.
//
// Idle entries are pre-warmed servers that nobody uses yet. CreateServer
// prefers an idle entry with the same key over launching a new server, so
// pre-warming hides the cold-start latency of a container launch. Entries
// whose start fails are dropped and never handed out again.
package pool
