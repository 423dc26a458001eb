// Package store persists registry state between runs.
//
// The state is small: the runtime root, the user-added environments and the
// last discovery result, which lets list reads be served from cache before a
// discovery build finishes.
//
// FileStore writes state.toml atomically (temp file + rename) with
// BurntSushi/toml. MemoryStore keeps the state in process for tests.
package store
