// Package logging provides logging utilities for forage-lab.
//
// Two kinds of output are supported:
//   - Debug logging: structured logs via slog, used by the registry,
//     session servers and the pool
//   - User output: formatted CLI messages
//
// # Debug Logging
//
//	logging.Debug("resolving candidate", "path", path)
//	log := logging.Component("pool")
//	log.Info("server ready", "id", id, "port", port)
//
// # User Output
//
//	logging.UserInfo("Starting server in %s...", workdir)
//	logging.UserSuccess("Server ready at %s", url)
//	logging.UserWarning("No default environment found")
//	logging.UserError("Failed to stop server: %v", err)
//
// UserInfo and UserSuccess write to stdout, UserWarning and UserError to
// stderr. SetUserOutput redirects both for tests.
package logging
