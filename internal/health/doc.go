// Package health probes notebook servers over HTTP.
//
// A server is up when a GET of its URL answers with a status between 200
// and 399. WaitUntilUp polls at a fixed pace set by a token-bucket limiter
// until the server is up or the context ends. Shutdown posts to the
// server's /api/shutdown endpoint using the server token as credential.
package health
