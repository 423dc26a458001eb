// Package testutil provides test fixtures and utilities.
//
// This package contains embedded TOML fixtures and a test environment that
// builds an app.App on mocks.
//
// # Fixtures
//
// Fixtures are embedded using go:embed:
//
//	fixtures/valid_config.toml
//	fixtures/invalid_config.toml
//	fixtures/workspace.toml
//
// Settings fixtures are loaded through config.Load so that they exercise
// the same decoding and validation as the CLI:
//
//	settings := testutil.ValidSettings(t)
//	err := testutil.InvalidSettingsError(t)
//
// # Test Environment
//
//	env := testutil.NewTestEnv(t)
//	env.Engine.Containers = []engine.Container{{Name: "neurodeskapp-8888"}}
//	dir := env.CreateConfiguredWorkspace("project")
//	srv, err := env.App.ServerFactory()(pool.Request{WorkingDirectory: dir})
package testutil
