// Package app provides the application context for forage-lab.
//
// This package wires settings, paths and the long-lived services the CLI
// commands share, using the functional options pattern so that tests can
// replace any of them.
//
// # App Context
//
// The App struct holds core dependencies:
//
//	type App struct {
//	    Settings *config.Settings  // Resolved settings
//	    Paths    *config.Paths     // Config, state and scratch dirs
//	    Exec     system.CommandExecutor
//	    Spawner  system.Spawner
//	    Metrics  metrics.Collector
//	    ...
//	}
//
// The registry and pool are created on first use and disposed by Close.
//
// # Creating an App
//
// Use New with functional options:
//
//	// Production usage
//	a, err := app.New(app.WithViper(v))
//
//	// Testing with custom dependencies
//	a, err := app.New(
//	    app.WithSettings(settings),
//	    app.WithPaths(testPaths),
//	    app.WithStore(store.NewMemoryStore(store.State{})),
//	    app.WithEngineFactory(func(string) (engine.Engine, error) { return mock, nil }),
//	)
package app
