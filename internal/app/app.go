package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/spf13/viper"

	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/audit"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/config"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/engine"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/environment"
	ferrors "github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/errors"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/health"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/launch"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/logging"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/metrics"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/pool"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/port"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/registry"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/session"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/store"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/system"
)

// EngineFactory returns the engine for a configured name. An empty name
// selects the settings default.
type EngineFactory func(name string) (engine.Engine, error)

// App holds the application dependencies
type App struct {
	Settings *config.Settings
	Paths    *config.Paths

	Exec    system.CommandExecutor
	Spawner system.Spawner
	FS      system.FileSystem
	Prober  health.Prober
	Ports   *port.Allocator
	Audit   *audit.Logger
	Metrics metrics.Collector
	Logger  *slog.Logger

	// UID and GID are handed to container users.
	UID int
	GID int

	viper         *viper.Viper
	explicitPaths bool
	store         store.Store
	engines       EngineFactory
	registryOpts  []registry.Option
	builder       *launch.Builder

	mu       sync.Mutex
	registry *registry.Registry
	pool     *pool.Pool
}

// Option is a function that configures the App
type Option func(*App)

// WithViper loads settings from v instead of a fresh viper instance.
func WithViper(v *viper.Viper) Option {
	return func(a *App) {
		a.viper = v
	}
}

// WithSettings sets already resolved settings, skipping Load.
func WithSettings(s *config.Settings) Option {
	return func(a *App) {
		a.Settings = s
	}
}

// WithPaths sets custom paths
func WithPaths(paths *config.Paths) Option {
	return func(a *App) {
		a.Paths = paths
		a.explicitPaths = true
	}
}

// WithExecutor sets the command executor used for probes and engines.
func WithExecutor(e system.CommandExecutor) Option {
	return func(a *App) {
		a.Exec = e
	}
}

// WithSpawner sets the spawner used for launch scripts.
func WithSpawner(s system.Spawner) Option {
	return func(a *App) {
		a.Spawner = s
	}
}

// WithFileSystem sets the filesystem used for scratch dirs and probing.
func WithFileSystem(fs system.FileSystem) Option {
	return func(a *App) {
		a.FS = fs
	}
}

// WithProber sets the HTTP prober used by servers.
func WithProber(p health.Prober) Option {
	return func(a *App) {
		a.Prober = p
	}
}

// WithStore sets the registry store. The default persists to the state dir.
func WithStore(s store.Store) Option {
	return func(a *App) {
		a.store = s
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m metrics.Collector) Option {
	return func(a *App) {
		a.Metrics = m
	}
}

// WithEngineFactory replaces engine detection.
func WithEngineFactory(f EngineFactory) Option {
	return func(a *App) {
		a.engines = f
	}
}

// WithRegistryOptions appends options applied when the registry is created.
func WithRegistryOptions(opts ...registry.Option) Option {
	return func(a *App) {
		a.registryOpts = append(a.registryOpts, opts...)
	}
}

// New creates a new App with the given options.
func New(opts ...Option) (*App, error) {
	a := &App{
		UID: os.Getuid(),
		GID: os.Getgid(),
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.Paths == nil {
		a.Paths = config.DefaultPaths()
	}
	if a.Settings == nil {
		v := a.viper
		if v == nil {
			v = viper.New()
		}
		settings, err := config.Load(v, a.Paths.ConfigDir)
		if err != nil {
			return nil, ferrors.ConfigError("failed to load settings", err)
		}
		a.Settings = settings
	}
	if !a.explicitPaths {
		a.Paths = a.Paths.WithSettings(a.Settings)
	}

	if a.Exec == nil {
		a.Exec = system.DefaultExecutor()
	}
	if a.Spawner == nil {
		a.Spawner = system.DefaultSpawner()
	}
	if a.FS == nil {
		a.FS = system.DefaultFS()
	}
	if a.Prober == nil {
		a.Prober = health.NewHTTPClient()
	}
	if a.Ports == nil {
		a.Ports = port.NewAllocator(a.Settings.PortRange.From, a.Settings.PortRange.To)
	}
	if a.Audit == nil {
		a.Audit = audit.NewLogger(a.Paths.AuditDir)
	}
	if a.Metrics == nil {
		a.Metrics = metrics.NewNoop()
	}
	if a.Logger == nil {
		a.Logger = logging.Component("app")
	}
	if a.store == nil {
		a.store = store.NewFileStore(a.Paths.StateDir)
	}
	if a.engines == nil {
		a.engines = a.detectEngine
	}

	a.builder = launch.NewBuilder(a.Paths.ScratchDir)
	a.builder.FS = a.FS

	return a, nil
}

func (a *App) detectEngine(name string) (engine.Engine, error) {
	if name == "" {
		name = a.Settings.Engine
	}
	detected, err := engine.NewDetector(a.Settings.TinyRangePath).Detect(name)
	if err != nil {
		return nil, ferrors.ConfigError("no container engine available", err)
	}
	return engine.New(detected, engine.Options{
		Exec:          a.Exec,
		TinyRangePath: a.Settings.TinyRangePath,
	})
}

// Engine returns the engine called name, or the configured default.
func (a *App) Engine(name string) (engine.Engine, error) {
	return a.engines(name)
}

// Requirements returns the runtime requirements derived from settings.
func (a *App) Requirements() ([]environment.VersionRequirement, error) {
	req, err := environment.NewRequirement("jupyterlab", "jupyterlab", []string{"--version"}, a.Settings.MinVersion)
	if err != nil {
		return nil, ferrors.ConfigError("invalid min_version", err)
	}
	return []environment.VersionRequirement{req}, nil
}

// Registry returns the environment registry, creating it on first use.
// Discovery starts in the background when it is created.
func (a *App) Registry(ctx context.Context) (*registry.Registry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.registry != nil {
		return a.registry, nil
	}

	reqs, err := a.Requirements()
	if err != nil {
		return nil, err
	}
	opts := []registry.Option{
		registry.WithExecutor(a.Exec),
		registry.WithFileSystem(a.FS),
		registry.WithStore(a.store),
		registry.WithRequirements(reqs...),
		registry.WithMetrics(a.Metrics),
	}
	a.registry = registry.New(ctx, append(opts, a.registryOpts...)...)
	return a.registry, nil
}

// ServerFactory returns the pool factory that builds session servers from
// the workspace settings of each request.
func (a *App) ServerFactory() pool.Factory {
	return func(req pool.Request) (pool.Server, error) {
		ws, err := a.Settings.ForWorkspace(req.WorkingDirectory)
		if err != nil {
			return nil, err
		}
		ws = ws.Apply(req.Overrides)

		eng, err := a.Engine(ws.Engine)
		if err != nil {
			return nil, err
		}

		return session.New(session.Options{
			Settings:    a.Settings,
			Workspace:   ws,
			Environment: req.Environment,
			Engine:      eng,
			Builder:     a.builder,
			ConfigDir:   a.Paths.DataDir,
			Spawner:     a.Spawner,
			Prober:      a.Prober,
			Ports:       a.Ports,
			FS:          a.FS,
			Events:      a.Audit,
			Metrics:     a.Metrics,
			UID:         a.UID,
			GID:         a.GID,
		})
	}
}

// Pool returns the server pool, creating it and the registry on first use.
func (a *App) Pool(ctx context.Context) (*pool.Pool, error) {
	reg, err := a.Registry(ctx)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pool != nil {
		return a.pool, nil
	}

	p, err := pool.New(pool.Options{
		Factory:          a.ServerFactory(),
		Defaults:         reg,
		WorkingDirectory: a.Settings.Workspace.WorkingDir,
		Metrics:          a.Metrics,
	})
	if err != nil {
		return nil, err
	}
	a.pool = p
	return p, nil
}

// Close disposes the pool, stopping its servers, then the registry.
func (a *App) Close(ctx context.Context) error {
	a.mu.Lock()
	p, reg := a.pool, a.registry
	a.mu.Unlock()

	var errs []error
	if p != nil {
		if err := p.Dispose(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop servers: %w", err))
		}
	}
	if reg != nil {
		if err := reg.Dispose(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to dispose registry: %w", err))
		}
	}
	return errors.Join(errs...)
}
