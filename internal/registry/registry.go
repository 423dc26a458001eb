package registry

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc/iter"

	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/config"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/environment"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/errors"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/flight"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/logging"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/metrics"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/store"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/system"
)

// DefaultRequirements returns the requirements a runtime must meet to host
// a notebook server.
func DefaultRequirements() []environment.VersionRequirement {
	return []environment.VersionRequirement{
		environment.MustRequirement("jupyterlab", "jupyterlab", []string{"--version"}, ">=3.0.0"),
	}
}

// Registry discovers, validates and caches runtime environments.
type Registry struct {
	resolver *environment.Resolver
	store    store.Store
	enum     Enumerator
	metrics  metrics.Collector
	logger   *slog.Logger
	goos     string

	mu           sync.Mutex
	discovered   []*environment.RuntimeEnvironment
	userAdded    []*environment.RuntimeEnvironment
	environments []*environment.RuntimeEnvironment
	cached       []*environment.RuntimeEnvironment
	defaultEnv   *environment.RuntimeEnvironment
	defaultPath  string
	runtimeRoot  string
	storedUser   []string
	built        *flight.Future[struct{}]
	disposing    bool
	disposed     bool
	subscribers  map[int]func()
	nextSub      int
}

type options struct {
	exec     system.CommandExecutor
	fs       system.FileSystem
	store    store.Store
	enum     Enumerator
	reqs     []environment.VersionRequirement
	metrics  metrics.Collector
	logger   *slog.Logger
	goos     string
	environ  func() []string
	explicit bool
}

// Option configures a Registry.
type Option func(*options)

// WithExecutor sets the executor used to run probes.
func WithExecutor(e system.CommandExecutor) Option {
	return func(o *options) { o.exec = e }
}

// WithFileSystem sets the file system used for existence checks.
func WithFileSystem(fs system.FileSystem) Option {
	return func(o *options) { o.fs = fs }
}

// WithStore sets the persistence backend.
func WithStore(s store.Store) Option {
	return func(o *options) { o.store = s }
}

// WithEnumerator replaces platform discovery.
func WithEnumerator(e Enumerator) Option {
	return func(o *options) { o.enum = e }
}

// WithRequirements replaces DefaultRequirements.
func WithRequirements(reqs ...environment.VersionRequirement) Option {
	return func(o *options) {
		o.reqs = reqs
		o.explicit = true
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m metrics.Collector) Option {
	return func(o *options) { o.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithPlatform overrides the target GOOS.
func WithPlatform(goos string) Option {
	return func(o *options) { o.goos = goos }
}

// WithEnviron sets the base environment of probe processes.
func WithEnviron(fn func() []string) Option {
	return func(o *options) { o.environ = fn }
}

// New creates a registry and starts discovery in the background. The
// stored runtime root, if any, is resolved before New returns so that it
// can serve as the default without waiting for discovery.
func New(ctx context.Context, opts ...Option) *Registry {
	o := options{
		exec:    system.DefaultExecutor(),
		fs:      system.DefaultFS(),
		store:   store.NewMemoryStore(store.State{}),
		metrics: metrics.NewNoop(),
		logger:  logging.Component("registry"),
		goos:    runtime.GOOS,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if !o.explicit {
		o.reqs = DefaultRequirements()
	}

	resolverOpts := []environment.ResolverOption{
		environment.WithExecutor(o.exec),
		environment.WithFileSystem(o.fs),
		environment.WithPlatform(o.goos),
	}
	if o.environ != nil {
		resolverOpts = append(resolverOpts, environment.WithEnviron(o.environ))
	}

	r := &Registry{
		resolver:    environment.NewResolver(o.reqs, resolverOpts...),
		store:       o.store,
		enum:        o.enum,
		metrics:     o.metrics,
		logger:      o.logger,
		goos:        o.goos,
		subscribers: make(map[int]func()),
	}

	state, err := r.store.Load(ctx)
	if err != nil {
		r.logger.Warn("failed to load registry state", "error", err)
	}
	r.runtimeRoot = state.RuntimeRoot
	r.defaultPath = state.DefaultPath
	for _, rec := range state.UserAdded {
		r.storedUser = append(r.storedUser, rec.Path)
	}
	r.cached = append(fromRecords(state.UserAdded), fromRecords(state.Discovered)...)

	if r.enum == nil {
		pe := NewPlatformEnumerator(r.runtimeRoot)
		pe.FS = o.fs
		pe.GOOS = o.goos
		r.enum = pe
	}

	if r.runtimeRoot != "" {
		exe := RootExecutable(r.goos, r.runtimeRoot)
		if env, err := r.resolve(ctx, environment.Candidate{Path: exe, Kind: environment.ManagerRoot}); err == nil {
			r.defaultEnv = env
		} else {
			r.logger.Debug("runtime root is not usable", "path", exe, "error", err)
		}
	}

	buildCtx := context.WithoutCancel(ctx)
	r.built = flight.Go(func() (struct{}, error) {
		r.build(buildCtx)
		return struct{}{}, nil
	})

	return r
}

// Requirements returns the requirements environments are validated against.
func (r *Registry) Requirements() []environment.VersionRequirement {
	return slices.Clone(r.resolver.Requirements())
}

// Built is closed once the discovery build has finished.
func (r *Registry) Built() <-chan struct{} {
	return r.built.Done()
}

// resolve probes a candidate and checks it against the requirements.
func (r *Registry) resolve(ctx context.Context, c environment.Candidate) (*environment.RuntimeEnvironment, error) {
	r.mu.Lock()
	disposing := r.disposing
	r.mu.Unlock()
	if disposing {
		return nil, errors.Disposed("registry")
	}

	env, err := r.resolver.ResolveCandidate(ctx, c)
	if err != nil {
		return nil, err
	}
	if why := environment.Unsatisfied(env, r.resolver.Requirements()); why != "" {
		return nil, errors.Incompatible(c.Path, fmt.Errorf("%s", why))
	}
	return env, nil
}

// resolveAll resolves candidates concurrently, de-duplicating by canonical
// path and skipping any path in exclude. Failures are dropped.
func (r *Registry) resolveAll(ctx context.Context, candidates []environment.Candidate, exclude map[string]bool) []*environment.RuntimeEnvironment {
	seen := make(map[string]bool, len(candidates))
	unique := make([]environment.Candidate, 0, len(candidates))
	for _, c := range candidates {
		key := environment.CanonicalPath(c.Path)
		if seen[key] || exclude[key] {
			continue
		}
		seen[key] = true
		unique = append(unique, c)
	}

	resolved := iter.Map(unique, func(c *environment.Candidate) *environment.RuntimeEnvironment {
		env, err := r.resolve(ctx, *c)
		if err != nil {
			r.logger.Debug("skipping environment", "path", c.Path, "error", err)
			r.metrics.ResolveFailure(failureReason(err))
			return nil
		}
		return env
	})

	out := make([]*environment.RuntimeEnvironment, 0, len(resolved))
	for _, env := range resolved {
		if env != nil {
			out = append(out, env)
		}
	}
	r.sort(out)
	return out
}

func failureReason(err error) string {
	switch errors.GetExitCode(err) {
	case errors.ExitNotFound:
		return "not-found"
	case errors.ExitProbeFailed:
		return "probe-failed"
	case errors.ExitMalformedOutput:
		return "malformed-output"
	case errors.ExitIncompatible:
		return "incompatible"
	case errors.ExitDisposed:
		return "disposed"
	default:
		return "other"
	}
}

// sort orders environments by kind priority, then requirement versions
// newest first, then display name.
func (r *Registry) sort(envs []*environment.RuntimeEnvironment) {
	reqs := r.resolver.Requirements()
	slices.SortStableFunc(envs, func(a, b *environment.RuntimeEnvironment) int {
		if a.Kind != b.Kind {
			return int(a.Kind) - int(b.Kind)
		}
		for _, req := range reqs {
			if c := environment.CompareVersions(b.Versions[req.Name], a.Versions[req.Name]); c != 0 {
				return c
			}
		}
		return strings.Compare(a.Name, b.Name)
	})
}

func (r *Registry) enumerate(ctx context.Context) (candidates []environment.Candidate, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("enumeration panicked: %v", p)
		}
	}()
	return r.enum.Enumerate(ctx)
}

func (r *Registry) build(ctx context.Context) {
	start := time.Now()

	candidates, err := r.enumerate(ctx)
	if err != nil {
		r.logger.Error("environment enumeration failed", "error", err)
	}

	userCandidates := make([]environment.Candidate, 0, len(r.storedUser))
	for _, p := range r.storedUser {
		userCandidates = append(userCandidates, environment.Candidate{Path: p, Kind: environment.PathDefault})
	}
	users := r.resolveAll(ctx, userCandidates, nil)

	exclude := make(map[string]bool, len(users))
	for _, env := range users {
		exclude[env.CanonicalPath()] = true
	}
	discovered := r.resolveAll(ctx, candidates, exclude)

	r.mu.Lock()
	// Entries added while discovery ran are kept after the stored ones.
	known := make(map[string]bool, len(users))
	for _, env := range users {
		known[env.CanonicalPath()] = true
	}
	for _, env := range r.userAdded {
		if !known[env.CanonicalPath()] {
			users = append(users, env)
			known[env.CanonicalPath()] = true
		}
	}
	r.userAdded = users
	r.discovered = discovered
	r.recompute()
	if r.defaultEnv == nil && r.defaultPath != "" {
		r.defaultEnv = r.lookup(r.defaultPath)
	}
	if r.defaultEnv == nil && len(r.environments) > 0 {
		r.defaultEnv = r.environments[0]
	}
	found := len(r.environments)
	state := r.snapshot()
	r.mu.Unlock()

	r.metrics.DiscoveryDuration(time.Since(start), found)
	r.logger.Debug("environment discovery finished", "environments", found, "duration", time.Since(start))
	r.persist(ctx, state)
	r.notify()
}

// recompute rebuilds the merged list. Caller holds r.mu.
func (r *Registry) recompute() {
	users := make(map[string]bool, len(r.userAdded))
	for _, env := range r.userAdded {
		users[env.CanonicalPath()] = true
	}
	r.discovered = slices.DeleteFunc(r.discovered, func(env *environment.RuntimeEnvironment) bool {
		return users[env.CanonicalPath()]
	})
	r.environments = append(slices.Clone(r.userAdded), r.discovered...)
}

// lookup finds an entry by canonical path. Caller holds r.mu.
func (r *Registry) lookup(path string) *environment.RuntimeEnvironment {
	key := environment.CanonicalPath(path)
	for _, env := range r.environments {
		if env.Path == path || env.CanonicalPath() == key {
			return env
		}
	}
	return nil
}

// snapshot returns the persisted form of the registry. Caller holds r.mu.
func (r *Registry) snapshot() store.State {
	s := store.State{
		RuntimeRoot: r.runtimeRoot,
		UserAdded:   toRecords(r.userAdded),
		Discovered:  toRecords(r.discovered),
	}
	if r.defaultEnv != nil {
		s.DefaultPath = r.defaultEnv.Path
	} else {
		s.DefaultPath = r.defaultPath
	}
	return s
}

func (r *Registry) persist(ctx context.Context, state store.State) {
	if err := r.store.Save(ctx, state); err != nil {
		r.logger.Warn("failed to save registry state", "error", err)
	}
}

// DefaultEnvironment returns the default environment, waiting for
// discovery when none is known yet.
func (r *Registry) DefaultEnvironment(ctx context.Context) (*environment.RuntimeEnvironment, error) {
	r.mu.Lock()
	env := r.defaultEnv
	r.mu.Unlock()
	if env != nil {
		return env, nil
	}

	if _, err := r.built.Wait(ctx); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.defaultEnv == nil {
		return nil, errors.NoDefaultFound()
	}
	return r.defaultEnv, nil
}

// CurrentDefault returns the default environment without waiting.
func (r *Registry) CurrentDefault() *environment.RuntimeEnvironment {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.defaultEnv
}

// EnvironmentList returns user-added entries followed by discovered ones.
// With allowCached it answers from resolved or stored entries without
// waiting for discovery when any are available.
func (r *Registry) EnvironmentList(ctx context.Context, allowCached bool) ([]*environment.RuntimeEnvironment, error) {
	if allowCached {
		r.mu.Lock()
		list := r.environments
		if len(list) == 0 && !r.built.Settled() {
			list = r.cached
		}
		list = slices.Clone(list)
		r.mu.Unlock()
		if len(list) > 0 {
			return list, nil
		}
	}

	if _, err := r.built.Wait(ctx); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.environments), nil
}

// EnvironmentByPath returns the known environment at path, or nil.
func (r *Registry) EnvironmentByPath(path string) *environment.RuntimeEnvironment {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookup(path)
}

// AddEnvironment resolves the runtime at path and adds it to the
// user-added list. Known paths are returned without probing again.
func (r *Registry) AddEnvironment(ctx context.Context, path string) (*environment.RuntimeEnvironment, error) {
	key := environment.CanonicalPath(path)

	r.mu.Lock()
	if r.disposing {
		r.mu.Unlock()
		return nil, errors.Disposed("registry")
	}
	if env := findCanonical(r.discovered, key); env != nil {
		r.mu.Unlock()
		return env, nil
	}
	if env := findCanonical(r.userAdded, key); env != nil {
		r.mu.Unlock()
		return env, nil
	}
	r.mu.Unlock()

	env, err := r.resolve(ctx, environment.Candidate{Path: path, Kind: environment.PathDefault})
	if err != nil {
		if errors.Is(err, errors.ErrIncompatible) || errors.Is(err, errors.ErrDisposed) {
			return nil, err
		}
		return nil, errors.Incompatible(path, err)
	}

	r.mu.Lock()
	if existing := findCanonical(r.userAdded, key); existing != nil {
		r.mu.Unlock()
		return existing, nil
	}
	if existing := findCanonical(r.discovered, key); existing != nil {
		r.mu.Unlock()
		return existing, nil
	}
	r.userAdded = append(r.userAdded, env)
	r.recompute()
	state := r.snapshot()
	r.mu.Unlock()

	r.logger.Info("environment added", "path", path, "name", env.Name)
	r.persist(ctx, state)
	r.notify()
	return env, nil
}

func findCanonical(envs []*environment.RuntimeEnvironment, key string) *environment.RuntimeEnvironment {
	for _, env := range envs {
		if env.CanonicalPath() == key {
			return env
		}
	}
	return nil
}

// ClearUserEnvironments removes every user-added entry.
func (r *Registry) ClearUserEnvironments(ctx context.Context) {
	r.mu.Lock()
	if len(r.userAdded) == 0 {
		r.mu.Unlock()
		return
	}
	r.userAdded = nil
	r.recompute()
	if r.defaultEnv != nil && r.lookup(r.defaultEnv.Path) == nil {
		r.defaultEnv = nil
		if len(r.environments) > 0 {
			r.defaultEnv = r.environments[0]
		}
	}
	state := r.snapshot()
	r.mu.Unlock()

	r.persist(ctx, state)
	r.notify()
}

// SetDefaultEnvironment makes the known environment at path the default.
func (r *Registry) SetDefaultEnvironment(ctx context.Context, path string) error {
	r.mu.Lock()
	env := r.lookup(path)
	if env == nil {
		r.mu.Unlock()
		return errors.NotFound(path)
	}
	r.defaultEnv = env
	r.defaultPath = env.Path
	state := r.snapshot()
	r.mu.Unlock()

	r.persist(ctx, state)
	return nil
}

// DefaultRuntimeRoot returns the configured runtime install root.
func (r *Registry) DefaultRuntimeRoot() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runtimeRoot
}

// SetDefaultRuntimeRoot records the runtime install root. It is used by
// later registries for the default environment and discovery.
func (r *Registry) SetDefaultRuntimeRoot(ctx context.Context, root string) {
	r.mu.Lock()
	r.runtimeRoot = root
	state := r.snapshot()
	r.mu.Unlock()

	r.persist(ctx, state)
}

type serverListEntry struct {
	URL   string `json:"url"`
	Token string `json:"token"`
	Port  int    `json:"port"`
}

// ExternalServers lists running notebook servers that were not started by
// forage-lab, as URLs including their token.
func (r *Registry) ExternalServers(ctx context.Context) ([]string, error) {
	env := r.CurrentDefault()
	if env == nil {
		return nil, nil
	}

	out, err := r.resolver.RunModule(ctx, env.Path, "jupyter", "server", "list", "--json")
	if err != nil {
		return nil, err
	}

	var urls []string
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		i := strings.IndexByte(line, '{')
		if i < 0 {
			continue
		}
		var entry serverListEntry
		if err := json.Unmarshal([]byte(line[i:]), &entry); err != nil {
			r.logger.Debug("failed to parse server list entry", "error", err)
			continue
		}
		if strings.HasPrefix(entry.Token, config.ServerTokenPrefix) {
			continue
		}
		urls = append(urls, entry.URL+"lab?token="+entry.Token)
	}
	return urls, nil
}

// Subscribe registers fn to be called whenever the environment list
// changes. The returned function unsubscribes.
func (r *Registry) Subscribe(fn func()) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextSub
	r.nextSub++
	r.subscribers[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subscribers, id)
			r.mu.Unlock()
		})
	}
}

func (r *Registry) notify() {
	r.mu.Lock()
	ids := make([]int, 0, len(r.subscribers))
	for id := range r.subscribers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, r.subscribers[id])
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Dispose waits for discovery to finish and marks the registry disposed.
// Later resolutions fail with ErrDisposed without running a probe.
func (r *Registry) Dispose(ctx context.Context) error {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return nil
	}
	r.disposing = true
	r.mu.Unlock()

	if _, err := r.built.Wait(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	r.disposed = true
	r.mu.Unlock()
	return nil
}

func toRecords(envs []*environment.RuntimeEnvironment) []store.Environment {
	if len(envs) == 0 {
		return nil
	}
	out := make([]store.Environment, 0, len(envs))
	for _, env := range envs {
		out = append(out, store.Environment{
			Path:          env.Path,
			Kind:          env.Kind.String(),
			Name:          env.Name,
			Versions:      env.Versions,
			DefaultKernel: env.DefaultKernel,
		})
	}
	return out
}

func fromRecords(recs []store.Environment) []*environment.RuntimeEnvironment {
	out := make([]*environment.RuntimeEnvironment, 0, len(recs))
	for _, rec := range recs {
		kind, err := environment.ParseKind(rec.Kind)
		if err != nil {
			continue
		}
		out = append(out, &environment.RuntimeEnvironment{
			Path:          rec.Path,
			Kind:          kind,
			Name:          rec.Name,
			Versions:      rec.Versions,
			DefaultKernel: rec.DefaultKernel,
		})
	}
	return out
}
