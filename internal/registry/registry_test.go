package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/environment"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/errors"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/store"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/system"
)

type fakeRuntime struct {
	probeType string
	name      string
	version   string
}

// fakeRuntimes answers probe commands for a set of interpreter paths.
type fakeRuntimes struct {
	mu         sync.Mutex
	runtimes   map[string]fakeRuntime
	probes     map[string]int
	serverList string
}

func newFakeRuntimes() *fakeRuntimes {
	return &fakeRuntimes{runtimes: map[string]fakeRuntime{}, probes: map[string]int{}}
}

func (f *fakeRuntimes) add(fs *system.MockFS, path string, rt fakeRuntime) {
	if fs != nil {
		fs.AddFile(path, nil, 0755)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runtimes[path] = rt
}

func (f *fakeRuntimes) probeCount(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probes[path]
}

func (f *fakeRuntimes) totalProbes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.probes {
		n += c
	}
	return n
}

func (f *fakeRuntimes) handle(ctx context.Context, c system.Command) (system.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rt, ok := f.runtimes[c.Name]
	if !ok {
		return system.Result{ExitCode: 127, Stderr: []byte("not found")}, nil
	}
	if len(c.Args) > 1 && c.Args[0] == "-m" {
		return system.Result{Stdout: []byte(f.serverList)}, nil
	}
	f.probes[c.Name]++
	out := fmt.Sprintf(`{"type": %q, "name": %q, "versions": {"python": "3.11.4", "runtime": %q}, "defaultKernel": "python3"}`,
		rt.probeType, rt.name, rt.version)
	return system.Result{Stdout: []byte(out + "\n")}, nil
}

func runtimeRequirement() environment.VersionRequirement {
	return environment.MustRequirement("runtime", "runtime", []string{"--version"}, ">=3.0.0")
}

type fixture struct {
	fs       *system.MockFS
	exec     *system.MockExecutor
	runtimes *fakeRuntimes
	store    *store.MemoryStore
}

func newFixture() *fixture {
	f := &fixture{
		fs:       system.NewMockFS(),
		exec:     system.NewMockExecutor(),
		runtimes: newFakeRuntimes(),
		store:    store.NewMemoryStore(store.State{}),
	}
	f.exec.Handler = f.runtimes.handle
	return f
}

func (f *fixture) registry(t *testing.T, enum Enumerator, opts ...Option) *Registry {
	t.Helper()
	base := []Option{
		WithExecutor(f.exec),
		WithFileSystem(f.fs),
		WithStore(f.store),
		WithEnumerator(enum),
		WithRequirements(runtimeRequirement()),
		WithPlatform("linux"),
		WithEnviron(func() []string { return []string{"PATH=/usr/bin"} }),
	}
	r := New(context.Background(), append(base, opts...)...)
	t.Cleanup(func() { _ = r.Dispose(context.Background()) })
	return r
}

func waitBuilt(t *testing.T, r *Registry) {
	t.Helper()
	select {
	case <-r.Built():
	case <-time.After(5 * time.Second):
		t.Fatal("discovery did not finish")
	}
}

func paths(envs []*environment.RuntimeEnvironment) []string {
	out := make([]string, 0, len(envs))
	for _, env := range envs {
		out = append(out, env.Path)
	}
	return out
}

func TestDiscovery_OrderAndDefault(t *testing.T) {
	f := newFixture()
	p1 := "/opt/conda/bin/python"
	p2 := "/usr/bin/python3"
	f.runtimes.add(f.fs, p1, fakeRuntime{probeType: "conda-root", name: "base", version: "3.2.0"})
	f.runtimes.add(f.fs, p2, fakeRuntime{probeType: "path", name: "python3", version: "3.5.0"})

	r := f.registry(t, StaticEnumerator(
		environment.Candidate{Path: p1, Kind: environment.ManagerRoot},
		environment.Candidate{Path: p2, Kind: environment.PathDefault},
	))

	list, err := r.EnvironmentList(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, []string{p2, p1}, paths(list))

	def, err := r.DefaultEnvironment(context.Background())
	require.NoError(t, err)
	assert.Equal(t, p2, def.Path)
	assert.Equal(t, "Global: python3", def.Name)
	assert.Equal(t, "3.5.0", def.Version("runtime"))
}

func TestDiscovery_SortsWithinKind(t *testing.T) {
	f := newFixture()
	envs := map[string]fakeRuntime{
		"/c/envs/old/bin/python":  {probeType: "conda-env", name: "old", version: "3.1.0"},
		"/c/envs/new/bin/python":  {probeType: "conda-env", name: "new", version: "4.0.0rc1"},
		"/c/envs/beta/bin/python": {probeType: "conda-env", name: "beta", version: "3.1.0"},
		"/c/bin/python":           {probeType: "conda-root", name: "base", version: "3.0.0"},
	}
	var candidates []environment.Candidate
	for p, rt := range envs {
		f.runtimes.add(f.fs, p, rt)
		candidates = append(candidates, environment.Candidate{Path: p, Kind: environment.ManagedEnv})
	}

	r := f.registry(t, StaticEnumerator(candidates...))
	list, err := r.EnvironmentList(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"/c/bin/python",
		"/c/envs/new/bin/python",
		"/c/envs/beta/bin/python",
		"/c/envs/old/bin/python",
	}, paths(list))
}

func TestDiscovery_ExcludesUnusable(t *testing.T) {
	f := newFixture()
	good := "/usr/bin/python3"
	old := "/usr/local/bin/python3"
	broken := "/opt/broken/bin/python"
	f.runtimes.add(f.fs, good, fakeRuntime{probeType: "path", name: "python3", version: "3.6.2"})
	f.runtimes.add(f.fs, old, fakeRuntime{probeType: "path", name: "python3", version: "2.2.0"})
	f.fs.AddFile(broken, nil, 0755)

	r := f.registry(t, StaticEnumerator(
		environment.Candidate{Path: good},
		environment.Candidate{Path: old},
		environment.Candidate{Path: broken},
		environment.Candidate{Path: "/does/not/exist"},
	))

	list, err := r.EnvironmentList(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, []string{good}, paths(list))
	assert.Zero(t, f.exec.CountCalls("/does/not/exist"), "missing paths are never executed")
}

func TestDiscovery_DeduplicatesByCanonicalPath(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "python3.12")
	link := filepath.Join(dir, "python3")
	require.NoError(t, os.WriteFile(target, nil, 0755))
	require.NoError(t, os.Symlink(target, link))

	f := newFixture()
	f.runtimes.add(nil, link, fakeRuntime{probeType: "path", name: "python3", version: "3.4.0"})
	f.runtimes.add(nil, target, fakeRuntime{probeType: "path", name: "python3", version: "3.4.0"})

	r := f.registry(t, StaticEnumerator(
		environment.Candidate{Path: link},
		environment.Candidate{Path: target},
	), WithFileSystem(system.DefaultFS()))

	list, err := r.EnvironmentList(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, []string{link}, paths(list), "first occurrence wins")
	assert.Equal(t, 1, f.runtimes.totalProbes())
}

func TestDiscovery_UserAddedTakesPrecedence(t *testing.T) {
	f := newFixture()
	p1 := "/opt/conda/bin/python"
	p2 := "/usr/bin/python3"
	f.runtimes.add(f.fs, p1, fakeRuntime{probeType: "conda-root", name: "base", version: "3.2.0"})
	f.runtimes.add(f.fs, p2, fakeRuntime{probeType: "path", name: "python3", version: "3.5.0"})
	f.store = store.NewMemoryStore(store.State{
		UserAdded: []store.Environment{{Path: p1, Kind: "manager-root", Name: "Conda Root: base"}},
	})

	r := f.registry(t, StaticEnumerator(
		environment.Candidate{Path: p1, Kind: environment.ManagerRoot},
		environment.Candidate{Path: p2, Kind: environment.PathDefault},
	))

	list, err := r.EnvironmentList(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, []string{p1, p2}, paths(list))
	assert.Equal(t, 1, f.runtimes.probeCount(p1))

	state, err := f.store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, state.Discovered, 1)
	assert.Equal(t, p2, state.Discovered[0].Path)
	require.Len(t, state.UserAdded, 1)
	assert.Equal(t, p1, state.UserAdded[0].Path)
}

func TestDiscovery_EnumerationFailure(t *testing.T) {
	tests := []struct {
		name string
		enum Enumerator
	}{
		{"error", EnumeratorFunc(func(context.Context) ([]environment.Candidate, error) {
			return nil, fmt.Errorf("registry unavailable")
		})},
		{"panic", EnumeratorFunc(func(context.Context) ([]environment.Candidate, error) {
			panic("boom")
		})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			r := f.registry(t, tt.enum)
			waitBuilt(t, r)

			_, err := r.DefaultEnvironment(context.Background())
			assert.True(t, errors.Is(err, errors.ErrNoDefaultFound))

			list, err := r.EnvironmentList(context.Background(), false)
			require.NoError(t, err)
			assert.Empty(t, list)
		})
	}
}

func TestNew_RuntimeRootSeedsDefault(t *testing.T) {
	f := newFixture()
	root := "/opt/miniforge"
	exe := filepath.Join(root, "bin", "python")
	f.runtimes.add(f.fs, exe, fakeRuntime{probeType: "conda-root", name: "base", version: "4.1.0"})
	f.store = store.NewMemoryStore(store.State{RuntimeRoot: root})

	release := make(chan struct{})
	blocking := EnumeratorFunc(func(ctx context.Context) ([]environment.Candidate, error) {
		<-release
		return nil, nil
	})

	r := f.registry(t, blocking)
	t.Cleanup(func() { close(release) })
	assert.Equal(t, root, r.DefaultRuntimeRoot())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	def, err := r.DefaultEnvironment(ctx)
	require.NoError(t, err)
	assert.Equal(t, exe, def.Path)
}

func TestEnvironmentList_AllowCached(t *testing.T) {
	f := newFixture()
	f.store = store.NewMemoryStore(store.State{
		Discovered: []store.Environment{{Path: "/usr/bin/python3", Kind: "path-default", Name: "Global: python3"}},
	})

	release := make(chan struct{})
	blocking := EnumeratorFunc(func(ctx context.Context) ([]environment.Candidate, error) {
		<-release
		return nil, nil
	})
	r := f.registry(t, blocking)

	list, err := r.EnvironmentList(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"/usr/bin/python3"}, paths(list))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = r.EnvironmentList(ctx, false)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "uncached reads wait for discovery")

	close(release)
	waitBuilt(t, r)
}

func TestAddEnvironment_Idempotent(t *testing.T) {
	f := newFixture()
	p := "/home/user/venv/bin/python"
	f.runtimes.add(f.fs, p, fakeRuntime{probeType: "venv", name: "venv", version: "3.3.0"})

	r := f.registry(t, StaticEnumerator())
	waitBuilt(t, r)

	var notified atomic.Int32
	unsubscribe := r.Subscribe(func() { notified.Add(1) })
	defer unsubscribe()

	first, err := r.AddEnvironment(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, int32(1), notified.Load())

	second, err := r.AddEnvironment(context.Background(), p)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, int32(1), notified.Load(), "no notification when nothing changed")
	assert.Equal(t, 1, f.runtimes.probeCount(p))

	assert.Same(t, first, r.EnvironmentByPath(p))
	assert.Equal(t, environment.ManagedEnv, first.Kind)
}

func TestAddEnvironment_KnownDiscoveredEntry(t *testing.T) {
	f := newFixture()
	p := "/usr/bin/python3"
	f.runtimes.add(f.fs, p, fakeRuntime{probeType: "path", name: "python3", version: "3.5.0"})

	r := f.registry(t, StaticEnumerator(environment.Candidate{Path: p}))
	waitBuilt(t, r)

	env, err := r.AddEnvironment(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, p, env.Path)
	assert.Equal(t, 1, f.runtimes.probeCount(p))

	list, err := r.EnvironmentList(context.Background(), true)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestAddEnvironment_Incompatible(t *testing.T) {
	f := newFixture()
	old := "/usr/bin/python2"
	f.runtimes.add(f.fs, old, fakeRuntime{probeType: "path", name: "python2", version: "2.7.0"})

	r := f.registry(t, StaticEnumerator())
	waitBuilt(t, r)

	var notified atomic.Int32
	r.Subscribe(func() { notified.Add(1) })

	_, err := r.AddEnvironment(context.Background(), old)
	assert.True(t, errors.Is(err, errors.ErrIncompatible))

	_, err = r.AddEnvironment(context.Background(), "/nope/python")
	assert.True(t, errors.Is(err, errors.ErrIncompatible))
	assert.True(t, errors.Is(err, errors.ErrNotFound), "resolver cause is kept")

	assert.Zero(t, notified.Load())
	assert.Equal(t, 1, f.store.Saves(), "only the discovery build persisted")
}

func TestClearUserEnvironments(t *testing.T) {
	f := newFixture()
	p := "/home/user/venv/bin/python"
	f.runtimes.add(f.fs, p, fakeRuntime{probeType: "venv", name: "venv", version: "3.3.0"})

	r := f.registry(t, StaticEnumerator())
	waitBuilt(t, r)

	var notified atomic.Int32
	r.Subscribe(func() { notified.Add(1) })

	r.ClearUserEnvironments(context.Background())
	assert.Zero(t, notified.Load(), "clearing an empty list is a no-op")

	_, err := r.AddEnvironment(context.Background(), p)
	require.NoError(t, err)
	r.ClearUserEnvironments(context.Background())
	assert.Equal(t, int32(2), notified.Load())

	list, err := r.EnvironmentList(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	f := newFixture()
	p := "/home/user/venv/bin/python"
	f.runtimes.add(f.fs, p, fakeRuntime{probeType: "venv", name: "venv", version: "3.3.0"})

	r := f.registry(t, StaticEnumerator())
	waitBuilt(t, r)

	var calls atomic.Int32
	unsubscribe := r.Subscribe(func() { calls.Add(1) })
	unsubscribe()
	unsubscribe()

	_, err := r.AddEnvironment(context.Background(), p)
	require.NoError(t, err)
	assert.Zero(t, calls.Load())
}

func TestSetDefaultEnvironment(t *testing.T) {
	f := newFixture()
	p1 := "/opt/conda/bin/python"
	p2 := "/usr/bin/python3"
	f.runtimes.add(f.fs, p1, fakeRuntime{probeType: "conda-root", name: "base", version: "3.2.0"})
	f.runtimes.add(f.fs, p2, fakeRuntime{probeType: "path", name: "python3", version: "3.5.0"})

	r := f.registry(t, StaticEnumerator(environment.Candidate{Path: p1}, environment.Candidate{Path: p2}))
	waitBuilt(t, r)

	err := r.SetDefaultEnvironment(context.Background(), "/unknown/python")
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	require.NoError(t, r.SetDefaultEnvironment(context.Background(), p1))
	def, err := r.DefaultEnvironment(context.Background())
	require.NoError(t, err)
	assert.Equal(t, p1, def.Path)

	state, err := f.store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, p1, state.DefaultPath)

	r.SetDefaultRuntimeRoot(context.Background(), "/opt/conda")
	state, err = f.store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/opt/conda", state.RuntimeRoot)
}

func TestStoredDefaultPathIsRestored(t *testing.T) {
	f := newFixture()
	p1 := "/opt/conda/bin/python"
	p2 := "/usr/bin/python3"
	f.runtimes.add(f.fs, p1, fakeRuntime{probeType: "conda-root", name: "base", version: "3.2.0"})
	f.runtimes.add(f.fs, p2, fakeRuntime{probeType: "path", name: "python3", version: "3.5.0"})
	f.store = store.NewMemoryStore(store.State{DefaultPath: p1})

	r := f.registry(t, StaticEnumerator(environment.Candidate{Path: p1}, environment.Candidate{Path: p2}))
	def, err := r.DefaultEnvironment(context.Background())
	require.NoError(t, err)
	assert.Equal(t, p1, def.Path)
}

func TestExternalServers(t *testing.T) {
	f := newFixture()
	p := "/usr/bin/python3"
	f.runtimes.add(f.fs, p, fakeRuntime{probeType: "path", name: "python3", version: "3.5.0"})
	f.runtimes.serverList = `{"url": "http://localhost:8888/", "token": "abc", "port": 8888}
{"url": "http://localhost:9999/", "token": "jlab:srvr:0011", "port": 9999}
not json {
`

	r := f.registry(t, StaticEnumerator(environment.Candidate{Path: p}))
	waitBuilt(t, r)

	urls, err := r.ExternalServers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"http://localhost:8888/lab?token=abc"}, urls)
}

func TestDispose(t *testing.T) {
	f := newFixture()
	p := "/home/user/venv/bin/python"
	f.runtimes.add(f.fs, p, fakeRuntime{probeType: "venv", name: "venv", version: "3.3.0"})

	r := f.registry(t, StaticEnumerator())
	require.NoError(t, r.Dispose(context.Background()))
	require.NoError(t, r.Dispose(context.Background()))

	f.exec.Reset()
	_, err := r.AddEnvironment(context.Background(), p)
	assert.True(t, errors.Is(err, errors.ErrDisposed))
	assert.Empty(t, f.exec.Commands, "no probe after disposal")
}

func TestRequirements(t *testing.T) {
	r := New(context.Background(),
		WithExecutor(system.NewMockExecutor()),
		WithFileSystem(system.NewMockFS()),
		WithEnumerator(StaticEnumerator()),
	)
	defer r.Dispose(context.Background())

	reqs := r.Requirements()
	require.Len(t, reqs, 1)
	assert.Equal(t, "jupyterlab", reqs[0].Name)
	assert.True(t, reqs[0].Allows("4.0.0rc1"))
	assert.False(t, reqs[0].Allows("2.3.1"))
}
