package pool

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"

	concpool "github.com/sourcegraph/conc/pool"

	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/config"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/environment"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/errors"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/flight"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/logging"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/metrics"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/session"
)

// Server is the part of a session server the pool drives.
type Server interface {
	Start(ctx context.Context, port int, token string) (session.Info, error)
	Started(ctx context.Context) (session.Info, error)
	Stop(ctx context.Context) error
	Info() session.Info
	State() session.State
}

var _ Server = (*session.Server)(nil)

// Request describes the server a caller wants.
type Request struct {
	// WorkingDirectory defaults to the pool's working directory.
	WorkingDirectory string

	// Environment defaults to the registry's current default.
	Environment *environment.RuntimeEnvironment

	Overrides config.WorkspaceOverrides

	// Port and Token are passed to Start; zero values are generated.
	Port  int
	Token string
}

// Factory constructs a server for a normalized request.
type Factory func(req Request) (Server, error)

// DefaultSource supplies the default runtime without waiting for discovery.
type DefaultSource interface {
	CurrentDefault() *environment.RuntimeEnvironment
}

// builtSource is a DefaultSource that signals when discovery has finished.
type builtSource interface {
	Built() <-chan struct{}
}

// Entry pairs a server with its pool bookkeeping.
type Entry struct {
	ID     int
	Server Server

	key     key
	used    bool
	// provisional entries took the default before discovery finished and
	// are re-keyed to the discovered default once it has.
	provisional bool
	closing *flight.Future[struct{}]
}

// Snapshot is a point-in-time view of an entry.
type Snapshot struct {
	ID      int
	Used    bool
	Closing bool
	State   session.State
	Info    session.Info
}

type key struct {
	workingDir string
	envPath    string
}

// Options configures a Pool.
type Options struct {
	Factory          Factory
	Defaults         DefaultSource
	WorkingDirectory string
	Metrics          metrics.Collector
	Logger           *slog.Logger
}

// Pool tracks session servers.
type Pool struct {
	factory    Factory
	defaults   DefaultSource
	workingDir string
	metrics    metrics.Collector
	log        *slog.Logger

	mu       sync.Mutex
	entries  []*Entry
	nextID   int
	disposed *flight.Future[struct{}]
}

// New creates an empty pool.
func New(opts Options) (*Pool, error) {
	if opts.Factory == nil {
		return nil, errors.ConfigError("pool needs a server factory", nil)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNoop()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Component("pool")
	}
	return &Pool{
		factory:    opts.Factory,
		defaults:   opts.Defaults,
		workingDir: opts.WorkingDirectory,
		metrics:    opts.Metrics,
		log:        opts.Logger,
		nextID:     1,
	}, nil
}

// normalize fills in the working directory and runtime defaults. It
// reports whether the runtime is a default taken before discovery finished.
func (p *Pool) normalize(req Request) (Request, bool) {
	if req.WorkingDirectory == "" {
		req.WorkingDirectory = p.workingDir
	}
	if req.WorkingDirectory != "" {
		req.WorkingDirectory = filepath.Clean(req.WorkingDirectory)
	}
	provisional := false
	if req.Environment == nil {
		provisional = !p.defaultsBuilt()
		if p.defaults != nil {
			req.Environment = p.defaults.CurrentDefault()
		}
	}
	if req.Environment == nil {
		req.Environment = environment.Placeholder()
	}
	return req, provisional
}

func (p *Pool) defaultsBuilt() bool {
	b, ok := p.defaults.(builtSource)
	if !ok {
		return true
	}
	select {
	case <-b.Built():
		return true
	default:
		return false
	}
}

// settleKeysLocked re-keys provisional entries once discovery has finished.
func (p *Pool) settleKeysLocked() {
	if !p.defaultsBuilt() {
		return
	}
	envPath := environment.Placeholder().Path
	if p.defaults != nil {
		if env := p.defaults.CurrentDefault(); env != nil {
			envPath = env.Path
		}
	}
	for _, e := range p.entries {
		if e.provisional {
			e.key.envPath = envPath
			e.provisional = false
		}
	}
}

func keyOf(req Request) key {
	return key{workingDir: req.WorkingDirectory, envPath: req.Environment.Path}
}

// CreateServer returns a started server for req. An idle entry with the
// same working directory and runtime path is reused; otherwise a new entry
// is created. The start runs in the background; use Entry.Server.Started
// to wait for it. An entry whose start fails is removed.
func (p *Pool) CreateServer(ctx context.Context, req Request) (*Entry, error) {
	req, provisional := p.normalize(req)
	k := keyOf(req)

	p.mu.Lock()
	if p.disposed != nil {
		p.mu.Unlock()
		return nil, errors.Disposed("server pool")
	}
	p.settleKeysLocked()
	e := p.findIdleLocked(k)
	if e != nil {
		e.used = true
	}
	p.mu.Unlock()

	if e != nil {
		p.log.Debug("reusing idle server", "id", e.ID, "working_dir", k.workingDir)
	} else {
		var err error
		if e, err = p.add(req, true, provisional); err != nil {
			return nil, err
		}
	}

	p.start(e, req.Port, req.Token)
	p.recordSize()
	return e, nil
}

// CreateFreeServer adds and starts an idle server that a later
// CreateServer with the same key picks up.
func (p *Pool) CreateFreeServer(ctx context.Context, req Request) (*Entry, error) {
	req, provisional := p.normalize(req)

	e, err := p.add(req, false, provisional)
	if err != nil {
		return nil, err
	}
	p.start(e, req.Port, req.Token)
	p.recordSize()
	return e, nil
}

// CreateFreeServersIfNeeded tops up the idle entries matching req to n. It
// returns how many servers were created.
func (p *Pool) CreateFreeServersIfNeeded(ctx context.Context, req Request, n int) (int, error) {
	req, _ = p.normalize(req)
	k := keyOf(req)

	p.mu.Lock()
	p.settleKeysLocked()
	idle := 0
	for _, e := range p.entries {
		if !e.used && e.closing == nil && e.key == k {
			idle++
		}
	}
	p.mu.Unlock()

	created := 0
	for i := idle; i < n; i++ {
		// Pre-warmed servers always get their own port and token.
		free := req
		free.Port, free.Token = 0, ""
		if _, err := p.CreateFreeServer(ctx, free); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

func (p *Pool) add(req Request, used, provisional bool) (*Entry, error) {
	srv, err := p.factory(req)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disposed != nil {
		return nil, errors.Disposed("server pool")
	}
	e := &Entry{ID: p.nextID, Server: srv, key: keyOf(req), used: used, provisional: provisional}
	p.nextID++
	p.entries = append(p.entries, e)
	p.log.Debug("server added", "id", e.ID, "used", used, "working_dir", e.key.workingDir)
	return e, nil
}

func (p *Pool) start(e *Entry, port int, token string) {
	go func() {
		if _, err := e.Server.Start(context.Background(), port, token); err != nil {
			p.log.Error("failed to start server", "id", e.ID, "error", err)
			p.remove(e)
		}
	}()
}

func (p *Pool) findIdleLocked(k key) *Entry {
	for _, e := range p.entries {
		if !e.used && e.closing == nil && e.key == k {
			return e
		}
	}
	return nil
}

func (p *Pool) remove(target *Entry) {
	p.mu.Lock()
	for i, e := range p.entries {
		if e == target {
			p.entries = append(p.entries[:i], p.entries[i+1:]...)
			break
		}
	}
	p.mu.Unlock()
	p.recordSize()
}

// StopServer stops the entry with the given id and removes it once the
// stop settles. Concurrent calls share one stop operation.
func (p *Pool) StopServer(ctx context.Context, id int) error {
	p.mu.Lock()
	var e *Entry
	for _, candidate := range p.entries {
		if candidate.ID == id {
			e = candidate
			break
		}
	}
	if e == nil {
		p.mu.Unlock()
		return errors.InvalidID(id)
	}
	if e.closing == nil {
		f := flight.New[struct{}]()
		e.closing = f
		go func() {
			err := e.Server.Stop(context.Background())
			if err != nil {
				p.log.Error("failed to stop server", "id", e.ID, "error", err)
			}
			p.remove(e)
			f.Settle(struct{}{}, err)
		}()
	}
	f := e.closing
	p.mu.Unlock()

	_, err := f.Wait(ctx)
	return err
}

// KillAllServers stops every entry concurrently. The pool is emptied
// immediately; the returned error joins the individual stop failures.
func (p *Pool) KillAllServers(ctx context.Context) error {
	p.mu.Lock()
	entries := p.entries
	closing := make([]*flight.Future[struct{}], len(entries))
	for i, e := range entries {
		closing[i] = e.closing
	}
	p.entries = nil
	p.mu.Unlock()
	p.recordSize()

	wp := concpool.New().WithErrors()
	for i, e := range entries {
		f := closing[i]
		wp.Go(func() error {
			if f != nil {
				_, err := f.Wait(ctx)
				return err
			}
			return e.Server.Stop(ctx)
		})
	}
	return wp.Wait()
}

// Dispose kills all servers once. Later calls wait for the same result and
// no new servers can be created.
func (p *Pool) Dispose(ctx context.Context) error {
	p.mu.Lock()
	if p.disposed == nil {
		f := flight.New[struct{}]()
		p.disposed = f
		go func() {
			f.Settle(struct{}{}, p.KillAllServers(context.Background()))
		}()
	}
	f := p.disposed
	p.mu.Unlock()

	_, err := f.Wait(ctx)
	return err
}

// Len returns the number of tracked entries.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Entries returns a snapshot of every entry in creation order.
func (p *Pool) Entries() []Snapshot {
	p.mu.Lock()
	entries := append([]*Entry(nil), p.entries...)
	used := make([]bool, len(entries))
	closing := make([]bool, len(entries))
	for i, e := range entries {
		used[i] = e.used
		closing[i] = e.closing != nil
	}
	p.mu.Unlock()

	out := make([]Snapshot, len(entries))
	for i, e := range entries {
		out[i] = Snapshot{
			ID:      e.ID,
			Used:    used[i],
			Closing: closing[i],
			State:   e.Server.State(),
			Info:    e.Server.Info(),
		}
	}
	return out
}

// Entry returns a snapshot of the entry with the given id.
func (p *Pool) Entry(id int) (Snapshot, bool) {
	for _, s := range p.Entries() {
		if s.ID == id {
			return s, true
		}
	}
	return Snapshot{}, false
}

func (p *Pool) recordSize() {
	p.mu.Lock()
	total, idle := len(p.entries), 0
	for _, e := range p.entries {
		if !e.used {
			idle++
		}
	}
	p.mu.Unlock()
	p.metrics.PoolSize(total, idle)
}
