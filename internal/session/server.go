package session

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/audit"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/config"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/engine"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/environment"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/errors"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/flight"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/health"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/launch"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/logging"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/metrics"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/port"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/system"
)

// Options holds the dependencies and settings of a Server.
type Options struct {
	// Settings supplies image, storage, timeouts and the restart budget.
	Settings *config.Settings

	// Workspace is the working directory and its per-workspace settings.
	Workspace config.WorkspaceSettings

	// Environment is the runtime the server is associated with.
	Environment *environment.RuntimeEnvironment

	Engine  engine.Engine
	Builder *launch.Builder

	// ConfigDir is exported to the server as JUPYTER_CONFIG_DIR.
	ConfigDir string

	Spawner system.Spawner
	Prober  health.Prober
	Ports   *port.Allocator
	FS      system.FileSystem
	Events  audit.Sink
	Metrics metrics.Collector
	Logger  *slog.Logger

	GOOS    string
	Environ func() []string

	// UID and GID are passed to the container user; negative skips them.
	UID int
	GID int
}

func (o *Options) setDefaults() {
	if o.Spawner == nil {
		o.Spawner = system.DefaultSpawner()
	}
	if o.Prober == nil {
		o.Prober = health.NewHTTPClient()
	}
	if o.Ports == nil {
		o.Ports = port.NewAllocator(o.Settings.PortRange.From, o.Settings.PortRange.To)
	}
	if o.FS == nil {
		o.FS = system.DefaultFS()
	}
	if o.Events == nil {
		o.Events = audit.Discard
	}
	if o.Metrics == nil {
		o.Metrics = metrics.NewNoop()
	}
	if o.Logger == nil {
		o.Logger = logging.Component("session")
	}
	if o.GOOS == "" {
		o.GOOS = runtime.GOOS
	}
	if o.Environ == nil {
		o.Environ = os.Environ
	}
	if o.Environment == nil {
		o.Environment = environment.Placeholder()
	}
}

// Server supervises one notebook server.
type Server struct {
	opts Options
	log  *slog.Logger

	mu       sync.Mutex
	state    State
	info     Info
	ownPort  bool
	restarts int
	proc     system.Process
	stopping bool

	started     *flight.Future[Info]
	startSet    chan struct{}
	startSetOne sync.Once
	stopped     *flight.Future[struct{}]
}

// New creates an idle Server. Settings, Engine and Builder are required.
func New(opts Options) (*Server, error) {
	if opts.Settings == nil {
		return nil, errors.ConfigError("session settings are required", nil)
	}
	if opts.Engine == nil {
		return nil, errors.ConfigError("session engine is required", nil)
	}
	if opts.Builder == nil {
		return nil, errors.ConfigError("launch script builder is required", nil)
	}
	opts.setDefaults()

	ws := opts.Workspace
	s := &Server{
		opts:     opts,
		startSet: make(chan struct{}),
		info: Info{
			Kind:             KindLocal,
			Engine:           opts.Engine.Name(),
			WorkingDirectory: ws.WorkingDirectory,
			Environment:      opts.Environment,
			ExtraDir:         ws.ExtraDir,
			OverrideDefaults: ws.OverrideDefaults,
			EnvVars:          maps.Clone(ws.EnvVars),
		},
	}
	s.log = opts.Logger.With("engine", opts.Engine.Name())
	return s, nil
}

// Info returns a snapshot of the server description.
func (s *Server) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info.clone()
}

// State returns the current lifecycle state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Restarts returns how many times the server has been relaunched.
func (s *Server) Restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}

// Start launches the server and waits until it is reachable. A zero port
// is allocated and an empty token generated. Concurrent and repeated calls
// share the current start operation. Cancelling ctx abandons the wait only.
func (s *Server) Start(ctx context.Context, port int, token string) (Info, error) {
	s.mu.Lock()
	if s.started == nil {
		if s.stopping {
			s.mu.Unlock()
			return Info{}, errors.Disposed("server")
		}
		if err := s.prepareLocked(port, token); err != nil {
			s.mu.Unlock()
			return Info{}, err
		}
		s.setStateLocked(StateLaunching)
		s.installStartLocked()
	}
	f := s.started
	s.mu.Unlock()

	return f.Wait(ctx)
}

// Started waits until a start operation exists and returns its result. If
// the server restarts while waiting, the relaunch is awaited instead.
func (s *Server) Started(ctx context.Context) (Info, error) {
	select {
	case <-s.startSet:
	case <-ctx.Done():
		return Info{}, ctx.Err()
	}

	for {
		s.mu.Lock()
		f := s.started
		s.mu.Unlock()

		info, err := f.Wait(ctx)

		s.mu.Lock()
		current := s.started
		s.mu.Unlock()
		if current == f || ctx.Err() != nil {
			return info, err
		}
	}
}

func (s *Server) prepareLocked(port int, token string) error {
	if port == 0 {
		p, err := s.opts.Ports.Allocate()
		if err != nil {
			return err
		}
		port = p
		s.ownPort = true
	} else {
		s.opts.Ports.Reserve(port)
	}

	if token == "" {
		t, err := NewToken()
		if err != nil {
			if s.ownPort {
				s.opts.Ports.Release(port)
			}
			return err
		}
		token = t
	}

	s.info.Port = port
	s.info.Token = token
	s.info.URL = ServerURL(port, token)
	s.log = s.log.With("port", port)
	return nil
}

func (s *Server) installStartLocked() {
	f := flight.New[Info]()
	s.started = f
	s.startSetOne.Do(func() { close(s.startSet) })
	go s.run(f)
}

func (s *Server) run(f *flight.Future[Info]) {
	begin := time.Now()
	info, err := s.launch()
	s.opts.Metrics.LaunchDuration(s.opts.Engine.Name(), time.Since(begin), err)
	f.Settle(info, err)
}

type readiness int

const (
	readyUp readiness = iota
	readyExited
	readyTimedOut
)

func (s *Server) launch() (Info, error) {
	for {
		proc, script, err := s.spawn()
		if err != nil {
			s.fail(err)
			return Info{}, err
		}

		outcome := s.awaitReady(proc)
		s.removeScratch(script)

		switch outcome {
		case readyUp:
			s.mu.Lock()
			if s.stopping {
				s.mu.Unlock()
				return Info{}, errors.ProcessFailed("server stopped before it became ready", nil)
			}
			s.setStateLocked(StateRunning)
			info := s.info.clone()
			s.mu.Unlock()

			s.log.Info("server ready", "url", info.URL)
			s.event(audit.EventReady, "")
			go s.watch(proc)
			return info, nil

		case readyTimedOut:
			_ = proc.Kill()
			err := errors.LaunchTimeout(s.port(), proc.Stdout(), proc.Stderr())
			s.fail(err)
			return Info{}, err

		case readyExited:
			status, _ := proc.Status()
			s.event(audit.EventExit, describeExit(status))
			if status.Code == 0 && status.Signal == "" && s.tryRestart() {
				continue
			}
			var err error
			if s.isStopping() {
				err = errors.ProcessFailed("server stopped before it became ready", nil)
			} else {
				err = exitError(status, proc)
			}
			s.fail(err)
			return Info{}, err
		}
	}
}

func (s *Server) spawn() (system.Process, *launch.Script, error) {
	s.mu.Lock()
	spec := s.specLocked()
	info := s.info.clone()
	s.mu.Unlock()

	script, err := s.opts.Builder.Build(spec, s.opts.Engine)
	if err != nil {
		return nil, nil, errors.ProcessFailed("failed to build launch script", err)
	}

	s.prepareExtraDir(info.ExtraDir)

	env, err := processEnv(s.opts.Environ(), s.opts.GOOS, s.opts.ConfigDir, info.WorkingDirectory, info.EnvVars)
	if err != nil {
		s.removeScratch(script)
		return nil, nil, errors.ProcessFailed("failed to build server environment", err)
	}

	cmd := script.Command()
	cmd.Dir = info.WorkingDirectory
	cmd.Env = env

	s.log.Debug("spawning server", "script", script.Path)
	proc, err := s.opts.Spawner.Spawn(cmd)
	if err != nil {
		s.removeScratch(script)
		return nil, nil, errors.ProcessFailed("failed to spawn server process", err)
	}

	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		_ = proc.Kill()
		s.removeScratch(script)
		return nil, nil, errors.ProcessFailed("server stopped before it became ready", nil)
	}
	s.proc = proc
	s.info.PID = proc.Pid()
	s.setStateLocked(StateAwaitingReady)
	s.mu.Unlock()

	s.event(audit.EventLaunch, fmt.Sprintf("engine=%s pid=%d", s.opts.Engine.Name(), proc.Pid()))
	return proc, script, nil
}

// awaitReady races readiness polling against the launch timeout and the
// process exit.
func (s *Server) awaitReady(proc system.Process) readiness {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.Settings.LaunchTimeout)
	defer cancel()

	ready := make(chan error, 1)
	go func() {
		ready <- health.WaitUntilUp(ctx, s.opts.Prober, s.Info().URL, s.opts.Settings.PollInterval)
	}()

	select {
	case err := <-ready:
		if err != nil {
			return readyTimedOut
		}
		return readyUp
	case <-proc.Done():
		return readyExited
	case <-ctx.Done():
		return readyTimedOut
	}
}

// watch handles the exit of a running server. Any exit after readiness is
// unexpected.
func (s *Server) watch(proc system.Process) {
	<-proc.Done()
	status, _ := proc.Status()

	s.mu.Lock()
	if s.stopping || s.proc != proc {
		s.mu.Unlock()
		return
	}
	if s.restarts < s.opts.Settings.RestartLimit {
		s.restarts++
		s.setStateLocked(StateLaunching)
		s.installStartLocked()
		s.mu.Unlock()

		s.log.Warn("server exited, restarting", "exit", describeExit(status))
		s.event(audit.EventExit, describeExit(status))
		s.event(audit.EventRestart, "")
		s.opts.Metrics.ServerRestart(s.opts.Engine.Name())
		return
	}
	s.setStateLocked(StateFailed)
	s.mu.Unlock()

	err := exitError(status, proc)
	s.log.Error("server exited", "error", err)
	s.event(audit.EventExit, describeExit(status))
	s.event(audit.EventFailed, err.Error())
}

func (s *Server) tryRestart() bool {
	s.mu.Lock()
	if s.stopping || s.restarts >= s.opts.Settings.RestartLimit {
		s.mu.Unlock()
		return false
	}
	s.restarts++
	s.setStateLocked(StateLaunching)
	s.mu.Unlock()

	s.log.Warn("server exited before it became ready, restarting")
	s.event(audit.EventRestart, "")
	s.opts.Metrics.ServerRestart(s.opts.Engine.Name())
	return true
}

func (s *Server) fail(err error) {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return
	}
	s.setStateLocked(StateFailed)
	// A failed start is usually dropped without Stop, so an allocated
	// port goes back now.
	release := 0
	if s.ownPort {
		release = s.info.Port
		s.ownPort = false
	}
	s.mu.Unlock()
	if release != 0 {
		s.opts.Ports.Release(release)
	}

	s.log.Error("server failed to start", "error", err)
	s.event(audit.EventFailed, err.Error())
}

// Stop shuts the server down. Concurrent and repeated calls share one stop
// operation. Cancelling ctx abandons the wait only.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped == nil {
		f := flight.New[struct{}]()
		s.stopped = f
		s.stopping = true
		proc := s.proc
		info := s.info.clone()
		spec := s.specLocked()
		s.setStateLocked(StateStopping)
		go func() {
			f.Settle(struct{}{}, s.shutdown(proc, info, spec))
		}()
	}
	f := s.stopped
	s.mu.Unlock()

	_, err := f.Wait(ctx)
	return err
}

func (s *Server) shutdown(proc system.Process, info Info, spec launch.Spec) error {
	s.event(audit.EventStopping, "")

	var err error
	if proc != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.Settings.LaunchTimeout)
		defer cancel()

		if stopErr := s.opts.Engine.Stop(ctx, spec.Params()); stopErr != nil {
			s.log.Warn("engine stop failed", "error", stopErr)
		}
		err = s.requestShutdown(ctx, proc, info)
		if killErr := proc.Kill(); killErr != nil {
			s.log.Warn("failed to kill server process", "error", killErr)
		}
	}

	s.mu.Lock()
	s.setStateLocked(StateStopped)
	own := s.ownPort
	s.mu.Unlock()
	if own && info.Port != 0 {
		s.opts.Ports.Release(info.Port)
	}

	if err != nil {
		s.log.Error("server shutdown failed", "error", err)
		s.event(audit.EventError, err.Error())
	} else {
		s.log.Info("server stopped")
	}
	s.event(audit.EventStopped, "")
	return err
}

// requestShutdown posts the shutdown request. A refused connection means
// the server is not listening yet; it is retried once the server answers,
// unless the process has exited and nothing remains to shut down.
func (s *Server) requestShutdown(ctx context.Context, proc system.Process, info Info) error {
	for {
		err := s.opts.Prober.Shutdown(ctx, info.Origin(), info.Token)
		if err == nil {
			return nil
		}
		if !health.IsConnectionRefused(err) {
			return errors.ShutdownFailed(info.Port, err)
		}
		if _, exited := proc.Status(); exited {
			return nil
		}

		waitCtx, cancel := context.WithCancel(ctx)
		ready := make(chan error, 1)
		go func() {
			ready <- health.WaitUntilUp(waitCtx, s.opts.Prober, info.URL, s.opts.Settings.PollInterval)
		}()

		select {
		case <-proc.Done():
			cancel()
			return nil
		case waitErr := <-ready:
			cancel()
			if waitErr != nil {
				return errors.ShutdownFailed(info.Port, waitErr)
			}
		}
	}
}

func (s *Server) specLocked() launch.Spec {
	st := s.opts.Settings
	return launch.Spec{
		Port:             s.info.Port,
		Token:            s.info.Token,
		Image:            st.Image,
		Tag:              st.Tag,
		StorageDir:       st.StorageDir,
		Volume:           st.Volume,
		ContainerName:    st.ContainerName(s.info.Port),
		MACAddress:       st.MACAddress,
		PodmanIP:         st.PodmanIP,
		ExtraDir:         s.info.ExtraDir,
		ServerArgs:       st.ServerArgs,
		OverrideDefaults: s.info.OverrideDefaults,
		UID:              s.opts.UID,
		GID:              s.opts.GID,
	}
}

// prepareExtraDir opens up the mounted directory on Linux, where the
// container user differs from the host user.
func (s *Server) prepareExtraDir(dir string) {
	if dir == "" || s.opts.GOOS != "linux" || !s.opts.FS.Exists(dir) {
		return
	}
	if err := s.opts.FS.Chmod(dir, 0777); err != nil {
		s.log.Warn("failed to change mode of extra directory", "dir", dir, "error", err)
	}
}

func (s *Server) removeScratch(script *launch.Script) {
	if script == nil || script.Dir == "" {
		return
	}
	if err := s.opts.FS.RemoveAll(script.Dir); err != nil {
		s.log.Debug("failed to remove scratch directory", "dir", script.Dir, "error", err)
	}
}

func (s *Server) setStateLocked(next State) {
	if s.state == next {
		return
	}
	s.opts.Metrics.StateTransition(s.state.String(), next.String())
	s.log.Debug("state change", "from", s.state, "to", next)
	s.state = next
}

func (s *Server) isStopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping
}

func (s *Server) port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info.Port
}

func (s *Server) event(t audit.EventType, details string) {
	p := s.port()
	e := audit.Event{
		Type:    t,
		Server:  s.opts.Settings.ContainerName(p),
		Port:    p,
		Details: details,
	}
	if err := s.opts.Events.Log(e); err != nil {
		s.log.Debug("failed to record event", "type", t, "error", err)
	}
}

func describeExit(status system.ExitStatus) string {
	if status.Signal != "" {
		return "signal " + status.Signal
	}
	return fmt.Sprintf("code %d", status.Code)
}

func exitError(status system.ExitStatus, proc system.Process) error {
	msg := fmt.Sprintf("server process exited with code %d", status.Code)
	if status.Signal != "" {
		msg = fmt.Sprintf("server process terminated by signal %s", status.Signal)
	}
	return errors.ProcessFailed(msg, status.Err).WithOutput(proc.Stdout(), proc.Stderr())
}
