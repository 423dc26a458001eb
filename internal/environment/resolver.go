package environment

import (
	"bufio"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/errors"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/system"
)

//go:embed probe.py
var probeScript string

// ProbeScript returns the embedded introspection script.
func ProbeScript() string {
	return probeScript
}

// ResolveResult is delivered by ResolveAsync.
type ResolveResult struct {
	Env *RuntimeEnvironment
	Err error
}

// Resolver turns executable paths into RuntimeEnvironments.
type Resolver struct {
	exec    system.CommandExecutor
	fs      system.FileSystem
	reqs    []VersionRequirement
	goos    string
	environ func() []string
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithExecutor sets the command executor.
func WithExecutor(e system.CommandExecutor) ResolverOption {
	return func(r *Resolver) { r.exec = e }
}

// WithFileSystem sets the file system used for existence checks.
func WithFileSystem(fs system.FileSystem) ResolverOption {
	return func(r *Resolver) { r.fs = fs }
}

// WithPlatform overrides the target GOOS.
func WithPlatform(goos string) ResolverOption {
	return func(r *Resolver) { r.goos = goos }
}

// WithEnviron sets the base environment for probe processes.
func WithEnviron(fn func() []string) ResolverOption {
	return func(r *Resolver) { r.environ = fn }
}

// NewResolver creates a resolver that probes for the modules named by reqs.
func NewResolver(reqs []VersionRequirement, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		exec:    system.DefaultExecutor(),
		fs:      system.DefaultFS(),
		reqs:    reqs,
		goos:    runtime.GOOS,
		environ: os.Environ,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Requirements returns the requirements the resolver probes for.
func (r *Resolver) Requirements() []VersionRequirement {
	return r.reqs
}

// Resolve introspects the runtime at path.
func (r *Resolver) Resolve(ctx context.Context, path string) (*RuntimeEnvironment, error) {
	return r.ResolveCandidate(ctx, Candidate{Path: path, Kind: PathDefault})
}

// ResolveAsync runs Resolve in a goroutine. The channel receives exactly
// one result and is then closed.
func (r *Resolver) ResolveAsync(ctx context.Context, path string) <-chan ResolveResult {
	ch := make(chan ResolveResult, 1)
	go func() {
		defer close(ch)
		env, err := r.Resolve(ctx, path)
		ch <- ResolveResult{Env: env, Err: err}
	}()
	return ch
}

// ResolveCandidate resolves a discovered candidate, honouring its kind hint.
func (r *Resolver) ResolveCandidate(ctx context.Context, c Candidate) (*RuntimeEnvironment, error) {
	if _, err := r.fs.Lstat(c.Path); err != nil {
		return nil, errors.NotFound(c.Path)
	}

	args := []string{"-c", probeScript}
	for _, req := range r.reqs {
		args = append(args, req.Module)
	}

	out, err := r.output(ctx, c.Path, args)
	if err != nil {
		return nil, err
	}

	env, err := r.parse(c.Path, out)
	if err != nil {
		return nil, err
	}
	if c.Kind == PlatformRegistry && env.Kind == PathDefault {
		env.Kind = PlatformRegistry
		env.Name = displayName(PlatformRegistry, strings.TrimPrefix(env.Name, PathDefault.DisplayName()+": "))
	}
	return env, nil
}

// ModuleVersion runs "<path> -m <module> <probe command>" and returns the
// reported version.
func (r *Resolver) ModuleVersion(ctx context.Context, path string, req VersionRequirement) (string, error) {
	out, err := r.RunModule(ctx, path, req.Module, req.ProbeCommand...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(lastLine(out)), nil
}

// RunModule runs a module of the runtime at path and returns its output.
func (r *Resolver) RunModule(ctx context.Context, path, module string, args ...string) (string, error) {
	out, err := r.output(ctx, path, append([]string{"-m", module}, args...))
	if err != nil {
		return "", err
	}
	if strings.Contains(out, "No module named "+module) {
		return "", errors.ProbeFailed(path, fmt.Errorf("module %s is not installed", module))
	}
	if strings.Contains(out, "Error executing Jupyter command") {
		return "", errors.ProbeFailed(path, fmt.Errorf("%s", strings.TrimSpace(out)))
	}
	return out, nil
}

// output runs the executable and returns stdout, or stderr when stdout is
// empty.
func (r *Resolver) output(ctx context.Context, path string, args []string) (string, error) {
	current, _ := system.GetEnv(r.environ(), "PATH")
	env := system.SetEnv(r.environ(), "PATH", SearchPath(r.goos, path, current))

	res, err := r.exec.Run(ctx, system.Command{Name: path, Args: args, Env: env})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", errors.ProbeFailed(path, err).WithOutput(string(res.Stdout), string(res.Stderr))
	}
	if res.ExitCode != 0 {
		return "", errors.ProbeFailed(path, fmt.Errorf("exit code %d", res.ExitCode)).
			WithOutput(string(res.Stdout), string(res.Stderr))
	}

	stdout := strings.TrimSpace(string(res.Stdout))
	if stdout != "" {
		return stdout, nil
	}
	stderr := strings.TrimSpace(string(res.Stderr))
	if stderr != "" {
		return stderr, nil
	}
	return "", errors.ProbeFailed(path, fmt.Errorf("%s %s produced no output", path, args[0]))
}

type probeOutput struct {
	Type          string            `json:"type"`
	Name          *string           `json:"name"`
	Versions      map[string]string `json:"versions"`
	DefaultKernel string            `json:"defaultKernel"`
}

func (r *Resolver) parse(path, out string) (*RuntimeEnvironment, error) {
	line := jsonLine(out)
	if line == "" {
		return nil, errors.MalformedOutput(path, fmt.Errorf("no JSON object in output"))
	}

	var p probeOutput
	if err := json.Unmarshal([]byte(line), &p); err != nil {
		return nil, errors.MalformedOutput(path, err)
	}
	kind, ok := probeKinds[p.Type]
	if !ok {
		return nil, errors.MalformedOutput(path, fmt.Errorf("unknown environment type %q", p.Type))
	}
	if p.Name == nil || p.Versions == nil {
		return nil, errors.MalformedOutput(path, fmt.Errorf("missing name or versions"))
	}

	versions := make(map[string]string, len(p.Versions))
	for k, v := range p.Versions {
		versions[k] = v
	}
	for _, req := range r.reqs {
		if v, ok := p.Versions[req.Module]; ok {
			versions[req.Name] = v
		}
	}

	return &RuntimeEnvironment{
		Path:          path,
		Kind:          kind,
		Name:          displayName(kind, *p.Name),
		Versions:      versions,
		DefaultKernel: p.DefaultKernel,
	}, nil
}

func displayName(k Kind, name string) string {
	return k.DisplayName() + ": " + name
}

// jsonLine returns the last line of out that looks like a JSON object.
func jsonLine(out string) string {
	var found string
	sc := bufio.NewScanner(strings.NewReader(out))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "{") {
			found = line
		}
	}
	return found
}

func lastLine(out string) string {
	out = strings.TrimSpace(out)
	if i := strings.LastIndexByte(out, '\n'); i >= 0 {
		return out[i+1:]
	}
	return out
}
