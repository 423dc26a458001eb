package registry

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/environment"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/logging"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/system"
)

// Enumerator yields candidate runtime executables for discovery.
type Enumerator interface {
	Enumerate(ctx context.Context) ([]environment.Candidate, error)
}

// EnumeratorFunc adapts a function to Enumerator.
type EnumeratorFunc func(ctx context.Context) ([]environment.Candidate, error)

func (f EnumeratorFunc) Enumerate(ctx context.Context) ([]environment.Candidate, error) {
	return f(ctx)
}

// StaticEnumerator returns a fixed candidate list.
func StaticEnumerator(candidates ...environment.Candidate) Enumerator {
	return EnumeratorFunc(func(context.Context) ([]environment.Candidate, error) {
		return append([]environment.Candidate(nil), candidates...), nil
	})
}

// condaRoots are the home-relative install locations probed for conda.
var condaRoots = []string{"anaconda3", "anaconda", "miniconda3", "miniconda"}

// PlatformEnumerator finds runtimes in the places they are normally
// installed on the host platform.
type PlatformEnumerator struct {
	FS          system.FileSystem
	Home        string
	RuntimeRoot string
	GOOS        string

	// LookPath resolves executables on PATH.
	LookPath func(string) (string, error)

	// RegistryPaths returns install directories recorded in the Windows
	// registry. Nil on other platforms.
	RegistryPaths func() ([]string, error)

	Logger *slog.Logger
}

// NewPlatformEnumerator returns an enumerator for the running platform.
func NewPlatformEnumerator(runtimeRoot string) *PlatformEnumerator {
	home, _ := os.UserHomeDir()
	return &PlatformEnumerator{
		FS:            system.DefaultFS(),
		Home:          home,
		RuntimeRoot:   runtimeRoot,
		GOOS:          runtime.GOOS,
		LookPath:      exec.LookPath,
		RegistryPaths: registryInstallPaths,
	}
}

// RootExecutable returns the interpreter inside an install root.
func RootExecutable(goos, root string) string {
	if goos == "windows" {
		return filepath.Join(root, "python.exe")
	}
	return filepath.Join(root, "bin", "python")
}

func (e *PlatformEnumerator) Enumerate(ctx context.Context) ([]environment.Candidate, error) {
	var out []environment.Candidate

	if e.GOOS == "windows" {
		if e.RegistryPaths != nil {
			dirs, err := e.RegistryPaths()
			if err != nil {
				e.logger().Warn("failed to read install paths from the registry", "error", err)
			}
			for _, dir := range dirs {
				out = append(out, environment.Candidate{
					Path: filepath.Join(dir, "python.exe"),
					Kind: environment.PlatformRegistry,
				})
			}
		}
	} else if e.LookPath != nil {
		for _, name := range []string{"python3", "python"} {
			if p, err := e.LookPath(name); err == nil {
				out = append(out, environment.Candidate{Path: p, Kind: environment.PathDefault})
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	roots := make([]string, 0, len(condaRoots)+1)
	if e.RuntimeRoot != "" {
		roots = append(roots, e.RuntimeRoot)
	}
	if e.Home != "" {
		for _, name := range condaRoots {
			roots = append(roots, filepath.Join(e.Home, name))
		}
	}

	for _, root := range roots {
		if !e.FS.IsDir(root) {
			continue
		}
		if exe := RootExecutable(e.GOOS, root); e.FS.Exists(exe) {
			out = append(out, environment.Candidate{Path: exe, Kind: environment.ManagerRoot})
		}
		out = append(out, e.managedEnvs(root)...)
	}

	return out, nil
}

func (e *PlatformEnumerator) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return logging.Component("registry")
}

func (e *PlatformEnumerator) managedEnvs(root string) []environment.Candidate {
	entries, err := e.FS.ReadDir(filepath.Join(root, "envs"))
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	var out []environment.Candidate
	for _, name := range names {
		exe := RootExecutable(e.GOOS, filepath.Join(root, "envs", name))
		if e.FS.Exists(exe) {
			out = append(out, environment.Candidate{Path: exe, Kind: environment.ManagedEnv})
		}
	}
	return out
}
