package environment

import (
	"fmt"
	"maps"
	"path/filepath"
)

// Kind classifies how a runtime environment was installed. The numeric order
// is the sort priority used when listing environments.
type Kind int

const (
	PathDefault Kind = iota
	ManagerRoot
	PlatformRegistry
	ManagedEnv
)

var kindNames = map[Kind]string{
	PathDefault:      "path-default",
	ManagerRoot:      "manager-root",
	PlatformRegistry: "platform-registry",
	ManagedEnv:       "managed-env",
}

var kindDisplayNames = map[Kind]string{
	PathDefault:      "Global",
	ManagerRoot:      "Conda Root",
	PlatformRegistry: "Windows Registry",
	ManagedEnv:       "Environment",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// DisplayName is the prefix used in environment display names.
func (k Kind) DisplayName() string {
	if s, ok := kindDisplayNames[k]; ok {
		return s
	}
	return k.String()
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown environment kind %q", s)
}

// probeKinds maps the probe script's type field onto kinds.
var probeKinds = map[string]Kind{
	"path":       PathDefault,
	"conda-root": ManagerRoot,
	"conda-env":  ManagedEnv,
	"venv":       ManagedEnv,
	"registry":   PlatformRegistry,
}

// RuntimeEnvironment is a resolved runtime installation. Values are never
// mutated after construction; re-resolution produces a new one.
type RuntimeEnvironment struct {
	// Path is the executable path as supplied by the caller.
	Path          string
	Kind          Kind
	Name          string
	Versions      map[string]string
	DefaultKernel string
}

// CanonicalPath returns the identity of the environment.
func (e *RuntimeEnvironment) CanonicalPath() string {
	return CanonicalPath(e.Path)
}

// Version returns the recorded version for a requirement or module name.
func (e *RuntimeEnvironment) Version(name string) string {
	return e.Versions[name]
}

// Clone returns a deep copy.
func (e *RuntimeEnvironment) Clone() *RuntimeEnvironment {
	out := *e
	out.Versions = maps.Clone(e.Versions)
	return &out
}

// Placeholder returns the environment used when no runtime is known.
func Placeholder() *RuntimeEnvironment {
	return &RuntimeEnvironment{
		Path:          "python",
		Kind:          PathDefault,
		Name:          "python",
		Versions:      map[string]string{},
		DefaultKernel: "python3",
	}
}

// Candidate is a discovered path awaiting resolution. Kind is a hint from
// the discovery source; only PlatformRegistry overrides the probed kind.
type Candidate struct {
	Path string
	Kind Kind
}

// CanonicalPath resolves symlinks, falling back to a cleaned absolute path
// when the target cannot be resolved.
func CanonicalPath(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return filepath.Clean(path)
}
