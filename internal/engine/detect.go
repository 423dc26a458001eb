package engine

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/logging"
)

// Detector checks which engines are installed.
type Detector struct {
	LookPath      func(string) (string, error)
	TinyRangePath string
}

// NewDetector returns a Detector that searches PATH.
func NewDetector(tinyRangePath string) *Detector {
	return &Detector{LookPath: exec.LookPath, TinyRangePath: tinyRangePath}
}

// Available reports whether the engine client can be run.
func (d *Detector) Available(name string) bool {
	switch name {
	case NameTinyRange:
		if d.TinyRangePath == "" {
			return false
		}
		_, err := os.Stat(d.TinyRangePath)
		return err == nil
	case NameDocker, NamePodman:
		_, err := d.LookPath(name)
		return err == nil
	default:
		return false
	}
}

// Detect returns preferred when it is available, otherwise the first
// installed container engine. Podman is preferred over Docker since it
// runs rootless.
func (d *Detector) Detect(preferred string) (string, error) {
	if preferred != "" && d.Available(preferred) {
		return preferred, nil
	}
	for _, name := range []string{NamePodman, NameDocker} {
		if d.Available(name) {
			if preferred != "" {
				logging.Warn("configured engine not found, falling back", "configured", preferred, "engine", name)
			}
			logging.Debug("detected engine", "engine", name)
			return name, nil
		}
	}
	return "", fmt.Errorf("no supported container engine found (tried: %s, podman, docker)", preferred)
}
