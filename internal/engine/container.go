package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/logging"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/system"
)

// ContainerEngine runs servers with Docker or Podman. Command selects the
// client binary.
type ContainerEngine struct {
	Command string
	Exec    system.CommandExecutor
	GOOS    string
}

var (
	_ Engine           = (*ContainerEngine)(nil)
	_ ContainerManager = (*ContainerEngine)(nil)
)

func (e *ContainerEngine) Name() string {
	return e.Command
}

func (e *ContainerEngine) isPodman() bool {
	return e.Command == NamePodman
}

func (e *ContainerEngine) Plan(p Params) Plan {
	plan := Plan{
		VolumeCreate: []string{e.Command, "volume", "create", p.Volume},
		StaleRemove:  []string{e.Command, "rm", "-f", p.ContainerName},
		ImageCheck:   []string{e.Command, "image", "inspect", p.Image, "--format=exists"},
		Pull:         []string{e.Command, "pull", "docker.io/" + p.Image},
		Run:          e.runArgs(p),
	}

	// podman volume exists is not available on every Windows client.
	if e.isPodman() && e.GOOS != "windows" {
		plan.VolumeCheck = []string{e.Command, "volume", "exists", p.Volume}
	} else {
		plan.VolumeCheck = []string{e.Command, "volume", "inspect", p.Volume}
	}
	if e.isPodman() {
		plan.StaleCheck = []string{e.Command, "container", "exists", p.ContainerName}
	} else {
		plan.StaleCheck = []string{e.Command, "container", "inspect", p.ContainerName}
	}
	return plan
}

func (e *ContainerEngine) runArgs(p Params) []string {
	args := []string{
		e.Command, "run", "--rm",
		"--shm-size=1gb",
		"--privileged",
		"--user=root",
		"--name", p.ContainerName,
		"-p", fmt.Sprintf("%d:%d", p.Port, p.Port),
		"-e", "NEURODESKTOP_VERSION=" + p.Tag,
	}
	if e.GOOS != "windows" && p.UID >= 0 && p.GID >= 0 {
		args = append(args,
			"-e", fmt.Sprintf("NB_UID=%d", p.UID),
			"-e", fmt.Sprintf("NB_GID=%d", p.GID),
		)
	}
	args = append(args, "-v", p.StorageDir+":/neurodesktop-storage")

	if e.isPodman() {
		args = append(args,
			"-v", p.Volume+":/home/jovyan",
			"--network", fmt.Sprintf("bridge:ip=%s,mac=%s", p.PodmanIP, p.MACAddress),
		)
	} else {
		args = append(args,
			"--mount", fmt.Sprintf("source=%s,target=/home/jovyan", p.Volume),
			"--mac-address="+p.MACAddress,
		)
	}

	if p.ExtraDir != "" {
		args = append(args, "-v", p.ExtraDir+":/data")
	}
	args = append(args, p.Image)
	return append(args, p.ServerArgs...)
}

// Stop removes the server container. Podman checks for the container
// first so that a server that never started does not log an error.
func (e *ContainerEngine) Stop(ctx context.Context, p Params) error {
	if e.isPodman() {
		res, err := e.Exec.Run(ctx, system.Command{Name: e.Command, Args: []string{"container", "exists", p.ContainerName}})
		if err != nil || res.ExitCode != 0 {
			logging.Debug("no container to stop", "container", p.ContainerName)
			return nil
		}
	}
	return e.Remove(ctx, p.ContainerName)
}

// Remove force-removes a container. A missing container is not an error.
func (e *ContainerEngine) Remove(ctx context.Context, name string) error {
	logging.Debug("removing container", "container", name, "engine", e.Command)

	res, err := e.Exec.Run(ctx, system.Command{Name: e.Command, Args: []string{"rm", "-f", name}})
	if err != nil {
		return fmt.Errorf("%s rm -f %s failed: %w", e.Command, name, err)
	}
	if res.ExitCode != 0 {
		stderr := string(res.Stderr)
		if strings.Contains(strings.ToLower(stderr), "no such container") {
			return nil
		}
		return fmt.Errorf("%s rm -f %s failed: %s", e.Command, name, strings.TrimSpace(stderr))
	}
	return nil
}

// List returns containers whose name starts with prefix.
func (e *ContainerEngine) List(ctx context.Context, prefix string) ([]Container, error) {
	res, err := e.Exec.Run(ctx, system.Command{
		Name: e.Command,
		Args: []string{"ps", "-a", "--filter", "name=" + prefix, "--format", "{{.Names}}\t{{.State}}\t{{.Status}}"},
	})
	if err != nil {
		return nil, fmt.Errorf("%s ps failed: %w", e.Command, err)
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("%s ps failed: %s", e.Command, strings.TrimSpace(string(res.Stderr)))
	}
	return parseContainerList(string(res.Stdout), prefix), nil
}

func parseContainerList(out, prefix string) []Container {
	var containers []Container
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, "\t", 3)
		name := strings.Trim(fields[0], "[]")
		// The engine filter matches substrings.
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		c := Container{Name: name}
		if len(fields) > 1 {
			c.State = fields[1]
		}
		if len(fields) > 2 {
			c.Status = fields[2]
		}
		containers = append(containers, c)
	}
	return containers
}
