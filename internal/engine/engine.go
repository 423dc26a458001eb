// Package engine defines the container engines that can host a notebook
// server. Each engine turns launch parameters into the command vectors a
// launch script runs, and knows how to stop what it started.
package engine

import (
	"context"
	"fmt"
	"runtime"

	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/system"
)

// Engine names accepted by New.
const (
	NameDocker    = "docker"
	NamePodman    = "podman"
	NameTinyRange = "tinyrange"
)

// Names lists every supported engine.
var Names = []string{NameDocker, NamePodman, NameTinyRange}

// Params describes one server launch.
type Params struct {
	Port          int
	Image         string // image reference including the tag
	Tag           string
	StorageDir    string
	Volume        string
	ContainerName string
	MACAddress    string
	PodmanIP      string

	// ExtraDir is an optional host directory mounted at /data.
	ExtraDir string

	// ServerArgs is the server command line with placeholders already
	// substituted. Empty when the image defaults are used.
	ServerArgs []string

	// UID and GID are passed to the image on Unix hosts; -1 omits them.
	UID int
	GID int
}

// Plan is the sequence of commands a launch script runs. Empty command
// vectors are skipped.
type Plan struct {
	// VolumeCheck failing triggers VolumeCreate.
	VolumeCheck  []string
	VolumeCreate []string

	// StaleCheck succeeding triggers StaleRemove.
	StaleCheck  []string
	StaleRemove []string

	// ImageCheck failing triggers Pull.
	ImageCheck []string
	Pull       []string

	// Run starts the server in the foreground.
	Run []string
}

// Engine is a server launch strategy.
type Engine interface {
	// Name returns the engine identifier.
	Name() string

	// Plan returns the launch commands for p.
	Plan(p Params) Plan

	// Stop removes whatever the launch for p started.
	Stop(ctx context.Context, p Params) error
}

// Container is an app-managed container reported by a ContainerManager.
type Container struct {
	Name   string
	State  string
	Status string
}

// ContainerManager is implemented by engines that manage named containers.
type ContainerManager interface {
	List(ctx context.Context, prefix string) ([]Container, error)
	Remove(ctx context.Context, name string) error
}

// Options configures engines built by New.
type Options struct {
	Exec          system.CommandExecutor
	GOOS          string
	TinyRangePath string
}

// New returns the engine called name.
func New(name string, opts Options) (Engine, error) {
	if opts.Exec == nil {
		opts.Exec = system.DefaultExecutor()
	}
	if opts.GOOS == "" {
		opts.GOOS = runtime.GOOS
	}

	switch name {
	case NameDocker, NamePodman:
		return &ContainerEngine{Command: name, Exec: opts.Exec, GOOS: opts.GOOS}, nil
	case NameTinyRange:
		return &TinyRange{Path: opts.TinyRangePath, Exec: opts.Exec, GOOS: opts.GOOS}, nil
	default:
		return nil, fmt.Errorf("unknown engine %q", name)
	}
}
