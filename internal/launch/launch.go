// Package launch renders and writes the scripts that start a notebook
// server through a container engine.
package launch

import (
	"fmt"
	"io/fs"
	"runtime"
	"strconv"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	shellquote "github.com/kballard/go-shellquote"

	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/engine"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/system"
)

// Platform selects the script dialect.
type Platform string

const (
	PlatformUnix    Platform = "unix"
	PlatformWindows Platform = "windows"
)

// PlatformFor maps a GOOS value onto a Platform.
func PlatformFor(goos string) Platform {
	if goos == "windows" {
		return PlatformWindows
	}
	return PlatformUnix
}

// HostPlatform returns the Platform of the running process.
func HostPlatform() Platform {
	return PlatformFor(runtime.GOOS)
}

// ScriptName returns the launch script file name for the platform.
func (p Platform) ScriptName() string {
	if p == PlatformWindows {
		return "launch.bat"
	}
	return "launch.sh"
}

// Spec describes the server a script launches.
type Spec struct {
	Port          int
	Token         string
	Image         string
	Tag           string
	StorageDir    string
	Volume        string
	ContainerName string
	MACAddress    string
	PodmanIP      string
	ExtraDir      string

	// ServerArgs is the server command line template. {port} and {token}
	// are substituted.
	ServerArgs []string

	// OverrideDefaults drops ServerArgs so the image entrypoint runs as is.
	OverrideDefaults bool

	UID int
	GID int
}

// Validate checks the fields every engine needs.
func (s Spec) Validate() error {
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("invalid port %d", s.Port)
	}
	if s.Token == "" {
		return fmt.Errorf("token is required")
	}
	if s.Image == "" {
		return fmt.Errorf("image is required")
	}
	return nil
}

// Params converts the spec into engine parameters.
func (s Spec) Params() engine.Params {
	p := engine.Params{
		Port:          s.Port,
		Image:         s.Image,
		Tag:           s.Tag,
		StorageDir:    s.StorageDir,
		Volume:        s.Volume,
		ContainerName: s.ContainerName,
		MACAddress:    s.MACAddress,
		PodmanIP:      s.PodmanIP,
		ExtraDir:      s.ExtraDir,
		UID:           s.UID,
		GID:           s.GID,
	}
	if !s.OverrideDefaults {
		p.ServerArgs = ExpandServerArgs(s.ServerArgs, s.Port, s.Token)
	}
	return p
}

// ExpandServerArgs substitutes {port} and {token} in every argument.
func ExpandServerArgs(template []string, port int, token string) []string {
	r := strings.NewReplacer("{port}", strconv.Itoa(port), "{token}", token)
	out := make([]string, 0, len(template))
	for _, arg := range template {
		out = append(out, r.Replace(arg))
	}
	return out
}

// Script is a launch script written to disk.
type Script struct {
	Dir      string
	Path     string
	Content  string
	Platform Platform
}

// Command returns the command that runs the script.
func (s *Script) Command() system.Command {
	if s.Platform == PlatformWindows {
		return system.Command{Name: "cmd.exe", Args: []string{"/C", s.Path}}
	}
	return system.Command{Name: "bash", Args: []string{s.Path}}
}

// Builder renders launch scripts and writes them to scratch directories.
type Builder struct {
	FS          system.FileSystem
	ScratchRoot string
	Platform    Platform
}

// NewBuilder returns a Builder for the host platform.
func NewBuilder(scratchRoot string) *Builder {
	return &Builder{
		FS:          system.DefaultFS(),
		ScratchRoot: scratchRoot,
		Platform:    HostPlatform(),
	}
}

// Render returns the script text for spec.
func (b *Builder) Render(spec Spec, eng engine.Engine) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}
	plan := eng.Plan(spec.Params())
	if len(plan.Run) == 0 {
		return "", fmt.Errorf("engine %s produced no run command", eng.Name())
	}
	if b.Platform == PlatformWindows {
		return renderBatch(plan), nil
	}
	return renderShell(plan), nil
}

// Build renders the script and writes it into a new directory under the
// scratch root. The caller removes Script.Dir when it is no longer needed.
func (b *Builder) Build(spec Spec, eng engine.Engine) (*Script, error) {
	content, err := b.Render(spec, eng)
	if err != nil {
		return nil, err
	}

	dir, err := b.FS.MkdirTemp(b.ScratchRoot, "forage-lab-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	path, err := securejoin.SecureJoin(dir, b.Platform.ScriptName())
	if err != nil {
		_ = b.FS.RemoveAll(dir)
		return nil, err
	}

	var mode fs.FileMode = 0644
	if b.Platform == PlatformUnix {
		mode = 0755
	}
	if err := b.FS.WriteFile(path, []byte(content), mode); err != nil {
		_ = b.FS.RemoveAll(dir)
		return nil, fmt.Errorf("failed to write launch script: %w", err)
	}

	return &Script{Dir: dir, Path: path, Content: content, Platform: b.Platform}, nil
}

func renderShell(plan engine.Plan) string {
	var sb strings.Builder
	sb.WriteString("#!/usr/bin/env bash\n")

	if len(plan.VolumeCheck) > 0 {
		fmt.Fprintf(&sb, "if ! %s >/dev/null 2>&1; then\n  %s\nfi\n",
			shellquote.Join(plan.VolumeCheck...), shellquote.Join(plan.VolumeCreate...))
	}
	if len(plan.StaleCheck) > 0 {
		fmt.Fprintf(&sb, "if %s >/dev/null 2>&1; then\n  %s >/dev/null 2>&1 || true\nfi\n",
			shellquote.Join(plan.StaleCheck...), shellquote.Join(plan.StaleRemove...))
	}
	if len(plan.ImageCheck) > 0 {
		fmt.Fprintf(&sb, "if ! %s >/dev/null 2>&1; then\n  %s || exit $?\nfi\n",
			shellquote.Join(plan.ImageCheck...), shellquote.Join(plan.Pull...))
	}
	fmt.Fprintf(&sb, "exec %s\n", shellquote.Join(plan.Run...))
	return sb.String()
}

func renderBatch(plan engine.Plan) string {
	var sb strings.Builder
	sb.WriteString("@echo off\r\nsetlocal\r\n")

	if len(plan.VolumeCheck) > 0 {
		fmt.Fprintf(&sb, "%s >NUL 2>&1 || %s\r\n", batchJoin(plan.VolumeCheck), batchJoin(plan.VolumeCreate))
	}
	if len(plan.StaleCheck) > 0 {
		fmt.Fprintf(&sb, "%s >NUL 2>&1 && %s >NUL 2>&1\r\n", batchJoin(plan.StaleCheck), batchJoin(plan.StaleRemove))
	}
	if len(plan.ImageCheck) > 0 {
		fmt.Fprintf(&sb, "%s >NUL 2>&1 || %s\r\n", batchJoin(plan.ImageCheck), batchJoin(plan.Pull))
	}
	fmt.Fprintf(&sb, "%s\r\n", batchJoin(plan.Run))
	return sb.String()
}

// batchJoin quotes arguments for cmd.exe.
func batchJoin(args []string) string {
	quoted := make([]string, 0, len(args))
	for _, arg := range args {
		arg = strings.ReplaceAll(arg, "%", "%%")
		if arg == "" || strings.ContainsAny(arg, " \t&|<>^;,=\"") {
			arg = `"` + strings.ReplaceAll(arg, `"`, `""`) + `"`
		}
		quoted = append(quoted, arg)
	}
	return strings.Join(quoted, " ")
}
