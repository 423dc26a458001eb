package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/system"
)

// TinyRange runs the server image inside a TinyRange microVM. There is no
// named volume, container or local image cache to manage.
type TinyRange struct {
	Path string
	Exec system.CommandExecutor
	GOOS string
}

var _ Engine = (*TinyRange)(nil)

func (t *TinyRange) Name() string {
	return NameTinyRange
}

// hostPath converts a Windows path into the form tinyrange expects.
func (t *TinyRange) hostPath(p string) string {
	if t.GOOS == "windows" {
		return strings.ReplaceAll(p, `\`, "//")
	}
	return p
}

func (t *TinyRange) Plan(p Params) Plan {
	storage := t.hostPath(p.StorageDir)
	args := []string{
		t.Path, "login",
		"--buildDir", strings.TrimRight(storage, "/") + "/build",
		"--oci", p.Image,
		"--forward", fmt.Sprint(p.Port),
		"-m", "//lib/qemu:user",
		"--mount-rw", storage + ":/neurodesktop-storage",
	}
	if p.ExtraDir != "" {
		args = append(args, "--mount-rw", t.hostPath(p.ExtraDir)+":/data")
	}
	if len(p.ServerArgs) > 0 {
		script := "chmod 777 /dev/fuse;NEURODESKTOP_VERSION=" + p.Tag + ";" + strings.Join(p.ServerArgs, " ")
		args = append(args, "-E", script)
	}
	return Plan{Run: args}
}

// Stop kills the microVM processes.
func (t *TinyRange) Stop(ctx context.Context, p Params) error {
	c := system.Command{Name: "killall", Args: []string{"qemu-system-x86"}}
	if t.GOOS == "windows" {
		c = system.Command{Name: "taskkill", Args: []string{"/IM", "tinyrange", "/T", "/F"}}
	}
	res, err := t.Exec.Run(ctx, c)
	if err != nil {
		return fmt.Errorf("%s failed: %w", c.Name, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("%s exited with code %d: %s", c.Name, res.ExitCode, strings.TrimSpace(string(res.Stderr)))
	}
	return nil
}
