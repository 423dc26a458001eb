package config

import (
	"errors"
	"fmt"
	"maps"
	"strings"

	"github.com/spf13/viper"
)

// WorkspaceFileName is the optional per-workspace settings file, looked up
// in the working directory.
const WorkspaceFileName = ".forage-lab"

// WorkspaceSettings are the server settings that apply to one working
// directory. Global settings provide the defaults; a workspace file and
// per-request overrides refine them.
type WorkspaceSettings struct {
	WorkingDirectory string
	Engine           string
	ExtraDir         string
	OverrideDefaults bool
	EnvVars          map[string]string
}

// WorkspaceOverrides carries per-request changes. Nil fields keep the
// underlying value.
type WorkspaceOverrides struct {
	Engine           *string
	ExtraDir         *string
	OverrideDefaults *bool
	EnvVars          map[string]string
}

// ForWorkspace resolves the settings for workingDir. An empty workingDir
// selects the configured default.
func (s *Settings) ForWorkspace(workingDir string) (WorkspaceSettings, error) {
	if workingDir == "" {
		workingDir = s.Workspace.WorkingDir
	}
	dir := ResolveWorkingDirectory(workingDir)

	ws := WorkspaceSettings{
		WorkingDirectory: dir,
		Engine:           s.Engine,
		ExtraDir:         s.Workspace.ExtraDir,
		OverrideDefaults: s.Workspace.OverrideDefaults,
		EnvVars:          maps.Clone(s.Workspace.EnvVars),
	}
	if ws.EnvVars == nil {
		ws.EnvVars = map[string]string{}
	}

	v := viper.New()
	v.SetConfigName(WorkspaceFileName)
	v.SetConfigType(ConfigType)
	v.AddConfigPath(dir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return ws, nil
		}
		return ws, fmt.Errorf("read workspace settings in %s: %w", dir, err)
	}

	if v.IsSet("engine") {
		ws.Engine = v.GetString("engine")
	}
	if v.IsSet("extra_dir") {
		ws.ExtraDir = v.GetString("extra_dir")
	}
	if v.IsSet("override_defaults") {
		ws.OverrideDefaults = v.GetBool("override_defaults")
	}
	maps.Copy(ws.EnvVars, normalizeEnvVars(v.GetStringMapString("env_vars")))

	if !isValidEngine(ws.Engine) {
		return ws, fmt.Errorf("invalid engine in workspace settings: %s", ws.Engine)
	}
	return ws, nil
}

// Apply returns a copy of ws with the overrides applied.
func (ws WorkspaceSettings) Apply(o WorkspaceOverrides) WorkspaceSettings {
	out := ws
	out.EnvVars = maps.Clone(ws.EnvVars)
	if out.EnvVars == nil {
		out.EnvVars = map[string]string{}
	}
	if o.Engine != nil {
		out.Engine = *o.Engine
	}
	if o.ExtraDir != nil {
		out.ExtraDir = *o.ExtraDir
	}
	if o.OverrideDefaults != nil {
		out.OverrideDefaults = *o.OverrideDefaults
	}
	maps.Copy(out.EnvVars, o.EnvVars)
	return out
}

// normalizeEnvVars upper-cases variable names. Viper folds keys to lower
// case, so names read from settings files lose their original case.
func normalizeEnvVars(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[strings.ToUpper(k)] = v
	}
	return out
}
