package session

import (
	"path/filepath"
	"sort"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
)

const (
	envConfigDir     = "JUPYTER_CONFIG_DIR"
	envWorkspacesDir = "JUPYTERLAB_WORKSPACES_DIR"
	pathPlaceholder  = "{PATH}"
)

// envList is an ordered environment with lookups by variable name. Names
// are case-insensitive on Windows.
type envList struct {
	goos  string
	vars  []string
	index map[string]int
}

func newEnvList(base []string, goos string) *envList {
	l := &envList{goos: goos, index: make(map[string]int, len(base))}
	for _, kv := range base {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		l.set(k, v)
	}
	return l
}

func (l *envList) key(name string) string {
	if l.goos == "windows" {
		return strings.ToUpper(name)
	}
	return name
}

func (l *envList) get(name string) string {
	i, ok := l.index[l.key(name)]
	if !ok {
		return ""
	}
	_, v, _ := strings.Cut(l.vars[i], "=")
	return v
}

func (l *envList) set(name, value string) {
	kv := name + "=" + value
	if i, ok := l.index[l.key(name)]; ok {
		l.vars[i] = kv
		return
	}
	l.index[l.key(name)] = len(l.vars)
	l.vars = append(l.vars, kv)
}

// processEnv builds the server process environment from base. User
// variables are applied in name order; a PATH value may embed the current
// PATH as {PATH}.
func processEnv(base []string, goos, configDir, workdir string, user map[string]string) ([]string, error) {
	workspaces, err := securejoin.SecureJoin(workdir, filepath.Join(".jupyter", "desktop-workspaces"))
	if err != nil {
		return nil, err
	}

	env := newEnvList(base, goos)
	if configDir != "" {
		env.set(envConfigDir, configDir)
	}
	env.set(envWorkspacesDir, workspaces)

	names := make([]string, 0, len(user))
	for k := range user {
		names = append(names, k)
	}
	sort.Strings(names)

	current := env.get("PATH")
	for _, k := range names {
		v := user[k]
		if env.key(k) == env.key("PATH") {
			v = strings.ReplaceAll(v, pathPlaceholder, current)
		}
		env.set(k, v)
	}
	return env.vars, nil
}
