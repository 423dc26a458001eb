//go:build windows

package registry

import (
	"errors"

	"golang.org/x/sys/windows/registry"
)

const pythonCoreKey = `SOFTWARE\Python\PythonCore`

// registryInstallPaths reads the InstallPath of every Python registered for
// the current user.
func registryInstallPaths() ([]string, error) {
	core, err := registry.OpenKey(registry.CURRENT_USER, pythonCoreKey, registry.ENUMERATE_SUB_KEYS)
	if err != nil {
		if errors.Is(err, registry.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer core.Close()

	versions, err := core.ReadSubKeyNames(-1)
	if err != nil {
		return nil, err
	}

	var dirs []string
	for _, version := range versions {
		k, err := registry.OpenKey(core, version+`\InstallPath`, registry.QUERY_VALUE)
		if err != nil {
			continue
		}
		dir, _, err := k.GetStringValue("")
		k.Close()
		if err == nil && dir != "" {
			dirs = append(dirs, dir)
		}
	}
	return dirs, nil
}
