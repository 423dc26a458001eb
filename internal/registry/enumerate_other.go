//go:build !windows

package registry

func registryInstallPaths() ([]string, error) {
	return nil, nil
}
