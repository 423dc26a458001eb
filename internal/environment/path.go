package environment

import (
	"path/filepath"
	"strings"
)

// SearchPath returns a PATH value that puts the environment's own binary
// directories ahead of current. goos selects the layout.
func SearchPath(goos, executable, current string) string {
	if goos == "windows" {
		dir := winDir(executable)
		parts := []string{
			dir,
			dir + `\Library\mingw-w64\bin`,
			dir + `\Library\usr\bin`,
			dir + `\Library\bin`,
			dir + `\Scripts`,
			dir + `\bin`,
		}
		if current != "" {
			parts = append(parts, current)
		}
		return strings.Join(parts, ";")
	}

	root := filepath.Clean(filepath.Join(filepath.Dir(executable), ".."))
	parts := []string{root, filepath.Join(root, "bin")}
	if current != "" {
		parts = append(parts, current)
	}
	return strings.Join(parts, ":")
}

// winDir returns the directory of a Windows path independent of the host OS.
func winDir(p string) string {
	p = strings.ReplaceAll(p, "/", `\`)
	if i := strings.LastIndex(p, `\`); i > 0 {
		return p[:i]
	}
	return "."
}
