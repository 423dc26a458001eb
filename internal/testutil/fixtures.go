package testutil

import (
	"embed"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"

	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/config"
)

//go:embed fixtures/*.toml
var fixturesFS embed.FS

// LoadFixture loads a fixture file by name.
func LoadFixture(name string) ([]byte, error) {
	return fixturesFS.ReadFile("fixtures/" + name)
}

// WriteFixture copies a fixture to dir/target and returns its path.
func WriteFixture(t *testing.T, name, dir, target string) string {
	t.Helper()

	data, err := LoadFixture(name)
	if err != nil {
		t.Fatalf("Failed to load fixture %s: %v", name, err)
	}
	path := filepath.Join(dir, target)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to write fixture %s: %v", path, err)
	}
	return path
}

// LoadSettingsFixture loads a settings fixture through config.Load as
// config.toml in a temporary config dir.
func LoadSettingsFixture(t *testing.T, name string) (*config.Settings, error) {
	t.Helper()

	dir := t.TempDir()
	WriteFixture(t, name, dir, config.ConfigName+"."+config.ConfigType)
	return config.Load(viper.New(), dir)
}

// ValidSettings returns the valid settings fixture.
func ValidSettings(t *testing.T) *config.Settings {
	t.Helper()

	s, err := LoadSettingsFixture(t, "valid_config.toml")
	if err != nil {
		t.Fatalf("Failed to load valid settings: %v", err)
	}
	return s
}

// InvalidSettingsError returns the error from loading the invalid fixture.
func InvalidSettingsError(t *testing.T) error {
	t.Helper()

	_, err := LoadSettingsFixture(t, "invalid_config.toml")
	return err
}
