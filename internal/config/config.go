package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/spf13/viper"
)

const (
	AppName         = "forage-lab"
	EnvPrefix       = "FORAGE_LAB"
	ConfigName      = "config"
	ConfigType      = "toml"
	ContainerPrefix = "neurodeskapp-"
	VolumeName      = "neurodesk-home"
	DefaultImage    = "vnmd/neurodesktop"
	DefaultTag      = "latest"
	DefaultMAC      = "88:75:56:ef:3e:d6"
	DefaultPodmanIP = "10.88.0.10"

	// ServerTokenPrefix marks tokens of servers started by forage-lab.
	ServerTokenPrefix = "jlab:srvr:"
)

// Setting keys, shared by viper defaults, the config file and flag bindings.
const (
	KeyImage           = "image"
	KeyTag             = "tag"
	KeyEngine          = "engine"
	KeyStorageDir      = "storage_dir"
	KeyVolume          = "volume"
	KeyContainerPrefix = "container_prefix"
	KeyMACAddress      = "mac_address"
	KeyPodmanIP        = "podman_ip"
	KeyTinyRangePath   = "tinyrange_path"
	KeyServerArgs      = "server_args"
	KeyLaunchTimeout   = "launch_timeout"
	KeyRestartLimit    = "restart_limit"
	KeyPollInterval    = "poll_interval"
	KeyPortFrom        = "port_range.from"
	KeyPortTo          = "port_range.to"
	KeyMinVersion      = "min_version"
	KeyStateDir        = "state_dir"
	KeyScratchDir      = "scratch_dir"
	KeyWorkingDir      = "workspace.working_dir"
	KeyExtraDir        = "workspace.extra_dir"
	KeyOverride        = "workspace.override_defaults"
	KeyEnvVars         = "workspace.env_vars"
)

// ValidEngines lists the accepted container engine names.
var ValidEngines = []string{"docker", "podman", "tinyrange"}

// DefaultServerArgs is the default server command line. {port} and {token}
// are substituted at launch time.
var DefaultServerArgs = []string{
	"start-notebook.py",
	"--ServerApp.ip=0.0.0.0",
	"--ServerApp.port={port}",
	"--ServerApp.token={token}",
	"--ServerApp.allow_origin=*",
	"--ServerApp.open_browser=False",
}

// PortRange bounds the ports handed to servers. A zero range lets the OS choose.
type PortRange struct {
	From int `mapstructure:"from"`
	To   int `mapstructure:"to"`
}

// Settings holds the resolved application settings.
type Settings struct {
	Image           string        `mapstructure:"image"`
	Tag             string        `mapstructure:"tag"`
	Engine          string        `mapstructure:"engine"`
	StorageDir      string        `mapstructure:"storage_dir"`
	Volume          string        `mapstructure:"volume"`
	ContainerPrefix string        `mapstructure:"container_prefix"`
	MACAddress      string        `mapstructure:"mac_address"`
	PodmanIP        string        `mapstructure:"podman_ip"`
	TinyRangePath   string        `mapstructure:"tinyrange_path"`
	ServerArgs      []string      `mapstructure:"server_args"`
	LaunchTimeout   time.Duration `mapstructure:"launch_timeout"`
	RestartLimit    int           `mapstructure:"restart_limit"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	PortRange       PortRange     `mapstructure:"port_range"`
	MinVersion      string        `mapstructure:"min_version"`
	StateDir        string        `mapstructure:"state_dir"`
	ScratchDir      string        `mapstructure:"scratch_dir"`
	Workspace       Workspace     `mapstructure:"workspace"`
}

// Workspace holds the per-workspace server settings stored in the config file.
type Workspace struct {
	WorkingDir       string            `mapstructure:"working_dir"`
	ExtraDir         string            `mapstructure:"extra_dir"`
	OverrideDefaults bool              `mapstructure:"override_defaults"`
	EnvVars          map[string]string `mapstructure:"env_vars"`
}

// ImageRef returns the image reference including its tag.
func (s *Settings) ImageRef() string {
	return s.Image + ":" + s.Tag
}

// ContainerName returns the container name for a server port.
func (s *Settings) ContainerName(port int) string {
	return fmt.Sprintf("%s%d", s.ContainerPrefix, port)
}

// Validate checks that the settings are usable.
func (s *Settings) Validate() error {
	if s.Image == "" {
		return fmt.Errorf("image is required")
	}
	if s.Tag == "" {
		return fmt.Errorf("tag is required")
	}
	if !isValidEngine(s.Engine) {
		return fmt.Errorf("invalid engine: %s (must be one of %s)", s.Engine, strings.Join(ValidEngines, ", "))
	}
	if s.LaunchTimeout <= 0 {
		return fmt.Errorf("launch_timeout must be positive (got %s)", s.LaunchTimeout)
	}
	if s.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive (got %s)", s.PollInterval)
	}
	if s.RestartLimit < 0 {
		return fmt.Errorf("restart_limit cannot be negative (got %d)", s.RestartLimit)
	}
	if s.PortRange.From < 0 || s.PortRange.To > 65535 || s.PortRange.From > s.PortRange.To {
		return fmt.Errorf("invalid port range %d-%d", s.PortRange.From, s.PortRange.To)
	}
	if _, err := semver.NewConstraint(s.MinVersion); err != nil {
		return fmt.Errorf("invalid min_version %q: %w", s.MinVersion, err)
	}
	return nil
}

func isValidEngine(name string) bool {
	for _, e := range ValidEngines {
		if e == name {
			return true
		}
	}
	return false
}

// SetDefaults registers the default value of every setting on v.
func SetDefaults(v *viper.Viper) {
	home, _ := os.UserHomeDir()

	storage := filepath.Join(home, "neurodesktop-storage")
	if runtime.GOOS == "windows" {
		storage = "C://neurodesktop-storage"
	}

	v.SetDefault(KeyImage, DefaultImage)
	v.SetDefault(KeyTag, DefaultTag)
	v.SetDefault(KeyEngine, "docker")
	v.SetDefault(KeyStorageDir, storage)
	v.SetDefault(KeyVolume, VolumeName)
	v.SetDefault(KeyContainerPrefix, ContainerPrefix)
	v.SetDefault(KeyMACAddress, DefaultMAC)
	v.SetDefault(KeyPodmanIP, DefaultPodmanIP)
	v.SetDefault(KeyTinyRangePath, defaultTinyRangePath())
	v.SetDefault(KeyServerArgs, DefaultServerArgs)
	v.SetDefault(KeyLaunchTimeout, 15*time.Minute)
	v.SetDefault(KeyRestartLimit, 1)
	v.SetDefault(KeyPollInterval, 500*time.Millisecond)
	v.SetDefault(KeyPortFrom, 0)
	v.SetDefault(KeyPortTo, 0)
	v.SetDefault(KeyMinVersion, ">=3.0.0")
	v.SetDefault(KeyStateDir, defaultStateDir())
	v.SetDefault(KeyScratchDir, os.TempDir())
	v.SetDefault(KeyWorkingDir, home)
	v.SetDefault(KeyExtraDir, "")
	v.SetDefault(KeyOverride, false)
	v.SetDefault(KeyEnvVars, map[string]string{})
}

// Load reads settings from defaults, the optional config file in configDir
// and FORAGE_LAB_* environment variables. Flags bound to v take precedence.
func Load(v *viper.Viper, configDir string) (*Settings, error) {
	if v == nil {
		v = viper.New()
	}

	SetDefaults(v)
	v.SetConfigName(ConfigName)
	v.SetConfigType(ConfigType)
	if configDir != "" {
		v.AddConfigPath(configDir)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}

	s.StorageDir = ExpandHome(s.StorageDir)
	s.StateDir = ExpandHome(s.StateDir)
	s.ScratchDir = ExpandHome(s.ScratchDir)
	s.TinyRangePath = ExpandHome(s.TinyRangePath)
	s.Workspace.EnvVars = normalizeEnvVars(s.Workspace.EnvVars)

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return &s, nil
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") && !strings.HasPrefix(path, `~\`) {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// ResolveWorkingDirectory turns a configured working directory into an
// absolute path. Empty means the home directory and relative paths are
// taken relative to it.
func ResolveWorkingDirectory(dir string) string {
	home, _ := os.UserHomeDir()
	dir = ExpandHome(strings.TrimSpace(dir))
	if dir == "" {
		return home
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(home, dir)
	}
	return filepath.Clean(dir)
}

func defaultTinyRangePath() string {
	name := "tinyrange"
	if runtime.GOOS == "windows" {
		name = "tinyrange.exe"
	}
	exe, err := os.Executable()
	if err != nil {
		return name
	}
	return filepath.ToSlash(filepath.Join(filepath.Dir(exe), "tinyrange", name))
}

func defaultStateDir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, AppName)
	}
	if runtime.GOOS == "windows" {
		if dir, err := os.UserCacheDir(); err == nil {
			return filepath.Join(dir, AppName)
		}
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "state", AppName)
}

// Paths holds the configured paths
type Paths struct {
	ConfigDir  string
	StateDir   string
	DataDir    string
	AuditDir   string
	ScratchDir string
}

// DefaultPaths returns the default path configuration
func DefaultPaths() *Paths {
	configDir := filepath.Join(".", AppName)
	if dir, err := os.UserConfigDir(); err == nil {
		configDir = filepath.Join(dir, AppName)
	}
	if dir := os.Getenv(EnvPrefix + "_CONFIG_DIR"); dir != "" {
		configDir = dir
	}
	return NewPaths(configDir, defaultStateDir(), os.TempDir())
}

// NewPaths derives the full path layout from its three roots.
func NewPaths(configDir, stateDir, scratchDir string) *Paths {
	return &Paths{
		ConfigDir:  configDir,
		StateDir:   stateDir,
		DataDir:    filepath.Join(configDir, "jupyter"),
		AuditDir:   filepath.Join(stateDir, "audit"),
		ScratchDir: scratchDir,
	}
}

// WithSettings returns a copy of p with the state and scratch roots taken
// from s.
func (p *Paths) WithSettings(s *Settings) *Paths {
	return NewPaths(p.ConfigDir, s.StateDir, s.ScratchDir)
}
