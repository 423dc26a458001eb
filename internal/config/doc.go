// Package config provides settings and path layout for forage-lab.
//
// # Settings
//
// Settings are resolved through viper in increasing precedence:
//
//   - built-in defaults (SetDefaults)
//   - config.toml in the config directory
//   - FORAGE_LAB_* environment variables (dots become underscores, so
//     port_range.from is FORAGE_LAB_PORT_RANGE_FROM)
//   - command-line flags bound to the same viper instance
//
// Example config.toml:
//
//	engine = "podman"
//	tag = "2024-05-25"
//	launch_timeout = "10m"
//
//	[port_range]
//	from = 8888
//	to = 8988
//
//	[workspace]
//	extra_dir = "~/datasets"
//	env_vars = { PATH = "/opt/tools/bin:{PATH}" }
//
// # Workspace Settings
//
// ForWorkspace layers a per-directory .forage-lab.toml over the global
// workspace section. WorkspaceSettings.Apply layers request overrides on top.
//
// # Paths
//
// Paths holds the config, state, data, audit and scratch directories.
// The config directory can be moved with FORAGE_LAB_CONFIG_DIR.
package config
