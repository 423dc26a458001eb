package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/config"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/logging"
)

var (
	verbose    bool
	jsonOutput bool

	// v carries flag bindings into config.Load.
	v = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "forage-lab",
	Short: "Containerized notebook server launcher",
	Long: `forage-lab launches JupyterLab servers inside containers.

It keeps a registry of local Python runtimes, runs each notebook server
through Docker, Podman or TinyRange, and manages a pool of servers:
  - Runtime discovery with version checks
  - Supervised servers with restarts and readiness probing
  - Pre-warmed idle servers for fast startup`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Setup(verbose, jsonOutput, os.Stderr)
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	flags.BoolVar(&jsonOutput, "json", false, "Output logs in JSON format")
	flags.String("engine", "", "Container engine (docker, podman, tinyrange)")
	flags.String("image", "", "Container image")
	flags.String("tag", "", "Container image tag")

	_ = v.BindPFlag(config.KeyEngine, flags.Lookup("engine"))
	_ = v.BindPFlag(config.KeyImage, flags.Lookup("image"))
	_ = v.BindPFlag(config.KeyTag, flags.Lookup("tag"))

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
