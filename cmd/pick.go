package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/logging"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/registry"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/tui"
)

var pickCmd = &cobra.Command{
	Use:   "pick",
	Short: "Interactive environment picker",
	Long: `Opens an interactive TUI for choosing the default runtime environment.

Use arrow keys or j/k to navigate, / to filter, Enter to select.

Actions:
  Enter  - Make the selected environment the default
  a      - Add an environment by executable path
  q/Esc  - Quit`,
	Args: cobra.NoArgs,
	RunE: runPick,
}

var pickPlain bool

func init() {
	pickCmd.Flags().BoolVar(&pickPlain, "plain", false, "Print the list without the interactive picker")
	envsCmd.AddCommand(pickCmd)
}

func runPick(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withRegistry(ctx, func(reg *registry.Registry) error {
		logging.Debug("picker mode started")

		envs, err := reg.EnvironmentList(ctx, false)
		if err != nil {
			return fmt.Errorf("failed to list environments: %w", err)
		}
		defaultPath := ""
		if def := reg.CurrentDefault(); def != nil {
			defaultPath = def.Path
		}

		if pickPlain {
			fmt.Fprint(cmd.OutOrStdout(), tui.SimplePicker(envs, defaultPath))
			return nil
		}

		result, err := tui.RunPicker(envs, defaultPath)
		if err != nil {
			return fmt.Errorf("picker error: %w", err)
		}

		logging.Debug("picker result", "action", result.Action)

		switch result.Action {
		case tui.ActionSelect:
			if result.Environment != nil {
				if err := reg.SetDefaultEnvironment(ctx, result.Environment.Path); err != nil {
					return err
				}
				logSuccess("Default environment set to %s", result.Environment.Name)
			}

		case tui.ActionAdd:
			env, err := reg.AddEnvironment(ctx, result.Path)
			if err != nil {
				return err
			}
			logSuccess("Added %s (%s)", env.Name, env.Path)

		case tui.ActionQuit:
			// Just exit cleanly
		}

		return nil
	})
}
