package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/audit"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/logging"
)

var downCmd = &cobra.Command{
	Use:   "down <port>",
	Short: "Remove the server container for a port",
	Args:  cobra.ExactArgs(1),
	RunE:  runDown,
}

func init() {
	rootCmd.AddCommand(downCmd)
}

func runDown(cmd *cobra.Command, args []string) error {
	port, err := parsePort(args[0])
	if err != nil {
		return err
	}

	a, err := getApp()
	if err != nil {
		return err
	}

	cm, err := containerManager(a)
	if err != nil {
		return err
	}

	name := a.Settings.ContainerName(port)
	logging.Debug("removing container", "name", name)
	logInfo("Removing %s...", name)

	if err := cm.Remove(cmd.Context(), name); err != nil {
		return fmt.Errorf("failed to remove %s: %w", name, err)
	}

	if err := a.Audit.Log(audit.Event{Type: audit.EventStopped, Server: name, Port: port, Details: "removed"}); err != nil {
		logging.Debug("failed to record audit event", "error", err)
	}

	logSuccess("Removed %s", name)
	return nil
}
