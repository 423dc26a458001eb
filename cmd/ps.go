package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var psCmd = &cobra.Command{
	Use:   "ps",
	Short: "List notebook server containers",
	Args:  cobra.NoArgs,
	RunE:  runPs,
}

func init() {
	rootCmd.AddCommand(psCmd)
}

func runPs(cmd *cobra.Command, args []string) error {
	a, err := getApp()
	if err != nil {
		return err
	}

	cm, err := containerManager(a)
	if err != nil {
		return err
	}

	prefix := a.Settings.ContainerPrefix
	containers, err := cm.List(cmd.Context(), prefix)
	if err != nil {
		return fmt.Errorf("failed to list containers: %w", err)
	}

	if len(containers) == 0 {
		logInfo("No servers running. Start one with: forage-lab up")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tPORT\tSTATE\tSTATUS")
	fmt.Fprintln(w, "----\t----\t-----\t------")

	for _, c := range containers {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.Name, containerPort(prefix, c.Name), c.State, c.Status)
	}

	return w.Flush()
}
