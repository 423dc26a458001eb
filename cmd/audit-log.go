package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var auditLogCmd = &cobra.Command{
	Use:   "audit-log [port]",
	Short: "Display the lifecycle events of a server",
	Long: `Displays the lifecycle events recorded for the server on a port.
Without a port, lists the servers that have events.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAuditLog,
}

var auditLogJSON bool

func init() {
	auditLogCmd.Flags().BoolVar(&auditLogJSON, "json-lines", false, "Output events as JSON lines")
	rootCmd.AddCommand(auditLogCmd)
}

func runAuditLog(cmd *cobra.Command, args []string) error {
	a, err := getApp()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if len(args) == 0 {
		servers, err := a.Audit.Servers()
		if err != nil {
			return fmt.Errorf("failed to read audit log: %w", err)
		}
		if len(servers) == 0 {
			logInfo("No servers have recorded events")
			return nil
		}
		for _, s := range servers {
			fmt.Fprintln(out, s)
		}
		return nil
	}

	port, err := parsePort(args[0])
	if err != nil {
		return err
	}
	name := a.Settings.ContainerName(port)

	events, err := a.Audit.Events(name)
	if err != nil {
		return fmt.Errorf("failed to read audit log: %w", err)
	}

	if len(events) == 0 {
		logInfo("No events found for %s", name)
		return nil
	}

	for _, e := range events {
		if auditLogJSON {
			data, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("failed to marshal event: %w", err)
			}
			fmt.Fprintln(out, string(data))
		} else {
			ts := e.Timestamp.Local().Format("2006-01-02 15:04:05")
			if e.Details != "" {
				fmt.Fprintf(out, "[%s] %-8s %s (%s)\n", ts, e.Type, e.Server, e.Details)
			} else {
				fmt.Fprintf(out, "[%s] %-8s %s\n", ts, e.Type, e.Server)
			}
		}
	}

	return nil
}
