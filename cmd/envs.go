package cmd

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/environment"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/errors"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/registry"
)

var envsCmd = &cobra.Command{
	Use:   "envs",
	Short: "Manage runtime environments",
}

var envsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runtime environments",
	Args:  cobra.NoArgs,
	RunE:  runEnvsList,
}

var envsAddCmd = &cobra.Command{
	Use:   "add <path>",
	Short: "Add a runtime environment by executable path",
	Args:  cobra.ExactArgs(1),
	RunE:  runEnvsAdd,
}

var envsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forget user-added environments",
	Args:  cobra.NoArgs,
	RunE:  runEnvsClear,
}

var envsDefaultCmd = &cobra.Command{
	Use:   "default [path]",
	Short: "Show or set the default environment",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runEnvsDefault,
}

var envsRootCmd = &cobra.Command{
	Use:   "root [dir]",
	Short: "Show or set the runtime install root",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runEnvsRoot,
}

var envsExternalCmd = &cobra.Command{
	Use:   "external",
	Short: "List notebook servers started outside forage-lab",
	Args:  cobra.NoArgs,
	RunE:  runEnvsExternal,
}

var envsListCached bool

func init() {
	envsListCmd.Flags().BoolVar(&envsListCached, "cached", false, "Use the stored list instead of waiting for discovery")

	envsCmd.AddCommand(envsListCmd, envsAddCmd, envsClearCmd, envsDefaultCmd, envsRootCmd, envsExternalCmd)
	rootCmd.AddCommand(envsCmd)
}

// withRegistry runs fn against the app's registry and disposes it after.
func withRegistry(ctx context.Context, fn func(*registry.Registry) error) error {
	a, err := getApp()
	if err != nil {
		return err
	}
	defer closeApp(a)

	reg, err := a.Registry(ctx)
	if err != nil {
		return err
	}
	return fn(reg)
}

func runEnvsList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withRegistry(ctx, func(reg *registry.Registry) error {
		envs, err := reg.EnvironmentList(ctx, envsListCached)
		if err != nil {
			return fmt.Errorf("failed to list environments: %w", err)
		}
		if len(envs) == 0 {
			logInfo("No environments found. Add one with: forage-lab envs add <path>")
			return nil
		}

		def := reg.CurrentDefault()
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "\tNAME\tKIND\tVERSIONS\tPATH")
		for _, env := range envs {
			marker := ""
			if def != nil && def.Path == env.Path {
				marker = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", marker, env.Name, env.Kind, formatVersions(env), env.Path)
		}
		return w.Flush()
	})
}

func formatVersions(env *environment.RuntimeEnvironment) string {
	names := make([]string, 0, len(env.Versions))
	for name := range env.Versions {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+env.Versions[name])
	}
	return strings.Join(parts, ",")
}

func runEnvsAdd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withRegistry(ctx, func(reg *registry.Registry) error {
		env, err := reg.AddEnvironment(ctx, args[0])
		if err != nil {
			return err
		}
		logSuccess("Added %s (%s)", env.Name, env.Path)
		return nil
	})
}

func runEnvsClear(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withRegistry(ctx, func(reg *registry.Registry) error {
		reg.ClearUserEnvironments(ctx)
		logSuccess("Cleared user-added environments")
		return nil
	})
}

func runEnvsDefault(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withRegistry(ctx, func(reg *registry.Registry) error {
		if len(args) == 0 {
			env, err := reg.DefaultEnvironment(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", env.Name, env.Path)
			return nil
		}

		// Lookups only see the list once discovery has finished.
		if _, err := reg.EnvironmentList(ctx, false); err != nil {
			return fmt.Errorf("failed to list environments: %w", err)
		}
		if err := reg.SetDefaultEnvironment(ctx, args[0]); err != nil {
			return err
		}
		logSuccess("Default environment set to %s", args[0])
		return nil
	})
}

func runEnvsRoot(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withRegistry(ctx, func(reg *registry.Registry) error {
		if len(args) == 0 {
			root := reg.DefaultRuntimeRoot()
			if root == "" {
				logInfo("No runtime root configured")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), root)
			return nil
		}
		reg.SetDefaultRuntimeRoot(ctx, args[0])
		logSuccess("Runtime root set to %s", args[0])
		return nil
	})
}

func runEnvsExternal(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withRegistry(ctx, func(reg *registry.Registry) error {
		if _, err := reg.DefaultEnvironment(ctx); err != nil {
			if errors.Is(err, errors.ErrNoDefaultFound) {
				logInfo("No default environment to query")
				return nil
			}
			return err
		}
		urls, err := reg.ExternalServers(ctx)
		if err != nil {
			return fmt.Errorf("failed to list external servers: %w", err)
		}
		if len(urls) == 0 {
			logInfo("No external servers running")
			return nil
		}
		for _, u := range urls {
			fmt.Fprintln(cmd.OutOrStdout(), u)
		}
		return nil
	})
}
