package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/spf13/cobra"

	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/app"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/config"
	ferrors "github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/errors"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/logging"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/metrics"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/monitor"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/pool"
)

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Start a notebook server",
	Long: `Starts a JupyterLab server for a working directory and keeps it running
until interrupted.

Settings come from config.toml in the config directory, FORAGE_LAB_*
environment variables and a .forage-lab.toml file in the working directory.

Examples:
  forage-lab up --workdir ~/analysis
  forage-lab up --engine podman --port 8899
  forage-lab up --prewarm 2 --metrics-addr :9090`,
	Args: cobra.NoArgs,
	RunE: runUp,
}

var (
	upWorkdir          string
	upPort             int
	upRuntime          string
	upExtraDir         string
	upOverrideDefaults bool
	upEnv              map[string]string
	upServerArgs       string
	upPrewarm          int
	upPrewarmInterval  time.Duration
	upMetricsAddr      string
)

func init() {
	flags := upCmd.Flags()
	flags.StringVarP(&upWorkdir, "workdir", "w", "", "Working directory for the server")
	flags.IntVarP(&upPort, "port", "p", 0, "Port to serve on (default: allocated)")
	flags.StringVar(&upRuntime, "runtime", "", "Runtime executable to associate (default: registry default)")
	flags.StringVar(&upExtraDir, "extra-dir", "", "Host directory mounted into the container")
	flags.BoolVar(&upOverrideDefaults, "override-defaults", false, "Replace the default server arguments instead of extending them")
	flags.StringToStringVarP(&upEnv, "env", "e", nil, "Environment variables for the server (KEY=VALUE)")
	flags.StringVar(&upServerArgs, "server-args", "", "Server arguments, shell quoted")
	flags.IntVar(&upPrewarm, "prewarm", 0, "Number of idle servers to keep ready")
	flags.DurationVar(&upPrewarmInterval, "prewarm-interval", 30*time.Second, "How often to top up idle servers")
	flags.StringVar(&upMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")

	rootCmd.AddCommand(upCmd)
}

// upOverrides collects the workspace overrides given on the command line.
func upOverrides(cmd *cobra.Command) config.WorkspaceOverrides {
	var o config.WorkspaceOverrides
	if cmd.Flags().Changed("extra-dir") {
		o.ExtraDir = &upExtraDir
	}
	if cmd.Flags().Changed("override-defaults") {
		o.OverrideDefaults = &upOverrideDefaults
	}
	if len(upEnv) > 0 {
		o.EnvVars = upEnv
	}
	return o
}

func runUp(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opts []app.Option
	var prom *metrics.Prometheus
	if upMetricsAddr != "" {
		prom = metrics.NewPrometheus("forage_lab")
		opts = append(opts, app.WithMetrics(prom))
	}

	a, err := getApp(opts...)
	if err != nil {
		return err
	}
	defer closeApp(a)

	if upServerArgs != "" {
		serverArgs, err := shellquote.Split(upServerArgs)
		if err != nil {
			return ferrors.ValidationError(fmt.Sprintf("invalid --server-args: %v", err))
		}
		a.Settings.ServerArgs = serverArgs
	}

	if prom != nil {
		srv := &http.Server{Addr: upMetricsAddr, Handler: prom.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Error("metrics server failed", "addr", upMetricsAddr, "error", err)
			}
		}()
		defer srv.Close()
		logInfo("Serving metrics on %s", upMetricsAddr)
	}

	p, err := a.Pool(ctx)
	if err != nil {
		return err
	}

	req := pool.Request{
		WorkingDirectory: a.Settings.Workspace.WorkingDir,
		Overrides:        upOverrides(cmd),
		Port:             upPort,
	}
	if upWorkdir != "" {
		req.WorkingDirectory = upWorkdir
	}
	if upRuntime != "" {
		reg, err := a.Registry(ctx)
		if err != nil {
			return err
		}
		if _, err := reg.EnvironmentList(ctx, false); err != nil {
			return fmt.Errorf("failed to list environments: %w", err)
		}
		env := reg.EnvironmentByPath(upRuntime)
		if env == nil {
			return ferrors.NotFound(upRuntime)
		}
		req.Environment = env
	}

	entry, err := p.CreateServer(ctx, req)
	if err != nil {
		return err
	}

	logInfo("Starting notebook server...")
	info, err := entry.Server.Started(ctx)
	if err != nil {
		return err
	}
	logSuccess("Server ready (%s engine, port %d)", info.Engine, info.Port)
	fmt.Fprintln(cmd.OutOrStdout(), info.URL)

	if upPrewarm > 0 {
		free := req
		free.Port, free.Token = 0, ""
		mon := monitor.New(upPrewarmInterval, p,
			monitor.WithRequest(free),
			monitor.WithFreeServers(upPrewarm),
		)
		go func() {
			if err := mon.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logging.Warn("prewarm monitor stopped", "error", err)
			}
		}()
	}

	<-ctx.Done()
	logInfo("Shutting down...")
	return nil
}
