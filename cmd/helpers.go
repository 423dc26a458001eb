package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/app"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/engine"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/errors"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/logging"
)

// closeTimeout bounds server shutdown when a command exits.
const closeTimeout = 30 * time.Second

// Helper aliases for user-facing output (delegates to logging package)
var (
	logInfo    = logging.UserInfo
	logSuccess = logging.UserSuccess
	logWarning = logging.UserWarning
)

// application is set by tests; commands otherwise build their own.
var application *app.App

// getApp returns the application context, loading settings through the
// root viper instance.
func getApp(opts ...app.Option) (*app.App, error) {
	if application != nil {
		return application, nil
	}
	return app.New(append([]app.Option{app.WithViper(v)}, opts...)...)
}

// closeApp disposes the app's pool and registry.
func closeApp(a *app.App) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		logging.Warn("shutdown incomplete", "error", err)
	}
}

// containerManager returns the configured engine when it manages named
// containers.
func containerManager(a *app.App) (engine.ContainerManager, error) {
	eng, err := a.Engine("")
	if err != nil {
		return nil, err
	}
	cm, ok := eng.(engine.ContainerManager)
	if !ok {
		return nil, fmt.Errorf("engine %s does not manage containers", eng.Name())
	}
	return cm, nil
}

// parsePort validates a port argument.
func parsePort(s string) (int, error) {
	p, err := strconv.Atoi(s)
	if err != nil || p <= 0 || p > 65535 {
		return 0, errors.ValidationError(fmt.Sprintf("invalid port %q", s))
	}
	return p, nil
}

// containerPort extracts the port from an app-managed container name.
func containerPort(prefix, name string) string {
	return strings.TrimPrefix(name, prefix)
}
