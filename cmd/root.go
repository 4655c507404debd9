// Package cmd defines and implements the CLI commands for the pressdigest executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/press-digest/internal/app"
	"github.com/JakeFAU/press-digest/internal/config"
	"github.com/JakeFAU/press-digest/internal/digest"
	"github.com/JakeFAU/press-digest/internal/logging"
	"github.com/JakeFAU/press-digest/internal/runner"
)

const closeTimeout = 15 * time.Second

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// annotationNeedsApp marks commands that require the application services.
const annotationNeedsApp = "pressdigest/needs-app"

var needsApp = map[string]string{annotationNeedsApp: "true"}

// App is the application surface the commands use. Tests inject a fake.
type App interface {
	Serve(ctx context.Context) error
	Run(ctx context.Context, trigger string, mode runner.Mode) (runner.RunResult, error)
	Stats(ctx context.Context) (digest.StoreStats, error)
	Close(ctx context.Context) error
	Logger() *zap.Logger
}

// newApp is the application factory; tests replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "pressdigest",
		Short: "Collects SEC press releases and summarizes them with a local model.",
		Long: `pressdigest discovers new press releases, stores each one exactly once,
and enriches stored releases with three-point summaries from an Ollama model.
It serves the stored digest over HTTP and runs the pipeline on a schedule.`,
		SilenceUsage: true,

		// Builds the application once the flags are parsed and before the
		// subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[annotationNeedsApp] != "true" {
				return nil
			}
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml or /etc/pressdigest/config.yaml)")

	cmd.AddCommand(newServeCmd(), newRunCmd(), newStatsCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// withApp runs fn against the application built by the root command and
// closes the application afterwards, whatever fn returns.
func withApp(fn func(cmd *cobra.Command, args []string, a App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		appInstance, err := resolveApp(cmd.Context())
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), closeTimeout)
			defer cancel()
			if closeErr := appInstance.Close(ctx); closeErr != nil {
				err = errors.Join(err, fmt.Errorf("close application: %w", closeErr))
			}
			_ = appInstance.Logger().Sync()
		}()
		return fn(cmd, args, appInstance)
	}
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
