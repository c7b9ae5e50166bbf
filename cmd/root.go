// Package cmd defines and implements the CLI commands for the archive-crawler
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/archive-crawler/internal/app"
	"github.com/JakeFAU/archive-crawler/internal/config"
	"github.com/JakeFAU/archive-crawler/internal/crawler"
	"github.com/JakeFAU/archive-crawler/internal/logging"
)

const closeTimeout = 30 * time.Second

type contextKey string

const (
	appKey    contextKey = "app"
	configKey contextKey = "config"
)

// App defines the application interface that commands use. Tests inject a
// different implementation through newApp.
type App interface {
	Controller() *crawler.RunController
	Logger() *zap.Logger
	Export(ctx context.Context, runID uuid.UUID, paths ...string) error
	Close(ctx context.Context) error
}

// newApp is the application factory. It's a variable so tests can swap in a
// fetcher that never touches the network.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	instance, err := app.Build(ctx, cfg, nil, logger)
	if err != nil {
		return nil, err
	}
	return instance, nil
}

// newRootCmd creates the root command. The built App is stored in holder so
// the caller can close it even when a subcommand fails.
func newRootCmd(holder *App) *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "archive-crawler",
		Short: "A polite, resumable crawler for Archive of Our Own.",
		Long: `archive-crawler collects work identifiers from listing pages and then
fetches the works themselves, one request at a time. Every row is written to
disk as soon as it is known, so an interrupted run can be resumed.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return err
			}
			zap.ReplaceGlobals(logger)

			instance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			*holder = instance

			ctx := context.WithValue(cmd.Context(), appKey, instance)
			ctx = context.WithValue(ctx, configKey, cfg)
			cmd.SetContext(ctx)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml or $HOME/.archive-crawler/config.yaml)")
	cmd.AddCommand(newIDsCmd(), newWorksCmd())
	return cmd
}

// run executes the CLI with args and closes the App afterwards.
func run(ctx context.Context, args []string, out io.Writer) error {
	var instance App
	root := newRootCmd(&instance)
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(out)

	err := root.ExecuteContext(ctx)
	if instance != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if cerr := instance.Close(closeCtx); cerr != nil {
			err = errors.Join(err, fmt.Errorf("shutdown: %w", cerr))
		}
	}
	return err
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the running
// crawl; rows already written stay on disk.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (App, config.Config, error) {
	instance, ok := ctx.Value(appKey).(App)
	if !ok || instance == nil {
		return nil, config.Config{}, errors.New("application not initialised")
	}
	cfg, _ := ctx.Value(configKey).(config.Config)
	return instance, cfg, nil
}

// requestHeaders turns the --header value into the User-Agent sent with
// every request.
func requestHeaders(value string) http.Header {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return http.Header{"User-Agent": []string{value}}
}

// outputPath places relative paths under the configured output directory.
func outputPath(dir, name string) string {
	if dir == "" || dir == "." || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dir, name)
}
