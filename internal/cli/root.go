// Package cli implements the cobra command tree for assetflow.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hupe1980/assetflow/internal/config"
	"github.com/hupe1980/assetflow/internal/logging"
)

// Process exit codes.
const (
	exitBuildFailure = 1
	exitConfig       = 2
)

// ExitError wraps an error with a specific process exit code.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}

	return fmt.Sprintf("exit code %d", e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// configError marks err as a configuration error (exit code 2).
func configError(err error) error {
	return &ExitError{Code: exitConfig, Err: err}
}

// Execute builds the command tree, runs it until completion or an interrupt
// and returns the exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return execute(ctx, NewRootCommand(), os.Args[1:], os.Stderr)
}

func execute(ctx context.Context, cmd *cobra.Command, args []string, stderr io.Writer) int {
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			_, _ = fmt.Fprintln(stderr, "Error:", exitErr.Err)
		}

		return exitErr.Code
	}

	_, _ = fmt.Fprintln(stderr, "Error:", err)

	return exitBuildFailure
}

// NewRootCommand constructs the top-level cobra.Command with all
// subcommands attached. Without a subcommand it runs watch mode.
func NewRootCommand() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "assetflow",
		Short: "Build, watch and live-preview front-end assets",
		Long: `assetflow is a file-watching asset pipeline.

It runs the tasks declared in assetflow.yaml (style compilation,
minification, bundling, image optimisation, markup relocation) as a
dependency graph, caches transform results by content, rebuilds only
what a change affects and reloads connected browsers through a
development preview server.

Without a subcommand assetflow builds everything and starts watching.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.NoArgs(cmd, args); err != nil {
				return configError(err)
			}

			return nil
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd, cfgFile)
			if err != nil {
				return configError(err)
			}

			logger := logging.SetupWithWriter(cfg, cmd.ErrOrStderr())

			ctx := cmd.Context()
			ctx = config.NewContext(ctx, cfg)
			ctx = logging.NewContext(ctx, logger)
			cmd.SetContext(ctx)

			logger.Debug("configuration loaded",
				slog.String("configFile", cfg.ConfigFile),
				slog.String("pipeline", cfg.Pipeline),
				slog.Int("workers", cfg.Workers),
				slog.String("failurePolicy", cfg.FailurePolicy),
			)

			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd)
		},
	}

	// Global persistent flags.
	pf := cmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: .assetflow.yaml)")
	pf.String("log-level", config.LogLevelInfo, "log level: debug, info, warn, error")
	pf.String("log-format", config.LogFormatText, "log format: text, json")
	pf.BoolP("quiet", "q", false, "suppress non-essential output")
	registerPipelineFlags(cmd)

	registerWatchFlags(cmd)

	// Flag parsing errors return exit code 2.
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return configError(err)
	})

	cmd.AddCommand(
		newWatchCommand(),
		newBuildCommand(),
		newRunCommand(),
		newGraphCommand(),
		newDiffCommand(),
		newCleanCommand(),
		newInitCommand(),
		newVersionCommand(),
		newCompletionCommand(),
	)

	return cmd
}
