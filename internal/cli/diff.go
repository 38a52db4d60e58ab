package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/hupe1980/assetflow/internal/diff"
	"github.com/hupe1980/assetflow/internal/output"
)

type diffOptions struct {
	// Exit with code 1 when outputs would change.
	exitCode bool

	// Disable ANSI color output.
	noColor bool
}

func newDiffCommand() *cobra.Command {
	opts := &diffOptions{}

	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Show how a build would change the outputs",
		Long: `Diff runs every task into memory and compares the results with the
files currently on disk. Nothing is written except artifact cache entries.

Tasks that read another task's output see the version on disk.

Exit codes:
  0  No differences (or differences without --exit-code)
  1  A task failed, or outputs differ and --exit-code is set
  2  Invalid configuration or pipeline`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDiff(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&opts.exitCode, "exit-code", false, "exit with code 1 when outputs would change")
	f.BoolVar(&opts.noColor, "no-color", false, "disable ANSI color output")

	return cmd
}

func runDiff(cmd *cobra.Command, opts *diffOptions) error {
	proj, err := loadProject(cmd.Context())
	if err != nil {
		return err
	}

	sink := output.NewMemorySink()

	r, closeCache, err := proj.newRunner(sink)
	if err != nil {
		return err
	}
	defer closeCache()

	report, err := r.RunAll(cmd.Context())
	if err != nil {
		return runError(err)
	}

	if report.Failed() || report.Aborted() {
		printReport(cmd.ErrOrStderr(), report)
		return buildError(report)
	}

	result, err := diff.Compare(proj.pipeline.Root, sink, diff.DefaultOptions())
	if err != nil {
		return err
	}

	diff.Write(cmd.OutOrStdout(), result, !opts.noColor)

	if opts.exitCode && result.HasDifferences() {
		return &ExitError{Code: exitBuildFailure, Err: errors.New("outputs differ")}
	}

	return nil
}
