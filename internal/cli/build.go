package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/hupe1980/assetflow/internal/output"
	"github.com/hupe1980/assetflow/internal/pipeline"
)

func newBuildCommand() *cobra.Command {
	var noClean bool

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Clean the outputs and run every task once",
		Long: `Build removes the pipeline's clean targets and runs every task in
dependency order. Independent tasks run in parallel.

Exit codes:
  0  All tasks completed
  1  At least one task failed
  2  Invalid configuration or pipeline`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			proj, err := loadProject(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()

			if !noClean {
				removed, err := output.Clean(proj.pipeline.Root, proj.pipeline.Clean)
				if err != nil {
					return configError(err)
				}

				for _, r := range removed {
					proj.logger.Info("cleaned", slog.String("path", r))
				}
			}

			r, closeCache, err := proj.newRunner(nil)
			if err != nil {
				return err
			}
			defer closeCache()

			report, err := r.RunAll(cmd.Context())
			if err != nil {
				return runError(err)
			}

			printReport(out, report)

			return buildError(report)
		},
	}

	cmd.Flags().BoolVar(&noClean, "no-clean", false, "keep existing outputs")

	return cmd
}

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <task>...",
		Short: "Run tasks and everything they depend on",
		Long: `Run executes the named tasks together with their upstream
dependencies. Nothing is cleaned.`,
		Example: `  assetflow run minify-css
  assetflow run scripts images`,
		Args: cobra.MinimumNArgs(1),
		ValidArgsFunction: func(cmd *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
			return completeTasks(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			proj, err := loadProject(cmd.Context())
			if err != nil {
				return err
			}

			names, err := proj.pipeline.Graph.WithDependencies(args)
			if err != nil {
				return configError(err)
			}

			r, closeCache, err := proj.newRunner(nil)
			if err != nil {
				return err
			}
			defer closeCache()

			report, err := r.Run(cmd.Context(), names)
			if err != nil {
				return runError(err)
			}

			printReport(cmd.OutOrStdout(), report)

			return buildError(report)
		},
	}

	return cmd
}

// completeTasks offers the pipeline's task names for shell completion.
func completeTasks(cmd *cobra.Command) ([]string, cobra.ShellCompDirective) {
	pipelineFile, _ := cmd.Flags().GetString("pipeline")

	names, err := taskNames(pipelineFile)
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}

	return names, cobra.ShellCompDirectiveNoFileComp
}

func taskNames(pipelineFile string) ([]string, error) {
	p, err := pipeline.Load(pipelineFile, pipeline.Options{})
	if err != nil {
		return nil, fmt.Errorf("loading pipeline: %w", err)
	}

	return p.Graph.Names(), nil
}
