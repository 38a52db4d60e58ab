package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/hupe1980/assetflow/internal/config"
	"github.com/hupe1980/assetflow/internal/pipeline"
)

func newInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter pipeline file",
		Long: `Init writes a starter assetflow.yaml for a project with sources under
app/ and build output under dist/: compiled and minified styles, a
bundled script, cached image optimisation, fonts, PHP and HTML pages.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := config.FromContext(cmd.Context()).Pipeline

			if _, err := os.Stat(path); err == nil && !force {
				return &ExitError{Code: exitBuildFailure, Err: fmt.Errorf("%s already exists (use --force to overwrite)", path)}
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}

			if err := os.WriteFile(path, pipeline.Starter(), 0o644); err != nil { //nolint:gosec // pipeline files are shared project files
				return fmt.Errorf("writing %s: %w", path, err)
			}

			_, err := fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)

			return err
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing pipeline file")

	return cmd
}
