package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/assetflow/internal/version"
)

func newVersionCommand() *cobra.Command {
	var (
		jsonOutput bool
		constraint string
	)

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long: `Display the version, git commit, build date, Go version, and platform.

With --check the command only verifies that this binary satisfies a
semantic version constraint, the same check a pipeline's "requires"
field performs.`,
		Example: `  assetflow version --json
  assetflow version --check ">= 1.2, < 2"`,
		Args: cobra.NoArgs,
		// Version needs no configuration.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			if constraint != "" {
				if err := version.Check(constraint); err != nil {
					return &ExitError{Code: exitBuildFailure, Err: err}
				}

				_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s satisfies %q\n", version.GetInfo().Version, constraint)

				return err
			}

			info := version.GetInfo()

			if jsonOutput {
				j, err := info.JSON()
				if err != nil {
					return err
				}

				_, err = fmt.Fprintln(cmd.OutOrStdout(), j)

				return err
			}

			_, err := fmt.Fprintln(cmd.OutOrStdout(), info.String())

			return err
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output version info as JSON")
	cmd.Flags().StringVar(&constraint, "check", "", "verify the binary satisfies a semver constraint")

	return cmd
}
