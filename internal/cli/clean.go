package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/assetflow/internal/cache"
	"github.com/hupe1980/assetflow/internal/output"
)

func newCleanCommand() *cobra.Command {
	var withCache bool

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove build outputs",
		Long: `Clean removes the pipeline's clean targets: the paths listed under
"clean", or every task destination that is not also read as a source.
With --cache the artifact cache is wiped as well.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			proj, err := loadProject(cmd.Context())
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()

			removed, err := output.Clean(proj.pipeline.Root, proj.pipeline.Clean)
			for _, r := range removed {
				_, _ = fmt.Fprintf(w, "removed %s\n", r)
			}

			if err != nil {
				return configError(err)
			}

			if withCache {
				dir := proj.path(proj.cfg.CacheDir)

				d, err := cache.NewDisk(dir, cache.WithLogger(proj.logger))
				if err != nil {
					return err
				}
				defer func() { _ = d.Close() }()

				if err := d.Clear(); err != nil {
					return err
				}

				_, _ = fmt.Fprintf(w, "cleared cache %s\n", proj.cfg.CacheDir)
			}

			if len(removed) == 0 && !withCache {
				_, _ = fmt.Fprintln(w, "nothing to clean")
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&withCache, "cache", false, "also wipe the artifact cache")

	return cmd
}
