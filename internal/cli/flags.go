package cli

import (
	"github.com/spf13/cobra"

	"github.com/hupe1980/assetflow/internal/config"
)

// registerPipelineFlags adds the flags shared by every command that loads
// the pipeline. They are persistent so subcommands inherit them.
func registerPipelineFlags(cmd *cobra.Command) {
	d := config.Default()

	pf := cmd.PersistentFlags()
	pf.StringP("pipeline", "p", d.Pipeline, "pipeline file")
	pf.IntP("workers", "j", d.Workers, "maximum number of tasks run in parallel")
	pf.String("failure-policy", d.FailurePolicy, "on task failure: tolerate (skip dependents) or fail-fast (abort the build)")
	pf.String("cache-dir", d.CacheDir, "artifact cache directory, relative to the pipeline")
	pf.Bool("no-cache", d.NoCache, "disable the artifact cache")
}

// registerWatchFlags adds the watch and preview flags. The root command and
// watch both run watch mode, so both carry them.
func registerWatchFlags(cmd *cobra.Command) {
	d := config.Default()

	f := cmd.Flags()
	f.Duration("debounce", d.Debounce, "quiet period before a change triggers a rebuild")
	f.String("proxy", d.Proxy, "backend (host:port) the preview proxies, e.g. 127.0.0.1:8000")
	f.String("serve-dir", d.ServeDir, "directory the preview serves when no proxy is set")
	f.Int("port", d.Port, "preview server port")
	f.Bool("open", d.Open, "open the preview in the system browser")
	f.String("server-command", d.ServerCommand, "backend server started for the session, e.g. \"php -S 127.0.0.1:8000 -t app\"")
	f.Bool("no-preview", d.NoPreview, "watch and rebuild without the preview server")
}
