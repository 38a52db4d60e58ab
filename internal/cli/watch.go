package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/hupe1980/assetflow/internal/preview"
	"github.com/hupe1980/assetflow/internal/watch"
)

func newWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Build, then rebuild on changes and live-reload the preview",
		Long: `Watch runs every task once and then monitors the watched sources.
A change rebuilds the tasks subscribed to it plus everything downstream.
Changes that arrive during a build are merged into one follow-up build.

The preview server proxies --proxy (or serves --serve-dir) and reloads
connected browsers after every build: stylesheets are swapped in place
when only style tasks ran, otherwise the page reloads.

Build failures are reported and watching continues. Stop with Ctrl+C.`,
		Example: `  # Proxy a PHP development server started for the session
  assetflow watch --server-command "php -S 127.0.0.1:8000 -t app" --proxy 127.0.0.1:8000 --open

  # Serve the build output directly
  assetflow watch --serve-dir dist`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd)
		},
	}

	registerWatchFlags(cmd)

	return cmd
}

func runWatch(cmd *cobra.Command) error {
	proj, err := loadProject(cmd.Context())
	if err != nil {
		return err
	}

	cfg := proj.cfg
	out := cmd.ErrOrStderr()

	if cfg.ServerCommand != "" && cfg.Proxy == "" {
		return configError(errors.New("--server-command needs --proxy pointing at the server it starts"))
	}

	r, closeCache, err := proj.newRunner(nil)
	if err != nil {
		return err
	}
	defer closeCache()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var notifier watch.Notifier

	switch {
	case cfg.NoPreview:
	case cfg.Proxy == "" && cfg.ServeDir == "":
		proj.logger.Info("preview disabled: set --proxy or --serve-dir to enable it")
	default:
		hub := preview.NewHub(proj.logger)

		stop, err := startPreview(ctx, proj, hub, cmd)
		if err != nil {
			return err
		}
		defer stop()

		notifier = hub
	}

	return watch.Run(ctx, watch.Options{
		Root:          proj.pipeline.Root,
		Subscriptions: proj.pipeline.Subscriptions,
		Debounce:      cfg.Debounce,
		Logger:        proj.logger,
		Out:           out,
	}, r, notifier)
}

// startPreview starts the optional backend process and the preview server.
// The returned function stops both.
func startPreview(ctx context.Context, proj *project, hub *preview.Hub, cmd *cobra.Command) (func(), error) {
	cfg := proj.cfg
	out := cmd.ErrOrStderr()

	serveDir := ""
	if cfg.ServeDir != "" {
		serveDir = proj.path(cfg.ServeDir)
	}

	srv, err := preview.NewServer(preview.Options{
		Port:     cfg.Port,
		Proxy:    cfg.Proxy,
		ServeDir: serveDir,
		Logger:   proj.logger,
	}, hub)
	if err != nil {
		return nil, configError(err)
	}

	var backend *preview.Backend

	if cfg.ServerCommand != "" {
		backend, err = preview.StartBackend(ctx, cfg.ServerCommand, proj.pipeline.Root, out, proj.logger)
		if err != nil {
			return nil, err
		}
	}

	srvCtx, stopServer := context.WithCancel(ctx)

	if err := srv.Start(srvCtx); err != nil {
		stopServer()

		if backend != nil {
			backend.Stop()
		}

		return nil, err
	}

	_, _ = fmt.Fprintf(out, "preview at %s\n", srv.URL())

	if cfg.Open {
		if err := preview.OpenBrowser(ctx, srv.URL()); err != nil {
			proj.logger.Warn("could not open browser", slog.Any("error", err))
		}
	}

	return func() {
		stopServer()

		if err := srv.Wait(); err != nil {
			proj.logger.Warn("preview server", slog.Any("error", err))
		}

		if backend != nil {
			backend.Stop()
		}
	}, nil
}
