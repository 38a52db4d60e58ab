package watch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// Options configures the watch behaviour.
type Options struct {
	// Root is the project directory all subscription globs are relative to.
	Root string

	// Subscriptions bind source globs to the tasks they rebuild.
	Subscriptions []Subscription

	// Debounce is the quiet period before triggering a rebuild.
	Debounce time.Duration

	// Logger is used for structured logging.
	Logger *slog.Logger

	// Out is the writer for user-facing status messages.
	Out io.Writer
}

// DefaultOptions returns sensible default watch options.
func DefaultOptions() Options {
	return Options{
		Root:     ".",
		Debounce: 100 * time.Millisecond,
		Logger:   slog.Default(),
		Out:      os.Stderr,
	}
}

// Run watches the subscriptions, performs an initial full build and then
// rebuilds incrementally on every change. It blocks until the context is
// cancelled or a SIGINT/SIGTERM signal is received. Build failures never
// end the session.
func Run(ctx context.Context, opts Options, builder Builder, notifier Notifier) error {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.Out == nil {
		opts.Out = io.Discard
	}

	// Trap SIGINT / SIGTERM for graceful shutdown.
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sess := NewSession(builder, notifier, opts.Logger, opts.Out)

	if len(opts.Subscriptions) > 0 {
		w, err := Start(opts, sess.Trigger)
		if err != nil {
			return fmt.Errorf("starting watcher: %w", err)
		}
		defer w.Stop()
	}

	fmt.Fprintf(opts.Out, "watching %s (%d subscriptions, debounce=%s)\n",
		opts.Root, len(opts.Subscriptions), opts.Debounce)

	sess.Build(sigCtx, builder.Graph().Names(), "(initial)")

	sess.Run(sigCtx)

	fmt.Fprintln(opts.Out, "\nshutting down watcher")

	return nil
}
