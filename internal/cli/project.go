package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/hupe1980/assetflow/internal/cache"
	"github.com/hupe1980/assetflow/internal/config"
	"github.com/hupe1980/assetflow/internal/logging"
	"github.com/hupe1980/assetflow/internal/output"
	"github.com/hupe1980/assetflow/internal/pipeline"
	"github.com/hupe1980/assetflow/internal/runner"
	"github.com/hupe1980/assetflow/internal/watch"
)

// project bundles what every pipeline command needs.
type project struct {
	cfg      *config.Config
	logger   *slog.Logger
	pipeline *pipeline.Pipeline
}

// loadProject reads the local overrides and the pipeline file. Every error
// is a configuration error.
func loadProject(ctx context.Context) (*project, error) {
	cfg := config.FromContext(ctx)
	logger := logging.FromContext(ctx)

	overrides, err := config.LoadOverrides(cfg.ConfigFile)
	if err != nil {
		return nil, configError(err)
	}

	p, err := pipeline.Load(cfg.Pipeline, pipeline.Options{Overrides: overrides})
	if err != nil {
		return nil, configError(err)
	}

	logger.Debug("pipeline loaded",
		slog.String("path", p.Path),
		slog.Int("tasks", len(p.Tasks)),
		slog.Int("subscriptions", len(p.Subscriptions)),
	)

	return &project{cfg: cfg, logger: logger, pipeline: p}, nil
}

// path resolves a configured path against the pipeline root.
func (p *project) path(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}

	return filepath.Join(p.pipeline.Root, rel)
}

// openCache returns the configured artifact cache and a function that
// releases it.
func (p *project) openCache() (cache.Cache, func(), error) {
	if p.cfg.NoCache {
		return cache.Nop{}, func() {}, nil
	}

	d, err := cache.NewDisk(p.path(p.cfg.CacheDir), cache.WithLogger(p.logger))
	if err != nil {
		return nil, nil, err
	}

	return d, func() {
		s := d.Stats()
		p.logger.Debug("artifact cache", slog.Int64("hits", s.Hits), slog.Int64("misses", s.Misses))

		_ = d.Close()
	}, nil
}

// newRunner wires the runner for the project. A nil sink writes to disk.
func (p *project) newRunner(sink output.Sink) (*runner.Runner, func(), error) {
	policy, err := runner.ParsePolicy(p.cfg.FailurePolicy)
	if err != nil {
		return nil, nil, configError(err)
	}

	c, closeCache, err := p.openCache()
	if err != nil {
		return nil, nil, err
	}

	r := runner.New(p.pipeline.Graph, runner.Options{
		Root:    p.pipeline.Root,
		Cache:   c,
		Sink:    sink,
		Workers: p.cfg.Workers,
		Policy:  policy,
		Logger:  p.logger,
	})

	return r, closeCache, nil
}

// printReport writes one line per task followed by a summary line.
func printReport(w io.Writer, report *runner.Report) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	for _, res := range report.Results {
		switch res.Status {
		case runner.Completed:
			detail := fmt.Sprintf("%d files", res.Outcome.Files)
			if res.Outcome.CacheHits > 0 {
				detail += fmt.Sprintf(", %d cached", res.Outcome.CacheHits)
			}

			_, _ = fmt.Fprintf(tw, "✓\t%s\t%s\t%s\n", res.Task, detail, res.Duration.Round(time.Millisecond))
		case runner.Failed:
			_, _ = fmt.Fprintf(tw, "✗\t%s\t%s\t\n", res.Task, firstLine(res.Err))
		case runner.Skipped:
			_, _ = fmt.Fprintf(tw, "-\t%s\t%s\t\n", res.Task, skipReason(res.Cause))
		}
	}

	_ = tw.Flush()

	status := "OK"

	switch {
	case report.Failed():
		status = "FAILED"
	case report.Aborted():
		status = "ABORTED"
	}

	_, _ = fmt.Fprintf(w, "build %s %s (%s)\n", shortID(report.ID), status, watch.Summarize(report))
}

// buildError converts a failed or interrupted report into exit code 1.
func buildError(report *runner.Report) error {
	c := report.Counts()

	switch {
	case report.Failed():
		return &ExitError{
			Code: exitBuildFailure,
			Err:  fmt.Errorf("build failed: %d task(s) failed, %d skipped", c.Failed, c.Skipped),
		}
	case report.Aborted():
		return &ExitError{
			Code: exitBuildFailure,
			Err:  fmt.Errorf("build aborted: %d task(s) did not run", c.Skipped),
		}
	default:
		return nil
	}
}

// runError maps a runner error (unknown task names) to a configuration
// error.
func runError(err error) error {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return err
	}

	return configError(err)
}

func skipReason(cause string) string {
	if cause == runner.CauseAborted {
		return "skipped (build aborted)"
	}

	return fmt.Sprintf("skipped (%s failed)", cause)
}

func firstLine(err error) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		return msg[:i] + " …"
	}

	return msg
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}

	return id
}
