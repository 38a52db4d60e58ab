// Package runner executes a task graph, or a subset of it, wave by wave.
//
// Tasks inside a wave have no dependencies on each other and run
// concurrently on a bounded number of workers. A failed task never stops
// unrelated branches under the default policy; only its downstream
// dependents are skipped.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/assetflow/internal/cache"
	"github.com/hupe1980/assetflow/internal/graph"
	"github.com/hupe1980/assetflow/internal/logging"
	"github.com/hupe1980/assetflow/internal/output"
	"github.com/hupe1980/assetflow/internal/task"
)

// Policy decides how a failed task affects the rest of a build.
type Policy string

// Failure policies.
const (
	// Tolerate skips only the downstream dependents of a failed task.
	Tolerate Policy = "tolerate"
	// FailFast cancels in-flight tasks and skips everything not yet started.
	FailFast Policy = "fail-fast"
)

// ParsePolicy converts a configured string into a Policy. An empty string
// is Tolerate.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.TrimSpace(s)) {
	case "", Tolerate:
		return Tolerate, nil
	case FailFast:
		return FailFast, nil
	default:
		return "", fmt.Errorf("invalid failure policy %q: must be one of tolerate, fail-fast", s)
	}
}

// Options configures a Runner.
type Options struct {
	// Root is the project root all task paths are relative to.
	Root string
	// Cache is shared by every task; nil disables caching.
	Cache cache.Cache
	// Sink receives outputs. Defaults to a FileSink rooted at Root.
	Sink output.Sink
	// Workers bounds concurrent tasks per wave. Defaults to GOMAXPROCS.
	Workers int
	// Policy defaults to Tolerate.
	Policy Policy
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Runner executes builds over one immutable graph. It is safe to call Run
// from several goroutines, though builds sharing a sink will race on the
// files they write.
type Runner struct {
	graph *graph.Graph
	opts  Options
}

// New creates a Runner for g.
func New(g *graph.Graph, opts Options) *Runner {
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}

	if opts.Policy == "" {
		opts.Policy = Tolerate
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.Sink == nil {
		opts.Sink = output.NewFileSink(opts.Root, output.WithLogger(opts.Logger))
	}

	if opts.Cache == nil {
		opts.Cache = cache.Nop{}
	}

	return &Runner{graph: g, opts: opts}
}

// Graph returns the graph the runner executes.
func (r *Runner) Graph() *graph.Graph { return r.graph }

// RunAll builds every task.
func (r *Runner) RunAll(ctx context.Context) (*Report, error) {
	return r.Run(ctx, r.graph.Names())
}

// Run builds exactly the named tasks. Dependencies outside names are treated
// as satisfied. The returned error is non-nil only when names contains an
// unknown task; task failures are reported in the Report.
func (r *Runner) Run(ctx context.Context, names []string) (*Report, error) {
	waves, err := r.graph.Waves(names)
	if err != nil {
		return nil, err
	}

	b := &build{
		runner:  r,
		id:      uuid.NewString(),
		results: make(map[string]Result, len(names)),
	}

	b.logger = logging.ForBuild(r.opts.Logger, b.id)
	b.logger.Debug("build started", slog.Int("tasks", len(names)), slog.Int("waves", len(waves)))

	start := time.Now()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	b.cancel = cancel

	report := &Report{ID: b.id}

	for _, wave := range waves {
		report.Results = append(report.Results, b.runWave(runCtx, wave)...)
	}

	report.Duration = time.Since(start)

	c := report.Counts()
	b.logger.Info("build finished",
		slog.Int("completed", c.Completed),
		slog.Int("failed", c.Failed),
		slog.Int("skipped", c.Skipped),
		slog.Duration("duration", report.Duration),
	)

	return report, nil
}

type build struct {
	runner  *Runner
	id      string
	logger  *slog.Logger
	cancel  context.CancelFunc
	aborted atomic.Bool
	results map[string]Result
}

func (b *build) runWave(ctx context.Context, wave []string) []Result {
	out := make([]Result, len(wave))

	var eg errgroup.Group

	eg.SetLimit(b.runner.opts.Workers)

	for i, name := range wave {
		t, _ := b.runner.graph.Task(name)

		if cause := b.skipCause(name); cause != "" {
			out[i] = b.skip(t, cause)
			continue
		}

		eg.Go(func() error {
			if ctx.Err() != nil {
				out[i] = b.skip(t, CauseAborted)
				return nil
			}

			out[i] = b.execute(ctx, t)

			return nil
		})
	}

	_ = eg.Wait()

	for _, res := range out {
		b.results[res.Task] = res
	}

	return out
}

// skipCause returns the root failure among name's dependencies that ran in
// this build, or an empty string when name may run.
func (b *build) skipCause(name string) string {
	for _, dep := range b.runner.graph.DependenciesOf(name) {
		res, ok := b.results[dep]
		if !ok {
			continue
		}

		switch res.Status {
		case Failed:
			return dep
		case Skipped:
			return res.Cause
		}
	}

	return ""
}

func (b *build) skip(t *task.Task, cause string) Result {
	b.logger.Warn("task skipped", slog.String("task", t.Name), slog.String("cause", cause))

	return Result{Task: t.Name, Status: Skipped, Cause: cause, Reload: t.ReloadKind()}
}

func (b *build) execute(ctx context.Context, t *task.Task) (res Result) {
	logger := logging.ForTask(b.logger, t.Name)
	start := time.Now()

	res = Result{Task: t.Name, Reload: t.ReloadKind()}

	defer func() {
		if r := recover(); r != nil {
			res.Status = Failed
			res.Err = fmt.Errorf("panic: %v", r)
			res.Duration = time.Since(start)
			b.fail(logger, res.Err)
		}
	}()

	outcome, err := task.Execute(ctx, t, task.Env{
		Root:   b.runner.opts.Root,
		Cache:  b.runner.opts.Cache,
		Sink:   b.runner.opts.Sink,
		Logger: logger,
	})

	res.Outcome = outcome
	res.Duration = time.Since(start)

	switch {
	case err == nil:
		res.Status = Completed
		logger.Info("task completed",
			slog.Int("files", outcome.Files),
			slog.Int("written", len(outcome.Written)),
			slog.Int("cache_hits", outcome.CacheHits),
			slog.Duration("duration", res.Duration),
		)
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		// Cancelled mid-flight by an abort, not a failure of its own.
		res.Status = Skipped
		res.Cause = CauseAborted
		logger.Warn("task aborted")
	default:
		res.Status = Failed
		res.Err = err
		b.fail(logger, err)
	}

	return res
}

func (b *build) fail(logger *slog.Logger, err error) {
	logger.Error("task failed", slog.Any("error", err))

	if b.runner.opts.Policy == FailFast && b.aborted.CompareAndSwap(false, true) {
		b.cancel()
	}
}
