// Package task defines a single declared unit of build work and how it is
// executed: resolve the source globs, run each input (or the concatenated
// bundle) through the transform, consult the artifact cache, and write the
// results to the destination.
package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/hupe1980/assetflow/internal/cache"
	"github.com/hupe1980/assetflow/internal/output"
	"github.com/hupe1980/assetflow/internal/reload"
	"github.com/hupe1980/assetflow/internal/sources"
	"github.com/hupe1980/assetflow/internal/transform"
)

// Task is a named unit of build work.
type Task struct {
	// Name uniquely identifies the task within a graph.
	Name string
	// Sources selects the input files.
	Sources *sources.Spec
	// Dest is the output directory, or the output file when Bundle is set.
	Dest string
	// Bundle concatenates all inputs into a single output.
	Bundle bool
	// Ext replaces the extension of per-file outputs (e.g. ".css").
	Ext string
	// Transform converts input bytes to output bytes.
	Transform transform.Func
	// TransformID identifies the transform in cache keys.
	TransformID string
	// DependsOn names the tasks that must complete first.
	DependsOn []string
	// Cache enables the artifact cache for this task.
	Cache bool
	// Reload is how preview clients react when this task completes.
	Reload reload.Kind
}

// Validate checks the declaration for required fields.
func (t *Task) Validate() error {
	var errs []error

	if strings.TrimSpace(t.Name) == "" {
		errs = append(errs, errors.New("task name is required"))
	}

	if t.Sources == nil {
		errs = append(errs, fmt.Errorf("task %q: sources are required", t.Name))
	}

	if strings.TrimSpace(t.Dest) == "" {
		errs = append(errs, fmt.Errorf("task %q: destination is required", t.Name))
	}

	if t.Ext != "" && !strings.HasPrefix(t.Ext, ".") {
		errs = append(errs, fmt.Errorf("task %q: ext %q must start with a dot", t.Name, t.Ext))
	}

	for _, dep := range t.DependsOn {
		if strings.TrimSpace(dep) == "" {
			errs = append(errs, fmt.Errorf("task %q: empty dependency name", t.Name))
		}
	}

	return errors.Join(errs...)
}

// ReloadKind returns the declared reload kind, defaulting to a full reload.
func (t *Task) ReloadKind() reload.Kind {
	if t.Reload == "" {
		return reload.Full
	}

	return t.Reload
}

// Env is the execution environment shared by all tasks of a build.
type Env struct {
	// Root is the project root all task paths are relative to.
	Root string
	// Cache stores transform results; nil disables caching.
	Cache cache.Cache
	// Sink receives outputs.
	Sink output.Sink
	// Logger is used for per-task diagnostics.
	Logger *slog.Logger
}

// Outcome summarises one task execution.
type Outcome struct {
	Files       int
	Written     []string
	CacheHits   int
	CacheMisses int
}

// Execute runs t in env. Zero matched inputs is a successful no-op.
func Execute(ctx context.Context, t *Task, env Env) (Outcome, error) {
	if env.Cache == nil {
		env.Cache = cache.Nop{}
	}

	if env.Logger == nil {
		env.Logger = slog.Default()
	}

	if env.Sink == nil {
		return Outcome{}, errors.New("no output sink configured")
	}

	fn := t.Transform
	if fn == nil {
		fn = transform.Identity
	}

	files, err := t.Sources.Resolve(env.Root)
	if err != nil {
		return Outcome{}, err
	}

	if len(files) == 0 {
		env.Logger.Debug("no matching sources", slog.Any("patterns", t.Sources.Patterns()))
		return Outcome{}, nil
	}

	x := &executor{task: t, env: env, fn: fn}

	if t.Bundle {
		err = x.bundle(ctx, files)
	} else {
		err = x.each(ctx, files)
	}

	x.outcome.Files = len(files)

	return x.outcome, err
}

type executor struct {
	task    *Task
	env     Env
	fn      transform.Func
	outcome Outcome
}

func (x *executor) each(ctx context.Context, files []sources.File) error {
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}

		src, err := x.read(f)
		if err != nil {
			return err
		}

		fp := cache.FingerprintOf([]byte(x.task.Name), []byte(x.task.TransformID), src)

		out, err := x.apply(ctx, fp, src)
		if err != nil {
			return fmt.Errorf("%s: %w", f.Path, err)
		}

		if err := x.write(x.outputPath(f.Rel), out); err != nil {
			return err
		}
	}

	return nil
}

func (x *executor) bundle(ctx context.Context, files []sources.File) error {
	parts := [][]byte{[]byte(x.task.Name), []byte(x.task.TransformID), []byte("bundle")}

	var joined []byte

	for i, f := range files {
		src, err := x.read(f)
		if err != nil {
			return err
		}

		if i > 0 {
			joined = append(joined, '\n')
		}

		joined = append(joined, src...)
		parts = append(parts, []byte(f.Path), src)
	}

	out, err := x.apply(ctx, cache.FingerprintOf(parts...), joined)
	if err != nil {
		return fmt.Errorf("bundle %s: %w", x.task.Dest, err)
	}

	return x.write(path.Clean(filepath.ToSlash(x.task.Dest)), out)
}

func (x *executor) apply(ctx context.Context, fp cache.Fingerprint, src []byte) ([]byte, error) {
	if x.task.Cache {
		if out, ok := x.env.Cache.Get(fp); ok {
			x.outcome.CacheHits++
			return out, nil
		}

		x.outcome.CacheMisses++
	}

	out, err := x.fn(ctx, src)
	if err != nil {
		return nil, err
	}

	if x.task.Cache {
		if err := x.env.Cache.Put(fp, out); err != nil {
			x.env.Logger.Warn("cache write failed", slog.Any("error", err))
		}
	}

	return out, nil
}

func (x *executor) read(f sources.File) ([]byte, error) {
	src, err := os.ReadFile(filepath.Join(x.env.Root, filepath.FromSlash(f.Path)))
	if err != nil {
		return nil, fmt.Errorf("reading source: %w", err)
	}

	return src, nil
}

func (x *executor) write(rel string, data []byte) error {
	if err := x.env.Sink.Write(rel, data); err != nil {
		return err
	}

	x.outcome.Written = append(x.outcome.Written, rel)

	return nil
}

func (x *executor) outputPath(rel string) string {
	if x.task.Ext != "" {
		rel = strings.TrimSuffix(rel, path.Ext(rel)) + x.task.Ext
	}

	return path.Join(filepath.ToSlash(x.task.Dest), rel)
}
