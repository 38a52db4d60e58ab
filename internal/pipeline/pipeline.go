package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hupe1980/assetflow/internal/config"
	"github.com/hupe1980/assetflow/internal/graph"
	"github.com/hupe1980/assetflow/internal/reload"
	"github.com/hupe1980/assetflow/internal/sources"
	"github.com/hupe1980/assetflow/internal/task"
	"github.com/hupe1980/assetflow/internal/transform"
	"github.com/hupe1980/assetflow/internal/version"
	"github.com/hupe1980/assetflow/internal/watch"
)

// ErrUnknownOverride is returned when a local override names a task the
// pipeline does not declare.
var ErrUnknownOverride = errors.New("override for unknown task")

// Pipeline is a compiled, validated pipeline.
type Pipeline struct {
	// Path is the pipeline file, empty when compiled from memory.
	Path string
	// Root is the directory all task paths are relative to.
	Root string
	// Tasks in declaration order.
	Tasks []*task.Task
	// Graph is the validated task graph.
	Graph *graph.Graph
	// Subscriptions drive watch mode.
	Subscriptions []watch.Subscription
	// Clean lists the root-relative paths a full build removes first.
	Clean []string
}

// Options controls compilation.
type Options struct {
	// Registry resolves transform kinds. Defaults to transform.DefaultRegistry().
	Registry *transform.Registry
	// Overrides are local per-task tweaks.
	Overrides *config.Overrides
}

// Load reads and compiles the pipeline file at path. Task paths are relative
// to the file's directory.
func Load(path string, opts Options) (*Pipeline, error) {
	data, err := os.ReadFile(path) //nolint:gosec // user-specified pipeline file
	if err != nil {
		return nil, fmt.Errorf("reading pipeline: %w", err)
	}

	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}

	p, err := f.Compile(filepath.Dir(abs), opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	p.Path = path

	return p, nil
}

// Compile turns the declarations into tasks, a graph, subscriptions and
// clean targets rooted at root.
func (f *File) Compile(root string, opts Options) (*Pipeline, error) {
	if opts.Registry == nil {
		opts.Registry = transform.DefaultRegistry()
	}

	if opts.Overrides == nil {
		opts.Overrides = &config.Overrides{}
	}

	if f.Requires != "" {
		if err := version.Check(f.Requires); err != nil {
			return nil, err
		}
	}

	declared := make(map[string]bool, len(f.Tasks))
	for _, d := range f.Tasks {
		declared[d.Name] = true
	}

	for _, name := range opts.Overrides.Names() {
		if !declared[name] {
			return nil, fmt.Errorf("%w %q", ErrUnknownOverride, name)
		}
	}

	p := &Pipeline{Root: root}

	for i, d := range f.Tasks {
		t, err := compileTask(d, opts)
		if err != nil {
			return nil, fmt.Errorf("tasks[%d]: %w", i, err)
		}

		p.Tasks = append(p.Tasks, t)
	}

	g, err := graph.New(p.Tasks)
	if err != nil {
		return nil, err
	}

	p.Graph = g

	if p.Subscriptions, err = compileWatch(f.Watch, p.Tasks, g); err != nil {
		return nil, err
	}

	if f.Clean != nil {
		p.Clean = append([]string(nil), f.Clean...)
	} else {
		p.Clean = defaultClean(p.Tasks)
	}

	return p, nil
}

func compileTask(d TaskDecl, opts Options) (*task.Task, error) {
	if len(d.Src) == 0 {
		return nil, fmt.Errorf("task %q: %w", d.Name, sources.ErrEmptySpec)
	}

	src, err := sources.Compile(d.Src...)
	if err != nil {
		return nil, fmt.Errorf("task %q: %w", d.Name, err)
	}

	ov := opts.Overrides.Tasks[d.Name]

	spec := d.Transform
	if len(ov.Env) > 0 {
		spec = withEnv(spec, ov.Env)
	}

	fn, id, err := opts.Registry.Build(spec)
	if err != nil {
		return nil, fmt.Errorf("task %q: %w", d.Name, err)
	}

	reloadDecl := d.Reload
	if ov.Reload != "" {
		reloadDecl = ov.Reload
	}

	kind, err := reload.Parse(reloadDecl)
	if err != nil {
		return nil, fmt.Errorf("task %q: %w", d.Name, err)
	}

	useCache := d.Cache
	if ov.Cache != nil {
		useCache = *ov.Cache
	}

	return &task.Task{
		Name:        d.Name,
		Sources:     src,
		Dest:        d.Dest,
		Bundle:      d.Bundle,
		Ext:         d.Ext,
		Transform:   fn,
		TransformID: id,
		DependsOn:   append([]string(nil), d.DependsOn...),
		Cache:       useCache,
		Reload:      kind,
	}, nil
}

// withEnv returns a copy of spec whose exec steps get env appended.
func withEnv(spec transform.Spec, env []string) transform.Spec {
	out := spec

	if spec.Kind == transform.KindExec {
		out.Env = append(append([]string(nil), spec.Env...), env...)
	}

	if len(spec.Steps) > 0 {
		out.Steps = make([]transform.Spec, len(spec.Steps))
		for i, step := range spec.Steps {
			out.Steps[i] = withEnv(step, env)
		}
	}

	return out
}

func compileWatch(decls []WatchDecl, tasks []*task.Task, g *graph.Graph) ([]watch.Subscription, error) {
	if len(decls) == 0 {
		subs := make([]watch.Subscription, 0, len(tasks))
		for _, t := range tasks {
			subs = append(subs, watch.Subscription{
				Name:    t.Name,
				Sources: t.Sources,
				Tasks:   []string{t.Name},
			})
		}

		return subs, nil
	}

	subs := make([]watch.Subscription, 0, len(decls))

	for i, d := range decls {
		src, err := sources.Compile(d.Src...)
		if err != nil {
			return nil, fmt.Errorf("watch[%d]: %w", i, err)
		}

		for _, name := range d.Tasks {
			if _, ok := g.Task(name); !ok {
				return nil, fmt.Errorf("watch[%d]: %w: %q", i, graph.ErrUnknownTask, name)
			}
		}

		kind, err := reload.Parse(d.Reload)
		if err != nil {
			return nil, fmt.Errorf("watch[%d]: %w", i, err)
		}

		name := d.Name
		if name == "" {
			name = strings.Join(d.Src, ",")
		}

		subs = append(subs, watch.Subscription{
			Name:    name,
			Sources: src,
			Tasks:   append([]string(nil), d.Tasks...),
			Reload:  kind,
		})
	}

	return subs, nil
}

// defaultClean returns every task destination that does not overlap a source
// base directory, so intermediate outputs read by other tasks survive.
// Nested targets are folded into their parent.
func defaultClean(tasks []*task.Task) []string {
	var bases []string
	for _, t := range tasks {
		bases = append(bases, t.Sources.Bases()...)
	}

	var targets []string

	for _, t := range tasks {
		dest := path.Clean(filepath.ToSlash(t.Dest))
		if dest == "." {
			continue
		}

		keep := true

		for _, b := range bases {
			if overlaps(dest, b) {
				keep = false
				break
			}
		}

		if keep {
			targets = append(targets, dest)
		}
	}

	sort.Strings(targets)

	var out []string

next:
	for _, t := range targets {
		for _, kept := range out {
			if t == kept || within(t, kept) {
				continue next
			}
		}

		out = append(out, t)
	}

	return out
}

func overlaps(a, b string) bool {
	return a == b || within(a, b) || within(b, a)
}

// within reports whether p lies strictly inside dir.
func within(p, dir string) bool {
	if dir == "." {
		return p != "."
	}

	return strings.HasPrefix(p, dir+"/")
}
