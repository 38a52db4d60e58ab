package runner

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/assetflow/internal/cache"
	"github.com/hupe1980/assetflow/internal/graph"
	"github.com/hupe1980/assetflow/internal/output"
	"github.com/hupe1980/assetflow/internal/reload"
	"github.com/hupe1980/assetflow/internal/sources"
	"github.com/hupe1980/assetflow/internal/task"
	"github.com/hupe1980/assetflow/internal/transform"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()

	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

var errBoom = errors.New("boom")

func failing(context.Context, []byte) ([]byte, error) { return nil, errBoom }

func upper(_ context.Context, src []byte) ([]byte, error) { return bytes.ToUpper(src), nil }

func blocking(ctx context.Context, _ []byte) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func newTask(name, src, dest string, fn transform.Func, deps ...string) *task.Task {
	return &task.Task{
		Name:        name,
		Sources:     sources.MustCompile(src),
		Dest:        dest,
		Transform:   fn,
		TransformID: name,
		DependsOn:   deps,
	}
}

// styleProject lays out the styles, bundle-styles, scripts scenario.
func styleProject(t *testing.T, stylesFn transform.Func) (string, *graph.Graph) {
	t.Helper()

	root := t.TempDir()
	writeFile(t, root, "app/scss/main.scss", "body{}")
	writeFile(t, root, "app/scripts/a.js", "a()")
	writeFile(t, root, "app/scripts/b.js", "b()")

	styles := newTask("styles", "app/scss/*.scss", "app/css", stylesFn)
	styles.Ext = ".css"
	styles.Reload = reload.Style

	bundleStyles := newTask("bundle-styles", "app/css/*.css", "dist/css/styles.min.css", upper, "styles")
	bundleStyles.Bundle = true
	bundleStyles.Reload = reload.Style

	scripts := newTask("scripts", "app/scripts/*.js", "dist/js/scripts.min.js", upper)
	scripts.Bundle = true

	g, err := graph.New([]*task.Task{styles, bundleStyles, scripts})
	require.NoError(t, err)

	return root, g
}

// ---------------------------------------------------------------------------
// ParsePolicy
// ---------------------------------------------------------------------------

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"", Tolerate, false},
		{"tolerate", Tolerate, false},
		{"fail-fast", FailFast, false},
		{"retry", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePolicy(tt.in)
			if tt.wantErr {
				assert.ErrorContains(t, err, "invalid failure policy")
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// ---------------------------------------------------------------------------
// Run
// ---------------------------------------------------------------------------

func TestRun_AllComplete(t *testing.T) {
	root, g := styleProject(t, upper)

	r := New(g, Options{Root: root})
	report, err := r.RunAll(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, report.ID)
	assert.False(t, report.Failed())
	assert.NoError(t, report.Err())
	assert.Equal(t, Counts{Completed: 3}, report.Counts())

	// Wave order, then name.
	var order []string
	for _, res := range report.Results {
		order = append(order, res.Task)
	}

	assert.Equal(t, []string{"scripts", "styles", "bundle-styles"}, order)

	got, err := os.ReadFile(filepath.Join(root, "dist", "css", "styles.min.css"))
	require.NoError(t, err)
	assert.Equal(t, "BODY{}", string(got))

	got, err = os.ReadFile(filepath.Join(root, "dist", "js", "scripts.min.js"))
	require.NoError(t, err)
	assert.Equal(t, "A()\nB()", string(got))

	assert.Equal(t, reload.Full, report.Reload(), "scripts declares a full reload")
	assert.ElementsMatch(t, []string{"app/css/main.css", "dist/css/styles.min.css", "dist/js/scripts.min.js"}, report.Written())
}

func TestRun_FailureSkipsOnlyDependents(t *testing.T) {
	root, g := styleProject(t, failing)

	report, err := New(g, Options{Root: root, Sink: output.NewMemorySink()}).RunAll(context.Background())
	require.NoError(t, err)

	assert.True(t, report.Failed())
	assert.Equal(t, Counts{Completed: 1, Failed: 1, Skipped: 1}, report.Counts())

	styles, ok := report.Result("styles")
	require.True(t, ok)
	assert.Equal(t, Failed, styles.Status)
	assert.ErrorIs(t, styles.Err, errBoom)

	bundle, ok := report.Result("bundle-styles")
	require.True(t, ok)
	assert.Equal(t, Skipped, bundle.Status)
	assert.Equal(t, "styles", bundle.Cause)

	scripts, ok := report.Result("scripts")
	require.True(t, ok)
	assert.Equal(t, Completed, scripts.Status)

	err = report.Err()
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)

	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	require.Len(t, merr.Errors, 1)

	var taskErr *TaskError
	require.ErrorAs(t, merr.Errors[0], &taskErr)
	assert.Equal(t, "styles", taskErr.Task)

	assert.Equal(t, reload.Full, report.Reload())
}

func TestRun_SkipCauseIsRootFailure(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/x.txt", "x")

	g, err := graph.New([]*task.Task{
		newTask("a", "src/*.txt", "out/a", failing),
		newTask("b", "src/*.txt", "out/b", upper, "a"),
		newTask("c", "src/*.txt", "out/c", upper, "b"),
	})
	require.NoError(t, err)

	report, err := New(g, Options{Root: root, Sink: output.NewMemorySink()}).RunAll(context.Background())
	require.NoError(t, err)

	c, ok := report.Result("c")
	require.True(t, ok)
	assert.Equal(t, Skipped, c.Status)
	assert.Equal(t, "a", c.Cause)
	assert.Equal(t, reload.None, report.Reload(), "nothing completed")
}

func TestRun_SubsetTreatsOutsideDependenciesAsSatisfied(t *testing.T) {
	root, g := styleProject(t, failing)
	writeFile(t, root, "app/css/main.css", "old{}")

	sink := output.NewMemorySink()

	report, err := New(g, Options{Root: root, Sink: sink}).Run(context.Background(), []string{"bundle-styles"})
	require.NoError(t, err)

	assert.Equal(t, Counts{Completed: 1}, report.Counts())
	assert.Equal(t, []string{"dist/css/styles.min.css"}, sink.Paths())
	assert.Equal(t, reload.Style, report.Reload())
}

func TestRun_UnknownTask(t *testing.T) {
	root, g := styleProject(t, upper)

	report, err := New(g, Options{Root: root}).Run(context.Background(), []string{"sass"})
	require.ErrorIs(t, err, graph.ErrUnknownTask)
	assert.Nil(t, report)
}

func TestRun_FailFastAbortsEverythingElse(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/x.txt", "x")

	g, err := graph.New([]*task.Task{
		newTask("broken", "src/*.txt", "out/broken", failing),
		newTask("slow", "src/*.txt", "out/slow", blocking),
		newTask("after", "src/*.txt", "out/after", upper, "slow"),
		newTask("unrelated", "src/*.txt", "out/unrelated", upper, "broken", "slow"),
	})
	require.NoError(t, err)

	done := make(chan *Report, 1)

	go func() {
		report, err := New(g, Options{Root: root, Sink: output.NewMemorySink(), Workers: 2, Policy: FailFast}).
			RunAll(context.Background())
		assert.NoError(t, err)
		done <- report
	}()

	var report *Report

	select {
	case report = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("fail-fast build did not cancel the blocking task")
	}

	broken, _ := report.Result("broken")
	assert.Equal(t, Failed, broken.Status)

	for _, name := range []string{"slow", "after"} {
		res, ok := report.Result(name)
		require.True(t, ok, name)
		assert.Equal(t, Skipped, res.Status, name)
		assert.Equal(t, CauseAborted, res.Cause, name)
	}

	unrelated, _ := report.Result("unrelated")
	assert.Equal(t, Skipped, unrelated.Status)

	var merr *multierror.Error
	require.ErrorAs(t, report.Err(), &merr)
	assert.Len(t, merr.Errors, 1, "aborted tasks are not failures")
}

func TestRun_TolerateDoesNotCancelSiblings(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/x.txt", "x")

	var finished atomic.Bool

	slowOK := func(_ context.Context, src []byte) ([]byte, error) {
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)

		return src, nil
	}

	g, err := graph.New([]*task.Task{
		newTask("broken", "src/*.txt", "out/broken", failing),
		newTask("slow", "src/*.txt", "out/slow", slowOK),
	})
	require.NoError(t, err)

	report, err := New(g, Options{Root: root, Sink: output.NewMemorySink(), Workers: 2}).RunAll(context.Background())
	require.NoError(t, err)

	assert.True(t, finished.Load())
	assert.Equal(t, Counts{Completed: 1, Failed: 1}, report.Counts())
}

func TestRun_BoundedWorkers(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/x.txt", "x")

	var (
		running atomic.Int32
		peak    atomic.Int32
	)

	track := func(_ context.Context, src []byte) ([]byte, error) {
		n := running.Add(1)
		defer running.Add(-1)

		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}

		time.Sleep(20 * time.Millisecond)

		return src, nil
	}

	var tasks []*task.Task
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		tasks = append(tasks, newTask(name, "src/*.txt", "out/"+name, track))
	}

	g, err := graph.New(tasks)
	require.NoError(t, err)

	report, err := New(g, Options{Root: root, Sink: output.NewMemorySink(), Workers: 2}).RunAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Counts{Completed: 6}, report.Counts())
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRun_PanicIsATaskFailure(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/x.txt", "x")

	g, err := graph.New([]*task.Task{
		newTask("panics", "src/*.txt", "out", func(context.Context, []byte) ([]byte, error) {
			panic("transform bug")
		}),
	})
	require.NoError(t, err)

	report, err := New(g, Options{Root: root, Sink: output.NewMemorySink()}).RunAll(context.Background())
	require.NoError(t, err)

	res, _ := report.Result("panics")
	assert.Equal(t, Failed, res.Status)
	assert.ErrorContains(t, res.Err, "transform bug")
}

func TestRun_CachedRebuildIsIdempotent(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "app/images/logo.svg", "<svg/>")

	var calls atomic.Int32

	counting := func(_ context.Context, src []byte) ([]byte, error) {
		calls.Add(1)
		return bytes.ToUpper(src), nil
	}

	images := newTask("images", "app/images/*.svg", "dist/images", counting)
	images.Cache = true

	g, err := graph.New([]*task.Task{images})
	require.NoError(t, err)

	r := New(g, Options{Root: root, Cache: cache.NewMemory()})

	first, err := r.RunAll(context.Background())
	require.NoError(t, err)

	before, err := os.ReadFile(filepath.Join(root, "dist", "images", "logo.svg"))
	require.NoError(t, err)

	second, err := r.RunAll(context.Background())
	require.NoError(t, err)

	after, err := os.ReadFile(filepath.Join(root, "dist", "images", "logo.svg"))
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, before, after)
	assert.Equal(t, int32(1), calls.Load())

	res, _ := second.Result("images")
	assert.Equal(t, 1, res.Outcome.CacheHits)
}

func TestRun_ParentCancellation(t *testing.T) {
	root, g := styleProject(t, upper)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := New(g, Options{Root: root, Sink: output.NewMemorySink()}).RunAll(ctx)
	require.NoError(t, err)

	assert.Equal(t, Counts{Skipped: 3}, report.Counts())
	assert.NoError(t, report.Err())
	assert.False(t, report.Failed())
	assert.True(t, report.Aborted())

	for _, res := range report.Results {
		assert.Equal(t, CauseAborted, res.Cause, res.Task)
	}
}
