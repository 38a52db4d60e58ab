package task

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/assetflow/internal/cache"
	"github.com/hupe1980/assetflow/internal/output"
	"github.com/hupe1980/assetflow/internal/reload"
	"github.com/hupe1980/assetflow/internal/sources"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()

	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func readFile(t *testing.T, root, rel string) string {
	t.Helper()

	b, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	require.NoError(t, err)

	return string(b)
}

func upper(calls *atomic.Int32) func(context.Context, []byte) ([]byte, error) {
	return func(_ context.Context, src []byte) ([]byte, error) {
		if calls != nil {
			calls.Add(1)
		}

		return bytes.ToUpper(src), nil
	}
}

func TestValidate(t *testing.T) {
	ok := &Task{Name: "styles", Sources: sources.MustCompile("app/scss/*.scss"), Dest: "app/css", Ext: ".css"}
	require.NoError(t, ok.Validate())

	bad := &Task{DependsOn: []string{""}, Ext: "css"}
	err := bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task name is required")
	assert.Contains(t, err.Error(), "sources are required")
	assert.Contains(t, err.Error(), "destination is required")
	assert.Contains(t, err.Error(), "must start with a dot")
	assert.Contains(t, err.Error(), "empty dependency name")
}

func TestReloadKind(t *testing.T) {
	assert.Equal(t, reload.Full, (&Task{}).ReloadKind())
	assert.Equal(t, reload.Style, (&Task{Reload: reload.Style}).ReloadKind())
}

func TestExecute_PerFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "app/scss/main.scss", "body{}")
	writeFile(t, root, "app/scss/print.scss", "p{}")

	tk := &Task{
		Name:      "styles",
		Sources:   sources.MustCompile("app/scss/*.scss"),
		Dest:      "app/css",
		Ext:       ".css",
		Transform: upper(nil),
	}

	out, err := Execute(context.Background(), tk, Env{Root: root, Sink: output.NewFileSink(root)})
	require.NoError(t, err)

	assert.Equal(t, 2, out.Files)
	assert.Equal(t, []string{"app/css/main.css", "app/css/print.css"}, out.Written)
	assert.Equal(t, "BODY{}", readFile(t, root, "app/css/main.css"))
}

func TestExecute_PreservesSubdirectories(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "app/css/fonts/a/x.woff", "font")

	tk := &Task{Name: "fonts", Sources: sources.MustCompile("app/css/fonts/**/*"), Dest: "dist/css/fonts"}

	out, err := Execute(context.Background(), tk, Env{Root: root, Sink: output.NewFileSink(root)})
	require.NoError(t, err)
	assert.Equal(t, []string{"dist/css/fonts/a/x.woff"}, out.Written)
	assert.Equal(t, "font", readFile(t, root, "dist/css/fonts/a/x.woff"))
}

func TestExecute_Bundle(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "app/scripts/b.js", "b()")
	writeFile(t, root, "app/scripts/a.js", "a()")
	writeFile(t, root, "app/scripts/lib/c.js", "c()")

	tk := &Task{
		Name:    "scripts",
		Sources: sources.MustCompile("app/scripts/**/*.js"),
		Dest:    "dist/js/scripts.min.js",
		Bundle:  true,
	}

	out, err := Execute(context.Background(), tk, Env{Root: root, Sink: output.NewFileSink(root)})
	require.NoError(t, err)
	assert.Equal(t, 3, out.Files)
	assert.Equal(t, []string{"dist/js/scripts.min.js"}, out.Written)
	assert.Equal(t, "a()\nb()\nc()", readFile(t, root, "dist/js/scripts.min.js"))
}

func TestExecute_NoSourcesIsNoop(t *testing.T) {
	root := t.TempDir()
	tk := &Task{Name: "fonts", Sources: sources.MustCompile("app/css/fonts/**/*"), Dest: "dist/fonts", Bundle: true}

	out, err := Execute(context.Background(), tk, Env{Root: root, Sink: output.NewFileSink(root)})
	require.NoError(t, err)
	assert.Equal(t, Outcome{}, out)

	_, statErr := os.Stat(filepath.Join(root, "dist"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestExecute_CacheAvoidsRecompute(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "app/assets/logo.png", "png")
	writeFile(t, root, "app/assets/icon.svg", "svg")

	var calls atomic.Int32

	tk := &Task{
		Name:        "images",
		Sources:     sources.MustCompile("app/assets/**/*.{png,svg}"),
		Dest:        "dist/images",
		Transform:   upper(&calls),
		TransformID: "upper",
		Cache:       true,
	}

	env := Env{Root: root, Sink: output.NewFileSink(root), Cache: cache.NewMemory()}

	first, err := Execute(context.Background(), tk, env)
	require.NoError(t, err)
	assert.Equal(t, 2, first.CacheMisses)
	assert.Equal(t, int32(2), calls.Load())

	before := readFile(t, root, "dist/images/logo.png")

	second, err := Execute(context.Background(), tk, env)
	require.NoError(t, err)
	assert.Equal(t, 2, second.CacheHits)
	assert.Equal(t, 0, second.CacheMisses)
	assert.Equal(t, int32(2), calls.Load(), "cache hits must not call the transform")
	assert.Equal(t, before, readFile(t, root, "dist/images/logo.png"))

	// Touch without change keeps the hit; a content change misses.
	writeFile(t, root, "app/assets/logo.png", "png")
	writeFile(t, root, "app/assets/icon.svg", "svg2")

	third, err := Execute(context.Background(), tk, env)
	require.NoError(t, err)
	assert.Equal(t, 1, third.CacheHits)
	assert.Equal(t, 1, third.CacheMisses)
	assert.Equal(t, "SVG2", readFile(t, root, "dist/images/icon.svg"))
}

func TestExecute_UncachedTaskIgnoresCache(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "x")

	var calls atomic.Int32

	mem := cache.NewMemory()
	tk := &Task{Name: "t", Sources: sources.MustCompile("*.txt"), Dest: "out", Transform: upper(&calls)}

	for i := 0; i < 2; i++ {
		_, err := Execute(context.Background(), tk, Env{Root: root, Sink: output.NewMemorySink(), Cache: mem})
		require.NoError(t, err)
	}

	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 0, mem.Len())
}

func TestExecute_TransformErrorNamesSource(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "app/scss/broken.scss", "$")

	boom := errors.New("unexpected token")
	tk := &Task{
		Name:    "styles",
		Sources: sources.MustCompile("app/scss/*.scss"),
		Dest:    "app/css",
		Transform: func(context.Context, []byte) ([]byte, error) {
			return nil, boom
		},
	}

	_, err := Execute(context.Background(), tk, Env{Root: root, Sink: output.NewMemorySink()})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "app/scss/broken.scss")
}

func TestExecute_UnwritableDestination(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "app/index.html", "<html>")
	writeFile(t, root, "dist", "not a directory")

	tk := &Task{Name: "html", Sources: sources.MustCompile("app/*.html"), Dest: "dist"}

	_, err := Execute(context.Background(), tk, Env{Root: root, Sink: output.NewFileSink(root)})
	require.Error(t, err)
}

func TestExecute_Idempotent(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "app/scripts/a.js", "a")
	writeFile(t, root, "app/scripts/b.js", "b")

	tk := &Task{Name: "scripts", Sources: sources.MustCompile("app/scripts/*.js"), Dest: "dist/app.js", Bundle: true, Transform: upper(nil)}

	first := output.NewMemorySink()
	second := output.NewMemorySink()

	_, err := Execute(context.Background(), tk, Env{Root: root, Sink: first})
	require.NoError(t, err)
	_, err = Execute(context.Background(), tk, Env{Root: root, Sink: second})
	require.NoError(t, err)

	a, _ := first.File("dist/app.js")
	b, _ := second.File("dist/app.js")
	assert.Equal(t, a, b)
}

func TestExecute_Cancelled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "x")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tk := &Task{Name: "t", Sources: sources.MustCompile("*.txt"), Dest: "out"}

	_, err := Execute(ctx, tk, Env{Root: root, Sink: output.NewMemorySink()})
	assert.ErrorIs(t, err, context.Canceled)
}
