package sources

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string, files ...string) {
	t.Helper()

	for _, f := range files {
		p := filepath.Join(root, filepath.FromSlash(f))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(f), 0o644))
	}
}

func paths(files []File) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Path
	}

	return out
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		want     error
	}{
		{"empty", nil, ErrEmptySpec},
		{"only negations", []string{"!app/*.tmp"}, ErrEmptySpec},
		{"blank", []string{"  "}, ErrBadPattern},
		{"absolute", []string{"/etc/*.conf"}, ErrBadPattern},
		{"escapes root", []string{"../other/*.js"}, ErrBadPattern},
		{"unclosed class", []string{"app/[a-z.js"}, ErrBadPattern},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.patterns...)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSpec_Match(t *testing.T) {
	spec := MustCompile(
		"app/scss/*.scss",
		"app/scripts/**/*.js",
		"app/assets/**/*.{png,jpg,jpeg,gif,svg}",
		"!app/scripts/vendor/**",
	)

	tests := []struct {
		path string
		want bool
	}{
		{"app/scss/main.scss", true},
		{"app/scss/partials/_grid.scss", false},
		{"app/scripts/main.js", true},
		{"app/scripts/lib/util/dom.js", true},
		{"app/scripts/vendor/jquery.js", false},
		{"app/assets/logo.png", true},
		{"app/assets/icons/x.svg", true},
		{"app/assets/readme.txt", false},
		{"./app/scss/main.scss", true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, spec.Match(tt.path))
		})
	}
}

func TestSpec_Bases(t *testing.T) {
	spec := MustCompile("./app/**/*.php", "app/scss/*.scss", "app/index.html", "*.md", "!app/tmp/*")
	assert.Equal(t, []string{"app", "app/scss", "."}, spec.Bases())
}

func TestSpec_Resolve(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root,
		"app/scripts/main.js",
		"app/scripts/lib/b.js",
		"app/scripts/lib/a.js",
		"app/scripts/.hidden/x.js",
		"app/scripts/readme.md",
	)

	spec := MustCompile("app/scripts/**/*.js")

	files, err := spec.Resolve(root)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"app/scripts/lib/a.js",
		"app/scripts/lib/b.js",
		"app/scripts/main.js",
	}, paths(files))
	assert.Equal(t, "lib/a.js", files[0].Rel)
	assert.Equal(t, "main.js", files[2].Rel)
}

func TestSpec_ResolveMissingBaseIsEmpty(t *testing.T) {
	spec := MustCompile("app/fonts/**/*")

	files, err := spec.Resolve(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestSpec_ResolveExclusion(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "app/css/main.css", "app/css/main.min.css")

	spec := MustCompile("app/css/*.css", "!app/css/*.min.css")

	files, err := spec.Resolve(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"app/css/main.css"}, paths(files))
}

func TestSpec_ResolveLiteral(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "app/index.html", "app/about.html")

	spec := MustCompile("app/index.html")

	files, err := spec.Resolve(root)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "index.html", files[0].Rel)
}

func TestSpec_ResolveDeduplicatesOverlappingPatterns(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "app/a.html", "app/sub/b.html")

	spec := MustCompile("app/*.html", "app/**/*.html")

	files, err := spec.Resolve(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"app/a.html", "app/sub/b.html"}, paths(files))
	assert.Equal(t, "a.html", files[0].Rel)
}

func TestExpandGlobstar(t *testing.T) {
	assert.Equal(t, []string{"app/*.js"}, expandGlobstar("app/*.js"))
	assert.ElementsMatch(t, []string{"app/**/*.js", "app/*.js"}, expandGlobstar("app/**/*.js"))
	assert.Len(t, expandGlobstar("a/**/b/**/c"), 4)
}
