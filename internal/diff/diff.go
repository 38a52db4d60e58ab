// Package diff compares the outputs a build would produce with the files
// currently on disk and renders the differences as unified diffs.
package diff

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/hupe1980/assetflow/internal/output"
)

// Status classifies one output file.
type Status string

// File statuses.
const (
	Added     Status = "added"
	Modified  Status = "modified"
	Unchanged Status = "unchanged"
)

// FileDiff is the comparison result for one output path.
type FileDiff struct {
	Path   string
	Status Status
	// Binary is set when either side is not text; Unified is then empty.
	Binary bool
	// Unified is the unified diff, empty for unchanged and binary files.
	Unified string
}

// Result holds the comparison of every produced output.
type Result struct {
	Files []FileDiff
}

// HasDifferences reports whether any output would change.
func (r *Result) HasDifferences() bool {
	for _, f := range r.Files {
		if f.Status != Unchanged {
			return true
		}
	}

	return false
}

// Count returns how many files have status s.
func (r *Result) Count(s Status) int {
	n := 0

	for _, f := range r.Files {
		if f.Status == s {
			n++
		}
	}

	return n
}

// Options configures diff computation.
type Options struct {
	// Context is the number of unchanged lines around each change.
	Context int
}

// DefaultOptions returns the conventional three lines of context.
func DefaultOptions() Options {
	return Options{Context: 3}
}

// Compare diffs every file captured in proposed against the file at the same
// path below root.
func Compare(root string, proposed *output.MemorySink, opts Options) (*Result, error) {
	res := &Result{}

	for _, rel := range proposed.Paths() {
		next, _ := proposed.File(rel)

		abs, err := output.Resolve(root, rel)
		if err != nil {
			return nil, err
		}

		prev, err := os.ReadFile(abs) //nolint:gosec // path is rooted by output.Resolve
		exists := true

		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("reading %s: %w", rel, err)
			}

			exists = false
		}

		fd, err := compareFile(rel, prev, next, exists, opts)
		if err != nil {
			return nil, err
		}

		res.Files = append(res.Files, fd)
	}

	return res, nil
}

func compareFile(rel string, prev, next []byte, exists bool, opts Options) (FileDiff, error) {
	fd := FileDiff{Path: rel, Status: Modified}

	switch {
	case !exists:
		fd.Status = Added
	case bytes.Equal(prev, next):
		fd.Status = Unchanged
		return fd, nil
	}

	if isBinary(prev) || isBinary(next) {
		fd.Binary = true
		return fd, nil
	}

	from := "a/" + rel
	if !exists {
		from = "/dev/null"
	}

	unified, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        splitLines(string(prev)),
		B:        splitLines(string(next)),
		FromFile: from,
		ToFile:   "b/" + rel,
		Context:  opts.Context,
	})
	if err != nil {
		return fd, fmt.Errorf("computing diff for %s: %w", rel, err)
	}

	fd.Unified = unified

	return fd, nil
}

// isBinary uses the same heuristic as git: a NUL byte in the first 8000
// bytes.
func isBinary(b []byte) bool {
	if len(b) > 8000 {
		b = b[:8000]
	}

	return bytes.IndexByte(b, 0) >= 0
}

// Write renders the changed files, optionally with ANSI colors, followed by
// a one-line summary.
func Write(w io.Writer, r *Result, color bool) {
	if !r.HasDifferences() {
		_, _ = fmt.Fprintln(w, "No differences found.")
		return
	}

	for _, f := range r.Files {
		switch {
		case f.Status == Unchanged:
			continue
		case f.Binary:
			_, _ = fmt.Fprintf(w, "Binary files %s differ (%s)\n", f.Path, f.Status)
			continue
		case f.Unified == "":
			_, _ = fmt.Fprintf(w, "File %s differs only in its final newline\n", f.Path)
			continue
		}

		for _, line := range strings.Split(strings.TrimSuffix(f.Unified, "\n"), "\n") {
			if color {
				writeColorLine(w, line)
			} else {
				_, _ = fmt.Fprintln(w, line)
			}
		}
	}

	_, _ = fmt.Fprintf(w, "\n%d added, %d modified, %d unchanged\n",
		r.Count(Added), r.Count(Modified), r.Count(Unchanged))
}

// writeColorLine writes a single diff line with ANSI color codes.
func writeColorLine(w io.Writer, line string) {
	const (
		red   = "\033[31m"
		green = "\033[32m"
		cyan  = "\033[36m"
		bold  = "\033[1m"
		reset = "\033[0m"
	)

	switch {
	case strings.HasPrefix(line, "---"), strings.HasPrefix(line, "+++"):
		_, _ = fmt.Fprintf(w, "%s%s%s\n", bold, line, reset)
	case strings.HasPrefix(line, "@@"):
		_, _ = fmt.Fprintf(w, "%s%s%s\n", cyan, line, reset)
	case strings.HasPrefix(line, "-"):
		_, _ = fmt.Fprintf(w, "%s%s%s\n", red, line, reset)
	case strings.HasPrefix(line, "+"):
		_, _ = fmt.Fprintf(w, "%s%s%s\n", green, line, reset)
	default:
		_, _ = fmt.Fprintln(w, line)
	}
}

// splitLines keeps the trailing newline on each line as difflib expects.
// Empty input has no lines; a missing final newline is added.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}

	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	} else {
		lines[len(lines)-1] += "\n"
	}

	return lines
}
