// Package sources compiles and resolves the glob sets that select a task's
// input files.
//
// Patterns are slash-separated and relative to the project root. They
// support *, ?, [...] classes, {a,b} alternation and ** for any number of
// directories (including none). A pattern prefixed with "!" excludes files
// matched by the other patterns.
package sources

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

// Sentinel errors returned by Compile.
var (
	ErrEmptySpec  = errors.New("source spec has no patterns")
	ErrBadPattern = errors.New("invalid glob pattern")
)

const metaChars = "*?[{"

// File is a single resolved input file.
type File struct {
	// Path is the file path relative to the project root, slash separated.
	Path string
	// Rel is the path relative to the static base of the matching pattern.
	Rel string
}

type pattern struct {
	raw     string
	base    string
	negate  bool
	literal bool
	globs   []glob.Glob
}

func (p *pattern) match(rel string) bool {
	for _, g := range p.globs {
		if g.Match(rel) {
			return true
		}
	}

	return false
}

// Spec is an ordered, compiled set of glob patterns.
type Spec struct {
	patterns []*pattern
}

// Compile validates and compiles patterns. At least one positive pattern is
// required.
func Compile(patterns ...string) (*Spec, error) {
	if len(patterns) == 0 {
		return nil, ErrEmptySpec
	}

	s := &Spec{}
	positive := 0

	for _, raw := range patterns {
		p, err := compilePattern(raw)
		if err != nil {
			return nil, err
		}

		if !p.negate {
			positive++
		}

		s.patterns = append(s.patterns, p)
	}

	if positive == 0 {
		return nil, fmt.Errorf("%w: only exclusion patterns given", ErrEmptySpec)
	}

	return s, nil
}

// MustCompile is like Compile but panics on error. Intended for tests and
// static declarations.
func MustCompile(patterns ...string) *Spec {
	s, err := Compile(patterns...)
	if err != nil {
		panic(err)
	}

	return s
}

func compilePattern(raw string) (*pattern, error) {
	p := &pattern{raw: raw}

	expr := strings.TrimSpace(raw)
	if strings.HasPrefix(expr, "!") {
		p.negate = true
		expr = expr[1:]
	}

	if expr == "" {
		return nil, fmt.Errorf("%w: %q is empty", ErrBadPattern, raw)
	}

	expr = filepath.ToSlash(expr)
	if path.IsAbs(expr) {
		return nil, fmt.Errorf("%w: %q must be relative to the project root", ErrBadPattern, raw)
	}

	expr = path.Clean(expr)
	if expr == ".." || strings.HasPrefix(expr, "../") {
		return nil, fmt.Errorf("%w: %q escapes the project root", ErrBadPattern, raw)
	}

	p.base, p.literal = staticBase(expr)

	for _, variant := range expandGlobstar(expr) {
		g, err := glob.Compile(variant, '/')
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrBadPattern, raw, err)
		}

		p.globs = append(p.globs, g)
	}

	return p, nil
}

// staticBase returns the leading directory segments that contain no glob
// syntax. For a pattern without any glob syntax the base is its directory.
func staticBase(expr string) (string, bool) {
	segments := strings.Split(expr, "/")

	for i, seg := range segments {
		if strings.ContainsAny(seg, metaChars) {
			if i == 0 {
				return ".", false
			}

			return strings.Join(segments[:i], "/"), false
		}
	}

	return path.Dir(expr), true
}

// expandGlobstar returns every variant of expr in which each "**/" segment
// either stays or is dropped, so that "a/**/b" also matches "a/b".
func expandGlobstar(expr string) []string {
	idx := strings.Index(expr, "**/")
	if idx < 0 || (idx > 0 && expr[idx-1] != '/') {
		return []string{expr}
	}

	head, tail := expr[:idx], expr[idx+3:]

	var out []string

	for _, rest := range expandGlobstar(tail) {
		out = append(out, head+"**/"+rest, head+rest)
	}

	return out
}

// Patterns returns the original pattern strings.
func (s *Spec) Patterns() []string {
	out := make([]string, len(s.patterns))
	for i, p := range s.patterns {
		out[i] = p.raw
	}

	return out
}

// Bases returns the de-duplicated static base directories of the positive
// patterns, in declaration order.
func (s *Spec) Bases() []string {
	seen := make(map[string]bool)

	var out []string

	for _, p := range s.patterns {
		if p.negate || seen[p.base] {
			continue
		}

		seen[p.base] = true
		out = append(out, p.base)
	}

	return out
}

// Match reports whether the root-relative path rel is selected by the spec.
func (s *Spec) Match(rel string) bool {
	rel = path.Clean(filepath.ToSlash(rel))

	matched := false

	for _, p := range s.patterns {
		if p.negate {
			if p.match(rel) {
				return false
			}

			continue
		}

		if !matched && p.match(rel) {
			matched = true
		}
	}

	return matched
}

// Resolve walks the file system under root and returns the matching files
// sorted by path. Missing base directories simply yield no files.
func (s *Spec) Resolve(root string) ([]File, error) {
	found := make(map[string]File)

	for _, p := range s.patterns {
		if p.negate {
			continue
		}

		if err := s.resolvePattern(root, p, found); err != nil {
			return nil, err
		}
	}

	files := make([]File, 0, len(found))
	for _, f := range found {
		files = append(files, f)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	return files, nil
}

func (s *Spec) resolvePattern(root string, p *pattern, found map[string]File) error {
	dir := filepath.Join(root, filepath.FromSlash(p.base))

	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("resolving %q: %w", p.raw, err)
	}

	if !info.IsDir() {
		return nil
	}

	return filepath.WalkDir(dir, func(abs string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return fmt.Errorf("resolving %q: %w", p.raw, walkErr)
		}

		if strings.HasPrefix(d.Name(), ".") && abs != dir {
			if d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		if d.IsDir() {
			return nil
		}

		relRoot, err := filepath.Rel(root, abs)
		if err != nil {
			return err
		}

		relRoot = filepath.ToSlash(relRoot)

		if _, dup := found[relRoot]; dup || !p.match(relRoot) || !s.Match(relRoot) {
			return nil
		}

		found[relRoot] = File{Path: relRoot, Rel: relToBase(p.base, relRoot)}

		return nil
	})
}

func relToBase(base, p string) string {
	if base == "." || base == "" {
		return p
	}

	return strings.TrimPrefix(p, base+"/")
}
