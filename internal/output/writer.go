package output

import (
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Sink is the destination for task outputs. Paths are relative to the
// project root and slash separated.
type Sink interface {
	Write(rel string, data []byte) error
}

// FileSink writes outputs below a root directory, creating parent
// directories as needed.
type FileSink struct {
	root   string
	perm   os.FileMode
	logger *slog.Logger
}

// FileSinkOption configures a FileSink.
type FileSinkOption func(*FileSink)

// WithPermissions overrides the default file permissions (0644).
func WithPermissions(perm os.FileMode) FileSinkOption {
	return func(fs *FileSink) {
		fs.perm = perm
	}
}

// WithLogger sets a logger for the FileSink.
func WithLogger(logger *slog.Logger) FileSinkOption {
	return func(fs *FileSink) {
		fs.logger = logger
	}
}

// NewFileSink creates a sink rooted at root.
func NewFileSink(root string, opts ...FileSinkOption) *FileSink {
	fs := &FileSink{
		root:   root,
		perm:   0o644,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(fs)
	}

	return fs
}

// Root returns the sink's root directory.
func (fs *FileSink) Root() string { return fs.root }

// Write stores data at rel via a temporary file and a rename.
func (fs *FileSink) Write(rel string, data []byte) error {
	target, err := Resolve(fs.root, rel)
	if err != nil {
		return err
	}

	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".assetflow-*")
	if err != nil {
		return fmt.Errorf("writing file %s: %w", rel, err)
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)

		return fmt.Errorf("writing file %s: %w", rel, err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing file %s: %w", rel, err)
	}

	if err := os.Chmod(tmpName, fs.perm); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("setting permissions on %s: %w", rel, err)
	}

	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing file %s: %w", rel, err)
	}

	fs.logger.Debug("wrote output", slog.String("path", rel), slog.Int("bytes", len(data)))

	return nil
}

// MemorySink records outputs in memory.
type MemorySink struct {
	mu    sync.Mutex
	files map[string][]byte
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{files: make(map[string][]byte)}
}

// Write implements Sink.
func (ms *MemorySink) Write(rel string, data []byte) error {
	rel, err := cleanRel(rel)
	if err != nil {
		return err
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	ms.mu.Lock()
	ms.files[rel] = buf
	ms.mu.Unlock()

	return nil
}

// Paths returns the written paths, sorted.
func (ms *MemorySink) Paths() []string {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	out := make([]string, 0, len(ms.files))
	for p := range ms.files {
		out = append(out, p)
	}

	sort.Strings(out)

	return out
}

// File returns the bytes written at rel.
func (ms *MemorySink) File(rel string) ([]byte, bool) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	b, ok := ms.files[rel]

	return b, ok
}

// Resolve joins rel onto root and rejects paths that leave root.
func Resolve(root, rel string) (string, error) {
	clean, err := cleanRel(rel)
	if err != nil {
		return "", err
	}

	return filepath.Join(root, filepath.FromSlash(clean)), nil
}

func cleanRel(rel string) (string, error) {
	p := path.Clean(filepath.ToSlash(rel))

	if p == "." || p == "" || path.IsAbs(p) || p == ".." || strings.HasPrefix(p, "../") {
		return "", fmt.Errorf("output path %q must be a file below the project root", rel)
	}

	return p, nil
}

var (
	_ Sink = (*FileSink)(nil)
	_ Sink = (*MemorySink)(nil)
)
