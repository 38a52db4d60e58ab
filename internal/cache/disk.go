package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Disk persists entries as zstd frames below a directory so they survive
// across runs. Reads are served from an in-memory front once loaded.
type Disk struct {
	dir    string
	mu     sync.RWMutex
	front  *Memory
	enc    *zstd.Encoder
	dec    *zstd.Decoder
	logger *slog.Logger
	counters
}

// DiskOption configures a Disk cache.
type DiskOption func(*Disk)

// WithLogger sets the logger used to report degraded entries.
func WithLogger(logger *slog.Logger) DiskOption {
	return func(d *Disk) {
		d.logger = logger
	}
}

// NewDisk opens (and creates if needed) a cache rooted at dir.
func NewDisk(dir string, opts ...DiskOption) (*Disk, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating cache directory %s: %w", dir, err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderCRC(true))
	if err != nil {
		return nil, fmt.Errorf("creating cache encoder: %w", err)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("creating cache decoder: %w", err)
	}

	d := &Disk{
		dir:    dir,
		front:  NewMemory(),
		enc:    enc,
		dec:    dec,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d, nil
}

// Dir returns the cache directory.
func (d *Disk) Dir() string { return d.dir }

func (d *Disk) memory() *Memory {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.front
}

func (d *Disk) entryPath(fp Fingerprint) string {
	s := string(fp)
	if len(s) < 2 {
		return filepath.Join(d.dir, "_", s)
	}

	return filepath.Join(d.dir, s[:2], s)
}

// Get implements Cache. Corrupt or unreadable entries are misses.
func (d *Disk) Get(fp Fingerprint) ([]byte, bool) {
	if out, ok := d.memory().Get(fp); ok {
		d.record(true)
		return out, true
	}

	raw, err := os.ReadFile(d.entryPath(fp))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			d.logger.Debug("cache entry unreadable", slog.String("fingerprint", string(fp)), slog.Any("error", err))
		}

		d.record(false)

		return nil, false
	}

	out, err := d.dec.DecodeAll(raw, nil)
	if err != nil {
		d.logger.Debug("cache entry corrupt", slog.String("fingerprint", string(fp)), slog.Any("error", err))
		d.record(false)

		return nil, false
	}

	_ = d.memory().Put(fp, out)
	d.record(true)

	return out, true
}

// Put implements Cache. The entry is written to a temporary file and
// renamed into place.
func (d *Disk) Put(fp Fingerprint, out []byte) error {
	_ = d.memory().Put(fp, out)

	target := d.entryPath(fp)
	dir := filepath.Dir(target)

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating cache shard %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating cache entry: %w", err)
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(d.enc.EncodeAll(out, nil)); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)

		return fmt.Errorf("writing cache entry: %w", err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("closing cache entry: %w", err)
	}

	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("committing cache entry: %w", err)
	}

	return nil
}

// Stats returns hit and miss counts.
func (d *Disk) Stats() Stats { return d.stats() }

// Clear removes every persisted entry and empties the in-memory front. It
// may run concurrently with Get and Put.
func (d *Disk) Clear() error {
	d.mu.Lock()
	d.front = NewMemory()
	d.mu.Unlock()

	if err := os.RemoveAll(d.dir); err != nil {
		return fmt.Errorf("clearing cache %s: %w", d.dir, err)
	}

	return os.MkdirAll(d.dir, 0o750)
}

// Close releases the encoder and decoder.
func (d *Disk) Close() error {
	d.dec.Close()
	return d.enc.Close()
}

var _ Cache = (*Disk)(nil)
