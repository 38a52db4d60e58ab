// Package cache stores already-processed outputs keyed by a fingerprint of
// their inputs, so expensive transforms (notably image optimisation) run
// only when the input bytes actually change.
package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sync"
	"sync/atomic"
)

// Fingerprint is a content-derived cache key.
type Fingerprint string

// FingerprintOf hashes parts into a Fingerprint. Each part is length
// prefixed so ("ab", "c") and ("a", "bc") produce different keys.
func FingerprintOf(parts ...[]byte) Fingerprint {
	h := sha256.New()

	var size [8]byte

	for _, p := range parts {
		binary.BigEndian.PutUint64(size[:], uint64(len(p)))
		h.Write(size[:])
		h.Write(p)
	}

	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}

// Cache is a fingerprint → output store. Implementations must be safe for
// concurrent use and must never expose a partially written entry.
type Cache interface {
	// Get returns the stored output for fp. Unreadable entries are
	// reported as absent.
	Get(fp Fingerprint) ([]byte, bool)
	// Put stores out under fp.
	Put(fp Fingerprint, out []byte) error
}

// Stats reports cache effectiveness.
type Stats struct {
	Hits   int64
	Misses int64
}

type counters struct {
	hits   atomic.Int64
	misses atomic.Int64
}

func (c *counters) record(hit bool) {
	if hit {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
}

func (c *counters) stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}

// Memory is an in-process cache.
type Memory struct {
	mu      sync.RWMutex
	entries map[Fingerprint][]byte
	counters
}

// NewMemory creates an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[Fingerprint][]byte)}
}

// Get implements Cache.
func (m *Memory) Get(fp Fingerprint) ([]byte, bool) {
	m.mu.RLock()
	out, ok := m.entries[fp]
	m.mu.RUnlock()

	m.record(ok)

	if !ok {
		return nil, false
	}

	return clone(out), true
}

// Put implements Cache.
func (m *Memory) Put(fp Fingerprint, out []byte) error {
	m.mu.Lock()
	m.entries[fp] = clone(out)
	m.mu.Unlock()

	return nil
}

// Len returns the number of stored entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.entries)
}

// Stats returns hit and miss counts.
func (m *Memory) Stats() Stats { return m.stats() }

// Nop never stores anything.
type Nop struct{}

// Get implements Cache.
func (Nop) Get(Fingerprint) ([]byte, bool) { return nil, false }

// Put implements Cache.
func (Nop) Put(Fingerprint, []byte) error { return nil }

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)

	return out
}

var (
	_ Cache = (*Memory)(nil)
	_ Cache = Nop{}
)
