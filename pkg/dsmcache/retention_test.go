package dsmcache_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsmforge/dsm/pkg/dsmcache"
)

func TestCache_Prune_NoPolicyIsNoop(t *testing.T) {
	t.Parallel()

	c := newTestCache(t)

	require.NoError(t, c.Put("k1", dsmcache.Entry{Precise: true}))
	require.NoError(t, c.Put("k2", dsmcache.Entry{Precise: false}))

	result, err := c.Prune()
	require.NoError(t, err)
	assert.Equal(t, 0, result.Removed)

	_, ok := c.Get("k1")
	assert.True(t, ok)
	_, ok = c.Get("k2")
	assert.True(t, ok)
}

func TestCache_Prune_MaxAgeEvictsStaleEntries(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "cache")
	c, err := dsmcache.New(dsmcache.Config{
		Directory:            dir,
		LRUHotSetSize:        8,
		BloomExpectedEntries: 64,
		BloomFalsePosRate:    0.01,
		MaxAge:               time.Minute,
	})
	require.NoError(t, err)

	require.NoError(t, c.Put("stale", dsmcache.Entry{Precise: true}))
	require.NoError(t, c.Put("fresh", dsmcache.Entry{Precise: true}))

	old := time.Now().Add(-time.Hour)
	require.NoError(t, filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}

		if strings.Contains(path, "stale") {
			return os.Chtimes(path, old, old)
		}

		return nil
	}))

	result, err := c.Prune()
	require.NoError(t, err)
	assert.Equal(t, 1, result.Removed)

	// A fresh Cache pointed at the same directory confirms the stale entry's
	// file is gone and the fresh one survives; the first Cache's hot set and
	// Bloom filter would otherwise mask the deletion from the caller.
	c2, err := dsmcache.New(dsmcache.Config{Directory: dir, LRUHotSetSize: 8, BloomExpectedEntries: 64, BloomFalsePosRate: 0.01})
	require.NoError(t, err)

	_, ok := c2.Get("fresh")
	assert.True(t, ok)
}

func TestCache_Prune_MaxBytesEvictsOldestFirst(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "cache")
	c, err := dsmcache.New(dsmcache.Config{
		Directory:            dir,
		LRUHotSetSize:        8,
		BloomExpectedEntries: 64,
		BloomFalsePosRate:    0.01,
		MaxBytes:             1,
	})
	require.NoError(t, err)

	require.NoError(t, c.Put("first", dsmcache.Entry{Edges: [][2]string{{"a.h", "b.h"}}}))
	require.NoError(t, c.Put("second", dsmcache.Entry{Edges: [][2]string{{"c.h", "d.h"}}}))

	result, err := c.Prune()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, result.Removed, 1)
	assert.LessOrEqual(t, result.BytesRemaining, int64(1))
}

func TestCache_Prune_EmptyDirectoryIsNoop(t *testing.T) {
	t.Parallel()

	c := newTestCache(t)

	result, err := c.Prune()
	require.NoError(t, err)
	assert.Equal(t, 0, result.Removed)
	assert.Equal(t, int64(0), result.BytesRemaining)
}
