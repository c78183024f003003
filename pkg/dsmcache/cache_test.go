package dsmcache_test

import (
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsmforge/dsm/pkg/dsmcache"
)

func newTestCache(t *testing.T) *dsmcache.Cache {
	t.Helper()

	c, err := dsmcache.New(dsmcache.Config{
		Directory:            filepath.Join(t.TempDir(), "cache"),
		LRUHotSetSize:        8,
		BloomExpectedEntries: 64,
		BloomFalsePosRate:    0.01,
	})
	require.NoError(t, err)

	return c
}

func TestCache_MissThenHit(t *testing.T) {
	t.Parallel()

	c := newTestCache(t)

	_, ok := c.Get("abc")
	assert.False(t, ok)

	entry := dsmcache.Entry{Edges: [][2]string{{"a.h", "b.h"}}, Precise: true}
	require.NoError(t, c.Put("abc", entry))

	got, ok := c.Get("abc")
	require.True(t, ok)
	assert.Equal(t, entry, got)
}

func TestCache_SurvivesHotSetEviction(t *testing.T) {
	t.Parallel()

	c, err := dsmcache.New(dsmcache.Config{
		Directory:            filepath.Join(t.TempDir(), "cache"),
		LRUHotSetSize:        1,
		BloomExpectedEntries: 64,
		BloomFalsePosRate:    0.01,
	})
	require.NoError(t, err)

	require.NoError(t, c.Put("k1", dsmcache.Entry{Precise: true}))
	require.NoError(t, c.Put("k2", dsmcache.Entry{Precise: false}))

	// k1 evicted from the hot set, but the disk tier still has it.
	got, ok := c.Get("k1")
	require.True(t, ok)
	assert.True(t, got.Precise)

	got, ok = c.Get("k1")
	_ = got
	require.True(t, ok)
}

func TestCache_ReopenedCacheReadsDiskEntry(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "cache")
	c, err := dsmcache.New(dsmcache.Config{Directory: dir, LRUHotSetSize: 8, BloomExpectedEntries: 64, BloomFalsePosRate: 0.01})
	require.NoError(t, err)

	require.NoError(t, c.Put("dead", dsmcache.Entry{Precise: true}))

	// The first Cache's hot set still holds the entry, so read it through a
	// fresh Cache pointed at the same directory, which must go to disk.
	c2, err := dsmcache.New(dsmcache.Config{Directory: dir, LRUHotSetSize: 8, BloomExpectedEntries: 64, BloomFalsePosRate: 0.01})
	require.NoError(t, err)

	got, ok := c2.Get("dead")
	require.True(t, ok)
	assert.True(t, got.Precise)
}

func TestCache_GetOrCompute_ComputesOnceOnConcurrentMiss(t *testing.T) {
	t.Parallel()

	c := newTestCache(t)

	var calls atomic.Int64

	compute := func() (dsmcache.Entry, error) {
		calls.Add(1)

		return dsmcache.Entry{Precise: true}, nil
	}

	const goroutines = 16

	var wg sync.WaitGroup

	wg.Add(goroutines)

	for range goroutines {
		go func() {
			defer wg.Done()

			entry, err := c.GetOrCompute("shared-key", compute)
			assert.NoError(t, err)
			assert.True(t, entry.Precise)
		}()
	}

	wg.Wait()

	assert.Equal(t, int64(1), calls.Load())
}

func TestCache_GetOrCompute_CachesResult(t *testing.T) {
	t.Parallel()

	c := newTestCache(t)

	var calls atomic.Int64

	compute := func() (dsmcache.Entry, error) {
		calls.Add(1)

		return dsmcache.Entry{Precise: true}, nil
	}

	_, err := c.GetOrCompute("k", compute)
	require.NoError(t, err)

	_, err = c.GetOrCompute("k", compute)
	require.NoError(t, err)

	assert.Equal(t, int64(1), calls.Load())
}

func TestCache_HitMissStats(t *testing.T) {
	t.Parallel()

	c := newTestCache(t)

	c.Get("missing")
	require.NoError(t, c.Put("present", dsmcache.Entry{}))
	c.Get("present")

	assert.Equal(t, int64(1), c.CacheMisses())
}
