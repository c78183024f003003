package dsmcache

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dsmforge/dsm/pkg/errs"
)

// PruneResult summarizes one Prune pass.
type PruneResult struct {
	// Removed is the number of entry files deleted.
	Removed int

	// BytesFreed is the total size of deleted entry files.
	BytesFreed int64

	// BytesRemaining is the total size of entries left on disk.
	BytesRemaining int64
}

type diskEntry struct {
	path    string
	size    int64
	modTime time.Time
}

// Prune enforces the Cache's MaxAge and MaxBytes retention policy against
// the on-disk store, the way pkg/checkpoint.Manager-style tools retire
// stale state: first every entry idle longer than MaxAge is removed, then,
// if the remaining total still exceeds MaxBytes, entries are evicted
// oldest-mtime-first until it doesn't. A zero MaxAge or non-positive
// MaxBytes disables the respective pass. Prune does not touch the
// in-memory hot set or Bloom filter: a stale Bloom positive costs one extra
// disk open on the next Get, which already tolerates a missing file as a
// miss (spec.md §4.11), and an entry still held in the hot set keeps being
// returned from memory until the hot set evicts it.
func (c *Cache) Prune() (PruneResult, error) {
	entries, err := c.listDiskEntries()
	if err != nil {
		return PruneResult{}, errs.Wrap(errs.CacheError, err, "list cache directory %q", c.dir)
	}

	var result PruneResult

	if c.maxAge > 0 {
		cutoff := time.Now().Add(-c.maxAge)
		kept := entries[:0]

		for _, e := range entries {
			if e.modTime.Before(cutoff) {
				if rmErr := os.Remove(e.path); rmErr == nil {
					result.Removed++
					result.BytesFreed += e.size
				}

				continue
			}

			kept = append(kept, e)
		}

		entries = kept
	}

	total := int64(0)
	for _, e := range entries {
		total += e.size
	}

	if c.maxBytes > 0 && total > c.maxBytes {
		sort.Slice(entries, func(i, j int) bool { return entries[i].modTime.Before(entries[j].modTime) })

		for _, e := range entries {
			if total <= c.maxBytes {
				break
			}

			if rmErr := os.Remove(e.path); rmErr != nil {
				continue
			}

			result.Removed++
			result.BytesFreed += e.size
			total -= e.size
		}
	}

	result.BytesRemaining = total

	return result, nil
}

func (c *Cache) listDiskEntries() ([]diskEntry, error) {
	var entries []diskEntry

	ext := entryCodec.Extension()

	walkErr := filepath.WalkDir(c.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}

			return err
		}

		if d.IsDir() || !strings.HasSuffix(path, ext) {
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}

		entries = append(entries, diskEntry{path: path, size: info.Size(), modTime: info.ModTime()})

		return nil
	})
	if walkErr != nil && !os.IsNotExist(walkErr) {
		return nil, walkErr
	}

	return entries, nil
}
