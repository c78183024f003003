package dsmcache

import "sync/atomic"

// countingStat is a lock-free hit/miss counter, mirroring pkg/alg/lru's own
// atomic.Int64 stat fields.
type countingStat struct {
	n atomic.Int64
}

func (s *countingStat) add(delta int64) { s.n.Add(delta) }
func (s *countingStat) load() int64     { return s.n.Load() }
