package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricCacheHitsTotal   = "dsm.cache.hit_total"
	metricCacheMissesTotal = "dsm.cache.miss_total"
	metricGraphNodes       = "dsm.graph.nodes"
	metricGraphEdges       = "dsm.graph.edges"

	attrCache = "cache"
)

// CacheStatsProvider is implemented by anything that tracks cumulative
// hit/miss counts — pkg/dsmcache.Cache (the on-disk content-addressed
// store) and its in-memory LRU hot set each implement it independently so
// both tiers get distinct "cache" attribute values on the same instrument.
type CacheStatsProvider interface {
	CacheHits() int64
	CacheMisses() int64
}

// NamedCacheStats pairs a CacheStatsProvider with the "cache" attribute
// value it should be reported under (e.g. "dsmcache" for the on-disk
// content-addressed store, "hotset" for the in-memory LRU tier).
type NamedCacheStats struct {
	Name     string
	Provider CacheStatsProvider
}

// RegisterCacheMetrics registers an observable gauge pair (dsm.cache.hit_total
// / dsm.cache.miss_total) that reads the current cumulative counts from each
// named provider at collection time. A nil Provider is skipped.
func RegisterCacheMetrics(mt metric.Meter, providers ...NamedCacheStats) error {
	_, err := mt.Int64ObservableGauge(metricCacheHitsTotal,
		metric.WithDescription("Cumulative cache hits by tier"),
		metric.WithUnit("{hit}"),
		metric.WithInt64Callback(func(_ context.Context, obs metric.Int64Observer) error {
			for _, p := range providers {
				if p.Provider == nil {
					continue
				}

				obs.Observe(p.Provider.CacheHits(), metric.WithAttributes(attribute.String(attrCache, p.Name)))
			}

			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("create %s: %w", metricCacheHitsTotal, err)
	}

	_, err = mt.Int64ObservableGauge(metricCacheMissesTotal,
		metric.WithDescription("Cumulative cache misses by tier"),
		metric.WithUnit("{miss}"),
		metric.WithInt64Callback(func(_ context.Context, obs metric.Int64Observer) error {
			for _, p := range providers {
				if p.Provider == nil {
					continue
				}

				obs.Observe(p.Provider.CacheMisses(), metric.WithAttributes(attribute.String(attrCache, p.Name)))
			}

			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("create %s: %w", metricCacheMissesTotal, err)
	}

	return nil
}

// GraphMetrics records the size of the include graph produced by a pipeline
// run, so node/edge counts over time are visible alongside phase duration.
type GraphMetrics struct {
	nodes metric.Int64Gauge
	edges metric.Int64Gauge
}

// NewGraphMetrics creates the node/edge count instruments.
func NewGraphMetrics(mt metric.Meter) (*GraphMetrics, error) {
	nodes, err := mt.Int64Gauge(metricGraphNodes,
		metric.WithDescription("Include graph vertex count for the most recent run"),
		metric.WithUnit("{node}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricGraphNodes, err)
	}

	edges, err := mt.Int64Gauge(metricGraphEdges,
		metric.WithDescription("Include graph edge count for the most recent run"),
		metric.WithUnit("{edge}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricGraphEdges, err)
	}

	return &GraphMetrics{nodes: nodes, edges: edges}, nil
}

// Record sets the current graph size. Safe to call on a nil receiver (no-op).
func (gm *GraphMetrics) Record(ctx context.Context, nodeCount, edgeCount int) {
	if gm == nil {
		return
	}

	gm.nodes.Record(ctx, int64(nodeCount))
	gm.edges.Record(ctx, int64(edgeCount))
}
