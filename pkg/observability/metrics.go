package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricPhaseRunsTotal   = "dsm.phase.runs_total"
	metricPhaseDuration    = "dsm.phase.duration"
	metricPhaseErrorsTotal = "dsm.phase.errors_total"
	metricPhaseInflight    = "dsm.phase.inflight"

	attrPhase  = "phase"
	attrStatus = "status"

	statusError = "error"
)

// durationBucketBoundaries covers 10ms to 600s: component-level DSM phases
// range from a sub-second path-filter pass to a multi-minute whole-repo
// ingest over a large compile database.
var durationBucketBoundaries = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}

// REDMetrics holds the OTel instruments for Rate, Error, Duration metrics,
// one set shared across all engine phases (C2 through C11) and
// distinguished by the "phase" attribute.
type REDMetrics struct {
	runsTotal   metric.Int64Counter
	duration    metric.Float64Histogram
	errorsTotal metric.Int64Counter
	inflight    metric.Int64UpDownCounter
}

// NewREDMetrics creates RED metric instruments from the given meter.
func NewREDMetrics(mt metric.Meter) (*REDMetrics, error) {
	runsTotal, err := mt.Int64Counter(metricPhaseRunsTotal,
		metric.WithDescription("Total phase invocations"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricPhaseRunsTotal, err)
	}

	duration, err := mt.Float64Histogram(metricPhaseDuration,
		metric.WithDescription("Phase duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBucketBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricPhaseDuration, err)
	}

	errTotal, err := mt.Int64Counter(metricPhaseErrorsTotal,
		metric.WithDescription("Total phase failures"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricPhaseErrorsTotal, err)
	}

	inflight, err := mt.Int64UpDownCounter(metricPhaseInflight,
		metric.WithDescription("Number of in-flight phase executions"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricPhaseInflight, err)
	}

	return &REDMetrics{
		runsTotal:   runsTotal,
		duration:    duration,
		errorsTotal: errTotal,
		inflight:    inflight,
	}, nil
}

// RecordRequest records one completed phase execution: phase name
// (pkg/engine passes progress.Phase.String(), e.g. "ingest",
// "dependency_graph", "advisor"), status ("ok" or "error"), and its
// wall-clock duration.
func (rm *REDMetrics) RecordRequest(ctx context.Context, phase, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String(attrPhase, phase),
		attribute.String(attrStatus, status),
	)

	rm.runsTotal.Add(ctx, 1, attrs)
	rm.duration.Record(ctx, duration.Seconds(), attrs)

	if status == statusError {
		rm.errorsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String(attrPhase, phase),
		))
	}
}

// TrackInflight increments the in-flight gauge for a phase and returns a
// function to decrement it; call the returned function when the phase ends.
func (rm *REDMetrics) TrackInflight(ctx context.Context, phase string) func() {
	attrs := metric.WithAttributes(attribute.String(attrPhase, phase))
	rm.inflight.Add(ctx, 1, attrs)

	return func() {
		rm.inflight.Add(ctx, -1, attrs)
	}
}
