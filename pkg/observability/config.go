package observability

import "log/slog"

// AppMode tags which entry point into the engine produced a given run, so
// logs/traces/metrics from a full pipeline run can be told apart from a
// standalone rebuild-impact query or a baseline diff without a separate
// service per mode.
type AppMode string

const (
	// ModeBatch is a full Pipeline.Run across C2..C11 (spec.md §5's
	// "parallel-threaded batch engine").
	ModeBatch AppMode = "batch"

	// ModeImpact is a standalone C5 rebuild-impact query against an
	// existing snapshot.
	ModeImpact AppMode = "impact"

	// ModeDiff is a standalone C8 differential-analysis run between two
	// snapshots.
	ModeDiff AppMode = "diff"
)

// defaultShutdownTimeoutSec bounds how long Providers.Shutdown waits for
// pending spans/metrics to flush.
const defaultShutdownTimeoutSec = 5

// Config configures observability providers. It is an explicit value passed
// by the caller (spec.md §9: no ambient/process-wide state), normally
// embedded in pkg/config.Config.
type Config struct {
	// ServiceName identifies this binary in traces/metrics/logs.
	ServiceName string

	// ServiceVersion is the tool version (pkg/version.String()).
	ServiceVersion string

	// Environment is a free-form deployment tag (e.g. "ci", "dev").
	Environment string

	// Mode tags the entry point (ModeBatch/ModeImpact/ModeDiff).
	Mode AppMode

	// LogLevel is the minimum slog level emitted.
	LogLevel slog.Level

	// LogJSON selects JSON log output; otherwise text.
	LogJSON bool

	// OTLPEndpoint is the gRPC OTLP collector address. Empty disables
	// export entirely and wires no-op tracer/meter providers.
	OTLPEndpoint string

	// OTLPInsecure disables TLS for the OTLP connection.
	OTLPInsecure bool

	// OTLPHeaders are additional headers sent with OTLP requests.
	OTLPHeaders map[string]string

	// DebugTrace forces an always-on sampler, overriding
	// OTEL_TRACES_SAMPLER, and logs a warning for each span attribute the
	// allow-list filter strips.
	DebugTrace bool

	// TraceVerbose disables the attribute allow-list filter entirely.
	TraceVerbose bool

	// SampleRatio is the trace sampling ratio used when no
	// OTEL_TRACES_SAMPLER env var is set. Zero means "always sample".
	SampleRatio float64

	// ShutdownTimeoutSec bounds Providers.Shutdown. Non-positive falls
	// back to defaultShutdownTimeoutSec.
	ShutdownTimeoutSec int

	// PrometheusEnabled registers a Prometheus exporter as an additional
	// metric reader alongside (or instead of, when OTLPEndpoint is empty)
	// OTLP export. Providers.PrometheusHandler is non-nil only when this
	// is set.
	PrometheusEnabled bool
}

// DefaultConfig returns the configuration used when pkg/config does not
// override any observability fields: JSON-off tracing disabled (no OTLP
// endpoint configured), info-level text logs, batch mode.
func DefaultConfig() Config {
	return Config{
		ServiceName:        "dsm",
		Mode:               ModeBatch,
		LogLevel:           slog.LevelInfo,
		ShutdownTimeoutSec: defaultShutdownTimeoutSec,
	}
}
