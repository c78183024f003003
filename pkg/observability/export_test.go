package observability

import (
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// ProbeBuildResource exposes the unexported buildResource for attribute
// assertions in _test package tests.
func ProbeBuildResource(cfg Config) (*resource.Resource, error) {
	return buildResource(cfg)
}

// ProbeSamplerSpan reports whether selectSampler(cfg) samples a root span
// (no parent context) — the only externally observable behavior of the
// otherwise-unexported sampler selection.
func ProbeSamplerSpan(cfg Config) bool {
	sampler := selectSampler(cfg)

	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")

	result := sampler.ShouldSample(sdktrace.SamplingParameters{
		TraceID: traceID,
		Name:    "probe",
	})

	return result.Decision != sdktrace.Drop
}
