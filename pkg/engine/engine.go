// Package engine is the Pipeline orchestrator: it wires the Path Normalizer
// (C1) through the Improvement Advisor (C9), plus the Cache (C10), into one
// ordered run, the way internal/framework/runner.go sequences a Runner's
// analyzers over a commit range. There is no independent algorithm here —
// every step delegates to the component package that owns it; engine only
// supplies ordering, tracing, progress reporting, and the glue config each
// component needs. C11 (export) is left to the caller: a format and
// destination writer are not pipeline concerns (spec.md §1 Non-goals).
package engine

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dsmforge/dsm/internal/graphbudget"
	"github.com/dsmforge/dsm/pkg/advisor"
	"github.com/dsmforge/dsm/pkg/config"
	"github.com/dsmforge/dsm/pkg/depgraph"
	"github.com/dsmforge/dsm/pkg/diff"
	"github.com/dsmforge/dsm/pkg/dsm"
	"github.com/dsmforge/dsm/pkg/dsmcache"
	"github.com/dsmforge/dsm/pkg/errs"
	"github.com/dsmforge/dsm/pkg/libgraph"
	"github.com/dsmforge/dsm/pkg/observability"
	"github.com/dsmforge/dsm/pkg/pathnorm"
	"github.com/dsmforge/dsm/pkg/progress"
	"github.com/dsmforge/dsm/pkg/rebuild"
	"github.com/dsmforge/dsm/pkg/scanin"
	"github.com/dsmforge/dsm/pkg/snapshot"
	"github.com/dsmforge/dsm/pkg/version"
)

// Input is everything one Pipeline.Run call needs across C1-C9. Only
// CompileDB and Scan are mandatory; everything else is optional and widens
// the run (a library graph, a rebuild-impact query, a baseline diff).
type Input struct {
	// ProjectRoot is the configured project root. Empty triggers
	// pathnorm.DetectProjectRoot(BuildDir) (spec.md §4.1).
	ProjectRoot string

	// BuildDir is the Ninja build directory this run analyzes.
	BuildDir string

	// NinjaBytes is the canonical contents of build.ninja, used both for
	// the snapshot's BuildDirIdentity hash and, when BuildLibraryGraph is
	// set, as C6's input.
	NinjaBytes []byte

	// CompileDB is the compile database C2 ingests.
	CompileDB []scanin.CompileDBEntry

	// Scan runs the external include scanner for one compile command.
	Scan scanin.ScanFunc

	// DirectDeps, if non-nil, supplies precise TU->header edges and skips
	// C3's co-occurrence proxy entirely (spec.md §4.3).
	DirectDeps depgraph.DirectDeps

	// IncludeSystemHeaders disables C3's default system-header filter.
	IncludeSystemHeaders bool

	// BuildLibraryGraph enables C6 over NinjaBytes. LibraryRules defaults
	// to libgraph.DefaultRuleNames() when left zero.
	BuildLibraryGraph bool
	LibraryRules      libgraph.RuleNames

	// ChangedFiles, if non-empty, enables a C5 rebuild-impact query against
	// the snapshot this run produces.
	ChangedFiles []pathnorm.Path

	// Baseline, if non-nil, enables a C8 diff against the snapshot this run
	// produces.
	Baseline *snapshot.Snapshot
}

// Output is the full result of one Pipeline.Run call.
type Output struct {
	CorrelationID string

	Snapshot  *snapshot.Snapshot
	FromCache bool

	RebuildImpact *rebuild.Result

	Library        *libgraph.Graph
	LibraryReports []libgraph.Report
	LibraryCycles  []dsm.Cycle

	Diff       *diff.Delta
	Candidates []advisor.Candidate
}

// Pipeline holds the shared, long-lived dependencies one or more Run calls
// reuse: the resolved config, the C10 cache, and the observability
// providers (spec.md §9 — explicit values, nothing ambient/global).
type Pipeline struct {
	Config config.Config
	Cache  *dsmcache.Cache

	Tracer trace.Tracer
	Logger *slog.Logger

	red          *observability.REDMetrics
	graphMetrics *observability.GraphMetrics

	Progress progress.Reporter
}

// New builds a Pipeline from cfg and providers. cache may be nil, which
// disables C10 entirely (every run is a cache miss).
func New(cfg config.Config, providers observability.Providers, cache *dsmcache.Cache, reporter progress.Reporter) (*Pipeline, error) {
	red, err := observability.NewREDMetrics(providers.Meter)
	if err != nil {
		return nil, fmt.Errorf("build RED metrics: %w", err)
	}

	graphMetrics, err := observability.NewGraphMetrics(providers.Meter)
	if err != nil {
		return nil, fmt.Errorf("build graph metrics: %w", err)
	}

	return &Pipeline{
		Config:       cfg,
		Cache:        cache,
		Tracer:       providers.Tracer,
		Logger:       providers.Logger,
		red:          red,
		graphMetrics: graphMetrics,
		Progress:     reporter,
	}, nil
}

// NewCache builds the C10 on-disk cache described by cfg, translating its
// humanize-formatted MaxSize string and TTL into dsmcache.Config's byte/
// duration fields the same way internal/framework/config.go resolves a
// human-facing memory budget into a byte count once at startup rather than
// re-parsing it per call. Returns (nil, nil) when the cache is disabled
// (cfg.Enabled is false), which callers feed straight into New as a nil
// *dsmcache.Cache.
func NewCache(cfg config.CacheConfig) (*dsmcache.Cache, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	maxBytes, err := humanize.ParseBytes(cfg.MaxSize)
	if err != nil {
		return nil, fmt.Errorf("parse cache max_size %q: %w", cfg.MaxSize, err)
	}

	cache, err := dsmcache.New(dsmcache.Config{
		Directory:            cfg.Directory,
		LRUHotSetSize:        cfg.LRUHotSetSize,
		BloomFalsePosRate:    cfg.BloomFalsePosPR,
		BloomExpectedEntries: uint(cfg.LRUHotSetSize), //nolint:gosec // hot set size is a small configured positive int
		MaxAge:               cfg.TTL,
		MaxBytes:             int64(maxBytes), //nolint:gosec // cache sizes stay well under int64 range
	})
	if err != nil {
		return nil, fmt.Errorf("build cache: %w", err)
	}

	return cache, nil
}

// Run executes one full analysis pass over in, per spec.md §5's
// parallel-threaded batch engine: C2/C3 build or reuse the include graph
// (via C10), C4 computes metrics, C7 assembles the snapshot, then C5, C6,
// C8 and C9 run in that order. Each phase run through runPhase, and the
// cache put, is one OTel span and one RED metrics record under a root span
// tagged with the run's correlation ID; snapshot assembly and export only
// report progress.
func (p *Pipeline) Run(ctx context.Context, in Input) (*Output, error) {
	runID := uuid.NewString()
	logger := p.Logger.With("run_id", runID)

	ctx, rootSpan := p.Tracer.Start(ctx, "pipeline.run", trace.WithAttributes(attribute.String("dsm.run_id", runID)))
	defer rootSpan.End()

	projectRoot := in.ProjectRoot
	if projectRoot == "" {
		detected, detectErr := pathnorm.DetectProjectRoot(in.BuildDir)
		if detectErr != nil {
			wrapped := errs.Wrap(errs.InvalidInput, detectErr, "detect project root")
			observability.RecordSpanError(rootSpan, wrapped, observability.ErrTypeValidation, "project_root")

			return nil, wrapped
		}

		projectRoot = detected
	}

	normalizer := pathnorm.New(pathnorm.Config{
		ProjectRoot:     projectRoot,
		Filter:          pathnorm.FilterSpec{Include: p.Config.Filter.Include, Exclude: p.Config.Filter.Exclude},
		SystemPrefixes:  p.Config.Filter.SystemPrefixes,
		ThirdPartyGlobs: p.Config.Filter.ThirdPartyGlobs,
	}.WithDefaults())

	diag := &pathnorm.Diagnostics{}

	cacheKey := dsmcache.Key(in.CompileDB, in.NinjaBytes, normalizer.Filter(), version.String())

	result, parseErrorCount, fromCache, err := p.loadOrBuildGraph(ctx, in, normalizer, diag, cacheKey)
	if err != nil {
		return nil, err
	}

	filtered := depgraph.FilterSystemHeaders(result.Include, in.IncludeSystemHeaders)

	closureEntries := 0
	for _, deps := range result.SourceClosure {
		closureEntries += len(deps)
	}

	est := graphbudget.Compute(filtered.NodeCount(), filtered.EdgeCount(), closureEntries)
	logger.Info("estimated graph memory", "bytes", est.Bytes, "human", humanize.Bytes(uint64(est.Bytes)))

	if est.LargeGraphWarning {
		logger.Warn("large include graph", "node_count", est.NodeCount)
	}

	if checkErr := graphbudget.Check(est, p.Config.Analysis.MaxGraphMemory); checkErr != nil {
		observability.RecordSpanError(rootSpan, checkErr, observability.ErrTypeValidation, "graph_budget")

		return nil, checkErr
	}

	var metrics *dsm.Metrics

	if phaseErr := p.runPhase(ctx, progress.PhaseMetrics, func(ctx context.Context) error {
		m, computeErr := dsm.Compute(filtered, dsmAnalysisConfigFrom(p.Config.Analysis))
		if computeErr != nil {
			return computeErr
		}

		p.graphMetrics.Record(ctx, m.NodeCount, m.EdgeCount)
		metrics = m

		return nil
	}); phaseErr != nil {
		return nil, phaseErr
	}

	tus := make([]pathnorm.Path, 0, len(result.SourceClosure))

	for k := range result.SourceClosure {
		tp, classifyErr := normalizer.Classify(k)
		if classifyErr != nil {
			diag.PathErrors++

			continue
		}

		tus = append(tus, tp)
	}

	pathnorm.SortPaths(tus)

	snap := snapshot.New(snapshot.BuildInput{
		ProjectRoot:   projectRoot,
		BuildDir:      snapshot.BuildDirIdentity{Path: in.BuildDir, NinjaHash: ninjaHash(in.NinjaBytes)},
		Filter:        normalizer.Filter(),
		Precise:       result.Precise,
		Graph:         filtered,
		SourceClosure: result.SourceClosure,
		InverseIndex:  result.InverseIndex,
		TUs:           tus,
		Metrics:       metrics,
		Diagnostics: snapshot.Diagnostics{
			ParseErrors:         parseErrorCount,
			PathErrors:          diag.PathErrors,
			CentralityConverged: metrics.CentralityConverged,
			BetweennessSampled:  metrics.BetweennessSampled,
		},
		ToolVersion: version.String(),
		CreatedAt:   time.Now().UTC(),
	})

	p.Progress.Report(progress.PhaseSnapshot, 100)

	out := &Output{CorrelationID: runID, Snapshot: snap, FromCache: fromCache}

	if len(in.ChangedFiles) > 0 {
		if phaseErr := p.runPhase(ctx, progress.PhaseRebuildImpact, func(ctx context.Context) error {
			impact, implErr := rebuild.Impact(ctx, in.ChangedFiles, snap)
			if implErr != nil {
				return implErr
			}

			out.RebuildImpact = impact

			return nil
		}); phaseErr != nil {
			return nil, phaseErr
		}
	} else {
		p.Progress.Report(progress.PhaseRebuildImpact, 100)
	}

	if in.BuildLibraryGraph {
		rules := in.LibraryRules
		if rules == (libgraph.RuleNames{}) {
			rules = libgraph.DefaultRuleNames()
		}

		if phaseErr := p.runPhase(ctx, progress.PhaseLibraryBoundary, func(ctx context.Context) error {
			lib, parseErr := libgraph.ParseNinja(bytes.NewReader(in.NinjaBytes), rules)
			if parseErr != nil {
				return parseErr
			}

			reports, cycles, analyzeErr := libgraph.Analyze(lib, dsmAnalysisConfigFrom(p.Config.Analysis))
			if analyzeErr != nil {
				return analyzeErr
			}

			out.Library, out.LibraryReports, out.LibraryCycles = lib, reports, cycles

			return nil
		}); phaseErr != nil {
			return nil, phaseErr
		}
	} else {
		p.Progress.Report(progress.PhaseLibraryBoundary, 100)
	}

	if in.Baseline != nil {
		if phaseErr := p.runPhase(ctx, progress.PhaseDiff, func(ctx context.Context) error {
			delta, diffErr := diff.Compute(ctx, in.Baseline, snap, diffConfigFrom(p.Config.Analysis))
			if diffErr != nil {
				return diffErr
			}

			out.Diff = delta

			return nil
		}); phaseErr != nil {
			return nil, phaseErr
		}
	} else {
		p.Progress.Report(progress.PhaseDiff, 100)
	}

	if phaseErr := p.runPhase(ctx, progress.PhaseAdvisor, func(ctx context.Context) error {
		candidates, advErr := advisor.Advise(ctx, metrics, snap, advisorConfigFrom(p.Config.Analysis))
		if advErr != nil {
			return advErr
		}

		out.Candidates = candidates

		return nil
	}); phaseErr != nil {
		return nil, phaseErr
	}

	if !fromCache && p.Cache != nil {
		p.putCache(ctx, logger, cacheKey, result)
	} else {
		p.Progress.Report(progress.PhaseCachePut, 100)
	}

	// C11 (export) picks a format and destination writer, a caller concern
	// (spec.md §1 Non-goals), not performed here. Reported for phase-tracking
	// symmetry with the rest of the pipeline.
	p.Progress.Report(progress.PhaseExport, 100)

	return out, nil
}

// loadOrBuildGraph resolves the cache-lookup phase, then, on a miss, runs
// ingest (C2) and dependency-graph construction (C3).
func (p *Pipeline) loadOrBuildGraph(
	ctx context.Context, in Input, normalizer *pathnorm.Normalizer, diag *pathnorm.Diagnostics, cacheKey string,
) (result *depgraph.Result, parseErrorCount int, fromCache bool, err error) {
	if cacheErr := p.runPhase(ctx, progress.PhaseCacheLookup, func(context.Context) error {
		if p.Cache == nil {
			return nil
		}

		entry, ok := p.Cache.Get(cacheKey)
		if !ok {
			return nil
		}

		result = rebuildResultFromEntry(entry, normalizer)
		fromCache = true

		return nil
	}); cacheErr != nil {
		return nil, 0, false, cacheErr
	}

	if fromCache {
		return result, 0, true, nil
	}

	var sourceToDeps map[pathnorm.Path][]pathnorm.Path

	if ingestErr := p.runPhase(ctx, progress.PhaseIngest, func(ctx context.Context) error {
		results := scanin.IngestAll(ctx, in.CompileDB, in.Scan, scanin.Options{Workers: p.Config.Analysis.IngestWorkers})
		merged, count := scanin.Merge(results, normalizer, diag)
		sourceToDeps, parseErrorCount = merged, count

		return nil
	}); ingestErr != nil {
		return nil, 0, false, ingestErr
	}

	if graphErr := p.runPhase(ctx, progress.PhaseDependencyGraph, func(context.Context) error {
		result = depgraph.Build(sourceToDeps, in.DirectDeps, depgraphConfigFrom(p.Config.Analysis))

		return nil
	}); graphErr != nil {
		return nil, 0, false, graphErr
	}

	return result, parseErrorCount, false, nil
}

// putCache stores result under key. A failure here is non-fatal (spec.md
// §4.11: cache errors never abort a run) and is logged rather than returned.
func (p *Pipeline) putCache(ctx context.Context, logger *slog.Logger, key string, result *depgraph.Result) {
	name := progress.PhaseCachePut.String()

	ctx, span := p.Tracer.Start(ctx, "pipeline."+name)
	defer span.End()

	start := time.Now()
	entry := entryFromResult(result, version.String())
	putErr := p.Cache.Put(key, entry)

	status := "ok"
	if putErr != nil {
		status = "error"

		logger.Warn("cache put failed; continuing without caching this result", "error", putErr)
		observability.RecordSpanError(span, putErr, observability.ErrTypeDependencyUnavailable, name)
	}

	p.red.RecordRequest(ctx, name, status, time.Since(start))
	p.Progress.Report(progress.PhaseCachePut, 100)
}

// runPhase wraps fn in one OTel span, one in-flight gauge, and one RED
// metrics record for phase, per internal/framework/runner.go's
// span-per-unit-of-work idiom generalized from per-commit to per-component.
func (p *Pipeline) runPhase(ctx context.Context, phase progress.Phase, fn func(ctx context.Context) error) error {
	name := phase.String()

	ctx, span := p.Tracer.Start(ctx, "pipeline."+name)
	defer span.End()

	stopInflight := p.red.TrackInflight(ctx, name)
	defer stopInflight()

	start := time.Now()
	err := fn(ctx)
	status := "ok"

	if err != nil {
		status = "error"
		observability.RecordSpanError(span, err, errTypeFor(err), name)
	}

	p.red.RecordRequest(ctx, name, status, time.Since(start))

	if err == nil {
		p.Progress.Report(phase, 100)
	}

	return err
}

// errTypeFor maps a pkg/errs.Kind to the OTel error-type classification
// pkg/observability defines (spec.md §7).
func errTypeFor(err error) string {
	kind, ok := errs.Of(err)
	if !ok {
		return observability.ErrTypeInternal
	}

	switch kind {
	case errs.ScannerTimeout:
		return observability.ErrTypeTimeout
	case errs.InvalidInput, errs.PathError, errs.ParseError:
		return observability.ErrTypeValidation
	case errs.CacheError, errs.ScannerFailure:
		return observability.ErrTypeDependencyUnavailable
	default:
		return observability.ErrTypeInternal
	}
}

func depgraphConfigFrom(cfg config.AnalysisConfig) depgraph.Config {
	d := depgraph.DefaultConfig()
	if cfg.CMSProxyThreshold > 0 {
		d.CMSProxyThreshold = cfg.CMSProxyThreshold
	}

	return d
}

func dsmAnalysisConfigFrom(cfg config.AnalysisConfig) dsm.AnalysisConfig {
	d := dsm.DefaultAnalysisConfig()
	if cfg.BetweennessNodeCeiling > 0 {
		d.BetweennessSampleThreshold = cfg.BetweennessNodeCeiling
	}

	if cfg.BetweennessSampleSize > 0 {
		d.BetweennessSampleSize = cfg.BetweennessSampleSize
	}

	return d
}

func diffConfigFrom(cfg config.AnalysisConfig) diff.DiffConfig {
	d := diff.DefaultDiffConfig()
	if cfg.CouplingChangeThreshold > 0 {
		d.CouplingChangeThreshold = cfg.CouplingChangeThreshold
	}

	return d
}

func advisorConfigFrom(cfg config.AnalysisConfig) advisor.AdvisorConfig {
	a := advisor.DefaultAdvisorConfig()
	if cfg.AverageCommitsAffected > 0 {
		a.AverageCommitsAffected = float64(cfg.AverageCommitsAffected)
	}

	return a
}

// entryFromResult projects a depgraph.Result down to dsmcache.Entry's plain,
// codec-friendly shape (pathnorm.Path.Class is not preserved; a cache hit
// reclassifies every canonical path through the caller's current
// normalizer, which is cheap and always correct for the active filter).
func entryFromResult(r *depgraph.Result, toolVersion string) dsmcache.Entry {
	edges := make([][2]string, 0, r.Include.EdgeCount())

	it := r.Include.Underlying().Edges()
	for it.Next() {
		e := it.Edge()

		from, okFrom := r.Include.Path(e.From().ID())
		to, okTo := r.Include.Path(e.To().ID())

		if okFrom && okTo {
			edges = append(edges, [2]string{from.Canonical, to.Canonical})
		}
	}

	return dsmcache.Entry{
		Edges:         edges,
		Precise:       r.Precise,
		SourceClosure: stringifyPathMap(r.SourceClosure),
		InverseIndex:  stringifyPathMap(r.InverseIndex),
		ToolVersion:   toolVersion,
	}
}

func stringifyPathMap(m map[string][]pathnorm.Path) map[string][]string {
	out := make(map[string][]string, len(m))

	for k, v := range m {
		ss := make([]string, len(v))
		for i, p := range v {
			ss[i] = p.Canonical
		}

		out[k] = ss
	}

	return out
}

// rebuildResultFromEntry reverses entryFromResult on a cache hit.
func rebuildResultFromEntry(e dsmcache.Entry, normalizer *pathnorm.Normalizer) *depgraph.Result {
	classify := func(s string) pathnorm.Path {
		p, classifyErr := normalizer.Classify(s)
		if classifyErr != nil {
			return pathnorm.Path{Canonical: s}
		}

		return p
	}

	g := dsm.NewGraph()
	for _, edge := range e.Edges {
		g.AddEdge(classify(edge[0]), classify(edge[1]))
	}

	return &depgraph.Result{
		Include:       g,
		Precise:       e.Precise,
		SourceClosure: classifyPathMap(e.SourceClosure, classify),
		InverseIndex:  classifyPathMap(e.InverseIndex, classify),
	}
}

func classifyPathMap(m map[string][]string, classify func(string) pathnorm.Path) map[string][]pathnorm.Path {
	out := make(map[string][]pathnorm.Path, len(m))

	for k, v := range m {
		ps := make([]pathnorm.Path, len(v))
		for i, s := range v {
			ps[i] = classify(s)
		}

		out[k] = ps
	}

	return out
}

// ninjaHash hashes build.ninja's canonical bytes into the 64-bit identity
// BuildDirIdentity carries (spec.md §4.8); fnv-64a matches the non-cryptographic
// hash already used for the same kind of identity tag elsewhere in pkg/alg.
func ninjaHash(b []byte) uint64 {
	h := fnv.New64a()
	h.Write(b)

	return h.Sum64()
}
