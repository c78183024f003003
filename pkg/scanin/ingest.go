package scanin

import (
	"context"
	"runtime"
	"sort"
	"sync"

	"github.com/dsmforge/dsm/pkg/pathnorm"
)

// ScanFunc runs the external include scanner for one compile command and
// returns its Makefile-style dependency output. Implementations are
// expected to honor ctx's deadline and return a scanner_timeout-kind error
// (via ScannerTimeoutError) when the external process does not finish in
// time.
type ScanFunc func(ctx context.Context, cmd CompileCommand) (SourceToDeps, []ParseError, error)

// IngestResult is the outcome of scanning one compile database entry.
type IngestResult struct {
	Source     string
	Deps       SourceToDeps
	ParseErrs  []ParseError
	ScanErr    error
}

// Options configures IngestAll.
type Options struct {
	// Workers bounds the ingest worker pool. Zero selects runtime.GOMAXPROCS(0).
	Workers int
}

// IngestAll scans every compile database entry with scan, fully in
// parallel across TUs (spec.md §5 region 1: "per-TU parse... fully
// independent, embarrassingly parallel"). Results are collected into a
// slice sorted by source path before returning, so downstream consumers see
// a deterministic order regardless of worker count or completion order.
func IngestAll(ctx context.Context, entries []CompileDBEntry, scan ScanFunc, opts Options) []IngestResult {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	if workers > len(entries) && len(entries) > 0 {
		workers = len(entries)
	}

	if workers < 1 {
		workers = 1
	}

	jobs := make(chan CompileDBEntry)
	results := make(chan IngestResult, len(entries))

	var wg sync.WaitGroup

	wg.Add(workers)

	for range workers {
		go func() {
			defer wg.Done()

			for entry := range jobs {
				cmd := ParseCompileCommand(entry)
				deps, parseErrs, err := scan(ctx, cmd)

				results <- IngestResult{
					Source:    entry.File,
					Deps:      deps,
					ParseErrs: parseErrs,
					ScanErr:   err,
				}
			}
		}()
	}

	go func() {
		defer close(jobs)

		for _, e := range entries {
			select {
			case jobs <- e:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	out := make([]IngestResult, 0, len(entries))
	for r := range results {
		out = append(out, r)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })

	return out
}

// Merge flattens a sorted slice of IngestResult into one SourceToDeps, a
// running parse-error count, and the classified per-TU closures keyed
// through n. Entries whose ScanErr is non-nil contribute an empty inclusion
// set (spec.md §4.11: "Missing scanner output for a TU: continue with an
// empty inclusion set").
func Merge(results []IngestResult, n *pathnorm.Normalizer, diag *pathnorm.Diagnostics) (map[pathnorm.Path][]pathnorm.Path, int) {
	merged := make(SourceToDeps)
	parseErrorCount := 0

	for _, r := range results {
		parseErrorCount += len(r.ParseErrs)

		if r.ScanErr != nil {
			merged[r.Source] = nil

			continue
		}

		for target, items := range r.Deps {
			merged[target] = append(merged[target], items...)
		}

		if _, ok := merged[r.Source]; !ok {
			merged[r.Source] = nil
		}
	}

	return Resolve(merged, n, diag), parseErrorCount
}
