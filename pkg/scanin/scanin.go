// Package scanin ingests the two external artifacts the core never produces
// itself: Makefile-style include-scanner output and compile database entries
// (spec.md §6, C2). Parsing never aborts the run on a malformed record — a
// bad rule is skipped and counted, per spec.md §4.11.
package scanin

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/dsmforge/dsm/pkg/errs"
	"github.com/dsmforge/dsm/pkg/pathnorm"
)

// ParseError records one skipped, malformed scanner record.
type ParseError struct {
	Line   int
	Reason string
}

func (e ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

// SourceToDeps maps a primary source path to its raw inclusion set, in the
// order scanner lines were accepted. Keys are not yet classified Paths —
// that happens once pathnorm has a project root to classify against.
type SourceToDeps map[string][]string

// ParseDependencyFile parses Makefile-style `target: dep1 dep2 \` rules from
// r. Comments starting with '#' are ignored, CRLF line endings are
// tolerated, and a trailing backslash continues the rule onto the next line.
// A rule missing its ':' separator is reported as a ParseError and skipped;
// parsing continues with the next rule.
func ParseDependencyFile(r io.Reader) (SourceToDeps, []ParseError) {
	deps := make(SourceToDeps)

	var errs []ParseError

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)

	var (
		logical    strings.Builder
		startLine  int
		lineNo     int
		inRule     bool
	)

	flush := func() {
		if !inRule {
			return
		}

		rule := logical.String()
		logical.Reset()
		inRule = false

		if strings.TrimSpace(rule) == "" {
			return
		}

		target, items, err := parseRule(rule)
		if err != nil {
			errs = append(errs, ParseError{Line: startLine, Reason: err.Error()})

			return
		}

		existing := deps[target]
		seen := make(map[string]bool, len(existing))

		for _, e := range existing {
			seen[e] = true
		}

		for _, it := range items {
			if !seen[it] {
				seen[it] = true
				existing = append(existing, it)
			}
		}

		deps[target] = existing
	}

	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")

		if trimmed := strings.TrimSpace(line); trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		if !inRule {
			startLine = lineNo
			inRule = true
		} else {
			logical.WriteByte(' ')
		}

		continued := strings.HasSuffix(line, `\`)
		if continued {
			line = line[:len(line)-1]
		}

		logical.WriteString(line)

		if !continued {
			flush()
		}
	}

	flush()

	return deps, errs
}

// parseRule splits one logical "target: dep dep dep" line into its target
// and dependency tokens.
func parseRule(rule string) (target string, items []string, err error) {
	idx := strings.Index(rule, ":")
	if idx < 0 {
		return "", nil, fmt.Errorf("missing ':' separator")
	}

	target = strings.TrimSpace(rule[:idx])
	if target == "" {
		return "", nil, fmt.Errorf("empty target")
	}

	items = strings.Fields(rule[idx+1:])

	return target, items, nil
}

// Resolve classifies every raw path in deps through n, dropping and counting
// invalid entries in diag. The returned map is keyed and valued by
// classified Paths, sorted for deterministic downstream consumption.
func Resolve(deps SourceToDeps, n *pathnorm.Normalizer, diag *pathnorm.Diagnostics) map[pathnorm.Path][]pathnorm.Path {
	out := make(map[pathnorm.Path][]pathnorm.Path, len(deps))

	targets := make([]string, 0, len(deps))
	for t := range deps {
		targets = append(targets, t)
	}

	sort.Strings(targets)

	for _, t := range targets {
		srcPath, err := n.Classify(t)
		if err != nil {
			diag.PathErrors++

			continue
		}

		items := deps[t]

		classified := make([]pathnorm.Path, 0, len(items))

		for _, raw := range items {
			p, err := n.Classify(raw)
			if err != nil {
				diag.PathErrors++

				continue
			}

			classified = append(classified, p)
		}

		pathnorm.SortPaths(classified)

		out[srcPath] = classified
	}

	return out
}

// ScannerTimeoutError wraps a failed external scanner invocation, the only
// errs.ScannerTimeout site in the core (spec.md §5, "Cancellation and
// timeouts").
func ScannerTimeoutError(cause error) error {
	return errs.Wrap(errs.ScannerTimeout, cause, "include scanner did not complete before the configured timeout")
}
