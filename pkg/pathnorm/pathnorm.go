// Package pathnorm canonicalizes paths and classifies them as project,
// third-party, system, or generated (spec §4.1, C1). All filtering here is
// pure data — glob pattern lists and prefix lists — never a callback, per the
// "duck-typed filter callbacks" design note in spec.md §9.
package pathnorm

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/dsmforge/dsm/pkg/errs"
)

// rootMarkers are the filesystem entries that identify a project root when
// none is explicitly configured (spec §4.1, "nearest ancestor ... containing
// a recognized marker").
var rootMarkers = []string{".git", "README.md", "README"}

// DetectProjectRoot walks upward from buildDir looking for the nearest
// ancestor containing a recognized marker (.git or a top-level README).
// It returns buildDir itself, cleaned and absolute, if no marker is found
// anywhere above it; callers that were explicitly given a root should skip
// this entirely (spec §4.1 treats an explicit root as an override, not a
// fallback target).
func DetectProjectRoot(buildDir string) (string, error) {
	abs, err := filepath.Abs(buildDir)
	if err != nil {
		return "", errs.Wrap(errs.PathError, err, "resolve build dir")
	}

	dir := filepath.Clean(abs)
	for {
		if hasRootMarker(dir) {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return filepath.Clean(abs), nil
		}

		dir = parent
	}
}

func hasRootMarker(dir string) bool {
	for _, marker := range rootMarkers {
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			return true
		}
	}

	return false
}

// Class classifies a canonicalized path.
type Class string

// The closed set of path classes.
const (
	ClassProject    Class = "project"
	ClassThirdParty Class = "third_party"
	ClassSystem     Class = "system"
	ClassGenerated  Class = "generated"
)

// Path is a canonicalized path string plus its classification. Two Paths
// comparing equal (by Canonical) denote the same filesystem object within a
// snapshot (spec §3 invariant).
type Path struct {
	Canonical string
	Class     Class
}

// String returns the canonical form, so Path satisfies fmt.Stringer and sorts
// naturally when used as a map key rendered to text.
func (p Path) String() string { return p.Canonical }

// FilterSpec is the declarative include/exclude glob configuration (spec
// §4.1). Include is OR'd (an empty Include set passes everything); Exclude is
// evaluated only once Include has passed.
type FilterSpec struct {
	Include []string `yaml:"include" mapstructure:"include"`
	Exclude []string `yaml:"exclude" mapstructure:"exclude"`
}

// Passes reports whether canonical matches the filter: it must match at least
// one Include pattern (or Include must be empty), and no Exclude pattern.
func (f FilterSpec) Passes(canonical string) bool {
	if len(f.Include) > 0 && !anyGlobMatches(f.Include, canonical) {
		return false
	}

	return !anyGlobMatches(f.Exclude, canonical)
}

func anyGlobMatches(patterns []string, s string) bool {
	for _, p := range patterns {
		if GlobMatch(p, s) {
			return true
		}
	}

	return false
}

// DefaultSystemPrefixes is the default prefix set used to classify a path as
// ClassSystem.
var DefaultSystemPrefixes = []string{"/usr/", "/lib/", "/opt/", "/usr/lib/gcc/", "/usr/include/c++/"}

// DefaultThirdPartyGlobs is the default glob set used to classify a path as
// ClassThirdParty.
var DefaultThirdPartyGlobs = []string{"**/ThirdParty/**", "**/third_party/**", "**/vendor/**"}

// DefaultGeneratedGlobs is the default glob set used to classify a path as
// ClassGenerated (build-directory artifacts, not tracked source).
var DefaultGeneratedGlobs = []string{"**/gen/**", "**/generated/**", "**.pb.h", "**.pb.cc"}

// Config configures a Normalizer.
type Config struct {
	// ProjectRoot is the nearest ancestor of the build directory containing a
	// recognized marker (.git, a top-level README) or an explicitly supplied
	// root. Must be an absolute, cleaned path.
	ProjectRoot string
	Filter      FilterSpec
	SystemPrefixes,
	ThirdPartyGlobs,
	GeneratedGlobs []string
}

// WithDefaults fills unset classification pattern lists with the package
// defaults, leaving any caller-supplied lists untouched.
func (c Config) WithDefaults() Config {
	if c.SystemPrefixes == nil {
		c.SystemPrefixes = DefaultSystemPrefixes
	}

	if c.ThirdPartyGlobs == nil {
		c.ThirdPartyGlobs = DefaultThirdPartyGlobs
	}

	if c.GeneratedGlobs == nil {
		c.GeneratedGlobs = DefaultGeneratedGlobs
	}

	return c
}

// Diagnostics accumulates non-fatal path-normalization failures for a run.
type Diagnostics struct {
	PathErrors int
}

// Normalizer canonicalizes and classifies raw path strings against a fixed
// configuration (spec §4.1).
type Normalizer struct {
	cfg Config
}

// New creates a Normalizer. cfg should already have WithDefaults applied if
// the caller wants the package defaults for unset pattern lists.
func New(cfg Config) *Normalizer {
	return &Normalizer{cfg: cfg}
}

// Classify canonicalizes raw and assigns it a Class. Invalid UTF-8 paths
// return a *errs.Error of kind errs.PathError; the caller is expected to drop
// the path and increment a Diagnostics counter (spec §4.11) rather than treat
// this as fatal.
func (n *Normalizer) Classify(raw string) (Path, error) {
	if !utf8.ValidString(raw) {
		return Path{}, errs.New(errs.PathError, "invalid UTF-8 in path %q", raw)
	}

	canonical := n.canonicalize(raw)
	class := n.classify(canonical)

	return Path{Canonical: canonical, Class: class}, nil
}

// canonicalize resolves raw to an absolute, cleaned path, then relativizes it
// against the project root when possible, using forward slashes throughout so
// exports are platform-independent and byte-deterministic.
func (n *Normalizer) canonicalize(raw string) string {
	abs := raw
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(n.cfg.ProjectRoot, abs)
	}

	abs = filepath.Clean(abs)

	if n.cfg.ProjectRoot != "" {
		if rel, err := filepath.Rel(n.cfg.ProjectRoot, abs); err == nil && !strings.HasPrefix(rel, "..") {
			return filepath.ToSlash(rel)
		}
	}

	return filepath.ToSlash(abs)
}

func (n *Normalizer) classify(canonical string) Class {
	for _, prefix := range n.cfg.SystemPrefixes {
		if strings.HasPrefix(canonical, prefix) {
			return ClassSystem
		}
	}

	if anyGlobMatches(n.cfg.ThirdPartyGlobs, canonical) {
		return ClassThirdParty
	}

	if anyGlobMatches(n.cfg.GeneratedGlobs, canonical) {
		return ClassGenerated
	}

	return ClassProject
}

// Filter returns the configured FilterSpec, so callers can apply it without
// re-parsing patterns.
func (n *Normalizer) Filter() FilterSpec { return n.cfg.Filter }

// SortPaths sorts paths by Canonical in place and returns it, the
// determinism baseline every downstream component relies on (spec §4.2,
// "all iteration orders are defined by sorted canonical paths").
func SortPaths(paths []Path) []Path {
	sort.Slice(paths, func(i, j int) bool { return paths[i].Canonical < paths[j].Canonical })

	return paths
}
