package dsmcache

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"sort"

	"github.com/dsmforge/dsm/pkg/pathnorm"
	"github.com/dsmforge/dsm/pkg/scanin"
)

// sep separates fields within the digest input; 0xFF cannot appear in a
// UTF-8-encoded path or argument, so it cannot be forged by adjusting field
// boundaries.
var sep = []byte{0xFF}

// Key derives the 128-bit cache key identifying one ingest->graph
// computation (spec.md §4.9: "a 128-bit digest over sorted compile DB
// entries, canonical build.ninja contents, filter spec, tool version").
// Equal inputs always produce equal keys regardless of entries' input
// order, since entries are sorted by source path before hashing.
func Key(entries []scanin.CompileDBEntry, ninjaBytes []byte, filter pathnorm.FilterSpec, toolVersion string) string {
	sorted := append([]scanin.CompileDBEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].File < sorted[j].File })

	h := sha256.New()

	for _, e := range sorted {
		h.Write([]byte(e.File))
		h.Write(sep)
		h.Write([]byte(e.Directory))
		h.Write(sep)

		for _, a := range e.Arguments {
			h.Write([]byte(a))
			h.Write(sep)
		}

		h.Write(sep)
	}

	h.Write(ninjaBytes)
	h.Write(sep)
	writeSortedStrings(h, filter.Include)
	writeSortedStrings(h, filter.Exclude)
	h.Write([]byte(toolVersion))

	sum := h.Sum(nil)

	return hex.EncodeToString(sum[:16]) // 128-bit truncation of the 256-bit digest.
}

func writeSortedStrings(h hash.Hash, ss []string) {
	sorted := append([]string(nil), ss...)
	sort.Strings(sorted)

	for _, s := range sorted {
		h.Write([]byte(s))
		h.Write(sep)
	}

	h.Write(sep)
}
