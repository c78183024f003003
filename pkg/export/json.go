package export

import (
	"encoding/json"
	"io"

	"github.com/dsmforge/dsm/pkg/errs"
	"github.com/dsmforge/dsm/pkg/snapshot"
)

// WriteJSON writes snap as indented JSON, the full-fidelity export format
// (spec.md §6): every field round-trips through encoding/json's default
// exported-field mapping, so a JSON-exported snapshot and a gob-persisted
// one (pkg/snapshot.Save) carry the same information under different
// codecs.
func WriteJSON(w io.Writer, snap *snapshot.Snapshot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(snap); err != nil {
		return errs.Wrap(errs.AnalysisError, err, "encode JSON snapshot")
	}

	return nil
}
