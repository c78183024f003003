package dsmcache

// Entry is the cached output of one ingest->graph computation (spec.md
// §4.9/§4.11): the include-graph edge list plus the derived closure indices
// C5 needs for rebuild impact. It is a plain, codec-friendly projection of
// *dsm.Graph/*depgraph.Result — the gonum graph itself holds unexported
// fields and int64 node IDs that are only meaningful within one process, so
// pkg/engine rebuilds a *dsm.Graph from Edges on a cache hit rather than the
// cache storing gonum types directly.
type Entry struct {
	Edges         [][2]string         `json:"edges"`
	Precise       bool                `json:"precise"`
	SourceClosure map[string][]string `json:"source_closure"`
	InverseIndex  map[string][]string `json:"inverse_index"`
	ToolVersion   string              `json:"tool_version"`
}
