package dsm_test

import (
	"testing"

	"github.com/dsmforge/dsm/pkg/dsm"
	"github.com/stretchr/testify/assert"
)

func TestGraphAddEdgeRejectsSelfLoop(t *testing.T) {
	g := dsm.NewGraph()
	a := path("a.h")

	g.AddEdge(a, a)

	assert.Equal(t, 1, g.NodeCount())
	assert.Equal(t, 0, g.EdgeCount())
}

func TestGraphAddEdgeCollapsesParallelEdges(t *testing.T) {
	g := dsm.NewGraph()
	a, b := path("a.h"), path("b.h")

	g.AddEdge(a, b)
	g.AddEdge(a, b)

	assert.Equal(t, 1, g.EdgeCount())
}

func TestGraphSortedNodeIDsOrderedByPath(t *testing.T) {
	g := dsm.NewGraph()

	g.AddNode(path("z.h"))
	g.AddNode(path("a.h"))
	g.AddNode(path("m.h"))

	ids := g.SortedNodeIDs()

	var names []string
	for _, id := range ids {
		p, _ := g.Path(id)
		names = append(names, p.Canonical)
	}

	assert.Equal(t, []string{"a.h", "m.h", "z.h"}, names)
}

func TestGraphHasEdge(t *testing.T) {
	g := dsm.NewGraph()
	a, b := path("a.h"), path("b.h")

	g.AddEdge(a, b)

	assert.True(t, g.HasEdge(a, b))
	assert.False(t, g.HasEdge(b, a))
}
