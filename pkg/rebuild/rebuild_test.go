package rebuild_test

import (
	"context"
	"testing"

	"github.com/dsmforge/dsm/pkg/dsm"
	"github.com/dsmforge/dsm/pkg/pathnorm"
	"github.com/dsmforge/dsm/pkg/rebuild"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSnapshot struct {
	graph        *dsm.Graph
	inverseIndex map[string][]pathnorm.Path
	closures     map[string][]pathnorm.Path
	sources      []pathnorm.Path
}

func (f *fakeSnapshot) IncludeGraph() *dsm.Graph { return f.graph }
func (f *fakeSnapshot) InverseIndexOf(header string) []pathnorm.Path {
	return f.inverseIndex[header]
}
func (f *fakeSnapshot) SourceClosureOf(source string) []pathnorm.Path { return f.closures[source] }
func (f *fakeSnapshot) Sources() []pathnorm.Path                      { return f.sources }

func pth(canonical string) pathnorm.Path { return pathnorm.Path{Canonical: canonical} }

func TestImpactDirectRebuildSetFromInverseIndex(t *testing.T) {
	g := dsm.NewGraph()
	g.AddNode(pth("logger.h"))

	universe := make([]pathnorm.Path, 0, 1000)
	inverse := make(map[string][]pathnorm.Path)

	for i := 0; i < 1000; i++ {
		src := pth(tuName(i))
		universe = append(universe, src)

		if i < 89 {
			inverse["logger.h"] = append(inverse["logger.h"], src)
		}
	}

	snap := &fakeSnapshot{
		graph:        g,
		inverseIndex: inverse,
		sources:      universe,
	}

	res, err := rebuild.Impact(context.Background(), []pathnorm.Path{pth("logger.h")}, snap)
	require.NoError(t, err)

	assert.Len(t, res.Direct, 89)
	assert.InDelta(t, 0.089, res.DirectPercent, 1e-9)
}

func tuName(i int) string {
	return "tu" + string(rune('0'+i%10)) + string(rune('a'+i%26)) + ".cpp"
}

func TestImpactChangedSourceIsAlwaysInDirectSet(t *testing.T) {
	g := dsm.NewGraph()

	snap := &fakeSnapshot{
		graph:   g,
		sources: []pathnorm.Path{pth("main.cpp"), pth("other.cpp")},
	}

	res, err := rebuild.Impact(context.Background(), []pathnorm.Path{pth("main.cpp")}, snap)
	require.NoError(t, err)

	require.Len(t, res.Direct, 1)
	assert.Equal(t, "main.cpp", res.Direct[0].Canonical)
}

func TestImpactClosureIsSupersetOfDirect(t *testing.T) {
	g := dsm.NewGraph()
	// a.h includes b.h includes logger.h: a.h -> b.h -> logger.h
	g.AddEdge(pth("a.h"), pth("b.h"))
	g.AddEdge(pth("b.h"), pth("logger.h"))

	inverse := map[string][]pathnorm.Path{
		"logger.h": {pth("direct_user.cpp")},
		"a.h":      {pth("indirect_user.cpp")},
	}

	snap := &fakeSnapshot{
		graph:        g,
		inverseIndex: inverse,
		sources:      []pathnorm.Path{pth("direct_user.cpp"), pth("indirect_user.cpp")},
	}

	res, err := rebuild.Impact(context.Background(), []pathnorm.Path{pth("logger.h")}, snap)
	require.NoError(t, err)

	assert.Len(t, res.Direct, 1)
	assert.Equal(t, "direct_user.cpp", res.Direct[0].Canonical)

	assert.Len(t, res.Closure, 2)
	assert.GreaterOrEqual(t, len(res.Closure), len(res.Direct))
}
