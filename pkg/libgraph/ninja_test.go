package libgraph

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanBuildStatementsParsesOrderOnlyDeps(t *testing.T) {
	src := `# a comment
build libcore.a: STATIC_LIB core/a.o core/b.o || libutil.a

build myapp: EXECUTABLE_LINKER main.o | libcore.a || libcore.a libutil.a
`
	statements, err := scanBuildStatements(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, statements, 2)

	assert.Equal(t, []string{"libcore.a"}, statements[0].outputs)
	assert.Equal(t, "STATIC_LIB", statements[0].rule)
	assert.Equal(t, []string{"libutil.a"}, statements[0].orderOnly)

	assert.Equal(t, []string{"myapp"}, statements[1].outputs)
	assert.Equal(t, "EXECUTABLE_LINKER", statements[1].rule)
	assert.Equal(t, []string{"libcore.a", "libutil.a"}, statements[1].orderOnly)
}

func TestScanBuildStatementsJoinsDollarContinuation(t *testing.T) {
	src := "build libcore.a: STATIC_LIB core/a.o $\n  core/b.o || libutil.a\n"

	statements, err := scanBuildStatements(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, statements, 1)

	assert.Equal(t, []string{"libutil.a"}, statements[0].orderOnly)
}

func TestScanBuildStatementsIgnoresNonBuildLines(t *testing.T) {
	src := `rule STATIC_LIB
  command = ar rcs $out $in
pool link_pool
  depth = 4
build libcore.a: STATIC_LIB a.o
`
	statements, err := scanBuildStatements(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, statements, 1)
}

func TestTokenizeHandlesEscapedSpace(t *testing.T) {
	tokens := tokenize(`a$ b.o plain.o`)
	assert.Equal(t, []string{"a b.o", "plain.o"}, tokens)
}

func TestInferLibraryNameStripsPrefixAndSuffix(t *testing.T) {
	assert.Equal(t, "core", inferLibraryName("libcore.a", KindStaticLib))
	assert.Equal(t, "core", inferLibraryName("out/lib/libcore.so", KindSharedLib))
	assert.Equal(t, "core", inferLibraryName("libcore.so.1.2.3", KindSharedLib))
	assert.Equal(t, "myapp", inferLibraryName("bin/myapp", KindExecutable))
}
