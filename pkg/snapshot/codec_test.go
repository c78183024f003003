package snapshot

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadString_RoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	require.NoError(t, writeString(&buf, "v1.2.3+abcdef"))

	got, err := readString(&buf)
	require.NoError(t, err)
	assert.Equal(t, "v1.2.3+abcdef", got)
}

func TestWriteReadString_Empty(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	require.NoError(t, writeString(&buf, ""))

	got, err := readString(&buf)
	require.NoError(t, err)
	assert.Equal(t, "", got)
}

func TestReadSnapshot_TruncatedHeader(t *testing.T) {
	t.Parallel()

	_, err := readSnapshot(bytes.NewReader([]byte("DS")))
	require.Error(t, err)
}

func TestReadSnapshot_WrongMagic(t *testing.T) {
	t.Parallel()

	_, err := readSnapshot(bytes.NewReader([]byte("NOPE0000")))
	require.Error(t, err)
}

func TestWriteSnapshot_ThenReadSnapshot(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	snap := buildTriangleSnapshot(t)
	require.NoError(t, writeSnapshot(&buf, snap))

	got, err := readSnapshot(&buf)
	require.NoError(t, err)

	assert.Equal(t, snap.FormatVersion, got.FormatVersion)
	assert.Equal(t, snap.ToolVersion, got.ToolVersion)
	assert.True(t, snap.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, snap.Nodes, got.Nodes)
}
