package dsmcache_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsmforge/dsm/pkg/dsmcache"
	"github.com/dsmforge/dsm/pkg/pathnorm"
	"github.com/dsmforge/dsm/pkg/scanin"
)

func TestKey_OrderIndependent(t *testing.T) {
	t.Parallel()

	a := []scanin.CompileDBEntry{
		{File: "b.c", Directory: "/src", Arguments: []string{"-Iinc"}},
		{File: "a.c", Directory: "/src", Arguments: []string{"-Iinc"}},
	}
	b := []scanin.CompileDBEntry{a[1], a[0]}

	filter := pathnorm.FilterSpec{Include: []string{"**/*.h"}}

	require.Equal(t, dsmcache.Key(a, []byte("ninja"), filter, "v1"), dsmcache.Key(b, []byte("ninja"), filter, "v1"))
}

func TestKey_ChangesWithInputs(t *testing.T) {
	t.Parallel()

	entries := []scanin.CompileDBEntry{{File: "a.c", Directory: "/src"}}
	filter := pathnorm.FilterSpec{Include: []string{"**/*.h"}}

	base := dsmcache.Key(entries, []byte("ninja-v1"), filter, "v1")

	assert.NotEqual(t, base, dsmcache.Key(entries, []byte("ninja-v2"), filter, "v1"))
	assert.NotEqual(t, base, dsmcache.Key(entries, []byte("ninja-v1"), filter, "v2"))

	filter2 := pathnorm.FilterSpec{Include: []string{"**/*.hpp"}}
	assert.NotEqual(t, base, dsmcache.Key(entries, []byte("ninja-v1"), filter2, "v1"))
}
