package dso

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildIDHexRoundTrip(t *testing.T) {
	id := BuildIDFromBytes(bytes.Repeat([]byte{0xab, 0x01}, 10))
	require.False(t, id.IsEmpty())
	require.Equal(t, id, BuildIDFromHex(id.Hex()))
}

func TestBuildIDFromHexRejectsWrongLength(t *testing.T) {
	require.True(t, BuildIDFromHex("abcd").IsEmpty())
	require.True(t, BuildIDFromHex(strings.Repeat("ab", 21)).IsEmpty())
	require.True(t, BuildIDFromHex("").IsEmpty())
	require.True(t, BuildIDFromHex(strings.Repeat("zz", 20)).IsEmpty())
}

func TestBuildIDPadsShortInput(t *testing.T) {
	id := BuildIDFromBytes([]byte{1, 2, 3})
	require.False(t, id.IsEmpty())
	require.Equal(t, "0102030000000000000000000000000000000000", id.Hex())
}

func TestBuildIDEquality(t *testing.T) {
	a := BuildIDFromBytes([]byte{1, 2, 3})
	b := BuildIDFromBytes([]byte{1, 2, 3})
	c := BuildIDFromBytes([]byte{1, 2, 4})
	require.True(t, a == b)
	require.False(t, a == c)
	require.True(t, BuildID{}.IsEmpty())
	require.Nil(t, BuildID{}.Bytes())
}
