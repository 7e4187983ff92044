package tlv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoundTrip(t *testing.T) {
	buf := []byte{
		0x9F, 0x02, 0x06, 0x00, 0x00, 0x00, 0x00, 0x10, 0x00, // 9F02 amount
		0x5A, 0x08, 0x47, 0x61, 0x73, 0x00, 0x00, 0x00, 0x00, 0x10,
	}
	status := ValidateStructure(buf)
	require.True(t, status.Valid)
	require.Equal(t, 2, status.Count)

	nodes, err := Parse(buf)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, buf, Encode(nodes))
}

func TestParseConstructedExpansion(t *testing.T) {
	inner := []byte{0x5A, 0x02, 0x12, 0x34}
	outer := append([]byte{0x70, byte(len(inner))}, inner...)

	flat, err := ParseRecursive(outer)
	require.NoError(t, err)
	require.Len(t, flat, 1)
	assert.Equal(t, Tag(0x5A), flat[0].Tag)
	assert.True(t, flat[0].Primitive)
}

func TestParseTruncated(t *testing.T) {
	_, err := Parse([]byte{0x9F, 0x02, 0x06, 0x00, 0x00})
	require.ErrorIs(t, err, ErrLengthExceedsData)
}

func TestParseTooManyTags(t *testing.T) {
	buf := make([]byte, 0, (maxTags+1)*2)
	for i := 0; i < maxTags+1; i++ {
		buf = append(buf, 0x5A, 0x00)
	}
	status := ValidateStructure(buf)
	require.False(t, status.Valid)
	require.ErrorIs(t, status.Err, ErrTooManyTags)
}

func TestMultiByteTagInvalid(t *testing.T) {
	// 5 low bits set (multi-byte indicator) but continuation never clears
	// the high bit within 4 bytes.
	_, err := Parse([]byte{0x1F, 0x80, 0x80, 0x80, 0x80})
	require.ErrorIs(t, err, ErrInvalidTag)
}

func TestFindTag(t *testing.T) {
	buf := []byte{0x9F, 0x36, 0x02, 0x00, 0x10}
	node, ok := FindTag(buf, 0x9F36)
	require.True(t, ok)
	assert.Equal(t, []byte{0x00, 0x10}, node.Value)

	_, ok = FindTag(buf, 0x9F37)
	assert.False(t, ok)
}
