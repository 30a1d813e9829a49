package tinybase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderNode_Records(t *testing.T) {
	t.Parallel()

	aNode := NewHeaderNode()

	_, ok := aNode.GetRecord("primary")
	assert.False(t, ok)

	require.NoError(t, aNode.InsertRecord("primary", 3))
	require.NoError(t, aNode.InsertRecord("email_idx", 9))
	root, ok := aNode.GetRecord("primary")
	require.True(t, ok)
	assert.Equal(t, PageID(3), root)

	err := aNode.InsertRecord("primary", 4)
	require.ErrorIs(t, err, ErrDuplicateRecord)

	require.NoError(t, aNode.UpdateRecord("primary", 7))
	root, _ = aNode.GetRecord("primary")
	assert.Equal(t, PageID(7), root)

	err = aNode.UpdateRecord("missing", 1)
	require.ErrorIs(t, err, ErrRecordNotFound)
}

func TestHeaderNode_MarshalRoundTrip(t *testing.T) {
	t.Parallel()

	aNode := NewHeaderNode()
	aNode.FirstFreePage = 12
	require.NoError(t, aNode.InsertRecord("primary", 3))
	require.NoError(t, aNode.InsertRecord("email_idx", 9))

	buf := make([]byte, PageSize)
	aNode.Marshal(buf)

	decoded := &HeaderNode{}
	require.NoError(t, decoded.Unmarshal(buf))
	assert.Equal(t, aNode.Magic, decoded.Magic)
	assert.Equal(t, aNode.PageSize, decoded.PageSize)
	assert.Equal(t, PageID(12), decoded.FirstFreePage)
	assert.Equal(t, aNode.Records, decoded.Records)
}

func TestHeaderNode_RejectsBadMagic(t *testing.T) {
	t.Parallel()

	aNode := NewHeaderNode()
	buf := make([]byte, PageSize)
	aNode.Marshal(buf)
	marshalUint32(buf, 0xdeadbeef, 1)

	decoded := &HeaderNode{}
	require.ErrorIs(t, decoded.Unmarshal(buf), ErrInvalidMagic)
}
