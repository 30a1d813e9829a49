package tinybase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLeaf(keys ...int64) *LeafNode[int64] {
	aNode := NewLeafNode[int64](5, InvalidPageID, 8)
	for _, key := range keys {
		aNode.InsertLast(key, RowID(key))
	}
	return aNode
}

func TestLeafNode_KeyIndex(t *testing.T) {
	t.Parallel()

	aNode := testLeaf(10, 20, 30)

	assert.Equal(t, 0, aNode.KeyIndex(5, Compare))
	assert.Equal(t, 0, aNode.KeyIndex(10, Compare))
	assert.Equal(t, 1, aNode.KeyIndex(15, Compare))
	assert.Equal(t, 2, aNode.KeyIndex(30, Compare))
	assert.Equal(t, 3, aNode.KeyIndex(31, Compare))
}

func TestLeafNode_Insert(t *testing.T) {
	t.Parallel()

	aNode := testLeaf(10, 30)

	aCell := LeafCell[int64]{Key: 20, RowID: 200}
	require.True(t, aNode.Insert(aCell, aNode.KeyIndex(20, Compare), Compare))
	assert.Equal(t, []int64{10, 20, 30}, aNode.Keys())

	// Duplicate key leaves the node untouched.
	dup := LeafCell[int64]{Key: 20, RowID: 999}
	require.False(t, aNode.Insert(dup, aNode.KeyIndex(20, Compare), Compare))
	assert.Equal(t, []int64{10, 20, 30}, aNode.Keys())
	assert.Equal(t, RowID(200), aNode.Cells[1].RowID)
}

func TestLeafNode_Delete(t *testing.T) {
	t.Parallel()

	aNode := testLeaf(10, 20, 30)

	require.False(t, aNode.Delete(15, Compare))
	require.True(t, aNode.Delete(20, Compare))
	assert.Equal(t, []int64{10, 30}, aNode.Keys())
	require.False(t, aNode.Delete(20, Compare))
}

func TestLeafNode_Split(t *testing.T) {
	t.Parallel()

	aNode := NewLeafNode[int64](5, InvalidPageID, 4)
	for _, key := range []int64{10, 20, 30, 40} {
		aNode.InsertLast(key, RowID(key))
	}
	aNode.Header.Next = 9

	right := NewLeafNode[int64](6, InvalidPageID, 4)
	aNode.Split(right)

	assert.Equal(t, []int64{10, 20}, aNode.Keys())
	assert.Equal(t, []int64{30, 40}, right.Keys())
	assert.Equal(t, PageID(6), aNode.Header.Next)
	assert.Equal(t, PageID(9), right.Header.Next)
}

func TestLeafNode_Merge(t *testing.T) {
	t.Parallel()

	left := testLeaf(10, 20)
	right := testLeaf(30, 40)

	left.Merge(right)
	assert.Equal(t, []int64{10, 20, 30, 40}, left.Keys())
	assert.Zero(t, right.Header.Size)
}

func TestLeafNode_InsertFirstLast(t *testing.T) {
	t.Parallel()

	aNode := testLeaf(20)
	aNode.InsertFirst(10, 100)
	aNode.InsertLast(30, 300)
	assert.Equal(t, []int64{10, 20, 30}, aNode.Keys())
	assert.Equal(t, RowID(100), aNode.FirstCell().RowID)
	assert.Equal(t, RowID(300), aNode.LastCell().RowID)
}

func TestLeafNode_MarshalRoundTrip(t *testing.T) {
	t.Parallel()

	aNode := testLeaf(10, 20, 30)
	aNode.Header.Parent = 2
	aNode.Header.Next = 7

	buf := make([]byte, PageSize)
	aNode.Marshal(buf)

	decoded := &LeafNode[int64]{}
	require.NoError(t, decoded.Unmarshal(buf))
	assert.Equal(t, aNode.Header, decoded.Header)
	assert.Equal(t, aNode.Keys(), decoded.Keys())
	assert.Equal(t, RowID(20), decoded.Cells[1].RowID)
}
