package tinybase

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testDbName = "tinybase_test_*.db"

func newTestFile(t *testing.T) *os.File {
	t.Helper()
	dbFile, err := os.CreateTemp(t.TempDir(), testDbName)
	require.NoError(t, err)
	return dbFile
}

func newTestPool(t *testing.T, opts ...BufferPoolOption) *bufferPool[int64] {
	t.Helper()
	aPool, err := NewBufferPool[int64](newTestFile(t), zap.NewNop(), opts...)
	require.NoError(t, err)
	return aPool
}

func newTestTree(t *testing.T, aPool *bufferPool[int64], opts ...BTreeOption[int64]) *BTree[int64] {
	t.Helper()
	aTree, err := NewBTree[int64](context.Background(), "primary", aPool, zap.NewNop(), opts...)
	require.NoError(t, err)
	return aTree
}

// smallTree returns a tree with tiny page capacities so a handful of keys
// already exercises splits and merges.
func smallTree(t *testing.T) (*bufferPool[int64], *BTree[int64]) {
	t.Helper()
	aPool := newTestPool(t)
	aTree := newTestTree(t, aPool, WithLeafMaxSize[int64](4), WithInternalMaxSize[int64](4))
	return aPool, aTree
}

// assertAllUnpinned checks that every resident page's pin count has returned
// to zero.
func assertAllUnpinned(t *testing.T, aPool *bufferPool[int64]) {
	t.Helper()
	aPool.mu.Lock()
	defer aPool.mu.Unlock()
	assert.Zero(t, aPool.headerPage.pinCount, "header page still pinned")
	for frameID, aPage := range aPool.frames {
		if aPage == nil {
			continue
		}
		assert.Zerof(t, aPage.pinCount, "page %d in frame %d still pinned", aPage.ID, frameID)
	}
}

// verifyTree walks the whole tree checking the structural invariants and
// returns every key in comparator order.
func verifyTree(t *testing.T, ctx context.Context, aPool *bufferPool[int64], aTree *BTree[int64]) []int64 {
	t.Helper()
	if aTree.IsEmpty() {
		return nil
	}
	keys, leftmost := verifyPage(t, ctx, aPool, aTree, aTree.rootPageID, InvalidPageID, nil, nil)

	// The leaf chain must visit the same keys in the same order.
	chain := make([]int64, 0, len(keys))
	pageID := leftmost
	for pageID != InvalidPageID {
		aPage, err := aPool.FetchPage(ctx, pageID)
		require.NoError(t, err)
		require.NotNil(t, aPage.LeafNode)
		chain = append(chain, aPage.LeafNode.Keys()...)
		next := aPage.LeafNode.Header.Next
		require.NoError(t, aPool.UnpinPage(pageID, false))
		pageID = next
	}
	require.Equal(t, keys, chain, "leaf chain disagrees with tree order")
	assertAllUnpinned(t, aPool)
	return keys
}

func verifyPage(t *testing.T, ctx context.Context, aPool *bufferPool[int64], aTree *BTree[int64], pageID, parentID PageID, lower, upper *int64) ([]int64, PageID) {
	t.Helper()
	aPage, err := aPool.FetchPage(ctx, pageID)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, aPool.UnpinPage(pageID, false))
	}()

	isRoot := pageID == aTree.rootPageID
	require.Equal(t, parentID, aPage.Parent(), "page %d parent pointer", pageID)
	if isRoot {
		if !aPage.IsLeaf() {
			require.GreaterOrEqual(t, aPage.Size(), uint32(2), "internal root size")
		}
	} else {
		require.GreaterOrEqual(t, aPage.Size(), aPage.MinSize(), "page %d underflow", pageID)
		require.LessOrEqual(t, aPage.Size(), aPage.MaxSize(), "page %d overflow", pageID)
	}

	if aPage.IsLeaf() {
		keys := aPage.LeafNode.Keys()
		for i := 1; i < len(keys); i++ {
			require.Less(t, keys[i-1], keys[i], "page %d keys not strictly sorted", pageID)
		}
		for _, key := range keys {
			if lower != nil {
				require.GreaterOrEqual(t, key, *lower, "page %d key below separator", pageID)
			}
			if upper != nil {
				require.Less(t, key, *upper, "page %d key above separator", pageID)
			}
		}
		return keys, pageID
	}

	aNode := aPage.InternalNode
	for i := 2; i < int(aNode.Header.Size); i++ {
		require.Less(t, aNode.Cells[i-1].Key, aNode.Cells[i].Key, "page %d separators not strictly sorted", pageID)
	}

	var (
		keys     []int64
		leftmost = InvalidPageID
	)
	for i := 0; i < int(aNode.Header.Size); i++ {
		childLower, childUpper := lower, upper
		if i > 0 {
			childLower = &aNode.Cells[i].Key
		}
		if i+1 < int(aNode.Header.Size) {
			childUpper = &aNode.Cells[i+1].Key
		}
		childKeys, childLeftmost := verifyPage(t, ctx, aPool, aTree, aNode.Cells[i].Child, pageID, childLower, childUpper)
		keys = append(keys, childKeys...)
		if i == 0 {
			leftmost = childLeftmost
		}
	}
	return keys, leftmost
}
