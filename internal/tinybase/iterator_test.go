package tinybase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIterator_WalksAcrossLeaves(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	aPool, aTree := smallTree(t)

	for key := int64(1); key <= 30; key++ {
		_, err := aTree.Insert(ctx, key, RowID(key*2))
		require.NoError(t, err)
	}

	it, err := aTree.Begin(ctx)
	require.NoError(t, err)
	var key int64 = 1
	for !it.IsEnd() {
		assert.Equal(t, key, it.Key())
		assert.Equal(t, RowID(key*2), it.RowID())
		require.NoError(t, it.Next(ctx))
		key += 1
	}
	assert.Equal(t, int64(31), key)

	// A finished iterator compares equal to End and refuses to advance.
	end, err := aTree.End(ctx)
	require.NoError(t, err)
	assert.True(t, it.Equal(end))
	require.ErrorIs(t, it.Next(ctx), ErrIteratorDetached)
	assertAllUnpinned(t, aPool)
}

func TestIterator_BeginAt(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	aPool, aTree := smallTree(t)

	for key := int64(2); key <= 40; key += 2 {
		_, err := aTree.Insert(ctx, key, RowID(key))
		require.NoError(t, err)
	}

	it, err := aTree.BeginAt(ctx, 20)
	require.NoError(t, err)
	var keys []int64
	for !it.IsEnd() {
		keys = append(keys, it.Key())
		require.NoError(t, it.Next(ctx))
	}
	expected := make([]int64, 0, 11)
	for key := int64(20); key <= 40; key += 2 {
		expected = append(expected, key)
	}
	assert.Equal(t, expected, keys)

	// A key that is not in the tree positions at End.
	it, err = aTree.BeginAt(ctx, 21)
	require.NoError(t, err)
	end, err := aTree.End(ctx)
	require.NoError(t, err)
	assert.True(t, it.IsEnd())
	assert.True(t, it.Equal(end))
	assertAllUnpinned(t, aPool)
}

func TestIterator_CloseReleasesPin(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	aPool, aTree := smallTree(t)

	for key := int64(1); key <= 10; key++ {
		_, err := aTree.Insert(ctx, key, RowID(key))
		require.NoError(t, err)
	}

	it, err := aTree.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, it.Next(ctx))
	require.NoError(t, it.Close())
	assert.True(t, it.IsEnd())
	require.NoError(t, it.Close(), "closing twice is fine")
	assertAllUnpinned(t, aPool)
}

func TestIterator_SingleLeaf(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	aPool, aTree := smallTree(t)

	_, err := aTree.Insert(ctx, 1, 10)
	require.NoError(t, err)

	it, err := aTree.Begin(ctx)
	require.NoError(t, err)
	assert.False(t, it.IsEnd())
	assert.Equal(t, int64(1), it.Key())
	require.NoError(t, it.Next(ctx))
	assert.True(t, it.IsEnd())
	assertAllUnpinned(t, aPool)
}
