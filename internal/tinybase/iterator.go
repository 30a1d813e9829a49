package tinybase

import (
	"context"
	"fmt"
)

// Iterator walks the leaf chain left to right holding exactly one pinned
// leaf. Once past the last cell it detaches, releasing its pin; a detached
// iterator compares equal to End.
type Iterator[K IndexKey] struct {
	pool   PagePool[K]
	page   *Page[K]
	pageID PageID
	index  int
}

// Begin returns an iterator at the smallest key, descending the left spine.
func (t *BTree[K]) Begin(ctx context.Context) (*Iterator[K], error) {
	if t.IsEmpty() {
		return &Iterator[K]{pool: t.pool, pageID: InvalidPageID}, nil
	}
	aPage, err := t.pool.FetchPage(ctx, t.rootPageID)
	if err != nil {
		return nil, fmt.Errorf("fetch root page: %w", err)
	}
	for aPage.InternalNode != nil {
		childID := aPage.InternalNode.FirstChild()
		child, err := t.pool.FetchPage(ctx, childID)
		if err != nil {
			t.pool.UnpinPage(aPage.ID, false)
			return nil, fmt.Errorf("fetch child page %d: %w", childID, err)
		}
		if err := t.pool.UnpinPage(aPage.ID, false); err != nil {
			return nil, err
		}
		aPage = child
	}
	return &Iterator[K]{pool: t.pool, page: aPage, pageID: aPage.ID}, nil
}

// BeginAt returns an iterator positioned at exactly key, or End if the key
// is not in the tree.
func (t *BTree[K]) BeginAt(ctx context.Context, key K) (*Iterator[K], error) {
	if t.IsEmpty() {
		return &Iterator[K]{pool: t.pool, pageID: InvalidPageID}, nil
	}
	aPage, err := t.findLeafPage(ctx, key)
	if err != nil {
		return nil, err
	}
	aLeaf := aPage.LeafNode
	for index := 0; index < int(aLeaf.Header.Size); index++ {
		if t.compare(aLeaf.Cells[index].Key, key) == 0 {
			return &Iterator[K]{pool: t.pool, page: aPage, pageID: aPage.ID, index: index}, nil
		}
	}
	if err := t.pool.UnpinPage(aPage.ID, false); err != nil {
		return nil, err
	}
	return t.End(ctx)
}

// End returns the past-the-end position: the slot just after the last cell
// of the rightmost leaf. It holds no pin.
func (t *BTree[K]) End(ctx context.Context) (*Iterator[K], error) {
	if t.IsEmpty() {
		return &Iterator[K]{pool: t.pool, pageID: InvalidPageID}, nil
	}
	aPage, err := t.pool.FetchPage(ctx, t.rootPageID)
	if err != nil {
		return nil, fmt.Errorf("fetch root page: %w", err)
	}
	for aPage.InternalNode != nil {
		childID := aPage.InternalNode.LastCell().Child
		child, err := t.pool.FetchPage(ctx, childID)
		if err != nil {
			t.pool.UnpinPage(aPage.ID, false)
			return nil, fmt.Errorf("fetch child page %d: %w", childID, err)
		}
		if err := t.pool.UnpinPage(aPage.ID, false); err != nil {
			return nil, err
		}
		aPage = child
	}
	it := &Iterator[K]{pool: t.pool, pageID: aPage.ID, index: int(aPage.LeafNode.Header.Size)}
	if err := t.pool.UnpinPage(aPage.ID, false); err != nil {
		return nil, err
	}
	return it, nil
}

// IsEnd reports whether the iterator is past the last cell.
func (it *Iterator[K]) IsEnd() bool {
	return it.page == nil
}

// Equal compares positions; a detached iterator equals the End position of
// the leaf it ran off.
func (it *Iterator[K]) Equal(other *Iterator[K]) bool {
	return it.pageID == other.pageID && it.index == other.index
}

func (it *Iterator[K]) Key() K {
	return it.page.LeafNode.Cells[it.index].Key
}

func (it *Iterator[K]) RowID() RowID {
	return it.page.LeafNode.Cells[it.index].RowID
}

// Next advances one cell, following the leaf chain across page borders and
// detaching past the rightmost leaf.
func (it *Iterator[K]) Next(ctx context.Context) error {
	if it.page == nil {
		return ErrIteratorDetached
	}
	it.index += 1
	aLeaf := it.page.LeafNode
	if it.index < int(aLeaf.Header.Size) {
		return nil
	}
	if aLeaf.Header.Next != InvalidPageID {
		next, err := it.pool.FetchPage(ctx, aLeaf.Header.Next)
		if err != nil {
			return fmt.Errorf("fetch next leaf %d: %w", aLeaf.Header.Next, err)
		}
		if err := it.pool.UnpinPage(it.pageID, false); err != nil {
			return err
		}
		it.page = next
		it.pageID = next.ID
		it.index = 0
		return nil
	}
	if err := it.pool.UnpinPage(it.pageID, false); err != nil {
		return err
	}
	it.page = nil
	return nil
}

// Close releases the pin of an iterator abandoned before the end.
func (it *Iterator[K]) Close() error {
	if it.page == nil {
		return nil
	}
	err := it.pool.UnpinPage(it.pageID, false)
	it.page = nil
	return err
}
