package tinybase

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// PagePool is the buffer pool contract the tree consumes. Fetched and newly
// allocated pages come back pinned; the tree unpins every page exactly once.
type PagePool[K IndexKey] interface {
	FetchPage(ctx context.Context, pageID PageID) (*Page[K], error)
	NewPage(ctx context.Context) (*Page[K], error)
	UnpinPage(pageID PageID, isDirty bool) error
	DeletePage(pageID PageID) error
}

var _ PagePool[int64] = (*bufferPool[int64])(nil)

type BTreeOption[K IndexKey] func(*BTree[K])

// WithLeafMaxSize overrides the leaf page capacity, mainly for tests.
func WithLeafMaxSize[K IndexKey](maxSize uint32) BTreeOption[K] {
	return func(t *BTree[K]) {
		t.leafMaxSize = maxSize
	}
}

// WithInternalMaxSize overrides the internal page capacity, mainly for tests.
func WithInternalMaxSize[K IndexKey](maxSize uint32) BTreeOption[K] {
	return func(t *BTree[K]) {
		t.internalMaxSize = maxSize
	}
}

func WithComparator[K IndexKey](compare Comparator[K]) BTreeOption[K] {
	return func(t *BTree[K]) {
		t.compare = compare
	}
}

// BTree is a single-writer B+tree index over pinned buffer pool pages. The
// root page id is persisted as a named record in the header page.
type BTree[K IndexKey] struct {
	name   string
	pool   PagePool[K]
	logger *zap.Logger

	compare         Comparator[K]
	rootPageID      PageID
	leafMaxSize     uint32
	internalMaxSize uint32
}

// NewBTree opens the named index, restoring a persisted root binding from
// the header page if one exists.
func NewBTree[K IndexKey](ctx context.Context, name string, pool PagePool[K], logger *zap.Logger, opts ...BTreeOption[K]) (*BTree[K], error) {
	t := &BTree[K]{
		name:            name,
		pool:            pool,
		logger:          logger,
		compare:         Compare[K],
		rootPageID:      InvalidPageID,
		leafMaxSize:     uint32((PageSize - leafNodeHeaderSize()) / leafCellSize[K]()),
		internalMaxSize: uint32((PageSize - internalNodeHeaderSize()) / internalCellSize[K]()),
	}
	for _, applyOption := range opts {
		applyOption(t)
	}
	if t.leafMaxSize < 2 || t.internalMaxSize < 3 {
		return nil, fmt.Errorf("page capacities too small: leaf %d, internal %d", t.leafMaxSize, t.internalMaxSize)
	}
	if leafNodeHeaderSize()+uint64(t.leafMaxSize)*leafCellSize[K]() > PageSize ||
		internalNodeHeaderSize()+uint64(t.internalMaxSize)*internalCellSize[K]() > PageSize {
		return nil, ErrNodeTooLarge
	}

	headerPage, err := pool.FetchPage(ctx, HeaderPageID)
	if err != nil {
		return nil, fmt.Errorf("fetch header page: %w", err)
	}
	if root, ok := headerPage.HeaderNode.GetRecord(name); ok {
		t.rootPageID = root
	}
	if err := pool.UnpinPage(HeaderPageID, false); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *BTree[K]) IsEmpty() bool {
	return t.rootPageID == InvalidPageID
}

func (t *BTree[K]) RootPageID() PageID {
	return t.rootPageID
}

// GetValue performs a point query and reports whether the key exists.
func (t *BTree[K]) GetValue(ctx context.Context, key K) (RowID, bool, error) {
	if t.IsEmpty() {
		return 0, false, nil
	}
	aPage, err := t.findLeafPage(ctx, key)
	if err != nil {
		return 0, false, err
	}
	aLeaf := aPage.LeafNode
	index := aLeaf.KeyIndex(key, t.compare)

	var (
		rowID RowID
		found bool
	)
	if index < int(aLeaf.Header.Size) && t.compare(aLeaf.Cells[index].Key, key) == 0 {
		rowID = aLeaf.Cells[index].RowID
		found = true
	}
	if err := t.pool.UnpinPage(aPage.ID, false); err != nil {
		return 0, false, err
	}
	return rowID, found, nil
}

// findLeafPage descends from the root to the leaf responsible for key and
// returns it pinned. The caller owns the pin. Returns nil on an empty tree.
func (t *BTree[K]) findLeafPage(ctx context.Context, key K) (*Page[K], error) {
	if t.IsEmpty() {
		return nil, nil
	}
	aPage, err := t.pool.FetchPage(ctx, t.rootPageID)
	if err != nil {
		return nil, fmt.Errorf("fetch root page: %w", err)
	}
	for aPage.InternalNode != nil {
		childID := aPage.InternalNode.Lookup(key, t.compare)
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
	return aPage, nil
}

// Insert adds a key/value pair, splitting pages bottom-up as needed. It
// returns false without mutating anything if the key already exists.
func (t *BTree[K]) Insert(ctx context.Context, key K, rowID RowID) (bool, error) {
	aPage, err := t.findLeafPage(ctx, key)
	if err != nil {
		return false, err
	}
	for aPage == nil {
		if t.IsEmpty() {
			if err := t.startNewTree(ctx); err != nil {
				return false, err
			}
		}
		aPage, err = t.findLeafPage(ctx, key)
		if err != nil {
			return false, err
		}
	}

	aLeaf := aPage.LeafNode
	index := aLeaf.KeyIndex(key, t.compare)
	if !aLeaf.Insert(LeafCell[K]{Key: key, RowID: rowID}, index, t.compare) {
		if err := t.pool.UnpinPage(aPage.ID, false); err != nil {
			return false, err
		}
		return false, nil
	}

	if aLeaf.Header.Size >= t.leafMaxSize {
		sibling, err := t.pool.NewPage(ctx)
		if err != nil {
			t.pool.UnpinPage(aPage.ID, true)
			return false, err
		}
		sibling.LeafNode = NewLeafNode[K](sibling.ID, InvalidPageID, t.leafMaxSize)
		aLeaf.Split(sibling.LeafNode)

		t.logger.Sugar().With(
			"page_id", int64(aPage.ID),
			"sibling_page_id", int64(sibling.ID),
		).Debug("leaf split")

		if err := t.insertInParent(ctx, aPage, sibling.LeafNode.FirstCell().Key, sibling); err != nil {
			return false, err
		}
		if err := t.pool.UnpinPage(sibling.ID, true); err != nil {
			return false, err
		}
	}
	if err := t.pool.UnpinPage(aPage.ID, true); err != nil {
		return false, err
	}
	return true, nil
}

// startNewTree allocates a leaf root and persists the root binding.
func (t *BTree[K]) startNewTree(ctx context.Context) error {
	aPage, err := t.pool.NewPage(ctx)
	if err != nil {
		return err
	}
	aPage.LeafNode = NewLeafNode[K](aPage.ID, InvalidPageID, t.leafMaxSize)
	t.rootPageID = aPage.ID
	if err := t.updateRootPageID(ctx, true); err != nil {
		t.pool.UnpinPage(aPage.ID, true)
		return err
	}
	t.logger.Sugar().With("root_page_id", int64(aPage.ID)).Debug("started new tree")
	return t.pool.UnpinPage(aPage.ID, true)
}

// insertInParent propagates a split: left kept its lower half, right is the
// new sibling and key is the smallest key reachable through right.
func (t *BTree[K]) insertInParent(ctx context.Context, left *Page[K], key K, right *Page[K]) error {
	if left.ID == t.rootPageID {
		newRoot, err := t.pool.NewPage(ctx)
		if err != nil {
			return err
		}
		aNode := NewInternalNode[K](newRoot.ID, InvalidPageID, t.internalMaxSize)
		aNode.Cells[0] = InternalCell[K]{Child: left.ID}
		aNode.Cells[1] = InternalCell[K]{Key: key, Child: right.ID}
		aNode.Header.Size = 2
		newRoot.InternalNode = aNode
		left.SetParent(newRoot.ID)
		right.SetParent(newRoot.ID)
		t.rootPageID = newRoot.ID
		if err := t.updateRootPageID(ctx, false); err != nil {
			t.pool.UnpinPage(newRoot.ID, true)
			return err
		}
		t.logger.Sugar().With("root_page_id", int64(newRoot.ID)).Debug("new root")
		return t.pool.UnpinPage(newRoot.ID, true)
	}

	parentID := left.Parent()
	parent, err := t.pool.FetchPage(ctx, parentID)
	if err != nil {
		return fmt.Errorf("fetch parent page %d: %w", parentID, err)
	}
	aParent := parent.InternalNode
	if aParent.Header.Size < aParent.Header.MaxSize {
		aParent.Insert(InternalCell[K]{Key: key, Child: right.ID}, t.compare)
		right.SetParent(parentID)
		return t.pool.UnpinPage(parentID, true)
	}

	// Parent is full, split it and recurse one level up.
	sibling, err := t.pool.NewPage(ctx)
	if err != nil {
		t.pool.UnpinPage(parentID, true)
		return err
	}
	aSibling := NewInternalNode[K](sibling.ID, InvalidPageID, t.internalMaxSize)
	sibling.InternalNode = aSibling
	right.SetParent(parentID)
	aParent.SplitInsert(key, right.ID, aSibling, t.compare)
	for _, childID := range aSibling.Children() {
		child, err := t.pool.FetchPage(ctx, childID)
		if err != nil {
			return fmt.Errorf("fetch moved child %d: %w", childID, err)
		}
		child.SetParent(sibling.ID)
		if err := t.pool.UnpinPage(childID, true); err != nil {
			return err
		}
	}

	t.logger.Sugar().With(
		"page_id", int64(parent.ID),
		"sibling_page_id", int64(sibling.ID),
	).Debug("internal split")

	if err := t.insertInParent(ctx, parent, aSibling.Cells[0].Key, sibling); err != nil {
		return err
	}
	if err := t.pool.UnpinPage(sibling.ID, true); err != nil {
		return err
	}
	return t.pool.UnpinPage(parentID, true)
}

// Remove deletes the key if present; removing from an empty tree or a
// missing key is a no-op.
func (t *BTree[K]) Remove(ctx context.Context, key K) error {
	if t.IsEmpty() {
		return nil
	}
	aPage, err := t.findLeafPage(ctx, key)
	if err != nil {
		return err
	}
	return t.deleteEntry(ctx, aPage, key)
}

// deleteEntry removes key from the page and rebalances bottom-up, consuming
// the page's pin on every path.
func (t *BTree[K]) deleteEntry(ctx context.Context, aPage *Page[K], key K) error {
	var deleted bool
	if aPage.IsLeaf() {
		deleted = aPage.LeafNode.Delete(key, t.compare)
	} else {
		deleted = aPage.InternalNode.Delete(key, t.compare)
	}
	if !deleted {
		return t.pool.UnpinPage(aPage.ID, false)
	}

	if aPage.ID == t.rootPageID {
		return t.adjustRootPage(ctx, aPage)
	}
	if aPage.Size() >= aPage.MinSize() {
		return t.pool.UnpinPage(aPage.ID, true)
	}

	parentID := aPage.Parent()
	parent, err := t.pool.FetchPage(ctx, parentID)
	if err != nil {
		t.pool.UnpinPage(aPage.ID, true)
		return fmt.Errorf("fetch parent page %d: %w", parentID, err)
	}
	siblingID, separator, isPredecessor, err := parent.InternalNode.SiblingOf(aPage.ID)
	if err != nil {
		t.pool.UnpinPage(parentID, false)
		t.pool.UnpinPage(aPage.ID, true)
		return err
	}
	sibling, err := t.pool.FetchPage(ctx, siblingID)
	if err != nil {
		t.pool.UnpinPage(parentID, false)
		t.pool.UnpinPage(aPage.ID, true)
		return fmt.Errorf("fetch sibling page %d: %w", siblingID, err)
	}

	if aPage.Size()+sibling.Size() <= aPage.MaxSize() {
		// The left page always absorbs the right one.
		left, right := sibling, aPage
		if !isPredecessor {
			left, right = aPage, sibling
		}
		if err := t.coalesce(ctx, left, right, separator); err != nil {
			t.pool.UnpinPage(parentID, true)
			return err
		}
		return t.deleteEntry(ctx, parent, separator)
	}
	return t.redistribute(ctx, aPage, sibling, parent, separator, isPredecessor)
}

// adjustRootPage applies the root policy after a delete: an emptied leaf
// root unbinds the tree, an internal root with a single child hands the root
// over to that child.
func (t *BTree[K]) adjustRootPage(ctx context.Context, aPage *Page[K]) error {
	if aPage.IsLeaf() && aPage.Size() == 0 {
		t.rootPageID = InvalidPageID
		if err := t.updateRootPageID(ctx, false); err != nil {
			t.pool.UnpinPage(aPage.ID, true)
			return err
		}
		if err := t.pool.UnpinPage(aPage.ID, true); err != nil {
			return err
		}
		t.logger.Sugar().With("page_id", int64(aPage.ID)).Debug("tree emptied")
		return t.pool.DeletePage(aPage.ID)
	}
	if !aPage.IsLeaf() && aPage.Size() == 1 {
		newRootID := aPage.InternalNode.FirstChild()
		t.rootPageID = newRootID
		if err := t.updateRootPageID(ctx, false); err != nil {
			t.pool.UnpinPage(aPage.ID, true)
			return err
		}
		child, err := t.pool.FetchPage(ctx, newRootID)
		if err != nil {
			t.pool.UnpinPage(aPage.ID, true)
			return fmt.Errorf("fetch new root page %d: %w", newRootID, err)
		}
		child.SetParent(InvalidPageID)
		if err := t.pool.UnpinPage(newRootID, true); err != nil {
			return err
		}
		if err := t.pool.UnpinPage(aPage.ID, true); err != nil {
			return err
		}
		t.logger.Sugar().With("root_page_id", int64(newRootID)).Debug("root collapsed")
		return t.pool.DeletePage(aPage.ID)
	}
	return t.pool.UnpinPage(aPage.ID, true)
}

// coalesce absorbs right into left, pulling the separator down for internal
// pages, and frees right's page. The caller removes the separator from the
// parent afterwards.
func (t *BTree[K]) coalesce(ctx context.Context, left, right *Page[K], separator K) error {
	if left.IsLeaf() {
		left.LeafNode.Merge(right.LeafNode)
		left.LeafNode.Header.Next = right.LeafNode.Header.Next
	} else {
		adopted := left.InternalNode.Merge(separator, right.InternalNode)
		for _, childID := range adopted {
			child, err := t.pool.FetchPage(ctx, childID)
			if err != nil {
				return fmt.Errorf("fetch adopted child %d: %w", childID, err)
			}
			child.SetParent(left.ID)
			if err := t.pool.UnpinPage(childID, true); err != nil {
				return err
			}
		}
	}

	t.logger.Sugar().With(
		"left_page_id", int64(left.ID),
		"right_page_id", int64(right.ID),
	).Debug("coalesce")

	if err := t.pool.UnpinPage(left.ID, true); err != nil {
		return err
	}
	if err := t.pool.UnpinPage(right.ID, true); err != nil {
		return err
	}
	return t.pool.DeletePage(right.ID)
}

// redistribute moves exactly one entry across the border between the
// underflowing page and its sibling and rewrites the parent separator.
func (t *BTree[K]) redistribute(ctx context.Context, aPage, sibling, parent *Page[K], separator K, isPredecessor bool) error {
	aParent := parent.InternalNode
	index := aParent.KeyIndex(separator, t.compare)

	if aPage.IsLeaf() {
		aLeaf, aSibling := aPage.LeafNode, sibling.LeafNode
		if isPredecessor {
			last := aSibling.LastCell()
			aSibling.Delete(last.Key, t.compare)
			aLeaf.InsertFirst(last.Key, last.RowID)
			aParent.SetKeyAt(index, last.Key)
		} else {
			first := aSibling.FirstCell()
			aSibling.Delete(first.Key, t.compare)
			aLeaf.InsertLast(first.Key, first.RowID)
			aParent.SetKeyAt(index, aSibling.FirstCell().Key)
		}
	} else {
		aNode, aSibling := aPage.InternalNode, sibling.InternalNode
		var movedChild PageID
		if isPredecessor {
			last := aSibling.LastCell()
			aSibling.Delete(last.Key, t.compare)
			aNode.InsertFirst(separator, last.Child)
			movedChild = last.Child
			aParent.SetKeyAt(index, last.Key)
		} else {
			movedChild = aSibling.FirstChild()
			newSeparator := aSibling.Cells[1].Key
			aSibling.DeleteFirst()
			aNode.Insert(InternalCell[K]{Key: separator, Child: movedChild}, t.compare)
			aParent.SetKeyAt(index, newSeparator)
		}
		child, err := t.pool.FetchPage(ctx, movedChild)
		if err != nil {
			t.pool.UnpinPage(parent.ID, true)
			t.pool.UnpinPage(aPage.ID, true)
			t.pool.UnpinPage(sibling.ID, true)
			return fmt.Errorf("fetch moved child %d: %w", movedChild, err)
		}
		child.SetParent(aPage.ID)
		if err := t.pool.UnpinPage(movedChild, true); err != nil {
			return err
		}
	}

	t.logger.Sugar().With(
		"page_id", int64(aPage.ID),
		"sibling_page_id", int64(sibling.ID),
	).Debug("redistribute")

	if err := t.pool.UnpinPage(parent.ID, true); err != nil {
		return err
	}
	if err := t.pool.UnpinPage(aPage.ID, true); err != nil {
		return err
	}
	return t.pool.UnpinPage(sibling.ID, true)
}

// updateRootPageID persists the current root binding into the header page.
// The first promotion inserts the record, later changes update it in place;
// an insert against a name left over from an emptied tree falls back to an
// update so the record never goes stale.
func (t *BTree[K]) updateRootPageID(ctx context.Context, insertRecord bool) error {
	headerPage, err := t.pool.FetchPage(ctx, HeaderPageID)
	if err != nil {
		return fmt.Errorf("fetch header page: %w", err)
	}
	aHeader := headerPage.HeaderNode
	if insertRecord {
		err = aHeader.InsertRecord(t.name, t.rootPageID)
		if errors.Is(err, ErrDuplicateRecord) {
			err = aHeader.UpdateRecord(t.name, t.rootPageID)
		}
	} else {
		err = aHeader.UpdateRecord(t.name, t.rootPageID)
	}
	if err != nil {
		t.pool.UnpinPage(HeaderPageID, false)
		return err
	}
	return t.pool.UnpinPage(HeaderPageID, true)
}
