package tinybase

import "fmt"

type LeafNodeHeader struct {
	Size    uint32
	MaxSize uint32
	PageID  PageID
	Parent  PageID
	Next    PageID
}

func leafNodeHeaderSize() uint64 {
	return 1 + 4 + 4 + 8 + 8 + 8
}

// LeafCell is a single key/value slot of a leaf page.
type LeafCell[K IndexKey] struct {
	Key   K
	RowID RowID
}

func leafCellSize[K IndexKey]() uint64 {
	return keySize[K]() + 8
}

// LeafNode is the slotted layout of a leaf page: cells [0, Size) sorted by
// key, Next linking to the right sibling.
type LeafNode[K IndexKey] struct {
	Header LeafNodeHeader
	Cells  []LeafCell[K]
}

func NewLeafNode[K IndexKey](pageID, parent PageID, maxSize uint32) *LeafNode[K] {
	return &LeafNode[K]{
		Header: LeafNodeHeader{
			MaxSize: maxSize,
			PageID:  pageID,
			Parent:  parent,
			Next:    InvalidPageID,
		},
		// One spare slot: a coalesced leaf may sit at exactly MaxSize, so
		// the next insert overflows before the split runs.
		Cells: make([]LeafCell[K], maxSize+1),
	}
}

// KeyIndex returns the first slot whose key is >= key, Size if there is none.
func (n *LeafNode[K]) KeyIndex(key K, compare Comparator[K]) int {
	l, r := 0, int(n.Header.Size)
	for l < r {
		mid := (l + r) / 2
		if compare(n.Cells[mid].Key, key) < 0 {
			l = mid + 1
		} else {
			r = mid
		}
	}
	return l
}

// Insert places the cell at slot index, shifting the tail right. It fails if
// the slot already holds the same key. The caller locates index via KeyIndex.
func (n *LeafNode[K]) Insert(aCell LeafCell[K], index int, compare Comparator[K]) bool {
	if index < int(n.Header.Size) && compare(n.Cells[index].Key, aCell.Key) == 0 {
		return false
	}
	for i := int(n.Header.Size) - 1; i >= index; i-- {
		n.Cells[i+1] = n.Cells[i]
	}
	n.Cells[index] = aCell
	n.Header.Size += 1
	return true
}

// Delete removes the cell holding key, shifting the tail left. It returns
// false if the key is not present.
func (n *LeafNode[K]) Delete(key K, compare Comparator[K]) bool {
	index := n.KeyIndex(key, compare)
	if index >= int(n.Header.Size) || compare(n.Cells[index].Key, key) != 0 {
		return false
	}
	for i := index + 1; i < int(n.Header.Size); i++ {
		n.Cells[i-1] = n.Cells[i]
	}
	n.Header.Size -= 1
	return true
}

// Split moves the upper half of the cells into right and stitches right into
// the leaf chain. The caller promotes right's first key to the parent.
func (n *LeafNode[K]) Split(right *LeafNode[K]) {
	mid := int(n.Header.Size) / 2
	moved := copy(right.Cells, n.Cells[mid:n.Header.Size])
	right.Header.Size = uint32(moved)
	n.Header.Size = uint32(mid)
	right.Header.Next = n.Header.Next
	n.Header.Next = right.Header.PageID
}

// Merge appends all of right's cells after the existing ones and empties
// right. The caller fixes the leaf chain and deletes right's page.
func (n *LeafNode[K]) Merge(right *LeafNode[K]) {
	for i := 0; i < int(right.Header.Size); i++ {
		n.Cells[n.Header.Size] = right.Cells[i]
		n.Header.Size += 1
	}
	right.Header.Size = 0
}

// InsertFirst prepends a cell without comparator checks, for redistribution.
func (n *LeafNode[K]) InsertFirst(key K, rowID RowID) {
	for i := int(n.Header.Size); i > 0; i-- {
		n.Cells[i] = n.Cells[i-1]
	}
	n.Cells[0] = LeafCell[K]{Key: key, RowID: rowID}
	n.Header.Size += 1
}

// InsertLast appends a cell without comparator checks, for redistribution.
func (n *LeafNode[K]) InsertLast(key K, rowID RowID) {
	n.Cells[n.Header.Size] = LeafCell[K]{Key: key, RowID: rowID}
	n.Header.Size += 1
}

func (n *LeafNode[K]) FirstCell() LeafCell[K] {
	return n.Cells[0]
}

func (n *LeafNode[K]) LastCell() LeafCell[K] {
	return n.Cells[n.Header.Size-1]
}

func (n *LeafNode[K]) Keys() []K {
	keys := make([]K, 0, n.Header.Size)
	for i := 0; i < int(n.Header.Size); i++ {
		keys = append(keys, n.Cells[i].Key)
	}
	return keys
}

func (n *LeafNode[K]) Marshal(buf []byte) {
	i := uint64(0)
	buf[i] = pageTypeLeaf
	i += 1
	marshalUint32(buf, n.Header.Size, i)
	i += 4
	marshalUint32(buf, n.Header.MaxSize, i)
	i += 4
	marshalPageID(buf, n.Header.PageID, i)
	i += 8
	marshalPageID(buf, n.Header.Parent, i)
	i += 8
	marshalPageID(buf, n.Header.Next, i)
	i += 8

	stride := leafCellSize[K]()
	for idx := 0; idx < int(n.Header.Size); idx++ {
		marshalKey(buf, n.Cells[idx].Key, i)
		marshalUint64(buf, uint64(n.Cells[idx].RowID), i+keySize[K]())
		i += stride
	}
}

func (n *LeafNode[K]) Unmarshal(buf []byte) error {
	if buf[0] != pageTypeLeaf {
		return fmt.Errorf("%w: unexpected page type byte %d for leaf", ErrInvalidPageData, buf[0])
	}
	i := uint64(1)
	n.Header.Size = unmarshalUint32(buf, i)
	i += 4
	n.Header.MaxSize = unmarshalUint32(buf, i)
	i += 4
	n.Header.PageID = unmarshalPageID(buf, i)
	i += 8
	n.Header.Parent = unmarshalPageID(buf, i)
	i += 8
	n.Header.Next = unmarshalPageID(buf, i)
	i += 8

	if n.Header.Size > n.Header.MaxSize {
		return fmt.Errorf("%w: leaf size %d exceeds max size %d", ErrInvalidPageData, n.Header.Size, n.Header.MaxSize)
	}
	n.Cells = make([]LeafCell[K], n.Header.MaxSize+1)
	stride := leafCellSize[K]()
	for idx := 0; idx < int(n.Header.Size); idx++ {
		n.Cells[idx].Key = unmarshalKey[K](buf, i)
		n.Cells[idx].RowID = RowID(unmarshalUint64(buf, i+keySize[K]()))
		i += stride
	}
	return nil
}
