package tinybase

import (
	"bytes"
	"fmt"
)

const (
	headerRecordNameSize = 64
	headerRecordSize     = headerRecordNameSize + 8
)

func headerNodeSize() uint64 {
	return 1 + 4 + 4 + 8 + 4
}

func maxHeaderRecords() int {
	return int((PageSize - headerNodeSize()) / headerRecordSize)
}

// IndexRecord binds an index name to its root page id.
type IndexRecord struct {
	Name string
	Root PageID
}

// HeaderNode is the content of the well-known header page (id 0): file
// identification, the head of the free-page chain and the index records.
type HeaderNode struct {
	Magic         uint32
	PageSize      uint32
	FirstFreePage PageID
	Records       []IndexRecord
}

func NewHeaderNode() *HeaderNode {
	return &HeaderNode{
		Magic:         headerMagic,
		PageSize:      PageSize,
		FirstFreePage: InvalidPageID,
	}
}

// GetRecord returns the root bound to name.
func (h *HeaderNode) GetRecord(name string) (PageID, bool) {
	for _, aRecord := range h.Records {
		if aRecord.Name == name {
			return aRecord.Root, true
		}
	}
	return InvalidPageID, false
}

// InsertRecord appends a new binding. The name must not be registered yet.
func (h *HeaderNode) InsertRecord(name string, root PageID) error {
	if len(name) > headerRecordNameSize {
		return fmt.Errorf("index name %q longer than %d bytes", name, headerRecordNameSize)
	}
	if _, ok := h.GetRecord(name); ok {
		return fmt.Errorf("%w: %q", ErrDuplicateRecord, name)
	}
	if len(h.Records) == maxHeaderRecords() {
		return ErrHeaderPageFull
	}
	h.Records = append(h.Records, IndexRecord{Name: name, Root: root})
	return nil
}

// UpdateRecord overwrites the root bound to an existing name.
func (h *HeaderNode) UpdateRecord(name string, root PageID) error {
	for i := range h.Records {
		if h.Records[i].Name == name {
			h.Records[i].Root = root
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrRecordNotFound, name)
}

func (h *HeaderNode) Marshal(buf []byte) {
	i := uint64(0)
	buf[i] = pageTypeHeader
	i += 1
	marshalUint32(buf, h.Magic, i)
	i += 4
	marshalUint32(buf, h.PageSize, i)
	i += 4
	marshalPageID(buf, h.FirstFreePage, i)
	i += 8
	marshalUint32(buf, uint32(len(h.Records)), i)
	i += 4

	for _, aRecord := range h.Records {
		name := make([]byte, headerRecordNameSize)
		copy(name, aRecord.Name)
		copy(buf[i:], name)
		marshalPageID(buf, aRecord.Root, i+headerRecordNameSize)
		i += headerRecordSize
	}
}

func (h *HeaderNode) Unmarshal(buf []byte) error {
	if buf[0] != pageTypeHeader {
		return fmt.Errorf("%w: unexpected page type byte %d for header", ErrInvalidPageData, buf[0])
	}
	i := uint64(1)
	h.Magic = unmarshalUint32(buf, i)
	i += 4
	h.PageSize = unmarshalUint32(buf, i)
	i += 4
	h.FirstFreePage = unmarshalPageID(buf, i)
	i += 8
	records := unmarshalUint32(buf, i)
	i += 4

	if h.Magic != headerMagic {
		return fmt.Errorf("%w: 0x%x", ErrInvalidMagic, h.Magic)
	}
	if int(records) > maxHeaderRecords() {
		return fmt.Errorf("%w: header page claims %d records", ErrInvalidPageData, records)
	}
	h.Records = make([]IndexRecord, 0, records)
	for idx := 0; idx < int(records); idx++ {
		name := string(bytes.TrimRight(buf[i:i+headerRecordNameSize], "\x00"))
		root := unmarshalPageID(buf, i+headerRecordNameSize)
		h.Records = append(h.Records, IndexRecord{Name: name, Root: root})
		i += headerRecordSize
	}
	return nil
}
