package base

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"tabledb/primitives"
)

// Page is one of the four on-disk page kinds of a table file:
// *RootPtrPage, *HeaderPage, *LeafPage or *InternalPage. The set is closed.
//
// FILE LAYOUT:
// ┌─────────────────────────────────────────────────────────────────────┐
// │ Root pointer record (RootPtrSize bytes)                             │
// │ root, first header, root kind, magic, version, page size, checksum  │
// ├─────────────────────────────────────────────────────────────────────┤
// │ Page 1 (page size bytes)                                            │
// ├─────────────────────────────────────────────────────────────────────┤
// │ Page 2                                                              │
// ├─────────────────────────────────────────────────────────────────────┤
// │ ...                                                                 │
// └─────────────────────────────────────────────────────────────────────┘
//
// Page n starts at RootPtrSize + (n-1)*pageSize. A page's kind is not stored
// in the page; it is part of the PageID used to read it.
type Page interface {
	ID() primitives.PageID
	// Bytes serializes the page into a freshly allocated buffer of exactly
	// the page's on-disk size.
	Bytes() []byte
	// Dirty returns the transaction that last dirtied the page.
	Dirty() (primitives.TxnID, bool)
	MarkDirty(txn primitives.TxnID)
	MarkClean()

	isPage()
}

// TreePage is a page that takes part in the tree structure.
type TreePage interface {
	Page
	ParentID() primitives.PageID
	SetParentID(id primitives.PageID) error
	NumEmptySlots() int
	IsSlotUsed(i int) bool
}

var (
	_ TreePage = (*LeafPage)(nil)
	_ TreePage = (*InternalPage)(nil)
	_ Page     = (*HeaderPage)(nil)
	_ Page     = (*RootPtrPage)(nil)
)

type dirtyMark struct {
	txn   primitives.TxnID
	dirty bool
}

func (d *dirtyMark) Dirty() (primitives.TxnID, bool) { return d.txn, d.dirty }

func (d *dirtyMark) MarkDirty(txn primitives.TxnID) { d.txn, d.dirty = txn, true }

func (d *dirtyMark) MarkClean() { d.txn, d.dirty = 0, false }

// Decode dispatches on id.Kind and decodes data into the matching page type.
func Decode(id primitives.PageID, layout *Layout, data []byte) (Page, error) {
	switch id.Kind {
	case primitives.RootPtr:
		return DecodeRootPtrPage(id, layout.PageSize(), data)
	case primitives.Header:
		return DecodeHeaderPage(id, layout.PageSize(), data)
	case primitives.Leaf:
		return DecodeLeafPage(id, layout, data)
	case primitives.Internal:
		return DecodeInternalPage(id, layout, data)
	}
	return nil, errors.Wrapf(ErrKindMismatch, "decode %s", id)
}

func checkDecode(id primitives.PageID, want primitives.Kind, size int, data []byte) error {
	if id.Kind != want {
		return errors.Wrapf(ErrKindMismatch, "decode %s as %s", id, want)
	}
	if len(data) != size {
		return errors.Wrapf(ErrInvalidPageSize, "decode %s: got %d bytes, expected %d", id, len(data), size)
	}
	return nil
}

// parentFromDisk turns a stored parent number into an id. Zero is the root
// pointer.
func parentFromDisk(table primitives.TableID, no primitives.PageNo) primitives.PageID {
	if no == primitives.NoPage {
		return primitives.RootPtrID(table)
	}
	return primitives.PageID{Table: table, No: no, Kind: primitives.Internal}
}

func checkParent(self, parent primitives.PageID) error {
	if parent.Table != self.Table {
		return errors.Wrapf(ErrTableMismatch, "parent %s of %s", parent, self)
	}
	switch parent.Kind {
	case primitives.RootPtr, primitives.Internal:
		return nil
	}
	return errors.Wrapf(ErrKindMismatch, "parent %s of %s", parent, self)
}

func checkLink(self, other primitives.PageID, kind primitives.Kind) error {
	if other.Table != self.Table {
		return errors.Wrapf(ErrTableMismatch, "link %s from %s", other, self)
	}
	if other.Kind != kind || other.No == primitives.NoPage {
		return errors.Wrapf(ErrKindMismatch, "link %s from %s", other, self)
	}
	return nil
}

func linkFromDisk(table primitives.TableID, no primitives.PageNo, kind primitives.Kind) (primitives.PageID, bool) {
	if no == primitives.NoPage {
		return primitives.PageID{}, false
	}
	return primitives.PageID{Table: table, No: no, Kind: kind}, true
}

func getNo(buf []byte) primitives.PageNo {
	return primitives.PageNo(binary.LittleEndian.Uint32(buf))
}

func putNo(buf []byte, no primitives.PageNo) {
	binary.LittleEndian.PutUint32(buf, uint32(no))
}

// bitmap is a little-endian bit set: slot i is bit i%8 of byte i/8.
type bitmap []byte

func bitmapLen(slots int) int { return (slots + 7) / 8 }

func (b bitmap) get(i int) bool { return b[i/8]&(1<<(i%8)) != 0 }

func (b bitmap) set(i int, v bool) {
	if v {
		b[i/8] |= 1 << (i % 8)
	} else {
		b[i/8] &^= 1 << (i % 8)
	}
}

// truncate clears every bit at or above n.
func (b bitmap) truncate(n int) {
	for i := n; i < len(b)*8; i++ {
		b.set(i, false)
	}
}
