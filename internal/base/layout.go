package base

import (
	"github.com/pkg/errors"

	"tabledb/tuple"
)

const (
	DefaultPageSize = 4096
	MaxPageSize     = 1 << 20

	// RootPtrSize is the size of the root pointer record at file offset 0.
	RootPtrSize = 32

	pointerSize = 4

	leafHeaderSize     = 3 * pointerSize // parent, left, right
	internalHeaderSize = pointerSize + 1 // parent, child kind
	headerPageOverhead = 2 * pointerSize // next, prev
)

// Layout holds the per-table slot geometry derived from the page size and
// the tuple schema.
type Layout struct {
	pageSize    int
	desc        *tuple.TupleDesc
	keyField    int
	maxTuples   int
	maxEntries  int
	headerSlots int
}

// NewLayout computes the geometry for a table. It fails when a page cannot
// hold enough tuples or entries to form a tree.
func NewLayout(pageSize int, desc *tuple.TupleDesc, keyField int) (*Layout, error) {
	if desc == nil {
		return nil, errors.New("nil tuple desc")
	}
	if keyField < 0 || keyField >= desc.NumFields() {
		return nil, errors.Errorf("key field %d out of range for %d fields", keyField, desc.NumFields())
	}
	if pageSize <= headerPageOverhead || pageSize > MaxPageSize {
		return nil, errors.Wrapf(ErrInvalidPageSize, "page size %d", pageSize)
	}

	l := &Layout{
		pageSize: pageSize,
		desc:     desc,
		keyField: keyField,
	}
	keySize := desc.FieldType(keyField).Len()
	l.maxTuples = (pageSize - leafHeaderSize) * 8 / (desc.Size()*8 + 1)
	l.maxEntries = ((pageSize-internalHeaderSize-pointerSize)*8 - 1) / ((keySize+pointerSize)*8 + 1)
	l.headerSlots = (pageSize - headerPageOverhead) * 8

	if l.maxTuples < 2 {
		return nil, errors.Wrapf(ErrInvalidPageSize, "page size %d holds %d tuples of %d bytes", pageSize, l.maxTuples, desc.Size())
	}
	if l.maxEntries < 3 {
		return nil, errors.Wrapf(ErrInvalidPageSize, "page size %d holds %d entries", pageSize, l.maxEntries)
	}
	return l, nil
}

func (l *Layout) PageSize() int { return l.pageSize }

func (l *Layout) Desc() *tuple.TupleDesc { return l.desc }

func (l *Layout) KeyField() int { return l.keyField }

func (l *Layout) KeyType() tuple.Type { return l.desc.FieldType(l.keyField) }

// MaxTuples is the number of tuple slots in a leaf page.
func (l *Layout) MaxTuples() int { return l.maxTuples }

// MaxEntries is the number of key slots in an internal page. The page has
// one more child slot than key slots.
func (l *Layout) MaxEntries() int { return l.maxEntries }

// HeaderSlots is the number of pages tracked by one header page.
func (l *Layout) HeaderSlots() int { return l.headerSlots }

func (l *Layout) leafBitmapLen() int { return bitmapLen(l.maxTuples) }

func (l *Layout) internalBitmapLen() int { return bitmapLen(l.maxEntries + 1) }
