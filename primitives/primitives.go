package primitives

import (
	"fmt"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
)

// TableID identifies one table file. It is derived from the file's absolute
// path so the same file always maps to the same id.
type TableID uint64

// TableIDFromPath hashes path into a TableID.
func TableIDFromPath(path string) TableID {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return TableID(xxhash.Sum64String(path))
}

// PageNo is a page number inside a table file. Page 0 is reserved for the
// root pointer record, so 0 doubles as "none" in sibling and header links.
type PageNo uint32

// NoPage marks an absent page link.
const NoPage PageNo = 0

// TxnID tags the transaction that dirtied a page. Zero means no transaction.
type TxnID uint64

// Kind is the category of a page. RootPtr is zero so an unset byte on disk
// decodes as "no kind".
type Kind uint8

const (
	RootPtr Kind = iota
	Internal
	Leaf
	Header
)

func (k Kind) String() string {
	switch k {
	case RootPtr:
		return "root_ptr"
	case Internal:
		return "internal"
	case Leaf:
		return "leaf"
	case Header:
		return "header"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Valid reports whether k is one of the four page kinds.
func (k Kind) Valid() bool {
	return k <= Header
}

// PageID addresses a page. Two ids are equal only if table, number and kind
// all match.
type PageID struct {
	Table TableID
	No    PageNo
	Kind  Kind
}

// RootPtrID returns the id of the root pointer record of table.
func RootPtrID(table TableID) PageID {
	return PageID{Table: table, No: 0, Kind: RootPtr}
}

func (p PageID) String() string {
	return fmt.Sprintf("%s:%d@%x", p.Kind, p.No, uint64(p.Table))
}

// RecordID locates a tuple inside a leaf page.
type RecordID struct {
	PageID PageID
	Slot   int
}

func (r RecordID) String() string {
	return fmt.Sprintf("%s#%d", r.PageID, r.Slot)
}
