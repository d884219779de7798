package base

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"

	"tabledb/primitives"
)

const (
	// MagicNumber identifies a table file ("tbld" in hex).
	MagicNumber uint32 = 0x74626C64

	FormatVersion uint16 = 1

	rootPtrChecksumOffset = 24
)

// RootPtrPage is the fixed record at the start of a table file. It names the
// current root page and the first header page of the free-page chain.
//
// ┌──────────┬──────────┬──────┬──────────┬───────┬─────────┬──────────┬───────────┬──────────┐
// │ root u32 │ hdr u32  │ kind │ reserved │ magic │ version │ reserved │ page size │ checksum │
// │ 0        │ 4        │ 8    │ 9..11    │ 12    │ 16      │ 18       │ 20        │ 24..31   │
// └──────────┴──────────┴──────┴──────────┴───────┴─────────┴──────────┴───────────┴──────────┘
type RootPtrPage struct {
	dirtyMark
	id       primitives.PageID
	pageSize int
	root     primitives.PageNo
	rootKind primitives.Kind
	header   primitives.PageNo
}

// NewRootPtrPage returns a root pointer for table with no root and no
// header chain.
func NewRootPtrPage(table primitives.TableID, pageSize int) *RootPtrPage {
	return &RootPtrPage{id: primitives.RootPtrID(table), pageSize: pageSize}
}

// DecodeRootPtrPage decodes and validates a root pointer record.
func DecodeRootPtrPage(id primitives.PageID, pageSize int, data []byte) (*RootPtrPage, error) {
	if err := checkDecode(id, primitives.RootPtr, RootPtrSize, data); err != nil {
		return nil, err
	}
	if magic := binary.LittleEndian.Uint32(data[12:]); magic != MagicNumber {
		return nil, errors.Wrapf(ErrInvalidMagicNumber, "got %#x", magic)
	}
	if v := binary.LittleEndian.Uint16(data[16:]); v != FormatVersion {
		return nil, errors.Wrapf(ErrInvalidVersion, "got %d, expected %d", v, FormatVersion)
	}
	if ps := int(binary.LittleEndian.Uint32(data[20:])); ps != pageSize {
		return nil, errors.Wrapf(ErrInvalidPageSize, "file uses %d byte pages, opened with %d", ps, pageSize)
	}
	sum := binary.LittleEndian.Uint64(data[rootPtrChecksumOffset:])
	if sum != xxhash.Sum64(data[:rootPtrChecksumOffset]) {
		return nil, ErrInvalidChecksum
	}

	p := &RootPtrPage{
		id:       id,
		pageSize: pageSize,
		root:     getNo(data[0:]),
		header:   getNo(data[4:]),
		rootKind: primitives.Kind(data[8]),
	}
	if p.root != primitives.NoPage && p.rootKind != primitives.Leaf && p.rootKind != primitives.Internal {
		return nil, errors.Wrapf(ErrKindMismatch, "root kind %s", p.rootKind)
	}
	return p, nil
}

func (p *RootPtrPage) isPage() {}

func (p *RootPtrPage) ID() primitives.PageID { return p.id }

func (p *RootPtrPage) Bytes() []byte {
	buf := make([]byte, RootPtrSize)
	putNo(buf[0:], p.root)
	putNo(buf[4:], p.header)
	buf[8] = byte(p.rootKind)
	binary.LittleEndian.PutUint32(buf[12:], MagicNumber)
	binary.LittleEndian.PutUint16(buf[16:], FormatVersion)
	binary.LittleEndian.PutUint32(buf[20:], uint32(p.pageSize))
	binary.LittleEndian.PutUint64(buf[rootPtrChecksumOffset:], xxhash.Sum64(buf[:rootPtrChecksumOffset]))
	return buf
}

// Root returns the root page id, if the tree has one.
func (p *RootPtrPage) Root() (primitives.PageID, bool) {
	return linkFromDisk(p.id.Table, p.root, p.rootKind)
}

// SetRoot points the tree at a leaf or internal page of the same table.
func (p *RootPtrPage) SetRoot(id primitives.PageID) error {
	if id.Kind != primitives.Leaf && id.Kind != primitives.Internal {
		return errors.Wrapf(ErrKindMismatch, "root %s", id)
	}
	if err := checkLink(p.id, id, id.Kind); err != nil {
		return err
	}
	p.root, p.rootKind = id.No, id.Kind
	return nil
}

// HeaderID returns the first page of the header chain, if any.
func (p *RootPtrPage) HeaderID() (primitives.PageID, bool) {
	return linkFromDisk(p.id.Table, p.header, primitives.Header)
}

func (p *RootPtrPage) SetHeaderID(id primitives.PageID) error {
	if err := checkLink(p.id, id, primitives.Header); err != nil {
		return err
	}
	p.header = id.No
	return nil
}

func (p *RootPtrPage) ClearHeaderID() { p.header = primitives.NoPage }
