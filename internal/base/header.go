package base

import (
	"math/bits"

	"github.com/pkg/errors"

	"tabledb/primitives"
)

// HeaderPage tracks which pages of the file are in use. Header pages form a
// doubly linked chain; slot s of the h-th header page covers page number
// h*NumSlots()+s. A set bit means the page is in use.
//
// ┌──────────┬──────────┬──────────────────────────────┐
// │ next u32 │ prev u32 │ bitmap (page size - 8 bytes) │
// └──────────┴──────────┴──────────────────────────────┘
type HeaderPage struct {
	dirtyMark
	id   primitives.PageID
	next primitives.PageNo
	prev primitives.PageNo
	bits bitmap
}

// NewHeaderPage returns a zeroed header page. Call Init before linking it
// into the chain.
func NewHeaderPage(id primitives.PageID, pageSize int) *HeaderPage {
	return &HeaderPage{id: id, bits: make(bitmap, pageSize-headerPageOverhead)}
}

func DecodeHeaderPage(id primitives.PageID, pageSize int, data []byte) (*HeaderPage, error) {
	if err := checkDecode(id, primitives.Header, pageSize, data); err != nil {
		return nil, err
	}
	p := NewHeaderPage(id, pageSize)
	p.next = getNo(data[0:])
	p.prev = getNo(data[4:])
	copy(p.bits, data[headerPageOverhead:])
	return p, nil
}

func (p *HeaderPage) isPage() {}

func (p *HeaderPage) ID() primitives.PageID { return p.id }

func (p *HeaderPage) Bytes() []byte {
	buf := make([]byte, headerPageOverhead+len(p.bits))
	putNo(buf[0:], p.next)
	putNo(buf[4:], p.prev)
	copy(buf[headerPageOverhead:], p.bits)
	return buf
}

// Init marks every slot as in use. Slots are cleared only when the page they
// track is freed.
func (p *HeaderPage) Init() {
	for i := range p.bits {
		p.bits[i] = 0xFF
	}
}

func (p *HeaderPage) NumSlots() int { return len(p.bits) * 8 }

func (p *HeaderPage) IsSlotUsed(i int) bool { return p.bits.get(i) }

func (p *HeaderPage) MarkSlotUsed(i int, used bool) { p.bits.set(i, used) }

// EmptySlot returns the first free slot, or -1.
func (p *HeaderPage) EmptySlot() int {
	for i, b := range p.bits {
		if b != 0xFF {
			return i*8 + bits.TrailingZeros8(^b)
		}
	}
	return -1
}

// NumEmptySlots counts the free slots.
func (p *HeaderPage) NumEmptySlots() int {
	n := 0
	for _, b := range p.bits {
		n += 8 - bits.OnesCount8(b)
	}
	return n
}

func (p *HeaderPage) Next() (primitives.PageID, bool) {
	return linkFromDisk(p.id.Table, p.next, primitives.Header)
}

func (p *HeaderPage) Prev() (primitives.PageID, bool) {
	return linkFromDisk(p.id.Table, p.prev, primitives.Header)
}

func (p *HeaderPage) SetNext(id primitives.PageID) error {
	if err := checkLink(p.id, id, primitives.Header); err != nil {
		return errors.WithMessage(err, "header next")
	}
	p.next = id.No
	return nil
}

func (p *HeaderPage) SetPrev(id primitives.PageID) error {
	if err := checkLink(p.id, id, primitives.Header); err != nil {
		return errors.WithMessage(err, "header prev")
	}
	p.prev = id.No
	return nil
}
