package base

import (
	"fmt"

	"github.com/pkg/errors"

	"tabledb/primitives"
	"tabledb/tuple"
)

// LeafPage holds tuples in key order. Slots may have holes; the used bitmap
// says which slots hold a tuple, and used slots are sorted by key.
//
// ┌────────────┬──────────┬───────────┬──────────────────────┬────────────────────────────┐
// │ parent u32 │ left u32 │ right u32 │ bitmap ceil(n/8) B   │ n tuple slots              │
// └────────────┴──────────┴───────────┴──────────────────────┴────────────────────────────┘
type LeafPage struct {
	dirtyMark
	id     primitives.PageID
	layout *Layout
	parent primitives.PageNo
	left   primitives.PageNo
	right  primitives.PageNo
	used   bitmap
	tuples []*tuple.Tuple
}

// NewLeafPage returns an empty leaf page.
func NewLeafPage(id primitives.PageID, layout *Layout) *LeafPage {
	return &LeafPage{
		id:     id,
		layout: layout,
		used:   make(bitmap, layout.leafBitmapLen()),
		tuples: make([]*tuple.Tuple, layout.MaxTuples()),
	}
}

func DecodeLeafPage(id primitives.PageID, layout *Layout, data []byte) (*LeafPage, error) {
	if err := checkDecode(id, primitives.Leaf, layout.PageSize(), data); err != nil {
		return nil, err
	}
	p := NewLeafPage(id, layout)
	p.parent = getNo(data[0:])
	p.left = getNo(data[4:])
	p.right = getNo(data[8:])

	off := leafHeaderSize
	copy(p.used, data[off:off+len(p.used)])
	p.used.truncate(len(p.tuples))
	off += len(p.used)

	desc := layout.Desc()
	size := desc.Size()
	for i := range p.tuples {
		if !p.used.get(i) {
			continue
		}
		t, err := tuple.Decode(desc, data[off+i*size:])
		if err != nil {
			return nil, errors.Wrapf(err, "decode %s slot %d", id, i)
		}
		p.setSlot(i, t)
	}
	return p, nil
}

func (p *LeafPage) isPage() {}

func (p *LeafPage) ID() primitives.PageID { return p.id }

func (p *LeafPage) Bytes() []byte {
	buf := make([]byte, p.layout.PageSize())
	putNo(buf[0:], p.parent)
	putNo(buf[4:], p.left)
	putNo(buf[8:], p.right)

	off := leafHeaderSize
	copy(buf[off:], p.used)
	off += len(p.used)

	size := p.layout.Desc().Size()
	for i, t := range p.tuples {
		if !p.used.get(i) {
			continue
		}
		// Fields are checked on insert, so encoding cannot fail here.
		if err := t.Encode(buf[off+i*size:]); err != nil {
			panic(fmt.Sprintf("base: encode %s slot %d: %v", p.id, i, err))
		}
	}
	return buf
}

func (p *LeafPage) ParentID() primitives.PageID { return parentFromDisk(p.id.Table, p.parent) }

func (p *LeafPage) SetParentID(id primitives.PageID) error {
	if err := checkParent(p.id, id); err != nil {
		return err
	}
	p.parent = id.No
	if id.Kind == primitives.RootPtr {
		p.parent = primitives.NoPage
	}
	return nil
}

func (p *LeafPage) LeftSibling() (primitives.PageID, bool) {
	return linkFromDisk(p.id.Table, p.left, primitives.Leaf)
}

func (p *LeafPage) RightSibling() (primitives.PageID, bool) {
	return linkFromDisk(p.id.Table, p.right, primitives.Leaf)
}

func (p *LeafPage) SetLeftSibling(id primitives.PageID) error {
	if err := checkLink(p.id, id, primitives.Leaf); err != nil {
		return err
	}
	p.left = id.No
	return nil
}

func (p *LeafPage) SetRightSibling(id primitives.PageID) error {
	if err := checkLink(p.id, id, primitives.Leaf); err != nil {
		return err
	}
	p.right = id.No
	return nil
}

func (p *LeafPage) ClearLeftSibling() { p.left = primitives.NoPage }

func (p *LeafPage) ClearRightSibling() { p.right = primitives.NoPage }

func (p *LeafPage) MaxTuples() int { return len(p.tuples) }

func (p *LeafPage) IsSlotUsed(i int) bool {
	return i >= 0 && i < len(p.tuples) && p.used.get(i)
}

func (p *LeafPage) NumEmptySlots() int {
	n := 0
	for i := range p.tuples {
		if !p.used.get(i) {
			n++
		}
	}
	return n
}

func (p *LeafPage) NumTuples() int { return len(p.tuples) - p.NumEmptySlots() }

// Tuple returns the tuple in slot i, or nil if the slot is empty.
func (p *LeafPage) Tuple(i int) *tuple.Tuple {
	if !p.IsSlotUsed(i) {
		return nil
	}
	return p.tuples[i]
}

// Tuples returns the stored tuples in key order.
func (p *LeafPage) Tuples() []*tuple.Tuple {
	out := make([]*tuple.Tuple, 0, len(p.tuples))
	for i, t := range p.tuples {
		if p.used.get(i) {
			out = append(out, t)
		}
	}
	return out
}

func (p *LeafPage) FirstTuple() *tuple.Tuple {
	if i := p.NextUsedSlot(-1); i >= 0 {
		return p.tuples[i]
	}
	return nil
}

func (p *LeafPage) LastTuple() *tuple.Tuple {
	if i := p.PrevUsedSlot(len(p.tuples)); i >= 0 {
		return p.tuples[i]
	}
	return nil
}

// NextUsedSlot returns the first used slot after from, or -1.
func (p *LeafPage) NextUsedSlot(from int) int {
	for i := from + 1; i < len(p.tuples); i++ {
		if p.used.get(i) {
			return i
		}
	}
	return -1
}

// PrevUsedSlot returns the last used slot before from, or -1.
func (p *LeafPage) PrevUsedSlot(from int) int {
	for i := min(from, len(p.tuples)) - 1; i >= 0; i-- {
		if p.used.get(i) {
			return i
		}
	}
	return -1
}

// InsertTuple stores t in key order and sets its record id. Records between
// the first free slot and the insertion point shift by one toward the free
// slot.
func (p *LeafPage) InsertTuple(t *tuple.Tuple) error {
	if err := p.checkTuple(t); err != nil {
		return err
	}

	empty := -1
	for i := range p.tuples {
		if !p.used.get(i) {
			empty = i
			break
		}
	}
	if empty < 0 {
		return errors.Wrapf(ErrPageFull, "leaf %s", p.id)
	}

	// Last used slot whose key is <= the new key.
	kf := p.layout.KeyField()
	key := t.Field(kf)
	lessOrEq := -1
	for i, cur := range p.tuples {
		if !p.used.get(i) {
			continue
		}
		if !cur.Field(kf).Compare(tuple.LessThanOrEq, key) {
			break
		}
		lessOrEq = i
	}

	var slot int
	if empty < lessOrEq {
		for i := empty; i < lessOrEq; i++ {
			p.move(i+1, i)
		}
		slot = lessOrEq
	} else {
		for i := empty; i > lessOrEq+1; i-- {
			p.move(i-1, i)
		}
		slot = lessOrEq + 1
	}
	p.setSlot(slot, t)
	return nil
}

// DeleteTuple removes t, which must carry the record id of a used slot of
// this page holding an equal tuple.
func (p *LeafPage) DeleteTuple(t *tuple.Tuple) error {
	rid := t.RecordID()
	if rid == nil {
		return ErrNoRecordID
	}
	if rid.PageID != p.id {
		return errors.Wrapf(ErrWrongPage, "record %s on %s", rid, p.id)
	}
	if !p.IsSlotUsed(rid.Slot) {
		return errors.Wrapf(ErrSlotNotUsed, "record %s", rid)
	}
	stored := p.tuples[rid.Slot]
	if stored != t && !stored.Equal(t) {
		return errors.Wrapf(ErrRecordMismatch, "record %s", rid)
	}
	p.used.set(rid.Slot, false)
	p.tuples[rid.Slot] = nil
	stored.SetRecordID(nil)
	t.SetRecordID(nil)
	return nil
}

func (p *LeafPage) checkTuple(t *tuple.Tuple) error {
	if !t.Desc().Equals(p.layout.Desc()) {
		return errors.Wrapf(ErrSchemaMismatch, "tuple %s on %s", t.Desc(), p.id)
	}
	for i := 0; i < t.Desc().NumFields(); i++ {
		if t.Field(i) == nil {
			return errors.Wrapf(ErrSchemaMismatch, "field %d is unset", i)
		}
	}
	return nil
}

func (p *LeafPage) setSlot(i int, t *tuple.Tuple) {
	p.used.set(i, true)
	p.tuples[i] = t
	t.SetRecordID(&primitives.RecordID{PageID: p.id, Slot: i})
}

func (p *LeafPage) move(from, to int) {
	if !p.used.get(from) {
		return
	}
	p.setSlot(to, p.tuples[from])
	p.used.set(from, false)
	p.tuples[from] = nil
}
