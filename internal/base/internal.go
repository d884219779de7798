package base

import (
	"fmt"

	"github.com/pkg/errors"

	"tabledb/primitives"
	"tabledb/tuple"
)

// Entry is a snapshot of one separator key with its two children. Slot is
// the key slot it was read from; mutations name the slot explicitly through
// InsertEntry, UpdateEntry and the Delete methods.
type Entry struct {
	Key   tuple.Field
	Left  primitives.PageID
	Right primitives.PageID
	Slot  int
}

func (e Entry) String() string {
	return fmt.Sprintf("(%s | %s | %s)", e.Left, e.Key, e.Right)
}

// InternalPage routes searches by separator keys. Slot 0 holds only a child
// pointer; key slot i pairs with child i as its right child and with the
// child of the previous used slot as its left child.
//
// ┌────────────┬──────────┬────────────────────┬────────────────────┬──────────────────────┐
// │ parent u32 │ kind u8  │ bitmap ceil(m+1/8) │ keys for slots 1..m│ children slots 0..m  │
// └────────────┴──────────┴────────────────────┴────────────────────┴──────────────────────┘
type InternalPage struct {
	dirtyMark
	id        primitives.PageID
	layout    *Layout
	parent    primitives.PageNo
	childKind primitives.Kind
	used      bitmap
	keys      []tuple.Field
	children  []primitives.PageNo
}

// NewInternalPage returns an empty internal page.
func NewInternalPage(id primitives.PageID, layout *Layout) *InternalPage {
	slots := layout.MaxEntries() + 1
	return &InternalPage{
		id:       id,
		layout:   layout,
		used:     make(bitmap, layout.internalBitmapLen()),
		keys:     make([]tuple.Field, slots),
		children: make([]primitives.PageNo, slots),
	}
}

func DecodeInternalPage(id primitives.PageID, layout *Layout, data []byte) (*InternalPage, error) {
	if err := checkDecode(id, primitives.Internal, layout.PageSize(), data); err != nil {
		return nil, err
	}
	p := NewInternalPage(id, layout)
	p.parent = getNo(data[0:])
	p.childKind = primitives.Kind(data[4])
	switch p.childKind {
	case primitives.RootPtr, primitives.Internal, primitives.Leaf:
	default:
		return nil, errors.Wrapf(ErrKindMismatch, "decode %s: child kind %s", id, p.childKind)
	}

	off := internalHeaderSize
	copy(p.used, data[off:off+len(p.used)])
	p.used.truncate(len(p.children))
	off += len(p.used)

	keyType := layout.KeyType()
	keySize := keyType.Len()
	for i := 1; i < len(p.keys); i++ {
		if !p.used.get(i) {
			continue
		}
		f, err := tuple.DecodeField(keyType, data[off+(i-1)*keySize:])
		if err != nil {
			return nil, errors.Wrapf(err, "decode %s key %d", id, i)
		}
		p.keys[i] = f
	}
	off += (len(p.keys) - 1) * keySize

	for i := range p.children {
		p.children[i] = getNo(data[off+i*pointerSize:])
	}
	return p, nil
}

func (p *InternalPage) isPage() {}

func (p *InternalPage) ID() primitives.PageID { return p.id }

func (p *InternalPage) Bytes() []byte {
	buf := make([]byte, p.layout.PageSize())
	putNo(buf[0:], p.parent)
	buf[4] = byte(p.childKind)

	off := internalHeaderSize
	copy(buf[off:], p.used)
	off += len(p.used)

	keySize := p.layout.KeyType().Len()
	for i := 1; i < len(p.keys); i++ {
		if p.used.get(i) {
			p.keys[i].Encode(buf[off+(i-1)*keySize:])
		}
	}
	off += (len(p.keys) - 1) * keySize

	for i, c := range p.children {
		putNo(buf[off+i*pointerSize:], c)
	}
	return buf
}

func (p *InternalPage) ParentID() primitives.PageID { return parentFromDisk(p.id.Table, p.parent) }

func (p *InternalPage) SetParentID(id primitives.PageID) error {
	if err := checkParent(p.id, id); err != nil {
		return err
	}
	p.parent = id.No
	if id.Kind == primitives.RootPtr {
		p.parent = primitives.NoPage
	}
	return nil
}

// ChildKind is the kind of every child, or RootPtr while the page has none.
func (p *InternalPage) ChildKind() primitives.Kind { return p.childKind }

func (p *InternalPage) MaxEntries() int { return len(p.keys) - 1 }

func (p *InternalPage) IsSlotUsed(i int) bool {
	return i >= 0 && i < len(p.children) && p.used.get(i)
}

// NumEmptySlots counts free key slots; slot 0 is not a key slot.
func (p *InternalPage) NumEmptySlots() int {
	n := 0
	for i := 1; i < len(p.keys); i++ {
		if !p.used.get(i) {
			n++
		}
	}
	return n
}

func (p *InternalPage) NumEntries() int { return p.MaxEntries() - p.NumEmptySlots() }

func (p *InternalPage) childID(i int) primitives.PageID {
	return primitives.PageID{Table: p.id.Table, No: p.children[i], Kind: p.childKind}
}

// Entries returns the entries in key order.
func (p *InternalPage) Entries() []Entry {
	var out []Entry
	prev := -1
	for i := range p.children {
		if !p.used.get(i) {
			continue
		}
		if prev >= 0 {
			out = append(out, Entry{Key: p.keys[i], Left: p.childID(prev), Right: p.childID(i), Slot: i})
		}
		prev = i
	}
	return out
}

func (p *InternalPage) FirstEntry() (Entry, bool) {
	entries := p.Entries()
	if len(entries) == 0 {
		return Entry{}, false
	}
	return entries[0], true
}

func (p *InternalPage) LastEntry() (Entry, bool) {
	entries := p.Entries()
	if len(entries) == 0 {
		return Entry{}, false
	}
	return entries[len(entries)-1], true
}

// FirstChild returns the left-most child. A page whose last key was removed
// still has one child.
func (p *InternalPage) FirstChild() (primitives.PageID, bool) {
	for i := range p.children {
		if p.used.get(i) {
			return p.childID(i), true
		}
	}
	return primitives.PageID{}, false
}

func (p *InternalPage) LastChild() (primitives.PageID, bool) {
	for i := len(p.children) - 1; i >= 0; i-- {
		if p.used.get(i) {
			return p.childID(i), true
		}
	}
	return primitives.PageID{}, false
}

// Children returns every child id in key order.
func (p *InternalPage) Children() []primitives.PageID {
	var out []primitives.PageID
	for i := range p.children {
		if p.used.get(i) {
			out = append(out, p.childID(i))
		}
	}
	return out
}

// InsertEntry adds e. One of e's children must already be a child of the
// page, unless the page is empty. The returned entry carries the slot used.
func (p *InternalPage) InsertEntry(e Entry) (Entry, error) {
	if err := p.checkEntry(e); err != nil {
		return e, err
	}

	if p.NumEntries() == 0 {
		clear(p.used)
		clear(p.keys)
		p.childKind = e.Left.Kind
		p.children[0] = e.Left.No
		p.used.set(0, true)
		p.setSlot(1, e.Key, e.Right.No)
		e.Slot = 1
		return e, nil
	}

	empty := -1
	for i := 1; i < len(p.keys); i++ {
		if !p.used.get(i) {
			empty = i
			break
		}
	}
	if empty < 0 {
		return e, errors.Wrapf(ErrPageFull, "internal %s", p.id)
	}

	lessOrEq := -1
	for i := range p.children {
		if !p.used.get(i) {
			continue
		}
		if p.children[i] == e.Left.No || p.children[i] == e.Right.No {
			if i > 0 && p.keys[i].Compare(tuple.GreaterThan, e.Key) {
				return e, errors.Wrapf(ErrKeyOrder, "insert %s after key %s on %s", e.Key, p.keys[i], p.id)
			}
			lessOrEq = i
			if p.children[i] == e.Right.No {
				p.children[i] = e.Left.No
			}
		} else if lessOrEq != -1 {
			if p.keys[i].Compare(tuple.LessThan, e.Key) {
				return e, errors.Wrapf(ErrKeyOrder, "insert %s before key %s on %s", e.Key, p.keys[i], p.id)
			}
			break
		}
	}
	if lessOrEq == -1 {
		return e, errors.Wrapf(ErrInvalidEntry, "insert %s on %s", e, p.id)
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
	p.setSlot(slot, e.Key, e.Right.No)
	e.Slot = slot
	return e, nil
}

// DeleteKeyAndRightChild removes e's key and its right child.
func (p *InternalPage) DeleteKeyAndRightChild(e Entry) error {
	return p.deleteEntry(e, true)
}

// DeleteKeyAndLeftChild removes e's key and its left child; e's right child
// takes the left child's place.
func (p *InternalPage) DeleteKeyAndLeftChild(e Entry) error {
	return p.deleteEntry(e, false)
}

func (p *InternalPage) deleteEntry(e Entry, deleteRight bool) error {
	if e.Slot < 1 || !p.IsSlotUsed(e.Slot) {
		return errors.Wrapf(ErrSlotNotUsed, "delete %s on %s", e, p.id)
	}
	if p.children[e.Slot] != e.Right.No {
		return errors.Wrapf(ErrInvalidEntry, "delete stale %s on %s", e, p.id)
	}
	if !deleteRight {
		if prev := p.prevUsed(e.Slot); prev >= 0 {
			p.children[prev] = p.children[e.Slot]
		}
	}
	p.used.set(e.Slot, false)
	p.keys[e.Slot] = nil
	return nil
}

// UpdateEntry rewrites the key and both children of the entry at e.Slot.
func (p *InternalPage) UpdateEntry(e Entry) error {
	if e.Slot < 1 || !p.IsSlotUsed(e.Slot) {
		return errors.Wrapf(ErrSlotNotUsed, "update %s on %s", e, p.id)
	}
	if err := p.checkEntry(e); err != nil {
		return err
	}
	prev := p.prevUsed(e.Slot)
	if prev < 0 {
		return errors.Wrapf(ErrInvalidEntry, "update %s on %s: no left child", e, p.id)
	}
	if prev > 0 && p.keys[prev].Compare(tuple.GreaterThan, e.Key) {
		return errors.Wrapf(ErrKeyOrder, "update %s after key %s on %s", e.Key, p.keys[prev], p.id)
	}
	for i := e.Slot + 1; i < len(p.keys); i++ {
		if p.used.get(i) {
			if p.keys[i].Compare(tuple.LessThan, e.Key) {
				return errors.Wrapf(ErrKeyOrder, "update %s before key %s on %s", e.Key, p.keys[i], p.id)
			}
			break
		}
	}
	p.children[prev] = e.Left.No
	p.setSlot(e.Slot, e.Key, e.Right.No)
	return nil
}

func (p *InternalPage) checkEntry(e Entry) error {
	if e.Key == nil || e.Key.Type() != p.layout.KeyType() {
		return errors.Wrapf(ErrSchemaMismatch, "entry key on %s", p.id)
	}
	if e.Left.Table != p.id.Table || e.Right.Table != p.id.Table {
		return errors.Wrapf(ErrTableMismatch, "entry %s on %s", e, p.id)
	}
	if e.Left.Kind != e.Right.Kind || (e.Left.Kind != primitives.Leaf && e.Left.Kind != primitives.Internal) {
		return errors.Wrapf(ErrKindMismatch, "entry %s on %s", e, p.id)
	}
	if p.NumEntries() > 0 && p.childKind != e.Left.Kind {
		return errors.Wrapf(ErrKindMismatch, "entry %s on %s with %s children", e, p.id, p.childKind)
	}
	if e.Left.No == primitives.NoPage || e.Right.No == primitives.NoPage {
		return errors.Wrapf(ErrInvalidEntry, "entry %s on %s", e, p.id)
	}
	return nil
}

func (p *InternalPage) prevUsed(slot int) int {
	for i := slot - 1; i >= 0; i-- {
		if p.used.get(i) {
			return i
		}
	}
	return -1
}

func (p *InternalPage) setSlot(i int, key tuple.Field, child primitives.PageNo) {
	p.used.set(i, true)
	p.keys[i] = key
	p.children[i] = child
}

func (p *InternalPage) move(from, to int) {
	if !p.used.get(from) {
		return
	}
	p.setSlot(to, p.keys[from], p.children[from])
	p.used.set(from, false)
	p.keys[from] = nil
}
