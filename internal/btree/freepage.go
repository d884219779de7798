package btree

import (
	"github.com/pkg/errors"

	"tabledb/internal/base"
	"tabledb/primitives"
)

// getEmptyPageNo claims a free page number from the header chain, or
// extends the file when no page is free.
func (f *File) getEmptyPageNo(ws writeSet) (primitives.PageNo, error) {
	rp, err := fetch[*base.RootPtrPage](f, ws, primitives.RootPtrID(f.id), ReadOnly)
	if err != nil {
		return 0, err
	}

	hid, ok := rp.HeaderID()
	for idx := 0; ok; idx++ {
		hp, err := fetch[*base.HeaderPage](f, ws, hid, ReadOnly)
		if err != nil {
			return 0, err
		}
		if slot := hp.EmptySlot(); slot >= 0 {
			if hp, err = fetch[*base.HeaderPage](f, ws, hid, ReadWrite); err != nil {
				return 0, err
			}
			hp.MarkSlotUsed(slot, true)
			return primitives.PageNo(idx*hp.NumSlots() + slot), nil
		}
		hid, ok = hp.Next()
	}

	return f.store.AppendPage()
}

// getEmptyPage allocates a page of the given kind. The page is zeroed on
// disk and any stale cached copy of its number is dropped before it is
// fetched for writing.
func (f *File) getEmptyPage(ws writeSet, kind primitives.Kind) (base.Page, error) {
	no, err := f.getEmptyPageNo(ws)
	if err != nil {
		return nil, err
	}
	if err := f.store.ZeroPage(no); err != nil {
		return nil, err
	}
	f.discardPageNo(ws, no)
	return f.getPage(ws, primitives.PageID{Table: f.id, No: no, Kind: kind}, ReadWrite)
}

// setEmptyPage marks page no as free so a later allocation can reuse it.
// The header chain is created or extended as needed.
func (f *File) setEmptyPage(ws writeSet, no primitives.PageNo) error {
	f.discardPageNo(ws, no)

	rp, err := fetch[*base.RootPtrPage](f, ws, primitives.RootPtrID(f.id), ReadOnly)
	if err != nil {
		return err
	}
	hid, ok := rp.HeaderID()
	if !ok {
		hp, err := f.newHeaderPage(ws)
		if err != nil {
			return err
		}
		// The allocation above may have touched the root pointer.
		if rp, err = fetch[*base.RootPtrPage](f, ws, primitives.RootPtrID(f.id), ReadWrite); err != nil {
			return err
		}
		if err := rp.SetHeaderID(hp.ID()); err != nil {
			return err
		}
		hid = hp.ID()
	}

	slots := f.layout.HeaderSlots()
	target := int(no) / slots
	for idx := 0; idx < target; idx++ {
		hp, err := fetch[*base.HeaderPage](f, ws, hid, ReadOnly)
		if err != nil {
			return err
		}
		next, ok := hp.Next()
		if !ok {
			nhp, err := f.newHeaderPage(ws)
			if err != nil {
				return err
			}
			if hp, err = fetch[*base.HeaderPage](f, ws, hid, ReadWrite); err != nil {
				return err
			}
			if err := hp.SetNext(nhp.ID()); err != nil {
				return err
			}
			if err := nhp.SetPrev(hid); err != nil {
				return err
			}
			next = nhp.ID()
		}
		hid = next
	}

	hp, err := fetch[*base.HeaderPage](f, ws, hid, ReadWrite)
	if err != nil {
		return err
	}
	if slot := int(no) % slots; hp.IsSlotUsed(slot) {
		hp.MarkSlotUsed(slot, false)
	} else {
		return errors.Wrapf(ErrCorruption, "page %d freed twice", no)
	}
	f.log.Info("freed page", "table", f.path, "page", no)
	return nil
}

func (f *File) newHeaderPage(ws writeSet) (*base.HeaderPage, error) {
	p, err := f.getEmptyPage(ws, primitives.Header)
	if err != nil {
		return nil, err
	}
	hp := p.(*base.HeaderPage)
	hp.Init()
	return hp, nil
}
