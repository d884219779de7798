package btree

import (
	"github.com/pkg/errors"

	"tabledb/internal/base"
	"tabledb/primitives"
	"tabledb/tuple"
)

// InsertTuple adds t to the tree, splitting pages on the way as needed, and
// returns every page it modified. On error the tree may be left partially
// modified; the error aborts the operation.
func (f *File) InsertTuple(_ primitives.TxnID, t *tuple.Tuple) ([]base.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !t.Desc().Equals(f.layout.Desc()) {
		return nil, errors.Wrapf(base.ErrSchemaMismatch, "insert %s into %s", t.Desc(), f.layout.Desc())
	}
	if err := f.ensureInitialized(); err != nil {
		return nil, err
	}

	ws := make(writeSet)
	root, err := f.rootID(ws)
	if err != nil {
		return nil, err
	}

	key := t.Field(f.layout.KeyField())
	if key == nil {
		return nil, errors.Wrap(base.ErrSchemaMismatch, "key field is unset")
	}
	leaf, err := f.findLeafPage(ws, root, ReadOnly, key)
	if err != nil {
		return nil, err
	}
	leaf, err = fetch[*base.LeafPage](f, ws, leaf.ID(), ReadWrite)
	if err != nil {
		return nil, err
	}
	if leaf.NumEmptySlots() == 0 {
		if leaf, err = f.splitLeafPage(ws, leaf, key); err != nil {
			return nil, err
		}
	}
	if err := leaf.InsertTuple(t); err != nil {
		return nil, err
	}
	return ws.pages(), nil
}

// splitIndex is the position of the first item that moves to the new right
// page when a page holding n items splits.
func splitIndex(n int) int {
	return (n+2)/2 - 1
}

// splitLeafPage moves the upper half of page into a new right sibling,
// links the new separator into the parent and returns the half where key
// belongs.
func (f *File) splitLeafPage(ws writeSet, page *base.LeafPage, key tuple.Field) (*base.LeafPage, error) {
	np, err := f.getEmptyPage(ws, primitives.Leaf)
	if err != nil {
		return nil, err
	}
	right := np.(*base.LeafPage)

	tuples := page.Tuples()
	s := splitIndex(len(tuples))
	for _, t := range tuples[s:] {
		if err := page.DeleteTuple(t); err != nil {
			return nil, err
		}
		if err := right.InsertTuple(t); err != nil {
			return nil, err
		}
	}

	if next, ok := page.RightSibling(); ok {
		nextPage, err := fetch[*base.LeafPage](f, ws, next, ReadWrite)
		if err != nil {
			return nil, err
		}
		if err := nextPage.SetLeftSibling(right.ID()); err != nil {
			return nil, err
		}
		if err := right.SetRightSibling(next); err != nil {
			return nil, err
		}
	}
	if err := right.SetLeftSibling(page.ID()); err != nil {
		return nil, err
	}
	if err := page.SetRightSibling(right.ID()); err != nil {
		return nil, err
	}

	sep := tuples[s].Field(f.layout.KeyField())
	parent, err := f.getParentWithEmptySlots(ws, page.ParentID(), page.ID())
	if err != nil {
		return nil, err
	}
	if _, err := parent.InsertEntry(base.Entry{Key: sep, Left: page.ID(), Right: right.ID()}); err != nil {
		return nil, err
	}
	if err := page.SetParentID(parent.ID()); err != nil {
		return nil, err
	}
	if err := right.SetParentID(parent.ID()); err != nil {
		return nil, err
	}

	if key.Compare(tuple.GreaterThan, sep) {
		return right, nil
	}
	return page, nil
}

// splitInternalPage moves the entries after the median into a new right
// page and pushes the median key up into the parent. It returns the half
// that now holds child.
func (f *File) splitInternalPage(ws writeSet, page *base.InternalPage, child primitives.PageID) (*base.InternalPage, error) {
	np, err := f.getEmptyPage(ws, primitives.Internal)
	if err != nil {
		return nil, err
	}
	right := np.(*base.InternalPage)

	entries := page.Entries()
	s := splitIndex(len(entries))
	mid := entries[s]
	for _, e := range entries[s+1:] {
		if err := page.DeleteKeyAndRightChild(e); err != nil {
			return nil, err
		}
		if _, err := right.InsertEntry(base.Entry{Key: e.Key, Left: e.Left, Right: e.Right}); err != nil {
			return nil, err
		}
	}
	if err := page.DeleteKeyAndRightChild(mid); err != nil {
		return nil, err
	}
	if err := f.updateParentPointers(ws, right); err != nil {
		return nil, err
	}

	parent, err := f.getParentWithEmptySlots(ws, page.ParentID(), page.ID())
	if err != nil {
		return nil, err
	}
	if _, err := parent.InsertEntry(base.Entry{Key: mid.Key, Left: page.ID(), Right: right.ID()}); err != nil {
		return nil, err
	}
	if err := page.SetParentID(parent.ID()); err != nil {
		return nil, err
	}
	if err := right.SetParentID(parent.ID()); err != nil {
		return nil, err
	}

	for _, c := range right.Children() {
		if c == child {
			return right, nil
		}
	}
	return page, nil
}

// getParentWithEmptySlots returns the page that will receive a new entry for
// child. When child is the root a new root is created above it; a full
// parent is split first.
func (f *File) getParentWithEmptySlots(ws writeSet, parentID, child primitives.PageID) (*base.InternalPage, error) {
	var parent *base.InternalPage
	if parentID.Kind == primitives.RootPtr {
		np, err := f.getEmptyPage(ws, primitives.Internal)
		if err != nil {
			return nil, err
		}
		parent = np.(*base.InternalPage)

		rp, err := fetch[*base.RootPtrPage](f, ws, primitives.RootPtrID(f.id), ReadWrite)
		if err != nil {
			return nil, err
		}
		oldRoot, ok := rp.Root()
		if !ok {
			return nil, errors.Wrap(ErrCorruption, "root pointer has no root")
		}
		if err := rp.SetRoot(parent.ID()); err != nil {
			return nil, err
		}
		old, err := f.fetchTree(ws, oldRoot, ReadWrite)
		if err != nil {
			return nil, err
		}
		if err := old.SetParentID(parent.ID()); err != nil {
			return nil, err
		}
		f.log.Info("tree grew", "table", f.path, "root", parent.ID().No, "old_root", oldRoot.No)
	} else {
		var err error
		if parent, err = fetch[*base.InternalPage](f, ws, parentID, ReadWrite); err != nil {
			return nil, err
		}
	}

	if parent.NumEmptySlots() == 0 {
		return f.splitInternalPage(ws, parent, child)
	}
	return parent, nil
}

// updateParentPointer makes parent the recorded parent of child.
func (f *File) updateParentPointer(ws writeSet, parent, child primitives.PageID) error {
	p, err := f.fetchTree(ws, child, ReadOnly)
	if err != nil {
		return err
	}
	if p.ParentID() == parent {
		return nil
	}
	if p, err = f.fetchTree(ws, child, ReadWrite); err != nil {
		return err
	}
	return p.SetParentID(parent)
}

// updateParentPointers points every child of page back at page.
func (f *File) updateParentPointers(ws writeSet, page *base.InternalPage) error {
	for _, c := range page.Children() {
		if err := f.updateParentPointer(ws, page.ID(), c); err != nil {
			return err
		}
	}
	return nil
}
