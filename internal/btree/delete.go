package btree

import (
	"github.com/pkg/errors"

	"tabledb/internal/base"
	"tabledb/primitives"
	"tabledb/tuple"
)

// DeleteTuple removes t, located by its record id, and rebalances the tree
// when the leaf falls below minimum occupancy. It returns every page it
// modified.
func (f *File) DeleteTuple(_ primitives.TxnID, t *tuple.Tuple) ([]base.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.ensureInitialized(); err != nil {
		return nil, err
	}
	rid := t.RecordID()
	if rid == nil {
		return nil, base.ErrNoRecordID
	}
	if rid.PageID.Table != f.id {
		return nil, errors.Wrapf(base.ErrTableMismatch, "delete %s from %s", rid, f.path)
	}

	ws := make(writeSet)
	pid := primitives.PageID{Table: f.id, No: rid.PageID.No, Kind: primitives.Leaf}
	leaf, err := fetch[*base.LeafPage](f, ws, pid, ReadWrite)
	if err != nil {
		return nil, err
	}
	if err := leaf.DeleteTuple(t); err != nil {
		return nil, err
	}
	if leaf.NumEmptySlots() > leafMaxEmpty(leaf) {
		if err := f.handleMinOccupancyPage(ws, leaf); err != nil {
			return nil, err
		}
	}
	return ws.pages(), nil
}

// handleMinOccupancyPage restores minimum occupancy of page by stealing from
// or merging with a sibling, preferring the left one. The root is exempt.
func (f *File) handleMinOccupancyPage(ws writeSet, page base.TreePage) error {
	parentID := page.ParentID()
	if parentID.Kind == primitives.RootPtr {
		return nil
	}
	parent, err := fetch[*base.InternalPage](f, ws, parentID, ReadWrite)
	if err != nil {
		return err
	}

	var left, right *base.Entry
	for _, e := range parent.Entries() {
		if e.Left == page.ID() {
			right = &e
			break
		}
		if e.Right == page.ID() {
			left = &e
		}
	}
	if left == nil && right == nil {
		return errors.Wrapf(ErrCorruption, "%s not found in parent %s", page.ID(), parentID)
	}

	switch p := page.(type) {
	case *base.LeafPage:
		return f.handleMinOccupancyLeafPage(ws, p, parent, left, right)
	case *base.InternalPage:
		return f.handleMinOccupancyInternalPage(ws, p, parent, left, right)
	}
	return errors.Errorf("rebalance %s: unknown page type %T", page.ID(), page)
}

func (f *File) handleMinOccupancyLeafPage(ws writeSet, page *base.LeafPage, parent *base.InternalPage, left, right *base.Entry) error {
	maxEmpty := leafMaxEmpty(page)
	if left != nil {
		sibling, err := fetch[*base.LeafPage](f, ws, left.Left, ReadWrite)
		if err != nil {
			return err
		}
		if sibling.NumEmptySlots() >= maxEmpty {
			return f.mergeLeafPages(ws, sibling, page, parent, *left)
		}
		return f.stealFromLeafPage(page, sibling, parent, *left, false)
	}

	sibling, err := fetch[*base.LeafPage](f, ws, right.Right, ReadWrite)
	if err != nil {
		return err
	}
	if sibling.NumEmptySlots() >= maxEmpty {
		return f.mergeLeafPages(ws, page, sibling, parent, *right)
	}
	return f.stealFromLeafPage(page, sibling, parent, *right, true)
}

// stealFromLeafPage moves tuples from sibling into page until both hold
// about half of their combined tuples, then resets the separator to the
// first key of the right page of the pair.
func (f *File) stealFromLeafPage(page, sibling *base.LeafPage, parent *base.InternalPage, entry base.Entry, isRightSibling bool) error {
	move := (page.NumTuples()+sibling.NumTuples())/2 - page.NumTuples()
	tuples := sibling.Tuples()
	var moving []*tuple.Tuple
	if isRightSibling {
		moving = tuples[:move]
	} else {
		moving = tuples[len(tuples)-move:]
	}
	for _, t := range moving {
		if err := sibling.DeleteTuple(t); err != nil {
			return err
		}
		if err := page.InsertTuple(t); err != nil {
			return err
		}
	}

	rightPage := page
	if isRightSibling {
		rightPage = sibling
	}
	entry.Key = rightPage.FirstTuple().Field(f.layout.KeyField())
	return parent.UpdateEntry(entry)
}

// mergeLeafPages moves every tuple of right into left, unlinks right from
// the sibling chain, removes the separator from the parent and frees right.
func (f *File) mergeLeafPages(ws writeSet, left, right *base.LeafPage, parent *base.InternalPage, entry base.Entry) error {
	for _, t := range right.Tuples() {
		if err := right.DeleteTuple(t); err != nil {
			return err
		}
		if err := left.InsertTuple(t); err != nil {
			return err
		}
	}

	if next, ok := right.RightSibling(); ok {
		nextPage, err := fetch[*base.LeafPage](f, ws, next, ReadWrite)
		if err != nil {
			return err
		}
		if err := nextPage.SetLeftSibling(left.ID()); err != nil {
			return err
		}
		if err := left.SetRightSibling(next); err != nil {
			return err
		}
	} else {
		left.ClearRightSibling()
	}

	if err := f.deleteParentEntry(ws, left, parent, entry); err != nil {
		return err
	}
	return f.setEmptyPage(ws, right.ID().No)
}

func (f *File) handleMinOccupancyInternalPage(ws writeSet, page *base.InternalPage, parent *base.InternalPage, left, right *base.Entry) error {
	maxEmpty := internalMaxEmpty(page)
	if left != nil {
		sibling, err := fetch[*base.InternalPage](f, ws, left.Left, ReadWrite)
		if err != nil {
			return err
		}
		if sibling.NumEmptySlots() >= maxEmpty {
			return f.mergeInternalPages(ws, sibling, page, parent, *left)
		}
		return f.stealFromLeftInternalPage(ws, page, sibling, parent, *left)
	}

	sibling, err := fetch[*base.InternalPage](f, ws, right.Right, ReadWrite)
	if err != nil {
		return err
	}
	if sibling.NumEmptySlots() >= maxEmpty {
		return f.mergeInternalPages(ws, page, sibling, parent, *right)
	}
	return f.stealFromRightInternalPage(ws, page, sibling, parent, *right)
}

// stealFromLeftInternalPage rotates entries from left through the parent
// into page: the separator moves down to the front of page and the last key
// of left moves up to replace it.
func (f *File) stealFromLeftInternalPage(ws writeSet, page, left, parent *base.InternalPage, entry base.Entry) error {
	move := (left.NumEntries() - page.NumEntries()) / 2
	for range move {
		last, ok := left.LastEntry()
		if !ok {
			return errors.Wrapf(ErrCorruption, "steal from empty %s", left.ID())
		}
		first, ok := page.FirstChild()
		if !ok {
			return errors.Wrapf(ErrCorruption, "%s has no children", page.ID())
		}
		if _, err := page.InsertEntry(base.Entry{Key: entry.Key, Left: last.Right, Right: first}); err != nil {
			return err
		}
		entry.Key = last.Key
		if err := left.DeleteKeyAndRightChild(last); err != nil {
			return err
		}
	}
	if err := parent.UpdateEntry(entry); err != nil {
		return err
	}
	return f.updateParentPointers(ws, page)
}

// stealFromRightInternalPage is the mirror of stealFromLeftInternalPage.
func (f *File) stealFromRightInternalPage(ws writeSet, page, right, parent *base.InternalPage, entry base.Entry) error {
	move := (right.NumEntries() - page.NumEntries()) / 2
	for range move {
		first, ok := right.FirstEntry()
		if !ok {
			return errors.Wrapf(ErrCorruption, "steal from empty %s", right.ID())
		}
		last, ok := page.LastChild()
		if !ok {
			return errors.Wrapf(ErrCorruption, "%s has no children", page.ID())
		}
		if _, err := page.InsertEntry(base.Entry{Key: entry.Key, Left: last, Right: first.Left}); err != nil {
			return err
		}
		entry.Key = first.Key
		if err := right.DeleteKeyAndLeftChild(first); err != nil {
			return err
		}
	}
	if err := parent.UpdateEntry(entry); err != nil {
		return err
	}
	return f.updateParentPointers(ws, page)
}

// mergeInternalPages pulls the separator down into left, appends every
// entry of right, removes the separator from the parent and frees right.
func (f *File) mergeInternalPages(ws writeSet, left, right, parent *base.InternalPage, entry base.Entry) error {
	last, ok := left.LastChild()
	if !ok {
		return errors.Wrapf(ErrCorruption, "%s has no children", left.ID())
	}
	first, ok := right.FirstChild()
	if !ok {
		return errors.Wrapf(ErrCorruption, "%s has no children", right.ID())
	}
	if _, err := left.InsertEntry(base.Entry{Key: entry.Key, Left: last, Right: first}); err != nil {
		return err
	}
	for _, e := range right.Entries() {
		if _, err := left.InsertEntry(base.Entry{Key: e.Key, Left: e.Left, Right: e.Right}); err != nil {
			return err
		}
	}
	if err := f.updateParentPointers(ws, left); err != nil {
		return err
	}

	if err := f.deleteParentEntry(ws, left, parent, entry); err != nil {
		return err
	}
	return f.setEmptyPage(ws, right.ID().No)
}

// deleteParentEntry removes entry and its right child from parent. A root
// left without keys is replaced by its only child; any other parent that
// underflows is rebalanced in turn.
func (f *File) deleteParentEntry(ws writeSet, left base.TreePage, parent *base.InternalPage, entry base.Entry) error {
	if err := parent.DeleteKeyAndRightChild(entry); err != nil {
		return err
	}

	if parent.ParentID().Kind == primitives.RootPtr {
		if parent.NumEntries() > 0 {
			return nil
		}
		rp, err := fetch[*base.RootPtrPage](f, ws, primitives.RootPtrID(f.id), ReadWrite)
		if err != nil {
			return err
		}
		if err := left.SetParentID(rp.ID()); err != nil {
			return err
		}
		if err := rp.SetRoot(left.ID()); err != nil {
			return err
		}
		f.log.Info("tree shrank", "table", f.path, "root", left.ID().No, "old_root", parent.ID().No)
		return f.setEmptyPage(ws, parent.ID().No)
	}

	if parent.NumEmptySlots() > internalMaxEmpty(parent) {
		return f.handleMinOccupancyPage(ws, parent)
	}
	return nil
}
