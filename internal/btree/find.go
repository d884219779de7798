package btree

import (
	"github.com/pkg/errors"

	"tabledb/internal/base"
	"tabledb/primitives"
	"tabledb/tuple"
)

// findLeafPage descends from pid to the left-most leaf that may hold key.
// Internal pages are read-only; only the leaf is fetched with perm. A nil
// key finds the left-most leaf of the tree.
func (f *File) findLeafPage(ws writeSet, pid primitives.PageID, perm Permission, key tuple.Field) (*base.LeafPage, error) {
	return f.descend(ws, pid, perm, func(p *base.InternalPage) (primitives.PageID, bool) {
		if key == nil {
			return p.FirstChild()
		}
		for _, e := range p.Entries() {
			if e.Key.Compare(tuple.GreaterThanOrEq, key) {
				return e.Left, true
			}
		}
		return p.LastChild()
	})
}

// findLastLeafPage descends to the right-most leaf that may hold key. A nil
// key finds the right-most leaf of the tree.
func (f *File) findLastLeafPage(ws writeSet, pid primitives.PageID, perm Permission, key tuple.Field) (*base.LeafPage, error) {
	return f.descend(ws, pid, perm, func(p *base.InternalPage) (primitives.PageID, bool) {
		if key == nil {
			return p.LastChild()
		}
		for _, e := range p.Entries() {
			if e.Key.Compare(tuple.GreaterThan, key) {
				return e.Left, true
			}
		}
		return p.LastChild()
	})
}

func (f *File) descend(ws writeSet, pid primitives.PageID, perm Permission,
	choose func(*base.InternalPage) (primitives.PageID, bool)) (*base.LeafPage, error) {
	for pid.Kind == primitives.Internal {
		p, err := fetch[*base.InternalPage](f, ws, pid, ReadOnly)
		if err != nil {
			return nil, err
		}
		next, ok := choose(p)
		if !ok {
			return nil, errors.Wrapf(ErrCorruption, "internal page %s has no children", pid)
		}
		pid = next
	}
	if pid.Kind != primitives.Leaf {
		return nil, errors.Wrapf(ErrCorruption, "descent reached %s", pid)
	}
	return fetch[*base.LeafPage](f, ws, pid, perm)
}
