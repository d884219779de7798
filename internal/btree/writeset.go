package btree

import (
	"github.com/pkg/errors"

	"tabledb/internal/base"
	"tabledb/primitives"
)

// Permission states whether a fetched page is about to be modified.
type Permission int

const (
	ReadOnly Permission = iota
	ReadWrite
)

// writeSet holds the pages an operation fetched for writing. Every fetch
// consults it first, so an operation always sees its own modifications even
// if the cache evicted the page meanwhile. Its contents are the pages the
// operation dirtied.
type writeSet map[primitives.PageID]base.Page

func (ws writeSet) pages() []base.Page {
	out := make([]base.Page, 0, len(ws))
	for _, p := range ws {
		out = append(out, p)
	}
	return out
}

func (f *File) getPage(ws writeSet, pid primitives.PageID, perm Permission) (base.Page, error) {
	if p, ok := ws[pid]; ok {
		return p, nil
	}
	p, err := f.cache.Get(pid)
	if err != nil {
		return nil, err
	}
	if perm == ReadWrite {
		ws[pid] = p
	}
	return p, nil
}

// fetch is getPage with the page type checked.
func fetch[P base.Page](f *File, ws writeSet, pid primitives.PageID, perm Permission) (P, error) {
	var zero P
	p, err := f.getPage(ws, pid, perm)
	if err != nil {
		return zero, err
	}
	typed, ok := p.(P)
	if !ok {
		return zero, errors.Wrapf(ErrCorruption, "%s decoded as %T", pid, p)
	}
	return typed, nil
}

// fetchTree fetches a leaf or internal page.
func (f *File) fetchTree(ws writeSet, pid primitives.PageID, perm Permission) (base.TreePage, error) {
	switch pid.Kind {
	case primitives.Leaf:
		return fetch[*base.LeafPage](f, ws, pid, perm)
	case primitives.Internal:
		return fetch[*base.InternalPage](f, ws, pid, perm)
	}
	return nil, errors.Wrapf(ErrCorruption, "%s is not a tree page", pid)
}

// discardPageNo forgets every cached copy of page number no, whatever kind it
// was read as. Used when a page changes hands between kinds.
func (f *File) discardPageNo(ws writeSet, no primitives.PageNo) {
	for _, kind := range []primitives.Kind{primitives.Internal, primitives.Leaf, primitives.Header} {
		pid := primitives.PageID{Table: f.id, No: no, Kind: kind}
		f.cache.Discard(pid)
		delete(ws, pid)
	}
}
