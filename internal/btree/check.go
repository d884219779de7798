package btree

import (
	"fmt"

	roaring "github.com/RoaringBitmap/roaring/v2"
	"github.com/pkg/errors"

	"tabledb/internal/base"
	"tabledb/primitives"
	"tabledb/tuple"
)

// Report summarizes a table file after a successful Check.
type Report struct {
	Height      int
	Leaves      int
	Internals   int
	HeaderPages int
	Tuples      int
	FreePages   int
}

func (r *Report) String() string {
	return fmt.Sprintf("height=%d leaves=%d internals=%d headers=%d tuples=%d free=%d",
		r.Height, r.Leaves, r.Internals, r.HeaderPages, r.Tuples, r.FreePages)
}

type checker struct {
	f         *File
	ws        writeSet
	report    *Report
	reachable *roaring.Bitmap
	leaves    []*base.LeafPage
	leafDepth int
}

// Check walks the whole table and verifies the tree structure: parent
// pointers, key order and bounds, uniform leaf depth, the leaf sibling chain,
// minimum occupancy of non-root pages and agreement between the header
// pages and the set of reachable pages. Any violation is reported as
// ErrCorruption.
func (f *File) Check() (*Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.ensureInitialized(); err != nil {
		return nil, err
	}
	c := &checker{
		f:         f,
		ws:        make(writeSet),
		report:    &Report{},
		reachable: roaring.New(),
		leafDepth: -1,
	}
	root, err := f.rootID(c.ws)
	if err != nil {
		return nil, err
	}
	if err := c.walk(root, primitives.RootPtrID(f.id), nil, nil, 0); err != nil {
		return nil, err
	}
	if err := c.checkLeafChain(); err != nil {
		return nil, err
	}
	if err := c.checkFreePages(); err != nil {
		return nil, err
	}
	c.report.Height = c.leafDepth + 1
	return c.report, nil
}

func corrupt(format string, args ...any) error {
	return errors.Wrapf(ErrCorruption, format, args...)
}

func (c *checker) visit(no primitives.PageNo) error {
	if c.reachable.Contains(uint32(no)) {
		return corrupt("page %d reached twice", no)
	}
	c.reachable.Add(uint32(no))
	return nil
}

// walk checks the subtree at pid, whose keys must lie within [lo, hi]. A nil
// bound is open.
func (c *checker) walk(pid, parent primitives.PageID, lo, hi tuple.Field, depth int) error {
	if err := c.visit(pid.No); err != nil {
		return err
	}
	p, err := c.f.fetchTree(c.ws, pid, ReadOnly)
	if err != nil {
		return err
	}
	if got := p.ParentID(); got != parent {
		return corrupt("%s has parent %s, want %s", pid, got, parent)
	}
	isRoot := parent.Kind == primitives.RootPtr

	switch page := p.(type) {
	case *base.LeafPage:
		return c.checkLeaf(page, lo, hi, depth, isRoot)
	case *base.InternalPage:
		return c.checkInternal(page, lo, hi, depth, isRoot)
	}
	return corrupt("%s decoded as %T", pid, p)
}

func (c *checker) checkLeaf(page *base.LeafPage, lo, hi tuple.Field, depth int, isRoot bool) error {
	if c.leafDepth < 0 {
		c.leafDepth = depth
	} else if depth != c.leafDepth {
		return corrupt("leaf %s at depth %d, others at %d", page.ID(), depth, c.leafDepth)
	}
	if !isRoot && page.NumEmptySlots() > leafMaxEmpty(page) {
		return corrupt("leaf %s underfull: %d of %d slots empty", page.ID(), page.NumEmptySlots(), page.MaxTuples())
	}

	kf := c.f.layout.KeyField()
	var prev tuple.Field
	for _, t := range page.Tuples() {
		key := t.Field(kf)
		if err := checkBounds(page.ID(), key, lo, hi); err != nil {
			return err
		}
		if prev != nil && key.Compare(tuple.LessThan, prev) {
			return corrupt("leaf %s: key %s after %s", page.ID(), key, prev)
		}
		prev = key
	}

	c.report.Leaves++
	c.report.Tuples += page.NumTuples()
	c.leaves = append(c.leaves, page)
	return nil
}

func (c *checker) checkInternal(page *base.InternalPage, lo, hi tuple.Field, depth int, isRoot bool) error {
	entries := page.Entries()
	if len(entries) == 0 {
		return corrupt("internal %s has no entries", page.ID())
	}
	if !isRoot && page.NumEmptySlots() > internalMaxEmpty(page) {
		return corrupt("internal %s underfull: %d of %d slots empty", page.ID(), page.NumEmptySlots(), page.MaxEntries())
	}
	if k := page.ChildKind(); k != primitives.Leaf && k != primitives.Internal {
		return corrupt("internal %s has %s children", page.ID(), k)
	}

	for i, e := range entries {
		if err := checkBounds(page.ID(), e.Key, lo, hi); err != nil {
			return err
		}
		if i > 0 && e.Key.Compare(tuple.LessThan, entries[i-1].Key) {
			return corrupt("internal %s: key %s after %s", page.ID(), e.Key, entries[i-1].Key)
		}
	}
	c.report.Internals++

	for i, child := range page.Children() {
		clo, chi := lo, hi
		if i > 0 {
			clo = entries[i-1].Key
		}
		if i < len(entries) {
			chi = entries[i].Key
		}
		if err := c.walk(child, page.ID(), clo, chi, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func checkBounds(pid primitives.PageID, key, lo, hi tuple.Field) error {
	if lo != nil && key.Compare(tuple.LessThan, lo) {
		return corrupt("%s: key %s below bound %s", pid, key, lo)
	}
	if hi != nil && key.Compare(tuple.GreaterThan, hi) {
		return corrupt("%s: key %s above bound %s", pid, key, hi)
	}
	return nil
}

// checkLeafChain verifies that the sibling links visit the leaves in the
// same order as the tree walk.
func (c *checker) checkLeafChain() error {
	for i, leaf := range c.leaves {
		left, hasLeft := leaf.LeftSibling()
		switch {
		case i == 0 && hasLeft:
			return corrupt("first leaf %s has left sibling %s", leaf.ID(), left)
		case i > 0 && (!hasLeft || left != c.leaves[i-1].ID()):
			return corrupt("leaf %s left sibling is %s, want %s", leaf.ID(), left, c.leaves[i-1].ID())
		}
		right, hasRight := leaf.RightSibling()
		last := i == len(c.leaves)-1
		switch {
		case last && hasRight:
			return corrupt("last leaf %s has right sibling %s", leaf.ID(), right)
		case !last && (!hasRight || right != c.leaves[i+1].ID()):
			return corrupt("leaf %s right sibling is %s, want %s", leaf.ID(), right, c.leaves[i+1].ID())
		}
	}
	return nil
}

// checkFreePages compares the pages the header chain marks as free with the
// pages reachable from the root. Pages beyond the coverage of the header
// chain are in use.
func (c *checker) checkFreePages() error {
	rp, err := fetch[*base.RootPtrPage](c.f, c.ws, primitives.RootPtrID(c.f.id), ReadOnly)
	if err != nil {
		return err
	}
	n, err := c.f.store.NumPages()
	if err != nil {
		return err
	}

	free := roaring.New()
	prev := primitives.PageID{}
	hid, ok := rp.HeaderID()
	for idx := 0; ok; idx++ {
		if err := c.visit(hid.No); err != nil {
			return err
		}
		hp, err := fetch[*base.HeaderPage](c.f, c.ws, hid, ReadOnly)
		if err != nil {
			return err
		}
		if p, hasPrev := hp.Prev(); hasPrev != (idx > 0) || (hasPrev && p != prev) {
			return corrupt("header %s has previous %s, want %s", hid, p, prev)
		}
		first := idx * hp.NumSlots()
		for slot := 0; slot < hp.NumSlots(); slot++ {
			no := first + slot
			if no == 0 || no > int(n) {
				continue
			}
			if !hp.IsSlotUsed(slot) {
				free.Add(uint32(no))
			}
		}
		c.report.HeaderPages++
		prev = hid
		hid, ok = hp.Next()
	}

	all := roaring.New()
	all.AddRange(1, uint64(n)+1)
	if extra := roaring.AndNot(c.reachable, all); !extra.IsEmpty() {
		return corrupt("page %d is beyond the end of the file", extra.Minimum())
	}
	if both := roaring.And(free, c.reachable); !both.IsEmpty() {
		return corrupt("page %d is reachable but marked free", both.Minimum())
	}
	used := roaring.AndNot(all, free)
	if leaked := roaring.AndNot(used, c.reachable); !leaked.IsEmpty() {
		return corrupt("page %d is marked in use but unreachable", leaked.Minimum())
	}
	c.report.FreePages = int(free.GetCardinality())
	return nil
}
