package btree

import (
	"github.com/pkg/errors"

	"tabledb/internal/base"
	"tabledb/primitives"
	"tabledb/tuple"
)

// Iterator walks the leaf chain in key order, or in reverse key order,
// yielding tuples whose key satisfies the predicate. It reads pages through
// the page cache and starts lazily on the first call to Next.
type Iterator struct {
	f       *File
	pred    *tuple.Predicate // nil matches every tuple
	reverse bool

	page *base.LeafPage
	slot int
	cur  *tuple.Tuple
	err  error
	done bool
}

// Iterator returns a forward scan over the tuples matching pred.
func (f *File) Iterator(_ primitives.TxnID, pred *tuple.Predicate) *Iterator {
	return &Iterator{f: f, pred: pred}
}

// ReverseIterator returns a scan in descending key order.
func (f *File) ReverseIterator(_ primitives.TxnID, pred *tuple.Predicate) *Iterator {
	return &Iterator{f: f, pred: pred, reverse: true}
}

// Next advances to the next matching tuple and reports whether there is one.
func (it *Iterator) Next() bool {
	if it.done || it.err != nil {
		return false
	}
	if it.page == nil {
		if err := it.start(); err != nil {
			it.err = err
			return false
		}
	}

	kf := it.f.layout.KeyField()
	for {
		var slot int
		if it.reverse {
			slot = it.page.PrevUsedSlot(it.slot)
		} else {
			slot = it.page.NextUsedSlot(it.slot)
		}
		if slot < 0 {
			if !it.advancePage() {
				return false
			}
			continue
		}
		it.slot = slot

		t := it.page.Tuple(slot)
		key := t.Field(kf)
		if it.pastEnd(key) {
			it.finish()
			return false
		}
		if it.pred == nil || it.pred.Matches(key) {
			it.cur = t
			return true
		}
	}
}

// Tuple returns the tuple at the current position.
func (it *Iterator) Tuple() *tuple.Tuple { return it.cur }

// Err returns the error that stopped the scan, if any.
func (it *Iterator) Err() error { return it.err }

// Rewind resets the scan so the next call to Next starts over.
func (it *Iterator) Rewind() {
	it.page = nil
	it.slot = 0
	it.cur = nil
	it.err = nil
	it.done = false
}

func (it *Iterator) start() error {
	f := it.f
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.ensureInitialized(); err != nil {
		return err
	}
	ws := make(writeSet)
	root, err := f.rootID(ws)
	if err != nil {
		return err
	}

	var key tuple.Field
	if it.pred != nil {
		switch op := it.pred.Op; {
		case !it.reverse && (op == tuple.Equals || op == tuple.GreaterThan || op == tuple.GreaterThanOrEq):
			key = it.pred.Value
		case it.reverse && (op == tuple.Equals || op == tuple.LessThan || op == tuple.LessThanOrEq):
			key = it.pred.Value
		}
	}

	if it.reverse {
		it.page, err = f.findLastLeafPage(ws, root, ReadOnly, key)
		it.slot = f.layout.MaxTuples()
	} else {
		it.page, err = f.findLeafPage(ws, root, ReadOnly, key)
		it.slot = -1
	}
	return err
}

// advancePage moves to the next leaf in scan order.
func (it *Iterator) advancePage() bool {
	var next primitives.PageID
	var ok bool
	if it.reverse {
		next, ok = it.page.LeftSibling()
	} else {
		next, ok = it.page.RightSibling()
	}
	if !ok {
		it.finish()
		return false
	}

	p, err := it.f.cache.Get(next)
	if err != nil {
		it.err = err
		return false
	}
	leaf, ok := p.(*base.LeafPage)
	if !ok {
		it.err = errors.Wrapf(ErrCorruption, "sibling %s decoded as %T", next, p)
		return false
	}
	it.page = leaf
	if it.reverse {
		it.slot = leaf.MaxTuples()
	} else {
		it.slot = -1
	}
	return true
}

// pastEnd reports whether no tuple after key, in scan order, can match.
func (it *Iterator) pastEnd(key tuple.Field) bool {
	if it.pred == nil {
		return false
	}
	v := it.pred.Value
	if it.reverse {
		switch it.pred.Op {
		case tuple.Equals, tuple.GreaterThanOrEq:
			return key.Compare(tuple.LessThan, v)
		case tuple.GreaterThan:
			return key.Compare(tuple.LessThanOrEq, v)
		}
		return false
	}
	switch it.pred.Op {
	case tuple.Equals, tuple.LessThanOrEq:
		return key.Compare(tuple.GreaterThan, v)
	case tuple.LessThan:
		return key.Compare(tuple.GreaterThanOrEq, v)
	}
	return false
}

func (it *Iterator) finish() {
	it.done = true
	it.cur = nil
}
