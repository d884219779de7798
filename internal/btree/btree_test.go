package btree

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/google/btree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabledb/internal/base"
	"tabledb/internal/cache"
	"tabledb/primitives"
	"tabledb/tuple"
)

// testTable drives a File through the page cache the way the database does.
type testTable struct {
	t    *testing.T
	path string
	f    *File
	pc   *cache.PageCache
	desc *tuple.TupleDesc
}

func newTestTable(t *testing.T, pageSize, cachePages int) *testTable {
	t.Helper()
	tt := &testTable{
		t:    t,
		path: filepath.Join(t.TempDir(), "table.dat"),
		desc: tuple.IntDesc(2, "f"),
	}
	tt.open(pageSize, cachePages)
	return tt
}

func (tt *testTable) open(pageSize, cachePages int) {
	tt.t.Helper()
	pc, err := cache.New(cachePages)
	require.NoError(tt.t, err)
	f, err := Open(tt.path, tt.desc, 0, pc, Config{PageSize: pageSize})
	require.NoError(tt.t, err)
	tt.t.Cleanup(func() { _ = f.Close() })
	tt.f, tt.pc = f, pc
}

func (tt *testTable) insert(keys ...int) {
	tt.t.Helper()
	for _, k := range keys {
		tup, err := tuple.Ints(tt.desc, k, k*10)
		require.NoError(tt.t, err)
		require.NoError(tt.t, tt.pc.InsertTuple(1, tt.f.ID(), tup))
	}
}

func (tt *testTable) find(k int) *tuple.Tuple {
	tt.t.Helper()
	it := tt.f.Iterator(1, tuple.NewPredicate(tuple.Equals, tuple.IntField(k)))
	require.True(tt.t, it.Next(), "key %d not found", k)
	return it.Tuple()
}

func (tt *testTable) delete(keys ...int) {
	tt.t.Helper()
	for _, k := range keys {
		require.NoError(tt.t, tt.pc.DeleteTuple(1, tt.find(k)))
	}
}

func (tt *testTable) scan(pred *tuple.Predicate, reverse bool) []int {
	tt.t.Helper()
	it := tt.f.Iterator(1, pred)
	if reverse {
		it = tt.f.ReverseIterator(1, pred)
	}
	keys := []int{}
	for it.Next() {
		keys = append(keys, keyOf(it.Tuple()))
	}
	require.NoError(tt.t, it.Err())
	return keys
}

func (tt *testTable) check() *Report {
	tt.t.Helper()
	r, err := tt.f.Check()
	require.NoError(tt.t, err)
	return r
}

func (tt *testTable) leafKeys(no primitives.PageNo) []int {
	tt.t.Helper()
	leaf, err := fetch[*base.LeafPage](tt.f, make(writeSet), primitives.PageID{Table: tt.f.ID(), No: no, Kind: primitives.Leaf}, ReadOnly)
	require.NoError(tt.t, err)
	var keys []int
	for _, t := range leaf.Tuples() {
		keys = append(keys, keyOf(t))
	}
	return keys
}

func (tt *testTable) root() primitives.PageID {
	tt.t.Helper()
	root, err := tt.f.rootID(make(writeSet))
	require.NoError(tt.t, err)
	return root
}

func keyOf(t *tuple.Tuple) int {
	return int(t.Field(0).(tuple.IntField))
}

func seq(lo, hi int) []int {
	out := make([]int, 0, hi-lo+1)
	for i := lo; i <= hi; i++ {
		out = append(out, i)
	}
	return out
}

func reversed(keys []int) []int {
	out := make([]int, len(keys))
	for i, k := range keys {
		out[len(keys)-1-i] = k
	}
	return out
}

func shuffled(rng *rand.Rand, keys []int) []int {
	out := append([]int(nil), keys...)
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

func TestInsertKeepsKeyOrder(t *testing.T) {
	t.Parallel()

	tt := newTestTable(t, base.DefaultPageSize, 64)
	tt.insert(shuffled(rand.New(rand.NewSource(1)), seq(1, 100))...)

	assert.Equal(t, seq(1, 100), tt.scan(nil, false))
	r := tt.check()
	assert.Equal(t, 1, r.Height)
	assert.Equal(t, 1, r.Leaves)
	assert.Equal(t, 100, r.Tuples)
}

func TestEmptyTable(t *testing.T) {
	t.Parallel()

	tt := newTestTable(t, 64, 16)
	assert.Empty(t, tt.scan(nil, false))
	assert.Empty(t, tt.scan(nil, true))

	r := tt.check()
	assert.Equal(t, 1, r.Height)
	assert.Equal(t, 0, r.Tuples)
	n, err := tt.f.NumPages()
	require.NoError(t, err)
	assert.Equal(t, primitives.PageNo(1), n)
}

func TestInsertGrowsTree(t *testing.T) {
	t.Parallel()

	tt := newTestTable(t, 64, 16)
	require.Equal(t, 6, tt.f.Layout().MaxTuples())

	tt.insert(seq(1, 6)...)
	assert.Equal(t, primitives.PageID{Table: tt.f.ID(), No: 1, Kind: primitives.Leaf}, tt.root())

	tt.insert(7)
	assert.Equal(t, primitives.PageID{Table: tt.f.ID(), No: 3, Kind: primitives.Internal}, tt.root())
	assert.Equal(t, []int{1, 2, 3}, tt.leafKeys(1))
	assert.Equal(t, []int{4, 5, 6, 7}, tt.leafKeys(2))

	r := tt.check()
	assert.Equal(t, 2, r.Height)
	assert.Equal(t, 2, r.Leaves)
	assert.Equal(t, 1, r.Internals)
	assert.Equal(t, 7, r.Tuples)
	assert.Equal(t, seq(1, 7), tt.scan(nil, false))
}

func TestSequentialInsertLargePages(t *testing.T) {
	t.Parallel()

	tt := newTestTable(t, base.DefaultPageSize, 64)
	tt.insert(seq(1, 600)...)

	n, err := tt.f.NumPages()
	require.NoError(t, err)
	assert.Equal(t, primitives.PageNo(3), n)

	tt.insert(seq(601, 1000)...)
	ws := make(writeSet)
	leaf, err := tt.f.findLeafPage(ws, tt.root(), ReadOnly, tuple.IntField(5))
	require.NoError(t, err)
	assert.Equal(t, primitives.PageNo(1), leaf.ID().No)
	assert.Empty(t, ws)

	r := tt.check()
	assert.Equal(t, 2, r.Height)
	assert.Equal(t, 1000, r.Tuples)
}

func TestDeleteStealsThenMerges(t *testing.T) {
	t.Parallel()

	tt := newTestTable(t, 64, 16)
	tt.insert(seq(1, 7)...)

	// Leaf 1 drops to two tuples and borrows one from its right sibling.
	tt.delete(1)
	assert.Equal(t, []int{2, 3, 4}, tt.leafKeys(1))
	assert.Equal(t, []int{5, 6, 7}, tt.leafKeys(2))
	root, err := fetch[*base.InternalPage](tt.f, make(writeSet), tt.root(), ReadOnly)
	require.NoError(t, err)
	e, ok := root.FirstEntry()
	require.True(t, ok)
	assert.Equal(t, tuple.IntField(5), e.Key)
	tt.check()

	// Now the sibling cannot spare a tuple, so the leaves merge and the
	// root collapses into the surviving leaf.
	tt.delete(2)
	assert.Equal(t, primitives.PageID{Table: tt.f.ID(), No: 1, Kind: primitives.Leaf}, tt.root())
	assert.Equal(t, seq(3, 7), tt.leafKeys(1))

	r := tt.check()
	assert.Equal(t, 1, r.Height)
	assert.Equal(t, 1, r.Leaves)
	assert.Equal(t, 0, r.Internals)
	assert.Equal(t, 1, r.HeaderPages)
	assert.Equal(t, 2, r.FreePages)
	assert.Equal(t, 5, r.Tuples)

	n, err := tt.f.NumPages()
	require.NoError(t, err)
	assert.Equal(t, primitives.PageNo(4), n)
}

func TestFreePagesAreReused(t *testing.T) {
	t.Parallel()

	tt := newTestTable(t, 64, 16)
	tt.insert(seq(1, 7)...)
	tt.delete(1, 2)
	require.Equal(t, 2, tt.check().FreePages)

	tt.insert(8, 9)
	assert.Equal(t, []int{3, 4, 5}, tt.leafKeys(1))
	assert.Equal(t, []int{6, 7, 8, 9}, tt.leafKeys(2))
	assert.Equal(t, primitives.PageID{Table: tt.f.ID(), No: 3, Kind: primitives.Internal}, tt.root())

	n, err := tt.f.NumPages()
	require.NoError(t, err)
	assert.Equal(t, primitives.PageNo(4), n)

	r := tt.check()
	assert.Equal(t, 0, r.FreePages)
	assert.Equal(t, 1, r.HeaderPages)
	assert.Equal(t, 2, r.Height)
}

func TestDeleteEverything(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(2))
	tt := newTestTable(t, 64, 32)
	keys := shuffled(rng, seq(1, 300))
	tt.insert(keys...)
	require.Greater(t, tt.check().Height, 2)

	for i, k := range shuffled(rng, keys) {
		tt.delete(k)
		if i%50 == 0 {
			tt.check()
		}
	}

	assert.Empty(t, tt.scan(nil, false))
	r := tt.check()
	assert.Equal(t, 1, r.Height)
	assert.Equal(t, 1, r.Leaves)
	assert.Equal(t, 0, r.Internals)
	assert.Equal(t, 0, r.Tuples)

	n, err := tt.f.NumPages()
	require.NoError(t, err)
	assert.Equal(t, int(n)-1-r.HeaderPages, r.FreePages)
}

func TestFreeListSpansHeaderPages(t *testing.T) {
	t.Parallel()

	tt := newTestTable(t, 64, 64)
	slots := tt.f.Layout().HeaderSlots()
	keys := seq(1, 4000)

	tt.insert(keys...)
	built, err := tt.f.NumPages()
	require.NoError(t, err)
	require.Greater(t, int(built), 2*slots, "free pages must span several header pages")

	for i, k := range keys {
		tt.delete(k)
		if i%500 == 0 {
			tt.check()
		}
	}
	r := tt.check()
	assert.Equal(t, 0, r.Tuples)
	assert.GreaterOrEqual(t, r.HeaderPages, 3)

	headers := r.HeaderPages
	n, err := tt.f.NumPages()
	require.NoError(t, err)
	assert.Equal(t, int(n)-1-headers, r.FreePages)

	for i, k := range keys {
		tt.insert(k)
		if i%500 == 0 {
			tt.check()
		}
	}
	// The rebuilt tree has the shape of the first one, and later header
	// pages may sit on page numbers the tree used before.
	after, err := tt.f.NumPages()
	require.NoError(t, err)
	assert.Equal(t, int(built)+headers, int(after), "reinsert appends only once every freed page is reused")

	r = tt.check()
	assert.Equal(t, len(keys), r.Tuples)
	assert.Equal(t, 0, r.FreePages)
	assert.Equal(t, headers, r.HeaderPages)
	assert.Equal(t, keys, tt.scan(nil, false))
}

// Descending inserts always split internal pages to the left, leaving the
// right halves at the smallest size a split produces.
func TestInternalOccupancyAfterSplit(t *testing.T) {
	t.Parallel()

	tt := newTestTable(t, 64, 64)
	for i, k := range reversed(seq(1, 300)) {
		tt.insert(k)
		if i%10 == 0 {
			tt.check()
		}
	}
	require.GreaterOrEqual(t, tt.check().Height, 4)

	ws := make(writeSet)
	root := tt.root()
	queue := []primitives.PageID{root}
	atBound := 0
	for len(queue) > 0 {
		pid := queue[0]
		queue = queue[1:]
		if pid.Kind != primitives.Internal {
			continue
		}
		p, err := fetch[*base.InternalPage](tt.f, ws, pid, ReadOnly)
		require.NoError(t, err)
		queue = append(queue, p.Children()...)
		if pid == root {
			continue
		}
		require.Equal(t, 6, p.MaxEntries())
		assert.LessOrEqual(t, p.NumEmptySlots(), internalMaxEmpty(p))
		if p.NumEmptySlots() == internalMaxEmpty(p) {
			atBound++
		}
	}
	assert.Positive(t, atBound)

	// Deleting one key from the right edge must not count an internal page
	// at the split bound as underfull.
	tt.delete(300)
	tt.check()
}

func TestScanPredicates(t *testing.T) {
	t.Parallel()

	tt := newTestTable(t, 64, 32)
	tt.insert(shuffled(rand.New(rand.NewSource(3)), seq(1, 50))...)

	pred := func(op tuple.Op, v int) *tuple.Predicate {
		return tuple.NewPredicate(op, tuple.IntField(v))
	}
	tests := []struct {
		name    string
		pred    *tuple.Predicate
		reverse bool
		want    []int
	}{
		{"all", nil, false, seq(1, 50)},
		{"equals", pred(tuple.Equals, 17), false, []int{17}},
		{"equals missing", pred(tuple.Equals, 99), false, []int{}},
		{"greater", pred(tuple.GreaterThan, 45), false, seq(46, 50)},
		{"greater or equal", pred(tuple.GreaterThanOrEq, 45), false, seq(45, 50)},
		{"less", pred(tuple.LessThan, 4), false, seq(1, 3)},
		{"less or equal", pred(tuple.LessThanOrEq, 4), false, seq(1, 4)},
		{"reverse all", nil, true, reversed(seq(1, 50))},
		{"reverse equals", pred(tuple.Equals, 33), true, []int{33}},
		{"reverse greater or equal", pred(tuple.GreaterThanOrEq, 47), true, []int{50, 49, 48, 47}},
		{"reverse greater", pred(tuple.GreaterThan, 47), true, []int{50, 49, 48}},
		{"reverse less", pred(tuple.LessThan, 3), true, []int{2, 1}},
		{"reverse less or equal", pred(tuple.LessThanOrEq, 3), true, []int{3, 2, 1}},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, tt.scan(tc.pred, tc.reverse), tc.name)
	}

	notTen := tt.scan(pred(tuple.NotEquals, 10), false)
	assert.Len(t, notTen, 49)
	assert.NotContains(t, notTen, 10)
}

func TestIteratorRewind(t *testing.T) {
	t.Parallel()

	tt := newTestTable(t, 64, 32)
	tt.insert(seq(1, 20)...)

	it := tt.f.Iterator(1, tuple.NewPredicate(tuple.LessThan, tuple.IntField(4)))
	var first []int
	for it.Next() {
		first = append(first, keyOf(it.Tuple()))
	}
	assert.False(t, it.Next())
	assert.Nil(t, it.Tuple())

	it.Rewind()
	var second []int
	for it.Next() {
		second = append(second, keyOf(it.Tuple()))
	}
	assert.Equal(t, []int{1, 2, 3}, first)
	assert.Equal(t, first, second)
}

func TestDuplicateKeys(t *testing.T) {
	t.Parallel()

	tt := newTestTable(t, 64, 256)
	for i := 0; i < 20; i++ {
		tup, err := tuple.Ints(tt.desc, 5, i)
		require.NoError(t, err)
		require.NoError(t, tt.pc.InsertTuple(1, tt.f.ID(), tup))
	}
	tt.insert(1, 2, 3, 4, 6, 7, 8, 9, 10)
	tt.check()

	eq := tuple.NewPredicate(tuple.Equals, tuple.IntField(5))
	assert.Len(t, tt.scan(eq, false), 20)
	assert.Len(t, tt.scan(eq, true), 20)

	var fives []*tuple.Tuple
	it := tt.f.Iterator(1, eq)
	for it.Next() {
		fives = append(fives, it.Tuple())
	}
	require.NoError(t, it.Err())
	for _, tup := range fives {
		require.NoError(t, tt.pc.DeleteTuple(1, tup))
	}

	assert.Empty(t, tt.scan(eq, false))
	assert.Equal(t, []int{1, 2, 3, 4, 6, 7, 8, 9, 10}, tt.scan(nil, false))
	assert.Equal(t, 9, tt.check().Tuples)
}

func TestRandomOperationsMatchOracle(t *testing.T) {
	t.Parallel()

	ops := 3000
	if testing.Short() {
		ops = 600
	}

	rng := rand.New(rand.NewSource(4))
	tt := newTestTable(t, 64, cache.MinCacheSize)
	oracle := btree.NewG[int](16, func(a, b int) bool { return a < b })
	var live []int

	for i := 1; i <= ops; i++ {
		if len(live) > 0 && rng.Intn(3) == 0 {
			j := rng.Intn(len(live))
			k := live[j]
			live[j] = live[len(live)-1]
			live = live[:len(live)-1]
			tt.delete(k)
			oracle.Delete(k)
		} else {
			k := rng.Intn(100000)
			for oracle.Has(k) {
				k = rng.Intn(100000)
			}
			tt.insert(k)
			oracle.ReplaceOrInsert(k)
			live = append(live, k)
		}

		if i%200 == 0 {
			want := make([]int, 0, oracle.Len())
			oracle.Ascend(func(k int) bool {
				want = append(want, k)
				return true
			})
			require.Equal(t, want, tt.scan(nil, false), "after %d operations", i)
			require.Equal(t, reversed(want), tt.scan(nil, true), "after %d operations", i)
			require.Equal(t, oracle.Len(), tt.check().Tuples)
		}
	}
	assert.Greater(t, tt.pc.Stats().Evictions, uint64(0))
}

func TestReopenKeepsTuples(t *testing.T) {
	t.Parallel()

	tt := newTestTable(t, 64, 16)
	tt.insert(shuffled(rand.New(rand.NewSource(5)), seq(1, 200))...)
	require.NoError(t, tt.f.Close())

	tt.open(64, 16)
	assert.Equal(t, seq(1, 200), tt.scan(nil, false))
	assert.Equal(t, 200, tt.check().Tuples)
	require.NoError(t, tt.f.Close())

	_, err := Open(tt.path, tt.desc, 0, tt.pc, Config{PageSize: 128})
	assert.ErrorIs(t, err, base.ErrInvalidPageSize)
}

func TestMutationErrors(t *testing.T) {
	t.Parallel()

	tt := newTestTable(t, 64, 16)
	tt.insert(1, 2)

	wrong, err := tuple.Ints(tuple.IntDesc(3, "g"), 1, 2, 3)
	require.NoError(t, err)
	_, err = tt.f.InsertTuple(1, wrong)
	assert.ErrorIs(t, err, base.ErrSchemaMismatch)

	loose, err := tuple.Ints(tt.desc, 1, 10)
	require.NoError(t, err)
	_, err = tt.f.DeleteTuple(1, loose)
	assert.ErrorIs(t, err, base.ErrNoRecordID)

	loose.SetRecordID(&primitives.RecordID{PageID: primitives.PageID{Table: tt.f.ID() + 1, No: 1, Kind: primitives.Leaf}})
	_, err = tt.f.DeleteTuple(1, loose)
	assert.ErrorIs(t, err, base.ErrTableMismatch)

	loose.SetRecordID(&primitives.RecordID{PageID: primitives.PageID{Table: tt.f.ID(), No: 1, Kind: primitives.Leaf}, Slot: 5})
	_, err = tt.f.DeleteTuple(1, loose)
	assert.ErrorIs(t, err, base.ErrSlotNotUsed)

	stored := tt.find(1)
	require.NoError(t, tt.pc.DeleteTuple(1, stored))
	assert.Nil(t, stored.RecordID())
	assert.Equal(t, []int{2}, tt.scan(nil, false))
}

func TestClosedFile(t *testing.T) {
	t.Parallel()

	tt := newTestTable(t, 64, 16)
	tt.insert(1)
	require.NoError(t, tt.f.Close())
	require.NoError(t, tt.f.Close())

	tup, err := tuple.Ints(tt.desc, 2, 20)
	require.NoError(t, err)
	assert.ErrorIs(t, tt.pc.InsertTuple(1, tt.f.ID(), tup), cache.ErrUnknownTable)
	_, err = tt.f.InsertTuple(1, tup)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = tt.f.Check()
	assert.ErrorIs(t, err, ErrClosed)

	it := tt.f.Iterator(1, nil)
	assert.False(t, it.Next())
	assert.ErrorIs(t, it.Err(), ErrClosed)
}
