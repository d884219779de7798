package base

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabledb/primitives"
	"tabledb/tuple"
)

const testTable primitives.TableID = 7

func testLayout(t *testing.T, pageSize, fields int) *Layout {
	t.Helper()
	l, err := NewLayout(pageSize, tuple.IntDesc(fields, "f"), 0)
	require.NoError(t, err)
	return l
}

func leafID(no primitives.PageNo) primitives.PageID {
	return primitives.PageID{Table: testTable, No: no, Kind: primitives.Leaf}
}

func internalID(no primitives.PageNo) primitives.PageID {
	return primitives.PageID{Table: testTable, No: no, Kind: primitives.Internal}
}

func headerID(no primitives.PageNo) primitives.PageID {
	return primitives.PageID{Table: testTable, No: no, Kind: primitives.Header}
}

func intTuple(t *testing.T, l *Layout, key int) *tuple.Tuple {
	t.Helper()
	values := make([]int, l.Desc().NumFields())
	for i := range values {
		values[i] = key
	}
	tup, err := tuple.Ints(l.Desc(), values...)
	require.NoError(t, err)
	return tup
}

func keys(p *LeafPage) []int {
	var out []int
	for _, t := range p.Tuples() {
		out = append(out, int(t.Field(0).(tuple.IntField)))
	}
	return out
}

// Layout Tests

func TestLayoutCapacity(t *testing.T) {
	t.Parallel()

	l := testLayout(t, DefaultPageSize, 2)
	assert.Equal(t, 502, l.MaxTuples())
	assert.Equal(t, 503, l.MaxEntries())
	assert.Equal(t, (DefaultPageSize-8)*8, l.HeaderSlots())

	small := testLayout(t, 64, 2)
	assert.Equal(t, 6, small.MaxTuples())
	assert.Equal(t, 6, small.MaxEntries())

	_, err := NewLayout(16, tuple.IntDesc(2, "f"), 0)
	assert.ErrorIs(t, err, ErrInvalidPageSize)

	_, err = NewLayout(DefaultPageSize, tuple.IntDesc(2, "f"), 2)
	assert.Error(t, err)
}

// Root Pointer Tests

func TestRootPtrRoundTrip(t *testing.T) {
	t.Parallel()

	p := NewRootPtrPage(testTable, DefaultPageSize)
	_, ok := p.Root()
	assert.False(t, ok)

	require.NoError(t, p.SetRoot(internalID(9)))
	require.NoError(t, p.SetHeaderID(headerID(4)))
	assert.Error(t, p.SetRoot(headerID(3)))

	data := p.Bytes()
	require.Len(t, data, RootPtrSize)

	got, err := DecodeRootPtrPage(primitives.RootPtrID(testTable), DefaultPageSize, data)
	require.NoError(t, err)
	root, ok := got.Root()
	require.True(t, ok)
	assert.Equal(t, internalID(9), root)
	hdr, ok := got.HeaderID()
	require.True(t, ok)
	assert.Equal(t, headerID(4), hdr)
	assert.Equal(t, data, got.Bytes())
}

func TestRootPtrValidation(t *testing.T) {
	t.Parallel()

	id := primitives.RootPtrID(testTable)
	p := NewRootPtrPage(testTable, DefaultPageSize)
	require.NoError(t, p.SetRoot(leafID(1)))
	good := p.Bytes()

	_, err := DecodeRootPtrPage(id, 8192, good)
	assert.ErrorIs(t, err, ErrInvalidPageSize)

	bad := append([]byte(nil), good...)
	bad[12] ^= 0xFF
	_, err = DecodeRootPtrPage(id, DefaultPageSize, bad)
	assert.ErrorIs(t, err, ErrInvalidMagicNumber)

	bad = append([]byte(nil), good...)
	bad[0] ^= 0x01
	_, err = DecodeRootPtrPage(id, DefaultPageSize, bad)
	assert.ErrorIs(t, err, ErrInvalidChecksum)

	_, err = DecodeRootPtrPage(id, DefaultPageSize, good[:10])
	assert.ErrorIs(t, err, ErrInvalidPageSize)

	_, err = DecodeRootPtrPage(leafID(1), DefaultPageSize, good)
	assert.ErrorIs(t, err, ErrKindMismatch)
}

// Header Page Tests

func TestHeaderPage(t *testing.T) {
	t.Parallel()

	p := NewHeaderPage(headerID(3), 64)
	assert.Equal(t, 56*8, p.NumSlots())
	assert.Equal(t, 0, p.EmptySlot())

	p.Init()
	assert.Equal(t, -1, p.EmptySlot())
	assert.Equal(t, 0, p.NumEmptySlots())

	p.MarkSlotUsed(42, false)
	p.MarkSlotUsed(17, false)
	assert.Equal(t, 17, p.EmptySlot())
	assert.Equal(t, 2, p.NumEmptySlots())

	require.NoError(t, p.SetNext(headerID(9)))
	require.NoError(t, p.SetPrev(headerID(1)))
	assert.Error(t, p.SetNext(leafID(2)))

	got, err := DecodeHeaderPage(headerID(3), 64, p.Bytes())
	require.NoError(t, err)
	assert.False(t, got.IsSlotUsed(42))
	assert.True(t, got.IsSlotUsed(43))
	next, ok := got.Next()
	require.True(t, ok)
	assert.Equal(t, headerID(9), next)
	prev, ok := got.Prev()
	require.True(t, ok)
	assert.Equal(t, headerID(1), prev)
}

// Leaf Page Tests

func TestLeafInsertKeepsOrder(t *testing.T) {
	t.Parallel()

	l := testLayout(t, 64, 2)
	p := NewLeafPage(leafID(1), l)
	for _, k := range []int{50, 10, 30, 20, 40, 60} {
		require.NoError(t, p.InsertTuple(intTuple(t, l, k)))
	}
	assert.Equal(t, []int{10, 20, 30, 40, 50, 60}, keys(p))
	assert.Equal(t, 0, p.NumEmptySlots())

	err := p.InsertTuple(intTuple(t, l, 70))
	assert.ErrorIs(t, err, ErrPageFull)

	for i := range p.MaxTuples() {
		rid := p.Tuple(i).RecordID()
		require.NotNil(t, rid)
		assert.Equal(t, primitives.RecordID{PageID: leafID(1), Slot: i}, *rid)
	}
}

func TestLeafInsertIntoHoles(t *testing.T) {
	t.Parallel()

	l := testLayout(t, 64, 2)
	p := NewLeafPage(leafID(1), l)
	var stored []*tuple.Tuple
	for _, k := range []int{10, 20, 30, 40, 50, 60} {
		tup := intTuple(t, l, k)
		require.NoError(t, p.InsertTuple(tup))
		stored = append(stored, tup)
	}

	// Open holes at the front and in the middle, then fill them with keys
	// that belong elsewhere.
	require.NoError(t, p.DeleteTuple(stored[0]))
	require.NoError(t, p.DeleteTuple(stored[3]))
	assert.Nil(t, stored[0].RecordID())

	require.NoError(t, p.InsertTuple(intTuple(t, l, 55)))
	require.NoError(t, p.InsertTuple(intTuple(t, l, 5)))
	assert.Equal(t, []int{5, 20, 30, 50, 55, 60}, keys(p))

	for i := range p.MaxTuples() {
		if tup := p.Tuple(i); tup != nil {
			assert.Equal(t, i, tup.RecordID().Slot)
		}
	}
}

func TestLeafDeleteChecks(t *testing.T) {
	t.Parallel()

	l := testLayout(t, 64, 2)
	p := NewLeafPage(leafID(1), l)
	tup := intTuple(t, l, 1)
	require.NoError(t, p.InsertTuple(tup))

	other := NewLeafPage(leafID(2), l)
	assert.ErrorIs(t, other.DeleteTuple(tup), ErrWrongPage)

	assert.ErrorIs(t, p.DeleteTuple(intTuple(t, l, 1)), ErrNoRecordID)

	impostor := intTuple(t, l, 2)
	impostor.SetRecordID(tup.RecordID())
	assert.ErrorIs(t, p.DeleteTuple(impostor), ErrRecordMismatch)

	require.NoError(t, p.DeleteTuple(tup))
	tup.SetRecordID(&primitives.RecordID{PageID: leafID(1), Slot: 0})
	assert.ErrorIs(t, p.DeleteTuple(tup), ErrSlotNotUsed)

	wrong := tuple.IntDesc(3, "f")
	bad, err := tuple.Ints(wrong, 1, 2, 3)
	require.NoError(t, err)
	assert.ErrorIs(t, p.InsertTuple(bad), ErrSchemaMismatch)
}

func TestLeafRoundTrip(t *testing.T) {
	t.Parallel()

	l := testLayout(t, 128, 3)
	id := leafID(4)

	empty := NewLeafPage(id, l)
	got, err := DecodeLeafPage(id, l, empty.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 0, got.NumTuples())
	assert.Equal(t, make([]byte, 128), got.Bytes())

	full := NewLeafPage(id, l)
	require.NoError(t, full.SetParentID(internalID(2)))
	require.NoError(t, full.SetLeftSibling(leafID(3)))
	require.NoError(t, full.SetRightSibling(leafID(5)))
	for k := full.MaxTuples(); k > 0; k-- {
		require.NoError(t, full.InsertTuple(intTuple(t, l, k*3)))
	}

	data := full.Bytes()
	got, err = DecodeLeafPage(id, l, data)
	require.NoError(t, err)
	assert.Equal(t, data, got.Bytes())
	assert.Equal(t, keys(full), keys(got))
	assert.Equal(t, internalID(2), got.ParentID())
	left, ok := got.LeftSibling()
	require.True(t, ok)
	assert.Equal(t, leafID(3), left)

	_, err = DecodeLeafPage(id, l, data[:100])
	assert.ErrorIs(t, err, ErrInvalidPageSize)
	_, err = DecodeLeafPage(internalID(4), l, data)
	assert.ErrorIs(t, err, ErrKindMismatch)
}

func TestLeafParentIsRootPtrByDefault(t *testing.T) {
	t.Parallel()

	l := testLayout(t, 64, 2)
	p := NewLeafPage(leafID(1), l)
	assert.Equal(t, primitives.RootPtrID(testTable), p.ParentID())

	assert.ErrorIs(t, p.SetParentID(leafID(2)), ErrKindMismatch)
	other := primitives.PageID{Table: testTable + 1, No: 2, Kind: primitives.Internal}
	assert.ErrorIs(t, p.SetParentID(other), ErrTableMismatch)
}

// Internal Page Tests

func TestInternalInsertEntries(t *testing.T) {
	t.Parallel()

	l := testLayout(t, 64, 2)
	p := NewInternalPage(internalID(1), l)

	_, err := p.InsertEntry(Entry{Key: tuple.IntField(20), Left: leafID(2), Right: leafID(3)})
	require.NoError(t, err)
	_, err = p.InsertEntry(Entry{Key: tuple.IntField(40), Left: leafID(3), Right: leafID(4)})
	require.NoError(t, err)
	// Split of leaf 3: new right child after it.
	_, err = p.InsertEntry(Entry{Key: tuple.IntField(30), Left: leafID(3), Right: leafID(5)})
	require.NoError(t, err)
	// New first child: matches the existing left-most child as right child.
	_, err = p.InsertEntry(Entry{Key: tuple.IntField(10), Left: leafID(6), Right: leafID(2)})
	require.NoError(t, err)

	assert.Equal(t, primitives.Leaf, p.ChildKind())
	assert.Equal(t, 4, p.NumEntries())
	assert.Equal(t, []primitives.PageID{leafID(6), leafID(2), leafID(3), leafID(5), leafID(4)}, p.Children())

	var got []int
	for _, e := range p.Entries() {
		got = append(got, int(e.Key.(tuple.IntField)))
	}
	assert.Equal(t, []int{10, 20, 30, 40}, got)

	_, err = p.InsertEntry(Entry{Key: tuple.IntField(50), Left: leafID(8), Right: leafID(9)})
	assert.ErrorIs(t, err, ErrInvalidEntry)
	_, err = p.InsertEntry(Entry{Key: tuple.IntField(5), Left: leafID(4), Right: leafID(9)})
	assert.ErrorIs(t, err, ErrKeyOrder)
	_, err = p.InsertEntry(Entry{Key: tuple.IntField(50), Left: internalID(4), Right: internalID(9)})
	assert.ErrorIs(t, err, ErrKindMismatch)
}

func TestInternalDeleteAndUpdate(t *testing.T) {
	t.Parallel()

	l := testLayout(t, 64, 2)
	p := NewInternalPage(internalID(1), l)
	for i, k := range []int{10, 20, 30} {
		_, err := p.InsertEntry(Entry{
			Key:   tuple.IntField(k),
			Left:  leafID(primitives.PageNo(i + 2)),
			Right: leafID(primitives.PageNo(i + 3)),
		})
		require.NoError(t, err)
	}
	assert.Equal(t, []primitives.PageID{leafID(2), leafID(3), leafID(4), leafID(5)}, p.Children())

	entries := p.Entries()
	require.NoError(t, p.DeleteKeyAndRightChild(entries[1]))
	assert.Equal(t, []primitives.PageID{leafID(2), leafID(3), leafID(5)}, p.Children())

	first, ok := p.FirstEntry()
	require.True(t, ok)
	require.NoError(t, p.DeleteKeyAndLeftChild(first))
	assert.Equal(t, []primitives.PageID{leafID(3), leafID(5)}, p.Children())

	// Deleting the same entry twice is rejected.
	assert.ErrorIs(t, p.DeleteKeyAndLeftChild(first), ErrSlotNotUsed)

	last, ok := p.LastEntry()
	require.True(t, ok)
	last.Key = tuple.IntField(25)
	last.Left = leafID(7)
	require.NoError(t, p.UpdateEntry(last))
	got, _ := p.FirstEntry()
	assert.Equal(t, tuple.IntField(25), got.Key)
	assert.Equal(t, leafID(7), got.Left)
	assert.Equal(t, leafID(5), got.Right)

	require.NoError(t, p.DeleteKeyAndRightChild(got))
	assert.Equal(t, 0, p.NumEntries())
	only, ok := p.FirstChild()
	require.True(t, ok)
	assert.Equal(t, leafID(7), only)
}

func TestInternalUpdateOrder(t *testing.T) {
	t.Parallel()

	l := testLayout(t, 64, 2)
	p := NewInternalPage(internalID(1), l)
	_, err := p.InsertEntry(Entry{Key: tuple.IntField(10), Left: leafID(2), Right: leafID(3)})
	require.NoError(t, err)
	e, err := p.InsertEntry(Entry{Key: tuple.IntField(20), Left: leafID(3), Right: leafID(4)})
	require.NoError(t, err)

	e.Key = tuple.IntField(5)
	assert.ErrorIs(t, p.UpdateEntry(e), ErrKeyOrder)
	e.Slot = 5
	assert.ErrorIs(t, p.UpdateEntry(e), ErrSlotNotUsed)
}

func TestInternalRoundTrip(t *testing.T) {
	t.Parallel()

	l := testLayout(t, 128, 2)
	id := internalID(3)

	empty := NewInternalPage(id, l)
	got, err := DecodeInternalPage(id, l, empty.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 0, got.NumEntries())
	assert.Equal(t, primitives.RootPtr, got.ChildKind())

	full := NewInternalPage(id, l)
	require.NoError(t, full.SetParentID(internalID(9)))
	for i := range full.MaxEntries() {
		_, err := full.InsertEntry(Entry{
			Key:   tuple.IntField(i * 10),
			Left:  internalID(primitives.PageNo(100 + i)),
			Right: internalID(primitives.PageNo(101 + i)),
		})
		require.NoError(t, err)
	}
	assert.Equal(t, 0, full.NumEmptySlots())

	data := full.Bytes()
	got, err = DecodeInternalPage(id, l, data)
	require.NoError(t, err)
	assert.Equal(t, data, got.Bytes())
	assert.Equal(t, full.Entries(), got.Entries())
	assert.Equal(t, primitives.Internal, got.ChildKind())
	assert.Equal(t, internalID(9), got.ParentID())
}

func TestDecodeDispatch(t *testing.T) {
	t.Parallel()

	l := testLayout(t, 64, 2)
	leaf := NewLeafPage(leafID(2), l)
	require.NoError(t, leaf.InsertTuple(intTuple(t, l, 3)))

	p, err := Decode(leafID(2), l, leaf.Bytes())
	require.NoError(t, err)
	_, ok := p.(*LeafPage)
	assert.True(t, ok)

	p, err = Decode(headerID(2), l, make([]byte, 64))
	require.NoError(t, err)
	_, ok = p.(*HeaderPage)
	assert.True(t, ok)
}

func TestDirtyMark(t *testing.T) {
	t.Parallel()

	l := testLayout(t, 64, 2)
	p := NewLeafPage(leafID(1), l)
	_, dirty := p.Dirty()
	assert.False(t, dirty)

	p.MarkDirty(12)
	txn, dirty := p.Dirty()
	assert.True(t, dirty)
	assert.Equal(t, primitives.TxnID(12), txn)

	p.MarkClean()
	_, dirty = p.Dirty()
	assert.False(t, dirty)
}
