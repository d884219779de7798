package cache

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/elastic/go-freelru"
	"github.com/google/btree"
	"github.com/pkg/errors"

	"tabledb/internal/base"
	"tabledb/primitives"
	"tabledb/tuple"
)

var (
	ErrUnknownTable = errors.New("table is not registered with the page cache")
	ErrReadOnlyFile = errors.New("table file does not support tuple mutation")
)

const (
	MinCacheSize = 16 // Minimum: hold a root-to-leaf path plus split siblings
)

// PageFile reads and writes the pages of one table.
type PageFile interface {
	ID() primitives.TableID
	ReadPage(pid primitives.PageID) (base.Page, error)
	WritePage(p base.Page) error
}

// TupleFile is a PageFile that can add and remove tuples. Both mutations
// return every page they modified.
type TupleFile interface {
	PageFile
	InsertTuple(txn primitives.TxnID, t *tuple.Tuple) ([]base.Page, error)
	DeleteTuple(txn primitives.TxnID, t *tuple.Tuple) ([]base.Page, error)
}

// PageCache is a bounded cache of decoded pages shared by every table. Pages
// are evicted least recently used first; a dirty page is written to its file
// before it leaves the cache.
type PageCache struct {
	mu       sync.Mutex
	capacity int
	lru      *freelru.LRU[primitives.PageID, base.Page]
	files    map[primitives.TableID]PageFile

	// Stats
	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
	flushes   atomic.Uint64
}

func hashPageID(id primitives.PageID) uint32 {
	var buf [13]byte
	binary.LittleEndian.PutUint64(buf[0:], uint64(id.Table))
	binary.LittleEndian.PutUint32(buf[8:], uint32(id.No))
	buf[12] = byte(id.Kind)
	return uint32(xxhash.Sum64(buf[:]))
}

// New creates a page cache holding at most capacity pages.
func New(capacity int) (*PageCache, error) {
	if capacity < 1 {
		return nil, errors.Errorf("page cache capacity %d", capacity)
	}
	lru, err := freelru.New[primitives.PageID, base.Page](uint32(capacity), hashPageID)
	if err != nil {
		return nil, errors.Wrap(err, "create lru")
	}
	return &PageCache{
		capacity: capacity,
		lru:      lru,
		files:    make(map[primitives.TableID]PageFile),
	}, nil
}

// Register makes the pages of f reachable through the cache.
func (c *PageCache) Register(f PageFile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files[f.ID()] = f
}

// Unregister flushes and drops every cached page of table, then forgets the
// table.
func (c *PageCache) Unregister(table primitives.TableID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, pid := range c.lru.Keys() {
		if pid.Table != table {
			continue
		}
		if err := c.flushLocked(pid); err != nil {
			return err
		}
		c.lru.Remove(pid)
	}
	delete(c.files, table)
	return nil
}

// Get returns the page pid, reading it from its table file on a miss.
func (c *PageCache) Get(pid primitives.PageID) (base.Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.lru.Get(pid); ok {
		c.hits.Add(1)
		return p, nil
	}
	c.misses.Add(1)

	f, ok := c.files[pid.Table]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownTable, "get %s", pid)
	}
	p, err := f.ReadPage(pid)
	if err != nil {
		return nil, err
	}
	if err := c.putLocked(pid, p); err != nil {
		return nil, err
	}
	return p, nil
}

// InsertTuple adds t to table on behalf of txn. Pages the file modified are
// marked dirty and kept in the cache.
func (c *PageCache) InsertTuple(txn primitives.TxnID, table primitives.TableID, t *tuple.Tuple) error {
	f, err := c.tupleFile(table)
	if err != nil {
		return err
	}
	pages, err := f.InsertTuple(txn, t)
	if err != nil {
		return err
	}
	return c.markDirty(txn, pages)
}

// DeleteTuple removes t from the table named by its record id.
func (c *PageCache) DeleteTuple(txn primitives.TxnID, t *tuple.Tuple) error {
	rid := t.RecordID()
	if rid == nil {
		return base.ErrNoRecordID
	}
	f, err := c.tupleFile(rid.PageID.Table)
	if err != nil {
		return err
	}
	pages, err := f.DeleteTuple(txn, t)
	if err != nil {
		return err
	}
	return c.markDirty(txn, pages)
}

func (c *PageCache) tupleFile(table primitives.TableID) (TupleFile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, ok := c.files[table]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownTable, "table %x", uint64(table))
	}
	tf, ok := f.(TupleFile)
	if !ok {
		return nil, errors.Wrapf(ErrReadOnlyFile, "table %x", uint64(table))
	}
	return tf, nil
}

func (c *PageCache) markDirty(txn primitives.TxnID, pages []base.Page) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range pages {
		p.MarkDirty(txn)
		if err := c.putLocked(p.ID(), p); err != nil {
			return err
		}
	}
	return nil
}

// putLocked inserts or replaces p, evicting first when the cache is full.
func (c *PageCache) putLocked(pid primitives.PageID, p base.Page) error {
	if !c.lru.Contains(pid) && c.lru.Len() >= c.capacity {
		if err := c.evictLocked(); err != nil {
			return err
		}
	}
	c.lru.Add(pid, p)
	return nil
}

// Evict removes the least recently used page, writing it first if dirty.
func (c *PageCache) Evict() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictLocked()
}

func (c *PageCache) evictLocked() error {
	pid, p, ok := c.lru.RemoveOldest()
	if !ok {
		return nil
	}
	if _, dirty := p.Dirty(); dirty {
		if err := c.writeLocked(p); err != nil {
			// Keep the page so its changes are not lost.
			c.lru.Add(pid, p)
			return errors.WithMessagef(err, "evict %s", pid)
		}
	}
	c.evictions.Add(1)
	return nil
}

// Discard drops pid without writing it.
func (c *PageCache) Discard(pid primitives.PageID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(pid)
}

// Flush writes pid if it is cached and dirty.
func (c *PageCache) Flush(pid primitives.PageID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushLocked(pid)
}

// FlushAll writes every dirty page.
func (c *PageCache) FlushAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushDirtyLocked(func(primitives.TxnID) bool { return true })
}

// FlushTxn writes the pages dirtied by txn.
func (c *PageCache) FlushTxn(txn primitives.TxnID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushDirtyLocked(func(owner primitives.TxnID) bool { return owner == txn })
}

// flushDirtyLocked writes the dirty pages whose owner matches, in file
// order so that neighbouring pages are written one after another.
func (c *PageCache) flushDirtyLocked(match func(primitives.TxnID) bool) error {
	dirty := btree.NewG[base.Page](8, pageLess)
	for _, pid := range c.lru.Keys() {
		p, ok := c.lru.Peek(pid)
		if !ok {
			continue
		}
		if owner, ok := p.Dirty(); ok && match(owner) {
			dirty.ReplaceOrInsert(p)
		}
	}

	var err error
	dirty.Ascend(func(p base.Page) bool {
		err = c.writeLocked(p)
		return err == nil
	})
	return err
}

func pageLess(a, b base.Page) bool {
	x, y := a.ID(), b.ID()
	if x.Table != y.Table {
		return x.Table < y.Table
	}
	if x.No != y.No {
		return x.No < y.No
	}
	return x.Kind < y.Kind
}

func (c *PageCache) flushLocked(pid primitives.PageID) error {
	p, ok := c.lru.Peek(pid)
	if !ok {
		return nil
	}
	if _, dirty := p.Dirty(); !dirty {
		return nil
	}
	return c.writeLocked(p)
}

func (c *PageCache) writeLocked(p base.Page) error {
	f, ok := c.files[p.ID().Table]
	if !ok {
		return errors.Wrapf(ErrUnknownTable, "write %s", p.ID())
	}
	if err := f.WritePage(p); err != nil {
		return err
	}
	p.MarkClean()
	c.flushes.Add(1)
	return nil
}

// Contains reports whether pid is cached, without touching recency.
func (c *PageCache) Contains(pid primitives.PageID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Contains(pid)
}

// Len returns the number of cached pages.
func (c *PageCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *PageCache) Capacity() int { return c.capacity }

type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Flushes   uint64
}

// Stats returns cache statistics
func (c *PageCache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Flushes:   c.flushes.Load(),
	}
}

// ResetStats zeroes the counters.
func (c *PageCache) ResetStats() {
	c.hits.Store(0)
	c.misses.Store(0)
	c.evictions.Store(0)
	c.flushes.Store(0)
}
