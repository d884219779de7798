package tabledb

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"tabledb/internal/btree"
	"tabledb/internal/cache"
	"tabledb/primitives"
	"tabledb/tuple"
)

// TableExt is the file extension of table files inside the database
// directory.
const TableExt = ".tbl"

// DB is a directory of table files sharing one page cache. Table schemas
// are not persisted: every session declares its tables with CreateTable.
type DB struct {
	mu     sync.RWMutex
	dir    string
	opts   DBOptions
	cache  *cache.PageCache
	tables map[string]*Table
	byID   map[primitives.TableID]*Table
	closed bool

	nextTxnID atomic.Uint64 // Monotonic transaction ID counter
}

// Open opens the database directory, creating it if needed.
func Open(dir string, options ...DBOption) (*DB, error) {
	opts := DefaultDBOptions()
	for _, opt := range options {
		opt(&opts)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create database directory")
	}
	pc, err := cache.New(opts.cachePages)
	if err != nil {
		return nil, err
	}

	return &DB{
		dir:    dir,
		opts:   opts,
		cache:  pc,
		tables: make(map[string]*Table),
		byID:   make(map[primitives.TableID]*Table),
	}, nil
}

// Dir returns the database directory.
func (d *DB) Dir() string { return d.dir }

// CreateTable opens the table file name, creating it if it does not exist,
// with schema desc clustered on keyField. An existing file keeps its tuples;
// the caller is responsible for declaring the schema it was written with.
func (d *DB) CreateTable(name string, desc *tuple.TupleDesc, keyField int) (*Table, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return nil, errors.Wrapf(ErrInvalidTableName, "%q", name)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrDatabaseClosed
	}
	if _, ok := d.tables[name]; ok {
		return nil, errors.Wrapf(ErrTableExists, "%q", name)
	}

	path := filepath.Join(d.dir, name+TableExt)
	f, err := btree.Open(path, desc, keyField, d.cache, btree.Config{
		PageSize: d.opts.pageSize,
		Logger:   d.opts.logger,
	})
	if err != nil {
		return nil, err
	}

	t := &Table{name: name, file: f}
	d.tables[name] = t
	d.byID[f.ID()] = t
	d.opts.logger.Info("opened table", "table", name, "path", path, "schema", desc.String())
	return t, nil
}

// Table returns a table created earlier in this session.
func (d *DB) Table(name string) (*Table, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return nil, ErrDatabaseClosed
	}
	t, ok := d.tables[name]
	if !ok {
		return nil, errors.Wrapf(ErrTableNotFound, "%q", name)
	}
	return t, nil
}

// Tables returns the names of the open tables in sorted order.
func (d *DB) Tables() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.tables))
	for name := range d.tables {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (d *DB) tableByID(id primitives.TableID) (*Table, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	t, ok := d.byID[id]
	if !ok {
		return nil, errors.Wrapf(ErrTableNotFound, "table id %x", uint64(id))
	}
	return t, nil
}

// Begin starts a transaction. A transaction only groups the pages it dirties
// so that Commit can flush them; it provides no isolation.
func (d *DB) Begin(writable bool) (*Tx, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return nil, ErrDatabaseClosed
	}
	return &Tx{
		db:       d,
		id:       primitives.TxnID(d.nextTxnID.Add(1)),
		writable: writable,
		touched:  make(map[primitives.TableID]*Table),
	}, nil
}

// View executes a function within a read-only transaction.
func (d *DB) View(fn func(*Tx) error) error {
	tx, err := d.Begin(false)
	if err != nil {
		return err
	}
	defer tx.finish()

	return fn(tx)
}

// Update executes a function within a read-write transaction.
// If the function returns nil, the transaction is committed. If it returns
// an error the pages it dirtied stay in the cache and are written back
// later; there is no rollback.
func (d *DB) Update(fn func(*Tx) error) error {
	tx, err := d.Begin(true)
	if err != nil {
		return err
	}
	defer tx.finish()

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}

// Flush writes every dirty cached page and syncs every table file.
func (d *DB) Flush() error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrDatabaseClosed
	}
	if err := d.cache.FlushAll(); err != nil {
		d.opts.logger.Error("flush failed", "error", err)
		return err
	}
	for _, t := range d.tables {
		if err := t.file.Sync(); err != nil {
			return errors.WithMessagef(err, "sync %s", t.name)
		}
	}
	return nil
}

// Stats reports page cache and file I/O counters.
type Stats struct {
	CachedPages  int
	CacheHits    uint64
	CacheMisses  uint64
	Evictions    uint64
	PagesFlushed uint64
	PageReads    uint64
	PageWrites   uint64
	BytesRead    uint64
	BytesWritten uint64
}

func (d *DB) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	cs := d.cache.Stats()
	s := Stats{
		CachedPages:  d.cache.Len(),
		CacheHits:    cs.Hits,
		CacheMisses:  cs.Misses,
		Evictions:    cs.Evictions,
		PagesFlushed: cs.Flushes,
	}
	for _, t := range d.tables {
		io := t.file.IOStats()
		s.PageReads += io.Reads
		s.PageWrites += io.Writes
		s.BytesRead += io.Read
		s.BytesWritten += io.Written
	}
	return s
}

// Close writes back every dirty page, syncs and closes every table file.
// The first error is returned; remaining tables are still closed.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	var first error
	for name, t := range d.tables {
		if err := t.file.Close(); err != nil {
			d.opts.logger.Error("close table failed", "table", name, "error", err)
			if first == nil {
				first = errors.WithMessagef(err, "close %s", name)
			}
			continue
		}
		d.opts.logger.Info("closed table", "table", name)
	}
	return first
}
