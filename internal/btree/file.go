package btree

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"tabledb/internal/base"
	"tabledb/internal/cache"
	"tabledb/internal/storage"
	"tabledb/primitives"
	"tabledb/tuple"
)

var (
	ErrCorruption = errors.New("data corruption detected")
	ErrClosed     = errors.New("table file is closed")
)

// Logger matches the slog-style logger used by the database.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
}

type discardLogger struct{}

func (discardLogger) Error(string, ...any) {}

func (discardLogger) Warn(string, ...any) {}

func (discardLogger) Info(string, ...any) {}

// Config tunes a table file.
type Config struct {
	PageSize int    // Defaults to base.DefaultPageSize.
	Logger   Logger // Defaults to a no-op logger.
}

// File is a table stored as a B+Tree clustered on one key field. All page
// access goes through the shared page cache; File only performs raw page
// I/O when the cache asks for it.
type File struct {
	mu          sync.Mutex // serializes structural changes
	id          primitives.TableID
	path        string
	layout      *base.Layout
	store       *storage.File
	cache       *cache.PageCache
	log         Logger
	initialized atomic.Bool
	closed      atomic.Bool
}

var _ cache.TupleFile = (*File)(nil)

// Open opens the table file at path, creating it if needed, and registers it
// with pc. An existing file must have been created with the same page size.
func Open(path string, desc *tuple.TupleDesc, keyField int, pc *cache.PageCache, cfg Config) (*File, error) {
	if cfg.PageSize == 0 {
		cfg.PageSize = base.DefaultPageSize
	}
	if cfg.Logger == nil {
		cfg.Logger = discardLogger{}
	}
	layout, err := base.NewLayout(cfg.PageSize, desc, keyField)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(path, cfg.PageSize)
	if err != nil {
		return nil, err
	}

	f := &File{
		id:     primitives.TableIDFromPath(path),
		path:   path,
		layout: layout,
		store:  store,
		cache:  pc,
		log:    cfg.Logger,
	}

	empty, err := store.Empty()
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	if !empty {
		data, err := store.ReadRootPtr()
		if err == nil {
			_, err = base.DecodeRootPtrPage(primitives.RootPtrID(f.id), cfg.PageSize, data)
		}
		if err != nil {
			_ = store.Close()
			return nil, errors.WithMessagef(err, "open %s", path)
		}
		f.initialized.Store(true)
	}

	pc.Register(f)
	return f, nil
}

func (f *File) ID() primitives.TableID { return f.id }

func (f *File) Path() string { return f.path }

func (f *File) Desc() *tuple.TupleDesc { return f.layout.Desc() }

func (f *File) KeyField() int { return f.layout.KeyField() }

func (f *File) Layout() *base.Layout { return f.layout }

// NumPages returns the number of pages after the root pointer record.
func (f *File) NumPages() (primitives.PageNo, error) {
	return f.store.NumPages()
}

// IOStats returns raw file I/O counters.
func (f *File) IOStats() storage.Stats { return f.store.Stats() }

// ReadPage reads and decodes pid from disk. Callers other than the page
// cache should use the cache instead.
func (f *File) ReadPage(pid primitives.PageID) (base.Page, error) {
	if pid.Table != f.id {
		return nil, errors.Wrapf(base.ErrTableMismatch, "read %s from %s", pid, f.path)
	}
	if pid.Kind == primitives.RootPtr {
		data, err := f.store.ReadRootPtr()
		if err != nil {
			return nil, err
		}
		return base.DecodeRootPtrPage(pid, f.layout.PageSize(), data)
	}

	buf := f.store.GetBuffer()
	defer f.store.PutBuffer(buf)
	if err := f.store.ReadPage(pid.No, buf); err != nil {
		return nil, err
	}
	return base.Decode(pid, f.layout, buf)
}

// WritePage writes p to its place in the file.
func (f *File) WritePage(p base.Page) error {
	pid := p.ID()
	if pid.Table != f.id {
		return errors.Wrapf(base.ErrTableMismatch, "write %s to %s", pid, f.path)
	}
	switch p.(type) {
	case *base.RootPtrPage:
		return f.store.WriteRootPtr(p.Bytes())
	case *base.HeaderPage, *base.LeafPage, *base.InternalPage:
		return f.store.WritePage(pid.No, p.Bytes())
	default:
		return errors.Errorf("write %s: unknown page type %T", pid, p)
	}
}

// Sync flushes the file's written pages to stable storage.
func (f *File) Sync() error {
	return f.store.Sync()
}

// Close writes back the file's dirty cached pages, drops them from the
// cache and closes the file.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed.Swap(true) {
		return nil
	}
	err := f.cache.Unregister(f.id)
	if err == nil {
		err = f.store.Sync()
	}
	if cerr := f.store.Close(); err == nil {
		err = cerr
	}
	return err
}

// ensureInitialized writes the root pointer and an empty root leaf to an
// empty file.
func (f *File) ensureInitialized() error {
	if f.closed.Load() {
		return ErrClosed
	}
	if f.initialized.Load() {
		return nil
	}
	empty, err := f.store.Empty()
	if err != nil {
		return err
	}
	if empty {
		rp := base.NewRootPtrPage(f.id, f.layout.PageSize())
		if err := rp.SetRoot(primitives.PageID{Table: f.id, No: 1, Kind: primitives.Leaf}); err != nil {
			return err
		}
		if err := f.store.WritePage(1, make([]byte, f.layout.PageSize())); err != nil {
			return err
		}
		if err := f.store.WriteRootPtr(rp.Bytes()); err != nil {
			return err
		}
		f.log.Info("initialized table file", "path", f.path, "page_size", f.layout.PageSize())
	}
	f.initialized.Store(true)
	return nil
}

// rootID returns the current root page.
func (f *File) rootID(ws writeSet) (primitives.PageID, error) {
	rp, err := fetch[*base.RootPtrPage](f, ws, primitives.RootPtrID(f.id), ReadOnly)
	if err != nil {
		return primitives.PageID{}, err
	}
	root, ok := rp.Root()
	if !ok {
		return primitives.PageID{}, errors.Wrap(ErrCorruption, "root pointer has no root")
	}
	return root, nil
}

// maxEmptySlots is the most empty slots a non-root page may have before it
// must borrow from or merge with a sibling.
func maxEmptySlots(slots int) int {
	return slots - slots/2
}

func leafMaxEmpty(p *base.LeafPage) int {
	return maxEmptySlots(p.MaxTuples())
}

// internalMaxEmpty counts child slots, of which there is one more than key
// slots. A split of a full page with an even number of keys leaves the
// right half exactly at this bound.
func internalMaxEmpty(p *base.InternalPage) int {
	return maxEmptySlots(p.MaxEntries() + 1)
}
