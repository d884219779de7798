package storage

import (
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"tabledb/internal/base"
	"tabledb/primitives"
)

var (
	ErrLocked = errors.New("table file is locked by another process")
	ErrClosed = errors.New("table file is closed")
)

// File is the on-disk home of one table: a root pointer record followed by
// fixed size pages numbered from 1.
type File struct {
	mu       sync.Mutex
	file     *os.File
	path     string
	pageSize int
	bufPool  sync.Pool

	// Stats counters
	reads   atomic.Uint64
	writes  atomic.Uint64
	read    atomic.Uint64
	written atomic.Uint64
}

// Open opens or creates the table file at path and takes an exclusive
// advisory lock on it.
func Open(path string, pageSize int) (*File, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	if err := lockFile(file); err != nil {
		_ = file.Close()
		return nil, errors.Wrapf(err, "lock %s", path)
	}

	return &File{
		file:     file,
		path:     path,
		pageSize: pageSize,
		bufPool: sync.Pool{
			New: func() any {
				return make([]byte, pageSize)
			},
		},
	}, nil
}

func (f *File) Path() string { return f.path }

func (f *File) PageSize() int { return f.pageSize }

func (f *File) offset(no primitives.PageNo) int64 {
	return base.RootPtrSize + int64(no-1)*int64(f.pageSize)
}

// ReadRootPtr reads the root pointer record.
func (f *File) ReadRootPtr() ([]byte, error) {
	buf := make([]byte, base.RootPtrSize)
	if err := f.readAt(buf, 0); err != nil {
		return nil, errors.WithMessage(err, "read root pointer")
	}
	return buf, nil
}

// WriteRootPtr overwrites the root pointer record.
func (f *File) WriteRootPtr(data []byte) error {
	if len(data) != base.RootPtrSize {
		return errors.Errorf("root pointer is %d bytes, expected %d", len(data), base.RootPtrSize)
	}
	return errors.WithMessage(f.writeAt(data, 0), "write root pointer")
}

// ReadPage reads page no into buf, which must be one page long. Buffers from
// GetBuffer may be passed back to PutBuffer once decoded.
func (f *File) ReadPage(no primitives.PageNo, buf []byte) error {
	if no == primitives.NoPage {
		return errors.Errorf("read page 0")
	}
	if len(buf) != f.pageSize {
		return errors.Wrapf(base.ErrInvalidPageSize, "read buffer %d bytes", len(buf))
	}
	return errors.WithMessagef(f.readAt(buf, f.offset(no)), "read page %d", no)
}

// WritePage writes one page at page number no.
func (f *File) WritePage(no primitives.PageNo, data []byte) error {
	if no == primitives.NoPage {
		return errors.Errorf("write page 0")
	}
	if len(data) != f.pageSize {
		return errors.Wrapf(base.ErrInvalidPageSize, "write buffer %d bytes", len(data))
	}
	return errors.WithMessagef(f.writeAt(data, f.offset(no)), "write page %d", no)
}

// ZeroPage overwrites page no with zeroes.
func (f *File) ZeroPage(no primitives.PageNo) error {
	return f.WritePage(no, make([]byte, f.pageSize))
}

// AppendPage extends the file by one zeroed page and returns its number.
func (f *File) AppendPage() (primitives.PageNo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n, err := f.numPagesLocked()
	if err != nil {
		return 0, err
	}
	no := n + 1
	if err := f.writeFileAt(f.file, make([]byte, f.pageSize), f.offset(no)); err != nil {
		return 0, errors.WithMessagef(err, "append page %d", no)
	}
	return no, nil
}

// NumPages returns the number of pages after the root pointer record.
func (f *File) NumPages() (primitives.PageNo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.numPagesLocked()
}

func (f *File) numPagesLocked() (primitives.PageNo, error) {
	if f.file == nil {
		return 0, ErrClosed
	}
	info, err := f.file.Stat()
	if err != nil {
		return 0, err
	}
	if info.Size() < base.RootPtrSize {
		return 0, nil
	}
	return primitives.PageNo((info.Size() - base.RootPtrSize) / int64(f.pageSize)), nil
}

// Empty returns whether the file has no root pointer yet.
func (f *File) Empty() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return false, ErrClosed
	}
	info, err := f.file.Stat()
	if err != nil {
		return false, err
	}
	return info.Size() == 0, nil
}

// Sync flushes written pages to stable storage.
func (f *File) Sync() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return ErrClosed
	}
	return syncFile(f.file)
}

// Close releases the lock and closes the file.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return nil
	}
	err := unlockFile(f.file)
	if cerr := f.file.Close(); err == nil {
		err = cerr
	}
	f.file = nil
	return err
}

func (f *File) readAt(buf []byte, off int64) error {
	f.mu.Lock()
	file := f.file
	f.mu.Unlock()
	if file == nil {
		return ErrClosed
	}

	f.reads.Add(1)
	n, err := file.ReadAt(buf, off)
	f.read.Add(uint64(n))
	if err != nil && !(errors.Is(err, io.EOF) && n == len(buf)) {
		if errors.Is(err, io.EOF) {
			return errors.Errorf("short read: got %d bytes, expected %d", n, len(buf))
		}
		return err
	}
	return nil
}

func (f *File) writeAt(data []byte, off int64) error {
	f.mu.Lock()
	file := f.file
	f.mu.Unlock()
	return f.writeFileAt(file, data, off)
}

// writeFileAt does not touch f.mu, so callers holding it may use it.
func (f *File) writeFileAt(file *os.File, data []byte, off int64) error {
	if file == nil {
		return ErrClosed
	}

	f.writes.Add(1)
	n, err := file.WriteAt(data, off)
	f.written.Add(uint64(n))
	if err != nil {
		return err
	}
	if n != len(data) {
		return errors.Errorf("short write: wrote %d bytes, expected %d", n, len(data))
	}
	return nil
}

// GetBuffer gets a page sized buffer from the pool
func (f *File) GetBuffer() []byte {
	return f.bufPool.Get().([]byte)
}

// PutBuffer returns a buffer to the pool
func (f *File) PutBuffer(buf []byte) {
	if len(buf) == f.pageSize {
		f.bufPool.Put(buf)
	}
}

// Stats holds I/O statistics
type Stats struct {
	Reads   uint64
	Writes  uint64
	Read    uint64
	Written uint64
}

// Stats returns I/O statistics
func (f *File) Stats() Stats {
	return Stats{
		Reads:   f.reads.Load(),
		Writes:  f.writes.Load(),
		Read:    f.read.Load(),
		Written: f.written.Load(),
	}
}
