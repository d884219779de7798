// Package export writes and reads compressed dumps of a table's tuples.
//
// A dump starts with a header naming the schema and the codec, followed by
// compressed blocks of encoded tuples:
//
//	header: magic "TDBX" | version u8 | codec u16 | key field u16 | fields u16
//	        then per field: type u8 | name length u16 | name
//	block:  raw length u32 | compressed length u32 | xxhash64(raw) u64 | data
//	end:    a block with raw length 0, then the tuple count u64
//
// All integers are little endian.
package export

import (
	"encoding/binary"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"

	"tabledb/tuple"
)

var (
	ErrInvalidMagic     = errors.New("not a table dump")
	ErrInvalidVersion   = errors.New("unsupported dump version")
	ErrUnsupportedCodec = errors.New("unsupported compression codec")
	ErrInvalidChecksum  = errors.New("dump block checksum mismatch")
	ErrTruncated        = errors.New("dump is truncated")
)

const (
	Magic   = "TDBX"
	Version = 1

	// BlockSize is the raw size a block grows to before it is compressed.
	BlockSize = 64 << 10

	blockHeaderSize = 16
)

// Writer encodes tuples into a dump.
type Writer struct {
	w        io.Writer
	desc     *tuple.TupleDesc
	compress compressor
	block    []byte
	count    uint64
	closed   bool
}

// NewWriter writes the dump header for a table with schema desc clustered on
// keyField.
func NewWriter(w io.Writer, desc *tuple.TupleDesc, keyField int, codec Codec) (*Writer, error) {
	compress, _, err := codecFuncs(codec)
	if err != nil {
		return nil, err
	}

	hdr := make([]byte, 0, 64)
	hdr = append(hdr, Magic...)
	hdr = append(hdr, Version)
	hdr = binary.LittleEndian.AppendUint16(hdr, uint16(codec))
	hdr = binary.LittleEndian.AppendUint16(hdr, uint16(keyField))
	hdr = binary.LittleEndian.AppendUint16(hdr, uint16(desc.NumFields()))
	for i := 0; i < desc.NumFields(); i++ {
		name := desc.FieldName(i)
		hdr = append(hdr, byte(desc.FieldType(i)))
		hdr = binary.LittleEndian.AppendUint16(hdr, uint16(len(name)))
		hdr = append(hdr, name...)
	}
	if _, err := w.Write(hdr); err != nil {
		return nil, errors.Wrap(err, "write dump header")
	}

	return &Writer{
		w:        w,
		desc:     desc,
		compress: compress,
		block:    make([]byte, 0, BlockSize),
	}, nil
}

// Write appends t to the dump.
func (w *Writer) Write(t *tuple.Tuple) error {
	if w.closed {
		return errors.New("dump writer is closed")
	}
	if !t.Desc().Equals(w.desc) {
		return errors.Errorf("dump of %s cannot hold %s", w.desc, t.Desc())
	}
	size := w.desc.Size()
	if len(w.block)+size > BlockSize {
		if err := w.flush(); err != nil {
			return err
		}
	}
	n := len(w.block)
	w.block = w.block[:n+size]
	if err := t.Encode(w.block[n:]); err != nil {
		w.block = w.block[:n]
		return err
	}
	w.count++
	return nil
}

// Count returns the number of tuples written so far.
func (w *Writer) Count() uint64 { return w.count }

// Close writes the last block and the trailer. It does not close the
// underlying writer.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.flush(); err != nil {
		return err
	}
	trailer := make([]byte, blockHeaderSize+8)
	binary.LittleEndian.PutUint64(trailer[blockHeaderSize:], w.count)
	_, err := w.w.Write(trailer)
	return errors.Wrap(err, "write dump trailer")
}

func (w *Writer) flush() error {
	if len(w.block) == 0 {
		return nil
	}
	data, err := w.compress(w.block)
	if err != nil {
		return errors.Wrap(err, "compress dump block")
	}
	var hdr [blockHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:], uint32(len(w.block)))
	binary.LittleEndian.PutUint32(hdr[4:], uint32(len(data)))
	binary.LittleEndian.PutUint64(hdr[8:], xxhash.Sum64(w.block))
	if _, err := w.w.Write(hdr[:]); err != nil {
		return errors.Wrap(err, "write dump block")
	}
	if _, err := w.w.Write(data); err != nil {
		return errors.Wrap(err, "write dump block")
	}
	w.block = w.block[:0]
	return nil
}

// Reader decodes the tuples of a dump.
type Reader struct {
	r          io.Reader
	desc       *tuple.TupleDesc
	keyField   int
	codec      Codec
	decompress decompressor
	block      []byte
	count      uint64
	done       bool
}

// NewReader reads the dump header from r.
func NewReader(r io.Reader) (*Reader, error) {
	var fixed [11]byte
	if err := readFull(r, fixed[:]); err != nil {
		return nil, err
	}
	if string(fixed[0:4]) != Magic {
		return nil, ErrInvalidMagic
	}
	if fixed[4] != Version {
		return nil, errors.Wrapf(ErrInvalidVersion, "version %d", fixed[4])
	}
	codec := Codec(binary.LittleEndian.Uint16(fixed[5:]))
	_, decompress, err := codecFuncs(codec)
	if err != nil {
		return nil, err
	}
	keyField := int(binary.LittleEndian.Uint16(fixed[7:]))
	numFields := int(binary.LittleEndian.Uint16(fixed[9:]))

	types := make([]tuple.Type, numFields)
	names := make([]string, numFields)
	for i := range types {
		var field [3]byte
		if err := readFull(r, field[:]); err != nil {
			return nil, err
		}
		types[i] = tuple.Type(field[0])
		name := make([]byte, binary.LittleEndian.Uint16(field[1:]))
		if err := readFull(r, name); err != nil {
			return nil, err
		}
		names[i] = string(name)
	}
	desc, err := tuple.NewTupleDesc(types, names)
	if err != nil {
		return nil, errors.WithMessage(err, "dump schema")
	}
	if keyField >= numFields {
		return nil, errors.Errorf("dump key field %d out of range", keyField)
	}

	return &Reader{
		r:          r,
		desc:       desc,
		keyField:   keyField,
		codec:      codec,
		decompress: decompress,
	}, nil
}

func (r *Reader) Desc() *tuple.TupleDesc { return r.desc }

func (r *Reader) KeyField() int { return r.keyField }

func (r *Reader) Codec() Codec { return r.codec }

// Next returns the next tuple, or io.EOF after the last one.
func (r *Reader) Next() (*tuple.Tuple, error) {
	if len(r.block) == 0 {
		if r.done {
			return nil, io.EOF
		}
		if err := r.readBlock(); err != nil {
			return nil, err
		}
		if r.done {
			return nil, io.EOF
		}
	}
	size := r.desc.Size()
	t, err := tuple.Decode(r.desc, r.block[:size])
	if err != nil {
		return nil, err
	}
	r.block = r.block[size:]
	r.count++
	return t, nil
}

func (r *Reader) readBlock() error {
	var hdr [blockHeaderSize]byte
	if err := readFull(r.r, hdr[:]); err != nil {
		return err
	}
	rawLen := int(binary.LittleEndian.Uint32(hdr[0:]))
	if rawLen == 0 {
		var trailer [8]byte
		if err := readFull(r.r, trailer[:]); err != nil {
			return err
		}
		if want := binary.LittleEndian.Uint64(trailer[:]); want != r.count {
			return errors.Wrapf(ErrTruncated, "read %d of %d tuples", r.count, want)
		}
		r.done = true
		return nil
	}
	if rawLen%r.desc.Size() != 0 {
		return errors.Wrapf(ErrTruncated, "block of %d bytes holds partial tuples", rawLen)
	}

	data := make([]byte, binary.LittleEndian.Uint32(hdr[4:]))
	if err := readFull(r.r, data); err != nil {
		return err
	}
	raw, err := r.decompress(data)
	if err != nil {
		return errors.Wrap(err, "decompress dump block")
	}
	if len(raw) != rawLen {
		return errors.Wrapf(ErrTruncated, "block decompressed to %d bytes, expected %d", len(raw), rawLen)
	}
	if xxhash.Sum64(raw) != binary.LittleEndian.Uint64(hdr[8:]) {
		return ErrInvalidChecksum
	}
	r.block = raw
	return nil
}

func readFull(r io.Reader, buf []byte) error {
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return errors.Wrap(ErrTruncated, err.Error())
		}
		return err
	}
	return nil
}
