package tuple

import (
	"strings"

	"github.com/pkg/errors"

	"tabledb/primitives"
)

var (
	ErrShortBuffer  = errors.New("buffer too small")
	ErrCorruptField = errors.New("corrupt field encoding")
	ErrFieldType    = errors.New("field type does not match schema")
)

// Tuple is one row. Its RecordID is set while it lives in a leaf page.
type Tuple struct {
	desc   *TupleDesc
	fields []Field
	rid    *primitives.RecordID
}

// New creates a tuple of schema desc. Fields may be given positionally; any
// not given stay nil until SetField.
func New(desc *TupleDesc, fields ...Field) (*Tuple, error) {
	if len(fields) > desc.NumFields() {
		return nil, errors.Errorf("%d fields for a %d field schema", len(fields), desc.NumFields())
	}
	t := &Tuple{desc: desc, fields: make([]Field, desc.NumFields())}
	for i, f := range fields {
		if err := t.SetField(i, f); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Ints builds a tuple whose schema consists of int fields only.
func Ints(desc *TupleDesc, values ...int) (*Tuple, error) {
	fields := make([]Field, len(values))
	for i, v := range values {
		fields[i] = IntField(v)
	}
	return New(desc, fields...)
}

func (t *Tuple) Desc() *TupleDesc { return t.desc }

func (t *Tuple) Field(i int) Field { return t.fields[i] }

// SetField sets field i. Strings longer than StringLen are truncated so that
// a tuple compares the same before and after it is written to disk.
func (t *Tuple) SetField(i int, f Field) error {
	if i < 0 || i >= len(t.fields) {
		return errors.Errorf("field index %d out of range", i)
	}
	if f.Type() != t.desc.FieldType(i) {
		return errors.Wrapf(ErrFieldType, "field %d: got %s, want %s", i, f.Type(), t.desc.FieldType(i))
	}
	t.fields[i] = normalize(f)
	return nil
}

// RecordID returns the location of the tuple, or nil if it is not stored.
func (t *Tuple) RecordID() *primitives.RecordID { return t.rid }

func (t *Tuple) SetRecordID(rid *primitives.RecordID) { t.rid = rid }

// Equal reports whether both tuples have the same schema and field values.
func (t *Tuple) Equal(other *Tuple) bool {
	if other == nil || !t.desc.Equals(other.desc) {
		return false
	}
	for i, f := range t.fields {
		o := other.fields[i]
		if f == nil || o == nil {
			if f != o {
				return false
			}
			continue
		}
		if !f.Compare(Equals, o) {
			return false
		}
	}
	return true
}

// Encode writes the tuple into buf, which must hold Desc().Size() bytes.
func (t *Tuple) Encode(buf []byte) error {
	if len(buf) < t.desc.Size() {
		return errors.Wrapf(ErrShortBuffer, "tuple needs %d bytes, got %d", t.desc.Size(), len(buf))
	}
	off := 0
	for i, f := range t.fields {
		if f == nil {
			return errors.Errorf("field %d is unset", i)
		}
		n := f.Type().Len()
		f.Encode(buf[off : off+n])
		off += n
	}
	return nil
}

// Decode reads one tuple of schema desc from buf.
func Decode(desc *TupleDesc, buf []byte) (*Tuple, error) {
	if len(buf) < desc.Size() {
		return nil, errors.Wrapf(ErrShortBuffer, "tuple needs %d bytes, got %d", desc.Size(), len(buf))
	}
	t := &Tuple{desc: desc, fields: make([]Field, desc.NumFields())}
	off := 0
	for i := range t.fields {
		ft := desc.FieldType(i)
		f, err := DecodeField(ft, buf[off:])
		if err != nil {
			return nil, errors.Wrapf(err, "field %d", i)
		}
		t.fields[i] = f
		off += ft.Len()
	}
	return t, nil
}

func (t *Tuple) String() string {
	parts := make([]string, len(t.fields))
	for i, f := range t.fields {
		if f == nil {
			parts[i] = "null"
			continue
		}
		parts[i] = f.String()
	}
	return strings.Join(parts, "\t")
}
