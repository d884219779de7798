package tuple

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// TupleDesc describes the schema of a tuple: an ordered list of typed,
// optionally named, fields.
type TupleDesc struct {
	types []Type
	names []string
	size  int
}

// NewTupleDesc builds a schema. names may be nil or shorter than types;
// missing names are empty.
func NewTupleDesc(types []Type, names []string) (*TupleDesc, error) {
	if len(types) == 0 {
		return nil, errors.New("tuple desc needs at least one field")
	}
	if len(names) > len(types) {
		return nil, errors.Errorf("%d names for %d fields", len(names), len(types))
	}
	td := &TupleDesc{
		types: append([]Type(nil), types...),
		names: make([]string, len(types)),
	}
	copy(td.names, names)
	for _, t := range types {
		if t != IntType && t != StringType {
			return nil, errors.Errorf("unknown field type %d", uint8(t))
		}
		td.size += t.Len()
	}
	return td, nil
}

// IntDesc returns a schema of n int fields named prefix0..prefixN-1.
func IntDesc(n int, prefix string) *TupleDesc {
	types := make([]Type, n)
	names := make([]string, n)
	for i := range types {
		types[i] = IntType
		names[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	td, err := NewTupleDesc(types, names)
	if err != nil {
		panic(err)
	}
	return td
}

func (td *TupleDesc) NumFields() int { return len(td.types) }

// Size is the encoded width of one tuple in bytes.
func (td *TupleDesc) Size() int { return td.size }

func (td *TupleDesc) FieldType(i int) Type { return td.types[i] }

func (td *TupleDesc) FieldName(i int) string { return td.names[i] }

// IndexOf returns the position of the field called name.
func (td *TupleDesc) IndexOf(name string) (int, error) {
	for i, n := range td.names {
		if n == name && n != "" {
			return i, nil
		}
	}
	return -1, errors.Errorf("no field named %q", name)
}

// Equals compares field types only; names are ignored.
func (td *TupleDesc) Equals(other *TupleDesc) bool {
	if td == other {
		return true
	}
	if other == nil || len(td.types) != len(other.types) {
		return false
	}
	for i, t := range td.types {
		if other.types[i] != t {
			return false
		}
	}
	return true
}

func (td *TupleDesc) String() string {
	parts := make([]string, len(td.types))
	for i, t := range td.types {
		parts[i] = fmt.Sprintf("%s(%s)", t, td.names[i])
	}
	return strings.Join(parts, ", ")
}
