package tuple

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Type is the storage type of a field.
type Type uint8

const (
	IntType Type = iota
	StringType
)

// StringLen is the maximum number of bytes stored for a string field.
const StringLen = 128

// Len returns the encoded width of the type in bytes.
func (t Type) Len() int {
	switch t {
	case IntType:
		return 4
	case StringType:
		return StringLen + 4
	default:
		panic(fmt.Sprintf("tuple: unknown type %d", uint8(t)))
	}
}

func (t Type) String() string {
	switch t {
	case IntType:
		return "int"
	case StringType:
		return "string"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// Op is a comparison operator.
type Op int

const (
	Equals Op = iota
	NotEquals
	GreaterThan
	GreaterThanOrEq
	LessThan
	LessThanOrEq
	Like
)

func (o Op) String() string {
	switch o {
	case Equals:
		return "="
	case NotEquals:
		return "<>"
	case GreaterThan:
		return ">"
	case GreaterThanOrEq:
		return ">="
	case LessThan:
		return "<"
	case LessThanOrEq:
		return "<="
	case Like:
		return "LIKE"
	default:
		return "UNKNOWN"
	}
}

// ParseOp parses the textual form returned by Op.String.
func ParseOp(s string) (Op, error) {
	switch strings.ToUpper(s) {
	case "=", "==":
		return Equals, nil
	case "<>", "!=":
		return NotEquals, nil
	case ">":
		return GreaterThan, nil
	case ">=":
		return GreaterThanOrEq, nil
	case "<":
		return LessThan, nil
	case "<=":
		return LessThanOrEq, nil
	case "LIKE":
		return Like, nil
	}
	return 0, errors.Errorf("unknown operator %q", s)
}

// Field is a single typed value of a tuple.
type Field interface {
	Type() Type
	// Compare evaluates "f op other". Fields of different types never match.
	Compare(op Op, other Field) bool
	// Encode writes exactly Type().Len() bytes into buf.
	Encode(buf []byte)
	String() string
}

// IntField is a 4-byte signed integer field.
type IntField int32

func (f IntField) Type() Type { return IntType }

func (f IntField) Compare(op Op, other Field) bool {
	o, ok := other.(IntField)
	if !ok {
		return false
	}
	c := 0
	switch {
	case f < o:
		c = -1
	case f > o:
		c = 1
	}
	return evalCmp(op, c)
}

func (f IntField) Encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf, uint32(f))
}

func (f IntField) String() string {
	return strconv.Itoa(int(f))
}

// StringField is a string of at most StringLen bytes. Longer values are
// truncated when encoded.
type StringField string

func (f StringField) Type() Type { return StringType }

// Truncate cuts f to the StringLen bytes that fit in a page.
func (f StringField) Truncate() StringField {
	if len(f) > StringLen {
		return f[:StringLen]
	}
	return f
}

// normalize returns f as it will read back after a round trip through a page.
func normalize(f Field) Field {
	if s, ok := f.(StringField); ok {
		return s.Truncate()
	}
	return f
}

func (f StringField) Compare(op Op, other Field) bool {
	o, ok := other.(StringField)
	if !ok {
		return false
	}
	if op == Like {
		return strings.Contains(string(f), string(o))
	}
	return evalCmp(op, strings.Compare(string(f), string(o)))
}

func (f StringField) Encode(buf []byte) {
	s := string(f)
	if len(s) > StringLen {
		s = s[:StringLen]
	}
	binary.LittleEndian.PutUint32(buf, uint32(len(s)))
	n := copy(buf[4:], s)
	clear(buf[4+n : 4+StringLen])
}

func (f StringField) String() string {
	return string(f)
}

func evalCmp(op Op, c int) bool {
	switch op {
	case Equals, Like:
		return c == 0
	case NotEquals:
		return c != 0
	case GreaterThan:
		return c > 0
	case GreaterThanOrEq:
		return c >= 0
	case LessThan:
		return c < 0
	case LessThanOrEq:
		return c <= 0
	}
	return false
}

// DecodeField reads a field of type t from buf.
func DecodeField(t Type, buf []byte) (Field, error) {
	if len(buf) < t.Len() {
		return nil, errors.Wrapf(ErrShortBuffer, "%s field needs %d bytes, got %d", t, t.Len(), len(buf))
	}
	switch t {
	case IntType:
		return IntField(int32(binary.LittleEndian.Uint32(buf))), nil
	case StringType:
		n := int(binary.LittleEndian.Uint32(buf))
		if n > StringLen {
			return nil, errors.Wrapf(ErrCorruptField, "string length %d", n)
		}
		return StringField(buf[4 : 4+n]), nil
	}
	return nil, errors.Wrapf(ErrCorruptField, "unknown type %d", uint8(t))
}

// ParseField parses s as a value of type t.
func ParseField(t Type, s string) (Field, error) {
	switch t {
	case IntType:
		v, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return nil, errors.Wrapf(err, "parse int field %q", s)
		}
		return IntField(v), nil
	case StringType:
		return StringField(s).Truncate(), nil
	}
	return nil, errors.Errorf("unknown type %d", uint8(t))
}
