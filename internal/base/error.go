package base

import "github.com/pkg/errors"

var (
	ErrInvalidMagicNumber = errors.New("invalid magic number")
	ErrInvalidVersion     = errors.New("invalid format version")
	ErrInvalidPageSize    = errors.New("invalid page size")
	ErrInvalidChecksum    = errors.New("invalid checksum")

	ErrKindMismatch   = errors.New("page kind mismatch")
	ErrTableMismatch  = errors.New("page belongs to another table")
	ErrSchemaMismatch = errors.New("tuple schema does not match page")

	ErrPageFull       = errors.New("page has no empty slot")
	ErrSlotNotUsed    = errors.New("slot is not in use")
	ErrNoRecordID     = errors.New("tuple has no record id")
	ErrWrongPage      = errors.New("record id references another page")
	ErrRecordMismatch = errors.New("slot holds a different tuple")
	ErrInvalidEntry   = errors.New("entry children not found on page")
	ErrKeyOrder       = errors.New("entry key out of order")
)
