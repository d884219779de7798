package tabledb

import (
	"github.com/pkg/errors"

	"tabledb/internal/base"
	"tabledb/internal/btree"
)

//goland:noinspection GoUnusedGlobalVariable
var (
	ErrDatabaseClosed     = errors.New("database is closed")
	ErrTableExists        = errors.New("table already exists")
	ErrTableNotFound      = errors.New("table not found")
	ErrInvalidTableName   = errors.New("invalid table name")
	ErrTxNotWritable      = errors.New("transaction is read-only")
	ErrTxDone             = errors.New("transaction has been committed")
	ErrCorruption         = btree.ErrCorruption
	ErrTableClosed        = btree.ErrClosed
	ErrSchemaMismatch     = base.ErrSchemaMismatch
	ErrNoRecordID         = base.ErrNoRecordID
	ErrRecordMismatch     = base.ErrRecordMismatch
	ErrPageFull           = base.ErrPageFull
	ErrInvalidMagicNumber = base.ErrInvalidMagicNumber
	ErrInvalidVersion     = base.ErrInvalidVersion
	ErrInvalidPageSize    = base.ErrInvalidPageSize
	ErrInvalidChecksum    = base.ErrInvalidChecksum
)
