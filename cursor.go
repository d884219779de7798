package tabledb

import (
	"tabledb/internal/btree"
	"tabledb/tuple"
)

// Cursor iterates over the tuples of one table in key order. Tuples it
// returns carry their record id and can be passed to Tx.Delete.
//
// A cursor reads through the shared page cache; modifying the table while a
// cursor is open is not supported.
type Cursor struct {
	tx  *Tx
	it  *btree.Iterator
	err error
}

// Next advances the cursor and reports whether a tuple is available.
func (c *Cursor) Next() bool {
	if c.err != nil {
		return false
	}
	if err := c.tx.check(); err != nil {
		c.err = err
		return false
	}
	return c.it.Next()
}

// Tuple returns the current tuple, or nil once the cursor is exhausted.
func (c *Cursor) Tuple() *tuple.Tuple { return c.it.Tuple() }

// Err returns the error that stopped the cursor, if any.
func (c *Cursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.it.Err()
}

// Rewind restarts the scan from the beginning.
func (c *Cursor) Rewind() {
	c.err = nil
	c.it.Rewind()
}
