package tabledb

import (
	"tabledb/internal/btree"
	"tabledb/tuple"
)

// Report summarizes a table after a successful integrity check.
type Report = btree.Report

// Table is a table file clustered on one key field.
type Table struct {
	name string
	file *btree.File
}

func (t *Table) Name() string { return t.name }

func (t *Table) Path() string { return t.file.Path() }

func (t *Table) Desc() *tuple.TupleDesc { return t.file.Desc() }

func (t *Table) KeyField() int { return t.file.KeyField() }

// NumPages returns the number of pages in the table file, not counting the
// root pointer record.
func (t *Table) NumPages() (int, error) {
	n, err := t.file.NumPages()
	return int(n), err
}

// Check verifies the structure of the table and returns a summary of it.
// Structural damage is reported as ErrCorruption.
func (t *Table) Check() (*Report, error) {
	return t.file.Check()
}
