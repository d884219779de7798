package tabledb

import (
	"sync"

	"github.com/pkg/errors"

	"tabledb/primitives"
	"tabledb/tuple"
)

// Tx groups tuple mutations so that Commit can write back exactly the pages
// they dirtied. Transactions take no locks and cannot be rolled back.
type Tx struct {
	db       *DB
	id       primitives.TxnID
	writable bool

	mu      sync.Mutex
	touched map[primitives.TableID]*Table // tables this transaction modified
	done    bool
}

// ID returns the transaction id.
func (tx *Tx) ID() primitives.TxnID { return tx.id }

// Writable reports whether the transaction may modify tables.
func (tx *Tx) Writable() bool { return tx.writable }

// Insert adds t to table. t must match the table schema; on success it
// carries its record id.
func (tx *Tx) Insert(table *Table, t *tuple.Tuple) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	if err := tx.db.cache.InsertTuple(tx.id, table.file.ID(), t); err != nil {
		return errors.WithMessagef(err, "insert into %s", table.name)
	}
	tx.touch(table)
	return nil
}

// Delete removes t, which must carry the record id of a stored tuple, as
// returned by a cursor.
func (tx *Tx) Delete(t *tuple.Tuple) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	rid := t.RecordID()
	if rid == nil {
		return ErrNoRecordID
	}
	table, err := tx.db.tableByID(rid.PageID.Table)
	if err != nil {
		return err
	}
	if err := tx.db.cache.DeleteTuple(tx.id, t); err != nil {
		return errors.WithMessagef(err, "delete from %s", table.name)
	}
	tx.touch(table)
	return nil
}

// Cursor returns a forward scan over the tuples of table whose key
// satisfies pred. A nil pred matches every tuple.
func (tx *Tx) Cursor(table *Table, pred *tuple.Predicate) *Cursor {
	return &Cursor{tx: tx, it: table.file.Iterator(tx.id, pred)}
}

// ReverseCursor is Cursor in descending key order.
func (tx *Tx) ReverseCursor(table *Table, pred *tuple.Predicate) *Cursor {
	return &Cursor{tx: tx, it: table.file.ReverseIterator(tx.id, pred)}
}

// Commit writes the pages dirtied by the transaction and, unless syncing is
// off, fsyncs the tables it modified.
// Returns ErrTxNotWritable if called on a read-only transaction.
// Returns ErrTxDone if the transaction has already been committed.
func (tx *Tx) Commit() error {
	if err := tx.checkWritable(); err != nil {
		return err
	}

	if err := tx.db.cache.FlushTxn(tx.id); err != nil {
		tx.db.opts.logger.Error("commit flush failed", "txn", uint64(tx.id), "error", err)
		return err
	}
	if tx.db.opts.syncMode == SyncEveryCommit {
		tx.mu.Lock()
		tables := make([]*Table, 0, len(tx.touched))
		for _, t := range tx.touched {
			tables = append(tables, t)
		}
		tx.mu.Unlock()
		for _, t := range tables {
			if err := t.file.Sync(); err != nil {
				return errors.WithMessagef(err, "sync %s", t.name)
			}
		}
	}

	tx.finish()
	return nil
}

func (tx *Tx) checkWritable() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return ErrTxDone
	}
	if !tx.writable {
		return ErrTxNotWritable
	}
	return nil
}

func (tx *Tx) check() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return ErrTxDone
	}
	return nil
}

func (tx *Tx) touch(t *Table) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.touched[t.file.ID()] = t
}

func (tx *Tx) finish() {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.done = true
}
