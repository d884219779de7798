package tabledb

import (
	"io"

	"github.com/pkg/errors"

	"tabledb/internal/export"
)

// Codec selects the block compression of a table dump.
type Codec = export.Codec

const (
	CodecSnappy = export.CodecSnappy
	CodecNone   = export.CodecNone
	CodecLz4    = export.CodecLz4
)

// ParseCodec maps "snappy", "lz4" or "none" to a Codec. The empty string
// selects snappy.
//
//goland:noinspection GoUnusedExportedFunction
func ParseCodec(s string) (Codec, error) { return export.ParseCodec(s) }

// Dump writes every tuple of table to w in key order and returns the number
// of tuples written.
func (tx *Tx) Dump(table *Table, w io.Writer, codec Codec) (uint64, error) {
	if err := tx.check(); err != nil {
		return 0, err
	}
	ew, err := export.NewWriter(w, table.Desc(), table.KeyField(), codec)
	if err != nil {
		return 0, err
	}

	c := tx.Cursor(table, nil)
	for c.Next() {
		if err := ew.Write(c.Tuple()); err != nil {
			return ew.Count(), err
		}
	}
	if err := c.Err(); err != nil {
		return ew.Count(), err
	}
	if err := ew.Close(); err != nil {
		return ew.Count(), err
	}
	tx.db.opts.logger.Info("dumped table", "table", table.name, "tuples", ew.Count(), "codec", codec.String())
	return ew.Count(), nil
}

// Restore inserts every tuple of a dump read from r into table. The dump's
// schema and key field must match the table's. Tuples inserted before an
// error are kept.
func (tx *Tx) Restore(table *Table, r io.Reader) (uint64, error) {
	if err := tx.checkWritable(); err != nil {
		return 0, err
	}
	er, err := export.NewReader(r)
	if err != nil {
		return 0, err
	}
	if !er.Desc().Equals(table.Desc()) || er.KeyField() != table.KeyField() {
		return 0, errors.Wrapf(ErrSchemaMismatch, "dump of %s keyed on %d into %s", er.Desc(), er.KeyField(), table.name)
	}

	var n uint64
	for {
		t, err := er.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return n, err
		}
		if err := tx.Insert(table, t); err != nil {
			return n, err
		}
		n++
	}
	tx.db.opts.logger.Info("restored table", "table", table.name, "tuples", n, "codec", er.Codec().String())
	return n, nil
}
