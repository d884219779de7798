package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"tabledb"
	"tabledb/logger"
	"tabledb/tuple"
)

const usage = `usage: tabledb [flags] <command> [args]

commands:
  load <file.csv|->        insert one tuple per CSV record
  scan [op value]          print tuples in key order, optionally filtered on the key
  delete <op> <value>      delete every tuple whose key matches
  check                    verify the tree and print a summary
  stats                    print cache and I/O counters after a full scan
  dump <file> [codec]      write a compressed dump (snappy, lz4 or none)
  restore <file>           insert every tuple of a dump

flags:
`

type config struct {
	dir       string
	table     string
	schema    string
	key       string
	pageSize  int
	cache     int
	reverse   bool
	noSync    bool
	verbose   bool
	separator string
}

func main() {
	var cfg config
	flag.StringVar(&cfg.dir, "dir", "./tabledb_data", "Database directory")
	flag.StringVar(&cfg.table, "table", "", "Table name")
	flag.StringVar(&cfg.schema, "schema", "", "Table schema as name:type pairs, e.g. id:int,name:string")
	flag.StringVar(&cfg.key, "key", "", "Key field name (defaults to the first field)")
	flag.IntVar(&cfg.pageSize, "pagesize", 4096, "Page size in bytes")
	flag.IntVar(&cfg.cache, "cache", 1024, "Number of pages in the page cache")
	flag.BoolVar(&cfg.reverse, "reverse", false, "Scan in descending key order")
	flag.BoolVar(&cfg.noSync, "nosync", false, "Do not fsync on commit")
	flag.BoolVar(&cfg.verbose, "v", false, "Log table events")
	flag.StringVar(&cfg.separator, "sep", ",", "Field separator for load")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(logrus.WarnLevel)
	if cfg.verbose {
		log.SetLevel(logrus.InfoLevel)
	}

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	if err := run(cfg, log, flag.Args(), os.Stdout); err != nil {
		log.WithError(err).Fatal("command failed")
	}
}

func run(cfg config, log *logrus.Logger, args []string, out io.Writer) error {
	if cfg.table == "" || cfg.schema == "" {
		return errors.New("-table and -schema are required")
	}
	desc, err := parseSchema(cfg.schema)
	if err != nil {
		return err
	}
	keyField := 0
	if cfg.key != "" {
		if keyField, err = desc.IndexOf(cfg.key); err != nil {
			return err
		}
	}

	opts := []tabledb.DBOption{
		tabledb.WithPageSize(cfg.pageSize),
		tabledb.WithCachePages(cfg.cache),
		tabledb.WithLogger(logger.NewLogrus(log)),
	}
	if cfg.noSync {
		opts = append(opts, tabledb.WithSyncOff())
	}
	db, err := tabledb.Open(cfg.dir, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			log.WithError(cerr).Error("close database")
		}
	}()
	table, err := db.CreateTable(cfg.table, desc, keyField)
	if err != nil {
		return err
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "load":
		return load(db, table, rest, cfg.separator, out)
	case "scan":
		return scan(db, table, rest, cfg.reverse, out)
	case "delete":
		return deleteMatching(db, table, rest, out)
	case "check":
		report, err := table.Check()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, report)
		return err
	case "stats":
		if err := scan(db, table, nil, false, io.Discard); err != nil {
			return err
		}
		s := db.Stats()
		pages, err := table.NumPages()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "pages=%d cached=%d hits=%d misses=%d evictions=%d flushed=%d reads=%d writes=%d\n",
			pages, s.CachedPages, s.CacheHits, s.CacheMisses, s.Evictions, s.PagesFlushed, s.PageReads, s.PageWrites)
		return err
	case "dump":
		return dump(db, table, rest, out)
	case "restore":
		return restore(db, table, rest, out)
	}
	return errors.Errorf("unknown command %q", cmd)
}

// parseSchema parses "name:type,name:type". A bare name is an int field.
func parseSchema(s string) (*tuple.TupleDesc, error) {
	var types []tuple.Type
	var names []string
	for _, part := range strings.Split(s, ",") {
		name, typ, _ := strings.Cut(strings.TrimSpace(part), ":")
		switch strings.ToLower(typ) {
		case "", "int":
			types = append(types, tuple.IntType)
		case "string":
			types = append(types, tuple.StringType)
		default:
			return nil, errors.Errorf("field %q: unknown type %q", name, typ)
		}
		names = append(names, name)
	}
	return tuple.NewTupleDesc(types, names)
}

func parseTuple(desc *tuple.TupleDesc, record []string) (*tuple.Tuple, error) {
	if len(record) != desc.NumFields() {
		return nil, errors.Errorf("got %d fields, want %d", len(record), desc.NumFields())
	}
	fields := make([]tuple.Field, len(record))
	for i, s := range record {
		f, err := tuple.ParseField(desc.FieldType(i), strings.TrimSpace(s))
		if err != nil {
			return nil, errors.WithMessagef(err, "field %s", desc.FieldName(i))
		}
		fields[i] = f
	}
	return tuple.New(desc, fields...)
}

func parsePredicate(table *tabledb.Table, args []string) (*tuple.Predicate, error) {
	if len(args) == 0 {
		return nil, nil
	}
	if len(args) != 2 {
		return nil, errors.New("predicate needs an operator and a value")
	}
	op, err := tuple.ParseOp(args[0])
	if err != nil {
		return nil, err
	}
	v, err := tuple.ParseField(table.Desc().FieldType(table.KeyField()), args[1])
	if err != nil {
		return nil, err
	}
	return tuple.NewPredicate(op, v), nil
}

func load(db *tabledb.DB, table *tabledb.Table, args []string, sep string, out io.Writer) error {
	if len(args) != 1 {
		return errors.New("load needs a file name or -")
	}
	var in io.Reader = os.Stdin
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	r := csv.NewReader(in)
	if sep != "" {
		r.Comma = []rune(sep)[0]
	}
	r.FieldsPerRecord = table.Desc().NumFields()
	r.Comment = '#'

	var n int
	err := db.Update(func(tx *tabledb.Tx) error {
		for {
			record, err := r.Read()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
			t, err := parseTuple(table.Desc(), record)
			if err != nil {
				return errors.WithMessagef(err, "record %d", n+1)
			}
			if err := tx.Insert(table, t); err != nil {
				return err
			}
			n++
		}
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "loaded %d tuples\n", n)
	return err
}

func scan(db *tabledb.DB, table *tabledb.Table, args []string, reverse bool, out io.Writer) error {
	pred, err := parsePredicate(table, args)
	if err != nil {
		return err
	}
	return db.View(func(tx *tabledb.Tx) error {
		c := tx.Cursor(table, pred)
		if reverse {
			c = tx.ReverseCursor(table, pred)
		}
		for c.Next() {
			if _, err := fmt.Fprintln(out, c.Tuple()); err != nil {
				return err
			}
		}
		return c.Err()
	})
}

// deleteMatching restarts the scan after every delete since a delete may
// move tuples between pages.
func deleteMatching(db *tabledb.DB, table *tabledb.Table, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New("delete needs a predicate")
	}
	pred, err := parsePredicate(table, args)
	if err != nil {
		return err
	}
	var n int
	err = db.Update(func(tx *tabledb.Tx) error {
		for {
			c := tx.Cursor(table, pred)
			if !c.Next() {
				return c.Err()
			}
			if err := tx.Delete(c.Tuple()); err != nil {
				return err
			}
			n++
		}
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "deleted %d tuples\n", n)
	return err
}

func dump(db *tabledb.DB, table *tabledb.Table, args []string, out io.Writer) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("dump needs a file name and an optional codec")
	}
	codec := tabledb.CodecSnappy
	if len(args) == 2 {
		var err error
		if codec, err = tabledb.ParseCodec(args[1]); err != nil {
			return err
		}
	}
	f, err := os.Create(args[0])
	if err != nil {
		return err
	}

	var n uint64
	err = db.View(func(tx *tabledb.Tx) error {
		n, err = tx.Dump(table, f, codec)
		return err
	})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "dumped %d tuples\n", n)
	return err
}

func restore(db *tabledb.DB, table *tabledb.Table, args []string, out io.Writer) error {
	if len(args) != 1 {
		return errors.New("restore needs a file name")
	}
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	var n uint64
	err = db.Update(func(tx *tabledb.Tx) error {
		n, err = tx.Restore(table, f)
		return err
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "restored %d tuples\n", n)
	return err
}
