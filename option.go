package tabledb

import (
	"tabledb/internal/base"
	"tabledb/internal/cache"
)

// SyncMode controls when table files are fsynced to disk
type SyncMode int

const (
	// SyncEveryCommit fsyncs the tables a transaction touched on every
	// commit.
	// - Committed pages survive power failure
	// - Limited by fsync latency
	SyncEveryCommit SyncMode = iota

	// SyncOff never fsyncs on commit. Files are still synced on Close.
	// - Maximum throughput
	// - Unsynced pages lost on crash
	// - Use for: Testing, bulk loads with external durability
	SyncOff
)

// DBOptions configures database behavior.
type DBOptions struct {
	syncMode   SyncMode
	pageSize   int    // Page size of newly created table files.
	cachePages int    // Maximum number of pages held by the page cache.
	logger     Logger // Receives table lifecycle and tree restructuring events.
}

// DefaultDBOptions returns safe default configuration.
//
//goland:noinspection GoUnusedExportedFunction
func DefaultDBOptions() DBOptions {
	return DBOptions{
		syncMode:   SyncEveryCommit,
		pageSize:   base.DefaultPageSize,
		cachePages: 1024,
		logger:     DiscardLogger{},
	}
}

// DBOption configures database options using the functional options pattern.
type DBOption func(*DBOptions)

// WithSyncEveryCommit configures the database to fsync on every commit.
//
//goland:noinspection GoUnusedExportedFunction
func WithSyncEveryCommit() DBOption {
	return func(opts *DBOptions) {
		opts.syncMode = SyncEveryCommit
	}
}

// WithSyncOff disables fsync on commit.
// Only use for testing or bulk loads where data can be reconstructed.
//
//goland:noinspection GoUnusedExportedFunction
func WithSyncOff() DBOption {
	return func(opts *DBOptions) {
		opts.syncMode = SyncOff
	}
}

// WithPageSize sets the page size in bytes. Every table of a database uses
// the same page size, and an existing table file must have been created
// with it.
//
//goland:noinspection GoUnusedExportedFunction
func WithPageSize(size int) DBOption {
	return func(opts *DBOptions) {
		opts.pageSize = size
	}
}

// WithCachePages bounds the page cache. Values below cache.MinCacheSize are
// raised to it.
//
//goland:noinspection GoUnusedExportedFunction
func WithCachePages(n int) DBOption {
	return func(opts *DBOptions) {
		opts.cachePages = max(n, cache.MinCacheSize)
	}
}

// WithLogger sets the logger. A nil logger discards everything.
//
//goland:noinspection GoUnusedExportedFunction
func WithLogger(logger Logger) DBOption {
	return func(opts *DBOptions) {
		if logger == nil {
			logger = DiscardLogger{}
		}
		opts.logger = logger
	}
}
