// Package db defines the contract rowsync expects of a storage engine and
// builds the transaction boundary on top of it.
//
// An Engine provides row-level CRUD, cursor scans and counts against named
// tables, all inside engine transactions. A Database wraps an Engine and is the
// only thing callers open transactions on; it guarantees every transaction is
// released on every exit path, serializes writers, and refuses nested
// transactions.
package db

import (
	"context"

	"github.com/dekarrin/rowsync/record"
)

// ScanOptions controls a table scan.
type ScanOptions struct {
	// AfterRowID restricts the scan to rows with a row ID greater than it.
	AfterRowID int64

	// Limit is the maximum number of rows the scan returns. Zero or less means
	// no limit.
	Limit int

	// KeysOnly makes the scan return records that have only RowID, Kind and
	// UniqueID set.
	KeysOnly bool
}

// Cursor iterates over the rows of a scan in ascending row ID order. It is
// used like *sql.Rows.
type Cursor interface {
	// Next advances to the next row. It returns false when there are no more
	// rows or the cursor failed; check Err to tell which.
	Next() bool

	// Record returns the current row. An error returned here is specific to
	// the current row, and the returned Record still has RowID set so that the
	// row can be skipped; the cursor itself remains usable.
	Record() (record.Record, error)

	// Err returns the error that stopped the cursor, if any.
	Err() error

	// Close releases the cursor. It is safe to call more than once.
	Close() error
}

// Reader is the read half of an engine transaction.
type Reader interface {
	// FetchOne returns the row with the given unique ID. It returns an error
	// wrapping rowsync.ErrNotFound if there is no such row.
	FetchOne(ctx context.Context, t record.Table, uniqueID string) (record.Record, error)

	// Exists returns whether a row with the given unique ID exists.
	Exists(ctx context.Context, t record.Table, uniqueID string) (bool, error)

	// Count returns the number of rows in the table.
	Count(ctx context.Context, t record.Table) (int64, error)

	// Scan opens a cursor over the rows of the table.
	Scan(ctx context.Context, t record.Table, opts ScanOptions) (Cursor, error)
}

// Writer is the write half of an engine transaction.
type Writer interface {
	Reader

	// Insert adds a new row and returns the row ID assigned to it. The RowID
	// of rec is ignored. It returns an error wrapping
	// rowsync.ErrDuplicateUniqueID if a row with the same unique ID exists.
	Insert(ctx context.Context, t record.Table, rec record.Record) (int64, error)

	// Update replaces the row with the same unique ID as rec. The row keeps its
	// row ID. It returns an error wrapping rowsync.ErrNotFound if there is no
	// such row.
	Update(ctx context.Context, t record.Table, rec record.Record) error

	// Delete removes the row with the given unique ID. It returns an error
	// wrapping rowsync.ErrNotFound if there is no such row.
	Delete(ctx context.Context, t record.Table, uniqueID string) error

	// DeleteAll removes every row of the table and returns how many were
	// removed.
	DeleteAll(ctx context.Context, t record.Table) (int64, error)
}

// Tx is an engine read transaction.
type Tx interface {
	Reader

	// Rollback ends the transaction.
	Rollback() error
}

// WriteTx is an engine write transaction.
type WriteTx interface {
	Writer

	// Commit makes the writes of the transaction durable and visible and ends
	// the transaction.
	Commit() error

	// Rollback discards the writes of the transaction and ends it.
	Rollback() error
}

// Engine is a storage engine.
type Engine interface {
	// EnsureTable creates the table described by t if it does not already
	// exist.
	EnsureTable(ctx context.Context, t record.Table) error

	// BeginRead starts a read transaction. Any number may be open at once.
	BeginRead(ctx context.Context) (Tx, error)

	// BeginWrite starts a write transaction. The engine may block until other
	// write transactions end.
	BeginWrite(ctx context.Context) (WriteTx, error)

	// Close releases the resources of the engine.
	Close() error
}
