package db

import (
	"context"
	"fmt"
	"sync"

	"github.com/dekarrin/rowsync"
	"github.com/dekarrin/rowsync/internal/metrics"
	"github.com/dekarrin/rowsync/record"
)

// Transaction is a transaction handle given to the body of
// Database.WithReadTransaction or Database.WithWriteTransaction. Both
// *ReadTransaction and *WriteTransaction implement it.
type Transaction interface {
	// Reader returns the read operations of the transaction.
	Reader() Reader

	// Writable returns the transaction as a *WriteTransaction if it is one.
	Writable() (*WriteTransaction, bool)
}

// ReadTransaction is a handle to a read transaction. It is only valid inside
// the body it was passed to.
type ReadTransaction struct {
	r Reader
}

// Reader returns the read operations of the transaction.
func (rt *ReadTransaction) Reader() Reader {
	return rt.r
}

// Writable always returns false for a ReadTransaction.
func (rt *ReadTransaction) Writable() (*WriteTransaction, bool) {
	return nil, false
}

// WriteTransaction is a handle to a write transaction. It is only valid inside
// the body it was passed to.
//
// Besides the engine operations, a WriteTransaction tracks which rows have
// been written during it and holds hooks to run once it ends. Hooks run while
// the transaction still excludes every other transaction on the Database, so
// nothing can observe the committed state before the hooks have run.
type WriteTransaction struct {
	ReadTransaction
	w Writer

	afterCommit   []func()
	afterRollback []func()

	dirtyRows   map[string]map[string]struct{}
	dirtyTables map[string]struct{}
}

func newWriteTransaction(wtx WriteTx) *WriteTransaction {
	return &WriteTransaction{
		ReadTransaction: ReadTransaction{r: wtx},
		w:               wtx,
		dirtyRows:       map[string]map[string]struct{}{},
		dirtyTables:     map[string]struct{}{},
	}
}

// Writable returns wt.
func (wt *WriteTransaction) Writable() (*WriteTransaction, bool) {
	return wt, true
}

// Writer returns the write operations of the transaction.
func (wt *WriteTransaction) Writer() Writer {
	return wt.w
}

// AfterCommit registers fn to be called after the transaction commits. Hooks
// are called in the order they were registered.
func (wt *WriteTransaction) AfterCommit(fn func()) {
	wt.afterCommit = append(wt.afterCommit, fn)
}

// AfterRollback registers fn to be called after the transaction is rolled
// back, including when the commit itself fails.
func (wt *WriteTransaction) AfterRollback(fn func()) {
	wt.afterRollback = append(wt.afterRollback, fn)
}

// MarkDirty records that the row with the given unique ID in the given table
// has been written during the transaction.
func (wt *WriteTransaction) MarkDirty(table, uniqueID string) {
	rows, ok := wt.dirtyRows[table]
	if !ok {
		rows = map[string]struct{}{}
		wt.dirtyRows[table] = rows
	}
	rows[uniqueID] = struct{}{}
}

// MarkTableDirty records that every row of the given table has been written
// during the transaction.
func (wt *WriteTransaction) MarkTableDirty(table string) {
	wt.dirtyTables[table] = struct{}{}
}

// IsDirty returns whether the row with the given unique ID in the given table
// has been written during the transaction.
func (wt *WriteTransaction) IsDirty(table, uniqueID string) bool {
	if _, ok := wt.dirtyTables[table]; ok {
		return true
	}
	_, ok := wt.dirtyRows[table][uniqueID]
	return ok
}

// Options holds optional dependencies of a Database.
type Options struct {
	Logger  rowsync.Logger
	Metrics *metrics.Collectors
}

// Database is the transaction boundary over an Engine. Read transactions run
// concurrently with each other; a write transaction excludes every other
// transaction.
//
// Transactions cannot be nested. The body of a transaction receives a context
// marked with the Database, and opening another transaction on the same
// Database with that context (or one derived from it) fails with
// rowsync.ErrTransactionMisuse. Bodies must pass on the context they are given
// rather than an outer one; a nested call made with an unmarked context will
// deadlock.
type Database struct {
	engine  Engine
	log     rowsync.Logger
	metrics *metrics.Collectors

	mtx    sync.RWMutex
	closed bool
}

// New creates a Database over engine.
func New(engine Engine, opts Options) *Database {
	return &Database{
		engine:  engine,
		log:     rowsync.LoggerOrNoOp(opts.Logger),
		metrics: opts.Metrics,
	}
}

type txMarkerKey struct{}

type txMarker struct {
	db     *Database
	parent *txMarker
}

func (d *Database) inTransaction(ctx context.Context) bool {
	m, _ := ctx.Value(txMarkerKey{}).(*txMarker)
	for ; m != nil; m = m.parent {
		if m.db == d {
			return true
		}
	}
	return false
}

func (d *Database) markContext(ctx context.Context) context.Context {
	parent, _ := ctx.Value(txMarkerKey{}).(*txMarker)
	return context.WithValue(ctx, txMarkerKey{}, &txMarker{db: d, parent: parent})
}

// EnsureTable validates t and creates it in the engine if it does not exist.
func (d *Database) EnsureTable(ctx context.Context, t record.Table) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if d.inTransaction(ctx) {
		return rowsync.NewError("cannot create table inside a transaction", rowsync.ErrTransactionMisuse)
	}

	d.mtx.Lock()
	defer d.mtx.Unlock()

	if d.closed {
		return rowsync.ErrClosed
	}

	if err := d.engine.EnsureTable(ctx, t); err != nil {
		return rowsync.WrapDBErrorf(err, "create table %s", t.Name)
	}
	d.log.Debugf("ensured table %s", t.Name)
	return nil
}

// WithReadTransaction runs body inside a read transaction. The transaction is
// always released when body returns or panics. The error returned by body is
// returned as-is.
func (d *Database) WithReadTransaction(ctx context.Context, body func(ctx context.Context, tx *ReadTransaction) error) error {
	if d.inTransaction(ctx) {
		return rowsync.NewError("read transaction opened inside another transaction", rowsync.ErrTransactionMisuse)
	}

	d.mtx.RLock()
	defer d.mtx.RUnlock()

	if d.closed {
		return rowsync.ErrClosed
	}

	etx, err := d.engine.BeginRead(ctx)
	if err != nil {
		return rowsync.WrapDBError(err, "begin read transaction")
	}
	d.log.Trace("read transaction begun")

	outcome := "rollback"
	defer func() {
		if rbErr := etx.Rollback(); rbErr != nil {
			d.log.Warnf("releasing read transaction: %v", rbErr)
		}
		d.metrics.TransactionDone("read", outcome)
		d.log.Trace("read transaction released")
	}()

	if err := body(d.markContext(ctx), &ReadTransaction{r: etx}); err != nil {
		return err
	}
	outcome = "commit"
	return nil
}

// WithWriteTransaction runs body inside a write transaction. If body returns
// nil the transaction is committed; if body returns an error or panics, it is
// rolled back. The error returned by body is returned as-is.
//
// After a commit the AfterCommit hooks of the transaction run; after a
// rollback the AfterRollback hooks run. Hooks run before any other transaction
// can begin.
func (d *Database) WithWriteTransaction(ctx context.Context, body func(ctx context.Context, tx *WriteTransaction) error) error {
	if d.inTransaction(ctx) {
		return rowsync.NewError("write transaction opened inside another transaction", rowsync.ErrTransactionMisuse)
	}

	d.mtx.Lock()
	defer d.mtx.Unlock()

	if d.closed {
		return rowsync.ErrClosed
	}

	etx, err := d.engine.BeginWrite(ctx)
	if err != nil {
		return rowsync.WrapDBError(err, "begin write transaction")
	}
	d.log.Trace("write transaction begun")

	wt := newWriteTransaction(etx)
	var committed, engineDone bool
	defer func() {
		if committed {
			return
		}
		if !engineDone {
			if rbErr := etx.Rollback(); rbErr != nil {
				d.log.Warnf("rolling back write transaction: %v", rbErr)
			}
		}
		d.runHooks("rollback", wt.afterRollback)
		d.metrics.TransactionDone("write", "rollback")
	}()

	if err := body(d.markContext(ctx), wt); err != nil {
		d.log.Debugf("write transaction rolled back: %v", err)
		return err
	}

	if err := etx.Commit(); err != nil {
		engineDone = true
		return rowsync.WrapDBError(err, "commit")
	}
	committed = true

	d.runHooks("commit", wt.afterCommit)
	d.metrics.TransactionDone("write", "commit")
	d.log.Trace("write transaction committed")
	return nil
}

func (d *Database) runHooks(stage string, hooks []func()) {
	for i, fn := range hooks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.log.Errorf("after-%s hook %d panicked: %v", stage, i, r)
				}
			}()
			fn()
		}()
	}
}

// Close closes the Database and its Engine. It waits for open transactions to
// end. Calling Close more than once has no effect.
func (d *Database) Close() error {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	if err := d.engine.Close(); err != nil {
		return fmt.Errorf("close engine: %w", err)
	}
	return nil
}
