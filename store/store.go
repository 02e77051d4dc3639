// Package store implements the model store, a typed layer that reads and
// writes domain objects through a db.Database and keeps an identity cache of
// them coherent with the committed state of the database.
//
// Every operation takes the transaction it runs in. Operations that write take
// a *db.WriteTransaction; the others accept either kind. Cache entries are
// only ever populated from reads and are invalidated after every write
// commits or rolls back.
package store

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/dekarrin/rowsync"
	"github.com/dekarrin/rowsync/cache"
	"github.com/dekarrin/rowsync/db"
	"github.com/dekarrin/rowsync/internal/metrics"
	"github.com/dekarrin/rowsync/model"
	"github.com/dekarrin/rowsync/record"
)

// Codec converts between a model and its record form.
type Codec[M any] interface {
	// Table returns the table the model is stored in.
	Table() record.Table

	// Encode returns the record form of m, including its row ID.
	Encode(m M) (record.Record, error)

	// Decode returns a new instance of the model built from rec.
	Decode(rec record.Record) (M, error)
}

// Modeler is the constraint on the type parameter of Table. The type is
// compared by identity to tell whether two instances are the same object, so
// it must be a pointer type.
type Modeler[M any] interface {
	comparable
	model.Model[M]
}

// Options holds optional dependencies of a Table.
type Options[M any] struct {
	Logger  rowsync.Logger
	Metrics *metrics.Collectors

	// SearchIndex is told when the table is emptied. If nil, notifications
	// are dropped.
	SearchIndex SearchIndex

	// OnRemove is called for each object removed by RemoveObject or
	// RemoveAllWithInstantiation, after the removing transaction commits.
	OnRemove func(m M)
}

// Table is the model store for one model type.
type Table[M Modeler[M]] struct {
	codec    Codec[M]
	table    record.Table
	cache    *cache.IdentityCache[M]
	log      rowsync.Logger
	metrics  *metrics.Collectors
	search   SearchIndex
	onRemove func(m M)
}

// New creates a Table that stores the models converted by codec and caches
// them in c. If c is nil, a cache of the default size is created.
func New[M Modeler[M]](codec Codec[M], c *cache.IdentityCache[M], opts Options[M]) (*Table[M], error) {
	t := codec.Table()
	if err := t.Validate(); err != nil {
		return nil, err
	}

	if c == nil {
		var err error
		c, err = cache.New[M](t.Name, cache.Options{Logger: opts.Logger, Metrics: opts.Metrics})
		if err != nil {
			return nil, err
		}
	}

	search := opts.SearchIndex
	if search == nil {
		search = NoOpSearchIndex{}
	}

	return &Table[M]{
		codec:    codec,
		table:    t,
		cache:    c,
		log:      rowsync.LoggerOrNoOp(opts.Logger),
		metrics:  opts.Metrics,
		search:   search,
		onRemove: opts.OnRemove,
	}, nil
}

// Register creates the table of the store in d if it does not already exist.
func (t *Table[M]) Register(ctx context.Context, d *db.Database) error {
	return d.EnsureTable(ctx, t.table)
}

// RecordTable returns the schema of the table the store persists to.
func (t *Table[M]) RecordTable() record.Table {
	return t.table
}

// Cache returns the identity cache of the store.
func (t *Table[M]) Cache() *cache.IdentityCache[M] {
	return t.cache
}

// Fetch returns the object with the given unique ID. The returned bool is
// false if there is no such object; that is not an error.
//
// The cached instance is returned if there is one, unless tx is a write
// transaction that has already written the row. An instance read from the
// database is cached, immediately in a read transaction or once a write
// transaction commits.
func (t *Table[M]) Fetch(ctx context.Context, tx db.Transaction, uniqueID string) (M, bool, error) {
	var zero M
	t.metrics.Operation(t.table.Name, "fetch")

	if uniqueID == "" {
		return zero, false, rowsync.NewError("unique ID cannot be empty", rowsync.ErrBadArgument)
	}

	wt, writable := tx.Writable()
	if !writable || !wt.IsDirty(t.table.Name, uniqueID) {
		if m, ok := t.cache.Get(uniqueID); ok {
			return m, true, nil
		}
	}

	rec, err := tx.Reader().FetchOne(ctx, t.table, uniqueID)
	if err != nil {
		if errors.Is(err, rowsync.ErrNotFound) {
			return zero, false, nil
		}
		return zero, false, rowsync.WrapDBErrorf(err, "fetch %s %q", t.table.Collection, uniqueID)
	}

	m, err := t.codec.Decode(rec)
	if err != nil {
		return zero, false, err
	}

	if writable {
		wt.AfterCommit(func() {
			if !wt.IsDirty(t.table.Name, uniqueID) {
				t.cache.Put(uniqueID, m)
			}
		})
	} else {
		t.cache.Put(uniqueID, m)
	}

	return m, true, nil
}

// FetchAll returns every object in the table. The order is unspecified.
// Objects whose rows cannot be decoded are skipped.
func (t *Table[M]) FetchAll(ctx context.Context, tx db.Transaction) ([]M, error) {
	var all []M
	for m, err := range t.Enumerate(ctx, tx, 0) {
		if err != nil {
			return nil, err
		}
		all = append(all, m)
	}
	return all, nil
}

// Exists returns whether an object with the given unique ID exists.
func (t *Table[M]) Exists(ctx context.Context, tx db.Transaction, uniqueID string) (bool, error) {
	t.metrics.Operation(t.table.Name, "exists")

	if uniqueID == "" {
		return false, rowsync.NewError("unique ID cannot be empty", rowsync.ErrBadArgument)
	}

	ok, err := tx.Reader().Exists(ctx, t.table, uniqueID)
	if err != nil {
		return false, rowsync.WrapDBErrorf(err, "check %s %q", t.table.Collection, uniqueID)
	}
	return ok, nil
}

// Count returns the number of rows in the table.
func (t *Table[M]) Count(ctx context.Context, tx db.Transaction) (int64, error) {
	t.metrics.Operation(t.table.Name, "count")

	n, err := tx.Reader().Count(ctx, t.table)
	if err != nil {
		return 0, rowsync.WrapDBErrorf(err, "count %s", t.table.Collection)
	}
	return n, nil
}

// Enumerate returns a sequence of every object in the table. Each object is
// decoded fresh from its row and is not cached.
//
// If batchSize is greater than zero, rows are read batchSize at a time with a
// new cursor per batch; otherwise a single cursor reads every row. Both visit
// the same rows. Rows that cannot be decoded are logged and skipped. If the
// scan itself fails, the error is yielded once and the sequence ends.
func (t *Table[M]) Enumerate(ctx context.Context, tx db.Transaction, batchSize int) iter.Seq2[M, error] {
	return func(yield func(M, error) bool) {
		var zero M
		t.metrics.Operation(t.table.Name, "enumerate")

		err := t.scan(ctx, tx, batchSize, false, func(rec record.Record) bool {
			m, err := t.codec.Decode(rec)
			if err != nil {
				t.skipRow(rec.RowID, err)
				return true
			}
			t.metrics.RowEnumerated(t.table.Name)
			return yield(m, nil)
		})
		if err != nil {
			yield(zero, err)
		}
	}
}

// EnumerateUniqueIDs returns a sequence of the unique ID of every row in the
// table without decoding any row. batchSize is as for Enumerate.
func (t *Table[M]) EnumerateUniqueIDs(ctx context.Context, tx db.Transaction, batchSize int) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		t.metrics.Operation(t.table.Name, "enumerate-ids")

		err := t.scan(ctx, tx, batchSize, true, func(rec record.Record) bool {
			return yield(rec.UniqueID, nil)
		})
		if err != nil {
			yield("", err)
		}
	}
}

// AllUniqueIDs returns the unique ID of every row in the table.
func (t *Table[M]) AllUniqueIDs(ctx context.Context, tx db.Transaction) ([]string, error) {
	var ids []string
	for id, err := range t.EnumerateUniqueIDs(ctx, tx, 0) {
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (t *Table[M]) skipRow(rowID int64, err error) {
	t.log.Warnf("%s: skipping row %d: %v", t.table.Name, rowID, err)
	t.metrics.RowSkipped(t.table.Name)
}

// scan calls visit with every row of the table in row ID order until visit
// returns false. Rows the engine cannot read are skipped.
func (t *Table[M]) scan(ctx context.Context, tx db.Transaction, batchSize int, keysOnly bool, visit func(rec record.Record) bool) error {
	if batchSize < 0 {
		return rowsync.NewError(fmt.Sprintf("batch size must not be negative, got %d", batchSize), rowsync.ErrBadArgument)
	}

	opts := db.ScanOptions{Limit: batchSize, KeysOnly: keysOnly}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		cur, err := tx.Reader().Scan(ctx, t.table, opts)
		if err != nil {
			return rowsync.WrapDBErrorf(err, "scan %s", t.table.Name)
		}

		n, stopped, err := t.scanBatch(cur, &opts.AfterRowID, visit)
		if err != nil || stopped {
			return err
		}
		if batchSize == 0 || n < batchSize {
			return nil
		}
		t.log.Tracef("%s: scanned batch of %d rows up to row %d", t.table.Name, n, opts.AfterRowID)
	}
}

func (t *Table[M]) scanBatch(cur db.Cursor, lastRowID *int64, visit func(rec record.Record) bool) (n int, stopped bool, err error) {
	defer cur.Close()

	for cur.Next() {
		n++
		rec, err := cur.Record()
		*lastRowID = rec.RowID
		if err != nil {
			t.skipRow(rec.RowID, err)
			continue
		}
		if !visit(rec) {
			return n, true, nil
		}
	}
	if err := cur.Err(); err != nil {
		return n, false, rowsync.WrapDBErrorf(err, "scan %s", t.table.Name)
	}
	return n, false, nil
}

// Insert adds m as a new row and sets its row ID. m must not already have a
// row ID. If the transaction rolls back, the row ID of m is reset. It returns
// an error wrapping rowsync.ErrDuplicateUniqueID if a row with the same unique
// ID exists.
func (t *Table[M]) Insert(ctx context.Context, tx *db.WriteTransaction, m M) error {
	t.metrics.Operation(t.table.Name, "insert")

	if m.RowID() != 0 {
		msg := fmt.Sprintf("insert %s %q: already has row ID %d", t.table.Collection, m.UniqueID(), m.RowID())
		return rowsync.NewError(msg, rowsync.ErrBadArgument)
	}
	return t.insert(ctx, tx, m)
}

// insert writes m as a new row regardless of its current row ID, which is
// restored if tx rolls back.
func (t *Table[M]) insert(ctx context.Context, tx *db.WriteTransaction, m M) error {
	rec, err := t.codec.Encode(m)
	if err != nil {
		return err
	}

	rowID, err := tx.Writer().Insert(ctx, t.table, rec)
	if err != nil {
		return rowsync.WrapDBErrorf(err, "insert %s %q", t.table.Collection, rec.UniqueID)
	}

	prevRowID := m.RowID()
	m.SetRowID(rowID)
	tx.AfterRollback(func() { m.SetRowID(prevRowID) })
	t.touch(tx, rec.UniqueID)

	t.log.Debugf("%s: inserted %q as row %d", t.table.Name, rec.UniqueID, rowID)
	return nil
}

// Update overwrites the row with the unique ID of m with the fields of m. It
// returns an error wrapping rowsync.ErrNotFound if there is no such row.
//
// Update does not check whether m is up to date; see UpdateWith.
func (t *Table[M]) Update(ctx context.Context, tx *db.WriteTransaction, m M) error {
	t.metrics.Operation(t.table.Name, "update")

	rec, err := t.codec.Encode(m)
	if err != nil {
		return err
	}

	if err := tx.Writer().Update(ctx, t.table, rec); err != nil {
		return rowsync.WrapDBErrorf(err, "update %s %q", t.table.Collection, rec.UniqueID)
	}
	t.touch(tx, rec.UniqueID)

	t.log.Tracef("%s: updated %q", t.table.Name, rec.UniqueID)
	return nil
}

// Remove deletes the row with the given unique ID. It returns an error
// wrapping rowsync.ErrNotFound if there is no such row.
func (t *Table[M]) Remove(ctx context.Context, tx *db.WriteTransaction, uniqueID string) error {
	t.metrics.Operation(t.table.Name, "remove")

	if err := tx.Writer().Delete(ctx, t.table, uniqueID); err != nil {
		return rowsync.WrapDBErrorf(err, "remove %s %q", t.table.Collection, uniqueID)
	}
	t.touch(tx, uniqueID)

	t.log.Debugf("%s: removed %q", t.table.Name, uniqueID)
	return nil
}

// RemoveObject deletes the row of m. The OnRemove hook of the store is called
// with m once the transaction commits.
func (t *Table[M]) RemoveObject(ctx context.Context, tx *db.WriteTransaction, m M) error {
	if err := t.Remove(ctx, tx, m.UniqueID()); err != nil {
		return err
	}
	t.afterRemove(tx, m)
	return nil
}

// RemoveAllWithoutInstantiation deletes every row of the table without
// decoding any of them, and returns how many were deleted. The OnRemove hook
// is not called.
func (t *Table[M]) RemoveAllWithoutInstantiation(ctx context.Context, tx *db.WriteTransaction) (int64, error) {
	t.metrics.Operation(t.table.Name, "remove-all")

	n, err := tx.Writer().DeleteAll(ctx, t.table)
	if err != nil {
		return 0, rowsync.WrapDBErrorf(err, "remove all %s", t.table.Collection)
	}
	t.allRemoved(tx)

	t.log.Debugf("%s: removed all %d rows", t.table.Name, n)
	return n, nil
}

// RemoveAllWithInstantiation deletes every row of the table one object at a
// time and returns how many were deleted. The OnRemove hook is called with
// each removed object once the transaction commits. Unique IDs are read
// batchSize at a time as for EnumerateUniqueIDs.
func (t *Table[M]) RemoveAllWithInstantiation(ctx context.Context, tx *db.WriteTransaction, batchSize int) (int64, error) {
	t.metrics.Operation(t.table.Name, "remove-all-instantiated")

	var ids []string
	for id, err := range t.EnumerateUniqueIDs(ctx, tx, batchSize) {
		if err != nil {
			return 0, err
		}
		ids = append(ids, id)
	}

	var removed int64
	for _, id := range ids {
		m, ok, err := t.Fetch(ctx, tx, id)
		if err != nil {
			if errors.Is(err, rowsync.ErrMalformedRecord) || errors.Is(err, rowsync.ErrCorruptBlob) {
				t.log.Warnf("%s: removing undecodable row %q without instantiation: %v", t.table.Name, id, err)
				if err := t.Remove(ctx, tx, id); err != nil {
					return removed, err
				}
				removed++
				continue
			}
			return removed, err
		}
		if !ok {
			t.log.Warnf("%s: %q disappeared before it could be removed", t.table.Name, id)
			continue
		}

		if err := t.RemoveObject(ctx, tx, m); err != nil {
			return removed, err
		}
		removed++
	}
	t.allRemoved(tx)

	t.log.Debugf("%s: removed all %d objects", t.table.Name, removed)
	return removed, nil
}

// Reload overwrites the fields of m with those of the current row with the
// same unique ID. If there is no such row, it returns an error wrapping
// rowsync.ErrNotFound, or does nothing if ignoreMissing is set.
func (t *Table[M]) Reload(ctx context.Context, tx db.Transaction, m M, ignoreMissing bool) error {
	latest, ok, err := t.Fetch(ctx, tx, m.UniqueID())
	if err != nil {
		return err
	}
	if !ok {
		if ignoreMissing {
			return nil
		}
		return rowsync.NewError(fmt.Sprintf("reload %s %q", t.table.Collection, m.UniqueID()), rowsync.ErrNotFound)
	}

	if latest != m {
		m.ReplaceWith(latest)
	}
	return nil
}

// DeepCopy returns a new instance equal to m that shares no memory with it,
// including the row ID.
func (t *Table[M]) DeepCopy(m M) (M, error) {
	var zero M

	rec, err := t.codec.Encode(m)
	if err != nil {
		return zero, err
	}
	return t.codec.Decode(rec.Clone())
}

// RestoreRecord writes the object encoded in rec to the table, inserting it
// or overwriting the existing row with the same unique ID. The row ID of rec
// is ignored.
func (t *Table[M]) RestoreRecord(ctx context.Context, tx *db.WriteTransaction, rec record.Record) error {
	rec.RowID = 0
	m, err := t.codec.Decode(rec)
	if err != nil {
		return err
	}
	return t.Upsert(ctx, tx, m)
}

// touch marks uniqueID as written in tx and arranges for its cache entry to be
// dropped when tx ends, whether it commits or not.
func (t *Table[M]) touch(tx *db.WriteTransaction, uniqueID string) {
	tx.MarkDirty(t.table.Name, uniqueID)
	invalidate := func() { t.cache.Invalidate(uniqueID) }
	tx.AfterCommit(invalidate)
	tx.AfterRollback(invalidate)
}

func (t *Table[M]) afterRemove(tx *db.WriteTransaction, m M) {
	if t.onRemove == nil {
		return
	}
	tx.AfterCommit(func() { t.onRemove(m) })
}

// allRemoved marks the whole table as written in tx and arranges for the cache
// to be emptied and the search index told once tx commits.
func (t *Table[M]) allRemoved(tx *db.WriteTransaction) {
	tx.MarkTableDirty(t.table.Name)
	tx.AfterCommit(func() {
		t.cache.InvalidateAll()
		if err := t.search.AllModelsWereRemoved(t.table.Collection); err != nil {
			t.log.Warnf("%s: notifying search index of removal: %v", t.table.Name, err)
		}
	})
	tx.AfterRollback(t.cache.InvalidateAll)
}
