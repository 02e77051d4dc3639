package store

import (
	"context"
	"errors"

	"github.com/dekarrin/rowsync"
	"github.com/dekarrin/rowsync/db"
)

// UpdateWith applies mutate to local and then persists the mutation on top of
// the latest committed state of the object, so that writes made through other
// copies of the object since local was read are not lost.
//
// mutate is always applied to local, even if nothing is persisted. The current
// row of the object is then read in tx. If there is none, the object was
// removed and nothing is written. Otherwise mutate is applied to the instance
// read from it too, and that instance, not local, is written with
// OverwritingUpdate.
//
// local may be the cached instance, so the cache entry for the object is
// dropped when tx ends whether or not anything was written.
//
// mutate may be called twice and must only modify the object it is given.
func (t *Table[M]) UpdateWith(ctx context.Context, tx *db.WriteTransaction, local M, mutate func(m M)) error {
	t.metrics.Operation(t.table.Name, "update-with")

	t.touch(tx, local.UniqueID())
	mutate(local)

	latest, ok, err := t.Fetch(ctx, tx, local.UniqueID())
	if err != nil {
		return err
	}
	if !ok {
		t.log.Debugf("%s: %q was removed; not persisting update", t.table.Name, local.UniqueID())
		return nil
	}

	if latest != local {
		mutate(latest)
	}

	return t.OverwritingUpdate(ctx, tx, latest)
}

// OverwritingUpdate writes m over its row without first reading the row. It
// must only be given an instance known to be current within tx, such as one
// just fetched in it; anything else may clobber writes made through other
// copies of the object. It returns an error wrapping rowsync.ErrNotFound if
// there is no row to overwrite.
func (t *Table[M]) OverwritingUpdate(ctx context.Context, tx *db.WriteTransaction, m M) error {
	return t.Update(ctx, tx, m)
}

// Upsert updates the row of m if it exists and inserts m otherwise. Either
// way, the row ID of m is set to that of its row.
func (t *Table[M]) Upsert(ctx context.Context, tx *db.WriteTransaction, m M) error {
	t.metrics.Operation(t.table.Name, "upsert")

	existing, err := tx.Reader().FetchOne(ctx, t.table, m.UniqueID())
	if err != nil {
		if errors.Is(err, rowsync.ErrNotFound) {
			return t.insert(ctx, tx, m)
		}
		return rowsync.WrapDBErrorf(err, "upsert %s %q", t.table.Collection, m.UniqueID())
	}

	prevRowID := m.RowID()
	m.SetRowID(existing.RowID)
	if err := t.Update(ctx, tx, m); err != nil {
		m.SetRowID(prevRowID)
		return err
	}
	tx.AfterRollback(func() { m.SetRowID(prevRowID) })
	return nil
}
