package backup

import (
	"context"
	"fmt"

	"github.com/dekarrin/rowsync"
	"github.com/dekarrin/rowsync/db"
	"github.com/dekarrin/rowsync/record"
)

// Restorer is a store that can be backed up and restored. *store.Table
// implements it.
type Restorer interface {
	// RecordTable returns the table the store persists to.
	RecordTable() record.Table

	// RestoreRecord writes the object encoded in rec, inserting it or
	// overwriting the existing row with the same unique ID.
	RestoreRecord(ctx context.Context, tx *db.WriteTransaction, rec record.Record) error
}

// Source ties a store to the entity type its rows are backed up as.
type Source struct {
	Type  EntityType
	Store Restorer
}

// Export reads every row of the table of each source and returns them as a
// snapshot. All tables are read in a single read transaction.
func Export(ctx context.Context, d *db.Database, sources ...Source) (Snapshot, error) {
	var snap Snapshot

	err := d.WithReadTransaction(ctx, func(ctx context.Context, tx *db.ReadTransaction) error {
		for _, src := range sources {
			entities, err := exportTable(ctx, tx, src)
			if err != nil {
				return err
			}
			snap.Entities = append(snap.Entities, entities...)
		}
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}

	return snap, nil
}

func exportTable(ctx context.Context, tx *db.ReadTransaction, src Source) ([]Entity, error) {
	t := src.Store.RecordTable()

	cur, err := tx.Reader().Scan(ctx, t, db.ScanOptions{})
	if err != nil {
		return nil, rowsync.WrapDBErrorf(err, "scan %s", t.Name)
	}
	defer cur.Close()

	var entities []Entity
	for cur.Next() {
		rec, err := cur.Record()
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", t.Name, rec.RowID, err)
		}
		data, err := rec.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", t.Name, rec.RowID, err)
		}
		entities = append(entities, Entity{Type: src.Type, Data: data})
	}
	if err := cur.Err(); err != nil {
		return nil, rowsync.WrapDBErrorf(err, "scan %s", t.Name)
	}

	return entities, nil
}

// Import writes every entity of snap through the source for its type and
// returns how many were written. Rows get new row IDs. Entities that already
// exist by unique ID are overwritten.
//
// The import runs in a single write transaction; if any entity cannot be
// restored, including one whose type has no source, nothing is written.
func Import(ctx context.Context, d *db.Database, snap Snapshot, sources ...Source) (int, error) {
	if err := snap.Validate(); err != nil {
		return 0, err
	}

	byType := map[EntityType]Restorer{}
	for _, src := range sources {
		byType[src.Type] = src.Store
	}

	var n int
	err := d.WithWriteTransaction(ctx, func(ctx context.Context, tx *db.WriteTransaction) error {
		for i, e := range snap.Entities {
			store, ok := byType[e.Type]
			if !ok {
				return rowsync.NewError(fmt.Sprintf("entity %d: no store for %s entities", i, e.Type), rowsync.ErrBadArgument)
			}

			var rec record.Record
			if err := rec.UnmarshalBinary(e.Data); err != nil {
				return rowsync.NewError(fmt.Sprintf("entity %d: %v", i, err), rowsync.ErrCorruptBlob)
			}
			if err := store.RestoreRecord(ctx, tx, rec); err != nil {
				return fmt.Errorf("entity %d: %w", i, err)
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return n, nil
}
