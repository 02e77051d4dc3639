package db_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dekarrin/rowsync"
	"github.com/dekarrin/rowsync/db"
	"github.com/dekarrin/rowsync/db/inmem"
	"github.com/dekarrin/rowsync/internal/metrics"
	"github.com/dekarrin/rowsync/record"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTable = record.Table{
	Name:       "model_Thing",
	Collection: "Thing",
	Columns:    []record.Column{{Name: "count", Type: record.Int64}},
}

func thing(id string) record.Record {
	return record.Record{Kind: 1, UniqueID: id, Fields: map[string]any{"count": int64(0)}}
}

func newDatabase(t *testing.T) *db.Database {
	d := db.New(inmem.New(), db.Options{})
	require.NoError(t, d.EnsureTable(context.Background(), testTable))
	return d
}

func Test_Database_Nesting(t *testing.T) {
	readBody := func(d *db.Database) func(ctx context.Context, tx *db.ReadTransaction) error {
		return func(ctx context.Context, tx *db.ReadTransaction) error { return nil }
	}
	writeBody := func(d *db.Database) func(ctx context.Context, tx *db.WriteTransaction) error {
		return func(ctx context.Context, tx *db.WriteTransaction) error { return nil }
	}

	testCases := []struct {
		name  string
		outer string
		inner string
	}{
		{name: "read in read", outer: "read", inner: "read"},
		{name: "write in read", outer: "read", inner: "write"},
		{name: "read in write", outer: "write", inner: "read"},
		{name: "write in write", outer: "write", inner: "write"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)
			d := newDatabase(t)

			nested := func(ctx context.Context) error {
				if tc.inner == "read" {
					return d.WithReadTransaction(ctx, readBody(d))
				}
				return d.WithWriteTransaction(ctx, writeBody(d))
			}

			var innerErr error
			var outerErr error
			if tc.outer == "read" {
				outerErr = d.WithReadTransaction(context.Background(), func(ctx context.Context, tx *db.ReadTransaction) error {
					innerErr = nested(ctx)
					return nil
				})
			} else {
				outerErr = d.WithWriteTransaction(context.Background(), func(ctx context.Context, tx *db.WriteTransaction) error {
					innerErr = nested(ctx)
					return nil
				})
			}

			assert.NoError(outerErr)
			assert.ErrorIs(innerErr, rowsync.ErrTransactionMisuse)
		})
	}

	t.Run("transaction on another database is allowed", func(t *testing.T) {
		assert := assert.New(t)
		d1 := newDatabase(t)
		d2 := newDatabase(t)

		err := d1.WithWriteTransaction(context.Background(), func(ctx context.Context, tx *db.WriteTransaction) error {
			return d2.WithReadTransaction(ctx, func(ctx context.Context, tx *db.ReadTransaction) error {
				return d1.WithReadTransaction(ctx, readBody(d1))
			})
		})

		assert.ErrorIs(err, rowsync.ErrTransactionMisuse)

		err = d1.WithWriteTransaction(context.Background(), func(ctx context.Context, tx *db.WriteTransaction) error {
			return d2.WithReadTransaction(ctx, readBody(d2))
		})
		assert.NoError(err)
	})
}

func Test_Database_WithWriteTransaction(t *testing.T) {
	t.Run("commit runs commit hooks in order", func(t *testing.T) {
		assert := assert.New(t)
		d := newDatabase(t)
		var calls []string

		err := d.WithWriteTransaction(context.Background(), func(ctx context.Context, tx *db.WriteTransaction) error {
			tx.AfterCommit(func() { calls = append(calls, "commit-1") })
			tx.AfterRollback(func() { calls = append(calls, "rollback") })
			tx.AfterCommit(func() { calls = append(calls, "commit-2") })
			_, err := tx.Writer().Insert(ctx, testTable, thing("a"))
			return err
		})

		assert.NoError(err)
		assert.Equal([]string{"commit-1", "commit-2"}, calls)
	})

	t.Run("body error rolls back and runs rollback hooks", func(t *testing.T) {
		assert := assert.New(t)
		d := newDatabase(t)
		bodyErr := errors.New("bad")
		var calls []string

		err := d.WithWriteTransaction(context.Background(), func(ctx context.Context, tx *db.WriteTransaction) error {
			tx.AfterCommit(func() { calls = append(calls, "commit") })
			tx.AfterRollback(func() { calls = append(calls, "rollback") })
			if _, err := tx.Writer().Insert(ctx, testTable, thing("a")); err != nil {
				return err
			}
			return bodyErr
		})

		assert.ErrorIs(err, bodyErr)
		assert.Equal([]string{"rollback"}, calls)

		err = d.WithReadTransaction(context.Background(), func(ctx context.Context, tx *db.ReadTransaction) error {
			exists, err := tx.Reader().Exists(ctx, testTable, "a")
			assert.False(exists)
			return err
		})
		assert.NoError(err)
	})

	t.Run("panic rolls back and releases", func(t *testing.T) {
		assert := assert.New(t)
		d := newDatabase(t)
		rolledBack := false

		assert.Panics(func() {
			d.WithWriteTransaction(context.Background(), func(ctx context.Context, tx *db.WriteTransaction) error {
				tx.AfterRollback(func() { rolledBack = true })
				panic("boom")
			})
		})
		assert.True(rolledBack)

		done := make(chan error, 1)
		go func() {
			done <- d.WithWriteTransaction(context.Background(), func(ctx context.Context, tx *db.WriteTransaction) error {
				return nil
			})
		}()
		select {
		case err := <-done:
			assert.NoError(err)
		case <-time.After(5 * time.Second):
			t.Fatal("write transaction was not released after panic")
		}
	})

	t.Run("panicking hook does not fail the transaction", func(t *testing.T) {
		assert := assert.New(t)
		d := newDatabase(t)
		secondRan := false

		err := d.WithWriteTransaction(context.Background(), func(ctx context.Context, tx *db.WriteTransaction) error {
			tx.AfterCommit(func() { panic("cache exploded") })
			tx.AfterCommit(func() { secondRan = true })
			return nil
		})

		assert.NoError(err)
		assert.True(secondRan)
	})
}

func Test_WriteTransaction_Dirty(t *testing.T) {
	assert := assert.New(t)
	d := newDatabase(t)

	err := d.WithWriteTransaction(context.Background(), func(ctx context.Context, tx *db.WriteTransaction) error {
		assert.False(tx.IsDirty("model_Thing", "a"))

		tx.MarkDirty("model_Thing", "a")
		assert.True(tx.IsDirty("model_Thing", "a"))
		assert.False(tx.IsDirty("model_Thing", "b"))
		assert.False(tx.IsDirty("model_Other", "a"))

		tx.MarkTableDirty("model_Other")
		assert.True(tx.IsDirty("model_Other", "anything"))

		wt, ok := tx.Writable()
		assert.True(ok)
		assert.Same(tx, wt)
		return nil
	})
	assert.NoError(err)

	err = d.WithReadTransaction(context.Background(), func(ctx context.Context, tx *db.ReadTransaction) error {
		_, ok := tx.Writable()
		assert.False(ok)
		return nil
	})
	assert.NoError(err)
}

func Test_Database_ConcurrentReads(t *testing.T) {
	assert := assert.New(t)
	d := newDatabase(t)

	firstIn := make(chan struct{})
	secondIn := make(chan struct{})
	errs := make(chan error, 2)

	go func() {
		errs <- d.WithReadTransaction(context.Background(), func(ctx context.Context, tx *db.ReadTransaction) error {
			close(firstIn)
			select {
			case <-secondIn:
				return nil
			case <-time.After(5 * time.Second):
				return errors.New("second reader never started")
			}
		})
	}()
	go func() {
		<-firstIn
		errs <- d.WithReadTransaction(context.Background(), func(ctx context.Context, tx *db.ReadTransaction) error {
			close(secondIn)
			return nil
		})
	}()

	assert.NoError(<-errs)
	assert.NoError(<-errs)
}

func Test_Database_Closed(t *testing.T) {
	assert := assert.New(t)
	d := newDatabase(t)

	assert.NoError(d.Close())
	assert.NoError(d.Close())

	err := d.WithReadTransaction(context.Background(), func(ctx context.Context, tx *db.ReadTransaction) error { return nil })
	assert.ErrorIs(err, rowsync.ErrClosed)
	err = d.WithWriteTransaction(context.Background(), func(ctx context.Context, tx *db.WriteTransaction) error { return nil })
	assert.ErrorIs(err, rowsync.ErrClosed)
}

func Test_Database_EnsureTable_Invalid(t *testing.T) {
	assert := assert.New(t)
	d := db.New(inmem.New(), db.Options{})

	err := d.EnsureTable(context.Background(), record.Table{Name: "bad name"})

	assert.ErrorIs(err, rowsync.ErrBadArgument)
}

func Test_Database_Metrics(t *testing.T) {
	assert := assert.New(t)
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)
	d := db.New(inmem.New(), db.Options{Metrics: m})

	_ = d.WithWriteTransaction(context.Background(), func(ctx context.Context, tx *db.WriteTransaction) error { return nil })
	_ = d.WithWriteTransaction(context.Background(), func(ctx context.Context, tx *db.WriteTransaction) error { return errors.New("x") })

	families, err := reg.Gather()
	assert.NoError(err)

	var found bool
	for _, f := range families {
		if f.GetName() == "rowsync_transactions_total" {
			found = true
			assert.Len(f.GetMetric(), 2)
		}
	}
	assert.True(found)
}
