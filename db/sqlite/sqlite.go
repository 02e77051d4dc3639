// Package sqlite provides a db.Engine backed by SQLite.
//
// Each record.Table maps to one SQL table with an INTEGER PRIMARY KEY
// AUTOINCREMENT row ID column, a recordType column, a UNIQUE uniqueId column
// and one column per payload column.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dekarrin/rowsync"
	"github.com/dekarrin/rowsync/db"
	"github.com/dekarrin/rowsync/record"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Engine is a SQLite storage engine. Its zero-value should not be used; call
// Open or New to get an Engine ready for use.
type Engine struct {
	db   *sql.DB
	file string
}

// Open opens the SQLite database at file, creating it if it does not exist.
// The special name ":memory:" opens a private in-memory database.
func Open(file string) (*Engine, error) {
	conn, err := sql.Open("sqlite", file)
	if err != nil {
		return nil, rowsync.WrapDBError(err)
	}
	if file == ":memory:" {
		// every connection to :memory: is a separate database
		conn.SetMaxOpenConns(1)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, rowsync.WrapDBErrorf(err, "open %s", file)
	}

	e := New(conn)
	e.file = file
	return e, nil
}

// New creates an Engine that uses an already-open database handle.
func New(conn *sql.DB) *Engine {
	return &Engine{db: conn}
}

// Close closes the underlying database handle.
func (e *Engine) Close() error {
	if err := e.db.Close(); err != nil {
		if e.file != "" {
			return fmt.Errorf("%s: %w", e.file, err)
		}
		return err
	}
	return nil
}

// EnsureTable creates the table if it does not already exist.
func (e *Engine) EnsureTable(ctx context.Context, t record.Table) error {
	_, err := e.db.ExecContext(ctx, createTableSQL(t))
	if err != nil {
		return rowsync.WrapDBError(err)
	}
	return nil
}

// BeginRead starts a read-only transaction.
func (e *Engine) BeginRead(ctx context.Context) (db.Tx, error) {
	tx, err := e.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, rowsync.WrapDBError(err)
	}
	return &readTx{tx: tx}, nil
}

// BeginWrite starts a read-write transaction.
func (e *Engine) BeginWrite(ctx context.Context) (db.WriteTx, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, rowsync.WrapDBError(err)
	}
	return &writeTx{readTx{tx: tx}}, nil
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func createTableSQL(t record.Table) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "CREATE TABLE IF NOT EXISTS %s (\n", quote(t.Name))
	fmt.Fprintf(&sb, "\t%s INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL,\n", record.ColumnRowID)
	fmt.Fprintf(&sb, "\t%s INTEGER NOT NULL,\n", record.ColumnKind)
	fmt.Fprintf(&sb, "\t%s TEXT NOT NULL UNIQUE", record.ColumnUniqueID)
	for _, col := range t.Columns {
		fmt.Fprintf(&sb, ",\n\t%s %s", quote(col.Name), col.Type.String())
		if !col.Nullable {
			sb.WriteString(" NOT NULL")
		}
	}
	sb.WriteString("\n);")

	return sb.String()
}

func selectList(t record.Table, keysOnly bool) string {
	cols := []string{record.ColumnRowID, record.ColumnKind, record.ColumnUniqueID}
	if !keysOnly {
		for _, col := range t.Columns {
			cols = append(cols, quote(col.Name))
		}
	}
	return strings.Join(cols, ", ")
}

// payloadArgs returns the values of the payload fields of rec in column order.
func payloadArgs(t record.Table, rec record.Record) []any {
	args := make([]any, len(t.Columns))
	for i, col := range t.Columns {
		args[i] = rec.Fields[col.Name]
	}
	return args
}

func isUniqueViolation(err error) bool {
	sqliteErr := &sqlite.Error{}
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

// rowScanner is implemented by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord reads one row selected with selectList into a Record. The
// returned error is a scan failure of the whole row. The payload error is
// specific to a field that does not fit its column; the record still has
// RowID, Kind and UniqueID set in that case.
func scanRecord(sc rowScanner, t record.Table, keysOnly bool) (rec record.Record, payloadErr error, err error) {
	var kind int64
	dest := []any{&rec.RowID, &kind, &rec.UniqueID}

	var raw []any
	if !keysOnly {
		raw = make([]any, len(t.Columns))
		for i := range raw {
			dest = append(dest, &raw[i])
		}
	}

	if err := sc.Scan(dest...); err != nil {
		return record.Record{}, nil, err
	}
	rec.Kind = record.Kind(kind)

	if keysOnly {
		return rec, nil, nil
	}

	rec.Fields = make(map[string]any, len(t.Columns))
	for i, col := range t.Columns {
		v, err := record.Normalize(col, raw[i])
		if err != nil {
			return rec, rowsync.NewError(fmt.Sprintf("row %d", rec.RowID), err), nil
		}
		if b, ok := v.([]byte); ok {
			// driver-owned memory is only valid until the next Scan
			v = append([]byte{}, b...)
		}
		rec.Fields[col.Name] = v
	}
	return rec, nil, nil
}

type readTx struct {
	tx *sql.Tx
}

func (r *readTx) FetchOne(ctx context.Context, t record.Table, uniqueID string) (record.Record, error) {
	row := r.tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE %s = ?;`, selectList(t, false), quote(t.Name), record.ColumnUniqueID), uniqueID)

	rec, payloadErr, err := scanRecord(row, t, false)
	if err != nil {
		return record.Record{}, rowsync.WrapDBError(err)
	}
	if payloadErr != nil {
		return record.Record{}, payloadErr
	}
	return rec, nil
}

func (r *readTx) Exists(ctx context.Context, t record.Table, uniqueID string) (bool, error) {
	var exists bool
	row := r.tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE %s = ?);`, quote(t.Name), record.ColumnUniqueID), uniqueID)
	if err := row.Scan(&exists); err != nil {
		return false, rowsync.WrapDBError(err)
	}
	return exists, nil
}

func (r *readTx) Count(ctx context.Context, t record.Table) (int64, error) {
	var count int64
	row := r.tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s;`, quote(t.Name)))
	if err := row.Scan(&count); err != nil {
		return 0, rowsync.WrapDBError(err)
	}
	return count, nil
}

func (r *readTx) Scan(ctx context.Context, t record.Table, opts db.ScanOptions) (db.Cursor, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s > ? ORDER BY %s`, selectList(t, opts.KeysOnly), quote(t.Name), record.ColumnRowID, record.ColumnRowID)
	args := []any{opts.AfterRowID}
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}
	query += ";"

	rows, err := r.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, rowsync.WrapDBError(err)
	}
	return &cursor{rows: rows, table: t, keysOnly: opts.KeysOnly}, nil
}

func (r *readTx) Rollback() error {
	return r.tx.Rollback()
}

type writeTx struct {
	readTx
}

func (w *writeTx) Insert(ctx context.Context, t record.Table, rec record.Record) (int64, error) {
	if err := t.Check(rec); err != nil {
		return 0, err
	}

	cols := []string{record.ColumnKind, record.ColumnUniqueID}
	for _, col := range t.Columns {
		cols = append(cols, quote(col.Name))
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")

	stmt, err := w.tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s);`, quote(t.Name), strings.Join(cols, ", "), placeholders))
	if err != nil {
		return 0, rowsync.WrapDBError(err)
	}
	defer stmt.Close()

	args := append([]any{int64(rec.Kind), rec.UniqueID}, payloadArgs(t, rec)...)
	res, err := stmt.ExecContext(ctx, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, rowsync.NewError(fmt.Sprintf("unique ID %q already exists in %s", rec.UniqueID, t.Name), rowsync.ErrDuplicateUniqueID, rowsync.WrapDBError(err))
		}
		return 0, rowsync.WrapDBError(err)
	}

	rowID, err := res.LastInsertId()
	if err != nil {
		return 0, rowsync.WrapDBError(err)
	}
	return rowID, nil
}

func (w *writeTx) Update(ctx context.Context, t record.Table, rec record.Record) error {
	if err := t.Check(rec); err != nil {
		return err
	}

	sets := []string{record.ColumnKind + "=?"}
	for _, col := range t.Columns {
		sets = append(sets, quote(col.Name)+"=?")
	}

	args := append([]any{int64(rec.Kind)}, payloadArgs(t, rec)...)
	args = append(args, rec.UniqueID)

	res, err := w.tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET %s WHERE %s=?;`, quote(t.Name), strings.Join(sets, ", "), record.ColumnUniqueID), args...)
	if err != nil {
		return rowsync.WrapDBError(err)
	}
	rowsAff, err := res.RowsAffected()
	if err != nil {
		return rowsync.WrapDBError(err)
	}
	if rowsAff < 1 {
		return rowsync.ErrNotFound
	}
	return nil
}

func (w *writeTx) Delete(ctx context.Context, t record.Table, uniqueID string) error {
	res, err := w.tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s=?;`, quote(t.Name), record.ColumnUniqueID), uniqueID)
	if err != nil {
		return rowsync.WrapDBError(err)
	}
	rowsAff, err := res.RowsAffected()
	if err != nil {
		return rowsync.WrapDBError(err)
	}
	if rowsAff < 1 {
		return rowsync.ErrNotFound
	}
	return nil
}

func (w *writeTx) DeleteAll(ctx context.Context, t record.Table) (int64, error) {
	res, err := w.tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s;`, quote(t.Name)))
	if err != nil {
		return 0, rowsync.WrapDBError(err)
	}
	rowsAff, err := res.RowsAffected()
	if err != nil {
		return 0, rowsync.WrapDBError(err)
	}
	return rowsAff, nil
}

func (w *writeTx) Commit() error {
	return w.tx.Commit()
}

type cursor struct {
	rows     *sql.Rows
	table    record.Table
	keysOnly bool

	cur    record.Record
	curErr error
	err    error
}

func (c *cursor) Next() bool {
	if c.err != nil {
		return false
	}
	if !c.rows.Next() {
		return false
	}

	rec, payloadErr, err := scanRecord(c.rows, c.table, c.keysOnly)
	if err != nil {
		c.err = rowsync.WrapDBError(err)
		return false
	}
	c.cur, c.curErr = rec, payloadErr
	return true
}

func (c *cursor) Record() (record.Record, error) {
	return c.cur, c.curErr
}

func (c *cursor) Err() error {
	if c.err != nil {
		return c.err
	}
	if err := c.rows.Err(); err != nil {
		return rowsync.WrapDBError(err)
	}
	return nil
}

func (c *cursor) Close() error {
	return c.rows.Close()
}
