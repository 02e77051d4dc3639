// Package inmem provides an in-memory db.Engine that can optionally persist
// its data to a file on disk after every commit.
//
// Read transactions see a snapshot of the committed data as of when they
// began. A write transaction works on a private copy of each table it writes
// to, and committing swaps the copies in.
package inmem

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/dekarrin/rezi/v2"
	"github.com/dekarrin/rowsync"
	"github.com/dekarrin/rowsync/db"
	"github.com/dekarrin/rowsync/record"
)

var errTxDone = errors.New("transaction has already been committed or rolled back")

// table is the stored form of one table. A *table reachable from
// Engine.tables is never modified; writers modify a clone.
type table struct {
	name      string
	lastRowID int64
	rows      map[string]record.Record
}

func (t *table) clone() *table {
	c := &table{
		name:      t.name,
		lastRowID: t.lastRowID,
		rows:      make(map[string]record.Record, len(t.rows)),
	}
	for k, v := range t.rows {
		c.rows[k] = v
	}
	return c
}

func (t table) MarshalBinary() ([]byte, error) {
	var enc []byte

	rows := make([]record.Record, 0, len(t.rows))
	for _, r := range t.rows {
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].RowID < rows[j].RowID })

	enc = append(enc, rezi.MustEnc(t.name)...)
	enc = append(enc, rezi.MustEnc(t.lastRowID)...)
	enc = append(enc, rezi.MustEnc(rows)...)

	return enc, nil
}

func (t *table) UnmarshalBinary(data []byte) error {
	rr, err := rezi.NewReader(bytes.NewBuffer(data), nil)
	if err != nil {
		return err
	}

	var decoded table
	var rows []record.Record

	err = rr.Dec(&decoded.name)
	if err != nil {
		return rezi.Wrapf(0, "name: %s", err)
	}
	err = rr.Dec(&decoded.lastRowID)
	if err != nil {
		return rezi.Wrapf(0, "last row ID: %s", err)
	}
	err = rr.Dec(&rows)
	if err != nil {
		return rezi.Wrapf(0, "rows: %s", err)
	}

	decoded.rows = make(map[string]record.Record, len(rows))
	for _, r := range rows {
		decoded.rows[r.UniqueID] = r
	}

	*t = decoded
	return nil
}

// Engine is an in-memory storage engine. The zero value is not ready for use;
// call New, Open or Import to create one.
type Engine struct {
	// DataFile is the path to the file the engine persists to on every commit
	// and on Close. If empty, the data is never written to disk.
	DataFile string

	// mtx guards tables and closed.
	mtx    sync.RWMutex
	closed bool
	tables map[string]*table

	// wmtx is held by the open write transaction, if any.
	wmtx sync.Mutex
}

// New creates an empty engine that is not persisted to disk.
func New() *Engine {
	return &Engine{tables: map[string]*table{}}
}

// Open returns an engine persisted to file. If file exists, the data in it is
// loaded; otherwise it is created. If file is empty, the engine is not
// persisted.
func Open(file string) (*Engine, error) {
	e := New()
	if file == "" {
		return e, nil
	}

	dbData, err := readDataFile(file)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read file: %w", err)
	}

	if err == nil {
		if len(dbData) > 0 {
			e, err = Import(dbData)
			if err != nil {
				return nil, fmt.Errorf("load data: %w", err)
			}
		}
	} else {
		// quick check to see if later writing would fail due to permissions.
		f, err := os.Create(file)
		if err != nil {
			return nil, fmt.Errorf("create new: %w", err)
		}
		f.Close()
	}

	e.DataFile = file
	return e, nil
}

// Import creates an engine from bytes previously produced by Export. The
// returned engine is not persisted to disk.
func Import(data []byte) (*Engine, error) {
	e := New()
	if _, err := rezi.Dec(data, e); err != nil {
		return nil, err
	}
	return e, nil
}

// MarshalBinary converts the committed data of e into bytes. It requires a
// read lock; prefer Export.
func (e *Engine) MarshalBinary() ([]byte, error) {
	tables := make([]table, 0, len(e.tables))
	for _, t := range e.tables {
		tables = append(tables, *t)
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].name < tables[j].name })

	return rezi.Enc(tables)
}

// UnmarshalBinary replaces the data of e with the data in bytes produced by
// MarshalBinary. It requires a write lock; prefer Import.
func (e *Engine) UnmarshalBinary(data []byte) error {
	var tables []table
	if _, err := rezi.Dec(data, &tables); err != nil {
		return rezi.Wrapf(0, "tables: %s", err)
	}

	e.tables = make(map[string]*table, len(tables))
	for i := range tables {
		e.tables[tables[i].name] = &tables[i]
	}
	return nil
}

// Export returns all committed data as bytes that can be loaded with Import.
func (e *Engine) Export() ([]byte, error) {
	e.mtx.RLock()
	defer e.mtx.RUnlock()

	if e.closed {
		return nil, rowsync.ErrClosed
	}
	return rezi.Enc(e)
}

// Persist writes all committed data to DataFile. It is called automatically
// on every commit.
func (e *Engine) Persist() error {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	if e.closed {
		return rowsync.ErrClosed
	}
	return e.persistUnsafe()
}

func (e *Engine) persistUnsafe() error {
	if e.DataFile == "" {
		return nil
	}

	dataBytes, err := rezi.Enc(e)
	if err != nil {
		return fmt.Errorf("get data bytes: %w", err)
	}

	return writeDataFile(e.DataFile, dataBytes)
}

// Close persists the data and makes the engine unusable. Calling Close more
// than once has no effect.
func (e *Engine) Close() error {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	if e.closed {
		return nil
	}

	err := e.persistUnsafe()

	// close even if err is not nil; the engine must not be usable after
	// return.
	e.closed = true

	if err != nil {
		return fmt.Errorf("persist data to disk: %w", err)
	}
	return nil
}

// String returns a summary of the tables in e.
func (e *Engine) String() string {
	e.mtx.RLock()
	defer e.mtx.RUnlock()

	names := make([]string, 0, len(e.tables))
	for name := range e.tables {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString("inmem.Engine{")
	for i, name := range names {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s: %d rows", name, len(e.tables[name].rows))
	}
	sb.WriteRune('}')
	return sb.String()
}

// EnsureTable creates the table if it does not already exist.
func (e *Engine) EnsureTable(ctx context.Context, t record.Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.wmtx.Lock()
	defer e.wmtx.Unlock()
	e.mtx.Lock()
	defer e.mtx.Unlock()

	if e.closed {
		return rowsync.ErrClosed
	}
	if _, ok := e.tables[t.Name]; ok {
		return nil
	}

	updated := make(map[string]*table, len(e.tables)+1)
	for k, v := range e.tables {
		updated[k] = v
	}
	updated[t.Name] = &table{name: t.Name, rows: map[string]record.Record{}}

	old := e.tables
	e.tables = updated
	if err := e.persistUnsafe(); err != nil {
		e.tables = old
		return err
	}
	return nil
}

// BeginRead starts a read transaction on a snapshot of the committed data.
func (e *Engine) BeginRead(ctx context.Context) (db.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mtx.RLock()
	defer e.mtx.RUnlock()

	if e.closed {
		return nil, rowsync.ErrClosed
	}
	return &readTx{tables: e.tables}, nil
}

// BeginWrite starts a write transaction. It blocks until any other write
// transaction ends.
func (e *Engine) BeginWrite(ctx context.Context) (db.WriteTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.wmtx.Lock()

	e.mtx.RLock()
	closed := e.closed
	working := make(map[string]*table, len(e.tables))
	for k, v := range e.tables {
		working[k] = v
	}
	e.mtx.RUnlock()

	if closed {
		e.wmtx.Unlock()
		return nil, rowsync.ErrClosed
	}

	return &writeTx{
		readTx: readTx{tables: working},
		e:      e,
		cloned: map[string]bool{},
	}, nil
}

type readTx struct {
	tables map[string]*table
	done   bool
}

func (tx *readTx) table(name string) (*table, error) {
	if tx.done {
		return nil, errTxDone
	}
	t, ok := tx.tables[name]
	if !ok {
		return nil, rowsync.NewError(fmt.Sprintf("no such table: %s", name), rowsync.ErrDB)
	}
	return t, nil
}

func (tx *readTx) FetchOne(ctx context.Context, t record.Table, uniqueID string) (record.Record, error) {
	tbl, err := tx.table(t.Name)
	if err != nil {
		return record.Record{}, err
	}
	rec, ok := tbl.rows[uniqueID]
	if !ok {
		return record.Record{}, rowsync.ErrNotFound
	}
	return rec.Clone(), nil
}

func (tx *readTx) Exists(ctx context.Context, t record.Table, uniqueID string) (bool, error) {
	tbl, err := tx.table(t.Name)
	if err != nil {
		return false, err
	}
	_, ok := tbl.rows[uniqueID]
	return ok, nil
}

func (tx *readTx) Count(ctx context.Context, t record.Table) (int64, error) {
	tbl, err := tx.table(t.Name)
	if err != nil {
		return 0, err
	}
	return int64(len(tbl.rows)), nil
}

func (tx *readTx) Scan(ctx context.Context, t record.Table, opts db.ScanOptions) (db.Cursor, error) {
	tbl, err := tx.table(t.Name)
	if err != nil {
		return nil, err
	}

	var matched []record.Record
	for _, rec := range tbl.rows {
		if rec.RowID > opts.AfterRowID {
			matched = append(matched, rec)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].RowID < matched[j].RowID })
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}

	for i := range matched {
		if opts.KeysOnly {
			matched[i] = record.Record{RowID: matched[i].RowID, Kind: matched[i].Kind, UniqueID: matched[i].UniqueID}
		} else {
			matched[i] = matched[i].Clone()
		}
	}

	return &cursor{recs: matched, pos: -1}, nil
}

func (tx *readTx) Rollback() error {
	if tx.done {
		return errTxDone
	}
	tx.done = true
	tx.tables = nil
	return nil
}

type writeTx struct {
	readTx
	e      *Engine
	cloned map[string]bool
}

// writable returns the working copy of the named table, cloning it first if
// this transaction has not yet written to it.
func (tx *writeTx) writable(name string) (*table, error) {
	tbl, err := tx.table(name)
	if err != nil {
		return nil, err
	}
	if !tx.cloned[name] {
		tbl = tbl.clone()
		tx.tables[name] = tbl
		tx.cloned[name] = true
	}
	return tbl, nil
}

func (tx *writeTx) Insert(ctx context.Context, t record.Table, rec record.Record) (int64, error) {
	if err := t.Check(rec); err != nil {
		return 0, err
	}
	tbl, err := tx.writable(t.Name)
	if err != nil {
		return 0, err
	}
	if _, ok := tbl.rows[rec.UniqueID]; ok {
		return 0, rowsync.NewError(fmt.Sprintf("unique ID %q already exists in %s", rec.UniqueID, t.Name), rowsync.ErrDuplicateUniqueID, rowsync.ErrConstraintViolation)
	}

	tbl.lastRowID++
	stored := rec.Clone()
	stored.RowID = tbl.lastRowID
	tbl.rows[rec.UniqueID] = stored

	return stored.RowID, nil
}

func (tx *writeTx) Update(ctx context.Context, t record.Table, rec record.Record) error {
	if err := t.Check(rec); err != nil {
		return err
	}
	tbl, err := tx.writable(t.Name)
	if err != nil {
		return err
	}
	existing, ok := tbl.rows[rec.UniqueID]
	if !ok {
		return rowsync.ErrNotFound
	}

	stored := rec.Clone()
	stored.RowID = existing.RowID
	tbl.rows[rec.UniqueID] = stored
	return nil
}

func (tx *writeTx) Delete(ctx context.Context, t record.Table, uniqueID string) error {
	tbl, err := tx.writable(t.Name)
	if err != nil {
		return err
	}
	if _, ok := tbl.rows[uniqueID]; !ok {
		return rowsync.ErrNotFound
	}
	delete(tbl.rows, uniqueID)
	return nil
}

func (tx *writeTx) DeleteAll(ctx context.Context, t record.Table) (int64, error) {
	tbl, err := tx.writable(t.Name)
	if err != nil {
		return 0, err
	}
	n := int64(len(tbl.rows))
	tbl.rows = map[string]record.Record{}
	return n, nil
}

func (tx *writeTx) Commit() error {
	if tx.done {
		return errTxDone
	}
	defer tx.e.wmtx.Unlock()
	tx.done = true

	tx.e.mtx.Lock()
	defer tx.e.mtx.Unlock()

	if tx.e.closed {
		return rowsync.ErrClosed
	}

	old := tx.e.tables
	tx.e.tables = tx.tables
	if err := tx.e.persistUnsafe(); err != nil {
		tx.e.tables = old
		return err
	}
	tx.tables = nil
	return nil
}

func (tx *writeTx) Rollback() error {
	if tx.done {
		return errTxDone
	}
	defer tx.e.wmtx.Unlock()
	tx.done = true
	tx.tables = nil
	return nil
}

type cursor struct {
	recs []record.Record
	pos  int
}

func (c *cursor) Next() bool {
	if c.pos+1 >= len(c.recs) {
		c.pos = len(c.recs)
		return false
	}
	c.pos++
	return true
}

func (c *cursor) Record() (record.Record, error) {
	if c.pos < 0 || c.pos >= len(c.recs) {
		return record.Record{}, fmt.Errorf("cursor is not on a row")
	}
	return c.recs[c.pos], nil
}

func (c *cursor) Err() error {
	return nil
}

func (c *cursor) Close() error {
	c.recs = nil
	return nil
}
