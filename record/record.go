// Package record defines the flat, row-shaped form of persisted entities and
// the schema of the tables that hold them.
//
// A Record is what a storage engine reads and writes; it knows nothing about
// the domain object it came from. Conversion between the two is done by a
// codec in the model package.
package record

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"

	"github.com/dekarrin/rezi/v2"
	"github.com/dekarrin/rowsync"
)

// Names of the columns present in every table.
const (
	ColumnRowID    = "id"
	ColumnKind     = "recordType"
	ColumnUniqueID = "uniqueId"
)

var identifierRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Kind is the discriminator stored with each record that selects the domain
// object variant it decodes into.
type Kind int64

// ColumnType is the storage type of a payload column.
type ColumnType int

const (
	Int64 ColumnType = iota + 1
	Text
	Blob
)

func (ct ColumnType) String() string {
	switch ct {
	case Int64:
		return "INTEGER"
	case Text:
		return "TEXT"
	case Blob:
		return "BLOB"
	default:
		return fmt.Sprintf("ColumnType(%d)", int(ct))
	}
}

// Column is a payload column of a Table.
type Column struct {
	Name     string
	Type     ColumnType
	Nullable bool
}

// Table is the schema of one logical table. Every table implicitly has the
// columns ColumnRowID, ColumnKind and ColumnUniqueID in addition to Columns.
type Table struct {
	// Name is the physical name of the table.
	Name string

	// Collection is the logical name of the entity collection stored in the
	// table. It is what search indexes know the table by.
	Collection string

	// Columns is the payload columns of the table.
	Columns []Column
}

// Validate returns an error if t cannot be used as a table schema.
func (t Table) Validate() error {
	if !identifierRegex.MatchString(t.Name) {
		return rowsync.NewError(fmt.Sprintf("table name %q is not a valid identifier", t.Name), rowsync.ErrBadArgument)
	}

	seen := map[string]bool{
		ColumnRowID:    true,
		ColumnKind:     true,
		ColumnUniqueID: true,
	}
	for _, col := range t.Columns {
		if !identifierRegex.MatchString(col.Name) {
			return rowsync.NewError(fmt.Sprintf("column name %q is not a valid identifier", col.Name), rowsync.ErrBadArgument)
		}
		if seen[col.Name] {
			return rowsync.NewError(fmt.Sprintf("duplicate or reserved column name %q", col.Name), rowsync.ErrBadArgument)
		}
		switch col.Type {
		case Int64, Text, Blob:
		default:
			return rowsync.NewError(fmt.Sprintf("column %q: unknown type %s", col.Name, col.Type), rowsync.ErrBadArgument)
		}
		seen[col.Name] = true
	}
	return nil
}

// Column returns the payload column with the given name.
func (t Table) Column(name string) (Column, bool) {
	for _, col := range t.Columns {
		if col.Name == name {
			return col, true
		}
	}
	return Column{}, false
}

// Check returns an error wrapping rowsync.ErrMalformedRecord if rec does not
// fit the table: a missing unique ID, a missing or mistyped payload field, or
// a field the table has no column for.
func (t Table) Check(rec Record) error {
	if rec.UniqueID == "" {
		return rowsync.NewError("record has no unique ID", rowsync.ErrMalformedRecord)
	}
	for _, col := range t.Columns {
		v, ok := rec.Fields[col.Name]
		if !ok {
			return rowsync.NewError(fmt.Sprintf("record is missing field %q", col.Name), rowsync.ErrMalformedRecord)
		}
		if _, err := Normalize(col, v); err != nil {
			return err
		}
	}
	for name := range rec.Fields {
		if _, ok := t.Column(name); !ok {
			return rowsync.NewError(fmt.Sprintf("table %s has no column %q", t.Name, name), rowsync.ErrMalformedRecord)
		}
	}
	return nil
}

// Normalize converts a value read from storage into the canonical Go type for
// col: int64 for Int64, string for Text and []byte for Blob. A nil value is
// only allowed for nullable columns.
func Normalize(col Column, v any) (any, error) {
	if v == nil {
		if !col.Nullable {
			return nil, rowsync.NewError(fmt.Sprintf("field %q is null", col.Name), rowsync.ErrMalformedRecord)
		}
		return nil, nil
	}

	switch col.Type {
	case Int64:
		switch n := v.(type) {
		case int64:
			return n, nil
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		}
	case Text:
		switch s := v.(type) {
		case string:
			return s, nil
		case []byte:
			return string(s), nil
		}
	case Blob:
		switch b := v.(type) {
		case []byte:
			return b, nil
		case string:
			return []byte(b), nil
		}
	}
	return nil, rowsync.NewError(fmt.Sprintf("field %q: cannot use %T as %s", col.Name, v, col.Type), rowsync.ErrMalformedRecord)
}

// Record is the row form of a persisted entity.
type Record struct {
	// RowID is the surrogate key assigned by the store on insert. Zero means
	// not yet assigned.
	RowID int64

	Kind     Kind
	UniqueID string

	// Fields maps payload column names to values. Values are int64, string,
	// []byte, or nil for a null in a nullable column.
	Fields map[string]any
}

// Int64 returns the integer field with the given name.
func (r Record) Int64(name string) (int64, error) {
	v, ok := r.Fields[name]
	if !ok {
		return 0, rowsync.NewError(fmt.Sprintf("record is missing field %q", name), rowsync.ErrMalformedRecord)
	}
	n, ok := v.(int64)
	if !ok {
		return 0, rowsync.NewError(fmt.Sprintf("field %q is %T, not int64", name, v), rowsync.ErrMalformedRecord)
	}
	return n, nil
}

// Text returns the text field with the given name. The returned bool is false
// if the field is null.
func (r Record) Text(name string) (string, bool, error) {
	v, ok := r.Fields[name]
	if !ok {
		return "", false, rowsync.NewError(fmt.Sprintf("record is missing field %q", name), rowsync.ErrMalformedRecord)
	}
	if v == nil {
		return "", false, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", false, rowsync.NewError(fmt.Sprintf("field %q is %T, not string", name, v), rowsync.ErrMalformedRecord)
	}
	return s, true, nil
}

// Blob returns the blob field with the given name.
func (r Record) Blob(name string) ([]byte, error) {
	v, ok := r.Fields[name]
	if !ok {
		return nil, rowsync.NewError(fmt.Sprintf("record is missing field %q", name), rowsync.ErrMalformedRecord)
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, rowsync.NewError(fmt.Sprintf("field %q is %T, not []byte", name, v), rowsync.ErrMalformedRecord)
	}
	return b, nil
}

// Clone returns a copy of r that shares no memory with it.
func (r Record) Clone() Record {
	c := r
	if r.Fields != nil {
		c.Fields = make(map[string]any, len(r.Fields))
		for k, v := range r.Fields {
			if b, ok := v.([]byte); ok {
				v = append([]byte{}, b...)
			}
			c.Fields[k] = v
		}
	}
	return c
}

// field value tags in the binary form.
const (
	tagNull int = iota
	tagInt64
	tagText
	tagBlob
)

// MarshalBinary converts r into a slice of bytes that can be decoded with
// UnmarshalBinary. Fields are written in name order so that equal records
// always encode to equal bytes.
func (r Record) MarshalBinary() ([]byte, error) {
	var enc []byte

	enc = append(enc, rezi.MustEnc(r.RowID)...)
	enc = append(enc, rezi.MustEnc(int64(r.Kind))...)
	enc = append(enc, rezi.MustEnc(r.UniqueID)...)

	names := make([]string, 0, len(r.Fields))
	for name := range r.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	enc = append(enc, rezi.MustEnc(len(names))...)
	for _, name := range names {
		enc = append(enc, rezi.MustEnc(name)...)

		switch v := r.Fields[name].(type) {
		case nil:
			enc = append(enc, rezi.MustEnc(tagNull)...)
		case int64:
			enc = append(enc, rezi.MustEnc(tagInt64)...)
			enc = append(enc, rezi.MustEnc(v)...)
		case string:
			enc = append(enc, rezi.MustEnc(tagText)...)
			enc = append(enc, rezi.MustEnc(v)...)
		case []byte:
			enc = append(enc, rezi.MustEnc(tagBlob)...)
			enc = append(enc, rezi.MustEnc(v)...)
		default:
			return nil, fmt.Errorf("field %q: unsupported value type %T", name, v)
		}
	}

	return enc, nil
}

// UnmarshalBinary decodes a record previously encoded with MarshalBinary and
// sets r to it.
func (r *Record) UnmarshalBinary(data []byte) error {
	rr, err := rezi.NewReader(bytes.NewBuffer(data), nil)
	if err != nil {
		return err
	}

	var decoded Record
	var kind int64

	err = rr.Dec(&decoded.RowID)
	if err != nil {
		return rezi.Wrapf(0, "row ID: %s", err)
	}
	err = rr.Dec(&kind)
	if err != nil {
		return rezi.Wrapf(0, "kind: %s", err)
	}
	decoded.Kind = Kind(kind)
	err = rr.Dec(&decoded.UniqueID)
	if err != nil {
		return rezi.Wrapf(0, "unique ID: %s", err)
	}

	var count int
	err = rr.Dec(&count)
	if err != nil {
		return rezi.Wrapf(0, "field count: %s", err)
	}
	if count < 0 {
		return fmt.Errorf("field count: negative count %d", count)
	}

	decoded.Fields = make(map[string]any, count)
	for i := 0; i < count; i++ {
		var name string
		var tag int

		err = rr.Dec(&name)
		if err != nil {
			return rezi.Wrapf(0, "%s (name of field %d)", err, i)
		}
		err = rr.Dec(&tag)
		if err != nil {
			return rezi.Wrapf(0, "%s (tag of field %q)", err, name)
		}

		switch tag {
		case tagNull:
			decoded.Fields[name] = nil
		case tagInt64:
			var n int64
			if err := rr.Dec(&n); err != nil {
				return rezi.Wrapf(0, "%s (field %q)", err, name)
			}
			decoded.Fields[name] = n
		case tagText:
			var s string
			if err := rr.Dec(&s); err != nil {
				return rezi.Wrapf(0, "%s (field %q)", err, name)
			}
			decoded.Fields[name] = s
		case tagBlob:
			var b []byte
			if err := rr.Dec(&b); err != nil {
				return rezi.Wrapf(0, "%s (field %q)", err, name)
			}
			if b == nil {
				b = []byte{}
			}
			decoded.Fields[name] = b
		default:
			return fmt.Errorf("field %q: unknown value tag %d", name, tag)
		}
	}

	*r = decoded
	return nil
}
