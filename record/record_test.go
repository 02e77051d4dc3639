package record

import (
	"testing"

	"github.com/dekarrin/rowsync"
	"github.com/stretchr/testify/assert"
)

var testTable = Table{
	Name:       "model_Thing",
	Collection: "Thing",
	Columns: []Column{
		{Name: "count", Type: Int64},
		{Name: "label", Type: Text, Nullable: true},
		{Name: "payload", Type: Blob},
	},
}

func Test_Table_Validate(t *testing.T) {
	testCases := []struct {
		name      string
		table     Table
		expectErr bool
	}{
		{name: "valid", table: testTable},
		{name: "bad table name", table: Table{Name: "model; DROP TABLE x"}, expectErr: true},
		{name: "reserved column", table: Table{Name: "t", Columns: []Column{{Name: ColumnUniqueID, Type: Text}}}, expectErr: true},
		{name: "duplicate column", table: Table{Name: "t", Columns: []Column{{Name: "a", Type: Text}, {Name: "a", Type: Blob}}}, expectErr: true},
		{name: "unknown type", table: Table{Name: "t", Columns: []Column{{Name: "a"}}}, expectErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)

			err := tc.table.Validate()

			if tc.expectErr {
				assert.ErrorIs(err, rowsync.ErrBadArgument)
			} else {
				assert.NoError(err)
			}
		})
	}
}

func Test_Table_Check(t *testing.T) {
	testCases := []struct {
		name      string
		rec       Record
		expectErr bool
	}{
		{
			name: "valid with null label",
			rec:  Record{UniqueID: "a", Fields: map[string]any{"count": int64(1), "label": nil, "payload": []byte{1}}},
		},
		{
			name:      "missing unique ID",
			rec:       Record{Fields: map[string]any{"count": int64(1), "label": nil, "payload": []byte{1}}},
			expectErr: true,
		},
		{
			name:      "missing field",
			rec:       Record{UniqueID: "a", Fields: map[string]any{"count": int64(1), "label": nil}},
			expectErr: true,
		},
		{
			name:      "null in non-nullable column",
			rec:       Record{UniqueID: "a", Fields: map[string]any{"count": nil, "label": nil, "payload": []byte{1}}},
			expectErr: true,
		},
		{
			name:      "wrong type",
			rec:       Record{UniqueID: "a", Fields: map[string]any{"count": "one", "label": nil, "payload": []byte{1}}},
			expectErr: true,
		},
		{
			name:      "unknown field",
			rec:       Record{UniqueID: "a", Fields: map[string]any{"count": int64(1), "label": nil, "payload": []byte{1}, "extra": int64(2)}},
			expectErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)

			err := testTable.Check(tc.rec)

			if tc.expectErr {
				assert.ErrorIs(err, rowsync.ErrMalformedRecord)
			} else {
				assert.NoError(err)
			}
		})
	}
}

func Test_Normalize(t *testing.T) {
	assert := assert.New(t)

	v, err := Normalize(Column{Name: "c", Type: Int64}, 7)
	assert.NoError(err)
	assert.Equal(int64(7), v)

	v, err = Normalize(Column{Name: "c", Type: Text}, []byte("hi"))
	assert.NoError(err)
	assert.Equal("hi", v)

	v, err = Normalize(Column{Name: "c", Type: Blob}, "raw")
	assert.NoError(err)
	assert.Equal([]byte("raw"), v)

	_, err = Normalize(Column{Name: "c", Type: Int64}, 1.5)
	assert.ErrorIs(err, rowsync.ErrMalformedRecord)
}

func Test_Record_BinaryRoundTrip(t *testing.T) {
	assert := assert.New(t)

	rec := Record{
		RowID:    42,
		Kind:     Kind(31),
		UniqueID: "abc",
		Fields: map[string]any{
			"count":   int64(-3),
			"label":   nil,
			"payload": []byte{0x00, 0xff, 0x10},
			"name":    "snake",
		},
	}

	data, err := rec.MarshalBinary()
	if !assert.NoError(err) {
		return
	}

	var actual Record
	err = actual.UnmarshalBinary(data)

	assert.NoError(err)
	assert.Equal(rec, actual)
}

func Test_Record_UnmarshalBinary_Truncated(t *testing.T) {
	rec := Record{
		RowID:    7,
		Kind:     Kind(2),
		UniqueID: "abc",
		Fields: map[string]any{
			"count": int64(12),
			"name":  "snake",
		},
	}
	data, err := rec.MarshalBinary()
	if !assert.NoError(t, err) {
		return
	}

	testCases := []struct {
		name string
		cut  int
	}{
		{name: "empty", cut: 0},
		{name: "inside row ID", cut: 1},
		{name: "missing last byte", cut: len(data) - 1},
		{name: "half", cut: len(data) / 2},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)
			var actual Record
			var decodeErr error

			assert.NotPanics(func() {
				decodeErr = actual.UnmarshalBinary(data[:tc.cut])
			})
			assert.Error(decodeErr)
		})
	}
}

func Test_Record_Clone(t *testing.T) {
	assert := assert.New(t)

	rec := Record{UniqueID: "abc", Fields: map[string]any{"payload": []byte{1, 2}}}
	c := rec.Clone()
	c.Fields["payload"].([]byte)[0] = 9

	assert.Equal([]byte{1, 2}, rec.Fields["payload"])
}
