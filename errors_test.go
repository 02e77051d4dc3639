package rowsync

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_Error_Is(t *testing.T) {
	testCases := []struct {
		name   string
		err    error
		target error
		expect bool
	}{
		{
			name:   "matches single cause",
			err:    NewError("fetch", ErrNotFound),
			target: ErrNotFound,
			expect: true,
		},
		{
			name:   "matches second cause",
			err:    NewError("insert", ErrConstraintViolation, ErrDuplicateUniqueID),
			target: ErrDuplicateUniqueID,
			expect: true,
		},
		{
			name:   "matches nested Error cause",
			err:    NewError("outer", NewError("inner", ErrCorruptBlob)),
			target: ErrCorruptBlob,
			expect: true,
		},
		{
			name:   "does not match unrelated sentinel",
			err:    NewError("fetch", ErrNotFound),
			target: ErrDB,
			expect: false,
		},
		{
			name:   "equal Error values match",
			err:    NewError("msg", ErrNotFound),
			target: NewError("msg", ErrNotFound),
			expect: true,
		},
		{
			name:   "Error with different message does not match",
			err:    NewError("msg", ErrNotFound),
			target: NewError("other", ErrNotFound),
			expect: false,
		},
		{
			name:   "wrapped by fmt.Errorf still matches",
			err:    fmt.Errorf("decode: %w", NewError("devices", ErrCorruptBlob)),
			target: ErrCorruptBlob,
			expect: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)

			actual := errors.Is(tc.err, tc.target)

			assert.Equal(tc.expect, actual)
		})
	}
}

func Test_Error_Error(t *testing.T) {
	testCases := []struct {
		name   string
		err    Error
		expect string
	}{
		{name: "message only", err: NewError("oops"), expect: "oops"},
		{name: "cause only", err: NewError("", ErrNotFound), expect: ErrNotFound.Error()},
		{name: "message and cause", err: NewError("fetch", ErrNotFound), expect: "fetch: " + ErrNotFound.Error()},
		{name: "empty", err: Error{}, expect: ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)
			assert.Equal(tc.expect, tc.err.Error())
		})
	}
}

func Test_WrapDBError(t *testing.T) {
	t.Run("no rows is converted to not found", func(t *testing.T) {
		assert := assert.New(t)

		err := WrapDBError(sql.ErrNoRows)

		assert.ErrorIs(err, ErrNotFound)
		assert.ErrorIs(err, ErrDB)
	})

	t.Run("other errors are preserved", func(t *testing.T) {
		assert := assert.New(t)
		cause := errors.New("disk on fire")

		err := WrapDBErrorf(cause, "update %s", "model_SignalRecipient")

		assert.ErrorIs(err, cause)
		assert.ErrorIs(err, ErrDB)
		assert.Equal("update model_SignalRecipient: disk on fire", err.Error())
	})
}
