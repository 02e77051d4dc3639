package rowsync

import (
	"database/sql"
	"errors"
	"fmt"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Sentinel errors. Every error returned from rowsync and its sub-packages
// matches at least one of these with errors.Is.
var (
	ErrNotFound            = errors.New("the requested entity could not be found")
	ErrDuplicateUniqueID   = errors.New("an entity with the same unique ID already exists")
	ErrMalformedRecord     = errors.New("record is malformed or of an unknown kind")
	ErrCorruptBlob         = errors.New("blob field could not be unarchived")
	ErrTransactionMisuse   = errors.New("transaction opened inside another transaction on the same database")
	ErrDB                  = errors.New("an error occured with the DB")
	ErrBadArgument         = errors.New("one or more of the arguments is invalid")
	ErrConstraintViolation = errors.New("a uniqueness constraint was violated")
	ErrClosed              = errors.New("operation called on closed database")
)

// Error is an error with a message and any number of causes. errors.Is reports
// true for an Error and any of its causes, so a single Error can carry both a
// specific sentinel such as ErrDuplicateUniqueID and a general one such as
// ErrDB.
//
// Create one with NewError, WrapDBError or WrapDBErrorf.
type Error struct {
	msg   string
	cause []error
}

// Error returns the message followed by the text of the first cause. Either
// part is left out if it is empty.
func (e Error) Error() string {
	switch {
	case len(e.cause) == 0:
		return e.msg
	case e.msg == "":
		return e.cause[0].Error()
	default:
		return e.msg + ": " + e.cause[0].Error()
	}
}

// Unwrap returns the causes of e, or nil if it has none.
func (e Error) Unwrap() []error {
	if len(e.cause) == 0 {
		return nil
	}
	return e.cause
}

// Is returns whether target is an Error with the same message and causes as e.
// Causes of e are checked by errors.Is through Unwrap and are not examined
// here.
func (e Error) Is(target error) bool {
	other, ok := target.(Error)
	if !ok || e.msg != other.msg || len(e.cause) != len(other.cause) {
		return false
	}
	for i := range e.cause {
		if !errors.Is(e.cause[i], other.cause[i]) {
			return false
		}
	}
	return true
}

// NewError creates an Error with the given message and causes.
func NewError(msg string, causes ...error) Error {
	err := Error{msg: msg}
	if len(causes) > 0 {
		err.cause = append([]error(nil), causes...)
	}
	return err
}

// WrapDBError returns an Error caused by both err and ErrDB. The message, if
// any, is built from msg with fmt.Sprint.
//
// Storage errors with a rowsync meaning are converted first: sql.ErrNoRows
// becomes ErrNotFound and an SQLite constraint failure gains
// ErrConstraintViolation as a cause.
func WrapDBError(err error, msg ...any) Error {
	var m string
	if len(msg) > 0 {
		m = fmt.Sprint(msg...)
	}
	return wrapDB(err, m)
}

// WrapDBErrorf is WrapDBError with a message built by fmt.Sprintf.
func WrapDBErrorf(err error, format string, a ...any) Error {
	return wrapDB(err, fmt.Sprintf(format, a...))
}

func wrapDB(err error, msg string) Error {
	return Error{msg: msg, cause: []error{convertDBError(err), ErrDB}}
}

func convertDBError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}

	sqliteErr := &sqlite.Error{}
	if !errors.As(err, &sqliteErr) {
		return err
	}

	switch sqliteErr.Code() & 0xff {
	case sqlite3.SQLITE_CONSTRAINT:
		// keep the driver text; it names the violated constraint
		return NewError(ErrConstraintViolation.Error(), err, ErrConstraintViolation)
	case sqlite3.SQLITE_ERROR:
		// the code string for the generic error says nothing useful
		return err
	default:
		return NewError(sqlite.ErrorCodeString[sqliteErr.Code()], err)
	}
}
