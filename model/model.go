// Package model contains the domain objects persisted by rowsync and the codecs
// that convert them to and from records.
package model

// Model is an in-memory domain object backed by a row. M is the concrete
// pointer type implementing Model, e.g. *Recipient.
type Model[M any] interface {
	// UniqueID returns the stable identity of the object. It never changes
	// and is never empty.
	UniqueID() string

	// RowID returns the surrogate key of the row backing the object, or zero
	// if the object has never been inserted.
	RowID() int64

	// SetRowID sets the surrogate key. It is called by the store when the
	// object is inserted.
	SetRowID(int64)

	// ReplaceWith overwrites every field of the receiver with a copy of the
	// corresponding field of other, except the unique ID. The receiver shares
	// no memory with other afterwards.
	ReplaceWith(other M)
}
