package model

import (
	"fmt"

	"github.com/dekarrin/rowsync"
	"github.com/dekarrin/rowsync/record"
	"github.com/google/uuid"
)

// Record kinds of the models in this package.
const (
	KindRecipient record.Kind = 31
)

// Column names of RecipientTable.
const (
	ColumnDevices         = "devices"
	ColumnPhoneNumber     = "recipientPhoneNumber"
	ColumnServiceID       = "recipientUUID"
	ColumnIdentityChanges = "identityChanges"
)

// RecipientTable is the table recipients are stored in.
var RecipientTable = record.Table{
	Name:       "model_SignalRecipient",
	Collection: "SignalRecipient",
	Columns: []record.Column{
		{Name: ColumnDevices, Type: record.Blob},
		{Name: ColumnPhoneNumber, Type: record.Text, Nullable: true},
		{Name: ColumnServiceID, Type: record.Text, Nullable: true},
		{Name: ColumnIdentityChanges, Type: record.Int64},
	},
}

// RecipientCodec converts between *Recipient and record.Record.
type RecipientCodec struct{}

func (RecipientCodec) Table() record.Table {
	return RecipientTable
}

// Encode returns the record form of r. The record has the row ID of r, which
// is zero if r has never been inserted.
func (RecipientCodec) Encode(r *Recipient) (record.Record, error) {
	if r == nil {
		return record.Record{}, rowsync.NewError("cannot encode nil recipient", rowsync.ErrBadArgument)
	}
	if r.uniqueID == "" {
		return record.Record{}, rowsync.NewError("recipient has no unique ID", rowsync.ErrBadArgument)
	}

	devices, err := r.Devices.MarshalBinary()
	if err != nil {
		return record.Record{}, rowsync.NewError(fmt.Sprintf("encode devices: %v", err), rowsync.ErrCorruptBlob)
	}

	rec := record.Record{
		RowID:    r.rowID,
		Kind:     KindRecipient,
		UniqueID: r.uniqueID,
		Fields: map[string]any{
			ColumnDevices:         devices,
			ColumnPhoneNumber:     nil,
			ColumnServiceID:       nil,
			ColumnIdentityChanges: r.IdentityChanges,
		},
	}
	if r.PhoneNumber != "" {
		rec.Fields[ColumnPhoneNumber] = r.PhoneNumber
	}
	if r.ServiceID != uuid.Nil {
		rec.Fields[ColumnServiceID] = r.ServiceID.String()
	}

	return rec, nil
}

// Decode builds a new *Recipient from rec. It returns an error wrapping
// rowsync.ErrMalformedRecord if rec is not a recipient record or is missing a
// field, and one wrapping rowsync.ErrCorruptBlob if the device set cannot be
// decoded.
func (RecipientCodec) Decode(rec record.Record) (*Recipient, error) {
	switch rec.Kind {
	case KindRecipient:
		return decodeRecipient(rec)
	default:
		return nil, rowsync.NewError(fmt.Sprintf("row %d: unknown record kind %d", rec.RowID, rec.Kind), rowsync.ErrMalformedRecord)
	}
}

func decodeRecipient(rec record.Record) (*Recipient, error) {
	if rec.UniqueID == "" {
		return nil, rowsync.NewError(fmt.Sprintf("row %d: no unique ID", rec.RowID), rowsync.ErrMalformedRecord)
	}

	r := &Recipient{
		rowID:    rec.RowID,
		uniqueID: rec.UniqueID,
	}

	var err error
	r.IdentityChanges, err = rec.Int64(ColumnIdentityChanges)
	if err != nil {
		return nil, err
	}
	r.PhoneNumber, _, err = rec.Text(ColumnPhoneNumber)
	if err != nil {
		return nil, err
	}

	sid, ok, err := rec.Text(ColumnServiceID)
	if err != nil {
		return nil, err
	}
	if ok {
		r.ServiceID, err = uuid.Parse(sid)
		if err != nil {
			return nil, rowsync.NewError(fmt.Sprintf("row %d: %s: %v", rec.RowID, ColumnServiceID, err), rowsync.ErrMalformedRecord)
		}
	}

	devices, err := rec.Blob(ColumnDevices)
	if err != nil {
		return nil, err
	}
	if err := r.Devices.UnmarshalBinary(devices); err != nil {
		return nil, rowsync.NewError(fmt.Sprintf("row %d: %s: %v", rec.RowID, ColumnDevices, err), rowsync.ErrCorruptBlob)
	}

	return r, nil
}
