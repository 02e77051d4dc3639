package model

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Recipient is a messaging peer and the set of devices it is known to have.
type Recipient struct {
	rowID    int64
	uniqueID string

	// Devices is the set of devices registered for the recipient.
	Devices DeviceSet

	// PhoneNumber is the E.164 phone number of the recipient, or "" if it is
	// not known.
	PhoneNumber string

	// ServiceID is the account UUID of the recipient, or uuid.Nil if it is not
	// known.
	ServiceID uuid.UUID

	// IdentityChanges counts how many times the identity key of the recipient
	// has been observed to change.
	IdentityChanges int64
}

// NewRecipient creates a Recipient with a newly generated unique ID. It has not
// been inserted anywhere.
func NewRecipient(phoneNumber string, serviceID uuid.UUID, devices ...uint32) *Recipient {
	return NewRecipientWithID(uuid.NewString(), phoneNumber, serviceID, devices...)
}

// NewRecipientWithID creates a Recipient with the given unique ID.
func NewRecipientWithID(uniqueID, phoneNumber string, serviceID uuid.UUID, devices ...uint32) *Recipient {
	return &Recipient{
		uniqueID:    uniqueID,
		Devices:     NewDeviceSet(devices...),
		PhoneNumber: phoneNumber,
		ServiceID:   serviceID,
	}
}

func (r *Recipient) UniqueID() string {
	return r.uniqueID
}

func (r *Recipient) RowID() int64 {
	return r.rowID
}

func (r *Recipient) SetRowID(id int64) {
	r.rowID = id
}

// ReplaceWith copies every field of other into r except the unique ID.
func (r *Recipient) ReplaceWith(other *Recipient) {
	r.rowID = other.rowID
	r.Devices = other.Devices.Clone()
	r.PhoneNumber = other.PhoneNumber
	r.ServiceID = other.ServiceID
	r.IdentityChanges = other.IdentityChanges
}

// AddDevices adds the given devices to the recipient.
func (r *Recipient) AddDevices(ids ...uint32) {
	r.Devices.Add(ids...)
}

// RemoveDevices removes the given devices from the recipient.
func (r *Recipient) RemoveDevices(ids ...uint32) {
	r.Devices.Remove(ids...)
}

// IsRegistered returns whether the recipient has at least one device.
func (r *Recipient) IsRegistered() bool {
	return r.Devices.Len() > 0
}

// BumpIdentityChanges records one more identity key change.
func (r *Recipient) BumpIdentityChanges() {
	r.IdentityChanges++
}

// Address returns the best available address of the recipient: the service ID
// if known, else the phone number. It returns "" if neither is known.
func (r *Recipient) Address() string {
	if r.ServiceID != uuid.Nil {
		return r.ServiceID.String()
	}
	return r.PhoneNumber
}

// Equal returns whether other has the same unique ID and field values as r.
// Row IDs are not compared.
func (r *Recipient) Equal(other *Recipient) bool {
	if r == nil || other == nil {
		return r == other
	}

	return r.uniqueID == other.uniqueID &&
		r.Devices.Equal(other.Devices) &&
		r.PhoneNumber == other.PhoneNumber &&
		r.ServiceID == other.ServiceID &&
		r.IdentityChanges == other.IdentityChanges
}

func (r *Recipient) String() string {
	var sb strings.Builder

	sb.WriteString("Recipient{")
	sb.WriteString(fmt.Sprintf("ID: %q", r.uniqueID))
	if r.PhoneNumber != "" {
		sb.WriteString(fmt.Sprintf(", Phone: %q", r.PhoneNumber))
	}
	if r.ServiceID != uuid.Nil {
		sb.WriteString(fmt.Sprintf(", ServiceID: %s", r.ServiceID))
	}
	sb.WriteString(fmt.Sprintf(", Devices: %s, IdentityChanges: %d}", r.Devices, r.IdentityChanges))

	return sb.String()
}
