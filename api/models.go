package api

import (
	"github.com/dekarrin/rowsync/model"
	"github.com/google/uuid"
)

// RecipientModel is the JSON form of a recipient.
type RecipientModel struct {
	ID              string   `json:"id"`
	PhoneNumber     string   `json:"phone_number,omitempty"`
	ServiceID       string   `json:"service_id,omitempty"`
	Devices         []uint32 `json:"devices"`
	IdentityChanges int64    `json:"identity_changes"`
	Registered      bool     `json:"registered"`
}

func recipientModel(r *model.Recipient) RecipientModel {
	m := RecipientModel{
		ID:              r.UniqueID(),
		PhoneNumber:     r.PhoneNumber,
		Devices:         r.Devices.IDs(),
		IdentityChanges: r.IdentityChanges,
		Registered:      r.IsRegistered(),
	}
	if r.ServiceID != uuid.Nil {
		m.ServiceID = r.ServiceID.String()
	}
	if m.Devices == nil {
		m.Devices = []uint32{}
	}
	return m
}

// CreateRecipientRequest is the body of a request to create a recipient. If ID
// is empty, one is generated.
type CreateRecipientRequest struct {
	ID          string   `json:"id,omitempty"`
	PhoneNumber string   `json:"phone_number,omitempty"`
	ServiceID   string   `json:"service_id,omitempty"`
	Devices     []uint32 `json:"devices,omitempty"`
}

// DevicesRequest is the body of a request to add devices to a recipient.
type DevicesRequest struct {
	Devices []uint32 `json:"devices"`
}

// CountResponse is the body of a count response.
type CountResponse struct {
	Count int64 `json:"count"`
}
