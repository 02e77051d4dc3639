package model

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func Test_Recipient_Devices(t *testing.T) {
	assert := assert.New(t)
	r := NewRecipient("+15555550100", uuid.Nil)

	assert.NotEmpty(r.UniqueID())
	assert.False(r.IsRegistered())

	r.AddDevices(1, 2, 1)
	assert.True(r.IsRegistered())
	assert.Equal([]uint32{1, 2}, r.Devices.IDs())

	r.RemoveDevices(1, 5)
	assert.Equal([]uint32{2}, r.Devices.IDs())

	r.RemoveDevices(2)
	assert.False(r.IsRegistered())
	assert.Nil(r.Devices.IDs())
}

func Test_Recipient_Address(t *testing.T) {
	testCases := []struct {
		name      string
		phone     string
		serviceID uuid.UUID
		expect    string
	}{
		{name: "neither", expect: ""},
		{name: "phone only", phone: "+15555550100", expect: "+15555550100"},
		{name: "service ID preferred", phone: "+15555550100", serviceID: testServiceID, expect: testServiceID.String()},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := NewRecipientWithID("abc", tc.phone, tc.serviceID)
			assert.Equal(t, tc.expect, r.Address())
		})
	}
}

func Test_Recipient_ReplaceWith(t *testing.T) {
	assert := assert.New(t)
	r := NewRecipientWithID("abc", "", uuid.Nil, 1)
	other := NewRecipientWithID("xyz", "+15555550100", testServiceID, 4, 5)
	other.SetRowID(9)
	other.BumpIdentityChanges()

	r.ReplaceWith(other)

	assert.Equal("abc", r.UniqueID())
	assert.Equal(int64(9), r.RowID())
	assert.Equal("+15555550100", r.PhoneNumber)
	assert.Equal(testServiceID, r.ServiceID)
	assert.Equal(int64(1), r.IdentityChanges)
	assert.Equal([]uint32{4, 5}, r.Devices.IDs())

	other.AddDevices(6)
	assert.Equal([]uint32{4, 5}, r.Devices.IDs(), "devices must not be shared")
}

func Test_DeviceSet_Binary(t *testing.T) {
	testCases := []struct {
		name  string
		input DeviceSet
	}{
		{name: "empty", input: DeviceSet{}},
		{name: "one", input: NewDeviceSet(1)},
		{name: "order kept", input: NewDeviceSet(9, 3, 7)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)

			data, err := tc.input.MarshalBinary()
			assert.NoError(err)

			var actual DeviceSet
			err = actual.UnmarshalBinary(data)
			assert.NoError(err)
			assert.True(tc.input.Equal(actual))
			assert.Equal(tc.input.IDs(), actual.IDs())
		})
	}
}
