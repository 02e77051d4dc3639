package model

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/dekarrin/rezi/v2"
)

// DeviceSet is an ordered set of device IDs. The zero value is an empty set.
type DeviceSet struct {
	ids []uint32
}

// NewDeviceSet returns a set containing ids in order, without duplicates.
func NewDeviceSet(ids ...uint32) DeviceSet {
	var ds DeviceSet
	ds.Add(ids...)
	return ds
}

// Len returns the number of devices in the set.
func (ds DeviceSet) Len() int {
	return len(ds.ids)
}

// Contains returns whether id is in the set.
func (ds DeviceSet) Contains(id uint32) bool {
	return slices.Contains(ds.ids, id)
}

// IDs returns the device IDs in order.
func (ds DeviceSet) IDs() []uint32 {
	return slices.Clone(ds.ids)
}

// Add appends each id not already in the set.
func (ds *DeviceSet) Add(ids ...uint32) {
	for _, id := range ids {
		if !ds.Contains(id) {
			ds.ids = append(ds.ids, id)
		}
	}
}

// Remove removes each id from the set. The order of the remaining IDs is kept.
func (ds *DeviceSet) Remove(ids ...uint32) {
	ds.ids = slices.DeleteFunc(ds.ids, func(id uint32) bool {
		return slices.Contains(ids, id)
	})
	if len(ds.ids) == 0 {
		ds.ids = nil
	}
}

// Clone returns a copy of ds that shares no memory with it.
func (ds DeviceSet) Clone() DeviceSet {
	return DeviceSet{ids: slices.Clone(ds.ids)}
}

// Equal returns whether other has the same IDs in the same order.
func (ds DeviceSet) Equal(other DeviceSet) bool {
	return slices.Equal(ds.ids, other.ids)
}

func (ds DeviceSet) String() string {
	return fmt.Sprintf("%v", ds.ids)
}

// MarshalBinary archives the set into bytes.
func (ds DeviceSet) MarshalBinary() ([]byte, error) {
	var enc []byte

	enc = append(enc, rezi.MustEnc(ds.ids)...)

	return enc, nil
}

// UnmarshalBinary restores a set archived by MarshalBinary. Data that contains
// the same ID twice is rejected, as it is not a set.
func (ds *DeviceSet) UnmarshalBinary(data []byte) error {
	rr, err := rezi.NewReader(bytes.NewBuffer(data), nil)
	if err != nil {
		return err
	}

	var ids []uint32
	err = rr.Dec(&ids)
	if err != nil {
		return rezi.Wrapf(0, "device IDs: %s", err)
	}

	var decoded DeviceSet
	for _, id := range ids {
		if decoded.Contains(id) {
			return fmt.Errorf("device ID %d occurs more than once", id)
		}
		decoded.ids = append(decoded.ids, id)
	}

	*ds = decoded
	return nil
}
