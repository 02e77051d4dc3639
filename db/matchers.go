package db

import (
	"database/sql/driver"
	"encoding"

	"github.com/google/uuid"
)

// This file contains argument matchers for use with DATA-DOG/go-sqlmock when
// testing engines against records whose exact values are not known ahead of
// time.

// AnyUUID matches any UUID in its string form, such as a generated unique ID.
// If AllowNil is false, the nil UUID does not match.
type AnyUUID struct {
	AllowNil bool
}

func (m AnyUUID) Match(v driver.Value) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}

	id, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return m.AllowNil || id != uuid.Nil
}

// AnyBlob matches any []byte that Into accepts with UnmarshalBinary. If Into is
// nil, any non-nil []byte matches. If Check is set, it is called with Into
// after a successful unmarshal and must also return true.
type AnyBlob struct {
	Into  encoding.BinaryUnmarshaler
	Check func(into encoding.BinaryUnmarshaler) bool
}

func (m AnyBlob) Match(v driver.Value) bool {
	data, ok := v.([]byte)
	if !ok || data == nil {
		return false
	}
	if m.Into == nil {
		return true
	}

	if err := m.Into.UnmarshalBinary(data); err != nil {
		return false
	}
	if m.Check != nil {
		return m.Check(m.Into)
	}
	return true
}
