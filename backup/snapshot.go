// Package backup produces and restores snapshots of the rows of one or more
// stores.
//
// A Snapshot is a list of entities, each the binary record form of one row
// tagged with the type of entity it is. On disk a snapshot is CBOR, compressed
// with zstd and prefixed with a header carrying a blake3 checksum of the
// compressed payload.
package backup

import (
	"fmt"

	"github.com/dekarrin/rowsync"
)

// EntityType is the type of entity held by an Entity.
type EntityType int

const (
	EntityUnknown EntityType = iota
	EntityMigration
	EntityThread
	EntityInteraction
	EntityAttachment
	EntityRecipient
)

func (et EntityType) String() string {
	switch et {
	case EntityUnknown:
		return "unknown"
	case EntityMigration:
		return "migration"
	case EntityThread:
		return "thread"
	case EntityInteraction:
		return "interaction"
	case EntityAttachment:
		return "attachment"
	case EntityRecipient:
		return "recipient"
	default:
		return fmt.Sprintf("EntityType(%d)", int(et))
	}
}

// Entity is one backed-up row.
type Entity struct {
	Type EntityType `cbor:"1,keyasint"`

	// Data is the binary form of the record of the row, as produced by
	// record.Record.MarshalBinary.
	Data []byte `cbor:"2,keyasint"`
}

// Validate returns an error if the entity has no known type or no data.
func (e Entity) Validate() error {
	if e.Type <= EntityUnknown || e.Type > EntityRecipient {
		return rowsync.NewError(fmt.Sprintf("entity type %s is not valid", e.Type), rowsync.ErrBadArgument)
	}
	if len(e.Data) == 0 {
		return rowsync.NewError("entity has no data", rowsync.ErrBadArgument)
	}
	return nil
}

// Snapshot is the contents of a backup.
type Snapshot struct {
	Entities []Entity `cbor:"1,keyasint"`
}

// Validate returns an error if any entity of the snapshot is invalid.
func (s Snapshot) Validate() error {
	for i, e := range s.Entities {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("entity %d: %w", i, err)
		}
	}
	return nil
}

// Count returns the number of entities of each type in the snapshot.
func (s Snapshot) Count() map[EntityType]int {
	counts := map[EntityType]int{}
	for _, e := range s.Entities {
		counts[e.Type]++
	}
	return counts
}
