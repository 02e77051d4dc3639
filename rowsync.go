// Package rowsync is a transactional object store for app-domain entities
// persisted as rows of a relational table. Each entity type gets a
// [github.com/dekarrin/rowsync/store.Table] that converts between objects and
// rows, keeps a per-table identity cache that stays coherent with committed
// writes, and enumerates rows in batches without loading a whole table at
// once.
//
// This package holds the pieces shared by every other package: the error
// values returned by all operations, the Logger interface, and the Config
// for a deployment. Storage engines live under db, the entity model under
// model, and the admin surfaces under api and cmd/recipientctl.
package rowsync
