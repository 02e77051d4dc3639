// Package metrics holds the Prometheus collectors shared by the database,
// cache and store layers. All methods of *Collectors may be called on a nil
// receiver, in which case they do nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rowsync"

// Collectors is the set of rowsync metrics.
type Collectors struct {
	transactions       *prometheus.CounterVec
	cacheLookups       *prometheus.CounterVec
	cacheInvalidations *prometheus.CounterVec
	operations         *prometheus.CounterVec
	enumerated         *prometheus.CounterVec
	skipped            *prometheus.CounterVec
}

// New creates the rowsync collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Collectors, error) {
	c := &Collectors{
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Transactions completed, by mode and outcome.",
		}, []string{"mode", "outcome"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Identity cache lookups, by table and result.",
		}, []string{"table", "result"}),
		cacheInvalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_invalidations_total",
			Help:      "Identity cache invalidations, by table.",
		}, []string{"table"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_operations_total",
			Help:      "Store operations started, by table and operation.",
		}, []string{"table", "op"}),
		enumerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enumerated_rows_total",
			Help:      "Rows visited by enumeration, by table.",
		}, []string{"table"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_rows_total",
			Help:      "Rows skipped during enumeration because they could not be decoded, by table.",
		}, []string{"table"}),
	}

	for _, col := range []prometheus.Collector{
		c.transactions,
		c.cacheLookups,
		c.cacheInvalidations,
		c.operations,
		c.enumerated,
		c.skipped,
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// TransactionDone records the end of a transaction. mode is "read" or
// "write"; outcome is "commit" or "rollback".
func (c *Collectors) TransactionDone(mode, outcome string) {
	if c == nil {
		return
	}
	c.transactions.WithLabelValues(mode, outcome).Inc()
}

// CacheLookup records an identity cache lookup.
func (c *Collectors) CacheLookup(table string, hit bool) {
	if c == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookups.WithLabelValues(table, result).Inc()
}

// CacheInvalidated records an identity cache invalidation.
func (c *Collectors) CacheInvalidated(table string) {
	if c == nil {
		return
	}
	c.cacheInvalidations.WithLabelValues(table).Inc()
}

// Operation records a successful store write operation.
func (c *Collectors) Operation(table, op string) {
	if c == nil {
		return
	}
	c.operations.WithLabelValues(table, op).Inc()
}

// RowEnumerated records one row visited by enumeration.
func (c *Collectors) RowEnumerated(table string) {
	if c == nil {
		return
	}
	c.enumerated.WithLabelValues(table).Inc()
}

// RowSkipped records one row skipped by enumeration.
func (c *Collectors) RowSkipped(table string) {
	if c == nil {
		return
	}
	c.skipped.WithLabelValues(table).Inc()
}
