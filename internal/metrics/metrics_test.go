package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func Test_New(t *testing.T) {
	t.Run("registers on fresh registry", func(t *testing.T) {
		assert := assert.New(t)

		c, err := New(prometheus.NewRegistry())

		assert.NoError(err)
		assert.NotNil(c)
	})

	t.Run("double registration is an error", func(t *testing.T) {
		assert := assert.New(t)
		reg := prometheus.NewRegistry()

		_, err := New(reg)
		assert.NoError(err)
		_, err = New(reg)
		assert.Error(err)
	})
}

func Test_Collectors_Counts(t *testing.T) {
	assert := assert.New(t)
	c, err := New(prometheus.NewRegistry())
	if !assert.NoError(err) {
		return
	}

	c.CacheLookup("model_SignalRecipient", true)
	c.CacheLookup("model_SignalRecipient", false)
	c.CacheLookup("model_SignalRecipient", false)
	c.TransactionDone("write", "commit")
	c.Operation("model_SignalRecipient", "insert")
	c.RowSkipped("model_SignalRecipient")

	assert.Equal(1.0, testutil.ToFloat64(c.cacheLookups.WithLabelValues("model_SignalRecipient", "hit")))
	assert.Equal(2.0, testutil.ToFloat64(c.cacheLookups.WithLabelValues("model_SignalRecipient", "miss")))
	assert.Equal(1.0, testutil.ToFloat64(c.transactions.WithLabelValues("write", "commit")))
	assert.Equal(1.0, testutil.ToFloat64(c.operations.WithLabelValues("model_SignalRecipient", "insert")))
	assert.Equal(1.0, testutil.ToFloat64(c.skipped.WithLabelValues("model_SignalRecipient")))
}

func Test_Collectors_NilSafe(t *testing.T) {
	var c *Collectors

	assert.NotPanics(t, func() {
		c.TransactionDone("read", "commit")
		c.CacheLookup("t", true)
		c.CacheInvalidated("t")
		c.Operation("t", "update")
		c.RowEnumerated("t")
		c.RowSkipped("t")
	})
}
