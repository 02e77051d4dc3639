package cache

import (
	"testing"

	"github.com/dekarrin/rowsync"
	"github.com/stretchr/testify/assert"
)

type entity struct {
	id string
	n  int
}

func Test_New(t *testing.T) {
	testCases := []struct {
		name             string
		size             int
		expectErrToMatch error
	}{
		{name: "default size", size: 0},
		{name: "explicit size", size: 3},
		{name: "negative size", size: -1, expectErrToMatch: rowsync.ErrBadArgument},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)

			c, err := New[*entity]("model_Thing", Options{Size: tc.size})

			if tc.expectErrToMatch != nil {
				assert.ErrorIs(err, tc.expectErrToMatch)
				return
			}
			assert.NoError(err)
			assert.NotNil(c)
		})
	}
}

func Test_IdentityCache(t *testing.T) {
	t.Run("get returns the same instance that was put", func(t *testing.T) {
		assert := assert.New(t)
		c, _ := New[*entity]("model_Thing", Options{})
		e := &entity{id: "a"}

		c.Put("a", e)
		actual, ok := c.Get("a")

		assert.True(ok)
		assert.Same(e, actual)
	})

	t.Run("miss", func(t *testing.T) {
		assert := assert.New(t)
		c, _ := New[*entity]("model_Thing", Options{})

		actual, ok := c.Get("a")

		assert.False(ok)
		assert.Nil(actual)
	})

	t.Run("put replaces", func(t *testing.T) {
		assert := assert.New(t)
		c, _ := New[*entity]("model_Thing", Options{})
		e2 := &entity{id: "a", n: 2}

		c.Put("a", &entity{id: "a", n: 1})
		c.Put("a", e2)
		actual, _ := c.Get("a")

		assert.Same(e2, actual)
		assert.Equal(1, c.Len())
	})

	t.Run("empty unique ID is dropped", func(t *testing.T) {
		assert := assert.New(t)
		c, _ := New[*entity]("model_Thing", Options{})

		c.Put("", &entity{})

		assert.Equal(0, c.Len())
	})

	t.Run("invalidate", func(t *testing.T) {
		assert := assert.New(t)
		c, _ := New[*entity]("model_Thing", Options{})
		c.Put("a", &entity{id: "a"})
		c.Put("b", &entity{id: "b"})

		c.Invalidate("a")
		_, okA := c.Get("a")
		_, okB := c.Get("b")

		assert.False(okA)
		assert.True(okB)
	})

	t.Run("invalidate all", func(t *testing.T) {
		assert := assert.New(t)
		c, _ := New[*entity]("model_Thing", Options{})
		c.Put("a", &entity{id: "a"})
		c.Put("b", &entity{id: "b"})

		c.InvalidateAll()

		assert.Equal(0, c.Len())
	})

	t.Run("least recently used is evicted", func(t *testing.T) {
		assert := assert.New(t)
		c, _ := New[*entity]("model_Thing", Options{Size: 2})
		c.Put("a", &entity{id: "a"})
		c.Put("b", &entity{id: "b"})
		c.Get("a")

		c.Put("c", &entity{id: "c"})
		_, okA := c.Get("a")
		_, okB := c.Get("b")

		assert.True(okA)
		assert.False(okB)
	})
}
