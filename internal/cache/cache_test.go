package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGet(t *testing.T) {
	c := NewCache()
	c.Set("foo", 12, 0, []byte("1234"))

	item, ok := c.Get("foo")
	require.True(t, ok)
	assert.Equal(t, "foo", item.Key)
	assert.Equal(t, []byte("1234"), item.Value)
	assert.Equal(t, uint32(12), item.Flags)
	assert.Equal(t, int64(7), item.Size)
}

func TestGetMissing(t *testing.T) {
	c := NewCache()
	item, ok := c.Get("missing")
	assert.False(t, ok)
	assert.Nil(t, item)
}

func TestSetOverwriteAccountsBytes(t *testing.T) {
	c := NewCache()
	c.Set("k", 0, 0, []byte("aaaa"))
	c.Set("other", 0, 0, []byte("b"))
	require.Equal(t, int64(5+6), c.Bytes())

	c.Set("k", 0, 0, []byte("aa"))
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, int64(3+6), c.Bytes())

	item, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("aa"), item.Value)
}

func TestCASIsMonotonic(t *testing.T) {
	c := NewCache()
	first := c.Set("k", 0, 0, []byte("1"))
	second := c.Set("k", 0, 0, []byte("2"))
	third := c.Set("j", 0, 0, []byte("3"))

	assert.Less(t, first.CAS, second.CAS)
	assert.Less(t, second.CAS, third.CAS)
}

func TestExpirationIsNotEnforced(t *testing.T) {
	c := NewCache()
	c.Set("k", 0, 1, []byte("v"))

	item, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, int64(1), item.ExpUnix)
}
