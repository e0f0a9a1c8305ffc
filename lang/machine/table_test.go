package machine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableSetGetDelete(t *testing.T) {
	m := New(Config{})
	tbl := newTable(m)

	k1 := m.Intern("one")
	k2 := m.Intern("two")

	_, ok := tbl.get(k1)
	assert.False(t, ok)

	assert.True(t, tbl.set(k1, NumberValue(1)))
	assert.True(t, tbl.set(k2, NumberValue(2)))
	assert.False(t, tbl.set(k1, NumberValue(11)), "overwrite is not a new key")

	v, ok := tbl.get(k1)
	require.True(t, ok)
	assert.Equal(t, 11.0, v.AsNumber())

	assert.True(t, tbl.delete(k1))
	assert.False(t, tbl.delete(k1), "double delete")
	_, ok = tbl.get(k1)
	assert.False(t, ok)

	// k2 is still reachable past the tombstone
	v, ok = tbl.get(k2)
	require.True(t, ok)
	assert.Equal(t, 2.0, v.AsNumber())
}

func TestTableGrowthKeepsEntries(t *testing.T) {
	m := New(Config{})
	tbl := newTable(m)

	keys := make([]*String, 100)
	for i := range keys {
		keys[i] = m.Intern(fmt.Sprintf("key-%d", i))
		tbl.set(keys[i], NumberValue(float64(i)))
	}
	for i, k := range keys {
		v, ok := tbl.get(k)
		require.True(t, ok, "key-%d lost", i)
		assert.Equal(t, float64(i), v.AsNumber())
	}
}

func TestTableTombstoneReuse(t *testing.T) {
	m := New(Config{})
	tbl := newTable(m)

	keys := make([]*String, 20)
	for i := range keys {
		keys[i] = m.Intern(fmt.Sprintf("k%d", i))
		tbl.set(keys[i], NumberValue(float64(i)))
	}
	for _, k := range keys {
		tbl.delete(k)
	}
	// reinserting reuses tombstones rather than growing unboundedly
	for i, k := range keys {
		assert.True(t, tbl.set(k, NumberValue(float64(i+100))))
	}
	for i, k := range keys {
		v, ok := tbl.get(k)
		require.True(t, ok)
		assert.Equal(t, float64(i+100), v.AsNumber())
	}
}

func TestTableAddAll(t *testing.T) {
	m := New(Config{})
	src, dst := newTable(m), newTable(m)

	for i := 0; i < 10; i++ {
		src.set(m.Intern(fmt.Sprintf("m%d", i)), NumberValue(float64(i)))
	}
	dst.addAll(src)
	for i := 0; i < 10; i++ {
		v, ok := dst.get(m.Intern(fmt.Sprintf("m%d", i)))
		require.True(t, ok)
		assert.Equal(t, float64(i), v.AsNumber())
	}
}

func TestInternIdempotent(t *testing.T) {
	m := New(Config{})
	s1 := m.Intern("hello")
	s2 := m.Intern("hello")
	assert.Same(t, s1, s2, "interning the same content twice must return the same object")

	s3 := m.Intern(string([]byte{'h', 'e', 'l', 'l', 'o'}))
	assert.Same(t, s1, s3)
}

func TestInternHashPrecomputed(t *testing.T) {
	m := New(Config{})
	s := m.Intern("abc")
	// FNV-1a of "abc"
	assert.Equal(t, uint32(0x1a47e90b), s.hash)
	assert.Equal(t, hashString("abc"), s.hash)
}

func TestFindStringContentLookup(t *testing.T) {
	m := New(Config{})
	s := m.Intern("needle")
	found := m.strings.findString("needle", hashString("needle"))
	assert.Same(t, s, found)
	assert.Nil(t, m.strings.findString("missing", hashString("missing")))
}
