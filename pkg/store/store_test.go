package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStore_SetGet(t *testing.T) {
	s := New()

	_, ok := s.Get("vm_id")
	assert.False(t, ok)

	s.Set("vm_id", "101")
	v, ok := s.Get("vm_id")
	assert.True(t, ok)
	assert.Equal(t, "101", v)
	assert.True(t, s.Has("vm_id"))
	assert.Equal(t, 1, s.Len())
}

func TestStore_OverwriteKeepsPosition(t *testing.T) {
	s := New()
	s.Set("a", "1")
	s.Set("b", "2")
	s.Set("a", "3")

	assert.Equal(t, []string{"a", "b"}, s.Keys())
	v, _ := s.Get("a")
	assert.Equal(t, "3", v)
	assert.Equal(t, 2, s.Len())
}

func TestStore_EmptyValueIsPresent(t *testing.T) {
	s := New()
	s.Set("hostname", "")

	v, ok := s.Get("hostname")
	assert.True(t, ok)
	assert.Equal(t, "", v)
}

func TestStore_Snapshot(t *testing.T) {
	s := New()
	s.Set("a", "1")

	snap := s.Snapshot()
	snap["a"] = "mutated"
	snap["b"] = "new"

	v, _ := s.Get("a")
	assert.Equal(t, "1", v)
	assert.False(t, s.Has("b"))
}

func TestStore_Clone(t *testing.T) {
	s := New()
	s.Set("a", "1")
	s.Set("b", "2")

	c := s.Clone()
	c.Set("a", "changed")
	c.Set("c", "3")

	v, _ := s.Get("a")
	assert.Equal(t, "1", v)
	assert.False(t, s.Has("c"))
	assert.Equal(t, []string{"a", "b", "c"}, c.Keys())
}
