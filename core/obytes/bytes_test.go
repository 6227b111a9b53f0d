package obytes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSliceSharesBackingStorage(t *testing.T) {
	b := New([]byte("hello world"))
	hello := b.Slice(0, 5)
	world := b.Slice(6, 11)

	assert.Equal(t, "hello", string(hello.Bytes()))
	assert.Equal(t, "world", string(world.Bytes()))

	// slicing twice still aliases the same backing array
	again := hello.Slice(1, 3)
	assert.Equal(t, "el", string(again.Bytes()))
}

func TestSliceOutOfRangePanics(t *testing.T) {
	b := New([]byte("abc"))
	assert.Panics(t, func() { b.Slice(0, 4) })
	assert.Panics(t, func() { b.Slice(2, 1) })
	assert.Panics(t, func() { b.Slice(-1, 2) })
}

func TestEmptyBytes(t *testing.T) {
	e := Empty()
	assert.Equal(t, 0, e.Len())
	assert.Nil(t, e.Bytes())
}

func TestConcat(t *testing.T) {
	a := New([]byte("foo"))
	b := New([]byte("bar"))
	c := Concat(a, b, Empty())
	require.Equal(t, 6, c.Len())
	assert.Equal(t, "foobar", string(c.Bytes()))
}

func TestConcatEmpty(t *testing.T) {
	assert.Equal(t, 0, Concat().Len())
}
