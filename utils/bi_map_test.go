package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBiMapLookup(t *testing.T) {
	m := NewBiMap(map[int]string{1: "one", 2: "two"})

	v, ok := m.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, "one", v)

	k, ok := m.RLookup("two")
	require.True(t, ok)
	assert.Equal(t, 2, k)

	_, ok = m.Lookup(3)
	assert.False(t, ok)
	_, ok = m.RLookup("three")
	assert.False(t, ok)
}

func TestBiMapDirectLookup(t *testing.T) {
	m := NewBiMap(map[int]string{1: "one"})

	assert.Equal(t, "one", m.DirectLookup(1))
	assert.Equal(t, "", m.DirectLookup(9))
	assert.Equal(t, 1, m.DirectRLookup("one"))
	assert.Equal(t, 0, m.DirectRLookup("nine"))
}

func TestBiMapCopiesInput(t *testing.T) {
	input := map[int]string{1: "one"}
	m := NewBiMap(input)
	input[1] = "mutated"

	assert.Equal(t, "one", m.DirectLookup(1))
}
