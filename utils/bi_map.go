// Package utils holds small generic helpers shared across the client.
package utils

// BiMap is an immutable bidirectional map supporting lookups by key or by
// value. It is built once from an input map; if the input contains
// duplicate values, the reverse mapping keeps the last key seen.
type BiMap[K comparable, V comparable] struct {
	forward map[K]V
	reverse map[V]K
}

// NewBiMap builds a BiMap from a copy of the input map.
func NewBiMap[K comparable, V comparable](input map[K]V) *BiMap[K, V] {
	forward := make(map[K]V, len(input))
	reverse := make(map[V]K, len(input))
	for k, v := range input {
		forward[k] = v
		reverse[v] = k
	}
	return &BiMap[K, V]{forward: forward, reverse: reverse}
}

// Lookup returns the value for a key.
func (m *BiMap[K, V]) Lookup(key K) (V, bool) {
	v, ok := m.forward[key]
	return v, ok
}

// DirectLookup returns the value for a key, or V's zero value.
func (m *BiMap[K, V]) DirectLookup(key K) V {
	return m.forward[key]
}

// RLookup returns the key mapped to a value.
func (m *BiMap[K, V]) RLookup(value V) (K, bool) {
	k, ok := m.reverse[value]
	return k, ok
}

// DirectRLookup returns the key mapped to a value, or K's zero value.
func (m *BiMap[K, V]) DirectRLookup(value V) K {
	return m.reverse[value]
}
