// Package params holds transform parameter maps: named lists of string
// values that configure a transform at fit time and persist it afterwards.
package params

import (
	"fmt"
	"strconv"

	"splinewarp/internal/errdefs"
)

// Map is a parameter map. Lookups are by name; Keys returns names in the
// order they were first set, which is also the order they are written.
type Map struct {
	keys   []string
	values map[string][]string
}

// NewMap returns an empty parameter map
func NewMap() *Map {
	return &Map{values: make(map[string][]string)}
}

// Set replaces the values stored under key
func (m *Map) Set(key string, values ...string) {
	if m.values == nil {
		m.values = make(map[string][]string)
	}
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = append([]string(nil), values...)
}

// SetFloats stores values formatted so that parsing them back is exact
func (m *Map) SetFloats(key string, values ...float64) {
	m.Set(key, FormatFloats(values)...)
}

// SetInts stores integer values
func (m *Map) SetInts(key string, values ...int) {
	s := make([]string, len(values))
	for i, v := range values {
		s[i] = strconv.Itoa(v)
	}
	m.Set(key, s...)
}

// Delete removes key
func (m *Map) Delete(key string) {
	if _, ok := m.values[key]; !ok {
		return
	}
	delete(m.values, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

// Get returns the values stored under key
func (m *Map) Get(key string) ([]string, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Has reports whether key is present
func (m *Map) Has(key string) bool {
	_, ok := m.values[key]
	return ok
}

// Keys returns the parameter names in write order
func (m *Map) Keys() []string { return append([]string(nil), m.keys...) }

// Len returns the number of parameters
func (m *Map) Len() int { return len(m.keys) }

// Clone returns a deep copy
func (m *Map) Clone() *Map {
	c := NewMap()
	for _, k := range m.keys {
		c.Set(k, m.values[k]...)
	}
	return c
}

// Value returns the first value of key, or def when absent
func (m *Map) Value(key, def string) string {
	v, ok := m.values[key]
	if !ok || len(v) == 0 {
		return def
	}
	return v[0]
}

// Float returns the first value of key as a float, or def when absent
func (m *Map) Float(key string, def float64) (float64, error) {
	v, ok := m.values[key]
	if !ok || len(v) == 0 {
		return def, nil
	}
	f, err := strconv.ParseFloat(v[0], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: parameter %s: invalid number %q", errdefs.ErrConfiguration, key, v[0])
	}
	return f, nil
}

// Int returns the first value of key as an integer, or def when absent
func (m *Map) Int(key string, def int) (int, error) {
	v, ok := m.values[key]
	if !ok || len(v) == 0 {
		return def, nil
	}
	i, err := strconv.Atoi(v[0])
	if err != nil {
		return 0, fmt.Errorf("%w: parameter %s: invalid integer %q", errdefs.ErrConfiguration, key, v[0])
	}
	return i, nil
}

// Floats parses every value of key
func (m *Map) Floats(key string) ([]float64, error) {
	v := m.values[key]
	out := make([]float64, len(v))
	for i, s := range v {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: parameter %s[%d]: invalid number %q", errdefs.ErrConfiguration, key, i, s)
		}
		out[i] = f
	}
	return out, nil
}

// Ints parses every value of key
func (m *Map) Ints(key string) ([]int, error) {
	v := m.values[key]
	out := make([]int, len(v))
	for i, s := range v {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("%w: parameter %s[%d]: invalid integer %q", errdefs.ErrConfiguration, key, i, s)
		}
		out[i] = n
	}
	return out, nil
}

// FormatFloats renders floats in the shortest form that parses back exactly
func FormatFloats(values []float64) []string {
	s := make([]string, len(values))
	for i, v := range values {
		s[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return s
}
