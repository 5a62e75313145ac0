package domain

import "sort"

// FieldSet maps slot names to extracted or default values.
// Params: slot name keys with string values.
// Returns: per-identifier field snapshot, never shared between identifiers.
type FieldSet map[string]string

// Get returns one slot value.
// Params: slot name.
// Returns: value and presence flag.
func (f FieldSet) Get(name string) (string, bool) {
	value, ok := f[name]
	return value, ok
}

// Clone copies the field set so callers can extend it without aliasing.
// Params: none.
// Returns: independent copy (never nil).
func (f FieldSet) Clone() FieldSet {
	out := make(FieldSet, len(f))
	for key, value := range f {
		out[key] = value
	}
	return out
}

// With returns a copy extended by extra values; existing keys are kept.
// Params: additional values to merge when absent.
// Returns: merged copy.
func (f FieldSet) With(extra map[string]string) FieldSet {
	out := f.Clone()
	for key, value := range extra {
		if _, ok := out[key]; !ok {
			out[key] = value
		}
	}
	return out
}

// Names returns slot names in sorted order.
func (f FieldSet) Names() []string {
	names := make([]string, 0, len(f))
	for name := range f {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
