// Package records defines the generic row type exchanged between the parser
// and the transformation stages. A Record is an untyped field map holding the
// original string values of one input row; empty cells are stored as nil.
package records

import "fmt"

// Record maps a column name to its raw value as read from the source.
type Record map[string]any

// String returns the value for key rendered as a string. Nil and missing
// values render as the empty string.
func (r Record) String(key string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Has reports whether key is present with a non-nil, non-empty value.
func (r Record) Has(key string) bool {
	v, ok := r[key]
	if !ok || v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return s != ""
	}
	return true
}

// Clone returns a shallow copy of the record. Values are not copied; raw
// string values are immutable in practice so a shallow copy is sufficient.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
