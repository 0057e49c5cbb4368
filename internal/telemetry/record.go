// Package telemetry defines the timestamped records emitted by components, the
// schema describing each variant's fixed tuple layout, the unbounded channel
// that carries records out of a worker and the bounded buffer a consumer
// drains them into.
package telemetry

import "fmt"

// Positions of the two fields every record starts with.
const (
	IndexTimestamp = 0
	IndexSource    = 1
)

// Record is one telemetry observation. Its wire form is the tuple
// (timestamp, source, fields...).
type Record struct {
	// Timestamp is wall-clock seconds since the Unix epoch.
	Timestamp float64
	Source    string
	Fields    []any
}

// Tuple returns the record in its fixed-order wire form.
func (r Record) Tuple() []any {
	t := make([]any, 0, len(r.Fields)+2)
	t = append(t, r.Timestamp, r.Source)
	return append(t, r.Fields...)
}

// At returns the tuple element at index i.
func (r Record) At(i int) (any, bool) {
	switch {
	case i == IndexTimestamp:
		return r.Timestamp, true
	case i == IndexSource:
		return r.Source, true
	case i >= 2 && i-2 < len(r.Fields):
		return r.Fields[i-2], true
	default:
		return nil, false
	}
}

func (r Record) String() string {
	return fmt.Sprintf("%v", r.Tuple())
}

// Field names one column of a variant's tuple.
type Field struct {
	Name  string
	Index int
}

// Schema is the ordered list of named columns a variant emits.
type Schema []Field

// Base returns a schema beginning with the timestamp and source columns
// followed by names at consecutive indices.
func Base(names ...string) Schema {
	s := Schema{{"timestamp", IndexTimestamp}, {"source", IndexSource}}
	for i, n := range names {
		s = append(s, Field{Name: n, Index: i + 2})
	}
	return s
}

// Index returns the tuple index of the named column.
func (s Schema) Index(name string) (int, bool) {
	for _, f := range s {
		if f.Name == name {
			return f.Index, true
		}
	}
	return 0, false
}

// Names returns the column names in schema order.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, f := range s {
		names[i] = f.Name
	}
	return names
}

// Value projects the named column out of r.
func (s Schema) Value(r Record, name string) (any, bool) {
	i, ok := s.Index(name)
	if !ok {
		return nil, false
	}
	return r.At(i)
}

// Float projects a numeric column. A nil value reports false so nullable
// columns such as a failed distance read as missing.
func (s Schema) Float(r Record, name string) (float64, bool) {
	v, ok := s.Value(r, name)
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case *float64:
		if n == nil {
			return 0, false
		}
		return *n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// Text projects a string-valued column, accepting fmt.Stringer values.
func (s Schema) Text(r Record, name string) (string, bool) {
	v, ok := s.Value(r, name)
	if !ok || v == nil {
		return "", false
	}
	switch x := v.(type) {
	case string:
		return x, true
	case fmt.Stringer:
		return x.String(), true
	default:
		return "", false
	}
}

// Project returns every column of r keyed by name.
func (s Schema) Project(r Record) map[string]any {
	out := make(map[string]any, len(s))
	for _, f := range s {
		if v, ok := r.At(f.Index); ok {
			out[f.Name] = v
		}
	}
	return out
}
