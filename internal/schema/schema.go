// Package schema infers relational column definitions from feature properties.
//
// Inference samples exactly one feature: the first of the collection. Later
// features are assumed to share its property names and types; divergence is
// handled at load time, not here.
package schema

import (
	"errors"
	"fmt"
	"strings"

	"wfsetl/internal/feature"
)

// ErrEmptyFeatureCollection is returned when there is no feature to sample.
// Callers skip the table target for that layer; it is not a fatal condition.
var ErrEmptyFeatureCollection = errors.New("schema: empty feature collection")

// ColumnType is the portable type tag of an inferred column. Storage dialects
// map it to a concrete SQL type.
type ColumnType string

const (
	Boolean ColumnType = "BOOLEAN"
	Integer ColumnType = "INTEGER"
	Float   ColumnType = "FLOAT"
	Text    ColumnType = "TEXT"
)

// ParseColumnType maps a tag (case-insensitive) back to a ColumnType.
// Unknown tags fall back to Text.
func ParseColumnType(s string) ColumnType {
	switch ColumnType(strings.ToUpper(strings.TrimSpace(s))) {
	case Boolean:
		return Boolean
	case Integer:
		return Integer
	case Float:
		return Float
	default:
		return Text
	}
}

// Column is one inferred (name, type) pair. Name is the verbatim property
// name; it is never case-folded.
type Column struct {
	Name string
	Type ColumnType
}

func (c Column) String() string {
	return fmt.Sprintf("%s %s", c.Name, c.Type)
}

// TypeOf classifies a single value.
//
// Precedence is boolean, integer, float, then text. Null values and anything
// else fall through to text.
func TypeOf(v feature.Value) ColumnType {
	switch v.Kind() {
	case feature.KindBoolean:
		return Boolean
	case feature.KindInteger:
		return Integer
	case feature.KindFloat:
		return Float
	default:
		return Text
	}
}

// Infer returns one column per property, in property order.
//
// A feature without properties yields no columns; the destination table then
// carries only its id and geometry.
func Infer(props feature.Properties) []Column {
	cols := make([]Column, 0, len(props))
	for _, p := range props {
		cols = append(cols, Column{Name: p.Name, Type: TypeOf(p.Value)})
	}
	return cols
}

// InferCollection samples the first feature of fc.
//
// Errors:
//   - ErrEmptyFeatureCollection if fc is nil or has no features.
func InferCollection(fc *feature.Collection) ([]Column, error) {
	first, ok := fc.First()
	if !ok {
		return nil, ErrEmptyFeatureCollection
	}
	return Infer(first.Properties), nil
}

// Names returns the column names in order.
func Names(cols []Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out
}
