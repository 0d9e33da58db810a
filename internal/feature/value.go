// Package feature decodes GeoJSON payloads into ordered, explicitly typed
// property values.
//
// Property values are resolved once, at decode time, into a small tagged
// variant (Value). Everything downstream (schema inference, loading) switches
// on Value.Kind and never inspects interface{} values.
package feature

import (
	"encoding/json"
	"strconv"
)

// Kind is the concrete type carried by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindInteger
	KindFloat
	KindBoolean
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindBoolean:
		return "boolean"
	case KindText:
		return "text"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is a scalar property value. The zero Value is Null.
type Value struct {
	kind Kind
	i    int64
	f    float64
	b    bool
	s    string
}

func Null() Value              { return Value{} }
func Int(v int64) Value        { return Value{kind: KindInteger, i: v} }
func Float(v float64) Value    { return Value{kind: KindFloat, f: v} }
func Bool(v bool) Value        { return Value{kind: KindBoolean, b: v} }
func Text(v string) Value      { return Value{kind: KindText, s: v} }
func (v Value) Kind() Kind     { return v.kind }
func (v Value) IsNull() bool   { return v.kind == KindNull }
func (v Value) Int() int64     { return v.i }
func (v Value) Float() float64 { return v.f }
func (v Value) Bool() bool     { return v.b }

// Text returns the string payload of a KindText value. For other kinds it
// returns the canonical textual rendering (empty for Null).
func (v Value) Text() string {
	switch v.kind {
	case KindText:
		return v.s
	case KindInteger:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindBoolean:
		return strconv.FormatBool(v.b)
	default:
		return ""
	}
}

// Any returns the value as a database/sql compatible argument.
// Null maps to nil.
func (v Value) Any() any {
	switch v.kind {
	case KindInteger:
		return v.i
	case KindFloat:
		return v.f
	case KindBoolean:
		return v.b
	case KindText:
		return v.s
	default:
		return nil
	}
}

func (v Value) String() string {
	if v.kind == KindNull {
		return "null"
	}
	return v.Text()
}

// MarshalJSON renders the value back to its JSON form.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindInteger:
		return []byte(strconv.FormatInt(v.i, 10)), nil
	case KindFloat:
		return json.Marshal(v.f)
	case KindBoolean:
		return json.Marshal(v.b)
	case KindText:
		return json.Marshal(v.s)
	default:
		return []byte("null"), nil
	}
}

// Property is one named value. Properties keep the order they had in the
// source document.
type Property struct {
	Name  string
	Value Value
}

// Properties is an ordered property set. Names are unique.
type Properties []Property

// Get returns the value stored under name.
func (p Properties) Get(name string) (Value, bool) {
	for _, kv := range p {
		if kv.Name == name {
			return kv.Value, true
		}
	}
	return Value{}, false
}

// Names returns the property names in source order.
func (p Properties) Names() []string {
	out := make([]string, len(p))
	for i, kv := range p {
		out[i] = kv.Name
	}
	return out
}

// set replaces an existing entry in place or appends a new one.
func (p Properties) set(name string, v Value) Properties {
	for i := range p {
		if p[i].Name == name {
			p[i].Value = v
			return p
		}
	}
	return append(p, Property{Name: name, Value: v})
}

// Feature is one geometry plus its properties. Geometry is never interpreted;
// it is nil when the source geometry was null or absent.
type Feature struct {
	Geometry   json.RawMessage
	Properties Properties
}

// GeometryArg returns the serialized geometry as a statement argument (nil for
// a missing geometry).
func (f Feature) GeometryArg() any {
	if len(f.Geometry) == 0 {
		return nil
	}
	return string(f.Geometry)
}

// Collection is a decoded feature collection.
type Collection struct {
	Features []Feature
}

// Len returns the number of features; a nil collection has none.
func (c *Collection) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Features)
}

// First returns the sampled feature used for schema inference.
func (c *Collection) First() (Feature, bool) {
	if c.Len() == 0 {
		return Feature{}, false
	}
	return c.Features[0], true
}
