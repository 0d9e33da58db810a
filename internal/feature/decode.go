package feature

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrNotGeoJSON is returned when the payload is valid JSON but neither a
// FeatureCollection nor a Feature.
var ErrNotGeoJSON = errors.New("feature: payload is not a GeoJSON FeatureCollection or Feature")

// DecodeBytes is Decode over an in-memory payload.
func DecodeBytes(b []byte) (*Collection, error) {
	return Decode(bytes.NewReader(b))
}

// Decode parses a GeoJSON FeatureCollection (or a single Feature) from r.
//
// Property order is preserved. Numbers without a fraction or exponent that fit
// in int64 become integers; other numbers become floats. Nested objects and
// arrays become text holding their compact JSON.
func Decode(r io.Reader) (*Collection, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("feature: empty payload: %w", ErrNotGeoJSON)
		}
		return nil, fmt.Errorf("feature: read first token: %w", err)
	}
	if tok != json.Delim('{') {
		return nil, fmt.Errorf("feature: root token %v: %w", tok, ErrNotGeoJSON)
	}

	var (
		typ         string
		features    []Feature
		hasFeatures bool
		single      Feature
	)

	for dec.More() {
		key, err := readKey(dec)
		if err != nil {
			return nil, err
		}
		switch key {
		case "type":
			if err := dec.Decode(&typ); err != nil {
				return nil, fmt.Errorf("feature: read type: %w", err)
			}
		case "features":
			features, err = decodeFeatureArray(dec)
			if err != nil {
				return nil, err
			}
			hasFeatures = true
		case "geometry":
			g, err := decodeGeometry(dec)
			if err != nil {
				return nil, err
			}
			single.Geometry = g
		case "properties":
			p, err := decodeProperties(dec)
			if err != nil {
				return nil, err
			}
			single.Properties = p
		default:
			if err := skipValue(dec); err != nil {
				return nil, fmt.Errorf("feature: skip %q: %w", key, err)
			}
		}
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("feature: read object end: %w", err)
	}

	switch {
	case typ == "FeatureCollection" || (typ == "" && hasFeatures):
		return &Collection{Features: features}, nil
	case typ == "Feature":
		return &Collection{Features: []Feature{single}}, nil
	default:
		return nil, fmt.Errorf("feature: type %q: %w", typ, ErrNotGeoJSON)
	}
}

func decodeFeatureArray(dec *json.Decoder) ([]Feature, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("feature: read features: %w", err)
	}
	if tok == nil {
		return nil, nil
	}
	if tok != json.Delim('[') {
		return nil, fmt.Errorf("feature: features must be an array, got %v", tok)
	}

	var out []Feature
	for dec.More() {
		f, err := decodeFeature(dec)
		if err != nil {
			return nil, fmt.Errorf("feature: features[%d]: %w", len(out), err)
		}
		out = append(out, f)
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("feature: read features end: %w", err)
	}
	return out, nil
}

func decodeFeature(dec *json.Decoder) (Feature, error) {
	var f Feature
	tok, err := dec.Token()
	if err != nil {
		return f, err
	}
	if tok != json.Delim('{') {
		return f, fmt.Errorf("expected object, got %v", tok)
	}
	for dec.More() {
		key, err := readKey(dec)
		if err != nil {
			return f, err
		}
		switch key {
		case "geometry":
			if f.Geometry, err = decodeGeometry(dec); err != nil {
				return f, err
			}
		case "properties":
			if f.Properties, err = decodeProperties(dec); err != nil {
				return f, err
			}
		default:
			if err := skipValue(dec); err != nil {
				return f, err
			}
		}
	}
	_, err = dec.Token()
	return f, err
}

func decodeGeometry(dec *json.Decoder) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("read geometry: %w", err)
	}
	if string(raw) == "null" {
		return nil, nil
	}
	return raw, nil
}

func decodeProperties(dec *json.Decoder) (Properties, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("read properties: %w", err)
	}
	if tok == nil {
		return nil, nil
	}
	if tok != json.Delim('{') {
		return nil, fmt.Errorf("properties must be an object, got %v", tok)
	}

	var props Properties
	for dec.More() {
		name, err := readKey(dec)
		if err != nil {
			return nil, err
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("property %q: %w", name, err)
		}
		v, err := classify(raw)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", name, err)
		}
		props = props.set(name, v)
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("read properties end: %w", err)
	}
	return props, nil
}

// classify turns one raw JSON value into a Value.
func classify(raw json.RawMessage) (Value, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Null(), nil
	}
	switch raw[0] {
	case 'n':
		return Null(), nil
	case 't':
		return Bool(true), nil
	case 'f':
		return Bool(false), nil
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Value{}, err
		}
		return Text(s), nil
	case '{', '[':
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return Value{}, err
		}
		return Text(buf.String()), nil
	default:
		return numberValue(string(raw))
	}
}

func numberValue(lit string) (Value, error) {
	if !strings.ContainsAny(lit, ".eE") {
		if i, err := strconv.ParseInt(lit, 10, 64); err == nil {
			return Int(i), nil
		}
	}
	f, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		return Value{}, fmt.Errorf("bad number %q: %w", lit, err)
	}
	return Float(f), nil
}

func readKey(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", fmt.Errorf("feature: read key: %w", err)
	}
	key, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("feature: expected object key, got %v", tok)
	}
	return key, nil
}

func skipValue(dec *json.Decoder) error {
	var raw json.RawMessage
	return dec.Decode(&raw)
}
