// Package plan loads and validates the ingestion plan: which WFS groups and
// layers to download, the query window, and where each layer goes.
package plan

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults applied when the plan leaves a field empty.
const (
	DefaultOutputFormat = "application/json"
	DefaultSRS          = "urn:x-ogc:def:crs:EPSG:4326"
	DefaultSchema       = "public"
)

// Plan is the root of an ingestion plan. It is not mutated after Load.
type Plan struct {
	OutputFormat string         `json:"output_format" yaml:"output_format"`
	SRS          string         `json:"srs" yaml:"srs"`
	BBox         []float64      `json:"bbox" yaml:"bbox"`
	OutputFolder string         `json:"output_folder" yaml:"output_folder"`
	Schema       string         `json:"schema" yaml:"schema"`
	Sleep        *float64       `json:"sleep,omitempty" yaml:"sleep,omitempty"`
	Groups       []ServiceGroup `json:"group" yaml:"group"`
}

// ServiceGroup is one upstream WFS endpoint and the layers read from it.
type ServiceGroup struct {
	URL     string      `json:"url" yaml:"url"`
	Version string      `json:"version" yaml:"version"`
	Layers  []LayerSpec `json:"layers" yaml:"layers"`
}

// LayerSpec is a layer entry. In the document it is either a bare layer
// name or an object.
type LayerSpec struct {
	Name     string   `json:"name" yaml:"name"`
	Targets  []Target `json:"target,omitempty" yaml:"target,omitempty"`
	Style    bool     `json:"style,omitempty" yaml:"style,omitempty"`
	Metadata bool     `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Target is one explicit destination. File and Table may both be set.
type Target struct {
	File   string `json:"file,omitempty" yaml:"file,omitempty"`
	Table  string `json:"table,omitempty" yaml:"table,omitempty"`
	Schema string `json:"schema,omitempty" yaml:"schema,omitempty"`
}

type layerSpecFields LayerSpec

// UnmarshalJSON accepts "ns:layer" as well as {"name": "ns:layer", ...}.
func (l *LayerSpec) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var name string
		if err := json.Unmarshal(b, &name); err != nil {
			return err
		}
		*l = LayerSpec{Name: name}
		return nil
	}
	var f layerSpecFields
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*l = LayerSpec(f)
	return nil
}

// UnmarshalYAML is the YAML counterpart of UnmarshalJSON.
func (l *LayerSpec) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		*l = LayerSpec{Name: n.Value}
		return nil
	}
	var f layerSpecFields
	if err := n.Decode(&f); err != nil {
		return err
	}
	*l = LayerSpec(f)
	return nil
}

// ConfigError is a fatal problem with the plan file.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string { return fmt.Sprintf("plan %s: %v", e.Path, e.Err) }
func (e *ConfigError) Unwrap() error { return e.Err }

// ResolvePath finds the plan file for name. A name without an existing file
// is tried with .json, .yaml and .yml appended, in that order.
func ResolvePath(name string) (string, error) {
	candidates := []string{name, name + ".json", name + ".yaml", name + ".yml"}
	for _, c := range candidates {
		fi, err := os.Stat(c)
		if err == nil && fi.Mode().IsRegular() {
			return c, nil
		}
	}
	return "", &ConfigError{Path: name, Err: fmt.Errorf("no plan file found (tried %s): %w", strings.Join(candidates, ", "), os.ErrNotExist)}
}

// Load resolves, decodes, defaults and validates the plan named by name.
// Every failure is a *ConfigError.
func Load(name string) (*Plan, error) {
	path, err := ResolvePath(name)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	p, err := Decode(raw, filepath.Ext(path))
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	if err := Validate(p); err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	return p, nil
}

// Decode parses raw as YAML for ".yaml"/".yml" and as JSON otherwise, then
// fills defaults. It does not validate.
func Decode(raw []byte, ext string) (*Plan, error) {
	var p Plan
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	default:
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
	}
	p.applyDefaults()
	return &p, nil
}

func (p *Plan) applyDefaults() {
	if strings.TrimSpace(p.OutputFormat) == "" {
		p.OutputFormat = DefaultOutputFormat
	}
	if strings.TrimSpace(p.SRS) == "" {
		p.SRS = DefaultSRS
	}
	if strings.TrimSpace(p.Schema) == "" {
		p.Schema = DefaultSchema
	}
}

// Extent returns the bbox as minx, miny, maxx, maxy. Only meaningful on a
// validated plan.
func (p *Plan) Extent() [4]float64 {
	var e [4]float64
	copy(e[:], p.BBox)
	return e
}

// LayerCount is the number of layers across all groups.
func (p *Plan) LayerCount() int {
	n := 0
	for _, g := range p.Groups {
		n += len(g.Layers)
	}
	return n
}

var errNoGroups = errors.New("plan has no groups")
