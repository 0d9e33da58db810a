// Package probe samples a layer payload and reports the table a run would
// create for it.
//
// The probe is read-only: it decodes the payload, infers columns the same
// way the materializer does (first feature, reserved names prefixed) and
// then scans every feature to show how well the rest of the sample fits
// those columns. Its output is meant for humans deciding on a target table
// before the first load, and for bootstrapping a plan from a service's
// advertised layers.
package probe

import (
	"fmt"

	"wfsetl/internal/feature"
	"wfsetl/internal/materialize"
	"wfsetl/internal/plan"
	"wfsetl/internal/schema"
	"wfsetl/internal/storage"
)

// distinctCap bounds distinct-value tracking per property. Once reached the
// property's set is dropped and Distinct reports the cap.
const distinctCap = 10000

// Options control the table identity used in the report.
type Options struct {
	// Schema defaults to plan.DefaultSchema.
	Schema string
	// Table defaults to plan.TableNameFor(layer).
	Table string
	// Dialect renders the CREATE TABLE. When nil the DDL is omitted.
	Dialect storage.Dialect
}

// PropertyStats summarizes one property across the sample.
type PropertyStats struct {
	Name string `json:"name"`

	// Column and Type are empty when the property is absent from the first
	// feature: a load drops it.
	Column string            `json:"column,omitempty"`
	Type   schema.ColumnType `json:"type,omitempty"`

	// Present counts features carrying the property, Nulls the null values
	// among them.
	Present int `json:"present"`
	Nulls   int `json:"nulls"`

	// Misfits counts non-null values that cannot be stored in Type without
	// loss. Under coerce they become NULL; under reject they fail the load.
	Misfits int `json:"misfits"`

	Distinct int  `json:"distinct"`
	Capped   bool `json:"capped,omitempty"`
}

// Ratio is distinct non-null values over non-null values.
func (s PropertyStats) Ratio() float64 {
	den := s.Present - s.Nulls
	if den <= 0 {
		return 0
	}
	return float64(s.Distinct) / float64(den)
}

// Report is the outcome of one probe.
type Report struct {
	Layer      string                  `json:"layer"`
	Features   int                     `json:"features"`
	Table      storage.TableDescriptor `json:"table"`
	DDL        string                  `json:"ddl,omitempty"`
	Properties []PropertyStats         `json:"properties"`
}

// Analyze builds the report for fc.
//
// Errors:
//   - schema.ErrEmptyFeatureCollection (wrapped) when fc has no features.
func Analyze(layer string, fc *feature.Collection, opt Options) (Report, error) {
	table := opt.Table
	if table == "" {
		table = plan.TableNameFor(layer)
	}
	schemaName := opt.Schema
	if schemaName == "" {
		schemaName = plan.DefaultSchema
	}

	desc, err := materialize.Describe(schemaName, table, fc)
	if err != nil {
		return Report{Layer: layer}, fmt.Errorf("probe %s: %w", layer, err)
	}

	rep := Report{Layer: layer, Features: fc.Len(), Table: desc}
	if opt.Dialect != nil {
		rep.DDL = storage.CreateTableSQL(opt.Dialect, desc)
	}
	rep.Properties = collect(fc, desc)
	return rep, nil
}

// collect scans every feature. Properties are reported in first-seen order.
func collect(fc *feature.Collection, desc storage.TableDescriptor) []PropertyStats {
	first, _ := fc.First()

	var (
		order []string
		stats = map[string]*PropertyStats{}
		sets  = map[string]map[string]struct{}{}
	)
	for i, p := range first.Properties {
		col := desc.Columns[i]
		stats[p.Name] = &PropertyStats{Name: p.Name, Column: col.Name, Type: col.Type}
		sets[p.Name] = map[string]struct{}{}
		order = append(order, p.Name)
	}

	for _, f := range fc.Features {
		for _, p := range f.Properties {
			st, ok := stats[p.Name]
			if !ok {
				st = &PropertyStats{Name: p.Name}
				stats[p.Name] = st
				sets[p.Name] = map[string]struct{}{}
				order = append(order, p.Name)
			}
			st.Present++
			if p.Value.IsNull() {
				st.Nulls++
				continue
			}
			if st.Column != "" && !materialize.Fits(p.Value, st.Type) {
				st.Misfits++
			}
			if st.Capped {
				continue
			}
			sets[p.Name][p.Value.Kind().String()+":"+p.Value.Text()] = struct{}{}
			if len(sets[p.Name]) >= distinctCap {
				st.Capped = true
				sets[p.Name] = nil
			}
		}
	}

	out := make([]PropertyStats, 0, len(order))
	for _, name := range order {
		st := stats[name]
		if st.Capped {
			st.Distinct = distinctCap
		} else {
			st.Distinct = len(sets[name])
		}
		out = append(out, *st)
	}
	return out
}

// Skeleton returns a plan that loads every advertised layer of one service
// into derived tables. The bbox covers the whole world in EPSG:4326.
func Skeleton(serviceURL, version string, layers []string) *plan.Plan {
	p := &plan.Plan{
		OutputFormat: plan.DefaultOutputFormat,
		SRS:          plan.DefaultSRS,
		BBox:         []float64{-180, -90, 180, 90},
		Schema:       plan.DefaultSchema,
	}
	g := plan.ServiceGroup{URL: serviceURL, Version: version}
	for _, l := range layers {
		g.Layers = append(g.Layers, plan.LayerSpec{Name: l})
	}
	p.Groups = append(p.Groups, g)
	return p
}
