package materialize

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"wfsetl/internal/feature"
	"wfsetl/internal/schema"
	"wfsetl/internal/storage"
)

// reservedPrefix is prepended to properties whose name collides with the id
// or geom columns.
const reservedPrefix = "feature_"

// Result describes what happened to one table target.
type Result struct {
	Table  storage.TableDescriptor
	Action Action
	Rows   int64

	// Drift counters, summed over all features.
	MissingValues     int
	DroppedProperties int
	NulledValues      int

	Duration time.Duration
}

// Drifted reports whether any feature diverged from the table columns.
func (r Result) Drifted() bool {
	return r.MissingValues+r.DroppedProperties+r.NulledValues > 0
}

// Materializer prepares and loads destination tables. The zero value is
// usable: drift is coerced and nothing is logged.
type Materializer struct {
	Drift  DriftMode
	Logger *zap.Logger
}

// Materialize writes fc into schemaName.table under policy p.
//
// Order of operations:
//   - probe existence and Decide;
//   - SKIP returns immediately with no statement executed;
//   - an empty collection returns schema.ErrEmptyFeatureCollection before any DDL;
//   - CREATE / DROP_AND_CREATE ensure the schema, (drop,) then create from the
//     columns inferred on the first feature;
//   - CLEAR_AND_REUSE keeps the existing columns; its DELETE runs inside the
//     load transaction.
//
// DDL is not transactional. The load is: on a LoadError no row of this
// batch is visible and, for CLEAR_AND_REUSE, the previous rows survive.
func (m *Materializer) Materialize(
	ctx context.Context,
	conn storage.Conn,
	schemaName string,
	table string,
	fc *feature.Collection,
	p Policy,
) (Result, error) {
	start := time.Now()
	log := m.logger()

	desc := storage.NewTableDescriptor(schemaName, table)
	res := Result{Table: desc}
	if desc.Table == "" {
		return res, fmt.Errorf("materialize: empty table name")
	}
	qualified := desc.Schema + "." + desc.Table

	exists, err := conn.TableExists(ctx, desc.Schema, desc.Table)
	if err != nil {
		return res, err
	}
	desc.Exists = exists
	res.Action = Decide(exists, p)
	res.Table = desc

	if res.Action == ActionSkip {
		log.Info("table exists; skipping", zap.String("table", qualified), zap.Bool("skipped", true))
		return res, nil
	}
	if fc.Len() == 0 {
		return res, fmt.Errorf("table %s: %w", qualified, schema.ErrEmptyFeatureCollection)
	}

	d := conn.Dialect()
	var binds []binding
	switch res.Action {
	case ActionCreate, ActionDropAndCreate:
		created, createdBinds, err := describe(desc.Schema, desc.Table, fc)
		if err != nil {
			return res, fmt.Errorf("table %s: %w", qualified, err)
		}
		desc.Columns = created.Columns
		binds = createdBinds

		if q := d.CreateSchemaSQL(desc.Schema); q != "" {
			if err := conn.Exec(ctx, q); err != nil {
				return res, fmt.Errorf("ensure schema %s: %w", desc.Schema, err)
			}
		}
		if res.Action == ActionDropAndCreate {
			if err := conn.Exec(ctx, storage.DropTableSQL(d, desc)); err != nil {
				return res, fmt.Errorf("drop %s: %w", qualified, err)
			}
		}
		if err := conn.Exec(ctx, storage.CreateTableSQL(d, desc)); err != nil {
			return res, fmt.Errorf("create %s: %w", qualified, err)
		}

	case ActionClearAndReuse:
		cols, err := conn.TableColumns(ctx, desc.Schema, desc.Table)
		if err != nil {
			return res, fmt.Errorf("introspect %s: %w", qualified, err)
		}
		desc.Columns = cols
		binds = reuseBindings(cols)
	}
	res.Table = desc

	log.Debug("table ready",
		zap.String("table", qualified),
		zap.Stringer("action", res.Action),
		zap.Int("columns", len(desc.Columns)),
	)

	if err := m.load(ctx, conn, desc, binds, fc, res.Action == ActionClearAndReuse, &res); err != nil {
		res.Rows = 0
		return res, err
	}
	res.Duration = time.Since(start)

	if res.Drifted() {
		log.Warn("features diverged from table columns",
			zap.String("table", qualified),
			zap.Int("missing_values", res.MissingValues),
			zap.Int("dropped_properties", res.DroppedProperties),
			zap.Int("nulled_values", res.NulledValues),
		)
	}
	return res, nil
}

func (m *Materializer) logger() *zap.Logger {
	if m == nil || m.Logger == nil {
		return zap.NewNop()
	}
	return m.Logger
}

func (m *Materializer) driftMode() DriftMode {
	if m == nil || m.Drift == "" {
		return DriftCoerce
	}
	return m.Drift
}

// Describe returns the descriptor a CREATE would use for fc: the normalized
// identifiers and the columns inferred from the first feature, with
// reserved names prefixed. It touches no database.
func Describe(schemaName, table string, fc *feature.Collection) (storage.TableDescriptor, error) {
	desc, _, err := describe(schemaName, table, fc)
	return desc, err
}

func describe(schemaName, table string, fc *feature.Collection) (storage.TableDescriptor, []binding, error) {
	desc := storage.NewTableDescriptor(schemaName, table)
	cols, err := schema.InferCollection(fc)
	if err != nil {
		return desc, nil, err
	}
	binds := renameReserved(cols)
	desc.Columns = make([]schema.Column, len(binds))
	for i, b := range binds {
		desc.Columns[i] = b.column
	}
	return desc, binds, nil
}

// renameReserved binds every inferred column to the property it came from.
// Columns that would collide with id/geom get reservedPrefix, plus a
// numeric suffix when that name is already taken by another property:
// {id, feature_id} becomes {feature_id_2, feature_id}.
func renameReserved(cols []schema.Column) []binding {
	taken := make(map[string]bool, len(cols))
	for _, c := range cols {
		taken[strings.ToLower(c.Name)] = true
	}

	out := make([]binding, len(cols))
	for i, c := range cols {
		prop := c.Name
		if storage.IsReservedColumn(c.Name) {
			name := reservedPrefix + c.Name
			for n := 2; taken[strings.ToLower(name)]; n++ {
				name = fmt.Sprintf("%s%s_%d", reservedPrefix, c.Name, n)
			}
			taken[strings.ToLower(name)] = true
			c.Name = name
		}
		out[i] = binding{column: c, property: prop}
	}
	return out
}
