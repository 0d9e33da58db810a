package materialize

import (
	"context"
	"math"
	"strings"

	"wfsetl/internal/feature"
	"wfsetl/internal/schema"
	"wfsetl/internal/storage"
)

// binding ties a table column to the feature property that feeds it.
// fallback is read when property is absent from a feature.
type binding struct {
	column   schema.Column
	property string
	fallback string
}

// reuseBindings maps the columns of an existing table to properties. A
// column is fed by the property of the same name; a prefixed reserved
// column (feature_id, feature_geom_2) also falls back to the reserved
// property it was renamed from. When a table has both feature_id and
// feature_id_2, only the suffixed one can have been renamed, so only it
// gets the fallback.
func reuseBindings(cols []schema.Column) []binding {
	out := make([]binding, len(cols))
	renamed := map[string]int{}
	for i, c := range cols {
		out[i] = binding{column: c, property: c.Name}

		rest, ok := strings.CutPrefix(c.Name, reservedPrefix)
		if !ok {
			continue
		}
		suffixed := false
		if k := strings.LastIndexByte(rest, '_'); k > 0 && isDigits(rest[k+1:]) {
			rest, suffixed = rest[:k], true
		}
		if !storage.IsReservedColumn(rest) {
			continue
		}
		key := strings.ToLower(rest)
		prev, seen := renamed[key]
		if seen && !suffixed {
			continue
		}
		if seen {
			out[prev].fallback = ""
		}
		out[i].fallback = rest
		renamed[key] = i
	}
	return out
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// load inserts every feature in one transaction. clear issues the DELETE of
// CLEAR_AND_REUSE as the first statement of that transaction.
func (m *Materializer) load(
	ctx context.Context,
	conn storage.Conn,
	desc storage.TableDescriptor,
	binds []binding,
	fc *feature.Collection,
	clear bool,
	res *Result,
) error {
	qualified := desc.Schema + "." + desc.Table
	d := conn.Dialect()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return &LoadError{Table: qualified, Row: -1, Err: err}
	}
	defer tx.Rollback(ctx)

	if clear {
		if err := tx.Exec(ctx, storage.DeleteRowsSQL(d, desc)); err != nil {
			return &LoadError{Table: qualified, Row: -1, Err: err}
		}
	}

	insert := storage.InsertSQL(d, desc)
	mode := m.driftMode()

	var rows int64
	for i, f := range fc.Features {
		args, err := bindFeature(f, binds, mode, res)
		if err != nil {
			return &LoadError{Table: qualified, Row: i, Err: err}
		}
		if err := tx.Exec(ctx, insert, args...); err != nil {
			return &LoadError{Table: qualified, Row: i, Err: err}
		}
		rows++
	}

	if err := tx.Commit(ctx); err != nil {
		return &LoadError{Table: qualified, Row: -1, Err: err}
	}
	res.Rows = rows
	return nil
}

// bindFeature builds the statement arguments for one feature: geometry, then
// one value per column in column order.
func bindFeature(f feature.Feature, binds []binding, mode DriftMode, res *Result) ([]any, error) {
	args := make([]any, 0, len(binds)+1)
	args = append(args, f.GeometryArg())

	used := 0
	for _, b := range binds {
		v, ok := f.Properties.Get(b.property)
		if !ok && b.fallback != "" {
			v, ok = f.Properties.Get(b.fallback)
		}
		if !ok {
			res.MissingValues++
			args = append(args, nil)
			continue
		}
		used++

		arg, ok := convert(v, b.column.Type)
		if !ok {
			if mode == DriftReject {
				return nil, &DriftError{Column: b.column.Name, Want: b.column.Type, Got: v.Kind()}
			}
			res.NulledValues++
		}
		args = append(args, arg)
	}
	res.DroppedProperties += len(f.Properties) - used
	return args, nil
}

// Fits reports whether v can be stored in a column of type t without loss.
// Null fits every type.
func Fits(v feature.Value, t schema.ColumnType) bool {
	_, ok := convert(v, t)
	return ok
}

// convert returns the argument for v in a column of type t. ok is false
// when the value cannot be stored without loss; the returned arg is then nil.
func convert(v feature.Value, t schema.ColumnType) (any, bool) {
	if v.IsNull() {
		return nil, true
	}
	if schema.TypeOf(v) == t {
		return v.Any(), true
	}

	switch t {
	case schema.Text:
		return v.Text(), true
	case schema.Float:
		if v.Kind() == feature.KindInteger {
			return float64(v.Int()), true
		}
	case schema.Integer:
		if v.Kind() == feature.KindFloat {
			f := v.Float()
			if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
				return int64(f), true
			}
		}
	}
	return nil, false
}
