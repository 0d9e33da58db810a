package storage

import (
	"strings"

	"wfsetl/internal/schema"
)

// SRID is the spatial reference every geometry column is fixed to.
const SRID = 4326

// Dialect captures the per-backend SQL differences needed to materialize a
// feature table. Implementations are stateless.
type Dialect interface {
	Name() string

	// QuoteIdent quotes a single identifier verbatim, escaping as needed.
	QuoteIdent(name string) string

	// QualifyTable returns the quoted table reference. Backends without
	// schemas ignore schemaName.
	QualifyTable(schemaName, table string) string

	// Placeholder returns the n-th (1-based) bind parameter marker.
	Placeholder(n int) string

	// ColumnType maps an inferred type to the backend's SQL type.
	ColumnType(t schema.ColumnType) string

	// IDColumnDef and GeometryColumnDef are the column definitions that lead
	// every created table.
	IDColumnDef() string
	GeometryColumnDef() string

	// GeometryValue wraps the geometry placeholder in the conversion from
	// GeoJSON text to the stored representation.
	GeometryValue(placeholder string) string

	// CreateSchemaSQL is an idempotent "create if absent" statement, or ""
	// when the backend has no schemas.
	CreateSchemaSQL(schemaName string) string
}

// QuoteDouble is the ANSI double-quote identifier quoting shared by several
// backends.
func QuoteDouble(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// CreateTableSQL builds the CREATE TABLE for a finalized descriptor:
// id, geom, then one column per inferred property in order.
//
// It is pure so the layout can be unit tested without a database.
func CreateTableSQL(d Dialect, desc TableDescriptor) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(d.QualifyTable(desc.Schema, desc.Table))
	b.WriteString(" (")
	b.WriteString(d.IDColumnDef())
	b.WriteString(", ")
	b.WriteString(d.GeometryColumnDef())
	for _, c := range desc.Columns {
		b.WriteString(", ")
		b.WriteString(d.QuoteIdent(c.Name))
		b.WriteString(" ")
		b.WriteString(d.ColumnType(c.Type))
	}
	b.WriteString(")")
	return b.String()
}

// DropTableSQL builds an idempotent DROP TABLE.
func DropTableSQL(d Dialect, desc TableDescriptor) string {
	return "DROP TABLE IF EXISTS " + d.QualifyTable(desc.Schema, desc.Table)
}

// DeleteRowsSQL clears every row while keeping the table definition.
func DeleteRowsSQL(d Dialect, desc TableDescriptor) string {
	return "DELETE FROM " + d.QualifyTable(desc.Schema, desc.Table)
}

// InsertSQL builds the single-row parameterized INSERT used per feature.
//
// Argument order is the geometry followed by one value per column, in
// desc.Columns order.
func InsertSQL(d Dialect, desc TableDescriptor) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(d.QualifyTable(desc.Schema, desc.Table))
	b.WriteString(" (")
	b.WriteString(d.QuoteIdent(GeometryColumn))
	for _, c := range desc.Columns {
		b.WriteString(", ")
		b.WriteString(d.QuoteIdent(c.Name))
	}
	b.WriteString(") VALUES (")
	b.WriteString(d.GeometryValue(d.Placeholder(1)))
	for i := range desc.Columns {
		b.WriteString(", ")
		b.WriteString(d.Placeholder(i + 2))
	}
	b.WriteString(")")
	return b.String()
}

// ColumnTypeFromSQL maps a catalog type name back to an inferred type when
// reusing an existing table. The mapping is deliberately loose so the same
// function serves every backend's catalog spelling.
func ColumnTypeFromSQL(sqlType string) schema.ColumnType {
	t := strings.ToLower(strings.TrimSpace(sqlType))
	switch {
	case t == "tinyint(1)" || strings.HasPrefix(t, "bool") || t == "bit":
		return schema.Boolean
	case strings.Contains(t, "int") || t == "serial" || t == "bigserial":
		return schema.Integer
	case strings.Contains(t, "double") || strings.Contains(t, "float") ||
		strings.Contains(t, "real") || strings.HasPrefix(t, "numeric") ||
		strings.HasPrefix(t, "decimal"):
		return schema.Float
	default:
		return schema.Text
	}
}
