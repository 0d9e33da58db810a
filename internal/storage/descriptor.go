package storage

import (
	"strings"

	"wfsetl/internal/schema"
)

// Reserved column names present on every materialized table.
const (
	IDColumn       = "id"
	GeometryColumn = "geom"
)

// DefaultSchema is used when neither the layer nor the plan names one.
const DefaultSchema = "public"

// TableDescriptor identifies a destination table and, once finalized, its
// user columns. It is scoped to one layer/target invocation and is never
// cached across layers.
type TableDescriptor struct {
	Schema  string
	Table   string
	Columns []schema.Column
	Exists  bool
}

// NewTableDescriptor normalizes the identifier pair. Table names are
// lower-cased so probes and DDL compare case-insensitively across runs.
func NewTableDescriptor(schemaName, table string) TableDescriptor {
	return TableDescriptor{
		Schema: NormalizeSchema(schemaName),
		Table:  NormalizeTable(table),
	}
}

// NormalizeTable trims and lower-cases a table name.
func NormalizeTable(table string) string {
	return strings.ToLower(strings.TrimSpace(table))
}

// NormalizeSchema trims a schema name and applies DefaultSchema when empty.
// Schema names keep their case.
func NormalizeSchema(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultSchema
	}
	return s
}

// IsReservedColumn reports whether name collides with id or geom.
func IsReservedColumn(name string) bool {
	n := strings.ToLower(name)
	return n == IDColumn || n == GeometryColumn
}
